// Package clock provides a 10ms-resolution monotonic wall clock: time.Now()
// jumps around on small boards when NTP steps the clock, so Monotonic reads
// elapsed time off a free-running ticker instead. The engine's event loop
// does not use it; it runs on time.Now().
package clock

import (
	"time"

	humanize "github.com/dustin/go-humanize"
)

// Monotonic is a free-running clock advanced by its own ticker, independent
// of system wall-clock adjustments.
type Monotonic struct {
	Milliseconds uint64
	Time         time.Time
	ticker       *time.Ticker
	stop         chan struct{}
}

// New starts a new Monotonic clock, ticking every 10ms in the background.
func New() *Monotonic {
	m := &Monotonic{
		Time:   time.Time{},
		ticker: time.NewTicker(10 * time.Millisecond),
		stop:   make(chan struct{}),
	}
	go m.watcher()
	return m
}

func (m *Monotonic) watcher() {
	for {
		select {
		case <-m.ticker.C:
			m.Milliseconds += 10
			m.Time = m.Time.Add(10 * time.Millisecond)
		case <-m.stop:
			return
		}
	}
}

// Stop releases the underlying ticker.
func (m *Monotonic) Stop() {
	m.ticker.Stop()
	close(m.stop)
}

// Since returns the elapsed monotonic duration since t.
func (m *Monotonic) Since(t time.Time) time.Duration {
	return m.Time.Sub(t)
}

// Now returns the current monotonic timestamp, usable as a time.Time only for
// relative comparisons against other values returned by this clock.
func (m *Monotonic) Now() time.Time {
	return m.Time
}

// HumanizeSince renders the elapsed duration since t in human terms, e.g.
// "3 seconds ago".
func (m *Monotonic) HumanizeSince(t time.Time) string {
	return humanize.RelTime(t, m.Time, "ago", "from now")
}
