package clock

import "time"

// TickUnwrapper turns a hardware tick counter that wraps modulo some power of
// two (12MHz dump1090-style receivers wrap at 2^48 or 2^24 depending on the
// SDR front end) into a monotone uint64. The wrap width is per-receiver
// hardware, per spec open question, and is therefore a constructor parameter
// rather than a constant.
type TickUnwrapper struct {
	wrapAt     uint64 // e.g. 1<<48 or 1<<24
	wrapThresh uint64 // how far "backward" triggers a BadTick, not a wrap

	haveLast bool
	lastRaw  uint64
	unwrapped uint64
	lastSeen time.Time
}

// NewTickUnwrapper constructs an unwrapper for a receiver whose hardware tick
// counter wraps at 2^wrapBits.
func NewTickUnwrapper(wrapBits uint) *TickUnwrapper {
	wrapAt := uint64(1) << wrapBits
	return &TickUnwrapper{
		wrapAt:     wrapAt,
		wrapThresh: wrapAt / 4,
	}
}

// Unwrap converts a raw hardware tick into a monotone u64, given the wall
// time the session observed it (used only to detect the ">1s gap resets the
// unwrap" rule). ok is false if the tick moved backward by more than the wrap
// threshold outside of a plausible wrap, signalling BadTick / hardware reset.
func (u *TickUnwrapper) Unwrap(raw uint64, seen time.Time) (tick uint64, ok bool) {
	raw = raw % u.wrapAt

	if !u.haveLast {
		u.haveLast = true
		u.lastRaw = raw
		u.unwrapped = raw
		u.lastSeen = seen
		return u.unwrapped, true
	}

	if seen.Sub(u.lastSeen) > time.Second {
		// Gap too large to reason about continuity; resync from here.
		u.lastRaw = raw
		u.unwrapped = raw
		u.lastSeen = seen
		return u.unwrapped, true
	}

	delta := int64(raw) - int64(u.lastRaw)
	if delta < 0 {
		// Candidate wrap: raw went backward by close to a full period.
		if uint64(-delta) > u.wrapAt-u.wrapThresh {
			delta += int64(u.wrapAt)
		} else {
			// A real backward jump that isn't a wrap: hardware reset.
			return 0, false
		}
	}

	u.unwrapped += uint64(delta)
	u.lastRaw = raw
	u.lastSeen = seen
	return u.unwrapped, true
}

// Reset clears unwrap state, used when a session resyncs after a BadTick.
func (u *TickUnwrapper) Reset() {
	u.haveLast = false
	u.lastRaw = 0
	u.unwrapped = 0
}
