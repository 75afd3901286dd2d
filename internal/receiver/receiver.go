// Package receiver implements the receiver session component:
// per-connected-receiver tick un-wrapping, message classification, and a
// bounded history ring, fanning out to the sync and MLAT pipelines. No
// numerical computation happens here; this is a classifier and buffer.
package receiver

import (
	"time"

	"github.com/openmlat/mlat-core/internal/clock"
	"github.com/openmlat/mlat-core/internal/geo"
	"github.com/openmlat/mlat-core/internal/mlaterr"
)

// Liveness is the receiver connection state machine.
type Liveness int

const (
	Connecting Liveness = iota
	Syncing
	Synced
	Dead
)

func (l Liveness) String() string {
	switch l {
	case Connecting:
		return "connecting"
	case Syncing:
		return "syncing"
	case Synced:
		return "synced"
	case Dead:
		return "dead"
	default:
		return "unknown"
	}
}

// HistorySize is the default bounded ring of recent arrivals kept per
// receiver.
const HistorySize = 64

// SilenceTimeout is how long a receiver may go without a message before it
// is considered dead.
const SilenceTimeout = 30 * time.Second

// Arrival is a single decoded message event as received by one session.
// Tick is the un-wrapped, monotone hardware tick count.
type Arrival struct {
	ReceiverID int
	Tick       uint64
	Message    []byte
	ICAO24     uint32
	HasICAO    bool
	RSSI       float64
	Seen       time.Time
}

// Receiver is a single connected ground station: its surveyed antenna
// position, hardware clock frequency, and session bookkeeping. Position and
// Frequency are immutable for the lifetime of a live receiver.
type Receiver struct {
	ID        int
	Position  geo.ECEF
	Frequency float64 // Hz, typ. 12e6
	NoiseFloor time.Duration // per-receiver timing noise floor

	liveness Liveness
	lastSeen time.Time

	unwrap *clock.TickUnwrapper

	history    [HistorySize]Arrival
	historyLen int
	historyPos int

	onArrival func(Arrival)
}

// New constructs a Receiver in the Connecting state. wrapBits is the
// hardware-specific tick-counter wrap width, a per-receiver parameter since
// different front ends wrap at different bit widths.
func New(id int, pos geo.ECEF, freqHz float64, wrapBits uint, onArrival func(Arrival)) *Receiver {
	return &Receiver{
		ID:        id,
		Position:  pos,
		Frequency: freqHz,
		liveness:  Connecting,
		unwrap:    clock.NewTickUnwrapper(wrapBits),
		onArrival: onArrival,
	}
}

// Liveness returns the receiver's current connection state.
func (r *Receiver) Liveness() Liveness { return r.liveness }

// MarkSynced transitions a connecting or syncing receiver into the synced
// state. Nothing in the engine calls it.
func (r *Receiver) MarkSynced() {
	if r.liveness == Connecting || r.liveness == Syncing {
		r.liveness = Synced
	}
}

// MarkSyncing transitions a connecting receiver into the syncing state. It is
// not called on connect; a new receiver stays Connecting until it is called.
func (r *Receiver) MarkSyncing() {
	if r.liveness == Connecting {
		r.liveness = Syncing
	}
}

// IsDead reports whether the receiver has exceeded the silence timeout as of
// now.
func (r *Receiver) IsDead(now time.Time) bool {
	return r.liveness == Dead || (r.historyLen > 0 && now.Sub(r.lastSeen) > SilenceTimeout)
}

// MarkDead forcibly retires the receiver, e.g. on disconnect.
func (r *Receiver) MarkDead() {
	r.liveness = Dead
}

// OnMessage ingests one raw (tick, payload) record: unwraps the tick,
// classifies it as an arrival, appends to history, and fans out to
// downstream trackers via the onArrival callback. Returns ErrBadTick if the
// tick moved backward far enough to indicate a hardware reset, in which case
// the session's unwrap state is reset and the caller should expect a fresh
// epoch on the next message.
func (r *Receiver) OnMessage(tickRaw uint64, msg []byte, icao24 uint32, hasICAO bool, rssi float64, now time.Time) error {
	tick, ok := r.unwrap.Unwrap(tickRaw, now)
	if !ok {
		r.unwrap.Reset()
		return mlaterr.ErrBadTick
	}

	a := Arrival{
		ReceiverID: r.ID,
		Tick:       tick,
		Message:    msg,
		ICAO24:     icao24,
		HasICAO:    hasICAO,
		RSSI:       rssi,
		Seen:       now,
	}

	r.history[r.historyPos] = a
	r.historyPos = (r.historyPos + 1) % HistorySize
	if r.historyLen < HistorySize {
		r.historyLen++
	}
	r.lastSeen = now

	if r.onArrival != nil {
		r.onArrival(a)
	}
	return nil
}

// History returns the most recent arrivals, oldest first, up to the bounded
// ring size.
func (r *Receiver) History() []Arrival {
	out := make([]Arrival, 0, r.historyLen)
	if r.historyLen < HistorySize {
		return append(out, r.history[:r.historyLen]...)
	}
	out = append(out, r.history[r.historyPos:]...)
	out = append(out, r.history[:r.historyPos]...)
	return out
}

// TickSeconds converts a local hardware tick count to seconds since the
// session's unwrap epoch, using the receiver's clock frequency.
func (r *Receiver) TickSeconds(tick uint64) float64 {
	return float64(tick) / r.Frequency
}

// EpochTicks estimates the local tick corresponding to a wall-clock time,
// used only for cold-start sanity checks: it assumes the tick counter and
// wall clock have run at the same rate since the last observed arrival,
// which is approximate by construction.
func (r *Receiver) EpochTicks(tWall time.Time) uint64 {
	if r.historyLen == 0 {
		return 0
	}
	last := r.history[(r.historyPos-1+HistorySize)%HistorySize]
	delta := tWall.Sub(last.Seen).Seconds()
	return last.Tick + uint64(delta*r.Frequency)
}
