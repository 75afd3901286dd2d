// Package output defines the output dispatcher boundary: the core never
// writes a wire format directly, it only ever emits Record values through
// the Sink interface.
package output

import (
	"time"

	"github.com/openmlat/mlat-core/internal/geo"
)

// ReceiverContribution is one receiver's entry in a Record's per-receiver
// list: id, tick, and TDOA residual in seconds (observed minus predicted
// arrival difference against the anchor receiver, so the anchor's is zero).
type ReceiverContribution struct {
	ReceiverID int
	Tick       uint64
	Residual   float64 // seconds
}

// Record is one published multilateration result.
type Record struct {
	ICAO24      uint32
	T0          time.Time
	Position    geo.LLH
	Covariance  [3][3]float64 // ECEF covariance, metres^2
	Receivers   []ReceiverContribution
	ChiSquare   float64
	DOF         int
}

// Sink is the output dispatcher external collaborator. Production
// deployments provide their own Sink (BaseStation, SBS, a message bus); the
// core only ever depends on this interface.
type Sink interface {
	Publish(Record)
}

// Fanout broadcasts each Record to every registered Sink, so multiple wire
// formats (e.g. a status dashboard feed and a BaseStation port) can be
// driven from the same engine without it knowing about either.
type Fanout struct {
	sinks []Sink
}

// NewFanout constructs a Fanout over the given sinks.
func NewFanout(sinks ...Sink) *Fanout {
	return &Fanout{sinks: sinks}
}

// Publish implements Sink, forwarding to every registered sink.
func (f *Fanout) Publish(r Record) {
	for _, s := range f.sinks {
		s.Publish(r)
	}
}

// Add registers an additional sink at runtime.
func (f *Fanout) Add(s Sink) {
	f.sinks = append(f.sinks, s)
}
