// Package pairsync implements the clock-pair tracker: from joint DF17
// observations heard by two receivers, it estimates the relative clock
// model (offset, rate) via a linear Kalman filter and tracks a robust
// jitter estimate used as the clock-graph edge weight.
package pairsync

import (
	"math"
	"sort"
	"time"

	"github.com/openmlat/mlat-core/internal/geo"
)

// State is the pair tracker's lifecycle stage.
type State int

const (
	Bootstrap State = iota
	Tracking
	Desynchronized
)

// Defaults for the oscillator random-walk parameters and filter thresholds.
const (
	DefaultSigmaRatePerSec   = 1e-6   // ~1 ppm/s
	DefaultSigmaOffsetPerSec = 100e-9 // ~100 ns/s
	MeasurementNoiseFloor    = (50e-9) * (50e-9)
	OutlierSigmaGate         = 4.0
	MaxConsecutiveRejections = 6
	BootstrapAcceptCount     = 4
	BootstrapWindow          = 30 * time.Second
	MinObservationsToPublish = 6
	GeometryContradiction    = 1.0 // seconds; |z| beyond this resets the pair
	PairingWindow            = 5 * time.Second
)

// Pairing is the Kalman model of a single unordered receiver pair (i<j).
type Pairing struct {
	ReceiverI, ReceiverJ int
	FreqI, FreqJ         float64

	state  State
	filter *kalman2

	observationCount int
	rejections       int
	bootstrapStart   time.Time
	bootstrapCount   int

	lastUpdate time.Time

	// Robust (MAD-based) jitter estimate over accepted innovations.
	innovations []float64
	jitter      float64
}

// NewPairing constructs a pair tracker in Bootstrap state.
func NewPairing(i, j int, freqI, freqJ float64) *Pairing {
	return &Pairing{
		ReceiverI: i,
		ReceiverJ: j,
		FreqI:     freqI,
		FreqJ:     freqJ,
		state:     Bootstrap,
		filter:    newKalman2(DefaultSigmaRatePerSec, DefaultSigmaOffsetPerSec),
	}
}

// State reports the current lifecycle stage.
func (p *Pairing) State() State { return p.state }

// Observation is a geometry-corrected residual offset between the two
// receivers' local clocks at the moment of transmission.
type Observation struct {
	TickI, TickJ uint64
	At           time.Time
	GDOPVariance float64 // propagation-delay-uncertainty contribution to R
}

// BuildObservation computes the geometry-corrected observation z from a
// DF17 heard by both receivers, given the transmitter's decoded position and
// each receiver's antenna position. z is invariant under which receiver
// heard first: swapping i/j flips the sign of both terms symmetrically.
func BuildObservation(txPos geo.Positioner, posI, posJ geo.ECEF, tickI, tickJ uint64, freqI, freqJ float64, at time.Time) (z float64, ok bool) {
	tx := txPos.ECEF()
	tauI := geo.PropagationDelay(tx, posI)
	tauJ := geo.PropagationDelay(tx, posJ)

	tI := float64(tickI)/freqI - tauI
	tJ := float64(tickJ)/freqJ - tauJ

	z = tJ - tI
	if math.Abs(z) > GeometryContradiction {
		return 0, false
	}
	return z, true
}

// Update feeds one geometry-corrected observation through the filter.
// dtBaseClock is the elapsed time since the last update, measured on
// receiver i's clock (used for the Kalman predict step). Returns true if the
// observation was accepted.
func (p *Pairing) Update(z float64, dtBaseClock float64, r float64, at time.Time) bool {
	if r < MeasurementNoiseFloor {
		r = MeasurementNoiseFloor
	}

	if p.observationCount > 0 {
		p.filter.predict(dtBaseClock)
	}

	y, s := p.filter.innovation(z, r)
	if s <= 0 {
		s = r
	}

	if p.observationCount > 0 && math.Abs(y)/math.Sqrt(s) > OutlierSigmaGate {
		p.rejections++
		if p.rejections >= MaxConsecutiveRejections {
			p.reset()
		}
		return false
	}
	p.rejections = 0

	p.filter.update(y, s, r)
	p.observationCount++
	p.lastUpdate = at

	p.recordInnovation(y)

	switch p.state {
	case Bootstrap:
		if p.bootstrapCount == 0 || at.Sub(p.bootstrapStart) > BootstrapWindow {
			p.bootstrapStart = at
			p.bootstrapCount = 0
		}
		p.bootstrapCount++
		if p.bootstrapCount >= BootstrapAcceptCount {
			p.state = Tracking
		}
	case Desynchronized:
		// A good observation after desync reinitializes bootstrap;
		// reset() already did this, nothing more to do.
	}

	return true
}

func (p *Pairing) recordInnovation(y float64) {
	const maxSamples = 64
	p.innovations = append(p.innovations, y)
	if len(p.innovations) > maxSamples {
		p.innovations = p.innovations[len(p.innovations)-maxSamples:]
	}
	p.jitter = medianAbsoluteDeviation(p.innovations)
}

func medianAbsoluteDeviation(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	med := median(sorted)

	devs := make([]float64, len(sorted))
	for i, x := range sorted {
		devs[i] = math.Abs(x - med)
	}
	sort.Float64s(devs)
	// 1.4826 makes MAD a consistent estimator of sigma for Gaussian noise.
	return 1.4826 * median(devs)
}

func median(sorted []float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func (p *Pairing) reset() {
	p.state = Bootstrap
	p.filter = newKalman2(DefaultSigmaRatePerSec, DefaultSigmaOffsetPerSec)
	p.observationCount = 0
	p.rejections = 0
	p.bootstrapCount = 0
	p.innovations = nil
	p.jitter = 0
}

// Predict translates a timestamp t (seconds, receiver i's frame) into
// receiver j's frame by adding the current offset estimate. The rate
// estimate is not applied, so drift since the last update is not corrected.
func (p *Pairing) Predict(t float64) float64 {
	return t + p.filter.offset
}

// Offset, Rate, Sigma, Jitter, ObservationCount, LastUpdate expose the
// published per-pair metrics.
func (p *Pairing) Offset() float64          { return p.filter.offset }
func (p *Pairing) Rate() float64            { return p.filter.rate }
func (p *Pairing) Sigma() float64           { return p.filter.sigmaOffset() }
func (p *Pairing) Jitter() float64          { return p.jitter }
func (p *Pairing) ObservationCount() int    { return p.observationCount }
func (p *Pairing) LastUpdate() time.Time    { return p.lastUpdate }

// Variance returns the predicted variance of translating a timestamp across
// this pair, i.e. the clock-graph edge weight before the small per-hop bias.
func (p *Pairing) Variance() float64 {
	v := p.jitter * p.jitter
	if v <= 0 {
		v = p.filter.p00
	}
	return v
}

// Publishable reports whether this pair has matured enough to be exposed to
// the clock graph: pairs with fewer than a minimum number of observations
// (default 6) are not published.
func (p *Pairing) Publishable() bool {
	return p.state == Tracking && p.observationCount >= MinObservationsToPublish
}

// Expired reports whether this pair has gone too long without an update;
// by default a pair is destroyed when no update arrives in 60s.
func (p *Pairing) Expired(now time.Time, idleTimeout time.Duration) bool {
	return p.observationCount > 0 && now.Sub(p.lastUpdate) > idleTimeout
}

// FilterState exposes the raw Kalman state for warm-start persistence.
func (p *Pairing) FilterState() (offset, rate, p00, p01, p11 float64) {
	return p.filter.offset, p.filter.rate, p.filter.p00, p.filter.p01, p.filter.p11
}

// RestoreFilterState seeds the pair's filter and observation count from a
// persisted snapshot (warm start across restarts). When the snapshot's
// observation count is at least BootstrapAcceptCount the pair moves directly
// to Tracking without repeating bootstrap. The caller is responsible for
// deciding the snapshot is still fresh enough to trust.
func (p *Pairing) RestoreFilterState(offset, rate, p00, p01, p11 float64, observationCount int, lastUpdate time.Time) {
	p.filter.offset = offset
	p.filter.rate = rate
	p.filter.p00 = p00
	p.filter.p01 = p01
	p.filter.p11 = p11
	p.observationCount = observationCount
	p.lastUpdate = lastUpdate
	if observationCount >= BootstrapAcceptCount {
		p.state = Tracking
	}
}
