// Package engine wires the receiver registry, clock-pair trackers, clock
// graph, correlator, solver, and aircraft tracker into a single cooperative
// event loop: all core mutation happens synchronously on one goroutine, with
// only network I/O and timer waits as suspension points, and an optional
// bounded worker pool for solver offload when the candidate queue backs up.
package engine

import (
	"log"
	"sort"
	"time"

	"github.com/openmlat/mlat-core/internal/adsb"
	"github.com/openmlat/mlat-core/internal/backpressure"
	"github.com/openmlat/mlat-core/internal/clockgraph"
	"github.com/openmlat/mlat-core/internal/correlator"
	"github.com/openmlat/mlat-core/internal/geo"
	"github.com/openmlat/mlat-core/internal/mlaterr"
	"github.com/openmlat/mlat-core/internal/output"
	"github.com/openmlat/mlat-core/internal/pairsync"
	"github.com/openmlat/mlat-core/internal/receiver"
	"github.com/openmlat/mlat-core/internal/snapshot"
	"github.com/openmlat/mlat-core/internal/solver"
	"github.com/openmlat/mlat-core/internal/tracker"
)

// SnapshotSaveInterval is the minimum spacing between warm-start snapshot
// saves for the same pair, so a busy pair doesn't hammer memcache on every
// single accepted observation.
const SnapshotSaveInterval = 10 * time.Second

// PairIdleTimeout is how long a clock pair goes without an update before
// it's evicted.
const PairIdleTimeout = 60 * time.Second

// SolverWallBudget bounds the LM solver's wall-clock time per candidate
// before it's abandoned as NotConverged.
const SolverWallBudget = 10 * time.Millisecond

// SolverQueueHighWaterMark is the pending-candidate depth above which
// solving is offloaded to the worker pool instead of run inline.
const SolverQueueHighWaterMark = 8

// WorkerPoolSize bounds the number of concurrent offloaded solver
// goroutines.
const WorkerPoolSize = 4

// Engine owns every piece of cross-receiver mutable state and runs the
// single-threaded maintenance/ingest loop.
type Engine struct {
	Receivers   *receiver.Registry
	Decoder     adsb.Decoder
	Output      output.Sink

	graph      *clockgraph.Graph
	correlator *correlator.Correlator
	tracks     *tracker.Registry
	pairs      map[pairKey]*pairsync.Pairing
	backpress  *backpressure.Controller
	snapshots  *snapshot.Store
	snapSaved  map[pairKey]time.Time

	solverQueue chan *correlator.Candidate
	workerDone  chan struct{}

	msgCounter uint64
}

// SetSnapshotStore attaches a warm-start snapshot store. When set, new pairs
// try to load prior state on creation and mature pairs periodically save
// their filter state back. Passing nil disables warm starts.
func (e *Engine) SetSnapshotStore(s *snapshot.Store) {
	e.snapshots = s
}

type pairKey struct{ i, j int }

func makePairKey(i, j int) pairKey {
	if i > j {
		i, j = j, i
	}
	return pairKey{i, j}
}

// New constructs an engine. decoder and sink are the two external
// collaborators the core depends on.
func New(decoder adsb.Decoder, sink output.Sink) *Engine {
	graph := clockgraph.New()
	e := &Engine{
		Decoder:     decoder,
		Output:      sink,
		graph:       graph,
		correlator:  correlator.New(graph),
		tracks:      tracker.NewRegistry(),
		pairs:       make(map[pairKey]*pairsync.Pairing),
		backpress:   backpressure.New(),
		solverQueue: make(chan *correlator.Candidate, 256),
		workerDone:  make(chan struct{}),
	}
	e.Receivers = receiver.NewRegistry(e.onReceiverDisconnect)
	for i := 0; i < WorkerPoolSize; i++ {
		go e.solverWorker()
	}
	return e
}

func (e *Engine) onReceiverDisconnect(id int) {
	e.graph.InvalidateReceiver(id)
	for k := range e.pairs {
		if k.i == id || k.j == id {
			delete(e.pairs, k)
		}
	}
	for _, c := range e.correlator.DropReceiver(id) {
		e.dispatchCandidate(c)
	}
}

// OnArrival is the receiver session's callback into the engine: it applies
// the input rate limiter, classifies the message, and feeds the sync and
// MLAT pipelines.
func (e *Engine) OnArrival(a receiver.Arrival) {
	e.msgCounter++
	if !e.backpress.ShouldAdmit(e.msgCounter) {
		return // dropped under backpressure; counted by the caller's metrics
	}

	info, err := e.Decoder.DecodeModes(a.Message)
	if err != nil {
		return // BadMessage: counted and dropped silently
	}
	if info.DF != 17 && info.DF != 18 {
		return // not an extended squitter; nothing to correlate or sync on
	}

	r := e.Receivers.Get(a.ReceiverID)
	if r == nil {
		return
	}

	icao24, pos, ok := e.Decoder.DecodeADSB(a.Message)
	if !ok {
		return // DF17/18 without a usable position report (e.g. velocity, ident)
	}

	e.correlator.Ingest(correlator.Sighting{
		ReceiverID: a.ReceiverID,
		Tick:       a.Tick,
		Payload:    a.Message,
		ICAO24:     icao24,
		Position:   pos,
		HasPos:     true,
		RSSI:       a.RSSI,
		At:         a.Seen,
	})

	e.feedPairObservations(a.ReceiverID, icao24, pos, a.Tick, a.Seen)
}

// feedPairObservations updates every live pair involving this receiver with
// the geometry-corrected observation from a freshly decoded DF17 sighting,
// by cross-referencing the other receiver's own recent history for the same
// icao24.
func (e *Engine) feedPairObservations(receiverID int, icao24 uint32, pos adsb.Position, tick uint64, at time.Time) {
	me := e.Receivers.Get(receiverID)
	if me == nil {
		return
	}

	for _, other := range e.Receivers.Live() {
		if other.ID == receiverID {
			continue
		}
		peerArrival, ok := findRecentSighting(other, icao24, at)
		if !ok {
			continue
		}

		key := makePairKey(receiverID, other.ID)
		p, exists := e.pairs[key]
		if !exists {
			p = pairsync.NewPairing(key.i, key.j, me.Frequency, other.Frequency)
			if e.snapshots != nil {
				if st, ok := e.snapshots.Load(key.i, key.j); ok {
					p.RestoreFilterState(st.Offset, st.Rate, st.P00, st.P01, st.P11, st.ObservationCount, st.SavedAt)
				}
			}
			e.pairs[key] = p
		}

		var tickI, tickJ uint64
		var posI, posJ geo.ECEF
		var freqI, freqJ float64
		if key.i == receiverID {
			tickI, tickJ = tick, peerArrival.Tick
			posI, posJ = me.Position, other.Position
			freqI, freqJ = me.Frequency, other.Frequency
		} else {
			tickI, tickJ = peerArrival.Tick, tick
			posI, posJ = other.Position, me.Position
			freqI, freqJ = other.Frequency, me.Frequency
		}

		z, ok := pairsync.BuildObservation(pos, posI, posJ, tickI, tickJ, freqI, freqJ, at)
		if !ok {
			continue
		}

		dt := 0.0
		if !p.LastUpdate().IsZero() {
			dt = at.Sub(p.LastUpdate()).Seconds()
		}
		p.Update(z, dt, pairsync.MeasurementNoiseFloor, at)
	}
}

func findRecentSighting(r *receiver.Receiver, icao24 uint32, at time.Time) (receiver.Arrival, bool) {
	for _, h := range r.History() {
		if h.HasICAO && h.ICAO24 == icao24 && at.Sub(h.Seen) < pairsync.PairingWindow {
			return h, true
		}
	}
	return receiver.Arrival{}, false
}

// Tick runs one maintenance cycle: closes ripe correlator groups, dispatches
// them to the solver (inline or offloaded depending on queue depth), and
// expires stale receivers/pairs/tracks.
func (e *Engine) Tick(now time.Time) {
	for _, id := range e.Receivers.CleanupStale(now) {
		log.Printf("engine: receiver %d dropped on silence timeout", id)
	}

	e.graph.Rebuild(livePairs(e.pairs), clockgraph.VarianceCeiling)
	e.graph.IdleExpire(now, PairIdleTimeout, livePairs(e.pairs))
	for k, p := range e.pairs {
		if p.Expired(now, PairIdleTimeout) {
			delete(e.pairs, k)
		}
	}

	e.tracks.CleanupStale(now)

	e.saveSnapshots(now)

	e.backpress.Update(e.correlator.PendingGroups(), now)

	for _, candidate := range e.correlator.Tick(now) {
		if len(e.solverQueue) >= SolverQueueHighWaterMark {
			select {
			case e.solverQueue <- candidate:
			default:
				log.Printf("engine: solver queue full, dropping candidate for icao24 %06x", candidate.ICAO24)
			}
		} else {
			e.dispatchCandidate(candidate)
		}
	}
}

// saveSnapshots persists warm-start state for mature pairs that haven't been
// saved recently, skipping entirely when no snapshot store is configured.
func (e *Engine) saveSnapshots(now time.Time) {
	if e.snapshots == nil {
		return
	}
	if e.snapSaved == nil {
		e.snapSaved = make(map[pairKey]time.Time)
	}
	for k, p := range e.pairs {
		if !p.Publishable() {
			continue
		}
		if last, ok := e.snapSaved[k]; ok && now.Sub(last) < SnapshotSaveInterval {
			continue
		}
		offset, rate, p00, p01, p11 := p.FilterState()
		err := e.snapshots.Save(snapshot.PairState{
			ReceiverI:        k.i,
			ReceiverJ:        k.j,
			Offset:           offset,
			Rate:             rate,
			P00:              p00,
			P01:              p01,
			P11:              p11,
			ObservationCount: p.ObservationCount(),
			SavedAt:          now,
		})
		if err != nil {
			log.Printf("engine: snapshot save for pair %d/%d failed: %v", k.i, k.j, err)
			continue
		}
		e.snapSaved[k] = now
	}
}

func livePairs(pairs map[pairKey]*pairsync.Pairing) []*pairsync.Pairing {
	out := make([]*pairsync.Pairing, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, p)
	}
	return out
}

func (e *Engine) solverWorker() {
	for candidate := range e.solverQueue {
		e.dispatchCandidate(candidate)
	}
}

func (e *Engine) dispatchCandidate(c *correlator.Candidate) {
	meas, anchorIdx, ok := e.buildMeasurements(c)
	if !ok {
		return
	}

	receiverPositions := make([]geo.ECEF, len(meas))
	for i, m := range meas {
		receiverPositions[i] = m.Position
	}

	guess, hasSeed := e.tracks.Seed(c.ICAO24, c.ClosedAt)
	if !hasSeed {
		guess = solver.InitialGuess(receiverPositions)
	}

	deadline := time.Now().Add(SolverWallBudget)
	fix, err := e.solveWithBudget(meas, anchorIdx, guess, deadline)
	if err != nil {
		return // counted per icao24 by the caller's metrics; no retry
	}

	e.tracks.Observe(c.ICAO24, fix.Position, positionVariance(fix), c.ClosedAt)

	if e.Output != nil {
		e.Output.Publish(buildRecord(c.ICAO24, fix, c.ClosedAt, meas, anchorIdx))
	}
}

// solveWithBudget runs the solver, treating an overrun of the wall budget
// as NotConverged rather than blocking the caller indefinitely.
func (e *Engine) solveWithBudget(meas []solver.Measurement, anchorIdx int, guess geo.ECEF, deadline time.Time) (*solver.Fix, error) {
	type result struct {
		fix *solver.Fix
		err error
	}
	done := make(chan result, 1)
	go func() {
		fix, err := solver.Solve(meas, anchorIdx, guess)
		done <- result{fix, err}
	}()

	select {
	case r := <-done:
		return r.fix, r.err
	case <-time.After(time.Until(deadline)):
		return nil, mlaterr.ErrNotConverged
	}
}

func (e *Engine) buildMeasurements(c *correlator.Candidate) ([]solver.Measurement, int, bool) {
	type entry struct {
		receiverID int
		tick       uint64
		pos        geo.ECEF
		freq       float64
	}

	seen := make(map[int]entry)
	for _, s := range c.Sightings {
		r := e.Receivers.Get(s.ReceiverID)
		if r == nil {
			continue
		}
		seen[s.ReceiverID] = entry{s.ReceiverID, s.Tick, r.Position, r.Frequency}
	}
	if len(seen) < correlator.MinReceivers {
		return nil, 0, false
	}

	ids := make([]int, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	anchorID := c.AnchorID
	if _, ok := seen[anchorID]; !ok {
		anchorID = ids[0]
	}

	meas := make([]solver.Measurement, 0, len(ids))
	anchorIdx := -1
	for _, id := range ids {
		en := seen[id]
		arrivalSec, err := e.graph.Translate(float64(en.tick)/en.freq, id, anchorID)
		if err != nil {
			continue // no sync path to the anchor; can't contribute a translated TDOA
		}
		clockVar := 0.0
		if id != anchorID {
			clockVar, err = e.graph.ExpectedVariance(id, anchorID)
			if err != nil {
				continue
			}
		}
		if id == anchorID {
			anchorIdx = len(meas)
		}
		meas = append(meas, solver.Measurement{
			ReceiverID: id,
			Tick:       en.tick,
			Position:   en.pos,
			ArrivalSec: arrivalSec,
			Variance:   pairsync.MeasurementNoiseFloor + clockVar,
		})
	}
	if len(meas) < correlator.MinReceivers || anchorIdx < 0 {
		return nil, 0, false
	}

	return meas, anchorIdx, true
}

// Graph returns the engine's clock graph, read-only from the caller's
// perspective (only the event loop mutates it), for status reporting.
func (e *Engine) Graph() *clockgraph.Graph { return e.graph }

// Pairs returns a snapshot slice of the currently tracked clock pairs, for
// status reporting.
func (e *Engine) Pairs() []*pairsync.Pairing { return livePairs(e.pairs) }

func positionVariance(fix *solver.Fix) float64 {
	return (fix.Covariance[0][0] + fix.Covariance[1][1] + fix.Covariance[2][2]) / 3
}

func buildRecord(icao24 uint32, fix *solver.Fix, at time.Time, meas []solver.Measurement, anchorIdx int) output.Record {
	llh := geo.ECEFToLLH(fix.Position)

	anchor := meas[anchorIdx]
	anchorPredicted := geo.Distance(fix.Position, anchor.Position) / geo.SpeedOfLight

	contributions := make([]output.ReceiverContribution, len(meas))
	for i, m := range meas {
		d := geo.Distance(fix.Position, m.Position)
		predicted := d / geo.SpeedOfLight
		contributions[i] = output.ReceiverContribution{
			ReceiverID: m.ReceiverID,
			Tick:       m.Tick,
			Residual:   (m.ArrivalSec - anchor.ArrivalSec) - (predicted - anchorPredicted),
		}
	}

	return output.Record{
		ICAO24:     icao24,
		T0:         at,
		Position:   llh,
		Covariance: fix.Covariance,
		Receivers:  contributions,
		ChiSquare:  fix.ChiSquare,
		DOF:        fix.DOF,
	}
}
