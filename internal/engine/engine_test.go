package engine

import (
	"math"
	"testing"
	"time"

	"github.com/openmlat/mlat-core/internal/adsb"
	"github.com/openmlat/mlat-core/internal/correlator"
	"github.com/openmlat/mlat-core/internal/geo"
	"github.com/openmlat/mlat-core/internal/output"
	"github.com/openmlat/mlat-core/internal/receiver"
)

// enuToECEF approximates a local ENU offset (metres) from an arbitrary ECEF
// origin as a flat-earth tangent-plane displacement, adequate at the few-km
// scale used by these synthetic scenarios.
func enuToECEF(origin geo.ECEF, east, north, up float64) geo.ECEF {
	llh := geo.ECEFToLLH(origin)
	const metresPerDegLat = 111320.0
	metresPerDegLon := metresPerDegLat * math.Cos(llh.Lat*math.Pi/180)

	return geo.LLHToECEF(geo.LLH{
		Lat: llh.Lat + north/metresPerDegLat,
		Lon: llh.Lon + east/metresPerDegLon,
		Alt: llh.Alt + up,
	})
}

// recordingSink is a test-local output.Sink that just captures every
// published record.
type recordingSink struct {
	records []output.Record
}

func (s *recordingSink) Publish(r output.Record) {
	s.records = append(s.records, r)
}

// TestEngineRecoversPositionAcrossReceiverClockOffsets drives the real
// receiver -> engine -> pairsync -> clockgraph -> solver path with
// receivers whose hardware clocks carry a fixed, never-corrected-in-tick
// offset against each other, the same condition the clock-pair tracker and
// clock graph exist to absorb. If buildMeasurements ever regresses to
// handing the solver raw, untranslated tick times, the published position
// error blows up from metres to tens of thousands of kilometres.
func TestEngineRecoversPositionAcrossReceiverClockOffsets(t *testing.T) {
	origin := geo.LLHToECEF(geo.LLH{Lat: 37.0, Lon: -122.0, Alt: 0})
	positions := []geo.ECEF{
		enuToECEF(origin, 0, 0, 0),
		enuToECEF(origin, 30000, 0, 0),
		enuToECEF(origin, 0, 30000, 0),
		enuToECEF(origin, 15000, 15000, 0),
	}
	tx := enuToECEF(origin, 10000, 10000, 3000)
	txLLH := geo.ECEFToLLH(tx)
	txPos := adsb.Position{Lat: txLLH.Lat, Lon: txLLH.Lon, Alt: txLLH.Alt}

	// Per-receiver clock offsets (seconds): each receiver's hardware tick
	// counter runs against its own epoch, fixed but unknown to the solver
	// until the clock-pair tracker estimates it. Kept under pairsync's
	// GeometryContradiction gate (1s) pairwise, but large enough that an
	// untranslated raw tick/freq reading would throw the TDOA off by
	// hundreds of milliseconds: tens of thousands of km of apparent error,
	// far past the 80m acceptance bound below.
	offsets := []float64{0, 0.25, 0.5, -0.35}
	const freq = 12e6
	const icao24 = uint32(0xABCDEF)
	const baseline = 100.0 // seconds, keeps every tick positive despite negative offsets

	sink := &recordingSink{}
	eng := New(nil, sink)

	recvs := make([]*receiver.Receiver, len(positions))
	ticks := make([]uint64, len(positions))
	for i, pos := range positions {
		i, pos := i, pos
		recvs[i] = eng.Receivers.Connect(func(id int) *receiver.Receiver {
			return receiver.New(id, pos, freq, 48, func(receiver.Arrival) {})
		})
		delay := geo.Distance(tx, pos) / geo.SpeedOfLight
		ticks[i] = uint64((baseline + delay + offsets[i]) * freq)
	}

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	msg := []byte{0x8D}

	// Eight bootstrap "sightings" of the same stationary transmitter, ten
	// seconds apart, mature every receiver pair's clock-offset estimate past
	// pairsync.MinObservationsToPublish. Within each event, receivers are
	// processed with a few hundred milliseconds of synthetic arrival jitter
	// (reception/processing skew between receivers, not simultaneous
	// delivery) so cross-receiver sighting correlation for clock-sync only
	// succeeds if feedPairObservations actually uses pairsync.PairingWindow
	// (5s) rather than the much tighter same-transmission correlator.Window
	// (2ms).
	for event := 0; event < 8; event++ {
		wallBase := base.Add(time.Duration(event) * 10 * time.Second)
		for i, r := range recvs {
			at := wallBase.Add(time.Duration(i) * 200 * time.Millisecond)
			if err := r.OnMessage(ticks[i], msg, icao24, true, 0, at); err != nil {
				t.Fatalf("event %d receiver %d: OnMessage: %v", event, i, err)
			}
			eng.feedPairObservations(r.ID, icao24, txPos, ticks[i], at)
		}
	}

	pairs := eng.Pairs()
	const wantPairs = 6 // C(4,2): every receiver pair must have matured
	if len(pairs) != wantPairs {
		t.Fatalf("got %d clock pairs after bootstrap, want %d (pairing window too tight?)", len(pairs), wantPairs)
	}
	for _, p := range pairs {
		if !p.Publishable() {
			t.Fatalf("pair %d/%d not publishable after %d observations", p.ReceiverI, p.ReceiverJ, p.ObservationCount())
		}
	}

	eng.Tick(base.Add(71 * time.Second))

	anchorID := recvs[0].ID
	sightings := make([]correlator.Sighting, len(recvs))
	for i, r := range recvs {
		sightings[i] = correlator.Sighting{ReceiverID: r.ID, Tick: ticks[i], ICAO24: icao24}
	}
	candidate := &correlator.Candidate{
		ICAO24:    icao24,
		AnchorID:  anchorID,
		Sightings: sightings,
		ClosedAt:  base.Add(72 * time.Second),
	}

	eng.dispatchCandidate(candidate)

	if len(sink.records) != 1 {
		t.Fatalf("got %d published records, want 1", len(sink.records))
	}

	got := geo.LLHToECEF(sink.records[0].Position)
	if d := geo.Distance(got, tx); d > 80 {
		t.Fatalf("position error %v m exceeds 80 m despite matured clock-offset sync", d)
	}
}
