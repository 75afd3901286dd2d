package correlator

import (
	"testing"
	"time"

	"github.com/openmlat/mlat-core/internal/clockgraph"
)

func sighting(recv int, icao uint32, payload []byte, at time.Time) Sighting {
	return Sighting{ReceiverID: recv, Tick: uint64(at.UnixNano()), Payload: payload, ICAO24: icao, At: at}
}

func TestCorrelatorDisjointness(t *testing.T) {
	c := New(clockgraph.New())
	base := time.Now()
	payload := []byte{0x8D, 0x48, 0x40, 0xD6, 0x20, 0x2C}

	c.Ingest(sighting(1, 0xABCDEF, payload, base))
	c.Ingest(sighting(2, 0xABCDEF, payload, base.Add(500*time.Microsecond)))
	// A second, concurrent transmission from the same aircraft arriving well
	// outside the correlation window must open a distinct group.
	c.Ingest(sighting(3, 0xABCDEF, payload, base.Add(50*time.Millisecond)))

	if len(c.groups[0xABCDEF]) != 2 {
		t.Fatalf("expected 2 disjoint groups, got %d", len(c.groups[0xABCDEF]))
	}
	if c.groups[0xABCDEF][0].receiverCount() != 2 {
		t.Fatalf("expected first group to have 2 receivers, got %d", c.groups[0xABCDEF][0].receiverCount())
	}
}

func TestCorrelatorNoiseCopyNeverCloses(t *testing.T) {
	c := New(clockgraph.New())
	base := time.Now()
	payload := []byte{0x8D, 0x48, 0x40, 0xD6, 0x20, 0x2C}

	// Only two receivers hear it (below MinReceivers): closed without
	// becoming a candidate.
	c.Ingest(sighting(1, 0x111111, payload, base))
	c.Ingest(sighting(2, 0x111111, payload, base.Add(time.Millisecond)))

	candidates := c.Tick(base.Add(CloseDelay + time.Second))
	if len(candidates) != 0 {
		t.Fatalf("expected no candidates below quorum, got %d", len(candidates))
	}
	if _, ok := c.groups[0x111111]; ok {
		t.Fatal("expected sub-quorum group to be dropped after close, not retained")
	}
}

func TestCorrelatorClosesAtQuorum(t *testing.T) {
	c := New(clockgraph.New())
	base := time.Now()
	payload := []byte{0x8D, 0x48, 0x40, 0xD6, 0x20, 0x2C}

	c.Ingest(sighting(1, 0x222222, payload, base))
	c.Ingest(sighting(2, 0x222222, payload, base.Add(200*time.Microsecond)))
	c.Ingest(sighting(3, 0x222222, payload, base.Add(400*time.Microsecond)))

	candidates := c.Tick(base.Add(CloseDelay + time.Second))
	if len(candidates) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(candidates))
	}
	if candidates[0].ICAO24 != 0x222222 {
		t.Fatalf("unexpected icao24 %x", candidates[0].ICAO24)
	}
	if len(candidates[0].Sightings) != 3 {
		t.Fatalf("expected 3 sightings, got %d", len(candidates[0].Sightings))
	}
}

func TestCorrelatorReceiverDisconnectMidGroup(t *testing.T) {
	c := New(clockgraph.New())
	base := time.Now()
	payload := []byte{0x8D, 0x48, 0x40, 0xD6, 0x20, 0x2C}

	c.Ingest(sighting(1, 0x333333, payload, base))
	c.Ingest(sighting(2, 0x333333, payload, base.Add(100*time.Microsecond)))
	c.Ingest(sighting(3, 0x333333, payload, base.Add(200*time.Microsecond)))

	// Receiver 3 drops before close; group falls below quorum and must not
	// be forwarded to the solver, but the correlator must not panic or wedge.
	c.DropReceiver(3)

	candidates := c.Tick(base.Add(CloseDelay + time.Second))
	if len(candidates) != 0 {
		t.Fatalf("expected group below quorum after disconnect to be dropped, got %d candidates", len(candidates))
	}
}

func TestHammingDistanceAllowance(t *testing.T) {
	a := []byte{0x8D, 0x48, 0x40, 0xD6}
	b := []byte{0x8D, 0x48, 0x40, 0xD7} // last bit flipped
	if hammingDistance(a, b) != 1 {
		t.Fatalf("expected distance 1, got %d", hammingDistance(a, b))
	}
	c := []byte{0x8D, 0x48, 0x40, 0xF7} // two bits flipped from a
	if hammingDistance(a, c) <= MaxHammingDistance {
		t.Fatalf("expected distance beyond allowance, got %d", hammingDistance(a, c))
	}
}
