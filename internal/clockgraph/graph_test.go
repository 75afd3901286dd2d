package clockgraph

import (
	"math"
	"testing"
	"time"

	"github.com/openmlat/mlat-core/internal/pairsync"
)

// matured feeds a constant offset through a pairing until it is publishable.
func matured(i, j int, offset float64) *pairsync.Pairing {
	p := pairsync.NewPairing(i, j, 12e6, 12e6)
	now := time.Now()
	for n := 0; n < pairsync.MinObservationsToPublish+2; n++ {
		now = now.Add(time.Second)
		dt := 1.0
		if n == 0 {
			dt = 0
		}
		p.Update(offset, dt, 1e-12, now)
	}
	return p
}

func TestGraphComposition(t *testing.T) {
	ab := matured(1, 2, 0.002)
	bc := matured(2, 3, -0.0015)

	g := New()
	g.Rebuild([]*pairsync.Pairing{ab, bc}, VarianceCeiling)

	const t0 = 1000.0

	direct, err := g.Translate(t0, 1, 3)
	if err != nil {
		t.Fatalf("A->C: %v", err)
	}

	viaB, err := g.Translate(t0, 1, 2)
	if err != nil {
		t.Fatalf("A->B: %v", err)
	}
	composed, err := g.Translate(viaB, 2, 3)
	if err != nil {
		t.Fatalf("B->C: %v", err)
	}

	varAC, err := g.ExpectedVariance(1, 3)
	if err != nil {
		t.Fatalf("variance A->C: %v", err)
	}

	tolerance := math.Sqrt(varAC) + 1e-9
	if math.Abs(direct-composed) > tolerance {
		t.Fatalf("translate(A->C)=%v but translate(A->B)->C=%v, diff %v exceeds tolerance %v",
			direct, composed, math.Abs(direct-composed), tolerance)
	}
}

func TestGraphNoSyncPath(t *testing.T) {
	g := New()
	_, err := g.Translate(0, 1, 2)
	if err == nil {
		t.Fatal("expected NoSyncPath for disjoint receivers")
	}
}

func TestGraphBestAnchorTieBreaksByID(t *testing.T) {
	g := New()
	anchor, ok := g.BestAnchor([]int{5, 2, 9})
	if !ok {
		t.Fatal("expected an anchor from non-empty candidates")
	}
	if anchor != 2 {
		t.Fatalf("expected lowest id 2 on full tie, got %d", anchor)
	}
}

func TestGraphInvalidateReceiver(t *testing.T) {
	ab := matured(1, 2, 0.001)
	g := New()
	g.Rebuild([]*pairsync.Pairing{ab}, VarianceCeiling)

	if _, err := g.Translate(0, 1, 2); err != nil {
		t.Fatalf("expected direct edge before invalidation: %v", err)
	}

	g.InvalidateReceiver(2)

	if _, err := g.Translate(0, 1, 2); err == nil {
		t.Fatal("expected NoSyncPath after invalidating receiver 2")
	}
}
