package pairsync

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/openmlat/mlat-core/internal/geo"
)

func TestGeometrySymmetry(t *testing.T) {
	tx := geo.Position{Lat: 37.0, Lon: -122.0, Alt: 3000}
	posA := geo.LLHToECEF(geo.LLH{Lat: 37.01, Lon: -122.01, Alt: 10})
	posB := geo.LLHToECEF(geo.LLH{Lat: 36.99, Lon: -121.99, Alt: 10})
	freq := 12e6

	tickA := uint64(1_000_000)
	tickB := uint64(1_000_050)

	zAB, ok := BuildObservation(tx, posA, posB, tickA, tickB, freq, freq, time.Now())
	if !ok {
		t.Fatal("expected valid observation A->B")
	}
	zBA, ok := BuildObservation(tx, posB, posA, tickB, tickA, freq, freq, time.Now())
	if !ok {
		t.Fatal("expected valid observation B->A")
	}

	if math.Abs(zAB+zBA) > 1e-12 {
		t.Fatalf("expected sign flip under swap: zAB=%v zBA=%v", zAB, zBA)
	}
}

func TestKalmanConsistency(t *testing.T) {
	const trials = 50
	const sigma = 100e-9
	successes := 0

	for trial := 0; trial < trials; trial++ {
		rng := rand.New(rand.NewSource(int64(trial) + 1))
		trueOffset := 0.01 + 0.0001*float64(trial)
		trueRate := 5e-6

		p := NewPairing(1, 2, 12e6, 12e6)
		now := time.Now()

		for i := 0; i < 150; i++ {
			dt := 0.2
			now = now.Add(time.Duration(dt * float64(time.Second)))
			elapsed := float64(i) * dt
			trueZ := trueOffset + trueRate*elapsed
			noisy := trueZ + rng.NormFloat64()*sigma

			baseDt := dt
			if p.ObservationCount() == 0 {
				baseDt = 0
			}
			p.Update(noisy, baseDt, sigma*sigma, now)
		}

		if p.ObservationCount() < 100 {
			continue
		}

		sigmaOffset := p.Sigma()
		if sigmaOffset <= 0 {
			sigmaOffset = 1e-9
		}

		finalElapsed := float64(149) * 0.2
		expectedOffset := trueOffset + trueRate*finalElapsed
		if math.Abs(p.Offset()-expectedOffset) <= 3*sigmaOffset {
			successes++
		}
	}

	if float64(successes)/trials < 0.8 {
		t.Fatalf("only %d/%d trials converged within 3 sigma", successes, trials)
	}
}

func TestOutlierRejectionAndReset(t *testing.T) {
	p := NewPairing(1, 2, 12e6, 12e6)
	now := time.Now()

	for i := 0; i < BootstrapAcceptCount; i++ {
		now = now.Add(time.Second)
		p.Update(0.01, 1.0, 1e-12, now)
	}
	if p.State() != Tracking {
		t.Fatalf("expected Tracking after %d good observations, got %v", BootstrapAcceptCount, p.State())
	}

	for i := 0; i < MaxConsecutiveRejections; i++ {
		now = now.Add(time.Second)
		p.Update(0.01+0.5e-3, 1.0, 1e-12, now)
	}

	if p.State() != Bootstrap {
		t.Fatalf("expected reset to Bootstrap after %d consecutive rejections, got %v", MaxConsecutiveRejections, p.State())
	}
	if p.ObservationCount() != 0 {
		t.Fatalf("expected observation count reset to 0, got %d", p.ObservationCount())
	}

	now = now.Add(time.Second)
	ok := p.Update(0.01, 0, 1e-12, now)
	if !ok {
		t.Fatal("expected first observation after reset to be accepted")
	}
}
