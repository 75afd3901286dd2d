package tracker

import (
	"testing"
	"time"

	"github.com/openmlat/mlat-core/internal/geo"
)

func TestTrackSmoothsConsistentFixes(t *testing.T) {
	origin := geo.ECEF{X: 1000000, Y: 2000000, Z: 3000000}
	now := time.Now()

	tr := New(0xABCDEF, origin, 2500, now) // ~50m sigma

	pos := origin
	const speed = 200.0 // m/s eastward, roughly
	for i := 0; i < 10; i++ {
		now = now.Add(time.Second)
		pos = geo.ECEF{X: pos.X + speed, Y: pos.Y, Z: pos.Z}
		if !tr.Update(pos, 2500, now) {
			t.Fatalf("fix %d unexpectedly rejected", i)
		}
	}

	if tr.Updates() != 11 {
		t.Fatalf("expected 11 updates, got %d", tr.Updates())
	}

	predicted := tr.Predict(now.Add(time.Second))
	want := pos.X + speed
	if d := predicted.X - want; d > 100 || d < -100 {
		t.Fatalf("predicted position diverged: got %v want ~%v", predicted.X, want)
	}
}

func TestTrackRejectsImplausibleJump(t *testing.T) {
	origin := geo.ECEF{X: 1000000, Y: 2000000, Z: 3000000}
	now := time.Now()
	tr := New(0x111111, origin, 2500, now)

	for i := 0; i < 5; i++ {
		now = now.Add(time.Second)
		tr.Update(geo.ECEF{X: origin.X + float64(i)*200, Y: origin.Y, Z: origin.Z}, 2500, now)
	}

	now = now.Add(time.Second)
	// A 500 km jump in one second is not a plausible aircraft maneuver.
	jump := geo.ECEF{X: origin.X + 500000, Y: origin.Y, Z: origin.Z}
	if tr.Update(jump, 2500, now) {
		t.Fatal("expected implausible jump to be rejected")
	}
}

func TestRegistrySeedExpiresAfterTenSeconds(t *testing.T) {
	reg := NewRegistry()
	origin := geo.ECEF{X: 1000000, Y: 2000000, Z: 3000000}
	now := time.Now()

	reg.Observe(0x222222, origin, 2500, now)

	if _, ok := reg.Seed(0x222222, now.Add(5*time.Second)); !ok {
		t.Fatal("expected seed to be available within 10s")
	}
	if _, ok := reg.Seed(0x222222, now.Add(11*time.Second)); ok {
		t.Fatal("expected seed to expire after 10s")
	}
}
