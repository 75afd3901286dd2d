// Package tracker implements a simplified 3D constant-velocity Kalman
// filter smoothing successive solver fixes per icao24, used to gate
// implausible fixes and seed the solver's initial guess for the aircraft's
// next position.
package tracker

import (
	"time"

	"github.com/openmlat/mlat-core/internal/geo"
)

// MahalanobisGate is the per-axis squared Mahalanobis budget: a new fix is
// rejected as implausible when its squared distance summed over the three
// axes exceeds 3*MahalanobisGate.
const MahalanobisGate = 5.0

// Timeout drops a track that hasn't received a fix in this long.
const Timeout = 30 * time.Second

// processNoisePerSec is the random-walk variance injected into velocity
// per second of prediction, tuned to allow a few g of maneuvering.
const processNoisePerSec = 25.0 // metres^2/s^3, per axis

// Track is a single aircraft's constant-velocity state, position and
// velocity in ECEF, with independent-axis covariance: a simplified
// constant-velocity filter over fixes, not a full pseudorange filter.
type Track struct {
	ICAO24 uint32

	pos geo.ECEF
	vel geo.ECEF

	// Per-axis 2x2 covariance (position, velocity), identical structure on
	// x, y, z since there's no cross-axis coupling in a CV model.
	cov [3][2][2]float64

	lastUpdate time.Time
	updates    int
}

// New constructs a track seeded with a single fix and zero velocity.
func New(icao24 uint32, pos geo.ECEF, posVariance float64, at time.Time) *Track {
	t := &Track{ICAO24: icao24, pos: pos, lastUpdate: at, updates: 1}
	for axis := 0; axis < 3; axis++ {
		t.cov[axis] = [2][2]float64{
			{posVariance, 0},
			{0, 1e6}, // velocity totally unknown at first fix
		}
	}
	return t
}

// Predict advances the track to time `at` without incorporating a new
// measurement, returning the predicted position (used to seed the solver's
// initial guess).
func (t *Track) Predict(at time.Time) geo.ECEF {
	dt := at.Sub(t.lastUpdate).Seconds()
	if dt <= 0 {
		return t.pos
	}
	return geo.ECEF{
		X: t.pos.X + t.vel.X*dt,
		Y: t.pos.Y + t.vel.Y*dt,
		Z: t.pos.Z + t.vel.Z*dt,
	}
}

// Update incorporates a new solver fix, gating it with a Mahalanobis
// distance test against the predicted position and covariance. Returns
// false (without mutating state) if the fix is rejected as implausible.
func (t *Track) Update(pos geo.ECEF, posVariance float64, at time.Time) bool {
	dt := at.Sub(t.lastUpdate).Seconds()
	if dt < 0 {
		dt = 0
	}

	predPos, predVel, predCov := t.predictState(dt)

	axes := [3]float64{pos.X - predPos.X, pos.Y - predPos.Y, pos.Z - predPos.Z}
	maha := 0.0
	for axis := 0; axis < 3; axis++ {
		s := predCov[axis][0][0] + posVariance
		if s <= 0 {
			s = posVariance
		}
		maha += axes[axis] * axes[axis] / s
	}

	if t.updates > 0 && maha > MahalanobisGate*3 { // 3 independent axes contribute to the gate
		return false
	}

	var newPos, newVel geo.ECEF
	var newCov [3][2][2]float64

	newPos.X, newVel.X, newCov[0] = kalmanUpdateAxis(predPos.X, predVel.X, predCov[0], pos.X, posVariance)
	newPos.Y, newVel.Y, newCov[1] = kalmanUpdateAxis(predPos.Y, predVel.Y, predCov[1], pos.Y, posVariance)
	newPos.Z, newVel.Z, newCov[2] = kalmanUpdateAxis(predPos.Z, predVel.Z, predCov[2], pos.Z, posVariance)

	t.pos, t.vel, t.cov = newPos, newVel, newCov
	t.lastUpdate = at
	t.updates++
	return true
}

func (t *Track) predictState(dt float64) (pos, vel geo.ECEF, cov [3][2][2]float64) {
	pos = geo.ECEF{
		X: t.pos.X + t.vel.X*dt,
		Y: t.pos.Y + t.vel.Y*dt,
		Z: t.pos.Z + t.vel.Z*dt,
	}
	vel = t.vel

	q := processNoisePerSec * dt
	for axis := 0; axis < 3; axis++ {
		p00, p01, p11 := t.cov[axis][0][0], t.cov[axis][0][1], t.cov[axis][1][1]
		cov[axis][0][0] = p00 + 2*dt*p01 + dt*dt*p11 + q*dt*dt/3
		cov[axis][0][1] = p01 + dt*p11 + q*dt/2
		cov[axis][1][0] = cov[axis][0][1]
		cov[axis][1][1] = p11 + q
	}
	return pos, vel, cov
}

// kalmanUpdateAxis performs a scalar-measurement (position-only) Kalman
// correction on one independent axis of the 2-state (position, velocity)
// constant-velocity model.
func kalmanUpdateAxis(predPos, predVel float64, cov [2][2]float64, z, r float64) (pos, vel float64, newCov [2][2]float64) {
	s := cov[0][0] + r
	if s <= 0 {
		s = r
	}
	k0 := cov[0][0] / s
	k1 := cov[0][1] / s

	y := z - predPos
	pos = predPos + k0*y
	vel = predVel + k1*y

	newCov[0][0] = cov[0][0] - k0*cov[0][0]
	newCov[0][1] = cov[0][1] - k0*cov[0][1]
	newCov[1][0] = newCov[0][1]
	newCov[1][1] = cov[1][1] - k1*cov[0][1]
	return pos, vel, newCov
}

// Position returns the track's current smoothed position.
func (t *Track) Position() geo.ECEF { return t.pos }

// Expired reports whether the track has gone silent longer than Timeout.
func (t *Track) Expired(now time.Time) bool {
	return now.Sub(t.lastUpdate) > Timeout
}

// Updates returns the number of fixes incorporated into this track.
func (t *Track) Updates() int { return t.updates }
