package pairsync

import "math"

// kalman2 is a 2-state linear Kalman filter over state x = [offset, rate]^T,
// closed-form (2x2 matrix algebra only, no external linear-algebra package).
//
// Transition: x <- F x, F = [[1, dt], [0, 1]]
// Process noise Q(dt) is diagonal, scaled by the oscillator random-walk
// parameters.
type kalman2 struct {
	offset float64 // delta, seconds
	rate   float64 // rdot, dimensionless

	// Covariance P, stored as the 3 distinct entries of a symmetric 2x2.
	p00, p01, p11 float64

	sigmaRatePerSec   float64 // sigma_rate, ppm/s-ish random walk on rate
	sigmaOffsetPerSec float64 // sigma_offset, seconds/s random walk on offset
}

func newKalman2(sigmaRate, sigmaOffset float64) *kalman2 {
	return &kalman2{
		p00:               1.0,  // 1 s^2, wide bootstrap prior
		p11:               1e-6, // 1e-6, wide bootstrap prior on rate
		sigmaRatePerSec:   sigmaRate,
		sigmaOffsetPerSec: sigmaOffset,
	}
}

// predict advances the filter state by dt seconds (measured on the base
// receiver's clock).
func (k *kalman2) predict(dt float64) {
	if dt < 0 {
		dt = 0
	}

	k.offset += k.rate * dt
	// rate unchanged by the transition model.

	// P <- F P F^T + Q(dt)
	p00, p01, p11 := k.p00, k.p01, k.p11
	newP00 := p00 + 2*dt*p01 + dt*dt*p11
	newP01 := p01 + dt*p11
	newP11 := p11

	qOffset := k.sigmaOffsetPerSec * k.sigmaOffsetPerSec * dt
	qRate := k.sigmaRatePerSec * k.sigmaRatePerSec * dt

	k.p00 = newP00 + qOffset
	k.p01 = newP01
	k.p11 = newP11 + qRate
}

// innovation returns y = z - Hx and its variance HPH^T+R, with H=[1,0], i.e.
// the observation is a direct measurement of offset.
func (k *kalman2) innovation(z, r float64) (y, s float64) {
	y = z - k.offset
	s = k.p00 + r
	return y, s
}

// update performs the scalar Kalman correction given measurement z with
// noise variance r, using the precomputed innovation/variance from a prior
// call to innovation (so callers can gate on the innovation before
// committing the update).
func (k *kalman2) update(y, s, r float64) {
	_ = r
	if s <= 0 {
		return
	}
	k1 := k.p00 / s
	k2 := k.p01 / s

	k.offset += k1 * y
	k.rate += k2 * y

	p00, p01, p11 := k.p00, k.p01, k.p11
	k.p00 = p00 - k1*p00
	k.p01 = p01 - k1*p01
	k.p11 = p11 - k2*p01
}

// sigmaOffset returns sqrt(P[0][0]), the published uncertainty on offset.
func (k *kalman2) sigmaOffset() float64 {
	if k.p00 < 0 {
		return 0
	}
	return math.Sqrt(k.p00)
}
