// Package solver implements a hand-rolled Levenberg-Marquardt fit of
// transmitter position from a correlator candidate's TDOA residuals,
// t0-eliminated via reference-receiver differencing.
package solver

import (
	"math"

	"github.com/openmlat/mlat-core/internal/geo"
	"github.com/openmlat/mlat-core/internal/mlaterr"
)

// Defaults for the LM damping schedule and acceptance gates.
const (
	InitialLambda     = 1e-3
	LambdaUp          = 10.0
	LambdaDown        = 10.0
	MaxIterations     = 50
	ConvergenceDelta  = 1e-9 // metres, step size below which we call it converged
	ChiSquarePerDOF   = 25.0 // default acceptance threshold
	MaxConditionRatio = 1e4  // above this, the receiver baseline is too collinear to trust
)

// Measurement is one receiver's contribution to the TDOA fit: its position
// and the (clock-graph-translated) arrival time in the anchor receiver's
// frame, with estimated variance.
type Measurement struct {
	ReceiverID int
	Tick       uint64 // raw hardware tick, carried through only for reporting
	Position   geo.ECEF
	ArrivalSec float64 // seconds, anchor-frame
	Variance   float64 // seconds^2, total propagated clock + measurement variance
}

// Fix is an accepted multilateration solution.
type Fix struct {
	Position   geo.ECEF
	Covariance [3][3]float64 // ECEF position covariance, metres^2
	ChiSquare  float64
	DOF        int
	Iterations int
}

// Solve runs Levenberg-Marquardt to fit a transmitter position from TDOA
// measurements referenced to the anchor receiver meas[anchorIdx] (the
// correlator's chosen anchor). initialGuess seeds the search
// — typically the centroid of participating receivers projected to the
// WGS-84 ellipsoid, or, if available, the aircraft's last known position
// within the last 10 seconds.
func Solve(meas []Measurement, anchorIdx int, initialGuess geo.ECEF) (*Fix, error) {
	if len(meas) < 3 {
		return nil, mlaterr.ErrResourceExhausted
	}

	receivers := make([]geo.ECEF, len(meas))
	for i, m := range meas {
		receivers[i] = m.Position
	}
	if cond := geo.BaselineConditionNumber(initialGuess, receivers); cond > MaxConditionRatio {
		return nil, mlaterr.ErrPoorGeometry
	}

	anchor := meas[anchorIdx]

	// Residual i (for i != anchorIdx) is:
	//   r_i = (|x - recv_i| - |x - recv_anchor|)/c - (t_i - t_anchor)
	// This eliminates the unknown transmission time t0.
	residuals := make([]Measurement, 0, len(meas)-1)
	for i, m := range meas {
		if i == anchorIdx {
			continue
		}
		residuals = append(residuals, m)
	}

	x := initialGuess
	lambda := InitialLambda

	prevCost, prevR := evalResiduals(x, anchor, residuals)
	iterations := 0

	for iter := 0; iter < MaxIterations; iter++ {
		iterations = iter + 1

		j := jacobian(x, anchor, residuals)
		jtwr, jtwj := normalEquations(j, prevR, residuals)

		delta, ok := solveDamped(jtwj, jtwr, lambda)
		if !ok {
			lambda *= LambdaUp
			continue
		}

		candidate := geo.ECEF{X: x.X + delta[0], Y: x.Y + delta[1], Z: x.Z + delta[2]}
		cost, r := evalResiduals(candidate, anchor, residuals)

		if cost < prevCost {
			x = candidate
			prevCost = cost
			prevR = r
			lambda /= LambdaDown

			step := math.Sqrt(delta[0]*delta[0] + delta[1]*delta[1] + delta[2]*delta[2])
			if step < ConvergenceDelta {
				break
			}
		} else {
			lambda *= LambdaUp
		}
	}

	dof := len(residuals) - 3
	if dof < 1 {
		dof = 1
	}
	chiSq := 0.0
	for i, rv := range prevR {
		w := 1.0 / residuals[i].Variance
		chiSq += rv * rv * w
	}

	if chiSq/float64(dof) > ChiSquarePerDOF {
		return nil, mlaterr.ErrHighResidual
	}

	j := jacobian(x, anchor, residuals)
	_, jtwj := normalEquations(j, prevR, residuals)
	cov, ok := invert3x3(jtwj)
	if !ok {
		return nil, mlaterr.ErrNotConverged
	}

	return &Fix{
		Position:   x,
		Covariance: cov,
		ChiSquare:  chiSq,
		DOF:        dof,
		Iterations: iterations,
	}, nil
}

func evalResiduals(x geo.ECEF, anchor Measurement, residuals []Measurement) (cost float64, r []float64) {
	r = make([]float64, len(residuals))
	dAnchor := geo.Distance(x, anchor.Position)
	for i, m := range residuals {
		d := geo.Distance(x, m.Position)
		predicted := (d - dAnchor) / geo.SpeedOfLight
		observed := m.ArrivalSec - anchor.ArrivalSec
		r[i] = predicted - observed
		w := 1.0 / m.Variance
		cost += r[i] * r[i] * w
	}
	return cost, r
}

// jacobian returns d(residual_i)/d(x,y,z) for each residual, via the
// analytic TDOA gradient (unit vector from x toward each receiver, scaled
// by 1/c).
func jacobian(x geo.ECEF, anchor Measurement, residuals []Measurement) [][3]float64 {
	j := make([][3]float64, len(residuals))

	dAnchor := geo.Distance(x, anchor.Position)
	var gradAnchor [3]float64
	if dAnchor > 0 {
		gradAnchor = [3]float64{
			(x.X - anchor.Position.X) / dAnchor,
			(x.Y - anchor.Position.Y) / dAnchor,
			(x.Z - anchor.Position.Z) / dAnchor,
		}
	}

	for i, m := range residuals {
		d := geo.Distance(x, m.Position)
		var grad [3]float64
		if d > 0 {
			grad = [3]float64{
				(x.X - m.Position.X) / d,
				(x.Y - m.Position.Y) / d,
				(x.Z - m.Position.Z) / d,
			}
		}
		j[i] = [3]float64{
			(grad[0] - gradAnchor[0]) / geo.SpeedOfLight,
			(grad[1] - gradAnchor[1]) / geo.SpeedOfLight,
			(grad[2] - gradAnchor[2]) / geo.SpeedOfLight,
		}
	}
	return j
}

// normalEquations builds J^T W r and J^T W J for the weighted least-squares
// normal equations, W = diag(1/variance_i).
func normalEquations(j [][3]float64, r []float64, residuals []Measurement) (jtwr [3]float64, jtwj [3][3]float64) {
	for i, row := range j {
		w := 1.0 / residuals[i].Variance
		for a := 0; a < 3; a++ {
			jtwr[a] += row[a] * w * r[i]
			for b := 0; b < 3; b++ {
				jtwj[a][b] += row[a] * w * row[b]
			}
		}
	}
	return jtwr, jtwj
}

// solveDamped solves (JTWJ + lambda*diag(JTWJ)) delta = -JTWR via closed-form
// 3x3 inversion (Levenberg-Marquardt damping).
func solveDamped(jtwj [3][3]float64, jtwr [3]float64, lambda float64) ([3]float64, bool) {
	damped := jtwj
	for i := 0; i < 3; i++ {
		damped[i][i] *= 1 + lambda
	}

	inv, ok := invert3x3(damped)
	if !ok {
		return [3]float64{}, false
	}

	var delta [3]float64
	for a := 0; a < 3; a++ {
		for b := 0; b < 3; b++ {
			delta[a] -= inv[a][b] * jtwr[b]
		}
	}
	return delta, true
}

// invert3x3 inverts a symmetric 3x3 matrix via the adjugate/determinant
// formula, used both for the damped normal-equations solve and the
// final covariance.
func invert3x3(m [3][3]float64) ([3][3]float64, bool) {
	det := m[0][0]*(m[1][1]*m[2][2]-m[1][2]*m[2][1]) -
		m[0][1]*(m[1][0]*m[2][2]-m[1][2]*m[2][0]) +
		m[0][2]*(m[1][0]*m[2][1]-m[1][1]*m[2][0])

	if math.Abs(det) < 1e-30 {
		return [3][3]float64{}, false
	}
	invDet := 1.0 / det

	var out [3][3]float64
	out[0][0] = (m[1][1]*m[2][2] - m[1][2]*m[2][1]) * invDet
	out[0][1] = (m[0][2]*m[2][1] - m[0][1]*m[2][2]) * invDet
	out[0][2] = (m[0][1]*m[1][2] - m[0][2]*m[1][1]) * invDet
	out[1][0] = (m[1][2]*m[2][0] - m[1][0]*m[2][2]) * invDet
	out[1][1] = (m[0][0]*m[2][2] - m[0][2]*m[2][0]) * invDet
	out[1][2] = (m[0][2]*m[1][0] - m[0][0]*m[1][2]) * invDet
	out[2][0] = (m[1][0]*m[2][1] - m[1][1]*m[2][0]) * invDet
	out[2][1] = (m[0][1]*m[2][0] - m[0][0]*m[2][1]) * invDet
	out[2][2] = (m[0][0]*m[1][1] - m[0][1]*m[1][0]) * invDet
	return out, true
}

// InitialGuess returns the centroid of the participating receivers,
// projected onto the WGS-84 ellipsoid at a nominal cruise altitude, as the
// default LM seed.
func InitialGuess(receivers []geo.ECEF) geo.ECEF {
	c := geo.Centroid(receivers)
	llh := geo.ECEFToLLH(c)
	llh.Alt = 10000 // nominal cruise altitude, metres
	return geo.LLHToECEF(llh)
}
