package solver

import (
	"errors"
	"math"
	"testing"

	"github.com/openmlat/mlat-core/internal/geo"
	"github.com/openmlat/mlat-core/internal/mlaterr"
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

func scenario1Receivers() (origin geo.ECEF, receivers []geo.ECEF, tx geo.ECEF) {
	origin = geo.LLHToECEF(geo.LLH{Lat: 37.0, Lon: -122.0, Alt: 0})
	receivers = []geo.ECEF{
		enuToECEF(origin, 0, 0, 0),
		enuToECEF(origin, 30000, 0, 0),
		enuToECEF(origin, 0, 30000, 0),
		enuToECEF(origin, 15000, 15000, 0),
	}
	tx = enuToECEF(origin, 10000, 10000, 3000)
	return origin, receivers, tx
}

func buildMeasurements(receivers []geo.ECEF, tx geo.ECEF, offsets []float64) []Measurement {
	meas := make([]Measurement, len(receivers))
	for i, r := range receivers {
		delay := geo.Distance(tx, r) / geo.SpeedOfLight
		offset := 0.0
		if offsets != nil {
			offset = offsets[i]
		}
		meas[i] = Measurement{
			ReceiverID: i,
			Position:   r,
			ArrivalSec: delay + offset,
			Variance:   (50e-9) * (50e-9),
		}
	}
	return meas
}

func TestSolveRecoversKnownPosition(t *testing.T) {
	_, receivers, tx := scenario1Receivers()
	meas := buildMeasurements(receivers, tx, nil)

	guess := InitialGuess(receivers)
	fix, err := Solve(meas, 0, guess)
	if err != nil {
		t.Fatalf("unexpected solver error: %v", err)
	}

	if d := geo.Distance(fix.Position, tx); d > 50 {
		t.Fatalf("position error %v m exceeds 50 m", d)
	}
}

func TestSolvePoorGeometryCollinearReceivers(t *testing.T) {
	origin := geo.LLHToECEF(geo.LLH{Lat: 37.0, Lon: -122.0, Alt: 0})
	receivers := []geo.ECEF{
		enuToECEF(origin, 0, 0, 0),
		enuToECEF(origin, 10000, 0, 0),
		enuToECEF(origin, 20000, 0, 0),
	}
	tx := enuToECEF(origin, 12000, 3000, 5000)
	meas := buildMeasurements(receivers, tx, nil)

	guess := InitialGuess(receivers)
	_, err := Solve(meas, 0, guess)
	if !errors.Is(err, mlaterr.ErrPoorGeometry) {
		t.Fatalf("expected PoorGeometry for collinear receivers, got %v", err)
	}
}

func TestSolveIdempotence(t *testing.T) {
	_, receivers, tx := scenario1Receivers()
	meas := buildMeasurements(receivers, tx, nil)

	guess := InitialGuess(receivers)
	first, err := Solve(meas, 0, guess)
	if err != nil {
		t.Fatalf("first solve: %v", err)
	}

	second, err := Solve(meas, 0, first.Position)
	if err != nil {
		t.Fatalf("second solve: %v", err)
	}

	if d := geo.Distance(first.Position, second.Position); d > 0.01 {
		t.Fatalf("re-solving from converged output moved by %v m, expected <1cm", d)
	}
}

func TestResidualMonotonicityUnderExtraDistantReceiver(t *testing.T) {
	origin, receivers, tx := scenario1Receivers()
	meas3 := buildMeasurements(receivers[:3], tx, nil)

	guess := InitialGuess(receivers[:3])
	fix3, err := Solve(meas3, 0, guess)
	if err != nil {
		t.Fatalf("3-receiver solve: %v", err)
	}

	farReceiver := enuToECEF(origin, 80000, 80000, 0)
	receivers4 := append(append([]geo.ECEF{}, receivers[:3]...), farReceiver)
	meas4 := buildMeasurements(receivers4, tx, nil)

	guess4 := InitialGuess(receivers4)
	fix4, err := Solve(meas4, 0, guess4)
	if err != nil {
		t.Fatalf("4-receiver solve: %v", err)
	}

	const noiseFloor = 1.5 // chi^2/dof slack for finite-precision synthetic noise
	if fix4.ChiSquare/float64(fix4.DOF) > fix3.ChiSquare/float64(fix3.DOF)+noiseFloor {
		t.Fatalf("adding a consistent distant receiver increased chi^2/dof beyond noise floor: 3-recv=%v 4-recv=%v",
			fix3.ChiSquare/float64(fix3.DOF), fix4.ChiSquare/float64(fix4.DOF))
	}
}
