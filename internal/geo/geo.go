// Package geo implements the closed-form ECEF/WGS-84 geometry used by the
// clock-pair tracker and the multilateration solver. All work is done in
// ECEF double precision; WGS-84 conversion happens only at the edges
// (surveyed-position ingest and output formatting).
package geo

import "math"

// SpeedOfLight is c in metres/second, used for propagation-delay correction.
const SpeedOfLight = 299792458.0

// WGS-84 ellipsoid parameters.
const (
	wgs84A     = 6378137.0
	wgs84F     = 1.0 / 298.257223563
	wgs84B     = wgs84A * (1 - wgs84F)
	wgs84EccSq = 1 - (wgs84B*wgs84B)/(wgs84A*wgs84A)
)

var (
	wgs84Ep   = math.Sqrt((wgs84A*wgs84A - wgs84B*wgs84B) / (wgs84B * wgs84B))
	wgs84Ep2B = wgs84Ep * wgs84Ep * wgs84B
	wgs84E2A  = wgs84EccSq * wgs84A
)

// ECEF is an Earth-Centered Earth-Fixed Cartesian position in metres.
type ECEF struct {
	X, Y, Z float64
}

// LLH is a WGS-84 geodetic position: latitude/longitude in degrees, altitude
// in metres above the ellipsoid.
type LLH struct {
	Lat, Lon, Alt float64
}

// Position is a geodetic transmitter position in the form produced by a
// DF17/18 CPR decode.
type Position struct {
	Lat, Lon, Alt float64
}

// ECEF converts the position for propagation-delay geometry.
func (p Position) ECEF() ECEF {
	return LLHToECEF(LLH{Lat: p.Lat, Lon: p.Lon, Alt: p.Alt})
}

// Positioner is anything that resolves to an ECEF position, letting
// propagation-delay geometry stay decoupled from a specific decoder's
// position type.
type Positioner interface {
	ECEF() ECEF
}

const dtor = math.Pi / 180.0
const rtod = 180.0 / math.Pi

// LLHToECEF converts a WGS-84 geodetic position to ECEF.
func LLHToECEF(p LLH) ECEF {
	lat := p.Lat * dtor
	lon := p.Lon * dtor

	slat, clat := math.Sincos(lat)
	slon, clon := math.Sincos(lon)

	d := math.Sqrt(1 - slat*slat*wgs84EccSq)
	rn := wgs84A / d

	return ECEF{
		X: (rn + p.Alt) * clat * clon,
		Y: (rn + p.Alt) * clat * slon,
		Z: (rn*(1-wgs84EccSq) + p.Alt) * slat,
	}
}

// ECEFToLLH converts an ECEF position to WGS-84 geodetic, using the closed-form
// Bowring approximation (single iteration, accurate to sub-millimetre for
// aircraft altitudes).
func ECEFToLLH(p ECEF) LLH {
	lon := math.Atan2(p.Y, p.X)

	pr := math.Hypot(p.X, p.Y)
	th := math.Atan2(wgs84A*p.Z, wgs84B*pr)
	sth, cth := math.Sincos(th)

	lat := math.Atan2(p.Z+wgs84Ep2B*sth*sth*sth, pr-wgs84E2A*cth*cth*cth)

	slat := math.Sin(lat)
	n := wgs84A / math.Sqrt(1-wgs84EccSq*slat*slat)
	alt := pr/math.Cos(lat) - n

	return LLH{Lat: lat * rtod, Lon: lon * rtod, Alt: alt}
}

// Distance returns the straight-line (chord) distance between two ECEF
// points, in metres.
func Distance(a, b ECEF) float64 {
	dx, dy, dz := a.X-b.X, a.Y-b.Y, a.Z-b.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// Sub returns a-b as a vector.
func Sub(a, b ECEF) ECEF {
	return ECEF{a.X - b.X, a.Y - b.Y, a.Z - b.Z}
}

// Add returns a+b.
func Add(a, b ECEF) ECEF {
	return ECEF{a.X + b.X, a.Y + b.Y, a.Z + b.Z}
}

// Scale returns a*s.
func Scale(a ECEF, s float64) ECEF {
	return ECEF{a.X * s, a.Y * s, a.Z * s}
}

// Norm returns the Euclidean norm of a.
func Norm(a ECEF) float64 {
	return math.Sqrt(a.X*a.X + a.Y*a.Y + a.Z*a.Z)
}

// Centroid returns the arithmetic mean of a set of ECEF positions.
func Centroid(pts []ECEF) ECEF {
	var sum ECEF
	for _, p := range pts {
		sum = Add(sum, p)
	}
	n := float64(len(pts))
	return Scale(sum, 1/n)
}

// PropagationDelay returns the straight-line propagation delay (seconds) from
// a transmitter position to a receiver antenna, assuming free-space
// propagation at c.
func PropagationDelay(transmitter, receiver ECEF) float64 {
	return Distance(transmitter, receiver) / SpeedOfLight
}
