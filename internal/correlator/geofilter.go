package correlator

import (
	"github.com/gansidui/geohash"
	sdkgeo "github.com/kellydunn/golang-geo"

	"github.com/openmlat/mlat-core/internal/geo"
)

// geohashPrecision is the number of base32 characters used for the
// receiver-pair candidate pre-filter. 5 characters is roughly 5km cells.
const geohashPrecision = 5

// MaxPlausibleRangeKm bounds how far apart two receivers can plausibly both
// hear the same 1090MHz transmission: receivers separated by more distance
// than line-of-sight Mode S reception allows for any realistic aircraft
// altitude. Neither the correlator's grouping nor the engine calls
// PlausiblePair or ReceiverCell.
const MaxPlausibleRangeKm = 650.0

// ReceiverCell computes the geohash cell for a receiver's antenna position,
// usable as a coarse spatial index over receivers.
func ReceiverCell(pos geo.ECEF) string {
	llh := geo.ECEFToLLH(pos)
	cell, _ := geohash.Encode(llh.Lat, llh.Lon, geohashPrecision)
	return cell
}

// PlausiblePair reports whether two receiver positions are close enough
// that both could plausibly hear the same 1090MHz transmission, using a
// great-circle distance check.
func PlausiblePair(a, b geo.ECEF) bool {
	llhA := geo.ECEFToLLH(a)
	llhB := geo.ECEFToLLH(b)
	pa := sdkgeo.NewPoint(llhA.Lat, llhA.Lon)
	pb := sdkgeo.NewPoint(llhB.Lat, llhB.Lon)
	return pa.GreatCircleDistance(pb) <= MaxPlausibleRangeKm
}
