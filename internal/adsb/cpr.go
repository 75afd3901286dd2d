package adsb

import "math"

// CPR decoding, grounded on the standard ADS-B compact position reporting
// algorithm. Kept here as a reference Decoder implementation usable in tests
// and as a fallback when no production decoder is wired in.

func cprMod(a, b int) int {
	r := a % b
	if r < 0 {
		r += b
	}
	return r
}

func cprNL(lat float64) int {
	if lat < 0 {
		lat = -lat
	}
	cosLat := math.Cos(lat * math.Pi / 180)
	x := 1 - (1-math.Cos(math.Pi/30))/(cosLat*cosLat)
	if x <= -1 {
		return 1
	}
	nl := int(math.Floor(2 * math.Pi / math.Acos(x)))
	if nl > 59 {
		nl = 59
	}
	return nl
}

func cprN(lat float64, odd bool) int {
	nl := cprNL(lat)
	if odd {
		nl--
	}
	if nl < 1 {
		nl = 1
	}
	return nl
}

func cprDlon(lat float64, odd bool) float64 {
	return 360.0 / float64(cprN(lat, odd))
}

// DecodeCPR decodes a matched even/odd DF17 airborne-position pair into a
// global lat/lon. useOdd selects which of the two frames' reception time is
// more recent, matching the standard "most recent frame picks the reference
// cell" rule.
func DecodeCPR(evenLat, evenLon, oddLat, oddLon int, useOdd bool) (lat, lon float64, ok bool) {
	const airDlat0 = 360.0 / 60.0
	const airDlat1 = 360.0 / 59.0

	rlat0 := float64(evenLat) / 131072.0
	rlat1 := float64(oddLat) / 131072.0
	rlon0 := float64(evenLon) / 131072.0
	rlon1 := float64(oddLon) / 131072.0

	j := int(math.Floor((59*rlat0 - 60*rlat1) + 0.5))

	lat0 := airDlat0 * (float64(cprMod(j, 60)) + rlat0)
	lat1 := airDlat1 * (float64(cprMod(j, 59)) + rlat1)

	if lat0 >= 270 {
		lat0 -= 360
	}
	if lat1 >= 270 {
		lat1 -= 360
	}

	if cprNL(lat0) != cprNL(lat1) {
		return 0, 0, false
	}

	lat = lat0
	if useOdd {
		lat = lat1
	}
	if lat < -90 || lat > 90 {
		return 0, 0, false
	}

	m := int(math.Floor(rlon0*float64(cprNL(lat)-1) - rlon1*float64(cprNL(lat)) + 0.5))

	var dlon, rlon float64
	if useOdd {
		dlon = cprDlon(lat, true)
		rlon = rlon1
	} else {
		dlon = cprDlon(lat, false)
		rlon = rlon0
	}

	lon = dlon * (float64(cprMod(m, int(360.0/dlon))) + rlon)
	if lon > 180 {
		lon -= 360
	}

	return lat, lon, true
}
