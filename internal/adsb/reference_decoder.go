package adsb

import (
	"sync"
	"time"
)

// ReferenceDecoder is a Decoder implementation good enough to drive the
// engine and its tests end to end on DF17 airborne position messages,
// without depending on a full production Mode S decoder. It buffers the
// most recent even/odd CPR frame per icao24 so a matched pair can be
// resolved into a global position.
type ReferenceDecoder struct {
	mu    sync.Mutex
	state map[uint32]*cprState
}

type cprState struct {
	hasEven, hasOdd     bool
	evenLat, evenLon    int
	oddLat, oddLon      int
	evenAt, oddAt       time.Time
}

// NewReferenceDecoder constructs an empty reference decoder.
func NewReferenceDecoder() *ReferenceDecoder {
	return &ReferenceDecoder{state: make(map[uint32]*cprState)}
}

// DecodeModes extracts DF, icao24, and (for DF17/18) barometric altitude
// from a Mode S reply, per the standard bit layout.
func (d *ReferenceDecoder) DecodeModes(msg []byte) (ModesInfo, error) {
	if len(msg) < 7 {
		return ModesInfo{}, ErrUnparsable
	}

	df := int(msg[0] >> 3)
	info := ModesInfo{DF: df}

	switch df {
	case 17, 18:
		if len(msg) < 11 {
			return ModesInfo{}, ErrUnparsable
		}
		info.ICAO24 = uint32(msg[1])<<16 | uint32(msg[2])<<8 | uint32(msg[3])
		if alt, ok := decodeAltitude(msg); ok {
			info.Altitude = &alt
		}
	case 11, 0, 4, 5, 16, 20, 21:
		info.ICAO24 = uint32(msg[1])<<16 | uint32(msg[2])<<8 | uint32(msg[3])
	default:
		return ModesInfo{}, ErrUnparsable
	}

	return info, nil
}

// DecodeADSB extracts a global position from a DF17/18 airborne-position
// message, resolving against the most recent frame of the opposite parity
// for the same icao24. Returns ok=false until a matched even/odd pair is
// available.
func (d *ReferenceDecoder) DecodeADSB(msg []byte) (icao24 uint32, pos Position, ok bool) {
	if len(msg) < 11 {
		return 0, Position{}, false
	}
	df := int(msg[0] >> 3)
	if df != 17 && df != 18 {
		return 0, Position{}, false
	}

	icao24 = uint32(msg[1])<<16 | uint32(msg[2])<<8 | uint32(msg[3])
	typeCode := int(msg[4] >> 3)
	if typeCode < 9 || typeCode > 18 {
		return icao24, Position{}, false // not an airborne-position type code
	}

	alt, hasAlt := decodeAltitude(msg)

	cprLat := (int(msg[6]&0x03) << 15) | (int(msg[7]) << 7) | (int(msg[8]) >> 1)
	cprLon := (int(msg[8]&0x01) << 16) | (int(msg[9]) << 8) | int(msg[10])
	oddFlag := msg[6]&0x04 != 0

	d.mu.Lock()
	defer d.mu.Unlock()

	st, exists := d.state[icao24]
	if !exists {
		st = &cprState{}
		d.state[icao24] = st
	}

	now := time.Now()
	if oddFlag {
		st.oddLat, st.oddLon, st.hasOdd, st.oddAt = cprLat, cprLon, true, now
	} else {
		st.evenLat, st.evenLon, st.hasEven, st.evenAt = cprLat, cprLon, true, now
	}

	if !st.hasEven || !st.hasOdd {
		return icao24, Position{}, false
	}
	if st.evenAt.Sub(st.oddAt) > 10*time.Second || st.oddAt.Sub(st.evenAt) > 10*time.Second {
		return icao24, Position{}, false // frames too far apart to be the same CPR pair
	}

	lat, lon, ok := DecodeCPR(st.evenLat, st.evenLon, st.oddLat, st.oddLon, oddFlag)
	if !ok {
		return icao24, Position{}, false
	}

	altMetres := 0.0
	if hasAlt {
		altMetres = float64(alt) * 0.3048
	}

	return icao24, Position{Lat: lat, Lon: lon, Alt: altMetres, NUC: 0}, true
}

// decodeAltitude extracts the 12-bit barometric altitude code from a DF17
// airborne-position message and converts it to feet. Only the 25-foot
// (Q=1) encoding is decoded; a Q=0 code reports ok=false.
func decodeAltitude(msg []byte) (feet int, ok bool) {
	if len(msg) < 6 {
		return 0, false
	}
	altCode := (int(msg[5]) << 4) | (int(msg[6]) >> 4)
	if altCode == 0 {
		return 0, false
	}

	qBit := altCode & 0x10
	if qBit != 0 {
		n := ((altCode & 0xfe0) >> 1) | (altCode & 0xf)
		return n*25 - 1000, true
	}

	// Gillham-coded altitude (Q=0) is rare on modern transponders and not
	// decoded here; treated as unavailable rather than guessed at.
	return 0, false
}
