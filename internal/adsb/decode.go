// Package adsb defines the reference-decoder external collaborator
// interfaces the core calls, plus a reference implementation good enough to
// drive tests without a full Mode S/ADS-B decoder library. Production
// deployments are expected to provide their own Decoder backed by a real
// decoder; the core only ever sees the Decoder interface.
package adsb

import (
	"fmt"

	"github.com/openmlat/mlat-core/internal/geo"
)

// Position is a decoded transmitter position with its reported navigation
// uncertainty category, as produced by a DF17/DF18 CPR decode.
type Position struct {
	Lat, Lon, Alt float64 // alt in metres
	NUC           int
}

// ModesInfo is a lightweight decode of a Mode S reply's header fields,
// sufficient for the correlator and aircraft tracker to classify a message
// without caring about its full payload semantics.
type ModesInfo struct {
	DF       int
	ICAO24   uint32
	Altitude *int // feet, nil if not present in this reply
}

// Decoder is the external collaborator the core calls to turn a raw Mode S
// reply into a classified message and, for DF17/18 airborne-position
// replies, a decoded (icao24, lat, lon, alt, nuc).
type Decoder interface {
	DecodeADSB(msg []byte) (icao24 uint32, pos Position, ok bool)
	DecodeModes(msg []byte) (ModesInfo, error)
}

// ErrUnparsable is returned by a Decoder when a message cannot be classified
// at all (neither a usable DF17/18 nor a recognizable short/long Mode S
// reply). The engine treats this as BadMessage and drops it silently.
var ErrUnparsable = fmt.Errorf("adsb: unparsable message")

// ECEF is a convenience wrapper converting a decoded Position to ECEF,
// since every consumer of Decoder immediately needs ECEF for propagation
// delay correction.
func (p Position) ECEF() geo.ECEF {
	return geo.LLHToECEF(geo.LLH{Lat: p.Lat, Lon: p.Lon, Alt: p.Alt})
}
