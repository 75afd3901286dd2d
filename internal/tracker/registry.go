package tracker

import (
	"time"

	"github.com/openmlat/mlat-core/internal/geo"
)

// Registry owns one Track per icao24 currently being followed, mirroring
// the receiver registry's arena-of-entities pattern: aircraft referenced
// by stable id, not owned by any single caller.
type Registry struct {
	tracks map[uint32]*Track
}

// NewRegistry constructs an empty aircraft track registry.
func NewRegistry() *Registry {
	return &Registry{tracks: make(map[uint32]*Track)}
}

// Observe incorporates a new fix for the given icao24, creating a track if
// none exists yet. Returns false if an existing track rejected the fix as
// implausible (the fix should still be published, just not folded into the
// track).
func (r *Registry) Observe(icao24 uint32, pos geo.ECEF, posVariance float64, at time.Time) bool {
	t, ok := r.tracks[icao24]
	if !ok {
		r.tracks[icao24] = New(icao24, pos, posVariance, at)
		return true
	}
	return t.Update(pos, posVariance, at)
}

// Seed returns a predicted position for icao24 if a track exists and was
// updated within the last 10 seconds, or false otherwise.
func (r *Registry) Seed(icao24 uint32, now time.Time) (geo.ECEF, bool) {
	t, ok := r.tracks[icao24]
	if !ok {
		return geo.ECEF{}, false
	}
	if now.Sub(t.lastUpdate) > 10*time.Second {
		return geo.ECEF{}, false
	}
	return t.Predict(now), true
}

// CleanupStale drops tracks that have gone silent past Timeout.
func (r *Registry) CleanupStale(now time.Time) []uint32 {
	var dropped []uint32
	for icao, t := range r.tracks {
		if t.Expired(now) {
			dropped = append(dropped, icao)
			delete(r.tracks, icao)
		}
	}
	return dropped
}

// Get returns the track for icao24, if any.
func (r *Registry) Get(icao24 uint32) (*Track, bool) {
	t, ok := r.tracks[icao24]
	return t, ok
}

// Count returns the number of tracks currently held.
func (r *Registry) Count() int {
	return len(r.tracks)
}
