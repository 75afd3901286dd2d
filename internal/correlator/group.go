// Package correlator buffers DF17 sightings of the same transmission by
// icao24 within a short window, matches them by payload, and closes
// groups once the close delay elapses; a closed group with enough distinct
// receivers becomes a candidate fix.
package correlator

import (
	"time"

	"github.com/openmlat/mlat-core/internal/adsb"
)

// Window is the correlation window within which sightings of the same
// transmission are grouped.
const Window = 2 * time.Millisecond

// CloseDelay is how long a group waits for additional receivers before it is
// closed and handed to the solver.
const CloseDelay = 500 * time.Millisecond

// MinReceivers is the minimum number of distinct receivers a group needs to
// be handed to the solver.
const MinReceivers = 3

// MaxHammingDistance is the bit-mismatch allowance used when matching two
// payloads as copies of the same transmission: payload bit-exact matching,
// with a small Hamming-distance allowance for short frames.
const MaxHammingDistance = 1

// Sighting is one receiver's reception of a single DF17 frame.
type Sighting struct {
	ReceiverID int
	Tick       uint64
	Payload    []byte
	ICAO24     uint32
	Position   adsb.Position // decoded from this sighting, only set on position frames
	HasPos     bool
	RSSI       float64
	At         time.Time
}

// Group is an in-progress cluster of sightings believed to be the same
// over-the-air transmission, keyed by the anchor (first-seen) receiver's
// arrival time.
type Group struct {
	ICAO24    uint32
	Payload   []byte
	Anchor    time.Time // anchor receiver's local wall-clock arrival estimate
	Sightings []Sighting
	opened    time.Time
}

func newGroup(s Sighting) *Group {
	return &Group{
		ICAO24:    s.ICAO24,
		Payload:   s.Payload,
		Anchor:    s.At,
		Sightings: []Sighting{s},
		opened:    s.At,
	}
}

// matches reports whether a sighting belongs to this group: same icao24,
// payload within the Hamming allowance, and arrival within the correlation
// window of the group's anchor sighting.
func (g *Group) matches(s Sighting) bool {
	if s.ICAO24 != g.ICAO24 {
		return false
	}
	if s.At.Sub(g.Anchor) > Window || g.Anchor.Sub(s.At) > Window {
		return false
	}
	allowed := 0
	if len(g.Payload) <= 7 && len(s.Payload) <= 7 {
		allowed = MaxHammingDistance // short frames only; long frames must match exactly
	}
	return hammingDistance(g.Payload, s.Payload) <= allowed
}

// receiverCount returns the number of distinct receivers that contributed a
// sighting to this group.
func (g *Group) receiverCount() int {
	seen := make(map[int]bool, len(g.Sightings))
	for _, s := range g.Sightings {
		seen[s.ReceiverID] = true
	}
	return len(seen)
}

// readyToClose reports whether the group has waited CloseDelay past its
// first sighting and should be closed.
func (g *Group) readyToClose(now time.Time) bool {
	return now.Sub(g.opened) >= CloseDelay
}

func hammingDistance(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	dist := 0
	for i := 0; i < n; i++ {
		x := a[i] ^ b[i]
		for x != 0 {
			dist += int(x & 1)
			x >>= 1
		}
	}
	dist += 8 * abs(len(a)-len(b))
	return dist
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
