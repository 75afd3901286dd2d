package correlator

import (
	"sort"
	"time"

	"github.com/openmlat/mlat-core/internal/clockgraph"
)

// Candidate is a closed, solver-ready group: at least MinReceivers distinct
// receivers heard the same transmission, with an anchor receiver chosen for
// t0-elimination.
type Candidate struct {
	ICAO24    uint32
	AnchorID  int
	Sightings []Sighting
	ClosedAt  time.Time
}

// Correlator buffers in-progress groups per icao24 and closes them into
// solver candidates. It is not safe for concurrent use; the event loop
// owns it exclusively.
type Correlator struct {
	graph  *clockgraph.Graph
	groups map[uint32][]*Group
}

// New constructs a correlator bound to the engine's clock graph, used for
// anchor-receiver selection: the receiver currently best-connected in the
// clock graph.
func New(graph *clockgraph.Graph) *Correlator {
	return &Correlator{
		graph:  graph,
		groups: make(map[uint32][]*Group),
	}
}

// Ingest feeds one sighting into the correlator, opening a new group if it
// matches none of the icao24's in-progress groups. A sighting belongs to
// at most one group.
func (c *Correlator) Ingest(s Sighting) {
	for _, g := range c.groups[s.ICAO24] {
		if g.matches(s) {
			g.Sightings = append(g.Sightings, s)
			return
		}
	}
	c.groups[s.ICAO24] = append(c.groups[s.ICAO24], newGroup(s))
}

// DropReceiver removes a disconnected receiver's sightings from every
// in-progress group and drops groups left with no sightings. Remaining
// groups are not closed here: they close at the close delay in Tick, which
// then applies MinReceivers to the pruned membership. The returned slice is
// always empty.
func (c *Correlator) DropReceiver(id int) []*Candidate {
	var closed []*Candidate

	for icao, groups := range c.groups {
		var remaining []*Group
		for _, g := range groups {
			filtered := g.Sightings[:0:0]
			for _, s := range g.Sightings {
				if s.ReceiverID != id {
					filtered = append(filtered, s)
				}
			}
			g.Sightings = filtered

			if len(g.Sightings) == 0 {
				continue // group evaporates, drop silently
			}
			if g.receiverCount() < MinReceivers {
				remaining = append(remaining, g)
				continue
			}
			remaining = append(remaining, g)
		}
		if len(remaining) == 0 {
			delete(c.groups, icao)
		} else {
			c.groups[icao] = remaining
		}
	}

	// A disconnect doesn't by itself force a close; it only prunes
	// membership so a later Tick() close decision sees accurate counts.
	return closed
}

// Tick closes every in-progress group that has aged past CloseDelay,
// returning solver candidates for groups that met MinReceivers and
// discarding (without emitting) groups that never reached quorum: a lone
// noisy copy never reaches MinReceivers and is silently dropped, not
// forwarded to the solver.
func (c *Correlator) Tick(now time.Time) []*Candidate {
	var candidates []*Candidate

	for icao, groups := range c.groups {
		var remaining []*Group
		for _, g := range groups {
			if !g.readyToClose(now) {
				remaining = append(remaining, g)
				continue
			}
			if g.receiverCount() >= MinReceivers {
				candidates = append(candidates, c.close(icao, g, now))
			}
			// else: quorum never reached, drop.
		}
		if len(remaining) == 0 {
			delete(c.groups, icao)
		} else {
			c.groups[icao] = remaining
		}
	}

	return candidates
}

func (c *Correlator) close(icao uint32, g *Group, now time.Time) *Candidate {
	receiverIDs := make([]int, 0, len(g.Sightings))
	seen := make(map[int]bool)
	for _, s := range g.Sightings {
		if !seen[s.ReceiverID] {
			seen[s.ReceiverID] = true
			receiverIDs = append(receiverIDs, s.ReceiverID)
		}
	}
	sort.Ints(receiverIDs)

	anchor, ok := c.graph.BestAnchor(receiverIDs)
	if !ok {
		anchor = receiverIDs[0]
	}

	return &Candidate{
		ICAO24:    icao,
		AnchorID:  anchor,
		Sightings: g.Sightings,
		ClosedAt:  now,
	}
}

// PendingGroups returns the number of in-progress groups across all icao24s,
// used for backpressure admission decisions.
func (c *Correlator) PendingGroups() int {
	n := 0
	for _, groups := range c.groups {
		n += len(groups)
	}
	return n
}
