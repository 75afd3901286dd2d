// Package clockgraph is an undirected weighted graph over currently-synced
// receivers, whose edges are mature clock-pair trackers. It serves
// Translate and ExpectedVariance queries via Dijkstra shortest paths,
// composing per-hop offsets and variances.
package clockgraph

import (
	"container/heap"
	"time"

	"github.com/openmlat/mlat-core/internal/mlaterr"
	"github.com/openmlat/mlat-core/internal/pairsync"
)

// PerHopBias biases shortest-path search toward fewer hops, added to each
// edge's variance weight.
const PerHopBias = 1e-18 // seconds^2, negligible next to real jitter but breaks ties

// VarianceCeiling is the maximum total path variance a translation may
// accumulate before it fails with NoSyncPath.
const VarianceCeiling = 1e-6 // seconds^2 (~1ms std dev)

// Edge is one mature clock-pair tracker, oriented for graph traversal.
type Edge struct {
	Pairing  *pairsync.Pairing
	Variance float64
}

// Graph is the undirected weighted graph over live, synced receivers.
type Graph struct {
	adjacency map[int]map[int]*Edge
}

// New constructs an empty clock graph.
func New() *Graph {
	return &Graph{adjacency: make(map[int]map[int]*Edge)}
}

// Rebuild replaces the graph's edges from the given set of pair trackers,
// keeping only those mature enough to publish and below the variance
// cutoff.
func (g *Graph) Rebuild(pairs []*pairsync.Pairing, varianceCutoff float64) {
	g.adjacency = make(map[int]map[int]*Edge)
	for _, p := range pairs {
		if !p.Publishable() {
			continue
		}
		v := p.Variance()
		if v > varianceCutoff {
			continue
		}
		g.addEdge(p.ReceiverI, p.ReceiverJ, &Edge{Pairing: p, Variance: v})
	}
}

func (g *Graph) addEdge(i, j int, e *Edge) {
	if g.adjacency[i] == nil {
		g.adjacency[i] = make(map[int]*Edge)
	}
	if g.adjacency[j] == nil {
		g.adjacency[j] = make(map[int]*Edge)
	}
	g.adjacency[i][j] = e
	g.adjacency[j][i] = e
}

// InvalidateReceiver removes every edge incident on a receiver, used on
// disconnect before the next correlator cycle.
func (g *Graph) InvalidateReceiver(id int) {
	for peer := range g.adjacency[id] {
		delete(g.adjacency[peer], id)
	}
	delete(g.adjacency, id)
}

type pathNode struct {
	receiver int
	distance float64
	offset   float64 // accumulated offset translation from the source
}

type pathHeap []pathNode

func (h pathHeap) Len() int            { return len(h) }
func (h pathHeap) Less(i, j int) bool  { return h[i].distance < h[j].distance }
func (h pathHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *pathHeap) Push(x interface{}) { *h = append(*h, x.(pathNode)) }
func (h *pathHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Translate maps a timestamp t (seconds, in the from-receiver's frame) into
// the to-receiver's frame, composing pair predictions across the shortest
// (lowest-variance) path when no direct edge exists.
func (g *Graph) Translate(t float64, from, to int) (float64, error) {
	if from == to {
		return t, nil
	}

	dist := map[int]float64{from: 0}
	offset := map[int]float64{from: 0}
	visited := map[int]bool{}

	h := &pathHeap{{receiver: from, distance: 0, offset: 0}}
	heap.Init(h)

	for h.Len() > 0 {
		cur := heap.Pop(h).(pathNode)
		if visited[cur.receiver] {
			continue
		}
		visited[cur.receiver] = true

		if cur.receiver == to {
			if cur.distance > VarianceCeiling {
				return 0, mlaterr.ErrNoSyncPath
			}
			return t + cur.offset, nil
		}

		for peer, edge := range g.adjacency[cur.receiver] {
			if visited[peer] {
				continue
			}
			w := edge.Variance + PerHopBias
			nd := cur.distance + w

			var no float64
			if edge.Pairing.ReceiverI == cur.receiver {
				no = cur.offset + edge.Pairing.Offset()
			} else {
				no = cur.offset - edge.Pairing.Offset()
			}

			if existing, ok := dist[peer]; !ok || nd < existing {
				dist[peer] = nd
				offset[peer] = no
				heap.Push(h, pathNode{receiver: peer, distance: nd, offset: no})
			}
		}
	}

	return 0, mlaterr.ErrNoSyncPath
}

// ExpectedVariance returns the total path variance for translating between
// from and to, or an error if no path exists within the variance ceiling.
func (g *Graph) ExpectedVariance(from, to int) (float64, error) {
	if from == to {
		return 0, nil
	}

	dist := map[int]float64{from: 0}
	visited := map[int]bool{}
	h := &pathHeap{{receiver: from, distance: 0}}
	heap.Init(h)

	for h.Len() > 0 {
		cur := heap.Pop(h).(pathNode)
		if visited[cur.receiver] {
			continue
		}
		visited[cur.receiver] = true
		if cur.receiver == to {
			if cur.distance > VarianceCeiling {
				return 0, mlaterr.ErrNoSyncPath
			}
			return cur.distance, nil
		}
		for peer, edge := range g.adjacency[cur.receiver] {
			if visited[peer] {
				continue
			}
			nd := cur.distance + edge.Variance + PerHopBias
			if existing, ok := dist[peer]; !ok || nd < existing {
				dist[peer] = nd
				heap.Push(h, pathNode{receiver: peer, distance: nd})
			}
		}
	}

	return 0, mlaterr.ErrNoSyncPath
}

// BestAnchor returns the receiver among candidates with the lowest sum of
// edge variances to all others — the best-connected receiver in the clock
// graph. Ties break by lowest receiver id.
func (g *Graph) BestAnchor(candidates []int) (int, bool) {
	if len(candidates) == 0 {
		return 0, false
	}

	best := candidates[0]
	bestSum := fullVarianceSum(g, best, candidates)

	for _, c := range candidates[1:] {
		sum := fullVarianceSum(g, c, candidates)
		if sum < bestSum || (sum == bestSum && c < best) {
			best = c
			bestSum = sum
		}
	}
	return best, true
}

func fullVarianceSum(g *Graph, from int, candidates []int) float64 {
	var total float64
	for _, c := range candidates {
		if c == from {
			continue
		}
		v, err := g.ExpectedVariance(from, c)
		if err != nil {
			total += VarianceCeiling * 10
			continue
		}
		total += v
	}
	return total
}

// removeEdge drops just the one edge between i and j, leaving the rest of
// either receiver's edges intact.
func (g *Graph) removeEdge(i, j int) {
	if peers, ok := g.adjacency[i]; ok {
		delete(peers, j)
	}
	if peers, ok := g.adjacency[j]; ok {
		delete(peers, i)
	}
}

// IdleExpire drops just the edges for pairings that haven't updated within
// idleTimeout, called periodically by the event loop alongside receiver
// churn. Unlike receiver disconnect, a single stale pair must not take down
// the receiver's other, still-healthy edges.
func (g *Graph) IdleExpire(now time.Time, idleTimeout time.Duration, pairs []*pairsync.Pairing) {
	for _, p := range pairs {
		if p.Expired(now, idleTimeout) {
			g.removeEdge(p.ReceiverI, p.ReceiverJ)
		}
	}
}
