// Package status serves the read-only dashboard snapshots (sync.json and
// coverage.json) and pushes live updates over a websocket (golang.org/x/net/
// websocket, a mutex-guarded socket list, and a single writer goroutine
// draining a channel).
package status

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"golang.org/x/net/websocket"

	"github.com/openmlat/mlat-core/internal/clockgraph"
	"github.com/openmlat/mlat-core/internal/geo"
	"github.com/openmlat/mlat-core/internal/pairsync"
	"github.com/openmlat/mlat-core/internal/refdb"
)

// PeerSync is one entry in a sync.json receiver's peers map:
// {peer_id: [n_observations, sigma_jit_ns, rate_ppm]}.
type PeerSync struct {
	Observations int
	JitterNs     float64
	RatePPM      float64
}

// MarshalJSON encodes the entry as [n_observations, sigma_jit_ns, rate_ppm].
func (p PeerSync) MarshalJSON() ([]byte, error) {
	return json.Marshal([3]float64{float64(p.Observations), p.JitterNs, p.RatePPM})
}

// SyncSnapshot is the full sync.json document: receiver id -> peer id ->
// PeerSync.
type SyncSnapshot map[int]map[int]PeerSync

// BuildSyncSnapshot renders the current pair trackers into the sync.json
// shape.
func BuildSyncSnapshot(pairs []*pairsync.Pairing) SyncSnapshot {
	snap := make(SyncSnapshot)
	add := func(from, to int, p *pairsync.Pairing, rateSign float64) {
		if snap[from] == nil {
			snap[from] = make(map[int]PeerSync)
		}
		snap[from][to] = PeerSync{
			Observations: p.ObservationCount(),
			JitterNs:     p.Jitter() * 1e9,
			RatePPM:      rateSign * p.Rate() * 1e6,
		}
	}
	for _, p := range pairs {
		add(p.ReceiverI, p.ReceiverJ, p, 1)
		add(p.ReceiverJ, p.ReceiverI, p, -1)
	}
	return snap
}

// ReceiverCoverage is one receiver's bounding box for coverage.json (spec
// §6: "per-receiver bounding boxes and image overlays").
type ReceiverCoverage struct {
	ReceiverID int     `json:"receiver_id"`
	MinLat     float64 `json:"min_lat"`
	MaxLat     float64 `json:"max_lat"`
	MinLon     float64 `json:"min_lon"`
	MaxLon     float64 `json:"max_lon"`
	ImagePath  string  `json:"image_path,omitempty"`
}

// CoverageSnapshot is the full coverage.json document.
type CoverageSnapshot struct {
	Receivers []ReceiverCoverage `json:"receivers"`
}

// Server serves the status JSON snapshots and pushes live updates over a
// websocket broadcast channel.
type Server struct {
	mu       sync.Mutex
	sync     SyncSnapshot
	coverage CoverageSnapshot

	broadcaster *broadcaster
	graph       *clockgraph.Graph
	refdb       *refdb.DB
}

// NewServer constructs a status server bound to the engine's clock graph
// (used only for snapshot rendering, never mutated here).
func NewServer(graph *clockgraph.Graph) *Server {
	return &Server{
		broadcaster: newBroadcaster(),
		graph:       graph,
	}
}

// SetRefDB attaches a reference-position database so the dashboard can
// cross-check fixes against known-good positions at /reference.json.
func (s *Server) SetRefDB(db *refdb.DB) {
	s.refdb = db
}

func (s *Server) handleReferenceJSON(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if s.refdb == nil {
		json.NewEncoder(w).Encode(map[string]geo.LLH{})
		return
	}
	positions, err := s.refdb.All()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	json.NewEncoder(w).Encode(positions)
}

// Update replaces the server's current snapshots, called by the event loop
// once per maintenance tick, and pushes the new sync snapshot to any
// connected websocket clients.
func (s *Server) Update(sync SyncSnapshot, coverage CoverageSnapshot) {
	s.mu.Lock()
	s.sync = sync
	s.coverage = coverage
	s.mu.Unlock()

	if msg, err := json.Marshal(sync); err == nil {
		s.broadcaster.Send(msg)
	}
}

func (s *Server) handleSyncJSON(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	snap := s.sync
	s.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(snap)
}

func (s *Server) handleCoverageJSON(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	cov := s.coverage
	s.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(cov)
}

// Handler returns an http.Handler serving /sync.json, /coverage.json, and
// a /live websocket push endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/sync.json", s.handleSyncJSON)
	mux.HandleFunc("/coverage.json", s.handleCoverageJSON)
	mux.HandleFunc("/reference.json", s.handleReferenceJSON)
	mux.Handle("/live", websocket.Handler(func(conn *websocket.Conn) {
		s.broadcaster.AddSocket(conn)
		// Block on reads (the client never sends anything) purely to detect
		// disconnects; the broadcaster's writer goroutine owns outbound
		// traffic on this socket.
		var discard [1]byte
		for {
			if _, err := conn.Read(discard[:]); err != nil {
				break
			}
		}
		s.broadcaster.removeSocket(conn)
	}))
	return mux
}

// broadcaster fans out messages to every connected websocket client,
// dropping clients that fail to accept a write within a second.
type broadcaster struct {
	mu       sync.Mutex
	sockets  []*websocket.Conn
	messages chan []byte
}

func newBroadcaster() *broadcaster {
	b := &broadcaster{messages: make(chan []byte, 64)}
	go b.writer()
	return b
}

func (b *broadcaster) Send(msg []byte) {
	select {
	case b.messages <- msg:
	default: // drop if the writer is backed up; status is a snapshot, not a log
	}
}

func (b *broadcaster) AddSocket(conn *websocket.Conn) {
	b.mu.Lock()
	b.sockets = append(b.sockets, conn)
	b.mu.Unlock()
}

func (b *broadcaster) removeSocket(conn *websocket.Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, sock := range b.sockets {
		if sock == conn {
			b.sockets = append(b.sockets[:i], b.sockets[i+1:]...)
			return
		}
	}
}

func (b *broadcaster) writer() {
	for msg := range b.messages {
		live := b.sockets[:0:0]
		b.mu.Lock()
		for _, sock := range b.sockets {
			sock.SetWriteDeadline(time.Now().Add(time.Second))
			if _, err := sock.Write(msg); err == nil {
				live = append(live, sock)
			}
		}
		b.sockets = live
		b.mu.Unlock()
	}
}

// BoundingBoxFromCentroid derives a coarse bounding box for a receiver,
// sized so the coverage overlay shows a plausible reception radius without
// needing per-receiver signal modeling.
func BoundingBoxFromCentroid(pos geo.ECEF, radiusMetres float64) ReceiverCoverage {
	llh := geo.ECEFToLLH(pos)
	const metresPerDegLat = 111320.0
	dLat := radiusMetres / metresPerDegLat
	dLon := dLat // close enough for a coverage overlay, not a precise geodesic

	return ReceiverCoverage{
		MinLat: llh.Lat - dLat,
		MaxLat: llh.Lat + dLat,
		MinLon: llh.Lon - dLon,
		MaxLon: llh.Lon + dLon,
	}
}
