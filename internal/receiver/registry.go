package receiver

import (
	"sync"
	"time"
)

// Registry owns the set of currently-connected receivers. It is the
// single piece of cross-receiver mutable state the event loop touches for
// connect/disconnect bookkeeping.
type Registry struct {
	mu        sync.Mutex
	receivers map[int]*Receiver
	nextID    int

	onDisconnect func(id int)
}

// NewRegistry constructs an empty receiver registry. onDisconnect, if
// non-nil, is invoked synchronously whenever a receiver is dropped (either
// explicitly or by CleanupStale), so the clock graph and correlator can
// invalidate edges and memberships before the next cycle.
func NewRegistry(onDisconnect func(id int)) *Registry {
	return &Registry{
		receivers:    make(map[int]*Receiver),
		onDisconnect: onDisconnect,
	}
}

// Connect registers a new receiver and returns it, assigning it a stable
// integer id; no entity owns another.
func (reg *Registry) Connect(pos func(id int) *Receiver) *Receiver {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.nextID++
	id := reg.nextID
	r := pos(id)
	reg.receivers[id] = r
	return r
}

// Get returns the receiver with the given id, or nil.
func (reg *Registry) Get(id int) *Receiver {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return reg.receivers[id]
}

// Disconnect removes a receiver immediately.
func (reg *Registry) Disconnect(id int) {
	reg.mu.Lock()
	r, ok := reg.receivers[id]
	if ok {
		r.MarkDead()
		delete(reg.receivers, id)
	}
	reg.mu.Unlock()
	if ok && reg.onDisconnect != nil {
		reg.onDisconnect(id)
	}
}

// CleanupStale drops any receiver silent for more than SilenceTimeout,
// invoking onDisconnect for each.
func (reg *Registry) CleanupStale(now time.Time) []int {
	reg.mu.Lock()
	var dead []int
	for id, r := range reg.receivers {
		if r.IsDead(now) {
			r.MarkDead()
			dead = append(dead, id)
			delete(reg.receivers, id)
		}
	}
	reg.mu.Unlock()
	for _, id := range dead {
		if reg.onDisconnect != nil {
			reg.onDisconnect(id)
		}
	}
	return dead
}

// Live returns a snapshot slice of currently-registered receivers.
func (reg *Registry) Live() []*Receiver {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	out := make([]*Receiver, 0, len(reg.receivers))
	for _, r := range reg.receivers {
		out = append(out, r)
	}
	return out
}

// Count returns the number of currently-registered receivers.
func (reg *Registry) Count() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return len(reg.receivers)
}
