// Package snapshot persists pair-tracker warm-start state to memcache, so
// pairs don't have to re-bootstrap from scratch after a restart. A
// memcache instance also lets the state be shared across a fleet of
// otherwise-stateless engine processes.
package snapshot

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
)

// Expiration is how long a persisted pair snapshot remains valid before
// memcache evicts it, past which a restarting engine re-bootstraps that
// pair instead of trusting stale state.
const Expiration = int32(10 * 60) // seconds

// PairState is the minimal state needed to warm-start a clock-pair tracker
// without replaying its observation history.
type PairState struct {
	ReceiverI, ReceiverJ int
	Offset, Rate         float64
	P00, P01, P11        float64
	ObservationCount     int
	SavedAt              time.Time
}

// Store wraps a memcache client for pair-state warm starts.
type Store struct {
	client *memcache.Client
}

// New constructs a Store against the given memcache servers (host:port).
func New(servers ...string) *Store {
	return &Store{client: memcache.New(servers...)}
}

func pairKey(i, j int) string {
	if i > j {
		i, j = j, i
	}
	return fmt.Sprintf("mlat:pair:%d:%d", i, j)
}

// Save persists a pair's current state, overwriting any prior snapshot.
func (s *Store) Save(state PairState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return s.client.Set(&memcache.Item{
		Key:        pairKey(state.ReceiverI, state.ReceiverJ),
		Value:      data,
		Expiration: Expiration,
	})
}

// Load retrieves a pair's last snapshot, if any. Returns ok=false (not an
// error) on a cache miss, since that's the expected case for a pair that
// has never been seen before.
func (s *Store) Load(i, j int) (state PairState, ok bool) {
	item, err := s.client.Get(pairKey(i, j))
	if err != nil {
		return PairState{}, false
	}
	if err := json.Unmarshal(item.Value, &state); err != nil {
		return PairState{}, false
	}
	return state, true
}

// Delete removes a pair's snapshot. The engine does not call it; a pair that
// resets to bootstrap keeps its last saved snapshot until it expires.
func (s *Store) Delete(i, j int) {
	_ = s.client.Delete(pairKey(i, j))
}
