// Package state implements the application state machine of §4.5: a keyed
// map with GET/PUT, undo-logged so the execution pipeline (internal/exec)
// can roll PUTs back when the speculative order changes.
//
// Adapted from src/store/redis.go, whose Redis type is a map[string]Value
// guarded by a sync.RWMutex. There is no RESP wire protocol to serve here,
// so the ValueType/Serialize/Deserialize machinery of the original is
// dropped; the map-plus-lock shape and the "singleValue carries its own
// timestamp" idea are kept.
package state

import (
	"sync"

	"github.com/epochkv/epoch/internal/oid"
)

// Value is a stored payload plus the wall-clock time of the write that
// produced it, mirroring src/store's singleValue{data, time}.
type Value struct {
	Data any
	Ts   int64
}

// Store is the deterministic, side-effect-free-beyond-its-map key/value
// state machine operated on by the execution pipeline.
type Store struct {
	mu   sync.RWMutex
	data map[string]Value

	// undo, keyed by the id of the PUT that produced the entry, records
	// the value that key held immediately before that PUT executed. An
	// entry with had=false means the key was absent.
	undo map[oid.OID]undoEntry
}

type undoEntry struct {
	key      string
	had      bool
	previous Value
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		data: make(map[string]Value),
		undo: make(map[oid.OID]undoEntry),
	}
}

// Get returns the current value for key, if any. It has no side effect.
func (s *Store) Get(key string) (Value, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	return v, ok
}

// Put writes value under key on behalf of the operation identified by id,
// recording the prior value (or absence) in the undo log so Rollback(id)
// can restore it later. Returns "OK" per §4.5/§6's application contract.
func (s *Store) Put(id oid.OID, key string, value any, ts int64) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, had := s.data[key]
	s.undo[id] = undoEntry{key: key, had: had, previous: prev}
	s.data[key] = Value{Data: value, Ts: ts}
	return "OK"
}

// Rollback undoes the PUT identified by id, restoring the key's prior value
// (or removing the key if it did not exist before the PUT). Rolling back an
// id with no recorded undo entry (e.g. a GET) is a no-op.
func (s *Store) Rollback(id oid.OID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.undo[id]
	if !ok {
		return
	}
	if entry.had {
		s.data[entry.key] = entry.previous
	} else {
		delete(s.data, entry.key)
	}
	delete(s.undo, id)
}

// Snapshot returns a shallow copy of the current key/value contents, for
// status reporting and tests. It is not used on any hot path.
func (s *Store) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.data))
	for k, v := range s.data {
		out[k] = v.Data
	}
	return out
}
