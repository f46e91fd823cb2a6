package component

import (
	"sort"
	"sync"

	"github.com/moolen/ordo/internal/handle"
	"github.com/moolen/ordo/internal/lifecycle"
)

// Store holds one shared handle per live component.
//
// The orchestrator is the only writer and mutates the store sequentially.
// Reads are safe from any goroutine.
type Store struct {
	mu      sync.RWMutex
	handles map[ID]*handle.Handle[lifecycle.Component]
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{handles: make(map[ID]*handle.Handle[lifecycle.Component])}
}

// Insert stores h under id. It fails if id is already present.
func (s *Store) Insert(id ID, h *handle.Handle[lifecycle.Component]) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.handles[id]; exists {
		return &DuplicateComponentError{ID: id}
	}
	s.handles[id] = h
	return nil
}

// Lookup returns the handle stored under id without cloning it.
func (s *Store) Lookup(id ID) (*handle.Handle[lifecycle.Component], bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.handles[id]
	return h, ok
}

// Remove deletes id from the store and hands its handle to the caller.
func (s *Store) Remove(id ID) (*handle.Handle[lifecycle.Component], bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.handles[id]
	if ok {
		delete(s.handles, id)
	}
	return h, ok
}

// Len returns the number of stored components.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.handles)
}

// IDs returns the stored identifiers, sorted.
func (s *Store) IDs() []ID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]ID, 0, len(s.handles))
	for id := range s.handles {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Scope returns the view of the store used by the factory of owner.
func (s *Store) Scope(owner ID, dependsOn []ID) *Scope {
	declared := make(map[ID]struct{}, len(dependsOn))
	for _, dep := range dependsOn {
		declared[dep] = struct{}{}
	}
	return &Scope{owner: owner, declared: declared, store: s}
}

// Get borrows the component stored under id as a T. It returns false if id is
// absent or holds a different type.
func Get[T any](s *Store, id ID) (T, bool) {
	var zero T
	h, ok := s.Lookup(id)
	if !ok {
		return zero, false
	}
	v, ok := h.Borrow().(T)
	if !ok {
		return zero, false
	}
	return v, true
}
