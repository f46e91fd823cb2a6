package component

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/moolen/ordo/internal/handle"
	"github.com/moolen/ordo/internal/lifecycle"
)

// Scope is the store as seen by one component's factory. It only exposes the
// component's declared dependencies and remembers every handle it hands out,
// so the orchestrator can release them once the component is stopped.
type Scope struct {
	owner    ID
	declared map[ID]struct{}
	store    *Store

	mu       sync.Mutex
	acquired []*handle.Handle[lifecycle.Component]
}

// Owner returns the identifier of the component being built.
func (s *Scope) Owner() ID {
	return s.owner
}

// Acquired returns the number of handles currently held through this scope.
func (s *Scope) Acquired() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.acquired)
}

// Release drops every handle acquired through the scope.
func (s *Scope) Release() {
	s.mu.Lock()
	acquired := s.acquired
	s.acquired = nil
	s.mu.Unlock()

	for _, h := range acquired {
		h.Release()
	}
}

func (s *Scope) acquire(id ID) (*handle.Handle[lifecycle.Component], error) {
	if _, ok := s.declared[id]; !ok {
		return nil, &UndeclaredDependencyError{Owner: s.owner, ID: id}
	}
	h, ok := s.store.Lookup(id)
	if !ok {
		return nil, &NotFoundError{ID: id}
	}
	return h, nil
}

func (s *Scope) track(h *handle.Handle[lifecycle.Component]) {
	s.mu.Lock()
	s.acquired = append(s.acquired, h)
	s.mu.Unlock()
}

// Ref is a typed shared reference to a dependency.
type Ref[T any] struct {
	id    ID
	h     *handle.Handle[lifecycle.Component]
	value T
}

// NewRef wraps a plain value in a Ref that is not backed by a store. It is
// meant for building components in unit tests.
func NewRef[T any](id ID, v T) *Ref[T] {
	return &Ref[T]{id: id, value: v}
}

// ID returns the identifier of the referenced component.
func (r *Ref[T]) ID() ID {
	return r.id
}

// Get returns the referenced component.
func (r *Ref[T]) Get() T {
	return r.value
}

// Clone returns an additional reference. The caller owns it and must Release
// it no later than its own Stop hook.
func (r *Ref[T]) Clone() *Ref[T] {
	out := &Ref[T]{id: r.id, value: r.value}
	if r.h != nil {
		out.h = r.h.Clone()
	}
	return out
}

// Release drops the reference.
func (r *Ref[T]) Release() {
	if r.h != nil {
		r.h.Release()
	}
}

// Inject returns a reference to the dependency id as a T. The reference is
// released by the orchestrator after the owning component has stopped.
func Inject[T any](s *Scope, id ID) (*Ref[T], error) {
	h, err := s.acquire(id)
	if err != nil {
		return nil, err
	}

	v, ok := h.Borrow().(T)
	if !ok {
		return nil, &TypeMismatchError{
			ID:       id,
			Expected: reflect.TypeOf((*T)(nil)).Elem().String(),
			Actual:   fmt.Sprintf("%T", h.Borrow()),
		}
	}

	clone := h.Clone()
	s.track(clone)
	return &Ref[T]{id: id, h: clone, value: v}, nil
}

// MustInject is like Inject but panics on error.
func MustInject[T any](s *Scope, id ID) *Ref[T] {
	r, err := Inject[T](s, id)
	if err != nil {
		panic(err)
	}
	return r
}
