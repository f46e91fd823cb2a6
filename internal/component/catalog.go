// Package component holds the catalog of component descriptors, the store of
// live components, and the scoped view of that store a factory uses to reach
// its dependencies.
package component

import (
	"fmt"

	"github.com/moolen/ordo/internal/lifecycle"
)

// ID identifies a component within one catalog.
type ID string

func (id ID) String() string {
	return string(id)
}

// Factory builds a component instance. The scope gives access to the
// component's declared dependencies, which are already built and started.
type Factory func(s *Scope) (lifecycle.Component, error)

// Descriptor declares one component: its identifier, the identifiers it
// depends on, and how to build it.
type Descriptor struct {
	ID        ID
	DependsOn []ID
	Factory   Factory
}

// Catalog is the set of component descriptors known to one system.
// It keeps registration order so that entrypoint detection and resolution
// are deterministic.
type Catalog struct {
	order []ID
	descs map[ID]Descriptor
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{descs: make(map[ID]Descriptor)}
}

// Register adds a descriptor to the catalog.
// Returns error if:
//   - the ID is empty
//   - the factory is nil
//   - the descriptor depends on itself
//   - the ID is already registered
//
// Duplicate dependency entries are collapsed, keeping the first occurrence.
func (c *Catalog) Register(d Descriptor) error {
	if d.ID == "" {
		return fmt.Errorf("component id cannot be empty")
	}
	if d.Factory == nil {
		return fmt.Errorf("component %q has no factory", d.ID)
	}
	if _, exists := c.descs[d.ID]; exists {
		return &DuplicateComponentError{ID: d.ID}
	}

	seen := make(map[ID]struct{}, len(d.DependsOn))
	deps := make([]ID, 0, len(d.DependsOn))
	for _, dep := range d.DependsOn {
		if dep == d.ID {
			return &SelfDependencyError{ID: d.ID}
		}
		if dep == "" {
			return fmt.Errorf("component %q declares an empty dependency id", d.ID)
		}
		if _, dup := seen[dep]; dup {
			continue
		}
		seen[dep] = struct{}{}
		deps = append(deps, dep)
	}
	d.DependsOn = deps

	c.descs[d.ID] = d
	c.order = append(c.order, d.ID)
	return nil
}

// MustRegister registers d and panics on error; intended for bootstrap code.
func (c *Catalog) MustRegister(d Descriptor) {
	if err := c.Register(d); err != nil {
		panic(err)
	}
}

// Get returns the descriptor registered under id.
func (c *Catalog) Get(id ID) (Descriptor, bool) {
	d, ok := c.descs[id]
	return d, ok
}

// IDs returns all registered identifiers in registration order.
func (c *Catalog) IDs() []ID {
	ids := make([]ID, len(c.order))
	copy(ids, c.order)
	return ids
}

// Dependencies returns the declared dependencies of id in declaration order.
// The second result is false if id is not in the catalog.
func (c *Catalog) Dependencies(id ID) ([]ID, bool) {
	d, ok := c.descs[id]
	if !ok {
		return nil, false
	}
	deps := make([]ID, len(d.DependsOn))
	copy(deps, d.DependsOn)
	return deps, true
}

// Len returns the number of registered descriptors.
func (c *Catalog) Len() int {
	return len(c.order)
}

// Clone returns an independent copy of the catalog.
func (c *Catalog) Clone() *Catalog {
	out := &Catalog{
		order: make([]ID, len(c.order)),
		descs: make(map[ID]Descriptor, len(c.descs)),
	}
	copy(out.order, c.order)
	for id, d := range c.descs {
		deps := make([]ID, len(d.DependsOn))
		copy(deps, d.DependsOn)
		d.DependsOn = deps
		out.descs[id] = d
	}
	return out
}

// Merge combines catalogs into a new one, in argument order. An ID registered
// in more than one catalog is an error.
func Merge(catalogs ...*Catalog) (*Catalog, error) {
	out := NewCatalog()
	for _, c := range catalogs {
		if c == nil {
			continue
		}
		for _, id := range c.order {
			if err := out.Register(c.descs[id]); err != nil {
				return nil, fmt.Errorf("merge catalogs: %w", err)
			}
		}
	}
	return out, nil
}
