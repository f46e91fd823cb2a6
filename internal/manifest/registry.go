package manifest

import (
	"fmt"
	"sort"
	"sync"

	"github.com/hashicorp/go-version"

	"github.com/moolen/ordo/internal/component"
)

// Kind is a type of component a manifest entry can name.
type Kind struct {
	// Name is what entries put in their kind field
	Name string

	// Version is the semantic version of the implementation, checked
	// against an entry's version constraint
	Version string

	// Description is shown by the CLI
	Description string

	// New validates the entry and returns the factory that builds it
	New func(spec Spec) (component.Factory, error)
}

// Registry stores component kinds by name.
//
// Usage pattern:
//
//	reg := manifest.NewRegistry()
//	builtin.Register(reg)
//	catalog, err := file.Catalog(reg)
type Registry struct {
	kinds map[string]Kind
	mu    sync.RWMutex
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		kinds: make(map[string]Kind),
	}
}

// Register adds a kind.
// Returns error if:
//   - the name is empty
//   - New is nil
//   - Version is not a valid semantic version
//   - the name is already registered
func (r *Registry) Register(k Kind) error {
	if k.Name == "" {
		return fmt.Errorf("kind name cannot be empty")
	}
	if k.New == nil {
		return fmt.Errorf("kind %q has no constructor", k.Name)
	}
	if _, err := version.NewVersion(k.Version); err != nil {
		return fmt.Errorf("kind %q has invalid version %q: %w", k.Name, k.Version, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.kinds[k.Name]; exists {
		return fmt.Errorf("kind %q is already registered", k.Name)
	}
	r.kinds[k.Name] = k
	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(k Kind) {
	if err := r.Register(k); err != nil {
		panic(err)
	}
}

// Get retrieves a kind by name.
func (r *Registry) Get(name string) (Kind, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	k, exists := r.kinds[name]
	return k, exists
}

// List returns the registered kind names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.kinds))
	for name := range r.kinds {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
