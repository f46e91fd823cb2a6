package resolver

import (
	"fmt"
	"strings"

	"github.com/moolen/ordo/internal/component"
)

// CycleError means the graph reachable from the entrypoints has a cycle.
// Path starts and ends with the same component.
type CycleError struct {
	Path []component.ID
}

func (e *CycleError) Error() string {
	if len(e.Path) == 0 {
		return "component dependency cycle detected"
	}
	parts := make([]string, len(e.Path))
	for i, id := range e.Path {
		parts[i] = string(id)
	}
	return "component dependency cycle detected: " + strings.Join(parts, " -> ")
}

// MissingDependencyError means From depends on a component that is not in the
// catalog.
type MissingDependencyError struct {
	From component.ID
	To   component.ID
}

func (e *MissingDependencyError) Error() string {
	return fmt.Sprintf("component dependency not found: %s -> %s", e.From, e.To)
}

// UnknownEntrypointError means an explicit entrypoint is not in the catalog.
type UnknownEntrypointError struct {
	ID component.ID
}

func (e *UnknownEntrypointError) Error() string {
	return fmt.Sprintf("entrypoint %q is not in the catalog", e.ID)
}
