// Package resolver computes the build order of a component catalog.
//
// Resolve walks the dependency graph depth-first from a set of entrypoints
// with an explicit stack, emitting every dependency before its dependents and
// reporting cycles and missing dependencies. Only components reachable from
// the entrypoints appear in the result. When no entrypoints are given, every
// component that nothing else depends on is an entrypoint.
//
// The walk visits dependencies in declaration order, so resolving the same
// catalog twice yields the same order. Its reverse is the stop order.
package resolver

import (
	"github.com/moolen/ordo/internal/component"
)

// Graph is the read-only view of a catalog the resolver needs.
// *component.Catalog implements it.
type Graph interface {
	// IDs returns every node in a stable order.
	IDs() []component.ID
	// Dependencies returns the direct dependencies of id in declaration order,
	// and false if id is not part of the graph.
	Dependencies(id component.ID) ([]component.ID, bool)
}

// DetectEntrypoints returns the IDs, in graph order, that no other node
// depends on.
func DetectEntrypoints(g Graph) []component.ID {
	ids := g.IDs()

	referenced := make(map[component.ID]struct{})
	for _, id := range ids {
		deps, _ := g.Dependencies(id)
		for _, dep := range deps {
			referenced[dep] = struct{}{}
		}
	}

	roots := make([]component.ID, 0, len(ids))
	for _, id := range ids {
		if _, ok := referenced[id]; !ok {
			roots = append(roots, id)
		}
	}
	return roots
}

// Resolve returns the build order of everything reachable from entrypoints.
// With no entrypoints, DetectEntrypoints is used.
func Resolve(g Graph, entrypoints []component.ID) ([]component.ID, error) {
	detected := len(entrypoints) == 0
	if detected {
		entrypoints = DetectEntrypoints(g)
	}

	for _, e := range entrypoints {
		if _, ok := g.Dependencies(e); !ok {
			return nil, &UnknownEntrypointError{ID: e}
		}
	}

	w := &walk{
		g:          g,
		deps:       make(map[component.ID][]component.ID),
		cursor:     make(map[component.ID]int),
		inProgress: make(map[component.ID]int),
		finalized:  make(map[component.ID]struct{}),
	}
	for _, e := range entrypoints {
		if err := w.from(e); err != nil {
			return nil, err
		}
	}

	// A node unreachable from the detected roots always has a dependent, so
	// walking back from it ends in a cycle. Report that cycle rather than
	// silently starting nothing.
	if detected && len(w.result) < len(g.IDs()) {
		if err := Validate(g); err != nil {
			return nil, err
		}
	}
	return w.result, nil
}

// Validate resolves the whole catalog, surfacing every cycle or missing
// dependency regardless of reachability.
func Validate(g Graph) error {
	_, err := Resolve(g, g.IDs())
	return err
}

type walk struct {
	g          Graph
	deps       map[component.ID][]component.ID
	cursor     map[component.ID]int // next dependency index to examine
	inProgress map[component.ID]int // position on the stack
	finalized  map[component.ID]struct{}
	stack      []component.ID
	result     []component.ID
}

func (w *walk) from(root component.ID) error {
	if _, done := w.finalized[root]; done {
		return nil
	}
	w.push(root)

	for len(w.stack) > 0 {
		top := w.stack[len(w.stack)-1]
		next, err := w.nextPending(top)
		if err != nil {
			return err
		}

		if next == "" {
			w.stack = w.stack[:len(w.stack)-1]
			delete(w.inProgress, top)
			w.finalized[top] = struct{}{}
			w.result = append(w.result, top)
			continue
		}

		if pos, active := w.inProgress[next]; active {
			path := make([]component.ID, 0, len(w.stack)-pos+1)
			path = append(path, w.stack[pos:]...)
			path = append(path, next)
			return &CycleError{Path: path}
		}
		w.push(next)
	}
	return nil
}

// nextPending returns the first dependency of id that is not finalized yet,
// or "" when all are.
func (w *walk) nextPending(id component.ID) (component.ID, error) {
	deps, ok := w.deps[id]
	if !ok {
		deps, _ = w.g.Dependencies(id)
		w.deps[id] = deps
	}

	for i := w.cursor[id]; i < len(deps); i++ {
		dep := deps[i]
		if _, done := w.finalized[dep]; done {
			continue
		}
		if _, known := w.g.Dependencies(dep); !known {
			return "", &MissingDependencyError{From: id, To: dep}
		}
		w.cursor[id] = i
		return dep, nil
	}
	w.cursor[id] = len(deps)
	return "", nil
}

func (w *walk) push(id component.ID) {
	w.inProgress[id] = len(w.stack)
	w.stack = append(w.stack, id)
}
