package lifecycle

import (
	"context"
	"fmt"
)

// Component is the lifecycle contract the orchestrator requires from every
// managed component beyond its construction.
type Component interface {
	// Start brings the component up. When Start returns, the component must be
	// ready to serve dependents that are built after it. Background work may
	// keep running after Start returns.
	Start(ctx context.Context) error

	// Stop releases held external resources (sockets, connections, background
	// tasks). It must wait until self-spawned background work acknowledges
	// termination before returning.
	Stop(ctx context.Context) error
}

// Namer is implemented by components that want a human-readable name in logs.
type Namer interface {
	Name() string
}

// Nop provides no-op Start and Stop hooks. Embed it in components that only
// need one of the two, or neither.
type Nop struct{}

// Start does nothing.
func (Nop) Start(context.Context) error { return nil }

// Stop does nothing.
func (Nop) Stop(context.Context) error { return nil }

// NameOf returns the component's own name if it has one, otherwise fallback.
func NameOf(c Component, fallback string) string {
	if n, ok := c.(Namer); ok {
		if name := n.Name(); name != "" {
			return name
		}
	}
	if fallback != "" {
		return fallback
	}
	return fmt.Sprintf("%T", c)
}
