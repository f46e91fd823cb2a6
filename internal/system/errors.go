package system

import (
	"fmt"

	"github.com/moolen/ordo/internal/component"
)

// Phase names the lifecycle step a component was in.
type Phase string

const (
	// PhaseBuild is the factory call.
	PhaseBuild Phase = "build"
	// PhaseStart is the start hook.
	PhaseStart Phase = "start"
	// PhaseStop is the stop hook.
	PhaseStop Phase = "stop"
)

// LifecycleError reports a failed factory, start hook or stop hook.
// Position is 1-based within the start order.
type LifecycleError struct {
	ID       component.ID
	Phase    Phase
	Position int
	Total    int
	Err      error
}

func (e *LifecycleError) Error() string {
	return fmt.Sprintf("%s component %s (%d/%d): %v", e.Phase, e.ID, e.Position, e.Total, e.Err)
}

func (e *LifecycleError) Unwrap() error {
	return e.Err
}
