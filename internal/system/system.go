// Package system runs a component catalog.
//
// A System resolves the catalog into a start order, builds and starts every
// reachable component one at a time, and on Stop tears them down in reverse.
// A dependency is reclaimed only after every component that depends on it has
// stopped and released its references, so a leaked reference is reported as
// an internal invariant violation.
package system

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/moolen/ordo/internal/component"
	"github.com/moolen/ordo/internal/handle"
	"github.com/moolen/ordo/internal/lifecycle"
	"github.com/moolen/ordo/internal/logging"
	"github.com/moolen/ordo/internal/resolver"
)

const tracerName = "github.com/moolen/ordo/internal/system"

// State is the externally visible state of a System.
type State int

const (
	// Stopped is the initial state.
	Stopped State = iota
	// Started means Start ran; some components may have failed to start.
	Started
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Started:
		return "started"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Option configures a System.
type Option func(*System)

// WithEntrypoints limits the system to the given components and their
// transitive dependencies. Without it, every component nothing depends on is
// an entrypoint.
func WithEntrypoints(ids ...component.ID) Option {
	return func(s *System) {
		s.entrypoints = append([]component.ID(nil), ids...)
	}
}

// WithLogger sets the logger. Defaults to the "system" logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *System) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics records hook durations and failures on m.
func WithMetrics(m *Metrics) Option {
	return func(s *System) {
		s.metrics = m
	}
}

// WithTracer sets the tracer used for lifecycle spans. Defaults to the global
// tracer provider.
func WithTracer(t trace.Tracer) Option {
	return func(s *System) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithStopTimeout bounds each stop hook. Zero means no bound.
func WithStopTimeout(d time.Duration) Option {
	return func(s *System) {
		s.stopTimeout = d
	}
}

// System owns the components built from one catalog.
type System struct {
	catalog     *component.Catalog
	entrypoints []component.ID
	logger      *logging.Logger
	metrics     *Metrics
	tracer      trace.Tracer
	stopTimeout time.Duration

	// mu serializes Start and Stop.
	mu     sync.Mutex
	state  State
	order  []component.ID
	scopes map[component.ID]*component.Scope
	runID  string

	store atomic.Pointer[component.Store]
}

// New creates a stopped System. The catalog is copied, so later changes to c
// do not affect the system.
func New(c *component.Catalog, opts ...Option) *System {
	s := &System{
		catalog: c.Clone(),
		logger:  logging.GetLogger("system"),
		tracer:  otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.store.Store(component.NewStore())
	return s
}

// State returns the current state.
func (s *System) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Order returns the start order of the current run, or nil when stopped.
func (s *System) Order() []component.ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]component.ID(nil), s.order...)
}

// RunID identifies the current run. It changes on every Start and is empty
// when stopped.
func (s *System) RunID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runID
}

// Entrypoints returns the configured entrypoints, or nil for auto-detection.
func (s *System) Entrypoints() []component.ID {
	return append([]component.ID(nil), s.entrypoints...)
}

// Plan resolves the start order without starting anything.
func (s *System) Plan() ([]component.ID, error) {
	return resolver.Resolve(s.catalog, s.entrypoints)
}

// Store returns the live component store.
func (s *System) Store() *component.Store {
	return s.store.Load()
}

// Lookup borrows a started component as a T.
func Lookup[T any](s *System, id component.ID) (T, bool) {
	return component.Get[T](s.store.Load(), id)
}

// Start builds and starts every reachable component in dependency order.
// Calling Start on a started system does nothing.
//
// Resolution errors are returned before any factory runs. If a factory or
// start hook fails, Start returns a *LifecycleError and leaves the components
// that already started running; the system is Started so Stop unwinds them.
func (s *System) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Started {
		return nil
	}

	order, err := resolver.Resolve(s.catalog, s.entrypoints)
	if err != nil {
		s.logger.ErrorWithErr("Cannot resolve component graph", err)
		return fmt.Errorf("resolve component graph: %w", err)
	}

	s.runID = uuid.NewString()
	s.order = order
	s.scopes = make(map[component.ID]*component.Scope, len(order))
	s.state = Started

	log := s.logger.WithField("run_id", s.runID)
	ctx, span := s.tracer.Start(ctx, "system.Start",
		trace.WithAttributes(
			attribute.String("ordo.run_id", s.runID),
			attribute.Int("ordo.components", len(order)),
		),
	)
	defer span.End()

	log.WithContext(ctx).Info("Starting %d components", len(order))
	started := time.Now()

	store := s.store.Load()
	for i, id := range order {
		if err := s.startComponent(ctx, log, store, id, i+1, len(order)); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "start failed")
			return err
		}
		s.metrics.setRunning(store.Len())
	}

	s.metrics.transition(Started)
	log.WithContext(ctx).InfoWithFields("All components started",
		logging.Field("duration_ms", time.Since(started).Milliseconds()),
	)
	return nil
}

func (s *System) startComponent(ctx context.Context, log *logging.Logger, store *component.Store, id component.ID, pos, total int) error {
	desc, ok := s.catalog.Get(id)
	if !ok {
		panic(fmt.Sprintf("system: resolver produced %q which is not in the catalog", id))
	}

	log = log.WithFields(
		logging.Field("component", string(id)),
		logging.Field("position", pos),
		logging.Field("total", total),
	)

	scope := store.Scope(id, desc.DependsOn)

	var instance lifecycle.Component
	err := s.runHook(ctx, log, PhaseBuild, id, pos, total, func(context.Context) error {
		c, err := desc.Factory(scope)
		if err != nil {
			return err
		}
		if c == nil {
			return errors.New("factory returned a nil component")
		}
		instance = c
		return nil
	})
	if err != nil {
		scope.Release()
		return err
	}

	log = log.WithField("name", lifecycle.NameOf(instance, string(id)))
	if err := s.runHook(ctx, log, PhaseStart, id, pos, total, instance.Start); err != nil {
		scope.Release()
		return err
	}

	if err := store.Insert(id, handle.New(instance)); err != nil {
		panic(fmt.Sprintf("system: %v", err))
	}
	s.scopes[id] = scope
	return nil
}

// Stop stops every started component in reverse start order and releases
// the references each one held. Calling Stop on a stopped system does
// nothing. Stop hook failures do not interrupt the teardown; they are joined
// into the returned error.
func (s *System) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Stopped {
		return nil
	}

	log := s.logger.WithField("run_id", s.runID)
	ctx, span := s.tracer.Start(ctx, "system.Stop",
		trace.WithAttributes(
			attribute.String("ordo.run_id", s.runID),
			attribute.Int("ordo.components", len(s.order)),
		),
	)
	defer span.End()

	log.WithContext(ctx).Info("Stopping components")
	started := time.Now()

	store := s.store.Load()
	total := len(s.order)
	var errs []error
	for i := total - 1; i >= 0; i-- {
		id := s.order[i]
		if err := s.stopComponent(ctx, log, store, id, i+1, total); err != nil {
			errs = append(errs, err)
		}
		s.metrics.setRunning(store.Len())
	}

	s.store.Store(component.NewStore())
	s.scopes = nil
	s.order = nil
	s.runID = ""
	s.state = Stopped
	s.metrics.setRunning(0)
	s.metrics.transition(Stopped)

	err := errors.Join(errs...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "stop failed")
		log.WithContext(ctx).Warn("Components stopped with %d errors", len(errs))
		return err
	}
	log.WithContext(ctx).InfoWithFields("All components stopped",
		logging.Field("duration_ms", time.Since(started).Milliseconds()),
	)
	return nil
}

func (s *System) stopComponent(ctx context.Context, log *logging.Logger, store *component.Store, id component.ID, pos, total int) error {
	h, ok := store.Remove(id)
	if !ok {
		// never built, or its start failed
		return nil
	}

	instance, err := h.Reclaim()
	if err != nil {
		panic(fmt.Sprintf("system: cannot reclaim %s for stop (%d references outstanding): %v", id, h.Refs(), err))
	}

	log = log.WithFields(
		logging.Field("component", string(id)),
		logging.Field("name", lifecycle.NameOf(instance, string(id))),
		logging.Field("position", pos),
		logging.Field("total", total),
	)

	hookCtx := ctx
	if s.stopTimeout > 0 {
		var cancel context.CancelFunc
		hookCtx, cancel = context.WithTimeout(ctx, s.stopTimeout)
		defer cancel()
	}

	err = s.runHook(hookCtx, log, PhaseStop, id, pos, total, instance.Stop)

	if scope, ok := s.scopes[id]; ok {
		scope.Release()
		delete(s.scopes, id)
	}
	return err
}

// runHook invokes fn inside a span, records its duration and wraps a failure
// in a *LifecycleError.
func (s *System) runHook(ctx context.Context, log *logging.Logger, phase Phase, id component.ID, pos, total int, fn func(context.Context) error) error {
	ctx, span := s.tracer.Start(ctx, "component."+string(phase),
		trace.WithAttributes(
			attribute.String("ordo.component", string(id)),
			attribute.Int("ordo.position", pos),
			attribute.Int("ordo.total", total),
		),
	)
	defer span.End()

	log.WithContext(ctx).Debug("Running %s hook", phase)
	begin := time.Now()
	err := fn(ctx)
	elapsed := time.Since(begin)
	s.metrics.observeHook(id, phase, elapsed, err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(phase)+" failed")
		if phase == PhaseStop && errors.Is(err, context.DeadlineExceeded) {
			log.WithContext(ctx).Warn("Component exceeded stop timeout (%dms)", s.stopTimeout.Milliseconds())
		} else {
			log.WithContext(ctx).ErrorWithErr("Component %s failed", err, phase)
		}
		return &LifecycleError{ID: id, Phase: phase, Position: pos, Total: total, Err: err}
	}

	if phase != PhaseBuild {
		log.WithContext(ctx).InfoWithFields(fmt.Sprintf("Component %s", pastTense(phase)),
			logging.Field("duration_ms", elapsed.Milliseconds()),
		)
	}
	return nil
}

func pastTense(p Phase) string {
	switch p {
	case PhaseStart:
		return "started"
	case PhaseStop:
		return "stopped"
	default:
		return "built"
	}
}
