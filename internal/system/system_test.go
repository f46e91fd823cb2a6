package system

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/moolen/ordo/internal/component"
	"github.com/moolen/ordo/internal/lifecycle"
	"github.com/moolen/ordo/internal/logging"
	"github.com/moolen/ordo/internal/resolver"
)

// journal records lifecycle events across components.
type journal struct {
	mu     sync.Mutex
	events []string
}

func (j *journal) add(e string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, e)
}

func (j *journal) all() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.events...)
}

func (j *journal) with(prefix string) []string {
	var out []string
	for _, e := range j.all() {
		if strings.HasPrefix(e, prefix) {
			out = append(out, strings.TrimPrefix(e, prefix))
		}
	}
	return out
}

type recorder struct {
	id       component.ID
	j        *journal
	startErr error
	stopErr  error
	ready    bool
	deps     []*component.Ref[*recorder]
}

func (r *recorder) Start(context.Context) error {
	r.j.add("start:" + string(r.id))
	if r.startErr != nil {
		return r.startErr
	}
	r.ready = true
	return nil
}

func (r *recorder) Stop(context.Context) error {
	r.j.add("stop:" + string(r.id))
	r.ready = false
	return r.stopErr
}

type option func(*recorder)

func failStart(err error) option { return func(r *recorder) { r.startErr = err } }
func failStop(err error) option  { return func(r *recorder) { r.stopErr = err } }

// register adds a recorder that injects all of its dependencies.
func register(c *component.Catalog, j *journal, id component.ID, deps []component.ID, opts ...option) {
	c.MustRegister(component.Descriptor{
		ID:        id,
		DependsOn: deps,
		Factory: func(s *component.Scope) (lifecycle.Component, error) {
			j.add("build:" + string(id))
			r := &recorder{id: id, j: j}
			for _, o := range opts {
				o(r)
			}
			for _, dep := range deps {
				ref, err := component.Inject[*recorder](s, dep)
				if err != nil {
					return nil, err
				}
				if !ref.Get().ready {
					return nil, errors.New("dependency " + string(dep) + " is not started")
				}
				r.deps = append(r.deps, ref)
			}
			return r, nil
		},
	})
}

func ids(s ...string) []component.ID {
	out := make([]component.ID, len(s))
	for i, v := range s {
		out[i] = component.ID(v)
	}
	return out
}

func reversed(in []string) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[len(in)-1-i] = v
	}
	return out
}

func TestSystem_StartStopScenario(t *testing.T) {
	j := &journal{}
	c := component.NewCatalog()
	register(c, j, "A", ids("B", "C"))
	register(c, j, "B", ids("C"))
	register(c, j, "C", nil)

	sys := New(c)
	assert.Equal(t, Stopped, sys.State())

	require.NoError(t, sys.Start(context.Background()))
	assert.Equal(t, Started, sys.State())
	assert.Equal(t, ids("C", "B", "A"), sys.Order())
	assert.NotEmpty(t, sys.RunID())
	assert.Equal(t, []string{"C", "B", "A"}, j.with("start:"))
	assert.Equal(t, 3, sys.Store().Len())

	require.NoError(t, sys.Stop(context.Background()))
	assert.Equal(t, Stopped, sys.State())
	assert.Equal(t, []string{"A", "B", "C"}, j.with("stop:"))
	assert.Equal(t, 0, sys.Store().Len())
	assert.Empty(t, sys.RunID())
	assert.Nil(t, sys.Order())
}

func TestSystem_BuildAndStartInterleave(t *testing.T) {
	j := &journal{}
	c := component.NewCatalog()
	register(c, j, "B", ids("A"))
	register(c, j, "A", nil)

	sys := New(c)
	require.NoError(t, sys.Start(context.Background()))

	assert.Equal(t, []string{"build:A", "start:A", "build:B", "start:B"}, j.all())
}

func TestSystem_StopIsReverseOfStart(t *testing.T) {
	j := &journal{}
	c := component.NewCatalog()
	register(c, j, "app", ids("svc1", "svc2"))
	register(c, j, "svc1", ids("db", "cache"))
	register(c, j, "svc2", ids("cache", "queue"))
	register(c, j, "queue", ids("db"))
	register(c, j, "db", nil)
	register(c, j, "cache", nil)

	sys := New(c)
	require.NoError(t, sys.Start(context.Background()))
	require.NoError(t, sys.Stop(context.Background()))

	assert.Equal(t, reversed(j.with("start:")), j.with("stop:"))
}

func TestSystem_Idempotence(t *testing.T) {
	j := &journal{}
	c := component.NewCatalog()
	register(c, j, "A", nil)

	sys := New(c)

	require.NoError(t, sys.Stop(context.Background()), "stop on a fresh system")
	assert.Empty(t, j.all())

	require.NoError(t, sys.Start(context.Background()))
	runID := sys.RunID()
	require.NoError(t, sys.Start(context.Background()))
	assert.Equal(t, []string{"build:A", "start:A"}, j.all(), "second start is a no-op")
	assert.Equal(t, runID, sys.RunID())

	require.NoError(t, sys.Stop(context.Background()))
	require.NoError(t, sys.Stop(context.Background()))
	assert.Equal(t, []string{"A"}, j.with("stop:"))
}

func TestSystem_Restart(t *testing.T) {
	j := &journal{}
	c := component.NewCatalog()
	register(c, j, "B", ids("A"))
	register(c, j, "A", nil)

	sys := New(c)
	require.NoError(t, sys.Start(context.Background()))
	first := sys.RunID()
	require.NoError(t, sys.Stop(context.Background()))
	require.NoError(t, sys.Start(context.Background()))

	assert.NotEqual(t, first, sys.RunID())
	assert.Equal(t, []string{"A", "B", "A", "B"}, j.with("build:"))
	require.NoError(t, sys.Stop(context.Background()))
}

func TestSystem_CycleFailsBeforeAnyFactory(t *testing.T) {
	j := &journal{}
	c := component.NewCatalog()
	register(c, j, "A", ids("B"))
	register(c, j, "B", ids("A"))

	sys := New(c)
	err := sys.Start(context.Background())

	var cycle *resolver.CycleError
	require.True(t, errors.As(err, &cycle))
	assert.Empty(t, j.all())
	assert.Equal(t, Stopped, sys.State())
}

func TestSystem_MissingDependencyFailsBeforeAnyFactory(t *testing.T) {
	j := &journal{}
	c := component.NewCatalog()
	register(c, j, "A", ids("B"))
	register(c, j, "B", ids("ghost"))

	err := New(c).Start(context.Background())

	var missing *resolver.MissingDependencyError
	require.True(t, errors.As(err, &missing))
	assert.Empty(t, j.all())
}

func TestSystem_AutoDetectedEntrypoints(t *testing.T) {
	j := &journal{}
	c := component.NewCatalog()
	register(c, j, "A", nil)
	register(c, j, "D", nil)

	sys := New(c)
	require.NoError(t, sys.Start(context.Background()))

	assert.ElementsMatch(t, []string{"A", "D"}, j.with("start:"))
	_, okA := Lookup[*recorder](sys, "A")
	_, okD := Lookup[*recorder](sys, "D")
	assert.True(t, okA)
	assert.True(t, okD)
}

func TestSystem_UnreachableFactoriesNeverRun(t *testing.T) {
	j := &journal{}
	c := component.NewCatalog()
	register(c, j, "api", ids("db"))
	register(c, j, "db", nil)
	register(c, j, "worker", ids("db"))
	c.MustRegister(component.Descriptor{
		ID: "bomb",
		Factory: func(*component.Scope) (lifecycle.Component, error) {
			t.Fatal("unreachable factory invoked")
			return nil, nil
		},
	})

	sys := New(c, WithEntrypoints("api"))
	require.NoError(t, sys.Start(context.Background()))

	assert.Equal(t, []string{"db", "api"}, j.with("build:"))
	_, ok := Lookup[*recorder](sys, "worker")
	assert.False(t, ok)
	assert.Equal(t, ids("api"), sys.Entrypoints())
}

func TestSystem_UnknownEntrypoint(t *testing.T) {
	c := component.NewCatalog()
	register(c, &journal{}, "A", nil)

	err := New(c, WithEntrypoints("nope")).Start(context.Background())

	var unknown *resolver.UnknownEntrypointError
	assert.True(t, errors.As(err, &unknown))
}

type server struct {
	lifecycle.Nop
	port int
}

func (s *server) Start(context.Context) error {
	s.port = 8080
	return nil
}

type client struct {
	lifecycle.Nop
	target int
	srv    *component.Ref[*server]
}

func TestSystem_PostStartFieldVisibleToDependent(t *testing.T) {
	c := component.NewCatalog()
	c.MustRegister(component.Descriptor{
		ID: "server",
		Factory: func(*component.Scope) (lifecycle.Component, error) {
			return &server{}, nil
		},
	})
	c.MustRegister(component.Descriptor{
		ID:        "client",
		DependsOn: ids("server"),
		Factory: func(s *component.Scope) (lifecycle.Component, error) {
			srv, err := component.Inject[*server](s, "server")
			if err != nil {
				return nil, err
			}
			return &client{target: srv.Get().port, srv: srv}, nil
		},
	})

	sys := New(c)
	require.NoError(t, sys.Start(context.Background()))

	cl, ok := Lookup[*client](sys, "client")
	require.True(t, ok)
	assert.Equal(t, 8080, cl.target)

	_, ok = Lookup[*server](sys, "client")
	assert.False(t, ok, "typed lookup rejects a mismatched type")

	require.NoError(t, sys.Stop(context.Background()))
}

func TestSystem_StartFailure(t *testing.T) {
	j := &journal{}
	boom := errors.New("boom")
	c := component.NewCatalog()
	register(c, j, "A", ids("B"))
	register(c, j, "B", ids("C"), failStart(boom))
	register(c, j, "C", nil)

	sys := New(c)
	err := sys.Start(context.Background())
	require.Error(t, err)

	var lerr *LifecycleError
	require.True(t, errors.As(err, &lerr))
	assert.Equal(t, component.ID("B"), lerr.ID)
	assert.Equal(t, PhaseStart, lerr.Phase)
	assert.Equal(t, 2, lerr.Position)
	assert.Equal(t, 3, lerr.Total)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "start component B (2/3)")

	assert.Equal(t, Started, sys.State(), "already started components stay started")
	assert.NotContains(t, j.with("build:"), "A")

	_, ok := Lookup[*recorder](sys, "C")
	assert.True(t, ok)
	_, ok = Lookup[*recorder](sys, "B")
	assert.False(t, ok, "failed component is not stored")

	require.NoError(t, sys.Stop(context.Background()))
	assert.Equal(t, []string{"C"}, j.with("stop:"), "only started components are stopped")
	assert.Equal(t, Stopped, sys.State())
}

func TestSystem_FactoryFailure(t *testing.T) {
	c := component.NewCatalog()
	register(c, &journal{}, "db", nil)
	c.MustRegister(component.Descriptor{
		ID:        "api",
		DependsOn: ids("db"),
		Factory: func(s *component.Scope) (lifecycle.Component, error) {
			if _, err := component.Inject[*recorder](s, "db"); err != nil {
				return nil, err
			}
			return nil, errors.New("bad options")
		},
	})

	sys := New(c)
	err := sys.Start(context.Background())

	var lerr *LifecycleError
	require.True(t, errors.As(err, &lerr))
	assert.Equal(t, PhaseBuild, lerr.Phase)
	assert.Equal(t, component.ID("api"), lerr.ID)

	// The reference api took on db was released, so db can be reclaimed.
	assert.NotPanics(t, func() {
		require.NoError(t, sys.Stop(context.Background()))
	})
}

func TestSystem_NilComponentFromFactory(t *testing.T) {
	c := component.NewCatalog()
	c.MustRegister(component.Descriptor{
		ID: "nil",
		Factory: func(*component.Scope) (lifecycle.Component, error) {
			return nil, nil
		},
	})

	err := New(c).Start(context.Background())
	var lerr *LifecycleError
	require.True(t, errors.As(err, &lerr))
	assert.Equal(t, PhaseBuild, lerr.Phase)
}

func TestSystem_UndeclaredInjectFails(t *testing.T) {
	c := component.NewCatalog()
	register(c, &journal{}, "db", nil)
	c.MustRegister(component.Descriptor{
		ID: "api",
		Factory: func(s *component.Scope) (lifecycle.Component, error) {
			if _, err := component.Inject[*recorder](s, "db"); err != nil {
				return nil, err
			}
			return lifecycle.Nop{}, nil
		},
	})

	err := New(c, WithEntrypoints("db", "api")).Start(context.Background())

	var undeclared *component.UndeclaredDependencyError
	assert.True(t, errors.As(err, &undeclared))
}

func TestSystem_StopErrorsAreJoined(t *testing.T) {
	j := &journal{}
	errA := errors.New("a failed")
	errC := errors.New("c failed")
	c := component.NewCatalog()
	register(c, j, "A", ids("B"), failStop(errA))
	register(c, j, "B", ids("C"))
	register(c, j, "C", nil, failStop(errC))

	sys := New(c)
	require.NoError(t, sys.Start(context.Background()))

	err := sys.Stop(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errC)
	assert.Equal(t, []string{"A", "B", "C"}, j.with("stop:"), "teardown continues after a failure")
	assert.Equal(t, Stopped, sys.State())

	var lerr *LifecycleError
	require.True(t, errors.As(err, &lerr))
	assert.Equal(t, PhaseStop, lerr.Phase)
}

type hanging struct {
	lifecycle.Nop
}

func (hanging) Stop(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestSystem_StopTimeout(t *testing.T) {
	c := component.NewCatalog()
	c.MustRegister(component.Descriptor{
		ID: "slow",
		Factory: func(*component.Scope) (lifecycle.Component, error) {
			return hanging{}, nil
		},
	})

	sys := New(c, WithStopTimeout(20*time.Millisecond))
	require.NoError(t, sys.Start(context.Background()))

	done := make(chan error, 1)
	go func() { done <- sys.Stop(context.Background()) }()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(5 * time.Second):
		t.Fatal("stop did not honor the timeout")
	}
}

type leaky struct {
	lifecycle.Nop
	kept *component.Ref[*recorder]
}

func TestSystem_LeakedReferencePanicsOnStop(t *testing.T) {
	c := component.NewCatalog()
	register(c, &journal{}, "db", nil)
	c.MustRegister(component.Descriptor{
		ID:        "api",
		DependsOn: ids("db"),
		Factory: func(s *component.Scope) (lifecycle.Component, error) {
			ref, err := component.Inject[*recorder](s, "db")
			if err != nil {
				return nil, err
			}
			// an extra clone that is never released
			return &leaky{kept: ref.Clone()}, nil
		},
	})

	sys := New(c)
	require.NoError(t, sys.Start(context.Background()))

	assert.PanicsWithValue(t,
		"system: cannot reclaim db for stop (2 references outstanding): handle is not exclusive",
		func() { _ = sys.Stop(context.Background()) },
	)
}

func TestSystem_CatalogIsSnapshotted(t *testing.T) {
	j := &journal{}
	c := component.NewCatalog()
	register(c, j, "A", nil)

	sys := New(c)
	register(c, j, "B", nil)

	order, err := sys.Plan()
	require.NoError(t, err)
	assert.Equal(t, ids("A"), order)
}

func TestSystem_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	j := &journal{}
	c := component.NewCatalog()
	register(c, j, "A", ids("B"), failStop(errors.New("x")))
	register(c, j, "B", nil)

	sys := New(c, WithMetrics(m))
	require.NoError(t, sys.Start(context.Background()))

	assert.Equal(t, float64(2), testutil.ToFloat64(m.Running))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Transitions.WithLabelValues("started")))
	assert.Equal(t, 4, testutil.CollectAndCount(m.HookDuration), "one series per component and phase")

	_ = sys.Stop(context.Background())

	assert.Equal(t, float64(0), testutil.ToFloat64(m.Running))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Transitions.WithLabelValues("stopped")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.HookFailures.WithLabelValues("A", "stop")))
}

func TestSystem_Spans(t *testing.T) {
	spans := tracetest.NewSpanRecorder()
	provider := trace.NewTracerProvider(trace.WithSpanProcessor(spans))
	defer func() { _ = provider.Shutdown(context.Background()) }()

	c := component.NewCatalog()
	register(c, &journal{}, "A", nil)

	sys := New(c, WithTracer(provider.Tracer("test")))
	require.NoError(t, sys.Start(context.Background()))
	require.NoError(t, sys.Stop(context.Background()))

	var names []string
	for _, s := range spans.Ended() {
		names = append(names, s.Name())
	}
	assert.ElementsMatch(t, []string{
		"component.build", "component.start", "system.Start",
		"component.stop", "system.Stop",
	}, names)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "stopped", Stopped.String())
	assert.Equal(t, "started", Started.String())
	assert.Equal(t, "State(7)", State(7).String())
}

type namedComponent struct {
	lifecycle.Nop
}

func (namedComponent) Name() string { return "primary database" }

func TestSystem_LogsComponentName(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, logging.SetOutput(&buf, logging.FormatJSON))
	t.Cleanup(func() { _ = logging.SetOutput(os.Stderr, logging.FormatText) })

	c := component.NewCatalog()
	c.MustRegister(component.Descriptor{
		ID: "db",
		Factory: func(*component.Scope) (lifecycle.Component, error) {
			return namedComponent{}, nil
		},
	})
	register(c, &journal{}, "api", nil)

	sys := New(c, WithLogger(logging.GetLogger("system.test")))
	require.NoError(t, sys.Start(context.Background()))
	require.NoError(t, sys.Stop(context.Background()))

	names := make(map[string]interface{})
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		rec := make(map[string]interface{})
		require.NoError(t, json.Unmarshal([]byte(line), &rec), line)
		assert.Equal(t, "system.test", rec["logger"])

		msg, _ := rec["msg"].(string)
		if msg == "Component started" || msg == "Component stopped" {
			names[msg+":"+rec["component"].(string)] = rec["name"]
		}
	}

	assert.Equal(t, map[string]interface{}{
		"Component started:db":  "primary database",
		"Component started:api": "api",
		"Component stopped:api": "api",
		"Component stopped:db":  "primary database",
	}, names, "unnamed components fall back to their id")
}
