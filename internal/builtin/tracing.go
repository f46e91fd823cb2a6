package builtin

import (
	"context"

	"go.opentelemetry.io/otel/trace"

	"github.com/moolen/ordo/internal/component"
	"github.com/moolen/ordo/internal/lifecycle"
	"github.com/moolen/ordo/internal/manifest"
	"github.com/moolen/ordo/internal/tracing"
)

// Tracing runs a tracing.Provider as a component. Components that depend on
// it are started after the global tracer provider is installed and stopped
// before remaining spans are flushed.
type Tracing struct {
	provider *tracing.Provider
}

// NewTracing wraps p.
func NewTracing(p *tracing.Provider) *Tracing {
	return &Tracing{provider: p}
}

func tracingKind() manifest.Kind {
	return manifest.Kind{
		Name:        KindOTelTracing,
		Version:     Version,
		Description: "OpenTelemetry tracer provider exporting over OTLP/gRPC",
		New: func(spec manifest.Spec) (component.Factory, error) {
			cfg := tracing.Config{ServiceName: "ordo"}
			if err := spec.Decode(&cfg); err != nil {
				return nil, err
			}
			if err := cfg.Validate(); err != nil {
				return nil, err
			}
			return func(*component.Scope) (lifecycle.Component, error) {
				// Factories get no context. The OTLP exporter connects lazily on
				// the first export, so nothing here touches the network.
				p, err := tracing.New(context.Background(), cfg)
				if err != nil {
					return nil, err
				}
				return NewTracing(p), nil
			}, nil
		},
	}
}

// Start installs the provider globally.
func (t *Tracing) Start(ctx context.Context) error {
	return t.provider.Start(ctx)
}

// Stop flushes pending spans.
func (t *Tracing) Stop(ctx context.Context) error {
	return t.provider.Stop(ctx)
}

// Tracer returns a tracer from the wrapped provider.
func (t *Tracing) Tracer(name string) trace.Tracer {
	return t.provider.Tracer(name)
}

// Enabled reports whether spans are exported.
func (t *Tracing) Enabled() bool {
	return t.provider.Enabled()
}

// Name implements lifecycle.Namer.
func (t *Tracing) Name() string {
	return t.provider.Name()
}
