// Package tracing sets up OpenTelemetry trace export for ordo.
package tracing

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/moolen/ordo/internal/logging"
)

// Config holds tracing configuration
type Config struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`    // OTLP gRPC endpoint, e.g. "otel-collector:4317"
	TLSCAPath   string  `yaml:"tlsCAPath"`   // CA certificate for TLS verification
	TLSInsecure bool    `yaml:"tlsInsecure"` // TLS without certificate verification
	SampleRatio float64 `yaml:"sampleRatio"` // 0 or 1 samples everything

	ServiceName    string `yaml:"serviceName"`
	ServiceVersion string `yaml:"serviceVersion"`
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Endpoint == "" {
		return fmt.Errorf("tracing enabled but endpoint not configured")
	}
	if c.SampleRatio < 0 || c.SampleRatio > 1 {
		return fmt.Errorf("sampleRatio must be between 0 and 1, got %v", c.SampleRatio)
	}
	return nil
}

// Provider owns a tracer provider. Start installs it as the global provider
// and Stop flushes pending spans and puts the previous global back.
type Provider struct {
	cfg            Config
	tracerProvider *sdktrace.TracerProvider
	logger         *logging.Logger

	previous  trace.TracerProvider
	installed bool
}

// New creates a provider exporting over OTLP/gRPC. A disabled config yields a
// provider whose tracers are no-ops.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !cfg.Enabled {
		return &Provider{cfg: cfg, logger: logging.GetLogger("tracing")}, nil
	}

	exporter, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewWithExporter(ctx, cfg, exporter)
}

// NewWithExporter creates an enabled provider that batches spans into exp.
func NewWithExporter(ctx context.Context, cfg Config, exp sdktrace.SpanExporter) (*Provider, error) {
	cfg.Enabled = true

	name := cfg.ServiceName
	if name == "" {
		name = "ordo"
	}
	attrs := []resource.Option{resource.WithAttributes(semconv.ServiceName(name))}
	if cfg.ServiceVersion != "" {
		attrs = append(attrs, resource.WithAttributes(semconv.ServiceVersion(cfg.ServiceVersion)))
	}
	res, err := resource.New(ctx, attrs...)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	sampler := sdktrace.AlwaysSample()
	if cfg.SampleRatio > 0 && cfg.SampleRatio < 1 {
		sampler = sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)

	return &Provider{
		cfg:            cfg,
		tracerProvider: tp,
		logger:         logging.GetLogger("tracing"),
	}, nil
}

func newExporter(ctx context.Context, cfg Config) (sdktrace.SpanExporter, error) {
	logger := logging.GetLogger("tracing")

	var opts []otlptracegrpc.Option
	if cfg.TLSCAPath != "" || cfg.TLSInsecure {
		tlsConfig, err := tlsConfig(cfg)
		if err != nil {
			return nil, err
		}
		opts = append(opts, otlptracegrpc.WithDialOption(
			grpc.WithTransportCredentials(credentials.NewTLS(tlsConfig)),
		))
		if cfg.TLSInsecure {
			logger.Warn("TLS enabled for tracing with certificate verification disabled")
		}
	} else {
		opts = append(opts,
			otlptracegrpc.WithInsecure(),
			otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		)
		logger.Debug("TLS disabled for tracing")
	}
	opts = append(opts, otlptracegrpc.WithEndpoint(cfg.Endpoint))

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}
	return exporter, nil
}

func tlsConfig(cfg Config) (*tls.Config, error) {
	if cfg.TLSInsecure {
		return &tls.Config{
			InsecureSkipVerify: true, //nolint:gosec // explicitly requested
			MinVersion:         tls.VersionTLS12,
		}, nil
	}

	caCert, err := os.ReadFile(cfg.TLSCAPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("failed to append CA certificate to pool")
	}
	return &tls.Config{
		RootCAs:    pool,
		MinVersion: tls.VersionTLS12,
	}, nil
}

// Start installs the provider as the global tracer provider.
func (p *Provider) Start(ctx context.Context) error {
	if !p.Enabled() {
		p.logger.Info("Tracing disabled")
		return nil
	}
	p.previous = otel.GetTracerProvider()
	otel.SetTracerProvider(p.tracerProvider)
	p.installed = true
	p.logger.Info("Tracing started (endpoint: %s)", p.cfg.Endpoint)
	return nil
}

// Stop restores the previous global provider and flushes remaining spans.
func (p *Provider) Stop(ctx context.Context) error {
	if !p.Enabled() {
		return nil
	}
	if p.installed {
		otel.SetTracerProvider(p.previous)
		p.installed = false
	}

	if err := p.tracerProvider.Shutdown(ctx); err != nil {
		p.logger.Error("Error shutting down tracer provider: %v", err)
		return err
	}
	p.logger.Info("Tracing stopped")
	return nil
}

// Name returns the display name used in logs.
func (p *Provider) Name() string {
	return "tracing"
}

// Tracer returns a tracer from this provider, or a no-op tracer when tracing
// is disabled.
func (p *Provider) Tracer(name string) trace.Tracer {
	if !p.Enabled() {
		return noop.NewTracerProvider().Tracer(name)
	}
	return p.tracerProvider.Tracer(name)
}

// Enabled reports whether spans are exported.
func (p *Provider) Enabled() bool {
	return p.tracerProvider != nil
}
