package builtin

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/moolen/ordo/internal/component"
	"github.com/moolen/ordo/internal/lifecycle"
	"github.com/moolen/ordo/internal/manifest"
)

// MetricsEndpointOptions are the options of the metrics-endpoint kind.
type MetricsEndpointOptions struct {
	Path string `yaml:"path"`
}

// MetricsEndpoint serves Prometheus metrics.
type MetricsEndpoint struct {
	lifecycle.Nop

	path     string
	gatherer prometheus.Gatherer
}

// NewMetricsEndpoint serves the metrics of gatherer under path. A nil
// gatherer means the default registry.
func NewMetricsEndpoint(path string, gatherer prometheus.Gatherer) *MetricsEndpoint {
	if path == "" {
		path = "/metrics"
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &MetricsEndpoint{path: path, gatherer: gatherer}
}

func metricsEndpointKind() manifest.Kind {
	return manifest.Kind{
		Name:        KindMetricsEndpoint,
		Version:     Version,
		Description: "Prometheus /metrics route for an http-server",
		New: func(spec manifest.Spec) (component.Factory, error) {
			var opts MetricsEndpointOptions
			if err := spec.Decode(&opts); err != nil {
				return nil, err
			}
			if opts.Path != "" && !strings.HasPrefix(opts.Path, "/") {
				return nil, fmt.Errorf("path must start with /, got %q", opts.Path)
			}
			return func(*component.Scope) (lifecycle.Component, error) {
				return NewMetricsEndpoint(opts.Path, nil), nil
			}, nil
		},
	}
}

// Routes implements Router.
func (m *MetricsEndpoint) Routes(mux *http.ServeMux) {
	mux.Handle("GET "+m.path, promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{}))
}

// Name implements lifecycle.Namer.
func (m *MetricsEndpoint) Name() string {
	return "metrics-endpoint"
}
