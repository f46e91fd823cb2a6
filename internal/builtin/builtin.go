// Package builtin provides the stock component kinds that manifests can use
// without registering anything themselves.
package builtin

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/moolen/ordo/internal/manifest"
)

// Kind names
const (
	KindLRUCache        = "lru-cache"
	KindGreeter         = "greeter"
	KindHTTPServer      = "http-server"
	KindMetricsEndpoint = "metrics-endpoint"
	KindOTelTracing     = "otel-tracing"
)

// Version is the version every builtin kind is registered with.
const Version = "1.0.0"

// Router is implemented by components that serve HTTP routes. An http-server
// mounts the routes of every dependency that implements it.
type Router interface {
	Routes(mux *http.ServeMux)
}

// Kinds returns every builtin kind.
func Kinds() []manifest.Kind {
	return []manifest.Kind{
		cacheKind(),
		greeterKind(),
		httpServerKind(),
		metricsEndpointKind(),
		tracingKind(),
	}
}

// Register adds every builtin kind to reg.
func Register(reg *manifest.Registry) error {
	for _, k := range Kinds() {
		if err := reg.Register(k); err != nil {
			return fmt.Errorf("register builtin kind: %w", err)
		}
	}
	return nil
}

// NewRegistry returns a registry holding the builtin kinds.
func NewRegistry() *manifest.Registry {
	reg := manifest.NewRegistry()
	if err := Register(reg); err != nil {
		panic(err)
	}
	return reg
}

func writeJSON(w io.Writer, data interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetEscapeHTML(false)
	return encoder.Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = writeJSON(w, map[string]string{
		"error":   code,
		"message": message,
	})
}
