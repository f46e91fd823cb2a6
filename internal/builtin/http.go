package builtin

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/moolen/ordo/internal/component"
	"github.com/moolen/ordo/internal/lifecycle"
	"github.com/moolen/ordo/internal/logging"
	"github.com/moolen/ordo/internal/manifest"
)

// DefaultAddr is the listen address of an http-server without an addr option.
const DefaultAddr = "127.0.0.1:8080"

// HTTPServerOptions are the options of the http-server kind.
type HTTPServerOptions struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
}

func (o *HTTPServerOptions) applyDefaults() {
	if o.Addr == "" {
		o.Addr = DefaultAddr
	}
	if o.ReadTimeout == 0 {
		o.ReadTimeout = 30 * time.Second
	}
	if o.WriteTimeout == 0 {
		o.WriteTimeout = 30 * time.Second
	}
	if o.IdleTimeout == 0 {
		o.IdleTimeout = 60 * time.Second
	}
}

// HTTPServer serves the routes of its Router dependencies.
//
// Start binds the listener before returning, so the server accepts
// connections as soon as it is started. Serving happens in the background;
// Stop shuts the server down and waits for the serve loop to return.
type HTTPServer struct {
	opts    HTTPServerOptions
	routers []Router
	logger  *logging.Logger

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	group    *errgroup.Group
}

// NewHTTPServer creates a server mounting the routes of routers.
func NewHTTPServer(opts HTTPServerOptions, routers ...Router) *HTTPServer {
	opts.applyDefaults()
	return &HTTPServer{
		opts:    opts,
		routers: routers,
		logger:  logging.GetLogger("builtin.http"),
	}
}

func httpServerKind() manifest.Kind {
	return manifest.Kind{
		Name:        KindHTTPServer,
		Version:     Version,
		Description: "HTTP server mounting the routes of its dependencies",
		New: func(spec manifest.Spec) (component.Factory, error) {
			var opts HTTPServerOptions
			if err := spec.Decode(&opts); err != nil {
				return nil, err
			}
			if opts.ReadTimeout < 0 || opts.WriteTimeout < 0 || opts.IdleTimeout < 0 {
				return nil, fmt.Errorf("timeouts must not be negative")
			}
			opts.applyDefaults()
			if _, _, err := net.SplitHostPort(opts.Addr); err != nil {
				return nil, fmt.Errorf("invalid addr %q: %w", opts.Addr, err)
			}

			deps := spec.DependsOn
			return func(s *component.Scope) (lifecycle.Component, error) {
				var routers []Router
				for _, id := range deps {
					ref, err := component.Inject[lifecycle.Component](s, id)
					if err != nil {
						return nil, err
					}
					if r, ok := ref.Get().(Router); ok {
						routers = append(routers, r)
					}
				}
				return NewHTTPServer(opts, routers...), nil
			}, nil
		},
	}
}

// Handler builds the server's handler: every router's routes plus
// GET /healthz, instrumented with OpenTelemetry.
func (s *HTTPServer) Handler() http.Handler {
	mux := http.NewServeMux()
	for _, r := range s.routers {
		r.Routes(mux)
	}
	mux.HandleFunc("GET /healthz", handleHealth)

	return otelhttp.NewHandler(mux, "ordo.http",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}

// buildHandler turns a ServeMux registration panic, caused by two routers
// claiming the same pattern, into an error.
func (s *HTTPServer) buildHandler() (h http.Handler, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("conflicting routes: %v", r)
		}
	}()
	return s.Handler(), nil
}

// Start binds the listen address and starts serving.
func (s *HTTPServer) Start(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	handler, err := s.buildHandler()
	if err != nil {
		return err
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.opts.Addr, err)
	}

	server := &http.Server{
		Handler:      handler,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		IdleTimeout:  s.opts.IdleTimeout,
	}

	g := new(errgroup.Group)
	g.Go(func() error {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server error: %v", err)
			return err
		}
		return nil
	})

	s.mu.Lock()
	s.server = server
	s.listener = ln
	s.group = g
	s.mu.Unlock()

	s.logger.Info("HTTP server listening on %s (%d routers)", ln.Addr(), len(s.routers))
	return nil
}

// Stop shuts the server down gracefully and waits for the serve loop.
func (s *HTTPServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	server, g := s.server, s.group
	s.server, s.group, s.listener = nil, nil, nil
	s.mu.Unlock()

	if server == nil {
		return nil
	}

	s.logger.Info("Stopping HTTP server...")
	shutdownErr := server.Shutdown(ctx)
	if shutdownErr != nil {
		s.logger.Warn("HTTP server shutdown did not complete: %v", shutdownErr)
		_ = server.Close()
	}

	serveErr := g.Wait()
	if err := errors.Join(shutdownErr, serveErr); err != nil {
		return err
	}
	s.logger.Info("HTTP server stopped")
	return nil
}

// Addr returns the bound listen address, or the configured one when the
// server is not running.
func (s *HTTPServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.opts.Addr
}

// Name implements lifecycle.Namer.
func (s *HTTPServer) Name() string {
	return "http-server"
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = writeJSON(w, map[string]interface{}{
		"status": "healthy",
	})
}
