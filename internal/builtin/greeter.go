package builtin

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/moolen/ordo/internal/component"
	"github.com/moolen/ordo/internal/lifecycle"
	"github.com/moolen/ordo/internal/logging"
	"github.com/moolen/ordo/internal/manifest"
)

// GreeterOptions are the options of the greeter kind.
type GreeterOptions struct {
	Greeting string `yaml:"greeting"`
	Path     string `yaml:"path"`
}

// Greeting is the result of Greeter.Greet.
type Greeting struct {
	Message string `json:"message"`
	Count   int    `json:"count"`
}

// Greeter greets by name and remembers in its cache how often each name was
// greeted.
type Greeter struct {
	lifecycle.Nop

	cache    *component.Ref[*Cache]
	greeting string
	path     string
	logger   *logging.Logger

	mu sync.Mutex
}

// NewGreeter creates a greeter backed by cache.
func NewGreeter(cache *component.Ref[*Cache], greeting, path string) *Greeter {
	if greeting == "" {
		greeting = "Hello"
	}
	if path == "" {
		path = "/greet"
	}
	return &Greeter{
		cache:    cache,
		greeting: greeting,
		path:     path,
		logger:   logging.GetLogger("builtin.greeter"),
	}
}

func greeterKind() manifest.Kind {
	return manifest.Kind{
		Name:        KindGreeter,
		Version:     Version,
		Description: "greets by name, counting greetings in an lru-cache",
		New: func(spec manifest.Spec) (component.Factory, error) {
			if len(spec.DependsOn) != 1 {
				return nil, fmt.Errorf("greeter needs exactly one %s dependency, got %d", KindLRUCache, len(spec.DependsOn))
			}
			var opts GreeterOptions
			if err := spec.Decode(&opts); err != nil {
				return nil, err
			}
			if opts.Path != "" && !strings.HasPrefix(opts.Path, "/") {
				return nil, fmt.Errorf("path must start with /, got %q", opts.Path)
			}

			cacheID := spec.DependsOn[0]
			return func(s *component.Scope) (lifecycle.Component, error) {
				cache, err := component.Inject[*Cache](s, cacheID)
				if err != nil {
					return nil, err
				}
				return NewGreeter(cache, opts.Greeting, opts.Path), nil
			}, nil
		},
	}
}

// Greet greets name and returns how often it has been greeted so far.
func (g *Greeter) Greet(name string) Greeting {
	if name == "" {
		name = "world"
	}
	key := "greet:" + name
	cache := g.cache.Get()

	g.mu.Lock()
	defer g.mu.Unlock()

	count := 0
	if v, ok := cache.Get(key); ok {
		count, _ = strconv.Atoi(v)
	}
	count++
	cache.Add(key, strconv.Itoa(count))

	return Greeting{
		Message: fmt.Sprintf("%s, %s!", g.greeting, name),
		Count:   count,
	}
}

// Routes implements Router.
func (g *Greeter) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET "+g.path, g.handleGreet)
	g.logger.Debug("Mounted %s", g.path)
}

func (g *Greeter) handleGreet(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(r.URL.Query().Get("name"))
	if len(name) > 64 {
		writeError(w, http.StatusBadRequest, "INVALID_NAME", "name must be at most 64 characters")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = writeJSON(w, g.Greet(name))
}

// Name implements lifecycle.Namer.
func (g *Greeter) Name() string {
	return "greeter"
}
