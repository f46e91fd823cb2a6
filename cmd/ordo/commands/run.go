package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/moolen/ordo/internal/builtin"
	"github.com/moolen/ordo/internal/component"
	"github.com/moolen/ordo/internal/config"
	"github.com/moolen/ordo/internal/logging"
	"github.com/moolen/ordo/internal/manifest"
	"github.com/moolen/ordo/internal/system"
)

var (
	watchFlag       bool
	stopTimeoutFlag time.Duration
	shutdownTimeout time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the components of a manifest",
	Long: `Start every component reachable from the manifest's entrypoints in
dependency order and run until SIGINT or SIGTERM, then stop them in reverse.

With --watch, a change to the manifest stops the running system and starts a
new one built from the changed manifest.`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func init() {
	runCmd.Flags().BoolVar(&watchFlag, "watch", false, "Restart the system when the manifest changes")
	runCmd.Flags().DurationVar(&stopTimeoutFlag, "stop-timeout", 0, "Bound for each component's stop hook (0: unbounded)")
	runCmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 30*time.Second, "Bound for stopping the whole system")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("watch") {
		cfg.Watch = watchFlag
	}
	if cmd.Flags().Changed("stop-timeout") {
		cfg.StopTimeout = stopTimeoutFlag
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := logging.GetLogger("cli")
	if !cfg.ManifestExists() {
		return fmt.Errorf("manifest %s does not exist or is not a regular file", cfg.Manifest)
	}
	logger.Info("Ordo %s starting (manifest: %s)", Version, cfg.Manifest)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r := &runner{
		cfg:      cfg,
		registry: builtin.NewRegistry(),
		logger:   logger,
	}
	if cfg.Metrics {
		r.metrics = system.NewMetrics(prometheus.DefaultRegisterer)
	}

	if cfg.Watch {
		return r.watch(ctx)
	}

	f, err := manifest.Load(cfg.Manifest)
	if err != nil {
		return err
	}
	if err := r.apply(ctx, f); err != nil {
		return err
	}

	logger.Info("System started, waiting for shutdown signal")
	<-ctx.Done()
	logger.Info("Shutdown signal received, gracefully shutting down...")
	return r.shutdown()
}

var errRunnerClosed = errors.New("runner is shut down")

// runner owns the running system and replaces it on manifest changes.
type runner struct {
	cfg      *config.Config
	registry *manifest.Registry
	metrics  *system.Metrics
	logger   *logging.Logger

	mu     sync.Mutex
	sys    *system.System
	closed bool
}

// build creates a system for f and checks that its graph resolves.
func (r *runner) build(f *manifest.File) (*system.System, error) {
	catalog, err := f.Catalog(r.registry)
	if err != nil {
		return nil, err
	}

	opts := []system.Option{
		system.WithLogger(logging.GetLogger("system").WithField("manifest", r.cfg.Manifest)),
		system.WithEntrypoints(entrypoints(r.cfg, f)...),
		system.WithStopTimeout(r.cfg.StopTimeout),
	}
	if r.metrics != nil {
		opts = append(opts, system.WithMetrics(r.metrics))
	}

	sys := system.New(catalog, opts...)
	if _, err := sys.Plan(); err != nil {
		return nil, err
	}
	return sys, nil
}

// apply starts a system for f, stopping the current one first. The current
// system keeps running if f does not produce a valid graph.
func (r *runner) apply(ctx context.Context, f *manifest.File) error {
	next, err := r.build(f)
	if err != nil {
		return fmt.Errorf("manifest rejected: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return errRunnerClosed
	}
	if r.sys != nil {
		r.logger.Info("Manifest changed, restarting system %s", r.sys.RunID())
		if err := r.stopLocked(); err != nil {
			r.logger.Error("Errors while stopping previous system: %v", err)
		}
	}

	r.sys = next
	if err := next.Start(ctx); err != nil {
		r.logger.Error("System failed to start: %v", err)
		if stopErr := r.stopLocked(); stopErr != nil {
			r.logger.Error("Errors while unwinding failed start: %v", stopErr)
		}
		return err
	}
	r.logger.Info("System %s started with %d components (entrypoints: %s)",
		next.RunID(), len(next.Order()), describeEntrypoints(next.Entrypoints()))
	return nil
}

func describeEntrypoints(ids []component.ID) string {
	if len(ids) == 0 {
		return "auto"
	}
	names := make([]string, len(ids))
	for i, id := range ids {
		names[i] = string(id)
	}
	return strings.Join(names, ", ")
}

// shutdown stops the current system. Later calls to apply fail with
// errRunnerClosed.
func (r *runner) shutdown() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return r.stopLocked()
}

func (r *runner) stopLocked() error {
	if r.sys == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err := r.sys.Stop(ctx)
	r.sys = nil
	return err
}

func (r *runner) watch(ctx context.Context) error {
	w, err := config.NewWatcher[*manifest.File](
		config.WatcherConfig{FilePath: r.cfg.Manifest, Debounce: r.cfg.WatchDebounce},
		manifest.Load,
		func(f *manifest.File) error { return r.apply(ctx, f) },
	)
	if err != nil {
		return err
	}

	if err := w.Start(ctx); err != nil {
		return err
	}
	r.logger.Info("Watching %s for changes", r.cfg.Manifest)

	<-ctx.Done()
	r.logger.Info("Shutdown signal received, gracefully shutting down...")

	if err := w.Stop(); err != nil {
		r.logger.Warn("Error stopping manifest watcher: %v", err)
	}
	return r.shutdown()
}
