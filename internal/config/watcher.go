package config

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/moolen/ordo/internal/logging"
)

// LoadFunc parses the watched file.
type LoadFunc[T any] func(path string) (T, error)

// ReloadCallback is called with every successfully loaded version of the
// file. An error is logged; the watcher keeps running.
type ReloadCallback[T any] func(value T) error

// WatcherConfig holds configuration for a Watcher.
type WatcherConfig struct {
	// FilePath is the file to watch
	FilePath string

	// Debounce coalesces change events arriving within this period into one
	// reload. Default: 500ms
	Debounce time.Duration
}

// Watcher watches one file, reloads it on change and hands the result to a
// callback. Reloads are debounced so editor save sequences cause one reload.
// A file that fails to load is logged and skipped; the previous value stays
// in effect.
type Watcher[T any] struct {
	config   WatcherConfig
	load     LoadFunc[T]
	callback ReloadCallback[T]
	logger   *logging.Logger

	cancel  context.CancelFunc
	stopped chan struct{}
	ready   chan struct{} // closed once fsnotify is watching
	mu      sync.Mutex

	debounceTimer *time.Timer
}

// NewWatcher creates a watcher for config.FilePath.
func NewWatcher[T any](config WatcherConfig, load LoadFunc[T], callback ReloadCallback[T]) (*Watcher[T], error) {
	if config.FilePath == "" {
		return nil, fmt.Errorf("FilePath cannot be empty")
	}
	if load == nil {
		return nil, fmt.Errorf("load function cannot be nil")
	}
	if callback == nil {
		return nil, fmt.Errorf("callback cannot be nil")
	}
	if config.Debounce <= 0 {
		config.Debounce = 500 * time.Millisecond
	}

	return &Watcher[T]{
		config:   config,
		load:     load,
		callback: callback,
		logger:   logging.GetLogger("config.watcher").WithField("file", config.FilePath),
		stopped:  make(chan struct{}),
		ready:    make(chan struct{}),
	}, nil
}

// Start loads the file, passes it to the callback and then watches for
// changes in the background. It fails if the initial load or callback fails.
func (w *Watcher[T]) Start(ctx context.Context) error {
	initial, err := w.load(w.config.FilePath)
	if err != nil {
		return fmt.Errorf("failed to load initial file: %w", err)
	}
	if err := w.callback(initial); err != nil {
		return fmt.Errorf("initial callback failed: %w", err)
	}

	watchCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	go w.watchLoop(watchCtx)

	select {
	case <-w.ready:
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(5 * time.Second):
		return fmt.Errorf("timeout waiting for file watcher to initialize")
	}
	return nil
}

func (w *Watcher[T]) signalReady() {
	w.mu.Lock()
	defer w.mu.Unlock()
	select {
	case <-w.ready:
	default:
		close(w.ready)
	}
}

func (w *Watcher[T]) watchLoop(ctx context.Context) {
	defer close(w.stopped)
	defer w.signalReady()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Error("Failed to create file watcher: %v", err)
		return
	}
	defer watcher.Close()

	if err := watcher.Add(w.config.FilePath); err != nil {
		w.logger.Error("Failed to watch file: %v", err)
		return
	}

	w.logger.Debug("Watching for changes (debounce: %dms)", w.config.Debounce.Milliseconds())
	w.signalReady()

	for {
		select {
		case <-ctx.Done():
			w.stopDebounce()
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
				continue
			}
			// Atomic saves replace the inode; watch the new file.
			if event.Has(fsnotify.Rename) || event.Has(fsnotify.Remove) {
				time.Sleep(50 * time.Millisecond)
				if err := watcher.Add(w.config.FilePath); err != nil {
					w.logger.Warn("Failed to re-add watch after %s: %v", event.Op, err)
				}
			}
			w.handleFileChange(ctx)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Watcher error: %v", err)
		}
	}
}

func (w *Watcher[T]) handleFileChange(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(w.config.Debounce, func() {
		w.reload(ctx)
	})
}

func (w *Watcher[T]) stopDebounce() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
}

func (w *Watcher[T]) reload(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	value, err := w.load(w.config.FilePath)
	if err != nil {
		w.logger.Warn("Failed to reload file, keeping previous version: %v", err)
		return
	}

	if err := w.callback(value); err != nil {
		w.logger.Error("Reload callback failed: %v", err)
		return
	}
	w.logger.Info("File reloaded")
}

// Stop stops watching and waits up to five seconds for the watch loop to
// exit.
func (w *Watcher[T]) Stop() error {
	if w.cancel != nil {
		w.cancel()
	}

	select {
	case <-w.stopped:
		return nil
	case <-time.After(5 * time.Second):
		return fmt.Errorf("timeout waiting for watcher to stop")
	}
}
