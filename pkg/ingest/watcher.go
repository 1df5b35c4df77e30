// Package ingest localizes recording sessions as they land on disk.
//
// A recorder writes each session into its own directory under a root and
// creates a marker file (default "done") once every microphone file is
// complete. The Watcher notices the marker and hands the directory to a
// Handler exactly once.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// DefaultMarker is the file name that marks a session directory complete.
const DefaultMarker = "done"

// ErrNoRoot is returned when the watched root is empty or not a directory.
var ErrNoRoot = errors.New("ingest: root is not a directory")

// Handler processes one complete session directory.
type Handler func(ctx context.Context, dir string) error

// Config configures a Watcher.
type Config struct {
	Root            string `yaml:"root"`
	Marker          string `yaml:"marker"`
	ProcessExisting bool   `yaml:"process_existing"` // handle marked directories present at startup
	Queue           int    `yaml:"queue"`
}

// DefaultConfig returns the default watch configuration for root.
func DefaultConfig(root string) Config {
	return Config{
		Root:            root,
		Marker:          DefaultMarker,
		ProcessExisting: true,
		Queue:           16,
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Marker == "" {
		c.Marker = DefaultMarker
	}
	if c.Queue <= 0 {
		c.Queue = 16
	}
	info, err := os.Stat(c.Root)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("%w: %q", ErrNoRoot, c.Root)
	}
	return nil
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets the watcher logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// Watcher dispatches completed session directories to a Handler.
type Watcher struct {
	cfg     Config
	handler Handler
	logger  *slog.Logger

	mu   sync.Mutex
	seen map[string]bool
	jobs chan string
}

// New creates a Watcher. It does not touch the filesystem until Run.
func New(cfg Config, handler Handler, opts ...Option) (*Watcher, error) {
	if handler == nil {
		return nil, errors.New("ingest: nil handler")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	w := &Watcher{
		cfg:     cfg,
		handler: handler,
		logger:  slog.Default(),
		seen:    make(map[string]bool),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With("component", "ingest", "root", cfg.Root)
	return w, nil
}

// Run watches the root until ctx is done. Handler errors are logged and do
// not stop the watcher. Sessions are handled one at a time in arrival order.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(w.cfg.Root); err != nil {
		return fmt.Errorf("watch %s: %w", w.cfg.Root, err)
	}

	w.jobs = make(chan string, w.cfg.Queue)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.work(ctx)
	}()
	defer func() {
		close(w.jobs)
		wg.Wait()
	}()

	entries, err := os.ReadDir(w.cfg.Root)
	if err != nil {
		return fmt.Errorf("read %s: %w", w.cfg.Root, err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(w.cfg.Root, e.Name())
		if err := fsw.Add(dir); err != nil {
			w.logger.Warn("watch session dir", "dir", dir, "error", err)
			continue
		}
		if w.cfg.ProcessExisting {
			w.checkMarker(ctx, dir)
		} else if w.hasMarker(dir) {
			w.markSeen(dir)
		}
	}

	w.logger.Info("watching for sessions", "marker", w.cfg.Marker)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(ctx, fsw, event)

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", "error", err)
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, fsw *fsnotify.Watcher, event fsnotify.Event) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return
	}
	parent := filepath.Dir(event.Name)

	// New session directory: watch it, then look for a marker that beat the watch.
	if parent == filepath.Clean(w.cfg.Root) && event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := fsw.Add(event.Name); err != nil {
				w.logger.Warn("watch session dir", "dir", event.Name, "error", err)
			}
			w.checkMarker(ctx, event.Name)
		}
		return
	}

	if filepath.Base(event.Name) == w.cfg.Marker && filepath.Dir(parent) == filepath.Clean(w.cfg.Root) {
		w.enqueue(ctx, parent)
	}
}

func (w *Watcher) hasMarker(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, w.cfg.Marker))
	return err == nil
}

func (w *Watcher) checkMarker(ctx context.Context, dir string) {
	if w.hasMarker(dir) {
		w.enqueue(ctx, dir)
	}
}

// markSeen records dir and reports whether it was new.
func (w *Watcher) markSeen(dir string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.seen[dir] {
		return false
	}
	w.seen[dir] = true
	return true
}

func (w *Watcher) enqueue(ctx context.Context, dir string) {
	if !w.markSeen(dir) {
		return
	}
	w.logger.Debug("session ready", "dir", dir)
	select {
	case w.jobs <- dir:
	case <-ctx.Done():
	}
}

func (w *Watcher) work(ctx context.Context) {
	for dir := range w.jobs {
		if ctx.Err() != nil {
			continue
		}
		if err := w.handler(ctx, dir); err != nil {
			w.logger.Error("session failed", "dir", dir, "error", err)
			continue
		}
		w.logger.Info("session processed", "dir", dir)
	}
}
