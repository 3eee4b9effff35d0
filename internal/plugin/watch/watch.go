// Package watch reports changes to plugin locations so a manager can
// refresh its registry.
//
// A Watcher observes each location and the unit directories inside it.
// Bursts of filesystem events are coalesced into a single Change once the
// location has been quiet for the debounce delay. Changes are delivered on
// a channel; the goroutine that owns the plugin manager consumes them, so
// the manager itself is never called from the watcher's goroutines.
package watch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/aion-project/aion/internal/plugin"
)

// Watcher errors.
var (
	ErrClosed       = errors.New("watcher is closed")
	ErrPathNotExist = errors.New("path does not exist")
)

// DefaultDelay is the debounce delay used when none is configured.
const DefaultDelay = 250 * time.Millisecond

// Change is a coalesced batch of modified paths.
type Change struct {
	Paths []string
	Time  time.Time
}

// Watcher watches plugin locations for unit changes.
type Watcher struct {
	mu sync.Mutex

	fsw    *fsnotify.Watcher
	delay  time.Duration
	logger *zap.Logger

	paths   map[string]bool
	pending map[string]struct{}
	timer   *time.Timer

	changes chan Change
	errors  chan error

	closed   bool
	closeCh  chan struct{}
	closedWg sync.WaitGroup
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDelay sets the debounce delay.
func WithDelay(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.delay = d
		}
	}
}

// WithLogger sets the watcher's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// New creates a watcher. Nothing is watched until Add is called.
func New(opts ...Option) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		fsw:     fsw,
		delay:   DefaultDelay,
		logger:  zap.NewNop(),
		paths:   make(map[string]bool),
		pending: make(map[string]struct{}),
		changes: make(chan Change, 16),
		errors:  make(chan error, 16),
		closeCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	w.closedWg.Add(1)
	go w.processLoop()
	return w, nil
}

// Add watches a location and the unit directories directly inside it.
func (w *Watcher) Add(location string) error {
	abs, err := filepath.Abs(location)
	if err != nil {
		return err
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrPathNotExist
		}
		return err
	}
	if !info.IsDir() {
		return w.watch(abs)
	}

	if err := w.watch(abs); err != nil {
		return err
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() && plugin.IsCandidateName(e.Name(), true) {
			if err := w.watch(filepath.Join(abs, e.Name())); err != nil {
				w.logger.Warn("unit directory not watched",
					zap.String("path", filepath.Join(abs, e.Name())),
					zap.Error(err))
			}
		}
	}
	return nil
}

func (w *Watcher) watch(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrClosed
	}
	if w.paths[path] {
		return nil
	}
	if err := w.fsw.Add(path); err != nil {
		return err
	}
	w.paths[path] = true
	return nil
}

// WatchedPaths returns the watched directories, sorted.
func (w *Watcher) WatchedPaths() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]string, 0, len(w.paths))
	for p := range w.paths {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}

// Changes returns the channel of coalesced changes. It is closed by Close.
func (w *Watcher) Changes() <-chan Change {
	return w.changes
}

// Errors returns the channel of watch errors. It is closed by Close.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

// Run calls handle for every change on the calling goroutine until ctx is
// done or the watcher is closed. Watch errors are logged.
func (w *Watcher) Run(ctx context.Context, handle func(Change)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case c, ok := <-w.changes:
			if !ok {
				return nil
			}
			handle(c)
		case err, ok := <-w.errors:
			if !ok {
				return nil
			}
			w.logger.Warn("plugin watch error", zap.Error(err))
		}
	}
}

// Close stops the watcher. Pending changes are discarded.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.closeCh)
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()

	w.closedWg.Wait()

	w.mu.Lock()
	close(w.changes)
	close(w.errors)
	w.mu.Unlock()

	return w.fsw.Close()
}

func (w *Watcher) processLoop() {
	defer w.closedWg.Done()

	for {
		select {
		case <-w.closeCh:
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			select {
			case w.errors <- err:
			default:
			}
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	if !relevant(ev) {
		return
	}

	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			// new unit directory
			if err := w.watch(ev.Name); err != nil && !errors.Is(err, ErrClosed) {
				w.logger.Warn("unit directory not watched", zap.String("path", ev.Name), zap.Error(err))
			}
		}
	}
	if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
		w.mu.Lock()
		delete(w.paths, ev.Name)
		w.mu.Unlock()
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.pending[ev.Name] = struct{}{}
	w.arm()
}

// arm (re)starts the debounce timer. Must hold mu.
func (w *Watcher) arm() {
	if w.timer == nil {
		w.timer = time.AfterFunc(w.delay, w.flush)
		return
	}
	w.timer.Reset(w.delay)
}

func (w *Watcher) flush() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed || len(w.pending) == 0 {
		return
	}
	paths := make([]string, 0, len(w.pending))
	for p := range w.pending {
		paths = append(paths, p)
	}
	slices.Sort(paths)

	select {
	case w.changes <- Change{Paths: paths, Time: time.Now()}:
		clear(w.pending)
	default:
		// consumer is behind; keep the paths and try again later
		w.arm()
	}
}

// relevant filters out events that cannot affect a unit.
func relevant(ev fsnotify.Event) bool {
	if ev.Op == fsnotify.Chmod {
		return false
	}
	base := filepath.Base(ev.Name)
	if base == "" || strings.HasPrefix(base, ".") || strings.HasPrefix(base, "_") {
		return false
	}
	return !strings.HasSuffix(base, "~")
}
