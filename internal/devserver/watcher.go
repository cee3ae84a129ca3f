package devserver

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"git.home.luguber.info/inful/assetbuilder/internal/events"
	ferrors "git.home.luguber.info/inful/assetbuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/assetbuilder/internal/logfields"
)

// Watcher turns filesystem events under a set of roots into debounced
// ChangeDetected events on the bus.
type Watcher struct {
	fsw      *fsnotify.Watcher
	bus      *events.Bus
	skip     []string
	debounce time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	pending map[string]struct{}
	timer   *time.Timer
}

// WatcherOptions configure a Watcher.
type WatcherOptions struct {
	// Roots are watched recursively. Missing roots are ignored.
	Roots []string
	// Skip lists directories whose changes never trigger a rebuild, such as
	// an output root inside the source tree.
	Skip     []string
	Debounce time.Duration
	Bus      *events.Bus
	Logger   *slog.Logger
}

// NewWatcher starts watching the configured roots.
func NewWatcher(opts WatcherOptions) (*Watcher, error) {
	if opts.Bus == nil {
		return nil, ferrors.ValidationError("watcher requires an event bus").Build()
	}
	if opts.Debounce <= 0 {
		return nil, ferrors.ValidationError("debounce must be > 0").Build()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryFileSystem, "create file watcher").Build()
	}
	w := &Watcher{
		fsw:      fsw,
		bus:      opts.Bus,
		debounce: opts.Debounce,
		logger:   logger,
		pending:  map[string]struct{}{},
	}
	for _, s := range opts.Skip {
		if abs, err := filepath.Abs(s); err == nil {
			w.skip = append(w.skip, abs)
		}
	}
	for _, root := range opts.Roots {
		if fi, err := os.Stat(root); err != nil || !fi.IsDir() {
			logger.Warn("Watch root is not a directory", logfields.Path(root))
			continue
		}
		w.addRecursive(root)
	}
	return w, nil
}

// Run forwards filesystem events until ctx is done or the watcher is closed.
func (w *Watcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			w.stopTimer()
			return nil
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handle(ctx, ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("File watcher error", logfields.Error(err))
		}
	}
}

// Close stops watching.
func (w *Watcher) Close() error {
	w.stopTimer()
	return w.fsw.Close()
}

func (w *Watcher) handle(ctx context.Context, ev fsnotify.Event) {
	if ev.Op == fsnotify.Chmod || w.ignored(ev.Name) {
		return
	}
	if ev.Op.Has(fsnotify.Create) {
		if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
			w.addRecursive(ev.Name)
		}
	}
	w.logger.Debug("File change detected", logfields.Path(ev.Name), slog.String("op", ev.Op.String()))

	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending[ev.Name] = struct{}{}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() { w.flush(ctx) })
}

func (w *Watcher) flush(ctx context.Context) {
	w.mu.Lock()
	paths := make([]string, 0, len(w.pending))
	for p := range w.pending {
		paths = append(paths, p)
	}
	w.pending = map[string]struct{}{}
	w.timer = nil
	w.mu.Unlock()
	if len(paths) == 0 {
		return
	}
	sort.Strings(paths)
	if err := w.bus.Publish(ctx, events.ChangeDetected{Paths: paths, DetectedAt: time.Now()}); err != nil && ctx.Err() == nil {
		w.logger.Warn("Failed to publish change event", logfields.Error(err))
	}
}

func (w *Watcher) stopTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}

func (w *Watcher) addRecursive(root string) {
	_ = filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if p != root && (strings.HasPrefix(d.Name(), ".") || d.Name() == "node_modules" || w.skipped(p)) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(p); err != nil {
			w.logger.Warn("Failed to watch directory", logfields.Path(p), logfields.Error(err))
		}
		return nil
	})
}

func (w *Watcher) skipped(p string) bool {
	abs, err := filepath.Abs(p)
	if err != nil {
		return false
	}
	for _, s := range w.skip {
		if abs == s || strings.HasPrefix(abs, s+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// ignored reports events for hidden, editor temporary and skipped files.
func (w *Watcher) ignored(p string) bool {
	if w.skipped(p) {
		return true
	}
	base := filepath.Base(p)
	switch {
	case strings.HasPrefix(base, "."):
		return true
	case strings.HasSuffix(base, "~"), strings.HasSuffix(base, ".swp"), strings.HasSuffix(base, ".swx"):
		return true
	case strings.HasPrefix(base, "#") && strings.HasSuffix(base, "#"):
		return true
	case base == "Thumbs.db" || base == "4913":
		return true
	}
	return false
}
