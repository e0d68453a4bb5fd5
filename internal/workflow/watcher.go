package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/roach88/mnemo/internal/compiler"
)

// DefaultDebounce is how long a file must stay quiet before it is reloaded.
const DefaultDebounce = 200 * time.Millisecond

// Watcher keeps the engine in sync with a directory of workflow documents.
// A written file is recompiled and its workflows registered; a removed file
// unregisters the workflows it defined.
type Watcher struct {
	engine   *Engine
	dir      string
	logger   *slog.Logger
	debounce time.Duration

	mu      sync.Mutex
	pending map[string]time.Time
	byFile  map[string][]string
}

// NewWatcher creates a watcher for dir. A zero debounce uses DefaultDebounce.
func NewWatcher(engine *Engine, dir string, debounce time.Duration, logger *slog.Logger) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		engine:   engine,
		dir:      dir,
		logger:   logger.With("dir", dir),
		debounce: debounce,
		pending:  map[string]time.Time{},
		byFile:   map[string][]string{},
	}
}

// LoadAll registers every workflow in the directory. Files that fail to
// compile are logged and skipped; the returned error joins their failures.
func (w *Watcher) LoadAll(ctx context.Context) (int, error) {
	matches, err := filepath.Glob(filepath.Join(w.dir, "*"))
	if err != nil {
		return 0, fmt.Errorf("scan workflow dir: %w", err)
	}
	var (
		count int
		errs  []error
	)
	for _, path := range matches {
		if !compiler.Supported(path) {
			continue
		}
		n, err := w.reload(ctx, path)
		count += n
		if err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return count, fmt.Errorf("load workflow dir: %w", errors.Join(errs...))
	}
	return count, nil
}

// Run watches the directory until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	w.logger.Info("watching workflow directory")

	ticker := time.NewTicker(w.debounce / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			w.handle(ctx, ev)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("workflow watcher error", "error", err)

		case <-ticker.C:
			w.flush(ctx, time.Now())
		}
	}
}

func (w *Watcher) handle(ctx context.Context, ev fsnotify.Event) {
	if !compiler.Supported(ev.Name) {
		return
	}
	switch {
	case ev.Has(fsnotify.Create), ev.Has(fsnotify.Write):
		w.mu.Lock()
		w.pending[ev.Name] = time.Now()
		w.mu.Unlock()
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		w.mu.Lock()
		delete(w.pending, ev.Name)
		w.mu.Unlock()
		w.forget(ctx, ev.Name)
	}
}

// flush reloads files whose last change is older than the debounce window.
func (w *Watcher) flush(ctx context.Context, now time.Time) {
	var due []string
	w.mu.Lock()
	for path, at := range w.pending {
		if now.Sub(at) >= w.debounce {
			due = append(due, path)
			delete(w.pending, path)
		}
	}
	w.mu.Unlock()

	for _, path := range due {
		if _, err := w.reload(ctx, path); err != nil {
			w.logger.Error("failed to reload workflow file", "path", path, "error", err)
		}
	}
}

// reload compiles path and registers its workflows. Workflows the file
// defined before but no longer does are deleted.
func (w *Watcher) reload(ctx context.Context, path string) (int, error) {
	wfs, err := compiler.LoadFile(path)
	if err != nil {
		return 0, err
	}

	ids := make([]string, 0, len(wfs))
	for _, wf := range wfs {
		if _, err := w.engine.Register(ctx, wf); err != nil {
			return len(ids), err
		}
		ids = append(ids, wf.ID)
	}

	w.mu.Lock()
	previous := w.byFile[path]
	w.byFile[path] = ids
	w.mu.Unlock()

	for _, id := range previous {
		if !slices.Contains(ids, id) {
			w.deleteWorkflow(ctx, id)
		}
	}
	w.logger.Info("loaded workflow file", "path", path, "workflows", len(ids))
	return len(ids), nil
}

func (w *Watcher) forget(ctx context.Context, path string) {
	w.mu.Lock()
	ids := w.byFile[path]
	delete(w.byFile, path)
	w.mu.Unlock()

	for _, id := range ids {
		w.deleteWorkflow(ctx, id)
	}
}

func (w *Watcher) deleteWorkflow(ctx context.Context, id string) {
	if err := w.engine.Delete(ctx, id); err != nil {
		w.logger.Warn("failed to unregister workflow", "workflow_id", id, "error", err)
		return
	}
	w.logger.Info("unregistered workflow", "workflow_id", id)
}
