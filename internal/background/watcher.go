package background

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchDebounce coalesces bursts of filesystem events into a single
// reload (spec §4.10: "debounced (300ms)").
const watchDebounce = 300 * time.Millisecond

// Watcher watches the directories containing scenarios.json and
// config.json and debounces write/create/rename events into a single
// Reload call (spec §4.10). It must tolerate seeing its own atomic
// writes — the caller's Reload is expected to be a harmless no-op when
// the freshly-loaded content is unchanged.
type Watcher struct {
	watcher *fsnotify.Watcher
	logger  *slog.Logger
	paths   map[string]bool // basenames this Watcher cares about

	mu      sync.Mutex
	pending *time.Timer
}

// NewWatcher builds a Watcher over the directories containing each of
// paths (typically SCENARIO_FILE and CONFIG_FILE).
func NewWatcher(logger *slog.Logger, paths ...string) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	dirs := map[string]bool{}
	names := map[string]bool{}
	for _, p := range paths {
		dirs[filepath.Dir(p)] = true
		names[filepath.Base(p)] = true
	}
	for dir := range dirs {
		if err := fw.Add(dir); err != nil {
			fw.Close()
			return nil, err
		}
	}

	return &Watcher{watcher: fw, logger: logger, paths: names}, nil
}

// Run watches for events and calls reload (debounced) until ctx is
// cancelled.
func (w *Watcher) Run(ctx context.Context, reload func()) {
	defer w.watcher.Close()
	for {
		select {
		case <-ctx.Done():
			w.mu.Lock()
			if w.pending != nil {
				w.pending.Stop()
			}
			w.mu.Unlock()
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event, reload)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("file watcher error", "error", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event, reload func()) {
	if !w.paths[filepath.Base(event.Name)] {
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pending != nil {
		w.pending.Stop()
	}
	w.pending = time.AfterFunc(watchDebounce, reload)
}

// ContentEquals reports whether the bytes at path are byte-identical to
// prior. The Watcher and the daemon's reload path do not call it: every
// debounced event triggers a reload, including one caused by this same
// process's own atomic write.
func ContentEquals(path string, prior []byte) bool {
	current, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	return string(current) == string(prior)
}
