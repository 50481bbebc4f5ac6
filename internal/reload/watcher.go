// Package reload watches the configuration file and applies watch
// changes to the running registry: new watches register, removed ones
// unregister, changed ones drain and replace. Engine-level settings
// (database, HTTP, globals) still require a restart.
package reload

import (
	"context"
	"log/slog"
	"path/filepath"
	"reflect"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ppiankov/filedrop/internal/config"
)

// debounceDefault coalesces editor write bursts into one reload.
const debounceDefault = 500 * time.Millisecond

// Applier is the slice of the watch registry the reloader drives.
type Applier interface {
	Register(cfg *config.WatchConfig) error
	Unregister(name string)
}

// Watcher applies config file changes to a running registry.
type Watcher struct {
	path     string
	applier  Applier
	log      *slog.Logger
	debounce time.Duration

	current map[string]config.WatchConfig
}

// New creates a reload watcher seeded with the currently applied
// watches.
func New(path string, current []config.WatchConfig, applier Applier, log *slog.Logger) *Watcher {
	if log == nil {
		log = slog.Default()
	}
	cur := make(map[string]config.WatchConfig, len(current))
	for _, w := range current {
		cur[w.Name] = w
	}
	return &Watcher{
		path:     path,
		applier:  applier,
		log:      log,
		debounce: debounceDefault,
		current:  cur,
	}
}

// Run blocks until ctx is cancelled, reloading on file changes. The
// parent directory is watched because editors and config management
// replace files by rename.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = fw.Close() }()

	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return err
	}

	// Single debounce timer, reset on each event. Initialized stopped.
	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	target := filepath.Base(w.path)
	for {
		select {
		case <-ctx.Done():
			return nil

		case <-timer.C:
			w.reload()

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(w.debounce)

		case _, ok := <-fw.Errors:
			if !ok {
				return nil
			}
		}
	}
}

// reload loads the file and applies the watch diff. A config that no
// longer parses or validates is rejected wholesale; the running state
// is left untouched.
func (w *Watcher) reload() {
	cfg, err := config.Load(w.path)
	if err != nil {
		w.log.Error("config reload rejected", "error", err)
		return
	}
	w.Apply(cfg.Watches)
}

// Apply reconciles the desired watch set against the applied one.
func (w *Watcher) Apply(desired []config.WatchConfig) {
	seen := make(map[string]bool, len(desired))
	for i := range desired {
		next := desired[i]
		seen[next.Name] = true

		prev, exists := w.current[next.Name]
		if exists && reflect.DeepEqual(prev, next) {
			continue
		}

		if !next.Enabled {
			if exists {
				w.applier.Unregister(next.Name)
				delete(w.current, next.Name)
				w.log.Info("watch disabled on reload", "config", next.Name)
			}
			continue
		}

		if err := w.applier.Register(&next); err != nil {
			w.log.Error("watch rejected on reload", "config", next.Name, "error", err)
			continue
		}
		w.current[next.Name] = next
		if exists {
			w.log.Info("watch replaced on reload", "config", next.Name)
		} else {
			w.log.Info("watch added on reload", "config", next.Name)
		}
	}

	for name := range w.current {
		if !seen[name] {
			w.applier.Unregister(name)
			delete(w.current, name)
			w.log.Info("watch removed on reload", "config", name)
		}
	}
}
