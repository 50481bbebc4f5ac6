package watch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/ppiankov/filedrop/internal/config"
	"github.com/ppiankov/filedrop/internal/degrade"
	"github.com/ppiankov/filedrop/internal/metrics"
)

// dirPerm is the permission for registry-created directories.
const dirPerm = 0o750

// Options wires a Registry.
type Options struct {
	Dispatcher Dispatcher
	Degrade    *degrade.Manager
	Metrics    *metrics.Registry
	Log        *slog.Logger
	// Budget bounds how long a worker may keep its in-flight job during
	// drain, on top of its poll interval.
	Budget time.Duration
}

// Registry owns the per-configuration workers. All methods are safe
// for concurrent callers.
type Registry struct {
	opts Options

	mu      sync.Mutex
	ctx     context.Context
	workers map[string]*worker
	stats   map[string]*statsCell
	running bool
}

// NewRegistry creates a stopped registry. Call Start before Register.
func NewRegistry(opts Options) *Registry {
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	if opts.Budget <= 0 {
		opts.Budget = 10 * time.Minute
	}
	return &Registry{
		opts:    opts,
		workers: make(map[string]*worker),
		stats:   make(map[string]*statsCell),
	}
}

// Start accepts registrations and anchors worker lifetimes to ctx.
func (r *Registry) Start(ctx context.Context) {
	r.mu.Lock()
	r.ctx = ctx
	r.running = true
	r.mu.Unlock()
}

// IsRunning reports whether the registry accepts registrations.
func (r *Registry) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Register validates the configuration, ensures its directories, and
// starts a worker. A disabled configuration registers as a no-op.
// Re-registering a name drains the prior worker before installing the
// replacement.
func (r *Registry) Register(cfg *config.WatchConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := ensureDir(cfg.WatchDir); err != nil {
		return err
	}
	if err := ensureDir(cfg.EffectiveCompletedDir()); err != nil {
		return err
	}
	if err := ensureDir(cfg.EffectiveErrorDir()); err != nil {
		return err
	}

	if !cfg.Enabled {
		r.opts.Log.Info("configuration disabled, not watching", "config", cfg.Name)
		return nil
	}

	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return fmt.Errorf("registry is not running")
	}
	prior := r.workers[cfg.Name]
	ctx := r.ctx
	r.mu.Unlock()

	// Drain outside the lock so other configs keep moving.
	if prior != nil {
		prior.stop(prior.cfg.PollInterval() + r.opts.Budget)
	}

	cell := r.statsCell(cfg.Name)
	w := newWorker(cfg, r.opts.Dispatcher, r.opts.Degrade, r.opts.Metrics, r.opts.Log, cell)

	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return fmt.Errorf("registry is not running")
	}
	r.workers[cfg.Name] = w
	r.opts.Metrics.Set(metrics.ActiveConfigurations, int64(len(r.workers)), nil)
	r.mu.Unlock()

	w.start(ctx)
	return nil
}

// Unregister stops and drains the named worker. Idempotent.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	w := r.workers[name]
	delete(r.workers, name)
	r.opts.Metrics.Set(metrics.ActiveConfigurations, int64(len(r.workers)), nil)
	r.mu.Unlock()

	if w != nil {
		w.stop(w.cfg.PollInterval() + r.opts.Budget)
	}
}

// Pause aborts the named worker's next scan; the in-flight job finishes.
func (r *Registry) Pause(name string) error {
	w := r.worker(name)
	if w == nil {
		return fmt.Errorf("no watch registered as %q", name)
	}
	w.pause()
	return nil
}

// Resume re-enables the named worker's scans.
func (r *Registry) Resume(name string) error {
	w := r.worker(name)
	if w == nil {
		return fmt.Errorf("no watch registered as %q", name)
	}
	w.resume()
	return nil
}

// WatchStatus snapshots worker states by configuration name.
func (r *Registry) WatchStatus() map[string]WorkerState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]WorkerState, len(r.workers))
	for name := range r.workers {
		out[name] = r.stats[name].status()
	}
	return out
}

// Statistics snapshots per-configuration statistics.
func (r *Registry) Statistics() map[string]Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]Stats, len(r.stats))
	for name, cell := range r.stats {
		out[name] = cell.snapshot()
	}
	return out
}

// GlobalStatistics aggregates counters across all configurations.
func (r *Registry) GlobalStatistics() Stats {
	var g Stats
	var latest time.Time
	for _, s := range r.Statistics() {
		g.TotalProcessed += s.TotalProcessed
		g.Successful += s.Successful
		g.Failed += s.Failed
		g.Skipped += s.Skipped
		if s.LastProcessingTime.After(latest) {
			latest = s.LastProcessingTime
		}
	}
	g.LastProcessingTime = latest
	return g
}

// Healthy reports overall watcher health: the registry must be running
// and every worker RUNNING or PAUSED. The detail map carries per-worker
// states for the health surface.
func (r *Registry) Healthy() (bool, map[string]string) {
	detail := make(map[string]string)
	ok := r.IsRunning()
	for name, st := range r.WatchStatus() {
		detail[name] = string(st)
		if st != StateRunning && st != StatePaused {
			ok = false
		}
	}
	return ok, detail
}

// Shutdown stops accepting registrations and drains every worker.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	r.running = false
	workers := make([]*worker, 0, len(r.workers))
	for _, w := range r.workers {
		workers = append(workers, w)
	}
	r.workers = make(map[string]*worker)
	r.opts.Metrics.Set(metrics.ActiveConfigurations, 0, nil)
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, w := range workers {
		wg.Add(1)
		go func(w *worker) {
			defer wg.Done()
			w.stop(w.cfg.PollInterval() + r.opts.Budget)
		}(w)
	}
	wg.Wait()
}

func (r *Registry) worker(name string) *worker {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.workers[name]
}

// statsCell returns the named cell, creating it on first registration
// so counters survive re-registration.
func (r *Registry) statsCell(name string) *statsCell {
	r.mu.Lock()
	defer r.mu.Unlock()
	cell := r.stats[name]
	if cell == nil {
		cell = newStatsCell()
		r.stats[name] = cell
	}
	return cell
}

// ensureDir creates the directory if absent and rejects pre-existing
// non-directories.
func ensureDir(path string) error {
	info, err := os.Stat(path)
	if err == nil {
		if !info.IsDir() {
			return fmt.Errorf("%s exists and is not a directory", path)
		}
		return nil
	}
	if !os.IsNotExist(err) {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if err := os.MkdirAll(path, dirPerm); err != nil {
		return fmt.Errorf("create directory %s: %w", path, err)
	}
	return nil
}
