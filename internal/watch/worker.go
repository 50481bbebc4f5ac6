package watch

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ppiankov/filedrop/internal/config"
	"github.com/ppiankov/filedrop/internal/degrade"
	"github.com/ppiankov/filedrop/internal/files"
	"github.com/ppiankov/filedrop/internal/metrics"
	"github.com/ppiankov/filedrop/internal/pipeline"
	"github.com/ppiankov/filedrop/internal/trace"
)

// Dispatcher hands one job to the processing pipeline.
type Dispatcher interface {
	Dispatch(ctx context.Context, job pipeline.Job) pipeline.Result
}

// worker drives one configuration: scan, dispatch serially, sleep.
type worker struct {
	cfg      *config.WatchConfig
	dispatch Dispatcher
	degrade  *degrade.Manager
	reg      *metrics.Registry
	log      *slog.Logger
	stats    *statsCell

	paused atomic.Bool
	cancel context.CancelFunc
	done   chan struct{}

	// nudge wakes the sleep early when the event watcher sees a create.
	nudge chan struct{}
}

func newWorker(cfg *config.WatchConfig, dispatch Dispatcher, dm *degrade.Manager,
	reg *metrics.Registry, log *slog.Logger, stats *statsCell) *worker {
	return &worker{
		cfg:      cfg,
		dispatch: dispatch,
		degrade:  dm,
		reg:      reg,
		log:      log.With("config", cfg.Name),
		stats:    stats,
		done:     make(chan struct{}),
		nudge:    make(chan struct{}, 1),
	}
}

// start launches the worker loop and its event nudger.
func (w *worker) start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	w.cancel = cancel
	go w.watchEvents(ctx)
	go w.run(ctx)
}

// stop requests cancellation and waits up to the drain budget for the
// in-flight job. Returns false if the worker had to be abandoned.
func (w *worker) stop(drain time.Duration) bool {
	w.cancel()
	select {
	case <-w.done:
		return true
	case <-time.After(drain):
		w.log.Warn("worker abandoned after drain timeout", "drain", drain)
		return false
	}
}

// pause aborts the next scan; an in-flight job completes.
func (w *worker) pause() {
	w.paused.Store(true)
	w.stats.setStatus(StatePaused)
}

// resume re-enables scanning.
func (w *worker) resume() {
	w.paused.Store(false)
	w.stats.setStatus(StateRunning)
}

// run is the cooperative polling loop: scan → dispatch each → sleep the
// remainder of the interval. Scans never overlap for one configuration.
func (w *worker) run(ctx context.Context) {
	defer close(w.done)
	defer w.stats.setStatus(StateStopped)

	if !w.paused.Load() {
		w.stats.setStatus(StateRunning)
	}
	w.log.Info("worker started",
		"dir", w.cfg.WatchDir,
		"interval", w.cfg.PollInterval(),
		"patterns", w.cfg.FilePatterns)

	for {
		tickStart := time.Now()

		if !w.paused.Load() {
			w.tick(ctx)
		}

		if ctx.Err() != nil {
			return
		}

		remaining := w.cfg.PollInterval() - time.Since(tickStart)
		if remaining < 0 {
			remaining = 0
		}
		timer := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		case <-w.nudge:
			timer.Stop()
		}
	}
}

// tick performs one scan-and-dispatch pass.
func (w *worker) tick(ctx context.Context) {
	// Replay queued files first so they rejoin this scan in name order.
	if _, err := w.degrade.ProcessQueued(w.cfg); err != nil {
		w.log.Warn("queue replay failed", "error", err)
	}

	cands, err := scanDir(w.cfg.WatchDir, w.cfg.FilePatterns)
	if err != nil {
		// Skip the tick; the loop keeps retrying.
		w.stats.setStatus(StateError)
		w.reg.Inc(metrics.Errors, metrics.Labels{"category": "FILE_SYSTEM", "context": w.cfg.Name})
		w.log.Error("scan failed", "error", err)
		return
	}

	for _, c := range cands {
		if ctx.Err() != nil || w.paused.Load() {
			return
		}
		if !files.IsReadable(c.path) {
			// Still being written or permissions pending; next tick retries.
			continue
		}
		w.reg.Inc(metrics.FilesDetected, metrics.Labels{"config": w.cfg.Name})

		job := pipeline.Job{
			Config:        w.cfg,
			Path:          c.path,
			Size:          c.size,
			DetectedAt:    time.Now(),
			CorrelationID: trace.NewCorrelationID(),
		}
		res := w.dispatch.Dispatch(ctx, job)
		w.stats.recordResult(res.Status, time.Now())
	}

	if !w.paused.Load() && w.stats.status() != StatePaused {
		w.stats.setStatus(StateRunning)
	}
}

// watchEvents nudges the poll loop when the filesystem reports creates
// in the watch directory, trimming detection latency below the poll
// interval. Polling remains the source of truth; any watcher error
// simply leaves the loop on its normal cadence.
func (w *worker) watchEvents(ctx context.Context) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		w.log.Debug("event watcher unavailable, polling only", "error", err)
		return
	}
	defer func() { _ = fw.Close() }()

	if err := fw.Add(w.cfg.WatchDir); err != nil {
		w.log.Debug("event watcher could not add directory", "error", err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-fw.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			select {
			case w.nudge <- struct{}{}:
			default:
			}
		case _, ok := <-fw.Errors:
			if !ok {
				return
			}
		}
	}
}
