package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ppiankov/filedrop/internal/breaker"
	"github.com/ppiankov/filedrop/internal/degrade"
	"github.com/ppiankov/filedrop/internal/faults"
	"github.com/ppiankov/filedrop/internal/files"
	"github.com/ppiankov/filedrop/internal/metrics"
	"github.com/ppiankov/filedrop/internal/retry"
	"github.com/ppiankov/filedrop/internal/trace"
)

// DependencyAware lets a processor name the external dependency whose
// circuit breaker should gate its execution. Processors without it run
// under the external breaker.
type DependencyAware interface {
	Dependency() string
}

// Recorder receives every terminal result, e.g. for the audit trail.
type Recorder interface {
	RecordResult(job Job, res Result)
}

// Options wires a Pipeline.
type Options struct {
	Registry *Registry
	Files    *files.Manager
	Metrics  *metrics.Registry
	Breakers *breaker.Registry
	Policies *retry.Policies
	Handler  *faults.Handler
	Degrade  *degrade.Manager
	Recorder Recorder // optional
	Log      *slog.Logger
	Budget   time.Duration // per-job processing budget
}

// Pipeline drives one file from dispatch to its terminal move.
type Pipeline struct {
	opts Options
}

// New creates a pipeline.
func New(opts Options) *Pipeline {
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	if opts.Budget <= 0 {
		opts.Budget = 10 * time.Minute
	}
	return &Pipeline{opts: opts}
}

// Dispatch processes one job to a terminal state. The returned result
// always reflects where the file ended up; Dispatch never returns an
// error — failures are result-shaped. A panic raised inside a processor
// is not recovered.
func (p *Pipeline) Dispatch(ctx context.Context, job Job) Result {
	cfg := job.Config
	base := filepath.Base(job.Path)
	ctx = trace.WithCorrelation(ctx, job.CorrelationID)
	log := trace.Logger(ctx, p.opts.Log).With("config", cfg.Name, "file", base)
	start := time.Now()

	// Divert straight to the queue while the database is unavailable.
	if p.databaseUnavailable() {
		return p.queueJob(job, log)
	}

	proc, selErr := p.opts.Registry.Select(cfg)
	if selErr != nil {
		res := p.failJob(job, selErr, time.Since(start), log)
		return p.finish(job, res, log)
	}

	jctx, cancel := context.WithTimeout(ctx, p.opts.Budget)
	defer cancel()

	// Read phase: source I/O runs under the filesystem breaker so a
	// sustained run of read failures opens it without polluting the
	// sink breakers' windows.
	fsBr := p.opts.Breakers.Filesystem()
	readOnce := func() error {
		return fsBr.Execute(func() error {
			data, rerr := os.ReadFile(job.Path)
			if rerr != nil {
				return faults.Categorize(fmt.Errorf("read %s: %w", base, rerr), faults.CategoryFileSystem)
			}
			job.Data = data
			return nil
		}, func(err error) error { return err })
	}

	err := readOnce()
	if err != nil {
		if errors.Is(err, breaker.ErrOpen) {
			// Filesystem gate closed; leave the file for a later tick.
			log.Warn("source read rejected by filesystem breaker")
			return Failure(base, cfg.ProcessorType, err.Error(), time.Since(start))
		}
		d := p.opts.Handler.Handle(cfg.Name, "read", err)
		if retriable(d.Strategy) {
			err = p.opts.Policies.ForCategory(d.Category).ResumeDo(jctx, p.opts.Metrics, err, readOnce)
		}
		if err != nil {
			if errors.Is(err, breaker.ErrOpen) || jctx.Err() != nil {
				return Failure(base, cfg.ProcessorType, err.Error(), time.Since(start))
			}
			res := p.failJob(job, err, time.Since(start), log)
			return p.finish(job, res, log)
		}
	}

	br := p.breakerFor(proc)
	var res Result
	execOnce := func() error {
		return br.Execute(func() error {
			r, err := proc.Process(jctx, job)
			if err != nil {
				return err
			}
			res = r
			return nil
		}, func(err error) error { return err })
	}

	err = execOnce()
	if err != nil {
		// The breaker may have opened between the availability check
		// and execution; those jobs queue rather than fail.
		if errors.Is(err, breaker.ErrOpen) {
			return p.queueJob(job, log)
		}

		d := p.opts.Handler.Handle(cfg.Name, "process", err)
		if retriable(d.Strategy) {
			pol := p.opts.Policies.ForCategory(d.Category)
			err = pol.ResumeDo(jctx, p.opts.Metrics, err, execOnce)
			if errors.Is(err, breaker.ErrOpen) {
				return p.queueJob(job, log)
			}
		}
	}

	// Budget exhaustion or shutdown abandons the job without a move:
	// the file stays in place and is re-detected on the next tick.
	if err != nil && jctx.Err() != nil {
		p.opts.Metrics.Inc(metrics.FilesAbandoned, metrics.Labels{"config": cfg.Name})
		log.Warn("job abandoned", "error", err)
		return Failure(base, proc.Type(), err.Error(), time.Since(start))
	}

	if err != nil {
		res = p.failJob(job, err, time.Since(start), log)
	} else {
		res.ProcessorType = proc.Type()
		if res.Filename == "" {
			res.Filename = base
		}
		if res.Duration == 0 {
			res.Duration = time.Since(start)
		}
	}

	return p.finish(job, res, log)
}

// databaseUnavailable reports whether new work must divert to the queue.
func (p *Pipeline) databaseUnavailable() bool {
	if p.opts.Degrade.GlobalDegradation() {
		return true
	}
	return p.opts.Breakers.Database().State() == breaker.Open
}

// queueJob moves the file into the degradation queue.
func (p *Pipeline) queueJob(job Job, log *slog.Logger) Result {
	base := filepath.Base(job.Path)
	queued, err := p.opts.Degrade.HandleDatabaseUnavailable(job.Path, job.Config)
	if err != nil {
		// Leave the file in place; the next tick retries the enqueue.
		log.Error("could not queue file during degradation", "error", err)
		return Failure(base, job.Config.ProcessorType, err.Error(), 0)
	}
	res := Skipped(base, job.Config.ProcessorType, "database_unavailable")
	res.FinalPath = queued
	if p.opts.Recorder != nil {
		p.opts.Recorder.RecordResult(job, res)
	}
	return res
}

// failJob shapes a failure result from an error, recording it in the
// error metrics.
func (p *Pipeline) failJob(job Job, err error, elapsed time.Duration, log *slog.Logger) Result {
	cat := faults.Classify(err)
	p.opts.Metrics.Inc(metrics.Errors, metrics.Labels{
		"category": string(cat),
		"context":  job.Config.Name,
	})
	log.Error("job failed", "category", string(cat), "error", err)
	return Failure(filepath.Base(job.Path), job.Config.ProcessorType, err.Error(), elapsed)
}

// finish performs the terminal file move, emits result metrics, and
// records the outcome.
func (p *Pipeline) finish(job Job, res Result, log *slog.Logger) Result {
	cfg := job.Config

	switch res.Status {
	case StatusFailure:
		dest, err := p.gatedMove(func() (string, error) {
			return p.opts.Files.MoveToError(job.Path, res.ErrorMessage, cfg.EffectiveErrorDir())
		})
		if err != nil {
			// The file stays put and is re-detected next tick.
			p.opts.Metrics.Inc(metrics.MoveToErrorFailed, metrics.Labels{"config": cfg.Name})
			log.Error("move to error directory failed", "error", err)
		} else {
			res.FinalPath = dest
		}
	default:
		dest, err := p.gatedMove(func() (string, error) {
			return p.opts.Files.MoveToCompleted(job.Path, cfg.EffectiveCompletedDir())
		})
		if err != nil {
			p.opts.Metrics.Inc(metrics.MoveFailed, metrics.Labels{"config": cfg.Name})
			log.Error("move to completed directory failed", "error", err)
			res = Failure(res.Filename, res.ProcessorType, err.Error(), res.Duration)
		} else {
			res.FinalPath = dest
		}
	}

	p.opts.Metrics.Inc(metrics.FilesProcessed, metrics.Labels{"status": string(res.Status)})
	p.opts.Metrics.Observe(metrics.ProcessingDuration, res.Duration, metrics.Labels{"config": cfg.Name})

	if p.opts.Recorder != nil {
		p.opts.Recorder.RecordResult(job, res)
	}
	log.Info("job finished", "status", string(res.Status), "duration", res.Duration.Round(time.Millisecond), "dest", res.FinalPath)
	return res
}

// gatedMove runs a terminal move under the filesystem breaker so
// sustained move failures open it.
func (p *Pipeline) gatedMove(mv func() (string, error)) (string, error) {
	var dest string
	err := p.opts.Breakers.Filesystem().Execute(func() error {
		d, merr := mv()
		dest = d
		return merr
	}, func(err error) error { return err })
	return dest, err
}

// breakerFor picks the breaker gating this processor's dependency.
func (p *Pipeline) breakerFor(proc Processor) *breaker.Breaker {
	name := breaker.NameExternal
	if da, ok := proc.(DependencyAware); ok {
		name = da.Dependency()
	}
	if b := p.opts.Breakers.ByName(name); b != nil {
		return b
	}
	return p.opts.Breakers.External()
}

// retriable reports whether the strategy allows another attempt.
func retriable(s faults.RecoveryStrategy) bool {
	switch s {
	case faults.ExponentialBackoff, faults.LinearBackoff, faults.SimpleRetry:
		return true
	default:
		return false
	}
}
