package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ppiankov/filedrop/internal/breaker"
	"github.com/ppiankov/filedrop/internal/config"
	"github.com/ppiankov/filedrop/internal/degrade"
	"github.com/ppiankov/filedrop/internal/faults"
	"github.com/ppiankov/filedrop/internal/files"
	"github.com/ppiankov/filedrop/internal/metrics"
	"github.com/ppiankov/filedrop/internal/retry"
)

type fakeProcessor struct {
	typ     string
	calls   int
	process func(ctx context.Context, job Job) (Result, error)
}

func (f *fakeProcessor) Type() string { return f.typ }

func (f *fakeProcessor) Supports(cfg *config.WatchConfig) bool {
	return cfg.ProcessorType == f.typ
}

func (f *fakeProcessor) Process(ctx context.Context, job Job) (Result, error) {
	f.calls++
	return f.process(ctx, job)
}

func (f *fakeProcessor) Dependency() string { return breaker.NameDatabase }

type harness struct {
	pipeline *Pipeline
	reg      *metrics.Registry
	breakers *breaker.Registry
	cfg      *config.WatchConfig
	proc     *fakeProcessor
}

func newHarness(t *testing.T, process func(ctx context.Context, job Job) (Result, error)) *harness {
	t.Helper()
	parent := t.TempDir()
	watchDir := filepath.Join(parent, "drop")
	if err := os.MkdirAll(watchDir, 0o750); err != nil {
		t.Fatal(err)
	}
	cfg := &config.WatchConfig{
		Name:           "sql-inbound",
		ProcessorType:  "sql-script",
		WatchDir:       watchDir,
		FilePatterns:   []string{"*.sql"},
		PollIntervalMs: 5000,
		Enabled:        true,
	}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := metrics.NewRegistry()
	fm := files.NewManager()
	brs := breaker.NewRegistry(reg)
	proc := &fakeProcessor{typ: "sql-script", process: process}
	procs := NewRegistry()
	procs.Register(proc)

	p := New(Options{
		Registry: procs,
		Files:    fm,
		Metrics:  reg,
		Breakers: brs,
		Policies: retry.NewPolicies(retry.Overrides{BaseDelay: time.Millisecond}),
		Handler:  faults.NewHandler(log, nil),
		Degrade:  degrade.NewManager(fm, reg, log),
		Log:      log,
		Budget:   time.Minute,
	})
	return &harness{pipeline: p, reg: reg, breakers: brs, cfg: cfg, proc: proc}
}

func (h *harness) job(t *testing.T, name, content string) Job {
	t.Helper()
	path := filepath.Join(h.cfg.WatchDir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return Job{
		Config:        h.cfg,
		Path:          path,
		Size:          int64(len(content)),
		DetectedAt:    time.Now(),
		CorrelationID: "f-test00000001",
	}
}

func dirNames(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		t.Fatal(err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestDispatchSuccessMovesToCompleted(t *testing.T) {
	h := newHarness(t, func(ctx context.Context, job Job) (Result, error) {
		return Success(filepath.Base(job.Path), "sql-script", 5*time.Millisecond, nil), nil
	})
	job := h.job(t, "batch.sql", "SELECT 1;")

	res := h.pipeline.Dispatch(context.Background(), job)

	if res.Status != StatusSuccess {
		t.Fatalf("status = %s, want SUCCESS", res.Status)
	}
	if _, err := os.Stat(job.Path); !os.IsNotExist(err) {
		t.Error("source remains in watch directory after success")
	}
	names := dirNames(t, h.cfg.EffectiveCompletedDir())
	if len(names) != 1 || !strings.HasPrefix(names[0], "batch_") {
		t.Errorf("completed dir = %v", names)
	}
	if got := h.reg.Counter(metrics.FilesProcessed, metrics.Labels{"status": "SUCCESS"}); got != 1 {
		t.Errorf("files.processed{SUCCESS} = %d, want 1", got)
	}
}

func TestDispatchNoProcessorFailsJob(t *testing.T) {
	h := newHarness(t, func(ctx context.Context, job Job) (Result, error) {
		return Result{}, nil
	})
	h.cfg.ProcessorType = "unknown-type"
	job := h.job(t, "batch.sql", "SELECT 1;")

	res := h.pipeline.Dispatch(context.Background(), job)

	if res.Status != StatusFailure {
		t.Fatalf("status = %s, want FAILURE", res.Status)
	}
	names := dirNames(t, h.cfg.EffectiveErrorDir())
	if len(names) != 1 || !strings.Contains(names[0], "_ERROR_") {
		t.Errorf("error dir = %v", names)
	}
	if h.proc.calls != 0 {
		t.Errorf("processor invoked %d times for unsupported config", h.proc.calls)
	}
}

func TestDispatchRetryExhaustion(t *testing.T) {
	h := newHarness(t, func(ctx context.Context, job Job) (Result, error) {
		return Result{}, faults.New(faults.CategoryDatabase, "database connection failed")
	})
	job := h.job(t, "batch.sql", "SELECT 1;")

	res := h.pipeline.Dispatch(context.Background(), job)

	if h.proc.calls != 3 {
		t.Errorf("processor calls = %d, want exactly 3", h.proc.calls)
	}
	if res.Status != StatusFailure {
		t.Fatalf("status = %s, want FAILURE", res.Status)
	}
	labels := metrics.Labels{"name": retry.PolicyDatabase}
	if got := h.reg.Counter(metrics.RetryAttempts, labels); got < 2 {
		t.Errorf("retry.attempts = %d, want >= 2", got)
	}
	if got := h.reg.Counter(metrics.RetryFailure, labels); got != 1 {
		t.Errorf("retry.failure = %d, want 1", got)
	}
	names := dirNames(t, h.cfg.EffectiveErrorDir())
	if len(names) != 1 || !strings.Contains(names[0], "_ERROR_") {
		t.Errorf("error dir = %v", names)
	}
}

func TestDispatchApplicationErrorNoRetry(t *testing.T) {
	h := newHarness(t, func(ctx context.Context, job Job) (Result, error) {
		return Result{}, faults.New(faults.CategoryApplication, "unbalanced parentheses")
	})
	job := h.job(t, "batch.sql", "SELECT (1;")

	res := h.pipeline.Dispatch(context.Background(), job)

	if h.proc.calls != 1 {
		t.Errorf("processor calls = %d, want 1 for non-retryable error", h.proc.calls)
	}
	if res.Status != StatusFailure {
		t.Fatalf("status = %s", res.Status)
	}
}

func TestDispatchQueuesWhenBreakerOpen(t *testing.T) {
	h := newHarness(t, func(ctx context.Context, job Job) (Result, error) {
		return Success(filepath.Base(job.Path), "sql-script", 0, nil), nil
	})
	h.breakers.Database().ForceOpen()
	job := h.job(t, "job.sql", "SELECT 1;")

	res := h.pipeline.Dispatch(context.Background(), job)

	if h.proc.calls != 0 {
		t.Error("processor must not run while database breaker is open")
	}
	if res.Status != StatusSkipped {
		t.Fatalf("status = %s, want SKIPPED", res.Status)
	}
	if got := dirNames(t, h.cfg.WatchDir); len(got) != 0 {
		t.Errorf("watch dir not empty: %v", got)
	}
	queued := dirNames(t, h.cfg.QueueDir())
	if len(queued) != 1 || !strings.HasSuffix(queued[0], "_job.sql") {
		t.Errorf("queue dir = %v", queued)
	}
}

func TestDispatchFailureResultMovesToError(t *testing.T) {
	h := newHarness(t, func(ctx context.Context, job Job) (Result, error) {
		return Failure(filepath.Base(job.Path), "sql-script", "statement 2 failed", time.Millisecond), nil
	})
	job := h.job(t, "bad.sql", "DROP TABLE nope;")

	res := h.pipeline.Dispatch(context.Background(), job)

	if res.Status != StatusFailure {
		t.Fatalf("status = %s", res.Status)
	}
	names := dirNames(t, h.cfg.EffectiveErrorDir())
	if len(names) != 1 || !strings.Contains(names[0], "statement_2_failed") {
		t.Errorf("error dir = %v", names)
	}
}

func TestDispatchSkippedMovesToCompleted(t *testing.T) {
	h := newHarness(t, func(ctx context.Context, job Job) (Result, error) {
		return Skipped(filepath.Base(job.Path), "sql-script", "empty file"), nil
	})
	job := h.job(t, "empty.sql", "")

	res := h.pipeline.Dispatch(context.Background(), job)

	if res.Status != StatusSkipped {
		t.Fatalf("status = %s", res.Status)
	}
	if names := dirNames(t, h.cfg.EffectiveCompletedDir()); len(names) != 1 {
		t.Errorf("completed dir = %v", names)
	}
}

type captureRecorder struct {
	results []Result
}

func (c *captureRecorder) RecordResult(_ Job, res Result) {
	c.results = append(c.results, res)
}

func TestDispatchRecordsTerminalResults(t *testing.T) {
	h := newHarness(t, func(ctx context.Context, job Job) (Result, error) {
		return Success(filepath.Base(job.Path), "sql-script", 0, nil), nil
	})
	rec := &captureRecorder{}
	h.pipeline.opts.Recorder = rec

	h.pipeline.Dispatch(context.Background(), h.job(t, "a.sql", "SELECT 1;"))

	if len(rec.results) != 1 {
		t.Fatalf("recorded %d results, want 1", len(rec.results))
	}
	if rec.results[0].Status != StatusSuccess {
		t.Errorf("recorded status = %s", rec.results[0].Status)
	}
}

func TestDispatchFilesystemBreakerGatesReads(t *testing.T) {
	h := newHarness(t, func(ctx context.Context, job Job) (Result, error) {
		return Success(filepath.Base(job.Path), "sql-script", 0, nil), nil
	})
	h.breakers.Filesystem().ForceOpen()
	job := h.job(t, "held.sql", "SELECT 1;")

	res := h.pipeline.Dispatch(context.Background(), job)

	if h.proc.calls != 0 {
		t.Error("processor must not run when the source read is rejected")
	}
	if res.Status != StatusFailure {
		t.Fatalf("status = %s, want FAILURE", res.Status)
	}
	// The file stays in place for a later tick.
	if _, err := os.Stat(job.Path); err != nil {
		t.Errorf("source file must remain in the watch directory: %v", err)
	}
	if got := h.reg.Counter(metrics.BreakerRejection, metrics.Labels{"name": breaker.NameFilesystem}); got < 1 {
		t.Errorf("breaker.rejection{filesystem} = %d, want >= 1", got)
	}
}

func TestDispatchReadFailureUsesFilesystemPolicy(t *testing.T) {
	h := newHarness(t, func(ctx context.Context, job Job) (Result, error) {
		return Success(filepath.Base(job.Path), "sql-script", 0, nil), nil
	})
	job := h.job(t, "vanishing.sql", "SELECT 1;")
	if err := os.Remove(job.Path); err != nil {
		t.Fatal(err)
	}

	res := h.pipeline.Dispatch(context.Background(), job)

	if h.proc.calls != 0 {
		t.Error("processor must not run for an unreadable source")
	}
	if res.Status != StatusFailure {
		t.Fatalf("status = %s, want FAILURE", res.Status)
	}
	labels := metrics.Labels{"name": retry.PolicyFilesystem}
	if got := h.reg.Counter(metrics.RetryAttempts, labels); got < 1 {
		t.Errorf("retry.attempts{filesystem} = %d, want >= 1", got)
	}
	if got := h.reg.Counter(metrics.RetryFailure, labels); got != 1 {
		t.Errorf("retry.failure{filesystem} = %d, want 1", got)
	}
}

func TestDispatchPassesContentToProcessor(t *testing.T) {
	var got []byte
	h := newHarness(t, func(ctx context.Context, job Job) (Result, error) {
		got = job.Data
		return Success(filepath.Base(job.Path), "sql-script", 0, nil), nil
	})
	job := h.job(t, "content.sql", "SELECT 42;")

	if res := h.pipeline.Dispatch(context.Background(), job); res.Status != StatusSuccess {
		t.Fatalf("status = %s", res.Status)
	}
	if string(got) != "SELECT 42;" {
		t.Errorf("processor received %q", got)
	}
}

func TestDispatchRetryableErrorMessageRouting(t *testing.T) {
	// A raw (untagged) error with database wording routes to the
	// database policy via classification.
	h := newHarness(t, func(ctx context.Context, job Job) (Result, error) {
		return Result{}, errors.New("Connection failed: pool exhausted")
	})
	job := h.job(t, "batch.sql", "SELECT 1;")

	_ = h.pipeline.Dispatch(context.Background(), job)
	if h.proc.calls != 3 {
		t.Errorf("processor calls = %d, want 3", h.proc.calls)
	}
}
