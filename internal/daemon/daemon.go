// Package daemon assembles the processing engine: it builds the object
// graph from a configuration snapshot, owns the background loops
// (degradation polling, config hot reload, the control server), and
// runs until its context is cancelled.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ppiankov/filedrop/internal/alert"
	"github.com/ppiankov/filedrop/internal/audit"
	"github.com/ppiankov/filedrop/internal/breaker"
	"github.com/ppiankov/filedrop/internal/config"
	"github.com/ppiankov/filedrop/internal/degrade"
	"github.com/ppiankov/filedrop/internal/faults"
	"github.com/ppiankov/filedrop/internal/files"
	"github.com/ppiankov/filedrop/internal/loaderlog"
	"github.com/ppiankov/filedrop/internal/metrics"
	"github.com/ppiankov/filedrop/internal/pipeline"
	"github.com/ppiankov/filedrop/internal/reload"
	"github.com/ppiankov/filedrop/internal/retry"
	"github.com/ppiankov/filedrop/internal/server"
	"github.com/ppiankov/filedrop/internal/sqlexec"
	"github.com/ppiankov/filedrop/internal/sqlscript"
	"github.com/ppiankov/filedrop/internal/systemd"
	"github.com/ppiankov/filedrop/internal/watch"
)

// breakerPollInterval is how often breaker states fold into degradation.
const breakerPollInterval = 5 * time.Second

// Options holds daemon construction inputs.
type Options struct {
	Config     *config.Config
	ConfigPath string // enables hot reload when non-empty
	Log        *slog.Logger
}

// Daemon is the assembled engine.
type Daemon struct {
	cfg        *config.Config
	configPath string
	log        *slog.Logger

	metrics    *metrics.Registry
	breakers   *breaker.Registry
	degrade    *degrade.Manager
	handler    *faults.Handler
	dispatcher *alert.Dispatcher
	store      *sqlexec.Store
	trail      *audit.Trail
	watcher    *watch.Registry
	server     *server.Server
}

// New validates the configuration and builds the object graph.
func New(opts Options) (*Daemon, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, fmt.Errorf("configuration is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}

	reg := metrics.NewRegistry()
	fm := files.NewManager()
	brs := breaker.NewRegistry(reg)
	dm := degrade.NewManager(fm, reg, log)

	dispatcher := alert.NewDispatcher(webhookConfigs(cfg.Alerts), reg)
	handler := faults.NewHandler(log, dispatcher.HandlerHook())

	store, err := sqlexec.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database sink: %w", err)
	}

	trail, err := audit.Open(cfg.AuditLogPath())
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("open audit trail: %w", err)
	}

	procs := pipeline.NewRegistry()
	procs.Register(sqlscript.NewProcessor(store, reg))
	procs.Register(loaderlog.NewProcessor(store))

	pl := pipeline.New(pipeline.Options{
		Registry: procs,
		Files:    fm,
		Metrics:  reg,
		Breakers: brs,
		Policies: retry.NewPolicies(retry.Overrides{
			MaxAttempts: cfg.Global.MaxRetryAttempts,
			BaseDelay:   cfg.Global.RetryDelay(),
		}),
		Handler:  handler,
		Degrade:  dm,
		Recorder: audit.NewRecorder(trail, log),
		Log:      log,
		Budget:   cfg.Global.ProcessingBudget(),
	})

	watcher := watch.NewRegistry(watch.Options{
		Dispatcher: pl,
		Degrade:    dm,
		Metrics:    reg,
		Log:        log,
		Budget:     cfg.Global.ProcessingBudget(),
	})

	d := &Daemon{
		cfg:        cfg,
		configPath: opts.ConfigPath,
		log:        log,
		metrics:    reg,
		breakers:   brs,
		degrade:    dm,
		handler:    handler,
		dispatcher: dispatcher,
		store:      store,
		trail:      trail,
		watcher:    watcher,
	}

	if cfg.HTTPAddr != "" {
		d.server = server.New(server.Options{
			Addr:     cfg.HTTPAddr,
			Watcher:  watcher,
			Metrics:  reg,
			Handler:  handler,
			Breakers: brs,
			Degrade:  dm,
			Database: store,
			Log:      log,
		})
	}
	return d, nil
}

// Run starts the engine and blocks until ctx is cancelled. Startup-time
// misconfiguration of any watch aborts the run.
func (d *Daemon) Run(ctx context.Context) error {
	if err := os.MkdirAll(d.cfg.StateDir, 0o750); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	pidPath := filepath.Join(d.cfg.StateDir, "filedrop.pid")
	if err := acquirePIDLock(pidPath); err != nil {
		return fmt.Errorf("acquire PID lock: %w", err)
	}
	defer func() { _ = os.Remove(pidPath) }()

	if warn := systemd.CheckUnitFileIntegrity(d.cfg.StateDir); warn != "" {
		d.log.Warn(warn)
	}

	d.watcher.Start(ctx)
	for i := range d.cfg.Watches {
		w := d.cfg.Watches[i]
		if err := d.watcher.Register(&w); err != nil {
			d.watcher.Shutdown()
			return fmt.Errorf("register watch %q: %w", w.Name, err)
		}
	}

	go d.pollBreakers(ctx)

	if d.configPath != "" {
		rl := reload.New(d.configPath, d.cfg.Watches, d.watcher, d.log)
		go func() {
			if err := rl.Run(ctx); err != nil {
				d.log.Warn("config hot reload disabled", "error", err)
			}
		}()
	}

	if d.server != nil {
		go func() {
			d.log.Info("control surface listening", "addr", d.cfg.HTTPAddr)
			if err := d.server.Serve(); err != nil {
				d.log.Error("control server failed", "error", err)
			}
		}()
	}

	d.log.Info("filedrop started",
		"watches", len(d.cfg.Watches),
		"database", d.store.Info(),
		"audit", d.cfg.AuditLogPath())

	<-ctx.Done()
	d.shutdown()
	return nil
}

// shutdown drains workers and closes the sinks.
func (d *Daemon) shutdown() {
	d.log.Info("shutting down")
	d.watcher.Shutdown()

	if d.server != nil {
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = d.server.Shutdown(shCtx)
	}
	if err := d.trail.Close(); err != nil {
		d.log.Error("close audit trail", "error", err)
	}
	if err := d.store.Close(); err != nil {
		d.log.Error("close database", "error", err)
	}
}

// pollBreakers folds breaker states into degradation on a fixed cadence
// and raises alerts on state transitions.
func (d *Daemon) pollBreakers(ctx context.Context) {
	ticker := time.NewTicker(breakerPollInterval)
	defer ticker.Stop()

	prev := d.breakers.States()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			states := d.breakers.States()
			d.degrade.UpdateFromBreakers(states)
			d.alertTransitions(prev, states)
			prev = states
			for name, st := range d.watcher.WatchStatus() {
				d.metrics.Set(metrics.WatcherState, watch.StateOrdinal(st), metrics.Labels{"config": name})
			}
		}
	}
}

// alertTransitions dispatches breaker-open and recovery events.
func (d *Daemon) alertTransitions(prev, cur map[string]breaker.State) {
	if d.dispatcher == nil {
		return
	}
	for name, st := range cur {
		if st == prev[name] {
			continue
		}
		switch st {
		case breaker.Open:
			d.dispatcher.Dispatch(alert.Event{
				Type:      alert.EventBreakerOpen,
				Component: name,
				Message:   fmt.Sprintf("circuit breaker %s opened", name),
			})
		case breaker.Closed:
			d.dispatcher.Dispatch(alert.Event{
				Type:      alert.EventDegradation,
				Component: name,
				Message:   fmt.Sprintf("component %s recovered", name),
			})
		}
	}
}

// webhookConfigs maps configuration webhooks onto alert destinations.
func webhookConfigs(hooks []config.Webhook) []alert.Config {
	out := make([]alert.Config, 0, len(hooks))
	for _, h := range hooks {
		out = append(out, alert.Config{
			URL:     h.URL,
			Format:  h.Format,
			Events:  h.Events,
			Headers: h.Headers,
		})
	}
	return out
}
