// Package server exposes the HTTP control and monitoring surface over
// the processing engine: status, statistics, health, error patterns,
// metrics, and pause/resume. The engine stays ignorant of HTTP; this
// layer only consumes its control interfaces.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/ppiankov/filedrop/internal/breaker"
	"github.com/ppiankov/filedrop/internal/config"
	"github.com/ppiankov/filedrop/internal/degrade"
	"github.com/ppiankov/filedrop/internal/faults"
	"github.com/ppiankov/filedrop/internal/metrics"
	"github.com/ppiankov/filedrop/internal/watch"
)

// Database is the slice of the sink the health surface needs.
type Database interface {
	TestConnection(ctx context.Context) bool
	Info() string
}

// Options wires the control server.
type Options struct {
	Addr     string
	Watcher  *watch.Registry
	Metrics  *metrics.Registry
	Handler  *faults.Handler
	Breakers *breaker.Registry
	Degrade  *degrade.Manager
	Database Database
	Log      *slog.Logger
}

// Server is the HTTP control surface.
type Server struct {
	opts Options
	srv  *http.Server
}

// New creates the control server.
func New(opts Options) *Server {
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	s := &Server{opts: opts}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /statistics", s.handleStatistics)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /errors", s.handleErrors)
	mux.HandleFunc("GET /metrics", s.handleMetrics)
	mux.HandleFunc("POST /pause/{name}", s.handlePause)
	mux.HandleFunc("POST /resume/{name}", s.handleResume)
	mux.HandleFunc("POST /watches", s.handleRegister)
	mux.HandleFunc("DELETE /watches/{name}", s.handleUnregister)

	s.srv = &http.Server{
		Addr:              opts.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Serve blocks on the listener until Shutdown.
func (s *Server) Serve() error {
	err := s.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// ServeOn serves on a pre-bound listener. For testing.
func (s *Server) ServeOn(lis net.Listener) error {
	err := s.srv.Serve(lis)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"running": s.opts.Watcher.IsRunning(),
		"watches": s.opts.Watcher.WatchStatus(),
	})
}

func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	stats := s.opts.Watcher.Statistics()
	if name := r.URL.Query().Get("name"); name != "" {
		st, ok := stats[name]
		if !ok {
			writeError(w, http.StatusNotFound, "no watch registered as "+name)
			return
		}
		writeJSON(w, http.StatusOK, st)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"global":     s.opts.Watcher.GlobalStatistics(),
		"configs":    stats,
		"breakers":   s.opts.Breakers.States(),
		"degraded":   s.opts.Degrade.States(),
		"globalFlag": s.opts.Degrade.GlobalDegradation(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	components := make(map[string]any)

	watcherOK, watcherDetail := s.opts.Watcher.Healthy()
	components["watcher"] = map[string]any{
		"status":  upOrDown(watcherOK),
		"workers": watcherDetail,
	}

	dbOK := true
	if s.opts.Database != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		dbOK = s.opts.Database.TestConnection(ctx)
		components["database"] = map[string]any{
			"status": upOrDown(dbOK),
			"info":   s.opts.Database.Info(),
		}
	}

	degraded := s.opts.Degrade.GlobalDegradation()
	components["degradation"] = map[string]any{
		"status": upOrDown(!degraded),
		"states": s.opts.Degrade.States(),
	}

	// Overall UP requires the watcher healthy; database trouble shows
	// as degradation rather than flapping the whole endpoint.
	ok := watcherOK
	status := http.StatusOK
	if !ok {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"status":     upOrDown(ok),
		"components": components,
	})
}

func (s *Server) handleErrors(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.opts.Handler.Patterns())
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.opts.Metrics.Snapshot())
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := s.opts.Watcher.Pause(name); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.opts.Log.Info("watch paused via control surface", "config", name)
	writeJSON(w, http.StatusOK, map[string]string{"name": name, "state": "PAUSED"})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := s.opts.Watcher.Resume(name); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.opts.Log.Info("watch resumed via control surface", "config", name)
	writeJSON(w, http.StatusOK, map[string]string{"name": name, "state": "RUNNING"})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var cfg config.WatchConfig
	cfg.Enabled = true
	cfg.PollIntervalMs = config.DefaultPollIntervalMs
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid watch configuration: "+err.Error())
		return
	}
	if err := s.opts.Watcher.Register(&cfg); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	s.opts.Log.Info("watch registered via control surface", "config", cfg.Name)
	writeJSON(w, http.StatusCreated, map[string]string{"name": cfg.Name})
}

func (s *Server) handleUnregister(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	s.opts.Watcher.Unregister(name)
	s.opts.Log.Info("watch unregistered via control surface", "config", name)
	writeJSON(w, http.StatusOK, map[string]string{"name": name, "state": "STOPPED"})
}

func upOrDown(ok bool) string {
	if ok {
		return "UP"
	}
	return "DOWN"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": strings.TrimSpace(msg)})
}
