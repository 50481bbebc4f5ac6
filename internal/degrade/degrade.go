// Package degrade implements graceful degradation: tracking per-component
// availability from circuit-breaker states and diverting incoming files
// into an on-disk persistence queue while the database is unavailable,
// with replay once it recovers.
package degrade

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ppiankov/filedrop/internal/breaker"
	"github.com/ppiankov/filedrop/internal/config"
	"github.com/ppiankov/filedrop/internal/faults"
	"github.com/ppiankov/filedrop/internal/files"
	"github.com/ppiankov/filedrop/internal/metrics"
)

// queueStampLayout prefixes queued files. The prefix is informational;
// restoration relies only on the suffix after the second underscore.
const queueStampLayout = "20060102_150405"

// restoreFailedPrefix marks queue files that could not be restored.
const restoreFailedPrefix = "queue_restore_failed_"

// State describes one component's degradation status.
type State struct {
	Component string    `json:"component"`
	Degraded  bool      `json:"degraded"`
	Reason    string    `json:"reason,omitempty"`
	Since     time.Time `json:"since,omitempty"`
}

// Manager owns degradation state and the persistence queue.
type Manager struct {
	fm  *files.Manager
	reg *metrics.Registry
	log *slog.Logger
	now func() time.Time

	mu     sync.Mutex
	states map[string]*State
	global bool
}

// NewManager creates a degradation manager.
func NewManager(fm *files.Manager, reg *metrics.Registry, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		fm:     fm,
		reg:    reg,
		log:    log,
		now:    time.Now,
		states: make(map[string]*State),
	}
}

// SetDegraded marks a component degraded. Re-entering degradation is
// idempotent: the entered metric fires only on the first transition.
func (m *Manager) SetDegraded(component, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.states[component]
	if s == nil {
		s = &State{Component: component}
		m.states[component] = s
	}
	if s.Degraded {
		return
	}
	s.Degraded = true
	s.Reason = reason
	s.Since = m.now()
	if component == breaker.NameDatabase {
		m.global = true
	}
	m.reg.Inc(metrics.DegradationEntered, metrics.Labels{"component": component})
	m.log.Warn("component degraded", "component", component, "reason", reason)
}

// ClearDegraded marks a component healthy again.
func (m *Manager) ClearDegraded(component string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.states[component]
	if s == nil || !s.Degraded {
		return
	}
	s.Degraded = false
	s.Reason = ""
	if component == breaker.NameDatabase {
		m.global = false
	}
	m.reg.Inc(metrics.DegradationExited, metrics.Labels{"component": component})
	m.log.Info("component recovered", "component", component)
}

// Degraded reports whether the component is currently degraded.
func (m *Manager) Degraded(component string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.states[component]
	return s != nil && s.Degraded
}

// GlobalDegradation reports the process-wide flag set while the
// database is degraded.
func (m *Manager) GlobalDegradation() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.global
}

// States snapshots all component states.
func (m *Manager) States() []State {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]State, 0, len(m.states))
	for _, s := range m.states {
		out = append(out, *s)
	}
	return out
}

// UpdateFromBreakers folds the current breaker states into degradation:
// an open breaker degrades its component; a closed one recovers it.
// Half-open components stay degraded until the breaker closes.
func (m *Manager) UpdateFromBreakers(states map[string]breaker.State) {
	for component, st := range states {
		switch st {
		case breaker.Open:
			m.SetDegraded(component, "circuit breaker open")
		case breaker.Closed:
			m.ClearDegraded(component)
		}
	}
}

// HandleDatabaseUnavailable diverts an incoming file into the queue
// directory under <stamp>_<original>. Returns the queued path.
func (m *Manager) HandleDatabaseUnavailable(path string, cfg *config.WatchConfig) (string, error) {
	name := fmt.Sprintf("%s_%s", m.now().Format(queueStampLayout), filepath.Base(path))
	queued, err := m.fm.MoveTo(path, cfg.QueueDir(), name)
	if err != nil {
		m.reg.Inc(metrics.FilesQueueFailed, metrics.Labels{"config": cfg.Name})
		return "", fmt.Errorf("enqueue %s: %w", filepath.Base(path), err)
	}
	m.reg.Inc(metrics.FilesQueued, metrics.Labels{"config": cfg.Name, "reason": "database_unavailable"})
	m.log.Info("file queued during degradation", "config", cfg.Name, "queued", filepath.Base(queued))
	return queued, nil
}

// ProcessQueued restores queued files back into the watch directory
// under their original names once the database has recovered. Files
// that cannot be restored move to the error directory with a
// queue_restore_failed_ prefix. Returns the number restored.
func (m *Manager) ProcessQueued(cfg *config.WatchConfig) (int, error) {
	if m.Degraded(breaker.NameDatabase) {
		return 0, nil
	}

	queueDir := cfg.QueueDir()
	entries, err := os.ReadDir(queueDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, faults.Categorize(fmt.Errorf("read queue %s: %w", queueDir, err), faults.CategoryFileSystem)
	}

	restored := 0
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), restoreFailedPrefix) {
			continue
		}
		queued := filepath.Join(queueDir, e.Name())
		original := OriginalName(e.Name())

		if _, err := m.fm.MoveTo(queued, cfg.WatchDir, original); err != nil {
			m.log.Error("queue restore failed", "config", cfg.Name, "file", e.Name(), "error", err)
			if _, merr := m.fm.MoveTo(queued, cfg.EffectiveErrorDir(), restoreFailedPrefix+e.Name()); merr != nil {
				m.log.Error("could not move failed queue file to error dir",
					"config", cfg.Name, "file", e.Name(), "error", merr)
			}
			continue
		}
		restored++
		m.reg.Inc(metrics.FilesRestored, metrics.Labels{"config": cfg.Name})
	}
	if restored > 0 {
		m.log.Info("restored queued files", "config", cfg.Name, "count", restored)
	}
	return restored, nil
}

// OriginalName extracts the original filename from a queued name: the
// suffix after the second underscore of the informational stamp. Names
// without a full stamp pass through unchanged.
func OriginalName(queued string) string {
	first := strings.Index(queued, "_")
	if first < 0 {
		return queued
	}
	second := strings.Index(queued[first+1:], "_")
	if second < 0 {
		return queued
	}
	return queued[first+1+second+1:]
}
