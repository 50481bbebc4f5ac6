package watch

import (
	"sync"
	"time"

	"github.com/ppiankov/filedrop/internal/pipeline"
)

// WorkerState is the lifecycle state of one configuration's worker.
type WorkerState string

const (
	StateIdle    WorkerState = "IDLE"
	StateRunning WorkerState = "RUNNING"
	StatePaused  WorkerState = "PAUSED"
	StateStopped WorkerState = "STOPPED"
	StateError   WorkerState = "ERROR"
)

// Stats is the per-configuration processing statistics snapshot.
// Counters are monotonically non-decreasing within a process lifetime.
type Stats struct {
	TotalProcessed     int64       `json:"total_processed"`
	Successful         int64       `json:"successful"`
	Failed             int64       `json:"failed"`
	Skipped            int64       `json:"skipped"`
	LastProcessingTime time.Time   `json:"last_processing_time"`
	CurrentStatus      WorkerState `json:"current_status"`
}

// StateOrdinal maps a worker state to a stable gauge value.
func StateOrdinal(st WorkerState) int64 {
	switch st {
	case StateIdle:
		return 0
	case StateRunning:
		return 1
	case StatePaused:
		return 2
	case StateStopped:
		return 3
	case StateError:
		return 4
	default:
		return -1
	}
}

// statsCell guards one configuration's statistics.
type statsCell struct {
	mu sync.Mutex
	s  Stats
}

func newStatsCell() *statsCell {
	return &statsCell{s: Stats{CurrentStatus: StateIdle}}
}

// recordResult folds one terminal result into the counters.
func (c *statsCell) recordResult(status pipeline.Status, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.s.TotalProcessed++
	switch status {
	case pipeline.StatusSuccess:
		c.s.Successful++
	case pipeline.StatusFailure:
		c.s.Failed++
	default:
		c.s.Skipped++
	}
	c.s.LastProcessingTime = at
}

// setStatus updates the worker state.
func (c *statsCell) setStatus(st WorkerState) {
	c.mu.Lock()
	c.s.CurrentStatus = st
	c.mu.Unlock()
}

// status reads the worker state.
func (c *statsCell) status() WorkerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.s.CurrentStatus
}

// snapshot copies the statistics.
func (c *statsCell) snapshot() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.s
}
