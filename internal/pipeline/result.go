// Package pipeline carries a detected file through processing: processor
// selection, breaker- and retry-wrapped execution, error handling, and
// the terminal file move. It binds the resilience layers together and is
// the only caller of processors.
package pipeline

import (
	"time"

	"github.com/ppiankov/filedrop/internal/config"
)

// Status is the terminal state of one processing job.
type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusFailure Status = "FAILURE"
	StatusSkipped Status = "SKIPPED"
)

// Job is one file observed by a worker and handed to the pipeline.
// Data is populated by the pipeline's read phase, under the filesystem
// breaker, before the processor runs.
type Job struct {
	Config        *config.WatchConfig
	Path          string
	Size          int64
	DetectedAt    time.Time
	CorrelationID string
	Data          []byte
}

// Result is the outcome a processor reports for one file.
type Result struct {
	Filename      string         `json:"filename"`
	ProcessorType string         `json:"processor_type"`
	Status        Status         `json:"status"`
	ErrorMessage  string         `json:"error_message,omitempty"`
	Duration      time.Duration  `json:"execution_duration"`
	Metadata      map[string]any `json:"metadata,omitempty"`

	// FinalPath is where the file ended up after the terminal move.
	FinalPath string `json:"final_path,omitempty"`
}

// Success builds a SUCCESS result.
func Success(filename, processorType string, d time.Duration, metadata map[string]any) Result {
	return Result{
		Filename:      filename,
		ProcessorType: processorType,
		Status:        StatusSuccess,
		Duration:      d,
		Metadata:      metadata,
	}
}

// Failure builds a FAILURE result.
func Failure(filename, processorType, errMsg string, d time.Duration) Result {
	return Result{
		Filename:      filename,
		ProcessorType: processorType,
		Status:        StatusFailure,
		ErrorMessage:  errMsg,
		Duration:      d,
	}
}

// Skipped builds a SKIPPED result.
func Skipped(filename, processorType, reason string) Result {
	return Result{
		Filename:      filename,
		ProcessorType: processorType,
		Status:        StatusSkipped,
		Metadata:      map[string]any{"reason": reason},
	}
}
