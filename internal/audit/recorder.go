package audit

import (
	"log/slog"
	"path/filepath"

	"github.com/ppiankov/filedrop/internal/pipeline"
)

// Recorder adapts a Trail to the pipeline's result hook.
type Recorder struct {
	trail *Trail
	log   *slog.Logger
}

// NewRecorder wraps a trail. A write failure is logged, never fatal.
func NewRecorder(trail *Trail, log *slog.Logger) *Recorder {
	if log == nil {
		log = slog.Default()
	}
	return &Recorder{trail: trail, log: log}
}

// RecordResult appends one terminal processing result to the trail.
func (r *Recorder) RecordResult(job pipeline.Job, res pipeline.Result) {
	entry := Entry{
		CorrelationID: job.CorrelationID,
		Config:        job.Config.Name,
		File:          filepath.Base(job.Path),
		ProcessorType: res.ProcessorType,
		Status:        string(res.Status),
		DurationMs:    res.Duration.Milliseconds(),
		Error:         res.ErrorMessage,
		Destination:   res.FinalPath,
	}
	if err := r.trail.Record(entry); err != nil {
		r.log.Error("audit record failed", "file", entry.File, "error", err)
	}
}
