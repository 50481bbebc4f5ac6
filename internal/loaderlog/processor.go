package loaderlog

import (
	"context"
	"path/filepath"
	"time"

	"github.com/ppiankov/filedrop/internal/breaker"
	"github.com/ppiankov/filedrop/internal/config"
	"github.com/ppiankov/filedrop/internal/pipeline"
)

// ProcessorType is the registry key for loader-log ingestion.
const ProcessorType = "sqlloader-log"

// optionTableName overrides the table name extracted from the log.
const optionTableName = "table_name"

// AuditSink persists extracted audit records.
type AuditSink interface {
	InsertLogAudit(ctx context.Context, info AuditInfo) error
}

// Processor ingests SQL*Loader logs into the audit table.
type Processor struct {
	sink AuditSink
}

// NewProcessor creates the loader-log processor.
func NewProcessor(sink AuditSink) *Processor {
	return &Processor{sink: sink}
}

// Type returns the processor's registry key.
func (p *Processor) Type() string { return ProcessorType }

// Supports matches configurations declaring this processor type.
func (p *Processor) Supports(cfg *config.WatchConfig) bool {
	return cfg.ProcessorType == ProcessorType
}

// Dependency names the breaker gating execution.
func (p *Processor) Dependency() string { return breaker.NameDatabase }

// Process parses the log in job.Data (pre-read by the pipeline) and
// writes one audit row. Sink faults surface as errors so the resilience
// layer can retry; a parsed log always yields a SUCCESS result carrying
// the extracted fields.
func (p *Processor) Process(ctx context.Context, job pipeline.Job) (pipeline.Result, error) {
	base := filepath.Base(job.Path)
	start := time.Now()

	info := Parse(base, string(job.Data))
	if override := job.Config.Option(optionTableName); override != "" {
		info.TableName = override
	}

	if err := p.sink.InsertLogAudit(ctx, info); err != nil {
		return pipeline.Result{}, err
	}

	meta := map[string]any{
		"recordsLoaded":   info.RecordsLoaded,
		"recordsRejected": info.RecordsRejected,
		"totalRecords":    info.TotalRecords,
		"loadStatus":      info.LoadStatus,
	}
	if info.TableName != "" {
		meta["tableName"] = info.TableName
	}
	return pipeline.Success(base, ProcessorType, time.Since(start), meta), nil
}
