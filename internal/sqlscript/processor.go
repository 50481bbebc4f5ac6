package sqlscript

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/ppiankov/filedrop/internal/breaker"
	"github.com/ppiankov/filedrop/internal/config"
	"github.com/ppiankov/filedrop/internal/metrics"
	"github.com/ppiankov/filedrop/internal/pipeline"
	"github.com/ppiankov/filedrop/internal/sqlexec"
)

// ProcessorType is the registry key for SQL script processing.
const ProcessorType = "sql-script"

// Processor executes multi-statement SQL scripts transactionally.
type Processor struct {
	exec sqlexec.Executor
	reg  *metrics.Registry
}

// NewProcessor creates the SQL script processor.
func NewProcessor(exec sqlexec.Executor, reg *metrics.Registry) *Processor {
	return &Processor{exec: exec, reg: reg}
}

// Type returns the processor's registry key.
func (p *Processor) Type() string { return ProcessorType }

// Supports matches configurations declaring this processor type.
func (p *Processor) Supports(cfg *config.WatchConfig) bool {
	return cfg.ProcessorType == ProcessorType
}

// Dependency names the breaker gating execution.
func (p *Processor) Dependency() string { return breaker.NameDatabase }

// Process parses, validates, and executes the script in job.Data (the
// pipeline reads the source before dispatch). Statement-level failures
// come back as FAILURE results; sink faults surface as errors for the
// resilience layer to retry.
func (p *Processor) Process(ctx context.Context, job pipeline.Job) (pipeline.Result, error) {
	base := filepath.Base(job.Path)

	statements := Parse(string(job.Data))
	if len(statements) == 0 {
		return pipeline.Skipped(base, ProcessorType, "no executable statements"), nil
	}

	ddl, dml, other := CountClasses(statements)
	meta := map[string]any{
		"totalStatements": len(statements),
		"ddlCount":        ddl,
		"dmlCount":        dml,
		"otherCount":      other,
	}

	if err := ValidateBalance(statements); err != nil {
		res := pipeline.Failure(base, ProcessorType, err.Error(), 0)
		res.Metadata = meta
		return res, nil
	}

	execRes, err := p.exec.Execute(ctx, base, statements)
	if err != nil {
		return pipeline.Result{}, err
	}
	p.reg.Observe(metrics.SQLExecutionDuration, execRes.ExecutionTime, metrics.Labels{"config": job.Config.Name})

	meta["successfulStatements"] = execRes.SuccessfulStatements
	meta["executionTimeMs"] = execRes.ExecutionTime.Milliseconds()

	if !execRes.Success {
		msg := execRes.ErrorMessage
		if execRes.FailedStatement != "" {
			msg = fmt.Sprintf("%s (statement: %s)", msg, truncate(execRes.FailedStatement, 120))
		}
		res := pipeline.Failure(base, ProcessorType, msg, execRes.ExecutionTime)
		res.Metadata = meta
		return res, nil
	}

	return pipeline.Success(base, ProcessorType, execRes.ExecutionTime, meta), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
