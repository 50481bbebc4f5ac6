// Package sqlexec provides the transactional executor consumed by the
// SQL processors, plus its database/sql implementation. The executor
// owns connection handling and transaction discipline; processors hand
// it ordered statement lists and surface the aggregate result.
package sqlexec

import (
	"context"
	"time"
)

// Result is the outcome of executing one statement batch.
type Result struct {
	Success              bool
	ExecutionTime        time.Duration
	SuccessfulStatements int
	FailedStatement      string
	ErrorMessage         string
}

// Executor executes SQL against the durable sink. Statement-level
// failures are reported through Result; the error return is reserved
// for connection-level faults.
type Executor interface {
	// Execute runs the ordered statements of one file in a single
	// transaction, rolling back on the first failure.
	Execute(ctx context.Context, file string, statements []string) (Result, error)

	// ExecuteUpdate runs a single DML statement and returns rows affected.
	ExecuteUpdate(ctx context.Context, query string, args ...any) (int64, error)

	// TestConnection reports whether the sink is reachable.
	TestConnection(ctx context.Context) bool

	// Info describes the sink for logs and the health surface.
	Info() string
}
