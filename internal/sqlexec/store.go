package sqlexec

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ppiankov/filedrop/internal/faults"
	"github.com/ppiankov/filedrop/internal/loaderlog"
)

// Store implements Executor and the loader-log audit sink on database/sql.
type Store struct {
	db     *sql.DB
	driver string
	dsn    string
}

// Open opens (or creates) the relational sink and ensures the audit schema.
func Open(driver, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, errors.New("database dsn is required")
	}
	if driver == "sqlite" && dsn != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o750); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, faults.Categorize(fmt.Errorf("open database: %w", err), faults.CategoryDatabase)
	}
	s := &Store{db: db, driver: driver, dsn: dsn}
	if err := s.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// ensureSchema creates the loader audit table if needed.
func (s *Store) ensureSchema(ctx context.Context) error {
	const ddl = `CREATE TABLE IF NOT EXISTS log_audit (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		log_filename TEXT NOT NULL,
		control_file TEXT,
		data_file TEXT,
		table_name TEXT,
		records_loaded INTEGER NOT NULL DEFAULT 0,
		records_rejected INTEGER NOT NULL DEFAULT 0,
		total_records INTEGER NOT NULL DEFAULT 0,
		load_status TEXT NOT NULL,
		error_details TEXT,
		run_began TIMESTAMP,
		run_ended TIMESTAMP,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return faults.Categorize(fmt.Errorf("ensure audit schema: %w", err), faults.CategoryDatabase)
	}
	return nil
}

// Execute runs the file's statements inside one transaction. The first
// failing statement rolls everything back; the result carries the
// offending statement and its error. Connection-level faults surface as
// DATABASE errors.
func (s *Store) Execute(ctx context.Context, file string, statements []string) (Result, error) {
	start := time.Now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Result{}, faults.Categorize(fmt.Errorf("begin transaction for %s: %w", file, err), faults.CategoryDatabase)
	}

	for i, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			_ = tx.Rollback()
			return Result{
				Success:              false,
				ExecutionTime:        time.Since(start),
				SuccessfulStatements: i,
				FailedStatement:      stmt,
				ErrorMessage:         err.Error(),
			}, nil
		}
	}

	if err := tx.Commit(); err != nil {
		return Result{}, faults.Categorize(fmt.Errorf("commit %s: %w", file, err), faults.CategoryDatabase)
	}

	return Result{
		Success:              true,
		ExecutionTime:        time.Since(start),
		SuccessfulStatements: len(statements),
	}, nil
}

// ExecuteUpdate runs one DML statement outside a batch.
func (s *Store) ExecuteUpdate(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, faults.Categorize(fmt.Errorf("execute update: %w", err), faults.CategoryDatabase)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, faults.Categorize(fmt.Errorf("rows affected: %w", err), faults.CategoryDatabase)
	}
	return n, nil
}

// TestConnection pings the sink.
func (s *Store) TestConnection(ctx context.Context) bool {
	return s.db.PingContext(ctx) == nil
}

// Info describes the sink.
func (s *Store) Info() string {
	return fmt.Sprintf("%s: %s", s.driver, s.dsn)
}

// InsertLogAudit writes one loader-log audit row.
func (s *Store) InsertLogAudit(ctx context.Context, info loaderlog.AuditInfo) error {
	const ins = `INSERT INTO log_audit
		(log_filename, control_file, data_file, table_name,
		 records_loaded, records_rejected, total_records,
		 load_status, error_details, run_began, run_ended)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, ins,
		info.LogFilename, info.ControlFile, info.DataFile, info.TableName,
		info.RecordsLoaded, info.RecordsRejected, info.TotalRecords,
		info.LoadStatus, info.ErrorDetails, nullTime(info.RunBegan), nullTime(info.RunEnded))
	if err != nil {
		return faults.Categorize(fmt.Errorf("insert audit row for %s: %w", info.LogFilename, err), faults.CategoryDatabase)
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
