package sqlscript

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ppiankov/filedrop/internal/config"
	"github.com/ppiankov/filedrop/internal/metrics"
	"github.com/ppiankov/filedrop/internal/pipeline"
	"github.com/ppiankov/filedrop/internal/sqlexec"
)

type fakeExecutor struct {
	result     sqlexec.Result
	err        error
	statements []string
}

func (f *fakeExecutor) Execute(_ context.Context, _ string, statements []string) (sqlexec.Result, error) {
	f.statements = statements
	if f.err != nil {
		return sqlexec.Result{}, f.err
	}
	if f.result.SuccessfulStatements == 0 && f.result.Success {
		f.result.SuccessfulStatements = len(statements)
	}
	return f.result, nil
}

func (f *fakeExecutor) ExecuteUpdate(context.Context, string, ...any) (int64, error) {
	return 0, nil
}

func (f *fakeExecutor) TestConnection(context.Context) bool { return true }

func (f *fakeExecutor) Info() string { return "fake" }

func scriptJob(t *testing.T, content string) pipeline.Job {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "batch.sql")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return pipeline.Job{
		Config: &config.WatchConfig{
			Name:          "sql-inbound",
			ProcessorType: ProcessorType,
			WatchDir:      dir,
			FilePatterns:  []string{"*.sql"},
		},
		Path:          path,
		DetectedAt:    time.Now(),
		CorrelationID: "f-test00000002",
		Data:          []byte(content),
	}
}

func TestProcessClassificationMetadata(t *testing.T) {
	exec := &fakeExecutor{result: sqlexec.Result{Success: true, ExecutionTime: 7 * time.Millisecond}}
	p := NewProcessor(exec, metrics.NewRegistry())

	job := scriptJob(t, `CREATE TABLE t(id INT);
INSERT INTO t VALUES (1);
SELECT * FROM t;
GRANT SELECT ON t TO u1;`)

	res, err := p.Process(context.Background(), job)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != pipeline.StatusSuccess {
		t.Fatalf("status = %s", res.Status)
	}
	wantMeta := map[string]int{
		"totalStatements": 4,
		"ddlCount":        1,
		"dmlCount":        1,
		"otherCount":      2,
	}
	for k, want := range wantMeta {
		if got, ok := res.Metadata[k].(int); !ok || got != want {
			t.Errorf("metadata[%s] = %v, want %d", k, res.Metadata[k], want)
		}
	}
	if got := res.Metadata["successfulStatements"].(int); got != 4 {
		t.Errorf("successfulStatements = %d", got)
	}
	if len(exec.statements) != 4 {
		t.Errorf("executor received %d statements", len(exec.statements))
	}
}

func TestProcessEmptyFileSkipped(t *testing.T) {
	p := NewProcessor(&fakeExecutor{}, metrics.NewRegistry())
	res, err := p.Process(context.Background(), scriptJob(t, "-- nothing here\n"))
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != pipeline.StatusSkipped {
		t.Errorf("status = %s, want SKIPPED", res.Status)
	}
}

func TestProcessUnbalancedParensFails(t *testing.T) {
	exec := &fakeExecutor{}
	p := NewProcessor(exec, metrics.NewRegistry())
	res, err := p.Process(context.Background(), scriptJob(t, "INSERT INTO t VALUES (1;"))
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != pipeline.StatusFailure {
		t.Errorf("status = %s, want FAILURE", res.Status)
	}
	if exec.statements != nil {
		t.Error("executor must not run for invalid scripts")
	}
}

func TestProcessStatementFailureSurfaced(t *testing.T) {
	exec := &fakeExecutor{result: sqlexec.Result{
		Success:              false,
		SuccessfulStatements: 1,
		FailedStatement:      "INSERT INTO missing VALUES (1)",
		ErrorMessage:         "no such table: missing",
	}}
	p := NewProcessor(exec, metrics.NewRegistry())
	res, err := p.Process(context.Background(), scriptJob(t, "SELECT 1;\nINSERT INTO missing VALUES (1);"))
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != pipeline.StatusFailure {
		t.Fatalf("status = %s", res.Status)
	}
	if res.Metadata["successfulStatements"].(int) != 1 {
		t.Errorf("successfulStatements = %v", res.Metadata["successfulStatements"])
	}
}

func TestProcessAgainstSQLite(t *testing.T) {
	store, err := sqlexec.Open("sqlite", filepath.Join(t.TempDir(), "exec.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	p := NewProcessor(store, metrics.NewRegistry())
	res, perr := p.Process(context.Background(), scriptJob(t, `CREATE TABLE loads(id INTEGER PRIMARY KEY, name TEXT);
INSERT INTO loads(name) VALUES ('first');
INSERT INTO loads(name) VALUES ('second');`))
	if perr != nil {
		t.Fatal(perr)
	}
	if res.Status != pipeline.StatusSuccess {
		t.Fatalf("status = %s (%s)", res.Status, res.ErrorMessage)
	}

	n, err := store.ExecuteUpdate(context.Background(), "UPDATE loads SET name = 'renamed' WHERE name = 'first'")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("rows affected = %d, want 1", n)
	}
}

func TestProcessRollbackOnFailure(t *testing.T) {
	store, err := sqlexec.Open("sqlite", filepath.Join(t.TempDir(), "exec.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	p := NewProcessor(store, metrics.NewRegistry())
	res, perr := p.Process(context.Background(), scriptJob(t, `CREATE TABLE r(id INTEGER);
INSERT INTO r VALUES (1);
INSERT INTO nonexistent VALUES (2);`))
	if perr != nil {
		t.Fatal(perr)
	}
	if res.Status != pipeline.StatusFailure {
		t.Fatalf("status = %s, want FAILURE", res.Status)
	}

	// The whole batch rolled back: the table must not exist.
	if store.TestConnection(context.Background()) {
		if _, err := store.ExecuteUpdate(context.Background(), "INSERT INTO r VALUES (3)"); err == nil {
			t.Error("table r survived a rolled-back batch")
		}
	}
}
