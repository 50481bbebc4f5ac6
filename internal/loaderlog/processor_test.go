package loaderlog

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ppiankov/filedrop/internal/config"
	"github.com/ppiankov/filedrop/internal/pipeline"
)

type captureSink struct {
	rows []AuditInfo
	err  error
}

func (c *captureSink) InsertLogAudit(_ context.Context, info AuditInfo) error {
	if c.err != nil {
		return c.err
	}
	c.rows = append(c.rows, info)
	return nil
}

func logJob(t *testing.T, content string, options map[string]string) pipeline.Job {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "load_01.log")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return pipeline.Job{
		Config: &config.WatchConfig{
			Name:          "loader-logs",
			ProcessorType: ProcessorType,
			WatchDir:      dir,
			FilePatterns:  []string{"*.log"},
			Options:       options,
		},
		Path:          path,
		DetectedAt:    time.Now(),
		CorrelationID: "f-test00000003",
		Data:          []byte(content),
	}
}

func TestProcessInsertsAuditRow(t *testing.T) {
	sink := &captureSink{}
	p := NewProcessor(sink)

	content := `Table CUSTOMERS, loaded from every logical record.
1000 Rows successfully loaded.
5 Rows not loaded due to data errors.
`
	res, err := p.Process(context.Background(), logJob(t, content, nil))
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != pipeline.StatusSuccess {
		t.Fatalf("status = %s", res.Status)
	}
	if len(sink.rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(sink.rows))
	}
	row := sink.rows[0]
	if row.RecordsLoaded != 1000 || row.RecordsRejected != 5 || row.TotalRecords != 1005 {
		t.Errorf("counts = (%d, %d, %d)", row.RecordsLoaded, row.RecordsRejected, row.TotalRecords)
	}
	if row.LoadStatus != StatusCompletedWithErrors {
		t.Errorf("status = %q", row.LoadStatus)
	}
	if res.Metadata["loadStatus"] != StatusCompletedWithErrors {
		t.Errorf("metadata loadStatus = %v", res.Metadata["loadStatus"])
	}
}

func TestProcessTableNameOverride(t *testing.T) {
	sink := &captureSink{}
	p := NewProcessor(sink)

	content := "100 Rows successfully loaded.\n"
	res, err := p.Process(context.Background(), logJob(t, content, map[string]string{"table_name": "AUDIT_TARGET"}))
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != pipeline.StatusSuccess {
		t.Fatalf("status = %s", res.Status)
	}
	if sink.rows[0].TableName != "AUDIT_TARGET" {
		t.Errorf("table = %q", sink.rows[0].TableName)
	}
}

func TestProcessSinkErrorSurfaces(t *testing.T) {
	sink := &captureSink{err: errors.New("database is locked")}
	p := NewProcessor(sink)

	_, err := p.Process(context.Background(), logJob(t, "100 Rows successfully loaded.\n", nil))
	if err == nil {
		t.Fatal("expected sink error to surface for retry")
	}
}
