package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ppiankov/filedrop/internal/breaker"
	"github.com/ppiankov/filedrop/internal/config"
	"github.com/ppiankov/filedrop/internal/degrade"
	"github.com/ppiankov/filedrop/internal/faults"
	"github.com/ppiankov/filedrop/internal/files"
	"github.com/ppiankov/filedrop/internal/metrics"
	"github.com/ppiankov/filedrop/internal/pipeline"
	"github.com/ppiankov/filedrop/internal/watch"
)

type stubDB struct{ ok bool }

func (d *stubDB) TestConnection(context.Context) bool { return d.ok }
func (d *stubDB) Info() string                        { return "stub" }

type noopDispatcher struct{}

func (noopDispatcher) Dispatch(_ context.Context, job pipeline.Job) pipeline.Result {
	return pipeline.Result{Status: pipeline.StatusSuccess}
}

func testServer(t *testing.T) (*Server, *watch.Registry) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := metrics.NewRegistry()
	fm := files.NewManager()
	dm := degrade.NewManager(fm, reg, log)
	brs := breaker.NewRegistry(reg)

	wr := watch.NewRegistry(watch.Options{
		Dispatcher: noopDispatcher{},
		Degrade:    dm,
		Metrics:    reg,
		Log:        log,
		Budget:     time.Second,
	})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		wr.Shutdown()
		cancel()
	})
	wr.Start(ctx)

	s := New(Options{
		Addr:     "127.0.0.1:0",
		Watcher:  wr,
		Metrics:  reg,
		Handler:  faults.NewHandler(log, nil),
		Breakers: brs,
		Degrade:  dm,
		Database: &stubDB{ok: true},
		Log:      log,
	})
	return s, wr
}

func registerTestWatch(t *testing.T, wr *watch.Registry, name string) {
	t.Helper()
	cfg := &config.WatchConfig{
		Name:           name,
		ProcessorType:  "sql-script",
		WatchDir:       filepath.Join(t.TempDir(), "drop"),
		FilePatterns:   []string{"*.sql"},
		PollIntervalMs: 60000,
		Enabled:        true,
	}
	if err := wr.Register(cfg); err != nil {
		t.Fatal(err)
	}
}

func doRequest(t *testing.T, s *Server, method, path string) (*http.Response, []byte) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(rec, req)
	res := rec.Result()
	body, _ := io.ReadAll(res.Body)
	return res, body
}

func TestStatusEndpoint(t *testing.T) {
	s, wr := testServer(t)
	registerTestWatch(t, wr, "sql-inbound")

	res, body := doRequest(t, s, http.MethodGet, "/status")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", res.StatusCode)
	}
	var got struct {
		Running bool                         `json:"running"`
		Watches map[string]watch.WorkerState `json:"watches"`
	}
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatal(err)
	}
	if !got.Running {
		t.Error("running = false")
	}
	if _, ok := got.Watches["sql-inbound"]; !ok {
		t.Errorf("watches = %v", got.Watches)
	}
}

func TestStatisticsPerName(t *testing.T) {
	s, wr := testServer(t)
	registerTestWatch(t, wr, "sql-inbound")

	res, _ := doRequest(t, s, http.MethodGet, "/statistics?name=sql-inbound")
	if res.StatusCode != http.StatusOK {
		t.Errorf("status = %d", res.StatusCode)
	}

	res, _ = doRequest(t, s, http.MethodGet, "/statistics?name=ghost")
	if res.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d for unknown name", res.StatusCode)
	}
}

func TestHealthEndpoint(t *testing.T) {
	s, wr := testServer(t)
	registerTestWatch(t, wr, "sql-inbound")

	// Worker may need a moment to reach RUNNING.
	deadline := time.Now().Add(2 * time.Second)
	var res *http.Response
	var body []byte
	for time.Now().Before(deadline) {
		res, body = doRequest(t, s, http.MethodGet, "/health")
		if res.StatusCode == http.StatusOK {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health = %d: %s", res.StatusCode, body)
	}
	var got struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatal(err)
	}
	if got.Status != "UP" {
		t.Errorf("status = %q", got.Status)
	}
}

func TestPauseResumeEndpoints(t *testing.T) {
	s, wr := testServer(t)
	registerTestWatch(t, wr, "sql-inbound")

	res, _ := doRequest(t, s, http.MethodPost, "/pause/sql-inbound")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("pause = %d", res.StatusCode)
	}
	if st := wr.WatchStatus()["sql-inbound"]; st != watch.StatePaused {
		t.Errorf("state = %s after pause", st)
	}

	res, _ = doRequest(t, s, http.MethodPost, "/resume/sql-inbound")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("resume = %d", res.StatusCode)
	}

	res, _ = doRequest(t, s, http.MethodPost, "/pause/ghost")
	if res.StatusCode != http.StatusNotFound {
		t.Errorf("pause unknown = %d", res.StatusCode)
	}
}

func TestRegisterAndUnregisterEndpoints(t *testing.T) {
	s, wr := testServer(t)
	dir := filepath.Join(t.TempDir(), "drop")

	body := strings.NewReader(`{
		"name": "hot",
		"processor_type": "sql-script",
		"watch_dir": "` + dir + `",
		"file_patterns": ["*.sql"],
		"poll_interval_ms": 60000
	}`)
	req := httptest.NewRequest(http.MethodPost, "/watches", body)
	rec := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("register = %d: %s", rec.Code, rec.Body.String())
	}
	if _, ok := wr.WatchStatus()["hot"]; !ok {
		t.Error("watch not registered")
	}

	res, _ := doRequest(t, s, http.MethodDelete, "/watches/hot")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("unregister = %d", res.StatusCode)
	}
	if _, ok := wr.WatchStatus()["hot"]; ok {
		t.Error("watch still registered")
	}
}

func TestRegisterEndpointRejectsInvalid(t *testing.T) {
	s, _ := testServer(t)
	req := httptest.NewRequest(http.MethodPost, "/watches", strings.NewReader(`{"name": ""}`))
	rec := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("register invalid = %d", rec.Code)
	}
}

func TestMetricsAndErrorsEndpoints(t *testing.T) {
	s, _ := testServer(t)

	res, body := doRequest(t, s, http.MethodGet, "/metrics")
	if res.StatusCode != http.StatusOK {
		t.Errorf("metrics = %d", res.StatusCode)
	}
	var snap metrics.Snapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		t.Errorf("metrics body: %v", err)
	}

	res, _ = doRequest(t, s, http.MethodGet, "/errors")
	if res.StatusCode != http.StatusOK {
		t.Errorf("errors = %d", res.StatusCode)
	}
}
