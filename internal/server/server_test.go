package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/patternlab/internal/chunk"
	"github.com/MrWong99/patternlab/internal/health"
	"github.com/MrWong99/patternlab/internal/observe"
	"github.com/MrWong99/patternlab/internal/output"
	"github.com/MrWong99/patternlab/internal/pattern"
	"github.com/MrWong99/patternlab/internal/pipeline"
	"github.com/MrWong99/patternlab/internal/resilience"
)

// ── helpers ──────────────────────────────────────────────────────────────────

type fakeExecutor struct{}

func (fakeExecutor) Execute(_ context.Context, p, _ string, _ chunk.SourceMeta) (string, error) {
	return "# " + p + "\n\nSome generated analysis for this pattern.", nil
}

type fakeModels struct {
	mu     sync.Mutex
	models []string
}

func (f *fakeModels) Models() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.models...)
}

func (f *fakeModels) SetModels(m []string) error {
	if len(m) == 0 {
		return errors.New("at least one model is required")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.models = m
	return nil
}

type testEnv struct {
	srv     *Server
	handler http.Handler
	hub     *pipeline.Hub
	models  *fakeModels
	root    string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	hub := pipeline.NewHub(256)
	tracker := NewTracker()
	orch, err := pipeline.New(pipeline.Config{
		Catalog:   pattern.Default(),
		Executor:  fakeExecutor{},
		Publisher: pipeline.Fanout{hub, tracker},
		Metrics:   m,
	})
	if err != nil {
		t.Fatalf("pipeline.New: %v", err)
	}

	root := t.TempDir()
	models := &fakeModels{models: []string{"anthropic/claude-3-5-haiku-latest"}}
	srv, err := New(Config{
		Orchestrator: orch,
		Tracker:      tracker,
		Hub:          hub,
		Output:       output.NewWriter(root),
		Models:       models,
		Health:       health.New(health.WritableDir("output_dir", root)),
		Metrics:      http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { io.WriteString(w, "# metrics\n") }),
		HTTPMetrics:  m,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return &testEnv{srv: srv, handler: srv.Handler(), hub: hub, models: models, root: root}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

const transcript = `Host: Welcome to the show.
Guest: Glad to be here and talk about habits.
Host: Where should people start?
Guest: Start small and stay consistent every single day.`

func (e *testEnv) startRun(t *testing.T) processResponse {
	t.Helper()
	body, _ := json.Marshal(processRequest{Content: transcript, Title: "Habits 101"})
	rec := e.do(t, http.MethodPost, "/api/process", string(body))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("POST /api/process = %d: %s", rec.Code, rec.Body)
	}
	return decodeBody[processResponse](t, rec)
}

// ── routes ───────────────────────────────────────────────────────────────────

func TestPatterns(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(t, http.MethodGet, "/api/patterns", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	got := decodeBody[struct {
		Patterns []patternInfo `json:"patterns"`
		Total    int           `json:"total"`
	}](t, rec)
	if got.Total != 13 || len(got.Patterns) != 13 {
		t.Fatalf("total = %d, patterns = %d", got.Total, len(got.Patterns))
	}
	if got.Patterns[0].PhaseName != "Primary Extraction" || got.Patterns[0].Strategy != "summary" {
		t.Errorf("first pattern = %+v", got.Patterns[0])
	}
}

func TestProcess_CompletesAndDownloads(t *testing.T) {
	e := newTestEnv(t)
	resp := e.startRun(t)
	if resp.ID == "" || resp.Total != 13 || resp.State != pipeline.StateStarting {
		t.Fatalf("response = %+v", resp)
	}
	e.srv.Wait()

	rec := e.do(t, http.MethodGet, "/api/process/"+resp.ID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET status = %d", rec.Code)
	}
	st := decodeBody[Status](t, rec)
	if st.State != pipeline.StateCompleted || st.Successful != 13 || st.Current != 13 {
		t.Errorf("status = %+v", st)
	}
	if st.Folder == "" || !strings.Contains(st.Folder, "Habits-101") {
		t.Errorf("folder = %q", st.Folder)
	}
	if len(st.Results) != 13 {
		t.Errorf("results = %d", len(st.Results))
	}

	rec = e.do(t, http.MethodGet, "/api/download/"+resp.ID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("download = %d: %s", rec.Code, rec.Body)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/zip" {
		t.Errorf("Content-Type = %q", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "Habits-101_analysis_") {
		t.Errorf("Content-Disposition = %q", cd)
	}
	if !bytes.HasPrefix(rec.Body.Bytes(), []byte("PK")) {
		t.Error("body is not a zip archive")
	}

	rec = e.do(t, http.MethodGet, "/api/history", "")
	hist := decodeBody[struct {
		Stored []output.Entry `json:"stored"`
		Active []Status       `json:"active"`
	}](t, rec)
	if len(hist.Stored) != 1 || hist.Stored[0].RunID != resp.ID || !hist.Stored[0].HasArchive {
		t.Errorf("stored = %+v", hist.Stored)
	}
	if len(hist.Active) != 1 || hist.Active[0].Results != nil {
		t.Errorf("active = %+v", hist.Active)
	}
}

func TestProcess_BadRequests(t *testing.T) {
	e := newTestEnv(t)
	tests := []struct {
		name string
		body string
	}{
		{"malformed", "{"},
		{"unknown field", `{"content":"x","color":"red"}`},
		{"empty content", `{"content":"   "}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := e.do(t, http.MethodPost, "/api/process", tt.body); rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestProcess_RejectedAfterShutdown(t *testing.T) {
	e := newTestEnv(t)
	if err := e.srv.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	body, _ := json.Marshal(processRequest{Content: transcript})
	if rec := e.do(t, http.MethodPost, "/api/process", string(body)); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("POST after shutdown = %d, want 503", rec.Code)
	}
}

// Every run accepted while Shutdown is racing with new requests must have
// finished by the time Shutdown returns.
func TestProcess_ShutdownWaitsForAcceptedRuns(t *testing.T) {
	e := newTestEnv(t)
	body, _ := json.Marshal(processRequest{Content: transcript})

	var (
		mu       sync.Mutex
		accepted []string
		wg       sync.WaitGroup
	)
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec := e.do(t, http.MethodPost, "/api/process", string(body))
			switch rec.Code {
			case http.StatusAccepted:
				var resp processResponse
				if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
					t.Errorf("decode: %v", err)
					return
				}
				mu.Lock()
				accepted = append(accepted, resp.ID)
				mu.Unlock()
			case http.StatusServiceUnavailable:
			default:
				t.Errorf("POST = %d: %s", rec.Code, rec.Body)
			}
		}()
	}

	if err := e.srv.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	// Requests still in flight now see the server as closed.
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	for _, id := range accepted {
		st, ok := e.srv.cfg.Tracker.Get(id)
		if !ok {
			t.Errorf("run %s not tracked", id)
			continue
		}
		if st.FinishedAt.IsZero() {
			t.Errorf("run %s still %s after Shutdown returned", id, st.State)
		}
	}
}

func TestStatusAndDownload_Unknown(t *testing.T) {
	e := newTestEnv(t)
	if rec := e.do(t, http.MethodGet, "/api/process/nope", ""); rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
	if rec := e.do(t, http.MethodGet, "/api/download/nope", ""); rec.Code != http.StatusNotFound {
		t.Errorf("download = %d, want 404", rec.Code)
	}
}

func TestDownload_RunNotFinished(t *testing.T) {
	e := newTestEnv(t)
	e.srv.cfg.Tracker.Start("pending", chunk.SourceMeta{}, 13)
	if rec := e.do(t, http.MethodGet, "/api/download/pending", ""); rec.Code != http.StatusConflict {
		t.Errorf("download = %d, want 409", rec.Code)
	}
}

func TestModels(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodPut, "/api/models", `{"models":[" openai/gpt-4o ","","anthropic/claude-3-haiku-20240307"]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("PUT = %d: %s", rec.Code, rec.Body)
	}
	got := decodeBody[modelsBody](t, rec)
	if len(got.Models) != 2 || got.Models[0] != "openai/gpt-4o" {
		t.Errorf("models = %v", got.Models)
	}

	if rec := e.do(t, http.MethodPut, "/api/models", `{"models":[]}`); rec.Code != http.StatusBadRequest {
		t.Errorf("empty PUT = %d, want 400", rec.Code)
	}
	rec = e.do(t, http.MethodGet, "/api/models", "")
	if got := decodeBody[modelsBody](t, rec); len(got.Models) != 2 {
		t.Errorf("models after failed update = %v", got.Models)
	}
}

func TestModels_BreakerStates(t *testing.T) {
	e := newTestEnv(t)
	set := resilience.NewBreakerSet(resilience.BreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour})
	_ = set.Get("claude-3-haiku-20240307").Execute(func() error { return errors.New("boom") })
	set.Get("claude-3-5-sonnet-20241022")
	e.srv.cfg.Breakers = set

	got := decodeBody[modelsBody](t, e.do(t, http.MethodGet, "/api/models", ""))
	if got.Breakers["claude-3-haiku-20240307"] != "open" || got.Breakers["claude-3-5-sonnet-20241022"] != "closed" {
		t.Errorf("breakers = %v", got.Breakers)
	}
}

func TestHealthAndMetricsRoutes(t *testing.T) {
	e := newTestEnv(t)
	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		if rec := e.do(t, http.MethodGet, path, ""); rec.Code != http.StatusOK {
			t.Errorf("GET %s = %d", path, rec.Code)
		}
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("expected error for empty config")
	}
}

// ── websocket ────────────────────────────────────────────────────────────────

func TestWS_RelaysRunEvents(t *testing.T) {
	e := newTestEnv(t)
	ts := httptest.NewServer(e.handler)
	t.Cleanup(ts.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.CloseNow()

	for e.hub.Len() == 0 {
		if ctx.Err() != nil {
			t.Fatal("subscriber never registered")
		}
		time.Sleep(time.Millisecond)
	}

	resp := e.startRun(t)

	var patterns int
	last := 0
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		var ev pipeline.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if ev.RunID != resp.ID {
			t.Fatalf("event for run %q, want %q", ev.RunID, resp.ID)
		}
		if ev.Type == pipeline.EventPatternCompleted {
			patterns++
			if ev.Current <= last {
				t.Errorf("current %d after %d", ev.Current, last)
			}
			last = ev.Current
		}
		if ev.Type == pipeline.EventRunCompleted {
			break
		}
	}
	if patterns != 13 {
		t.Errorf("pattern events = %d, want 13", patterns)
	}
}
