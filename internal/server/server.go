// Package server exposes the pipeline over HTTP.
//
// Routes:
//
//	GET  /api/patterns        pattern catalog
//	POST /api/process         start a run, returns its id
//	GET  /api/process/{id}    run status and, once finished, results
//	GET  /api/download/{id}   zip archive of a finished run
//	GET  /api/history         stored runs, newest first
//	GET  /api/models          current fallback model chain
//	PUT  /api/models          replace the fallback model chain
//	GET  /ws                  progress events as JSON text frames
//	GET  /healthz, /readyz    liveness and readiness
//	GET  /metrics             Prometheus scrape endpoint
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/MrWong99/patternlab/internal/chunk"
	"github.com/MrWong99/patternlab/internal/format"
	"github.com/MrWong99/patternlab/internal/health"
	"github.com/MrWong99/patternlab/internal/observe"
	"github.com/MrWong99/patternlab/internal/output"
	"github.com/MrWong99/patternlab/internal/pattern"
	"github.com/MrWong99/patternlab/internal/pipeline"
	"github.com/MrWong99/patternlab/internal/resilience"
)

const (
	defaultMaxBodyBytes = 10 << 20
	wsWriteTimeout      = 5 * time.Second
)

// Orchestrator runs transcripts. [pipeline.Orchestrator] implements it.
type Orchestrator interface {
	Run(ctx context.Context, in pipeline.Input) (*pipeline.Run, error)
	Catalog() *pattern.Catalog
}

// ModelStore reads and replaces the fallback model chain.
// [executor.Holder] implements it.
type ModelStore interface {
	Models() []string
	SetModels(models []string) error
}

// BreakerStates reports the circuit state of each model seen so far.
// [resilience.BreakerSet] implements it.
type BreakerStates interface {
	States() map[string]resilience.State
}

// Config wires a [Server].
type Config struct {
	Orchestrator Orchestrator
	Tracker      *Tracker
	Hub          *pipeline.Hub
	Output       *output.Writer

	// Models enables /api/models when set.
	Models ModelStore

	// Breakers adds per-model circuit state to /api/models.
	Breakers BreakerStates

	// Health enables /healthz and /readyz when set.
	Health *health.Handler

	// Metrics is served on /metrics when set.
	Metrics http.Handler

	// HTTPMetrics instruments every request. Defaults to
	// [observe.DefaultMetrics].
	HTTPMetrics *observe.Metrics

	// MaxBodyBytes caps POST bodies. Defaults to 10 MiB.
	MaxBodyBytes int64
}

// Server serves the HTTP API. Runs it starts outlive their request and are
// cancelled by [Server.Shutdown].
type Server struct {
	cfg Config

	ctx    context.Context
	cancel context.CancelFunc

	// mu orders run admission against Shutdown so no wg.Add happens once
	// Shutdown has started waiting.
	mu sync.Mutex
	wg sync.WaitGroup
}

// New returns a Server. Orchestrator, Tracker, Hub and Output are required.
func New(cfg Config) (*Server, error) {
	switch {
	case cfg.Orchestrator == nil:
		return nil, errors.New("server: orchestrator is required")
	case cfg.Tracker == nil:
		return nil, errors.New("server: tracker is required")
	case cfg.Hub == nil:
		return nil, errors.New("server: hub is required")
	case cfg.Output == nil:
		return nil, errors.New("server: output writer is required")
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	if cfg.HTTPMetrics == nil {
		cfg.HTTPMetrics = observe.DefaultMetrics()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{cfg: cfg, ctx: ctx, cancel: cancel}, nil
}

// Handler returns the instrumented route tree.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/patterns", s.handlePatterns)
	mux.HandleFunc("POST /api/process", s.handleProcess)
	mux.HandleFunc("GET /api/process/{id}", s.handleStatus)
	mux.HandleFunc("GET /api/download/{id}", s.handleDownload)
	mux.HandleFunc("GET /api/history", s.handleHistory)
	mux.HandleFunc("GET /ws", s.handleWS)
	if s.cfg.Models != nil {
		mux.HandleFunc("GET /api/models", s.handleGetModels)
		mux.HandleFunc("PUT /api/models", s.handlePutModels)
	}
	if s.cfg.Health != nil {
		s.cfg.Health.Register(mux)
	}
	if s.cfg.Metrics != nil {
		mux.Handle("GET /metrics", s.cfg.Metrics)
	}
	return observe.Middleware(s.cfg.HTTPMetrics)(mux)
}

// Shutdown cancels in-flight runs and waits for them to return or for ctx to
// be done.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.cancel()
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until every run started so far has finished.
func (s *Server) Wait() { s.wg.Wait() }

// admit registers one more in-flight run. It reports false once Shutdown has
// begun.
func (s *Server) admit() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		return false
	}
	s.wg.Add(1)
	return true
}

// ─────────────────────────────────────────────────────────────────────────────
// Patterns and models
// ─────────────────────────────────────────────────────────────────────────────

type patternInfo struct {
	pattern.Pattern
	PhaseName string `json:"phase_name"`
	Strategy  string `json:"strategy"`
}

func (s *Server) handlePatterns(w http.ResponseWriter, _ *http.Request) {
	ps := s.cfg.Orchestrator.Catalog().Patterns()
	out := make([]patternInfo, len(ps))
	for i, p := range ps {
		out[i] = patternInfo{Pattern: p, PhaseName: p.Phase.String(), Strategy: p.Strategy.String()}
	}
	writeJSON(w, http.StatusOK, map[string]any{"patterns": out, "total": len(out)})
}

type modelsBody struct {
	Models   []string          `json:"models"`
	Breakers map[string]string `json:"breakers,omitempty"`
}

func (s *Server) modelsResponse() modelsBody {
	body := modelsBody{Models: s.cfg.Models.Models()}
	if s.cfg.Breakers != nil {
		body.Breakers = make(map[string]string)
		for model, st := range s.cfg.Breakers.States() {
			body.Breakers[model] = st.String()
		}
	}
	return body
}

func (s *Server) handleGetModels(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.modelsResponse())
}

func (s *Server) handlePutModels(w http.ResponseWriter, r *http.Request) {
	var body modelsBody
	if err := s.decode(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	models := make([]string, 0, len(body.Models))
	for _, m := range body.Models {
		if m = strings.TrimSpace(m); m != "" {
			models = append(models, m)
		}
	}
	if err := s.cfg.Models.SetModels(models); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	slog.Info("fallback models updated", "models", models)
	writeJSON(w, http.StatusOK, s.modelsResponse())
}

// ─────────────────────────────────────────────────────────────────────────────
// Processing
// ─────────────────────────────────────────────────────────────────────────────

type processRequest struct {
	Content        string `json:"content"`
	Title          string `json:"title"`
	URL            string `json:"url"`
	Uploader       string `json:"uploader"`
	ContentType    string `json:"content_type"`
	KeepNoise      bool   `json:"keep_noise"`
	KeepRepetition bool   `json:"keep_repetition"`
}

type processResponse struct {
	ID     string         `json:"id"`
	State  pipeline.State `json:"state"`
	Total  int            `json:"total"`
	Status string         `json:"status_url"`
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	var req processRequest
	if err := s.decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}
	if !s.admit() {
		writeError(w, http.StatusServiceUnavailable, "server is shutting down")
		return
	}

	in := pipeline.Input{
		ID:      uuid.NewString(),
		Content: req.Content,
		Meta: chunk.SourceMeta{
			Title:       req.Title,
			URL:         req.URL,
			Uploader:    req.Uploader,
			ContentType: req.ContentType,
		},
		Format: format.Options{KeepNoise: req.KeepNoise, KeepRepetition: req.KeepRepetition},
	}
	total := s.cfg.Orchestrator.Catalog().Len()
	s.cfg.Tracker.Start(in.ID, in.Meta, total)

	go func() {
		defer s.wg.Done()
		s.process(in)
	}()

	writeJSON(w, http.StatusAccepted, processResponse{
		ID:     in.ID,
		State:  pipeline.StateStarting,
		Total:  total,
		Status: "/api/process/" + in.ID,
	})
}

// process runs in and stores its outputs.
func (s *Server) process(in pipeline.Input) {
	log := slog.With("run_id", in.ID)
	run, err := s.cfg.Orchestrator.Run(s.ctx, in)
	if err != nil {
		s.cfg.Tracker.Finish(run, "", err)
		return
	}
	folder, err := s.cfg.Output.Write(run, s.cfg.Orchestrator.Catalog())
	if err != nil {
		log.Error("failed to store run outputs", "err", err)
		run.State = pipeline.StateFailed
		s.cfg.Tracker.Finish(run, "", err)
		return
	}
	log.Info("run outputs stored", "folder", folder)
	s.cfg.Tracker.Finish(run, folder, nil)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, ok := s.cfg.Tracker.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	meta := chunk.SourceMeta{}
	folder := ""
	if st, ok := s.cfg.Tracker.Get(id); ok {
		if st.State != pipeline.StateCompleted || st.Folder == "" {
			writeError(w, http.StatusConflict, fmt.Sprintf("run is %s", st.State))
			return
		}
		folder, meta = st.Folder, st.Meta
	} else if f, ok := s.cfg.Output.FindRun(id); ok {
		folder = f
	} else {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}

	path, err := s.cfg.Output.Archive(folder)
	if err != nil {
		observe.Logger(r.Context()).Error("failed to build archive", "run_id", id, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to build archive")
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", output.DownloadName(meta, id)))
	http.ServeFile(w, r, path)
}

func (s *Server) handleHistory(w http.ResponseWriter, _ *http.Request) {
	entries, err := s.cfg.Output.History()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if entries == nil {
		entries = []output.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"stored": entries,
		"active": s.cfg.Tracker.List(),
	})
}

// ─────────────────────────────────────────────────────────────────────────────
// WebSocket
// ─────────────────────────────────────────────────────────────────────────────

// handleWS relays every hub event to the client until either side goes away.
// Client messages are ignored.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.CloseNow()

	events, cancel := s.cfg.Hub.Subscribe()
	defer cancel()

	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.ctx.Done():
			conn.Close(websocket.StatusGoingAway, "server shutting down")
			return
		case e, ok := <-events:
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "")
				return
			}
			data, err := json.Marshal(e)
			if err != nil {
				continue
			}
			wctx, wcancel := context.WithTimeout(ctx, wsWriteTimeout)
			err = conn.Write(wctx, websocket.MessageText, data)
			wcancel()
			if err != nil {
				return
			}
		}
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
