// Package pipeline runs a transcript through every pattern of a catalog.
//
// A run normalizes the transcript once, then executes the catalog in
// sequential batches whose patterns run concurrently. Oversized transcripts
// are split once per run and every pattern processes all chunks before its
// outputs are aggregated. Progress is published as [Event] values to a
// [Publisher], typically a [Hub].
//
// Pattern failures never abort a run; the failed pattern's slot holds an
// explanatory document. A run only fails when the transcript cannot be
// prepared or when the pattern tool is unreachable and simulation is not
// allowed.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/patternlab/internal/chunk"
	"github.com/MrWong99/patternlab/internal/executor"
	"github.com/MrWong99/patternlab/internal/format"
	"github.com/MrWong99/patternlab/internal/observe"
	"github.com/MrWong99/patternlab/internal/pattern"
)

// DefaultBatchSize is the number of patterns executed concurrently.
const DefaultBatchSize = 3

var (
	// ErrParse is returned when the transcript could not be normalized.
	ErrParse = errors.New("pipeline: transcript could not be parsed")

	// ErrEmptyTranscript is returned when normalization leaves no text.
	ErrEmptyTranscript = errors.New("pipeline: transcript is empty after normalization")
)

// ─────────────────────────────────────────────────────────────────────────────
// Run state
// ─────────────────────────────────────────────────────────────────────────────

// State is the lifecycle position of a run.
type State string

const (
	StateStarting   State = "starting"
	StateProcessing State = "processing"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

// IsTerminal reports whether no further transitions can happen.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Method records how pattern outputs were produced.
type Method string

const (
	MethodDirect     Method = "transcript-direct"
	MethodSimulation Method = "simulation"
)

// Input is one transcript to process.
type Input struct {
	// ID names the run. A random UUID is used when empty.
	ID string

	Content string
	Meta    chunk.SourceMeta
	Format  format.Options
}

// Result is the output of one pattern.
type Result struct {
	Content     string        `json:"content"`
	Pattern     string        `json:"pattern"`
	Phase       pattern.Phase `json:"phase"`
	Description string        `json:"description"`
	Error       bool          `json:"error"`

	// Simulated is set when Content is placeholder output.
	Simulated bool `json:"simulated,omitempty"`

	// Chunks is the number of parts processed, 0 for the direct path.
	Chunks int `json:"chunks,omitempty"`
}

// Run is the outcome of [Orchestrator.Run]. Results is keyed by the pattern's
// output filename.
type Run struct {
	ID         string            `json:"id"`
	State      State             `json:"state"`
	Method     Method            `json:"method"`
	Results    map[string]Result `json:"results"`
	Total      int               `json:"total"`
	Completed  int               `json:"completed"`
	Successful int               `json:"successful"`
	StartedAt  time.Time         `json:"started_at"`
	Elapsed    time.Duration     `json:"elapsed"`
	Meta       chunk.SourceMeta  `json:"meta"`
	Error      string            `json:"error,omitempty"`

	Transcript *format.Transcript `json:"-"`
}

// Failed returns the names of failed patterns in catalog order.
func (r *Run) Failed(c *pattern.Catalog) []string {
	var out []string
	for _, p := range c.Patterns() {
		if res, ok := r.Results[p.Filename]; ok && res.Error {
			out = append(out, p.Name)
		}
	}
	return out
}

// ─────────────────────────────────────────────────────────────────────────────
// Orchestrator
// ─────────────────────────────────────────────────────────────────────────────

// PatternExecutor runs one pattern over a text. [executor.Executor] and
// [executor.Holder] implement it.
type PatternExecutor interface {
	Execute(ctx context.Context, pattern, text string, meta chunk.SourceMeta) (string, error)
}

// Config wires an [Orchestrator].
type Config struct {
	// Catalog is the ordered pattern list. Required.
	Catalog *pattern.Catalog

	// Executor runs patterns. Required.
	Executor PatternExecutor

	// Simulator produces placeholder output when Executor reports
	// [executor.ErrToolNotFound]. Nil fails such runs instead.
	Simulator PatternExecutor

	// Probe, if set, is called before any pattern runs. An error wrapping
	// [executor.ErrToolNotFound] switches to Simulator up front; any other
	// error is logged and ignored.
	Probe func(ctx context.Context) error

	// Chunker decides and performs splitting. Defaults to
	// chunk.New(chunk.DefaultConfig()).
	Chunker *chunk.Chunker

	// BatchSize bounds concurrent pattern executions. Defaults to
	// [DefaultBatchSize].
	BatchSize int

	// Publisher receives progress events. May be nil.
	Publisher Publisher

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// Parse normalizes the transcript. Defaults to [format.Parse].
	Parse func(raw string, opts format.Options) *format.Transcript

	// Now defaults to time.Now.
	Now func() time.Time
}

// Orchestrator executes runs. It is safe for concurrent use; concurrent runs
// share nothing but the configured collaborators.
type Orchestrator struct {
	cfg       Config
	batchSize atomic.Int64
}

// New validates cfg and returns an [Orchestrator].
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Catalog == nil || cfg.Catalog.Len() == 0 {
		return nil, errors.New("pipeline: catalog is required")
	}
	if cfg.Executor == nil {
		return nil, errors.New("pipeline: executor is required")
	}
	if cfg.Chunker == nil {
		cfg.Chunker = chunk.New(chunk.DefaultConfig())
	}
	if cfg.Publisher == nil {
		cfg.Publisher = discard{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Parse == nil {
		cfg.Parse = format.Parse
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	o := &Orchestrator{cfg: cfg}
	o.SetBatchSize(cfg.BatchSize)
	return o, nil
}

// Catalog returns the pattern catalog.
func (o *Orchestrator) Catalog() *pattern.Catalog { return o.cfg.Catalog }

// BatchSize returns the current batch size.
func (o *Orchestrator) BatchSize() int { return int(o.batchSize.Load()) }

// SetBatchSize changes the batch size for runs started afterwards. A
// non-positive n restores [DefaultBatchSize].
func (o *Orchestrator) SetBatchSize(n int) {
	if n <= 0 {
		n = DefaultBatchSize
	}
	o.batchSize.Store(int64(n))
}

// Run processes in through every pattern. The returned Run is never nil. The
// error is non-nil only when the run as a whole failed, in which case
// Run.State is [StateFailed].
func (o *Orchestrator) Run(ctx context.Context, in Input) (*Run, error) {
	id := in.ID
	if id == "" {
		id = uuid.NewString()
	}
	ctx, span := observe.StartSpan(ctx, "pipeline.Run", trace.WithAttributes(attribute.String("run.id", id)))

	rs := &runState{
		o:    o,
		meta: in.Meta,
		exec: o.cfg.Executor,
		log:  observe.Logger(ctx).With("run_id", id),
		run: &Run{
			ID:        id,
			State:     StateStarting,
			Method:    MethodDirect,
			Results:   make(map[string]Result, o.cfg.Catalog.Len()),
			Total:     o.cfg.Catalog.Len(),
			StartedAt: o.cfg.Now(),
			Meta:      in.Meta,
		},
	}

	o.cfg.Metrics.ActiveRuns.Add(ctx, 1)
	defer o.cfg.Metrics.ActiveRuns.Add(ctx, -1)

	err := rs.execute(ctx, in)
	rs.finish(ctx, err)
	span.SetAttributes(
		attribute.String("run.method", string(rs.run.Method)),
		attribute.Int("run.successful", rs.run.Successful),
	)
	observe.EndSpan(span, err)
	return rs.run, err
}

// ─────────────────────────────────────────────────────────────────────────────
// runState
// ─────────────────────────────────────────────────────────────────────────────

// runState carries one run through its steps. mu guards run and exec once
// patterns start executing.
type runState struct {
	o    *Orchestrator
	meta chunk.SourceMeta
	log  *slog.Logger

	// direct is the prepared input of the unchunked path; parts are the
	// headed chunks of the chunked path.
	direct string
	parts  []string
	stats  chunk.Stats

	mu   sync.Mutex
	run  *Run
	exec PatternExecutor
}

func (rs *runState) execute(ctx context.Context, in Input) error {
	o := rs.o
	rs.publish(Event{Type: EventRunStarted})

	t, err := parse(o.cfg.Parse, in.Content, in.Format)
	if err != nil {
		return err
	}
	if strings.TrimSpace(t.Text) == "" {
		return ErrEmptyTranscript
	}
	rs.run.Transcript = t
	rs.log.Info("transcript normalized",
		"format", t.Format,
		"confidence", t.Confidence,
		"original_chars", t.OriginalChars,
		"processed_chars", t.ProcessedChars,
		"speakers", len(t.Speakers),
		"content_type", t.ContentType,
	)

	if o.cfg.Probe != nil {
		if err := o.cfg.Probe(ctx); err != nil {
			if !errors.Is(err, executor.ErrToolNotFound) {
				rs.log.Warn("executor probe failed", "err", err)
			} else if !rs.switchToSimulation(err) {
				return err
			}
		}
	}

	rs.prepare(t)

	rs.mu.Lock()
	rs.run.State = StateProcessing
	rs.mu.Unlock()

	for i, batch := range o.cfg.Catalog.Batches(o.BatchSize()) {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("pipeline: run interrupted before batch %d: %w", i+1, err)
		}
		eg, egCtx := errgroup.WithContext(ctx)
		for _, p := range batch {
			eg.Go(func() error { return rs.runPattern(egCtx, p) })
		}
		if err := eg.Wait(); err != nil {
			return err
		}
	}
	return nil
}

// prepare builds the pattern input once for the whole run.
func (rs *runState) prepare(t *format.Transcript) {
	c := rs.o.cfg.Chunker
	if !c.NeedsChunking(t.Text) {
		rs.direct = contextHeader(t, rs.meta) + t.Text
		return
	}
	meta := rs.meta
	if meta.ContentType == "" {
		meta.ContentType = string(t.ContentType)
	}
	chunks := c.Split(t.Text)
	rs.parts = chunk.Prefixed(chunks, meta)
	rs.stats = c.Stats(t.Text, chunks)
	rs.log.Info("transcript chunked",
		"chunks", rs.stats.Chunks,
		"original_tokens", rs.stats.OriginalTokens,
		"avg_chunk_tokens", rs.stats.AvgChunkTokens,
		"max_chunk_tokens", rs.stats.MaxChunkTokens,
	)
}

// runPattern executes p and records its result. It returns an error only when
// the whole run must stop.
func (rs *runState) runPattern(ctx context.Context, p pattern.Pattern) error {
	ctx, span := observe.StartSpan(ctx, "pipeline.pattern", trace.WithAttributes(attribute.String("pattern", p.Name)))
	start := time.Now()

	exec, simulated := rs.executor()
	content, err := rs.executePattern(ctx, exec, p)
	if errors.Is(err, executor.ErrToolNotFound) && !simulated {
		if !rs.switchToSimulation(err) {
			observe.EndSpan(span, err)
			return err
		}
		exec, simulated = rs.executor()
		content, err = rs.executePattern(ctx, exec, p)
	}
	if err != nil && ctx.Err() != nil {
		observe.EndSpan(span, err)
		return fmt.Errorf("pipeline: pattern %s: %w", p.Name, ctx.Err())
	}

	res := Result{
		Content:     content,
		Pattern:     p.Name,
		Phase:       p.Phase,
		Description: p.Description,
		Simulated:   simulated,
		Chunks:      len(rs.parts),
	}
	status := observe.StatusSuccess
	if err != nil {
		status = observe.StatusFailure
		res.Content = failureDocument(p, err)
		res.Error = true
		rs.log.Warn("pattern failed", "pattern", p.Name, "err", err)
	}
	rs.o.cfg.Metrics.RecordPattern(ctx, p.Name, status, time.Since(start))
	rs.complete(p, res, err)
	observe.EndSpan(span, err)
	return nil
}

// executePattern runs p on the direct input or on every chunk.
func (rs *runState) executePattern(ctx context.Context, exec PatternExecutor, p pattern.Pattern) (string, error) {
	if rs.parts == nil {
		return exec.Execute(ctx, p.Name, rs.direct, rs.meta)
	}

	rs.o.cfg.Metrics.RecordChunks(ctx, p.Name, len(rs.parts))
	var (
		outputs []string
		failed  []int
		errs    []error
	)
	for i, part := range rs.parts {
		out, err := exec.Execute(ctx, p.Name, part, rs.meta)
		if err != nil {
			if errors.Is(err, executor.ErrToolNotFound) || ctx.Err() != nil {
				return "", err
			}
			rs.log.Warn("chunk failed", "pattern", p.Name, "part", i+1, "parts", len(rs.parts), "err", err)
			failed = append(failed, i)
			errs = append(errs, err)
			continue
		}
		outputs = append(outputs, out)
	}
	if len(outputs) == 0 {
		return "", fmt.Errorf("pipeline: all %d parts failed: %w", len(rs.parts), errors.Join(errs...))
	}

	var b strings.Builder
	b.WriteString(chunk.Aggregate(outputs, p.Strategy))
	if len(failed) > 0 {
		b.WriteString(failedChunksNote(failed, len(rs.parts), errs))
	}
	b.WriteString(chunk.ProcessingInfo(rs.stats))
	return b.String(), nil
}

func (rs *runState) executor() (PatternExecutor, bool) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.exec, rs.run.Method == MethodSimulation
}

// switchToSimulation moves the run to the simulator. It reports false when
// no simulator is configured.
func (rs *runState) switchToSimulation(cause error) bool {
	sim := rs.o.cfg.Simulator
	if sim == nil {
		return false
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.run.Method != MethodSimulation {
		rs.log.Warn("pattern tool unavailable, switching to simulation", "err", cause)
		rs.run.Method = MethodSimulation
		rs.exec = sim
	}
	return true
}

// complete stores res and publishes its event. Both happen under mu so event
// order matches the Completed counter.
func (rs *runState) complete(p pattern.Pattern, res Result, err error) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	r := rs.run
	r.Completed++
	if !res.Error {
		r.Successful++
	}
	r.Results[p.Filename] = res

	desc := p.Description
	if err != nil {
		desc = "Error: " + err.Error()
	}
	rs.publishLocked(Event{
		Type:        EventPatternCompleted,
		Pattern:     p.Name,
		Phase:       p.Phase,
		PhaseName:   p.Phase.String(),
		Description: desc,
		Error:       res.Error,
	})
}

func (rs *runState) finish(ctx context.Context, err error) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	r := rs.run
	r.Elapsed = rs.o.cfg.Now().Sub(r.StartedAt)
	typ := EventRunCompleted
	if err != nil {
		r.State = StateFailed
		r.Error = err.Error()
		typ = EventRunFailed
		rs.log.Error("run failed", "err", err, "completed", r.Completed, "total", r.Total)
	} else {
		r.State = StateCompleted
		rs.log.Info("run completed",
			"method", r.Method,
			"successful", r.Successful,
			"total", r.Total,
			"elapsed", r.Elapsed,
		)
	}
	rs.o.cfg.Metrics.RecordRun(ctx, string(r.State), string(r.Method), r.Elapsed)
	rs.publishLocked(Event{Type: typ, Description: r.Error})
}

func (rs *runState) publish(e Event) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.publishLocked(e)
}

func (rs *runState) publishLocked(e Event) {
	r := rs.run
	e.RunID = r.ID
	e.Current = r.Completed
	e.Total = r.Total
	e.State = r.State
	e.Method = r.Method
	e.Time = rs.o.cfg.Now()
	rs.o.cfg.Publisher.Publish(e)
}

// parse runs fn and converts a panic into [ErrParse].
func parse(fn func(string, format.Options) *format.Transcript, raw string, opts format.Options) (t *format.Transcript, err error) {
	defer func() {
		if v := recover(); v != nil {
			t, err = nil, fmt.Errorf("%w: %v", ErrParse, v)
		}
	}()
	t = fn(raw, opts)
	if t == nil {
		return nil, ErrParse
	}
	return t, nil
}
