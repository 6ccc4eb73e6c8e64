// Package app wires the patternlab subsystems into a running application.
//
// The App struct owns the full lifecycle: New builds the pattern runner,
// executor, orchestrator, output store and HTTP server from the config, Run
// serves HTTP until the context ends, and Shutdown tears everything down in
// order. [App.Process] runs a single transcript without the HTTP layer.
//
// For testing, inject doubles via functional options (WithRunner, WithMetrics,
// etc.). When an option is not provided, New creates real implementations from
// the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/MrWong99/patternlab/internal/chunk"
	"github.com/MrWong99/patternlab/internal/config"
	"github.com/MrWong99/patternlab/internal/executor"
	"github.com/MrWong99/patternlab/internal/health"
	"github.com/MrWong99/patternlab/internal/observe"
	"github.com/MrWong99/patternlab/internal/output"
	"github.com/MrWong99/patternlab/internal/pattern"
	"github.com/MrWong99/patternlab/internal/pipeline"
	"github.com/MrWong99/patternlab/internal/resilience"
	"github.com/MrWong99/patternlab/internal/server"
	"github.com/MrWong99/patternlab/pkg/provider/llm"
)

const (
	hubBuffer         = 256
	readHeaderTimeout = 10 * time.Second
)

// Providers holds the LLM providers used by the llm backend, keyed by the
// provider prefix of the model ids.
type Providers struct {
	LLM map[string]llm.Provider
}

// App owns every subsystem of a running patternlab instance.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Injected or built in New.
	runner   executor.Runner
	probe    func(ctx context.Context) error
	metrics  *observe.Metrics
	levelVar *slog.LevelVar
	sleep    func(ctx context.Context, d time.Duration) error
	promHTTP http.Handler

	catalog  *pattern.Catalog
	breakers *resilience.BreakerSet
	holder   *executor.Holder
	orch     *pipeline.Orchestrator
	hub      *pipeline.Hub
	tracker  *server.Tracker
	store    *output.Writer
	server   *server.Server
	httpSrv  *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithRunner injects the pattern runner instead of building one for the
// configured backend. probe may be nil.
func WithRunner(r executor.Runner, probe func(ctx context.Context) error) Option {
	return func(a *App) {
		a.runner = r
		a.probe = probe
	}
}

// WithMetrics injects the metric instruments.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLevelVar lets config reloads change the log level.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.levelVar = v }
}

// WithSleep replaces the executor's backoff sleep.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(a *App) { a.sleep = fn }
}

// WithMetricsHandler serves h on /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.promHTTP = h }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. providers may be nil
// unless the llm backend is configured.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Pattern catalog ───────────────────────────────────────────────
	if err := a.initCatalog(); err != nil {
		return nil, fmt.Errorf("app: init catalog: %w", err)
	}

	// ── 2. Runner for the configured backend ─────────────────────────────
	if err := a.initRunner(ctx); err != nil {
		return nil, fmt.Errorf("app: init runner: %w", err)
	}

	// ── 3. Executor and orchestrator ─────────────────────────────────────
	if err := a.initPipeline(); err != nil {
		return nil, fmt.Errorf("app: init pipeline: %w", err)
	}

	// ── 4. Output store and HTTP server ──────────────────────────────────
	if err := a.initServer(); err != nil {
		return nil, fmt.Errorf("app: init server: %w", err)
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

func (a *App) initCatalog() error {
	if len(a.cfg.Patterns) == 0 {
		a.catalog = pattern.Default()
		return nil
	}
	c, err := pattern.NewCatalog(a.cfg.Patterns)
	if err != nil {
		return err
	}
	a.catalog = c
	slog.Info("using configured pattern catalog", "patterns", c.Len())
	return nil
}

// initRunner builds the runner and readiness probe for the backend unless
// one was injected.
func (a *App) initRunner(ctx context.Context) error {
	if a.runner != nil {
		return nil
	}
	ec := a.cfg.Executor

	switch ec.Backend {
	case config.BackendFabric:
		candidates := ec.Fabric.Candidates
		if ec.Fabric.Path != "" {
			candidates = []string{ec.Fabric.Path}
		}
		path, err := executor.DiscoverFabric(ctx, candidates)
		if err != nil {
			slog.Warn("fabric CLI not found", "err", err, "simulate_on_missing_tool", a.cfg.Pipeline.SimulateOnMissingTool)
		}
		fr := &executor.FabricRunner{Path: path}
		a.runner, a.probe = fr, fr.Ping

	case config.BackendLLM:
		if len(a.providers.LLM) == 0 {
			return errors.New("llm backend requires at least one provider")
		}
		lr := &executor.LLMRunner{
			PatternsDir: os.ExpandEnv(ec.LLM.PatternsDir),
			Providers:   a.providers.LLM,
			Temperature: ec.LLM.Temperature,
			MaxTokens:   ec.LLM.MaxTokens,
		}
		a.runner, a.probe = lr, lr.Ping

	case config.BackendSimulate:
		a.runner = &executor.SimulatedRunner{}
		a.probe = func(context.Context) error {
			return fmt.Errorf("simulate backend: %w", executor.ErrToolNotFound)
		}

	default:
		return fmt.Errorf("unknown executor backend %q", ec.Backend)
	}
	return nil
}

func (a *App) initPipeline() error {
	ec := a.cfg.Executor
	xcfg := executor.Config{
		Models:         ec.Models,
		MaxRetries:     ec.MaxRetries,
		BaseDelay:      ec.BaseDelay,
		Timeout:        ec.Timeout,
		MinOutputChars: ec.MinOutputChars,
		TempDir:        ec.TempDir,
	}.WithModels(ec.Models...)

	opts := []executor.Option{executor.WithMetrics(a.metrics)}
	if ec.CircuitBreaker.MaxFailures > 0 {
		a.breakers = resilience.NewBreakerSet(resilience.BreakerConfig{
			MaxFailures:  ec.CircuitBreaker.MaxFailures,
			ResetTimeout: ec.CircuitBreaker.ResetTimeout,
		})
		opts = append(opts, executor.WithBreakers(a.breakers))
	}
	if a.sleep != nil {
		opts = append(opts, executor.WithSleep(a.sleep))
	}

	exec, err := executor.New(a.runner, xcfg, opts...)
	if err != nil {
		return err
	}
	a.holder = executor.NewHolder(exec)

	var sim pipeline.PatternExecutor
	if a.cfg.Pipeline.SimulateOnMissingTool || ec.Backend == config.BackendSimulate {
		sim = exec.WithRunner(&executor.SimulatedRunner{})
	}

	a.hub = pipeline.NewHub(hubBuffer)
	a.tracker = server.NewTracker()
	a.orch, err = pipeline.New(pipeline.Config{
		Catalog:   a.catalog,
		Executor:  a.holder,
		Simulator: sim,
		Probe:     a.probe,
		Chunker:   chunk.New(a.cfg.Chunking),
		BatchSize: a.cfg.Pipeline.BatchSize,
		Publisher: pipeline.Fanout{a.hub, a.tracker},
		Metrics:   a.metrics,
	})
	if err != nil {
		return err
	}
	a.closers = append(a.closers, func() error {
		a.hub.Close()
		return nil
	})
	return nil
}

func (a *App) initServer() error {
	a.store = output.NewWriter(a.cfg.Server.OutputDir)

	checkers := []health.Checker{health.WritableDir("output_dir", a.cfg.Server.OutputDir)}
	if a.probe != nil && a.cfg.Executor.Backend != config.BackendSimulate {
		checkers = append(checkers, health.Checker{Name: "backend", Check: a.probe})
	}

	var breakers server.BreakerStates
	if a.breakers != nil {
		breakers = a.breakers
	}

	srv, err := server.New(server.Config{
		Orchestrator: a.orch,
		Tracker:      a.tracker,
		Hub:          a.hub,
		Output:       a.store,
		Models:       a.holder,
		Breakers:     breakers,
		Health:       health.New(checkers...),
		Metrics:      a.promHTTP,
		HTTPMetrics:  a.metrics,
	})
	if err != nil {
		return err
	}
	a.server = srv
	return nil
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Handler returns the HTTP handler.
func (a *App) Handler() http.Handler { return a.server.Handler() }

// Catalog returns the pattern catalog in use.
func (a *App) Catalog() *pattern.Catalog { return a.catalog }

// Models returns the current fallback model chain.
func (a *App) Models() []string { return a.holder.Models() }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP on the configured address and blocks until ctx is
// cancelled or the listener fails. Call Shutdown afterwards.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen: %w", err)
	}
	return a.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	a.httpSrv = &http.Server{
		Handler:           a.server.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.httpSrv.Serve(ln)
	}()
	slog.Info("http server listening", "addr", ln.Addr().String(), "patterns", a.catalog.Len())

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	}
}

// Process runs one transcript and stores its outputs. It returns the run and
// the output folder below the configured output directory.
func (a *App) Process(ctx context.Context, in pipeline.Input) (*pipeline.Run, string, error) {
	run, err := a.orch.Run(ctx, in)
	if err != nil {
		return run, "", err
	}
	folder, err := a.store.Write(run, a.catalog)
	if err != nil {
		return run, "", err
	}
	return run, folder, nil
}

// OnConfigChange applies the hot-reloadable parts of a config change. It has
// the signature of [config.ChangeFunc].
func (a *App) OnConfigChange(_, _ *config.Config, d config.ConfigDiff) {
	if d.ModelsChanged {
		if err := a.holder.SetModels(d.NewModels); err != nil {
			slog.Error("rejected model update", "models", d.NewModels, "err", err)
		} else {
			slog.Info("fallback models updated", "models", d.NewModels)
		}
	}
	if d.BatchSizeChanged {
		a.orch.SetBatchSize(d.NewBatchSize)
		slog.Info("batch size updated", "batch_size", a.orch.BatchSize())
	}
	if d.LogLevelChanged && a.levelVar != nil {
		a.levelVar.Set(SlogLevel(d.NewLogLevel))
		slog.Info("log level updated", "level", d.NewLogLevel)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes need a restart", "fields", d.RestartRequired)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops the HTTP server, cancels in-flight runs and runs the closers.
// It respects the context deadline: if ctx expires before all closers finish,
// remaining closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if a.httpSrv != nil {
			if err := a.httpSrv.Shutdown(ctx); err != nil {
				slog.Warn("http server shutdown error", "err", err)
			}
		}
		if err := a.server.Shutdown(ctx); err != nil {
			slog.Warn("runs did not finish before the deadline", "err", err)
			shutdownErr = err
			return
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// SlogLevel converts a config.LogLevel to slog.Level.
func SlogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
