// Command patternlab runs transcripts through the fabric analysis patterns,
// either once from the command line or as an HTTP service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/patternlab/internal/app"
	"github.com/MrWong99/patternlab/internal/chunk"
	"github.com/MrWong99/patternlab/internal/config"
	"github.com/MrWong99/patternlab/internal/observe"
	"github.com/MrWong99/patternlab/internal/pipeline"
	"github.com/MrWong99/patternlab/pkg/provider/llm"
	"github.com/MrWong99/patternlab/pkg/provider/llm/anyllm"
	"github.com/MrWong99/patternlab/pkg/provider/llm/openai"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	inPath := flag.String("in", "", "process this transcript file once and exit")
	outDir := flag.String("out", "", "override server.output_dir")
	title := flag.String("title", "", "title recorded for the -in transcript")
	sourceURL := flag.String("url", "", "source URL recorded for the -in transcript")
	flag.Parse()

	oneShot := *inPath != ""

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, configFound, err := loadConfig(*configPath, oneShot)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "patternlab: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "patternlab: %v\n", err)
		}
		return 1
	}
	if *outDir != "" {
		cfg.Server.OutputDir = *outDir
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	levelVar := new(slog.LevelVar)
	levelVar.Set(app.SlogLevel(cfg.Server.LogLevel))
	slog.SetDefault(newLogger(levelVar))

	slog.Info("patternlab starting",
		"version", version,
		"config", *configPath,
		"config_found", configFound,
		"backend", cfg.Executor.Backend,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.Setup(ctx, observe.TelemetryConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		Global:         true,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	application, err := app.New(ctx, cfg, providers,
		app.WithLevelVar(levelVar),
		app.WithMetrics(tel.Metrics),
		app.WithMetricsHandler(tel.Handler),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	if oneShot {
		return processFile(ctx, application, *inPath, chunk.SourceMeta{Title: *title, URL: *sourceURL})
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	if configFound {
		w, err := config.NewWatcher(*configPath, application.OnConfigChange)
		if err != nil {
			slog.Warn("config hot reload disabled", "err", err)
		} else {
			defer w.Stop()
		}
	}

	printStartupSummary(cfg, application)
	slog.Info("server ready; press Ctrl+C to shut down", "listen_addr", cfg.Server.ListenAddr)

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// loadConfig reads path. A missing file is tolerated in one-shot mode, where
// the defaults are used instead.
func loadConfig(path string, oneShot bool) (cfg *config.Config, found bool, err error) {
	cfg, err = config.Load(path)
	if err == nil {
		return cfg, true, nil
	}
	if !oneShot || !errors.Is(err, os.ErrNotExist) {
		return nil, false, err
	}
	cfg, err = config.LoadFromReader(strings.NewReader(""))
	return cfg, false, err
}

// processFile runs the transcript at path and prints where the results went.
func processFile(ctx context.Context, a *app.App, path string, meta chunk.SourceMeta) int {
	data, err := os.ReadFile(path)
	if err != nil {
		slog.Error("failed to read transcript", "path", path, "err", err)
		return 1
	}
	if meta.Title == "" {
		meta.Title = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	run, folder, err := a.Process(ctx, pipeline.Input{Content: string(data), Meta: meta})
	if err != nil {
		slog.Error("run failed", "run_id", run.ID, "err", err)
		return 1
	}

	fmt.Printf("Run %s %s via %s in %s\n", run.ID, run.State, run.Method, run.Elapsed.Round(time.Millisecond))
	fmt.Printf("  Successful patterns: %d/%d\n", run.Successful, run.Total)
	for _, name := range run.Failed(a.Catalog()) {
		fmt.Printf("  Failed: %s\n", name)
	}
	fmt.Printf("  Output: %s\n", folder)
	if run.Successful == 0 {
		return 1
	}
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires the LLM provider factories into reg. openai
// uses the native SDK when an API key is configured; every other backend
// shares the any-llm-go pattern of optional APIKey + optional BaseURL.
func registerBuiltinProviders(reg *config.Registry) {
	for _, providerName := range anyllm.Supported {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			if providerName == "openai" && entry.APIKey != "" {
				var opts []openai.Option
				if entry.BaseURL != "" {
					opts = append(opts, openai.WithBaseURL(entry.BaseURL))
				}
				p, err := openai.New(entry.APIKey, opts...)
				if err != nil {
					return nil, err
				}
				return p, nil
			}
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			p, err := anyllm.New(providerName, opts...)
			if err != nil {
				return nil, err
			}
			return p, nil
		})
	}

	for _, name := range reg.Names() {
		slog.Debug("registered provider", "kind", "llm", "name", name)
	}
}

// buildProviders instantiates the providers referenced by the model chain.
// Only the llm backend needs them.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}
	if cfg.Executor.Backend != config.BackendLLM {
		return ps, nil
	}
	set, err := reg.ProviderSet(cfg.Executor.Models, cfg.Executor.LLM.Providers)
	if err != nil {
		return nil, err
	}
	for name := range set {
		slog.Info("provider created", "kind", "llm", "name", name)
	}
	ps.LLM = set
	return ps, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, a *app.App) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║       patternlab: startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Backend", string(cfg.Executor.Backend))
	printRow("Primary model", first(a.Models()))
	printRow("Fallbacks", fmt.Sprint(max(len(a.Models())-1, 0)))
	printRow("Patterns", fmt.Sprint(a.Catalog().Len()))
	printRow("Batch size", fmt.Sprint(cfg.Pipeline.BatchSize))
	printRow("Simulation", fmt.Sprint(cfg.Pipeline.SimulateOnMissingTool))
	printRow("Output dir", cfg.Server.OutputDir)
	printRow("Listen addr", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(label, value string) {
	if value == "" {
		value = "(not configured)"
	}
	if len([]rune(value)) > 19 {
		value = string([]rune(value)[:18]) + "…"
	}
	fmt.Printf("║  %-14s  : %-19s ║\n", label, value)
}

func first(s []string) string {
	if len(s) == 0 {
		return ""
	}
	return s[0]
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level *slog.LevelVar) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
