// Package executor runs a single pattern against a transcript through an
// external mechanism, falling back across an ordered model list and retrying
// the whole list with exponential backoff when every model failed for
// load-related reasons.
//
// The external mechanism is a [Runner]. Three are provided: [FabricRunner]
// shells out to the fabric CLI, [LLMRunner] calls provider APIs directly with
// fabric's pattern prompts, and [SimulatedRunner] produces labelled
// placeholder output.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/patternlab/internal/chunk"
	"github.com/MrWong99/patternlab/internal/observe"
	"github.com/MrWong99/patternlab/internal/resilience"
)

// Runner invokes one pattern with one model. inputPath names a staged file
// holding the full input text; the runner must not modify or remove it.
// Distinct calls are independent and may run concurrently.
type Runner interface {
	Run(ctx context.Context, pattern, model, inputPath string) (string, error)
}

// ModelChecker is implemented by runners that can tell up front whether they
// are able to serve a model id. [New] and [Executor.WithConfig] reject a
// fallback chain containing a model the runner refuses.
type ModelChecker interface {
	CheckModel(model string) error
}

// RunnerFunc adapts a function to [Runner].
type RunnerFunc func(ctx context.Context, pattern, model, inputPath string) (string, error)

// Run implements [Runner].
func (f RunnerFunc) Run(ctx context.Context, pattern, model, inputPath string) (string, error) {
	return f(ctx, pattern, model, inputPath)
}

// Defaults for [Config].
const (
	DefaultMaxRetries     = 3
	DefaultBaseDelay      = 2 * time.Second
	DefaultTimeout        = 60 * time.Second
	DefaultMinOutputChars = 50
)

// Config is an immutable value describing fallback and retry behaviour.
// Derive modified copies with the With* methods.
type Config struct {
	// Models is the fallback chain, primary first.
	Models []string

	// MaxRetries is how many extra passes through Models are allowed after
	// the first one fails transiently.
	MaxRetries int

	BaseDelay time.Duration

	// Timeout bounds each single runner invocation.
	Timeout time.Duration

	// MinOutputChars rejects outputs shorter than this after trimming.
	MinOutputChars int

	// TempDir is where inputs are staged. Empty means os.TempDir().
	TempDir string
}

// DefaultConfig returns the reference retry settings with the given models.
func DefaultConfig(models ...string) Config {
	return Config{
		Models:         slices.Clone(models),
		MaxRetries:     DefaultMaxRetries,
		BaseDelay:      DefaultBaseDelay,
		Timeout:        DefaultTimeout,
		MinOutputChars: DefaultMinOutputChars,
	}
}

// WithModels returns a copy of c using models as the fallback chain.
func (c Config) WithModels(models ...string) Config {
	c.Models = slices.Clone(models)
	return c
}

// Validate reports configuration errors.
func (c Config) Validate() error {
	if len(c.Models) == 0 {
		return errors.New("executor: at least one model is required")
	}
	for i, m := range c.Models {
		if strings.TrimSpace(m) == "" {
			return fmt.Errorf("executor: model %d is empty", i)
		}
	}
	if c.MaxRetries < 0 || c.BaseDelay < 0 || c.Timeout < 0 || c.MinOutputChars < 0 {
		return errors.New("executor: retry settings must not be negative")
	}
	return nil
}

// Option configures an [Executor].
type Option func(*Executor)

// WithBreakers guards each model with a circuit breaker from set. A model
// whose breaker is open is skipped like a failed model.
func WithBreakers(set *resilience.BreakerSet) Option {
	return func(e *Executor) { e.breakers = set }
}

// WithMetrics records attempts and backoffs on m instead of
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Executor) { e.metrics = m }
}

// WithSleep replaces the backoff wait. The function must return early with
// ctx.Err() when ctx is done.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Executor) { e.sleep = fn }
}

// Executor runs patterns. It is immutable and safe for concurrent use.
type Executor struct {
	runner   Runner
	cfg      Config
	breakers *resilience.BreakerSet
	metrics  *observe.Metrics
	sleep    func(ctx context.Context, d time.Duration) error
}

// New creates an [Executor].
func New(runner Runner, cfg Config, opts ...Option) (*Executor, error) {
	if runner == nil {
		return nil, errors.New("executor: runner must not be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := checkModels(runner, cfg.Models); err != nil {
		return nil, err
	}
	e := &Executor{
		runner: runner,
		cfg:    cfg,
		sleep:  sleepContext,
	}
	e.cfg.Models = slices.Clone(cfg.Models)
	for _, o := range opts {
		o(e)
	}
	if e.metrics == nil {
		e.metrics = observe.DefaultMetrics()
	}
	return e, nil
}

// Config returns a copy of the executor's configuration.
func (e *Executor) Config() Config {
	c := e.cfg
	c.Models = slices.Clone(c.Models)
	return c
}

// WithConfig returns a new executor that shares the runner, breakers and
// metrics of e but uses cfg. e itself is unchanged.
func (e *Executor) WithConfig(cfg Config) (*Executor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := checkModels(e.runner, cfg.Models); err != nil {
		return nil, err
	}
	n := *e
	n.cfg = cfg
	n.cfg.Models = slices.Clone(cfg.Models)
	return &n, nil
}

func checkModels(r Runner, models []string) error {
	mc, ok := r.(ModelChecker)
	if !ok {
		return nil
	}
	var errs []error
	for _, m := range models {
		if err := mc.CheckModel(m); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// WithRunner returns a new executor using r, keeping everything else.
func (e *Executor) WithRunner(r Runner) *Executor {
	n := *e
	n.runner = r
	return &n
}

// Execute runs pattern over text. meta only annotates logs and traces; any
// orientation header must already be part of text.
//
// It returns the trimmed output of the first model that succeeds. When every
// permitted attempt failed the error is a *[PatternExecutionError]. An error
// wrapping [ErrToolNotFound] or a context error is returned as soon as it is
// seen.
func (e *Executor) Execute(ctx context.Context, pattern, text string, meta chunk.SourceMeta) (out string, err error) {
	ctx, span := observe.StartSpan(ctx, "executor.Execute",
		trace.WithAttributes(
			attribute.String("pattern", pattern),
			attribute.Int("input.bytes", len(text)),
			attribute.String("source.title", meta.Title),
		),
	)
	defer func() { observe.EndSpan(span, err) }()

	path, err := e.stage(pattern, text)
	if err != nil {
		return "", err
	}
	defer func() {
		if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			slog.Warn("executor: failed to remove staged input", "path", path, "err", rmErr)
		}
	}()

	log := observe.Logger(ctx).With("pattern", pattern)
	m := newMachine(e.cfg)
	var (
		attempts int
		passErrs []error
	)
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		model := m.model()
		attempts++

		out, err := e.invoke(ctx, pattern, model, path)
		if err == nil {
			span.SetAttributes(attribute.String("model", model), attribute.Int("attempts", attempts))
			log.Info("pattern succeeded", "model", model, "attempts", attempts, "output_chars", len(out))
			return out, nil
		}
		if errors.Is(err, ErrToolNotFound) {
			return "", err
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		passErrs = append(passErrs, fmt.Errorf("%s: %w", model, err))
		transient := IsTransient(err)
		log.Warn("model failed", "model", model, "attempt", m.attempt+1, "transient", transient, "err", err)

		next, delay := m.onFailure(transient)
		switch next {
		case stepNextModel:
			continue
		case stepBackoff:
			e.metrics.RecordBackoff(ctx, pattern)
			log.Info("all models failed, backing off", "delay", delay, "retry", m.attempt, "max_retries", m.maxRetries)
			if err := e.sleep(ctx, delay); err != nil {
				return "", err
			}
			passErrs = passErrs[:0]
		case stepFail:
			return "", &PatternExecutionError{
				Pattern:  pattern,
				Attempts: attempts,
				Err:      errors.Join(passErrs...),
			}
		}
	}
}

// invoke runs a single attempt through the model's breaker, if any, with the
// per-call timeout, and validates the output length.
func (e *Executor) invoke(ctx context.Context, pattern, model, path string) (string, error) {
	call := func() (string, error) {
		cctx := ctx
		if e.cfg.Timeout > 0 {
			var cancel context.CancelFunc
			cctx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
			defer cancel()
		}
		out, err := e.runner.Run(cctx, pattern, model, path)
		if err != nil {
			if cctx.Err() != nil && ctx.Err() == nil && !errors.Is(err, context.DeadlineExceeded) {
				err = fmt.Errorf("%w: %w", context.DeadlineExceeded, err)
			}
			return "", err
		}
		out = strings.TrimSpace(out)
		if len(out) < e.cfg.MinOutputChars {
			return "", fmt.Errorf("%w (%d chars)", ErrShortOutput, len(out))
		}
		return out, nil
	}

	start := time.Now()
	var (
		out string
		err error
	)
	if e.breakers != nil {
		out, err = resilience.Call(e.breakers.Get(model), call)
	} else {
		out, err = call()
	}
	e.metrics.RecordModelAttempt(ctx, model, attemptStatus(err), time.Since(start))
	return out, err
}

func attemptStatus(err error) string {
	switch {
	case err == nil:
		return observe.StatusSuccess
	case errors.Is(err, resilience.ErrCircuitOpen):
		return observe.StatusCircuitOpen
	case errors.Is(err, ErrShortOutput):
		return observe.StatusShortOutput
	default:
		return observe.StatusFailure
	}
}

// stage writes text to a uniquely named file under the configured temp dir.
func (e *Executor) stage(pattern, text string) (string, error) {
	f, err := os.CreateTemp(e.cfg.TempDir, "patternlab-"+safeName(pattern)+"-*.txt")
	if err != nil {
		return "", fmt.Errorf("executor: stage input: %w", err)
	}
	path := f.Name()
	if _, err := f.WriteString(text); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("executor: stage input: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("executor: stage input: %w", err)
	}
	return path, nil
}

// safeName keeps letters, digits, '-' and '_' so a pattern name can be part
// of a file name.
func safeName(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, s)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
