package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/patternlab/pkg/provider/llm"
)

// ValidProviderNames lists the LLM providers a model id may name.
var ValidProviderNames = []string{
	"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
}

// Load reads the YAML configuration file at path and returns a validated [Config]
// with defaults applied.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. An empty document yields the default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.ApplyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Pipeline.BatchSize < 0 {
		errs = append(errs, fmt.Errorf("pipeline.batch_size %d must be positive", cfg.Pipeline.BatchSize))
	}

	c := cfg.Chunking
	if c.MaxTokens < 0 || c.OverlapTokens < 0 || c.CharsPerToken < 0 || c.SearchWindow < 0 {
		errs = append(errs, errors.New("chunking values must not be negative"))
	}
	if c.MaxTokens > 0 && c.OverlapTokens >= c.MaxTokens {
		errs = append(errs, fmt.Errorf("chunking.overlap_tokens %d must be smaller than max_tokens %d", c.OverlapTokens, c.MaxTokens))
	}

	errs = append(errs, validateExecutor(&cfg.Executor)...)

	seen := make(map[string]int, len(cfg.Patterns))
	files := make(map[string]int, len(cfg.Patterns))
	for i, p := range cfg.Patterns {
		prefix := fmt.Sprintf("patterns[%d]", i)
		if p.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else {
			if prev, ok := seen[p.Name]; ok {
				errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of patterns[%d]", prefix, p.Name, prev))
			}
			seen[p.Name] = i
		}
		if !p.Phase.IsValid() {
			errs = append(errs, fmt.Errorf("%s.phase %d is out of range [1, 4]", prefix, p.Phase))
		}
		if p.Filename != "" {
			if prev, ok := files[p.Filename]; ok {
				errs = append(errs, fmt.Errorf("%s.filename %q is a duplicate of patterns[%d]", prefix, p.Filename, prev))
			}
			files[p.Filename] = i
		}
	}

	return errors.Join(errs...)
}

func validateExecutor(e *ExecutorConfig) []error {
	var errs []error
	if e.Backend != "" && !e.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("executor.backend %q is invalid; valid values: fabric, llm, simulate", e.Backend))
	}
	for i, m := range e.Models {
		if strings.TrimSpace(m) == "" {
			errs = append(errs, fmt.Errorf("executor.models[%d] is empty", i))
		}
	}
	if e.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("executor.max_retries %d must not be negative", e.MaxRetries))
	}
	if e.BaseDelay < 0 || e.Timeout < 0 {
		errs = append(errs, errors.New("executor durations must not be negative"))
	}
	if e.MinOutputChars < 0 {
		errs = append(errs, fmt.Errorf("executor.min_output_chars %d must not be negative", e.MinOutputChars))
	}
	if e.CircuitBreaker.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("executor.circuit_breaker.max_failures %d must not be negative", e.CircuitBreaker.MaxFailures))
	}

	if e.Backend == BackendLLM {
		if e.LLM.PatternsDir == "" {
			errs = append(errs, errors.New("executor.llm.patterns_dir is required when backend is llm"))
		}
		for i, m := range e.Models {
			provider, _, err := llm.SplitModelID(m)
			if err != nil {
				errs = append(errs, fmt.Errorf("executor.models[%d]: %w", i, err))
				continue
			}
			validateProviderName(provider)
			if _, ok := e.LLM.Providers[provider]; !ok && provider != "ollama" {
				slog.Warn("model names a provider without credentials", "model", m, "provider", provider)
			}
		}
	}
	return errs
}

// validateProviderName logs a warning if name is not in [ValidProviderNames].
func validateProviderName(name string) {
	if slices.Contains(ValidProviderNames, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or third-party provider",
		"name", name,
		"known", ValidProviderNames,
	)
}
