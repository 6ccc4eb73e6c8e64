// Package config provides the configuration schema, loader, watcher and LLM
// provider registry for patternlab.
package config

import (
	"time"

	"github.com/MrWong99/patternlab/internal/chunk"
	"github.com/MrWong99/patternlab/internal/pattern"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Backend selects the mechanism that runs a pattern against a model.
type Backend string

const (
	// BackendFabric shells out to the fabric CLI.
	BackendFabric Backend = "fabric"

	// BackendLLM calls provider APIs directly with fabric pattern prompts.
	BackendLLM Backend = "llm"

	// BackendSimulate produces labelled placeholder output.
	BackendSimulate Backend = "simulate"
)

// IsValid reports whether b is a recognised backend.
func (b Backend) IsValid() bool {
	switch b {
	case BackendFabric, BackendLLM, BackendSimulate:
		return true
	}
	return false
}

// Default values applied by [Config.ApplyDefaults].
const (
	DefaultListenAddr     = ":8080"
	DefaultOutputDir      = "output"
	DefaultBatchSize      = 3
	DefaultMaxRetries     = 3
	DefaultBaseDelay      = 2 * time.Second
	DefaultTimeout        = 60 * time.Second
	DefaultMinOutputChars = 50
	DefaultServiceName    = "patternlab"
)

// DefaultModels is the fallback chain used when executor.models is empty:
// primary first, then progressively lighter and older alternatives. The llm
// backend expects "provider/model" ids instead.
var DefaultModels = []string{
	"claude-3-5-sonnet-20241022",
	"claude-3-5-haiku-20241022",
	"claude-3-sonnet-20240229",
	"claude-3-haiku-20240307",
}

// DefaultFabricCandidates are probed when executor.fabric.path is empty.
var DefaultFabricCandidates = []string{
	"fabric",
	"/usr/local/bin/fabric",
	"/opt/homebrew/bin/fabric",
	"$HOME/go/bin/fabric",
	"$HOME/.local/bin/fabric",
}

// Config is the root configuration structure, typically loaded with [Load]
// or [LoadFromReader].
type Config struct {
	Server    ServerConfig      `yaml:"server"`
	Pipeline  PipelineConfig    `yaml:"pipeline"`
	Chunking  chunk.Config      `yaml:"chunking"`
	Executor  ExecutorConfig    `yaml:"executor"`
	Patterns  []pattern.Pattern `yaml:"patterns"`
	Telemetry TelemetryConfig   `yaml:"telemetry"`
}

// ServerConfig holds network, logging and output settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP API listens on (e.g. ":8080").
	ListenAddr string `yaml:"listen_addr"`

	LogLevel LogLevel `yaml:"log_level"`

	// OutputDir receives one folder per completed run.
	OutputDir string `yaml:"output_dir"`
}

// PipelineConfig tunes the orchestrator.
type PipelineConfig struct {
	// BatchSize bounds how many patterns execute concurrently.
	BatchSize int `yaml:"batch_size"`

	// SimulateOnMissingTool switches a run to placeholder output instead of
	// failing it when the execution tool cannot be found.
	SimulateOnMissingTool bool `yaml:"simulate_on_missing_tool"`
}

// ExecutorConfig configures model fallback, retries and the runner backend.
type ExecutorConfig struct {
	Backend Backend `yaml:"backend"`

	// Models is the ordered fallback chain.
	Models []string `yaml:"models"`

	MaxRetries     int           `yaml:"max_retries"`
	BaseDelay      time.Duration `yaml:"base_delay"`
	Timeout        time.Duration `yaml:"timeout"`
	MinOutputChars int           `yaml:"min_output_chars"`

	// TempDir holds staged inputs. Empty means os.TempDir().
	TempDir string `yaml:"temp_dir"`

	CircuitBreaker BreakerConfig `yaml:"circuit_breaker"`
	Fabric         FabricConfig  `yaml:"fabric"`
	LLM            LLMConfig     `yaml:"llm"`
}

// BreakerConfig configures per-model circuit breakers. A zero MaxFailures
// disables them.
type BreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// FabricConfig locates the fabric binary.
type FabricConfig struct {
	// Path, when set, is used as-is and discovery is skipped.
	Path string `yaml:"path"`

	// Candidates are probed in order when Path is empty.
	Candidates []string `yaml:"candidates"`
}

// LLMConfig configures the direct-provider backend.
type LLMConfig struct {
	// PatternsDir is a fabric-style patterns tree: <dir>/<pattern>/system.md.
	PatternsDir string `yaml:"patterns_dir"`

	// Providers maps provider names (the part before "/" in a model id) to
	// their credentials.
	Providers map[string]ProviderEntry `yaml:"providers"`

	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// ProviderEntry holds credentials for one LLM provider.
type ProviderEntry struct {
	// Name is filled from the map key by [Config.ApplyDefaults].
	Name string `yaml:"-"`

	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`
}

// TelemetryConfig configures OpenTelemetry resource attributes.
type TelemetryConfig struct {
	ServiceName string `yaml:"service_name"`
}

// ApplyDefaults fills zero-valued fields with their defaults. It is called by
// [LoadFromReader] before validation.
func (c *Config) ApplyDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = DefaultListenAddr
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = LogInfo
	}
	if c.Server.OutputDir == "" {
		c.Server.OutputDir = DefaultOutputDir
	}
	if c.Pipeline.BatchSize == 0 {
		c.Pipeline.BatchSize = DefaultBatchSize
	}

	def := chunk.DefaultConfig()
	if c.Chunking.MaxTokens == 0 {
		c.Chunking.MaxTokens = def.MaxTokens
	}
	if c.Chunking.OverlapTokens == 0 {
		c.Chunking.OverlapTokens = def.OverlapTokens
	}
	if c.Chunking.CharsPerToken == 0 {
		c.Chunking.CharsPerToken = def.CharsPerToken
	}
	if c.Chunking.SearchWindow == 0 {
		c.Chunking.SearchWindow = def.SearchWindow
	}

	e := &c.Executor
	if e.Backend == "" {
		e.Backend = BackendFabric
	}
	if len(e.Models) == 0 {
		e.Models = append([]string(nil), DefaultModels...)
	}
	if e.MaxRetries == 0 {
		e.MaxRetries = DefaultMaxRetries
	}
	if e.BaseDelay == 0 {
		e.BaseDelay = DefaultBaseDelay
	}
	if e.Timeout == 0 {
		e.Timeout = DefaultTimeout
	}
	if e.MinOutputChars == 0 {
		e.MinOutputChars = DefaultMinOutputChars
	}
	if len(e.Fabric.Candidates) == 0 {
		e.Fabric.Candidates = append([]string(nil), DefaultFabricCandidates...)
	}
	for name, p := range e.LLM.Providers {
		p.Name = name
		e.LLM.Providers[name] = p
	}

	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = DefaultServiceName
	}
}
