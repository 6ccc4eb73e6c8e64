package config_test

import (
	"slices"
	"testing"

	"github.com/MrWong99/patternlab/internal/config"
	"github.com/MrWong99/patternlab/internal/pattern"
)

func baseConfig() *config.Config {
	cfg := &config.Config{}
	cfg.ApplyDefaults()
	return cfg
}

func TestDiff_NoChanges(t *testing.T) {
	d := config.Diff(baseConfig(), baseConfig())
	if !d.IsEmpty() {
		t.Errorf("expected empty diff, got %+v", d)
	}
}

func TestDiff_HotReloadable(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		check  func(t *testing.T, d config.ConfigDiff)
	}{
		{
			name:   "log level",
			mutate: func(c *config.Config) { c.Server.LogLevel = config.LogDebug },
			check: func(t *testing.T, d config.ConfigDiff) {
				if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
					t.Errorf("log level diff = %v/%q", d.LogLevelChanged, d.NewLogLevel)
				}
			},
		},
		{
			name:   "models reordered",
			mutate: func(c *config.Config) { slices.Reverse(c.Executor.Models) },
			check: func(t *testing.T, d config.ConfigDiff) {
				if !d.ModelsChanged || d.NewModels[0] != "claude-3-haiku-20240307" {
					t.Errorf("models diff = %v/%v", d.ModelsChanged, d.NewModels)
				}
			},
		},
		{
			name:   "batch size",
			mutate: func(c *config.Config) { c.Pipeline.BatchSize = 5 },
			check: func(t *testing.T, d config.ConfigDiff) {
				if !d.BatchSizeChanged || d.NewBatchSize != 5 {
					t.Errorf("batch diff = %v/%d", d.BatchSizeChanged, d.NewBatchSize)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			newCfg := baseConfig()
			tt.mutate(newCfg)
			d := config.Diff(baseConfig(), newCfg)
			tt.check(t, d)
			if len(d.RestartRequired) != 0 {
				t.Errorf("RestartRequired = %v, want none", d.RestartRequired)
			}
		})
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	newCfg := baseConfig()
	newCfg.Server.ListenAddr = ":9090"
	newCfg.Executor.Backend = config.BackendLLM
	newCfg.Chunking.MaxTokens = 10_000
	newCfg.Patterns = []pattern.Pattern{{Name: "summarize", Phase: pattern.PhasePrimaryExtraction}}

	d := config.Diff(baseConfig(), newCfg)
	want := []string{"server.listen_addr", "executor.backend", "chunking", "patterns"}
	if !slices.Equal(d.RestartRequired, want) {
		t.Errorf("RestartRequired = %v, want %v", d.RestartRequired, want)
	}
	if d.IsEmpty() {
		t.Error("diff should not be empty")
	}
}

func TestDiff_NewModelsIsACopy(t *testing.T) {
	newCfg := baseConfig()
	newCfg.Executor.Models = []string{"a", "b"}
	d := config.Diff(baseConfig(), newCfg)
	newCfg.Executor.Models[0] = "mutated"
	if d.NewModels[0] != "a" {
		t.Errorf("NewModels aliases the config slice: %v", d.NewModels)
	}
}
