package config

import "slices"

// ConfigDiff describes what changed between two configs. Only fields that can
// be applied without a restart are tracked.
type ConfigDiff struct {
	ModelsChanged bool
	NewModels     []string

	LogLevelChanged bool
	NewLogLevel     LogLevel

	BatchSizeChanged bool
	NewBatchSize     int

	// RestartRequired lists changed settings that only take effect after a
	// restart (listen address, backend).
	RestartRequired []string
}

// IsEmpty reports whether nothing changed.
func (d ConfigDiff) IsEmpty() bool {
	return !d.ModelsChanged && !d.LogLevelChanged && !d.BatchSizeChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if !slices.Equal(old.Executor.Models, new.Executor.Models) {
		d.ModelsChanged = true
		d.NewModels = slices.Clone(new.Executor.Models)
	}
	if old.Pipeline.BatchSize != new.Pipeline.BatchSize {
		d.BatchSizeChanged = true
		d.NewBatchSize = new.Pipeline.BatchSize
	}

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if old.Server.OutputDir != new.Server.OutputDir {
		d.RestartRequired = append(d.RestartRequired, "server.output_dir")
	}
	if old.Executor.Backend != new.Executor.Backend {
		d.RestartRequired = append(d.RestartRequired, "executor.backend")
	}
	if old.Chunking != new.Chunking {
		d.RestartRequired = append(d.RestartRequired, "chunking")
	}
	if !slices.Equal(old.Patterns, new.Patterns) {
		d.RestartRequired = append(d.RestartRequired, "patterns")
	}

	return d
}
