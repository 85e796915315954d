package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration loaded from file/env.
type Config struct {
	DefaultNamespaceName string       `json:"defaultNamespaceName" yaml:"defaultNamespaceName"`
	NamespaceNameRegex   string       `json:"namespaceNameRegex" yaml:"namespaceNameRegex"`
	Dump                 DumpDefaults `json:"dump" yaml:"dump"`
}

// DumpDefaults captures baseline dump-context options and manager limits.
type DumpDefaults struct {
	// BatchSize is the row budget per batch.
	BatchSize uint64 `json:"batchSize" yaml:"batchSize"`
	// PrefetchCount controls how many batches each worker may run ahead.
	PrefetchCount uint64 `json:"prefetchCount" yaml:"prefetchCount"`
	// Parallelism is the number of dump worker goroutines per context.
	Parallelism uint64 `json:"parallelism" yaml:"parallelism"`
	// TTLSeconds is the idle lifetime of a dump context.
	TTLSeconds float64 `json:"ttlSeconds" yaml:"ttlSeconds"`
	// MaxContexts caps concurrently registered dump contexts (0 = unlimited).
	MaxContexts int `json:"maxContexts" yaml:"maxContexts"`
	// SweepIntervalMs is the expiry sweeper tick in milliseconds.
	SweepIntervalMs int64 `json:"sweepIntervalMs" yaml:"sweepIntervalMs"`
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		DefaultNamespaceName: "default",
		NamespaceNameRegex:   "[a-z0-9-_]{1,64}",
		Dump: DumpDefaults{
			BatchSize:       16384,
			PrefetchCount:   2,
			Parallelism:     2,
			TTLSeconds:      600,
			MaxContexts:     64,
			SweepIntervalMs: 1000,
		},
	}
}

// Load reads configuration from a JSON or YAML file (by extension). An empty
// path returns defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	return cfg, nil
}
