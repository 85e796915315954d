package config

import (
	"os"
	"strconv"
)

// FromEnv overlays EBB_* environment variables onto cfg.
func FromEnv(cfg *Config) {
	if v := os.Getenv("EBB_DEFAULT_NAMESPACE_NAME"); v != "" {
		cfg.DefaultNamespaceName = v
	}
	if v := os.Getenv("EBB_NAMESPACE_NAME_REGEX"); v != "" {
		cfg.NamespaceNameRegex = v
	}
	if v := os.Getenv("EBB_DUMP_BATCH_SIZE"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil && n > 0 {
			cfg.Dump.BatchSize = n
		}
	}
	if v := os.Getenv("EBB_DUMP_PREFETCH_COUNT"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil && n > 0 {
			cfg.Dump.PrefetchCount = n
		}
	}
	if v := os.Getenv("EBB_DUMP_PARALLELISM"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil && n > 0 {
			cfg.Dump.Parallelism = n
		}
	}
	if v := os.Getenv("EBB_DUMP_TTL_SECONDS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.Dump.TTLSeconds = f
		}
	}
	if v := os.Getenv("EBB_DUMP_MAX_CONTEXTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.Dump.MaxContexts = n
		}
	}
	if v := os.Getenv("EBB_DUMP_SWEEP_INTERVAL_MS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.Dump.SweepIntervalMs = n
		}
	}
}
