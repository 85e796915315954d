// Package config loads ebb configuration from JSON or YAML files with
// EBB_* environment overlays, and resolves the OS-specific data directory.
package config
