// Package config loads, normalizes, and validates loom's TOML configuration.
// A Config is assembled once at startup and handed to components at
// construction time; components never consult process-wide state for tunables.
package config
