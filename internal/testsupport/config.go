package testsupport

import (
	"path/filepath"
	"testing"

	"loom/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.MediaDir = filepath.Join(base, "media")
	cfg.Paths.APIBind = "127.0.0.1:0"
	cfg.Queue.PollInterval = 1
	cfg.Queue.Workers = 1

	for _, opt := range opts {
		opt(&cfg)
	}
	return &cfg
}

// WithCollections overrides the vector collections on the test config.
func WithCollections(collections ...string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.VectorStore.Collections = collections
	}
}

// WithMaxRetries overrides the queue retry ceiling on the test config.
func WithMaxRetries(n int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Queue.MaxRetries = n
	}
}
