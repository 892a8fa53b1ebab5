package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir  string `toml:"data_dir"`
	LogDir   string `toml:"log_dir"`
	MediaDir string `toml:"media_dir"`
	APIBind  string `toml:"api_bind"`
	APIToken string `toml:"api_token"`
}

// Queue contains worker pool and claim settings.
type Queue struct {
	Workers           int `toml:"workers"`
	PollInterval      int `toml:"poll_interval"`
	MaxRetries        int `toml:"max_retries"`
	DefaultPriority   int `toml:"default_priority"`
	VectorizePriority int `toml:"vectorize_priority"`
}

// Recovery contains the stuck/failed job sweep settings.
type Recovery struct {
	Interval          int `toml:"interval"`
	StuckTimeout      int `toml:"stuck_timeout"`
	RetryGrace        int `toml:"retry_grace"`
	TerminalRetention int `toml:"terminal_retention"`
}

// Integrity contains the reconciliation sweep settings.
type Integrity struct {
	Interval       int  `toml:"interval"`
	OrphanGrace    int  `toml:"orphan_grace"`
	ReprocessAfter int  `toml:"reprocess_after"`
	FixDuplicates  bool `toml:"fix_duplicates"`
	FixOrphans     bool `toml:"fix_orphans"`
}

// Transcriber contains the speech-to-text model server settings.
type Transcriber struct {
	URL               string `toml:"url"`
	HealthTimeout     int    `toml:"health_timeout"`
	TranscribeTimeout int    `toml:"transcribe_timeout"`
	RequireGPU        bool   `toml:"require_gpu"`
	Language          string `toml:"language"`
}

// Embedder contains the embedding model server settings.
type Embedder struct {
	URL       string `toml:"url"`
	Timeout   int    `toml:"timeout"`
	BatchSize int    `toml:"batch_size"`
}

// VectorStore contains the vector point store settings.
type VectorStore struct {
	URL         string   `toml:"url"`
	Collections []string `toml:"collections"`
	Timeout     int      `toml:"timeout"`
}

// Cache contains the cache server settings. When Addr is empty the daemon
// runs with an in-process cache.
type Cache struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

// Chunking contains transcript chunking settings for vectorization.
type Chunking struct {
	Size    int `toml:"size"`
	Overlap int `toml:"overlap"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration for loom. It is loaded once at
// startup and passed to components at construction; nothing reads it from
// process-wide state afterwards.
//
// Sections by subsystem:
//   - Paths: data/log/media directories and the daemon API bind
//   - Queue: worker pool sizing and claim polling
//   - Recovery: stuck/failed job sweep intervals and bounds
//   - Integrity: reconciliation sweep intervals and toggles
//   - Transcriber/Embedder: external model server endpoints
//   - VectorStore: point store endpoint and collections
//   - Cache: cache server connection
//   - Chunking: transcript chunk window for vectorization
//   - Logging: log format and level
type Config struct {
	Paths       Paths       `toml:"paths"`
	Queue       Queue       `toml:"queue"`
	Recovery    Recovery    `toml:"recovery"`
	Integrity   Integrity   `toml:"integrity"`
	Transcriber Transcriber `toml:"transcriber"`
	Embedder    Embedder    `toml:"embedder"`
	VectorStore VectorStore `toml:"vector_store"`
	Cache       Cache       `toml:"cache"`
	Chunking    Chunking    `toml:"chunking"`
	Logging     Logging     `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/loom/config.toml")
}

// SampleConfig returns the embedded sample configuration file contents.
func SampleConfig() string {
	return sampleConfig
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}
	projectPath, err := filepath.Abs("loom.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir, c.Paths.MediaDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the path of the relational store database file.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "loom.db")
}

// ExpandPath resolves ~ prefixes and relative segments in a user-supplied
// path.
func ExpandPath(path string) (string, error) {
	return expandPath(path)
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", nil
	}
	if trimmed == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		return home, nil
	}
	if strings.HasPrefix(trimmed, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		return filepath.Join(home, trimmed[2:]), nil
	}
	return filepath.Abs(trimmed)
}
