package config

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/language"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateQueue(); err != nil {
		return err
	}
	if err := c.validateRecovery(); err != nil {
		return err
	}
	if err := c.validateIntegrity(); err != nil {
		return err
	}
	if err := c.validateServices(); err != nil {
		return err
	}
	if err := c.validateChunking(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		return errors.New("paths.data_dir must be set")
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		return errors.New("paths.log_dir must be set")
	}
	return nil
}

func (c *Config) validateQueue() error {
	if c.Queue.Workers < 1 {
		return errors.New("queue.workers must be at least 1")
	}
	if c.Queue.PollInterval < 1 {
		return errors.New("queue.poll_interval must be at least 1 second")
	}
	if c.Queue.MaxRetries < 0 {
		return errors.New("queue.max_retries must not be negative")
	}
	return nil
}

func (c *Config) validateRecovery() error {
	if c.Recovery.Interval < 1 {
		return errors.New("recovery.interval must be at least 1 second")
	}
	if c.Recovery.StuckTimeout < 1 {
		return errors.New("recovery.stuck_timeout must be at least 1 second")
	}
	if c.Recovery.RetryGrace < 0 {
		return errors.New("recovery.retry_grace must not be negative")
	}
	return nil
}

func (c *Config) validateIntegrity() error {
	if c.Integrity.Interval < 1 {
		return errors.New("integrity.interval must be at least 1 second")
	}
	if c.Integrity.OrphanGrace < 0 {
		return errors.New("integrity.orphan_grace must not be negative")
	}
	return nil
}

func (c *Config) validateServices() error {
	if strings.TrimSpace(c.Transcriber.URL) == "" {
		return errors.New("transcriber.url must be set")
	}
	if strings.TrimSpace(c.Embedder.URL) == "" {
		return errors.New("embedder.url must be set")
	}
	if strings.TrimSpace(c.VectorStore.URL) == "" {
		return errors.New("vector_store.url must be set")
	}
	if len(c.VectorStore.Collections) == 0 {
		return errors.New("vector_store.collections must name at least one collection")
	}
	for _, name := range c.VectorStore.Collections {
		if strings.TrimSpace(name) == "" {
			return errors.New("vector_store.collections must not contain empty names")
		}
	}
	if lang := strings.TrimSpace(c.Transcriber.Language); lang != "" {
		if _, err := language.Parse(lang); err != nil {
			return fmt.Errorf("transcriber.language %q is not a valid language tag: %w", lang, err)
		}
	}
	return nil
}

func (c *Config) validateChunking() error {
	if c.Chunking.Size < 1 {
		return errors.New("chunking.size must be at least 1")
	}
	if c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.Size {
		return errors.New("chunking.overlap must be non-negative and smaller than chunking.size")
	}
	return nil
}
