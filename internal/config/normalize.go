package config

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeServices()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if c.Paths.MediaDir, err = expandPath(c.Paths.MediaDir); err != nil {
		return fmt.Errorf("paths.media_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	return nil
}

func (c *Config) normalizeServices() {
	c.Transcriber.URL = strings.TrimRight(strings.TrimSpace(c.Transcriber.URL), "/")
	c.Embedder.URL = strings.TrimRight(strings.TrimSpace(c.Embedder.URL), "/")
	c.VectorStore.URL = strings.TrimRight(strings.TrimSpace(c.VectorStore.URL), "/")
	c.Cache.Addr = strings.TrimSpace(c.Cache.Addr)

	if lang := strings.TrimSpace(c.Transcriber.Language); lang != "" {
		if tag, err := language.Parse(lang); err == nil {
			base, _ := tag.Base()
			c.Transcriber.Language = base.String()
		}
	}

	collections := make([]string, 0, len(c.VectorStore.Collections))
	for _, name := range c.VectorStore.Collections {
		if trimmed := strings.TrimSpace(name); trimmed != "" {
			collections = append(collections, trimmed)
		}
	}
	if len(collections) > 0 {
		c.VectorStore.Collections = collections
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
