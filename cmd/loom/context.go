package main

import (
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"loom/internal/api"
	"loom/internal/config"
)

type commandContext struct {
	serverFlag *string
	tokenFlag  *string
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(serverFlag, tokenFlag, configFlag *string) *commandContext {
	return &commandContext{
		serverFlag: serverFlag,
		tokenFlag:  tokenFlag,
		configFlag: configFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) configValue() *config.Config {
	cfg, _ := c.ensureConfig()
	return cfg
}

// serverURL resolves the daemon address: explicit flag first, then the
// configured API bind.
func (c *commandContext) serverURL() string {
	if c.serverFlag != nil {
		if server := strings.TrimSpace(*c.serverFlag); server != "" {
			if !strings.Contains(server, "://") {
				return "http://" + server
			}
			return server
		}
	}
	if cfg := c.configValue(); cfg != nil {
		return "http://" + cfg.Paths.APIBind
	}
	return "http://127.0.0.1:7519"
}

func (c *commandContext) token() string {
	if c.tokenFlag != nil {
		if token := strings.TrimSpace(*c.tokenFlag); token != "" {
			return token
		}
	}
	if cfg := c.configValue(); cfg != nil {
		return cfg.Paths.APIToken
	}
	return ""
}

func (c *commandContext) client() *api.Client {
	return api.NewClient(c.serverURL(), c.token())
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}
