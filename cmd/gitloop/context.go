package main

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"gitloop/internal/config"
	"gitloop/internal/ledger"
	"gitloop/internal/logging"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error

	loggerOnce sync.Once
	logger     *slog.Logger

	ledger *ledger.Store
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
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
		if err := cfg.EnsureDirectories(); err != nil {
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

// loggerFor returns the process logger. A logger that cannot open its file
// falls back to stderr only.
func (c *commandContext) loggerFor(cmd *cobra.Command) *slog.Logger {
	c.loggerOnce.Do(func() {
		logger, err := logging.NewFromConfig(c.configValue())
		if err != nil {
			cfg := c.configValue()
			fallback, ferr := logging.New(logging.Options{
				Level:  cfg.Logging.Level,
				Format: cfg.Logging.Format,
				Writer: cmd.ErrOrStderr(),
			})
			if ferr != nil {
				fallback = logging.NewNop()
			}
			fallback.Warn("log file unavailable", logging.Error(err))
			logger = fallback
		}
		c.logger = logger
	})
	return c.logger
}

// openLedger opens the run ledger once per process.
func (c *commandContext) openLedger(ctx context.Context) (*ledger.Store, error) {
	if c.ledger != nil {
		return c.ledger, nil
	}
	store, err := ledger.Open(ctx, c.configValue().LedgerPath())
	if err != nil {
		return nil, err
	}
	c.ledger = store
	return store, nil
}

func (c *commandContext) close() {
	if c.ledger != nil {
		_ = c.ledger.Close()
		c.ledger = nil
	}
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
