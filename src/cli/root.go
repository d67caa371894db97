// Package cli is the command-line entry point and composition root.
package cli

import (
	"strings"
	"sync"

	"github.com/integems/caption-agent/config"
	"github.com/integems/caption-agent/src/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type commandContext struct {
	logLevelFlag *string

	once   sync.Once
	config *config.Config
	logger *zap.Logger
	err    error
}

// ensure loads the configuration and builds the logger once per process.
func (c *commandContext) ensure() (*config.Config, *zap.Logger, error) {
	c.once.Do(func() {
		dotEnvErr := config.LoadDotEnv()
		cfg, err := config.Load()
		if err != nil {
			c.err = err
			return
		}
		if c.logLevelFlag != nil && strings.TrimSpace(*c.logLevelFlag) != "" {
			cfg.LogLevel = *c.logLevelFlag
		}
		logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
		if err != nil {
			c.err = err
			return
		}
		if dotEnvErr != nil {
			logger.Warn("could not load .env; using process environment", zap.Error(dotEnvErr))
		}
		c.config = cfg
		c.logger = logger
	})
	return c.config, c.logger, c.err
}

// NewRootCommand builds the caption-agent command tree. Running it without a
// subcommand starts the server.
func NewRootCommand() *cobra.Command {
	var logLevel string
	ctx := &commandContext{logLevelFlag: &logLevel}

	serveCmd := newServeCommand(ctx)

	rootCmd := &cobra.Command{
		Use:           "caption-agent",
		Short:         "Image caption gallery API server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_, _, err := ctx.ensure()
			return err
		},
		RunE: serveCmd.RunE,
	}

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override LOG_LEVEL (debug, info, warn, error)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(newMigrateCommand(ctx))
	return rootCmd
}
