package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/WessleyAI/wessley-voice/pkg/config"
)

type commandContext struct {
	configFlag   string
	logLevelFlag string

	once   sync.Once
	cfg    config.Config
	cfgErr error
	logger *slog.Logger
}

func (c *commandContext) config() (config.Config, error) {
	c.once.Do(func() {
		c.cfg, c.cfgErr = config.Load(strings.TrimSpace(c.configFlag))
		if c.cfgErr != nil {
			return
		}
		if c.logLevelFlag != "" {
			c.cfg.Server.LogLevel = c.logLevelFlag
		}
		c.logger = newLogger(c.cfg.Server.LogLevel)
		slog.SetDefault(c.logger)
	})
	return c.cfg, c.cfgErr
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func newRootCommand() *cobra.Command {
	ctx := &commandContext{}

	root := &cobra.Command{
		Use:           "voicerag",
		Short:         "Phone-line question answering over your documents",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := ctx.config(); err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	root.PersistentFlags().StringVarP(&ctx.configFlag, "config", "c", "", "Configuration file path (TOML)")
	root.PersistentFlags().StringVar(&ctx.logLevelFlag, "log-level", "", "Log level: debug, info, warn, error")

	root.AddCommand(
		newServeCommand(ctx),
		newWorkerCommand(ctx),
		newIngestCommand(ctx),
		newAskCommand(ctx),
		newCallCommand(ctx),
		newNumbersCommand(ctx),
		newConfigCommand(ctx),
	)
	return root
}
