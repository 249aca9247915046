package main

import (
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/seantiz/fluxd/internal/config"
)

// skipConfigLoad marks commands that must run without a valid config.
const skipConfigLoad = "skipConfigLoad"

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     config.Config
	configErr  error
}

func (c *commandContext) ensureConfig() (config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		c.config, c.configErr = config.Load(path)
	})
	return c.config, c.configErr
}

func (c *commandContext) logger() *slog.Logger {
	cfg, _ := c.ensureConfig()
	return config.NewLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)
}

func newRootCommand() *cobra.Command {
	var configFlag string
	ctx := &commandContext{configFlag: &configFlag}

	serve := newServeCommand(ctx)

	rootCmd := &cobra.Command{
		Use:           "fluxd",
		Short:         "FLUX image generation service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if _, skip := cmd.Annotations[skipConfigLoad]; skip {
				return nil
			}
			_, err := ctx.ensureConfig()
			return err
		},
		// Running fluxd without a subcommand serves.
		RunE: serve.RunE,
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path (default $FLUXD_CONFIG)")

	rootCmd.AddCommand(serve)
	rootCmd.AddCommand(newModelsCommand(ctx))
	rootCmd.AddCommand(newVariantsCommand())
	rootCmd.AddCommand(newConfigCommand(ctx))

	return rootCmd
}
