// Package cmd defines the CLI commands for the jobboard-crawler executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/jobboard-crawler/internal/config"
	"github.com/JakeFAU/jobboard-crawler/internal/logging"
)

// rootOptions are the persistent flags shared by every subcommand.
type rootOptions struct {
	configPath string
	envFile    string
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "jobboard-crawler",
		Short: "Crawl job-board listings and extract founder contacts from each role page.",
		Long: `jobboard-crawler loads a job-board listing page in a browser, visits every
role page it links to, and extracts the founder's name, title and LinkedIn
profile into a CSV or JSON dataset. Run it as an HTTP service with "serve" or
crawl a single listing with "run".`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to a YAML config file")
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before the environment is read")

	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newRunCmd(opts))
	return cmd
}

// load reads configuration and builds the logger.
func (o *rootOptions) load() (config.Config, *zap.Logger, error) {
	if err := config.LoadDotEnv(o.envFile); err != nil {
		return config.Config{}, nil, fmt.Errorf("load env file: %w", err)
	}
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development, logging.WithLevel(cfg.Logging.Level))
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return cfg, logger, nil
}

// syncLogger flushes buffered entries. Sync on a terminal returns EINVAL on
// some platforms, so failures are ignored.
func syncLogger(logger *zap.Logger) {
	_ = logger.Sync()
}

// Execute is the main entry point. It returns the process exit code.
func Execute() int {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	return 0
}
