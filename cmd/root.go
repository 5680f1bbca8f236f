// Package cmd implements the obox command line interface.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dinbutler/obox/internal/config"
)

var (
	flagConfig   string
	flagLogLevel string
)

var rootCmd = &cobra.Command{
	Use:   "obox",
	Short: "Run parallel AI agent forks against isolated sandboxes",
	Long: `obox runs N concurrent agent sessions (forks) against the Anthropic API.
Each fork gets its own sandbox root, its own log file, and a bounded
tool-use loop governed by a security policy.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default: ./obox.json5 or .obox/config.json5)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level: debug, info, warn, error")
}

// Execute runs the CLI. Interrupts cancel the command context; a second
// interrupt kills the process.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err == nil {
		return
	}
	fmt.Fprintln(os.Stderr, "Error:", err)
	if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
		os.Exit(130)
	}
	os.Exit(1)
}

// loadConfig reads the config honoring --config and --log-level.
func loadConfig() (*config.Config, error) {
	path := flagConfig
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if flagLogLevel != "" {
		cfg.Logs.Level = flagLogLevel
	}
	return cfg, nil
}

// setupLogger installs the process logger writing to stderr so stdout
// stays clean for command output.
func setupLogger(cfg *config.Config) *slog.Logger {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel()}))
	slog.SetDefault(logger)
	return logger
}
