// companion drives the learnsync layer from a terminal.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/ashureev/learnsync/internal/app"
	"github.com/ashureev/learnsync/internal/config"
)

var Version = "dev"

type rootOptions struct {
	configPath string
	logFile    string
	verbose    bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:           "companion",
		Short:         "Learning companion client",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// A missing .env file is normal.
			_ = godotenv.Load()
		},
	}

	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "optional YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&opts.logFile, "log-file", "", "write logs to this file (rotated)")
	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log at debug level")

	rootCmd.AddCommand(chatCmd(opts))
	rootCmd.AddCommand(topicsCmd(opts))
	rootCmd.AddCommand(toggleCmd(opts))
	rootCmd.AddCommand(cacheCmd(opts))
	rootCmd.AddCommand(dashboardCmd(opts))
	rootCmd.AddCommand(resetCmd(opts))
	rootCmd.AddCommand(pingCmd(opts))

	return rootCmd
}

// newLogger sends logs to a rotating file when one is configured and to
// stderr otherwise. Only warnings reach stderr unless verbose is set.
func newLogger(cfg *config.Config, opts *rootOptions, stderr io.Writer) (*slog.Logger, io.Closer) {
	level := slog.LevelWarn
	if opts.verbose {
		level = slog.LevelDebug
	}

	path := opts.logFile
	if path == "" {
		path = cfg.LogFile
	}
	if path == "" {
		return slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level})), io.NopCloser(nil)
	}

	rotator := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
		Compress:   true,
	}
	if !opts.verbose {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(rotator, &slog.HandlerOptions{Level: level})), rotator
}

// withApp loads configuration, builds the companion and runs fn.
func withApp(cmd *cobra.Command, opts *rootOptions, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}

	logger, logCloser := newLogger(cfg, opts, cmd.ErrOrStderr())
	defer logCloser.Close()
	slog.SetDefault(logger)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Error("Failed to close companion", "error", closeErr)
		}
	}()

	return fn(ctx, a)
}
