package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"doc_syncer/internal/config"
	"doc_syncer/internal/domain"
)

const (
	exitOK             = 0
	exitError          = 1
	exitSourceNotFound = 2
	exitJobNotFound    = 3
	exitFetchFailure   = 4
	exitPartialFailure = 5
)

// codedError carries a process exit code through cobra.
type codedError struct {
	code int
	err  error
}

func (e *codedError) Error() string { return e.err.Error() }
func (e *codedError) Unwrap() error { return e.err }

func withCode(code int, err error) error {
	return &codedError{code: code, err: err}
}

var (
	configPath string
	cfg        *config.Config
	logger     *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:           "syncer",
	Short:         "Incrementally synchronize documents from configured sources",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		logger = setupLogger("info")

		loaded, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
		logger = setupLogger(cfg.LogLevel)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to config file")

	rootCmd.AddCommand(runCmd, serveCmd, statusCmd, dashboardCmd, exportCmd, sourcesCmd)
}

func main() {
	err := rootCmd.ExecuteContext(context.Background())
	if err == nil {
		os.Exit(exitOK)
	}

	if logger == nil {
		logger = setupLogger("info")
	}
	logger.Error("command failed", "error", err)
	os.Exit(exitCode(err))
}

func exitCode(err error) int {
	var coded *codedError
	switch {
	case errors.As(err, &coded):
		return coded.code
	case errors.Is(err, domain.ErrSourceNotFound), errors.Is(err, domain.ErrSourceDisabled):
		return exitSourceNotFound
	case errors.Is(err, domain.ErrJobNotFound):
		return exitJobNotFound
	case errors.Is(err, domain.ErrFetch):
		return exitFetchFailure
	default:
		return exitError
	}
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}
	handler := slog.NewJSONHandler(os.Stderr, opts)
	return slog.New(handler)
}
