// Command kiko runs the email agent pipeline service and its operator tools.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	logger := newLogger(os.Getenv("KIKO_LOG_LEVEL"))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd(logger).ExecuteContext(ctx); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func newRootCmd(logger *slog.Logger) *cobra.Command {
	root := &cobra.Command{
		Use:           "kiko",
		Short:         "Email agent pipeline for creator outreach",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newServeCmd(logger),
		newMigrateCmd(logger),
		newReplayCmd(logger),
		newTokenCmd(),
		newGenkeyCmd(),
	)
	return root
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: l}))
}
