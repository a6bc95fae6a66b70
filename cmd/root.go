package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/looks-salon/looks/internal/config"
)

// cfg is loaded once before any subcommand runs
var cfg *config.Config

func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "looks",
		Short: "Hairstyle try-on service backed by remote image-editing providers",
		Long: `Looks serves a hairstyle try-on front-end and API.

Clients start a session, upload a photo and apply preset hairstyles. Each
preset is generated once per session by the configured provider (LightX or
Studio) and replayed from the session ledger afterwards.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Load .env file if present (ignore errors)
			_ = godotenv.Load()

			loaded, err := config.Load()
			if err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			cfg = loaded
			slog.SetDefault(newLogger(cfg.LogLevel, cfg.LogFormat, os.Stderr))
			return nil
		},
	}

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newPromptsCmd())
	cmd.AddCommand(newSessionCmd())
	cmd.AddCommand(newAuditCmd())

	return cmd
}

func newLogger(level, format string, w io.Writer) *slog.Logger {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn", "warning":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
