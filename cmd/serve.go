package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/looks-salon/looks/internal/catalog"
	"github.com/looks-salon/looks/internal/generation"
	"github.com/looks-salon/looks/internal/handlers"
	"github.com/looks-salon/looks/internal/httpclient"
	"github.com/looks-salon/looks/internal/images"
	"github.com/looks-salon/looks/internal/prompts"
	"github.com/looks-salon/looks/internal/storage"
)

func newServeCmd() *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the hairstyle web server",
		Long: `Starts the Looks API and front-end.

The preset tree (IMG_ROOT) is scanned and the prompt workbook (PROMPTS_XLSX)
is loaded once at startup; POST /api/admin/reload repeats both.`,
		Example: `  # Start server on the configured port (PORT, default 8000)
  looks serve

  # Start server on custom port
  looks serve --port 3000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if port != "" {
				cfg.Port = port
			}

			sessions := storage.New(cfg.SessionsRoot)
			if err := sessions.Init(); err != nil {
				return err
			}

			cat := catalog.New(cfg.ImgRoot)
			if _, err := cat.Reload(); err != nil {
				return fmt.Errorf("failed to scan presets: %w", err)
			}

			dir := prompts.New(cfg.PromptsXLSX)
			if err := dir.Load(); err != nil {
				// An unreadable workbook leaves every preset without a prompt
				// but the rest of the service is still usable.
				slog.Error("Failed to load prompt workbook", "path", cfg.PromptsXLSX, "err", err)
			}

			client := httpclient.New(httpclient.Options{
				PreferIPv4: cfg.HTTP.PreferIPv4,
				Timeout:    cfg.HTTP.Timeout,
			})

			gen := generation.NewService(generation.Options{
				Sessions:          sessions,
				Presets:           cat,
				Prompts:           dir,
				Provider:          generation.NewProvider(cfg, client),
				Downloader:        images.NewFetcher(client),
				Quota:             cfg.Generation.Quota,
				JobTimeout:        cfg.Generation.JobTimeout,
				MaxConcurrentJobs: cfg.Generation.MaxConcurrentJobs,
			})

			handler := handlers.New(handlers.Options{
				Sessions:        sessions,
				Catalog:         cat,
				Prompts:         dir,
				Generator:       gen,
				StaticRoot:      cfg.StaticRoot,
				MaxUploadBytes:  int64(cfg.HTTP.MaxUploadMB) << 20,
				ApplyRateLimit:  cfg.HTTP.ApplyRateLimit,
				ApplyRateWindow: cfg.HTTP.ApplyRateWindow,
			})

			addr := ":" + cfg.Port
			server := &http.Server{
				Addr:              addr,
				Handler:           handler.Router(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			// Start server in goroutine
			serverErr := make(chan error, 1)
			go func() {
				slog.Info("Looks available", "addr", addr, "url", "http://localhost"+addr, "provider", cfg.Provider)
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serverErr <- err
				}
			}()

			// Wait for context cancellation (Ctrl+C) or server error
			select {
			case <-cmd.Context().Done():
				slog.Info("Shutting down server...")
				// In-flight applies may be polling; give them the job timeout
				shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Generation.JobTimeout)
				defer cancel()
				if err := server.Shutdown(shutdownCtx); err != nil {
					slog.Error("Server shutdown failed", "err", err)
					return err
				}
				slog.Info("Server stopped")
				return nil
			case err := <-serverErr:
				return err
			}
		},
	}

	cmd.Flags().StringVarP(&port, "port", "p", "", "Port to listen on (overrides PORT)")

	return cmd
}
