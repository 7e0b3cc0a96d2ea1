package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/aragora/aragora/pkg/api"
	"github.com/aragora/aragora/pkg/auth"
	"github.com/aragora/aragora/pkg/cleanup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and WebSocket server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	slog.Info("Starting aragora",
		"addr", cfg.Server.BindAddr+":"+cfg.Server.Port,
		"agents", len(cfg.Agents.Names()),
		"auth", cfg.Auth.Enabled())

	// Retention sweeper for transient token_delta rows.
	sweeper := cleanup.NewService(a.store, 0, 0, nil)
	sweeper.Start(context.Background())
	defer sweeper.Stop()

	httpServer := api.NewServer(api.Options{
		Config:   cfg,
		Debates:  a.debates,
		Rankings: a.rankings,
		Events:   a.events,
		Hub:      a.hub,
		Auth:     auth.New(cfg.Auth.HMACKey, cfg.Auth.TokenTTL),
		Store:    a.store,
	})

	errCh := make(chan error, 1)
	go func() {
		addr := cfg.Server.BindAddr + ":" + cfg.Server.Port
		slog.Info("HTTP server listening", "addr", addr)
		if err := httpServer.Start(addr); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// Stop accepting requests, then wait for running debates to seal.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	done := make(chan struct{})
	go func() {
		a.debates.Drain()
		close(done)
	}()
	select {
	case <-done:
		slog.Info("All debates drained")
	case <-time.After(30 * time.Second):
		slog.Warn("Drain timeout exceeded, debates left mid-flight")
	}

	slog.Info("Shutdown complete")
	return nil
}
