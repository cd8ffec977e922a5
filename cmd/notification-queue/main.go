// Command notification-queue runs the notification delivery queue worker and
// its ops HTTP endpoints.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/bissquit/notification-queue/internal/app"
	"github.com/bissquit/notification-queue/internal/config"
	"github.com/bissquit/notification-queue/internal/version"
)

func main() {
	if err := run(); err != nil {
		slog.Error("notification-queue stopped", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(config.ConfigFilePath())
	if err != nil {
		return err
	}

	slog.SetDefault(app.NewLogger(cfg.Log))
	slog.Info("starting notification-queue", "version", version.Version, "commit", version.GitCommit)

	application, err := app.New(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- application.Run()
	}()

	var runErr error
	select {
	case runErr = <-errCh:
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown failed", "error", err)
	}
	return runErr
}
