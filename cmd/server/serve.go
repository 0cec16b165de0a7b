package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/filedrop/internal/core"
	"github.com/JonMunkholm/filedrop/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP upload server (default)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func runServe(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := build(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"session_store", cfg.Session.Store,
		"storage", cfg.Storage.Driver,
		"postprocess", cfg.PostProcess.Enabled,
		"history", app.history != nil,
		"upload_max_concurrent", cfg.Upload.MaxConcurrent,
	)

	jobCtx, cancelJobs := context.WithCancel(context.Background())
	defer cancelJobs()
	go core.NewJanitor(app.assembler, cfg.Session.IdleTimeout).Run(jobCtx, cfg.Session.SweepInterval)

	deps := web.Deps{Uploader: app.uploader, Translator: app.translator}
	if app.history != nil {
		deps.History = app.history
	}
	server := web.NewServer(deps, web.Options{
		Addr:              cfg.Server.Addr(),
		FieldName:         cfg.Upload.FieldName,
		MaxRequestSize:    cfg.Upload.MaxRequestSize,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
		RequestTimeout:    cfg.Server.RequestTimeout,
		RequestsPerMinute: rateLimit(),
		TrustedProxies:    cfg.Security.TrustedProxies,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down...")
	cancelJobs()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}

	limiter := app.uploader.Limiter()
	if active := limiter.Active(); active > 0 {
		slog.Info("waiting for finalizations to complete", "active", active)
		if err := limiter.WaitForDrain(shutdownCtx); err != nil {
			slog.Warn("finalizations did not complete in time", "error", err)
		} else {
			slog.Info("all finalizations completed")
		}
	}
	return nil
}

func rateLimit() int {
	if !cfg.Rate.Enabled {
		return 0
	}
	return cfg.Rate.RequestsPerMinute
}
