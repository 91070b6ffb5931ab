package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"pimbl/internal/config"
	"pimbl/internal/health"
	"pimbl/internal/server"
	"pimbl/internal/submission"
	"pimbl/internal/upload"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.logger.Sync() //nolint:errcheck
			return a.serve(cmd.Context())
		},
	}
}

func (a *app) serve(parent context.Context) error {
	cfg := a.cfg
	a.logger.Info("🚀 Starting pimbl...", zap.String("mode", cfg.SubmitMode), zap.String("port", cfg.Port))

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.start(ctx, false); err != nil {
		return err
	}

	geocoder, err := a.geocoder()
	if err != nil {
		a.shutdown(nil)
		return err
	}
	uploads, err := upload.NewStore(cfg.UploadDir, a.logger.Named("upload"))
	if err != nil {
		a.shutdown(nil)
		return err
	}

	deps := server.Deps{
		Runner:   a.workflow,
		Geocoder: geocoder,
		Uploads:  uploads,
		Monitor:  health.NewMonitor(cfg.SubmitMode),
	}

	var (
		srv  *server.Server
		pool *submission.WorkerPool
	)
	if cfg.SubmitMode == config.ModeAsync {
		// Detached work is not tied to the signal context; it is drained
		// or abandoned by pool.Close below.
		workCtx := context.WithoutCancel(ctx)
		pool = submission.NewWorkerPool(workCtx, a.workflow, cfg.Workers, cfg.QueueSize, func(o submission.Outcome) {
			srv.RecordOutcome(o)
			a.notify(workCtx, o)
		}, a.logger.Named("pool"))
		deps.Queue = pool
	}

	srv = server.New(deps, server.Options{Mode: cfg.SubmitMode, Linger: cfg.Linger}, a.logger.Named("http"))

	serveErr := srv.ListenAndServe(ctx, net.JoinHostPort("", cfg.Port), cfg.ShutdownTimeout)
	if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
		a.logger.Error("✗ HTTP server failed", zap.Error(serveErr))
	}

	a.shutdown(pool)
	if errors.Is(serveErr, http.ErrServerClosed) {
		return nil
	}
	return serveErr
}

// shutdown drains the pool and closes the browser under one hard deadline.
// If teardown hangs past it the process exits anyway.
func (a *app) shutdown(pool *submission.WorkerPool) {
	timeout := a.cfg.ShutdownTimeout
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if pool != nil {
			if err := pool.Close(ctx); err != nil {
				a.logger.Warn("⚠️  Worker pool did not drain", zap.Error(err))
			}
		}
		if err := a.close(ctx); err != nil {
			a.logger.Warn("⚠️  Browser did not close cleanly", zap.Error(err))
		}
	}()

	select {
	case <-done:
		a.logger.Info("✓ Shutdown complete")
	case <-time.After(timeout + time.Second):
		a.logger.Error("✗ Shutdown deadline exceeded, forcing exit", zap.Duration("timeout", timeout))
		_ = a.logger.Sync()
		os.Exit(1)
	}
}
