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

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"videoLabeler/api/app"
	"videoLabeler/api/config"
)

func main() {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	cfg := config.Load()

	var logger *zap.Logger
	if cfg.IsDevelopment() {
		logger, _ = zap.NewDevelopment()
	} else {
		logger, _ = zap.NewProduction()
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("API Service starting",
		zap.String("port", cfg.Port),
		zap.String("lp_dir", cfg.LPDir),
		zap.Int("transcode_workers", cfg.Worker.TranscodeWorkers),
	)

	state := app.New(ctx, cfg, logger)
	state.Startup()

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           app.NewRouter(state),
		ReadHeaderTimeout: 10 * time.Second,
		// Request contexts end with the signal context so open progress
		// streams return on shutdown.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server started", zap.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutting down")
	case err := <-errCh:
		if err != nil {
			logger.Error("Server failed", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownWindow)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown incomplete", zap.Error(err))
		srv.Close()
	}
	if err := state.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Worker shutdown incomplete", zap.Error(err))
	}
	logger.Info("Stopped")
}
