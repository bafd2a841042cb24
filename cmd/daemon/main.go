// Command relay-daemon tracks local agent sessions and answers status
// queries on a loopback control port.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Enflame-Media/Magic-Agent-sub018/internal/config"
	"github.com/Enflame-Media/Magic-Agent-sub018/internal/server/control"
	"github.com/Enflame-Media/Magic-Agent-sub018/internal/sessiontrack"
)

const cleanupPeriod = time.Hour

func main() {
	logger, _ := zap.NewProduction()
	defer func() { _ = logger.Sync() }()

	cfg, err := config.LoadDaemon(os.Args[1:])
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}
	logger.Info("starting",
		zap.String("control", cfg.ControlAddr),
		zap.String("history", cfg.HistoryPath),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	history := sessiontrack.NewHistory(cfg.HistoryPath, logger)
	tracker := sessiontrack.NewTracker(history, cfg.StoppedTTL, logger)

	go func() {
		t := time.NewTicker(cleanupPeriod)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				tracker.Cleanup()
			case <-ctx.Done():
				return
			}
		}
	}()

	srv := &http.Server{
		Addr:              cfg.ControlAddr,
		Handler:           control.NewHandler(tracker, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("control listening", zap.String("addr", cfg.ControlAddr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("shutdown", zap.Error(err))
		}
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("control server error", zap.Error(err))
			os.Exit(1)
		}
	}

	logger.Info("shutdown complete")
}
