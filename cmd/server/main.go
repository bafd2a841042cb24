// Command relay-server starts the sync and RPC relay.
package main

import (
	"context"
	"encoding/hex"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Enflame-Media/Magic-Agent-sub018/internal/auth"
	"github.com/Enflame-Media/Magic-Agent-sub018/internal/config"
	"github.com/Enflame-Media/Magic-Agent-sub018/internal/kv"
	"github.com/Enflame-Media/Magic-Agent-sub018/internal/limiter"
	"github.com/Enflame-Media/Magic-Agent-sub018/internal/migrate"
	"github.com/Enflame-Media/Magic-Agent-sub018/internal/presence"
	"github.com/Enflame-Media/Magic-Agent-sub018/internal/registry"
	"github.com/Enflame-Media/Magic-Agent-sub018/internal/repository/postgres"
	"github.com/Enflame-Media/Magic-Agent-sub018/internal/router"
	"github.com/Enflame-Media/Magic-Agent-sub018/internal/rpc"
	"github.com/Enflame-Media/Magic-Agent-sub018/internal/server/ws"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// main parses configuration, runs migrations, and serves the websocket edge.
func main() {
	logger, _ := zap.NewProduction()
	defer func() { _ = logger.Sync() }()

	cfg, err := config.LoadServer(os.Args[1:])
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", cfg.Addr),
	)

	privateKey, err := hex.DecodeString(cfg.PrivateKeyHex)
	if err != nil || len(privateKey) != 32 {
		logger.Fatal("private key must be 32 hex-encoded bytes", zap.Error(err))
	}
	var masterSecret []byte
	if cfg.MasterSecret != "" {
		masterSecret, err = hex.DecodeString(cfg.MasterSecret)
		if err != nil {
			logger.Fatal("master secret must be hex", zap.Error(err))
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := migrate.Up(ctx, cfg.DatabaseDSN); err != nil {
		logger.Fatal("migrate up", zap.Error(err))
	}

	db, err := postgres.New(ctx, cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("postgres connect", zap.Error(err))
	}
	defer db.Close()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer func() { _ = rdb.Close() }()

	// Repositories
	kvRepo := postgres.NewKVRepo(db)
	relRepo := postgres.NewRelationshipRepo(db)
	updateRepo := postgres.NewUpdateRepo(db)
	peerKeys := postgres.NewPeerKeyRepo(db)

	// Core relay components
	reg := registry.New()
	rt := router.New(reg, updateRepo, logger)
	broker := rpc.NewBroker(logger)
	caller := rpc.NewCaller(broker, reg, peerKeys, privateKey, masterSecret, logger)
	tracker := presence.NewTrackerWithTTL(presence.NewRedisStore(rdb), relRepo, rt, cfg.PresenceTTL, logger)
	kvSvc := kv.NewService(kvRepo, rt, logger)

	tokens, err := auth.New([]byte(cfg.JWTKey), cfg.AccessTTL)
	if err != nil {
		logger.Fatal("auth setup", zap.Error(err))
	}

	go tracker.Run(ctx)

	lim := limiter.NewRedis(rdb, 15*time.Minute, 10, 15*time.Minute)

	mux := http.NewServeMux()
	mux.Handle("/v1/updates", ws.NewServer(tokens, reg, rt, broker, caller, kvSvc, tracker, lim, logger))

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.Addr))
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
			logger.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}

	logger.Info("shutdown complete")
}
