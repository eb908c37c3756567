// Command realtime-server runs the goRealtime engine behind an HTTP server
// with a cookie-session credential issuer and a Prometheus metrics endpoint.
//
// Configuration is read from the file named by -config (YAML) and from the
// environment (REALTIME_ADDR, REDIS_ADDR, JWT_PRIVATE_KEY, ...). Without
// REDIS_ADDR an embedded miniredis is started, which is only useful for
// local development.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	goRealtime "github.com/MrEthical07/goRealtime"
	"github.com/MrEthical07/goRealtime/identity"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server exited", zap.Error(err))
		os.Exit(1)
	}
}

func newLogger(cfg logConfig) (*zap.Logger, error) {
	if cfg.Development {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(ctx context.Context, cfg serverConfig, logger *zap.Logger) error {
	rdb, cleanup, err := openRedis(cfg.Redis, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}

	store := identity.NewRedisStore(rdb, cfg.Redis.Prefix)
	for _, seed := range cfg.Principals {
		err := store.SavePrincipal(ctx, goRealtime.Principal{
			SubjectID:   seed.Subject,
			Role:        seed.Role,
			IsActive:    !seed.Inactive,
			DisplayName: seed.DisplayName,
		})
		if err != nil {
			return fmt.Errorf("seed principal %q: %w", seed.Subject, err)
		}
	}

	engineCfg, err := cfg.engineConfig()
	if err != nil {
		return fmt.Errorf("engine config: %w", err)
	}
	for _, w := range engineCfg.Lint() {
		logger.Warn("config warning", zap.String("code", w.Code), zap.String("message", w.Message))
	}

	engine, err := goRealtime.New().
		WithConfig(engineCfg).
		WithRedis(rdb).
		WithIdentityStore(store).
		WithPermissions(permissions).
		WithRoles(rolePermissions).
		WithLogger(logger.Named("engine")).
		WithAuditSink(goRealtime.NewZapSink(logger)).
		Build()
	if err != nil {
		return fmt.Errorf("engine build: %w", err)
	}
	defer engine.Close()

	if err := registerHandlers(engine, logger); err != nil {
		return err
	}

	report := engine.SecurityReport()
	logger.Info("engine ready",
		zap.Bool("production_mode", report.ProductionMode),
		zap.String("signing_algorithm", report.SigningAlgorithm),
		zap.Duration("token_ttl", report.TokenTTL),
		zap.String("origin_policy", report.OriginPolicy),
		zap.Bool("issuer_enabled", report.IssuerEnabled),
		zap.Int("configured_rooms", report.ConfiguredRooms),
	)

	srv := &http.Server{
		Addr:        cfg.Server.Addr,
		Handler:     newRouter(engine, store, cfg.Server, logger),
		ReadTimeout: cfg.Server.ReadTimeout,
		IdleTimeout: cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		// Hijacked websocket connections are not tracked by Shutdown.
		engine.Close()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func openRedis(cfg redisConfig, logger *zap.Logger) (redis.UniversalClient, func(), error) {
	if cfg.Addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			return nil, nil, fmt.Errorf("start miniredis: %w", err)
		}
		logger.Warn("REDIS_ADDR not set, using embedded miniredis", zap.String("addr", mr.Addr()))
		rdb := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
		return rdb, func() {
			_ = rdb.Close()
			mr.Close()
		}, nil
	}

	rdb := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{cfg.Addr},
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return rdb, func() { _ = rdb.Close() }, nil
}
