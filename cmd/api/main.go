package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	config "gsraster/configs"
	"gsraster/pkg/api"
	"gsraster/pkg/api/middleware"
	"gsraster/pkg/auth"
	"gsraster/pkg/logger"
	tracing "gsraster/pkg/observability"
	"gsraster/pkg/storage/postgres"
	"gsraster/pkg/storage/redis"
)

func main() {
	cfg := config.LoadConfig()

	if _, err := logger.Init(logger.Config{
		Level:      cfg.LogLevel,
		Encoding:   cfg.LogEncoding,
		OutputPath: "stdout",
		Service:    "gsraster-api",
	}); err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	traceCfg := tracing.DefaultConfig("gsraster-api")
	traceCfg.Endpoint = cfg.OTelEndpoint
	traceCfg.Enabled = cfg.OTelEnabled
	tp, err := tracing.Init(ctx, traceCfg)
	if err != nil {
		logger.Fatal("failed to initialize tracing", zap.Error(err))
	}
	defer tp.Shutdown(context.Background())

	store, err := postgres.NewPostgresStore(cfg.PostgresDSN())
	if err != nil {
		logger.Fatal("failed to initialize storage", zap.Error(err))
	}
	defer store.Close()
	logger.Info("postgres connected")

	queue, err := redis.NewRedisQueue(cfg.RedisAddr())
	if err != nil {
		logger.Fatal("failed to initialize redis queue", zap.Error(err))
	}
	defer queue.Close()
	logger.Info("redis connected")

	validatorCfg := middleware.DefaultValidatorConfig()
	validatorCfg.Root = cfg.GSWorkDir

	authCfg := middleware.AuthConfig{
		APIKeyStore: auth.NewRedisAPIKeyStore(queue.Client()),
		Disabled:    !cfg.AuthEnabled,
	}
	if cfg.JWTSecret != "" {
		jwtCfg := auth.DefaultJWTConfig()
		jwtCfg.SecretKey = cfg.JWTSecret
		jwtCfg.TokenExpiry = cfg.JWTExpiry
		if authCfg.JWTService, err = auth.NewJWTService(jwtCfg); err != nil {
			logger.Fatal("failed to initialize JWT service", zap.Error(err))
		}
	} else if cfg.AuthEnabled {
		logger.Warn("JWT_SECRET is not set, only API keys are accepted")
	}
	if authCfg.Disabled {
		logger.Warn("authentication is disabled, every caller is treated as admin")
	}

	server := api.NewServer(api.Config{
		Port:              cfg.APIPort,
		Validator:         validatorCfg,
		Store:             store,
		Queue:             queue,
		DefaultResolution: cfg.GSResolution,
		DefaultDevice:     cfg.GSDevice,
		Auth:              authCfg,
		TrustedProxies:    cfg.TrustedProxies,
		RateLimit: middleware.RateLimiterConfig{
			RequestsPerSecond: cfg.RateLimitRPS,
			BurstSize:         cfg.RateLimitBurst,
		},
	})

	go func() {
		if err := server.Start(); err != nil {
			logger.Error("server error", zap.Error(err))
		}
	}()

	sig := <-sigChan
	logger.Info("received signal, shutting down", zap.Stringer("signal", sig))

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
