package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	config "gsraster/configs"
	"gsraster/pkg/executor"
	"gsraster/pkg/ghostscript"
	"gsraster/pkg/logger"
	tracing "gsraster/pkg/observability"
	"gsraster/pkg/storage"
	"gsraster/pkg/storage/postgres"
	"gsraster/pkg/storage/redis"
)

func main() {
	cfg := config.LoadConfig()

	if _, err := logger.Init(logger.Config{
		Level:      cfg.LogLevel,
		Encoding:   cfg.LogEncoding,
		OutputPath: "stdout",
		Service:    "gsraster-executor",
	}); err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	traceCfg := tracing.DefaultConfig("gsraster-executor")
	traceCfg.Endpoint = cfg.OTelEndpoint
	traceCfg.Enabled = cfg.OTelEnabled
	tp, err := tracing.Init(ctx, traceCfg)
	if err != nil {
		logger.Fatal("failed to initialize tracing", zap.Error(err))
	}
	defer tp.Shutdown(context.Background())

	tool, err := ghostscript.NewLocator(cfg.GSCandidates...).Find(ctx)
	if err != nil {
		logger.Fatal("ghostscript is not available", zap.Strings("candidates", cfg.GSCandidates), zap.Error(err))
	}

	store, err := postgres.NewPostgresStore(cfg.PostgresDSN())
	if err != nil {
		logger.Fatal("failed to initialize storage", zap.Error(err))
	}
	defer store.Close()

	queue, err := redis.NewRedisQueue(cfg.RedisAddr())
	if err != nil {
		logger.Fatal("failed to initialize redis queue", zap.Error(err))
	}
	defer queue.Close()

	logs, err := newLogStore(cfg)
	if err != nil {
		logger.Fatal("failed to initialize log store", zap.Error(err))
	}

	runnerCfg := executor.DefaultRunnerConfig(tool)
	runnerCfg.Resolution = cfg.GSResolution
	runnerCfg.Device = cfg.GSDevice
	runnerCfg.CollectTimeout = cfg.GSCollectTimeout

	exec := executor.NewExecutor(executor.Config{
		Runner:       runnerCfg,
		Concurrency:  cfg.ExecutorConcurrency,
		DrainTimeout: cfg.ExecutorDrainTimeout,
	}, queue, store, logs)
	exec.Start(ctx)
}

func newLogStore(cfg *config.Config) (storage.LogStore, error) {
	if cfg.LogStore == "s3" {
		return storage.NewS3LogStore(storage.S3LogStoreConfig{
			Bucket:          cfg.S3Bucket,
			Prefix:          cfg.S3Prefix,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKey,
			SecretAccessKey: cfg.S3SecretKey,
			LocalCacheDir:   cfg.LogDir,
		})
	}
	return storage.NewLocalLogStore(cfg.LogDir)
}
