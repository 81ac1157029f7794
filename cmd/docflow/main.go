package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/target/docflow/config"
	"github.com/target/docflow/internal/bootstrap"
)

func main() {
	ctx := context.Background()
	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		slog.ErrorContext(ctx, "load config", "error", err)
		os.Exit(1) //nolint:forbidigo // Main entrypoint should exit with non-zero status on fatal errors.
	}

	logger, logCloser := bootstrap.InitLogger(cfg.Logging, cfg.IsDev)
	err = run(ctx, logger, &cfg)
	if cerr := logCloser.Close(); cerr != nil {
		logger.ErrorContext(ctx, "close log file failed", "error", cerr)
	}
	if err != nil {
		logger.ErrorContext(ctx, "fatal error", "error", err)
		os.Exit(1) //nolint:forbidigo // Main entrypoint should exit with non-zero status on fatal errors.
	}
}

func run(ctx context.Context, logger *slog.Logger, cfg *config.AppConfig) error {
	logger.InfoContext(ctx, "starting docflow service", bootstrap.StartupInfo(cfg)...)

	var redisClient redis.UniversalClient
	if cfg.Redis.Enabled {
		client, err := bootstrap.ConnectRedis(ctx, cfg.Redis, logger)
		if err != nil {
			return err
		}
		redisClient = client
		defer func() {
			if cerr := redisClient.Close(); cerr != nil {
				logger.ErrorContext(ctx, "close redis failed", "error", cerr)
			}
		}()
	}

	services, err := bootstrap.NewServices(&bootstrap.ServiceDeps{
		Config:      cfg,
		RedisClient: redisClient,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	return bootstrap.RunServicesWithShutdown(&bootstrap.ServiceOrchestrationConfig{
		Config:   cfg,
		Services: services,
		Logger:   logger,
	})
}
