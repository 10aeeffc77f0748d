// Package main provides the API server entry point for the yield scanner
// service.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/yield-scanner/internal/adapter"
	"github.com/yield-scanner/internal/api"
	"github.com/yield-scanner/internal/config"
	"github.com/yield-scanner/internal/logging"
	"github.com/yield-scanner/internal/service"
	"github.com/yield-scanner/internal/storage"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logging.InitGlobalLogger(
		logging.ParseLogLevel(cfg.Logging.Level),
		logging.ParseLogFormat(cfg.Logging.Format),
	)
	logger := logging.GetGlobalLogger()
	logger.WithFields(map[string]interface{}{
		"level":  cfg.Logging.Level,
		"format": cfg.Logging.Format,
	}).Info("Yield scanner API server starting")

	// Database connections
	postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Postgres")
	}
	defer postgres.Close()

	clickhouse, err := storage.NewClickHouseDB(&cfg.Database.ClickHouse)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to ClickHouse")
	}
	defer clickhouse.Close()

	redis, err := storage.NewRedisCache(&cfg.Database.Redis)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer redis.Close()

	logger.Info("Database connections established")

	// Repositories
	userRepo := storage.NewUserRepository(postgres)
	registryRepo := storage.NewPositionRegistryRepository(postgres)
	eventRepo := storage.NewEventRepository(clickhouse)
	snapshotRepo := storage.NewBalanceSnapshotRepository(clickhouse)
	priceRepo := storage.NewPriceRepository(clickhouse)
	poolRepo := storage.NewPoolRepository(postgres)
	cacheService := storage.NewCacheService(redis, cfg.Cache.TTL)

	// Live protocol state reader. Asset decimals come from the registry;
	// assets registered after startup fall back to 18 until restart.
	decimalsCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	decimals, err := registryRepo.AssetDecimals(decimalsCtx)
	cancel()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load asset decimals")
	}

	liveReader, err := adapter.NewRPCStateReader(&adapter.RPCStateReaderConfig{
		RPCURL:         cfg.Protocol.RPCURL,
		OracleAddress:  cfg.Protocol.OracleAddress,
		RequestTimeout: cfg.Protocol.RequestTimeout,
		Decimals: func(assetAddress string) int {
			if d, ok := decimals[assetAddress]; ok {
				return d
			}
			return 18
		},
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to create protocol state reader")
	}
	defer liveReader.Close()

	// Yield attribution service
	yieldService := service.NewYieldService(
		eventRepo,
		snapshotRepo,
		registryRepo,
		liveReader,
		priceRepo,
		cacheService,
		service.YieldServiceConfig{
			DefaultWindowDays: cfg.Yield.DefaultWindowDays,
			PriceLookbackDays: cfg.Yield.PriceLookbackDays,
			MaxConcurrency:    cfg.Yield.MaxConcurrency,
		},
	)
	defer yieldService.Close()

	// HTTP server
	server := api.NewServer(
		&api.ServerConfig{
			Host:            cfg.Server.Host,
			Port:            cfg.Server.Port,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			FreeTierRPS:     cfg.RateLimit.FreeTier,
			PaidTierRPS:     cfg.RateLimit.PaidTier,
		},
		yieldService,
		userRepo,
		priceRepo,
		eventRepo,
		registryRepo,
		cacheService,
		poolRepo,
	)

	go func() {
		if err := server.Start(); err != nil {
			logger.WithError(err).Error("API server stopped")
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutdown signal received")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Graceful shutdown failed")
		os.Exit(1)
	}

	logger.Info("Server stopped")
}
