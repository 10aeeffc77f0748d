// Package main provides the snapshot worker entry point. The worker
// materializes end-of-day balance and price snapshots at 00:00 UTC.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/yield-scanner/internal/adapter"
	"github.com/yield-scanner/internal/config"
	"github.com/yield-scanner/internal/logging"
	"github.com/yield-scanner/internal/service"
	"github.com/yield-scanner/internal/storage"
)

func main() {
	once := flag.Bool("once", false, "capture one snapshot immediately and exit")
	audit := flag.String("audit", "", "audit one user's ledger against their snapshots and exit")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logging.InitGlobalLogger(
		logging.ParseLogLevel(cfg.Logging.Level),
		logging.ParseLogFormat(cfg.Logging.Format),
	)
	logger := logging.GetGlobalLogger()
	logger.Info("Snapshot worker starting")

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

	logger.Info("Database connections established")

	userRepo := storage.NewUserRepository(postgres)
	registryRepo := storage.NewPositionRegistryRepository(postgres)
	snapshotRepo := storage.NewBalanceSnapshotRepository(clickhouse)
	priceRepo := storage.NewPriceRepository(clickhouse)

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

	snapshotService := service.NewSnapshotService(
		snapshotRepo,
		priceRepo,
		registryRepo,
		userRepo,
		liveReader,
	)

	ctx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()

	if *audit != "" {
		eventRepo := storage.NewEventRepository(clickhouse)
		checker := service.NewConsistencyChecker(eventRepo, snapshotRepo, registryRepo)
		report, err := checker.CheckUser(ctx, *audit, 7)
		if err != nil {
			logger.WithError(err).Fatal("Consistency audit failed")
		}
		logger.WithFields(map[string]interface{}{
			"userId":    report.UserID,
			"positions": len(report.Positions),
			"clean":     report.Clean,
		}).Info("Consistency audit finished")
		if !report.Clean {
			os.Exit(1)
		}
		return
	}

	if *once {
		if err := snapshotService.CaptureAllSnapshots(ctx); err != nil {
			logger.WithError(err).Fatal("Snapshot capture failed")
		}
		logger.Info("Snapshot capture finished")
		return
	}

	if err := snapshotService.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to start snapshot scheduler")
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutdown signal received")
	if err := snapshotService.Stop(); err != nil {
		logger.WithError(err).Error("Failed to stop snapshot scheduler")
	}
	logger.Info("Snapshot worker stopped")
}
