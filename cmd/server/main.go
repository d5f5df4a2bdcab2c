package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/stake-scanner/internal/api"
	"github.com/stake-scanner/internal/config"
	"github.com/stake-scanner/internal/fetcher"
	"github.com/stake-scanner/internal/importer"
	"github.com/stake-scanner/internal/logging"
	"github.com/stake-scanner/internal/query"
	"github.com/stake-scanner/internal/schema"
	"github.com/stake-scanner/internal/service"
	"github.com/stake-scanner/internal/storage"
	"github.com/stake-scanner/internal/types"
	"github.com/stake-scanner/internal/worker"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logging.GetGlobalLogger().WithError(err).Fatal("Failed to load configuration")
	}

	logging.InitGlobalLogger(
		logging.ParseLogLevel(cfg.Logging.Level),
		logging.ParseLogFormat(cfg.Logging.Format),
	)
	logger := logging.GetGlobalLogger()

	db, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Postgres")
	}
	defer db.Close()

	redisCache, err := storage.NewRedisCache(&cfg.Database.Redis)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer redisCache.Close() // nolint:errcheck // shutdown cleanup

	queryCache := storage.NewQueryCache(redisCache, cfg.Cache.TTL)
	registry := schema.NewRegistry()
	engine := query.NewEngine(db.Pool(), registry, queryCache, logger)
	analytics := service.NewAnalyticsService(engine)

	balanceRepo := storage.NewSnapshotRepository(db, storage.BalanceSnapshots)
	delegationRepo := storage.NewSnapshotRepository(db, storage.DelegationSnapshots)
	validatorRepo := storage.NewValidatorRepository(db)

	client := fetcher.NewClient(&cfg.Chain, &cfg.Importer, logger)
	balanceImporter := importer.New(types.EntityBalances,
		fetcher.NewBalanceFetcher(client, cfg.Importer.BatchSize, logger), balanceRepo, logger)
	delegationImporter := importer.New(types.EntityDelegations,
		fetcher.NewDelegationFetcher(client, validatorRepo, cfg.Importer.BatchSize, logger), delegationRepo, logger)

	workers := map[types.Entity]*worker.ImportWorker{
		types.EntityBalances:    worker.NewImportWorker(types.EntityBalances, balanceImporter, queryCache, cfg.Importer.Interval, logger),
		types.EntityDelegations: worker.NewImportWorker(types.EntityDelegations, delegationImporter, queryCache, cfg.Importer.Interval, logger),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	controllers := make(map[types.Entity]api.ImportController, len(workers))
	for entity, w := range workers {
		if err := w.Start(ctx); err != nil {
			logger.WithError(err).WithField("entity", string(entity)).Fatal("Failed to start import worker")
		}
		controllers[entity] = w
	}

	server := api.NewServer(
		&api.ServerConfig{
			Host:            cfg.Server.Host,
			Port:            cfg.Server.Port,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		engine,
		analytics,
		controllers,
		map[types.Entity]api.StatsProvider{
			types.EntityBalances:    balanceRepo,
			types.EntityDelegations: delegationRepo,
		},
		db,
		logger,
	)

	go func() {
		if err := server.Start(); err != nil {
			logger.WithError(err).Fatal("Server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("Shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	for entity, w := range workers {
		if err := w.Stop(shutdownCtx); err != nil {
			logger.WithError(err).WithField("entity", string(entity)).Warn("Import worker stop failed")
		}
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server shutdown failed")
	}
}
