package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"hdblens/server/config"
	"hdblens/server/internal/api"
	"hdblens/server/internal/cache"
	"hdblens/server/internal/database"
	"hdblens/server/internal/datagov"
	"hdblens/server/internal/onemap"
	"hdblens/server/internal/scheduler"
	"hdblens/server/internal/stats"
	"hdblens/server/internal/syncer"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}

	logger.Infof("Using database at: %s", cfg.Database.Path)
	db, err := database.NewDatabase(cfg.Database.Path, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize database")
	}
	defer db.Close()

	logger.Info("Running database migrations...")
	if err := db.RunMigrations(); err != nil {
		logger.WithError(err).Fatal("Failed to run database migrations")
	}

	cacheLayer, err := cache.Connect(context.Background(), cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to cache")
	}

	source := datagov.NewClient(
		cfg.Source.BaseURL,
		cfg.Source.ResourceID,
		time.Duration(cfg.Source.PageDelayMs)*time.Millisecond,
		logger,
	)
	enricher := onemap.NewClient(
		cfg.OneMap.BaseURL,
		cfg.OneMap.Email,
		cfg.OneMap.Password,
		time.Duration(cfg.OneMap.CallDelayMs)*time.Millisecond,
		cacheLayer,
		logger,
	)
	aggregator := stats.NewAggregator(db, logger)
	orchestrator := syncer.NewOrchestrator(cfg, db, source, enricher, aggregator, logger)

	sched := scheduler.NewScheduler(orchestrator, logger)
	if err := sched.Start(cfg.Scheduler.SyncSpec); err != nil {
		logger.WithError(err).Fatal("Failed to start scheduler")
	}
	defer sched.Stop()

	handler := api.NewHandler(cfg, db, cacheLayer, orchestrator, logger)
	router := api.SetupRouter(handler)

	logger.Infof("Starting server on port %s", cfg.Server.Port)
	if err := http.ListenAndServe(":"+cfg.Server.Port, router); err != nil {
		logger.WithError(err).Fatal("Server failed to start")
	}
}
