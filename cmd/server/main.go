// Package main is the entry point for the tracker. It wires the
// databases, the holdings engine, the refresh queue and the HTTP API,
// then runs until interrupted.
package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/tracker/internal/config"
	"github.com/aristath/tracker/internal/database"
	"github.com/aristath/tracker/internal/marketdata"
	"github.com/aristath/tracker/internal/modules/dividends"
	"github.com/aristath/tracker/internal/modules/holdings"
	"github.com/aristath/tracker/internal/modules/ledger"
	"github.com/aristath/tracker/internal/modules/prices"
	"github.com/aristath/tracker/internal/modules/universe"
	"github.com/aristath/tracker/internal/queue"
	"github.com/aristath/tracker/internal/refresh"
	"github.com/aristath/tracker/internal/scheduler"
	"github.com/aristath/tracker/internal/server"
	"github.com/aristath/tracker/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})

	// The ledger database holds transactions and holdings together so a
	// transaction append and its holding recomputation commit atomically.
	ledgerDB := mustOpen(log, database.Config{
		Path:    filepath.Join(cfg.DataDir, "ledger.db"),
		Name:    "ledger",
		Profile: database.ProfileLedger,
	}, ledger.Schema, holdings.Schema)
	defer ledgerDB.Close()

	universeDB := mustOpen(log, database.Config{
		Path:    filepath.Join(cfg.DataDir, "universe.db"),
		Name:    "universe",
		Profile: database.ProfileStandard,
	}, universe.Schema)
	defer universeDB.Close()

	historyDB := mustOpen(log, database.Config{
		Path:    filepath.Join(cfg.DataDir, "history.db"),
		Name:    "history",
		Profile: database.ProfileStandard,
	}, prices.Schema, dividends.Schema)
	defer historyDB.Close()

	jobsDB := mustOpen(log, database.Config{
		Path:    filepath.Join(cfg.DataDir, "jobs.db"),
		Name:    "jobs",
		Profile: database.ProfileCache,
	}, queue.Schema)
	defer jobsDB.Close()

	// Repositories and services.
	transactionRepo := ledger.NewTransactionRepository(ledgerDB.Conn(), log)
	holdingRepo := holdings.NewRepository(ledgerDB.Conn(), log)
	holdingService := holdings.NewService(ledgerDB.Conn(), transactionRepo, holdingRepo, log)
	securityRepo := universe.NewSecurityRepository(universeDB.Conn(), log)
	priceRepo := prices.NewRepository(historyDB.Conn(), log)
	dividendRepo := dividends.NewRepository(historyDB.Conn(), log)

	// Durable refresh queue with one pool per queue.
	queueOpts := queue.Options{
		RetryDelay:    cfg.Refresh.RetryDelay,
		MaxAttempts:   cfg.Refresh.MaxAttempts,
		SoftTimeLimit: cfg.Refresh.SoftTimeLimit,
		HardTimeLimit: cfg.Refresh.HardTimeLimit,
		PollInterval:  500 * time.Millisecond,
	}
	manager := queue.NewManager(jobsDB.Conn(), queueOpts, map[string]int{
		queue.QueuePrices:       cfg.Refresh.PriceWorkers,
		queue.QueueDividends:    cfg.Refresh.DividendWorkers,
		queue.QueueCoordination: cfg.Refresh.CoordinationLane,
	}, log)

	provider := marketdata.NewYahooProvider(log)
	coordinator := refresh.NewCoordinator(holdingService, securityRepo, manager, cfg.Refresh.DividendSince, log)
	worker := refresh.NewWorker(provider, priceRepo, dividendRepo, holdingService, log)
	coordinator.RegisterHandlers(manager)
	worker.RegisterHandlers(manager)

	if err := manager.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start queue manager")
	}

	// Periodic refresh triggers.
	sched := scheduler.New(log)
	if err := scheduler.Register(sched, coordinator, scheduler.DefaultMarketHours(), cfg.Refresh.PriceInterval, log); err != nil {
		log.Fatal().Err(err).Msg("Failed to register scheduled jobs")
	}
	sched.Start()

	srv := server.New(server.Config{
		Log:          log,
		Port:         cfg.Port,
		DevMode:      cfg.DevMode,
		Holdings:     holdingService,
		Transactions: transactionRepo,
		Securities:   securityRepo,
		Prices:       priceRepo,
		Dividends:    dividendRepo,
		Coordinator:  coordinator,
		Queue:        manager,
		Databases: map[string]*database.DB{
			"ledger":   ledgerDB,
			"universe": universeDB,
			"history":  historyDB,
			"jobs":     jobsDB,
		},
	})

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		if err != nil {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msg("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown failed")
	}
	sched.Stop()
	manager.Stop()

	log.Info().Msg("Shutdown complete")
}

func mustOpen(log zerolog.Logger, cfg database.Config, schemas ...string) *database.DB {
	db, err := database.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Str("database", cfg.Name).Msg("Failed to open database")
	}
	for _, schema := range schemas {
		if err := db.ApplySchema(schema); err != nil {
			log.Fatal().Err(err).Str("database", cfg.Name).Msg("Failed to apply schema")
		}
	}
	return db
}
