package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/wb-go/wbf/config"
	"github.com/wb-go/wbf/dbpg"
	"github.com/wb-go/wbf/zlog"

	"liveEvents/cmd/buildCFG"
	"liveEvents/internal/api/api"
	"liveEvents/internal/clock"
	rabbitReader "liveEvents/internal/consumerWorker"
	"liveEvents/internal/metrics"
	"liveEvents/internal/rabbit"
	"liveEvents/internal/repo"
	"liveEvents/internal/service"
	"liveEvents/internal/sweeper"
)

func main() {
	zlog.Init()
	log := zlog.Logger

	cfg := config.New()
	if err := cfg.Load("config.yaml", ".env", "EVENTS"); err != nil {
		log.Fatal().Msgf("failed to load configuration: %v", err)
	}
	serverCfg := buildCFG.BuildServerConfig(cfg, &log)
	storageCfg := buildCFG.BuildStorageConfig(cfg)
	schedulerCfg := buildCFG.BuildSchedulerConfig(cfg)

	repository, migrationPath := openRepository(cfg, storageCfg, &log)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(registry)
	clk := clock.Real{}

	rabbitCfg, err := buildCFG.BuildRabbitConfig(cfg, &log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load RabbitMQ config")
	}
	var (
		rmq       *rabbit.Client
		publisher service.Publisher
	)
	if rabbitCfg.Enabled {
		rmq, err = rabbit.NewRabbit(rabbitCfg.Url, rabbitCfg.Exchange, rabbitCfg.Queue, rabbitCfg.Prefetch)
		if err != nil {
			log.Fatal().Msgf("Failed to connect to RabbitMQ: %v", err)
		}
		defer rmq.Close()
		publisher = rmq
	}

	events := service.NewEventService(repository, clk, &log, publisher)
	registrations := service.NewRegistrationGate(repository, clk, &log, m)
	participations := service.NewParticipationGate(repository, clk, &log, m)
	scheduler := service.NewScheduler(repository, &log, m, schedulerCfg.EventTimeout)
	queries := service.NewQueries(repository)

	workerCtx, cancelWorkers := context.WithCancel(context.Background())

	var reader *rabbitReader.Reader
	if rmq != nil {
		reader = rabbitReader.NewReader(rmq, scheduler, clk, &log)
		reader.Start(workerCtx)
	}

	sweep, err := sweeper.New(schedulerCfg.Cron, scheduler, clk, &log, schedulerCfg.SweepTimeout)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to configure lifecycle sweeper")
	}
	// catch up on anything that came due while the service was down
	if _, err := sweep.RunOnce(workerCtx); err != nil {
		log.Error().Err(err).Msg("startup sweep failed")
	}
	sweep.Start()

	app := api.NewRouters(&api.Routers{
		Events:         events,
		Registrations:  registrations,
		Participations: participations,
		Scheduler:      scheduler,
		Queries:        queries,
		Clock:          clk,
		Log:            &log,
		Metrics:        promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	}, serverCfg.Mode)

	srv := &http.Server{
		Addr:              ":" + serverCfg.Port,
		Handler:           app,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		log.Info().Msgf("Starting server on %s", serverCfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrChan <- fmt.Errorf("failed to start server: %w", err)
		}
	}()

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-signalChan:
		log.Info().Msgf("Received signal %s. Initiating shutdown...", sig)
	case err := <-serverErrChan:
		log.Error().Msgf("Server error: %v", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Msgf("Error shutting down server: %v", err)
	}
	sweep.Stop(shutdownCtx)
	cancelWorkers()
	if reader != nil {
		reader.Stop()
	}

	if storageCfg.RollbackOnShutdown && migrationPath != "" {
		log.Info().Msg("Rolling back migrations...")
		if err := repository.MigrateDown(migrationPath); err != nil {
			log.Fatal().Msgf("failed to rollback migrations: %v", err)
		}
		log.Info().Msg("Migrations rolled back successfully")
	}
	log.Info().Msg("Shutdown complete")
}

func openRepository(cfg *config.Config, storageCfg buildCFG.StorageConfig, log *zerolog.Logger) (repo.Repository, string) {
	if storageCfg.Driver == "memory" {
		log.Warn().Msg("using in-memory storage, state is lost on restart")
		return repo.NewMemoryRepository(), ""
	}

	masterDSN, slaveDSNs, poolOptions, err := buildCFG.BuildDBConfig(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build DB config")
	}
	db, err := dbpg.New(masterDSN, slaveDSNs, poolOptions)
	if err != nil {
		log.Fatal().Msgf("failed to connect to DB: %v", err)
	}
	if err := db.Master.Ping(); err != nil {
		log.Fatal().Msgf("DB ping failed: %v", err)
	}
	log.Info().Msg("Database connected successfully")

	repository, err := repo.NewRepository(db, log)
	if err != nil {
		log.Fatal().Msgf("failed to initialize repository: %v", err)
	}

	migrationPath := storageCfg.MigrationsDir
	if !filepath.IsAbs(migrationPath) {
		cwd, err := os.Getwd()
		if err != nil {
			log.Fatal().Err(err).Msg("cannot get working directory")
		}
		migrationPath = filepath.Join(cwd, migrationPath)
	}
	if err := repository.MigrateUp(migrationPath); err != nil {
		log.Fatal().Err(err).Msg("migration failed")
	}
	log.Info().Msg("Migrations applied successfully")
	return repository, migrationPath
}
