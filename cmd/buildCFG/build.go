package buildCFG

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/wb-go/wbf/config"
	"github.com/wb-go/wbf/dbpg"
)

type ServerConfig struct {
	Port string
	Mode string
}

type RabbitConfig struct {
	Enabled  bool
	Url      string
	Exchange string
	Queue    string
	Prefetch int
}

type SchedulerConfig struct {
	Cron         string
	SweepTimeout time.Duration
	EventTimeout time.Duration
}

type StorageConfig struct {
	Driver             string
	MigrationsDir      string
	RollbackOnShutdown bool
}

func BuildServerConfig(cfg *config.Config, log *zerolog.Logger) ServerConfig {
	sc := ServerConfig{
		Port: cfg.GetString("server.port"),
		Mode: cfg.GetString("server.mode"),
	}
	if sc.Port == "" {
		log.Warn().Msg("server.port is not set, using 8080")
		sc.Port = "8080"
	}
	if sc.Mode == "" {
		sc.Mode = "release"
	}
	return sc
}

func BuildStorageConfig(cfg *config.Config) StorageConfig {
	sc := StorageConfig{
		Driver:             cfg.GetString("storage.driver"),
		MigrationsDir:      cfg.GetString("storage.migrations_dir"),
		RollbackOnShutdown: cfg.GetBool("storage.rollback_on_shutdown"),
	}
	if sc.Driver == "" {
		sc.Driver = "postgres"
	}
	if sc.MigrationsDir == "" {
		sc.MigrationsDir = "migrations/postgres"
	}
	return sc
}

func BuildDBConfig(cfg *config.Config, log *zerolog.Logger) (string, []string, *dbpg.Options, error) {
	master := cfg.GetString("database.master_dsn")
	if master == "" {
		return "", nil, nil, fmt.Errorf("database.master_dsn is required")
	}
	slaves := cfg.GetStringSlice("database.slave_dsns")

	opts := &dbpg.Options{
		MaxOpenConns:    cfg.GetInt("database.max_open_conns"),
		MaxIdleConns:    cfg.GetInt("database.max_idle_conns"),
		ConnMaxLifetime: cfg.GetDuration("database.conn_max_lifetime"),
	}
	if opts.MaxOpenConns == 0 {
		opts.MaxOpenConns = 20
	}
	if opts.MaxIdleConns == 0 {
		opts.MaxIdleConns = 5
	}
	if opts.ConnMaxLifetime == 0 {
		opts.ConnMaxLifetime = 30 * time.Minute
	}

	log.Info().Int("replicas", len(slaves)).Int("max_open_conns", opts.MaxOpenConns).Msg("database config built")
	return master, slaves, opts, nil
}

func BuildRabbitConfig(cfg *config.Config, log *zerolog.Logger) (RabbitConfig, error) {
	rc := RabbitConfig{
		Enabled:  cfg.GetBool("rabbit.enabled"),
		Url:      cfg.GetString("rabbit.url"),
		Exchange: cfg.GetString("rabbit.exchange"),
		Queue:    cfg.GetString("rabbit.queue"),
		Prefetch: cfg.GetInt("rabbit.prefetch"),
	}
	if !rc.Enabled {
		log.Info().Msg("RabbitMQ triggers disabled, relying on the periodic sweep")
		return rc, nil
	}
	if rc.Url == "" || rc.Exchange == "" || rc.Queue == "" {
		return rc, fmt.Errorf("rabbit.url, rabbit.exchange and rabbit.queue are required when rabbit is enabled")
	}
	if rc.Prefetch == 0 {
		rc.Prefetch = 16
	}
	return rc, nil
}

func BuildSchedulerConfig(cfg *config.Config) SchedulerConfig {
	sc := SchedulerConfig{
		Cron:         cfg.GetString("scheduler.cron"),
		SweepTimeout: cfg.GetDuration("scheduler.sweep_timeout"),
		EventTimeout: cfg.GetDuration("scheduler.event_timeout"),
	}
	if sc.Cron == "" {
		sc.Cron = "@every 1m"
	}
	return sc
}
