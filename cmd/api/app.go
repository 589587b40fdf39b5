package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"consult-platform/internal/audit"
	"consult-platform/internal/calls"
	"consult-platform/internal/config"
	"consult-platform/internal/notify"
	"consult-platform/internal/reporting"
	"consult-platform/pkg/logger"
	"consult-platform/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// app holds the process-wide dependencies shared by every subcommand.
type app struct {
	cfg config.Config
	log *slog.Logger
	db  *sql.DB
	rdb *redis.Client

	notifier *notify.Client
	calls    *calls.Service
	audit    *audit.Service
	reports  *reporting.Service
}

func loadConfig() (config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("config load failed: %w", err)
	}
	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)
	return cfg, log, nil
}

func redisConfig(cfg config.Config) utils.RedisConfig {
	return utils.RedisConfig{Addr: cfg.RedisAddr(), Password: cfg.Redis.Password, DB: cfg.Redis.DB}
}

func openDB(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	db, err := utils.OpenPostgres(ctx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		return nil, fmt.Errorf("postgres init failed: %w", err)
	}
	return db, nil
}

func newApp(ctx context.Context) (*app, error) {
	cfg, log, err := loadConfig()
	if err != nil {
		return nil, err
	}

	db, err := openDB(ctx, cfg)
	if err != nil {
		return nil, err
	}
	rdb, err := utils.OpenRedis(ctx, redisConfig(cfg))
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("redis init failed: %w", err)
	}

	a := &app{cfg: cfg, log: log, db: db, rdb: rdb}

	s := cfg.Scheduling
	locker := calls.NewRedisProviderLocker(rdb, s.ProviderLockTTL, s.ProviderLockWait).
		WithLogger(log.With("component", "provider_lock"))
	opts := calls.Options{
		Locker:              locker,
		Logger:              log.With("component", "calls"),
		DefaultRegion:       s.DefaultRegion,
		BillableUnitMinutes: s.BillableUnitMinutes,
		SchedulingTx: calls.TxOptions{
			MaxWait:     s.TxMaxWait,
			Timeout:     s.TxTimeout,
			LockTimeout: s.LockTimeout,
			MaxRetries:  s.TxMaxRetries,
		},
		DefaultTx: calls.TxOptions{
			MaxWait:     s.TxMaxWait,
			Timeout:     s.TxTimeout,
			LockTimeout: s.LockTimeout,
		},
	}
	if cfg.Notify.Enabled {
		a.notifier = notify.NewClient(notify.RedisOpt(redisConfig(cfg)), notify.Config{
			Queue:        cfg.Notify.Queue,
			MaxRetry:     cfg.Notify.MaxRetry,
			ReminderLead: cfg.Notify.ReminderLead,
		})
		opts.Notifier = a.notifier
	}

	a.calls = calls.NewService(calls.NewPostgresUnitOfWork(db), opts)
	a.audit = audit.NewService(audit.NewPostgresRepo(db), log.With("component", "audit"))
	a.reports = reporting.NewService(reporting.NewCallsSource(a.calls), s.BillableUnitMinutes)
	return a, nil
}

func (a *app) Close() {
	if a.notifier != nil {
		_ = a.notifier.Close()
	}
	_ = a.rdb.Close()
	_ = a.db.Close()
}
