package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"

	"floodwatch/internal/config"
)

// ReadingStore is the durable time-series of water-level readings.
type ReadingStore interface {
	// EnsureSchema creates the readings table when absent and reports whether
	// this call created it. Safe to call concurrently and repeatedly.
	EnsureSchema(ctx context.Context) (bool, error)
	// UpsertReading inserts a reading or replaces the non-key fields of the
	// reading stored under the same timestamp.
	UpsertReading(ctx context.Context, reading Reading) error
	// Latest returns the most recent reading newer than now-lookback, or ErrNoData.
	Latest(ctx context.Context, lookback time.Duration) (Reading, error)
	// WindowSince returns readings newer than now-lookback in ascending order.
	// A positive limit keeps only the most recent limit readings.
	WindowSince(ctx context.Context, lookback time.Duration, limit int) ([]Reading, error)
	RangeByMonth(ctx context.Context) ([]Reading, error)
	RangeByHours(ctx context.Context, hours int) ([]Reading, error)
	ListAll(ctx context.Context) ([]Reading, error)
	ListBetween(ctx context.Context, from, to time.Time) ([]Reading, error)
	CountReadings(ctx context.Context) (int64, error)
	Ping(ctx context.Context) error
	Close()
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Open builds the store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.DatabaseConfig, clock clockwork.Clock) (ReadingStore, error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	switch cfg.Driver {
	case config.DriverSQLite:
		return OpenSQLite(cfg, clock)
	case config.DriverPostgres, "":
		pool, err := NewPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return NewStore(pool, cfg.Table, clock), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// NewPool configures a PostgreSQL connection pool from runtime settings.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, ErrNotConfigured
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("%w: create pgx pool: %w", ErrBackendUnavailable, err)
	}

	return pool, nil
}
