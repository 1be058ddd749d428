package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	_ "github.com/mattn/go-sqlite3"

	"floodwatch/internal/config"
)

// sqliteTimeLayout is fixed width in UTC so lexical order equals time order.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

type sqliteQueries struct {
	exists      string
	createTable string
	upsert      string
	latest      string
	recent      string
	between     string
	all         string
	count       string
}

func newSQLiteQueries(table string) sqliteQueries {
	ident := `"` + strings.ReplaceAll(table, `"`, `""`) + `"`
	columns := `date, level, temperature, location`
	return sqliteQueries{
		exists: `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`,
		createTable: fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		date        TEXT PRIMARY KEY,
		level       TEXT NOT NULL,
		temperature TEXT NOT NULL,
		location    TEXT NOT NULL
	)`, ident),
		upsert: fmt.Sprintf(`INSERT INTO %s (date, level, temperature, location)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(date) DO UPDATE SET
		level = excluded.level,
		temperature = excluded.temperature,
		location = excluded.location`, ident),
		latest:  fmt.Sprintf(`SELECT %s FROM %s WHERE date >= ? ORDER BY date DESC LIMIT 1`, columns, ident),
		recent:  fmt.Sprintf(`SELECT %s FROM %s WHERE date >= ? ORDER BY date DESC LIMIT ?`, columns, ident),
		between: fmt.Sprintf(`SELECT %s FROM %s WHERE date >= ? AND date < ? ORDER BY date`, columns, ident),
		all:     fmt.Sprintf(`SELECT %s FROM %s ORDER BY date`, columns, ident),
		count:   fmt.Sprintf(`SELECT COUNT(*) FROM %s`, ident),
	}
}

// SQLiteStore is the embedded reading store used for single-node deployments.
type SQLiteStore struct {
	db      *sql.DB
	table   string
	queries sqliteQueries
	clock   clockwork.Clock
}

// OpenSQLite opens (creating directories as needed) the database at cfg.SQLitePath.
func OpenSQLite(cfg config.DatabaseConfig, clock clockwork.Clock) (*SQLiteStore, error) {
	if cfg.SQLitePath == "" {
		return nil, ErrNotConfigured
	}
	if dir := filepath.Dir(cfg.SQLitePath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", cfg.SQLitePath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("%w: open sqlite: %w", ErrBackendUnavailable, err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	table := cfg.Table
	if table == "" {
		table = "waterlevel"
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &SQLiteStore{db: db, table: table, queries: newSQLiteQueries(table), clock: clock}, nil
}

// Close closes the database handle.
func (s *SQLiteStore) Close() {
	if s == nil || s.db == nil {
		return
	}
	_ = s.db.Close()
}

// Ping checks the database handle.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: ping: %w", ErrBackendUnavailable, err)
	}
	return nil
}

// EnsureSchema creates the readings table when it does not exist yet.
func (s *SQLiteStore) EnsureSchema(ctx context.Context) (bool, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, s.queries.exists, s.table).Scan(&count); err != nil {
		return false, fmt.Errorf("%w: check table: %w", ErrSchema, err)
	}
	if count > 0 {
		return false, nil
	}
	if _, err := s.db.ExecContext(ctx, s.queries.createTable); err != nil {
		if strings.Contains(err.Error(), "already exists") {
			return false, nil
		}
		return false, fmt.Errorf("%w: create table: %w", ErrSchema, err)
	}
	return true, nil
}

// UpsertReading persists or replaces the reading keyed by its timestamp.
func (s *SQLiteStore) UpsertReading(ctx context.Context, reading Reading) error {
	if err := validateReading(reading); err != nil {
		return err
	}

	exec := func() error {
		_, err := s.db.ExecContext(ctx, s.queries.upsert,
			formatSQLiteTime(reading.Timestamp),
			reading.Level.String(),
			reading.Temperature.String(),
			reading.Location,
		)
		return err
	}

	execErr := exec()
	if isNoSuchTable(execErr) {
		if _, err := s.EnsureSchema(ctx); err != nil {
			return err
		}
		execErr = exec()
	}
	if execErr != nil {
		return fmt.Errorf("%w: upsert reading: %w", ErrBackendUnavailable, execErr)
	}
	return nil
}

// Latest returns the newest reading within lookback.
func (s *SQLiteStore) Latest(ctx context.Context, lookback time.Duration) (Reading, error) {
	row := s.db.QueryRowContext(ctx, s.queries.latest, s.since(lookback))
	reading, err := scanSQLiteReading(row)
	if errors.Is(err, sql.ErrNoRows) || isNoSuchTable(err) {
		return Reading{}, ErrNoData
	}
	if err != nil {
		return Reading{}, fmt.Errorf("%w: latest reading: %w", ErrBackendUnavailable, err)
	}
	return reading, nil
}

// WindowSince lists readings within lookback, ascending, keeping the newest limit.
func (s *SQLiteStore) WindowSince(ctx context.Context, lookback time.Duration, limit int) ([]Reading, error) {
	if limit <= 0 {
		limit = -1
	}
	readings, err := s.query(ctx, "window since", s.queries.recent, s.since(lookback), limit)
	if err != nil {
		return nil, err
	}
	reverseReadings(readings)
	return readings, nil
}

// RangeByMonth lists readings in the current calendar month.
func (s *SQLiteStore) RangeByMonth(ctx context.Context) ([]Reading, error) {
	from, to := monthBounds(s.clock.Now().UTC())
	return s.ListBetween(ctx, from, to)
}

// RangeByHours lists readings from the last hours hours.
func (s *SQLiteStore) RangeByHours(ctx context.Context, hours int) ([]Reading, error) {
	return s.WindowSince(ctx, time.Duration(hours)*time.Hour, 0)
}

// ListBetween lists readings in [from, to).
func (s *SQLiteStore) ListBetween(ctx context.Context, from, to time.Time) ([]Reading, error) {
	return s.query(ctx, "list between", s.queries.between, formatSQLiteTime(from), formatSQLiteTime(to))
}

// ListAll lists every stored reading.
func (s *SQLiteStore) ListAll(ctx context.Context) ([]Reading, error) {
	return s.query(ctx, "list all", s.queries.all)
}

// CountReadings counts stored readings.
func (s *SQLiteStore) CountReadings(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, s.queries.count).Scan(&count); err != nil {
		if isNoSuchTable(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: count readings: %w", ErrBackendUnavailable, err)
	}
	return count, nil
}

func (s *SQLiteStore) since(lookback time.Duration) string {
	if lookback <= 0 {
		return formatSQLiteTime(time.Time{})
	}
	return formatSQLiteTime(s.clock.Now().Add(-lookback))
}

func (s *SQLiteStore) query(ctx context.Context, op, query string, args ...any) ([]Reading, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		if isNoSuchTable(err) {
			return []Reading{}, nil
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrBackendUnavailable, op, err)
	}
	defer rows.Close()

	readings := make([]Reading, 0)
	for rows.Next() {
		reading, scanErr := scanSQLiteReading(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrBackendUnavailable, op, scanErr)
		}
		readings = append(readings, reading)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrBackendUnavailable, op, err)
	}
	return readings, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteReading(row rowScanner) (Reading, error) {
	var tsStr, levelStr, temperatureStr, location string
	if err := row.Scan(&tsStr, &levelStr, &temperatureStr, &location); err != nil {
		return Reading{}, err
	}
	ts, err := time.Parse(sqliteTimeLayout, tsStr)
	if err != nil {
		return Reading{}, fmt.Errorf("parse date %q: %w", tsStr, err)
	}
	return buildReading(ts, levelStr, temperatureStr, location)
}

func formatSQLiteTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func isNoSuchTable(err error) bool {
	return err != nil && strings.Contains(err.Error(), "no such table")
}

var _ ReadingStore = (*SQLiteStore)(nil)
