package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
)

const (
	pgUndefinedTable  = "42P01"
	pgDuplicateTable  = "42P07"
	pgUniqueViolation = "23505"

	tableExistsSQL = `SELECT EXISTS (
        SELECT FROM information_schema.tables
        WHERE table_schema = current_schema()
          AND table_name   = $1
    );`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

type pgQueries struct {
	createTable string
	upsert      string
	latest      string
	recent      string
	between     string
	all         string
	count       string
}

func newPGQueries(table string) pgQueries {
	ident := pgx.Identifier{table}.Sanitize()
	columns := `date, level::text, temperature::text, location`
	return pgQueries{
		createTable: fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
        date        TIMESTAMPTZ PRIMARY KEY,
        level       NUMERIC NOT NULL,
        temperature NUMERIC NOT NULL,
        location    VARCHAR(255) NOT NULL
    );`, ident),
		upsert: fmt.Sprintf(`INSERT INTO %s (date, level, temperature, location)
    VALUES ($1, $2, $3, $4)
    ON CONFLICT (date) DO UPDATE
    SET level       = EXCLUDED.level,
        temperature = EXCLUDED.temperature,
        location    = EXCLUDED.location;`, ident),
		latest: fmt.Sprintf(`SELECT %s FROM %s
    WHERE date >= $1
    ORDER BY date DESC
    LIMIT 1;`, columns, ident),
		recent: fmt.Sprintf(`SELECT %s FROM %s
    WHERE date >= $1
    ORDER BY date DESC
    LIMIT $2;`, columns, ident),
		between: fmt.Sprintf(`SELECT %s FROM %s
    WHERE date >= $1
      AND date < $2
    ORDER BY date;`, columns, ident),
		all:   fmt.Sprintf(`SELECT %s FROM %s ORDER BY date;`, columns, ident),
		count: fmt.Sprintf(`SELECT COUNT(*) FROM %s;`, ident),
	}
}

// Store is the PostgreSQL reading store.
type Store struct {
	pool    *pgxpool.Pool
	table   string
	queries pgQueries
	clock   clockwork.Clock
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool, table string, clock clockwork.Clock) *Store {
	if table == "" {
		table = "waterlevel"
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Store{pool: pool, table: table, queries: newPGQueries(table), clock: clock}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("%w: ping: %w", ErrBackendUnavailable, err)
	}
	return nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// a failed unlock is released with the session when the connection closes
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

// EnsureSchema creates the readings table when it does not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}

	var exists bool
	if err := pool.QueryRow(ctx, tableExistsSQL, s.table).Scan(&exists); err != nil {
		return false, fmt.Errorf("%w: check table: %w", ErrSchema, err)
	}
	if exists {
		return false, nil
	}

	if _, err := pool.Exec(ctx, s.queries.createTable); err != nil {
		if isConcurrentCreate(err) {
			return false, nil
		}
		return false, fmt.Errorf("%w: create table: %w", ErrSchema, err)
	}
	return true, nil
}

// UpsertReading persists or replaces the reading keyed by its timestamp.
func (s *Store) UpsertReading(ctx context.Context, reading Reading) error {
	if err := validateReading(reading); err != nil {
		return err
	}
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	exec := func() error {
		_, err := pool.Exec(ctx, s.queries.upsert,
			reading.Timestamp.UTC(),
			reading.Level.String(),
			reading.Temperature.String(),
			reading.Location,
		)
		return err
	}

	ensure := func() error {
		_, err := s.EnsureSchema(ctx)
		return err
	}
	return retryOnUndefinedTable(exec, ensure)
}

// retryOnUndefinedTable runs exec once more after ensure when the table is
// missing. A failing ensure is returned as is.
func retryOnUndefinedTable(exec, ensure func() error) error {
	execErr := exec()
	if execErr != nil && pgCode(execErr) == pgUndefinedTable {
		if err := ensure(); err != nil {
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
func (s *Store) Latest(ctx context.Context, lookback time.Duration) (Reading, error) {
	pool, err := s.getPool()
	if err != nil {
		return Reading{}, err
	}

	row := pool.QueryRow(ctx, s.queries.latest, s.since(lookback))
	reading, err := scanReading(row)
	if errors.Is(err, pgx.ErrNoRows) || pgCode(err) == pgUndefinedTable {
		return Reading{}, ErrNoData
	}
	if err != nil {
		return Reading{}, fmt.Errorf("%w: latest reading: %w", ErrBackendUnavailable, err)
	}
	return reading, nil
}

// WindowSince lists readings within lookback, ascending, keeping the newest limit.
func (s *Store) WindowSince(ctx context.Context, lookback time.Duration, limit int) ([]Reading, error) {
	readings, err := s.query(ctx, "window since", s.queries.recent, s.since(lookback), limitArg(limit))
	if err != nil {
		return nil, err
	}
	reverseReadings(readings)
	return readings, nil
}

// limitArg binds LIMIT $n; NULL means no limit.
func limitArg(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}

// RangeByMonth lists readings in the current calendar month.
func (s *Store) RangeByMonth(ctx context.Context) ([]Reading, error) {
	from, to := monthBounds(s.clock.Now().UTC())
	return s.ListBetween(ctx, from, to)
}

// RangeByHours lists readings from the last hours hours.
func (s *Store) RangeByHours(ctx context.Context, hours int) ([]Reading, error) {
	return s.WindowSince(ctx, time.Duration(hours)*time.Hour, 0)
}

// ListBetween lists readings in [from, to).
func (s *Store) ListBetween(ctx context.Context, from, to time.Time) ([]Reading, error) {
	return s.query(ctx, "list between", s.queries.between, from.UTC(), to.UTC())
}

// ListAll lists every stored reading.
func (s *Store) ListAll(ctx context.Context) ([]Reading, error) {
	return s.query(ctx, "list all", s.queries.all)
}

// CountReadings counts stored readings.
func (s *Store) CountReadings(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, s.queries.count).Scan(&count); scanErr != nil {
		if pgCode(scanErr) == pgUndefinedTable {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: count readings: %w", ErrBackendUnavailable, scanErr)
	}
	return count, nil
}

func (s *Store) since(lookback time.Duration) time.Time {
	if lookback <= 0 {
		return time.Time{}
	}
	return s.clock.Now().UTC().Add(-lookback)
}

func (s *Store) query(ctx context.Context, op, sql string, args ...any) ([]Reading, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, sql, args...)
	if queryErr != nil {
		if pgCode(queryErr) == pgUndefinedTable {
			return []Reading{}, nil
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrBackendUnavailable, op, queryErr)
	}
	defer rows.Close()

	readings := make([]Reading, 0)
	for rows.Next() {
		reading, scanErr := scanReading(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrBackendUnavailable, op, scanErr)
		}
		readings = append(readings, reading)
	}
	if err := rows.Err(); err != nil {
		if pgCode(err) == pgUndefinedTable {
			return []Reading{}, nil
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrBackendUnavailable, op, err)
	}
	return readings, nil
}

func scanReading(row pgx.Row) (Reading, error) {
	var (
		ts          time.Time
		levelStr    string
		temperature string
		location    string
	)
	if err := row.Scan(&ts, &levelStr, &temperature, &location); err != nil {
		return Reading{}, err
	}
	return buildReading(ts, levelStr, temperature, location)
}

func buildReading(ts time.Time, levelStr, temperatureStr, location string) (Reading, error) {
	level, err := decimal.NewFromString(levelStr)
	if err != nil {
		return Reading{}, fmt.Errorf("parse level: %w", err)
	}
	temperature, err := decimal.NewFromString(temperatureStr)
	if err != nil {
		return Reading{}, fmt.Errorf("parse temperature: %w", err)
	}
	return Reading{
		Timestamp:   ts.UTC(),
		Level:       level,
		Temperature: temperature,
		Location:    location,
	}, nil
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// isConcurrentCreate reports the errors Postgres raises when two sessions run
// CREATE TABLE IF NOT EXISTS for the same table at once.
func isConcurrentCreate(err error) bool {
	switch pgCode(err) {
	case pgDuplicateTable, pgUniqueViolation:
		return true
	default:
		return false
	}
}

var (
	_ ReadingStore   = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
)
