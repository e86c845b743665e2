package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/vitalis-app/collector/internal/config"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS host_metrics (
		id          BIGSERIAL PRIMARY KEY,
		ts          TIMESTAMPTZ      NOT NULL,
		endpoint    TEXT             NOT NULL,
		metric_type TEXT             NOT NULL,
		value       DOUBLE PRECISION NOT NULL,
		metadata    JSONB
	)`,
	`CREATE INDEX IF NOT EXISTS idx_host_metrics_lookup ON host_metrics (endpoint, metric_type, ts DESC)`,
}

// PostgresBackend stores records in a PostgreSQL table through a pgx pool.
type PostgresBackend struct {
	pool   *pgxpool.Pool
	sql    selectBuilder
	logger *zap.Logger
	mu     sync.Mutex
}

// ConnString returns the pgx connection string for cfg. DSN wins when set.
func ConnString(cfg config.PostgresConfig) string {
	if cfg.DSN != "" {
		return cfg.DSN
	}
	port := cfg.Port
	if port == 0 {
		port = 5432
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   cfg.Host + ":" + strconv.Itoa(port),
		Path:   "/" + cfg.Database,
	}
	if cfg.User != "" {
		if cfg.Password != "" {
			u.User = url.UserPassword(cfg.User, cfg.Password)
		} else {
			u.User = url.User(cfg.User)
		}
	}
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	q := u.Query()
	q.Set("sslmode", sslMode)
	u.RawQuery = q.Encode()
	return u.String()
}

// OpenPostgres connects, retrying with exponential backoff for up to
// cfg.ConnectTimeout, and creates the schema.
func OpenPostgres(ctx context.Context, cfg config.PostgresConfig, logger *zap.Logger) (*PostgresBackend, error) {
	poolConfig, err := pgxpool.ParseConfig(ConnString(cfg))
	if err != nil {
		return nil, fmt.Errorf("%w: parsing postgres connection string: %v", config.ErrInvalidConfig, err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("%w: creating postgres pool: %v", config.ErrInvalidConfig, err)
	}

	maxElapsed := cfg.ConnectTimeout.Duration
	if maxElapsed <= 0 {
		maxElapsed = 30 * time.Second
	}
	attempt := 0
	ping := func() (struct{}, error) {
		attempt++
		if err := pool.Ping(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return struct{}{}, backoff.Permanent(err)
			}
			logger.Warn("Postgres not reachable yet",
				zap.Int("attempt", attempt),
				zap.Error(err))
			return struct{}{}, err
		}
		return struct{}{}, nil
	}
	if _, err := backoff.Retry(ctx, ping,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(maxElapsed)); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: postgres unreachable: %v", config.ErrInvalidConfig, err)
	}

	for _, stmt := range postgresSchema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			pool.Close()
			return nil, fmt.Errorf("%w: creating postgres schema: %v", config.ErrInvalidConfig, err)
		}
	}

	logger.Info("Connected to postgres",
		zap.String("host", poolConfig.ConnConfig.Host),
		zap.Int32("max_conns", poolConfig.MaxConns))

	return &PostgresBackend{
		pool:   pool,
		logger: logger,
		sql: selectBuilder{
			table:       "host_metrics",
			placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
			ts:          func(t time.Time) interface{} { return t.UTC() },
		},
	}, nil
}

// Save implements Backend.
func (b *PostgresBackend) Save(ctx context.Context, r Record) error {
	meta, err := encodeMetadata(r.Metadata)
	if err != nil {
		return err
	}
	var metaArg interface{}
	if meta != nil {
		metaArg = string(meta)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := b.pool.Exec(ctx, b.sql.insert(),
		r.Timestamp.UTC(), r.Endpoint, r.MetricType, r.Value, metaArg); err != nil {
		return fmt.Errorf("inserting record: %w", err)
	}
	return nil
}

// Query implements Backend.
func (b *PostgresBackend) Query(ctx context.Context, q Query) ([]Record, error) {
	stmt, args := b.sql.query(q)
	rows, err := b.pool.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("querying records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r    Record
			meta []byte
		)
		if err := rows.Scan(&r.Timestamp, &r.Endpoint, &r.MetricType, &r.Value, &meta); err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		r.Timestamp = r.Timestamp.UTC()
		if r.Metadata, err = decodeMetadata(meta); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListEndpoints implements Backend.
func (b *PostgresBackend) ListEndpoints(ctx context.Context) ([]string, error) {
	rows, err := b.pool.Query(ctx, b.sql.listEndpoints())
	if err != nil {
		return nil, fmt.Errorf("listing endpoints: %w", err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scanning endpoint: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Close implements Backend.
func (b *PostgresBackend) Close() error {
	b.pool.Close()
	return nil
}
