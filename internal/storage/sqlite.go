package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	// Registers the "sqlite" database/sql driver.
	_ "modernc.org/sqlite"

	"github.com/vitalis-app/collector/internal/config"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS metrics (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		ts          INTEGER NOT NULL,
		endpoint    TEXT    NOT NULL,
		metric_type TEXT    NOT NULL,
		value       REAL    NOT NULL,
		metadata    TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_metrics_lookup ON metrics (endpoint, metric_type, ts)`,
}

// SQLiteBackend stores records in an embedded SQLite file. Timestamps are
// stored as Unix nanoseconds.
type SQLiteBackend struct {
	db  *sql.DB
	sql selectBuilder
	mu  sync.Mutex
}

// OpenSQLite opens or creates the database at cfg.Path.
func OpenSQLite(ctx context.Context, cfg config.SQLiteConfig) (*SQLiteBackend, error) {
	if dir := filepath.Dir(cfg.Path); dir != "" {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("%w: creating sqlite directory: %v", config.ErrInvalidConfig, err)
		}
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: opening sqlite: %v", config.ErrInvalidConfig, err)
	}
	// One writer at a time; SQLite locks the whole file anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: configuring sqlite: %v", config.ErrInvalidConfig, err)
	}
	for _, stmt := range sqliteSchema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("%w: creating sqlite schema: %v", config.ErrInvalidConfig, err)
		}
	}

	return &SQLiteBackend{
		db: db,
		sql: selectBuilder{
			table:       "metrics",
			placeholder: func(int) string { return "?" },
			ts:          func(t time.Time) interface{} { return t.UnixNano() },
		},
	}, nil
}

// Save implements Backend.
func (b *SQLiteBackend) Save(ctx context.Context, r Record) error {
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

	_, err = b.db.ExecContext(ctx, b.sql.insert(),
		r.Timestamp.UnixNano(), r.Endpoint, r.MetricType, r.Value, metaArg)
	if err != nil {
		return fmt.Errorf("inserting record: %w", err)
	}
	return nil
}

// Query implements Backend.
func (b *SQLiteBackend) Query(ctx context.Context, q Query) ([]Record, error) {
	stmt, args := b.sql.query(q)
	rows, err := b.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("querying records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r    Record
			ts   int64
			meta sql.NullString
		)
		if err := rows.Scan(&ts, &r.Endpoint, &r.MetricType, &r.Value, &meta); err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		r.Timestamp = time.Unix(0, ts).UTC()
		if meta.Valid {
			if r.Metadata, err = decodeMetadata([]byte(meta.String)); err != nil {
				return nil, err
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListEndpoints implements Backend.
func (b *SQLiteBackend) ListEndpoints(ctx context.Context) ([]string, error) {
	rows, err := b.db.QueryContext(ctx, b.sql.listEndpoints())
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
func (b *SQLiteBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.db.Close()
}
