// Package storage defines the durable record contract and its backends: an
// append-only JSON lines log, an embedded SQLite database and PostgreSQL.
//
// Save is at-least-once from the caller's point of view; backends do not
// deduplicate. Each backend serializes its own writers.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vitalis-app/collector/internal/config"
)

// ErrUnknownBackend is returned by New for an unrecognized backend name.
var ErrUnknownBackend = fmt.Errorf("%w: unknown storage backend", config.ErrInvalidConfig)

// Record is one stored measurement or event.
type Record struct {
	Timestamp  time.Time              `json:"timestamp"`
	Endpoint   string                 `json:"endpoint"`
	MetricType string                 `json:"metric_type"`
	Value      float64                `json:"value"`
	Metadata   map[string]interface{} `json:"metadata"`
}

// MarshalJSON writes nil metadata as an empty object so every encoded record
// carries the same five fields.
func (r Record) MarshalJSON() ([]byte, error) {
	type plain Record
	if r.Metadata == nil {
		r.Metadata = map[string]interface{}{}
	}
	return json.Marshal(plain(r))
}

// Query selects records. Empty or zero fields are unbounded; Start and End
// are inclusive. A positive Limit keeps only the newest records.
type Query struct {
	Endpoint   string
	MetricType string
	Start      time.Time
	End        time.Time
	Limit      int
}

// Match reports whether r satisfies q.
func (q Query) Match(r Record) bool {
	if q.Endpoint != "" && r.Endpoint != q.Endpoint {
		return false
	}
	if q.MetricType != "" && r.MetricType != q.MetricType {
		return false
	}
	if !q.Start.IsZero() && r.Timestamp.Before(q.Start) {
		return false
	}
	if !q.End.IsZero() && r.Timestamp.After(q.End) {
		return false
	}
	return true
}

// Backend is the storage contract.
type Backend interface {
	// Save appends one record.
	Save(ctx context.Context, r Record) error
	// Query returns matching records ordered by timestamp descending.
	Query(ctx context.Context, q Query) ([]Record, error)
	// ListEndpoints returns the distinct endpoint names seen, sorted.
	ListEndpoints(ctx context.Context) ([]string, error)
	// Close flushes and releases the backend.
	Close() error
}

// New opens the backend selected by cfg.Backend. Failing to reach the
// storage target is a configuration error for the caller.
func New(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (Backend, error) {
	switch strings.ToLower(cfg.Backend) {
	case config.BackendLog:
		return OpenLog(cfg.Log, logger)
	case config.BackendSQLite:
		return OpenSQLite(ctx, cfg.SQLite)
	case config.BackendPostgres:
		return OpenPostgres(ctx, cfg.Postgres, logger)
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownBackend, cfg.Backend)
	}
}

// IsConfigError reports whether err should stop the process at startup.
func IsConfigError(err error) bool {
	return errors.Is(err, config.ErrInvalidConfig)
}
