package storage

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// selectBuilder renders the shared SELECT for the relational backends.
// placeholder returns the driver's bind marker for the n-th argument and
// ts converts a query bound to the stored timestamp representation.
type selectBuilder struct {
	table       string
	placeholder func(n int) string
	ts          func(t time.Time) interface{}
}

func (b selectBuilder) query(q Query) (string, []interface{}) {
	var (
		where []string
		args  []interface{}
	)
	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(cond, b.placeholder(len(args))))
	}

	if q.Endpoint != "" {
		add("endpoint = %s", q.Endpoint)
	}
	if q.MetricType != "" {
		add("metric_type = %s", q.MetricType)
	}
	if !q.Start.IsZero() {
		add("ts >= %s", b.ts(q.Start))
	}
	if !q.End.IsZero() {
		add("ts <= %s", b.ts(q.End))
	}

	var sb strings.Builder
	sb.WriteString("SELECT ts, endpoint, metric_type, value, metadata FROM ")
	sb.WriteString(b.table)
	if len(where) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(where, " AND "))
	}
	sb.WriteString(" ORDER BY ts DESC, id DESC")
	if q.Limit > 0 {
		args = append(args, q.Limit)
		sb.WriteString(" LIMIT ")
		sb.WriteString(b.placeholder(len(args)))
	}
	return sb.String(), args
}

func (b selectBuilder) insert() string {
	return fmt.Sprintf("INSERT INTO %s (ts, endpoint, metric_type, value, metadata) VALUES (%s, %s, %s, %s, %s)",
		b.table, b.placeholder(1), b.placeholder(2), b.placeholder(3), b.placeholder(4), b.placeholder(5))
}

func (b selectBuilder) listEndpoints() string {
	return fmt.Sprintf("SELECT DISTINCT endpoint FROM %s ORDER BY endpoint", b.table)
}

func encodeMetadata(m map[string]interface{}) ([]byte, error) {
	if len(m) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encoding metadata: %w", err)
	}
	return data, nil
}

func decodeMetadata(data []byte) (map[string]interface{}, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decoding metadata: %w", err)
	}
	return m, nil
}
