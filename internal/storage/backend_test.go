package storage

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2026, 5, 1, 12, 0, 0, 123456789, time.UTC)

// testBackendContract exercises the behaviour every backend must share.
func testBackendContract(t *testing.T, b Backend) {
	ctx := context.Background()

	t.Run("round trip", func(t *testing.T) {
		rec := Record{
			Timestamp:  base,
			Endpoint:   "web-1",
			MetricType: "cpu_usage",
			Value:      97.25,
		}
		require.NoError(t, b.Save(ctx, rec))

		got, err := b.Query(ctx, Query{
			Endpoint:   "web-1",
			MetricType: "cpu_usage",
			Start:      base.Add(-time.Second),
			End:        base.Add(time.Second),
		})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, 97.25, got[0].Value)
		assert.True(t, got[0].Timestamp.Sub(base).Abs() < time.Microsecond,
			"timestamp %v, want %v", got[0].Timestamp, base)
	})

	t.Run("metadata", func(t *testing.T) {
		rec := Record{
			Timestamp:  base.Add(time.Minute),
			Endpoint:   "web-1",
			MetricType: "memory_usage",
			Value:      40,
			Metadata:   map[string]interface{}{"total": 16.0, "used": 6.4},
		}
		require.NoError(t, b.Save(ctx, rec))

		got, err := b.Query(ctx, Query{Endpoint: "web-1", MetricType: "memory_usage"})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, 16.0, got[0].Metadata["total"])
		assert.Equal(t, 6.4, got[0].Metadata["used"])
	})

	t.Run("descending order, range and limit", func(t *testing.T) {
		for i := 0; i < 5; i++ {
			require.NoError(t, b.Save(ctx, Record{
				Timestamp:  base.Add(time.Duration(i) * time.Hour),
				Endpoint:   "db-1",
				MetricType: "disk_usage",
				Value:      float64(i),
			}))
		}

		got, err := b.Query(ctx, Query{Endpoint: "db-1", MetricType: "disk_usage"})
		require.NoError(t, err)
		require.Len(t, got, 5)
		for i := 1; i < len(got); i++ {
			assert.False(t, got[i].Timestamp.After(got[i-1].Timestamp), "not descending at %d", i)
		}
		assert.Equal(t, 4.0, got[0].Value)

		got, err = b.Query(ctx, Query{
			Endpoint: "db-1",
			Start:    base.Add(time.Hour),
			End:      base.Add(3 * time.Hour),
		})
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, 3.0, got[0].Value)
		assert.Equal(t, 1.0, got[2].Value)

		got, err = b.Query(ctx, Query{Endpoint: "db-1", Limit: 2})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, 4.0, got[0].Value)
	})

	t.Run("duplicates are kept", func(t *testing.T) {
		rec := Record{Timestamp: base, Endpoint: "dup", MetricType: "cpu_usage", Value: 1}
		require.NoError(t, b.Save(ctx, rec))
		require.NoError(t, b.Save(ctx, rec))

		got, err := b.Query(ctx, Query{Endpoint: "dup"})
		require.NoError(t, err)
		assert.Len(t, got, 2)
	})

	t.Run("concurrent writers", func(t *testing.T) {
		var wg sync.WaitGroup
		for w := 0; w < 4; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				for i := 0; i < 10; i++ {
					assert.NoError(t, b.Save(ctx, Record{
						Timestamp:  base.Add(time.Duration(i) * time.Second),
						Endpoint:   fmt.Sprintf("writer-%d", w),
						MetricType: "cpu_usage",
						Value:      float64(i),
					}))
				}
			}(w)
		}
		wg.Wait()

		for w := 0; w < 4; w++ {
			got, err := b.Query(ctx, Query{Endpoint: fmt.Sprintf("writer-%d", w)})
			require.NoError(t, err)
			assert.Len(t, got, 10)
		}
	})

	t.Run("list endpoints", func(t *testing.T) {
		names, err := b.ListEndpoints(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{
			"db-1", "dup", "web-1", "writer-0", "writer-1", "writer-2", "writer-3",
		}, names)
	})
}
