// Package cache keeps the most recent poll result per endpoint for read
// handlers. The collection loop is the only writer.
package cache

import (
	"sync"
	"time"

	"github.com/vitalis-app/collector/internal/models"
)

// CycleSummary describes the last completed cycle.
type CycleSummary struct {
	ID             string        `json:"id"`
	StartedAt      time.Time     `json:"started_at"`
	Duration       time.Duration `json:"duration"`
	Endpoints      int           `json:"endpoints"`
	OK             int           `json:"ok"`
	Failed         int           `json:"failed"`
	Disabled       int           `json:"disabled"`
	Alerts         int           `json:"alerts"`
	StorageFailure int           `json:"storage_failures"`
}

// Latest is the last-known state per endpoint.
type Latest struct {
	mu      sync.RWMutex
	results map[string]models.PollResult
	alerts  map[string][]models.Alert
	last    *CycleSummary
}

// NewLatest returns an empty cache.
func NewLatest() *Latest {
	return &Latest{
		results: make(map[string]models.PollResult),
		alerts:  make(map[string][]models.Alert),
	}
}

// Update replaces the cache with the outcome of a cycle. Endpoints absent
// from the cycle are dropped. A disabled endpoint keeps its last sample.
func (l *Latest) Update(cycle *models.CycleResult, storageFailures int) {
	alerts := make(map[string][]models.Alert)
	for _, a := range cycle.Alerts {
		alerts[a.Endpoint] = append(alerts[a.Endpoint], a)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	next := make(map[string]models.PollResult, len(cycle.Results))
	for _, r := range cycle.Results {
		if r.Status == models.PollDisabled && r.Sample == nil {
			if prev, ok := l.results[r.Endpoint]; ok {
				r.Sample = prev.Sample
			}
		}
		next[r.Endpoint] = r
	}
	l.results = next
	l.alerts = alerts

	failed := 0
	for _, r := range cycle.Results {
		if r.Failed() {
			failed++
		}
	}
	l.last = &CycleSummary{
		ID:             cycle.ID,
		StartedAt:      cycle.StartedAt,
		Duration:       cycle.Duration,
		Endpoints:      len(cycle.Results),
		OK:             cycle.Count(models.PollOK),
		Failed:         failed,
		Disabled:       cycle.Count(models.PollDisabled),
		Alerts:         len(cycle.Alerts),
		StorageFailure: storageFailures,
	}
}

// Entry is the cached view of one endpoint.
type Entry struct {
	Result models.PollResult `json:"result"`
	Alerts []models.Alert    `json:"alerts"`
}

// Get returns the cached entry for one endpoint.
func (l *Latest) Get(name string) (Entry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	r, ok := l.results[name]
	if !ok {
		return Entry{}, false
	}
	return Entry{Result: r, Alerts: append([]models.Alert(nil), l.alerts[name]...)}, true
}

// All returns a copy of every cached entry keyed by endpoint name.
func (l *Latest) All() map[string]Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string]Entry, len(l.results))
	for name, r := range l.results {
		out[name] = Entry{Result: r, Alerts: append([]models.Alert(nil), l.alerts[name]...)}
	}
	return out
}

// LastCycle returns the summary of the last completed cycle.
func (l *Latest) LastCycle() (CycleSummary, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.last == nil {
		return CycleSummary{}, false
	}
	return *l.last, true
}
