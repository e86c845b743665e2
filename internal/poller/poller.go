// Package poller runs one collection pass across every registered endpoint
// with bounded concurrency. Per-endpoint failures are returned as data and
// never abort the pass.
package poller

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/vitalis-app/collector/internal/endpoint"
	"github.com/vitalis-app/collector/internal/models"
	"github.com/vitalis-app/collector/internal/transport"
)

// DefaultMaxConcurrency caps in-flight fetches when no limit is configured.
const DefaultMaxConcurrency = 10

// Source supplies the endpoint snapshot at the start of each pass.
type Source interface {
	List() []models.Endpoint
}

// Options configures a Poller.
type Options struct {
	// Timeout bounds each fetch.
	Timeout time.Duration
	// Grace is how long past Timeout the poller waits before giving up on a task.
	Grace time.Duration
	// MaxConcurrency caps in-flight fetches; zero means min(endpoints, DefaultMaxConcurrency).
	MaxConcurrency int
}

// Poller owns one Connection per endpoint across passes.
type Poller struct {
	source Source
	dialer transport.Dialer
	opts   Options
	logger *zap.Logger

	mu    sync.Mutex
	conns map[string]*endpoint.Connection
}

// New creates a Poller.
func New(source Source, dialer transport.Dialer, opts Options, logger *zap.Logger) *Poller {
	return &Poller{
		source: source,
		dialer: dialer,
		opts:   opts,
		logger: logger,
		conns:  make(map[string]*endpoint.Connection),
	}
}

// Poll fetches every enabled endpoint once and returns one result per
// endpoint in the snapshot. Disabled endpoints are reported without any
// network call. Poll never blocks longer than Timeout+Grace past the last
// task start.
func (p *Poller) Poll(ctx context.Context) []models.PollResult {
	snapshot := p.source.List()
	conns := p.sync(snapshot)

	results := make([]models.PollResult, len(snapshot))
	enabled := 0
	for i, ep := range snapshot {
		if !ep.Enabled {
			results[i] = models.PollResult{Endpoint: ep.Name, Status: models.PollDisabled}
			continue
		}
		enabled++
	}
	if enabled == 0 {
		return results
	}

	limit := p.opts.MaxConcurrency
	if limit <= 0 {
		limit = min(enabled, DefaultMaxConcurrency)
	}
	sem := semaphore.NewWeighted(int64(limit))

	var wg sync.WaitGroup
	for i, ep := range snapshot {
		if !ep.Enabled {
			continue
		}
		conn := conns[ep.Name]

		if err := sem.Acquire(ctx, 1); err != nil {
			results[i] = models.PollResult{
				Endpoint:            ep.Name,
				Status:              models.PollRemoteFault,
				Reason:              "cancelled before dispatch",
				ConsecutiveFailures: conn.ConsecutiveFailures(),
			}
			continue
		}

		wg.Add(1)
		go func(i int, conn *endpoint.Connection) {
			defer wg.Done()
			defer sem.Release(1)
			results[i] = p.pollOne(ctx, conn)
		}(i, conn)
	}
	wg.Wait()

	return results
}

// pollOne runs a single fetch and waits at most Timeout+Grace for it. A task
// that overruns keeps running in the background; the Connection rejects any
// new fetch until it returns.
func (p *Poller) pollOne(ctx context.Context, conn *endpoint.Connection) models.PollResult {
	name := conn.Endpoint().Name
	start := time.Now()

	type outcome struct {
		sample *models.MetricSample
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		sample, err := conn.Fetch(ctx)
		done <- outcome{sample, err}
	}()

	timer := time.NewTimer(p.opts.Timeout + p.opts.Grace)
	defer timer.Stop()

	select {
	case out := <-done:
		res := models.PollResult{
			Endpoint:            name,
			Sample:              out.sample,
			ConsecutiveFailures: conn.ConsecutiveFailures(),
			Duration:            time.Since(start),
		}
		if out.err == nil {
			res.Status = models.PollOK
			return res
		}
		res.Status = models.PollRemoteFault
		if errors.Is(out.err, endpoint.ErrConnectionFailure) {
			res.Status = models.PollConnectionFailure
		}
		res.Reason = out.err.Error()
		var ferr *endpoint.FetchError
		if errors.As(out.err, &ferr) {
			res.Reason = ferr.Reason()
		}
		p.logger.Warn("Poll failed",
			zap.String("endpoint", name),
			zap.String("status", string(res.Status)),
			zap.String("reason", res.Reason),
			zap.Int("consecutive_failures", res.ConsecutiveFailures))
		return res
	case <-timer.C:
		p.logger.Warn("Poll overran timeout",
			zap.String("endpoint", name),
			zap.Duration("waited", time.Since(start)))
		// The fetch has not recorded its failure yet.
		return models.PollResult{
			Endpoint:            name,
			Status:              models.PollRemoteFault,
			Reason:              endpoint.DetailTimeout,
			ConsecutiveFailures: conn.ConsecutiveFailures() + 1,
			Duration:            time.Since(start),
		}
	}
}

// sync reconciles the connection set with the snapshot: removed endpoints
// are closed and endpoints whose address or protocol changed get a fresh
// Connection.
func (p *Poller) sync(snapshot []models.Endpoint) map[string]*endpoint.Connection {
	p.mu.Lock()
	defer p.mu.Unlock()

	seen := make(map[string]bool, len(snapshot))
	for _, ep := range snapshot {
		seen[ep.Name] = true
		if conn, ok := p.conns[ep.Name]; ok {
			old := conn.Endpoint()
			if old.Host == ep.Host && old.Port == ep.Port && old.Protocol == ep.Protocol {
				continue
			}
			_ = conn.Close()
		}
		p.conns[ep.Name] = endpoint.NewConnection(ep, p.dialer, p.opts.Timeout)
	}
	for name, conn := range p.conns {
		if !seen[name] {
			_ = conn.Close()
			delete(p.conns, name)
		}
	}

	out := make(map[string]*endpoint.Connection, len(p.conns))
	for name, conn := range p.conns {
		out[name] = conn
	}
	return out
}

// States returns the connection state of every endpoint seen by the last pass.
func (p *Poller) States() map[string]models.ConnectionState {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]models.ConnectionState, len(p.conns))
	for name, conn := range p.conns {
		out[name] = conn.State()
	}
	return out
}

// Close releases every transport handle.
func (p *Poller) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for name, conn := range p.conns {
		_ = conn.Close()
		delete(p.conns, name)
	}
	return nil
}
