// Package scheduler runs the collection loop: poll every endpoint, evaluate
// thresholds, store the results and sleep until the next cycle. The loop
// corrects for drift and survives any single failed cycle.
package scheduler

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vitalis-app/collector/internal/cache"
	"github.com/vitalis-app/collector/internal/models"
	"github.com/vitalis-app/collector/internal/notify"
	"github.com/vitalis-app/collector/internal/storage"
	"github.com/vitalis-app/collector/internal/telemetry"
	"github.com/vitalis-app/collector/internal/threshold"
)

// State is the loop's current phase.
type State int32

const (
	StateIdle State = iota
	StatePolling
	StateEvaluating
	StateStoring
	StateSleeping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePolling:
		return "polling"
	case StateEvaluating:
		return "evaluating"
	case StateStoring:
		return "storing"
	case StateSleeping:
		return "sleeping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Poller runs one pass over all endpoints.
type Poller interface {
	Poll(ctx context.Context) []models.PollResult
}

// Options configures a Loop. Cache, Notifier and Metrics are optional.
type Options struct {
	Interval   time.Duration
	ErrorPause time.Duration

	Cache    *cache.Latest
	Notifier notify.Notifier
	Metrics  *telemetry.Metrics
}

// Loop drives collection cycles.
type Loop struct {
	poller Poller
	rules  threshold.RuleSet
	store  storage.Backend
	opts   Options
	logger *zap.Logger

	state atomic.Int32
}

// New creates a Loop.
func New(poller Poller, rules threshold.RuleSet, store storage.Backend, opts Options, logger *zap.Logger) *Loop {
	if opts.Cache == nil {
		opts.Cache = cache.NewLatest()
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.Nop{}
	}
	if opts.ErrorPause <= 0 {
		opts.ErrorPause = 5 * time.Second
	}
	return &Loop{
		poller: poller,
		rules:  rules,
		store:  store,
		opts:   opts,
		logger: logger,
	}
}

// State returns the current phase.
func (l *Loop) State() State {
	return State(l.state.Load())
}

func (l *Loop) setState(s State) {
	l.state.Store(int32(s))
}

// Cache returns the latest-results cache the loop writes to.
func (l *Loop) Cache() *cache.Latest {
	return l.opts.Cache
}

// Run blocks until ctx is cancelled. Cancellation never interrupts a cycle
// in progress: in-flight fetches run to their own timeout and the loop exits
// before scheduling the next cycle.
func (l *Loop) Run(ctx context.Context) {
	defer l.setState(StateStopped)

	l.logger.Info("Collection loop started",
		zap.Duration("interval", l.opts.Interval))

	for ctx.Err() == nil {
		start := time.Now()

		if _, err := l.RunOnce(context.WithoutCancel(ctx)); err != nil {
			l.logger.Error("Collection cycle failed", zap.Error(err))
			if l.opts.Metrics != nil {
				l.opts.Metrics.LoopError()
			}
			if !l.sleep(ctx, l.opts.ErrorPause) {
				break
			}
			continue
		}

		elapsed := time.Since(start)
		wait := l.opts.Interval - elapsed
		if wait <= 0 {
			l.logger.Warn("Collection cycle exceeded poll interval",
				zap.Duration("elapsed", elapsed),
				zap.Duration("interval", l.opts.Interval))
			if l.opts.Metrics != nil {
				l.opts.Metrics.CycleOverrun()
			}
			continue
		}
		if !l.sleep(ctx, wait) {
			break
		}
	}

	l.logger.Info("Collection loop stopped")
}

// sleep waits for d or until ctx is done. It reports whether the loop should go on.
func (l *Loop) sleep(ctx context.Context, d time.Duration) bool {
	l.setState(StateSleeping)
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// RunOnce executes a single poll-evaluate-store cycle. Per-endpoint and
// storage failures are reported in the result and logs; only unexpected
// errors, including panics, are returned.
func (l *Loop) RunOnce(ctx context.Context) (cycle *models.CycleResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			cycle = nil
			err = fmt.Errorf("cycle panicked: %v", r)
		}
	}()

	start := time.Now()
	cycle = &models.CycleResult{
		ID:        uuid.NewString(),
		StartedAt: start.UTC(),
	}
	logger := l.logger.With(zap.String("cycle", cycle.ID))

	l.setState(StatePolling)
	cycle.Results = l.poller.Poll(ctx)

	l.setState(StateEvaluating)
	for _, sample := range cycle.Samples() {
		cycle.Alerts = append(cycle.Alerts, threshold.Evaluate(sample, l.rules)...)
	}

	l.setState(StateStoring)
	storageFailures := 0
	for _, rec := range Records(cycle) {
		if err := l.store.Save(ctx, rec); err != nil {
			storageFailures++
			if l.opts.Metrics != nil {
				l.opts.Metrics.StorageFailure()
			}
			logger.Error("Failed to store record",
				zap.String("endpoint", rec.Endpoint),
				zap.String("metric_type", rec.MetricType),
				zap.Error(err))
		}
	}

	cycle.Duration = time.Since(start)

	l.opts.Cache.Update(cycle, storageFailures)
	l.reportAlerts(ctx, logger, cycle.Alerts)
	if l.opts.Metrics != nil {
		l.opts.Metrics.ObserveCycle(cycle)
	}

	failed := 0
	for _, r := range cycle.Results {
		if r.Failed() {
			failed++
		}
	}
	logger.Info("Collection cycle complete",
		zap.Int("endpoints", len(cycle.Results)),
		zap.Int("ok", cycle.Count(models.PollOK)),
		zap.Int("failed", failed),
		zap.Int("disabled", cycle.Count(models.PollDisabled)),
		zap.Int("alerts", len(cycle.Alerts)),
		zap.Int("storage_failures", storageFailures),
		zap.Duration("duration", cycle.Duration))

	l.setState(StateIdle)
	return cycle, nil
}

func (l *Loop) reportAlerts(ctx context.Context, logger *zap.Logger, alerts []models.Alert) {
	for _, a := range alerts {
		fields := []zap.Field{
			zap.String("endpoint", a.Endpoint),
			zap.String("metric_type", a.MetricType),
			zap.Float64("value", a.Value),
			zap.Float64("threshold", a.Threshold),
		}
		if a.Severity == models.SeverityCritical {
			logger.Error(a.Message, fields...)
		} else {
			logger.Warn(a.Message, fields...)
		}
	}
	if err := l.opts.Notifier.Publish(ctx, alerts); err != nil {
		logger.Warn("Failed to publish alerts", zap.Error(err))
	}
}
