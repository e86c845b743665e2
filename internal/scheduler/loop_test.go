package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vitalis-app/collector/internal/cache"
	"github.com/vitalis-app/collector/internal/config"
	"github.com/vitalis-app/collector/internal/models"
	"github.com/vitalis-app/collector/internal/poller"
	"github.com/vitalis-app/collector/internal/registry"
	"github.com/vitalis-app/collector/internal/storage"
	"github.com/vitalis-app/collector/internal/telemetry"
	"github.com/vitalis-app/collector/internal/threshold"
	"github.com/vitalis-app/collector/internal/transport"
)

type agentNet struct {
	mu   sync.Mutex
	down map[string]bool
	cpu  map[string]float64
}

func (n *agentNet) Dial(_ context.Context, ep models.Endpoint) (transport.Client, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.down[ep.Name] {
		return nil, errors.New("no route to host")
	}
	return &agentClient{cpu: n.cpu[ep.Name]}, nil
}

type agentClient struct{ cpu float64 }

func (c *agentClient) Ping(context.Context) (string, error) { return transport.PingAck, nil }
func (c *agentClient) Close() error                         { return nil }
func (c *agentClient) GetMetrics(context.Context) (*models.MetricsPayload, error) {
	return &models.MetricsPayload{
		CPUUsage:       c.cpu,
		Memory:         models.Usage{Total: 8, Used: 2, Percent: 25},
		Disk:           models.Usage{Total: 100, Used: 10, Percent: 10},
		SecurityIssues: []string{},
	}, nil
}

func testRules(t *testing.T) threshold.RuleSet {
	t.Helper()
	rules, err := threshold.NewRuleSet(map[string]config.ThresholdConfig{
		models.MetricCPUUsage: {Warning: 80, Critical: 95},
	})
	require.NoError(t, err)
	return rules
}

func TestRunOnce_PartialFailureStillStoresHealthy(t *testing.T) {
	reg, err := registry.Open(&registry.MemoryStore{}, zap.NewNop())
	require.NoError(t, err)
	net := &agentNet{down: map[string]bool{}, cpu: map[string]float64{}}
	for i := 0; i < 5; i++ {
		name := fmt.Sprintf("host-%d", i)
		_, err := reg.Add(name, "10.1.0.1", 9100+i, "")
		require.NoError(t, err)
		net.cpu[name] = 20
	}
	net.down["host-1"] = true
	net.down["host-4"] = true
	net.cpu["host-2"] = 97

	store, err := storage.OpenLog(config.LogConfig{Dir: t.TempDir()}, zap.NewNop())
	require.NoError(t, err)
	defer store.Close()

	p := poller.New(reg, net, poller.Options{Timeout: time.Second}, zap.NewNop())
	metrics := telemetry.New()
	latest := cache.NewLatest()
	loop := New(p, testRules(t), store, Options{Interval: time.Minute, Cache: latest, Metrics: metrics}, zap.NewNop())

	cycle, err := loop.RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, cycle.Results, 5)
	assert.Equal(t, 3, cycle.Count(models.PollOK))
	assert.Equal(t, 2, cycle.Count(models.PollConnectionFailure))
	assert.NotEmpty(t, cycle.ID)

	require.Len(t, cycle.Alerts, 1)
	assert.Equal(t, "host-2", cycle.Alerts[0].Endpoint)
	assert.Equal(t, models.SeverityCritical, cycle.Alerts[0].Severity)
	assert.Equal(t, 97.0, cycle.Alerts[0].Value)
	assert.Equal(t, 95.0, cycle.Alerts[0].Threshold)

	ctx := context.Background()
	for _, name := range []string{"host-0", "host-2", "host-3"} {
		recs, err := store.Query(ctx, storage.Query{Endpoint: name, MetricType: models.MetricCPUUsage})
		require.NoError(t, err)
		assert.Len(t, recs, 1, name)
	}
	for _, name := range []string{"host-1", "host-4"} {
		recs, err := store.Query(ctx, storage.Query{Endpoint: name, MetricType: models.RecordPollFailure})
		require.NoError(t, err)
		require.Len(t, recs, 1, name)
		assert.Equal(t, 1.0, recs[0].Value)
		assert.Equal(t, string(models.PollConnectionFailure), recs[0].Metadata["status"])
	}
	alerts, err := store.Query(ctx, storage.Query{Endpoint: "host-2", MetricType: models.RecordAlert})
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "critical", alerts[0].Metadata["severity"])

	sum, ok := latest.LastCycle()
	require.True(t, ok)
	assert.Equal(t, 3, sum.OK)
	assert.Equal(t, StateIdle, loop.State())
}

type fakePoller struct {
	calls   atomic.Int32
	delay   time.Duration
	panicOn int32
	results []models.PollResult
	ctxErrs atomic.Int32
}

func (p *fakePoller) Poll(ctx context.Context) []models.PollResult {
	n := p.calls.Add(1)
	if n == p.panicOn {
		panic("poller exploded")
	}
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	if ctx.Err() != nil {
		p.ctxErrs.Add(1)
	}
	return p.results
}

type failingStore struct {
	storage.Backend
	saves atomic.Int32
}

func (s *failingStore) Save(context.Context, storage.Record) error {
	s.saves.Add(1)
	return errors.New("disk on fire")
}

func TestRunOnce_StorageFailureDoesNotAbortCycle(t *testing.T) {
	sample := &models.MetricSample{Endpoint: "a", CPUUsagePercent: 99, CapturedAt: time.Now().UTC()}
	p := &fakePoller{results: []models.PollResult{{Endpoint: "a", Status: models.PollOK, Sample: sample}}}
	store := &failingStore{}
	latest := cache.NewLatest()

	loop := New(p, testRules(t), store, Options{Interval: time.Minute, Cache: latest}, zap.NewNop())
	cycle, err := loop.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Len(t, cycle.Alerts, 1)

	// Every record was attempted: 5 metrics (no temperature) plus 1 alert.
	assert.Equal(t, int32(6), store.saves.Load())
	sum, _ := latest.LastCycle()
	assert.Equal(t, 6, sum.StorageFailure)
}

func TestRunOnce_RecoversPanic(t *testing.T) {
	p := &fakePoller{panicOn: 1}
	loop := New(p, testRules(t), &failingStore{}, Options{Interval: time.Minute}, zap.NewNop())

	_, err := loop.RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "poller exploded")
}

func TestRun_ContinuesAfterFailedCycle(t *testing.T) {
	p := &fakePoller{panicOn: 1}
	loop := New(p, testRules(t), &failingStore{}, Options{
		Interval:   10 * time.Millisecond,
		ErrorPause: 10 * time.Millisecond,
	}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		loop.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return p.calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-done
	assert.Equal(t, StateStopped, loop.State())
}

func TestRun_StopLetsInFlightCycleFinish(t *testing.T) {
	p := &fakePoller{delay: 150 * time.Millisecond}
	loop := New(p, testRules(t), &failingStore{}, Options{Interval: time.Hour}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		loop.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return loop.State() == StatePolling }, time.Second, time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop")
	}
	assert.Equal(t, int32(1), p.calls.Load(), "no new cycle after stop")
	assert.Equal(t, int32(0), p.ctxErrs.Load(), "in-flight cycle was not cancelled")
}

func TestRun_OverrunStartsNextCycleImmediately(t *testing.T) {
	p := &fakePoller{delay: 30 * time.Millisecond}
	loop := New(p, testRules(t), &failingStore{}, Options{Interval: 10 * time.Millisecond}, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	loop.Run(ctx)

	assert.GreaterOrEqual(t, p.calls.Load(), int32(4))
}

func TestRecords(t *testing.T) {
	temp := 71.0
	captured := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	started := captured.Add(time.Second)
	cycle := &models.CycleResult{
		StartedAt: started,
		Results: []models.PollResult{
			{Endpoint: "a", Status: models.PollOK, Sample: &models.MetricSample{
				Endpoint:              "a",
				CapturedAt:            captured,
				CPUUsagePercent:       10,
				CPUTemperatureCelsius: &temp,
				Load1:                 1, Load5: 2, Load15: 3,
				SecurityIssues: []string{"x"},
			}},
			{Endpoint: "b", Status: models.PollRemoteFault, Reason: "timeout", ConsecutiveFailures: 3},
			{Endpoint: "c", Status: models.PollDisabled},
		},
		Alerts: []models.Alert{{Endpoint: "a", MetricType: models.MetricSecurity, Severity: models.SeverityCritical, Value: 1, GeneratedAt: captured}},
	}

	recs := Records(cycle)
	byType := map[string]storage.Record{}
	for _, r := range recs {
		byType[r.Endpoint+"/"+r.MetricType] = r
	}
	assert.Len(t, recs, 8)

	assert.Equal(t, 71.0, byType["a/cpu_temperature"].Value)
	assert.Equal(t, 2.0, byType["a/system_load"].Metadata["load_5"])
	assert.Equal(t, 1.0, byType["a/security"].Value)
	assert.Equal(t, captured, byType["a/cpu_usage"].Timestamp)

	fail := byType["b/poll_failure"]
	assert.Equal(t, 3.0, fail.Value)
	assert.Equal(t, started, fail.Timestamp)
	assert.Equal(t, "timeout", fail.Metadata["reason"])

	_, ok := byType["c/poll_failure"]
	assert.False(t, ok)
	assert.Equal(t, "critical", byType["a/alert"].Metadata["severity"])
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "sleeping", StateSleeping.String())
	assert.Equal(t, "unknown", State(42).String())
}
