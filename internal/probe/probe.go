// Package probe gathers local host metrics for the agent. Each Probe reads
// one concern through gopsutil; the Registry runs them concurrently and
// Assemble turns their results into the payload served to the collector.
package probe

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Probe reads one kind of host metric.
type Probe interface {
	// Name returns the unique identifier for this probe.
	Name() string

	// Collect reads the metric. The context bounds the read.
	Collect(ctx context.Context) (interface{}, error)

	// IsAvailable reports whether the probe works on this platform.
	// Unavailable probes are not registered.
	IsAvailable() bool
}

// Registry holds the probes registered at startup.
type Registry struct {
	probes []Probe
	logger *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{logger: logger}
}

// Register adds p if it is available on the current platform.
func (r *Registry) Register(p Probe) {
	if !p.IsAvailable() {
		r.logger.Warn("Probe not available, skipping", zap.String("name", p.Name()))
		return
	}
	r.probes = append(r.probes, p)
	r.logger.Info("Registered probe", zap.String("name", p.Name()))
}

// CollectAll runs every probe concurrently and returns name -> result.
// A failed probe is logged and left out of the map.
func (r *Registry) CollectAll(ctx context.Context) map[string]interface{} {
	results := make(map[string]interface{}, len(r.probes))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, p := range r.probes {
		wg.Add(1)
		go func(p Probe) {
			defer wg.Done()
			data, err := p.Collect(ctx)
			if err != nil {
				r.logger.Error("Probe failed",
					zap.String("probe", p.Name()),
					zap.Error(err))
				return
			}
			mu.Lock()
			results[p.Name()] = data
			mu.Unlock()
		}(p)
	}

	wg.Wait()
	return results
}

// Names returns the registered probe names in registration order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.probes))
	for i, p := range r.probes {
		names[i] = p.Name()
	}
	return names
}

// Default registers the standard probe set.
func Default(diskPath string, suspicious []string, logger *zap.Logger) *Registry {
	r := NewRegistry(logger)
	r.Register(NewCPUProbe())
	r.Register(NewMemoryProbe())
	r.Register(NewDiskProbe(diskPath))
	r.Register(NewLoadProbe())
	r.Register(NewTemperatureProbe(logger))
	r.Register(NewSecurityProbe(suspicious, logger))
	return r
}
