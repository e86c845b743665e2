package probe

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
)

// CPUProbe reads overall CPU utilization in percent.
type CPUProbe struct {
	window time.Duration
}

// NewCPUProbe returns a probe that samples over one second.
func NewCPUProbe() *CPUProbe {
	return &CPUProbe{window: time.Second}
}

func (p *CPUProbe) Name() string { return NameCPU }

// Collect blocks for the sampling window.
func (p *CPUProbe) Collect(ctx context.Context) (interface{}, error) {
	pct, err := cpu.PercentWithContext(ctx, p.window, false)
	if err != nil {
		return nil, err
	}
	if len(pct) == 0 {
		return 0.0, nil
	}
	return pct[0], nil
}

func (p *CPUProbe) IsAvailable() bool { return true }
