package probe

import (
	"context"
	"runtime"

	"github.com/shirou/gopsutil/v3/load"

	"github.com/vitalis-app/collector/internal/models"
)

// LoadProbe reads the 1, 5 and 15 minute load averages.
type LoadProbe struct{}

// NewLoadProbe creates a load probe.
func NewLoadProbe() *LoadProbe {
	return &LoadProbe{}
}

func (p *LoadProbe) Name() string { return NameLoad }

func (p *LoadProbe) Collect(ctx context.Context) (interface{}, error) {
	avg, err := load.AvgWithContext(ctx)
	if err != nil {
		return nil, err
	}
	return models.LoadAverage{Load1: avg.Load1, Load5: avg.Load5, Load15: avg.Load15}, nil
}

// IsAvailable is false on Windows, which has no load average.
func (p *LoadProbe) IsAvailable() bool { return runtime.GOOS != "windows" }
