package probe

import (
	"context"

	"github.com/shirou/gopsutil/v3/mem"

	"github.com/vitalis-app/collector/internal/models"
)

// MemoryProbe reads virtual memory usage in bytes.
type MemoryProbe struct{}

// NewMemoryProbe creates a memory probe.
func NewMemoryProbe() *MemoryProbe {
	return &MemoryProbe{}
}

func (p *MemoryProbe) Name() string { return NameMemory }

func (p *MemoryProbe) Collect(ctx context.Context) (interface{}, error) {
	v, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, err
	}
	return models.Usage{
		Total:   float64(v.Total),
		Used:    float64(v.Used),
		Percent: v.UsedPercent,
	}, nil
}

func (p *MemoryProbe) IsAvailable() bool { return true }
