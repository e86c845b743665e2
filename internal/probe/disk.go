package probe

import (
	"context"

	"github.com/shirou/gopsutil/v3/disk"

	"github.com/vitalis-app/collector/internal/models"
)

// DiskProbe reads usage of the filesystem holding path.
type DiskProbe struct {
	path string
}

// NewDiskProbe creates a probe for path; an empty path means "/".
func NewDiskProbe(path string) *DiskProbe {
	if path == "" {
		path = "/"
	}
	return &DiskProbe{path: path}
}

func (p *DiskProbe) Name() string { return NameDisk }

func (p *DiskProbe) Collect(ctx context.Context) (interface{}, error) {
	u, err := disk.UsageWithContext(ctx, p.path)
	if err != nil {
		return nil, err
	}
	return models.Usage{
		Total:   float64(u.Total),
		Used:    float64(u.Used),
		Percent: u.UsedPercent,
	}, nil
}

func (p *DiskProbe) IsAvailable() bool { return true }
