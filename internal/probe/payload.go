package probe

import (
	"time"

	"github.com/vitalis-app/collector/internal/models"
)

// Probe names, also the keys of CollectAll results.
const (
	NameCPU         = "cpu"
	NameMemory      = "memory"
	NameDisk        = "disk"
	NameLoad        = "load"
	NameTemperature = "temperature"
	NameSecurity    = "security"
)

// Assemble maps probe results into the payload served to the collector.
// Missing or failed probes leave their fields at the zero value; a missing
// temperature stays nil.
func Assemble(results map[string]interface{}, hostname string, now time.Time) models.MetricsPayload {
	ts := now.UTC()
	payload := models.MetricsPayload{
		Hostname:       hostname,
		Timestamp:      &ts,
		SecurityIssues: []string{},
	}

	if v, ok := results[NameCPU].(float64); ok {
		payload.CPUUsage = v
	}
	if v, ok := results[NameTemperature].(*float64); ok && v != nil {
		t := *v
		payload.CPUTemperature = &t
	}
	if v, ok := results[NameLoad].(models.LoadAverage); ok {
		payload.Load = v
	}
	if v, ok := results[NameMemory].(models.Usage); ok {
		payload.Memory = v
	}
	if v, ok := results[NameDisk].(models.Usage); ok {
		payload.Disk = v
	}
	if v, ok := results[NameSecurity].([]string); ok {
		payload.SecurityIssues = append(payload.SecurityIssues, v...)
	}

	return payload
}
