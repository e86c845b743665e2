// Package models defines the data structures shared by the collector, the
// storage backends and the agent. Wire types carry JSON tags because they are
// exchanged with agents and returned by the admin API.
package models

import (
	"time"
)

// Metric types understood by the threshold evaluator and the storage layer.
const (
	MetricCPUUsage       = "cpu_usage"
	MetricCPUTemperature = "cpu_temperature"
	MetricSystemLoad     = "system_load"
	MetricMemoryUsage    = "memory_usage"
	MetricDiskUsage      = "disk_usage"
	MetricSecurity       = "security"

	// Record types written by the collection loop besides the metrics above.
	RecordPollFailure = "poll_failure"
	RecordAlert       = "alert"
)

// ThresholdMetrics lists the metric types that can carry warning/critical
// thresholds, in the order alerts are emitted.
var ThresholdMetrics = []string{
	MetricCPUUsage,
	MetricCPUTemperature,
	MetricSystemLoad,
	MetricMemoryUsage,
	MetricDiskUsage,
}

// Usage is a total/used/percent triple for memory or disk.
type Usage struct {
	Total   float64 `json:"total"`
	Used    float64 `json:"used"`
	Percent float64 `json:"percent"`
}

// MetricSample is one endpoint's metric snapshot from a single successful poll.
// It is never modified after creation.
type MetricSample struct {
	Endpoint              string    `json:"endpoint"`
	CapturedAt            time.Time `json:"captured_at"`
	Hostname              string    `json:"hostname,omitempty"`
	CPUUsagePercent       float64   `json:"cpu_usage_percent"`
	CPUTemperatureCelsius *float64  `json:"cpu_temperature_celsius"`
	Load1                 float64   `json:"load_1"`
	Load5                 float64   `json:"load_5"`
	Load15                float64   `json:"load_15"`
	Memory                Usage     `json:"memory"`
	Disk                  Usage     `json:"disk"`
	SecurityIssues        []string  `json:"security_issues"`
}

// Value returns the scalar value of a threshold metric type. The boolean is
// false when the sample has no value for it (an absent temperature sensor or
// an unknown type).
func (s *MetricSample) Value(metricType string) (float64, bool) {
	switch metricType {
	case MetricCPUUsage:
		return s.CPUUsagePercent, true
	case MetricCPUTemperature:
		if s.CPUTemperatureCelsius == nil {
			return 0, false
		}
		return *s.CPUTemperatureCelsius, true
	case MetricSystemLoad:
		return s.Load1, true
	case MetricMemoryUsage:
		return s.Memory.Percent, true
	case MetricDiskUsage:
		return s.Disk.Percent, true
	case MetricSecurity:
		return float64(len(s.SecurityIssues)), true
	default:
		return 0, false
	}
}

// LoadAverage holds the 1, 5 and 15 minute load averages.
type LoadAverage struct {
	Load1  float64 `json:"load1"`
	Load5  float64 `json:"load5"`
	Load15 float64 `json:"load15"`
}

// MetricsPayload is the typed get_metrics response exchanged with agents.
// Optional fields are pointers so that "not reported" survives decoding.
type MetricsPayload struct {
	Hostname       string      `json:"hostname,omitempty"`
	Timestamp      *time.Time  `json:"timestamp,omitempty"`
	CPUUsage       float64     `json:"cpu_usage"`
	CPUTemperature *float64    `json:"cpu_temperature"`
	Load           LoadAverage `json:"load"`
	Memory         Usage       `json:"memory"`
	Disk           Usage       `json:"disk"`
	SecurityIssues []string    `json:"security_issues"`
}

// ToSample converts a decoded payload into a MetricSample for the endpoint.
// When the agent did not report a timestamp, fallback is used.
func (p *MetricsPayload) ToSample(endpoint string, fallback time.Time) *MetricSample {
	captured := fallback
	if p.Timestamp != nil && !p.Timestamp.IsZero() {
		captured = *p.Timestamp
	}

	var temp *float64
	if p.CPUTemperature != nil {
		v := *p.CPUTemperature
		temp = &v
	}

	issues := make([]string, len(p.SecurityIssues))
	copy(issues, p.SecurityIssues)

	return &MetricSample{
		Endpoint:              endpoint,
		CapturedAt:            captured.UTC(),
		Hostname:              p.Hostname,
		CPUUsagePercent:       p.CPUUsage,
		CPUTemperatureCelsius: temp,
		Load1:                 p.Load.Load1,
		Load5:                 p.Load.Load5,
		Load15:                p.Load.Load15,
		Memory:                p.Memory,
		Disk:                  p.Disk,
		SecurityIssues:        issues,
	}
}
