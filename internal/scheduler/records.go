package scheduler

import (
	"github.com/vitalis-app/collector/internal/models"
	"github.com/vitalis-app/collector/internal/storage"
)

// Records flattens a cycle into storage records: one per metric of each
// sample, one per failed poll and one per alert.
func Records(cycle *models.CycleResult) []storage.Record {
	var out []storage.Record

	for _, r := range cycle.Results {
		switch {
		case r.Status == models.PollOK && r.Sample != nil:
			out = append(out, sampleRecords(r.Sample)...)
		case r.Failed():
			out = append(out, storage.Record{
				Timestamp:  cycle.StartedAt,
				Endpoint:   r.Endpoint,
				MetricType: models.RecordPollFailure,
				Value:      float64(r.ConsecutiveFailures),
				Metadata: map[string]interface{}{
					"status": string(r.Status),
					"reason": r.Reason,
				},
			})
		}
	}

	for _, a := range cycle.Alerts {
		out = append(out, storage.Record{
			Timestamp:  a.GeneratedAt,
			Endpoint:   a.Endpoint,
			MetricType: models.RecordAlert,
			Value:      a.Value,
			Metadata: map[string]interface{}{
				"metric_type": a.MetricType,
				"severity":    string(a.Severity),
				"threshold":   a.Threshold,
				"message":     a.Message,
			},
		})
	}

	return out
}

func sampleRecords(s *models.MetricSample) []storage.Record {
	rec := func(metric string, value float64, meta map[string]interface{}) storage.Record {
		return storage.Record{
			Timestamp:  s.CapturedAt,
			Endpoint:   s.Endpoint,
			MetricType: metric,
			Value:      value,
			Metadata:   meta,
		}
	}

	out := []storage.Record{
		rec(models.MetricCPUUsage, s.CPUUsagePercent, nil),
	}
	if s.CPUTemperatureCelsius != nil {
		out = append(out, rec(models.MetricCPUTemperature, *s.CPUTemperatureCelsius, nil))
	}

	issues := make([]interface{}, len(s.SecurityIssues))
	for i, issue := range s.SecurityIssues {
		issues[i] = issue
	}

	out = append(out,
		rec(models.MetricSystemLoad, s.Load1, map[string]interface{}{
			"load_5":  s.Load5,
			"load_15": s.Load15,
		}),
		rec(models.MetricMemoryUsage, s.Memory.Percent, map[string]interface{}{
			"total": s.Memory.Total,
			"used":  s.Memory.Used,
		}),
		rec(models.MetricDiskUsage, s.Disk.Percent, map[string]interface{}{
			"total": s.Disk.Total,
			"used":  s.Disk.Used,
		}),
		rec(models.MetricSecurity, float64(len(s.SecurityIssues)), map[string]interface{}{
			"issues": issues,
		}),
	)
	return out
}
