// Package threshold turns metric samples into alerts by comparing them with
// static warning/critical thresholds. Evaluation is pure: identical inputs
// always produce identical alerts, message text included.
package threshold

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/vitalis-app/collector/internal/config"
	"github.com/vitalis-app/collector/internal/models"
)

// Rule is the warning/critical pair for one metric type.
type Rule struct {
	Warning  float64
	Critical float64
}

// RuleSet maps metric types to their rules. It is read-only once built.
type RuleSet map[string]Rule

// NewRuleSet builds and validates a RuleSet from configuration.
func NewRuleSet(thresholds map[string]config.ThresholdConfig) (RuleSet, error) {
	rules := make(RuleSet, len(thresholds))
	for metric, t := range thresholds {
		rules[metric] = Rule{Warning: t.Warning, Critical: t.Critical}
	}
	if err := rules.Validate(); err != nil {
		return nil, err
	}
	return rules, nil
}

// Validate rejects unknown metric types, negative thresholds and rules whose
// warning tier sits above the critical tier.
func (rs RuleSet) Validate() error {
	known := make(map[string]bool, len(models.ThresholdMetrics))
	for _, m := range models.ThresholdMetrics {
		known[m] = true
	}

	names := make([]string, 0, len(rs))
	for name := range rs {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		r := rs[name]
		if !known[name] {
			return fmt.Errorf("%w: unknown threshold metric %q", config.ErrInvalidConfig, name)
		}
		if r.Warning < 0 || r.Critical < 0 {
			return fmt.Errorf("%w: threshold %q must not be negative", config.ErrInvalidConfig, name)
		}
		if r.Warning > r.Critical {
			return fmt.Errorf("%w: threshold %q warning %v exceeds critical %v",
				config.ErrInvalidConfig, name, r.Warning, r.Critical)
		}
	}
	return nil
}

// Evaluate maps a sample to its alerts. Threshold metrics are checked in
// models.ThresholdMetrics order and yield at most one alert each (critical
// wins over warning). Every security issue then yields one critical alert.
// Metrics the sample does not carry are skipped silently.
func Evaluate(sample *models.MetricSample, rules RuleSet) []models.Alert {
	if sample == nil {
		return nil
	}

	var alerts []models.Alert
	for _, metric := range models.ThresholdMetrics {
		rule, ok := rules[metric]
		if !ok {
			continue
		}
		value, ok := sample.Value(metric)
		if !ok {
			continue
		}

		var (
			severity models.Severity
			limit    float64
		)
		switch {
		case value >= rule.Critical:
			severity, limit = models.SeverityCritical, rule.Critical
		case value >= rule.Warning:
			severity, limit = models.SeverityWarning, rule.Warning
		default:
			continue
		}

		alerts = append(alerts, models.Alert{
			Endpoint:    sample.Endpoint,
			MetricType:  metric,
			Severity:    severity,
			Value:       value,
			Threshold:   limit,
			Message:     thresholdMessage(metric, severity, value, limit),
			GeneratedAt: sample.CapturedAt,
		})
	}

	count := float64(len(sample.SecurityIssues))
	for _, issue := range sample.SecurityIssues {
		alerts = append(alerts, models.Alert{
			Endpoint:    sample.Endpoint,
			MetricType:  models.MetricSecurity,
			Severity:    models.SeverityCritical,
			Value:       count,
			Threshold:   0,
			Message:     "security issue: " + issue,
			GeneratedAt: sample.CapturedAt,
		})
	}

	return alerts
}

var metricLabels = map[string]struct {
	label string
	unit  string
}{
	models.MetricCPUUsage:       {"CPU usage", "%"},
	models.MetricCPUTemperature: {"CPU temperature", "°C"},
	models.MetricSystemLoad:     {"System load", ""},
	models.MetricMemoryUsage:    {"Memory usage", "%"},
	models.MetricDiskUsage:      {"Disk usage", "%"},
}

func thresholdMessage(metric string, severity models.Severity, value, limit float64) string {
	l, ok := metricLabels[metric]
	if !ok {
		l.label = metric
	}
	return fmt.Sprintf("%s %s: %s%s (threshold %s%s)",
		l.label, severity, formatValue(value), l.unit, formatValue(limit), l.unit)
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
