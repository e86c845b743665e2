package models

import "time"

// Severity of an alert.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert is derived from a MetricSample and a rule set. Never mutated.
type Alert struct {
	Endpoint    string    `json:"endpoint"`
	MetricType  string    `json:"metric_type"`
	Severity    Severity  `json:"severity"`
	Value       float64   `json:"value"`
	Threshold   float64   `json:"threshold"`
	Message     string    `json:"message"`
	GeneratedAt time.Time `json:"generated_at"`
}

// PollStatus tags the outcome of polling one endpoint.
type PollStatus string

const (
	PollOK                PollStatus = "ok"
	PollDisabled          PollStatus = "disabled"
	PollConnectionFailure PollStatus = "connection_failure"
	PollRemoteFault       PollStatus = "remote_fault"
)

// PollResult is one endpoint's entry in a collection cycle.
type PollResult struct {
	Endpoint            string        `json:"endpoint"`
	Status              PollStatus    `json:"status"`
	Sample              *MetricSample `json:"sample,omitempty"`
	Reason              string        `json:"reason,omitempty"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	Duration            time.Duration `json:"duration"`
}

// Failed reports whether the poll ended in a connection failure or remote fault.
func (r PollResult) Failed() bool {
	return r.Status == PollConnectionFailure || r.Status == PollRemoteFault
}

// CycleResult is the transient outcome of one poll-evaluate-store iteration.
type CycleResult struct {
	ID        string        `json:"id"`
	StartedAt time.Time     `json:"started_at"`
	Results   []PollResult  `json:"results"`
	Alerts    []Alert       `json:"alerts"`
	Duration  time.Duration `json:"duration"`
}

// Count returns how many results have the given status.
func (c *CycleResult) Count(status PollStatus) int {
	n := 0
	for _, r := range c.Results {
		if r.Status == status {
			n++
		}
	}
	return n
}

// Samples returns the samples of all successful polls.
func (c *CycleResult) Samples() []*MetricSample {
	samples := make([]*MetricSample, 0, len(c.Results))
	for _, r := range c.Results {
		if r.Status == PollOK && r.Sample != nil {
			samples = append(samples, r.Sample)
		}
	}
	return samples
}
