// Package metrics implements the MetricsCollector and BottleneckDetector
// (spec.md §4.7/§4.6, §6's MetricsStore record shapes). Grounded on
// internal/monitoring/monitor.go's ticker-driven collection loop and
// snapshot model, generalized from a single system snapshot into
// per-kind metric records fed in by every other component.
package metrics

import "time"

// TaskResult is a TaskMetric's outcome (§6).
type TaskResult string

const (
	ResultSuccess TaskResult = "SUCCESS"
	ResultFailure TaskResult = "FAILURE"
	ResultTimeout TaskResult = "TIMEOUT"
	ResultPartial TaskResult = "PARTIAL"
)

// TaskMetric records one task's completion (§6).
type TaskMetric struct {
	TaskID       string                 `json:"task_id"`
	AgentID      string                 `json:"agent_id"`
	DurationMs   int64                  `json:"duration_ms"`
	Result       TaskResult             `json:"result"`
	TokensUsed   int64                  `json:"tokens_used"`
	FilesChanged int                    `json:"files_changed"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	Timestamp    time.Time              `json:"timestamp"`
}

// AgentMetric records a point-in-time agent measurement (§6).
type AgentMetric struct {
	AgentID    string                 `json:"agent_id"`
	MetricType string                 `json:"metric_type"`
	Value      float64                `json:"value"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
}

// SwarmMetric records a point-in-time swarm-level measurement (§6).
type SwarmMetric struct {
	SwarmID    string                 `json:"swarm_id"`
	MetricType string                 `json:"metric_type"`
	Value      float64                `json:"value"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
}

// Filter narrows a Query to a kind, time range, and optionally an agent
// or swarm (§6's "filtered reads by (type, time-range, agent_id?,
// swarm_id?)").
type Filter struct {
	Kind    string
	Since   time.Time
	Until   time.Time
	AgentID string
	SwarmID string
}

// Trend labels a moving-average comparison (§4.6's analyze_performance).
type Trend string

const (
	TrendImproving Trend = "improving"
	TrendDegrading Trend = "degrading"
	TrendStable    Trend = "stable"
)

// PerformanceReport is analyze_performance's result (§4.6).
type PerformanceReport struct {
	WindowMs       int64            `json:"window_ms"`
	MeanDurationMs float64          `json:"mean_duration_ms"`
	Trend          Trend            `json:"trend"`
	ByAgent        map[string]Trend `json:"by_agent,omitempty"`
}
