// Package healing implements the self-healing layer (spec.md §4.6):
// failure detection, a pluggable strategy registry consulted in
// registration order, and the recovery actions (restart, retry,
// rebalance, quorum recovery, circuit breaker, gradual degradation).
//
// Grounded on internal/autonomous/friction_detector.go's threshold-
// counter idiom (generalized from "user friction events" to failure
// events) and internal/security/errors.go's gobreaker-backed circuit
// breaker map.
package healing

import "time"

// Severity mirrors the scale used across alerts and failures (§3).
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// FailureType classifies a detected failure (§4.6).
type FailureType string

const (
	FailureAgentFailed       FailureType = "agent_failed"
	FailureTaskTimeout       FailureType = "task_timeout"
	FailureResourceExhaustion FailureType = "resource_exhaustion"
	FailureQuorumLoss        FailureType = "quorum_loss"
)

// eventTypeToFailure maps the recognized event types from §4.6 to their
// failure kind. Callers may register additional mappings.
var eventTypeToFailure = map[string]FailureType{
	"heartbeat_failed":    FailureAgentFailed,
	"task_timeout":        FailureTaskTimeout,
	"resource_exhaustion": FailureResourceExhaustion,
	"quorum_loss":         FailureQuorumLoss,
}

// Failure is one detected failure (§3).
type Failure struct {
	FailureID   string                 `json:"failure_id"`
	FailureType FailureType            `json:"failure_type"`
	AgentID     string                 `json:"agent_id,omitempty"`
	Severity    Severity               `json:"severity"`
	DetectedAt  time.Time              `json:"detected_at"`
	Event       map[string]interface{} `json:"event"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// HealingResult is the outcome of a single healing attempt (§3).
type HealingResult struct {
	Success      bool                   `json:"success"`
	FailureID    string                 `json:"failure_id"`
	StrategyUsed string                 `json:"strategy_used"`
	ActionsTaken []string               `json:"actions_taken"`
	DurationMs   int64                  `json:"duration_ms"`
	Timestamp    time.Time              `json:"timestamp"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// TypeStats tracks per-failure-type healing success rate.
type TypeStats struct {
	Attempts int64 `json:"attempts"`
	Successes int64 `json:"successes"`
}

// Stats is the global, atomically-updated healing scoreboard.
type Stats struct {
	Successes     int64                       `json:"successes"`
	Failures      int64                       `json:"failures"`
	AvgDurationMs float64                     `json:"avg_duration_ms"`
	ByType        map[FailureType]TypeStats `json:"by_type"`
}
