// Package health implements the heartbeat monitor (spec.md §4.5): per-
// agent state tracking (HEALTHY/DEGRADED/CRITICAL/FAILED) driven by a
// background daemon, with alerts fired exactly once per transition.
//
// Grounded on internal/monitoring/monitor.go's periodic-check ticker
// loop and running/mutex guard, generalized from a single system-wide
// snapshot into per-agent state records.
package health

import "time"

// State is the heartbeat state machine's value set (§4.5).
type State string

const (
	StateHealthy  State = "HEALTHY"
	StateDegraded State = "DEGRADED"
	StateCritical State = "CRITICAL"
	StateFailed   State = "FAILED"
	// StateUnknown is available for deployments that want to
	// distinguish "never reported" from "reported healthy"; see
	// DESIGN.md Open Question Decision #2.
	StateUnknown State = "UNKNOWN"
)

// HistoryEntry is one recorded heartbeat or state transition.
type HistoryEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	State     State                  `json:"state"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Record is the per-agent heartbeat ledger (§3's HealthRecord).
type Record struct {
	AgentID          string         `json:"agent_id"`
	IntervalMs       int64          `json:"interval_ms"`
	FailureThreshold int            `json:"failure_threshold"`
	LastHeartbeat    time.Time      `json:"last_heartbeat"`
	LastState        State          `json:"last_state"`
	History          []HistoryEntry `json:"history"`
}

// AlertFunc is invoked exactly once per transition into DEGRADED,
// CRITICAL, or FAILED.
type AlertFunc func(agentID string, state State, elapsed time.Duration)
