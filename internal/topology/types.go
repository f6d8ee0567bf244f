// Package topology maintains the logical agent graph (mesh, star, ring,
// hierarchical), routes point-to-point and broadcast messages, and
// exposes the adaptive mode switching described in spec.md §4.1.
//
// Grounded on internal/rnd/coordinator/coordinator.go (agent map, locking
// idiom, worker lifecycle) and internal/websocket/hub.go (register/
// unregister/broadcast channel shape), generalized from a single flat
// agent pool into topology-mode-aware edge maintenance.
package topology

import (
	"sort"
	"time"
)

// Mode selects the edge rule used to connect the current agent set.
type Mode string

const (
	ModeMesh         Mode = "mesh"
	ModeStar         Mode = "star"
	ModeRing         Mode = "ring"
	ModeHierarchical Mode = "hierarchical"
)

// Agent is owned exclusively by the Coordinator. Created on register,
// destroyed on unregister.
type Agent struct {
	AgentID      string                 `json:"agent_id"`
	AgentType    string                 `json:"agent_type"`
	Capabilities map[string]struct{}    `json:"-"`
	Metadata     map[string]interface{} `json:"metadata"`
	RegisteredAt time.Time              `json:"registered_at"`

	// Hierarchical-mode placement.
	ParentID string `json:"parent_id,omitempty"`
	Layer    int    `json:"layer,omitempty"`

	// Runtime status, reported via GetAgentStatus.
	State          string    `json:"state"`
	LastHeartbeat  time.Time `json:"last_heartbeat"`
	CurrentTaskID  string    `json:"current_task_id,omitempty"`
}

// CapabilitySlice returns the agent's capabilities as a sorted slice,
// convenient for JSON/CLI rendering.
func (a *Agent) CapabilitySlice() []string {
	out := make([]string, 0, len(a.Capabilities))
	for c := range a.Capabilities {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// AgentStatus is the read-only projection returned by GetAgentStatus.
type AgentStatus struct {
	AgentID       string                 `json:"agent_id"`
	State         string                 `json:"state"`
	LastHeartbeat time.Time              `json:"last_heartbeat"`
	CurrentTaskID string                 `json:"current_task_id,omitempty"`
	Metadata      map[string]interface{} `json:"metadata"`
}

// Info is the read-only snapshot returned by GetTopologyInfo.
type Info struct {
	Mode       Mode    `json:"type"`
	AgentCount int     `json:"agent_count"`
	EdgeCount  int     `json:"edge_count"`
	Health     float64 `json:"health"` // fraction of agents in a HEALTHY-equivalent state
}

// Envelope is the process-internal message shape (§6): every routed
// message regardless of transport.
type Envelope struct {
	Type          string                 `json:"type"`
	FromAgent     string                 `json:"from_agent"`
	ToAgent       string                 `json:"to_agent,omitempty"`
	Payload       map[string]interface{} `json:"payload"`
	CorrelationID string                 `json:"correlation_id,omitempty"`
	Timestamp     time.Time              `json:"timestamp"`
}

// Recognized envelope Type values (callers may pass any other string
// through verbatim).
const (
	MsgHeartbeat       = "heartbeat"
	MsgConsensusReq    = "consensus_request"
	MsgConsensusVote   = "consensus_vote"
	MsgStateQuery      = "state_query"
	MsgStateUpdate     = "state_update"
	MsgTaskAssignment  = "task_assignment"
)

// RegisterOptions carries the optional placement data required in
// hierarchical mode.
type RegisterOptions struct {
	Metadata map[string]interface{}
	ParentID string
	Layer    int
}
