// Package consensus drives a voting protocol against a swarm's
// registered agents and returns a decision within a deadline (spec.md
// §4.3).
//
// Grounded on internal/autonomous/hive_coordinator.go's
// SwarmCoordination.ConsensusModel field and DecisionRecord shape
// (timestamp + rationale + outcome), generalized from a single fixed
// majority rule into the three pluggable algorithms below.
package consensus

import "time"

// Choice is a single agent's vote.
type Choice string

const (
	ChoiceFor     Choice = "FOR"
	ChoiceAgainst Choice = "AGAINST"
	ChoiceAbstain Choice = "ABSTAIN"
)

// Decision is the outcome of a consensus round.
type Decision string

const (
	DecisionApproved Decision = "APPROVED"
	DecisionRejected Decision = "REJECTED"
	DecisionTimeout  Decision = "TIMEOUT"
)

// Vote is one agent's immutable ballot. A proposal accepts at most one
// vote per AgentID (per Round, for the multi-round Byzantine protocol).
type Vote struct {
	AgentID   string                 `json:"agent_id"`
	Choice    Choice                 `json:"choice"`
	Weight    float64                `json:"weight"`
	Round     int                    `json:"round"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Proposal is a consensus request's durable record.
type Proposal struct {
	ProposalID   string                 `json:"proposal_id"`
	Payload      map[string]interface{} `json:"payload"`
	Participants []string               `json:"participants"`
	Algorithm    string                 `json:"algorithm"`
	CreatedAt    time.Time              `json:"created_at"`
	Deadline     time.Time              `json:"deadline"`
}

// Result is what RequestConsensus returns (§4.3 step 7).
type Result struct {
	ProposalID    string                 `json:"proposal_id"`
	Decision      Decision               `json:"decision"`
	VotesFor      int                    `json:"votes_for"`
	VotesAgainst  int                    `json:"votes_against"`
	VotesAbstain  int                    `json:"votes_abstain"`
	Threshold     float64                `json:"threshold"`
	Participants  []string               `json:"participants"`
	AlgorithmUsed string                 `json:"algorithm_used"`
	DurationMs    int64                  `json:"duration_ms"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// Options configures a single RequestConsensus call. Zero values fall
// back to the manager's configured defaults.
type Options struct {
	Algorithm    string               `validate:"omitempty,oneof=quorum weighted byzantine"` // "" defers to the manager default
	TimeoutMs    int64                `validate:"gte=0"`
	Participants []string             // overrides the live topology snapshot
	Weights      map[string]float64   // weighted algorithm only
	ByzantineF   int                  `validate:"gte=0"` // fault-tolerance parameter f
	// ByzantineRounds supplies pre-collected per-round votes: each inner
	// slice is one round's ballots. Required for the byzantine algorithm
	// because this kernel does not simulate a live multi-round network
	// exchange; the manager rejects byzantine requests where this is
	// absent or incomplete rather than fabricate rounds from the final
	// tally (DESIGN.md Open Question Decision #3).
	ByzantineRounds [][]Vote
}
