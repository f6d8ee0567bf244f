package consensus

import (
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/moai-flow/swarm-kernel/internal/swarmerrors"
	"github.com/moai-flow/swarm-kernel/internal/topology"
)

// validate checks inbound Options against the field constraints in
// types.go before a proposal is ever opened, the same validator used to
// check internal/config's loaded Config.
var validate = validator.New()

// Config tunes a Manager's defaults.
type Config struct {
	DefaultAlgorithm string
	Threshold        float64
	DefaultTimeout   time.Duration
	HistorySize      int
}

// activeProposal tracks in-flight vote collection for one proposal.
// notifyCh receives a value (non-blocking) each time a vote arrives, so
// the waiting RequestConsensus call can re-check decidability without
// polling.
type activeProposal struct {
	mu       sync.Mutex
	proposal Proposal
	votes    map[string]Vote
	notifyCh chan struct{}
}

// Manager drives consensus rounds against the live topology
// (spec.md §4.3). Grounded on internal/autonomous/hive_coordinator.go's
// DecisionRecord ring for the bounded history.
type Manager struct {
	cfg    Config
	router topology.Router
	logger *logrus.Logger

	mu       sync.Mutex
	active   map[string]*activeProposal
	history  []Result
}

// NewManager builds a Manager bound to router.
func NewManager(cfg Config, router topology.Router, logger *logrus.Logger) *Manager {
	return &Manager{
		cfg:     cfg,
		router:  router,
		logger:  logger,
		active:  make(map[string]*activeProposal),
		history: make([]Result, 0, cfg.HistorySize),
	}
}

// RequestConsensus implements the protocol in §4.3 steps 1-7.
func (m *Manager) RequestConsensus(payload map[string]interface{}, opts Options) (*Result, error) {
	if err := validate.Struct(opts); err != nil {
		return nil, swarmerrors.NewInvalidArgument("invalid_options", err.Error())
	}

	algorithm := opts.Algorithm
	if algorithm == "" {
		algorithm = m.cfg.DefaultAlgorithm
	}
	threshold := m.cfg.Threshold
	timeout := m.cfg.DefaultTimeout
	if opts.TimeoutMs > 0 {
		timeout = time.Duration(opts.TimeoutMs) * time.Millisecond
	}

	participants := opts.Participants
	if participants == nil {
		participants = m.router.Participants()
	}

	proposalID := uuid.NewString()
	start := time.Now()

	if len(participants) == 0 {
		res := &Result{
			ProposalID:    proposalID,
			Decision:      DecisionRejected,
			Participants:  participants,
			AlgorithmUsed: algorithm,
			Threshold:     threshold,
			DurationMs:    0,
			Metadata:      map[string]interface{}{"error": "no_agents"},
		}
		m.recordHistory(*res)
		return res, nil
	}

	switch algorithm {
	case "byzantine":
		return m.decideByzantineRequest(proposalID, payload, participants, opts, start)
	case "quorum", "weighted":
		return m.decideSingleRound(proposalID, payload, participants, algorithm, threshold, timeout, opts, start)
	default:
		return nil, swarmerrors.NewInvalidArgument("unknown_algorithm", fmt.Sprintf("unknown consensus algorithm %q", algorithm))
	}
}

func (m *Manager) decideSingleRound(proposalID string, payload map[string]interface{}, participants []string, algorithm string, threshold float64, timeout time.Duration, opts Options, start time.Time) (*Result, error) {
	deadline := start.Add(timeout)
	ap := &activeProposal{
		proposal: Proposal{
			ProposalID:   proposalID,
			Payload:      payload,
			Participants: participants,
			Algorithm:    algorithm,
			CreatedAt:    start,
			Deadline:     deadline,
		},
		votes:    make(map[string]Vote),
		notifyCh: make(chan struct{}, 1),
	}

	m.mu.Lock()
	m.active[proposalID] = ap
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.active, proposalID)
		m.mu.Unlock()
	}()

	n, err := m.router.Notify(topology.MsgConsensusReq, map[string]interface{}{
		"proposal_id": proposalID,
		"payload":     payload,
	}, participants)
	if err != nil || n == 0 {
		res := &Result{
			ProposalID:    proposalID,
			Decision:      DecisionRejected,
			Participants:  participants,
			AlgorithmUsed: algorithm,
			Threshold:     threshold,
			Metadata:      map[string]interface{}{"error": "broadcast_failed"},
		}
		m.recordHistory(*res)
		return res, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	deadlineHit := false
waitLoop:
	for {
		ap.mu.Lock()
		allVoted := len(ap.votes) >= len(participants)
		ap.mu.Unlock()
		if allVoted {
			break
		}
		select {
		case <-ap.notifyCh:
			continue
		case <-timer.C:
			deadlineHit = true
			break waitLoop
		}
	}

	ap.mu.Lock()
	votesCopy := make(map[string]Vote, len(ap.votes))
	for k, v := range ap.votes {
		votesCopy[k] = v
	}
	ap.mu.Unlock()

	t := tallyVotes(votesCopy)
	var decision Decision
	var meta map[string]interface{}
	if algorithm == "weighted" {
		decision, meta = decideWeighted(t, participants, opts.Weights, threshold)
	} else {
		decision, meta = decideQuorum(t, len(participants), threshold, deadlineHit)
	}

	res := &Result{
		ProposalID:    proposalID,
		Decision:      decision,
		VotesFor:      t.votesFor,
		VotesAgainst:  t.votesAgainst,
		VotesAbstain:  t.votesAbstain,
		Threshold:     threshold,
		Participants:  participants,
		AlgorithmUsed: algorithm,
		DurationMs:    time.Since(start).Milliseconds(),
		Metadata:      meta,
	}
	m.recordHistory(*res)
	return res, nil
}

// SubmitVote records a vote against an in-flight proposal. Duplicate
// votes from the same agent are dropped with a warning log. Late votes
// (after the proposal's deadline) are ignored.
func (m *Manager) SubmitVote(proposalID string, vote Vote) error {
	m.mu.Lock()
	ap, ok := m.active[proposalID]
	m.mu.Unlock()
	if !ok {
		return swarmerrors.NewInvalidArgument("unknown_proposal", fmt.Sprintf("proposal %q is not active", proposalID))
	}

	ap.mu.Lock()
	defer ap.mu.Unlock()

	if time.Now().After(ap.proposal.Deadline) {
		m.logger.WithField("proposal_id", proposalID).Warn("late vote ignored")
		return nil
	}
	if _, dup := ap.votes[vote.AgentID]; dup {
		m.logger.WithFields(logrus.Fields{"proposal_id": proposalID, "agent_id": vote.AgentID}).Warn("duplicate vote dropped")
		return nil
	}
	if vote.Timestamp.IsZero() {
		vote.Timestamp = time.Now()
	}
	ap.votes[vote.AgentID] = vote
	select {
	case ap.notifyCh <- struct{}{}:
	default:
	}
	return nil
}

func (m *Manager) decideByzantineRequest(proposalID string, payload map[string]interface{}, participants []string, opts Options, start time.Time) (*Result, error) {
	if opts.ByzantineF <= 0 {
		return nil, swarmerrors.NewInvalidArgument("missing_f", "byzantine consensus requires ByzantineF > 0")
	}

	n, notifyErr := m.router.Notify(topology.MsgConsensusReq, map[string]interface{}{
		"proposal_id": proposalID,
		"payload":     payload,
	}, participants)
	if notifyErr != nil || n == 0 {
		res := &Result{
			ProposalID:    proposalID,
			Decision:      DecisionRejected,
			Participants:  participants,
			AlgorithmUsed: "byzantine",
			Metadata:      map[string]interface{}{"error": "broadcast_failed"},
		}
		m.recordHistory(*res)
		return res, nil
	}

	outcome, err := decideByzantine(participants, opts.ByzantineRounds, opts.ByzantineF)
	if err != nil {
		return nil, err
	}

	res := &Result{
		ProposalID:    proposalID,
		Decision:      outcome.decision,
		VotesFor:      outcome.honestFor,
		Participants:  participants,
		AlgorithmUsed: "byzantine",
		DurationMs:    time.Since(start).Milliseconds(),
		Metadata:      outcome.metadata,
	}
	m.recordHistory(*res)
	return res, nil
}

func (m *Manager) recordHistory(res Result) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, res)
	if len(m.history) > m.cfg.HistorySize {
		m.history = m.history[len(m.history)-m.cfg.HistorySize:]
	}
}

// History returns a copy of the bounded decision history.
func (m *Manager) History() []Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Result, len(m.history))
	copy(out, m.history)
	return out
}
