package consensus

import (
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moai-flow/swarm-kernel/internal/swarmerrors"
	"github.com/moai-flow/swarm-kernel/internal/topology"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func testConfig() Config {
	return Config{
		DefaultAlgorithm: "quorum",
		Threshold:        0.5,
		DefaultTimeout:   200 * time.Millisecond,
		HistorySize:      50,
	}
}

func newMeshCoordinator(t *testing.T, agentIDs ...string) *topology.Coordinator {
	t.Helper()
	c := topology.NewCoordinator(topology.ModeMesh, false, testLogger())
	for _, id := range agentIDs {
		_, err := c.RegisterAgent(id, "worker", nil, topology.RegisterOptions{})
		require.NoError(t, err)
	}
	return c
}

// TestQuorumAccept is scenario 1 from spec.md §8.
func TestQuorumAccept(t *testing.T) {
	coord := newMeshCoordinator(t, "a1", "a2", "a3")
	mgr := NewManager(testConfig(), coord, testLogger())

	var result *Result
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r, err := mgr.RequestConsensus(map[string]interface{}{"id": "p1"}, Options{Algorithm: "quorum", TimeoutMs: 300})
		require.NoError(t, err)
		result = r
	}()

	// Give RequestConsensus time to register the active proposal, then
	// read its id from the manager's active map (the id is unknown to the
	// test; only this one proposal is active).
	time.Sleep(20 * time.Millisecond)
	var proposalID string
	mgr.mu.Lock()
	for id := range mgr.active {
		proposalID = id
	}
	mgr.mu.Unlock()
	require.NotEmpty(t, proposalID)

	require.NoError(t, mgr.SubmitVote(proposalID, Vote{AgentID: "a1", Choice: ChoiceFor, Weight: 1}))
	require.NoError(t, mgr.SubmitVote(proposalID, Vote{AgentID: "a2", Choice: ChoiceFor, Weight: 1}))
	require.NoError(t, mgr.SubmitVote(proposalID, Vote{AgentID: "a3", Choice: ChoiceAgainst, Weight: 1}))

	wg.Wait()
	require.NotNil(t, result)
	assert.Equal(t, DecisionApproved, result.Decision)
	assert.Equal(t, 2, result.VotesFor)
	assert.Equal(t, 1, result.VotesAgainst)
}

// TestWeightedReject is scenario 2 from spec.md §8.
func TestWeightedReject(t *testing.T) {
	coord := newMeshCoordinator(t, "a1", "a2", "a3")
	cfg := testConfig()
	cfg.DefaultAlgorithm = "weighted"
	cfg.Threshold = 0.6
	mgr := NewManager(cfg, coord, testLogger())

	var result *Result
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r, err := mgr.RequestConsensus(map[string]interface{}{"id": "p2"}, Options{
			Algorithm: "weighted",
			TimeoutMs: 300,
			Weights:   map[string]float64{"a1": 2, "a2": 1, "a3": 1},
		})
		require.NoError(t, err)
		result = r
	}()

	time.Sleep(20 * time.Millisecond)
	var proposalID string
	mgr.mu.Lock()
	for id := range mgr.active {
		proposalID = id
	}
	mgr.mu.Unlock()
	require.NotEmpty(t, proposalID)

	require.NoError(t, mgr.SubmitVote(proposalID, Vote{AgentID: "a1", Choice: ChoiceFor, Weight: 2}))
	require.NoError(t, mgr.SubmitVote(proposalID, Vote{AgentID: "a2", Choice: ChoiceAgainst, Weight: 1}))
	require.NoError(t, mgr.SubmitVote(proposalID, Vote{AgentID: "a3", Choice: ChoiceAgainst, Weight: 1}))

	wg.Wait()
	require.NotNil(t, result)
	assert.Equal(t, DecisionRejected, result.Decision)
}

// TestWeightedReject_DenominatorCountsAbstainersAndNonVoters guards the
// original-source semantics (consensus_manager.py's
// `sum(agent_weights.get(p, 1.0) for p in participants)`): the weighted
// denominator is the full participant set's weight, not just the
// weight of whoever actually cast a non-abstaining vote.
func TestWeightedReject_DenominatorCountsAbstainersAndNonVoters(t *testing.T) {
	coord := newMeshCoordinator(t, "a1", "a2", "a3", "a4")
	cfg := testConfig()
	cfg.DefaultAlgorithm = "weighted"
	cfg.Threshold = 0.5
	cfg.DefaultTimeout = 80 * time.Millisecond
	mgr := NewManager(cfg, coord, testLogger())

	var result *Result
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r, err := mgr.RequestConsensus(map[string]interface{}{"id": "p2b"}, Options{Algorithm: "weighted"})
		require.NoError(t, err)
		result = r
	}()

	time.Sleep(20 * time.Millisecond)
	var proposalID string
	mgr.mu.Lock()
	for id := range mgr.active {
		proposalID = id
	}
	mgr.mu.Unlock()
	require.NotEmpty(t, proposalID)

	// Only a1 votes FOR; a2 abstains; a3/a4 never vote before the
	// deadline. A denominator that only summed cast non-abstaining
	// weight would see 1/1 = 1.0 and approve; counting all four
	// participants' weight (default 1.0 each) gives 1/4 = 0.25.
	require.NoError(t, mgr.SubmitVote(proposalID, Vote{AgentID: "a1", Choice: ChoiceFor, Weight: 1}))
	require.NoError(t, mgr.SubmitVote(proposalID, Vote{AgentID: "a2", Choice: ChoiceAbstain, Weight: 1}))

	wg.Wait()
	require.NotNil(t, result)
	assert.Equal(t, DecisionRejected, result.Decision)
	assert.InDelta(t, 0.25, result.Metadata["ratio"], 0.001)
}

// TestByzantineWithMalicious is scenario 3 from spec.md §8.
func TestByzantineWithMalicious(t *testing.T) {
	participants := []string{"a1", "a2", "a3", "a4", "a5", "a6", "a7"}
	coord := newMeshCoordinator(t, participants...)
	mgr := NewManager(testConfig(), coord, testLogger())

	// a1 is the malicious agent: FOR in round 1, AGAINST in round 3. Of
	// the remaining 6 honest agents, a7 genuinely votes AGAINST in every
	// round; a2..a6 vote FOR consistently, leaving honest_FOR = 5 per
	// spec.md §8 scenario 3.
	round := func(a1Choice Choice) []Vote {
		votes := []Vote{
			{AgentID: "a1", Choice: a1Choice, Weight: 1},
			{AgentID: "a7", Choice: ChoiceAgainst, Weight: 1},
		}
		for _, id := range participants[1:6] {
			votes = append(votes, Vote{AgentID: id, Choice: ChoiceFor, Weight: 1})
		}
		return votes
	}
	rounds := [][]Vote{
		round(ChoiceFor),
		round(ChoiceFor),
		round(ChoiceAgainst),
	}

	result, err := mgr.RequestConsensus(map[string]interface{}{"id": "p3"}, Options{
		Algorithm:       "byzantine",
		ByzantineF:      2,
		ByzantineRounds: rounds,
	})
	require.NoError(t, err)
	assert.Equal(t, DecisionApproved, result.Decision)
	assert.Equal(t, 5, result.VotesFor) // honest agents a2..a6 voted FOR in the final round
	malicious, _ := result.Metadata["malicious"].([]string)
	assert.ElementsMatch(t, []string{"a1"}, malicious)
}

func TestByzantine_RejectsIncompleteRoundData(t *testing.T) {
	participants := []string{"a1", "a2", "a3", "a4"}
	coord := newMeshCoordinator(t, participants...)
	mgr := NewManager(testConfig(), coord, testLogger())

	_, err := mgr.RequestConsensus(map[string]interface{}{"id": "p4"}, Options{
		Algorithm:  "byzantine",
		ByzantineF: 1,
		ByzantineRounds: [][]Vote{
			{{AgentID: "a1", Choice: ChoiceFor}},
		},
	})
	require.Error(t, err)
}

func TestRequestConsensus_NoAgentsReturnsRejectedMetadata(t *testing.T) {
	coord := newMeshCoordinator(t)
	mgr := NewManager(testConfig(), coord, testLogger())

	result, err := mgr.RequestConsensus(map[string]interface{}{"id": "p5"}, Options{Algorithm: "quorum"})
	require.NoError(t, err)
	assert.Equal(t, DecisionRejected, result.Decision)
	assert.Equal(t, "no_agents", result.Metadata["error"])
}

func TestRequestConsensus_TimeoutOnLowParticipation(t *testing.T) {
	coord := newMeshCoordinator(t, "a1", "a2", "a3", "a4")
	cfg := testConfig()
	cfg.DefaultTimeout = 50 * time.Millisecond
	mgr := NewManager(cfg, coord, testLogger())

	result, err := mgr.RequestConsensus(map[string]interface{}{"id": "p6"}, Options{Algorithm: "quorum"})
	require.NoError(t, err)
	assert.Equal(t, DecisionTimeout, result.Decision)
}

func TestRequestConsensus_RejectsInvalidOptions(t *testing.T) {
	coord := newMeshCoordinator(t, "a1", "a2", "a3")
	mgr := NewManager(testConfig(), coord, testLogger())

	_, err := mgr.RequestConsensus(map[string]interface{}{"id": "p7"}, Options{Algorithm: "not-a-real-algorithm"})
	require.Error(t, err)
	kind, ok := swarmerrors.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, swarmerrors.InvalidArgument, kind)

	_, err = mgr.RequestConsensus(map[string]interface{}{"id": "p8"}, Options{Algorithm: "byzantine", ByzantineF: -1})
	require.Error(t, err)
	kind, ok = swarmerrors.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, swarmerrors.InvalidArgument, kind)
}
