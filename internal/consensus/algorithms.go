package consensus

import "github.com/moai-flow/swarm-kernel/internal/swarmerrors"

// tally is the vote-count intermediate shared by all algorithms.
type tally struct {
	votesFor     int
	votesAgainst int
	votesAbstain int
	weightFor    float64
}

func tallyVotes(votes map[string]Vote) tally {
	var t tally
	for _, v := range votes {
		switch v.Choice {
		case ChoiceFor:
			t.votesFor++
			t.weightFor += v.Weight
		case ChoiceAgainst:
			t.votesAgainst++
		case ChoiceAbstain:
			t.votesAbstain++
		}
	}
	return t
}

// totalWeight sums agent_weights.get(p, 1.0) over every participant
// (original_source/moai_flow/coordination/consensus_manager.py:321),
// including abstainers and agents that never voted at all — not just
// the weight actually cast.
func totalWeight(participants []string, weights map[string]float64) float64 {
	var total float64
	for _, p := range participants {
		if w, ok := weights[p]; ok {
			total += w
			continue
		}
		total++
	}
	return total
}

// decideQuorum implements the Quorum algorithm (§4.3): approves when
// votes_for / total_participants exceeds threshold; TIMEOUT if fewer
// than half the participants voted by the deadline.
func decideQuorum(t tally, totalParticipants int, threshold float64, deadlineHit bool) (Decision, map[string]interface{}) {
	participated := t.votesFor + t.votesAgainst + t.votesAbstain
	if deadlineHit && float64(participated)/float64(totalParticipants) < 0.5 {
		return DecisionTimeout, map[string]interface{}{"participation": float64(participated) / float64(totalParticipants)}
	}
	ratio := float64(t.votesFor) / float64(totalParticipants)
	if ratio > threshold {
		return DecisionApproved, map[string]interface{}{"ratio": ratio}
	}
	return DecisionRejected, map[string]interface{}{"ratio": ratio}
}

// decideWeighted implements the Weighted algorithm (§4.3): approves when
// the weighted FOR share of the full participant set's weight (every
// participant counts, voted or not, abstaining or not) exceeds
// threshold.
func decideWeighted(t tally, participants []string, weights map[string]float64, threshold float64) (Decision, map[string]interface{}) {
	weightTotal := totalWeight(participants, weights)
	if weightTotal == 0 {
		return DecisionRejected, map[string]interface{}{"ratio": 0.0, "error": "no_weighted_votes"}
	}
	ratio := t.weightFor / weightTotal
	if ratio > threshold {
		return DecisionApproved, map[string]interface{}{"ratio": ratio}
	}
	return DecisionRejected, map[string]interface{}{"ratio": ratio}
}

// byzantineOutcome is the structured result of running the multi-round
// Byzantine protocol over pre-collected rounds.
type byzantineOutcome struct {
	decision  Decision
	honestFor int
	malicious []string
	metadata  map[string]interface{}
}

// decideByzantine implements the Byzantine algorithm (§4.3): requires
// n >= 3f+1 participants and num_rounds >= 3 of real per-round votes.
// Any agent whose choice differs across rounds is flagged malicious and
// excluded from the final tally; APPROVED iff honest_FOR >= 2f+1.
func decideByzantine(participants []string, rounds [][]Vote, f int) (*byzantineOutcome, error) {
	n := len(participants)
	if n < 3*f+1 {
		return nil, swarmerrors.NewInvalidArgument("insufficient_participants",
			"byzantine consensus requires at least 3f+1 participants")
	}
	if len(rounds) < 3 {
		return nil, swarmerrors.NewInvalidArgument("insufficient_rounds",
			"byzantine consensus requires real per-round vote data for at least 3 rounds")
	}

	// perAgentChoices[agentID] = choice per round index, only for rounds
	// in which the agent actually voted.
	perAgentChoices := make(map[string]map[int]Choice, n)
	for roundIdx, round := range rounds {
		for _, v := range round {
			if perAgentChoices[v.AgentID] == nil {
				perAgentChoices[v.AgentID] = make(map[int]Choice)
			}
			perAgentChoices[v.AgentID][roundIdx] = v.Choice
		}
	}

	for _, p := range participants {
		if len(perAgentChoices[p]) < len(rounds) {
			return nil, swarmerrors.NewInvalidArgument("incomplete_round_data",
				"byzantine consensus requires every participant to vote in every round; missing data for agent "+p)
		}
	}

	malicious := make(map[string]bool)
	for agent, choices := range perAgentChoices {
		var first Choice
		i := 0
		for _, c := range choices {
			if i == 0 {
				first = c
			} else if c != first {
				malicious[agent] = true
				break
			}
			i++
		}
	}

	honestFor := 0
	maliciousList := make([]string, 0, len(malicious))
	for agent := range malicious {
		maliciousList = append(maliciousList, agent)
	}
	finalRound := rounds[len(rounds)-1]
	for _, v := range finalRound {
		if malicious[v.AgentID] {
			continue
		}
		if v.Choice == ChoiceFor {
			honestFor++
		}
	}

	decision := DecisionRejected
	if honestFor >= 2*f+1 {
		decision = DecisionApproved
	}

	return &byzantineOutcome{
		decision:  decision,
		honestFor: honestFor,
		malicious: maliciousList,
		metadata: map[string]interface{}{
			"honest_for": honestFor,
			"f":          f,
			"malicious":  maliciousList,
		},
	}, nil
}
