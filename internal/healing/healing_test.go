package healing

import (
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moai-flow/swarm-kernel/internal/resources"
	"github.com/moai-flow/swarm-kernel/internal/topology"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func resourceConfig() resources.Config {
	return resources.Config{
		TotalBudget:          200000,
		WarningThreshold1:    150000,
		WarningThreshold2:    180000,
		DefaultSwarmLimit:    20000,
		ReserveBuffer:        10000,
		EnableAutoRebalance:  true,
		SwarmWarningRatio:    0.75,
		SwarmCriticalRatio:   0.90,
		BacklogThreshold:     50,
		HighPriorityShareMax: 0.2,
		QuotaWarningRatio:    0.9,
	}
}

func TestSelfHealer_DispatchesToFirstMatchingStrategy(t *testing.T) {
	h := NewSelfHealer(10, testLogger())
	h.Register(NewQuorumRecoveryStrategy())
	h.Register(NewGradualDegradationStrategy())

	f := h.DetectFailure("resource_exhaustion", "", SeverityHigh, nil)
	f.Metadata = map[string]interface{}{"usage_ratio": 0.96}

	result, err := h.Heal(f)
	require.NoError(t, err)
	assert.Equal(t, "gradual_degradation", result.StrategyUsed)
	assert.Equal(t, "degrade_to:REDUCED_2", result.ActionsTaken[0])
}

func TestSelfHealer_NoMatchingStrategyErrors(t *testing.T) {
	h := NewSelfHealer(10, testLogger())
	f := h.DetectFailure("quorum_loss", "", SeverityHigh, nil)
	_, err := h.Heal(f)
	require.Error(t, err)
}

func TestSelfHealer_HistoryAndStats(t *testing.T) {
	h := NewSelfHealer(10, testLogger())
	h.Register(NewQuorumRecoveryStrategy())

	f := h.DetectFailure("quorum_loss", "", SeverityMedium, nil)
	f.Metadata = map[string]interface{}{"required": 3, "current": 1}

	result, err := h.Heal(f)
	require.NoError(t, err)
	assert.False(t, result.Success)

	stats := h.Stats()
	assert.Equal(t, int64(1), stats.Failures)
	assert.Equal(t, int64(1), stats.ByType[FailureQuorumLoss].Attempts)
	assert.Len(t, h.History(), 1)
}

func TestSelfHealer_RegisterFailureType(t *testing.T) {
	h := NewSelfHealer(10, testLogger())
	h.RegisterFailureType("custom_event", FailureTaskTimeout)
	f := h.DetectFailure("custom_event", "a1", SeverityLow, nil)
	assert.Equal(t, FailureTaskTimeout, f.FailureType)

	f2 := h.DetectFailure("totally_unknown", "a1", SeverityLow, nil)
	assert.Equal(t, FailureType("totally_unknown"), f2.FailureType)
}

func TestAgentRestartStrategy_EndToEnd(t *testing.T) {
	coord := topology.NewCoordinator(topology.ModeMesh, false, testLogger())
	_, err := coord.RegisterAgent("a1", "worker", []string{"compute"}, topology.RegisterOptions{})
	require.NoError(t, err)

	strategy := NewAgentRestartStrategy(coord, time.Millisecond)
	f := Failure{FailureType: FailureAgentFailed, AgentID: "a1", Metadata: map[string]interface{}{"agent_type": "worker"}}

	require.True(t, strategy.CanHeal(f))
	result, err := strategy.Heal(f)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Contains(t, result.ActionsTaken, "re-registered")
}

func TestAgentRestartStrategy_CannotHealWithoutAgentID(t *testing.T) {
	strategy := NewAgentRestartStrategy(nil, 0)
	assert.False(t, strategy.CanHeal(Failure{FailureType: FailureAgentFailed}))
}

type stubEnqueuer struct {
	calls []resources.Priority
	err   error
}

func (s *stubEnqueuer) EnqueueTask(taskID string, priority resources.Priority, data map[string]interface{}) error {
	s.calls = append(s.calls, priority)
	return s.err
}

func TestTaskRetryStrategy_RequeuesUnderMax(t *testing.T) {
	enqueuer := &stubEnqueuer{}
	strategy := NewTaskRetryStrategy(enqueuer, 3)

	f := Failure{
		FailureType: FailureTaskTimeout,
		Metadata: map[string]interface{}{
			"task_id":     "t1",
			"priority":    resources.PriorityHigh,
			"retry_count": 1,
		},
	}

	result, err := strategy.Heal(f)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, []resources.Priority{resources.PriorityHigh}, enqueuer.calls)
	assert.Equal(t, 2, result.Metadata["retry_count"])
}

func TestTaskRetryStrategy_StopsAtMaxRetries(t *testing.T) {
	enqueuer := &stubEnqueuer{}
	strategy := NewTaskRetryStrategy(enqueuer, 3)

	f := Failure{
		FailureType: FailureTaskTimeout,
		Metadata:    map[string]interface{}{"task_id": "t1", "retry_count": 3},
	}

	result, err := strategy.Heal(f)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, []string{"max_retries_exceeded"}, result.ActionsTaken)
	assert.Empty(t, enqueuer.calls)
}

func TestResourceRebalanceStrategy(t *testing.T) {
	controller := resources.NewController(resourceConfig(), testLogger(), nil)
	strategy := NewResourceRebalanceStrategy(controller)

	f := Failure{FailureType: FailureResourceExhaustion}
	require.True(t, strategy.CanHeal(f))
	result, err := strategy.Heal(f)
	require.NoError(t, err)
	assert.True(t, result.Success)
}

func TestQuorumRecoveryStrategy_Math(t *testing.T) {
	strategy := NewQuorumRecoveryStrategy()

	f := Failure{FailureType: FailureQuorumLoss, Metadata: map[string]interface{}{"required": 5, "current": 2}}
	result, err := strategy.Heal(f)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "recommend_spawn:3", result.ActionsTaken[0])

	fOK := Failure{FailureType: FailureQuorumLoss, Metadata: map[string]interface{}{"required": 2, "current": 2}}
	resultOK, err := strategy.Heal(fOK)
	require.NoError(t, err)
	assert.True(t, resultOK.Success)
}

func TestCircuitBreakerStrategy_CanHealRequiresResourceKey(t *testing.T) {
	strategy := NewCircuitBreakerStrategy(5, time.Minute, 3, testLogger())
	assert.False(t, strategy.CanHeal(Failure{FailureType: FailureAgentFailed}))
	assert.True(t, strategy.CanHeal(Failure{FailureType: FailureAgentFailed, Metadata: map[string]interface{}{"resource": "db"}}))
}

// TestCircuitBreakerStrategy_StateMachine exercises CLOSED -> OPEN ->
// HALF_OPEN -> CLOSED using a scaled-down timeout.
func TestCircuitBreakerStrategy_StateMachine(t *testing.T) {
	strategy := NewCircuitBreakerStrategy(3, 30*time.Millisecond, 2, testLogger())
	f := Failure{FailureType: FailureAgentFailed, Metadata: map[string]interface{}{"resource": "db"}}

	assert.Equal(t, "closed", strategy.State("db").String())

	for i := 0; i < 3; i++ {
		_, err := strategy.Heal(f)
		require.NoError(t, err)
	}
	assert.Equal(t, "open", strategy.State("db").String())

	result, err := strategy.Heal(f)
	require.NoError(t, err)
	assert.Equal(t, []string{"fail_fast_open"}, result.ActionsTaken)

	require.Eventually(t, func() bool {
		return strategy.State("db").String() == "half-open"
	}, time.Second, 5*time.Millisecond)

	state := strategy.RecordSuccess("db")
	assert.Equal(t, "half-open", state.String())
	state = strategy.RecordSuccess("db")
	assert.Equal(t, "closed", state.String())
}

func TestGradualDegradationStrategy_Thresholds(t *testing.T) {
	strategy := NewGradualDegradationStrategy()

	cases := []struct {
		usage float64
		want  DegradationLevel
	}{
		{0.50, LevelFull},
		{0.91, LevelReduced1},
		{0.96, LevelReduced2},
		{0.985, LevelReduced3},
		{0.999, LevelMinimal},
	}

	for _, c := range cases {
		f := Failure{FailureType: FailureResourceExhaustion, Metadata: map[string]interface{}{"usage_ratio": c.usage, "resource": "tokens"}}
		_, err := strategy.Heal(f)
		require.NoError(t, err)
		assert.Equal(t, c.want, strategy.Level("tokens"))
	}

	strategy.Reset("tokens")
	assert.Equal(t, LevelFull, strategy.Level("tokens"))
}
