package health

import (
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func testConfig() Config {
	return Config{
		IntervalMs:       1000,
		FailureThreshold: 3,
		HistorySize:      100,
		CheckInterval:    50 * time.Millisecond,
		InitialState:     StateHealthy,
	}
}

func TestComputeState_Thresholds(t *testing.T) {
	assert.Equal(t, StateHealthy, computeState(500*time.Millisecond, 1000, 3))
	assert.Equal(t, StateDegraded, computeState(1500*time.Millisecond, 1000, 3))
	assert.Equal(t, StateCritical, computeState(2500*time.Millisecond, 1000, 3))
	assert.Equal(t, StateFailed, computeState(3500*time.Millisecond, 1000, 3))
}

func TestStartMonitoring_InitialStateBeforeFirstHeartbeat(t *testing.T) {
	m := NewHeartbeatMonitor(testConfig(), testLogger(), nil)
	m.StartMonitoring("a1", 0, 0)

	rec, ok := m.GetAgentStatus("a1")
	require.True(t, ok)
	assert.Equal(t, StateHealthy, rec.LastState)
	assert.True(t, rec.LastHeartbeat.IsZero())
}

// TestHeartbeatFailureAndRecovery is scenario 6 from spec.md §8:
// interval=1000ms, threshold=3. After 3.5s without a heartbeat the
// monitor emits FAILED; a subsequent heartbeat recovers to HEALTHY
// within the next check tick.
func TestHeartbeatFailureAndRecovery(t *testing.T) {
	cfg := Config{IntervalMs: 50, FailureThreshold: 3, HistorySize: 10, CheckInterval: 10 * time.Millisecond, InitialState: StateHealthy}

	var mu sync.Mutex
	var alerts []State
	m := NewHeartbeatMonitor(cfg, testLogger(), func(agentID string, state State, elapsed time.Duration) {
		mu.Lock()
		defer mu.Unlock()
		alerts = append(alerts, state)
	})

	m.StartMonitoring("a1", 0, 0)
	require.NoError(t, m.RecordHeartbeat("a1", nil))

	m.Start()
	defer m.Shutdown()

	// 3 * 50ms = 150ms to FAILED; wait generously past that.
	require.Eventually(t, func() bool {
		rec, _ := m.GetAgentStatus("a1")
		return rec.LastState == StateFailed
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	sawDegraded, sawCritical, sawFailed := false, false, false
	for _, s := range alerts {
		switch s {
		case StateDegraded:
			sawDegraded = true
		case StateCritical:
			sawCritical = true
		case StateFailed:
			sawFailed = true
		}
	}
	mu.Unlock()
	assert.True(t, sawDegraded)
	assert.True(t, sawCritical)
	assert.True(t, sawFailed)

	require.NoError(t, m.RecordHeartbeat("a1", nil))
	rec, _ := m.GetAgentStatus("a1")
	assert.Equal(t, StateHealthy, rec.LastState)
}

func TestRecordHeartbeat_UnknownAgentErrors(t *testing.T) {
	m := NewHeartbeatMonitor(testConfig(), testLogger(), nil)
	err := m.RecordHeartbeat("ghost", nil)
	require.Error(t, err)
}

func TestShutdown_IsIdempotent(t *testing.T) {
	m := NewHeartbeatMonitor(testConfig(), testLogger(), nil)
	m.Start()
	m.Shutdown()
	m.Shutdown()
}

func TestHistory_BoundedRing(t *testing.T) {
	cfg := Config{IntervalMs: 10, FailureThreshold: 2, HistorySize: 3, CheckInterval: 5 * time.Millisecond, InitialState: StateHealthy}
	m := NewHeartbeatMonitor(cfg, testLogger(), nil)
	m.StartMonitoring("a1", 0, 0)

	for i := 0; i < 10; i++ {
		_ = m.RecordHeartbeat("a1", nil)
	}

	rec, ok := m.GetAgentStatus("a1")
	require.True(t, ok)
	assert.LessOrEqual(t, len(rec.History), 3)
}
