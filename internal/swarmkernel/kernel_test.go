package swarmkernel

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/moai-flow/swarm-kernel/internal/config"
	"github.com/moai-flow/swarm-kernel/internal/healing"
	"github.com/moai-flow/swarm-kernel/internal/memory"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func testConfig(t *testing.T) *config.Config {
	cfg := config.Default()
	cfg.Patterns.Root = t.TempDir()
	return cfg
}

func TestNew_ConstructsEveryComponent(t *testing.T) {
	k, err := New(testConfig(t), testLogger())
	require.NoError(t, err)
	require.NotNil(t, k.Topology)
	require.NotNil(t, k.Adaptive)
	require.NotNil(t, k.Resources)
	require.NotNil(t, k.Consensus)
	require.NotNil(t, k.Conflict)
	require.NotNil(t, k.Health)
	require.NotNil(t, k.Healer)
	require.NotNil(t, k.Learner)
	require.NotNil(t, k.Matcher)
	require.NotNil(t, k.Predictive)
	require.NotNil(t, k.PatternStore)
	require.NotNil(t, k.Metrics)
	require.NotNil(t, k.Bottleneck)
	require.NotNil(t, k.Memory)
	require.NotNil(t, k.Events)
}

func TestNew_RedisMemoryBackendWiresRouter(t *testing.T) {
	cfg := testConfig(t)
	cfg.Memory.Backend = "redis"
	cfg.Memory.Redis.Addr = "127.0.0.1:6379"

	k, err := New(cfg, testLogger())
	require.NoError(t, err)

	router, ok := k.Memory.(*memory.Router)
	require.True(t, ok, "redis backend should wire a *memory.Router")
	require.NotNil(t, router.Volatile, "router should hold a live Redis volatile backend")
	require.Nil(t, router.Durable)
}

func TestKernel_StartStopLifecycle(t *testing.T) {
	k, err := New(testConfig(t), testLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, k.Start(ctx))
	require.Error(t, k.Start(ctx), "starting twice should fail")

	k.Stop()
	k.Stop() // idempotent
}

func TestKernel_IngestEventFeedsLearnerAndMatcher(t *testing.T) {
	k, err := New(testConfig(t), testLogger())
	require.NoError(t, err)

	k.IngestEvent("task_completed", "agent-1", map[string]interface{}{"duration_ms": 120})
	k.IngestEvent("task_completed", "agent-1", map[string]interface{}{"duration_ms": 140})

	require.NotPanics(t, func() { k.Learner.Learn() })
}

func TestKernel_HealPublishesEvents(t *testing.T) {
	k, err := New(testConfig(t), testLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, k.Start(ctx))
	defer k.Stop()

	result, err := k.Heal("resource_exhaustion", "agent-1", healing.SeverityHigh, map[string]interface{}{"reason": "oom"})
	require.NoError(t, err)
	require.NotNil(t, result)
}

func TestKernel_RunLearningCycleDoesNotPanic(t *testing.T) {
	k, err := New(testConfig(t), testLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, k.Start(ctx))
	defer k.Stop()

	k.IngestEvent("heartbeat_missed", "agent-2", nil)
	require.Eventually(t, func() bool {
		k.runLearningCycle()
		return true
	}, time.Second, 10*time.Millisecond)
}
