// Package swarmkernel is the single construction point used by both
// cmd/swarm and internal/api (SPEC_FULL.md §4.0): it wires
// topology, resources, consensus, conflict, health, healing, pattern,
// metrics, and memory into one Kernel and owns their background
// workers. Grounded on internal/rnd/module.go's Module: a
// ctx/cancel/stopCh/doneCh-controlled set of Workers started and
// stopped together, generalized from the teacher's fixed
// coordinator/learning/patterns/projects quartet to this system's nine
// components.
package swarmkernel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/moai-flow/swarm-kernel/internal/conflict"
	"github.com/moai-flow/swarm-kernel/internal/config"
	"github.com/moai-flow/swarm-kernel/internal/consensus"
	"github.com/moai-flow/swarm-kernel/internal/eventstream"
	"github.com/moai-flow/swarm-kernel/internal/healing"
	"github.com/moai-flow/swarm-kernel/internal/health"
	"github.com/moai-flow/swarm-kernel/internal/memory"
	"github.com/moai-flow/swarm-kernel/internal/metrics"
	"github.com/moai-flow/swarm-kernel/internal/metricsstore"
	"github.com/moai-flow/swarm-kernel/internal/pattern"
	patternstore "github.com/moai-flow/swarm-kernel/internal/pattern/store"
	"github.com/moai-flow/swarm-kernel/internal/resources"
	"github.com/moai-flow/swarm-kernel/internal/topology"
)

// Kernel owns every kernel component plus the background workers that
// drive them: the heartbeat monitor, the async metrics writer, and the
// pattern-learning ticker.
type Kernel struct {
	cfg    *config.Config
	logger *logrus.Logger

	Topology   *topology.Coordinator
	Adaptive   *topology.AdaptiveManager
	Resources  *resources.Controller
	Consensus  *consensus.Manager
	Conflict   *conflict.StateSynchronizer
	Health     *health.HeartbeatMonitor
	Healer     *healing.SelfHealer
	Learner    *pattern.Learner
	Matcher    *pattern.Matcher
	Predictive *pattern.PredictiveHealing
	PatternStore patternstore.Store
	Metrics    *metrics.Collector
	Bottleneck *metrics.BottleneckDetector
	MetricsStore *metricsstore.Store // nil unless metrics_store.enabled
	Memory     memory.Provider
	Events     *eventstream.Hub

	ctx        context.Context
	cancel     context.CancelFunc
	stopCh     chan struct{}
	workerWg   sync.WaitGroup
	mu         sync.Mutex
	running    bool
}

// New constructs every component from cfg but does not start any
// background worker; call Start for that.
func New(cfg *config.Config, logger *logrus.Logger) (*Kernel, error) {
	mode := topology.Mode(cfg.Topology.DefaultMode)
	coord := topology.NewCoordinator(mode, cfg.Topology.RequireEmptyChildren, logger)
	if cfg.Topology.SigningSecret != "" {
		coord.SetSigningSecret(cfg.Topology.SigningSecret)
	}
	adaptive := topology.NewAdaptiveManager(coord, topology.AdaptiveConfig{
		Enabled:              true,
		PerformanceThreshold: cfg.Topology.AdaptationThreshold,
		StarMax:              cfg.Topology.StarMaxAgents,
		RingMax:              cfg.Topology.MeshMaxAgents,
		HierarchicalMin:      cfg.Topology.MeshMaxAgents * 2,
	}, logger)

	events := eventstream.NewHub(logger)

	resourceCfg := resources.Config{
		TotalBudget:          cfg.TokenBudget.TotalBudget,
		WarningThreshold1:    cfg.TokenBudget.WarningThreshold1,
		WarningThreshold2:    cfg.TokenBudget.WarningThreshold2,
		DefaultSwarmLimit:    cfg.TokenBudget.DefaultSwarmLimit,
		ReserveBuffer:        cfg.TokenBudget.ReserveBuffer,
		EnableAutoRebalance:  cfg.TokenBudget.EnableAutoRebalance,
		SwarmWarningRatio:    cfg.TokenBudget.SwarmWarningRatio,
		SwarmCriticalRatio:   cfg.TokenBudget.SwarmCriticalRatio,
		BacklogThreshold:     cfg.Resources.BacklogThreshold,
		HighPriorityShareMax: cfg.Resources.HighPriorityShareMax,
		QuotaWarningRatio:    cfg.Resources.QuotaWarningRatio,
	}
	resourceController := resources.NewController(resourceCfg, logger, func(scope string, level resources.AlertLevel, detail string) {
		events.Publish(eventstream.EventBottleneck, map[string]interface{}{"scope": scope, "level": level, "detail": detail})
	})

	consensusManager := consensus.NewManager(consensus.Config{
		DefaultAlgorithm: cfg.Consensus.DefaultAlgorithm,
		Threshold:        cfg.Consensus.Threshold,
		DefaultTimeout:   cfg.Consensus.DefaultTimeout,
		HistorySize:      cfg.Consensus.HistorySize,
	}, coord, logger)

	memProvider, err := buildMemoryProvider(cfg.Memory)
	if err != nil {
		return nil, fmt.Errorf("build memory provider: %w", err)
	}

	synchronizer := conflict.NewStateSynchronizer(conflict.SyncConfig{
		Strategy:    conflict.StrategyLWW,
		SyncTimeout: cfg.Consensus.DefaultTimeout,
	}, coord, memProvider, logger)

	heartbeatMonitor := health.NewHeartbeatMonitor(health.Config{
		IntervalMs:       cfg.Heartbeat.IntervalMs,
		FailureThreshold: cfg.Heartbeat.FailureThreshold,
		HistorySize:      cfg.Heartbeat.HistorySize,
		CheckInterval:    time.Duration(cfg.Heartbeat.CheckIntervalMs) * time.Millisecond,
		InitialState:     health.State(cfg.Heartbeat.InitialState),
	}, logger, func(agentID string, state health.State, elapsed time.Duration) {
		events.Publish(eventstream.EventFailureDetected, map[string]interface{}{"agent_id": agentID, "state": state, "elapsed_ms": elapsed.Milliseconds()})
	})

	healer := healing.NewSelfHealer(200, logger)
	healer.Register(healing.NewAgentRestartStrategy(coord, 2*time.Second))
	healer.Register(healing.NewTaskRetryStrategy(resourceController, 3))
	healer.Register(healing.NewResourceRebalanceStrategy(resourceController))
	healer.Register(healing.NewQuorumRecoveryStrategy())
	healer.Register(healing.NewCircuitBreakerStrategy(5, time.Minute, 3, logger))
	healer.Register(healing.NewGradualDegradationStrategy())

	learner := pattern.NewLearner(pattern.LearnerConfig{
		SequenceN:           cfg.Pattern.SequenceN,
		MinOccurrences:      cfg.Pattern.MinOccurrences,
		ConfidenceThreshold: cfg.Pattern.ConfidenceThreshold,
		CorrelationWindowMs: cfg.Pattern.CorrelationWindowMs,
	})
	matcher := pattern.NewMatcher(pattern.MatcherConfig{
		MaxSequenceLength: cfg.Pattern.MaxSequenceLength,
		MatchThreshold:    cfg.Pattern.MatchThreshold,
	})
	predictive := pattern.NewPredictiveHealing(pattern.PredictiveConfig{
		ConfidenceThreshold: cfg.Predictive.ConfidenceThreshold,
		AutoApply:           cfg.Predictive.AutoApply,
	}, matcher, logger)

	var store patternstore.Store
	if cfg.Patterns.Enabled {
		store, err = buildPatternStore(cfg.Patterns)
		if err != nil {
			return nil, fmt.Errorf("build pattern store: %w", err)
		}
	}

	collector := metrics.NewCollector(metrics.AsyncConfig{
		Enabled:    cfg.MetricsStore.Async,
		BufferSize: cfg.MetricsStore.BufferSize,
	}, logger)
	bottleneckDetector := metrics.NewBottleneckDetector(metrics.DefaultBottleneckConfig(), collector)

	var metricsStore *metricsstore.Store
	if cfg.MetricsStore.Enabled {
		metricsStore, err = metricsstore.New(cfg.MetricsStore.Postgres.GetDSN(), cfg.MetricsStore.Postgres.MaxOpenConns, cfg.MetricsStore.Postgres.MaxIdleConns)
		if err != nil {
			return nil, fmt.Errorf("build metrics store: %w", err)
		}
		collector.SetSink(metricsStore)
	}

	k := &Kernel{
		cfg:          cfg,
		logger:       logger,
		Topology:     coord,
		Adaptive:     adaptive,
		Resources:    resourceController,
		Consensus:    consensusManager,
		Conflict:     synchronizer,
		Health:       heartbeatMonitor,
		Healer:       healer,
		Learner:      learner,
		Matcher:      matcher,
		Predictive:   predictive,
		PatternStore: store,
		Metrics:      collector,
		Bottleneck:   bottleneckDetector,
		MetricsStore: metricsStore,
		Memory:       memProvider,
		Events:       events,
		stopCh:       make(chan struct{}),
	}
	return k, nil
}

func buildMemoryProvider(cfg config.MemoryConfig) (memory.Provider, error) {
	switch cfg.Backend {
	case "", "memory":
		return memory.NewInMemory(), nil
	case "postgres":
		pg, err := memory.NewPostgres(cfg.Postgres.GetDSN(), cfg.Postgres.MaxOpenConns, cfg.Postgres.MaxIdleConns)
		if err != nil {
			return nil, err
		}
		return pg, nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
			PoolSize:     cfg.Redis.PoolSize,
		})
		return memory.NewRouter(memory.NewRedis(client), nil), nil
	default:
		return nil, fmt.Errorf("unknown memory.backend %q", cfg.Backend)
	}
}

func buildPatternStore(cfg config.PatternsStorageConfig) (patternstore.Store, error) {
	switch cfg.Storage {
	case "datedir":
		return patternstore.NewDateDirStore(cfg.Root)
	default:
		return patternstore.NewLogStore(cfg.Root + "/patterns.jsonl")
	}
}

// Start launches the background workers: heartbeat monitoring, the
// async metrics writer (if enabled), the event stream hub, and the
// periodic pattern-learning tick.
func (k *Kernel) Start(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.running {
		return fmt.Errorf("kernel already running")
	}

	k.ctx, k.cancel = context.WithCancel(ctx)
	k.Health.Start()
	k.Metrics.Start(k.ctx)

	k.workerWg.Add(1)
	go func() {
		defer k.workerWg.Done()
		k.Events.Run(k.stopCh)
	}()

	k.workerWg.Add(1)
	go func() {
		defer k.workerWg.Done()
		k.learnLoop()
	}()

	k.running = true
	k.logger.Info("swarm kernel started")
	return nil
}

// Stop halts every background worker and waits for them to exit.
func (k *Kernel) Stop() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if !k.running {
		return
	}

	close(k.stopCh)
	k.cancel()
	k.Health.Shutdown()
	k.Metrics.Close()
	if k.MetricsStore != nil {
		if err := k.MetricsStore.Close(); err != nil {
			k.logger.WithError(err).Warn("failed to close metrics store")
		}
	}
	k.workerWg.Wait()

	k.running = false
	k.logger.Info("swarm kernel stopped")
}

// learnLoop periodically recomputes patterns from ingested events and
// checks for predictable failures, publishing both to the event
// stream. Grounded on internal/rnd/module.go's collectStatistics
// ticker-loop idiom.
func (k *Kernel) learnLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-k.stopCh:
			return
		case <-ticker.C:
			k.runLearningCycle()
		}
	}
}

func (k *Kernel) runLearningCycle() {
	patterns := k.Learner.Learn()
	for _, p := range patterns {
		k.Events.Publish(eventstream.EventPatternLearned, p)
		if k.PatternStore != nil {
			if err := k.PatternStore.Save(p); err != nil {
				k.logger.WithError(err).Warn("failed to persist learned pattern")
			}
		}
	}

	failures := k.Predictive.PredictFailures(k.Learner.Patterns(), k.Resources, k.Health)
	for _, f := range failures {
		k.Events.Publish(eventstream.EventPredictedFailure, f)
	}

	for _, b := range k.Resources.GetBottlenecks() {
		k.Events.Publish(eventstream.EventBottleneck, b)
	}
	for _, b := range k.Bottleneck.SlowAgents() {
		k.Events.Publish(eventstream.EventBottleneck, b)
	}
}

// IngestEvent feeds one domain event into the pattern learner/matcher
// and the live event stream, to be called from every other component
// whenever something §4.6-relevant happens (heartbeat failure, task
// completion, consensus decision, conflict resolution, ...).
func (k *Kernel) IngestEvent(eventType, agentID string, metadata map[string]interface{}) {
	e := pattern.Event{EventType: eventType, AgentID: agentID, Timestamp: time.Now(), Metadata: metadata}
	k.Learner.Ingest(e)
	k.Matcher.Observe(e)
}

// Heal runs the self-healing pipeline for one detected failure and
// publishes the outcome.
func (k *Kernel) Heal(eventType, agentID string, severity healing.Severity, event map[string]interface{}) (*healing.HealingResult, error) {
	failure := k.Healer.DetectFailure(eventType, agentID, severity, event)
	k.Events.Publish(eventstream.EventFailureDetected, failure)

	result, err := k.Healer.Heal(failure)
	if err != nil {
		return nil, err
	}
	k.Events.Publish(eventstream.EventHealingResult, result)
	return result, nil
}
