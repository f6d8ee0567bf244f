package healing

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/moai-flow/swarm-kernel/internal/resources"
	"github.com/moai-flow/swarm-kernel/internal/swarmerrors"
	"github.com/moai-flow/swarm-kernel/internal/topology"
)

// Strategy is one pluggable healing action (§4.6). The registry consults
// strategies in registration order and invokes only the first whose
// CanHeal predicate returns true.
type Strategy interface {
	Name() string
	CanHeal(f Failure) bool
	Heal(f Failure) (HealingResult, error)
}

// AgentManager is the capability AgentRestartStrategy depends on,
// satisfied by *topology.Coordinator.
type AgentManager interface {
	UnregisterAgent(agentID string) error
	RegisterAgent(agentID, agentType string, capabilities []string, opts topology.RegisterOptions) (*topology.Agent, error)
}

// AgentRestartStrategy captures an agent's metadata, unregisters it, and
// re-registers it after a fixed backoff (§4.6's "Agent restart" row).
type AgentRestartStrategy struct {
	manager AgentManager
	backoff time.Duration
}

func NewAgentRestartStrategy(manager AgentManager, backoff time.Duration) *AgentRestartStrategy {
	return &AgentRestartStrategy{manager: manager, backoff: backoff}
}

func (s *AgentRestartStrategy) Name() string { return "agent_restart" }

func (s *AgentRestartStrategy) CanHeal(f Failure) bool {
	return f.FailureType == FailureAgentFailed && f.AgentID != ""
}

func (s *AgentRestartStrategy) Heal(f Failure) (HealingResult, error) {
	agentType, _ := f.Metadata["agent_type"].(string)
	if agentType == "" {
		agentType = "worker"
	}
	var capabilities []string
	if raw, ok := f.Metadata["capabilities"].([]string); ok {
		capabilities = raw
	}

	actions := []string{"captured_metadata"}

	if err := s.manager.UnregisterAgent(f.AgentID); err != nil {
		if kind, ok := swarmerrors.KindOf(err); !ok || kind != swarmerrors.InvalidArgument {
			return HealingResult{}, fmt.Errorf("unregister %q: %w", f.AgentID, err)
		}
	} else {
		actions = append(actions, "unregistered")
	}

	if s.backoff > 0 {
		time.Sleep(s.backoff)
	}

	if _, err := s.manager.RegisterAgent(f.AgentID, agentType, capabilities, topology.RegisterOptions{}); err != nil {
		return HealingResult{Success: false, ActionsTaken: actions, Metadata: map[string]interface{}{"error": err.Error()}}, nil
	}
	actions = append(actions, "re-registered")

	return HealingResult{Success: true, ActionsTaken: actions}, nil
}

// TaskEnqueuer is the capability TaskRetryStrategy depends on, satisfied
// by *resources.Controller.
type TaskEnqueuer interface {
	EnqueueTask(taskID string, priority resources.Priority, data map[string]interface{}) error
}

// TaskRetryStrategy requeues a timed-out task with an incremented
// retry_count, up to max_retries (§4.6's "Task retry" row).
type TaskRetryStrategy struct {
	queue      TaskEnqueuer
	maxRetries int
}

func NewTaskRetryStrategy(queue TaskEnqueuer, maxRetries int) *TaskRetryStrategy {
	return &TaskRetryStrategy{queue: queue, maxRetries: maxRetries}
}

func (s *TaskRetryStrategy) Name() string { return "task_retry" }

func (s *TaskRetryStrategy) CanHeal(f Failure) bool {
	return f.FailureType == FailureTaskTimeout
}

func (s *TaskRetryStrategy) Heal(f Failure) (HealingResult, error) {
	taskID, _ := f.Metadata["task_id"].(string)
	priority, _ := f.Metadata["priority"].(resources.Priority)
	retryCount, _ := f.Metadata["retry_count"].(int)
	data, _ := f.Metadata["task_data"].(map[string]interface{})

	if retryCount >= s.maxRetries {
		return HealingResult{
			Success:      false,
			ActionsTaken: []string{"max_retries_exceeded"},
			Metadata:     map[string]interface{}{"retry_count": retryCount, "max_retries": s.maxRetries},
		}, nil
	}

	if data == nil {
		data = make(map[string]interface{})
	}
	data["retry_count"] = retryCount + 1

	if err := s.queue.EnqueueTask(taskID, priority, data); err != nil {
		return HealingResult{Success: false, ActionsTaken: []string{"requeue_failed"}, Metadata: map[string]interface{}{"error": err.Error()}}, nil
	}
	return HealingResult{
		Success:      true,
		ActionsTaken: []string{fmt.Sprintf("requeued_retry_%d", retryCount+1)},
		Metadata:     map[string]interface{}{"retry_count": retryCount + 1},
	}, nil
}

// Rebalancer is the capability ResourceRebalanceStrategy depends on,
// satisfied by *resources.Controller.
type Rebalancer interface {
	Rebalance() (map[string]int64, error)
}

// ResourceRebalanceStrategy triggers a token rebalance on resource
// exhaustion (§4.6's "Resource rebalance" row).
type ResourceRebalanceStrategy struct {
	controller Rebalancer
}

func NewResourceRebalanceStrategy(controller Rebalancer) *ResourceRebalanceStrategy {
	return &ResourceRebalanceStrategy{controller: controller}
}

func (s *ResourceRebalanceStrategy) Name() string { return "resource_rebalance" }

func (s *ResourceRebalanceStrategy) CanHeal(f Failure) bool {
	return f.FailureType == FailureResourceExhaustion
}

func (s *ResourceRebalanceStrategy) Heal(f Failure) (HealingResult, error) {
	shares, err := s.controller.Rebalance()
	if err != nil {
		return HealingResult{Success: false, ActionsTaken: []string{"rebalance_failed"}, Metadata: map[string]interface{}{"error": err.Error()}}, nil
	}
	return HealingResult{
		Success:      true,
		ActionsTaken: []string{"rebalanced", "reduced_concurrency"},
		Metadata:     map[string]interface{}{"new_shares": shares},
	}, nil
}

// QuorumRecoveryStrategy recommends spawning replacement agents when a
// swarm falls short of the quorum needed for consensus (§4.6's "Quorum
// recovery" row). It only produces a recommendation: the kernel has no
// agent-spawning infrastructure of its own to act on it.
type QuorumRecoveryStrategy struct{}

func NewQuorumRecoveryStrategy() *QuorumRecoveryStrategy { return &QuorumRecoveryStrategy{} }

func (s *QuorumRecoveryStrategy) Name() string { return "quorum_recovery" }

func (s *QuorumRecoveryStrategy) CanHeal(f Failure) bool {
	return f.FailureType == FailureQuorumLoss
}

func (s *QuorumRecoveryStrategy) Heal(f Failure) (HealingResult, error) {
	required, _ := f.Metadata["required"].(int)
	current, _ := f.Metadata["current"].(int)
	needed := required - current
	if needed < 0 {
		needed = 0
	}
	return HealingResult{
		Success:      needed == 0,
		ActionsTaken: []string{fmt.Sprintf("recommend_spawn:%d", needed)},
		Metadata:     map[string]interface{}{"required": required, "current": current, "needed": needed},
	}, nil
}

var errProtectedCallFailed = errors.New("protected resource call failed")

// CircuitBreakerStrategy wraps repeated failures against the same named
// resource in a per-resource gobreaker.CircuitBreaker (§4.6's "Circuit
// breaker" row). It only claims failures that carry a "resource" key in
// Metadata — the opt-in signal that this failure belongs to a tracked
// external dependency rather than a generic agent/task failure, so
// AgentRestartStrategy/TaskRetryStrategy still handle the untagged case
// when registered after it.
type CircuitBreakerStrategy struct {
	mu               sync.Mutex
	breakers         map[string]*gobreaker.CircuitBreaker
	failureThreshold uint32
	openTimeout      time.Duration
	halfOpenMaxCalls uint32
	logger           *logrus.Logger
}

func NewCircuitBreakerStrategy(failureThreshold uint32, openTimeout time.Duration, halfOpenMaxCalls uint32, logger *logrus.Logger) *CircuitBreakerStrategy {
	return &CircuitBreakerStrategy{
		breakers:         make(map[string]*gobreaker.CircuitBreaker),
		failureThreshold: failureThreshold,
		openTimeout:      openTimeout,
		halfOpenMaxCalls: halfOpenMaxCalls,
		logger:           logger,
	}
}

func (s *CircuitBreakerStrategy) Name() string { return "circuit_breaker" }

func (s *CircuitBreakerStrategy) CanHeal(f Failure) bool {
	_, ok := f.Metadata["resource"]
	return ok && (f.FailureType == FailureAgentFailed || f.FailureType == FailureTaskTimeout)
}

func (s *CircuitBreakerStrategy) getBreaker(resource string) *gobreaker.CircuitBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cb, ok := s.breakers[resource]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        resource,
		MaxRequests: s.halfOpenMaxCalls,
		Timeout:     s.openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.failureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			s.logger.WithFields(logrus.Fields{"resource": name, "from": from, "to": to}).Info("circuit breaker state changed")
		},
	})
	s.breakers[resource] = cb
	return cb
}

func (s *CircuitBreakerStrategy) Heal(f Failure) (HealingResult, error) {
	resource, _ := f.Metadata["resource"].(string)
	cb := s.getBreaker(resource)

	_, err := cb.Execute(func() (interface{}, error) { return nil, errProtectedCallFailed })
	state := cb.State()
	if err == gobreaker.ErrOpenState {
		return HealingResult{
			Success:      false,
			ActionsTaken: []string{"fail_fast_open"},
			Metadata:     map[string]interface{}{"resource": resource, "state": state.String()},
		}, nil
	}
	return HealingResult{
		Success:      false,
		ActionsTaken: []string{"recorded_failure"},
		Metadata:     map[string]interface{}{"resource": resource, "state": state.String()},
	}, nil
}

// RecordSuccess feeds a successful probe for resource into the breaker
// (e.g. the next heartbeat or task completion against the same
// dependency succeeding), the only path by which a tripped breaker can
// recover: Heal is only ever invoked on failures, so recovery must be
// reported out-of-band by the caller that observes the subsequent
// success.
func (s *CircuitBreakerStrategy) RecordSuccess(resource string) gobreaker.State {
	cb := s.getBreaker(resource)
	_, _ = cb.Execute(func() (interface{}, error) { return nil, nil })
	return cb.State()
}

// State returns resource's current breaker state.
func (s *CircuitBreakerStrategy) State(resource string) gobreaker.State {
	return s.getBreaker(resource).State()
}

// DegradationLevel is a step on the gradual-degradation ladder (§4.6).
type DegradationLevel string

const (
	LevelFull     DegradationLevel = "FULL"
	LevelReduced1 DegradationLevel = "REDUCED_1"
	LevelReduced2 DegradationLevel = "REDUCED_2"
	LevelReduced3 DegradationLevel = "REDUCED_3"
	LevelMinimal  DegradationLevel = "MINIMAL"
)

// levelForUsage maps a resource-usage ratio to a degradation level per
// §4.6's thresholds.
func levelForUsage(usage float64) DegradationLevel {
	switch {
	case usage < 0.90:
		return LevelFull
	case usage < 0.95:
		return LevelReduced1
	case usage < 0.98:
		return LevelReduced2
	case usage < 0.99:
		return LevelReduced3
	default:
		return LevelMinimal
	}
}

// GradualDegradationStrategy steps a resource's feature level down as
// usage climbs (§4.6's "Gradual degradation" row), tracked per resource
// key so independent pressure sources degrade independently.
type GradualDegradationStrategy struct {
	mu     sync.Mutex
	levels map[string]DegradationLevel
}

func NewGradualDegradationStrategy() *GradualDegradationStrategy {
	return &GradualDegradationStrategy{levels: make(map[string]DegradationLevel)}
}

func (s *GradualDegradationStrategy) Name() string { return "gradual_degradation" }

func (s *GradualDegradationStrategy) CanHeal(f Failure) bool {
	return f.FailureType == FailureResourceExhaustion
}

func (s *GradualDegradationStrategy) Heal(f Failure) (HealingResult, error) {
	usage, _ := f.Metadata["usage_ratio"].(float64)
	resource, _ := f.Metadata["resource"].(string)
	if resource == "" {
		resource = "default"
	}

	level := levelForUsage(usage)
	s.mu.Lock()
	s.levels[resource] = level
	s.mu.Unlock()

	return HealingResult{
		Success:      true,
		ActionsTaken: []string{fmt.Sprintf("degrade_to:%s", level)},
		Metadata:     map[string]interface{}{"resource": resource, "level": level, "usage_ratio": usage},
	}, nil
}

// Level returns resource's current degradation level, FULL if never set.
func (s *GradualDegradationStrategy) Level(resource string) DegradationLevel {
	s.mu.Lock()
	defer s.mu.Unlock()
	if level, ok := s.levels[resource]; ok {
		return level
	}
	return LevelFull
}

// Reset returns resource to FULL.
func (s *GradualDegradationStrategy) Reset(resource string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.levels[resource] = LevelFull
}
