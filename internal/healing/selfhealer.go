package healing

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/moai-flow/swarm-kernel/internal/swarmerrors"
)

// SelfHealer detects failures and dispatches them to the first matching
// registered strategy (§4.6). Grounded on
// internal/autonomous/friction_detector.go's threshold-counter map
// idiom, generalized from user-friction event types to failure event
// types.
type SelfHealer struct {
	logger *logrus.Logger

	mu         sync.Mutex
	strategies []Strategy
	typeMap    map[string]FailureType
	history    []HealingResult
	historySize int
	stats      Stats
}

// NewSelfHealer builds an empty registry; strategies must be added via
// Register in the order they should be consulted.
func NewSelfHealer(historySize int, logger *logrus.Logger) *SelfHealer {
	typeMap := make(map[string]FailureType, len(eventTypeToFailure))
	for k, v := range eventTypeToFailure {
		typeMap[k] = v
	}
	return &SelfHealer{
		logger:      logger,
		typeMap:     typeMap,
		historySize: historySize,
		stats:       Stats{ByType: make(map[FailureType]TypeStats)},
	}
}

// Register appends strategy to the end of the consultation order.
func (h *SelfHealer) Register(strategy Strategy) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.strategies = append(h.strategies, strategy)
}

// RegisterFailureType adds or overrides an event-type -> failure-type
// mapping beyond the four built into §4.6.
func (h *SelfHealer) RegisterFailureType(eventType string, failureType FailureType) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.typeMap[eventType] = failureType
}

// DetectFailure maps eventType to its failure kind (§4.6) and builds a
// Failure record. Unrecognized event types pass through as their own
// FailureType, letting callers extend detection without a prior
// RegisterFailureType call.
func (h *SelfHealer) DetectFailure(eventType, agentID string, severity Severity, event map[string]interface{}) Failure {
	h.mu.Lock()
	ft, ok := h.typeMap[eventType]
	h.mu.Unlock()
	if !ok {
		ft = FailureType(eventType)
	}

	return Failure{
		FailureID:   uuid.NewString(),
		FailureType: ft,
		AgentID:     agentID,
		Severity:    severity,
		DetectedAt:  time.Now(),
		Event:       event,
	}
}

// Heal dispatches f to the first registered strategy whose CanHeal
// predicate matches, records the result in bounded history, and updates
// global + per-type stats atomically.
func (h *SelfHealer) Heal(f Failure) (*HealingResult, error) {
	start := time.Now()

	h.mu.Lock()
	strategies := make([]Strategy, len(h.strategies))
	copy(strategies, h.strategies)
	h.mu.Unlock()

	for _, s := range strategies {
		if !s.CanHeal(f) {
			continue
		}
		result, err := s.Heal(f)
		if err != nil {
			return nil, err
		}
		result.FailureID = f.FailureID
		result.StrategyUsed = s.Name()
		result.Timestamp = time.Now()
		result.DurationMs = time.Since(start).Milliseconds()

		h.record(f.FailureType, result)
		return &result, nil
	}

	return nil, swarmerrors.NewInvalidArgument("no_strategy", fmt.Sprintf("no healing strategy registered for failure type %q", f.FailureType))
}

func (h *SelfHealer) record(failureType FailureType, result HealingResult) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.history = append(h.history, result)
	if size := h.historySize; size > 0 && len(h.history) > size {
		h.history = h.history[len(h.history)-size:]
	}

	n := h.stats.Successes + h.stats.Failures
	h.stats.AvgDurationMs = (h.stats.AvgDurationMs*float64(n) + float64(result.DurationMs)) / float64(n+1)
	if result.Success {
		h.stats.Successes++
	} else {
		h.stats.Failures++
	}

	ts := h.stats.ByType[failureType]
	ts.Attempts++
	if result.Success {
		ts.Successes++
	}
	h.stats.ByType[failureType] = ts
}

// History returns a copy of the bounded healing-result ring.
func (h *SelfHealer) History() []HealingResult {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]HealingResult, len(h.history))
	copy(out, h.history)
	return out
}

// Stats returns a copy of the global healing scoreboard.
func (h *SelfHealer) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	byType := make(map[FailureType]TypeStats, len(h.stats.ByType))
	for k, v := range h.stats.ByType {
		byType[k] = v
	}
	return Stats{
		Successes:     h.stats.Successes,
		Failures:      h.stats.Failures,
		AvgDurationMs: h.stats.AvgDurationMs,
		ByType:        byType,
	}
}
