package topology

import (
	"github.com/sirupsen/logrus"
)

// AdaptiveManager watches agent count and a rolling performance score and
// decides whether the coordinator should switch modes, per spec.md §4.1.
// Grounded on the teacher's internal/autonomous/hive_coordinator.go
// threshold-driven decision idiom, generalized from its fixed scaling
// rules to a pluggable score function.
type AdaptiveManager struct {
	logger    *logrus.Logger
	coord     *Coordinator
	threshold float64 // performance score below which a switch is considered

	// Size bands drive the mode preferred purely by agent_count; the
	// performance threshold only triggers re-evaluation, it never
	// overrides the size band assignment.
	starMax         int // <= this many agents: star preferred
	ringMax         int // <= this many agents, above starMax: ring preferred
	hierarchicalMin int // > this many agents: hierarchical preferred
	// Between ringMax and hierarchicalMin: mesh preferred.

	enabled bool
}

// AdaptiveConfig configures an AdaptiveManager's size bands and trigger.
type AdaptiveConfig struct {
	Enabled             bool
	PerformanceThreshold float64
	StarMax             int
	RingMax             int
	HierarchicalMin     int
}

// NewAdaptiveManager builds a manager bound to coord.
func NewAdaptiveManager(coord *Coordinator, cfg AdaptiveConfig, logger *logrus.Logger) *AdaptiveManager {
	return &AdaptiveManager{
		logger:          logger,
		coord:           coord,
		threshold:       cfg.PerformanceThreshold,
		starMax:         cfg.StarMax,
		ringMax:         cfg.RingMax,
		hierarchicalMin: cfg.HierarchicalMin,
		enabled:         cfg.Enabled,
	}
}

// preferredMode returns the mode that best fits the given agent count.
func (m *AdaptiveManager) preferredMode(agentCount int) Mode {
	switch {
	case agentCount <= m.starMax:
		return ModeStar
	case agentCount <= m.ringMax:
		return ModeRing
	case agentCount > m.hierarchicalMin:
		return ModeHierarchical
	default:
		return ModeMesh
	}
}

// Evaluate inspects the current agent count and performance score and
// migrates the topology if both (a) the preferred mode for the current
// size differs from the active mode and (b) performance has degraded
// past the configured threshold. It returns true if a migration was
// performed.
func (m *AdaptiveManager) Evaluate(performanceScore float64) (bool, error) {
	if !m.enabled {
		return false, nil
	}

	info := m.coord.GetTopologyInfo()
	preferred := m.preferredMode(info.AgentCount)
	if preferred == info.Mode {
		return false, nil
	}
	if performanceScore >= m.threshold {
		return false, nil
	}

	reason := "performance_score_below_threshold"
	if err := m.coord.Migrate(preferred, reason); err != nil {
		return false, err
	}

	m.logger.WithFields(logrus.Fields{
		"from_mode":         info.Mode,
		"to_mode":           preferred,
		"agent_count":       info.AgentCount,
		"performance_score": performanceScore,
	}).Info("adaptive topology switch")

	return true, nil
}
