package pattern

import (
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/moai-flow/swarm-kernel/internal/health"
	"github.com/moai-flow/swarm-kernel/internal/resources"
)

// BottleneckSource is the capability PredictiveHealing uses to read
// resource-pressure trends, satisfied by *resources.Controller and by
// any metrics-layer bottleneck detector contributing the types that
// package documents as outside resources.Controller.GetBottlenecks's
// scope (slow_agent, consensus_timeout).
type BottleneckSource interface {
	GetBottlenecks() []resources.Bottleneck
}

// HealthSource is the capability PredictiveHealing uses to read
// fleet-wide agent-health trends, satisfied by *health.HeartbeatMonitor.
type HealthSource interface {
	Snapshot() map[string]health.Record
}

// PredictiveConfig tunes PredictiveHealing (§4.6).
type PredictiveConfig struct {
	ConfidenceThreshold float64
	AutoApply           bool
}

// DefaultPredictiveConfig matches §4.6's defaults.
func DefaultPredictiveConfig() PredictiveConfig {
	return PredictiveConfig{ConfidenceThreshold: 0.7, AutoApply: false}
}

// outcomeAccuracy tracks a pattern's exponentially-weighted prediction
// accuracy, fed by RecordPredictionOutcome.
type outcomeAccuracy struct {
	accuracy float64
	samples  int
}

// PredictiveHealing combines pattern matches, resource trends,
// agent-health degradation, and queue-depth trends into forecasted
// failures (§4.6). Grounded on internal/rnd/learning/engine.go's
// feedback-driven confidence adjustment, generalized from a single
// learning-rate scalar to a per-pattern accuracy map.
type PredictiveHealing struct {
	cfg     PredictiveConfig
	matcher *Matcher
	logger  *logrus.Logger

	mu       sync.Mutex
	accuracy map[string]*outcomeAccuracy
}

// NewPredictiveHealing builds a predictor bound to matcher, which it
// consults for pattern-based evidence.
func NewPredictiveHealing(cfg PredictiveConfig, matcher *Matcher, logger *logrus.Logger) *PredictiveHealing {
	if cfg.ConfidenceThreshold <= 0 {
		cfg.ConfidenceThreshold = 0.7
	}
	return &PredictiveHealing{
		cfg:      cfg,
		matcher:  matcher,
		logger:   logger,
		accuracy: make(map[string]*outcomeAccuracy),
	}
}

// PredictFailures blends pattern matches against patterns, resource
// trends from bottlenecks, fleet health from healthSrc, and the
// current queue depth into PredictedFailure records (§4.6). Any
// capability argument may be nil; that source simply contributes
// nothing.
func (p *PredictiveHealing) PredictFailures(patterns map[string]Pattern, bottlenecks BottleneckSource, healthSrc HealthSource) []PredictedFailure {
	now := time.Now()
	var out []PredictedFailure

	predictions := p.matcher.Predict(patterns)
	for _, pred := range predictions {
		patternScore := pred.Probability
		historicalAccuracy := p.accuracyFor(pred.BasedOnPattern)
		recency := recencyFactor(patterns[pred.BasedOnPattern].LastSeen, now)

		confidence := 0.5*patternScore + 0.3*historicalAccuracy + 0.2*recency
		out = append(out, PredictedFailure{
			FailureType: pred.PredictedEventType,
			Confidence:  confidence,
			Sources:     []string{"pattern_match"},
			PredictedAt: now,
			Metadata:    map[string]interface{}{"based_on_pattern": pred.BasedOnPattern},
		})
	}

	if bottlenecks != nil {
		for _, b := range bottlenecks.GetBottlenecks() {
			if b.Severity != "critical" && b.Severity != "high" {
				continue
			}
			confidence := 0.5*b.Utilization + 0.3*p.accuracyFor(b.Type) + 0.2*recencyFactor(now, now)
			out = append(out, PredictedFailure{
				FailureType: "resource_exhaustion",
				Confidence:  confidence,
				Sources:     []string{"bottleneck:" + b.Type},
				PredictedAt: now,
				Metadata:    map[string]interface{}{"recommendation": b.Recommendation, "utilization": b.Utilization},
			})
		}
	}

	if healthSrc != nil {
		for agentID, rec := range healthSrc.Snapshot() {
			if rec.LastState != health.StateDegraded && rec.LastState != health.StateCritical {
				continue
			}
			severity := 0.5
			if rec.LastState == health.StateCritical {
				severity = 0.85
			}
			confidence := 0.5*severity + 0.3*p.accuracyFor("agent_failed:"+agentID) + 0.2*recencyFactor(rec.LastHeartbeat, now)
			out = append(out, PredictedFailure{
				FailureType: "agent_failed",
				AgentID:     agentID,
				Confidence:  confidence,
				Sources:     []string{"health_degradation"},
				PredictedAt: now,
			})
		}
	}

	return out
}

// accuracyFor returns patternID's historical accuracy, defaulting to
// 0.5 (no evidence either way) when never observed.
func (p *PredictiveHealing) accuracyFor(patternID string) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	acc, ok := p.accuracy[patternID]
	if !ok {
		return 0.5
	}
	return acc.accuracy
}

// RecordPredictionOutcome feeds back whether a prediction attributed to
// patternID turned out correct, nudging that pattern's future
// contribution to confidence via an exponential moving average. A
// pattern with repeated false positives converges toward 0, reducing
// PredictFailures's confidence for it.
func (p *PredictiveHealing) RecordPredictionOutcome(patternID string, correct bool) {
	const alpha = 0.3

	p.mu.Lock()
	defer p.mu.Unlock()

	acc, ok := p.accuracy[patternID]
	if !ok {
		acc = &outcomeAccuracy{accuracy: 0.5}
		p.accuracy[patternID] = acc
	}

	observed := 0.0
	if correct {
		observed = 1.0
	}
	acc.accuracy = alpha*observed + (1-alpha)*acc.accuracy
	acc.samples++
}

// ShouldAutoApply reports whether f clears the auto-apply bar (§4.6).
func (p *PredictiveHealing) ShouldAutoApply(f PredictedFailure) bool {
	return p.cfg.AutoApply && f.Confidence >= p.cfg.ConfidenceThreshold
}

func recencyFactor(t, now time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	age := now.Sub(t)
	if age < 0 {
		age = 0
	}
	return math.Max(0, 1-age.Hours()/24.0)
}
