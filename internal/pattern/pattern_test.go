package pattern

import (
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moai-flow/swarm-kernel/internal/health"
	"github.com/moai-flow/swarm-kernel/internal/resources"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func TestLearnSequences_MinOccurrencesAndConfidence(t *testing.T) {
	l := NewLearner(LearnerConfig{SequenceN: 2, MinOccurrences: 3, ConfidenceThreshold: 0.6, HistorySize: 100})

	base := time.Now()
	// "a" is always followed by "b": 4 occurrences, confidence 1.0.
	for i := 0; i < 4; i++ {
		l.Ingest(Event{EventType: "a", Timestamp: base.Add(time.Duration(i*2) * time.Second)})
		l.Ingest(Event{EventType: "b", Timestamp: base.Add(time.Duration(i*2+1) * time.Second)})
	}

	patterns := l.Learn()
	found := false
	for _, p := range patterns {
		if p.PatternType == TypeSequence && len(p.Events) == 2 && p.Events[0] == "a" && p.Events[1] == "b" {
			found = true
			assert.GreaterOrEqual(t, p.Confidence, 0.6)
			assert.Equal(t, "b", p.Metadata["next_event_type"])
		}
	}
	assert.True(t, found)
}

func TestLearnFrequency_LowCVIsPeriodic(t *testing.T) {
	l := NewLearner(LearnerConfig{MinOccurrences: 3, HistorySize: 100})

	base := time.Now()
	for i := 0; i < 6; i++ {
		l.Ingest(Event{EventType: "heartbeat", Timestamp: base.Add(time.Duration(i*10) * time.Second)})
	}

	patterns := l.Learn()
	found := false
	for _, p := range patterns {
		if p.PatternType == TypeFrequency && p.Events[0] == "heartbeat" {
			found = true
			assert.Greater(t, p.Confidence, 0.9)
		}
	}
	assert.True(t, found)
}

func TestLearnCorrelation_PairedEvents(t *testing.T) {
	l := NewLearner(LearnerConfig{ConfidenceThreshold: 0.5, CorrelationWindowMs: 5000, HistorySize: 100})

	base := time.Now()
	for i := 0; i < 5; i++ {
		t0 := base.Add(time.Duration(i*20) * time.Second)
		l.Ingest(Event{EventType: "task_submit", Timestamp: t0})
		l.Ingest(Event{EventType: "task_complete", Timestamp: t0.Add(2 * time.Second)})
	}

	patterns := l.Learn()
	found := false
	for _, p := range patterns {
		if p.PatternType == TypeCorrelation && p.Events[0] == "task_submit" && p.Events[1] == "task_complete" {
			found = true
			assert.Equal(t, 5, p.Occurrences)
		}
	}
	assert.True(t, found)
}

func TestLearnTemporal_PeakHourDetected(t *testing.T) {
	l := NewLearner(LearnerConfig{HistorySize: 1000})

	peak := time.Date(2026, 1, 1, 14, 0, 0, 0, time.UTC)
	for i := 0; i < 50; i++ {
		l.Ingest(Event{EventType: "spike", Timestamp: peak.Add(time.Duration(i) * time.Minute)})
	}
	for h := 0; h < 24; h++ {
		if h == 14 {
			continue
		}
		l.Ingest(Event{EventType: "baseline", Timestamp: time.Date(2026, 1, 1, h, 0, 0, 0, time.UTC)})
	}

	patterns := l.Learn()
	found := false
	for _, p := range patterns {
		if p.PatternType == TypeTemporal {
			if hour, ok := p.Metadata["hour"].(int); ok && hour == 14 {
				found = true
			}
		}
	}
	assert.True(t, found)
}

func TestMatcher_LCSAndThreshold(t *testing.T) {
	m := NewMatcher(MatcherConfig{MaxSequenceLength: 5, MatchThreshold: 0.4})
	now := time.Now()
	m.Observe(Event{EventType: "a", Timestamp: now})
	m.Observe(Event{EventType: "b", Timestamp: now})
	m.Observe(Event{EventType: "c", Timestamp: now})

	patterns := map[string]Pattern{
		"p1": {PatternID: "p1", PatternType: TypeSequence, Events: []string{"a", "b", "c"}, Confidence: 0.9, Occurrences: 10, LastSeen: now},
		"p2": {PatternID: "p2", PatternType: TypeSequence, Events: []string{"x", "y", "z"}, Confidence: 0.9, Occurrences: 10, LastSeen: now},
	}

	matches := m.Match(patterns)
	require.NotEmpty(t, matches)
	assert.Equal(t, "p1", matches[0].Pattern.PatternID)
}

func TestMatcher_PredictExtendsSequencePattern(t *testing.T) {
	m := NewMatcher(MatcherConfig{MaxSequenceLength: 5, MatchThreshold: 0.3})
	now := time.Now()
	m.Observe(Event{EventType: "a", Timestamp: now})
	m.Observe(Event{EventType: "b", Timestamp: now})

	patterns := map[string]Pattern{
		"p1": {
			PatternID: "p1", PatternType: TypeSequence, Events: []string{"a", "b"},
			Confidence: 0.8, Occurrences: 20, LastSeen: now,
			Metadata: map[string]interface{}{"next_event_type": "c"},
		},
	}

	predictions := m.Predict(patterns)
	require.Len(t, predictions, 1)
	assert.Equal(t, "c", predictions[0].PredictedEventType)
	assert.Greater(t, predictions[0].Probability, 0.0)
}

func TestPredictiveHealing_BlendsSourcesAndFeedback(t *testing.T) {
	matcher := NewMatcher(MatcherConfig{MaxSequenceLength: 10, MatchThreshold: 0.6})
	now := time.Now()
	matcher.Observe(Event{EventType: "a", Timestamp: now})

	ph := NewPredictiveHealing(PredictiveConfig{ConfidenceThreshold: 0.5, AutoApply: true}, matcher, testLogger())

	patterns := map[string]Pattern{
		"p1": {
			PatternID: "p1", PatternType: TypeSequence, Events: []string{"a"},
			Confidence: 0.9, Occurrences: 50, LastSeen: now,
			Metadata: map[string]interface{}{"next_event_type": "b"},
		},
	}

	controller := resources.NewController(resources.Config{
		TotalBudget: 1000, WarningThreshold1: 700, WarningThreshold2: 900,
		DefaultSwarmLimit: 500, ReserveBuffer: 50, SwarmWarningRatio: 0.75, SwarmCriticalRatio: 0.9,
		BacklogThreshold: 1, HighPriorityShareMax: 0.2, QuotaWarningRatio: 0.9,
	}, testLogger(), nil)

	monitor := health.NewHeartbeatMonitor(health.Config{IntervalMs: 1000, FailureThreshold: 3, CheckInterval: time.Hour}, testLogger(), nil)
	monitor.StartMonitoring("agent1", 1000, 3)

	failures := ph.PredictFailures(patterns, controller, monitor)
	require.NotEmpty(t, failures)

	before := ph.accuracyFor("p1")
	ph.RecordPredictionOutcome("p1", true)
	after := ph.accuracyFor("p1")
	assert.Greater(t, after, before)

	ph.RecordPredictionOutcome("p1", false)
	ph.RecordPredictionOutcome("p1", false)
	lowered := ph.accuracyFor("p1")
	assert.Less(t, lowered, after)
}

func TestPredictiveHealing_ShouldAutoApply(t *testing.T) {
	matcher := NewMatcher(DefaultMatcherConfig())
	ph := NewPredictiveHealing(PredictiveConfig{ConfidenceThreshold: 0.7, AutoApply: true}, matcher, testLogger())

	assert.True(t, ph.ShouldAutoApply(PredictedFailure{Confidence: 0.8}))
	assert.False(t, ph.ShouldAutoApply(PredictedFailure{Confidence: 0.5}))

	ph2 := NewPredictiveHealing(PredictiveConfig{ConfidenceThreshold: 0.7, AutoApply: false}, matcher, testLogger())
	assert.False(t, ph2.ShouldAutoApply(PredictedFailure{Confidence: 0.9}))
}
