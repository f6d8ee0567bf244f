// Package pattern implements the statistical pattern-learning and
// predictive-healing layer (spec.md §4.6): an append-only event ring
// feeding four pattern-detection algorithms, a sliding-window matcher,
// and a predictive healer that extends matches into proactive healing
// actions.
//
// Grounded on internal/rnd/patterns/recognizer.go's Pattern/confidence/
// aging model (generalized from cosine-similarity feature vectors to
// the sequence/frequency/correlation/temporal algorithms named by
// §4.6) and internal/rnd/learning/engine.go's feedback-accuracy idiom.
package pattern

import "time"

// Type classifies a learned pattern (§3).
type Type string

const (
	TypeSequence    Type = "sequence"
	TypeFrequency   Type = "frequency"
	TypeCorrelation Type = "correlation"
	TypeTemporal    Type = "temporal"
)

// Event is one entry in the learner's append-only history ring.
type Event struct {
	EventType string                 `json:"event_type"`
	AgentID   string                 `json:"agent_id,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Pattern is a learned regularity (§3).
type Pattern struct {
	PatternID   string                 `json:"pattern_id"`
	PatternType Type                   `json:"pattern_type"`
	Description string                 `json:"description"`
	Events      []string               `json:"events"`
	Confidence  float64                `json:"confidence"`
	Occurrences int                    `json:"occurrences"`
	FirstSeen   time.Time              `json:"first_seen"`
	LastSeen    time.Time              `json:"last_seen"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// Prediction extends a partially matched pattern to its likely next
// event (§3).
type Prediction struct {
	PredictedEventType string                 `json:"predicted_event_type"`
	Probability        float64                `json:"probability"`
	BasedOnPattern     string                 `json:"based_on_pattern"`
	Confidence         float64                `json:"confidence"`
	ExpectedTimeMs     *int64                 `json:"expected_time_ms,omitempty"`
	Metadata           map[string]interface{} `json:"metadata,omitempty"`
}

// Match is one pattern's similarity score against the current window.
type Match struct {
	Pattern    Pattern `json:"pattern"`
	Similarity float64 `json:"similarity"`
}

// PredictedFailure is PredictiveHealing's output: a forecasted failure
// with a blended confidence and the sources that contributed to it.
type PredictedFailure struct {
	FailureType string                 `json:"failure_type"`
	AgentID     string                 `json:"agent_id,omitempty"`
	Confidence  float64                `json:"confidence"`
	Sources     []string               `json:"sources"`
	PredictedAt time.Time              `json:"predicted_at"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}
