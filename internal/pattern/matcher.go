package pattern

import (
	"math"
	"sort"
	"sync"
)

// MatcherConfig tunes the sliding window and match threshold (§4.6).
type MatcherConfig struct {
	MaxSequenceLength int
	MatchThreshold    float64
}

// DefaultMatcherConfig matches §4.6's defaults.
func DefaultMatcherConfig() MatcherConfig {
	return MatcherConfig{MaxSequenceLength: 10, MatchThreshold: 0.8}
}

// Matcher maintains a sliding window of recent events and scores it
// against a loaded pattern set (§4.6). Grounded on
// internal/rnd/patterns/recognizer.go's cosine-similarity matching,
// generalized to the composite LCS/metadata/temporal formula §4.6
// specifies.
type Matcher struct {
	cfg MatcherConfig

	mu     sync.Mutex
	window []Event
}

// NewMatcher builds an empty matcher.
func NewMatcher(cfg MatcherConfig) *Matcher {
	if cfg.MaxSequenceLength <= 0 {
		cfg.MaxSequenceLength = 10
	}
	if cfg.MatchThreshold <= 0 {
		cfg.MatchThreshold = 0.8
	}
	return &Matcher{cfg: cfg}
}

// Observe pushes e onto the sliding window, dropping the oldest entry
// once MaxSequenceLength is reached.
func (m *Matcher) Observe(e Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.window = append(m.window, e)
	if len(m.window) > m.cfg.MaxSequenceLength {
		m.window = m.window[len(m.window)-m.cfg.MaxSequenceLength:]
	}
}

// Window returns a copy of the current sliding window.
func (m *Matcher) Window() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.window))
	copy(out, m.window)
	return out
}

// Match scores the current window against every pattern in patterns,
// returning those at or above MatchThreshold sorted by descending
// similarity (§4.6).
func (m *Matcher) Match(patterns map[string]Pattern) []Match {
	window := m.Window()
	currentTypes := make([]string, len(window))
	for i, e := range window {
		currentTypes[i] = e.EventType
	}

	var out []Match
	for _, p := range patterns {
		sim := m.similarity(currentTypes, window, p)
		if sim >= m.cfg.MatchThreshold {
			out = append(out, Match{Pattern: p, Similarity: sim})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	return out
}

// similarity implements §4.6's composite formula:
//
//	0.5 * LCS(current, pattern) / max(len) + 0.3 * metadata_similarity
//	  + 0.2 * temporal_similarity
func (m *Matcher) similarity(currentTypes []string, window []Event, p Pattern) float64 {
	maxLen := len(currentTypes)
	if len(p.Events) > maxLen {
		maxLen = len(p.Events)
	}
	if maxLen == 0 {
		return 0
	}

	lcsScore := float64(lcsLength(currentTypes, p.Events)) / float64(maxLen)
	metaScore := metadataSimilarity(window, p)
	temporalScore := temporalSimilarity(window, p)

	return 0.5*lcsScore + 0.3*metaScore + 0.2*temporalScore
}

// lcsLength computes the longest common subsequence length between two
// string slices via the standard O(n*m) dynamic program.
func lcsLength(a, b []string) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				curr[j] = prev[j-1] + 1
			} else if prev[j] >= curr[j-1] {
				curr[j] = prev[j]
			} else {
				curr[j] = curr[j-1]
			}
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

// metadataSimilarity compares the numeric-feature centroid of the
// current window against the pattern's stored numeric metadata via
// cosine similarity, the same vector comparison
// internal/rnd/patterns/recognizer.go uses for its feature maps.
func metadataSimilarity(window []Event, p Pattern) float64 {
	windowFeatures := make(map[string]float64)
	count := 0
	for _, e := range window {
		for k, v := range e.Metadata {
			if f, ok := toFloat(v); ok {
				windowFeatures[k] += f
				count++
			}
		}
	}
	if count == 0 {
		return 0
	}
	for k := range windowFeatures {
		windowFeatures[k] /= float64(len(window))
	}

	patternFeatures := make(map[string]float64)
	for k, v := range p.Metadata {
		if f, ok := toFloat(v); ok {
			patternFeatures[k] = f
		}
	}
	if len(patternFeatures) == 0 {
		return 0
	}

	return cosineSimilarity(windowFeatures, patternFeatures)
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func cosineSimilarity(a, b map[string]float64) float64 {
	var dot, magA, magB float64
	keys := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		keys[k] = struct{}{}
	}
	for k := range b {
		keys[k] = struct{}{}
	}
	for k := range keys {
		av, bv := a[k], b[k]
		dot += av * bv
		magA += av * av
		magB += bv * bv
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}

// temporalSimilarity compares the window's mean hour-of-day against the
// pattern's recorded hour (for temporal patterns) or its last-seen hour
// otherwise, scaled so a 12-hour difference scores 0.
func temporalSimilarity(window []Event, p Pattern) float64 {
	if len(window) == 0 {
		return 0
	}
	var sumHour float64
	for _, e := range window {
		sumHour += float64(e.Timestamp.Hour())
	}
	currentHour := sumHour / float64(len(window))

	var patternHour float64
	if h, ok := p.Metadata["hour"].(int); ok {
		patternHour = float64(h)
	} else if !p.LastSeen.IsZero() {
		patternHour = float64(p.LastSeen.Hour())
	} else {
		return 0
	}

	diff := math.Abs(currentHour - patternHour)
	if diff > 12 {
		diff = 24 - diff
	}
	return math.Max(0, 1-diff/12)
}

// Predict extends every pattern matched against the current window to
// its likely next event (§4.6). Only sequence patterns carry a
// next_event_type, so other kinds never produce a prediction.
func (m *Matcher) Predict(patterns map[string]Pattern) []Prediction {
	matches := m.Match(patterns)

	var out []Prediction
	for _, match := range matches {
		next, ok := match.Pattern.Metadata["next_event_type"].(string)
		if !ok || next == "" {
			continue
		}
		probability := 0.4*match.Pattern.Confidence + 0.4*match.Similarity + 0.2*math.Min(float64(match.Pattern.Occurrences)/100, 1)
		out = append(out, Prediction{
			PredictedEventType: next,
			Probability:        probability,
			BasedOnPattern:     match.Pattern.PatternID,
			Confidence:         match.Pattern.Confidence,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Probability > out[j].Probability })
	return out
}
