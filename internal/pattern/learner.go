package pattern

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// LearnerConfig tunes the four pattern algorithms (§4.6).
type LearnerConfig struct {
	HistorySize         int
	SequenceN           int
	MinOccurrences      int
	ConfidenceThreshold float64
	CorrelationWindowMs int64
}

// DefaultLearnerConfig matches §4.6's defaults.
func DefaultLearnerConfig() LearnerConfig {
	return LearnerConfig{
		HistorySize:         1000,
		SequenceN:           3,
		MinOccurrences:      3,
		ConfidenceThreshold: 0.6,
		CorrelationWindowMs: 60000,
	}
}

// Learner ingests an append-only event ring and computes sequence,
// frequency, correlation, and temporal patterns on demand (§4.6).
// Grounded on internal/rnd/patterns/recognizer.go's Recognizer, which
// owns an equivalent in-process pattern set behind a single mutex.
type Learner struct {
	cfg LearnerConfig

	mu       sync.Mutex
	events   []Event
	patterns map[string]Pattern
}

// NewLearner builds an empty learner.
func NewLearner(cfg LearnerConfig) *Learner {
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 1000
	}
	if cfg.SequenceN <= 0 {
		cfg.SequenceN = 3
	}
	if cfg.MinOccurrences <= 0 {
		cfg.MinOccurrences = 3
	}
	if cfg.ConfidenceThreshold <= 0 {
		cfg.ConfidenceThreshold = 0.6
	}
	if cfg.CorrelationWindowMs <= 0 {
		cfg.CorrelationWindowMs = 60000
	}
	return &Learner{cfg: cfg, patterns: make(map[string]Pattern)}
}

// Ingest appends an event to the bounded ring.
func (l *Learner) Ingest(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
	if len(l.events) > l.cfg.HistorySize {
		l.events = l.events[len(l.events)-l.cfg.HistorySize:]
	}
}

// Events returns a copy of the current history ring.
func (l *Learner) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

// Patterns returns a copy of the currently learned pattern set.
func (l *Learner) Patterns() map[string]Pattern {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]Pattern, len(l.patterns))
	for k, v := range l.patterns {
		out[k] = v
	}
	return out
}

// Learn recomputes all four pattern kinds over the current event ring
// and replaces the learned set with the result.
func (l *Learner) Learn() []Pattern {
	l.mu.Lock()
	events := make([]Event, len(l.events))
	copy(events, l.events)
	l.mu.Unlock()

	var found []Pattern
	found = append(found, l.learnSequences(events)...)
	found = append(found, l.learnFrequency(events)...)
	found = append(found, l.learnCorrelation(events)...)
	found = append(found, l.learnTemporal(events)...)

	l.mu.Lock()
	previous := l.patterns
	l.mu.Unlock()

	now := time.Now()
	merged := make(map[string]Pattern, len(found))
	for _, p := range found {
		if existing, ok := existingByType(previous, p.PatternType, p.Events); ok {
			p.PatternID = existing.PatternID
			p.FirstSeen = existing.FirstSeen
		} else {
			p.PatternID = uuid.NewString()
			p.FirstSeen = now
		}
		p.LastSeen = now
		merged[p.PatternID] = p
	}

	l.mu.Lock()
	l.patterns = merged
	l.mu.Unlock()

	sort.Slice(found, func(i, j int) bool { return found[i].Confidence > found[j].Confidence })
	return found
}

func existingByType(patterns map[string]Pattern, t Type, events []string) (Pattern, bool) {
	for _, p := range patterns {
		if p.PatternType != t || len(p.Events) != len(events) {
			continue
		}
		match := true
		for i := range events {
			if p.Events[i] != events[i] {
				match = false
				break
			}
		}
		if match {
			return p, true
		}
	}
	return Pattern{}, false
}

// learnSequences finds n-grams whose conditional continuation
// probability (next-symbol frequency / prefix frequency) exceeds
// ConfidenceThreshold after at least MinOccurrences sightings (§4.6).
func (l *Learner) learnSequences(events []Event) []Pattern {
	n := l.cfg.SequenceN
	if len(events) < n {
		return nil
	}

	prefixCounts := make(map[string]int)
	ngramCounts := make(map[string]int)
	ngramNext := make(map[string]string)

	key := func(types []string) string {
		out := ""
		for i, t := range types {
			if i > 0 {
				out += "\x1f"
			}
			out += t
		}
		return out
	}

	for i := 0; i+n <= len(events); i++ {
		prefix := make([]string, n-1)
		for j := 0; j < n-1; j++ {
			prefix[j] = events[i+j].EventType
		}
		full := append(append([]string{}, prefix...), events[i+n-1].EventType)

		pk := key(prefix)
		fk := key(full)
		prefixCounts[pk]++
		ngramCounts[fk]++
		ngramNext[fk] = events[i+n-1].EventType
	}

	var out []Pattern
	for fk, count := range ngramCounts {
		if count < l.cfg.MinOccurrences {
			continue
		}
		var prefix string
		if idx := lastSeparator(fk); idx >= 0 {
			prefix = fk[:idx]
		}
		prefixCount := prefixCounts[prefix]
		if prefixCount == 0 {
			continue
		}
		confidence := float64(count) / float64(prefixCount)
		if confidence <= l.cfg.ConfidenceThreshold {
			continue
		}

		types := splitKey(fk)
		out = append(out, Pattern{
			PatternType: TypeSequence,
			Description: fmt.Sprintf("sequence %v occurs with continuation confidence %.2f", types, confidence),
			Events:      types,
			Confidence:  confidence,
			Occurrences: count,
			Metadata:    map[string]interface{}{"next_event_type": ngramNext[fk]},
		})
	}
	return out
}

func lastSeparator(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '\x1f' {
			return i
		}
	}
	return -1
}

func splitKey(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\x1f' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}

// learnFrequency records a periodic pattern per event type when the
// coefficient of variation of inter-arrival intervals is below 0.25
// (§4.6), confidence = 1 - CV.
func (l *Learner) learnFrequency(events []Event) []Pattern {
	byType := make(map[string][]time.Time)
	for _, e := range events {
		byType[e.EventType] = append(byType[e.EventType], e.Timestamp)
	}

	var out []Pattern
	for eventType, times := range byType {
		if len(times) < l.cfg.MinOccurrences+1 {
			continue
		}
		sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })

		intervals := make([]float64, 0, len(times)-1)
		for i := 1; i < len(times); i++ {
			intervals = append(intervals, times[i].Sub(times[i-1]).Seconds())
		}

		mean, stdev := meanStdev(intervals)
		if mean == 0 {
			continue
		}
		cv := stdev / mean
		if cv >= 0.25 {
			continue
		}

		out = append(out, Pattern{
			PatternType: TypeFrequency,
			Description: fmt.Sprintf("%s recurs every ~%.1fs (CV=%.2f)", eventType, mean, cv),
			Events:      []string{eventType},
			Confidence:  1 - cv,
			Occurrences: len(times),
			Metadata:    map[string]interface{}{"mean_interval_s": mean, "stdev_interval_s": stdev},
		})
	}
	return out
}

// learnCorrelation finds event-type pairs (A,B) where B reliably
// follows A within CorrelationWindowMs (§4.6).
func (l *Learner) learnCorrelation(events []Event) []Pattern {
	byType := make(map[string][]time.Time)
	var types []string
	seen := make(map[string]bool)
	for _, e := range events {
		byType[e.EventType] = append(byType[e.EventType], e.Timestamp)
		if !seen[e.EventType] {
			seen[e.EventType] = true
			types = append(types, e.EventType)
		}
	}
	for _, ts := range byType {
		sort.Slice(ts, func(i, j int) bool { return ts[i].Before(ts[j]) })
	}
	sort.Strings(types)

	window := time.Duration(l.cfg.CorrelationWindowMs) * time.Millisecond

	var out []Pattern
	for _, a := range types {
		for _, b := range types {
			if a == b {
				continue
			}
			timesA, timesB := byType[a], byType[b]
			pairs := countPairsWithinWindow(timesA, timesB, window)
			if pairs == 0 {
				continue
			}
			denom := len(timesA)
			if len(timesB) < denom {
				denom = len(timesB)
			}
			if denom == 0 {
				continue
			}
			confidence := float64(pairs) / float64(denom)
			if confidence < l.cfg.ConfidenceThreshold {
				continue
			}
			out = append(out, Pattern{
				PatternType: TypeCorrelation,
				Description: fmt.Sprintf("%s is followed by %s within %s", a, b, window),
				Events:      []string{a, b},
				Confidence:  confidence,
				Occurrences: pairs,
			})
		}
	}
	return out
}

// countPairsWithinWindow counts (a,b) pairs with 0 < b-a <= window using
// a two-pointer sweep over both sorted timestamp lists (O(n log n) total
// including the sort, per §4.6's complexity bound).
func countPairsWithinWindow(a, b []time.Time, window time.Duration) int {
	count := 0
	j := 0
	for _, ta := range a {
		if j < 0 {
			j = 0
		}
		for j < len(b) && !b[j].After(ta) {
			j++
		}
		k := j
		for k < len(b) && b[k].Sub(ta) <= window {
			count++
			k++
		}
	}
	return count
}

// learnTemporal buckets events by hour-of-day; a bucket is a pattern
// when its density exceeds the mean density by >= 2 standard
// deviations (§4.6).
func (l *Learner) learnTemporal(events []Event) []Pattern {
	if len(events) == 0 {
		return nil
	}

	var counts [24]int
	for _, e := range events {
		counts[e.Timestamp.Hour()]++
	}

	densities := make([]float64, 24)
	for i, c := range counts {
		densities[i] = float64(c)
	}
	mean, stdev := meanStdev(densities)
	if stdev == 0 {
		return nil
	}

	var out []Pattern
	for hour, density := range densities {
		if density-mean < 2*stdev {
			continue
		}
		out = append(out, Pattern{
			PatternType: TypeTemporal,
			Description: fmt.Sprintf("event volume peaks at hour %02d:00 (%.0f vs mean %.1f)", hour, density, mean),
			Events:      []string{fmt.Sprintf("hour:%02d", hour)},
			Confidence:  math.Min(1.0, (density-mean)/(mean+1)),
			Occurrences: counts[hour],
			Metadata:    map[string]interface{}{"hour": hour, "density": density, "mean_density": mean, "stdev_density": stdev},
		})
	}
	return out
}

func meanStdev(values []float64) (mean, stdev float64) {
	if len(values) == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean = sum / float64(len(values))

	var sqSum float64
	for _, v := range values {
		d := v - mean
		sqSum += d * d
	}
	stdev = math.Sqrt(sqSum / float64(len(values)))
	return mean, stdev
}
