package metrics

import (
	"fmt"
	"time"
)

// BottleneckConfig tunes the two bottleneck types this package owns.
// token_exhaustion, task_queue_backlog, and quota_exceeded are detected
// by resources.Controller.GetBottlenecks instead (§4.6) since they need
// no metric history, only current budget/queue state.
type BottleneckConfig struct {
	SlowAgentMinSamples   int
	SlowAgentRatio        float64
	ConsensusWindow       int
	ConsensusFailureRatio float64
}

// DefaultBottleneckConfig matches §4.6's defaults.
func DefaultBottleneckConfig() BottleneckConfig {
	return BottleneckConfig{
		SlowAgentMinSamples:   20,
		SlowAgentRatio:        2.0,
		ConsensusWindow:       20,
		ConsensusFailureRatio: 0.3,
	}
}

// BottleneckDetector computes the metrics-history-dependent bottleneck
// types against a Collector's recorded task and swarm metrics.
// Grounded on resources.Controller.GetBottlenecks' severity scale and
// Bottleneck shape, mirrored here as a local type (see Bottleneck).
type BottleneckDetector struct {
	cfg       BottleneckConfig
	collector *Collector
}

// NewBottleneckDetector builds a detector over collector.
func NewBottleneckDetector(cfg BottleneckConfig, collector *Collector) *BottleneckDetector {
	if cfg.SlowAgentMinSamples <= 0 {
		cfg.SlowAgentMinSamples = 20
	}
	if cfg.SlowAgentRatio <= 0 {
		cfg.SlowAgentRatio = 2.0
	}
	if cfg.ConsensusWindow <= 0 {
		cfg.ConsensusWindow = 20
	}
	if cfg.ConsensusFailureRatio <= 0 {
		cfg.ConsensusFailureRatio = 0.3
	}
	return &BottleneckDetector{cfg: cfg, collector: collector}
}

// Bottleneck mirrors resources.Bottleneck's shape; kept as a local type
// so this package has no import-time dependency on internal/resources
// for a single struct shape swarmkernel will merge the two lists of.
type Bottleneck struct {
	Type           string  `json:"type"`
	Severity       string  `json:"severity"`
	Details        string  `json:"details"`
	Recommendation string  `json:"recommendation"`
	Utilization    float64 `json:"utilization,omitempty"`
}

func severityFor(ratio float64) string {
	switch {
	case ratio > 0.9:
		return "critical"
	case ratio > 0.75:
		return "high"
	default:
		return "warning"
	}
}

// severityForSlowness maps a slow-agent's duration ratio (agentMean /
// fleetMean) onto the same warning/high/critical scale: >=5x is
// critical, >=3x is high, the SlowAgentRatio threshold (>=2x) is warning.
func severityForSlowness(ratio float64) string {
	switch {
	case ratio >= 5:
		return "critical"
	case ratio >= 3:
		return "high"
	default:
		return "warning"
	}
}

// SlowAgents flags agents whose mean task duration is at least
// SlowAgentRatio times the fleet mean, requiring SlowAgentMinSamples
// fleet-wide task samples before judging (§4.6).
func (d *BottleneckDetector) SlowAgents() []Bottleneck {
	tasks := d.collector.TaskMetrics(Filter{})
	if len(tasks) < d.cfg.SlowAgentMinSamples {
		return nil
	}

	var fleetTotal float64
	byAgent := make(map[string][]int64)
	for _, tm := range tasks {
		fleetTotal += float64(tm.DurationMs)
		byAgent[tm.AgentID] = append(byAgent[tm.AgentID], tm.DurationMs)
	}
	fleetMean := fleetTotal / float64(len(tasks))
	if fleetMean == 0 {
		return nil
	}

	var out []Bottleneck
	for agentID, durations := range byAgent {
		var sum float64
		for _, v := range durations {
			sum += float64(v)
		}
		agentMean := sum / float64(len(durations))
		if agentMean < d.cfg.SlowAgentRatio*fleetMean {
			continue
		}
		ratio := agentMean / fleetMean
		out = append(out, Bottleneck{
			Type:           "slow_agent",
			Severity:       severityForSlowness(ratio),
			Details:        fmt.Sprintf("agent %s averages %.0fms vs fleet mean %.0fms (%.1fx)", agentID, agentMean, fleetMean, ratio),
			Recommendation: fmt.Sprintf("investigate or rebalance load away from agent %s", agentID),
			Utilization:    ratio,
		})
	}
	return out
}

// ConsensusTimeouts flags a consensus_timeout bottleneck when the
// failure-rate swarm metric over the last ConsensusWindow samples
// meets or exceeds ConsensusFailureRatio (§4.6). Callers feed consensus
// outcomes in via RecordSwarm(SwarmMetric{MetricType: "consensus_result",
// Value: 1 for success, 0 for failure/timeout}).
func (d *BottleneckDetector) ConsensusTimeouts(swarmID string) []Bottleneck {
	raw := d.collector.Query(Filter{Kind: "swarm:consensus_result", SwarmID: swarmID})
	if len(raw) == 0 {
		return nil
	}

	samples := make([]SwarmMetric, 0, len(raw))
	for _, v := range raw {
		if sm, ok := v.(SwarmMetric); ok {
			samples = append(samples, sm)
		}
	}
	if len(samples) > d.cfg.ConsensusWindow {
		samples = samples[len(samples)-d.cfg.ConsensusWindow:]
	}
	if len(samples) < d.cfg.ConsensusWindow {
		return nil
	}

	var failures int
	for _, sm := range samples {
		if sm.Value == 0 {
			failures++
		}
	}
	ratio := float64(failures) / float64(len(samples))
	if ratio < d.cfg.ConsensusFailureRatio {
		return nil
	}

	return []Bottleneck{{
		Type:           "consensus_timeout",
		Severity:       severityFor(ratio),
		Details:        fmt.Sprintf("swarm %s consensus failure rate %.0f%% over last %d rounds", swarmID, ratio*100, len(samples)),
		Recommendation: "inspect quorum health and network partitions for this swarm",
		Utilization:    ratio,
	}}
}

// AnalyzePerformance computes the fleet-wide and per-agent trend labels
// over the window ending now, per §4.6's analyze_performance(window_ms):
// it compares the mean duration of the first and second half of the
// window's task samples via two moving averages.
func (d *BottleneckDetector) AnalyzePerformance(windowMs int64, now time.Time) PerformanceReport {
	since := now.Add(-time.Duration(windowMs) * time.Millisecond)
	tasks := d.collector.TaskMetrics(Filter{Since: since, Until: now})

	report := PerformanceReport{WindowMs: windowMs, Trend: TrendStable, ByAgent: map[string]Trend{}}
	if len(tasks) == 0 {
		return report
	}

	var total float64
	for _, tm := range tasks {
		total += float64(tm.DurationMs)
	}
	report.MeanDurationMs = total / float64(len(tasks))
	report.Trend = trendFor(tasks)

	byAgent := make(map[string][]TaskMetric)
	for _, tm := range tasks {
		byAgent[tm.AgentID] = append(byAgent[tm.AgentID], tm)
	}
	for agentID, ts := range byAgent {
		report.ByAgent[agentID] = trendFor(ts)
	}
	return report
}

// trendFor splits samples (already ordered oldest-first by TaskMetrics)
// into first/second halves and labels improving/degrading/stable based
// on a 10% relative-change threshold between their moving averages.
func trendFor(tasks []TaskMetric) Trend {
	if len(tasks) < 4 {
		return TrendStable
	}
	mid := len(tasks) / 2
	firstMean := meanDuration(tasks[:mid])
	secondMean := meanDuration(tasks[mid:])
	if firstMean == 0 {
		return TrendStable
	}

	delta := (secondMean - firstMean) / firstMean
	switch {
	case delta <= -0.1:
		return TrendImproving
	case delta >= 0.1:
		return TrendDegrading
	default:
		return TrendStable
	}
}

func meanDuration(tasks []TaskMetric) float64 {
	if len(tasks) == 0 {
		return 0
	}
	var sum float64
	for _, tm := range tasks {
		sum += float64(tm.DurationMs)
	}
	return sum / float64(len(tasks))
}
