package metrics

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// record is the internal envelope every metric kind is normalized into
// before storage, so Query can filter across kinds uniformly.
type record struct {
	kind      string
	agentID   string
	swarmID   string
	timestamp time.Time
	payload   interface{}
}

// AsyncConfig tunes the optional buffered writer path. Grounded on the
// teacher's internal/security/ratelimit.go rate.Limiter idiom: a single
// shared limiter paces the drain loop so a burst of metric submissions
// cannot starve whatever Query callers are reading concurrently.
type AsyncConfig struct {
	Enabled    bool
	BufferSize int
	RatePerSec float64
	Burst      int
}

// DefaultAsyncConfig disables async writing; callers opt in explicitly.
func DefaultAsyncConfig() AsyncConfig {
	return AsyncConfig{Enabled: false, BufferSize: 1024, RatePerSec: 200, Burst: 50}
}

// Sink durably persists the records a Collector accepts, so a process
// restart does not lose anything the in-process log would otherwise
// discard. Implemented by internal/metricsstore.Store; declared here as
// an interface (rather than imported) since that package already
// imports this one for the TaskMetric/AgentMetric/SwarmMetric types.
type Sink interface {
	SaveTask(ctx context.Context, m TaskMetric) error
	SaveAgent(ctx context.Context, m AgentMetric) error
	SaveSwarm(ctx context.Context, m SwarmMetric) error
}

// Collector is the MetricsCollector (spec.md §4.7): it accepts
// TaskMetric/AgentMetric/SwarmMetric records either synchronously or,
// when AsyncConfig.Enabled, onto a buffered channel drained by a
// dedicated worker goroutine, and serves them back through Query.
// Grounded on internal/monitoring/monitor.go's running-flag/mutex
// lifecycle, generalized from one fixed snapshot struct to an
// append-only record log, and on internal/rnd/module.go's
// ctx/cancel/stopCh/doneCh background-loop idiom for the async writer.
type Collector struct {
	logger *logrus.Logger

	mu      sync.RWMutex
	records []record
	sink    Sink

	async   AsyncConfig
	limiter *rate.Limiter
	queue   chan record
	ctx     context.Context
	cancel  context.CancelFunc
	doneCh  chan struct{}
}

// SetSink wires a durable Sink. Every record, whether it arrives
// synchronously or through the async drain loop, is flushed to it right
// after it lands in the in-process log. Flush failures are logged, not
// returned, since RecordTask/RecordAgent/RecordSwarm callers don't
// expect an error back.
func (c *Collector) SetSink(sink Sink) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sink = sink
}

// NewCollector builds a collector. When async.Enabled, Start must be
// called to launch the drain worker; Close stops it.
func NewCollector(async AsyncConfig, logger *logrus.Logger) *Collector {
	if async.BufferSize <= 0 {
		async.BufferSize = 1024
	}
	if async.RatePerSec <= 0 {
		async.RatePerSec = 200
	}
	if async.Burst <= 0 {
		async.Burst = 50
	}
	c := &Collector{logger: logger, async: async}
	if async.Enabled {
		c.limiter = rate.NewLimiter(rate.Limit(async.RatePerSec), async.Burst)
		c.queue = make(chan record, async.BufferSize)
	}
	return c
}

// Start launches the async drain worker. No-op if async writing is
// disabled.
func (c *Collector) Start(ctx context.Context) {
	if !c.async.Enabled {
		return
	}
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.doneCh = make(chan struct{})
	go c.drainLoop()
}

// Close stops the async drain worker and waits for it to flush.
func (c *Collector) Close() {
	if !c.async.Enabled || c.cancel == nil {
		return
	}
	c.cancel()
	<-c.doneCh
}

func (c *Collector) drainLoop() {
	defer close(c.doneCh)
	for {
		select {
		case <-c.ctx.Done():
			c.drainRemaining()
			return
		case r := <-c.queue:
			if err := c.limiter.Wait(c.ctx); err != nil {
				c.drainRemaining()
				return
			}
			c.append(r)
		}
	}
}

func (c *Collector) drainRemaining() {
	for {
		select {
		case r := <-c.queue:
			c.append(r)
		default:
			return
		}
	}
}

func (c *Collector) append(r record) {
	c.mu.Lock()
	c.records = append(c.records, r)
	sink := c.sink
	c.mu.Unlock()

	if sink == nil {
		return
	}
	if err := flushToSink(sink, r); err != nil {
		c.logger.WithField("kind", r.kind).WithError(err).Warn("failed to flush metric to durable sink")
	}
}

func flushToSink(sink Sink, r record) error {
	ctx := context.Background()
	switch p := r.payload.(type) {
	case TaskMetric:
		return sink.SaveTask(ctx, p)
	case AgentMetric:
		return sink.SaveAgent(ctx, p)
	case SwarmMetric:
		return sink.SaveSwarm(ctx, p)
	default:
		return nil
	}
}

func (c *Collector) submit(r record) {
	if !c.async.Enabled {
		c.append(r)
		return
	}
	select {
	case c.queue <- r:
	default:
		c.logger.WithField("kind", r.kind).Warn("metrics queue full, dropping record")
	}
}

// RecordTask ingests a TaskMetric.
func (c *Collector) RecordTask(m TaskMetric) {
	c.submit(record{kind: "task", agentID: m.AgentID, timestamp: m.Timestamp, payload: m})
}

// RecordAgent ingests an AgentMetric.
func (c *Collector) RecordAgent(m AgentMetric) {
	c.submit(record{kind: "agent:" + m.MetricType, agentID: m.AgentID, timestamp: m.Timestamp, payload: m})
}

// RecordSwarm ingests a SwarmMetric.
func (c *Collector) RecordSwarm(m SwarmMetric) {
	c.submit(record{kind: "swarm:" + m.MetricType, swarmID: m.SwarmID, timestamp: m.Timestamp, payload: m})
}

// Query returns every record matching the filter, oldest first.
// Supports filtering by (kind, time-range, agent_id?, swarm_id?) per
// spec.md §6.
func (c *Collector) Query(f Filter) []interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []interface{}
	for _, r := range c.records {
		if f.Kind != "" && r.kind != f.Kind {
			continue
		}
		if !f.Since.IsZero() && r.timestamp.Before(f.Since) {
			continue
		}
		if !f.Until.IsZero() && r.timestamp.After(f.Until) {
			continue
		}
		if f.AgentID != "" && r.agentID != f.AgentID {
			continue
		}
		if f.SwarmID != "" && r.swarmID != f.SwarmID {
			continue
		}
		out = append(out, r.payload)
	}
	return out
}

// TaskMetrics returns the TaskMetric payloads matching the filter,
// sorted oldest-first. Convenience wrapper over Query for callers that
// already know they want tasks (the BottleneckDetector and
// PatternLearner feed paths).
func (c *Collector) TaskMetrics(f Filter) []TaskMetric {
	f.Kind = "task"
	raw := c.Query(f)
	out := make([]TaskMetric, 0, len(raw))
	for _, v := range raw {
		if tm, ok := v.(TaskMetric); ok {
			out = append(out, tm)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}
