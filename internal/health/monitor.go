package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Config tunes a HeartbeatMonitor's defaults (spec.md §4.5, §6's
// heartbeat.* settings).
type Config struct {
	IntervalMs       int64
	FailureThreshold int
	HistorySize      int
	CheckInterval    time.Duration
	// InitialState is HEALTHY or UNKNOWN; see DESIGN.md Open Question
	// Decision #2.
	InitialState State
}

// HeartbeatMonitor tracks per-agent liveness via a background daemon
// (spec.md §4.5). Grounded on internal/monitoring/monitor.go's
// ticker-driven collection loop and running/mutex start-stop guard,
// generalized from a single system snapshot into per-agent records.
type HeartbeatMonitor struct {
	cfg     Config
	logger  *logrus.Logger
	onAlert AlertFunc

	mu      sync.Mutex
	records map[string]*Record

	ctx     context.Context
	cancel  context.CancelFunc
	stopCh  chan struct{}
	doneCh  chan struct{}
	running bool
}

// NewHeartbeatMonitor builds a monitor. onAlert may be nil.
func NewHeartbeatMonitor(cfg Config, logger *logrus.Logger, onAlert AlertFunc) *HeartbeatMonitor {
	if onAlert == nil {
		onAlert = func(string, State, time.Duration) {}
	}
	if cfg.InitialState == "" {
		cfg.InitialState = StateHealthy
	}
	return &HeartbeatMonitor{
		cfg:     cfg,
		logger:  logger,
		onAlert: onAlert,
		records: make(map[string]*Record),
	}
}

// StartMonitoring registers agentID with no heartbeat yet recorded; it
// reads as cfg.InitialState until its first heartbeat is recorded (§4.5).
func (m *HeartbeatMonitor) StartMonitoring(agentID string, intervalMs int64, failureThreshold int) {
	if intervalMs <= 0 {
		intervalMs = m.cfg.IntervalMs
	}
	if failureThreshold <= 0 {
		failureThreshold = m.cfg.FailureThreshold
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[agentID] = &Record{
		AgentID:          agentID,
		IntervalMs:       intervalMs,
		FailureThreshold: failureThreshold,
		LastState:        m.cfg.InitialState,
		History:          make([]HistoryEntry, 0, m.cfg.HistorySize),
	}
}

// StopMonitoring removes agentID from tracking.
func (m *HeartbeatMonitor) StopMonitoring(agentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, agentID)
}

// RecordHeartbeat is the wait-free hot path: it updates LastHeartbeat and
// immediately recomputes state, so a late-arriving heartbeat is reflected
// without waiting for the next background tick.
func (m *HeartbeatMonitor) RecordHeartbeat(agentID string, metadata map[string]interface{}) error {
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[agentID]
	if !ok {
		return fmt.Errorf("agent %q is not being monitored", agentID)
	}

	previous := rec.LastState
	rec.LastHeartbeat = now
	rec.LastState = StateHealthy
	m.appendHistoryLocked(rec, HistoryEntry{Timestamp: now, State: StateHealthy, Metadata: metadata})

	if previous != StateHealthy {
		m.logger.WithFields(logrus.Fields{"agent_id": agentID, "from": previous}).Info("heartbeat recovery")
	}
	return nil
}

// GetAgentStatus returns a copy of agentID's record.
func (m *HeartbeatMonitor) GetAgentStatus(agentID string) (Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[agentID]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// Snapshot returns a copy of every monitored agent's current record, for
// callers (e.g. predictive healing) that need a fleet-wide view rather
// than a single agent's status.
func (m *HeartbeatMonitor) Snapshot() map[string]Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Record, len(m.records))
	for id, rec := range m.records {
		out[id] = *rec
	}
	return out
}

// computeState implements the elapsed-time state machine (§4.5): HEALTHY
// below one interval, DEGRADED below two, CRITICAL below
// failure_threshold intervals, FAILED otherwise.
func computeState(elapsed time.Duration, intervalMs int64, failureThreshold int) State {
	interval := time.Duration(intervalMs) * time.Millisecond
	switch {
	case elapsed < interval:
		return StateHealthy
	case elapsed < 2*interval:
		return StateDegraded
	case elapsed < time.Duration(failureThreshold)*interval:
		return StateCritical
	default:
		return StateFailed
	}
}

func (m *HeartbeatMonitor) appendHistoryLocked(rec *Record, entry HistoryEntry) {
	size := m.cfg.HistorySize
	if size <= 0 {
		size = 100
	}
	rec.History = append(rec.History, entry)
	if len(rec.History) > size {
		rec.History = rec.History[len(rec.History)-size:]
	}
}

// checkAll recomputes every monitored agent's state and fires onAlert
// exactly once per transition into DEGRADED/CRITICAL/FAILED.
func (m *HeartbeatMonitor) checkAll() {
	now := time.Now()

	m.mu.Lock()
	type transition struct {
		agentID string
		state   State
		elapsed time.Duration
	}
	var transitions []transition

	for agentID, rec := range m.records {
		if rec.LastHeartbeat.IsZero() {
			continue
		}
		elapsed := now.Sub(rec.LastHeartbeat)
		next := computeState(elapsed, rec.IntervalMs, rec.FailureThreshold)
		if next == rec.LastState {
			continue
		}
		rec.LastState = next
		m.appendHistoryLocked(rec, HistoryEntry{Timestamp: now, State: next})
		if next == StateDegraded || next == StateCritical || next == StateFailed {
			transitions = append(transitions, transition{agentID: agentID, state: next, elapsed: elapsed})
		}
	}
	m.mu.Unlock()

	for _, t := range transitions {
		m.onAlert(t.agentID, t.state, t.elapsed)
	}
}

// Start launches the background daemon. Calling Start on an already
// running monitor is a no-op.
func (m *HeartbeatMonitor) Start() {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})
	m.running = true
	m.mu.Unlock()

	go m.run()
}

func (m *HeartbeatMonitor) run() {
	defer close(m.doneCh)

	interval := m.cfg.CheckInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.checkAll()
		}
	}
}

// Shutdown signals the daemon and joins it with a 5s timeout (§4.5).
// Idempotent: calling it more than once, or before Start, is safe.
func (m *HeartbeatMonitor) Shutdown() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	stopCh := m.stopCh
	doneCh := m.doneCh
	cancel := m.cancel
	m.mu.Unlock()

	close(stopCh)
	cancel()

	select {
	case <-doneCh:
	case <-time.After(5 * time.Second):
		m.logger.Warn("heartbeat monitor shutdown timed out after 5s")
	}
}
