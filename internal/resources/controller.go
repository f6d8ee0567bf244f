package resources

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/moai-flow/swarm-kernel/internal/swarmerrors"
)

// Config tunes a Controller; field names mirror config.TokenBudgetConfig
// and config.ResourcesConfig so callers can pass those structs directly.
type Config struct {
	TotalBudget         int64
	WarningThreshold1   int64
	WarningThreshold2   int64
	DefaultSwarmLimit   int64
	ReserveBuffer       int64
	EnableAutoRebalance bool
	SwarmWarningRatio   float64
	SwarmCriticalRatio  float64

	BacklogThreshold     int
	HighPriorityShareMax float64
	QuotaWarningRatio    float64
}

// AlertFunc is invoked whenever a budget or quota crosses a threshold.
// scope is "swarm:<id>" or "global"; level is WARNING or CRITICAL.
type AlertFunc func(scope string, level AlertLevel, detail string)

// Controller owns token budgets, quotas, and the priority queue (§4.2).
// Each axis has its own lock so a queue operation never blocks a budget
// read, matching the per-concern locking idiom used across the kernel.
type Controller struct {
	cfg    Config
	logger *logrus.Logger
	onAlert AlertFunc

	tokensMu sync.RWMutex
	budgets  map[string]*TokenBudget

	quotaMu sync.RWMutex
	quotas  map[string]*QuotaSlot

	queueMu sync.Mutex
	queue   *priorityQueue
}

// NewController builds a Controller. onAlert may be nil.
func NewController(cfg Config, logger *logrus.Logger, onAlert AlertFunc) *Controller {
	if onAlert == nil {
		onAlert = func(string, AlertLevel, string) {}
	}
	return &Controller{
		cfg:     cfg,
		logger:  logger,
		onAlert: onAlert,
		budgets: make(map[string]*TokenBudget),
		quotas:  make(map[string]*QuotaSlot),
		queue:   newPriorityQueue(),
	}
}

// --- Token budgets -------------------------------------------------------

func (c *Controller) globalAllocatedLocked() int64 {
	var total int64
	for _, b := range c.budgets {
		total += b.Allocated
	}
	return total
}

// AllocateTokens grants a swarm its budget exactly once.
func (c *Controller) AllocateTokens(swarmID string, amount int64) (*TokenBudget, error) {
	if amount <= 0 {
		return nil, swarmerrors.NewInvalidArgument("bad_amount", "amount must be positive")
	}

	c.tokensMu.Lock()
	defer c.tokensMu.Unlock()

	if _, exists := c.budgets[swarmID]; exists {
		return nil, swarmerrors.NewDuplicate("already_allocated", fmt.Sprintf("swarm %q already has a token budget", swarmID))
	}

	ceiling := c.cfg.TotalBudget - c.cfg.ReserveBuffer
	if c.globalAllocatedLocked()+amount > ceiling {
		return nil, swarmerrors.NewCapacityExceeded("global_budget_exceeded",
			fmt.Sprintf("allocating %d tokens to %q would exceed the global ceiling of %d", amount, swarmID, ceiling))
	}

	b := &TokenBudget{SwarmID: swarmID, Allocated: amount, WarningsIssued: make(map[string]bool)}
	c.budgets[swarmID] = b
	return c.snapshotBudgetLocked(b), nil
}

func (c *Controller) snapshotBudgetLocked(b *TokenBudget) *TokenBudget {
	cp := *b
	cp.WarningsIssued = make(map[string]bool, len(b.WarningsIssued))
	for k, v := range b.WarningsIssued {
		cp.WarningsIssued[k] = v
	}
	return &cp
}

// ConsumeTokens atomically debits a swarm's budget, issuing WARNING and
// CRITICAL alerts at the configured thresholds (both per-swarm ratios
// and absolute global thresholds).
func (c *Controller) ConsumeTokens(swarmID string, amount int64) error {
	if amount < 0 {
		return swarmerrors.NewInvalidArgument("bad_amount", "amount must not be negative")
	}

	c.tokensMu.Lock()
	defer c.tokensMu.Unlock()

	b, ok := c.budgets[swarmID]
	if !ok {
		return swarmerrors.NewInvalidArgument("unknown_swarm", fmt.Sprintf("swarm %q has no token budget", swarmID))
	}
	if b.Consumed+b.Reserved+amount > b.Allocated {
		return swarmerrors.NewCapacityExceeded("insufficient_tokens",
			fmt.Sprintf("swarm %q has %d tokens remaining, requested %d", swarmID, b.Allocated-b.Consumed-b.Reserved, amount))
	}

	b.Consumed += amount
	c.checkSwarmThresholdsLocked(b)
	c.checkGlobalThresholdsLocked()
	return nil
}

// Reserve holds tokens against future consumption without releasing them
// as spent, so concurrent callers see an accurate remaining balance.
func (c *Controller) Reserve(swarmID string, amount int64) error {
	if amount < 0 {
		return swarmerrors.NewInvalidArgument("bad_amount", "amount must not be negative")
	}
	c.tokensMu.Lock()
	defer c.tokensMu.Unlock()

	b, ok := c.budgets[swarmID]
	if !ok {
		return swarmerrors.NewInvalidArgument("unknown_swarm", fmt.Sprintf("swarm %q has no token budget", swarmID))
	}
	if b.Consumed+b.Reserved+amount > b.Allocated {
		return swarmerrors.NewCapacityExceeded("insufficient_tokens",
			fmt.Sprintf("swarm %q cannot reserve %d tokens", swarmID, amount))
	}
	b.Reserved += amount
	c.checkSwarmThresholdsLocked(b)
	c.checkGlobalThresholdsLocked()
	return nil
}

// ReleaseReservation frees a previously reserved amount without marking
// it consumed.
func (c *Controller) ReleaseReservation(swarmID string, amount int64) error {
	if amount < 0 {
		return swarmerrors.NewInvalidArgument("bad_amount", "amount must not be negative")
	}
	c.tokensMu.Lock()
	defer c.tokensMu.Unlock()

	b, ok := c.budgets[swarmID]
	if !ok {
		return swarmerrors.NewInvalidArgument("unknown_swarm", fmt.Sprintf("swarm %q has no token budget", swarmID))
	}
	if amount > b.Reserved {
		return swarmerrors.NewFatal("reservation_underflow", fmt.Sprintf("releasing %d exceeds %q's reserved %d", amount, swarmID, b.Reserved), nil)
	}
	b.Reserved -= amount
	return nil
}

// checkSwarmThresholdsLocked emits WARNING/CRITICAL alerts the first
// time a swarm crosses its configured utilization ratios. Caller holds
// tokensMu.
func (c *Controller) checkSwarmThresholdsLocked(b *TokenBudget) {
	util := b.Utilization()
	if util >= c.cfg.SwarmCriticalRatio && !b.WarningsIssued["critical"] {
		b.WarningsIssued["critical"] = true
		c.onAlert("swarm:"+b.SwarmID, AlertCritical, fmt.Sprintf("swarm %q at %.1f%% of budget", b.SwarmID, util*100))
	} else if util >= c.cfg.SwarmWarningRatio && !b.WarningsIssued["warning"] {
		b.WarningsIssued["warning"] = true
		c.onAlert("swarm:"+b.SwarmID, AlertWarning, fmt.Sprintf("swarm %q at %.1f%% of budget", b.SwarmID, util*100))
	}
}

// checkGlobalThresholdsLocked emits a swarm-global alert once consumed
// tokens across all swarms cross the absolute thresholds.
func (c *Controller) checkGlobalThresholdsLocked() {
	var totalConsumed int64
	for _, b := range c.budgets {
		totalConsumed += b.Consumed
	}
	switch {
	case totalConsumed >= c.cfg.WarningThreshold2:
		c.onAlert("global", AlertCritical, fmt.Sprintf("global consumption %d crossed critical threshold %d", totalConsumed, c.cfg.WarningThreshold2))
	case totalConsumed >= c.cfg.WarningThreshold1:
		c.onAlert("global", AlertWarning, fmt.Sprintf("global consumption %d crossed warning threshold %d", totalConsumed, c.cfg.WarningThreshold1))
	}
}

// ResetBudget zeroes consumed/reserved and clears issued-warning markers.
func (c *Controller) ResetBudget(swarmID string) error {
	c.tokensMu.Lock()
	defer c.tokensMu.Unlock()
	b, ok := c.budgets[swarmID]
	if !ok {
		return swarmerrors.NewInvalidArgument("unknown_swarm", fmt.Sprintf("swarm %q has no token budget", swarmID))
	}
	b.Consumed = 0
	b.Reserved = 0
	b.WarningsIssued = make(map[string]bool)
	return nil
}

// Rebalance evenly divides (global - reserve) across active swarms but
// never drops a swarm below its current consumption+reserved+1000.
// Integer-division remainder is intentionally not redistributed — see
// Open Question Decision #1 in DESIGN.md.
func (c *Controller) Rebalance() (map[string]int64, error) {
	c.tokensMu.Lock()
	defer c.tokensMu.Unlock()

	if len(c.budgets) == 0 {
		return map[string]int64{}, nil
	}

	ceiling := c.cfg.TotalBudget - c.cfg.ReserveBuffer
	share := ceiling / int64(len(c.budgets))

	result := make(map[string]int64, len(c.budgets))
	for id, b := range c.budgets {
		floor := b.Consumed + b.Reserved + 1000
		newAlloc := share
		if newAlloc < floor {
			newAlloc = floor
		}
		b.Allocated = newAlloc
		result[id] = newAlloc
	}
	return result, nil
}

// --- Agent quotas ---------------------------------------------------------

// SetAgentQuota declares (or updates) an agent type's concurrency cap.
func (c *Controller) SetAgentQuota(agentType string, maxConcurrent int) error {
	if maxConcurrent < 0 {
		return swarmerrors.NewInvalidArgument("bad_quota", "max_concurrent must not be negative")
	}
	c.quotaMu.Lock()
	defer c.quotaMu.Unlock()

	q, ok := c.quotas[agentType]
	if !ok {
		c.quotas[agentType] = &QuotaSlot{AgentType: agentType, MaxConcurrent: maxConcurrent, ActiveSlots: make(map[string]struct{})}
		return nil
	}
	q.MaxConcurrent = maxConcurrent
	return nil
}

// RequestSlot atomically returns a slot id, or "" if the quota is full.
func (c *Controller) RequestSlot(agentType string) (string, error) {
	c.quotaMu.Lock()
	defer c.quotaMu.Unlock()

	q, ok := c.quotas[agentType]
	if !ok {
		return "", swarmerrors.NewInvalidArgument("unknown_quota", fmt.Sprintf("no quota declared for agent type %q", agentType))
	}
	if len(q.ActiveSlots) >= q.MaxConcurrent {
		return "", nil
	}
	slotID := uuid.NewString()
	q.ActiveSlots[slotID] = struct{}{}
	return slotID, nil
}

// ReleaseSlot frees exactly the given slot.
func (c *Controller) ReleaseSlot(agentType, slotID string) error {
	c.quotaMu.Lock()
	defer c.quotaMu.Unlock()

	q, ok := c.quotas[agentType]
	if !ok {
		return swarmerrors.NewInvalidArgument("unknown_quota", fmt.Sprintf("no quota declared for agent type %q", agentType))
	}
	if _, held := q.ActiveSlots[slotID]; !held {
		return swarmerrors.NewInvalidArgument("unknown_slot", fmt.Sprintf("slot %q not active for %q", slotID, agentType))
	}
	delete(q.ActiveSlots, slotID)
	return nil
}

// GetQuotaStatus returns (max, active, available) for an agent type.
func (c *Controller) GetQuotaStatus(agentType string) (QuotaStatus, error) {
	c.quotaMu.RLock()
	defer c.quotaMu.RUnlock()
	q, ok := c.quotas[agentType]
	if !ok {
		return QuotaStatus{}, swarmerrors.NewInvalidArgument("unknown_quota", fmt.Sprintf("no quota declared for agent type %q", agentType))
	}
	return QuotaStatus{
		AgentType:     agentType,
		MaxConcurrent: q.MaxConcurrent,
		Active:        len(q.ActiveSlots),
		Available:     q.MaxConcurrent - len(q.ActiveSlots),
	}, nil
}

// --- Priority queue --------------------------------------------------------

// EnqueueTask rejects a duplicate task_id.
func (c *Controller) EnqueueTask(taskID string, priority Priority, data map[string]interface{}) error {
	if taskID == "" {
		return swarmerrors.NewInvalidArgument("empty_task_id", "task_id must not be empty")
	}
	c.queueMu.Lock()
	defer c.queueMu.Unlock()

	if c.queue.contains(taskID) {
		return swarmerrors.NewDuplicate("task_exists", fmt.Sprintf("task %q already queued", taskID))
	}
	c.queue.push(&TaskQueueEntry{
		TaskID:     taskID,
		Priority:   priority,
		TaskData:   data,
		EnqueuedAt: time.Now(),
	})
	return nil
}

// DequeueTask removes and returns the highest-priority entry; never
// blocks. Returns nil if the queue is empty.
func (c *Controller) DequeueTask() *TaskQueueEntry {
	c.queueMu.Lock()
	defer c.queueMu.Unlock()
	return c.queue.pop()
}

// PeekNextTask returns the highest-priority entry without removing it.
func (c *Controller) PeekNextTask() *TaskQueueEntry {
	c.queueMu.Lock()
	defer c.queueMu.Unlock()
	return c.queue.peek()
}

// UpdatePriority changes a queued task's priority, preserving insertion
// time.
func (c *Controller) UpdatePriority(taskID string, newPriority Priority) error {
	c.queueMu.Lock()
	defer c.queueMu.Unlock()
	if !c.queue.updatePriority(taskID, newPriority) {
		return swarmerrors.NewInvalidArgument("not_queued", fmt.Sprintf("task %q is not queued", taskID))
	}
	return nil
}

// CancelTask removes a specific task id from the queue.
func (c *Controller) CancelTask(taskID string) error {
	c.queueMu.Lock()
	defer c.queueMu.Unlock()
	if !c.queue.remove(taskID) {
		return swarmerrors.NewInvalidArgument("not_queued", fmt.Sprintf("task %q is not queued", taskID))
	}
	return nil
}

// --- Composite views ---------------------------------------------------------

// GetResourceUsage returns a consistent flat snapshot of tokens, quotas
// and queue depth, each taken under its own lock.
func (c *Controller) GetResourceUsage() Usage {
	c.tokensMu.RLock()
	swarms := make(map[string]TokenBudget, len(c.budgets))
	var globalConsumed, globalReserved int64
	for id, b := range c.budgets {
		swarms[id] = *c.snapshotBudgetLocked(b)
		globalConsumed += b.Consumed
		globalReserved += b.Reserved
	}
	c.tokensMu.RUnlock()

	c.quotaMu.RLock()
	quotas := make(map[string]QuotaStatus, len(c.quotas))
	for t, q := range c.quotas {
		quotas[t] = QuotaStatus{AgentType: t, MaxConcurrent: q.MaxConcurrent, Active: len(q.ActiveSlots), Available: q.MaxConcurrent - len(q.ActiveSlots)}
	}
	c.quotaMu.RUnlock()

	c.queueMu.Lock()
	depth := c.queue.len()
	byPriority := make(map[string]int, 5)
	for p, n := range c.queue.countByPriority() {
		byPriority[p.String()] = n
	}
	c.queueMu.Unlock()

	return Usage{
		GlobalBudget:    c.cfg.TotalBudget,
		GlobalConsumed:  globalConsumed,
		GlobalReserved:  globalReserved,
		ReserveBuffer:   c.cfg.ReserveBuffer,
		Swarms:          swarms,
		Quotas:          quotas,
		QueueDepth:      depth,
		QueueByPriority: byPriority,
	}
}

// GetBottlenecks enumerates resource-pressure conditions per §4.6's
// token/quota/backlog thresholds. Slow-agent and consensus-timeout
// bottlenecks are contributed by internal/metrics, which has visibility
// into per-agent durations and consensus outcomes this controller does
// not.
func (c *Controller) GetBottlenecks() []Bottleneck {
	var out []Bottleneck

	c.tokensMu.RLock()
	for id, b := range c.budgets {
		util := b.Utilization()
		if util >= 0.85 {
			out = append(out, Bottleneck{
				Type:           "token_exhaustion",
				Severity:       severityFor(util),
				Details:        fmt.Sprintf("swarm %q at %.1f%% token utilization", id, util*100),
				Recommendation: "allocate more tokens or trigger rebalance",
				Utilization:    util,
			})
		}
	}
	c.tokensMu.RUnlock()

	c.quotaMu.RLock()
	for t, q := range c.quotas {
		util := q.Utilization()
		if util >= c.cfg.QuotaWarningRatio {
			out = append(out, Bottleneck{
				Type:           "quota_exceeded",
				Severity:       severityFor(util),
				Details:        fmt.Sprintf("agent type %q at %.1f%% quota utilization", t, util*100),
				Recommendation: "raise max_concurrent or shed load for this agent type",
				Utilization:    util,
			})
		}
	}
	c.quotaMu.RUnlock()

	c.queueMu.Lock()
	depth := c.queue.len()
	counts := c.queue.countByPriority()
	c.queueMu.Unlock()

	if depth > 0 {
		highCount := counts[PriorityCritical] + counts[PriorityHigh]
		highShare := float64(highCount) / float64(depth)
		if depth >= c.cfg.BacklogThreshold || highShare >= c.cfg.HighPriorityShareMax {
			out = append(out, Bottleneck{
				Type:           "task_queue_backlog",
				Severity:       severityFor(highShare),
				Details:        fmt.Sprintf("queue depth %d, high-priority share %.1f%%", depth, highShare*100),
				Recommendation: "scale out workers or shed low-priority tasks",
			})
		}
	}

	return out
}

func severityFor(utilization float64) string {
	switch {
	case utilization > 0.9:
		return "critical"
	case utilization > 0.75:
		return "high"
	default:
		return "warning"
	}
}
