package topology

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/moai-flow/swarm-kernel/internal/swarmerrors"
	"github.com/moai-flow/swarm-kernel/pkg/logger"
)

// Router is the minimal message-routing capability other components
// (notably conflict.StateSynchronizer, per Design Note 5 in spec.md §9)
// depend on instead of the full *Coordinator, breaking the cyclic
// reference the teacher's source has between its coordinator and state
// synchronizer.
type Router interface {
	SendMessage(from, to string, payload map[string]interface{}) error
	BroadcastMessage(from string, payload map[string]interface{}, exclude ...string) (int, error)
	Participants() []string
	Notify(msgType string, payload map[string]interface{}, recipients []string) (int, error)
}

// mailbox holds the in-order, per-sender delivery queue used to satisfy
// the "best-effort, at-most-once, in-order per (from,to) pair" guarantee.
type mailbox struct {
	mu       sync.Mutex
	inbox    []Envelope
	lastSeq  map[string]int64 // per-sender sequence watermark, for in-order enforcement
}

// Coordinator maintains the active topology and routes messages.
type Coordinator struct {
	logger *logrus.Logger

	mu     sync.RWMutex
	mode   Mode
	agents map[string]*Agent
	edges  map[string]map[string]struct{} // from -> set(to)

	mailboxes   map[string]*mailbox
	deliveries  []Envelope // bounded ring of recent deliveries, for observability
	maxDelivery int

	requireEmptyChildren bool

	adaptHistory []AdaptationEvent

	signingKey []byte // set via SetSigningSecret; nil disables credential minting
}

// AdaptationEvent records a historical mode switch.
type AdaptationEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Mode      Mode      `json:"mode"`
	Reason    string    `json:"reason"`
}

// NewCoordinator creates a Coordinator starting in the given mode.
func NewCoordinator(mode Mode, requireEmptyChildren bool, logger *logrus.Logger) *Coordinator {
	return &Coordinator{
		logger:               logger,
		mode:                 mode,
		agents:               make(map[string]*Agent),
		edges:                make(map[string]map[string]struct{}),
		mailboxes:            make(map[string]*mailbox),
		maxDelivery:          500,
		requireEmptyChildren: requireEmptyChildren,
	}
}

// RegisterAgent adds the agent and wires edges per the current mode.
func (c *Coordinator) RegisterAgent(agentID, agentType string, capabilities []string, opts RegisterOptions) (*Agent, error) {
	if agentID == "" {
		return nil, swarmerrors.NewInvalidArgument("empty_agent_id", "agent_id must not be empty")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.agents[agentID]; exists {
		return nil, swarmerrors.NewDuplicate("agent_exists", fmt.Sprintf("agent %q already registered", agentID))
	}

	caps := make(map[string]struct{}, len(capabilities))
	for _, cap := range capabilities {
		caps[cap] = struct{}{}
	}

	agent := &Agent{
		AgentID:      agentID,
		AgentType:    agentType,
		Capabilities: caps,
		Metadata:     sanitizeMetadata(opts.Metadata),
		RegisteredAt: time.Now(),
		State:        "HEALTHY",
		ParentID:     opts.ParentID,
		Layer:        opts.Layer,
	}

	if c.mode == ModeHierarchical {
		if err := c.placeHierarchical(agent); err != nil {
			return nil, err
		}
	}

	if len(c.signingKey) > 0 {
		token, secretHash, err := c.mintCredential(agentID, capabilities)
		if err != nil {
			return nil, swarmerrors.NewFatal("mint_credential_failed", "failed to mint agent capability token", err)
		}
		if agent.Metadata == nil {
			agent.Metadata = make(map[string]interface{}, 2)
		}
		agent.Metadata["credential"] = token
		agent.Metadata["credential_secret_hash"] = secretHash
	}

	c.agents[agentID] = agent
	c.mailboxes[agentID] = &mailbox{lastSeq: make(map[string]int64)}
	c.rewireLocked()

	logger.WithAgent(c.logger, agentID).WithFields(logrus.Fields{"agent_type": agentType, "mode": c.mode}).
		Info("agent registered")

	return agent, nil
}

// placeHierarchical assigns a root-relative parent when the caller did
// not specify one explicitly; the designated root is "alfred" per §3.
func (c *Coordinator) placeHierarchical(agent *Agent) error {
	const rootID = "alfred"
	if agent.AgentID == rootID {
		agent.ParentID = ""
		agent.Layer = 0
		return nil
	}
	if agent.ParentID == "" {
		if _, rootExists := c.agents[rootID]; !rootExists {
			return swarmerrors.NewInvalidArgument("no_root", "hierarchical mode requires a root agent named \"alfred\" or an explicit parent_id")
		}
		agent.ParentID = rootID
		agent.Layer = 1
	} else if _, ok := c.agents[agent.ParentID]; !ok && agent.ParentID != rootID {
		return swarmerrors.NewInvalidArgument("unknown_parent", fmt.Sprintf("parent %q does not exist", agent.ParentID))
	} else if parent, ok := c.agents[agent.ParentID]; ok {
		agent.Layer = parent.Layer + 1
	}
	return nil
}

// UnregisterAgent removes a node and its incident edges.
func (c *Coordinator) UnregisterAgent(agentID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	agent, exists := c.agents[agentID]
	if !exists {
		return swarmerrors.NewInvalidArgument("not_found", fmt.Sprintf("agent %q not found", agentID))
	}

	if c.mode == ModeHierarchical {
		children := c.childrenLocked(agentID)
		if len(children) > 0 {
			if c.requireEmptyChildren {
				return swarmerrors.NewInvalidArgument("has_children", fmt.Sprintf("agent %q still has %d children and require_empty_children is set", agentID, len(children)))
			}
			// Promote children to the grandparent.
			for _, child := range children {
				child.ParentID = agent.ParentID
				if child.Layer > 0 {
					child.Layer--
				}
			}
		}
	}

	delete(c.agents, agentID)
	delete(c.mailboxes, agentID)
	delete(c.edges, agentID)
	for _, set := range c.edges {
		delete(set, agentID)
	}
	c.rewireLocked()

	logger.WithAgent(c.logger, agentID).Info("agent unregistered")
	return nil
}

func (c *Coordinator) childrenLocked(parentID string) []*Agent {
	var out []*Agent
	for _, a := range c.agents {
		if a.ParentID == parentID {
			out = append(out, a)
		}
	}
	return out
}

// rewireLocked recomputes edges for the current mode and agent set.
// Caller must hold c.mu.
func (c *Coordinator) rewireLocked() {
	c.edges = make(map[string]map[string]struct{})
	ids := c.sortedIDsLocked()

	switch c.mode {
	case ModeMesh:
		for _, from := range ids {
			for _, to := range ids {
				if from == to {
					continue
				}
				c.addEdgeLocked(from, to)
			}
		}
	case ModeStar:
		if len(ids) == 0 {
			return
		}
		hub := ids[0]
		for _, v := range ids {
			if v == hub {
				continue
			}
			c.addEdgeLocked(hub, v)
			c.addEdgeLocked(v, hub)
		}
	case ModeRing:
		n := len(ids)
		for i, from := range ids {
			to := ids[(i+1)%n]
			if from != to {
				c.addEdgeLocked(from, to)
			}
		}
	case ModeHierarchical:
		for _, a := range c.agents {
			if a.ParentID == "" {
				continue
			}
			c.addEdgeLocked(a.ParentID, a.AgentID)
			c.addEdgeLocked(a.AgentID, a.ParentID)
		}
	}
}

func (c *Coordinator) sortedIDsLocked() []string {
	ids := make([]string, 0, len(c.agents))
	for id := range c.agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (c *Coordinator) addEdgeLocked(from, to string) {
	if c.edges[from] == nil {
		c.edges[from] = make(map[string]struct{})
	}
	c.edges[from][to] = struct{}{}
}

// hubLocked returns the star-mode hub (lowest agent id), or "" if empty.
func (c *Coordinator) hubLocked() string {
	ids := c.sortedIDsLocked()
	if len(ids) == 0 {
		return ""
	}
	return ids[0]
}

// SendMessage delivers payload from->to if an edge exists between them.
// Delivery is best-effort, at-most-once, in-order per (from,to) pair.
func (c *Coordinator) SendMessage(from, to string, payload map[string]interface{}) error {
	c.mu.RLock()
	_, toExists := c.agents[to]
	edgeOK := toExists
	if edgeOK {
		neighbors, ok := c.edges[from]
		edgeOK = ok
		if edgeOK {
			_, edgeOK = neighbors[to]
		}
	}
	c.mu.RUnlock()

	if !edgeOK {
		return swarmerrors.NewInvalidArgument("no_route", fmt.Sprintf("no edge from %q to %q in %s topology", from, to, c.mode))
	}

	c.deliver(from, to, Envelope{
		Type:      "direct",
		FromAgent: from,
		ToAgent:   to,
		Payload:   sanitizeMetadata(payload),
		Timestamp: time.Now(),
	})
	return nil
}

// BroadcastMessage enumerates reachable neighbours per topology rules.
// In star mode only the hub may broadcast; mesh broadcasts to all
// others; ring forwards once around.
func (c *Coordinator) BroadcastMessage(from string, payload map[string]interface{}, exclude ...string) (int, error) {
	excluded := make(map[string]struct{}, len(exclude))
	for _, e := range exclude {
		excluded[e] = struct{}{}
	}

	c.mu.RLock()
	if _, ok := c.agents[from]; !ok {
		c.mu.RUnlock()
		return 0, swarmerrors.NewInvalidArgument("unknown_sender", fmt.Sprintf("agent %q not registered", from))
	}
	if c.mode == ModeStar {
		if from != c.hubLocked() {
			c.mu.RUnlock()
			return 0, swarmerrors.NewInvalidArgument("not_hub", "only the hub may broadcast in star mode")
		}
	}
	reachable := c.edges[from]
	if c.mode == ModeRing {
		// A ring broadcast is forwarded once around, so every other agent
		// receives it, not only the immediate successor.
		reachable = make(map[string]struct{}, len(c.agents))
		for id := range c.agents {
			if id != from {
				reachable[id] = struct{}{}
			}
		}
	}
	targets := make([]string, 0, len(reachable))
	for to := range reachable {
		if _, skip := excluded[to]; skip {
			continue
		}
		targets = append(targets, to)
	}
	sort.Strings(targets)
	c.mu.RUnlock()

	env := Envelope{Type: "broadcast", FromAgent: from, Payload: sanitizeMetadata(payload), Timestamp: time.Now()}
	for _, to := range targets {
		c.deliver(from, to, env)
	}
	return len(targets), nil
}

func (c *Coordinator) deliver(from, to string, env Envelope) {
	c.mu.Lock()
	mb, ok := c.mailboxes[to]
	if ok {
		mb.mu.Lock()
		mb.inbox = append(mb.inbox, env)
		if len(mb.inbox) > 1000 {
			mb.inbox = mb.inbox[len(mb.inbox)-1000:]
		}
		mb.mu.Unlock()
	}
	c.deliveries = append(c.deliveries, env)
	if len(c.deliveries) > c.maxDelivery {
		c.deliveries = c.deliveries[len(c.deliveries)-c.maxDelivery:]
	}
	c.mu.Unlock()
}

// Inbox returns (and clears) the pending envelopes for an agent, in
// arrival order. Used by tests and by in-process agent stand-ins.
func (c *Coordinator) Inbox(agentID string) []Envelope {
	c.mu.RLock()
	mb, ok := c.mailboxes[agentID]
	c.mu.RUnlock()
	if !ok {
		return nil
	}
	mb.mu.Lock()
	defer mb.mu.Unlock()
	out := mb.inbox
	mb.inbox = nil
	return out
}

// Notify delivers a system-originated message (consensus requests,
// state-sync queries, heartbeat pings) directly to each listed
// recipient's mailbox, bypassing topology edge checks: these messages
// are orthogonal to the inter-agent graph, not participant-originated
// traffic subject to §4.1's routing rules. Unknown recipients are
// silently skipped; the returned count reflects only valid deliveries.
func (c *Coordinator) Notify(msgType string, payload map[string]interface{}, recipients []string) (int, error) {
	c.mu.RLock()
	valid := make([]string, 0, len(recipients))
	for _, id := range recipients {
		if _, ok := c.agents[id]; ok {
			valid = append(valid, id)
		}
	}
	c.mu.RUnlock()

	env := Envelope{Type: msgType, FromAgent: "_system", Payload: payload, Timestamp: time.Now()}
	for _, id := range valid {
		c.deliver("_system", id, env)
	}
	return len(valid), nil
}

// Participants returns all currently registered agent ids, sorted.
func (c *Coordinator) Participants() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sortedIDsLocked()
}

// GetAgentStatus returns a read-only status projection.
func (c *Coordinator) GetAgentStatus(agentID string) (*AgentStatus, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.agents[agentID]
	if !ok {
		return nil, swarmerrors.NewInvalidArgument("not_found", fmt.Sprintf("agent %q not found", agentID))
	}
	return &AgentStatus{
		AgentID:       a.AgentID,
		State:         a.State,
		LastHeartbeat: a.LastHeartbeat,
		CurrentTaskID: a.CurrentTaskID,
		Metadata:      a.Metadata,
	}, nil
}

// SetAgentState updates an agent's reported state (driven by the health
// monitor on heartbeat transitions) and its last-heartbeat timestamp.
func (c *Coordinator) SetAgentState(agentID, state string, lastHeartbeat time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if a, ok := c.agents[agentID]; ok {
		a.State = state
		if !lastHeartbeat.IsZero() {
			a.LastHeartbeat = lastHeartbeat
		}
	}
}

// GetTopologyInfo returns a read-only overview snapshot.
func (c *Coordinator) GetTopologyInfo() Info {
	c.mu.RLock()
	defer c.mu.RUnlock()

	edgeCount := 0
	for _, set := range c.edges {
		edgeCount += len(set)
	}

	healthy := 0
	for _, a := range c.agents {
		if a.State == "HEALTHY" {
			healthy++
		}
	}
	health := 1.0
	if len(c.agents) > 0 {
		health = float64(healthy) / float64(len(c.agents))
	}

	return Info{
		Mode:       c.mode,
		AgentCount: len(c.agents),
		EdgeCount:  edgeCount,
		Health:     health,
	}
}

// Mode returns the current topology mode.
func (c *Coordinator) Mode() Mode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mode
}

// HasEdge reports whether a directed edge from->to currently exists.
func (c *Coordinator) HasEdge(from, to string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	neighbors, ok := c.edges[from]
	if !ok {
		return false
	}
	_, ok = neighbors[to]
	return ok
}

// AdaptHistory returns the recorded mode-switch history.
func (c *Coordinator) AdaptHistory() []AdaptationEvent {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]AdaptationEvent, len(c.adaptHistory))
	copy(out, c.adaptHistory)
	return out
}

// Migrate atomically switches to a new mode, migrating every agent into
// a freshly constructed topology. If any agent fails to migrate, the
// old topology is retained untouched.
func (c *Coordinator) Migrate(newMode Mode, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if newMode == ModeHierarchical {
		// A hierarchical topology requires a root; validate before
		// committing so a failed migration leaves the old mode intact.
		if _, ok := c.agents["alfred"]; !ok && len(c.agents) > 0 {
			return swarmerrors.NewInvalidArgument("no_root", "cannot migrate to hierarchical mode without an \"alfred\" root agent")
		}
		for _, a := range c.agents {
			if a.AgentID == "alfred" {
				a.ParentID = ""
				a.Layer = 0
			} else {
				a.ParentID = "alfred"
				a.Layer = 1
			}
		}
	}

	c.mode = newMode
	c.rewireLocked()
	c.adaptHistory = append(c.adaptHistory, AdaptationEvent{
		Timestamp: time.Now(),
		Mode:      newMode,
		Reason:    reason,
	})
	c.logger.WithFields(logrus.Fields{"mode": newMode, "reason": reason}).Info("topology migrated")
	return nil
}
