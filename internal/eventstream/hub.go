// Package eventstream is the observability push feed SPEC_FULL.md's
// external-interfaces section calls for: dashboards subscribe over a
// WebSocket connection and receive kernel events (failures, healing
// results, predictions, topology changes) as they happen. This is
// explicitly NOT the agent-to-agent transport — that stays in-process.
// Adapted from internal/websocket/hub.go's Hub/Client pair, generalized
// from the teacher's project/task/user broadcast kinds to the kernel's
// observability event kinds and from unauthenticated
// broadcast-to-everyone into per-client topic subscriptions the
// teacher's hub already supported but none of its own broadcast
// helpers used.
package eventstream

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// EventType is one kind of observability event this feed pushes.
type EventType string

const (
	EventFailureDetected  EventType = "failure_detected"
	EventHealingResult    EventType = "healing_result"
	EventPredictedFailure EventType = "predicted_failure"
	EventTopologyChange   EventType = "topology_change"
	EventBottleneck       EventType = "bottleneck"
	EventPatternLearned   EventType = "pattern_learned"
	EventNotification     EventType = "notification"
	EventError            EventType = "error"
)

// Event is one message pushed to subscribed dashboard clients.
type Event struct {
	Type      EventType   `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp int64       `json:"timestamp"`
}

// Hub maintains the set of connected dashboard clients and fans events
// out to whichever of them subscribed to that event's topic.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan Event
	register   chan *Client
	unregister chan *Client
	mutex      sync.RWMutex
	logger     *logrus.Logger
}

// NewHub builds an idle hub; call Run to start it.
func NewHub(logger *logrus.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan Event, 256),
		register:   make(chan *Client, 256),
		unregister: make(chan *Client, 256),
		logger:     logger,
	}
}

// Run handles client registration/unregistration and event fan-out
// until stopCh is closed.
func (h *Hub) Run(stopCh <-chan struct{}) {
	h.logger.Info("starting event stream hub")
	for {
		select {
		case <-stopCh:
			h.closeAll()
			return
		case client := <-h.register:
			h.registerClient(client)
		case client := <-h.unregister:
			h.unregisterClient(client)
		case event := <-h.broadcast:
			h.fanOut(event)
		}
	}
}

func (h *Hub) closeAll() {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
}

// RegisterClient admits client into the hub.
func (h *Hub) RegisterClient(client *Client) {
	select {
	case h.register <- client:
	default:
		h.logger.Warn("event stream register channel full, dropping client")
	}
}

// UnregisterClient removes client from the hub.
func (h *Hub) UnregisterClient(client *Client) {
	select {
	case h.unregister <- client:
	default:
		h.logger.Warn("event stream unregister channel full")
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mutex.Lock()
	h.clients[client] = true
	h.mutex.Unlock()
	h.logger.WithField("client_id", client.id).Info("dashboard client connected")
}

func (h *Hub) unregisterClient(client *Client) {
	h.mutex.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	h.mutex.Unlock()
	h.logger.WithField("client_id", client.id).Info("dashboard client disconnected")
}

func (h *Hub) fanOut(event Event) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	var failed []*Client
	for client := range h.clients {
		if !client.IsSubscribed(string(event.Type)) {
			continue
		}
		select {
		case client.send <- event:
		default:
			failed = append(failed, client)
		}
	}
	for _, client := range failed {
		close(client.send)
		delete(h.clients, client)
		h.logger.WithField("client_id", client.id).Warn("removed unresponsive dashboard client")
	}
}

// Publish queues event for fan-out to subscribed clients. Non-blocking:
// an event is dropped (with a logged warning) rather than stalling the
// caller, consistent with the teacher's Broadcast.
func (h *Hub) Publish(eventType EventType, data interface{}) {
	event := Event{Type: eventType, Data: data, Timestamp: time.Now().UnixMilli()}
	select {
	case h.broadcast <- event:
	default:
		h.logger.WithField("event_type", eventType).Warn("event stream broadcast channel full, dropping event")
	}
}

// ClientCount returns the number of connected dashboard clients.
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}
