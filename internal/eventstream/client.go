package eventstream

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// clientMessage is a control message sent by a dashboard client, e.g.
// to change its topic subscriptions.
type clientMessage struct {
	Action string   `json:"action"` // subscribe | unsubscribe
	Topics []string `json:"topics"`
}

// Client is one connected dashboard's WebSocket connection.
type Client struct {
	id            string
	hub           *Hub
	conn          *websocket.Conn
	send          chan Event
	subscriptions map[string]bool
	mutex         sync.RWMutex
	logger        *logrus.Logger
}

// NewClient wraps an accepted WebSocket connection. Callers must run
// ReadPump and WritePump in their own goroutines.
func NewClient(hub *Hub, conn *websocket.Conn, logger *logrus.Logger) *Client {
	return &Client{
		id:            uuid.NewString(),
		hub:           hub,
		conn:          conn,
		send:          make(chan Event, 256),
		subscriptions: make(map[string]bool),
		logger:        logger,
	}
}

// ID returns the client's connection identifier.
func (c *Client) ID() string { return c.id }

// IsSubscribed reports whether the client currently subscribes to
// topic. An empty subscription set subscribes to every topic, so a
// dashboard can see the whole feed without sending a subscribe message
// first.
func (c *Client) IsSubscribed(topic string) bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	if len(c.subscriptions) == 0 {
		return true
	}
	return c.subscriptions[topic]
}

// Subscribe adds topic to the client's subscription set.
func (c *Client) Subscribe(topic string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.subscriptions[topic] = true
}

// Unsubscribe removes topic from the client's subscription set.
func (c *Client) Unsubscribe(topic string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	delete(c.subscriptions, topic)
}

// ReadPump pumps subscription control messages from the connection.
// Dashboard clients never send event data, only subscribe/unsubscribe.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.UnregisterClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.WithError(err).Warn("event stream client read error")
			}
			return
		}
		var msg clientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.logger.WithError(err).Warn("event stream client sent malformed control message")
			continue
		}
		switch msg.Action {
		case "subscribe":
			for _, topic := range msg.Topics {
				c.Subscribe(topic)
			}
		case "unsubscribe":
			for _, topic := range msg.Topics {
				c.Unsubscribe(topic)
			}
		default:
			c.logger.WithField("action", msg.Action).Warn("event stream client sent unknown action")
		}
	}
}

// WritePump pumps fanned-out events from the hub to the connection,
// interleaved with keepalive pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case event, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(event); err != nil {
				c.logger.WithError(err).Warn("event stream client write error")
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
