// Package api exposes the engine over HTTP (lifecycle control) and
// WebSocket (RunEvent streaming), adapted from the original server's
// router + hub shape to this engine's play/pause/reset/play_one/stop
// surface (spec.md §6).
package api

import (
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/quantflow/backtest-engine/pkg/types"
)

// WSMessage is a WebSocket message: either a RunEvent ("event") pushed to
// subscribers of a strategy's channel, or a heartbeat.
type WSMessage struct {
	Type      string          `json:"type"`
	Channel   string          `json:"channel,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

const (
	msgTypeEvent     = "event"
	msgTypeHeartbeat = "heartbeat"
)

// channelFor is the WebSocket channel name a strategy's RunEvents are
// published on.
func channelFor(id types.StrategyId) string {
	return "strategy:" + strconv.FormatInt(int64(id), 10)
}

// Client is one WebSocket connection, subscribed to zero or more
// strategy channels.
type Client struct {
	id            string
	hub           *Hub
	conn          *websocket.Conn
	send          chan []byte
	mu            sync.RWMutex
	subscriptions map[string]bool
}

// Hub fans RunEvents out to every WebSocket client subscribed to the
// originating strategy's channel.
type Hub struct {
	logger     *zap.Logger
	mu         sync.RWMutex
	clients    map[*Client]bool
	channels   map[string]map[*Client]bool
	register   chan *Client
	unregister chan *Client
}

// NewHub constructs an idle Hub; call Run to start its event loop.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger:     logger,
		clients:    make(map[*Client]bool),
		channels:   make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// Run drives client (un)registration and periodic heartbeats until done
// is closed.
func (h *Hub) Run(done <-chan struct{}) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
				for ch := range c.subscriptions {
					if members, ok := h.channels[ch]; ok {
						delete(members, c)
						if len(members) == 0 {
							delete(h.channels, ch)
						}
					}
				}
			}
			h.mu.Unlock()
		case <-ticker.C:
			h.heartbeat()
		}
	}
}

func (h *Hub) heartbeat() {
	msg := WSMessage{Type: msgTypeHeartbeat, Timestamp: time.Now().UnixMilli()}
	data, _ := json.Marshal(msg)
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
		}
	}
}

// Subscribe adds c to channel, fed by PublishRunEvent.
func (h *Hub) Subscribe(c *Client, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.channels[channel] == nil {
		h.channels[channel] = make(map[*Client]bool)
	}
	h.channels[channel][c] = true
	c.mu.Lock()
	c.subscriptions[channel] = true
	c.mu.Unlock()
}

// Unsubscribe removes c from channel.
func (h *Hub) Unsubscribe(c *Client, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if members, ok := h.channels[channel]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.channels, channel)
		}
	}
	c.mu.Lock()
	delete(c.subscriptions, channel)
	c.mu.Unlock()
}

// PublishRunEvent fans ev out to every client subscribed to its
// originating strategy's channel.
func (h *Hub) PublishRunEvent(ev types.RunEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("marshal run event", zap.Error(err))
		return
	}
	msg := WSMessage{Type: msgTypeEvent, Channel: channelFor(ev.StrategyId), Data: data, Timestamp: time.Now().UnixMilli()}
	out, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal ws message", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.channels[msg.Channel] {
		select {
		case c.send <- out:
		default:
		}
	}
}

// NewClient constructs a Client bound to conn, registered on hub.
func NewClient(id string, hub *Hub, conn *websocket.Conn) *Client {
	return &Client{id: id, hub: hub, conn: conn, send: make(chan []byte, 256), subscriptions: make(map[string]bool)}
}

// ReadPump reads subscribe/unsubscribe control messages from conn until
// it closes, then unregisters the client.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(65536)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("websocket read error", zap.Error(err))
			}
			return
		}
		var msg WSMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		switch msg.Type {
		case "subscribe":
			c.hub.Subscribe(c, msg.Channel)
		case "unsubscribe":
			c.hub.Unsubscribe(c, msg.Channel)
		}
	}
}

// WritePump drains c.send to conn, pinging periodically to detect a dead
// peer.
func (c *Client) WritePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
