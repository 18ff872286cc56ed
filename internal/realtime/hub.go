// Package realtime provides WebSocket streaming for live engine activity.
//
// Instead of polling, operators and integrators subscribe to real-time
// events:
// - Verification decisions as they complete
// - Escrow transitions
// - Dispute stage changes
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ITDevS919/trustverify/internal/metrics"
)

// normalCloseCodes are WebSocket close codes that indicate an expected disconnect.
var normalCloseCodes = []int{
	websocket.CloseNormalClosure,
	websocket.CloseGoingAway,
	websocket.CloseNoStatusReceived,
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // Allow non-browser clients
		}
		// Allow same-host connections
		host := r.Host
		return origin == "http://"+host || origin == "https://"+host
	},
}

// EventType for real-time events
type EventType string

const (
	EventDecision     EventType = "decision"
	EventTransaction  EventType = "transaction"
	EventEscrow       EventType = "escrow"
	EventDisputeStage EventType = "dispute_stage"
)

// Event represents a real-time event
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// Subscription filters for a client
type Subscription struct {
	AllEvents  bool        `json:"allEvents"`
	EventTypes []EventType `json:"eventTypes"`
	EntityIDs  []string    `json:"entityIds"` // Watch specific entities
	MinAmount  float64     `json:"minAmount"` // Only transactions above this
}

// Client represents a WebSocket connection
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	mu   sync.RWMutex
	sub  Subscription
}

// MaxClients is the maximum number of concurrent WebSocket connections.
const MaxClients = 10000

// Hub manages all WebSocket connections
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan *Event
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
	logger     *slog.Logger
	done       chan struct{} // closed when Run exits; prevents upgrade race
	maxClients int

	// Stats
	totalEvents  atomic.Int64
	totalClients atomic.Int64
	peakClients  atomic.Int64
}

// NewHub creates a new WebSocket hub
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan *Event, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger,
		done:       make(chan struct{}),
		maxClients: MaxClients,
	}
}

// Run starts the hub's main loop
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("realtime hub started")
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("realtime hub shutting down, closing client connections")
			h.mu.Lock()
			for client := range h.clients {
				close(client.send) // writePump sends CloseMessage on closed channel
				delete(h.clients, client)
			}
			h.mu.Unlock()
			metrics.ActiveWebSocketClients.Set(0)
			h.logger.Info("realtime hub stopped")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.totalClients.Add(1)
			if current := int64(len(h.clients)); current > h.peakClients.Load() {
				h.peakClients.Store(current)
			}
			n := len(h.clients)
			h.mu.Unlock()
			metrics.ActiveWebSocketClients.Set(float64(n))
			h.logger.Info("client connected", "total", n)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			metrics.ActiveWebSocketClients.Set(float64(n))
			h.logger.Info("client disconnected", "total", n)

		case event := <-h.broadcast:
			h.totalEvents.Add(1)
			h.fanout(event)
		}
	}
}

// fanout delivers an event to every subscribed client. Clients whose send
// buffers are full get dropped rather than stalling the hub loop.
func (h *Hub) fanout(event *Event) {
	payload := h.serialize(event)

	h.mu.RLock()
	var slow []*Client
	for client := range h.clients {
		if !h.shouldSend(client, event) {
			continue
		}
		select {
		case client.send <- payload:
		default:
			slow = append(slow, client)
		}
	}
	h.mu.RUnlock()

	if len(slow) == 0 {
		return
	}
	h.mu.Lock()
	for _, client := range slow {
		if _, ok := h.clients[client]; ok {
			close(client.send)
			delete(h.clients, client)
		}
	}
	h.mu.Unlock()
}

// shouldSend checks if event matches client's subscription
func (h *Hub) shouldSend(client *Client, event *Event) bool {
	client.mu.RLock()
	sub := client.sub
	client.mu.RUnlock()

	if sub.AllEvents {
		return true
	}
	if len(sub.EventTypes) > 0 && !matchesType(sub.EventTypes, event.Type) {
		return false
	}
	if len(sub.EntityIDs) > 0 && !matchesEntity(sub.EntityIDs, event) {
		return false
	}
	if sub.MinAmount > 0 && event.Type == EventTransaction {
		if data, ok := event.Data.(map[string]interface{}); ok {
			if amount, ok := data["amount"].(float64); ok && amount < sub.MinAmount {
				return false
			}
		}
	}
	return true
}

func matchesType(types []EventType, t EventType) bool {
	for _, want := range types {
		if want == t {
			return true
		}
	}
	return false
}

// matchesEntity reports whether the event involves any of the watched
// entities, as subject, buyer, or seller.
func matchesEntity(ids []string, event *Event) bool {
	data, ok := event.Data.(map[string]interface{})
	if !ok {
		return true
	}
	entity, _ := data["entityId"].(string)
	buyer, _ := data["buyerId"].(string)
	seller, _ := data["sellerId"].(string)

	for _, id := range ids {
		if id == entity || id == buyer || id == seller {
			return true
		}
	}
	return false
}

func (h *Hub) serialize(event *Event) []byte {
	data, _ := json.Marshal(event)
	return data
}

// Broadcast sends an event to all matching clients
func (h *Hub) Broadcast(event *Event) {
	select {
	case h.broadcast <- event:
	default:
		h.logger.Warn("broadcast channel full, dropping event")
	}
}

func (h *Hub) emit(t EventType, data map[string]interface{}) {
	h.Broadcast(&Event{Type: t, Timestamp: time.Now(), Data: data})
}

// BroadcastDecision sends a verification decision event.
func (h *Hub) BroadcastDecision(data map[string]interface{}) {
	h.emit(EventDecision, data)
}

// BroadcastTransaction sends a transaction event.
func (h *Hub) BroadcastTransaction(data map[string]interface{}) {
	h.emit(EventTransaction, data)
}

// BroadcastEscrow sends an escrow transition event.
func (h *Hub) BroadcastEscrow(data map[string]interface{}) {
	h.emit(EventEscrow, data)
}

// BroadcastDisputeStage sends a dispute stage change event.
func (h *Hub) BroadcastDisputeStage(data map[string]interface{}) {
	h.emit(EventDisputeStage, data)
}

// Stats returns hub statistics
func (h *Hub) Stats() map[string]interface{} {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return map[string]interface{}{
		"connectedClients": len(h.clients),
		"totalEvents":      h.totalEvents.Load(),
		"totalClients":     h.totalClients.Load(),
		"peakClients":      h.peakClients.Load(),
	}
}

// HandleWebSocket upgrades HTTP to WebSocket
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Reject upgrades after the hub has stopped to prevent orphaned connections.
	select {
	case <-h.done:
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	// Enforce connection limit
	h.mu.RLock()
	n := len(h.clients)
	h.mu.RUnlock()
	if n >= h.maxClients {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, 256),
		sub:  Subscription{AllEvents: true}, // Default: all events
	}

	h.register <- client

	go client.writePump()
	go client.readPump()
}

// readPump reads messages from WebSocket (subscriptions, pings)
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(512 * 1024)
	_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, normalCloseCodes...) {
				c.hub.logger.Warn("websocket read error", "error", err)
			}
			break
		}

		// Parse subscription update
		var sub Subscription
		if err := json.Unmarshal(message, &sub); err == nil {
			c.mu.Lock()
			c.sub = sub
			c.mu.Unlock()
		}
	}
}

// writePump writes messages to WebSocket
func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.hub.logger.Warn("websocket write error", "error", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.hub.logger.Debug("websocket ping failed", "error", err)
				return
			}
		}
	}
}
