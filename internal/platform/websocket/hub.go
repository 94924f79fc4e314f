// Package websocket pushes console notices to browsers. It implements a
// hub-and-spoke pattern where clients subscribe to topics and receive events
// broadcast to those topics.
package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/neurosense360/console/internal/platform/auth"
)

const (
	TopicAlerts = "alerts"

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 256
)

// ClinicTopic returns the topic carrying notices for one clinic.
func ClinicTopic(clinicID string) string {
	return "clinic/" + clinicID
}

// Event represents a real-time notice sent to WebSocket clients.
type Event struct {
	Type      string          `json:"type"`
	Topic     string          `json:"topic"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// ClientMessage represents an inbound message from a WebSocket client.
type ClientMessage struct {
	Action string   `json:"action"`
	Topics []string `json:"topics"`
}

// EventPublisher defines the interface for publishing events to subscribers.
type EventPublisher interface {
	Publish(ctx context.Context, event Event, topics ...string) error
}

// Client represents a single WebSocket connection.
type Client struct {
	ID       string
	Topics   []string
	Send     chan []byte
	Role     string
	ClinicID string
}

// CanSubscribe reports whether the client may listen on topic. Super admins
// may listen anywhere; other users only on their own clinic's topic.
func (c *Client) CanSubscribe(topic string) bool {
	if c.Role == auth.RoleSuperAdmin {
		return true
	}
	return c.ClinicID != "" && topic == ClinicTopic(c.ClinicID)
}

// Hub is the central connection manager that tracks clients and their topic
// subscriptions. All operations are thread-safe via sync.RWMutex.
type Hub struct {
	logger  zerolog.Logger
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{} // topic -> set of clients
	all     map[*Client]struct{}
}

// NewHub creates a new Hub ready to manage WebSocket clients.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		logger:  logger.With().Str("component", "websocket").Logger(),
		clients: make(map[string]map[*Client]struct{}),
		all:     make(map[*Client]struct{}),
	}
}

// Register adds a client to the hub and subscribes it to its initial topics.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.all[client] = struct{}{}
	for _, topic := range client.Topics {
		if h.clients[topic] == nil {
			h.clients[topic] = make(map[*Client]struct{})
		}
		h.clients[topic][client] = struct{}{}
	}
}

// Unregister removes a client from the hub, all topic subscriptions, and
// closes the client's Send channel.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.all[client]; !ok {
		return
	}
	for _, topic := range client.Topics {
		if subscribers, ok := h.clients[topic]; ok {
			delete(subscribers, client)
			if len(subscribers) == 0 {
				delete(h.clients, topic)
			}
		}
	}
	delete(h.all, client)
	close(client.Send)
}

// Subscribe adds the permitted subset of topics to a registered client and
// returns the topics that were refused.
func (h *Hub) Subscribe(client *Client, topics []string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	var denied []string
	for _, topic := range topics {
		if !client.CanSubscribe(topic) {
			denied = append(denied, topic)
			continue
		}
		if h.clients[topic] == nil {
			h.clients[topic] = make(map[*Client]struct{})
		}
		if _, dup := h.clients[topic][client]; dup {
			continue
		}
		h.clients[topic][client] = struct{}{}
		client.Topics = append(client.Topics, topic)
	}
	return denied
}

// Unsubscribe removes topics from a registered client.
func (h *Hub) Unsubscribe(client *Client, topics []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	removeSet := make(map[string]struct{}, len(topics))
	for _, t := range topics {
		removeSet[t] = struct{}{}
		if subscribers, ok := h.clients[t]; ok {
			delete(subscribers, client)
			if len(subscribers) == 0 {
				delete(h.clients, t)
			}
		}
	}

	remaining := make([]string, 0, len(client.Topics))
	for _, t := range client.Topics {
		if _, rm := removeSet[t]; !rm {
			remaining = append(remaining, t)
		}
	}
	client.Topics = remaining
}

// ProcessMessage handles an inbound ClientMessage, dispatching to Subscribe
// or Unsubscribe as appropriate.
func (h *Hub) ProcessMessage(client *Client, msg ClientMessage) {
	switch msg.Action {
	case "subscribe":
		if denied := h.Subscribe(client, msg.Topics); len(denied) > 0 {
			h.logger.Warn().Str("client", client.ID).Strs("topics", denied).Msg("subscription denied")
		}
	case "unsubscribe":
		h.Unsubscribe(client, msg.Topics)
	}
}

// Broadcast sends an event to every client subscribed to at least one of
// topics. A client subscribed to several of them receives the event once.
func (h *Hub) Broadcast(event Event, topics ...string) int {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to marshal event")
		return 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	seen := make(map[*Client]struct{})
	for _, topic := range topics {
		for client := range h.clients[topic] {
			if _, ok := seen[client]; ok {
				continue
			}
			seen[client] = struct{}{}
			select {
			case client.Send <- data:
			default:
				h.logger.Warn().Str("client", client.ID).Msg("client buffer full, dropping event")
			}
		}
	}
	return len(seen)
}

// Publish implements EventPublisher. Without explicit topics the event's own
// topic is used.
func (h *Hub) Publish(_ context.Context, event Event, topics ...string) error {
	if len(topics) == 0 {
		topics = []string{event.Topic}
	}
	h.Broadcast(event, topics...)
	return nil
}

// ClientCount returns the total number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}

// TopicCount returns the number of clients subscribed to a specific topic.
func (h *Hub) TopicCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[topic])
}

// ---------------------------------------------------------------------------
// Handler: Echo endpoint for WebSocket connections
// ---------------------------------------------------------------------------

// Handler handles HTTP-to-WebSocket upgrades and message routing.
type Handler struct {
	hub      *Hub
	upgrader gorillawebsocket.Upgrader
}

// NewHandler creates a handler bound to hub. Upgrades are accepted from the
// listed origins; "*" or an empty list accepts any origin.
func NewHandler(hub *Hub, origins []string) *Handler {
	allowed := make(map[string]struct{}, len(origins))
	allowAll := len(origins) == 0
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if o == "*" {
			allowAll = true
		}
		allowed[o] = struct{}{}
	}
	return &Handler{
		hub: hub,
		upgrader: gorillawebsocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if allowAll || origin == "" {
					return true
				}
				_, ok := allowed[origin]
				return ok
			},
		},
	}
}

// RegisterRoutes registers the WebSocket endpoint on the provided Echo group.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/ws", h.HandleConnect)
}

// defaultTopics subscribes super admins to the global alert feed and
// clinic users to their own clinic.
func defaultTopics(client *Client) []string {
	if client.Role == auth.RoleSuperAdmin {
		return []string{TopicAlerts}
	}
	if client.ClinicID != "" {
		return []string{ClinicTopic(client.ClinicID)}
	}
	return nil
}

// HandleConnect upgrades an HTTP connection to WebSocket, registers the
// client with the hub, and starts read/write pumps.
func (h *Handler) HandleConnect(c echo.Context) error {
	ctx := c.Request().Context()
	client := &Client{
		ID:   uuid.New().String(),
		Send: make(chan []byte, sendBuffer),
	}
	if roles := auth.RolesFromContext(ctx); len(roles) > 0 {
		client.Role = roles[0]
	}
	if id, ok := auth.ClinicIDFromContext(ctx); ok {
		client.ClinicID = id.String()
	}
	client.Topics = defaultTopics(client)

	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	h.hub.Register(client)
	h.hub.logger.Debug().Str("client", client.ID).Strs("topics", client.Topics).Msg("client connected")

	go h.writePump(client, ws)
	go h.readPump(client, ws)
	return nil
}

// readPump reads messages from the WebSocket connection and processes them.
func (h *Handler) readPump(client *Client, ws *gorillawebsocket.Conn) {
	defer func() {
		h.hub.Unregister(client)
		ws.Close()
	}()

	ws.SetReadLimit(4096)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := ws.ReadMessage()
		if err != nil {
			break
		}
		var msg ClientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		h.hub.ProcessMessage(client, msg)
	}
}

// writePump writes messages from the Send channel to the WebSocket connection
// and keeps the connection alive with pings.
func (h *Handler) writePump(client *Client, ws *gorillawebsocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				ws.WriteMessage(gorillawebsocket.CloseMessage, []byte{})
				return
			}
			if err := ws.WriteMessage(gorillawebsocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(gorillawebsocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
