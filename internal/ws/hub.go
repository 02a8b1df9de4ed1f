// Package ws pushes engine activity to connected dashboards over websocket.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"crm-automation/internal/chatbot"
	"crm-automation/internal/models"
)

// Event types sent to clients.
const (
	EventExecution     = "execution_update"
	EventAutomationLog = "automation_log"
	EventMessageStatus = "message_status"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const writeWait = 10 * time.Second

// Client represents a connected WebSocket client
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	tenant string
}

type envelope struct {
	tenant  string
	payload []byte
}

// Hub maintains the set of active clients and broadcasts events to them.
// Clients subscribe to one tenant with ?tenant_id=, or to every tenant.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan envelope
	register   chan *Client
	unregister chan *Client
	done       chan struct{} // closed when Run returns
	mu         sync.Mutex
	logger     zerolog.Logger
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		broadcast:  make(chan envelope, 1024),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		clients:    make(map[*Client]bool),
		logger:     logger.With().Str("component", "ws").Logger(),
	}
}

// Run serves registrations and broadcasts until ctx is cancelled. It must
// be called at most once.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return nil
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Debug().Str("tenant_id", client.tenant).Msg("websocket client registered")
		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			h.logger.Debug().Msg("websocket client unregistered")
		case msg := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				if client.tenant != "" && client.tenant != msg.tenant {
					continue
				}
				select {
				case client.send <- msg.payload:
				default:
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

type WSEvent struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// BroadcastEvent never blocks the caller; events are dropped when the hub is
// saturated.
func (h *Hub) BroadcastEvent(tenantID, eventType string, data any) {
	payload, err := json.Marshal(WSEvent{Type: eventType, Data: data})
	if err != nil {
		h.logger.Error().Err(err).Str("type", eventType).Msg("failed to encode websocket event")
		return
	}
	select {
	case h.broadcast <- envelope{tenant: tenantID, payload: payload}:
	default:
		h.logger.Warn().Str("type", eventType).Msg("websocket broadcast buffer full, event dropped")
	}
}

func (h *Hub) ExecutionChanged(exec *chatbot.Execution) {
	h.BroadcastEvent(exec.TenantID, EventExecution, exec)
}

func (h *Hub) AutomationFired(entry *models.AutomationExecutionLog) {
	h.BroadcastEvent(entry.TenantID, EventAutomationLog, entry)
}

func (h *Hub) MessageStatusChanged(job models.SendJob, status string) {
	h.BroadcastEvent(job.TenantID, EventMessageStatus, map[string]string{
		"message_id":      job.MessageID,
		"conversation_id": job.ConversationID,
		"status":          status,
	})
}

func (h *Hub) ServeWs(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	client := &Client{hub: h, conn: conn, send: make(chan []byte, 256), tenant: r.URL.Query().Get("tenant_id")}
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()
	for {
		// inbound frames are ignored; reading detects the close
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()
	for message := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
	_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}
