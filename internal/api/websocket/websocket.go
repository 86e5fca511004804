package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/authgrid/ldap-admin/internal/config"
	"github.com/authgrid/ldap-admin/internal/models"
	"github.com/authgrid/ldap-admin/internal/monitoring"
	"github.com/authgrid/ldap-admin/pkg/logger"
)

const (
	writeWait           = 10 * time.Second
	maxInboundBytes     = 512
	sendBufferSize      = 16
	broadcastBufferSize = 64
)

// Hub fans security events out to connected administrator consoles. The
// security manager publishes through its event sink interface; the hub owns
// every connection and its pumps.
type Hub struct {
	cfg      config.WebSocketConfig
	origins  []string
	upgrader websocket.Upgrader
	logger   logger.Logger

	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	mu         sync.RWMutex
}

// Client is one upgraded connection. The session and principal are captured
// at upgrade time for logging only; revoking the session does not tear the
// stream down until the next read or write fails.
type Client struct {
	hub       *Hub
	conn      *websocket.Conn
	send      chan []byte
	sessionID string
	principal string
}

// Message is the wire envelope for every frame the hub writes.
type Message struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

// NewHub builds the hub. allowedOrigins carries the CORS origin list so
// browser upgrades obey the same policy as the REST surface.
func NewHub(cfg config.WebSocketConfig, allowedOrigins []string, log logger.Logger) *Hub {
	h := &Hub{
		cfg:        cfg,
		origins:    allowedOrigins,
		logger:     log,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, broadcastBufferSize),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  cfg.ReadBufferSize,
		WriteBufferSize: cfg.WriteBufferSize,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// Run owns the client set until ctx is cancelled. Register, unregister and
// broadcast all funnel through here so the map is only mutated from one
// goroutine; the mutex exists for ClientCount readers.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()

			monitoring.WebsocketClientConnected()
			h.logger.Info("Event stream client connected",
				"principal", client.principal,
				"session_id", client.sessionID,
			)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				monitoring.WebsocketClientDisconnected()
			}
			h.mu.Unlock()

			h.logger.Info("Event stream client disconnected", "principal", client.principal)

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Slow consumer: drop it rather than stall the stream.
					delete(h.clients, client)
					close(client.send)
					monitoring.WebsocketClientDisconnected()
				}
			}
			h.mu.Unlock()

		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
				monitoring.WebsocketClientDisconnected()
			}
			h.mu.Unlock()
			return
		}
	}
}

// Publish implements the security manager's event sink. Authentication and
// plugin mutation paths must never block on a stalled stream, so a full
// broadcast buffer drops the event.
func (h *Hub) Publish(event *models.SecurityEvent) {
	payload, err := json.Marshal(Message{
		Type:      event.Type,
		Data:      event,
		Timestamp: time.Now(),
	})
	if err != nil {
		h.logger.Error("Failed to marshal security event", "type", event.Type, "error", err)
		return
	}

	select {
	case h.broadcast <- payload:
	default:
		h.logger.Warn("Event stream backlogged, dropping event", "type", event.Type)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeEvents handles GET /ws/v1/security/events. The auth middleware has
// already resolved the session; this only upgrades and starts the pumps.
func (h *Hub) ServeEvents(c *gin.Context) {
	if !h.cfg.Enabled {
		c.JSON(http.StatusNotFound, gin.H{
			"status": "error",
			"error":  "Event streaming is disabled",
		})
		return
	}
	if max := h.cfg.MaxConnections; max > 0 && h.ClientCount() >= max {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "error",
			"error":  "Too many event stream connections",
		})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("WebSocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		hub:       h,
		conn:      conn,
		send:      make(chan []byte, sendBufferSize),
		sessionID: c.GetString("session_id"),
		principal: c.GetString("principal_id"),
	}
	h.register <- client

	go client.writePump(h.pingInterval())
	go client.readPump(h.pingInterval())
}

func (h *Hub) pingInterval() time.Duration {
	if h.cfg.PingInterval > 0 {
		return time.Duration(h.cfg.PingInterval) * time.Second
	}
	return 30 * time.Second
}

// checkOrigin guards against cross-site WebSocket hijacking: the session
// rides on a cookie, so a hostile page could otherwise open the stream.
// Non-browser clients send no Origin header and pass.
func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if strings.EqualFold(u.Host, r.Host) {
		return true
	}
	for _, allowed := range h.origins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

func (c *Client) readPump(pingInterval time.Duration) {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxInboundBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(pingInterval * 2))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pingInterval * 2))
	})

	// The stream is one-way; inbound frames only service the deadline.
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("Event stream read failed", "principal", c.principal, "error", err)
			}
			return
		}
	}
}

func (c *Client) writePump(pingInterval time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
