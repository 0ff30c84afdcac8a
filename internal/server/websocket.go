package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/YasmineBenYamna/AI-Enhanced-Crop-Monitoring-and-Sensor-Based-Anomaly-Detection/internal/metrics"
	"github.com/YasmineBenYamna/AI-Enhanced-Crop-Monitoring-and-Sensor-Based-Anomaly-Detection/internal/models"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Clients only send control frames
	maxMessageSize = 4 * 1024

	clientBuffer = 64
)

// WebSocket message types
const (
	MessageTypeRecommendation = "recommendation"
	MessageTypeHello          = "hello"
)

// WSMessage is a message pushed to live feed clients.
type WSMessage struct {
	Type           string                 `json:"type"`
	Recommendation *models.Recommendation `json:"recommendation,omitempty"`
	ClientID       string                 `json:"client_id,omitempty"`
	Timestamp      time.Time              `json:"timestamp"`
}

// defaultOrigins are the local dashboard dev servers.
var defaultOrigins = []string{"http://localhost:3000", "http://localhost:5173"}

// newUpgrader returns an upgrader that accepts requests without an Origin
// header, any origin when allowed contains "*", and otherwise only the
// allowed origins (case-insensitive).
func newUpgrader(allowed []string) websocket.Upgrader {
	if len(allowed) == 0 {
		allowed = defaultOrigins
	}
	set := make(map[string]bool, len(allowed))
	wildcard := false
	for _, o := range allowed {
		if o == "*" {
			wildcard = true
		}
		set[strings.ToLower(strings.TrimRight(o, "/"))] = true
	}
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || wildcard {
				return true
			}
			u, err := url.Parse(origin)
			if err != nil || u.Host == "" {
				return false
			}
			return set[strings.ToLower(u.Scheme+"://"+u.Host)]
		},
	}
}

// corsOrigins applies the same default as the websocket upgrader.
func corsOrigins(allowed []string) []string {
	if len(allowed) == 0 {
		return defaultOrigins
	}
	return allowed
}

// Hub fans recommendations out to connected live feed clients. It
// implements the agent's Notifier.
type Hub struct {
	clients    map[*wsClient]bool
	broadcast  chan []byte
	register   chan *wsClient
	unregister chan *wsClient

	mu sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	logger *zap.Logger
}

// NewHub creates a hub. Call Run to start it.
func NewHub(ctx context.Context, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	hubCtx, cancel := context.WithCancel(ctx)
	return &Hub{
		clients:    make(map[*wsClient]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		ctx:        hubCtx,
		cancel:     cancel,
		done:       make(chan struct{}),
		logger:     logger.Named("ws"),
	}
}

// Run serves the hub until its context ends. Every client is disconnected
// on exit.
func (h *Hub) Run() {
	defer close(h.done)
	for {
		select {
		case <-h.ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				h.drop(c)
			}
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			metrics.WebSocketConnections.Inc()

		case c := <-h.unregister:
			h.mu.Lock()
			if h.clients[c] {
				h.drop(c)
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- msg:
					metrics.WebSocketMessagesTotal.WithLabelValues("outbound").Inc()
				default:
					h.logger.Warn("dropping slow websocket client", zap.String("client_id", c.id))
					h.drop(c)
				}
			}
			h.mu.Unlock()
		}
	}
}

// drop removes c. Callers hold h.mu.
func (h *Hub) drop(c *wsClient) {
	delete(h.clients, c)
	close(c.send)
	metrics.WebSocketConnections.Dec()
}

// Stop disconnects every client and waits for Run to return.
func (h *Hub) Stop() {
	h.cancel()
	<-h.done
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Notify broadcasts rec to every connected client.
func (h *Hub) Notify(ctx context.Context, rec *models.Recommendation) error {
	data, err := json.Marshal(WSMessage{
		Type:           MessageTypeRecommendation,
		Recommendation: rec,
		Timestamp:      time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- data:
		metrics.NotificationsTotal.WithLabelValues("websocket", "sent").Inc()
		return nil
	case <-h.ctx.Done():
		return nil
	case <-ctx.Done():
		metrics.NotificationsTotal.WithLabelValues("websocket", "error").Inc()
		return ctx.Err()
	}
}

// wsClient is one live feed connection.
type wsClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	hub  *Hub
}

// handleWebSocket upgrades the request and attaches the client to the hub.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := newUpgrader(s.config.AllowedOrigins)
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &wsClient{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, clientBuffer),
		hub:  s.hub,
	}

	hello, _ := json.Marshal(WSMessage{Type: MessageTypeHello, ClientID: c.id, Timestamp: time.Now().UTC()})
	c.send <- hello

	select {
	case s.hub.register <- c:
	case <-s.hub.ctx.Done():
		_ = conn.Close()
		return
	}
	s.logger.Debug("websocket client connected", zap.String("client_id", c.id))

	go c.writePump()
	go c.readPump()
}

// readPump discards client messages and detects disconnects.
func (c *wsClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.ctx.Done():
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debug("websocket read error", zap.String("client_id", c.id), zap.Error(err))
			}
			return
		}
		metrics.WebSocketMessagesTotal.WithLabelValues("inbound").Inc()
	}
}

// writePump writes queued messages and keepalive pings.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
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
