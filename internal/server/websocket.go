package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/kubilitics/kubilitics-anomaly/internal/alerting"
	"github.com/kubilitics/kubilitics-anomaly/internal/metrics"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Clients only send control frames; anything larger is dropped.
	maxMessageSize = 4 * 1024

	sendBuffer = 64
)

// defaultOrigins are accepted when no allow list is configured.
var defaultOrigins = []string{"http://localhost:3000", "http://localhost:5173"}

// WSMessage is the frame pushed to alert subscribers.
type WSMessage struct {
	Type      string          `json:"type"`
	Alert     *alerting.Alert `json:"alert"`
	Timestamp time.Time       `json:"timestamp"`
}

// newUpgrader builds an upgrader that accepts the given origins. "*" accepts
// any origin; requests without an Origin header come from non-browser clients
// and are always accepted.
func newUpgrader(origins []string) websocket.Upgrader {
	if len(origins) == 0 {
		origins = defaultOrigins
	}
	allowAll := false
	for _, o := range origins {
		if o == "*" {
			allowAll = true
		}
	}

	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || allowAll {
				return true
			}
			for _, o := range origins {
				if strings.EqualFold(o, origin) {
					return true
				}
			}
			return false
		},
	}
}

// Hub fans alert events out to websocket subscribers. It implements
// alerting.Notifier.
type Hub struct {
	mu      sync.RWMutex
	clients map[*wsClient]struct{}
	closed  bool
	logger  *zap.Logger
}

// wsClient is one subscriber connection.
type wsClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	hub  *Hub
}

// NewHub creates an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients: make(map[*wsClient]struct{}),
		logger:  logger,
	}
}

// Handler upgrades subscribers on the allowed origins.
func (h *Hub) Handler(origins []string) http.Handler {
	upgrader := newUpgrader(origins)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade has already written the error response.
			h.logger.Debug("WebSocket upgrade failed", zap.Error(err))
			return
		}

		c := &wsClient{
			id:   uuid.New().String(),
			conn: conn,
			send: make(chan []byte, sendBuffer),
			hub:  h,
		}
		if !h.register(c) {
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeWait))
			conn.Close()
			return
		}

		h.logger.Info("Alert subscriber connected",
			zap.String("client", c.id),
			zap.String("remote", r.RemoteAddr))

		go c.writePump()
		go c.readPump()
	})
}

// Notify implements alerting.Notifier. It never blocks: subscribers whose
// buffer is full are disconnected.
func (h *Hub) Notify(_ context.Context, ev alerting.AlertEvent) error {
	data, err := json.Marshal(WSMessage{
		Type:      ev.Type,
		Alert:     ev.Alert,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.logger.Warn("Dropping slow alert subscriber", zap.String("client", c.id))
			h.removeLocked(c)
		}
	}
	return nil
}

// Close disconnects every subscriber and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		h.removeLocked(c)
	}
}

// Len returns the number of connected subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) register(c *wsClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	metrics.WebSocketConnections.Inc()
	return true
}

func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

// removeLocked closes c's send channel exactly once; the write pump then
// sends a close frame and exits.
func (h *Hub) removeLocked(c *wsClient) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	metrics.WebSocketConnections.Dec()
}

// readPump discards client frames and keeps the read deadline fresh so pongs
// are processed. It returns when the peer goes away.
func (c *wsClient) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
		c.hub.logger.Info("Alert subscriber disconnected", zap.String("client", c.id))
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debug("WebSocket read error", zap.String("client", c.id), zap.Error(err))
			}
			return
		}
		metrics.WebSocketMessagesTotal.WithLabelValues("inbound").Inc()
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
			metrics.WebSocketMessagesTotal.WithLabelValues("outbound").Inc()

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
