// Package ws streams raised alerts to dashboard clients over websockets.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"fleet-monitor/dms/internal/notify"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 50 * time.Second
	sendBuffer = 64
)

// StreamMessage is the envelope written to every client.
type StreamMessage struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

type client struct {
	conn      *websocket.Conn
	companyID string
	send      chan []byte
}

// Hub tracks connected clients and broadcasts alerts to them. A client that
// falls behind by more than sendBuffer messages is dropped.
type Hub struct {
	upgrader websocket.Upgrader
	log      *zap.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
}

func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		log:     log,
		clients: make(map[*client]struct{}),
	}
}

func (h *Hub) Name() string { return "websocket" }

// Send queues msg for every client subscribed to its company. Clients that
// connected without an id_empresa filter receive everything.
func (h *Hub) Send(_ context.Context, msg notify.Message) error {
	body, err := msg.JSON()
	if err != nil {
		return fmt.Errorf("encode alert: %w", err)
	}
	frame, err := json.Marshal(StreamMessage{Type: "alert", Data: body, Timestamp: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}

	company := msg.CompanyID.String()

	h.mu.RLock()
	var slow []*client
	for c := range h.clients {
		if c.companyID != "" && c.companyID != company {
			continue
		}
		select {
		case c.send <- frame:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.log.Warn("websocket client too slow, disconnecting", zap.String("client_addr", c.conn.RemoteAddr().String()))
		h.remove(c)
	}
	return nil
}

// Clients reports the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("failed to upgrade to websocket",
			zap.String("remote_addr", r.RemoteAddr),
			zap.String("origin", r.Header.Get("Origin")),
			zap.Error(err),
		)
		return
	}

	c := &client{
		conn:      conn,
		companyID: r.URL.Query().Get("id_empresa"),
		send:      make(chan []byte, sendBuffer),
	}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	h.log.Info("websocket client connected",
		zap.String("remote_addr", r.RemoteAddr),
		zap.String("id_empresa", c.companyID),
	)

	go h.writeLoop(c)
	h.readLoop(c)
}

// readLoop only detects disconnects; clients never send data.
func (h *Hub) readLoop(c *client) {
	start := time.Now()
	defer func() {
		h.remove(c)
		h.log.Info("websocket client disconnected",
			zap.String("client_addr", c.conn.RemoteAddr().String()),
			zap.Duration("duration", time.Since(start)),
		)
	}()

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Warn("unexpected websocket close", zap.Error(err))
			}
			return
		}
	}
}

func (h *Hub) writeLoop(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
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

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}
