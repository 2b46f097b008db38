package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/evbridge/tesla-ble-bridge/internal/entity"
	"github.com/evbridge/tesla-ble-bridge/internal/infrastructure/logging"
)

// WebSocket timing constants.
const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
	wsSendBuffer   = 64
)

// wsEvent is the JSON document pushed to WebSocket subscribers.
type wsEvent struct {
	Type      string    `json:"type"`
	Vehicle   string    `json:"vehicle"`
	Entity    string    `json:"entity,omitempty"`
	Value     any       `json:"value,omitempty"`
	Status    string    `json:"status,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// hub fans entity and status events out to connected WebSocket clients.
//
// Each client gets a buffered send channel; a client that cannot keep up
// is dropped rather than allowed to stall the broadcast path.
type hub struct {
	logger *logging.Logger

	mu      sync.Mutex
	clients map[*wsClient]struct{}

	broadcast chan []byte
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

func newHub(logger *logging.Logger) *hub {
	return &hub{
		logger:    logger,
		clients:   make(map[*wsClient]struct{}),
		broadcast: make(chan []byte, wsSendBuffer),
	}
}

// run distributes broadcast messages until the context is cancelled,
// then closes every client.
func (h *hub) run(ctx context.Context) {
	for {
		select {
		case msg := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					// Slow consumer: disconnect it.
					delete(h.clients, c)
					close(c.send)
				}
			}
			h.mu.Unlock()

		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			return
		}
	}
}

// broadcastEvent converts a notifier event to JSON and queues it.
// Called from the notifier's dispatch goroutine; never blocks.
func (h *hub) broadcastEvent(ev entity.Event) {
	doc := wsEvent{
		Type:      string(ev.Type),
		Vehicle:   ev.VehicleID,
		Status:    ev.Status,
		Timestamp: ev.Timestamp,
	}
	if ev.Type == entity.EventEntityChanged {
		doc.Entity = ev.Entity.ObjectID
		doc.Value = ev.Entity.Value.Interface()
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return
	}

	select {
	case h.broadcast <- data:
	default:
		h.logger.Debug("websocket broadcast queue full, dropping event")
	}
}

func (h *hub) register(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *hub) unregister(c *wsClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// handleWebSocket upgrades GET /api/v1/ws and streams change events.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || originAllowed(s.cfg.CORS.AllowedOrigins, origin)
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := &wsClient{conn: conn, send: make(chan []byte, wsSendBuffer)}
	s.hub.register(client)
	s.logger.Debug("websocket client connected", "remote", conn.RemoteAddr().String())

	go s.writePump(client)
	go s.readPump(client)
}

// writePump delivers queued messages and keepalive pings to one client.
func (s *Server) writePump(c *wsClient) {
	ticker := time.NewTicker(wsPingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump drains incoming frames so close and pong frames are
// processed. The stream is push-only; client payloads are discarded.
func (s *Server) readPump(c *wsClient) {
	defer func() {
		s.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
