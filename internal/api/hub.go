package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"signalbot/internal/model"
	"signalbot/internal/notify"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Event is one envelope pushed to WebSocket clients.
type Event struct {
	Type string      `json:"type"` // signal | order | pnl | alert
	TS   time.Time   `json:"ts"`
	Data interface{} `json:"data"`
}

// Hub fans out trading events to connected WebSocket clients.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]bool
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[*client]bool)}
}

// Broadcast sends an event to every connected client, dropping it for
// clients with a full send queue.
func (h *Hub) Broadcast(eventType string, data interface{}) {
	payload, err := json.Marshal(Event{Type: eventType, TS: time.Now(), Data: data})
	if err != nil {
		log.Printf("[api] marshal event %s: %v", eventType, err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWS upgrades the connection and registers the client.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[api] ws upgrade: %v", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, 64), hub: h}

	h.mu.Lock()
	h.clients[c] = true
	count := len(h.clients)
	h.mu.Unlock()
	log.Printf("[api] ws client connected (%d total)", count)

	go c.writePump()
	go c.readPump()
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub
}

func (c *client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
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

func (c *client) readPump() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
		log.Printf("[api] ws client disconnected")
	}()

	c.conn.SetReadLimit(1024)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// EventNotifier decorates a notifier with hub broadcasting, so every
// Telegram-bound event also reaches the admin stream.
type EventNotifier struct {
	Inner notify.Notifier
	Hub   *Hub
}

func (n *EventNotifier) SendSignal(ctx context.Context, s *model.Signal) error {
	n.Hub.Broadcast("signal", s)
	return n.Inner.SendSignal(ctx, s)
}

func (n *EventNotifier) SendOrderUpdate(ctx context.Context, s *model.Signal, executed bool, message string) error {
	n.Hub.Broadcast("order", map[string]interface{}{
		"signal": s, "executed": executed, "message": message,
	})
	return n.Inner.SendOrderUpdate(ctx, s, executed, message)
}

func (n *EventNotifier) SendPnLUpdate(ctx context.Context, s *model.Signal, reason model.ExitReason) error {
	n.Hub.Broadcast("pnl", map[string]interface{}{
		"signal": s, "exit_reason": reason,
	})
	return n.Inner.SendPnLUpdate(ctx, s, reason)
}

func (n *EventNotifier) SendSystemAlert(ctx context.Context, level notify.AlertLevel, message string) error {
	n.Hub.Broadcast("alert", map[string]interface{}{
		"level": level, "message": message,
	})
	return n.Inner.SendSystemAlert(ctx, level, message)
}

var _ notify.Notifier = (*EventNotifier)(nil)
