package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pulseguard/internal/models"
	"github.com/sirupsen/logrus"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 512
	sendBuffer     = 256
)

const (
	MessageTypeConnection      = "connection"
	MessageTypeAlertTransition = "alert_transition"
	MessageTypeScaleDecision   = "scale_decision"
)

// Message is one frame pushed to stream subscribers.
type Message struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Hub fans alert transitions and scaling actions out to websocket clients.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan []byte
	register   chan *client
	unregister chan *client
	done       chan struct{}
	logger     *logrus.Logger
	now        func() time.Time

	mu        sync.RWMutex
	connected int
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	hub  *Hub
}

func NewHub(logger *logrus.Logger) *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan []byte, sendBuffer),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		logger:     logger,
		now:        time.Now,
	}
}

// Run serves registrations and broadcasts until ctx is cancelled, then
// disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("Stream hub started")
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				h.drop(c)
			}
			h.logger.Info("Stream hub stopped")
			return
		case c := <-h.register:
			h.clients[c] = true
			h.setConnected(len(h.clients))
			h.logger.WithFields(logrus.Fields{
				"client_id":         c.id,
				"connected_clients": len(h.clients),
			}).Info("Stream client connected")
			c.send <- h.encode(MessageTypeConnection, map[string]string{"client_id": c.id})
		case c := <-h.unregister:
			if h.clients[c] {
				h.drop(c)
				h.logger.WithField("client_id", c.id).Info("Stream client disconnected")
			}
		case msg := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					// slow consumer
					h.drop(c)
				}
			}
		}
	}
}

func (h *Hub) drop(c *client) {
	delete(h.clients, c)
	close(c.send)
	h.setConnected(len(h.clients))
}

func (h *Hub) setConnected(n int) {
	h.mu.Lock()
	h.connected = n
	h.mu.Unlock()
}

// Clients returns the number of connected subscribers.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.connected
}

func (h *Hub) encode(msgType string, data interface{}) []byte {
	b, err := json.Marshal(Message{Type: msgType, Data: data, Timestamp: h.now().UTC()})
	if err != nil {
		h.logger.WithError(err).WithField("type", msgType).Error("Failed to encode stream message")
		return nil
	}
	return b
}

// Publish queues a message for every client. It never blocks the caller.
func (h *Hub) Publish(msgType string, data interface{}) {
	b := h.encode(msgType, data)
	if b == nil {
		return
	}
	select {
	case h.broadcast <- b:
	default:
		h.logger.WithField("type", msgType).Warn("Stream broadcast queue full, dropping message")
	}
}

func (h *Hub) OnTransition(t models.AlertTransition) {
	h.Publish(MessageTypeAlertTransition, t)
}

func (h *Hub) OnScaleDecision(d models.ScaleDecision) {
	h.Publish(MessageTypeScaleDecision, d)
}

// Handler upgrades the request and attaches the connection to the hub.
func (h *Hub) Handler() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		conn, err := upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
		if err != nil {
			h.logger.WithError(err).Error("Failed to upgrade stream connection")
			return
		}
		c := &client{
			id:   uuid.New().String(),
			conn: conn,
			send: make(chan []byte, sendBuffer),
			hub:  h,
		}
		select {
		case h.register <- c:
		case <-h.done:
			conn.Close()
			return
		}

		go c.writePump()
		go c.readPump()
	}
}

// readPump only handles control frames; subscribers never send data.
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.WithError(err).Warn("Stream connection error")
			}
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
