package events

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	TypeDecision   = "decision"
	TypeOrder      = "order"
	TypeOrderError = "order_error"
	TypeError      = "error"
	TypeStatus     = "status"
	TypeTick       = "tick"

	clientBuffer = 64
	writeWait    = 10 * time.Second
	pingPeriod   = 30 * time.Second
)

type Event struct {
	Type string    `json:"type"`
	At   time.Time `json:"at"`
	Data any       `json:"data"`
}

// Publisher is what the engine needs from the hub.
type Publisher interface {
	Publish(eventType string, data any)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans events out to connected websocket clients. Slow clients drop
// events rather than blocking publishers.
type Hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
	log     *zap.Logger
	now     func() time.Time
}

func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		clients: make(map[*client]struct{}),
		log:     log,
		now:     time.Now,
	}
}

func (h *Hub) Publish(eventType string, data any) {
	msg, err := json.Marshal(Event{Type: eventType, At: h.now().UTC(), Data: data})
	if err != nil {
		h.log.Warn("event marshal", zap.String("type", eventType), zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			h.log.Debug("event dropped for slow client", zap.String("type", eventType))
		}
	}
}

func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeWS upgrades the request and streams events until the client goes away.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade", zap.Error(err))
		return
	}
	// Hijacked connections inherit the server's read/write timeouts.
	conn.SetReadDeadline(time.Time{})
	conn.SetWriteDeadline(time.Time{})
	c := &client{conn: conn, send: make(chan []byte, clientBuffer)}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.log.Debug("event client connected", zap.String("remote", r.RemoteAddr))

	go h.writeLoop(c)
	h.readLoop(c)
}

// readLoop discards inbound frames; it exists to notice disconnects.
func (h *Hub) readLoop(c *client) {
	defer h.remove(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
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
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
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

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
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
