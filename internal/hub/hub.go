// Package hub adapts the teacher's websocket broadcast hub to push trigger
// and health-transition events to connected dashboards at /api/live. Not
// named in spec.md itself, but a natural home for gorilla/websocket, and
// the transport a future dashboard
// would need for the live-updating views spec.md's HTTP Facade implies.
package hub

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"gatecam/internal/logging"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Event is the envelope broadcast to every connected client.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
	At   time.Time   `json:"at"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub tracks connected dashboard clients and fans out events to all of
// them, dropping any client whose send buffer is full rather than
// blocking the broadcaster.
type Hub struct {
	log *logging.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
}

// New constructs an empty Hub.
func New(log *logging.Logger) *Hub {
	return &Hub{log: log, clients: make(map[*client]struct{})}
}

// ServeWS upgrades the request to a websocket and registers the connection
// until it disconnects.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warning("hub: upgrade: %v", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, 16)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) readPump(c *client) {
	defer h.remove(c)
	c.conn.SetReadLimit(512)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
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
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// Broadcast encodes an Event of eventType carrying data and fans it to
// every connected client.
func (h *Hub) Broadcast(eventType string, data interface{}) {
	msg, err := json.Marshal(Event{Type: eventType, Data: data, At: time.Now()})
	if err != nil {
		h.log.Warning("hub: marshal event: %v", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			// Slow consumer: drop rather than block the broadcaster.
		}
	}
}

// Clients reports the current connection count.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
