package broadcast

import (
	"log/slog"
	"net/http"
	"path"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"go.aimuz.me/transcast/internal/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	clientQueue    = 64
)

// Hub relays WebSocket messages between the members of a channel. Mount it
// on a pattern with an {id} wildcard, such as "GET /channels/{id}". It keeps
// no history and checks no credentials.
type Hub struct {
	upgrader websocket.Upgrader
	logger   *slog.Logger
	metrics  *metrics.Metrics

	mu       sync.Mutex
	channels map[string]map[*hubClient]struct{}
	clients  int
}

type hubClient struct {
	conn *websocket.Conn
	send chan []byte
}

// NewHub creates an empty hub. logger and m may be nil.
func NewHub(logger *slog.Logger, m *metrics.Metrics) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger:   logger.With("component", "hub"),
		metrics:  m,
		channels: make(map[string]map[*hubClient]struct{}),
	}
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		id = path.Base(r.URL.Path)
	}
	if id == "" || id == "/" || id == "." {
		http.Error(w, "missing channel id", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("upgrade failed", "error", err)
		return
	}

	c := &hubClient{conn: conn, send: make(chan []byte, clientQueue)}
	h.join(id, c)
	h.logger.Debug("client joined", "channel", id, "remote", r.RemoteAddr)

	go h.writePump(c)
	h.readPump(id, c)
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.clients
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, members := range h.channels {
		for c := range members {
			c.conn.Close()
		}
	}
}

func (h *Hub) join(id string, c *hubClient) {
	h.mu.Lock()
	defer h.mu.Unlock()

	members := h.channels[id]
	if members == nil {
		members = make(map[*hubClient]struct{})
		h.channels[id] = members
	}
	members[c] = struct{}{}
	h.clients++
	h.metrics.SetHubClients(h.clients)
}

func (h *Hub) leave(id string, c *hubClient) {
	h.mu.Lock()
	defer h.mu.Unlock()

	members := h.channels[id]
	if _, ok := members[c]; !ok {
		return
	}
	delete(members, c)
	if len(members) == 0 {
		delete(h.channels, id)
	}
	close(c.send)
	h.clients--
	h.metrics.SetHubClients(h.clients)
}

func (h *Hub) relay(id string, from *hubClient, msg []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.channels[id] {
		if c == from {
			continue
		}
		select {
		case c.send <- msg:
		default:
			h.metrics.RecordBroadcastError("relay")
			h.logger.Debug("drop message for slow client", "channel", id)
		}
	}
}

func (h *Hub) readPump(id string, c *hubClient) {
	defer func() {
		h.leave(id, c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		typ, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("client read failed", "channel", id, "error", err)
			}
			return
		}
		if typ != websocket.TextMessage {
			continue
		}
		h.relay(id, c, msg)
	}
}

func (h *Hub) writePump(c *hubClient) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil)
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
