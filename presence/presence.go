// Package presence fans server events out to connected browsers over
// websockets and tracks who is currently online. Delivery is best-effort: a
// slow or gone client just misses events, there is no backlog.
package presence

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait = 10 * time.Second

	// sendBuffer is the per-connection outbound queue. When it fills the
	// event is dropped for that connection.
	sendBuffer = 32
)

// User is the display identity attached to a connection.
type User struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Photo string `json:"photo"`
}

// envelope is the wire frame every event travels in.
type envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type conn struct {
	id   string
	user User
	send chan envelope
}

// Hub owns all live connections. One human may hold several connections
// (tabs, devices); join/leave events are deduplicated by email while the
// presence list keeps one entry per connection.
type Hub struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[string]*conn
}

// NewHub creates a Hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Auth happens before the upgrade; cross-origin pages never
			// get past the session middleware.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		conns: make(map[string]*conn),
	}
}

// Broadcast sends an event to every connected client.
func (h *Hub) Broadcast(event string, payload any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.broadcastLocked(envelope{Event: event, Data: payload}, "")
}

// broadcastLocked queues msg on every connection except the one named by
// exclude. Full queues drop the event for that connection only.
func (h *Hub) broadcastLocked(msg envelope, exclude string) {
	for id, c := range h.conns {
		if id == exclude {
			continue
		}
		select {
		case c.send <- msg:
		default:
			h.logger.Warn("presence: dropping event for slow client", "event", msg.Event, "email", c.user.Email)
		}
	}
}

// Users returns the current presence list: one entry per connection, in no
// particular order. Deduplication is a display concern of the client.
func (h *Hub) Users() []User {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.usersLocked()
}

func (h *Hub) usersLocked() []User {
	out := make([]User, 0, len(h.conns))
	for _, c := range h.conns {
		out = append(out, c.user)
	}
	return out
}

// ServeWS upgrades the request and services the connection until the client
// goes away. The caller has already authenticated the user.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, user User) {
	sock, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("presence: upgrade failed", "error", err)
		return
	}
	defer sock.Close()

	c := &conn{
		id:   uuid.NewString(),
		user: user,
		send: make(chan envelope, sendBuffer),
	}

	h.register(c)
	defer h.unregister(c)

	go writePump(sock, c.send, h.logger)

	// Read loop: clients send nothing we act on; reading just detects the
	// close.
	for {
		if _, _, err := sock.ReadMessage(); err != nil {
			return
		}
	}
}

// register adds the connection, announces the human to everyone else if this
// is their first connection, and hands the newcomer the full presence list.
func (h *Hub) register(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	first := !h.onlineLocked(c.user.Email)
	h.conns[c.id] = c

	if first {
		h.broadcastLocked(envelope{Event: "user_joined", Data: c.user}, c.id)
	}
	c.send <- envelope{Event: "presence_list", Data: h.usersLocked()}

	h.logger.Info("presence: connected", "email", c.user.Email, "connections", len(h.conns))
}

// unregister removes the connection, announces the departure once the human
// has no connections left, and refreshes everyone's presence list.
func (h *Hub) unregister(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[c.id]; !ok {
		return
	}
	delete(h.conns, c.id)
	close(c.send)

	if !h.onlineLocked(c.user.Email) {
		h.broadcastLocked(envelope{Event: "user_left", Data: c.user}, "")
	}
	h.broadcastLocked(envelope{Event: "presence_update", Data: h.usersLocked()}, "")

	h.logger.Info("presence: disconnected", "email", c.user.Email, "connections", len(h.conns))
}

// onlineLocked reports whether any current connection belongs to the email.
func (h *Hub) onlineLocked(email string) bool {
	for _, c := range h.conns {
		if c.user.Email == email {
			return true
		}
	}
	return false
}

// writePump drains the send queue onto the socket. A closed queue or a write
// failure ends the pump; the read loop notices the dead socket and tears the
// connection down.
func writePump(sock *websocket.Conn, send <-chan envelope, logger *slog.Logger) {
	for msg := range send {
		sock.SetWriteDeadline(time.Now().Add(writeWait))
		if err := sock.WriteJSON(msg); err != nil {
			logger.Debug("presence: write failed", "error", err)
			sock.Close()
			// Keep draining so the hub's sends never block.
			for range send {
			}
			return
		}
	}
	sock.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
}
