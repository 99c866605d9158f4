package gateway

import (
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"autotrader-simv1/internal/activity"
	"autotrader-simv1/internal/model"
)

const clientBuffer = 256

// Hub fans activity events out to WebSocket clients. A client may resume
// with ?since=<event id> to receive the retained events it missed, and may
// narrow the stream with ?types=order_filled,risk_breach.
type Hub struct {
	bus      *activity.Bus
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*Client]bool
	stop    func()
}

// NewHub creates a hub over bus. Call Start to begin forwarding.
func NewHub(bus *activity.Bus) *Hub {
	return &Hub{
		bus: bus,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[*Client]bool),
	}
}

// Start subscribes the hub to the activity bus.
func (h *Hub) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stop == nil {
		h.stop = h.bus.Subscribe(h.broadcast)
	}
}

// Stop unsubscribes from the bus and disconnects every client.
func (h *Hub) Stop() {
	h.mu.Lock()
	stop := h.stop
	h.stop = nil
	clients := h.clients
	h.clients = make(map[*Client]bool)
	h.mu.Unlock()

	if stop != nil {
		stop()
	}
	for c := range clients {
		c.close()
	}
}

// ServeHTTP upgrades the request and registers the client.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("ws upgrade failed", "error", err)
		return
	}

	since := r.URL.Query().Get("since")
	types := parseTypes(r.URL.Query().Get("types"))

	// Register before reading the backlog: an event published in between is
	// then both replayed and broadcast, and the client's last id drops the
	// second copy. broadcast waits on h.mu until the backlog is queued.
	h.mu.Lock()
	var backlog []model.Event
	if since != "" {
		for _, ev := range h.bus.Recent(0) {
			if ev.ID > since {
				backlog = append(backlog, ev)
			}
		}
	}
	c := newClient(h, conn, types, clientBuffer+len(backlog))
	h.clients[c] = true
	for _, ev := range backlog {
		c.offer(ev)
	}
	count := len(h.clients)
	h.mu.Unlock()

	slog.Info("ws client connected", "clients", count, "backlog", len(backlog))
	go c.writePump()
	go c.readPump()
}

func (h *Hub) broadcast(ev model.Event) {
	var slow []*Client
	h.mu.RLock()
	for c := range h.clients {
		if !c.offer(ev) {
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		slog.Warn("ws client too slow, disconnecting", "last_event", c.lastID())
		h.remove(c)
	}
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if ok {
		c.close()
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func parseTypes(raw string) map[model.ActivityType]bool {
	if raw == "" {
		return nil
	}
	out := make(map[model.ActivityType]bool)
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out[model.ActivityType(t)] = true
		}
	}
	return out
}
