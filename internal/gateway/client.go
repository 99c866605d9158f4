package gateway

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"autotrader-simv1/internal/model"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

// Client is a single WebSocket peer.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu    sync.Mutex
	types map[model.ActivityType]bool // nil = every type
	last  string
	done  bool
}

func newClient(h *Hub, conn *websocket.Conn, types map[model.ActivityType]bool, buffer int) *Client {
	return &Client{hub: h, conn: conn, send: make(chan []byte, buffer), types: types}
}

// offer queues ev unless it was already delivered or filtered out. It
// returns false when the client's queue is full.
func (c *Client) offer(ev model.Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done || ev.ID <= c.last {
		return true
	}
	c.last = ev.ID
	if c.types != nil && !c.types[ev.Type] {
		return true
	}
	select {
	case c.send <- ev.JSON():
		return true
	default:
		return false
	}
}

func (c *Client) lastID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.done {
		c.done = true
		close(c.send)
	}
}

func (c *Client) writePump() {
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

// readPump handles client control messages:
//
//	{"type":"filter","types":["risk_breach"]}   narrow the stream ([] = all)
func (c *Client) readPump() {
	defer func() {
		c.hub.remove(c)
		slog.Info("ws client disconnected")
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg struct {
			Type  string   `json:"type"`
			Types []string `json:"types"`
		}
		if json.Unmarshal(raw, &msg) != nil {
			continue
		}
		if msg.Type == "filter" {
			var types map[model.ActivityType]bool
			if len(msg.Types) > 0 {
				types = make(map[model.ActivityType]bool, len(msg.Types))
				for _, t := range msg.Types {
					types[model.ActivityType(t)] = true
				}
			}
			c.mu.Lock()
			c.types = types
			c.mu.Unlock()
		}
	}
}
