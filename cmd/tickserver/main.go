// cmd/tickserver is a demo WebSocket feed for local simulation runs. Every
// interval it broadcasts one candle per instrument, built from a few steps
// of a random walk:
//
//	{"instrument":"NIFTY","ts":"...","open":22450.1,"high":22452.3,"low":22449.8,"close":22451.0,"volume":420}
//
// Config (env vars):
//
//	TICK_SERVER_ADDR  listen address (default ":8765")
//	TICK_INSTRUMENTS  comma-separated NAME:PRICE pairs (default "NIFTY:22450,BANKNIFTY:48200")
//	TICK_INTERVAL_MS  broadcast interval in milliseconds (default 500)
//	TICK_SEED         random seed, 0 = time-based
package main

import (
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"autotrader-simv1/internal/logger"
	"autotrader-simv1/internal/model"
)

type instrument struct {
	Name  string
	Price float64
}

// ─── Hub ──────────────────────────────────────────────────────────────────────

type hub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]chan []byte
}

func newHub() *hub {
	return &hub{clients: make(map[*websocket.Conn]chan []byte)}
}

func (h *hub) register(conn *websocket.Conn) chan []byte {
	ch := make(chan []byte, 256)
	h.mu.Lock()
	h.clients[conn] = ch
	h.mu.Unlock()
	return ch
}

func (h *hub) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	if ch, ok := h.clients[conn]; ok {
		close(ch)
		delete(h.clients, conn)
	}
	h.mu.Unlock()
}

func (h *hub) broadcast(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.clients {
		select {
		case ch <- msg:
		default: // slow client
		}
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

func wsHandler(h *hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Warn("upgrade failed", "error", err)
			return
		}
		slog.Info("client connected", "remote", r.RemoteAddr)

		ch := h.register(conn)
		defer func() {
			h.unregister(conn)
			conn.Close()
			slog.Info("client disconnected", "remote", r.RemoteAddr)
		}()

		// Drain reads so close frames are processed.
		go func() {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					h.unregister(conn)
					return
				}
			}
		}()

		for msg := range ch {
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}

// ─── Generator ────────────────────────────────────────────────────────────────

const stepsPerCandle = 5

// walk moves price by up to ±0.1%, rounded to the 0.05 tick size.
func walk(rng *rand.Rand, price float64) float64 {
	pct := (rng.Float64()*0.2 - 0.1) / 100.0
	next := math.Round(price*(1+pct)*20) / 20
	if next < 0.05 {
		next = 0.05
	}
	return next
}

func nextCandle(rng *rand.Rand, inst *instrument, ts time.Time) model.Candle {
	c := model.Candle{Instrument: inst.Name, TS: ts, Open: inst.Price, High: inst.Price, Low: inst.Price}
	for i := 0; i < stepsPerCandle; i++ {
		inst.Price = walk(rng, inst.Price)
		c.High = math.Max(c.High, inst.Price)
		c.Low = math.Min(c.Low, inst.Price)
	}
	c.Close = inst.Price
	c.Volume = float64(rng.Intn(500) + 1)
	return c
}

func runGenerator(h *hub, instruments []instrument, interval time.Duration, seed int64) {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for now := range ticker.C {
		for i := range instruments {
			c := nextCandle(rng, &instruments[i], now.UTC())
			h.broadcast(c.JSON())
		}
	}
}

// ─── main ─────────────────────────────────────────────────────────────────────

func main() {
	logger.Init("tickserver", logger.ParseLevel(envOrDefault("LOG_LEVEL", "info")))

	addr := envOrDefault("TICK_SERVER_ADDR", ":8765")
	instruments := parseInstruments(envOrDefault("TICK_INSTRUMENTS", "NIFTY:22450,BANKNIFTY:48200"))
	interval := time.Duration(envIntOrDefault("TICK_INTERVAL_MS", 500)) * time.Millisecond
	if len(instruments) == 0 {
		slog.Error("no instruments configured via TICK_INSTRUMENTS")
		os.Exit(1)
	}
	slog.Info("starting tick server", "instruments", len(instruments), "interval", interval)

	h := newHub()
	go runGenerator(h, instruments, interval, int64(envIntOrDefault("TICK_SEED", 0)))

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", wsHandler(h))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, `{"status":"ok","service":"tickserver"}`)
	})

	slog.Info("listening", "addr", addr, "ws", "ws://localhost"+addr+"/ws")
	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

// ─── helpers ──────────────────────────────────────────────────────────────────

func parseInstruments(s string) []instrument {
	var result []instrument
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		name, raw, ok := strings.Cut(part, ":")
		if !ok {
			slog.Warn("skipping invalid instrument spec", "spec", part)
			continue
		}
		price, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil || price <= 0 {
			slog.Warn("skipping instrument with bad price", "spec", part)
			continue
		}
		result = append(result, instrument{Name: strings.TrimSpace(name), Price: price})
	}
	return result
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOrDefault(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
