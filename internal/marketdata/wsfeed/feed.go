// Package wsfeed is a TickSource that reads JSON candles from a WebSocket
// tick server (e.g. cmd/tickserver).
//
// The expected message format on the wire is model.Candle:
//
//	{"instrument":"NIFTY","ts":"2026-03-03T09:15:00+05:30","open":22000,"high":22010,"low":21995,"close":22004,"volume":1200}
//
// The feed reconnects with exponential backoff until Unsubscribe is called.
package wsfeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"autotrader-simv1/internal/metrics"
	"autotrader-simv1/internal/model"
)

// ErrAlreadySubscribed is returned by Subscribe while a stream is running.
var ErrAlreadySubscribed = errors.New("wsfeed: already subscribed")

// Config holds configuration for the feed.
type Config struct {
	// URL of the tick WebSocket server, e.g. "ws://localhost:9001/ws".
	URL string

	// ReconnectDelay is the initial delay before reconnection attempts.
	// Defaults to 2 seconds if zero.
	ReconnectDelay time.Duration

	// MaxReconnectDelay caps the exponential backoff. Defaults to 30s.
	MaxReconnectDelay time.Duration

	// Buffer is the capacity of the candle channel. Defaults to 256.
	Buffer int
}

func (c *Config) defaults() {
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = 2 * time.Second
	}
	if c.MaxReconnectDelay == 0 {
		c.MaxReconnectDelay = 30 * time.Second
	}
	if c.Buffer <= 0 {
		c.Buffer = 256
	}
}

// Feed streams candles from a WebSocket server.
type Feed struct {
	cfg     Config
	metrics *metrics.Metrics
	health  *metrics.HealthStatus

	// Optional hook, called each time a reconnection happens.
	OnReconnect func()

	mu     sync.Mutex
	active bool
	cancel context.CancelFunc
	done   chan struct{}
}

var _ model.TickSource = (*Feed)(nil)

// New creates a feed. Returns an error if the URL is unparseable. m and h may
// be nil.
func New(cfg Config, m *metrics.Metrics, h *metrics.HealthStatus) (*Feed, error) {
	cfg.defaults()
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, fmt.Errorf("wsfeed url: %w", err)
	}
	return &Feed{cfg: cfg, metrics: m, health: h}, nil
}

// Subscribe connects and streams candles for instruments. An empty list
// streams everything the server sends. The channel closes after Unsubscribe
// or when ctx is done.
func (f *Feed) Subscribe(ctx context.Context, instruments ...string) (<-chan model.Candle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.active {
		return nil, ErrAlreadySubscribed
	}

	want := make(map[string]bool, len(instruments))
	for _, inst := range instruments {
		want[inst] = true
	}

	ctx, cancel := context.WithCancel(ctx)
	out := make(chan model.Candle, f.cfg.Buffer)
	done := make(chan struct{})
	f.active, f.cancel, f.done = true, cancel, done

	go func() {
		defer close(done)
		defer close(out)
		defer func() {
			f.mu.Lock()
			f.active = false
			f.mu.Unlock()
			f.setConnected(false)
		}()
		f.loop(ctx, want, out)
	}()
	return out, nil
}

// Unsubscribe stops the stream and waits for the channel to close.
func (f *Feed) Unsubscribe() {
	f.mu.Lock()
	cancel, done := f.cancel, f.done
	f.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// IsActive reports whether a stream is running.
func (f *Feed) IsActive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

func (f *Feed) loop(ctx context.Context, want map[string]bool, out chan<- model.Candle) {
	delay := f.cfg.ReconnectDelay
	for {
		if ctx.Err() != nil {
			return
		}

		err := f.runOnce(ctx, want, out, func() { delay = f.cfg.ReconnectDelay })
		if err == nil {
			return
		}

		slog.Warn("tick feed disconnected", "url", f.cfg.URL, "error", err, "retry_in", delay)
		f.metrics.Reconnect()
		if f.OnReconnect != nil {
			f.OnReconnect()
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		delay *= 2
		if delay > f.cfg.MaxReconnectDelay {
			delay = f.cfg.MaxReconnectDelay
		}
	}
}

// runOnce makes a single connection and reads until disconnect. It returns
// nil only when ctx is done.
func (f *Feed) runOnce(ctx context.Context, want map[string]bool, out chan<- model.Candle, connected func()) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.cfg.URL, nil)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	defer conn.Close()

	slog.Info("tick feed connected", "url", f.cfg.URL)
	f.setConnected(true)
	defer f.setConnected(false)
	connected()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"))
			conn.Close()
		case <-stop:
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		var c model.Candle
		if err := json.Unmarshal(raw, &c); err != nil {
			slog.Warn("tick feed parse error", "error", err, "raw", string(raw))
			continue
		}
		if c.Instrument == "" || c.Close <= 0 {
			slog.Debug("tick feed skipping incomplete candle", "raw", string(raw))
			continue
		}
		if len(want) > 0 && !want[c.Instrument] {
			continue
		}
		if c.TS.IsZero() {
			c.TS = time.Now()
		}

		// Blocking send: the engine applies backpressure rather than losing ticks.
		select {
		case out <- c:
		case <-ctx.Done():
			return nil
		}
	}
}

func (f *Feed) setConnected(v bool) {
	if f.health != nil {
		f.health.SetFeedConnected(v)
	}
}
