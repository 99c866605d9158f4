// Package redis mirrors the activity stream and engine snapshots into Redis
// so external dashboards can follow a simulation. Every write goes through a
// circuit breaker; events rejected while the breaker is open are buffered
// and flushed once it closes again.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"autotrader-simv1/internal/metrics"
	"autotrader-simv1/internal/model"
)

// Config configures the Redis publisher.
type Config struct {
	Addr     string // e.g. "localhost:6379"
	Password string
	DB       int

	Prefix          string        // key prefix, default "simengine"
	StreamMaxLen    int64         // approximate activity stream length, default 5000
	SnapshotTTL     time.Duration // default 30m
	MaxBuffer       int           // events held while the breaker is open, default 10000
	BreakerFailures int           // default 5
	BreakerReset    time.Duration // default 10s
	WriteTimeout    time.Duration // per-write deadline, default 2s
}

func (c *Config) defaults() {
	if c.Prefix == "" {
		c.Prefix = "simengine"
	}
	if c.StreamMaxLen <= 0 {
		c.StreamMaxLen = 5000
	}
	if c.SnapshotTTL <= 0 {
		c.SnapshotTTL = 30 * time.Minute
	}
	if c.MaxBuffer <= 0 {
		c.MaxBuffer = 10000
	}
	if c.BreakerFailures <= 0 {
		c.BreakerFailures = 5
	}
	if c.BreakerReset <= 0 {
		c.BreakerReset = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 2 * time.Second
	}
}

// Publisher writes activity events and snapshots to Redis.
type Publisher struct {
	client  *goredis.Client
	cfg     Config
	cb      *CircuitBreaker
	metrics *metrics.Metrics

	mu      sync.Mutex
	pending []model.Event
	dropped int
}

// New connects to Redis and pings it.
func New(cfg Config, m *metrics.Metrics) (*Publisher, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	slog.Info("connected to redis", "addr", cfg.Addr)
	return NewWithClient(client, cfg, m), nil
}

// NewWithClient wraps an existing client without pinging it.
func NewWithClient(client *goredis.Client, cfg Config, m *metrics.Metrics) *Publisher {
	cfg.defaults()
	p := &Publisher{
		client:  client,
		cfg:     cfg,
		cb:      NewCircuitBreaker(cfg.BreakerFailures, cfg.BreakerReset),
		metrics: m,
	}
	p.cb.OnStateChange = func(from, to State) {
		slog.Warn("redis circuit breaker", "from", from.String(), "to", to.String())
		m.Breaker(int(to), to == StateOpen)
		if to == StateClosed {
			go p.flush()
		}
	}
	return p
}

// Client returns the underlying Redis client for health checks.
func (p *Publisher) Client() *goredis.Client { return p.client }

// Breaker returns the publisher's circuit breaker.
func (p *Publisher) Breaker() *CircuitBreaker { return p.cb }

// ActivityChannel is the pub/sub channel events are published on.
func (p *Publisher) ActivityChannel() string { return p.cfg.Prefix + ":activity" }

// ActivityStream is the capped stream events are appended to.
func (p *Publisher) ActivityStream() string { return p.cfg.Prefix + ":activity:stream" }

// SnapshotKey returns the key a named snapshot is stored under.
func (p *Publisher) SnapshotKey(name string) string { return p.cfg.Prefix + ":snapshot:" + name }

// Run publishes every event from events until the channel closes or ctx is
// done.
func (p *Publisher) Run(ctx context.Context, events <-chan model.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := p.Publish(ctx, ev); err != nil {
				slog.Debug("activity publish failed", "event", ev.ID, "error", err)
			}
		}
	}
}

// Publish sends one event to the activity channel and stream. An event the
// breaker rejects or that fails to write is buffered for a later flush.
func (p *Publisher) Publish(ctx context.Context, ev model.Event) error {
	err := p.cb.Execute(func() error { return p.write(ctx, ev) })
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrCircuitOpen) {
		p.metrics.PublishFailed()
	}
	p.buffer(ev)
	return err
}

func (p *Publisher) write(ctx context.Context, ev model.Event) error {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.WriteTimeout)
	defer cancel()

	payload := ev.JSON()
	pipe := p.client.Pipeline()
	pipe.Publish(ctx, p.ActivityChannel(), payload)
	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: p.ActivityStream(),
		MaxLen: p.cfg.StreamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"id": ev.ID, "type": string(ev.Type), "event": payload},
	})
	_, err := pipe.Exec(ctx)
	return err
}

// SaveSnapshot stores v as JSON under SnapshotKey(name) with the configured TTL.
func (p *Publisher) SaveSnapshot(ctx context.Context, name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal snapshot %s: %w", name, err)
	}
	return p.cb.Execute(func() error {
		ctx, cancel := context.WithTimeout(ctx, p.cfg.WriteTimeout)
		defer cancel()
		return p.client.Set(ctx, p.SnapshotKey(name), data, p.cfg.SnapshotTTL).Err()
	})
}

// LoadSnapshot decodes the snapshot stored under name into v.
func (p *Publisher) LoadSnapshot(ctx context.Context, name string, v any) error {
	var data []byte
	err := p.cb.Execute(func() error {
		var err error
		data, err = p.client.Get(ctx, p.SnapshotKey(name)).Bytes()
		return err
	})
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// RunSnapshots saves snap() every interval until ctx is done.
func (p *Publisher) RunSnapshots(ctx context.Context, interval time.Duration, snap func() map[string]any) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for name, v := range snap() {
				if err := p.SaveSnapshot(ctx, name, v); err != nil {
					slog.Debug("snapshot save failed", "name", name, "error", err)
				}
			}
		}
	}
}

func (p *Publisher) buffer(ev model.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.pending) >= p.cfg.MaxBuffer {
		p.pending = p.pending[1:]
		p.dropped++
	}
	p.pending = append(p.pending, ev)
}

// flush replays buffered events in order. Events that fail again go back to
// the front of the buffer.
func (p *Publisher) flush() {
	p.mu.Lock()
	batch := p.pending
	p.pending = nil
	p.mu.Unlock()
	if len(batch) == 0 {
		return
	}

	ctx := context.Background()
	for i, ev := range batch {
		if err := p.write(ctx, ev); err != nil {
			p.mu.Lock()
			p.pending = append(append([]model.Event{}, batch[i:]...), p.pending...)
			p.mu.Unlock()
			slog.Warn("redis flush interrupted", "flushed", i, "remaining", len(batch)-i, "error", err)
			return
		}
	}
	slog.Info("flushed buffered activity events", "count", len(batch))
}

// PendingCount returns the number of buffered events waiting to be flushed.
func (p *Publisher) PendingCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// Dropped returns how many buffered events were discarded because the buffer
// was full.
func (p *Publisher) Dropped() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}

// Close closes the Redis client.
func (p *Publisher) Close() error { return p.client.Close() }
