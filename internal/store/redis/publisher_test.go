package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"

	"autotrader-simv1/internal/metrics"
	"autotrader-simv1/internal/model"
)

// unreachable returns a client pointed at a port nothing listens on.
func unreachable() *goredis.Client {
	return goredis.NewClient(&goredis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
}

func TestPublisherBuffersWhileRedisIsDown(t *testing.T) {
	m := metrics.NewMetrics(prometheus.NewRegistry())
	p := NewWithClient(unreachable(), Config{MaxBuffer: 4, BreakerFailures: 2, BreakerReset: time.Hour}, m)
	defer p.Close()

	for i := 0; i < 6; i++ {
		ev := model.Event{ID: fmt.Sprintf("e%d", i), Type: model.EventSystem, Message: "x"}
		if err := p.Publish(context.Background(), ev); err == nil {
			t.Fatalf("publish %d: expected error", i)
		}
	}

	if p.Breaker().CurrentState() != StateOpen {
		t.Fatalf("breaker = %v, want open", p.Breaker().CurrentState())
	}
	if got := p.PendingCount(); got != 4 {
		t.Fatalf("pending = %d, want 4", got)
	}
	if got := p.Dropped(); got != 2 {
		t.Fatalf("dropped = %d, want 2", got)
	}
}

func TestPublisherKeys(t *testing.T) {
	p := NewWithClient(unreachable(), Config{Prefix: "run1"}, nil)
	defer p.Close()

	if p.ActivityChannel() != "run1:activity" || p.ActivityStream() != "run1:activity:stream" {
		t.Fatalf("keys = %s %s", p.ActivityChannel(), p.ActivityStream())
	}
	if p.SnapshotKey("wallet") != "run1:snapshot:wallet" {
		t.Fatalf("snapshot key = %s", p.SnapshotKey("wallet"))
	}
	if err := p.SaveSnapshot(context.Background(), "wallet", model.Wallet{Balance: 1}); err == nil {
		t.Fatal("expected error from unreachable redis")
	}
}
