package activity

import (
	"context"
	"sync"
	"testing"
	"time"

	"autotrader-simv1/internal/model"
)

// ──────────────────────────────────────────────────────────────
// Broadcast
// ──────────────────────────────────────────────────────────────

func TestBus_BroadcastsToAll(t *testing.T) {
	b := New(10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out1 := b.Channel(ctx, 4)
	out2 := b.Channel(ctx, 4)

	b.Publish(model.EventSignal, "entry signal", map[string]any{"strategy_id": "s1"})

	for i, ch := range []<-chan model.Event{out1, out2} {
		select {
		case ev := <-ch:
			if ev.Type != model.EventSignal {
				t.Errorf("out%d: type = %s", i+1, ev.Type)
			}
			if ev.ID == "" || ev.Timestamp.IsZero() {
				t.Errorf("out%d: event not stamped: %+v", i+1, ev)
			}
		case <-time.After(time.Second):
			t.Fatalf("out%d: timed out", i+1)
		}
	}
}

// A slow consumer must still see every event, in order.
func TestBus_SlowSubscriberLosesNothing(t *testing.T) {
	b := New(10)

	var (
		mu  sync.Mutex
		got []string
	)
	done := make(chan struct{})
	const n = 500
	unsub := b.Subscribe(func(ev model.Event) {
		time.Sleep(10 * time.Microsecond)
		mu.Lock()
		got = append(got, ev.ID)
		if len(got) == n {
			close(done)
		}
		mu.Unlock()
	})
	defer unsub()

	var want []string
	for i := 0; i < n; i++ {
		want = append(want, b.Publish(model.EventSystem, "tick", nil).ID)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}

	mu.Lock()
	defer mu.Unlock()
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d out of order: got %s want %s", i, got[i], want[i])
		}
	}
}

func TestBus_IDsAreSortable(t *testing.T) {
	b := New(10)
	prev := ""
	for i := 0; i < 50; i++ {
		id := b.Publish(model.EventSystem, "x", nil).ID
		if id <= prev {
			t.Fatalf("id %s not greater than %s", id, prev)
		}
		prev = id
	}
}

// ──────────────────────────────────────────────────────────────
// Recent buffer & lifecycle
// ──────────────────────────────────────────────────────────────

func TestBus_RecentIsBounded(t *testing.T) {
	b := New(3)
	for i := 0; i < 5; i++ {
		b.Publish(model.EventSystem, string(rune('a'+i)), nil)
	}
	r := b.Recent(0)
	if len(r) != 3 {
		t.Fatalf("recent len = %d, want 3", len(r))
	}
	if r[0].Message != "c" || r[2].Message != "e" {
		t.Errorf("recent = %s..%s, want c..e", r[0].Message, r[2].Message)
	}
	if got := b.Recent(2); len(got) != 2 || got[1].Message != "e" {
		t.Errorf("Recent(2) = %+v", got)
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	b := New(10)
	unsub := b.Subscribe(func(model.Event) {})
	if b.Subscribers() != 1 {
		t.Fatalf("subscribers = %d", b.Subscribers())
	}
	unsub()
	unsub()
	if b.Subscribers() != 0 {
		t.Fatalf("subscribers after unsubscribe = %d", b.Subscribers())
	}
}

func TestBus_OnPublishHook(t *testing.T) {
	b := New(10)
	var seen []model.ActivityType
	b.OnPublish = func(ev model.Event) { seen = append(seen, ev.Type) }

	b.Publish(model.EventOrderFilled, "filled", nil)
	b.Close()
	b.Publish(model.EventOrderRejected, "after close", nil)

	if len(seen) != 2 {
		t.Fatalf("hook calls = %d, want 2", len(seen))
	}
}
