// Package activity is the engine's event stream. Every step of the tick
// pipeline publishes an Event; subscribers receive all events published while
// they are subscribed, in publish order. Events are not replayed after a
// restart.
package activity

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"autotrader-simv1/internal/model"
	"autotrader-simv1/internal/ringbuf"
)

// DefaultRecent is the number of events kept for the recent-activity snapshot.
const DefaultRecent = 200

// Bus broadcasts events to N subscribers. Each subscriber has its own
// mailbox and delivery goroutine, so a slow consumer delays only itself and
// never loses an event.
type Bus struct {
	mu      sync.Mutex
	subs    map[uint64]*subscriber
	nextID  uint64
	recent  *ringbuf.Window[model.Event]
	entropy *ulid.MonotonicEntropy
	now     func() time.Time
	closed  bool

	// OnPublish is called synchronously for every event. Used for metrics.
	OnPublish func(model.Event)
}

// New creates a Bus keeping the last recentCap events.
func New(recentCap int) *Bus {
	if recentCap <= 0 {
		recentCap = DefaultRecent
	}
	return &Bus{
		subs:    make(map[uint64]*subscriber),
		recent:  ringbuf.New[model.Event](recentCap),
		entropy: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
		now:     time.Now,
	}
}

// SetClock overrides the event timestamp clock.
func (b *Bus) SetClock(now func() time.Time) {
	b.mu.Lock()
	b.now = now
	b.mu.Unlock()
}

// Publish stamps and broadcasts an event and returns it.
func (b *Bus) Publish(typ model.ActivityType, msg string, data map[string]any) model.Event {
	b.mu.Lock()
	ts := b.now()
	ev := model.Event{
		ID:        ulid.MustNew(ulid.Timestamp(ts), b.entropy).String(),
		Type:      typ,
		Message:   msg,
		Timestamp: ts,
		Data:      data,
	}
	b.recent.Push(ev)
	if !b.closed {
		for _, s := range b.subs {
			s.enqueue(ev)
		}
	}
	hook := b.OnPublish
	b.mu.Unlock()

	if hook != nil {
		hook(ev)
	}
	return ev
}

// Subscribe registers handler for every future event. handler runs on the
// subscriber's own goroutine. The returned func unsubscribes.
func (b *Bus) Subscribe(handler func(model.Event)) (unsubscribe func()) {
	s := &subscriber{
		signal:  make(chan struct{}, 1),
		done:    make(chan struct{}),
		handler: handler,
	}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = s
	b.mu.Unlock()

	go s.pump()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(s.done)
		})
	}
}

// Channel subscribes and delivers events on a channel until ctx is done.
// Delivery blocks on the channel, so the reader sets the pace.
func (b *Bus) Channel(ctx context.Context, buf int) <-chan model.Event {
	out := make(chan model.Event, buf)
	unsub := b.Subscribe(func(ev model.Event) {
		select {
		case out <- ev:
		case <-ctx.Done():
		}
	})
	go func() {
		<-ctx.Done()
		unsub()
	}()
	return out
}

// Recent returns up to n of the most recent events, oldest first.
// n <= 0 returns everything retained.
func (b *Bus) Recent(n int) []model.Event {
	b.mu.Lock()
	all := b.recent.Slice()
	b.mu.Unlock()
	if n > 0 && len(all) > n {
		all = all[len(all)-n:]
	}
	return all
}

// Subscribers returns the current subscriber count.
func (b *Bus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close stops delivery to every subscriber.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[uint64]*subscriber)
	b.mu.Unlock()

	for _, s := range subs {
		close(s.done)
	}
}

type subscriber struct {
	mu      sync.Mutex
	queue   []model.Event
	signal  chan struct{}
	done    chan struct{}
	handler func(model.Event)
}

func (s *subscriber) enqueue(ev model.Event) {
	s.mu.Lock()
	s.queue = append(s.queue, ev)
	s.mu.Unlock()
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *subscriber) pump() {
	for {
		select {
		case <-s.done:
			return
		case <-s.signal:
		}
		for {
			s.mu.Lock()
			batch := s.queue
			s.queue = nil
			s.mu.Unlock()
			if len(batch) == 0 {
				break
			}
			for _, ev := range batch {
				select {
				case <-s.done:
					return
				default:
				}
				s.handler(ev)
			}
		}
	}
}
