// Package replay is a TickSource that plays recorded candles back at a
// configurable speed for backtesting.
package replay

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"autotrader-simv1/internal/model"
)

// MaxGap caps the sleep between two replayed candles.
const MaxGap = 5 * time.Second

// ErrAlreadySubscribed is returned by Subscribe while a replay is running.
var ErrAlreadySubscribed = errors.New("replay: already subscribed")

// Replayer replays candles from a CandleReader (or a fixed slice).
// speed controls the playback rate: 1.0 = real-time, 10.0 = 10x,
// 0 = as fast as possible.
type Replayer struct {
	reader  model.CandleReader
	candles []model.Candle
	from    time.Time
	speed   float64

	mu      sync.Mutex
	active  bool
	cancel  context.CancelFunc
	done    chan struct{}
	emitted int
}

var _ model.TickSource = (*Replayer)(nil)

// New creates a Replayer backed by a candle store. Candles before from are
// skipped.
func New(reader model.CandleReader, from time.Time, speed float64) *Replayer {
	return &Replayer{reader: reader, from: from, speed: speed}
}

// FromSlice creates a Replayer over in-memory candles.
func FromSlice(candles []model.Candle, speed float64) *Replayer {
	return &Replayer{candles: candles, speed: speed}
}

// Subscribe loads the candles for instruments and starts emitting them in
// timestamp order. The channel closes after the last candle.
func (r *Replayer) Subscribe(ctx context.Context, instruments ...string) (<-chan model.Candle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active {
		return nil, ErrAlreadySubscribed
	}

	candles, err := r.load(instruments)
	if err != nil {
		return nil, err
	}
	slog.Info("replay loaded", "candles", len(candles), "instruments", instruments, "speed", r.speed)

	ctx, cancel := context.WithCancel(ctx)
	out := make(chan model.Candle)
	done := make(chan struct{})
	r.active, r.cancel, r.done, r.emitted = true, cancel, done, 0

	go func() {
		defer close(done)
		defer close(out)
		n := r.play(ctx, candles, out)
		r.mu.Lock()
		r.active = false
		r.emitted = n
		r.mu.Unlock()
		slog.Info("replay finished", "emitted", n, "total", len(candles))
	}()
	return out, nil
}

// Unsubscribe stops the replay and waits for the channel to close.
func (r *Replayer) Unsubscribe() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// IsActive reports whether a replay is running.
func (r *Replayer) IsActive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Emitted returns how many candles the last finished replay delivered.
func (r *Replayer) Emitted() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.emitted
}

func (r *Replayer) load(instruments []string) ([]model.Candle, error) {
	var candles []model.Candle
	if r.reader != nil {
		var err error
		if candles, err = r.reader.ReadCandles(instruments, r.from); err != nil {
			return nil, err
		}
	} else {
		want := make(map[string]bool, len(instruments))
		for _, inst := range instruments {
			want[inst] = true
		}
		for _, c := range r.candles {
			if len(want) == 0 || want[c.Instrument] {
				candles = append(candles, c)
			}
		}
	}
	sort.SliceStable(candles, func(i, j int) bool { return candles[i].TS.Before(candles[j].TS) })
	return candles, nil
}

func (r *Replayer) play(ctx context.Context, candles []model.Candle, out chan<- model.Candle) int {
	var prev time.Time
	emitted := 0
	for _, c := range candles {
		if r.speed > 0 && !prev.IsZero() {
			if gap := c.TS.Sub(prev); gap > 0 {
				scaled := time.Duration(float64(gap) / r.speed)
				if scaled > MaxGap {
					scaled = MaxGap
				}
				select {
				case <-ctx.Done():
					return emitted
				case <-time.After(scaled):
				}
			}
		}
		prev = c.TS

		select {
		case out <- c:
			emitted++
		case <-ctx.Done():
			return emitted
		}
	}
	return emitted
}
