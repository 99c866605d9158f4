package strategy

import (
	"context"
	"hash/fnv"
	"sync"

	"autotrader-simv1/internal/model"
)

// tickPool runs a fixed set of workers. Every instrument hashes to exactly one
// worker, so ticks for one instrument are handled one at a time and in
// arrival order while different instruments proceed in parallel. Queues are
// bounded: Dispatch blocks when the target worker is behind.
type tickPool struct {
	queues []chan model.Candle
	wg     sync.WaitGroup
}

func newTickPool(workers, queueSize int, handle func(model.Candle)) *tickPool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	p := &tickPool{queues: make([]chan model.Candle, workers)}
	for i := range p.queues {
		q := make(chan model.Candle, queueSize)
		p.queues[i] = q
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for c := range q {
				handle(c)
			}
		}()
	}
	return p
}

func (p *tickPool) worker(instrument string) int {
	h := fnv.New32a()
	h.Write([]byte(instrument))
	return int(h.Sum32() % uint32(len(p.queues)))
}

// Dispatch queues c on its instrument's worker. Returns ctx.Err() if ctx is
// done first.
func (p *tickPool) Dispatch(ctx context.Context, c model.Candle) error {
	select {
	case p.queues[p.worker(c.Instrument)] <- c:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting ticks and waits for queued ones to drain.
func (p *tickPool) Close() {
	for _, q := range p.queues {
		close(q)
	}
	p.wg.Wait()
}
