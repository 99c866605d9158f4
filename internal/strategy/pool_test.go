package strategy

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autotrader-simv1/internal/model"
)

func TestTickPoolPreservesPerInstrumentOrder(t *testing.T) {
	var (
		mu   sync.Mutex
		seen = map[string][]int{}
	)
	p := newTickPool(3, 2, func(c model.Candle) {
		mu.Lock()
		seen[c.Instrument] = append(seen[c.Instrument], int(c.Volume))
		mu.Unlock()
	})

	instruments := []string{"NIFTY", "BANKNIFTY", "RELIANCE", "TCS"}
	for i := 0; i < 100; i++ {
		for _, inst := range instruments {
			require.NoError(t, p.Dispatch(context.Background(), model.Candle{Instrument: inst, Volume: float64(i)}))
		}
	}
	p.Close()

	for _, inst := range instruments {
		got := seen[inst]
		require.Len(t, got, 100, inst)
		for i, v := range got {
			assert.Equal(t, i, v, inst)
		}
	}
}

func TestTickPoolDispatchHonorsContext(t *testing.T) {
	block := make(chan struct{})
	p := newTickPool(1, 1, func(model.Candle) { <-block })

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, p.Dispatch(ctx, model.Candle{Instrument: "X"})) // blocks the only worker
	cancel()

	// The queue may accept one more; after that Dispatch must give up.
	var err error
	for i := 0; i < 3 && err == nil; i++ {
		err = p.Dispatch(ctx, model.Candle{Instrument: "X"})
	}
	assert.ErrorIs(t, err, context.Canceled)

	close(block)
	p.Close()
}

func TestTickPoolSameInstrumentSameWorker(t *testing.T) {
	p := newTickPool(8, 1, func(model.Candle) {})
	defer p.Close()
	assert.Equal(t, p.worker("NIFTY"), p.worker("NIFTY"))
}
