package execution

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autotrader-simv1/internal/model"
)

func openJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := NewJournal(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func TestJournalUpsertsOrderStatus(t *testing.T) {
	j := openJournal(t)
	ctx := context.Background()

	s := NewSimulator(Config{Seed: 1})
	o := s.Create(buy(4))
	require.NoError(t, j.RecordOrder(ctx, o))

	placed, err := s.Place(ctx, o.ID, 100)
	require.NoError(t, err)
	require.NoError(t, j.RecordOrder(ctx, placed))

	counts, err := j.OrderStatusCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[model.OrderStatus]int{model.OrderPlaced: 1}, counts)

	other := s.Create(buy(1))
	require.NoError(t, j.RecordOrder(ctx, other))
	counts, err = j.OrderStatusCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[model.OrderCreated])
	assert.Equal(t, 1, counts[model.OrderPlaced])
}

func TestJournalTradesNewestFirst(t *testing.T) {
	j := openJournal(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 3, 4, 30, 0, 0, time.UTC)

	for i, pnl := range []float64{120.5, -40, 7.25} {
		tr := model.Trade{
			ID:          "t" + string(rune('a'+i)),
			PositionID:  "p1",
			StrategyID:  "s1",
			Instrument:  "NIFTY",
			Side:        model.SideSell,
			Quantity:    10,
			EntryPrice:  100,
			ExitPrice:   100 + pnl/10,
			RealizedPnL: pnl,
			ExecutedAt:  at.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, j.RecordTrade(ctx, tr))
		require.NoError(t, j.RecordTrade(ctx, tr), "duplicate trade ids are ignored")
	}

	trades, err := j.GetTrades(ctx, 2)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, "tc", trades[0].ID)
	assert.Equal(t, 7.25, trades[0].RealizedPnL)
	assert.Equal(t, model.SideSell, trades[0].Side)
	assert.True(t, trades[0].ExecutedAt.Equal(at.Add(2*time.Minute)), "executed at %v", trades[0].ExecutedAt)
	assert.Equal(t, "tb", trades[1].ID)

	all, err := j.GetTrades(ctx, 100)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}
