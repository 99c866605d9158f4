package portfolio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autotrader-simv1/internal/model"
)

func entry(side model.Side) model.Order {
	return model.Order{ID: "ord-1", StrategyID: "s1", Instrument: "NIFTY", Side: side, Quantity: 10}
}

func TestPnLSignConvention(t *testing.T) {
	at := time.Now()

	l := NewLedger()
	long := l.Open(entry(model.SideBuy), 100, 10, 200, at)
	res, err := l.Close(long.ID, 110, at)
	require.NoError(t, err)
	assert.Equal(t, 100.0, res.Trade.RealizedPnL)
	assert.Equal(t, model.SideSell, res.Trade.Side)

	short := l.Open(entry(model.SideSell), 100, 10, 200, at)
	res, err = l.Close(short.ID, 110, at)
	require.NoError(t, err)
	assert.Equal(t, -100.0, res.Trade.RealizedPnL)
	assert.Equal(t, model.SideBuy, res.Trade.Side)
}

func TestAddToWeightsEntryPrice(t *testing.T) {
	l := NewLedger()
	p := l.Open(entry(model.SideBuy), 100, 4, 80, time.Now())

	p, err := l.AddTo(p.ID, 110, 6, 120)
	require.NoError(t, err)
	assert.Equal(t, int64(10), p.Quantity)
	assert.Equal(t, 106.0, p.EntryPrice)
	assert.Equal(t, 200.0, p.MarginUsed)
}

func TestMarkToMarketRoundsToCents(t *testing.T) {
	l := NewLedger()
	p := l.Open(entry(model.SideSell), 100.10, 3, 60, time.Now())

	p, err := l.MarkToMarket(p.ID, 99.777)
	require.NoError(t, err)
	assert.Equal(t, 99.78, p.CurrentPrice)
	assert.Equal(t, 0.96, p.UnrealizedPnL)

	marked := l.MarkInstrument("NIFTY", 101.10)
	require.Len(t, marked, 1)
	assert.Equal(t, -3.0, marked[0].UnrealizedPnL)
	assert.Equal(t, -3.0, l.TotalUnrealized())
}

func TestPartialCloseReleasesProportionalMargin(t *testing.T) {
	at := time.Now()
	l := NewLedger()
	p := l.Open(entry(model.SideBuy), 100, 10, 200, at)

	res, err := l.PartialClose(p.ID, 105, 4, at)
	require.NoError(t, err)
	assert.Equal(t, model.PositionOpen, res.Position.Status)
	assert.Equal(t, int64(6), res.Position.Quantity)
	assert.Equal(t, 80.0, res.ReleasedMargin)
	assert.Equal(t, 120.0, res.Position.MarginUsed)
	assert.Equal(t, 20.0, res.Trade.RealizedPnL)
	assert.Equal(t, int64(4), res.Trade.Quantity)

	res, err = l.Close(p.ID, 95, at)
	require.NoError(t, err)
	assert.Equal(t, model.PositionClosed, res.Position.Status)
	assert.Equal(t, 120.0, res.ReleasedMargin)
	assert.Equal(t, -10.0, res.Position.RealizedPnL)
	assert.Len(t, l.Trades(), 2)
}

func TestPartialCloseOverQuantityEqualsClose(t *testing.T) {
	at := time.Now()
	a, b := NewLedger(), NewLedger()
	pa := a.Open(entry(model.SideBuy), 100, 10, 200, at)
	pb := b.Open(entry(model.SideBuy), 100, 10, 200, at)

	ra, err := a.Close(pa.ID, 107, at)
	require.NoError(t, err)
	rb, err := b.PartialClose(pb.ID, 107, 25, at)
	require.NoError(t, err)

	assert.Equal(t, ra.Position.Status, rb.Position.Status)
	assert.Equal(t, ra.Trade.Quantity, rb.Trade.Quantity)
	assert.Equal(t, ra.Trade.RealizedPnL, rb.Trade.RealizedPnL)
	assert.Equal(t, ra.ReleasedMargin, rb.ReleasedMargin)
}

func TestClosedPositionIsImmutable(t *testing.T) {
	at := time.Now()
	l := NewLedger()
	p := l.Open(entry(model.SideBuy), 100, 10, 200, at)
	_, err := l.Close(p.ID, 100, at)
	require.NoError(t, err)

	_, err = l.Close(p.ID, 100, at)
	assert.ErrorIs(t, err, ErrPositionNotOpen)
	_, err = l.AddTo(p.ID, 100, 1, 0)
	assert.ErrorIs(t, err, ErrPositionNotOpen)
	_, err = l.MarkToMarket("missing", 1)
	assert.ErrorIs(t, err, ErrPositionNotOpen)

	// Never deleted.
	got, ok := l.Get(p.ID)
	assert.True(t, ok)
	assert.Equal(t, model.PositionClosed, got.Status)
	assert.Zero(t, l.OpenCount())
	_, ok = l.OpenFor("s1")
	assert.False(t, ok)
}

func TestCheckAutoExit(t *testing.T) {
	p := model.Position{Status: model.PositionOpen, EntryPrice: 100, Quantity: 10}
	rc := &model.RiskConfig{StopLossPct: 2, TakeProfitPct: 3}

	p.UnrealizedPnL = -20 // -2%
	r, ok := CheckAutoExit(p, rc)
	assert.True(t, ok)
	assert.Equal(t, ExitStopLoss, r)

	p.UnrealizedPnL = 30 // +3%
	r, ok = CheckAutoExit(p, rc)
	assert.True(t, ok)
	assert.Equal(t, ExitTakeProfit, r)

	p.UnrealizedPnL = 10
	_, ok = CheckAutoExit(p, rc)
	assert.False(t, ok)

	p.UnrealizedPnL = -1000
	_, ok = CheckAutoExit(p, nil)
	assert.False(t, ok, "no risk config never exits")
}
