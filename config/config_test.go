package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autotrader-simv1/internal/model"
	"autotrader-simv1/internal/strategy"
)

func TestLoadDefaultsAndOverrides(t *testing.T) {
	t.Setenv("SIM_INITIAL_BALANCE", "250000")
	t.Setenv("SIM_FILL_DELAY", "50ms")
	t.Setenv("RISK_MAX_TRADES_PER_DAY", "7")
	t.Setenv("ENGINE_MARGIN_RATE", "not-a-number")
	t.Setenv("RECORD_TICKS", "false")
	t.Setenv("INSTRUMENTS", " NIFTY, ,BANKNIFTY ")

	cfg := Load()
	assert.Equal(t, 250000.0, cfg.InitialBalance)
	assert.Equal(t, 50*time.Millisecond, cfg.Simulator.FillDelay)
	assert.Equal(t, 7, cfg.Risk.MaxTradesPerDay)
	assert.Equal(t, strategy.DefaultConfig().MarginRate, cfg.Engine.MarginRate)
	assert.False(t, cfg.RecordTicks)
	assert.Equal(t, []string{"NIFTY", "BANKNIFTY"}, cfg.ParseInstruments())
	assert.Equal(t, ":8080", cfg.HTTPAddr)
}

func TestLoadStrategiesSample(t *testing.T) {
	list, err := LoadStrategies("strategies.yaml")
	require.NoError(t, err)
	require.Len(t, list, 2)

	rsi := list[0]
	assert.Equal(t, "NIFTY", rsi.Instrument)
	assert.Equal(t, model.StrategyActive, rsi.Status)
	assert.Equal(t, model.OrderMarket, rsi.OrderType)
	require.NotNil(t, rsi.Window)
	assert.Equal(t, "09:20", rsi.Window.Start)
	require.Len(t, rsi.Entry, 1)
	assert.Equal(t, model.IndicatorRSI, rsi.Entry[0].Indicator)
	assert.Equal(t, 14, rsi.Entry[0].Period)

	assert.Equal(t, model.LogicAnd, list[1].Entry[1].Logic)
}

func TestLoadStrategiesRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
strategies:
  - name: no quantity
    instrument: NIFTY
    side: BUY
`), 0644))

	_, err := LoadStrategies(path)
	assert.ErrorIs(t, err, strategy.ErrInvalidStrategy)

	_, err = LoadStrategies(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestSaveAndSeed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.yaml")
	in := []model.Strategy{{
		Name: "seed", Instrument: "NIFTY", Side: model.SideSell, Quantity: 3,
		Entry: []model.Condition{{Indicator: model.IndicatorPrice, Operator: model.OpGreater, Threshold: 1}},
	}}
	require.NoError(t, SaveStrategies(path, in))

	reg := strategy.NewRegistry()
	n, err := SeedRegistry(reg, path)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, reg.Count(model.StrategyCreated))
}
