package model

import "time"

// StrategyStatus is the lifecycle state of a user-authored strategy.
type StrategyStatus string

const (
	StrategyCreated StrategyStatus = "CREATED"
	StrategyActive  StrategyStatus = "ACTIVE"
	StrategyRunning StrategyStatus = "RUNNING"
	StrategyStopped StrategyStatus = "STOPPED"
	StrategyPaused  StrategyStatus = "PAUSED"
	StrategyError   StrategyStatus = "ERROR"
)

// Indicator names the value a condition compares against its threshold.
type Indicator string

const (
	IndicatorPrice  Indicator = "PRICE"
	IndicatorVolume Indicator = "VOLUME"
	IndicatorEMA    Indicator = "EMA"
	IndicatorSMA    Indicator = "SMA"
	IndicatorRSI    Indicator = "RSI"
	IndicatorMACD   Indicator = "MACD"
	IndicatorADX    Indicator = "ADX"
	IndicatorVWAP   Indicator = "VWAP"
)

// Operator is a condition comparison.
type Operator string

const (
	OpGreater      Operator = ">"
	OpLess         Operator = "<"
	OpGreaterEqual Operator = ">="
	OpLessEqual    Operator = "<="
	OpEquals       Operator = "=="
	OpCrossAbove   Operator = "CROSSES_ABOVE"
	OpCrossBelow   Operator = "CROSSES_BELOW"
)

// Logic links a condition to the result of the conditions before it.
type Logic string

const (
	LogicAnd Logic = "AND"
	LogicOr  Logic = "OR"
)

// Condition is one rule in an entry or exit list.
type Condition struct {
	Indicator Indicator `json:"indicator" yaml:"indicator"`
	Operator  Operator  `json:"operator" yaml:"operator"`
	Threshold float64   `json:"threshold" yaml:"threshold"`
	Period    int       `json:"period,omitempty" yaml:"period,omitempty"`
	Logic     Logic     `json:"logic,omitempty" yaml:"logic,omitempty"` // ignored on the first condition
}

// RiskConfig holds per-strategy stop-loss/take-profit overrides in percent
// of entry notional.
type RiskConfig struct {
	StopLossPct   float64 `json:"stop_loss_pct" yaml:"stop_loss_pct"`
	TakeProfitPct float64 `json:"take_profit_pct" yaml:"take_profit_pct"`
}

// TradingWindow restricts new entries to [Start, End) in IST wall-clock
// time, both formatted "15:04".
type TradingWindow struct {
	Start string `json:"start" yaml:"start"`
	End   string `json:"end" yaml:"end"`
}

// Strategy is a user-authored rule set. The engine treats it as read-only
// except for Status.
type Strategy struct {
	ID              string         `json:"id" yaml:"id"`
	Name            string         `json:"name" yaml:"name"`
	Instrument      string         `json:"instrument" yaml:"instrument"`
	Timeframe       string         `json:"timeframe,omitempty" yaml:"timeframe,omitempty"`
	Side            Side           `json:"side" yaml:"side"`                                       // side of the entry order, BUY opens LONG
	Quantity        int64          `json:"quantity" yaml:"quantity"`
	OrderType       OrderType      `json:"order_type" yaml:"order_type"`
	LimitPrice      float64        `json:"limit_price,omitempty" yaml:"limit_price,omitempty"`
	Entry           []Condition    `json:"entry_conditions" yaml:"entry_conditions"`
	Exit            []Condition    `json:"exit_conditions" yaml:"exit_conditions"`
	MaxTradesPerDay int            `json:"max_trades_per_day" yaml:"max_trades_per_day"`           // 0 = unlimited
	Window          *TradingWindow `json:"trading_window,omitempty" yaml:"trading_window,omitempty"`
	SquareOffAt     string         `json:"square_off_at,omitempty" yaml:"square_off_at,omitempty"` // "15:04" IST
	Risk            *RiskConfig    `json:"risk,omitempty" yaml:"risk,omitempty"`
	Status          StrategyStatus `json:"status" yaml:"status"`
	CreatedAt       time.Time      `json:"created_at" yaml:"-"`
	UpdatedAt       time.Time      `json:"updated_at" yaml:"-"`
}
