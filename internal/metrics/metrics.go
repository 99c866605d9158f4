package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"autotrader-simv1/internal/model"
)

// Metrics holds all Prometheus metrics for one simulation engine. All
// methods are nil-safe so components can run without instrumentation.
type Metrics struct {
	TicksTotal       *prometheus.CounterVec // labels: instrument
	TickProcessDur   prometheus.Histogram
	EvaluationsTotal prometheus.Counter
	SignalsTotal     *prometheus.CounterVec // labels: kind=entry|exit|auto_exit
	OrdersTotal      *prometheus.CounterVec // labels: status
	OrderLatency     prometheus.Histogram   // create → terminal status
	InflightOrders   prometheus.Gauge
	AdmissionDenials *prometheus.CounterVec // labels: code
	RiskLocks        *prometheus.CounterVec // labels: kind
	EventsTotal      *prometheus.CounterVec // labels: type

	// Wallet gauges
	WalletBalance   prometheus.Gauge
	WalletUsed      prometheus.Gauge
	WalletAvailable prometheus.Gauge
	UnrealizedPnL   prometheus.Gauge
	DrawdownPct     prometheus.Gauge
	OpenPositions   prometheus.Gauge

	// Feed & sinks
	FeedReconnects           prometheus.Counter
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter
	RedisPublishFailures     prometheus.Counter
}

// NewMetrics creates all metrics and registers them on reg. A nil reg
// creates unregistered metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TicksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "simengine_ticks_total",
			Help: "Ticks processed by the strategy engine",
		}, []string{"instrument"}),
		TickProcessDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "simengine_tick_process_duration_seconds",
			Help:    "Time to evaluate all strategies for one tick",
			Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01},
		}),
		EvaluationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "simengine_evaluations_total",
			Help: "Strategy condition evaluations",
		}),
		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "simengine_signals_total",
			Help: "Signals generated by kind",
		}, []string{"kind"}),
		OrdersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "simengine_orders_total",
			Help: "Orders reaching each status",
		}, []string{"status"}),
		OrderLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "simengine_order_latency_seconds",
			Help:    "Time from order creation to terminal status",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}),
		InflightOrders: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "simengine_inflight_orders",
			Help: "Orders currently suspended in placement or fill",
		}),
		AdmissionDenials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "simengine_admission_denials_total",
			Help: "Entry orders denied by the risk guard",
		}, []string{"code"}),
		RiskLocks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "simengine_risk_locks_total",
			Help: "Risk guard lock transitions",
		}, []string{"kind"}),
		EventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "simengine_activity_events_total",
			Help: "Activity events published",
		}, []string{"type"}),

		WalletBalance: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "simengine_wallet_balance",
			Help: "Wallet cash balance",
		}),
		WalletUsed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "simengine_wallet_used_margin",
			Help: "Margin reserved by pending orders and open positions",
		}),
		WalletAvailable: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "simengine_wallet_available_margin",
			Help: "balance - used + unrealized",
		}),
		UnrealizedPnL: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "simengine_unrealized_pnl",
			Help: "Aggregate unrealized P&L",
		}),
		DrawdownPct: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "simengine_drawdown_pct",
			Help: "Drawdown from peak balance in percent",
		}),
		OpenPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "simengine_open_positions",
			Help: "Currently open positions",
		}),

		FeedReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "simengine_feed_reconnects_total",
			Help: "Tick feed WebSocket reconnection attempts",
		}),
		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "simengine_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "simengine_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),
		RedisPublishFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "simengine_redis_publish_failures_total",
			Help: "Activity events that could not be published to Redis",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.TicksTotal,
			m.TickProcessDur,
			m.EvaluationsTotal,
			m.SignalsTotal,
			m.OrdersTotal,
			m.OrderLatency,
			m.InflightOrders,
			m.AdmissionDenials,
			m.RiskLocks,
			m.EventsTotal,
			m.WalletBalance,
			m.WalletUsed,
			m.WalletAvailable,
			m.UnrealizedPnL,
			m.DrawdownPct,
			m.OpenPositions,
			m.FeedReconnects,
			m.RedisCircuitBreakerState,
			m.RedisCircuitBreakerTrips,
			m.RedisPublishFailures,
		)
	}
	return m
}

func (m *Metrics) ObserveTick(instrument string, d time.Duration) {
	if m == nil {
		return
	}
	m.TicksTotal.WithLabelValues(instrument).Inc()
	m.TickProcessDur.Observe(d.Seconds())
}

func (m *Metrics) Evaluated() {
	if m == nil {
		return
	}
	m.EvaluationsTotal.Inc()
}

func (m *Metrics) Signal(kind string) {
	if m == nil {
		return
	}
	m.SignalsTotal.WithLabelValues(kind).Inc()
}

// Order counts an order reaching status. Terminal statuses also observe the
// order's lifetime.
func (m *Metrics) Order(o model.Order) {
	if m == nil {
		return
	}
	m.OrdersTotal.WithLabelValues(string(o.Status)).Inc()
	if o.Status.Terminal() && !o.CreatedAt.IsZero() {
		m.OrderLatency.Observe(o.UpdatedAt.Sub(o.CreatedAt).Seconds())
	}
}

func (m *Metrics) Inflight(delta float64) {
	if m == nil {
		return
	}
	m.InflightOrders.Add(delta)
}

func (m *Metrics) Denied(code string) {
	if m == nil {
		return
	}
	m.AdmissionDenials.WithLabelValues(code).Inc()
}

func (m *Metrics) Locked(kind model.LockKind) {
	if m == nil {
		return
	}
	m.RiskLocks.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) Event(ev model.Event) {
	if m == nil {
		return
	}
	m.EventsTotal.WithLabelValues(string(ev.Type)).Inc()
}

// Wallet refreshes the wallet gauges.
func (m *Metrics) Wallet(w model.Wallet, openPositions int) {
	if m == nil {
		return
	}
	m.WalletBalance.Set(w.Balance)
	m.WalletUsed.Set(w.UsedMargin)
	m.WalletAvailable.Set(w.AvailableMargin)
	m.UnrealizedPnL.Set(w.UnrealizedPnL)
	m.DrawdownPct.Set(w.DrawdownPct)
	m.OpenPositions.Set(float64(openPositions))
}

func (m *Metrics) Reconnect() {
	if m == nil {
		return
	}
	m.FeedReconnects.Inc()
}

func (m *Metrics) PublishFailed() {
	if m == nil {
		return
	}
	m.RedisPublishFailures.Inc()
}

// Breaker records a circuit breaker transition. state uses the gauge's
// encoding: 0 closed, 1 open, 2 half-open.
func (m *Metrics) Breaker(state int, tripped bool) {
	if m == nil {
		return
	}
	m.RedisCircuitBreakerState.Set(float64(state))
	if tripped {
		m.RedisCircuitBreakerTrips.Inc()
	}
}
