// Package strategy runs user-authored rule sets against a live tick stream.
//
// The Engine owns the full trade pipeline: on each tick it evaluates every
// running strategy on the instrument, routes entry signals through the risk
// guard, the order simulator, the position ledger and the wallet, and emits
// an activity event at every step. Orders run asynchronously so a suspended
// placement or fill never blocks other ticks.
package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"autotrader-simv1/internal/activity"
	"autotrader-simv1/internal/execution"
	"autotrader-simv1/internal/indicator"
	"autotrader-simv1/internal/logger"
	"autotrader-simv1/internal/markethours"
	"autotrader-simv1/internal/metrics"
	"autotrader-simv1/internal/model"
	"autotrader-simv1/internal/money"
	"autotrader-simv1/internal/portfolio"
	"autotrader-simv1/internal/ringbuf"
	"autotrader-simv1/internal/risk"
)

// State is the engine run state.
type State string

const (
	StateStopped State = "STOPPED"
	StateRunning State = "RUNNING"
	StateLocked  State = "LOCKED" // mirrors the risk guard lock
	StatePaused  State = "PAUSED"
)

var (
	// ErrNoActiveStrategies is returned by Start when nothing is ACTIVE.
	ErrNoActiveStrategies = errors.New("no active strategies")

	// ErrRiskLocked is returned by Start while the risk guard is locked.
	ErrRiskLocked = errors.New("risk guard locked")

	// ErrNotCancellable is returned when cancelling an order that already
	// reached a terminal status.
	ErrNotCancellable = errors.New("order not cancellable")

	// ErrStrategyRunning is returned when removing a RUNNING strategy.
	ErrStrategyRunning = errors.New("strategy is running")

	// ErrStrategyBusy is returned when a change would strand the strategy's
	// open position or pending order.
	ErrStrategyBusy = errors.New("strategy has an open position or pending order")
)

// CodeInsufficientMargin is the admission code for a failed margin reservation.
const CodeInsufficientMargin = "INSUFFICIENT_MARGIN"

// Config holds engine parameters.
type Config struct {
	Workers           int     `json:"workers"`             // per-instrument tick workers
	QueueSize         int     `json:"queue_size"`          // ticks buffered per worker
	MaxInflightOrders int     `json:"max_inflight_orders"` // concurrent order tasks
	MarginRate        float64 `json:"margin_rate"`         // margin as a fraction of notional
	WindowSize        int     `json:"window_size"`         // candles kept per strategy
}

// DefaultConfig returns sensible engine defaults.
func DefaultConfig() Config {
	return Config{
		Workers:           4,
		QueueSize:         64,
		MaxInflightOrders: 32,
		MarginRate:        0.2,
		WindowSize:        ringbuf.DefaultCapacity,
	}
}

// Option customizes an Engine.
type Option func(*Engine)

// WithMetrics attaches Prometheus metrics.
func WithMetrics(m *metrics.Metrics) Option { return func(e *Engine) { e.metrics = m } }

// WithRecorder persists orders and trades.
func WithRecorder(r model.TradeRecorder) Option { return func(e *Engine) { e.recorder = r } }

// WithHealth reports engine state and tick times to the health endpoint.
func WithHealth(h *metrics.HealthStatus) Option { return func(e *Engine) { e.health = h } }

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// strategyRuntime is the engine's per-strategy scratch state.
type strategyRuntime struct {
	window   *ringbuf.Window[model.Candle]
	inFlight bool // an entry or exit order is pending
	day      string
	trades   int // filled entries on day
}

// pendingOrder tracks margin held by an order that has not settled.
type pendingOrder struct {
	strategyID string
	reserved   float64
	allocated  float64 // moved onto the position by fills
	positionID string
	unwind     bool // drained by a lockdown or emergency stop
}

// Engine orchestrates strategies, orders, positions, wallet and risk.
type Engine struct {
	cfg      Config
	registry *Registry
	exec     execution.Executor
	wallet   *portfolio.Wallet
	ledger   *portfolio.Ledger
	guard    *risk.Guard
	bus      *activity.Bus
	metrics  *metrics.Metrics
	health   *metrics.HealthStatus
	recorder model.TradeRecorder
	now      func() time.Time

	mu      sync.Mutex
	state   State
	runtime map[string]*strategyRuntime
	pending map[string]*pendingOrder
	marks   map[string]float64

	// tradeMu serializes every ledger + wallet + guard settlement.
	tradeMu sync.Mutex

	slots  chan struct{}
	tasks  sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewEngine wires an engine around its collaborators. The engine starts
// STOPPED.
func NewEngine(cfg Config, reg *Registry, exec execution.Executor, wallet *portfolio.Wallet,
	ledger *portfolio.Ledger, guard *risk.Guard, bus *activity.Bus, opts ...Option) *Engine {
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.MaxInflightOrders <= 0 {
		cfg.MaxInflightOrders = def.MaxInflightOrders
	}
	if cfg.MarginRate <= 0 {
		cfg.MarginRate = def.MarginRate
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = def.WindowSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		cfg:      cfg,
		registry: reg,
		exec:     exec,
		wallet:   wallet,
		ledger:   ledger,
		guard:    guard,
		bus:      bus,
		now:      time.Now,
		state:    StateStopped,
		runtime:  make(map[string]*strategyRuntime),
		pending:  make(map[string]*pendingOrder),
		marks:    make(map[string]float64),
		slots:    make(chan struct{}, cfg.MaxInflightOrders),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.health != nil {
		e.health.SetEngineState(string(e.state))
	}
	return e
}

// ──────────────────────────────────────────────────────────────
// Commands
// ──────────────────────────────────────────────────────────────

// Start moves STOPPED or PAUSED to RUNNING. It needs at least one ACTIVE
// strategy and an unlocked risk guard; ACTIVE strategies become RUNNING.
func (e *Engine) Start() error {
	if e.guard.Locked() {
		return fmt.Errorf("start: %w: %s", ErrRiskLocked, e.guard.State().LockReason)
	}

	e.mu.Lock()
	if e.state == StateRunning {
		e.mu.Unlock()
		return nil
	}
	if e.registry.Count(model.StrategyActive) == 0 && e.state != StatePaused {
		e.mu.Unlock()
		return fmt.Errorf("start: %w", ErrNoActiveStrategies)
	}
	n := e.registry.Promote(model.StrategyActive, model.StrategyRunning)
	e.setStateLocked(StateRunning)
	e.mu.Unlock()

	slog.Info("engine started", "strategies", n)
	e.publish(model.EventEngineStarted, fmt.Sprintf("engine started with %d strategies", n),
		map[string]any{"strategies": n})
	return nil
}

// Stop halts evaluation. Open positions and pending orders are left alone.
// A locked engine stays locked.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.state == StateStopped || e.state == StateLocked {
		e.mu.Unlock()
		return
	}
	e.setStateLocked(StateStopped)
	e.mu.Unlock()

	e.registry.Promote(model.StrategyRunning, model.StrategyActive)
	slog.Info("engine stopped")
	e.publish(model.EventEngineStopped, "engine stopped", nil)
}

// Pause suspends evaluation without demoting strategies.
func (e *Engine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateRunning {
		e.setStateLocked(StatePaused)
	}
}

// EmergencyStop stops the engine, cancels every pending order and squares
// off every open position at its current mark.
func (e *Engine) EmergencyStop(reason string) {
	if reason == "" {
		reason = "manual emergency stop"
	}
	e.mu.Lock()
	if e.state != StateLocked {
		e.setStateLocked(StateStopped)
	}
	ids := e.drainPendingLocked()
	e.mu.Unlock()

	e.registry.Promote(model.StrategyRunning, model.StrategyActive)
	slog.Warn("emergency stop", "reason", reason, "pending_orders", len(ids))

	e.cancelAll(ids)
	closed, locked := e.squareOff(portfolio.ExitSquareOff)
	e.publish(model.EventEmergencyStop, "emergency stop: "+reason,
		map[string]any{"reason": reason, "cancelled_orders": len(ids), "closed_positions": closed})
	if locked {
		st := e.guard.State()
		e.lockdown(st.LockKind, st.LockReason)
	}
}

// Reset is the administrative unlock: it clears the risk guard and every
// per-strategy daily counter. A locked engine returns to STOPPED.
func (e *Engine) Reset() {
	e.guard.Reset()

	e.mu.Lock()
	for _, rt := range e.runtime {
		rt.trades = 0
		rt.day = ""
	}
	if e.state == StateLocked {
		e.setStateLocked(StateStopped)
	}
	e.mu.Unlock()

	e.publish(model.EventSystem, "daily counters reset and risk lock cleared", nil)
}

// Lock halts trading with a manual lock that survives the day roll.
func (e *Engine) Lock(reason string) {
	if reason == "" {
		reason = "manual lock"
	}
	e.guard.Lock(model.LockManual, reason)
	st := e.guard.State()
	e.lockdown(st.LockKind, st.LockReason)
}

// CancelOrder cancels a pending order. The order's task releases its margin.
func (e *Engine) CancelOrder(orderID string) (model.Order, error) {
	o, ok := e.exec.Cancel(orderID)
	if !ok {
		if o.ID == "" {
			return o, fmt.Errorf("cancel %s: %w", orderID, execution.ErrUnknownOrder)
		}
		return o, fmt.Errorf("cancel %s in %s: %w", orderID, o.Status, ErrNotCancellable)
	}
	return o, nil
}

// SetStrategyStatus changes a strategy's status. ACTIVE and RUNNING are
// interchangeable requests: the stored status follows the engine, RUNNING
// while the engine runs and ACTIVE otherwise.
func (e *Engine) SetStrategyStatus(id string, status model.StrategyStatus) error {
	if status == model.StrategyActive || status == model.StrategyRunning {
		status = model.StrategyActive
		if e.State() == StateRunning {
			status = model.StrategyRunning
		}
	}
	return e.registry.SetStatus(id, status)
}

// UpdateStrategy replaces a strategy definition. Moving a strategy to another
// instrument is refused while it owns a position or a pending order.
func (e *Engine) UpdateStrategy(s model.Strategy) (model.Strategy, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cur, ok := e.registry.Get(s.ID); ok && cur.Instrument != s.Instrument && e.busyLocked(s.ID) {
		return model.Strategy{}, fmt.Errorf("update %s: %w", s.ID, ErrStrategyBusy)
	}
	return e.registry.Update(s)
}

// RemoveStrategy deletes a strategy that is neither RUNNING nor holding a
// position or a pending order.
func (e *Engine) RemoveStrategy(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	cur, ok := e.registry.Get(id)
	if !ok {
		return fmt.Errorf("%s: %w", id, ErrStrategyNotFound)
	}
	if cur.Status == model.StrategyRunning {
		return fmt.Errorf("remove %s: %w", id, ErrStrategyRunning)
	}
	if e.busyLocked(id) {
		return fmt.Errorf("remove %s: %w", id, ErrStrategyBusy)
	}
	return e.registry.Remove(id)
}

// Close cancels in-flight order tasks and waits for them to finish.
func (e *Engine) Close() {
	e.cancel()
	e.tasks.Wait()
}

// Wait blocks until every launched order task has finished.
func (e *Engine) Wait() { e.tasks.Wait() }

// ──────────────────────────────────────────────────────────────
// Tick processing
// ──────────────────────────────────────────────────────────────

// Run subscribes src to every instrument with an ACTIVE or RUNNING strategy
// plus any extra instruments, and feeds ticks through the worker pool until
// the source closes or ctx is done.
func (e *Engine) Run(ctx context.Context, src model.TickSource, extra ...string) error {
	instruments := append(e.registry.Instruments(), extra...)
	if len(instruments) == 0 {
		return fmt.Errorf("run: %w", ErrNoActiveStrategies)
	}
	ticks, err := src.Subscribe(ctx, instruments...)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	defer src.Unsubscribe()

	pool := newTickPool(e.cfg.Workers, e.cfg.QueueSize, func(c model.Candle) {
		e.HandleTick(ctx, c)
	})
	defer pool.Close()

	slog.Info("engine consuming ticks", "instruments", instruments, "workers", e.cfg.Workers)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case c, ok := <-ticks:
			if !ok {
				return nil
			}
			if err := pool.Dispatch(ctx, c); err != nil {
				return err
			}
		}
	}
}

// HandleTick processes one tick synchronously. Callers must not run two
// HandleTick calls for the same instrument concurrently; Run guarantees this.
// Order tasks launched by the tick continue in the background.
func (e *Engine) HandleTick(ctx context.Context, c model.Candle) {
	start := time.Now()
	ctx = logger.WithTraceID(ctx, logger.GenerateTraceID(c.Instrument, c.TS))
	defer func() { e.metrics.ObserveTick(c.Instrument, time.Since(start)) }()
	if e.health != nil {
		e.health.SetLastTickTime(e.now())
	}

	e.markToMarket(c)

	switch e.State() {
	case StateRunning:
	case StateLocked:
		if !e.guard.Locked() {
			// The guard cleared its limit lock on the day roll.
			e.mu.Lock()
			if e.state == StateLocked {
				e.setStateLocked(StateStopped)
			}
			e.mu.Unlock()
			e.publish(model.EventSystem, "new trading day: risk lock cleared, engine stopped", nil)
		} else {
			slog.Debug("engine locked, tick ignored", logger.LogWithTrace(ctx)...)
		}
		return
	default:
		return
	}

	for _, s := range e.registry.Watching(c.Instrument) {
		rt := e.runtimeFor(s.ID)
		e.mu.Lock()
		window := rt.window.Slice()
		rt.window.Push(c)
		e.mu.Unlock()

		if err := e.evaluate(ctx, s, c, window); err != nil {
			slog.Error("strategy evaluation failed", "strategy", s.ID, "error", err)
			_ = e.registry.SetStatus(s.ID, model.StrategyError)
			e.publish(model.EventSystem, fmt.Sprintf("strategy %s disabled: %v", s.Name, err),
				map[string]any{"strategy_id": s.ID, "error": err.Error()})
		}
	}
}

func (e *Engine) markToMarket(c model.Candle) {
	e.mu.Lock()
	e.marks[c.Instrument] = c.Close
	e.mu.Unlock()

	e.tradeMu.Lock()
	e.ledger.MarkInstrument(c.Instrument, c.Close)
	available := e.wallet.MarkUnrealized(e.ledger.TotalUnrealized())
	e.metrics.Wallet(e.wallet.Snapshot(), e.ledger.OpenCount())
	e.tradeMu.Unlock()

	if available < 0 {
		reason := fmt.Sprintf("margin exhausted: available margin %.2f", available)
		if e.guard.Lock(model.LockMargin, reason) {
			e.lockdown(model.LockMargin, reason)
		}
	}
}

// evaluate runs one strategy against the tick. window excludes the tick.
func (e *Engine) evaluate(ctx context.Context, s model.Strategy, c model.Candle, window []model.Candle) error {
	e.metrics.Evaluated()
	rt := e.runtimeFor(s.ID)

	e.mu.Lock()
	busy := rt.inFlight
	e.mu.Unlock()
	if busy {
		return nil
	}

	squareOff, err := markethours.PastSquareOff(c.TS, s.SquareOffAt)
	if err != nil {
		return err
	}

	if pos, ok := e.ledger.OpenFor(s.ID); ok {
		if pos.Instrument != c.Instrument {
			// The strategy moved instruments; this tick does not price pos.
			return nil
		}
		if squareOff {
			e.metrics.Signal("auto_exit")
			e.publish(model.EventAutoExit, fmt.Sprintf("%s: square-off time %s reached", s.Name, s.SquareOffAt),
				map[string]any{"strategy_id": s.ID, "position_id": pos.ID, "reason": string(portfolio.ExitSquareOff)})
			e.exit(ctx, s, pos, c, string(portfolio.ExitSquareOff))
			return nil
		}
		if reason, hit := portfolio.CheckAutoExit(pos, s.Risk); hit {
			e.metrics.Signal("auto_exit")
			e.publish(model.EventAutoExit,
				fmt.Sprintf("%s: %s at %.2f%%", s.Name, reason, portfolio.PnLPercent(pos)),
				map[string]any{"strategy_id": s.ID, "position_id": pos.ID, "reason": string(reason),
					"unrealized_pnl": pos.UnrealizedPnL})
			e.exit(ctx, s, pos, c, string(reason))
			return nil
		}
		if indicator.Evaluate(s.Exit, c, window) {
			e.metrics.Signal("exit")
			e.publish(model.EventSignal, fmt.Sprintf("%s: exit signal at %.2f", s.Name, c.Close),
				map[string]any{"strategy_id": s.ID, "position_id": pos.ID, "kind": "exit", "price": c.Close})
			e.exit(ctx, s, pos, c, "exit_conditions")
		}
		return nil
	}

	if squareOff {
		return nil
	}
	if s.Window != nil {
		ok, err := markethours.InWindow(c.TS, s.Window.Start, s.Window.End)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
	}
	if s.MaxTradesPerDay > 0 && e.tradesToday(s.ID) >= s.MaxTradesPerDay {
		return nil
	}
	if !indicator.Evaluate(s.Entry, c, window) {
		return nil
	}

	e.metrics.Signal("entry")
	e.publish(model.EventSignal, fmt.Sprintf("%s: entry signal at %.2f", s.Name, c.Close),
		map[string]any{"strategy_id": s.ID, "kind": "entry", "side": string(s.Side), "price": c.Close})
	e.enter(ctx, s, c)
	return nil
}

// ──────────────────────────────────────────────────────────────
// Entry
// ──────────────────────────────────────────────────────────────

func (e *Engine) enter(ctx context.Context, s model.Strategy, c model.Candle) {
	intent := model.OrderIntent{
		StrategyID: s.ID,
		Instrument: s.Instrument,
		Side:       s.Side,
		Quantity:   s.Quantity,
		Type:       s.OrderType,
		LimitPrice: s.LimitPrice,
	}
	ref := c.Close

	d := e.guard.PreTradeCheck(intent, ref, e.wallet.Snapshot(), e.ledger.OpenCount())
	if !d.Allowed {
		e.deny(s, d.Code, d.Reason)
		return
	}

	margin := money.Margin(ref, s.Quantity, e.cfg.MarginRate)
	if err := e.wallet.Reserve(margin); err != nil {
		e.deny(s, CodeInsufficientMargin, err.Error())
		return
	}

	// State check, order creation and pending registration are atomic with
	// respect to lockdown, which snapshots pending ids under the same lock.
	e.mu.Lock()
	if cur, ok := e.registry.Get(s.ID); e.state != StateRunning || !ok || cur.Instrument != s.Instrument {
		e.mu.Unlock()
		e.releaseOrLog(margin)
		slog.Debug("entry dropped, engine not running or strategy changed", logger.LogWithTrace(ctx)...)
		return
	}
	o := e.exec.Create(intent)
	e.pending[o.ID] = &pendingOrder{strategyID: s.ID, reserved: margin}
	e.runtimeLocked(s.ID).inFlight = true
	e.mu.Unlock()

	e.orderEvent(model.EventOrderCreated, o, fmt.Sprintf("%s %d %s created", o.Side, o.Quantity, o.Instrument))
	e.launch(func(ctx context.Context) { e.runEntry(ctx, o, ref) })
}

func (e *Engine) deny(s model.Strategy, code, reason string) {
	e.metrics.Denied(code)
	slog.Info("entry denied", "strategy", s.ID, "code", code, "reason", reason)
	e.publish(model.EventRiskBreach, fmt.Sprintf("%s: order denied: %s", s.Name, reason),
		map[string]any{"stage": "admission", "strategy_id": s.ID, "code": code, "reason": reason})
}

func (e *Engine) runEntry(ctx context.Context, o model.Order, ref float64) {
	defer e.finish(o.ID)

	placed, err := e.exec.Place(ctx, o.ID, ref)
	if err != nil {
		e.releasePending(o.ID)
		e.orderFailed(placed, err)
		return
	}
	e.orderEvent(model.EventOrderPlaced, placed, fmt.Sprintf("order placed at reference %.2f", ref))

	filled, err := e.exec.Fill(ctx, o.ID, func(f execution.Fill) error {
		return e.applyEntryFill(placed, f)
	})
	if errors.Is(err, execution.ErrOrderCancelled) || errors.Is(err, execution.ErrInvalidTransition) {
		e.releasePending(o.ID)
		e.orderFailed(filled, err)
		return
	}
	if err != nil {
		slog.Error("entry fill settlement failed", "order", o.ID, "error", err)
	}
	// Settlement may already have moved the order on to CLOSED.
	if cur, ok := e.exec.Get(o.ID); ok {
		filled = cur
	}
	e.record(filled)
}

// applyEntryFill books one execution of an entry order: the first fill opens
// the position, a second fill adds to it. A fill for an order drained by a
// lockdown or emergency stop is closed again at the mark, and a remainder
// whose position was already squared off is settled flat.
func (e *Engine) applyEntryFill(o model.Order, f execution.Fill) error {
	var (
		pos    model.Position
		opened bool
		flat   bool
		unwind bool
	)
	err := func() error {
		e.tradeMu.Lock()
		defer e.tradeMu.Unlock()

		e.mu.Lock()
		po := e.pending[o.ID]
		if po != nil {
			unwind = po.unwind || e.state == StateLocked
		}
		e.mu.Unlock()
		if po == nil {
			return fmt.Errorf("fill for untracked order %s", o.ID)
		}

		margin := money.Prorate(po.reserved, f.Quantity, o.Quantity)
		if f.Final {
			margin = money.Sub(po.reserved, po.allocated)
		}

		if po.positionID == "" {
			pos = e.ledger.Open(o, f.Price, f.Quantity, margin, f.At)
			po.positionID = pos.ID
			opened = true
			e.guard.RecordFill()
			e.countTrade(o.StrategyID)
		} else {
			var err error
			pos, err = e.ledger.AddTo(po.positionID, f.Price, f.Quantity, margin)
			switch {
			case errors.Is(err, portfolio.ErrPositionNotOpen):
				flat = true
				e.releaseOrLog(margin)
			case err != nil:
				return err
			}
		}
		po.allocated = money.Add(po.allocated, margin)
		e.wallet.MarkUnrealized(e.ledger.TotalUnrealized())
		return nil
	}()
	if err != nil {
		return err
	}

	e.publish(model.EventOrderFilled,
		fmt.Sprintf("%s %d %s filled at %.2f", o.Side, f.Quantity, o.Instrument, f.Price),
		map[string]any{"order_id": o.ID, "strategy_id": o.StrategyID, "quantity": f.Quantity,
			"price": f.Price, "slippage": f.Slippage, "partial": !f.Final, "settled_flat": flat})

	if flat {
		if f.Final {
			if err := e.exec.MarkClosed(o.ID); err != nil {
				slog.Debug("entry order not marked closed", "order", o.ID, "error", err)
			}
		}
		slog.Info("fill after square-off settled flat", "order", o.ID, "quantity", f.Quantity, "price", f.Price)
		e.publish(model.EventSystem,
			fmt.Sprintf("%d %s of order %s settled flat at %.2f: position already squared off",
				f.Quantity, o.Instrument, o.ID, f.Price),
			map[string]any{"order_id": o.ID, "strategy_id": o.StrategyID, "quantity": f.Quantity, "price": f.Price})
		return nil
	}

	if opened {
		e.publish(model.EventPositionOpened,
			fmt.Sprintf("%s %d %s @ %.2f", pos.Side, pos.Quantity, pos.Instrument, pos.EntryPrice),
			map[string]any{"position_id": pos.ID, "strategy_id": pos.StrategyID, "side": string(pos.Side),
				"quantity": pos.Quantity, "entry_price": pos.EntryPrice, "margin": pos.MarginUsed})
	}

	if unwind {
		reason := portfolio.ExitSquareOff
		if e.State() == StateLocked {
			reason = portfolio.ExitRiskLock
		}
		if _, locked := e.closeAtMark(pos.ID, reason); locked {
			st := e.guard.State()
			e.lockdown(st.LockKind, st.LockReason)
		}
	}
	return nil
}

// ──────────────────────────────────────────────────────────────
// Exit
// ──────────────────────────────────────────────────────────────

func (e *Engine) exit(ctx context.Context, s model.Strategy, pos model.Position, c model.Candle, reason string) {
	intent := model.OrderIntent{
		StrategyID: s.ID,
		Instrument: pos.Instrument,
		Side:       pos.Side.OpeningSide().Opposite(),
		Quantity:   pos.Quantity,
		Type:       model.OrderMarket,
		PositionID: pos.ID,
	}

	e.mu.Lock()
	rt := e.runtimeLocked(s.ID)
	if rt.inFlight {
		e.mu.Unlock()
		return
	}
	o := e.exec.Create(intent)
	e.pending[o.ID] = &pendingOrder{strategyID: s.ID, positionID: pos.ID}
	rt.inFlight = true
	e.mu.Unlock()

	e.orderEvent(model.EventOrderCreated, o, fmt.Sprintf("exit %s %d %s created (%s)", o.Side, o.Quantity, o.Instrument, reason))
	e.launch(func(ctx context.Context) { e.runExit(ctx, o, c.Close) })
}

func (e *Engine) runExit(ctx context.Context, o model.Order, ref float64) {
	defer e.finish(o.ID)

	placed, err := e.exec.Place(ctx, o.ID, ref)
	if err != nil {
		// The position stays open; the next tick re-evaluates the exit.
		e.orderFailed(placed, err)
		return
	}
	e.orderEvent(model.EventOrderPlaced, placed, fmt.Sprintf("exit order placed at reference %.2f", ref))

	filled, err := e.exec.Fill(ctx, o.ID, func(f execution.Fill) error {
		return e.applyExitFill(placed, f)
	})
	if errors.Is(err, execution.ErrOrderCancelled) || errors.Is(err, execution.ErrInvalidTransition) {
		e.orderFailed(filled, err)
		return
	}
	if err != nil {
		slog.Error("exit fill settlement failed", "order", o.ID, "error", err)
	}
	e.record(filled)
}

func (e *Engine) applyExitFill(o model.Order, f execution.Fill) error {
	e.publish(model.EventOrderFilled,
		fmt.Sprintf("exit %s %d %s filled at %.2f", o.Side, f.Quantity, o.Instrument, f.Price),
		map[string]any{"order_id": o.ID, "strategy_id": o.StrategyID, "position_id": o.PositionID,
			"quantity": f.Quantity, "price": f.Price, "slippage": f.Slippage, "partial": !f.Final})

	e.tradeMu.Lock()
	var (
		res portfolio.CloseResult
		err error
	)
	if f.Final {
		res, err = e.ledger.Close(o.PositionID, f.Price, f.At)
	} else {
		res, err = e.ledger.PartialClose(o.PositionID, f.Price, f.Quantity, f.At)
	}
	if errors.Is(err, portfolio.ErrPositionNotOpen) {
		e.tradeMu.Unlock()
		slog.Info("exit fill for position already closed", "order", o.ID, "position", o.PositionID)
		return nil
	}
	if err != nil {
		e.tradeMu.Unlock()
		return err
	}
	locked := e.settleLocked(res, "exit_conditions")
	e.tradeMu.Unlock()

	if locked {
		st := e.guard.State()
		e.lockdown(st.LockKind, st.LockReason)
	}
	return nil
}

// ──────────────────────────────────────────────────────────────
// Settlement, lockdown, square-off
// ──────────────────────────────────────────────────────────────

// settleLocked books a close into the wallet and risk guard. It returns true
// if the trade tripped the guard. Caller holds tradeMu.
func (e *Engine) settleLocked(res portfolio.CloseResult, reason string) bool {
	if err := e.wallet.Release(res.ReleasedMargin); err != nil {
		slog.Error("margin release failed", "position", res.Position.ID, "error", err)
	}
	w := e.wallet.RecordRealized(res.Trade.RealizedPnL)
	e.wallet.MarkUnrealized(e.ledger.TotalUnrealized())

	if res.Position.Status == model.PositionClosed {
		if err := e.exec.MarkClosed(res.Position.EntryOrderID); err != nil {
			slog.Debug("entry order not marked closed", "order", res.Position.EntryOrderID, "error", err)
		} else if o, ok := e.exec.Get(res.Position.EntryOrderID); ok {
			e.record(o)
		}
	}
	if e.recorder != nil {
		if err := e.recorder.RecordTrade(e.ctx, res.Trade); err != nil {
			slog.Error("journal trade failed", "trade", res.Trade.ID, "error", err)
		}
	}
	e.metrics.Wallet(e.wallet.Snapshot(), e.ledger.OpenCount())

	msg := fmt.Sprintf("%s %s closed %d @ %.2f, pnl %.2f", res.Position.Side, res.Position.Instrument,
		res.Trade.Quantity, res.Trade.ExitPrice, res.Trade.RealizedPnL)
	e.publish(model.EventPositionClosed, msg, map[string]any{
		"position_id":  res.Position.ID,
		"strategy_id":  res.Position.StrategyID,
		"trade_id":     res.Trade.ID,
		"quantity":     res.Trade.Quantity,
		"exit_price":   res.Trade.ExitPrice,
		"realized_pnl": res.Trade.RealizedPnL,
		"partial":      res.Position.Status == model.PositionOpen,
		"reason":       reason,
	})

	return e.guard.RecordTrade(res.Trade.RealizedPnL, w.DrawdownPct)
}

// lockdown moves the engine to LOCKED, cancels every pending order and
// squares off every open position. Repeated calls are no-ops.
func (e *Engine) lockdown(kind model.LockKind, reason string) {
	e.mu.Lock()
	if e.state == StateLocked {
		e.mu.Unlock()
		return
	}
	e.setStateLocked(StateLocked)
	ids := e.drainPendingLocked()
	e.mu.Unlock()

	e.metrics.Locked(kind)
	slog.Warn("engine locked", "kind", string(kind), "reason", reason, "pending_orders", len(ids))
	e.publish(model.EventRiskBreach, "trading locked: "+reason,
		map[string]any{"stage": "lock", "kind": string(kind), "reason": reason})

	e.cancelAll(ids)
	e.squareOff(portfolio.ExitRiskLock)
}

func (e *Engine) cancelAll(ids []string) {
	for _, id := range ids {
		if _, ok := e.exec.Cancel(id); ok {
			slog.Info("pending order cancelled", "order", id)
		}
	}
}

// squareOff closes every open position at its instrument's last mark.
func (e *Engine) squareOff(reason portfolio.ExitReason) (closed int, locked bool) {
	for _, pos := range e.ledger.OpenPositions() {
		ok, l := e.closeAtMark(pos.ID, reason)
		if ok {
			closed++
		}
		locked = locked || l
	}
	return closed, locked
}

func (e *Engine) closeAtMark(positionID string, reason portfolio.ExitReason) (closed, locked bool) {
	e.tradeMu.Lock()
	defer e.tradeMu.Unlock()

	pos, ok := e.ledger.Get(positionID)
	if !ok || pos.Status != model.PositionOpen {
		return false, false
	}
	e.mu.Lock()
	price, ok := e.marks[pos.Instrument]
	e.mu.Unlock()
	if !ok {
		price = pos.CurrentPrice
	}

	res, err := e.ledger.Close(pos.ID, price, e.now())
	if err != nil {
		slog.Error("square-off failed", "position", pos.ID, "error", err)
		return false, false
	}
	e.publish(model.EventAutoExit, fmt.Sprintf("%s %s squared off at %.2f (%s)", pos.Side, pos.Instrument, price, reason),
		map[string]any{"position_id": pos.ID, "strategy_id": pos.StrategyID, "reason": string(reason), "price": price})
	return true, e.settleLocked(res, string(reason))
}

// ──────────────────────────────────────────────────────────────
// Order task plumbing
// ──────────────────────────────────────────────────────────────

// launch runs fn as a tracked order task bounded by MaxInflightOrders.
func (e *Engine) launch(fn func(ctx context.Context)) {
	e.tasks.Add(1)
	go func() {
		defer e.tasks.Done()
		select {
		case e.slots <- struct{}{}:
		case <-e.ctx.Done():
			fn(e.ctx)
			return
		}
		defer func() { <-e.slots }()
		e.metrics.Inflight(1)
		defer e.metrics.Inflight(-1)
		fn(e.ctx)
	}()
}

// finish clears the order's pending entry and the strategy's in-flight flag.
func (e *Engine) finish(orderID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	po, ok := e.pending[orderID]
	if !ok {
		return
	}
	delete(e.pending, orderID)
	if rt, ok := e.runtime[po.strategyID]; ok {
		rt.inFlight = false
	}
}

// releasePending returns whatever margin the order still holds. Only the
// order's own task calls this, so the release happens exactly once.
func (e *Engine) releasePending(orderID string) {
	e.tradeMu.Lock()
	defer e.tradeMu.Unlock()

	e.mu.Lock()
	po, ok := e.pending[orderID]
	var amount float64
	if ok {
		amount = money.Sub(po.reserved, po.allocated)
		po.allocated = po.reserved
	}
	e.mu.Unlock()

	if amount > 0 {
		e.releaseOrLog(amount)
	}
}

func (e *Engine) releaseOrLog(amount float64) {
	if err := e.wallet.Release(amount); err != nil {
		slog.Error("margin release failed", "amount", amount, "error", err)
	}
}

func (e *Engine) orderFailed(o model.Order, err error) {
	e.record(o)
	if errors.Is(err, execution.ErrOrderRejected) {
		e.publish(model.EventOrderRejected, fmt.Sprintf("order rejected: %s", o.RejectionReason),
			map[string]any{"order_id": o.ID, "strategy_id": o.StrategyID, "reason": o.RejectionReason,
				"status": string(o.Status)})
		return
	}
	e.publish(model.EventSystem, fmt.Sprintf("order %s cancelled", o.ID),
		map[string]any{"order_id": o.ID, "strategy_id": o.StrategyID, "status": string(o.Status),
			"reason": err.Error()})
}

func (e *Engine) orderEvent(typ model.ActivityType, o model.Order, msg string) {
	e.record(o)
	e.publish(typ, msg, map[string]any{
		"order_id":    o.ID,
		"strategy_id": o.StrategyID,
		"instrument":  o.Instrument,
		"side":        string(o.Side),
		"quantity":    o.Quantity,
		"status":      string(o.Status),
		"exit":        o.IsExit(),
	})
}

func (e *Engine) record(o model.Order) {
	if o.ID == "" {
		return
	}
	e.metrics.Order(o)
	if e.recorder == nil {
		return
	}
	if err := e.recorder.RecordOrder(e.ctx, o); err != nil {
		slog.Error("journal order failed", "order", o.ID, "error", err)
	}
}

func (e *Engine) publish(typ model.ActivityType, msg string, data map[string]any) {
	if e.bus != nil {
		e.bus.Publish(typ, msg, data)
	}
}

// ──────────────────────────────────────────────────────────────
// Runtime state
// ──────────────────────────────────────────────────────────────

func (e *Engine) runtimeFor(id string) *strategyRuntime {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.runtimeLocked(id)
}

func (e *Engine) runtimeLocked(id string) *strategyRuntime {
	rt, ok := e.runtime[id]
	if !ok {
		rt = &strategyRuntime{window: ringbuf.New[model.Candle](e.cfg.WindowSize)}
		e.runtime[id] = rt
	}
	return rt
}

func (e *Engine) tradesToday(id string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	rt := e.runtimeLocked(id)
	if rt.day != markethours.DayKey(e.now()) {
		return 0
	}
	return rt.trades
}

func (e *Engine) countTrade(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rt := e.runtimeLocked(id)
	day := markethours.DayKey(e.now())
	if rt.day != day {
		rt.day = day
		rt.trades = 0
	}
	rt.trades++
}

// drainPendingLocked flags every pending order for unwinding and returns
// their ids. Fills that still arrive for these orders are closed straight out.
func (e *Engine) drainPendingLocked() []string {
	ids := make([]string, 0, len(e.pending))
	for id, po := range e.pending {
		po.unwind = true
		ids = append(ids, id)
	}
	return ids
}

// busyLocked reports whether the strategy owns a pending order or an open
// position. Caller holds e.mu.
func (e *Engine) busyLocked(id string) bool {
	for _, po := range e.pending {
		if po.strategyID == id {
			return true
		}
	}
	_, open := e.ledger.OpenFor(id)
	return open
}

func (e *Engine) setStateLocked(s State) {
	e.state = s
	if e.health != nil {
		e.health.SetEngineState(string(s))
	}
}

// ──────────────────────────────────────────────────────────────
// Snapshots
// ──────────────────────────────────────────────────────────────

// State returns the engine run state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Wallet returns the current wallet.
func (e *Engine) Wallet() model.Wallet { return e.wallet.Snapshot() }

// Risk returns the current risk guard state.
func (e *Engine) Risk() model.RiskState { return e.guard.State() }

// OpenPositions returns every open position.
func (e *Engine) OpenPositions() []model.Position { return e.ledger.OpenPositions() }

// Positions returns every position ever opened.
func (e *Engine) Positions() []model.Position { return e.ledger.Positions() }

// Orders returns every order.
func (e *Engine) Orders() []model.Order { return e.exec.Orders() }

// Trades returns the trade log.
func (e *Engine) Trades() []model.Trade { return e.ledger.Trades() }

// Activity returns up to n recent activity events.
func (e *Engine) Activity(n int) []model.Event {
	if e.bus == nil {
		return nil
	}
	return e.bus.Recent(n)
}

// Registry returns the strategy registry.
func (e *Engine) Registry() *Registry { return e.registry }

// Bus returns the activity bus.
func (e *Engine) Bus() *activity.Bus { return e.bus }

// Snapshot is a consistent-enough read of everything a dashboard shows.
type Snapshot struct {
	State         State            `json:"state"`
	Wallet        model.Wallet     `json:"wallet"`
	Risk          model.RiskState  `json:"risk"`
	OpenPositions []model.Position `json:"open_positions"`
	Strategies    []model.Strategy `json:"strategies"`
	PendingOrders int              `json:"pending_orders"`
	Trades        int              `json:"trades"`
}

// Snapshot returns the headline engine view.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	state, pending := e.state, len(e.pending)
	e.mu.Unlock()
	return Snapshot{
		State:         state,
		Wallet:        e.wallet.Snapshot(),
		Risk:          e.guard.State(),
		OpenPositions: e.ledger.OpenPositions(),
		Strategies:    e.registry.List(),
		PendingOrders: pending,
		Trades:        len(e.ledger.Trades()),
	}
}
