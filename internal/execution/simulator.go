package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"autotrader-simv1/internal/model"
	"autotrader-simv1/internal/money"
)

// Config holds the simulated venue parameters.
type Config struct {
	PlacementDelay     time.Duration `json:"placement_delay"`
	FillDelay          time.Duration `json:"fill_delay"`
	PartialFillDelay   time.Duration `json:"partial_fill_delay"` // delay before the remainder fill
	SlippagePct        float64       `json:"slippage_pct"`       // 0.0005 = 0.05% of reference price
	RejectionRate      float64       `json:"rejection_rate"`     // probability in [0,1]
	PartialFillProb    float64       `json:"partial_fill_prob"`  // probability in [0,1]
	MinPartialFraction float64       `json:"min_partial_fraction"`
	Seed               int64         `json:"seed"` // 0 = time-based
}

// DefaultConfig returns realistic intraday defaults.
func DefaultConfig() Config {
	return Config{
		PlacementDelay:     300 * time.Millisecond,
		FillDelay:          700 * time.Millisecond,
		PartialFillDelay:   300 * time.Millisecond,
		SlippagePct:        0.0005,
		RejectionRate:      0.04,
		PartialFillProb:    0.15,
		MinPartialFraction: 0.3,
	}
}

var rejectionReasons = []string{
	"insufficient liquidity at the exchange",
	"price outside the daily circuit band",
	"exchange RMS rejected the order value",
	"instrument temporarily suspended from trading",
}

// Simulator is an in-memory venue. Orders are keyed by id and each pending
// step holds a cancel func so Cancel can interrupt it.
type Simulator struct {
	cfg Config

	mu     sync.Mutex
	rng    *rand.Rand
	orders map[string]*model.Order
	seq    []string
	timers map[string]context.CancelFunc
	now    func() time.Time
}

// NewSimulator creates a simulator with the given parameters.
func NewSimulator(cfg Config) *Simulator {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	if cfg.MinPartialFraction <= 0 || cfg.MinPartialFraction >= 1 {
		cfg.MinPartialFraction = 0.3
	}
	if cfg.PartialFillDelay <= 0 {
		cfg.PartialFillDelay = cfg.FillDelay / 2
	}
	return &Simulator{
		cfg:    cfg,
		rng:    rand.New(rand.NewSource(seed)),
		orders: make(map[string]*model.Order),
		timers: make(map[string]context.CancelFunc),
		now:    time.Now,
	}
}

// SetClock overrides the wall clock used for status timestamps.
func (s *Simulator) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// Create registers a new order in CREATED status.
func (s *Simulator) Create(intent model.OrderIntent) model.Order {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := s.now()
	typ := intent.Type
	if typ == "" {
		typ = model.OrderMarket
	}
	o := &model.Order{
		ID:         uuid.New().String(),
		StrategyID: intent.StrategyID,
		Instrument: intent.Instrument,
		Side:       intent.Side,
		Quantity:   intent.Quantity,
		Type:       typ,
		LimitPrice: intent.LimitPrice,
		PositionID: intent.PositionID,
		Status:     model.OrderCreated,
		History:    []model.StatusChange{{Status: model.OrderCreated, At: ts}},
		CreatedAt:  ts,
		UpdatedAt:  ts,
	}
	s.orders[o.ID] = o
	s.seq = append(s.seq, o.ID)
	return o.Clone()
}

// Place suspends for the placement delay, then draws rejection once.
func (s *Simulator) Place(ctx context.Context, orderID string, refPrice float64) (model.Order, error) {
	s.mu.Lock()
	o, ok := s.orders[orderID]
	if !ok {
		s.mu.Unlock()
		return model.Order{}, fmt.Errorf("place %s: %w", orderID, ErrUnknownOrder)
	}
	if o.Status == model.OrderCancelled {
		cp := o.Clone()
		s.mu.Unlock()
		return cp, ErrOrderCancelled
	}
	if o.Status != model.OrderCreated {
		cp := o.Clone()
		s.mu.Unlock()
		return cp, fmt.Errorf("place %s from %s: %w", orderID, o.Status, ErrInvalidTransition)
	}
	o.ReferencePrice = money.Round(refPrice)
	tctx := s.arm(ctx, orderID)
	s.mu.Unlock()

	waitErr := wait(tctx, s.cfg.PlacementDelay)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.disarm(orderID)

	if err := s.interrupted(o, waitErr); err != nil {
		return o.Clone(), err
	}

	if s.rng.Float64() < s.cfg.RejectionRate {
		o.RejectionReason = rejectionReasons[s.rng.Intn(len(rejectionReasons))]
		s.transition(o, model.OrderRejected)
		slog.Info("order rejected", "order", o.ID, "reason", o.RejectionReason)
		return o.Clone(), fmt.Errorf("%w: %s", ErrOrderRejected, o.RejectionReason)
	}

	s.transition(o, model.OrderPlaced)
	return o.Clone(), nil
}

// Fill suspends for the fill delay, then executes the order in one or two
// fills. onFill runs outside the simulator lock for every execution.
func (s *Simulator) Fill(ctx context.Context, orderID string, onFill func(Fill) error) (model.Order, error) {
	s.mu.Lock()
	o, ok := s.orders[orderID]
	if !ok {
		s.mu.Unlock()
		return model.Order{}, fmt.Errorf("fill %s: %w", orderID, ErrUnknownOrder)
	}
	if o.Status == model.OrderCancelled {
		cp := o.Clone()
		s.mu.Unlock()
		return cp, ErrOrderCancelled
	}
	if o.Status != model.OrderPlaced {
		cp := o.Clone()
		s.mu.Unlock()
		return cp, fmt.Errorf("fill %s from %s: %w", orderID, o.Status, ErrInvalidTransition)
	}
	tctx := s.arm(ctx, orderID)
	s.mu.Unlock()

	waitErr := wait(tctx, s.cfg.FillDelay)

	s.mu.Lock()
	s.disarm(orderID)
	if err := s.interrupted(o, waitErr); err != nil {
		cp := o.Clone()
		s.mu.Unlock()
		return cp, err
	}

	var errs []error
	partial := o.Quantity > 1 && s.rng.Float64() < s.cfg.PartialFillProb
	if partial {
		first := s.execute(o, s.partialQty(o.Quantity), false)
		s.transition(o, model.OrderPartiallyFilled)
		s.mu.Unlock()

		if onFill != nil {
			if err := onFill(first); err != nil {
				errs = append(errs, err)
			}
		}

		// The remainder always completes once the first fill has happened:
		// there is no cancelling a partially filled order.
		_ = wait(context.Background(), s.cfg.PartialFillDelay)

		s.mu.Lock()
	}

	last := s.execute(o, o.Quantity-o.FilledQuantity, true)
	s.transition(o, model.OrderFilled)
	cp := o.Clone()
	s.mu.Unlock()

	if onFill != nil {
		if err := onFill(last); err != nil {
			errs = append(errs, err)
		}
	}
	return cp, errors.Join(errs...)
}

// Cancel cancels a CREATED or PLACED order and interrupts its pending timer.
// Cancelling any other status is a no-op that returns false.
func (s *Simulator) Cancel(orderID string) (model.Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[orderID]
	if !ok {
		return model.Order{}, false
	}
	if o.Status != model.OrderCreated && o.Status != model.OrderPlaced {
		return o.Clone(), false
	}
	s.transition(o, model.OrderCancelled)
	if cancel, ok := s.timers[orderID]; ok {
		cancel()
		delete(s.timers, orderID)
	}
	return o.Clone(), true
}

// MarkClosed moves a FILLED entry order to CLOSED.
func (s *Simulator) MarkClosed(orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[orderID]
	if !ok {
		return fmt.Errorf("close %s: %w", orderID, ErrUnknownOrder)
	}
	if o.Status == model.OrderClosed {
		return nil
	}
	if !model.CanTransition(o.Status, model.OrderClosed) {
		return fmt.Errorf("close %s from %s: %w", orderID, o.Status, ErrInvalidTransition)
	}
	s.transition(o, model.OrderClosed)
	return nil
}

// Get returns a copy of one order.
func (s *Simulator) Get(orderID string) (model.Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return model.Order{}, false
	}
	return o.Clone(), true
}

// Orders returns copies of all orders, oldest first.
func (s *Simulator) Orders() []model.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Order, 0, len(s.seq))
	for _, id := range s.seq {
		out = append(out, s.orders[id].Clone())
	}
	return out
}

// ── internals (callers hold s.mu) ──

func (s *Simulator) arm(ctx context.Context, orderID string) context.Context {
	tctx, cancel := context.WithCancel(ctx)
	s.timers[orderID] = cancel
	return tctx
}

func (s *Simulator) disarm(orderID string) {
	if cancel, ok := s.timers[orderID]; ok {
		cancel()
		delete(s.timers, orderID)
	}
}

// interrupted resolves the outcome of a suspended step. A Cancel that landed
// first is authoritative; a cancelled parent context cancels the order.
func (s *Simulator) interrupted(o *model.Order, waitErr error) error {
	if o.Status == model.OrderCancelled {
		return ErrOrderCancelled
	}
	if waitErr != nil {
		s.transition(o, model.OrderCancelled)
		return ErrOrderCancelled
	}
	return nil
}

func (s *Simulator) transition(o *model.Order, to model.OrderStatus) {
	if err := o.Transition(to, s.now()); err != nil {
		// Only reachable through a bug in this file.
		panic(err)
	}
}

// execute applies a fill of qty units and returns it.
func (s *Simulator) execute(o *model.Order, qty int64, final bool) Fill {
	price, slip := s.fillPrice(o)
	o.FilledPrice = money.WeightedAverage(o.FilledPrice, o.FilledQuantity, price, qty)
	o.FilledQuantity += qty
	return Fill{
		OrderID:  o.ID,
		Price:    price,
		Quantity: qty,
		Slippage: slip,
		Final:    final,
		At:       s.now(),
	}
}

// fillPrice applies adverse slippage of ref*pct*U(0.5,1.0): buys pay up,
// sells receive less. Limit orders never fill through their limit.
func (s *Simulator) fillPrice(o *model.Order) (price, slippage float64) {
	ref := o.ReferencePrice
	slippage = money.Round(ref * s.cfg.SlippagePct * (0.5 + 0.5*s.rng.Float64()))
	if o.Side == model.SideBuy {
		price = money.Add(ref, slippage)
		if o.Type == model.OrderLimit && o.LimitPrice > 0 && price > o.LimitPrice {
			price = money.Round(o.LimitPrice)
		}
	} else {
		price = money.Sub(ref, slippage)
		if o.Type == model.OrderLimit && o.LimitPrice > 0 && price < o.LimitPrice {
			price = money.Round(o.LimitPrice)
		}
	}
	return price, slippage
}

// partialQty draws the first fill size in [minFraction*qty, qty-1].
func (s *Simulator) partialQty(qty int64) int64 {
	frac := s.cfg.MinPartialFraction + (1-s.cfg.MinPartialFraction)*s.rng.Float64()
	n := int64(math.Floor(frac * float64(qty)))
	if n < 1 {
		n = 1
	}
	if n > qty-1 {
		n = qty - 1
	}
	return n
}

// wait blocks for d or until ctx is done.
func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
