package strategy

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"autotrader-simv1/internal/markethours"
	"autotrader-simv1/internal/model"
)

var (
	// ErrStrategyNotFound is returned for an unknown strategy id.
	ErrStrategyNotFound = errors.New("strategy not found")

	// ErrInvalidStrategy wraps every validation failure.
	ErrInvalidStrategy = errors.New("invalid strategy")
)

// Registry is the strategy CRUD surface. The host application adds, updates
// and removes strategies; the engine only ever changes Status.
type Registry struct {
	mu    sync.RWMutex
	items map[string]*model.Strategy
	now   func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{items: make(map[string]*model.Strategy), now: time.Now}
}

// Add validates and stores a new strategy. An empty ID is assigned, an empty
// status becomes CREATED and an empty order type becomes MARKET.
func (r *Registry) Add(s model.Strategy) (model.Strategy, error) {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	if s.Status == "" {
		s.Status = model.StrategyCreated
	}
	if s.OrderType == "" {
		s.OrderType = model.OrderMarket
	}
	if err := Validate(s); err != nil {
		return model.Strategy{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[s.ID]; ok {
		return model.Strategy{}, fmt.Errorf("%w: duplicate id %s", ErrInvalidStrategy, s.ID)
	}
	now := r.now()
	s.CreatedAt, s.UpdatedAt = now, now
	cp := s
	r.items[s.ID] = &cp
	return s, nil
}

// Update replaces a strategy's definition. An empty status keeps the current one.
func (r *Registry) Update(s model.Strategy) (model.Strategy, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.items[s.ID]
	if !ok {
		return model.Strategy{}, fmt.Errorf("%s: %w", s.ID, ErrStrategyNotFound)
	}
	if s.Status == "" {
		s.Status = cur.Status
	}
	if s.OrderType == "" {
		s.OrderType = model.OrderMarket
	}
	if err := Validate(s); err != nil {
		return model.Strategy{}, err
	}
	s.CreatedAt = cur.CreatedAt
	s.UpdatedAt = r.now()
	*cur = s
	return s, nil
}

// Remove deletes a strategy.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[id]; !ok {
		return fmt.Errorf("%s: %w", id, ErrStrategyNotFound)
	}
	delete(r.items, id)
	return nil
}

// Get returns a copy of one strategy.
func (r *Registry) Get(id string) (model.Strategy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.items[id]
	if !ok {
		return model.Strategy{}, false
	}
	return *s, true
}

// List returns all strategies ordered by creation time, then id.
func (r *Registry) List() []model.Strategy {
	r.mu.RLock()
	out := make([]model.Strategy, 0, len(r.items))
	for _, s := range r.items {
		out = append(out, *s)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Watching returns the RUNNING strategies on instrument.
func (r *Registry) Watching(instrument string) []model.Strategy {
	var out []model.Strategy
	for _, s := range r.List() {
		if s.Status == model.StrategyRunning && s.Instrument == instrument {
			out = append(out, s)
		}
	}
	return out
}

// Instruments returns the distinct instruments of all ACTIVE or RUNNING
// strategies, sorted.
func (r *Registry) Instruments() []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range r.List() {
		if s.Status != model.StrategyActive && s.Status != model.StrategyRunning {
			continue
		}
		if !seen[s.Instrument] {
			seen[s.Instrument] = true
			out = append(out, s.Instrument)
		}
	}
	sort.Strings(out)
	return out
}

// SetStatus changes one strategy's status.
func (r *Registry) SetStatus(id string, status model.StrategyStatus) error {
	if !validStatuses[status] {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidStrategy, status)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.items[id]
	if !ok {
		return fmt.Errorf("%s: %w", id, ErrStrategyNotFound)
	}
	s.Status = status
	s.UpdatedAt = r.now()
	return nil
}

// Promote moves every strategy in status from to status to and returns how
// many moved.
func (r *Registry) Promote(from, to model.StrategyStatus) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	now := r.now()
	for _, s := range r.items {
		if s.Status == from {
			s.Status = to
			s.UpdatedAt = now
			n++
		}
	}
	return n
}

// Count returns the number of strategies in status.
func (r *Registry) Count(status model.StrategyStatus) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, s := range r.items {
		if s.Status == status {
			n++
		}
	}
	return n
}

var (
	validIndicators = map[model.Indicator]bool{
		model.IndicatorPrice: true, model.IndicatorVolume: true, model.IndicatorEMA: true,
		model.IndicatorSMA: true, model.IndicatorRSI: true, model.IndicatorMACD: true,
		model.IndicatorADX: true, model.IndicatorVWAP: true,
	}
	validOperators = map[model.Operator]bool{
		model.OpGreater: true, model.OpLess: true, model.OpGreaterEqual: true,
		model.OpLessEqual: true, model.OpEquals: true, model.OpCrossAbove: true,
		model.OpCrossBelow: true,
	}
	validStatuses = map[model.StrategyStatus]bool{
		model.StrategyCreated: true, model.StrategyActive: true, model.StrategyRunning: true,
		model.StrategyStopped: true, model.StrategyPaused: true, model.StrategyError: true,
	}
)

// Validate checks a strategy definition.
func Validate(s model.Strategy) error {
	bad := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalidStrategy, fmt.Sprintf(format, args...))
	}
	if s.Name == "" {
		return bad("name is required")
	}
	if s.Instrument == "" {
		return bad("instrument is required")
	}
	if s.Side != model.SideBuy && s.Side != model.SideSell {
		return bad("side must be BUY or SELL, got %q", s.Side)
	}
	if s.Quantity <= 0 {
		return bad("quantity must be positive")
	}
	switch s.OrderType {
	case model.OrderMarket:
	case model.OrderLimit:
		if s.LimitPrice <= 0 {
			return bad("limit order needs a positive limit price")
		}
	default:
		return bad("unknown order type %q", s.OrderType)
	}
	if s.MaxTradesPerDay < 0 {
		return bad("max trades per day cannot be negative")
	}
	if !validStatuses[s.Status] {
		return bad("unknown status %q", s.Status)
	}
	for i, c := range append(append([]model.Condition{}, s.Entry...), s.Exit...) {
		if !validIndicators[c.Indicator] {
			return bad("condition %d: unknown indicator %q", i, c.Indicator)
		}
		if !validOperators[c.Operator] {
			return bad("condition %d: unknown operator %q", i, c.Operator)
		}
		if c.Logic != "" && c.Logic != model.LogicAnd && c.Logic != model.LogicOr {
			return bad("condition %d: unknown logic %q", i, c.Logic)
		}
		if c.Period < 0 {
			return bad("condition %d: negative period", i)
		}
	}
	if s.Window != nil {
		for _, clk := range []string{s.Window.Start, s.Window.End} {
			if clk == "" {
				continue
			}
			if _, err := markethours.ParseClock(clk); err != nil {
				return bad("trading window: %v", err)
			}
		}
	}
	if s.SquareOffAt != "" {
		if _, err := markethours.ParseClock(s.SquareOffAt); err != nil {
			return bad("square off: %v", err)
		}
	}
	if s.Risk != nil && (s.Risk.StopLossPct < 0 || s.Risk.TakeProfitPct < 0) {
		return bad("risk percentages cannot be negative")
	}
	return nil
}
