package execution

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"autotrader-simv1/internal/model"
)

func buy(qty int64) model.OrderIntent {
	return model.OrderIntent{StrategyID: "s1", Instrument: "NIFTY", Side: model.SideBuy, Quantity: qty}
}

// ──────────────────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────────────────

func TestPlaceAndFill(t *testing.T) {
	s := NewSimulator(Config{Seed: 1})
	o := s.Create(buy(10))
	if o.Status != model.OrderCreated {
		t.Fatalf("status = %s, want CREATED", o.Status)
	}

	placed, err := s.Place(context.Background(), o.ID, 101.234)
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if placed.Status != model.OrderPlaced || placed.ReferencePrice != 101.23 {
		t.Fatalf("placed = %s @ %v", placed.Status, placed.ReferencePrice)
	}

	var fills []Fill
	filled, err := s.Fill(context.Background(), o.ID, func(f Fill) error {
		fills = append(fills, f)
		return nil
	})
	if err != nil {
		t.Fatalf("fill: %v", err)
	}
	if filled.Status != model.OrderFilled || filled.FilledQuantity != 10 {
		t.Fatalf("filled = %s qty %d", filled.Status, filled.FilledQuantity)
	}
	if len(fills) != 1 || !fills[0].Final || fills[0].Price != 101.23 {
		t.Fatalf("fills = %+v", fills)
	}

	if err := s.MarkClosed(o.ID); err != nil {
		t.Fatalf("mark closed: %v", err)
	}
	if err := s.MarkClosed(o.ID); err != nil {
		t.Fatalf("second mark closed should be a no-op: %v", err)
	}
	got, _ := s.Get(o.ID)
	if got.Status != model.OrderClosed {
		t.Fatalf("status = %s, want CLOSED", got.Status)
	}
}

func TestRejectionIsTerminal(t *testing.T) {
	s := NewSimulator(Config{Seed: 1, RejectionRate: 1})
	o := s.Create(buy(1))

	got, err := s.Place(context.Background(), o.ID, 100)
	if !errors.Is(err, ErrOrderRejected) {
		t.Fatalf("err = %v, want ErrOrderRejected", err)
	}
	if got.Status != model.OrderRejected || got.RejectionReason == "" {
		t.Fatalf("got %s reason %q", got.Status, got.RejectionReason)
	}
	if _, err := s.Fill(context.Background(), o.ID, nil); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("fill after reject: err = %v", err)
	}
	if _, ok := s.Cancel(o.ID); ok {
		t.Fatal("cancel after reject must be a no-op")
	}
}

func TestPartialFillAlwaysCompletes(t *testing.T) {
	s := NewSimulator(Config{Seed: 3, PartialFillProb: 1})
	for i := 0; i < 50; i++ {
		qty := int64(2 + i)
		o := s.Create(buy(qty))
		if _, err := s.Place(context.Background(), o.ID, 100); err != nil {
			t.Fatal(err)
		}

		var fills []Fill
		got, err := s.Fill(context.Background(), o.ID, func(f Fill) error {
			fills = append(fills, f)
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}
		if len(fills) != 2 {
			t.Fatalf("qty %d: %d fills, want 2", qty, len(fills))
		}
		first, last := fills[0], fills[1]
		if first.Final || !last.Final {
			t.Fatalf("qty %d: final flags %v %v", qty, first.Final, last.Final)
		}
		lo := int64(float64(qty) * 0.3)
		if first.Quantity < 1 || first.Quantity < lo || first.Quantity > qty-1 {
			t.Fatalf("qty %d: first fill %d out of range", qty, first.Quantity)
		}
		if first.Quantity+last.Quantity != qty || got.FilledQuantity != qty {
			t.Fatalf("qty %d: filled %d+%d", qty, first.Quantity, last.Quantity)
		}
		if got.Status != model.OrderFilled {
			t.Fatalf("status = %s", got.Status)
		}
	}
}

func TestSingleUnitNeverPartial(t *testing.T) {
	s := NewSimulator(Config{Seed: 3, PartialFillProb: 1})
	o := s.Create(buy(1))
	s.Place(context.Background(), o.ID, 100)
	n := 0
	s.Fill(context.Background(), o.ID, func(Fill) error { n++; return nil })
	if n != 1 {
		t.Fatalf("fills = %d, want 1", n)
	}
}

func TestFillCallbackErrorsAreReturned(t *testing.T) {
	s := NewSimulator(Config{Seed: 1})
	o := s.Create(buy(5))
	s.Place(context.Background(), o.ID, 100)
	boom := errors.New("boom")
	got, err := s.Fill(context.Background(), o.ID, func(Fill) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if got.Status != model.OrderFilled {
		t.Fatalf("status = %s, callback failure must not undo the fill", got.Status)
	}
}

// ──────────────────────────────────────────────────────────────
// Slippage
// ──────────────────────────────────────────────────────────────

func TestSlippageIsAdverse(t *testing.T) {
	s := NewSimulator(Config{Seed: 9, SlippagePct: 0.01})
	for _, side := range []model.Side{model.SideBuy, model.SideSell} {
		for i := 0; i < 20; i++ {
			o := s.Create(model.OrderIntent{Instrument: "NIFTY", Side: side, Quantity: 1})
			s.Place(context.Background(), o.ID, 1000)
			got, _ := s.Fill(context.Background(), o.ID, nil)

			slip := got.FilledPrice - 1000
			if side == model.SideSell {
				slip = -slip
			}
			// ref * pct * U(0.5, 1.0) = [5, 10]
			if slip < 5 || slip > 10 {
				t.Fatalf("%s filled at %v, slippage %v out of [5,10]", side, got.FilledPrice, slip)
			}
		}
	}
}

func TestLimitCapsSlippage(t *testing.T) {
	s := NewSimulator(Config{Seed: 9, SlippagePct: 0.01})

	o := s.Create(model.OrderIntent{Instrument: "NIFTY", Side: model.SideBuy, Quantity: 1, Type: model.OrderLimit, LimitPrice: 1001})
	s.Place(context.Background(), o.ID, 1000)
	got, _ := s.Fill(context.Background(), o.ID, nil)
	if got.FilledPrice != 1001 {
		t.Fatalf("buy limit filled at %v, want 1001", got.FilledPrice)
	}

	o = s.Create(model.OrderIntent{Instrument: "NIFTY", Side: model.SideSell, Quantity: 1, Type: model.OrderLimit, LimitPrice: 999})
	s.Place(context.Background(), o.ID, 1000)
	got, _ = s.Fill(context.Background(), o.ID, nil)
	if got.FilledPrice != 999 {
		t.Fatalf("sell limit filled at %v, want 999", got.FilledPrice)
	}
}

// ──────────────────────────────────────────────────────────────
// Cancellation
// ──────────────────────────────────────────────────────────────

func TestCancelInterruptsPlacement(t *testing.T) {
	s := NewSimulator(Config{Seed: 1, PlacementDelay: time.Hour})
	o := s.Create(buy(1))

	done := make(chan error, 1)
	go func() {
		_, err := s.Place(context.Background(), o.ID, 100)
		done <- err
	}()

	// Cancel may land before or during the wait; both must interrupt.
	time.Sleep(5 * time.Millisecond)
	if _, ok := s.Cancel(o.ID); !ok {
		t.Fatal("cancel of a pending order should succeed")
	}

	select {
	case err := <-done:
		if !errors.Is(err, ErrOrderCancelled) {
			t.Fatalf("err = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("placement was not interrupted")
	}

	got, _ := s.Get(o.ID)
	if got.Status != model.OrderCancelled {
		t.Fatalf("status = %s", got.Status)
	}
	if _, ok := s.Cancel(o.ID); ok {
		t.Fatal("second cancel must be a no-op")
	}
}

func TestContextCancelCancelsOrder(t *testing.T) {
	s := NewSimulator(Config{Seed: 1, FillDelay: time.Hour})
	o := s.Create(buy(1))
	s.Place(context.Background(), o.ID, 100)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	got, err := s.Fill(ctx, o.ID, func(Fill) error {
		t.Error("no fill expected")
		return nil
	})
	if !errors.Is(err, ErrOrderCancelled) || got.Status != model.OrderCancelled {
		t.Fatalf("got %s err %v", got.Status, err)
	}
}

// Fill and cancel race: exactly one wins, and the history never goes
// backwards.
func TestFillCancelRace(t *testing.T) {
	for i := 0; i < 200; i++ {
		s := NewSimulator(Config{Seed: int64(i + 1), FillDelay: time.Microsecond})
		o := s.Create(buy(3))
		if _, err := s.Place(context.Background(), o.ID, 100); err != nil {
			t.Fatal(err)
		}

		var (
			wg        sync.WaitGroup
			fillErr   error
			cancelled bool
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, fillErr = s.Fill(context.Background(), o.ID, nil)
		}()
		go func() {
			defer wg.Done()
			_, cancelled = s.Cancel(o.ID)
		}()
		wg.Wait()

		got, _ := s.Get(o.ID)
		switch got.Status {
		case model.OrderFilled:
			if cancelled || fillErr != nil {
				t.Fatalf("run %d: filled but cancelled=%v err=%v", i, cancelled, fillErr)
			}
		case model.OrderCancelled:
			if !cancelled || !errors.Is(fillErr, ErrOrderCancelled) {
				t.Fatalf("run %d: cancelled but cancelled=%v err=%v", i, cancelled, fillErr)
			}
			if got.FilledQuantity != 0 {
				t.Fatalf("run %d: cancelled order has fills", i)
			}
		default:
			t.Fatalf("run %d: status %s", i, got.Status)
		}
		for k := 1; k < len(got.History); k++ {
			if got.History[k].Status.Rank() <= got.History[k-1].Status.Rank() {
				t.Fatalf("run %d: history regressed %v", i, got.History)
			}
		}
	}
}

func TestOrdersKeepCreationOrder(t *testing.T) {
	s := NewSimulator(Config{Seed: 1})
	var ids []string
	for i := 0; i < 5; i++ {
		ids = append(ids, s.Create(buy(1)).ID)
	}
	for i, o := range s.Orders() {
		if o.ID != ids[i] {
			t.Fatalf("order %d = %s, want %s", i, o.ID, ids[i])
		}
	}
	if _, err := s.Place(context.Background(), "missing", 1); !errors.Is(err, ErrUnknownOrder) {
		t.Fatalf("err = %v", err)
	}
}
