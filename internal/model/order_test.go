package model

import (
	"testing"
	"time"
)

func TestOrderTransitionsForwardOnly(t *testing.T) {
	o := &Order{ID: "o1", Status: OrderCreated}
	now := time.Now()

	steps := []OrderStatus{OrderPlaced, OrderPartiallyFilled, OrderFilled, OrderClosed}
	for _, s := range steps {
		if err := o.Transition(s, now); err != nil {
			t.Fatalf("transition to %s: %v", s, err)
		}
	}
	if len(o.History) != len(steps) {
		t.Fatalf("history len = %d, want %d", len(o.History), len(steps))
	}

	// Every regression must be refused.
	for _, back := range []OrderStatus{OrderCreated, OrderPlaced, OrderPartiallyFilled, OrderFilled} {
		if err := o.Transition(back, now); err == nil {
			t.Errorf("CLOSED -> %s accepted", back)
		}
	}
}

func TestOrderTransitionsRejectJumps(t *testing.T) {
	cases := []struct {
		from, to OrderStatus
		ok       bool
	}{
		{OrderCreated, OrderPlaced, true},
		{OrderCreated, OrderFilled, false},
		{OrderCreated, OrderCancelled, true},
		{OrderPlaced, OrderFilled, true},
		{OrderPlaced, OrderClosed, false},
		{OrderPartiallyFilled, OrderCancelled, false},
		{OrderRejected, OrderPlaced, false},
		{OrderCancelled, OrderFilled, false},
		{OrderFilled, OrderCancelled, false},
	}
	for _, c := range cases {
		if got := CanTransition(c.from, c.to); got != c.ok {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", c.from, c.to, got, c.ok)
		}
	}
}

func TestRankIsMonotonicAlongTable(t *testing.T) {
	for from, tos := range orderTransitions {
		for _, to := range tos {
			if to.Rank() <= from.Rank() {
				t.Errorf("%s(%d) -> %s(%d) does not increase rank", from, from.Rank(), to, to.Rank())
			}
		}
	}
}

func TestCloneIsIndependent(t *testing.T) {
	o := &Order{ID: "o1", Status: OrderCreated, History: []StatusChange{{Status: OrderCreated}}}
	cp := o.Clone()
	_ = o.Transition(OrderPlaced, time.Now())

	if cp.Status != OrderCreated || len(cp.History) != 1 {
		t.Errorf("clone mutated: status=%s history=%d", cp.Status, len(cp.History))
	}
}

func TestSideHelpers(t *testing.T) {
	if SideBuy.Opposite() != SideSell || SideSell.Opposite() != SideBuy {
		t.Error("Opposite")
	}
	if SideFor(SideSell) != Short || Short.Direction() != -1 || Long.Direction() != 1 {
		t.Error("position side mapping")
	}
	if Short.OpeningSide() != SideSell {
		t.Error("OpeningSide")
	}
}
