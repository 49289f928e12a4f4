package engine

import (
	"context"
	"testing"
	"time"

	"cb-dca-bot/internal/venue"
)

func TestAwaitTerminalReturnsOnTerminalStatus(t *testing.T) {
	mv := &mockVenue{
		product: btcProduct(),
		states: map[string][]venue.OrderState{
			"o1": {
				{OrderID: "o1", Status: venue.StatusOpen},
				{OrderID: "o1", Status: venue.StatusOpen},
				{OrderID: "o1", Status: venue.StatusCancelled, FilledNotional: dec("12.34")},
			},
		},
	}
	e := newTestEngine(mv)

	state, terminal := e.awaitTerminal(context.Background(), "o1")
	if !terminal {
		t.Fatal("expected terminal observation")
	}
	if state.Status != venue.StatusCancelled {
		t.Fatalf("status = %s", state.Status)
	}
	if !state.FilledNotional.Equal(dec("12.34")) {
		t.Fatalf("filled notional = %s", state.FilledNotional)
	}
}

func TestAwaitTerminalCapKeepsLastObservation(t *testing.T) {
	mv := &mockVenue{
		product: btcProduct(),
		states: map[string][]venue.OrderState{
			"o1": {{OrderID: "o1", Status: venue.StatusOpen, FilledNotional: dec("5")}},
		},
	}
	e := newTestEngine(mv)

	start := time.Now()
	state, terminal := e.awaitTerminal(context.Background(), "o1")
	if terminal {
		t.Fatal("order never settled, terminal must be false")
	}
	if state.Status != venue.StatusOpen || !state.FilledNotional.Equal(dec("5")) {
		t.Fatalf("last observation lost: %+v", state)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("wait cap not honored, blocked %s", elapsed)
	}
}

func TestSettleOrderCancelsOpenOrder(t *testing.T) {
	mv := &mockVenue{
		product: btcProduct(),
		states: map[string][]venue.OrderState{
			"o1": {
				{OrderID: "o1", Status: venue.StatusOpen, FilledNotional: dec("40")},
				{OrderID: "o1", Status: venue.StatusCancelled, FilledNotional: dec("40")},
			},
		},
	}
	e := newTestEngine(mv)
	c := &campaign{
		id:        "c1",
		intent:    OrderIntent{ProductID: "BTC-USDC"},
		original:  dec("100"),
		remaining: dec("100"),
		current:   OrderHandle{OrderID: "o1"},
	}

	state := e.settleOrder(context.Background(), c)
	if state.Status != venue.StatusCancelled {
		t.Fatalf("status = %s", state.Status)
	}
	cancelled := mv.cancelledOrders()
	if len(cancelled) != 1 || cancelled[0] != "o1" {
		t.Fatalf("cancel calls = %v", cancelled)
	}
	if !c.remaining.Equal(dec("60")) {
		t.Fatalf("remaining = %s, want 60", c.remaining)
	}
}

func TestSettleOrderSkipsCancelWhenAlreadyTerminal(t *testing.T) {
	mv := &mockVenue{
		product: btcProduct(),
		states: map[string][]venue.OrderState{
			"o1": {{OrderID: "o1", Status: venue.StatusFilled, FilledNotional: dec("100")}},
		},
	}
	e := newTestEngine(mv)
	c := &campaign{
		id:        "c1",
		intent:    OrderIntent{ProductID: "BTC-USDC"},
		original:  dec("100"),
		remaining: dec("100"),
		current:   OrderHandle{OrderID: "o1"},
	}

	e.settleOrder(context.Background(), c)
	if got := mv.cancelledOrders(); len(got) != 0 {
		t.Fatalf("filled order must not be cancelled, got %v", got)
	}
	if !c.remaining.IsZero() {
		t.Fatalf("remaining = %s, want 0", c.remaining)
	}
}

func TestRecordFillNeverShrinksAndNeverDoubleCounts(t *testing.T) {
	c := &campaign{original: dec("100"), remaining: dec("100")}

	c.recordFill("o1", dec("40"))
	c.recordFill("o1", dec("40")) // repeated read, not a second fill
	if !c.remaining.Equal(dec("60")) {
		t.Fatalf("remaining = %s, want 60", c.remaining)
	}

	c.recordFill("o1", dec("30")) // lagging read must not shrink the total
	if !c.remaining.Equal(dec("60")) {
		t.Fatalf("remaining after lagging read = %s, want 60", c.remaining)
	}

	c.recordFill("o2", dec("25"))
	if !c.remaining.Equal(dec("35")) {
		t.Fatalf("remaining across orders = %s, want 35", c.remaining)
	}
	if !c.filledTotal().Equal(dec("65")) {
		t.Fatalf("filled total = %s, want 65", c.filledTotal())
	}
}
