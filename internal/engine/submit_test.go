package engine

import (
	"context"
	"testing"
	"time"

	"cb-dca-bot/internal/venue"
)

func testSizing() Sizing {
	return Sizing{
		LimitPrice: dec("49995"),
		BaseSize:   dec("0.002"),
		Notional:   dec("99.99"),
	}
}

func postOnlyCampaign() *campaign {
	return &campaign{
		intent: OrderIntent{ProductID: "BTC-USDC", PostOnly: true},
	}
}

func TestSubmitLimitUsesCallerKeyOnFirstAttempt(t *testing.T) {
	mv := &mockVenue{
		product:      btcProduct(),
		limitResults: []venue.SubmitResult{{Success: true, OrderID: "o1"}},
	}
	e := newTestEngine(mv)

	res, _ := e.submitLimit(context.Background(), postOnlyCampaign(), btcProduct(), testSizing(), time.Now().Add(time.Hour), "caller-key")
	if !res.Success {
		t.Fatalf("submit failed: %s", res.ErrorMessage)
	}
	reqs := mv.limitRequests()
	if len(reqs) != 1 {
		t.Fatalf("expected 1 submission, got %d", len(reqs))
	}
	if reqs[0].ClientOrderID != "caller-key" {
		t.Fatalf("first attempt key = %q, want caller-key", reqs[0].ClientOrderID)
	}
	if res.ClientOrderID != "caller-key" {
		t.Fatalf("result key = %q", res.ClientOrderID)
	}
}

func TestSubmitLimitGTDRetriesOnceAsGTC(t *testing.T) {
	mv := &mockVenue{
		product: btcProduct(),
		limitResults: []venue.SubmitResult{
			{Success: false, ErrorCode: venue.CodeUnknown, ErrorMessage: "gtd not supported"},
			{Success: true, OrderID: "o2"},
		},
	}
	e := newTestEngine(mv)

	res, _ := e.submitLimit(context.Background(), postOnlyCampaign(), btcProduct(), testSizing(), time.Now().Add(time.Hour), "")
	if !res.Success || res.OrderID != "o2" {
		t.Fatalf("expected GTC retry to succeed, got %+v", res)
	}
	reqs := mv.limitRequests()
	if len(reqs) != 2 {
		t.Fatalf("expected 2 submissions, got %d", len(reqs))
	}
	if reqs[0].EndTime.IsZero() {
		t.Fatal("first attempt should carry a GTD expiry")
	}
	if !reqs[1].EndTime.IsZero() {
		t.Fatal("retry should be GTC")
	}
	if reqs[1].ClientOrderID == reqs[0].ClientOrderID {
		t.Fatal("retry reused the idempotency key")
	}
	if !reqs[1].LimitPrice.Equal(reqs[0].LimitPrice) {
		t.Fatal("GTC retry must not change the price")
	}
}

func TestSubmitLimitGTCFailureIsTerminal(t *testing.T) {
	mv := &mockVenue{
		product: btcProduct(),
		limitResults: []venue.SubmitResult{
			{Success: false, ErrorCode: venue.CodeInsufficientFunds, ErrorMessage: "insufficient funds"},
		},
	}
	e := newTestEngine(mv)

	// Zero expiry means GTC: no durability retry applies.
	res, _ := e.submitLimit(context.Background(), postOnlyCampaign(), btcProduct(), testSizing(), time.Time{}, "")
	if res.Success {
		t.Fatal("expected failure")
	}
	if got := len(mv.limitRequests()); got != 1 {
		t.Fatalf("expected no retry, got %d submissions", got)
	}
	if res.ErrorCode != venue.CodeInsufficientFunds {
		t.Fatalf("error code = %q", res.ErrorCode)
	}
}

func TestSubmitLimitPostOnlyNudgesOneTick(t *testing.T) {
	mv := &mockVenue{
		product: btcProduct(),
		limitResults: []venue.SubmitResult{
			{Success: false, ErrorCode: venue.CodePostOnlyWouldCross, ErrorMessage: "would cross"},
			{Success: true, OrderID: "o2"},
		},
	}
	e := newTestEngine(mv)

	res, s := e.submitLimit(context.Background(), postOnlyCampaign(), btcProduct(), testSizing(), time.Now().Add(time.Hour), "")
	if !res.Success {
		t.Fatalf("nudged submission failed: %s", res.ErrorMessage)
	}
	reqs := mv.limitRequests()
	if len(reqs) != 2 {
		t.Fatalf("expected 2 submissions, got %d", len(reqs))
	}
	want := dec("49994.99")
	if !reqs[1].LimitPrice.Equal(want) {
		t.Fatalf("nudged price = %s, want %s", reqs[1].LimitPrice, want)
	}
	if !reqs[1].BaseSize.Equal(reqs[0].BaseSize) {
		t.Fatal("nudge must not change the base size")
	}
	if reqs[1].ClientOrderID == reqs[0].ClientOrderID {
		t.Fatal("nudge reused the idempotency key")
	}
	if !s.LimitPrice.Equal(want) {
		t.Fatalf("returned sizing price = %s, want %s", s.LimitPrice, want)
	}
}

func TestSubmitLimitPostOnlyRetriesOnlyOnce(t *testing.T) {
	mv := &mockVenue{
		product: btcProduct(),
		limitResults: []venue.SubmitResult{
			{Success: false, ErrorCode: venue.CodePostOnlyWouldCross, ErrorMessage: "would cross"},
		},
	}
	e := newTestEngine(mv)

	res, _ := e.submitLimit(context.Background(), postOnlyCampaign(), btcProduct(), testSizing(), time.Now().Add(time.Hour), "")
	if res.Success {
		t.Fatal("expected terminal failure after second rejection")
	}
	if res.ErrorCode != venue.CodePostOnlyWouldCross {
		t.Fatalf("error code = %q", res.ErrorCode)
	}
	if got := len(mv.limitRequests()); got != 2 {
		t.Fatalf("expected exactly 2 submissions, got %d", got)
	}
}

func TestSubmitLimitGTCRetryThenNudge(t *testing.T) {
	mv := &mockVenue{
		product: btcProduct(),
		limitResults: []venue.SubmitResult{
			{Success: false, ErrorCode: venue.CodeUnknown, ErrorMessage: "gtd rejected"},
			{Success: false, ErrorCode: venue.CodePostOnlyWouldCross, ErrorMessage: "would cross"},
			{Success: true, OrderID: "o3"},
		},
	}
	e := newTestEngine(mv)

	res, _ := e.submitLimit(context.Background(), postOnlyCampaign(), btcProduct(), testSizing(), time.Now().Add(time.Hour), "")
	if !res.Success || res.OrderID != "o3" {
		t.Fatalf("expected third attempt to land, got %+v", res)
	}
	reqs := mv.limitRequests()
	if len(reqs) != 3 {
		t.Fatalf("expected 3 submissions, got %d", len(reqs))
	}
	seen := map[string]bool{}
	for _, r := range reqs {
		if seen[r.ClientOrderID] {
			t.Fatalf("idempotency key %q reused", r.ClientOrderID)
		}
		seen[r.ClientOrderID] = true
	}
}

func TestSubmitLimitTransportError(t *testing.T) {
	mv := &mockVenue{product: btcProduct(), limitErr: context.DeadlineExceeded}
	e := newTestEngine(mv)

	res, _ := e.submitLimit(context.Background(), postOnlyCampaign(), btcProduct(), testSizing(), time.Time{}, "")
	if res.Success {
		t.Fatal("expected failure")
	}
	if res.ErrorCode != venue.CodeUnknown {
		t.Fatalf("error code = %q", res.ErrorCode)
	}
	if res.ClientOrderID == "" {
		t.Fatal("result should carry the attempted idempotency key")
	}
}

func TestSubmitMarket(t *testing.T) {
	mv := &mockVenue{
		product:       btcProduct(),
		marketResults: []venue.SubmitResult{{Success: true, OrderID: "m1"}},
	}
	e := newTestEngine(mv)

	res := e.submitMarket(context.Background(), "BTC-USDC", dec("25.50"), "")
	if !res.Success || res.OrderID != "m1" {
		t.Fatalf("unexpected result %+v", res)
	}
	reqs := mv.marketRequests()
	if len(reqs) != 1 {
		t.Fatalf("expected 1 market order, got %d", len(reqs))
	}
	if !reqs[0].QuoteSize.Equal(dec("25.50")) {
		t.Fatalf("quote size = %s", reqs[0].QuoteSize)
	}
	if reqs[0].Side != venue.SideBuy {
		t.Fatalf("side = %s", reqs[0].Side)
	}
}
