package engine

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"cb-dca-bot/internal/venue"

	"github.com/shopspring/decimal"
)

type OrderKind string

const (
	KindMarket OrderKind = "market"
	KindLimit  OrderKind = "limit"
)

// OrderIntent is one campaign's request: spend QuoteAmount of the quote
// currency on ProductID, maker-priced when possible. Immutable after
// Validate.
type OrderIntent struct {
	ProductID   string
	QuoteAmount decimal.Decimal
	Kind        OrderKind

	// ClientOrderID, when set, is used for the campaign's very first
	// submission only. Every later submission gets a fresh key.
	ClientOrderID string

	// LimitPricePct discounts the market price: limit = price × (1 − pct).
	// LimitPrice, when positive, overrides the percentage with an absolute
	// price.
	LimitPricePct decimal.Decimal
	LimitPrice    decimal.Decimal
	PostOnly      bool

	// Budget is the campaign's overall wall-clock window. After it elapses
	// the remainder goes to market unless DisableFallback is set.
	Budget          time.Duration
	RepriceInterval time.Duration
	DisableFallback bool
}

var (
	ErrInvalidIntent = errors.New("invalid order intent")
	ErrBelowMinimum  = errors.New("below venue minimum")
)

const defaultBudget = 24 * time.Hour

func (in *OrderIntent) Validate() error {
	if strings.TrimSpace(in.ProductID) == "" {
		return fmt.Errorf("%w: product id is required", ErrInvalidIntent)
	}
	if !in.QuoteAmount.IsPositive() {
		return fmt.Errorf("%w: quote amount must be > 0", ErrInvalidIntent)
	}
	switch in.Kind {
	case KindMarket, KindLimit:
	case "":
		in.Kind = KindLimit
	default:
		return fmt.Errorf("%w: unknown order kind %q", ErrInvalidIntent, in.Kind)
	}
	if in.LimitPricePct.IsNegative() || in.LimitPricePct.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("%w: limit price pct must be in [0, 1)", ErrInvalidIntent)
	}
	if in.LimitPrice.IsNegative() {
		return fmt.Errorf("%w: limit price must be >= 0", ErrInvalidIntent)
	}
	if in.Budget < 0 || in.RepriceInterval < 0 {
		return fmt.Errorf("%w: budget and reprice interval must be >= 0", ErrInvalidIntent)
	}
	if in.Budget == 0 {
		in.Budget = defaultBudget
	}
	return nil
}

// OrderResult reflects the initial submission only. Repricing and fallback
// run asynchronously; callers needing final settlement poll the venue.
type OrderResult struct {
	Success       bool
	OrderID       string
	ProductID     string
	Side          venue.Side
	ClientOrderID string
	Err           string
}

// OrderHandle identifies one submitted order. A reprice cycle supersedes
// the handle with a new one, it never mutates it.
type OrderHandle struct {
	OrderID       string
	ClientOrderID string
	ProductID     string
	Side          venue.Side
}

// Tuning collects the engine-wide wait windows and safety caps so tests
// can shrink them instead of fighting hidden globals.
type Tuning struct {
	// TerminalPollInterval and TerminalWaitCap bound the settle wait after
	// a cancel request.
	TerminalPollInterval time.Duration
	TerminalWaitCap      time.Duration

	// MinFirstRest is the floor on the initial passive rest, so a fresh
	// post-only order gets a real chance to fill before the first cancel.
	MinFirstRest time.Duration

	// MaxIterations caps reprice cycles against clock or API anomalies.
	MaxIterations int

	// DustNotional is the remainder below which a campaign counts as done.
	DustNotional decimal.Decimal
}

func DefaultTuning() Tuning {
	return Tuning{
		TerminalPollInterval: 500 * time.Millisecond,
		TerminalWaitCap:      12 * time.Second,
		MinFirstRest:         30 * time.Second,
		MaxIterations:        100,
		DustNotional:         decimal.RequireFromString("0.01"),
	}
}

func (t *Tuning) applyDefaults() {
	def := DefaultTuning()
	if t.TerminalPollInterval <= 0 {
		t.TerminalPollInterval = def.TerminalPollInterval
	}
	if t.TerminalWaitCap <= 0 {
		t.TerminalWaitCap = def.TerminalWaitCap
	}
	if t.MinFirstRest < 0 {
		t.MinFirstRest = def.MinFirstRest
	}
	if t.MaxIterations <= 0 {
		t.MaxIterations = def.MaxIterations
	}
	if t.DustNotional.IsZero() {
		t.DustNotional = def.DustNotional
	}
}

// campaign is the mutable execution context for one CreateOrder call.
// It is owned exclusively by the goroutine driving it.
type campaign struct {
	id       string
	intent   OrderIntent
	original decimal.Decimal
	// remaining is recomputed from authoritative venue reads at each
	// terminal observation, never accumulated from local bookkeeping.
	remaining decimal.Decimal
	current   OrderHandle
	// filled maps order id to the last authoritative filled notional seen
	// for that order, so partial fills across superseded handles sum up.
	filled     map[string]decimal.Decimal
	deadline   time.Time
	iterations int
}

func (c *campaign) recordFill(orderID string, notional decimal.Decimal) {
	if orderID == "" {
		return
	}
	if c.filled == nil {
		c.filled = make(map[string]decimal.Decimal)
	}
	prev := c.filled[orderID]
	if notional.LessThan(prev) {
		// A venue read can lag a previous one; never let the total shrink.
		return
	}
	c.filled[orderID] = notional
	c.remaining = c.original.Sub(c.filledTotal())
}

func (c *campaign) filledTotal() decimal.Decimal {
	total := decimal.Zero
	for _, n := range c.filled {
		total = total.Add(n)
	}
	return total
}
