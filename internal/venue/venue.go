// Package venue defines the capability set the execution engine consumes
// from a trading venue, plus the canonical value types every venue
// implementation must normalize its wire responses into. Nothing outside a
// venue implementation ever branches on a response shape.
package venue

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Status is a canonical order status. Any venue value outside this set is
// mapped to StatusUnknown and treated as pending.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusOpen      Status = "OPEN"
	StatusQueued    Status = "QUEUED"
	StatusFilled    Status = "FILLED"
	StatusCancelled Status = "CANCELLED"
	StatusExpired   Status = "EXPIRED"
	StatusFailed    Status = "FAILED"
	StatusRejected  Status = "REJECTED"
	StatusUnknown   Status = "UNKNOWN"
)

// Terminal reports whether no further state changes are expected for an
// order in this status. A cancel that has not settled yet is not terminal.
func (s Status) Terminal() bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusExpired, StatusFailed, StatusRejected:
		return true
	}
	return false
}

// ErrorCode classifies a rejected submission. Venue implementations map
// their error strings into these; CodePostOnlyWouldCross is the one the
// submitter retries on.
type ErrorCode string

const (
	CodeNone               ErrorCode = ""
	CodePostOnlyWouldCross ErrorCode = "POST_ONLY_WOULD_CROSS"
	CodeInsufficientFunds  ErrorCode = "INSUFFICIENT_FUNDS"
	CodeUnknown            ErrorCode = "UNKNOWN"
)

// ProductInfo is a point-in-time snapshot of venue metadata for a pair.
// It is refreshed on every read and never cached: the price moves.
type ProductInfo struct {
	ProductID      string
	Price          decimal.Decimal
	PriceIncrement decimal.Decimal
	BaseIncrement  decimal.Decimal
	QuoteIncrement decimal.Decimal
	QuoteMinSize   decimal.Decimal
	BaseMinSize    decimal.Decimal
}

// OrderState is a point-in-time read of an order's progress.
type OrderState struct {
	OrderID        string
	Status         Status
	FilledNotional decimal.Decimal
	FilledSize     decimal.Decimal
	AvgFillPrice   decimal.Decimal
}

// Notional returns the filled quote value, deriving size × average price
// when the venue omitted the filled notional field.
func (s OrderState) Notional() decimal.Decimal {
	if !s.FilledNotional.IsZero() {
		return s.FilledNotional
	}
	if s.FilledSize.IsPositive() && s.AvgFillPrice.IsPositive() {
		return s.FilledSize.Mul(s.AvgFillPrice)
	}
	return decimal.Zero
}

type LimitOrderRequest struct {
	ClientOrderID string
	ProductID     string
	Side          Side
	BaseSize      decimal.Decimal
	LimitPrice    decimal.Decimal
	// EndTime is the GTD expiry; zero means GTC.
	EndTime  time.Time
	PostOnly bool
}

type MarketOrderRequest struct {
	ClientOrderID string
	ProductID     string
	Side          Side
	QuoteSize     decimal.Decimal
}

type SubmitResult struct {
	Success       bool
	OrderID       string
	ClientOrderID string
	ErrorCode     ErrorCode
	ErrorMessage  string
}

type Balance struct {
	Currency  string
	Available decimal.Decimal
}

// Venue is the external trading venue. Implementations must be safe for
// concurrent use; the engine runs one goroutine per campaign against a
// single shared client.
type Venue interface {
	GetProduct(ctx context.Context, productID string) (ProductInfo, error)
	SubmitLimitOrder(ctx context.Context, req LimitOrderRequest) (SubmitResult, error)
	SubmitMarketOrder(ctx context.Context, req MarketOrderRequest) (SubmitResult, error)
	CancelOrder(ctx context.Context, orderID string) error
	GetOrder(ctx context.Context, orderID string) (OrderState, error)
	ListBalances(ctx context.Context) ([]Balance, error)
}
