package engine

import (
	"fmt"

	"cb-dca-bot/internal/venue"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Default precisions when the venue reports no increment.
const (
	defaultQuotePrecision = 2
	defaultBasePrecision  = 8
)

// The absolute-limit-price sanity bound: a buy limit more than 5% above
// market is warned about, not rejected.
var highLimitFactor = decimal.RequireFromString("1.05")

// Quantize truncates value toward zero to a multiple of inc. It never
// rounds up: overspending the budget or exceeding a limit price by an
// epsilon is worse than leaving dust behind. With no increment it
// truncates to fallbackPrecision decimal places.
func Quantize(value, inc decimal.Decimal, fallbackPrecision int32) decimal.Decimal {
	if !inc.IsPositive() {
		return value.Truncate(fallbackPrecision)
	}
	// Mod is exact; Div would round at a fixed precision and can tip a
	// quotient over the next increment.
	return value.Sub(value.Mod(inc))
}

func QuantizePrice(price decimal.Decimal, p venue.ProductInfo) decimal.Decimal {
	return Quantize(price, p.PriceIncrement, defaultQuotePrecision)
}

func QuantizeBase(size decimal.Decimal, p venue.ProductInfo) decimal.Decimal {
	return Quantize(size, p.BaseIncrement, defaultBasePrecision)
}

func QuantizeQuote(amount decimal.Decimal, p venue.ProductInfo) decimal.Decimal {
	return Quantize(amount, p.QuoteIncrement, defaultQuotePrecision)
}

// Sizing is one computed, venue-legal limit order: price and size both
// quantized down, with the notional they imply.
type Sizing struct {
	LimitPrice decimal.Decimal
	BaseSize   decimal.Decimal
	Notional   decimal.Decimal
}

// ComputeLimitSizing turns a quote notional into a quantized limit price
// and base size for product p. The price comes from the intent's absolute
// price when set, otherwise from the market price discounted by the
// intent's percentage. Returns ErrBelowMinimum when the quantized size or
// the notional it implies falls under the venue minimums; lot truncation
// can push an otherwise fine amount under the floor, so the notional is
// re-checked after quantization.
func ComputeLimitSizing(intent OrderIntent, notional decimal.Decimal, p venue.ProductInfo, log *zap.Logger) (Sizing, error) {
	if !p.Price.IsPositive() {
		return Sizing{}, fmt.Errorf("product %s has non-positive price %s", p.ProductID, p.Price)
	}
	var price decimal.Decimal
	if intent.LimitPrice.IsPositive() {
		price = intent.LimitPrice
		if price.GreaterThan(p.Price.Mul(highLimitFactor)) && log != nil {
			log.Warn("absolute limit price is more than 5% above market",
				zap.String("product", p.ProductID),
				zap.String("limit_price", price.String()),
				zap.String("market_price", p.Price.String()),
			)
		}
	} else {
		price = p.Price.Mul(decimal.NewFromInt(1).Sub(intent.LimitPricePct))
	}
	price = QuantizePrice(price, p)
	if !price.IsPositive() {
		return Sizing{}, fmt.Errorf("quantized limit price %s is not positive", price)
	}

	size := QuantizeBase(notional.Div(price), p)
	if size.LessThan(p.BaseMinSize) || !size.IsPositive() {
		return Sizing{}, fmt.Errorf("%w: base size %s < min %s for %s",
			ErrBelowMinimum, size, p.BaseMinSize, p.ProductID)
	}
	implied := size.Mul(price)
	if implied.LessThan(p.QuoteMinSize) {
		return Sizing{}, fmt.Errorf("%w: notional %s < min %s for %s",
			ErrBelowMinimum, implied, p.QuoteMinSize, p.ProductID)
	}
	return Sizing{LimitPrice: price, BaseSize: size, Notional: implied}, nil
}

// ComputeMarketSizing quantizes a quote amount for a market buy. Returns
// ErrBelowMinimum when the quantized amount is under the venue's minimum
// notional.
func ComputeMarketSizing(notional decimal.Decimal, p venue.ProductInfo) (decimal.Decimal, error) {
	amount := QuantizeQuote(notional, p)
	if !amount.IsPositive() || amount.LessThan(p.QuoteMinSize) {
		return decimal.Zero, fmt.Errorf("%w: quote amount %s < min %s for %s",
			ErrBelowMinimum, amount, p.QuoteMinSize, p.ProductID)
	}
	return amount, nil
}
