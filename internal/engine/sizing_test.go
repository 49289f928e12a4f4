package engine

import (
	"errors"
	"testing"

	"cb-dca-bot/internal/venue"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func btcProduct() venue.ProductInfo {
	return venue.ProductInfo{
		ProductID:      "BTC-USDC",
		Price:          dec("50000"),
		PriceIncrement: dec("0.01"),
		BaseIncrement:  dec("0.00000001"),
		QuoteIncrement: dec("0.01"),
		QuoteMinSize:   dec("1"),
		BaseMinSize:    dec("0.00001"),
	}
}

func TestQuantizeNeverRoundsUp(t *testing.T) {
	cases := []struct{ value, inc string }{
		{"49995.005", "0.01"},
		{"49995.00", "0.01"},
		{"0.0020002041", "0.00000001"},
		{"100.999", "0.5"},
		{"3.14159", "0.25"},
		{"7", "3"},
	}
	for _, tc := range cases {
		value, inc := dec(tc.value), dec(tc.inc)
		got := Quantize(value, inc, 2)
		if got.GreaterThan(value) {
			t.Fatalf("quantize(%s, %s) = %s rounded up", tc.value, tc.inc, got)
		}
		if !got.Mod(inc).IsZero() {
			t.Fatalf("quantize(%s, %s) = %s is not a multiple of the increment", tc.value, tc.inc, got)
		}
	}
}

func TestQuantizeDefaultPrecision(t *testing.T) {
	if got := Quantize(dec("10.129"), decimal.Zero, 2); !got.Equal(dec("10.12")) {
		t.Fatalf("expected 10.12, got %s", got)
	}
	if got := Quantize(dec("0.123456789"), decimal.Zero, 8); !got.Equal(dec("0.12345678")) {
		t.Fatalf("expected 0.12345678, got %s", got)
	}
}

func TestComputeLimitSizingPctBelowMarket(t *testing.T) {
	intent := OrderIntent{ProductID: "BTC-USDC", QuoteAmount: dec("100"), LimitPricePct: dec("0.0001")}
	sizing, err := ComputeLimitSizing(intent, dec("100"), btcProduct(), zap.NewNop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !sizing.LimitPrice.Equal(dec("49995")) {
		t.Fatalf("expected limit price 49995, got %s", sizing.LimitPrice)
	}
	if !sizing.BaseSize.Equal(dec("0.00200020")) {
		t.Fatalf("expected base size 0.00200020, got %s", sizing.BaseSize)
	}
	if sizing.Notional.LessThan(btcProduct().QuoteMinSize) {
		t.Fatalf("expected notional >= quote min, got %s", sizing.Notional)
	}
	if sizing.Notional.GreaterThan(dec("100")) {
		t.Fatalf("sizing overspends the budget: %s", sizing.Notional)
	}
}

func TestComputeLimitSizingAbsolutePrice(t *testing.T) {
	intent := OrderIntent{ProductID: "BTC-USDC", LimitPrice: dec("48000.005")}
	sizing, err := ComputeLimitSizing(intent, dec("96"), btcProduct(), zap.NewNop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !sizing.LimitPrice.Equal(dec("48000")) {
		t.Fatalf("expected quantized price 48000, got %s", sizing.LimitPrice)
	}
}

func TestComputeLimitSizingHighAbsolutePriceIsWarnedNotRejected(t *testing.T) {
	intent := OrderIntent{ProductID: "BTC-USDC", LimitPrice: dec("60000")}
	if _, err := ComputeLimitSizing(intent, dec("100"), btcProduct(), zap.NewNop()); err != nil {
		t.Fatalf("expected high absolute price to pass with a warning, got %v", err)
	}
}

func TestComputeLimitSizingBelowBaseMinimum(t *testing.T) {
	p := btcProduct()
	p.BaseMinSize = dec("0.01")
	intent := OrderIntent{ProductID: "BTC-USDC", LimitPricePct: dec("0.001")}
	_, err := ComputeLimitSizing(intent, dec("100"), p, zap.NewNop())
	if !errors.Is(err, ErrBelowMinimum) {
		t.Fatalf("expected ErrBelowMinimum, got %v", err)
	}
}

func TestComputeLimitSizingLotTruncationBelowNotionalMinimum(t *testing.T) {
	p := btcProduct()
	// A coarse lot size truncates 70 down to a 50 notional, under the min.
	p.BaseIncrement = dec("0.001")
	p.QuoteMinSize = dec("60")
	intent := OrderIntent{ProductID: "BTC-USDC", LimitPricePct: dec("0")}
	_, err := ComputeLimitSizing(intent, dec("70"), p, zap.NewNop())
	if !errors.Is(err, ErrBelowMinimum) {
		t.Fatalf("expected ErrBelowMinimum after lot truncation, got %v", err)
	}
}

func TestComputeLimitSizingRejectsNonPositivePrice(t *testing.T) {
	p := btcProduct()
	p.Price = decimal.Zero
	intent := OrderIntent{ProductID: "BTC-USDC", LimitPricePct: dec("0.001")}
	if _, err := ComputeLimitSizing(intent, dec("100"), p, zap.NewNop()); err == nil {
		t.Fatalf("expected error for non-positive market price")
	}
}

func TestComputeMarketSizing(t *testing.T) {
	got, err := ComputeMarketSizing(dec("25.019"), btcProduct())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Equal(dec("25.01")) {
		t.Fatalf("expected 25.01, got %s", got)
	}
	if _, err := ComputeMarketSizing(dec("0.509"), btcProduct()); !errors.Is(err, ErrBelowMinimum) {
		t.Fatalf("expected ErrBelowMinimum, got %v", err)
	}
}
