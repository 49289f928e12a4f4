package market

import (
	"testing"
	"time"

	"cb-dca-bot/internal/venue/coinbase"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func TestWatchTracksLastPrice(t *testing.T) {
	w := NewWatch(nil, zap.NewNop())

	if _, _, ok := w.LastPrice("BTC-USDC"); ok {
		t.Fatal("expected no observation before any tick")
	}

	first := time.Now().Add(-time.Second)
	w.Observe(coinbase.Tick{ProductID: "BTC-USDC", Price: decimal.RequireFromString("50000"), Time: first})
	w.Observe(coinbase.Tick{ProductID: "BTC-USDC", Price: decimal.RequireFromString("50100.50"), Time: time.Now()})
	w.Observe(coinbase.Tick{ProductID: "ETH-USDC", Price: decimal.RequireFromString("3000"), Time: time.Now()})

	price, at, ok := w.LastPrice("BTC-USDC")
	if !ok {
		t.Fatal("expected observation")
	}
	if !price.Equal(decimal.RequireFromString("50100.50")) {
		t.Fatalf("price = %s", price)
	}
	if at.Before(first) {
		t.Fatalf("timestamp not updated: %v", at)
	}

	price, _, ok = w.LastPrice("ETH-USDC")
	if !ok || !price.Equal(decimal.RequireFromString("3000")) {
		t.Fatalf("ETH price = %s ok=%v", price, ok)
	}
}
