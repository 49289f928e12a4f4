// Package market keeps an operational view of last trade prices from the
// ticker stream. It feeds dashboards and logs only; order sizing always
// uses a fresh REST product read.
package market

import (
	"context"
	"sync"
	"time"

	"cb-dca-bot/internal/metrics"
	"cb-dca-bot/internal/venue/coinbase"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type observation struct {
	price decimal.Decimal
	time  time.Time
}

// Watch caches the latest ticker price per product and mirrors it into
// the last-price gauge.
type Watch struct {
	metrics *metrics.Metrics
	log     *zap.Logger

	mu   sync.RWMutex
	last map[string]observation
}

func NewWatch(m *metrics.Metrics, log *zap.Logger) *Watch {
	if m == nil {
		m = metrics.NewNoop()
	}
	return &Watch{
		metrics: m,
		log:     log,
		last:    make(map[string]observation),
	}
}

// Run consumes the stream until ctx is done.
func (w *Watch) Run(ctx context.Context, stream *coinbase.TickerStream) error {
	return stream.Run(ctx, w.Observe)
}

func (w *Watch) Observe(tick coinbase.Tick) {
	w.mu.Lock()
	w.last[tick.ProductID] = observation{price: tick.Price, time: tick.Time}
	w.mu.Unlock()
	price, _ := tick.Price.Float64()
	w.metrics.LastPrice.Set(price)
	w.log.Debug("ticker update",
		zap.String("product", tick.ProductID),
		zap.String("price", tick.Price.String()),
	)
}

// LastPrice returns the most recent observation for a product and its
// age; ok is false when no tick has arrived yet.
func (w *Watch) LastPrice(productID string) (decimal.Decimal, time.Time, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	obs, ok := w.last[productID]
	return obs.price, obs.time, ok
}
