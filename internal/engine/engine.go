// Package engine turns "buy $X of product P around market price" into a
// venue-legal order flow: a maker-priced limit order first, then bounded
// repricing of the unfilled remainder, then a market-order fallback so
// the intended notional always gets filled or deliberately abandoned.
package engine

import (
	"context"
	"sync"
	"time"

	"cb-dca-bot/internal/journal"
	"cb-dca-bot/internal/metrics"
	"cb-dca-bot/internal/state"
	"cb-dca-bot/internal/venue"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	campaignStatusFilled    = "filled"
	campaignStatusAbandoned = "abandoned"
)

type Engine struct {
	venue   venue.Venue
	store   state.Store
	journal *journal.Writer
	metrics *metrics.Metrics
	log     *zap.Logger
	tuning  Tuning
	newKey  func() string

	ctx  context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	mu      sync.Mutex
	running map[string]context.CancelFunc
}

// New builds an engine. store and jw may be nil; metrics defaults to the
// noop set. Background campaigns run under the engine's own context, not
// the caller's: CreateOrder returns as soon as the first submission
// lands.
func New(v venue.Venue, store state.Store, m *metrics.Metrics, jw *journal.Writer, log *zap.Logger, tuning Tuning) *Engine {
	tuning.applyDefaults()
	if m == nil {
		m = metrics.NewNoop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		venue:   v,
		store:   store,
		journal: jw,
		metrics: m,
		log:     log,
		tuning:  tuning,
		newKey:  uuid.NewString,
		ctx:     ctx,
		stop:    cancel,
		running: make(map[string]context.CancelFunc),
	}
}

// CreateOrder validates the intent, prices and submits the first order,
// and hands the campaign to a background task. The synchronous result
// reflects only the initial submission; repricing and fallback are
// asynchronous and callers needing final settlement poll the venue.
func (e *Engine) CreateOrder(ctx context.Context, intent OrderIntent) OrderResult {
	if err := intent.Validate(); err != nil {
		return OrderResult{ProductID: intent.ProductID, Side: venue.SideBuy, Err: err.Error()}
	}

	// A caller-supplied idempotency key that already produced an order is
	// replayed from the store instead of resubmitted.
	if intent.ClientOrderID != "" {
		if orderID, ok := e.storedOrderID(ctx, intent.ClientOrderID); ok {
			e.log.Info("duplicate client order id, returning existing order",
				zap.String("client_order_id", intent.ClientOrderID),
				zap.String("order_id", orderID),
			)
			return OrderResult{
				Success:       true,
				OrderID:       orderID,
				ProductID:     intent.ProductID,
				Side:          venue.SideBuy,
				ClientOrderID: intent.ClientOrderID,
			}
		}
	}

	product, err := e.venue.GetProduct(ctx, intent.ProductID)
	if err != nil {
		e.log.Error("product lookup failed", zap.String("product", intent.ProductID), zap.Error(err))
		return OrderResult{ProductID: intent.ProductID, Side: venue.SideBuy, Err: err.Error()}
	}

	if intent.Kind == KindMarket {
		return e.createMarketOrder(ctx, intent, product)
	}
	return e.createLimitOrder(ctx, intent, product)
}

func (e *Engine) createMarketOrder(ctx context.Context, intent OrderIntent, product venue.ProductInfo) OrderResult {
	amount, err := ComputeMarketSizing(intent.QuoteAmount, product)
	if err != nil {
		return OrderResult{ProductID: intent.ProductID, Side: venue.SideBuy, Err: err.Error()}
	}
	res := e.submitMarket(ctx, intent.ProductID, amount, intent.ClientOrderID)
	result := e.toResult(intent.ProductID, res)
	if result.Success {
		e.rememberOrderID(ctx, intent.ClientOrderID, res.OrderID)
		// Market orders spend the whole quote size on acceptance; there is
		// no remainder to monitor.
		e.metrics.CampaignsCompleted.Inc()
	}
	return result
}

func (e *Engine) createLimitOrder(ctx context.Context, intent OrderIntent, product venue.ProductInfo) OrderResult {
	c := &campaign{
		intent:    intent,
		original:  intent.QuoteAmount,
		remaining: intent.QuoteAmount,
		deadline:  time.Now().Add(intent.Budget),
	}
	sizing, err := ComputeLimitSizing(intent, intent.QuoteAmount, product, e.log)
	if err != nil {
		return OrderResult{ProductID: intent.ProductID, Side: venue.SideBuy, Err: err.Error()}
	}
	res, sizing := e.submitLimit(ctx, c, product, sizing, c.deadline, intent.ClientOrderID)
	result := e.toResult(intent.ProductID, res)
	if !result.Success {
		return result
	}
	e.rememberOrderID(ctx, intent.ClientOrderID, res.OrderID)

	c.id = res.ClientOrderID
	c.current = OrderHandle{
		OrderID:       res.OrderID,
		ClientOrderID: res.ClientOrderID,
		ProductID:     intent.ProductID,
		Side:          venue.SideBuy,
	}
	e.log.Info("initial limit order resting",
		zap.String("campaign", c.id),
		zap.String("order_id", res.OrderID),
		zap.String("limit_price", sizing.LimitPrice.String()),
		zap.String("base_size", sizing.BaseSize.String()),
		zap.Duration("budget", intent.Budget),
	)

	switch {
	case intent.RepriceInterval > 0:
		e.launch(c, e.runReprice)
	case !intent.DisableFallback:
		e.launch(c, e.runDeferredFallback)
	default:
		e.log.Info("no repricing or fallback configured, order left to its own expiry",
			zap.String("campaign", c.id),
		)
	}
	return result
}

// runDeferredFallback is the no-repricing path: wait out the original
// order's full timeout window, then run the fallback once.
func (e *Engine) runDeferredFallback(ctx context.Context, c *campaign) {
	timer := time.NewTimer(time.Until(c.deadline))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		e.log.Info("campaign cancelled before fallback", zap.String("campaign", c.id))
		e.finishCampaign(c, campaignStatusAbandoned)
		return
	case <-timer.C:
	}
	e.runFallback(ctx, c)
}

// launch starts the campaign's single background task under the engine's
// context, with a per-campaign cancel so a runaway campaign can be
// aborted without touching its siblings.
func (e *Engine) launch(c *campaign, run func(context.Context, *campaign)) {
	ctx, cancel := context.WithCancel(e.ctx)
	e.mu.Lock()
	e.running[c.id] = cancel
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer cancel()
		defer func() {
			// A panicking campaign must not take down its siblings or the
			// scheduler.
			if r := recover(); r != nil {
				e.log.Error("campaign task panicked", zap.String("campaign", c.id), zap.Any("panic", r))
				e.forget(c.id)
			}
		}()
		run(ctx, c)
	}()
}

// CancelCampaign aborts one running campaign's background task. The
// synchronous CreateOrder result is unaffected.
func (e *Engine) CancelCampaign(id string) bool {
	e.mu.Lock()
	cancel, ok := e.running[id]
	e.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// ActiveCampaigns lists ids of campaigns with a live background task.
func (e *Engine) ActiveCampaigns() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, len(e.running))
	for id := range e.running {
		ids = append(ids, id)
	}
	return ids
}

// Close cancels all in-flight campaigns and waits for their tasks.
func (e *Engine) Close() {
	e.stop()
	e.wg.Wait()
}

func (e *Engine) finishCampaign(c *campaign, status string) {
	switch status {
	case campaignStatusFilled:
		e.metrics.CampaignsCompleted.Inc()
	default:
		e.metrics.CampaignsAbandoned.Inc()
	}
	record := state.CampaignRecord{
		ID:         c.id,
		ProductID:  c.intent.ProductID,
		Requested:  c.original.String(),
		Filled:     c.filledTotal().String(),
		Status:     status,
		Iterations: c.iterations,
		UpdatedAt:  time.Now().UnixMilli(),
	}
	// The save must survive campaign cancellation, so it does not use the
	// task context.
	if err := state.SaveCampaignRecord(context.Background(), e.store, record); err != nil {
		e.log.Warn("campaign record save failed", zap.String("campaign", c.id), zap.Error(err))
	}
	e.forget(c.id)
	e.log.Info("campaign finished",
		zap.String("campaign", c.id),
		zap.String("status", status),
		zap.String("requested", c.original.String()),
		zap.String("filled", c.filledTotal().String()),
		zap.Int("iterations", c.iterations),
	)
}

func (e *Engine) forget(id string) {
	e.mu.Lock()
	if cancel, ok := e.running[id]; ok {
		cancel()
		delete(e.running, id)
	}
	e.mu.Unlock()
}

func (e *Engine) toResult(productID string, res venue.SubmitResult) OrderResult {
	return OrderResult{
		Success:       res.Success,
		OrderID:       res.OrderID,
		ProductID:     productID,
		Side:          venue.SideBuy,
		ClientOrderID: res.ClientOrderID,
		Err:           res.ErrorMessage,
	}
}

const orderIDKeyPrefix = "cloid:"

func (e *Engine) storedOrderID(ctx context.Context, clientOrderID string) (string, bool) {
	if e.store == nil {
		return "", false
	}
	orderID, ok, err := e.store.Get(ctx, orderIDKeyPrefix+clientOrderID)
	if err != nil {
		e.log.Warn("order id lookup failed", zap.Error(err))
		return "", false
	}
	return orderID, ok
}

func (e *Engine) rememberOrderID(ctx context.Context, clientOrderID, orderID string) {
	if e.store == nil || clientOrderID == "" || orderID == "" {
		return
	}
	if err := e.store.Set(ctx, orderIDKeyPrefix+clientOrderID, orderID); err != nil {
		e.log.Warn("order id persist failed", zap.Error(err))
	}
}

func (e *Engine) journalOrder(productID string, res venue.SubmitResult, kind string, price, size, quote decimal.Decimal) {
	if e.journal == nil {
		return
	}
	e.journal.EnqueueOrder(journal.OrderEvent{
		Time:          time.Now().UTC(),
		ProductID:     productID,
		OrderID:       res.OrderID,
		ClientOrderID: res.ClientOrderID,
		Side:          string(venue.SideBuy),
		Kind:          kind,
		LimitPrice:    price.String(),
		BaseSize:      size.String(),
		QuoteSize:     quote.String(),
		Accepted:      res.Success,
		ErrorCode:     string(res.ErrorCode),
	})
}

func (e *Engine) journalFill(c *campaign, st venue.OrderState) {
	if e.journal == nil {
		return
	}
	e.journal.EnqueueFill(journal.FillEvent{
		Time:           time.Now().UTC(),
		CampaignID:     c.id,
		OrderID:        st.OrderID,
		Status:         string(st.Status),
		FilledNotional: st.Notional().String(),
		FilledSize:     st.FilledSize.String(),
		AvgFillPrice:   st.AvgFillPrice.String(),
		Remaining:      c.remaining.String(),
	})
}
