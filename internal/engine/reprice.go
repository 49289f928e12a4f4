package engine

import (
	"context"
	"errors"
	"time"

	"cb-dca-bot/internal/venue"

	"go.uber.org/zap"
)

// runReprice drives one campaign through cancel/reprice/resubmit cycles
// until the remaining notional is gone, the budget deadline passes, or
// the iteration cap trips. Control then passes to the fallback worker
// unless the intent disabled it, in which case any unfilled remainder is
// left unplaced.
//
// The loop runs in the campaign's own goroutine and owns the campaign
// state exclusively. Venue calls within it are strictly sequential; a
// resubmission is never sized from a fill that could still change.
func (e *Engine) runReprice(ctx context.Context, c *campaign) {
	log := e.log.With(zap.String("campaign", c.id), zap.String("product", c.intent.ProductID))

	// Give the fresh post-only order a real chance to fill before the
	// first cancel.
	rest := c.intent.RepriceInterval
	if rest < e.tuning.MinFirstRest {
		rest = e.tuning.MinFirstRest
	}
	if !e.sleep(ctx, rest, c.deadline) {
		e.finishWithFallback(ctx, c, log)
		return
	}

	for {
		if c.iterations >= e.tuning.MaxIterations {
			log.Warn("reprice iteration cap reached", zap.Int("iterations", c.iterations))
			break
		}
		if !time.Now().Before(c.deadline) || ctx.Err() != nil {
			break
		}
		c.iterations++

		state := e.settleOrder(ctx, c)
		log.Info("reprice cycle",
			zap.Int("iteration", c.iterations),
			zap.String("last_status", string(state.Status)),
			zap.String("filled_total", c.filledTotal().String()),
			zap.String("remaining", c.remaining.String()),
		)
		if c.remaining.LessThanOrEqual(e.tuning.DustNotional) {
			log.Info("campaign filled during repricing", zap.String("filled", c.filledTotal().String()))
			e.finishCampaign(c, campaignStatusFilled)
			return
		}
		e.metrics.RepriceCycles.Inc()

		product, err := e.venue.GetProduct(ctx, c.intent.ProductID)
		if err != nil {
			// Stale metadata would misprice the order; skip the cycle and
			// let the next one retry with a fresh read.
			log.Warn("product refresh failed, skipping cycle", zap.Error(err))
			if !e.sleep(ctx, c.intent.RepriceInterval, c.deadline) {
				break
			}
			continue
		}
		sizing, err := ComputeLimitSizing(c.intent, c.remaining, product, log)
		if err != nil {
			if errors.Is(err, ErrBelowMinimum) {
				// The remainder is too small to reprice but may still be
				// worth one final market order.
				log.Info("remaining notional below venue minimum, leaving repricing", zap.Error(err))
			} else {
				log.Warn("sizing failed, leaving repricing", zap.Error(err))
			}
			break
		}

		expiry := time.Now().Add(e.resubmitWindow(c))
		res, sizing := e.submitLimit(ctx, c, product, sizing, expiry, "")
		if !res.Success {
			log.Warn("reprice resubmission rejected",
				zap.String("error_code", string(res.ErrorCode)),
				zap.String("error", res.ErrorMessage),
			)
			if !e.sleep(ctx, c.intent.RepriceInterval, c.deadline) {
				break
			}
			continue
		}
		c.current = OrderHandle{
			OrderID:       res.OrderID,
			ClientOrderID: res.ClientOrderID,
			ProductID:     c.intent.ProductID,
			Side:          venue.SideBuy,
		}
		log.Info("repriced order resting",
			zap.String("order_id", res.OrderID),
			zap.String("limit_price", sizing.LimitPrice.String()),
			zap.String("base_size", sizing.BaseSize.String()),
		)
		if !e.sleep(ctx, c.intent.RepriceInterval, c.deadline) {
			break
		}
	}
	e.finishWithFallback(ctx, c, log)
}

// resubmitWindow caps a repriced order's GTD expiry at whichever is
// smaller: the reprice interval or the time left in the budget.
func (e *Engine) resubmitWindow(c *campaign) time.Duration {
	window := c.intent.RepriceInterval
	if left := time.Until(c.deadline); left < window {
		window = left
	}
	if window < time.Second {
		window = time.Second
	}
	return window
}

// sleep waits for d, clipped to the campaign deadline. It returns false
// when the deadline passed or the campaign was cancelled.
func (e *Engine) sleep(ctx context.Context, d time.Duration, deadline time.Time) bool {
	left := time.Until(deadline)
	if left <= 0 {
		return false
	}
	if d > left {
		d = left
	}
	if d <= 0 {
		return false
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return time.Now().Before(deadline)
	}
}

func (e *Engine) finishWithFallback(ctx context.Context, c *campaign, log *zap.Logger) {
	if c.intent.DisableFallback {
		log.Info("fallback disabled, leaving remainder unplaced",
			zap.String("remaining", c.remaining.String()),
		)
		e.finishCampaign(c, campaignStatusAbandoned)
		return
	}
	e.runFallback(ctx, c)
}
