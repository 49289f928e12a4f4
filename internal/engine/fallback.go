package engine

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// runFallback is the campaign's last act: settle whatever limit order is
// still out, recompute the remainder one final time, and buy it at
// market. A remainder at or below zero, or too small to trade after
// quantization, is accepted as dust rather than retried forever.
func (e *Engine) runFallback(ctx context.Context, c *campaign) {
	log := e.log.With(zap.String("campaign", c.id), zap.String("product", c.intent.ProductID))

	if c.current.OrderID != "" {
		e.settleOrder(ctx, c)
	}
	if c.remaining.LessThanOrEqual(e.tuning.DustNotional) {
		log.Info("nothing left to place at fallback", zap.String("filled", c.filledTotal().String()))
		e.finishCampaign(c, campaignStatusFilled)
		return
	}

	product, err := e.venue.GetProduct(ctx, c.intent.ProductID)
	if err != nil {
		log.Error("fallback aborted: product refresh failed", zap.Error(err))
		e.finishCampaign(c, campaignStatusAbandoned)
		return
	}
	amount, err := ComputeMarketSizing(c.remaining, product)
	if err != nil {
		if errors.Is(err, ErrBelowMinimum) {
			log.Info("remainder below minimum notional, accepting partial fill",
				zap.String("remaining", c.remaining.String()),
			)
		} else {
			log.Warn("fallback sizing failed", zap.Error(err))
		}
		e.finishCampaign(c, campaignStatusAbandoned)
		return
	}

	res := e.submitMarket(ctx, c.intent.ProductID, amount, "")
	if !res.Success {
		log.Error("fallback market order rejected",
			zap.String("error_code", string(res.ErrorCode)),
			zap.String("error", res.ErrorMessage),
		)
		e.finishCampaign(c, campaignStatusAbandoned)
		return
	}
	e.metrics.FallbackOrders.Inc()
	log.Info("fallback market order placed",
		zap.String("order_id", res.OrderID),
		zap.String("quote_size", amount.String()),
	)
	// Market buys by quote size consume the full amount on acceptance.
	c.recordFill(res.OrderID, amount)
	e.finishCampaign(c, campaignStatusFilled)
}
