package engine

import (
	"context"
	"time"

	"cb-dca-bot/internal/venue"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// submitLimit places one limit buy, with the two documented single
// retries: a GTD order the venue rejects is resubmitted once as GTC, and
// a post-only order rejected for crossing the spread is resubmitted once
// at one tick lower. Every attempt after the first uses a fresh
// idempotency key; the venue dedupes by key and reusing one would
// silently no-op the resubmission.
func (e *Engine) submitLimit(ctx context.Context, c *campaign, p venue.ProductInfo, s Sizing, expiry time.Time, clientOrderID string) (venue.SubmitResult, Sizing) {
	if clientOrderID == "" {
		clientOrderID = e.newKey()
	}
	req := venue.LimitOrderRequest{
		ClientOrderID: clientOrderID,
		ProductID:     p.ProductID,
		Side:          venue.SideBuy,
		BaseSize:      s.BaseSize,
		LimitPrice:    s.LimitPrice,
		EndTime:       expiry,
		PostOnly:      c.intent.PostOnly,
	}
	res := e.place(ctx, req)
	if res.Success {
		return res, s
	}

	if res.ErrorCode == venue.CodePostOnlyWouldCross {
		return e.nudgeAndResubmit(ctx, req, p, s)
	}

	if !req.EndTime.IsZero() {
		// GTD placement can fail for venue-side reasons unrelated to the
		// order itself; one GTC attempt keeps the campaign moving.
		e.log.Warn("GTD order rejected, retrying as GTC",
			zap.String("product", p.ProductID),
			zap.String("error", res.ErrorMessage),
		)
		req.ClientOrderID = e.newKey()
		req.EndTime = time.Time{}
		res = e.place(ctx, req)
		if res.Success {
			return res, s
		}
		if res.ErrorCode == venue.CodePostOnlyWouldCross {
			return e.nudgeAndResubmit(ctx, req, p, s)
		}
	}
	return res, s
}

// nudgeAndResubmit drops the limit price by exactly one increment and
// tries once more. The common cause is the market moving a single tick
// between the price lookup and the submission; a second rejection is
// surfaced as a normal failure.
func (e *Engine) nudgeAndResubmit(ctx context.Context, req venue.LimitOrderRequest, p venue.ProductInfo, s Sizing) (venue.SubmitResult, Sizing) {
	tick := p.PriceIncrement
	if !tick.IsPositive() {
		tick = decimal.New(1, -defaultQuotePrecision)
	}
	nudged := s.LimitPrice.Sub(tick)
	if !nudged.IsPositive() {
		return venue.SubmitResult{
			Success:       false,
			ClientOrderID: req.ClientOrderID,
			ErrorCode:     venue.CodePostOnlyWouldCross,
			ErrorMessage:  "post-only rejected and price cannot be nudged lower",
		}, s
	}
	e.log.Info("post-only order would cross, nudging one tick down",
		zap.String("product", req.ProductID),
		zap.String("price", s.LimitPrice.String()),
		zap.String("nudged", nudged.String()),
	)
	s.LimitPrice = nudged
	s.Notional = s.BaseSize.Mul(nudged)
	req.ClientOrderID = e.newKey()
	req.LimitPrice = nudged
	return e.place(ctx, req), s
}

func (e *Engine) place(ctx context.Context, req venue.LimitOrderRequest) venue.SubmitResult {
	res, err := e.venue.SubmitLimitOrder(ctx, req)
	if err != nil {
		return venue.SubmitResult{
			Success:       false,
			ClientOrderID: req.ClientOrderID,
			ErrorCode:     venue.CodeUnknown,
			ErrorMessage:  err.Error(),
		}
	}
	if res.ClientOrderID == "" {
		res.ClientOrderID = req.ClientOrderID
	}
	if res.Success {
		e.metrics.OrdersPlaced.Inc()
	} else {
		e.metrics.OrdersFailed.Inc()
	}
	e.journalOrder(req.ProductID, res, "limit", req.LimitPrice, req.BaseSize, decimal.Zero)
	return res
}

// submitMarket places one market buy sized in quote currency.
func (e *Engine) submitMarket(ctx context.Context, productID string, quoteSize decimal.Decimal, clientOrderID string) venue.SubmitResult {
	if clientOrderID == "" {
		clientOrderID = e.newKey()
	}
	req := venue.MarketOrderRequest{
		ClientOrderID: clientOrderID,
		ProductID:     productID,
		Side:          venue.SideBuy,
		QuoteSize:     quoteSize,
	}
	res, err := e.venue.SubmitMarketOrder(ctx, req)
	if err != nil {
		res = venue.SubmitResult{
			Success:       false,
			ClientOrderID: clientOrderID,
			ErrorCode:     venue.CodeUnknown,
			ErrorMessage:  err.Error(),
		}
	}
	if res.ClientOrderID == "" {
		res.ClientOrderID = clientOrderID
	}
	if res.Success {
		e.metrics.OrdersPlaced.Inc()
	} else {
		e.metrics.OrdersFailed.Inc()
	}
	e.journalOrder(productID, res, "market", decimal.Zero, decimal.Zero, quoteSize)
	return res
}
