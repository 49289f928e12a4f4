package engine

import (
	"context"
	"time"

	"cb-dca-bot/internal/venue"

	"go.uber.org/zap"
)

// awaitTerminal polls an order after a cancel request until it settles
// into a terminal status, up to the tuning's wait cap. It returns the
// last observed state and whether a terminal status was seen. When the
// cap is hit the caller proceeds cautiously on the last observed fill
// rather than blocking the campaign forever.
func (e *Engine) awaitTerminal(ctx context.Context, orderID string) (venue.OrderState, bool) {
	deadline := time.NewTimer(e.tuning.TerminalWaitCap)
	defer deadline.Stop()
	ticker := time.NewTicker(e.tuning.TerminalPollInterval)
	defer ticker.Stop()

	var last venue.OrderState
	last.OrderID = orderID
	for {
		state, err := e.venue.GetOrder(ctx, orderID)
		if err != nil {
			// Transient read failures keep the last observation; the
			// order is already cancelled or cancelling server-side.
			e.log.Warn("order status read failed", zap.String("order_id", orderID), zap.Error(err))
		} else {
			last = state
			if state.Status.Terminal() {
				return last, true
			}
		}
		select {
		case <-ctx.Done():
			return last, false
		case <-deadline.C:
			e.log.Warn("terminal wait cap reached, proceeding on last observed fill",
				zap.String("order_id", orderID),
				zap.String("status", string(last.Status)),
			)
			return last, false
		case <-ticker.C:
		}
	}
}

// settleOrder cancels the campaign's current order if it is still open,
// waits for it to settle, and folds its authoritative fill into the
// campaign's remaining notional. Cancel failures are logged, not fatal:
// the order may already be terminal.
func (e *Engine) settleOrder(ctx context.Context, c *campaign) venue.OrderState {
	orderID := c.current.OrderID
	state, err := e.venue.GetOrder(ctx, orderID)
	if err != nil {
		e.log.Warn("order status read failed", zap.String("order_id", orderID), zap.Error(err))
		state = venue.OrderState{OrderID: orderID, Status: venue.StatusUnknown}
	}
	if !state.Status.Terminal() {
		if err := e.venue.CancelOrder(ctx, orderID); err != nil {
			e.log.Warn("cancel failed", zap.String("order_id", orderID), zap.Error(err))
		}
		state, _ = e.awaitTerminal(ctx, orderID)
	}
	c.recordFill(orderID, state.Notional())
	e.journalFill(c, state)
	return state
}
