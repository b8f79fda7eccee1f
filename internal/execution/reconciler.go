package execution

import (
	"context"
	"fmt"
	"log"
	"time"

	"signalbot/internal/broker"
	"signalbot/internal/markethours"
	"signalbot/internal/model"
	"signalbot/internal/notify"
)

// Reconciler resolves open protective legs into trade exits. The stop-loss
// and target legs are mutually exclusive outcomes: when one completes, the
// sibling is cancelled and the trade is closed with its exit reason.
//
// Re-running against an order with no open legs is a no-op — the open-leg
// scan returns nothing for it, so no duplicate P&L or notification can be
// produced.
type Reconciler struct {
	broker    broker.Broker
	signals   model.SignalStore
	orders    model.OrderStore
	analytics model.AnalyticsStore
	notifier  notify.Notifier

	now func() time.Time

	// OnTradeClosed is an optional metrics hook.
	OnTradeClosed func(reason model.ExitReason)
}

// NewReconciler creates a reconciler. The clock defaults to time.Now and is
// injectable for tests.
func NewReconciler(b broker.Broker, signals model.SignalStore,
	orders model.OrderStore, analytics model.AnalyticsStore, notifier notify.Notifier) *Reconciler {

	return &Reconciler{
		broker:    b,
		signals:   signals,
		orders:    orders,
		analytics: analytics,
		notifier:  notifier,
		now:       time.Now,
	}
}

// SetClock overrides the reconciler clock.
func (r *Reconciler) SetClock(now func() time.Time) {
	r.now = now
}

// Run polls every order with a still-open protective leg.
func (r *Reconciler) Run(ctx context.Context) error {
	if !markethours.IsMarketOpen(r.now()) {
		return nil
	}

	open, err := r.orders.OrdersWithOpenSubOrders(ctx)
	if err != nil {
		return fmt.Errorf("reconciler: open sub-orders: %w", err)
	}

	for i := range open {
		if err := r.reconcile(ctx, &open[i]); err != nil {
			log.Printf("[reconciler] order %s: %v", open[i].ID, err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return nil
}

// reconcile refreshes both legs of one order. The stop-loss leg is checked
// first; if it closed the trade, the target poll is skipped because the
// sibling cancellation already resolved it.
func (r *Reconciler) reconcile(ctx context.Context, order *model.Order) error {
	if order.StopLossOrder != nil && order.StopLossOrder.Status == model.StatusOpen {
		closed, err := r.checkLeg(ctx, order, order.StopLossOrder, order.TargetOrder, model.ExitStopLoss)
		if err != nil {
			return err
		}
		if closed {
			return nil
		}
	}
	if order.TargetOrder != nil && order.TargetOrder.Status == model.StatusOpen {
		if _, err := r.checkLeg(ctx, order, order.TargetOrder, order.StopLossOrder, model.ExitTarget); err != nil {
			return err
		}
	}
	return nil
}

// checkLeg polls one protective leg. Returns true when the leg completed
// and the trade was closed.
func (r *Reconciler) checkLeg(ctx context.Context, order *model.Order,
	leg, sibling *model.SubOrder, reason model.ExitReason) (bool, error) {

	history, err := r.broker.OrderHistory(ctx, leg.BrokerOrderID)
	if err != nil {
		// broker unreachable — leave the leg open for the next firing
		log.Printf("[reconciler] history %s: %v", leg.BrokerOrderID, err)
		return false, nil
	}
	state, ok := broker.LatestState(history)
	if !ok || state.Status == model.StatusOpen {
		return false, nil
	}

	leg.Status = state.Status
	leg.UpdatedAt = r.now()

	switch state.Status {
	case model.StatusComplete:
		r.closeTrade(ctx, order, sibling, state.AvgPrice, reason)
		return true, nil
	default:
		// a rejected or cancelled leg is recorded without closing the trade
		log.Printf("[reconciler] leg %s on %s ended %s",
			leg.BrokerOrderID, order.TradingSymbol, state.Status)
		if err := r.orders.UpdateOrder(ctx, order); err != nil {
			return false, fmt.Errorf("update order: %w", err)
		}
		return false, nil
	}
}

// closeTrade cancels the sibling leg, records exit state and P&L on the
// signal, folds the trade into daily analytics and emits the P&L
// notification. Sibling cancellation is best-effort: a cancel failure is
// logged and the leg stays open for the next firing, without rolling back
// the completed exit.
func (r *Reconciler) closeTrade(ctx context.Context, order *model.Order,
	sibling *model.SubOrder, exitPrice float64, reason model.ExitReason) {

	now := r.now()

	if sibling != nil && sibling.Status == model.StatusOpen {
		if err := r.broker.CancelOrder(ctx, broker.VarietyRegular, sibling.BrokerOrderID); err != nil {
			log.Printf("[reconciler] cancel sibling %s: %v", sibling.BrokerOrderID, err)
		} else {
			sibling.Status = model.StatusCancelled
			sibling.UpdatedAt = now
		}
	}

	order.UpdatedAt = now
	if err := r.orders.UpdateOrder(ctx, order); err != nil {
		log.Printf("[reconciler] update order %s: %v", order.ID, err)
	}

	pnl := realizedPnL(order, exitPrice)
	log.Printf("[reconciler] %s closed %s exit=%.2f pnl=%.2f",
		order.TradingSymbol, reason, exitPrice, pnl)

	sig, err := r.signals.GetSignal(ctx, order.SignalID)
	if err != nil || sig == nil {
		log.Printf("[reconciler] signal %s: missing (%v)", order.SignalID, err)
		return
	}

	sig.ExitPrice = exitPrice
	sig.ExitAt = &now
	sig.ExitReason = reason
	sig.ProfitLoss = pnl
	if err := r.signals.UpdateSignal(ctx, sig); err != nil {
		log.Printf("[reconciler] update signal %s: %v", sig.ID, err)
	}

	if err := r.analytics.RecordTrade(ctx, now, model.TradeDetail{
		SignalID:      sig.ID,
		TradingSymbol: order.TradingSymbol,
		Quantity:      order.FilledQty,
		EntryPrice:    order.AvgPrice,
		ExitPrice:     exitPrice,
		ProfitLoss:    pnl,
		ExitReason:    reason,
		ClosedAt:      now,
	}); err != nil {
		log.Printf("[reconciler] record trade %s: %v", sig.ID, err)
	}

	if r.OnTradeClosed != nil {
		r.OnTradeClosed(reason)
	}
	if err := r.notifier.SendPnLUpdate(ctx, sig, reason); err != nil {
		log.Printf("[reconciler] notify %s: %v", sig.ID, err)
	}
}

// realizedPnL computes the closed-trade P&L from the parent fill:
// (exit − entry) × qty for a BUY, (entry − exit) × qty for a SELL.
func realizedPnL(order *model.Order, exitPrice float64) float64 {
	qty := float64(order.FilledQty)
	if order.Side == model.DirectionSell {
		return (order.AvgPrice - exitPrice) * qty
	}
	return (exitPrice - order.AvgPrice) * qty
}
