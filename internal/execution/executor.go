// Package execution turns approved signals into broker orders and reconciles
// their protective legs into exits.
//
// The executor processes pending signals oldest first: quote check, ±price
// tolerance gate, capital-based sizing, market BUY, bounded fill poll, then
// the protective stop-loss and target pair. The reconciler watches open
// protective legs and folds their completion into exit state, P&L and daily
// analytics. Both run as scheduler jobs and contain failures at the
// per-signal granularity.
package execution

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"signalbot/internal/broker"
	"signalbot/internal/markethours"
	"signalbot/internal/model"
	"signalbot/internal/notify"
)

// ExecutorConfig holds execution policy.
type ExecutorConfig struct {
	Exchange string // default "NSE"

	// AutoTrade must be enabled for the executor to place orders; off means
	// signals are generated and notified but never traded.
	AutoTrade bool

	MaxCapitalPerTrade float64
	DailyTradeCap      int // default 6

	// PriceTolerancePct gates execution to signals whose entry is within
	// this percentage of the live price. Default 5.
	PriceTolerancePct float64

	PollInterval time.Duration // fill poll spacing, default 5s
	PollAttempts int           // fill poll budget, default 36
}

func (c *ExecutorConfig) defaults() {
	if c.Exchange == "" {
		c.Exchange = "NSE"
	}
	if c.DailyTradeCap == 0 {
		c.DailyTradeCap = 6
	}
	if c.PriceTolerancePct == 0 {
		c.PriceTolerancePct = 5
	}
	if c.PollInterval == 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.PollAttempts == 0 {
		c.PollAttempts = 36
	}
}

// Executor drives the order placement state machine.
type Executor struct {
	cfg       ExecutorConfig
	broker    broker.Broker
	signals   model.SignalStore
	orders    model.OrderStore
	analytics model.AnalyticsStore
	notifier  notify.Notifier

	now func() time.Time

	// OnOrderPlaced and OnOrderFilled are optional metrics hooks.
	OnOrderPlaced func()
	OnOrderFilled func()
}

// NewExecutor creates an executor. The clock defaults to time.Now and is
// injectable for tests.
func NewExecutor(cfg ExecutorConfig, b broker.Broker, signals model.SignalStore,
	orders model.OrderStore, analytics model.AnalyticsStore, notifier notify.Notifier) *Executor {

	cfg.defaults()
	return &Executor{
		cfg:       cfg,
		broker:    b,
		signals:   signals,
		orders:    orders,
		analytics: analytics,
		notifier:  notifier,
		now:       time.Now,
	}
}

// SetClock overrides the executor clock.
func (e *Executor) SetClock(now func() time.Time) {
	e.now = now
}

// Run executes one processor firing: expire stale signals, then process
// pending signals oldest first until the daily trade cap is reached.
func (e *Executor) Run(ctx context.Context) error {
	now := e.now()
	if !markethours.IsMarketOpen(now) || !e.cfg.AutoTrade {
		return nil
	}

	// Signals left pending from a previous trading day never execute.
	if n, err := e.signals.ExpireSignalsBefore(ctx, startOfDay(now)); err != nil {
		log.Printf("[executor] expire stale signals: %v", err)
	} else if n > 0 {
		log.Printf("[executor] expired %d stale signals", n)
	}

	executed, err := e.orders.CountExecutedOn(ctx, now)
	if err != nil {
		return fmt.Errorf("executor: count executed: %w", err)
	}
	if executed >= e.cfg.DailyTradeCap {
		return nil
	}

	pending, err := e.signals.PendingSignals(ctx)
	if err != nil {
		return fmt.Errorf("executor: pending signals: %w", err)
	}

	for i := range pending {
		if executed >= e.cfg.DailyTradeCap {
			break
		}
		if e.process(ctx, &pending[i]) {
			executed++
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return nil
}

// process runs one signal through the placement state machine. Returns true
// when the parent order reached COMPLETE.
func (e *Executor) process(ctx context.Context, sig *model.Signal) bool {
	quote, err := e.broker.GetQuote(ctx, e.cfg.Exchange, sig.Underlying)
	if err != nil {
		log.Printf("[executor] quote %s: %v", sig.Underlying, err)
		return false
	}

	price := quote.LastPrice
	tolerance := sig.EntryPrice * e.cfg.PriceTolerancePct / 100
	if price < sig.EntryPrice-tolerance || price > sig.EntryPrice+tolerance {
		log.Printf("[executor] %s price %.2f drifted from entry %.2f, skipping",
			sig.Underlying, price, sig.EntryPrice)
		return false
	}

	qty := int(e.cfg.MaxCapitalPerTrade / price)
	if qty <= 0 {
		log.Printf("[executor] %s price %.2f exceeds capital %.2f, skipping",
			sig.Underlying, price, e.cfg.MaxCapitalPerTrade)
		return false
	}

	tag := orderTag(sig.ID)
	brokerID, err := e.broker.PlaceOrder(ctx, broker.OrderRequest{
		Exchange:      e.cfg.Exchange,
		TradingSymbol: sig.Underlying,
		Side:          model.DirectionBuy,
		OrderType:     broker.OrderTypeMarket,
		Product:       broker.ProductMIS,
		Quantity:      qty,
		Tag:           tag,
	})
	if err != nil {
		log.Printf("[executor] place %s: %v", sig.Underlying, err)
		e.notify(ctx, sig, false, fmt.Sprintf("Order placement failed: %v", err))
		return false
	}
	if e.OnOrderPlaced != nil {
		e.OnOrderPlaced()
	}

	now := e.now()
	order := &model.Order{
		ID:            uuid.NewString(),
		SignalID:      sig.ID,
		BrokerOrderID: brokerID,
		Status:        model.StatusOpen,
		Side:          model.DirectionBuy,
		TradingSymbol: sig.Underlying,
		Exchange:      e.cfg.Exchange,
		Quantity:      qty,
		PendingQty:    qty,
		Tag:           tag,
		PlacedAt:      now,
		UpdatedAt:     now,
	}
	if err := e.orders.SaveOrder(ctx, order); err != nil {
		log.Printf("[executor] save order %s: %v", order.ID, err)
		return false
	}

	status, err := e.pollFill(ctx, order)
	if err != nil {
		// Shutdown mid-poll: the order keeps its last observed state and the
		// next firing picks the signal up again. Not a timeout.
		log.Printf("[executor] poll %s interrupted: %v", brokerID, err)
		return false
	}

	switch status {
	case model.StatusComplete:
		e.onFilled(ctx, sig, order)
		return true
	case model.StatusTimedOut:
		e.notify(ctx, sig, false,
			fmt.Sprintf("Order %s fill not confirmed within %v, marked TIMEOUT",
				brokerID, time.Duration(e.cfg.PollAttempts)*e.cfg.PollInterval))
	default:
		e.notify(ctx, sig, false,
			fmt.Sprintf("Order %s ended %s", brokerID, status))
	}
	return false
}

// pollFill polls the parent order until it reaches a terminal state or the
// attempt budget runs out. The order record is updated after every poll.
// Context cancellation is reported as an error, not as a timeout.
func (e *Executor) pollFill(ctx context.Context, order *model.Order) (model.OrderStatus, error) {
	for attempt := 0; attempt < e.cfg.PollAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return order.Status, ctx.Err()
		case <-time.After(e.cfg.PollInterval):
		}

		history, err := e.broker.OrderHistory(ctx, order.BrokerOrderID)
		if err != nil {
			log.Printf("[executor] order history %s: %v", order.BrokerOrderID, err)
			continue
		}
		state, ok := broker.LatestState(history)
		if !ok {
			continue
		}

		order.Status = state.Status
		order.AvgPrice = state.AvgPrice
		order.FilledQty = state.FilledQty
		order.PendingQty = state.PendingQty
		order.CancelledQty = state.CancelledQty
		order.UpdatedAt = e.now()
		if err := e.orders.UpdateOrder(ctx, order); err != nil {
			log.Printf("[executor] update order %s: %v", order.ID, err)
		}

		if state.Status.Terminal() {
			return state.Status, nil
		}
	}

	order.Status = model.StatusTimedOut
	order.UpdatedAt = e.now()
	if err := e.orders.UpdateOrder(ctx, order); err != nil {
		log.Printf("[executor] update order %s: %v", order.ID, err)
	}
	return model.StatusTimedOut, nil
}

// onFilled records the fill on the signal and places the protective
// stop-loss and target pair, both OPEN sub-orders on the parent.
func (e *Executor) onFilled(ctx context.Context, sig *model.Signal, order *model.Order) {
	if e.OnOrderFilled != nil {
		e.OnOrderFilled()
	}

	now := e.now()
	sig.Executed = true
	sig.ExecutedAt = &now
	sig.OrderStatus = string(model.StatusComplete)
	if err := e.signals.UpdateSignal(ctx, sig); err != nil {
		log.Printf("[executor] update signal %s: %v", sig.ID, err)
	}
	if err := e.analytics.RecordExecution(ctx, now); err != nil {
		log.Printf("[executor] record execution %s: %v", sig.ID, err)
	}

	order.StopLossOrder = e.placeLeg(ctx, order, broker.OrderRequest{
		Exchange:      order.Exchange,
		TradingSymbol: order.TradingSymbol,
		Side:          model.DirectionSell,
		OrderType:     broker.OrderTypeSLM,
		Product:       broker.ProductMIS,
		Quantity:      order.FilledQty,
		TriggerPrice:  sig.StopLoss,
		Tag:           order.Tag,
	})
	order.TargetOrder = e.placeLeg(ctx, order, broker.OrderRequest{
		Exchange:      order.Exchange,
		TradingSymbol: order.TradingSymbol,
		Side:          model.DirectionSell,
		OrderType:     broker.OrderTypeLimit,
		Product:       broker.ProductMIS,
		Quantity:      order.FilledQty,
		Price:         sig.TargetPrice,
		Tag:           order.Tag,
	})
	order.UpdatedAt = e.now()
	if err := e.orders.UpdateOrder(ctx, order); err != nil {
		log.Printf("[executor] update order %s: %v", order.ID, err)
	}

	e.notify(ctx, sig, true,
		fmt.Sprintf("Executed %d @ %.2f, SL %.2f / target %.2f placed",
			order.FilledQty, order.AvgPrice, sig.StopLoss, sig.TargetPrice))
}

// placeLeg places one protective sub-order. A placement failure leaves the
// leg nil; the position is then unprotected on that side, which is raised as
// a critical alert.
func (e *Executor) placeLeg(ctx context.Context, order *model.Order, req broker.OrderRequest) *model.SubOrder {
	brokerID, err := e.broker.PlaceOrder(ctx, req)
	if err != nil {
		log.Printf("[executor] place %s leg for %s: %v", req.OrderType, order.ID, err)
		e.alert(ctx, fmt.Sprintf("Protective %s order failed for %s: %v",
			req.OrderType, order.TradingSymbol, err))
		return nil
	}
	now := e.now()
	return &model.SubOrder{
		BrokerOrderID: brokerID,
		TriggerPrice:  req.TriggerPrice,
		Price:         req.Price,
		Status:        model.StatusOpen,
		PlacedAt:      now,
		UpdatedAt:     now,
	}
}

func (e *Executor) notify(ctx context.Context, sig *model.Signal, executed bool, msg string) {
	if err := e.notifier.SendOrderUpdate(ctx, sig, executed, msg); err != nil {
		log.Printf("[executor] notify %s: %v", sig.ID, err)
	}
}

func (e *Executor) alert(ctx context.Context, msg string) {
	if err := e.notifier.SendSystemAlert(ctx, notify.AlertCritical, msg); err != nil {
		log.Printf("[executor] alert: %v", err)
	}
}

// orderTag derives the broker correlation tag from a signal id. Kite caps
// tags at 20 characters.
func orderTag(signalID string) string {
	const prefix = "SIG-"
	id := signalID
	if len(id) > 16 {
		id = id[:16]
	}
	return prefix + id
}

// startOfDay returns midnight of t's exchange-time day.
func startOfDay(t time.Time) time.Time {
	local := t.In(markethours.IST)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, markethours.IST)
}
