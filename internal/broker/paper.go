package broker

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"signalbot/internal/model"
)

// PaperBroker simulates broker behavior without real API calls: orders fill
// immediately at the configured quote with optional slippage. Useful for
// dry runs and local development.
type PaperBroker struct {
	mu          sync.RWMutex
	quotes      map[string]Quote // key = "exchange:symbol"
	orders      map[string][]OrderState
	orderSeq    int64
	slippageBps float64 // basis points applied against the taker
}

// NewPaperBroker creates a paper broker.
func NewPaperBroker(slippageBps float64) *PaperBroker {
	return &PaperBroker{
		quotes:      make(map[string]Quote),
		orders:      make(map[string][]OrderState),
		slippageBps: slippageBps,
	}
}

// SetQuote seeds or updates the simulated quote for an instrument.
func (p *PaperBroker) SetQuote(exchange, tradingSymbol string, q Quote) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.quotes[exchange+":"+tradingSymbol] = q
}

func (p *PaperBroker) GetQuote(ctx context.Context, exchange, tradingSymbol string) (Quote, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	q, ok := p.quotes[exchange+":"+tradingSymbol]
	if !ok {
		return Quote{}, fmt.Errorf("paper: no quote for %s:%s", exchange, tradingSymbol)
	}
	return q, nil
}

func (p *PaperBroker) PlaceOrder(ctx context.Context, req OrderRequest) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.orderSeq++
	orderID := fmt.Sprintf("PAPER-%d", p.orderSeq)

	fillPrice := req.Price
	if fillPrice == 0 {
		if q, ok := p.quotes[req.Exchange+":"+req.TradingSymbol]; ok {
			fillPrice = q.LastPrice
		}
	}
	if p.slippageBps > 0 && fillPrice > 0 {
		slip := fillPrice * p.slippageBps / 10000
		if req.Side == model.DirectionBuy {
			fillPrice += slip
		} else {
			fillPrice -= slip
		}
	}

	// Market orders fill immediately; SL/limit legs stay open until
	// resolved via CompleteOrder/CancelOrder from the simulation driver.
	status := model.StatusOpen
	filled, pending := 0, req.Quantity
	if req.OrderType == OrderTypeMarket {
		status = model.StatusComplete
		filled, pending = req.Quantity, 0
	}

	p.orders[orderID] = []OrderState{{
		OrderID:    orderID,
		Status:     status,
		FilledQty:  filled,
		PendingQty: pending,
		AvgPrice:   fillPrice,
		UpdatedAt:  time.Now(),
	}}

	log.Printf("[paper] %s %s qty=%d type=%s fill=%.2f order=%s",
		req.Side, req.TradingSymbol, req.Quantity, req.OrderType, fillPrice, orderID)
	return orderID, nil
}

func (p *PaperBroker) OrderHistory(ctx context.Context, orderID string) ([]OrderState, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	history, ok := p.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("paper: unknown order %s", orderID)
	}
	out := make([]OrderState, len(history))
	copy(out, history)
	return out, nil
}

func (p *PaperBroker) CancelOrder(ctx context.Context, variety, orderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	history, ok := p.orders[orderID]
	if !ok {
		return fmt.Errorf("paper: unknown order %s", orderID)
	}
	last := history[len(history)-1]
	if last.Status.Terminal() {
		return fmt.Errorf("paper: order %s already %s", orderID, last.Status)
	}
	last.Status = model.StatusCancelled
	last.CancelledQty = last.PendingQty
	last.PendingQty = 0
	last.UpdatedAt = time.Now()
	p.orders[orderID] = append(history, last)
	return nil
}

// CompleteOrder marks an open simulated order as filled at the given price.
// Drives SL/target legs in dry-run scenarios.
func (p *PaperBroker) CompleteOrder(orderID string, price float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	history, ok := p.orders[orderID]
	if !ok {
		return fmt.Errorf("paper: unknown order %s", orderID)
	}
	last := history[len(history)-1]
	last.Status = model.StatusComplete
	last.FilledQty += last.PendingQty
	last.PendingQty = 0
	last.AvgPrice = price
	last.UpdatedAt = time.Now()
	p.orders[orderID] = append(history, last)
	return nil
}

func (p *PaperBroker) Instruments(ctx context.Context, exchange string) ([]InstrumentMeta, error) {
	return nil, nil
}

var _ Broker = (*PaperBroker)(nil)
