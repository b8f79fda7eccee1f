package broker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalbot/internal/model"
)

func TestPaperQuote(t *testing.T) {
	p := NewPaperBroker(0)
	ctx := context.Background()

	_, err := p.GetQuote(ctx, "NSE", "SYM")
	assert.Error(t, err, "unseeded quote")

	p.SetQuote("NSE", "SYM", Quote{LastPrice: 505})
	q, err := p.GetQuote(ctx, "NSE", "SYM")
	require.NoError(t, err)
	assert.Equal(t, 505.0, q.LastPrice)
}

func TestPaperMarketOrderFillsImmediately(t *testing.T) {
	p := NewPaperBroker(0)
	ctx := context.Background()
	p.SetQuote("NSE", "SYM", Quote{LastPrice: 505})

	id, err := p.PlaceOrder(ctx, OrderRequest{
		Exchange:      "NSE",
		TradingSymbol: "SYM",
		Side:          model.DirectionBuy,
		OrderType:     OrderTypeMarket,
		Quantity:      10,
	})
	require.NoError(t, err)

	history, err := p.OrderHistory(ctx, id)
	require.NoError(t, err)
	state, ok := LatestState(history)
	require.True(t, ok)
	assert.Equal(t, model.StatusComplete, state.Status)
	assert.Equal(t, 10, state.FilledQty)
	assert.Equal(t, 505.0, state.AvgPrice)
}

func TestPaperSlippage(t *testing.T) {
	p := NewPaperBroker(20) // 20 bps
	ctx := context.Background()
	p.SetQuote("NSE", "SYM", Quote{LastPrice: 500})

	buyID, err := p.PlaceOrder(ctx, OrderRequest{
		Exchange: "NSE", TradingSymbol: "SYM",
		Side: model.DirectionBuy, OrderType: OrderTypeMarket, Quantity: 1,
	})
	require.NoError(t, err)
	history, _ := p.OrderHistory(ctx, buyID)
	state, _ := LatestState(history)
	assert.InDelta(t, 501, state.AvgPrice, 1e-9, "buyer pays up")

	sellID, err := p.PlaceOrder(ctx, OrderRequest{
		Exchange: "NSE", TradingSymbol: "SYM",
		Side: model.DirectionSell, OrderType: OrderTypeMarket, Quantity: 1,
	})
	require.NoError(t, err)
	history, _ = p.OrderHistory(ctx, sellID)
	state, _ = LatestState(history)
	assert.InDelta(t, 499, state.AvgPrice, 1e-9, "seller gets hit")
}

func TestPaperProtectiveLegLifecycle(t *testing.T) {
	p := NewPaperBroker(0)
	ctx := context.Background()

	id, err := p.PlaceOrder(ctx, OrderRequest{
		Exchange: "NSE", TradingSymbol: "SYM",
		Side: model.DirectionSell, OrderType: OrderTypeSLM,
		Quantity: 10, TriggerPrice: 497,
	})
	require.NoError(t, err)

	history, _ := p.OrderHistory(ctx, id)
	state, _ := LatestState(history)
	assert.Equal(t, model.StatusOpen, state.Status, "legs stay open until driven")

	require.NoError(t, p.CompleteOrder(id, 497))
	history, _ = p.OrderHistory(ctx, id)
	state, _ = LatestState(history)
	assert.Equal(t, model.StatusComplete, state.Status)
	assert.Equal(t, 10, state.FilledQty)
	assert.Equal(t, 497.0, state.AvgPrice)

	assert.Error(t, p.CancelOrder(ctx, VarietyRegular, id), "terminal order cannot be cancelled")
}

func TestPaperCancel(t *testing.T) {
	p := NewPaperBroker(0)
	ctx := context.Background()

	id, err := p.PlaceOrder(ctx, OrderRequest{
		Exchange: "NSE", TradingSymbol: "SYM",
		Side: model.DirectionSell, OrderType: OrderTypeLimit,
		Quantity: 10, Price: 506,
	})
	require.NoError(t, err)

	require.NoError(t, p.CancelOrder(ctx, VarietyRegular, id))

	history, _ := p.OrderHistory(ctx, id)
	state, _ := LatestState(history)
	assert.Equal(t, model.StatusCancelled, state.Status)
	assert.Equal(t, 10, state.CancelledQty)
	assert.Equal(t, 0, state.PendingQty)

	assert.Error(t, p.CancelOrder(ctx, VarietyRegular, "PAPER-99"), "unknown order")
}
