package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalbot/internal/markethours"
	"signalbot/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// day is a fixed trading Monday 11:00 IST.
var day = time.Date(2026, 3, 2, 11, 0, 0, 0, markethours.IST)

func testSignal(id string, generatedAt time.Time) model.Signal {
	return model.Signal{
		ID:           id,
		Direction:    model.DirectionBuy,
		Underlying:   "SYM",
		OptionSymbol: "SYM 500 CE",
		CurrentPrice: 500,
		EntryPrice:   500,
		TargetPrice:  504.5,
		StopLoss:     497.75,
		RiskReward:   2,
		GeneratedAt:  generatedAt,
		Indicators: model.IndicatorSnapshot{
			RSI:          62.5,
			EMA20:        498.2,
			ATR:          1.5,
			SuperTrendUp: true,
			VolumeSpike:  true,
			Breakout:     true,
		},
	}
}

func TestSignalRoundtrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	sig := testSignal("sig-1", day)
	require.NoError(t, s.SaveSignal(ctx, &sig))

	got, err := s.GetSignal(ctx, "sig-1")
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, sig.ID, got.ID)
	assert.Equal(t, model.DirectionBuy, got.Direction)
	assert.Equal(t, "SYM 500 CE", got.OptionSymbol)
	assert.Equal(t, 497.75, got.StopLoss)
	assert.Equal(t, day.Unix(), got.GeneratedAt.Unix())
	assert.Nil(t, got.ExecutedAt)
	assert.Nil(t, got.ExitAt)
	assert.Equal(t, sig.Indicators, got.Indicators)

	missing, err := s.GetSignal(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSignalUpdate(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	sig := testSignal("sig-1", day)
	require.NoError(t, s.SaveSignal(ctx, &sig))

	execAt := day.Add(5 * time.Minute)
	exitAt := day.Add(40 * time.Minute)
	sig.Executed = true
	sig.ExecutedAt = &execAt
	sig.OrderStatus = string(model.StatusComplete)
	sig.ExitPrice = 497
	sig.ExitAt = &exitAt
	sig.ExitReason = model.ExitStopLoss
	sig.ProfitLoss = -80
	require.NoError(t, s.UpdateSignal(ctx, &sig))

	got, err := s.GetSignal(ctx, "sig-1")
	require.NoError(t, err)
	assert.True(t, got.Executed)
	require.NotNil(t, got.ExecutedAt)
	assert.Equal(t, execAt.Unix(), got.ExecutedAt.Unix())
	assert.Equal(t, model.ExitStopLoss, got.ExitReason)
	assert.Equal(t, -80.0, got.ProfitLoss)

	unknown := testSignal("ghost", day)
	assert.Error(t, s.UpdateSignal(ctx, &unknown))
}

func TestMarkNotified(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	sig := testSignal("sig-1", day)
	require.NoError(t, s.SaveSignal(ctx, &sig))

	require.NoError(t, s.MarkNotified(ctx, "sig-1"))
	require.NoError(t, s.MarkNotified(ctx, "sig-1")) // idempotent

	got, _ := s.GetSignal(ctx, "sig-1")
	assert.True(t, got.Notified)
}

func TestPendingSignalsOrderAndFilter(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	late := testSignal("late", day.Add(30*time.Minute))
	early := testSignal("early", day)
	done := testSignal("done", day.Add(10*time.Minute))
	done.Executed = true
	stale := testSignal("stale", day.Add(-24*time.Hour))
	stale.Expired = true

	for _, sig := range []model.Signal{late, early, done, stale} {
		sig := sig
		require.NoError(t, s.SaveSignal(ctx, &sig))
	}

	pending, err := s.PendingSignals(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "early", pending[0].ID, "oldest first")
	assert.Equal(t, "late", pending[1].ID)
}

func TestSignalDayQueries(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	yesterday := testSignal("prev", day.Add(-24*time.Hour))
	first := testSignal("first", day)
	second := testSignal("second", day.Add(20*time.Minute))
	for _, sig := range []model.Signal{yesterday, first, second} {
		sig := sig
		require.NoError(t, s.SaveSignal(ctx, &sig))
	}

	n, err := s.CountSignalsOn(ctx, day)
	require.NoError(t, err)
	assert.Equal(t, 2, n, "previous day excluded")

	last, ok, err := s.LastSignalTime(ctx, day)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, day.Add(20*time.Minute).Unix(), last.Unix())

	_, ok, err = s.LastSignalTime(ctx, day.Add(48*time.Hour))
	require.NoError(t, err)
	assert.False(t, ok, "empty day has no last signal")

	from, to := dayBounds(day)
	between, err := s.SignalsBetween(ctx, from, to)
	require.NoError(t, err)
	require.Len(t, between, 2)
	assert.Equal(t, "second", between[0].ID, "newest first")
}

func TestExpireSignalsBefore(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	stale := testSignal("stale", day.Add(-24*time.Hour))
	executed := testSignal("executed", day.Add(-24*time.Hour))
	executed.Executed = true
	fresh := testSignal("fresh", day)
	for _, sig := range []model.Signal{stale, executed, fresh} {
		sig := sig
		require.NoError(t, s.SaveSignal(ctx, &sig))
	}

	start, _ := dayBounds(day)
	n, err := s.ExpireSignalsBefore(ctx, start)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "only the unexecuted stale signal expires")

	got, _ := s.GetSignal(ctx, "stale")
	assert.True(t, got.Expired)
	got, _ = s.GetSignal(ctx, "executed")
	assert.False(t, got.Expired)
	got, _ = s.GetSignal(ctx, "fresh")
	assert.False(t, got.Expired)

	// expired signals drop out of the pending queue
	pending, err := s.PendingSignals(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "fresh", pending[0].ID)
}

func testOrder(id, signalID string, placedAt time.Time) model.Order {
	return model.Order{
		ID:            id,
		SignalID:      signalID,
		BrokerOrderID: "BRK-1",
		Status:        model.StatusOpen,
		Side:          model.DirectionBuy,
		TradingSymbol: "SYM",
		Exchange:      "NSE",
		Quantity:      10,
		PendingQty:    10,
		Tag:           "SIG-abc",
		PlacedAt:      placedAt,
		UpdatedAt:     placedAt,
	}
}

func TestOrderRoundtripWithLegs(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	o := testOrder("ord-1", "sig-1", day)
	require.NoError(t, s.SaveOrder(ctx, &o))

	got, err := s.GetOrder(ctx, "ord-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, model.StatusOpen, got.Status)
	assert.Nil(t, got.StopLossOrder)
	assert.Nil(t, got.TargetOrder)

	// fill and attach the protective pair
	o.Status = model.StatusComplete
	o.AvgPrice = 505
	o.FilledQty = 10
	o.PendingQty = 0
	o.StopLossOrder = &model.SubOrder{
		BrokerOrderID: "BRK-2",
		TriggerPrice:  497,
		Status:        model.StatusOpen,
		PlacedAt:      day,
		UpdatedAt:     day,
	}
	o.TargetOrder = &model.SubOrder{
		BrokerOrderID: "BRK-3",
		Price:         506,
		Status:        model.StatusOpen,
		PlacedAt:      day,
		UpdatedAt:     day,
	}
	require.NoError(t, s.UpdateOrder(ctx, &o))

	got, err = s.GetOrder(ctx, "ord-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusComplete, got.Status)
	assert.Equal(t, 505.0, got.AvgPrice)
	require.NotNil(t, got.StopLossOrder)
	assert.Equal(t, 497.0, got.StopLossOrder.TriggerPrice)
	require.NotNil(t, got.TargetOrder)
	assert.Equal(t, 506.0, got.TargetOrder.Price)

	missing, err := s.GetOrder(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestOrdersWithOpenSubOrders(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// COMPLETE with one open leg — must be returned
	watched := testOrder("watched", "sig-1", day)
	watched.Status = model.StatusComplete
	watched.StopLossOrder = &model.SubOrder{BrokerOrderID: "BRK-2", Status: model.StatusOpen}
	watched.TargetOrder = &model.SubOrder{BrokerOrderID: "BRK-3", Status: model.StatusCancelled}
	require.NoError(t, s.SaveOrder(ctx, &watched))

	// COMPLETE with both legs terminal — already reconciled
	settled := testOrder("settled", "sig-2", day)
	settled.Status = model.StatusComplete
	settled.StopLossOrder = &model.SubOrder{BrokerOrderID: "BRK-4", Status: model.StatusComplete}
	settled.TargetOrder = &model.SubOrder{BrokerOrderID: "BRK-5", Status: model.StatusCancelled}
	require.NoError(t, s.SaveOrder(ctx, &settled))

	// parent still OPEN — not the reconciler's business yet
	unfilled := testOrder("unfilled", "sig-3", day)
	require.NoError(t, s.SaveOrder(ctx, &unfilled))

	open, err := s.OrdersWithOpenSubOrders(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "watched", open[0].ID)

	// closing the last open leg removes it from the scan
	watched.StopLossOrder.Status = model.StatusComplete
	require.NoError(t, s.UpdateOrder(ctx, &watched))

	open, err = s.OrdersWithOpenSubOrders(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestCountExecutedOn(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	done := testOrder("done", "sig-1", day)
	done.Status = model.StatusComplete
	require.NoError(t, s.SaveOrder(ctx, &done))

	pending := testOrder("pending", "sig-2", day)
	require.NoError(t, s.SaveOrder(ctx, &pending))

	prevDay := testOrder("prev", "sig-3", day.Add(-24*time.Hour))
	prevDay.Status = model.StatusComplete
	require.NoError(t, s.SaveOrder(ctx, &prevDay))

	n, err := s.CountExecutedOn(ctx, day)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestAnalyticsAggregation(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordSignal(ctx, day, model.DirectionBuy))
	require.NoError(t, s.RecordSignal(ctx, day, model.DirectionBuy))
	require.NoError(t, s.RecordSignal(ctx, day, model.DirectionSell))
	require.NoError(t, s.RecordExecution(ctx, day))

	require.NoError(t, s.RecordTrade(ctx, day, model.TradeDetail{
		SignalID: "sig-1", TradingSymbol: "SYM", Quantity: 10,
		EntryPrice: 505, ExitPrice: 506, ProfitLoss: 10,
		ExitReason: model.ExitTarget, ClosedAt: day,
	}))
	require.NoError(t, s.RecordTrade(ctx, day, model.TradeDetail{
		SignalID: "sig-2", TradingSymbol: "SYM2", Quantity: 10,
		EntryPrice: 505, ExitPrice: 497, ProfitLoss: -80,
		ExitReason: model.ExitStopLoss, ClosedAt: day.Add(time.Minute),
	}))

	da, err := s.Analytics(ctx, day)
	require.NoError(t, err)
	require.NotNil(t, da)

	assert.Equal(t, model.DayKey(day), da.Day)
	assert.Equal(t, 3, da.SignalCount)
	assert.Equal(t, 2, da.BuySignals)
	assert.Equal(t, 1, da.SellSignals)
	assert.Equal(t, 1, da.ExecutedOrders)
	assert.Equal(t, 1, da.Wins)
	assert.Equal(t, 1, da.Losses)
	assert.InDelta(t, -70, da.TotalPnL, 1e-9)
	assert.InDelta(t, 50, da.WinRate, 1e-9)
	assert.InDelta(t, 10, da.AvgWin, 1e-9)
	assert.InDelta(t, -80, da.AvgLoss, 1e-9)
	assert.InDelta(t, 10, da.LargestWin, 1e-9)
	assert.InDelta(t, -80, da.LargestLoss, 1e-9)

	require.Len(t, da.Trades, 2)
	assert.Equal(t, "sig-1", da.Trades[0].SignalID)

	empty, err := s.Analytics(ctx, day.Add(48*time.Hour))
	require.NoError(t, err)
	assert.Nil(t, empty)
}

func TestRecordTradeIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	trade := model.TradeDetail{
		SignalID: "sig-1", TradingSymbol: "SYM", Quantity: 10,
		EntryPrice: 505, ExitPrice: 497, ProfitLoss: -80,
		ExitReason: model.ExitStopLoss, ClosedAt: day,
	}
	require.NoError(t, s.RecordTrade(ctx, day, trade))
	require.NoError(t, s.RecordTrade(ctx, day, trade)) // replayed reconciliation

	da, err := s.Analytics(ctx, day)
	require.NoError(t, err)
	assert.Equal(t, 1, da.Losses)
	assert.InDelta(t, -80, da.TotalPnL, 1e-9, "replay must not double-count")
	assert.Len(t, da.Trades, 1)
}

func TestAnalyticsRange(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	prev := day.Add(-24 * time.Hour)
	require.NoError(t, s.RecordSignal(ctx, prev, model.DirectionBuy))
	require.NoError(t, s.RecordSignal(ctx, day, model.DirectionBuy))

	days, err := s.AnalyticsRange(ctx, prev, day)
	require.NoError(t, err)
	require.Len(t, days, 2)
	assert.Equal(t, model.DayKey(prev.In(markethours.IST)), days[0].Day, "oldest first")
	assert.Equal(t, model.DayKey(day), days[1].Day)
}

func TestInstrumentUpsert(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	ins := []model.Instrument{
		{Token: 2, TradingSymbol: "ZED", Exchange: "NSE", Sector: "IT",
			LotSize: 100, Active: true, InFnO: true, PrevDayHigh: 498},
		{Token: 1, TradingSymbol: "ALPHA", Exchange: "NSE", Sector: "BANK",
			LotSize: 50, Active: true},
	}
	require.NoError(t, s.UpsertInstruments(ctx, ins))

	got, err := s.Instruments(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "ALPHA", got[0].TradingSymbol, "ordered by symbol")
	assert.Equal(t, "ZED", got[1].TradingSymbol)
	assert.Equal(t, 498.0, got[1].PrevDayHigh)
	assert.True(t, got[1].InFnO)

	// re-upsert replaces in place
	ins[0].Banned = true
	ins[0].PrevDayHigh = 510
	require.NoError(t, s.UpsertInstruments(ctx, ins))

	got, err = s.Instruments(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[1].Banned)
	assert.Equal(t, 510.0, got[1].PrevDayHigh)
}
