package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalbot/internal/indicator"
	"signalbot/internal/markethours"
	"signalbot/internal/model"
	"signalbot/internal/notify"
)

const (
	benchToken1 = 256265
	benchToken2 = 260105
	symToken    = 3001
)

// tradingClock is a fixed Monday 11:00 IST, inside the signal window.
func tradingClock() time.Time {
	return time.Date(2026, 3, 2, 11, 0, 0, 0, markethours.IST)
}

// bullishSnapshot builds a snapshot that passes every technical and
// price-action stage: a gently rising 5-minute series with RSI around 63,
// a rising 15-minute series closing with a volume spike and a small-body
// bullish candle, and a 1-minute VWAP below the last price.
func bullishSnapshot(token uint32, symbol string, lastPrice float64) *model.MarketSnapshot {
	snap := model.NewMarketSnapshot(token, symbol)
	base := tradingClock().Add(-6 * time.Hour)

	// 5m: deltas alternate +0.4 / -0.25 so gains outweigh losses without
	// saturating RSI, and the net drift keeps the MACD histogram positive.
	close := lastPrice - 5
	for i := 0; i < 60; i++ {
		open := close
		if i > 0 {
			if i%2 == 1 {
				close += 0.4
			} else {
				close -= 0.25
			}
		}
		hi, lo := close, close
		if open > hi {
			hi = open
		}
		if open < lo {
			lo = open
		}
		snap.M5.Append(model.Candle{
			TS:     base.Add(time.Duration(i) * 5 * time.Minute),
			Open:   open,
			High:   hi + 0.1,
			Low:    lo - 0.1,
			Close:  close,
			Volume: 1000,
		})
	}

	// 15m: rising one point per candle; the last candle carries triple the
	// volume and a small bullish body.
	for i := 0; i < 12; i++ {
		c := lastPrice - 20 + float64(i)
		open := c - 1
		vol := int64(100)
		if i == 11 {
			open = c - 0.25
			vol = 300
		}
		snap.M15.Append(model.Candle{
			TS:     base.Add(time.Duration(i) * 15 * time.Minute),
			Open:   open,
			High:   c + 1.5,
			Low:    c - 1.5,
			Close:  c,
			Volume: vol,
		})
	}

	// 1m: flat below the last price so VWAP sits under it.
	for i := 0; i < 10; i++ {
		c := lastPrice - 5
		snap.M1.Append(model.Candle{
			TS:     base.Add(time.Duration(i) * time.Minute),
			Open:   c,
			High:   c + 0.5,
			Low:    c - 0.5,
			Close:  c,
			Volume: 100,
		})
	}

	snap.LastPrice = lastPrice
	return snap
}

func symInstrument() model.Instrument {
	return model.Instrument{
		Token:         symToken,
		TradingSymbol: "SYM",
		Exchange:      "NSE",
		Sector:        "IT",
		LotSize:       100,
		Active:        true,
		InFnO:         true,
		PrevDayHigh:   498,
	}
}

// ---- fakes ----

type fakeSnaps map[uint32]*model.MarketSnapshot

func (f fakeSnaps) Snapshot(token uint32) (*model.MarketSnapshot, bool) {
	s, ok := f[token]
	return s, ok
}

type fakeSignalStore struct {
	saved    []model.Signal
	notified []string
	last     time.Time
	hasLast  bool
}

func (f *fakeSignalStore) SaveSignal(ctx context.Context, s *model.Signal) error {
	f.saved = append(f.saved, *s)
	return nil
}

func (f *fakeSignalStore) UpdateSignal(ctx context.Context, s *model.Signal) error { return nil }

func (f *fakeSignalStore) MarkNotified(ctx context.Context, id string) error {
	f.notified = append(f.notified, id)
	return nil
}

func (f *fakeSignalStore) GetSignal(ctx context.Context, id string) (*model.Signal, error) {
	for i := range f.saved {
		if f.saved[i].ID == id {
			return &f.saved[i], nil
		}
	}
	return nil, nil
}

func (f *fakeSignalStore) PendingSignals(ctx context.Context) ([]model.Signal, error) {
	return nil, nil
}

func (f *fakeSignalStore) CountSignalsOn(ctx context.Context, day time.Time) (int, error) {
	return len(f.saved), nil
}

func (f *fakeSignalStore) LastSignalTime(ctx context.Context, day time.Time) (time.Time, bool, error) {
	return f.last, f.hasLast, nil
}

func (f *fakeSignalStore) SignalsBetween(ctx context.Context, from, to time.Time) ([]model.Signal, error) {
	return f.saved, nil
}

func (f *fakeSignalStore) ExpireSignalsBefore(ctx context.Context, t time.Time) (int, error) {
	return 0, nil
}

type fakeAnalytics struct {
	signals, execs, trades int
}

func (f *fakeAnalytics) RecordSignal(ctx context.Context, day time.Time, dir model.Direction) error {
	f.signals++
	return nil
}

func (f *fakeAnalytics) RecordExecution(ctx context.Context, day time.Time) error {
	f.execs++
	return nil
}

func (f *fakeAnalytics) RecordTrade(ctx context.Context, day time.Time, trade model.TradeDetail) error {
	f.trades++
	return nil
}

func (f *fakeAnalytics) Analytics(ctx context.Context, day time.Time) (*model.DailyAnalytics, error) {
	return nil, nil
}

func (f *fakeAnalytics) AnalyticsRange(ctx context.Context, from, to time.Time) ([]model.DailyAnalytics, error) {
	return nil, nil
}

type fakeInstruments []model.Instrument

func (f fakeInstruments) UpsertInstruments(ctx context.Context, ins []model.Instrument) error {
	return nil
}

func (f fakeInstruments) Instruments(ctx context.Context) ([]model.Instrument, error) {
	return f, nil
}

type fakeNotifier struct {
	signals []model.Signal
	fail    bool
}

func (f *fakeNotifier) SendSignal(ctx context.Context, s *model.Signal) error {
	if f.fail {
		return errors.New("sink down")
	}
	f.signals = append(f.signals, *s)
	return nil
}

func (f *fakeNotifier) SendOrderUpdate(ctx context.Context, s *model.Signal, executed bool, message string) error {
	return nil
}

func (f *fakeNotifier) SendPnLUpdate(ctx context.Context, s *model.Signal, reason model.ExitReason) error {
	return nil
}

func (f *fakeNotifier) SendSystemAlert(ctx context.Context, level notify.AlertLevel, message string) error {
	return nil
}

// ---- harness ----

type pipeFixture struct {
	pipe        *Pipeline
	snaps       fakeSnaps
	instruments fakeInstruments
	signals     *fakeSignalStore
	analytics   *fakeAnalytics
	notifier    *fakeNotifier
}

func newFixture(t *testing.T, instruments ...model.Instrument) *pipeFixture {
	t.Helper()
	f := &pipeFixture{
		snaps: fakeSnaps{
			benchToken1: bullishSnapshot(benchToken1, "", 22500),
			benchToken2: bullishSnapshot(benchToken2, "", 48000),
		},
		instruments: instruments,
		signals:     &fakeSignalStore{},
		analytics:   &fakeAnalytics{},
		notifier:    &fakeNotifier{},
	}
	f.pipe = New(Config{
		BenchmarkTokens: []uint32{benchToken1, benchToken2},
	}, f.snaps, StaticSectors{"IT", "BANK"}, f.instruments,
		f.signals, f.analytics, f.notifier)
	f.pipe.SetClock(tradingClock)
	return f
}

func TestRunEmitsSignal(t *testing.T) {
	f := newFixture(t, symInstrument())
	f.snaps[symToken] = bullishSnapshot(symToken, "SYM", 500)

	emitted, err := f.pipe.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, emitted, 1)

	atr, err := indicator.ATR(f.snaps[symToken].M5.Candles, 14)
	require.NoError(t, err)

	sig := emitted[0]
	assert.NotEmpty(t, sig.ID)
	assert.Equal(t, model.DirectionBuy, sig.Direction)
	assert.Equal(t, "SYM", sig.Underlying)
	assert.Equal(t, "SYM 500 CE", sig.OptionSymbol)
	assert.Equal(t, 500.0, sig.EntryPrice)
	assert.InDelta(t, 500-1.5*atr, sig.StopLoss, 1e-9)
	assert.InDelta(t, 500+3*atr, sig.TargetPrice, 1e-9)
	assert.InDelta(t, 2, sig.RiskReward, 1e-6)
	assert.True(t, sig.Indicators.SuperTrendUp)
	assert.True(t, sig.Indicators.VolumeSpike)
	assert.True(t, sig.Indicators.Breakout)
	assert.True(t, sig.GeneratedAt.Equal(tradingClock()))

	require.Len(t, f.signals.saved, 1)
	assert.Equal(t, []string{sig.ID}, f.signals.notified)
	require.Len(t, f.notifier.signals, 1)
	assert.Equal(t, 1, f.analytics.signals)
}

func TestRunOneSignalPerFiring(t *testing.T) {
	second := symInstrument()
	second.Token = symToken + 1
	second.TradingSymbol = "SYM2"

	f := newFixture(t, symInstrument(), second)
	f.snaps[symToken] = bullishSnapshot(symToken, "SYM", 500)
	f.snaps[second.Token] = bullishSnapshot(second.Token, "SYM2", 500)

	emitted, err := f.pipe.Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, emitted, 1, "at most one signal per firing")
	assert.Len(t, f.signals.saved, 1)
}

func TestRunGates(t *testing.T) {
	tests := []struct {
		name string
		prep func(f *pipeFixture)
	}{
		{"market closed", func(f *pipeFixture) {
			f.pipe.SetClock(func() time.Time {
				return time.Date(2026, 3, 2, 8, 0, 0, 0, markethours.IST)
			})
		}},
		{"before signal window", func(f *pipeFixture) {
			f.pipe.SetClock(func() time.Time {
				return time.Date(2026, 3, 2, 9, 20, 0, 0, markethours.IST)
			})
		}},
		{"daily cap reached", func(f *pipeFixture) {
			for i := 0; i < 6; i++ {
				f.signals.saved = append(f.signals.saved, model.Signal{})
			}
		}},
		{"signal spacing", func(f *pipeFixture) {
			f.signals.last = tradingClock().Add(-5 * time.Minute)
			f.signals.hasLast = true
		}},
		{"benchmark snapshot missing", func(f *pipeFixture) {
			delete(f.snaps, benchToken2)
		}},
		{"weak sector", func(f *pipeFixture) {
			f.pipe.sectors = StaticSectors{"PHARMA"}
		}},
		{"no volume spike", func(f *pipeFixture) {
			m15 := f.snaps[symToken].M15.Candles
			m15[len(m15)-1].Volume = 100
		}},
		{"no breakout", func(f *pipeFixture) {
			f.instruments[0].PrevDayHigh = 505
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, symInstrument())
			f.snaps[symToken] = bullishSnapshot(symToken, "SYM", 500)
			tt.prep(f)

			emitted, err := f.pipe.Run(context.Background())
			require.NoError(t, err)
			assert.Empty(t, emitted)
			assert.Empty(t, f.notifier.signals)
		})
	}
}

func TestRunBannedInstrumentSkipped(t *testing.T) {
	inst := symInstrument()
	inst.Banned = true

	f := newFixture(t, inst)
	f.snaps[symToken] = bullishSnapshot(symToken, "SYM", 500)

	emitted, err := f.pipe.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, emitted)
}

func TestRunNotifyFailureKeepsSignal(t *testing.T) {
	f := newFixture(t, symInstrument())
	f.snaps[symToken] = bullishSnapshot(symToken, "SYM", 500)
	f.notifier.fail = true

	emitted, err := f.pipe.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, emitted, 1)
	assert.Len(t, f.signals.saved, 1, "signal persists even when the sink is down")
	assert.False(t, emitted[0].Notified)
	assert.Empty(t, f.signals.notified)
}

func TestBuildSignalRiskFilter(t *testing.T) {
	f := newFixture(t)
	inst := symInstrument()
	now := tradingClock()

	mkSnap := func(price float64) *model.MarketSnapshot {
		return &model.MarketSnapshot{LastPrice: price}
	}

	t.Run("penny stock rejected", func(t *testing.T) {
		_, ok := f.pipe.buildSignal(mkSnap(40), &inst, model.IndicatorSnapshot{ATR: 0.1}, now)
		assert.False(t, ok)
	})

	t.Run("entry above cap rejected", func(t *testing.T) {
		_, ok := f.pipe.buildSignal(mkSnap(6000), &inst, model.IndicatorSnapshot{ATR: 5}, now)
		assert.False(t, ok)
	})

	t.Run("zero lot size rejected", func(t *testing.T) {
		noLot := inst
		noLot.LotSize = 0
		_, ok := f.pipe.buildSignal(mkSnap(500), &noLot, model.IndicatorSnapshot{ATR: 1}, now)
		assert.False(t, ok)
	})

	t.Run("wide stop rejected", func(t *testing.T) {
		// 1.5 × ATR(2) = 3 points, above 0.5% of a 500 entry
		_, ok := f.pipe.buildSignal(mkSnap(500), &inst, model.IndicatorSnapshot{ATR: 2}, now)
		assert.False(t, ok)
	})

	t.Run("accepted", func(t *testing.T) {
		sig, ok := f.pipe.buildSignal(mkSnap(500), &inst, model.IndicatorSnapshot{ATR: 1.5}, now)
		require.True(t, ok)
		assert.InDelta(t, 497.75, sig.StopLoss, 1e-9)
		assert.InDelta(t, 504.5, sig.TargetPrice, 1e-9)
		assert.InDelta(t, 2, sig.RiskReward, 1e-6)
		assert.Equal(t, "SYM 500 CE", sig.OptionSymbol)
	})
}
