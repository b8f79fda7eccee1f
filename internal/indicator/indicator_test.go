package indicator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalbot/internal/model"
)

func flatCandles(n int, price float64, vol int64) []model.Candle {
	base := time.Date(2026, 3, 2, 9, 15, 0, 0, time.UTC)
	out := make([]model.Candle, n)
	for i := range out {
		out[i] = model.Candle{
			TS:     base.Add(time.Duration(i) * time.Minute),
			Open:   price,
			High:   price + 1,
			Low:    price - 1,
			Close:  price,
			Volume: vol,
		}
	}
	return out
}

func trendCandles(n int, start, step float64) []model.Candle {
	base := time.Date(2026, 3, 2, 9, 15, 0, 0, time.UTC)
	out := make([]model.Candle, n)
	for i := range out {
		c := start + float64(i)*step
		out[i] = model.Candle{
			TS:     base.Add(time.Duration(i) * time.Minute),
			Open:   c - step/2,
			High:   c + 0.5,
			Low:    c - 0.5,
			Close:  c,
			Volume: 100,
		}
	}
	return out
}

func TestInsufficientData(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"RSI", func() error { _, err := RSI(flatCandles(14, 100, 10), 14); return err }()},
		{"EMA", func() error { _, err := EMA(flatCandles(19, 100, 10), 20); return err }()},
		{"MACD", func() error { _, err := MACD(flatCandles(34, 100, 10), 12, 26, 9); return err }()},
		{"ATR", func() error { _, err := ATR(flatCandles(14, 100, 10), 14); return err }()},
		{"SuperTrend", func() error { _, err := SuperTrend(flatCandles(10, 100, 10), 10, 3); return err }()},
		{"Bollinger", func() error { _, err := BollingerBands(flatCandles(19, 100, 10), 20, 2); return err }()},
		{"VWAP empty", func() error { _, err := VWAP(nil); return err }()},
		{"VWAP zero volume", func() error { _, err := VWAP(flatCandles(5, 100, 0)); return err }()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.err, ErrInsufficientData)
		})
	}
}

func TestInvalidPeriod(t *testing.T) {
	_, err := RSI(flatCandles(20, 100, 10), 0)
	assert.ErrorIs(t, err, ErrInvalidPeriod)

	_, err = MACD(flatCandles(40, 100, 10), 26, 12, 9)
	assert.ErrorIs(t, err, ErrInvalidPeriod)

	_, err = SuperTrend(flatCandles(20, 100, 10), 10, 0)
	assert.ErrorIs(t, err, ErrInvalidPeriod)
}

func TestRSI(t *testing.T) {
	rsi, err := RSI(trendCandles(20, 100, 1), 14)
	require.NoError(t, err)
	assert.Equal(t, 100.0, rsi, "all-gain series saturates RSI")

	rsi, err = RSI(trendCandles(20, 100, -1), 14)
	require.NoError(t, err)
	assert.Equal(t, 0.0, rsi, "all-loss series floors RSI")

	// mixed series lands strictly inside (0, 100)
	candles := trendCandles(10, 100, 1)
	candles = append(candles, trendCandles(10, 109, -0.5)...)
	rsi, err = RSI(candles, 14)
	require.NoError(t, err)
	assert.Greater(t, rsi, 0.0)
	assert.Less(t, rsi, 100.0)
}

func TestEMAOnConstantSeries(t *testing.T) {
	ema, err := EMA(flatCandles(30, 250, 10), 20)
	require.NoError(t, err)
	assert.InDelta(t, 250, ema, 1e-9)
}

func TestMACDOnConstantSeries(t *testing.T) {
	res, err := MACD(flatCandles(40, 250, 10), 12, 26, 9)
	require.NoError(t, err)
	assert.InDelta(t, 0, res.Line, 1e-9)
	assert.InDelta(t, 0, res.Signal, 1e-9)
	assert.InDelta(t, 0, res.Histogram, 1e-9)
}

func TestMACDHistogramSignOnTrend(t *testing.T) {
	// an accelerating uptrend keeps the fast EMA above the slow one
	candles := flatCandles(30, 100, 10)
	candles = append(candles, trendCandles(20, 100, 2)...)
	res, err := MACD(candles, 12, 26, 9)
	require.NoError(t, err)
	assert.Greater(t, res.Line, 0.0)
	assert.Greater(t, res.Histogram, 0.0)
}

func TestATRConstantRange(t *testing.T) {
	// every candle spans exactly 2 points around the same close
	atr, err := ATR(flatCandles(30, 100, 10), 14)
	require.NoError(t, err)
	assert.InDelta(t, 2, atr, 1e-9)
}

func TestVWAPSingleCandle(t *testing.T) {
	c := model.Candle{High: 102, Low: 98, Close: 100, Volume: 50}
	vwap, err := VWAP([]model.Candle{c})
	require.NoError(t, err)
	assert.InDelta(t, 100, vwap, 1e-9)
}

func TestVWAPWeightsByVolume(t *testing.T) {
	candles := []model.Candle{
		{High: 100, Low: 100, Close: 100, Volume: 300},
		{High: 200, Low: 200, Close: 200, Volume: 100},
	}
	vwap, err := VWAP(candles)
	require.NoError(t, err)
	assert.InDelta(t, 125, vwap, 1e-9)
}

func TestBollingerOnConstantSeries(t *testing.T) {
	bands, err := BollingerBands(flatCandles(25, 100, 10), 20, 2)
	require.NoError(t, err)
	assert.InDelta(t, 100, bands.Middle, 1e-9)
	assert.InDelta(t, bands.Middle, bands.Upper, 1e-9)
	assert.InDelta(t, bands.Middle, bands.Lower, 1e-9)
}

func TestSuperTrendDirection(t *testing.T) {
	st, err := SuperTrend(trendCandles(40, 100, 5), 10, 3)
	require.NoError(t, err)
	assert.True(t, st.Up, "steep uptrend must read as up")
	assert.Less(t, st.Value, 100+39*5.0, "in an uptrend the band sits below price")

	st, err = SuperTrend(trendCandles(40, 500, -5), 10, 3)
	require.NoError(t, err)
	assert.False(t, st.Up, "steep downtrend must flip to down")
}

func TestHasVolumeSpike(t *testing.T) {
	candles := flatCandles(6, 100, 100)
	candles[5].Volume = 300

	assert.True(t, HasVolumeSpike(candles, 5, 2))
	assert.False(t, HasVolumeSpike(candles, 5, 4))
	assert.False(t, HasVolumeSpike(candles[:5], 5, 2), "needs lookback+1 candles")
}

func TestHasPriceBreakout(t *testing.T) {
	candles := flatCandles(6, 100, 100) // highs at 101
	candles[5].Close = 102
	assert.True(t, HasPriceBreakout(candles, 5))

	candles[5].Close = 100.5
	assert.False(t, HasPriceBreakout(candles, 5))
}
