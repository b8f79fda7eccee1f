package pipeline

import (
	"signalbot/internal/indicator"
	"signalbot/internal/model"
)

// Indicator parameters. Oscillators run on the 5-minute series (the
// 15-minute cap of 30 candles can never satisfy MACD's 35-candle lookback);
// trend and pattern checks run on 15-minute candles, VWAP on 1-minute.
const (
	rsiPeriod       = 14
	indexEMAPeriod  = 21
	macdFast        = 12
	macdSlow        = 26
	macdSignal      = 9
	emaFastPeriod   = 20
	emaSlowPeriod   = 50
	superTrendLen   = 10
	superTrendMul   = 3
	atrPeriod       = 14
	volumeLookback  = 5
	volumeThreshold = 2.0
	minM15Candles   = 10
)

// indexBullish reports whether a benchmark index qualifies as bullish:
// RSI(14) > 50 and last price above EMA(21), on the 5-minute series.
func indexBullish(snap *model.MarketSnapshot) bool {
	rsi, err := indicator.RSI(snap.M5.Candles, rsiPeriod)
	if err != nil {
		return false
	}
	ema, err := indicator.EMA(snap.M5.Candles, indexEMAPeriod)
	if err != nil {
		return false
	}
	return rsi > 50 && snap.LastPrice > ema
}

// evaluateTechnical applies the technical filter and returns the indicator
// snapshot carried forward by survivors. Insufficient history for any
// indicator counts as "stage not satisfied", never an error.
func evaluateTechnical(snap *model.MarketSnapshot) (model.IndicatorSnapshot, bool) {
	var ind model.IndicatorSnapshot

	if snap.M15.Len() < minM15Candles {
		return ind, false
	}

	rsi, err := indicator.RSI(snap.M5.Candles, rsiPeriod)
	if err != nil || rsi < 50 || rsi > 70 {
		return ind, false
	}

	macd, err := indicator.MACD(snap.M5.Candles, macdFast, macdSlow, macdSignal)
	if err != nil || macd.Histogram <= 0 {
		return ind, false
	}

	st, err := indicator.SuperTrend(snap.M15.Candles, superTrendLen, superTrendMul)
	if err != nil || !st.Up {
		return ind, false
	}

	ema20, err := indicator.EMA(snap.M5.Candles, emaFastPeriod)
	if err != nil || snap.LastPrice <= ema20 {
		return ind, false
	}
	ema50, err := indicator.EMA(snap.M5.Candles, emaSlowPeriod)
	if err != nil || snap.LastPrice <= ema50 {
		return ind, false
	}

	if !indicator.HasVolumeSpike(snap.M15.Candles, volumeLookback, volumeThreshold) {
		return ind, false
	}

	atr, err := indicator.ATR(snap.M5.Candles, atrPeriod)
	if err != nil {
		return ind, false
	}

	ind = model.IndicatorSnapshot{
		RSI:           rsi,
		MACDHistogram: macd.Histogram,
		EMA20:         ema20,
		EMA50:         ema50,
		SuperTrend:    st.Value,
		SuperTrendUp:  st.Up,
		ATR:           atr,
		VolumeSpike:   true,
	}
	return ind, true
}

// evaluatePriceAction applies the price-action filter: close above the
// previous day's high, close above the 1-minute VWAP, and a small-body
// bullish candle among the last three 15-minute candles.
func evaluatePriceAction(snap *model.MarketSnapshot, inst *model.Instrument, ind *model.IndicatorSnapshot) bool {
	if inst.PrevDayHigh <= 0 || snap.LastPrice <= inst.PrevDayHigh {
		return false
	}
	ind.Breakout = true

	vwap, err := indicator.VWAP(snap.M1.Candles)
	if err != nil || snap.LastPrice <= vwap {
		return false
	}
	ind.VWAP = vwap

	return hasSmallBodyBullish(snap.M15.Tail(3))
}

// hasSmallBodyBullish reports whether any candle has a body under 30% of its
// range and closed above its open.
func hasSmallBodyBullish(candles []model.Candle) bool {
	for _, c := range candles {
		r := c.Range()
		if r <= 0 {
			continue
		}
		if c.Body() < 0.3*r && c.Close > c.Open {
			return true
		}
	}
	return false
}
