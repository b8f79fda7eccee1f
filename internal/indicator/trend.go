package indicator

import "signalbot/internal/model"

// EMA computes the exponential moving average of closing prices.
// Requires at least period candles.
func EMA(candles []model.Candle, period int) (float64, error) {
	if period <= 0 {
		return 0, ErrInvalidPeriod
	}
	if len(candles) < period {
		return 0, ErrInsufficientData
	}
	series := emaSeries(closePrices(candles), period)
	return series[len(series)-1], nil
}

// SuperTrendResult holds the current SuperTrend value and trend direction.
type SuperTrendResult struct {
	Value float64 `json:"value"`
	Up    bool    `json:"up"`
}

// SuperTrend computes the SuperTrend indicator iteratively in a single
// left-to-right pass. Basic bands are midpoint ± multiplier×ATR; the trend
// flips when the close crosses the carried band, and the first computable
// point seeds the trend from price vs. the lower band.
// Requires at least period+1 candles.
func SuperTrend(candles []model.Candle, period int, multiplier float64) (SuperTrendResult, error) {
	series, err := superTrendSeries(candles, period, multiplier)
	if err != nil {
		return SuperTrendResult{}, err
	}
	return series[len(series)-1], nil
}

// superTrendSeries returns one SuperTrendResult per candle from index period
// onward. Strictly causal: the value at index i depends only on candles[:i+1],
// so recomputing over a prefix yields the same sequence as extending
// incrementally.
func superTrendSeries(candles []model.Candle, period int, multiplier float64) ([]SuperTrendResult, error) {
	if period <= 0 || multiplier <= 0 {
		return nil, ErrInvalidPeriod
	}
	n := len(candles)
	if n < period+1 {
		return nil, ErrInsufficientData
	}

	// Wilder ATR, seeded with the SMA of the first period true ranges.
	atr := make([]float64, n)
	var trSum float64
	for i := 1; i <= period; i++ {
		trSum += trueRange(candles[i], candles[i-1])
	}
	atr[period] = trSum / float64(period)
	for i := period + 1; i < n; i++ {
		atr[i] = (atr[i-1]*float64(period-1) + trueRange(candles[i], candles[i-1])) / float64(period)
	}

	results := make([]SuperTrendResult, 0, n-period)
	var finalUpper, finalLower, st float64
	var up bool

	for i := period; i < n; i++ {
		mid := (candles[i].High + candles[i].Low) / 2
		basicUpper := mid + multiplier*atr[i]
		basicLower := mid - multiplier*atr[i]

		if i == period {
			finalUpper = basicUpper
			finalLower = basicLower
			up = candles[i].Close > basicLower
			if up {
				st = finalLower
			} else {
				st = finalUpper
			}
			results = append(results, SuperTrendResult{Value: st, Up: up})
			continue
		}

		prevClose := candles[i-1].Close
		if basicUpper < finalUpper || prevClose > finalUpper {
			finalUpper = basicUpper
		}
		if basicLower > finalLower || prevClose < finalLower {
			finalLower = basicLower
		}

		if up {
			if candles[i].Close < finalLower {
				up = false
				st = finalUpper
			} else {
				st = finalLower
			}
		} else {
			if candles[i].Close > finalUpper {
				up = true
				st = finalLower
			} else {
				st = finalUpper
			}
		}
		results = append(results, SuperTrendResult{Value: st, Up: up})
	}

	return results, nil
}
