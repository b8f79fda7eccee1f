package indicator

import "signalbot/internal/model"

// RSI computes the Wilder-smoothed Relative Strength Index of closing prices.
// Requires at least period+1 candles.
func RSI(candles []model.Candle, period int) (float64, error) {
	if period <= 0 {
		return 0, ErrInvalidPeriod
	}
	if len(candles) < period+1 {
		return 0, ErrInsufficientData
	}

	closes := closePrices(candles)

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		delta := closes[i] - closes[i-1]
		if delta > 0 {
			avgGain += delta
		} else {
			avgLoss -= delta
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	p := float64(period)
	for i := period + 1; i < len(closes); i++ {
		delta := closes[i] - closes[i-1]
		gain, loss := 0.0, 0.0
		if delta > 0 {
			gain = delta
		} else {
			loss = -delta
		}
		avgGain = (avgGain*(p-1) + gain) / p
		avgLoss = (avgLoss*(p-1) + loss) / p
	}

	if avgLoss == 0 {
		return 100, nil
	}
	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs)), nil
}

// MACDResult holds the MACD line, its signal line and the histogram.
type MACDResult struct {
	Line      float64 `json:"line"`
	Signal    float64 `json:"signal"`
	Histogram float64 `json:"histogram"`
}

// MACD computes Moving Average Convergence Divergence with the given fast,
// slow and signal periods. Requires at least slow+signal candles.
func MACD(candles []model.Candle, fast, slow, signal int) (MACDResult, error) {
	if fast <= 0 || slow <= 0 || signal <= 0 || fast >= slow {
		return MACDResult{}, ErrInvalidPeriod
	}
	if len(candles) < slow+signal {
		return MACDResult{}, ErrInsufficientData
	}

	closes := closePrices(candles)
	fastEMA := emaSeries(closes, fast)
	slowEMA := emaSeries(closes, slow)

	// MACD line is defined from index slow-1 onward.
	macdLine := make([]float64, 0, len(closes)-slow+1)
	for i := slow - 1; i < len(closes); i++ {
		macdLine = append(macdLine, fastEMA[i]-slowEMA[i])
	}

	signalLine := emaSeries(macdLine, signal)
	last := len(macdLine) - 1
	line := macdLine[last]
	sig := signalLine[last]

	return MACDResult{
		Line:      line,
		Signal:    sig,
		Histogram: line - sig,
	}, nil
}
