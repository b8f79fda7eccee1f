package indicator

import (
	"math"

	"signalbot/internal/model"
)

// ATR computes the Wilder-smoothed Average True Range.
// Requires at least period+1 candles.
func ATR(candles []model.Candle, period int) (float64, error) {
	if period <= 0 {
		return 0, ErrInvalidPeriod
	}
	n := len(candles)
	if n < period+1 {
		return 0, ErrInsufficientData
	}

	var trSum float64
	for i := 1; i <= period; i++ {
		trSum += trueRange(candles[i], candles[i-1])
	}
	atr := trSum / float64(period)

	for i := period + 1; i < n; i++ {
		atr = (atr*float64(period-1) + trueRange(candles[i], candles[i-1])) / float64(period)
	}
	return atr, nil
}

// Bands holds Bollinger band levels.
type Bands struct {
	Upper  float64 `json:"upper"`
	Middle float64 `json:"middle"`
	Lower  float64 `json:"lower"`
}

// BollingerBands computes Bollinger Bands over the most recent period closes.
// Requires at least period candles.
func BollingerBands(candles []model.Candle, period int, stdDevMul float64) (Bands, error) {
	if period <= 0 || stdDevMul <= 0 {
		return Bands{}, ErrInvalidPeriod
	}
	if len(candles) < period {
		return Bands{}, ErrInsufficientData
	}

	closes := closePrices(candles)
	window := closes[len(closes)-period:]
	middle := mean(window)

	var variance float64
	for _, v := range window {
		diff := v - middle
		variance += diff * diff
	}
	sd := math.Sqrt(variance / float64(period))

	return Bands{
		Upper:  middle + stdDevMul*sd,
		Middle: middle,
		Lower:  middle - stdDevMul*sd,
	}, nil
}
