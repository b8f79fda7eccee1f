// Package indicator provides pure technical indicator functions over ordered
// candle sequences.
//
// Every function returns ErrInsufficientData when the sequence is shorter
// than its required lookback. Absence of a value is the normal
// insufficient-history outcome, not a failure.
package indicator

import (
	"errors"

	"signalbot/internal/model"
)

// ErrInsufficientData is returned when the candle history is shorter than
// the indicator's required lookback.
var ErrInsufficientData = errors.New("insufficient candle history")

// ErrInvalidPeriod is returned for non-positive periods or multipliers.
var ErrInvalidPeriod = errors.New("invalid period")

func sum(values []float64) float64 {
	var total float64
	for _, v := range values {
		total += v
	}
	return total
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return sum(values) / float64(len(values))
}

func closePrices(candles []model.Candle) []float64 {
	prices := make([]float64, len(candles))
	for i, c := range candles {
		prices[i] = c.Close
	}
	return prices
}

// trueRange is max(high-low, |high-prevClose|, |low-prevClose|).
func trueRange(current, previous model.Candle) float64 {
	tr := current.High - current.Low
	if hc := abs(current.High - previous.Close); hc > tr {
		tr = hc
	}
	if lc := abs(current.Low - previous.Close); lc > tr {
		tr = lc
	}
	return tr
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

// typicalPrice is (high + low + close) / 3.
func typicalPrice(c model.Candle) float64 {
	return (c.High + c.Low + c.Close) / 3
}

// emaSeries computes the full EMA series of values: index period-1 holds the
// SMA seed, later indices the recursive EMA. Earlier indices are zero.
func emaSeries(values []float64, period int) []float64 {
	if period <= 0 || len(values) < period {
		return nil
	}
	result := make([]float64, len(values))
	multiplier := 2.0 / float64(period+1)
	result[period-1] = mean(values[:period])
	for i := period; i < len(values); i++ {
		result[i] = (values[i]-result[i-1])*multiplier + result[i-1]
	}
	return result
}
