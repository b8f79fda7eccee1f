package indicator

import "signalbot/internal/model"

// VWAP computes the volume-weighted average price over the given window:
// cumulative typical-price×volume over cumulative volume.
// Returns ErrInsufficientData for an empty window or zero total volume.
func VWAP(candles []model.Candle) (float64, error) {
	if len(candles) == 0 {
		return 0, ErrInsufficientData
	}

	var pvSum, volSum float64
	for _, c := range candles {
		pvSum += typicalPrice(c) * float64(c.Volume)
		volSum += float64(c.Volume)
	}
	if volSum == 0 {
		return 0, ErrInsufficientData
	}
	return pvSum / volSum, nil
}

// HasVolumeSpike reports whether the most recent candle's volume exceeds
// threshold × the average volume of the preceding lookback candles.
// Returns false if fewer than lookback+1 candles are available.
func HasVolumeSpike(candles []model.Candle, lookback int, threshold float64) bool {
	if lookback <= 0 || len(candles) < lookback+1 {
		return false
	}
	latest := candles[len(candles)-1]
	prior := candles[len(candles)-1-lookback : len(candles)-1]

	var volSum float64
	for _, c := range prior {
		volSum += float64(c.Volume)
	}
	avg := volSum / float64(lookback)
	if avg == 0 {
		return false
	}
	return float64(latest.Volume) > threshold*avg
}

// HasPriceBreakout reports whether the latest close exceeds the highest high
// of the preceding lookback candles.
// Returns false if fewer than lookback+1 candles are available.
func HasPriceBreakout(candles []model.Candle, lookback int) bool {
	if lookback <= 0 || len(candles) < lookback+1 {
		return false
	}
	latest := candles[len(candles)-1]
	prior := candles[len(candles)-1-lookback : len(candles)-1]

	highest := prior[0].High
	for _, c := range prior[1:] {
		if c.High > highest {
			highest = c.High
		}
	}
	return latest.Close > highest
}
