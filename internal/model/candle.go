package model

import (
	"strconv"
	"time"
)

// Timeframe is a candle duration in minutes.
type Timeframe int

// String renders the timeframe in minutes ("1", "5", "15"), suitable for
// metric labels.
func (tf Timeframe) String() string {
	return strconv.Itoa(int(tf))
}

const (
	TF1  Timeframe = 1
	TF5  Timeframe = 5
	TF15 Timeframe = 15
)

// Series caps per timeframe. Older candles are evicted FIFO once the cap
// is exceeded (sliding window, not a calendar reset).
const (
	Cap1Min  = 60
	Cap5Min  = 72
	Cap15Min = 30
)

// Candle represents an OHLCV candle. Immutable once closed; the in-progress
// candle is mutated in place as ticks arrive.
type Candle struct {
	TS     time.Time `json:"ts"` // bucket start time, minute-aligned
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
}

// Body returns the absolute open-close distance.
func (c *Candle) Body() float64 {
	b := c.Close - c.Open
	if b < 0 {
		return -b
	}
	return b
}

// Range returns the high-low distance.
func (c *Candle) Range() float64 {
	return c.High - c.Low
}

// Bullish reports whether the candle closed above its open.
func (c *Candle) Bullish() bool {
	return c.Close > c.Open
}

// CandleSeries is a bounded, append-only candle window for one timeframe.
type CandleSeries struct {
	TF      Timeframe `json:"tf"`
	Max     int       `json:"max"`
	Candles []Candle  `json:"candles"`
}

// NewCandleSeries creates a series for the given timeframe and cap.
func NewCandleSeries(tf Timeframe, max int) *CandleSeries {
	return &CandleSeries{TF: tf, Max: max, Candles: make([]Candle, 0, max)}
}

// Append adds a closed candle, evicting the oldest entry once Max is exceeded.
func (s *CandleSeries) Append(c Candle) {
	s.Candles = append(s.Candles, c)
	if len(s.Candles) > s.Max {
		// FIFO eviction at the head
		copy(s.Candles, s.Candles[1:])
		s.Candles = s.Candles[:len(s.Candles)-1]
	}
}

// Len returns the number of stored candles.
func (s *CandleSeries) Len() int {
	return len(s.Candles)
}

// Last returns the most recent candle, if any.
func (s *CandleSeries) Last() (Candle, bool) {
	if len(s.Candles) == 0 {
		return Candle{}, false
	}
	return s.Candles[len(s.Candles)-1], true
}

// Tail returns up to n most recent candles in chronological order.
func (s *CandleSeries) Tail(n int) []Candle {
	if n >= len(s.Candles) {
		return s.Candles
	}
	return s.Candles[len(s.Candles)-n:]
}
