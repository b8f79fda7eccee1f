package model

import (
	"encoding/json"
	"time"
)

// MarketSnapshot holds the latest per-instrument market state: last price,
// intraday OHLCV and the three bounded candle sequences. One per instrument
// (index instruments included); upserted on every tick.
type MarketSnapshot struct {
	Token         uint32    `json:"token"`
	TradingSymbol string    `json:"trading_symbol"`
	LastPrice     float64   `json:"last_price"`
	DayOpen       float64   `json:"day_open"`
	DayHigh       float64   `json:"day_high"`
	DayLow        float64   `json:"day_low"`
	DayVolume     int64     `json:"day_volume"`
	UpdatedAt     time.Time `json:"updated_at"`

	M1  *CandleSeries `json:"m1"`
	M5  *CandleSeries `json:"m5"`
	M15 *CandleSeries `json:"m15"`
}

// NewMarketSnapshot creates an empty snapshot with bounded candle series.
func NewMarketSnapshot(token uint32, symbol string) *MarketSnapshot {
	return &MarketSnapshot{
		Token:         token,
		TradingSymbol: symbol,
		M1:            NewCandleSeries(TF1, Cap1Min),
		M5:            NewCandleSeries(TF5, Cap5Min),
		M15:           NewCandleSeries(TF15, Cap15Min),
	}
}

// JSON returns the JSON-encoded snapshot (errors ignored for hot-path usage).
func (s *MarketSnapshot) JSON() []byte {
	b, _ := json.Marshal(s)
	return b
}
