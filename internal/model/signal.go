package model

import (
	"encoding/json"
	"time"
)

// Direction is the trade direction of a signal.
type Direction string

const (
	DirectionBuy  Direction = "BUY"
	DirectionSell Direction = "SELL"
)

// ExitReason records why a trade was closed.
type ExitReason string

const (
	ExitStopLoss ExitReason = "SL_HIT"
	ExitTarget   ExitReason = "TARGET_HIT"
)

// IndicatorSnapshot captures the indicator values that produced a signal.
type IndicatorSnapshot struct {
	RSI           float64 `json:"rsi"`
	MACDHistogram float64 `json:"macd_histogram"`
	EMA20         float64 `json:"ema20"`
	EMA50         float64 `json:"ema50"`
	SuperTrend    float64 `json:"supertrend"`
	SuperTrendUp  bool    `json:"supertrend_up"`
	VWAP          float64 `json:"vwap"`
	ATR           float64 `json:"atr"`
	VolumeSpike   bool    `json:"volume_spike"`
	Breakout      bool    `json:"breakout"`
}

// Signal is a trade candidate produced by the filter pipeline. Identity is
// immutable once created; execution fields are mutated by the executor and
// the completion reconciler. One signal maps to at most one order lifecycle.
type Signal struct {
	ID           string    `json:"id"`
	Direction    Direction `json:"direction"`
	Underlying   string    `json:"underlying"`    // e.g. "RELIANCE"
	OptionSymbol string    `json:"option_symbol"` // e.g. "RELIANCE 2500 CE"
	CurrentPrice float64   `json:"current_price"`
	EntryPrice   float64   `json:"entry_price"`
	TargetPrice  float64   `json:"target_price"`
	StopLoss     float64   `json:"stop_loss"`
	RiskReward   float64   `json:"risk_reward"`
	GeneratedAt  time.Time `json:"generated_at"`

	Notified bool `json:"notified"` // sent to the notification sink at most once
	Executed bool `json:"executed"` // flips false→true exactly once
	Expired  bool `json:"expired"`  // stale signal from a previous trading day

	ExecutedAt  *time.Time `json:"executed_at,omitempty"`
	OrderStatus string     `json:"order_status,omitempty"`
	ExitPrice   float64    `json:"exit_price,omitempty"`
	ExitAt      *time.Time `json:"exit_at,omitempty"`
	ExitReason  ExitReason `json:"exit_reason,omitempty"`
	ProfitLoss  float64    `json:"profit_loss,omitempty"`

	Indicators IndicatorSnapshot `json:"indicators"`
	Notes      string            `json:"notes,omitempty"`
}

// JSON returns the JSON-encoded signal.
func (s *Signal) JSON() []byte {
	b, _ := json.Marshal(s)
	return b
}
