package model

import "time"

// TradeDetail is one closed trade inside a day's analytics.
type TradeDetail struct {
	SignalID      string     `json:"signal_id"`
	TradingSymbol string     `json:"trading_symbol"`
	Quantity      int        `json:"quantity"`
	EntryPrice    float64    `json:"entry_price"`
	ExitPrice     float64    `json:"exit_price"`
	ProfitLoss    float64    `json:"profit_loss"`
	ExitReason    ExitReason `json:"exit_reason"`
	ClosedAt      time.Time  `json:"closed_at"`
}

// DailyAnalytics aggregates one calendar day of signal and trade activity.
// Created lazily on the first signal/trade of the day; mutated throughout
// the day via atomic increments; never deleted.
type DailyAnalytics struct {
	Day            string  `json:"day"` // "2006-01-02" in exchange time
	SignalCount    int     `json:"signal_count"`
	BuySignals     int     `json:"buy_signals"`
	SellSignals    int     `json:"sell_signals"`
	ExecutedOrders int     `json:"executed_orders"`
	Wins           int     `json:"wins"`
	Losses         int     `json:"losses"`
	TotalPnL       float64 `json:"total_pnl"`
	WinRate        float64 `json:"win_rate"`
	AvgWin         float64 `json:"avg_win"`
	AvgLoss        float64 `json:"avg_loss"`
	LargestWin     float64 `json:"largest_win"`
	LargestLoss    float64 `json:"largest_loss"`

	Trades []TradeDetail `json:"trades"`
}

// DayKey formats a time as an analytics day key.
func DayKey(t time.Time) string {
	return t.Format("2006-01-02")
}
