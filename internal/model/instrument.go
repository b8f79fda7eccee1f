package model

// Instrument represents a tradeable instrument in the scan universe.
// Mutated only by the periodic universe refresh; read-only to the pipeline.
type Instrument struct {
	Token         uint32  `json:"token"`
	TradingSymbol string  `json:"trading_symbol"`
	Exchange      string  `json:"exchange"`
	Sector        string  `json:"sector"`
	LotSize       int     `json:"lot_size"`
	Active        bool    `json:"active"`
	InFnO         bool    `json:"in_fno"` // has near-month derivative contracts
	Banned        bool    `json:"banned"` // under F&O ban

	PrevDayOpen   float64 `json:"prev_day_open"`
	PrevDayHigh   float64 `json:"prev_day_high"`
	PrevDayLow    float64 `json:"prev_day_low"`
	PrevDayClose  float64 `json:"prev_day_close"`
	PrevDayVolume int64   `json:"prev_day_volume"`
	AvgVolume20D  int64   `json:"avg_volume_20d"`
}

// Tradable reports whether the instrument passes the static universe gates.
func (i *Instrument) Tradable() bool {
	return i.Active && i.InFnO && !i.Banned
}
