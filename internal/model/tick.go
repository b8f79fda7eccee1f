package model

import "time"

// Tick represents a single market data tick from the broker WebSocket.
type Tick struct {
	Token  uint32    `json:"token"`   // broker instrument token
	Price  float64   `json:"price"`   // last traded price in rupees
	Qty    int64     `json:"qty"`     // traded volume delta since previous tick
	TickTS time.Time `json:"tick_ts"` // exchange timestamp
}
