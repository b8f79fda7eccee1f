// Package broker defines the brokerage capability interface consumed by the
// pipeline, executor and reconciler, plus its Zerodha Kite Connect and paper
// implementations.
package broker

import (
	"context"
	"time"

	"signalbot/internal/model"
)

// Order field constants, aligned with Kite Connect vocabulary.
const (
	VarietyRegular = "regular"

	OrderTypeMarket = "MARKET"
	OrderTypeLimit  = "LIMIT"
	OrderTypeSLM    = "SL-M"

	ProductMIS = "MIS"

	ValidityDay = "DAY"
)

// Quote is the latest market state for one instrument.
type Quote struct {
	LastPrice float64 `json:"last_price"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"` // previous close
	Volume    int64   `json:"volume"`
}

// OrderRequest describes an order to place.
type OrderRequest struct {
	Exchange      string
	TradingSymbol string
	Side          model.Direction
	Quantity      int
	Price         float64 // limit price, 0 for market
	TriggerPrice  float64 // stop-loss trigger
	OrderType     string  // MARKET, LIMIT, SL-M
	Product       string  // MIS
	Validity      string  // DAY
	Variety       string  // regular
	Tag           string  // correlation tag
}

// OrderState is one status record from the broker's order history.
type OrderState struct {
	OrderID       string            `json:"order_id"`
	Status        model.OrderStatus `json:"status"`
	StatusMessage string            `json:"status_message"`
	FilledQty     int               `json:"filled_qty"`
	PendingQty    int               `json:"pending_qty"`
	CancelledQty  int               `json:"cancelled_qty"`
	AvgPrice      float64           `json:"avg_price"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// InstrumentMeta is one row of the broker's instrument dump.
type InstrumentMeta struct {
	Token          uint32
	TradingSymbol  string
	Name           string
	Exchange       string
	Segment        string
	InstrumentType string // EQ, FUT, CE, PE
	Expiry         time.Time
	LotSize        int
}

// Broker is the brokerage capability interface. Implementations must treat
// every call as independently failable; callers contain failures at the
// per-instrument or per-signal granularity.
type Broker interface {
	// GetQuote resolves the current quote for exchange:tradingsymbol.
	GetQuote(ctx context.Context, exchange, tradingSymbol string) (Quote, error)

	// PlaceOrder places an order and returns the broker order id.
	PlaceOrder(ctx context.Context, req OrderRequest) (string, error)

	// OrderHistory returns the ordered status records for an order,
	// oldest first.
	OrderHistory(ctx context.Context, orderID string) ([]OrderState, error)

	// CancelOrder cancels an open order.
	CancelOrder(ctx context.Context, variety, orderID string) error

	// Instruments returns the instrument dump for an exchange segment
	// (e.g. "NSE", "NFO").
	Instruments(ctx context.Context, exchange string) ([]InstrumentMeta, error)
}

// TickStreamer streams live ticks for the subscribed tokens into out.
// The stream is infinite and restartable: implementations reconnect with
// bounded exponential backoff until ctx is cancelled.
type TickStreamer interface {
	Stream(ctx context.Context, tokens []uint32, out chan<- model.Tick) error
}

// LatestState returns the last (most recent) record of an order history.
func LatestState(history []OrderState) (OrderState, bool) {
	if len(history) == 0 {
		return OrderState{}, false
	}
	return history[len(history)-1], true
}
