package model

import "time"

// OrderStatus is the lifecycle state of an order or sub-order.
type OrderStatus string

const (
	StatusOpen      OrderStatus = "OPEN"
	StatusComplete  OrderStatus = "COMPLETE"
	StatusRejected  OrderStatus = "REJECTED"
	StatusCancelled OrderStatus = "CANCELLED"
	// StatusTimedOut marks a fill that was never confirmed within the
	// polling budget. Distinct from REJECTED/CANCELLED.
	StatusTimedOut OrderStatus = "TIMEOUT"
)

// Terminal reports whether the status is a terminal broker state.
func (s OrderStatus) Terminal() bool {
	return s == StatusComplete || s == StatusRejected || s == StatusCancelled
}

// SubOrder is a protective order (stop-loss or target) hanging off a parent
// order, with its own broker id and lifecycle.
type SubOrder struct {
	BrokerOrderID string      `json:"broker_order_id"`
	TriggerPrice  float64     `json:"trigger_price,omitempty"` // stop-loss trigger
	Price         float64     `json:"price,omitempty"`         // target limit price
	Status        OrderStatus `json:"status"`
	PlacedAt      time.Time   `json:"placed_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// Order is one execution lifecycle for a signal. The stop-loss and target
// sub-orders are mutually exclusive terminal outcomes: when one completes,
// the other is actively cancelled.
type Order struct {
	ID            string      `json:"id"`
	SignalID      string      `json:"signal_id"`
	BrokerOrderID string      `json:"broker_order_id"`
	Status        OrderStatus `json:"status"`
	Side          Direction   `json:"side"`
	TradingSymbol string      `json:"trading_symbol"`
	Exchange      string      `json:"exchange"`
	Quantity      int         `json:"quantity"`
	Price         float64     `json:"price"`     // limit price (0 for market)
	AvgPrice      float64     `json:"avg_price"` // fill average
	FilledQty     int         `json:"filled_qty"`
	PendingQty    int         `json:"pending_qty"`
	CancelledQty  int         `json:"cancelled_qty"`
	Tag           string      `json:"tag"`
	PlacedAt      time.Time   `json:"placed_at"`
	UpdatedAt     time.Time   `json:"updated_at"`

	StopLossOrder *SubOrder `json:"stop_loss_order,omitempty"`
	TargetOrder   *SubOrder `json:"target_order,omitempty"`
}

// HasOpenSubOrders reports whether either protective leg is still open.
func (o *Order) HasOpenSubOrders() bool {
	if o.StopLossOrder != nil && o.StopLossOrder.Status == StatusOpen {
		return true
	}
	if o.TargetOrder != nil && o.TargetOrder.Status == StatusOpen {
		return true
	}
	return false
}
