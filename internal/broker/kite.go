package broker

import (
	"context"
	"fmt"
	"strings"
	"sync"

	kiteconnect "github.com/zerodha/gokiteconnect/v4"

	"signalbot/internal/model"
)

// KiteBroker implements Broker against Zerodha Kite Connect.
type KiteBroker struct {
	client *kiteconnect.Client

	mu          sync.RWMutex
	accessToken string
}

// KiteConfig holds Kite Connect credentials.
type KiteConfig struct {
	APIKey      string
	AccessToken string
}

// NewKiteBroker creates a Kite Connect broker client.
func NewKiteBroker(cfg KiteConfig) *KiteBroker {
	client := kiteconnect.New(cfg.APIKey)
	if cfg.AccessToken != "" {
		client.SetAccessToken(cfg.AccessToken)
	}
	return &KiteBroker{
		client:      client,
		accessToken: cfg.AccessToken,
	}
}

// SetAccessToken swaps the session token after a refresh.
func (k *KiteBroker) SetAccessToken(token string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.accessToken = token
	k.client.SetAccessToken(token)
}

// AccessToken returns the current session token.
func (k *KiteBroker) AccessToken() string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.accessToken
}

// Client exposes the underlying Kite client for session management.
func (k *KiteBroker) Client() *kiteconnect.Client {
	return k.client
}

func (k *KiteBroker) GetQuote(ctx context.Context, exchange, tradingSymbol string) (Quote, error) {
	key := exchange + ":" + tradingSymbol
	quotes, err := k.client.GetQuote(key)
	if err != nil {
		return Quote{}, fmt.Errorf("kite quote %s: %w", key, err)
	}
	q, ok := quotes[key]
	if !ok {
		return Quote{}, fmt.Errorf("kite quote %s: no data", key)
	}
	return Quote{
		LastPrice: q.LastPrice,
		Open:      q.OHLC.Open,
		High:      q.OHLC.High,
		Low:       q.OHLC.Low,
		Close:     q.OHLC.Close,
		Volume:    int64(q.Volume),
	}, nil
}

func (k *KiteBroker) PlaceOrder(ctx context.Context, req OrderRequest) (string, error) {
	variety := req.Variety
	if variety == "" {
		variety = VarietyRegular
	}
	validity := req.Validity
	if validity == "" {
		validity = ValidityDay
	}

	resp, err := k.client.PlaceOrder(variety, kiteconnect.OrderParams{
		Exchange:        req.Exchange,
		Tradingsymbol:   req.TradingSymbol,
		TransactionType: string(req.Side),
		OrderType:       req.OrderType,
		Product:         req.Product,
		Quantity:        req.Quantity,
		Price:           req.Price,
		TriggerPrice:    req.TriggerPrice,
		Validity:        validity,
		Tag:             req.Tag,
	})
	if err != nil {
		return "", fmt.Errorf("kite place order %s %s: %w", req.Side, req.TradingSymbol, err)
	}
	return resp.OrderID, nil
}

func (k *KiteBroker) OrderHistory(ctx context.Context, orderID string) ([]OrderState, error) {
	records, err := k.client.GetOrderHistory(orderID)
	if err != nil {
		return nil, fmt.Errorf("kite order history %s: %w", orderID, err)
	}

	states := make([]OrderState, 0, len(records))
	for _, r := range records {
		states = append(states, OrderState{
			OrderID:       r.OrderID,
			Status:        mapKiteStatus(r.Status),
			StatusMessage: r.StatusMessage,
			FilledQty:     int(r.FilledQuantity),
			PendingQty:    int(r.PendingQuantity),
			CancelledQty:  int(r.CancelledQuantity),
			AvgPrice:      r.AveragePrice,
			UpdatedAt:     r.OrderTimestamp.Time,
		})
	}
	return states, nil
}

func (k *KiteBroker) CancelOrder(ctx context.Context, variety, orderID string) error {
	if variety == "" {
		variety = VarietyRegular
	}
	if _, err := k.client.CancelOrder(variety, orderID, nil); err != nil {
		return fmt.Errorf("kite cancel order %s: %w", orderID, err)
	}
	return nil
}

func (k *KiteBroker) Instruments(ctx context.Context, exchange string) ([]InstrumentMeta, error) {
	dump, err := k.client.GetInstrumentsByExchange(exchange)
	if err != nil {
		return nil, fmt.Errorf("kite instruments %s: %w", exchange, err)
	}

	metas := make([]InstrumentMeta, 0, len(dump))
	for _, in := range dump {
		metas = append(metas, InstrumentMeta{
			Token:          uint32(in.InstrumentToken),
			TradingSymbol:  in.Tradingsymbol,
			Name:           in.Name,
			Exchange:       in.Exchange,
			Segment:        in.Segment,
			InstrumentType: in.InstrumentType,
			Expiry:         in.Expiry.Time,
			LotSize:        int(in.LotSize),
		})
	}
	return metas, nil
}

// mapKiteStatus normalizes Kite order statuses onto the internal lifecycle.
// Anything non-terminal (OPEN, TRIGGER PENDING, PUT ORDER REQ RECEIVED, ...)
// maps to OPEN.
func mapKiteStatus(status string) model.OrderStatus {
	switch strings.ToUpper(status) {
	case "COMPLETE":
		return model.StatusComplete
	case "REJECTED":
		return model.StatusRejected
	case "CANCELLED":
		return model.StatusCancelled
	default:
		return model.StatusOpen
	}
}

var _ Broker = (*KiteBroker)(nil)
