package broker

import (
	"context"
	"log"
	"sync"
	"time"

	kitemodels "github.com/zerodha/gokiteconnect/v4/models"
	kiteticker "github.com/zerodha/gokiteconnect/v4/ticker"

	"signalbot/internal/model"
)

// KiteTicker streams live ticks from the Kite WebSocket, normalizing them
// into model.Tick with per-token volume deltas (Kite reports cumulative
// day volume).
type KiteTicker struct {
	apiKey      string
	accessToken string
	maxRetries  int

	mu         sync.Mutex
	lastVolume map[uint32]int64

	// OnReconnect is an optional metrics hook.
	OnReconnect func()
}

// KiteTickerConfig holds ticker configuration.
type KiteTickerConfig struct {
	APIKey      string
	AccessToken string
	MaxRetries  int // reconnect attempt budget, default 5
}

// NewKiteTicker creates a Kite tick streamer.
func NewKiteTicker(cfg KiteTickerConfig) *KiteTicker {
	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 5
	}
	return &KiteTicker{
		apiKey:      cfg.APIKey,
		accessToken: cfg.AccessToken,
		maxRetries:  maxRetries,
		lastVolume:  make(map[uint32]int64),
	}
}

// Stream connects to the Kite WebSocket, subscribes the tokens in full mode
// and pushes normalized ticks into out until ctx is cancelled. Reconnects
// with the ticker's built-in bounded exponential backoff.
func (t *KiteTicker) Stream(ctx context.Context, tokens []uint32, out chan<- model.Tick) error {
	ticker := kiteticker.New(t.apiKey, t.accessToken)
	ticker.SetAutoReconnect(true)
	ticker.SetReconnectMaxRetries(t.maxRetries)
	ticker.SetReconnectMaxDelay(30 * time.Second)

	ticker.OnConnect(func() {
		log.Printf("[ticker] connected, subscribing %d tokens", len(tokens))
		if err := ticker.Subscribe(tokens); err != nil {
			log.Printf("[ticker] subscribe error: %v", err)
			return
		}
		if err := ticker.SetMode(kiteticker.ModeFull, tokens); err != nil {
			log.Printf("[ticker] set mode error: %v", err)
		}
	})

	ticker.OnReconnect(func(attempt int, delay time.Duration) {
		log.Printf("[ticker] reconnecting attempt=%d delay=%v", attempt, delay)
		if t.OnReconnect != nil {
			t.OnReconnect()
		}
	})

	ticker.OnNoReconnect(func(attempt int) {
		log.Printf("[ticker] gave up reconnecting after %d attempts", attempt)
	})

	ticker.OnError(func(err error) {
		log.Printf("[ticker] error: %v", err)
	})

	ticker.OnTick(func(kt kitemodels.Tick) {
		tick := t.normalize(kt)

		select {
		case out <- tick:
		default:
			// tick channel full, drop rather than stall the reader
		}
	})

	go func() {
		<-ctx.Done()
		ticker.Stop()
	}()

	ticker.Serve()
	return ctx.Err()
}

// normalize converts a Kite tick into a model.Tick, deriving the traded
// volume delta from the cumulative day volume.
func (t *KiteTicker) normalize(kt kitemodels.Tick) model.Tick {
	cum := int64(kt.VolumeTraded)

	t.mu.Lock()
	prev := t.lastVolume[kt.InstrumentToken]
	delta := cum - prev
	if delta < 0 {
		// volume reset (new session) — treat cumulative as the delta
		delta = cum
	}
	t.lastVolume[kt.InstrumentToken] = cum
	t.mu.Unlock()

	ts := kt.Timestamp.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	return model.Tick{
		Token:  kt.InstrumentToken,
		Price:  kt.LastPrice,
		Qty:    delta,
		TickTS: ts,
	}
}

var _ TickStreamer = (*KiteTicker)(nil)
