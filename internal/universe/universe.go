// Package universe maintains the scan universe: the watchlist equities with
// their sector, lot size, F&O eligibility and previous-day levels. Refreshed
// from the broker instrument dump once per day before the open.
package universe

import (
	"context"
	"fmt"
	"log"
	"time"

	"signalbot/internal/broker"
	"signalbot/internal/model"
)

// Config holds the universe definition.
type Config struct {
	Exchange            string // default "NSE"
	DerivativesExchange string // default "NFO"

	// Sectors maps watchlist trading symbols to their sector. Symbols not
	// in this map are outside the universe.
	Sectors map[string]string

	// Banned lists symbols currently under F&O ban.
	Banned []string

	// NearMonthWindow bounds how far out a future's expiry may be for the
	// underlying to count as F&O-eligible. Default 35 days.
	NearMonthWindow time.Duration
}

func (c *Config) defaults() {
	if c.Exchange == "" {
		c.Exchange = "NSE"
	}
	if c.DerivativesExchange == "" {
		c.DerivativesExchange = "NFO"
	}
	if c.NearMonthWindow == 0 {
		c.NearMonthWindow = 35 * 24 * time.Hour
	}
}

// Refresher rebuilds the instrument universe from the broker dump.
type Refresher struct {
	cfg    Config
	broker broker.Broker
	store  model.InstrumentStore
	now    func() time.Time
}

// New creates a universe refresher.
func New(cfg Config, b broker.Broker, store model.InstrumentStore) *Refresher {
	cfg.defaults()
	return &Refresher{cfg: cfg, broker: b, store: store, now: time.Now}
}

// SetClock overrides the refresher clock.
func (r *Refresher) SetClock(now func() time.Time) {
	r.now = now
}

// Refresh pulls the equity and derivatives dumps, derives eligibility and
// previous-day levels for the watchlist, and persists the result.
func (r *Refresher) Refresh(ctx context.Context) error {
	fno, lots, err := r.nearMonthFutures(ctx)
	if err != nil {
		return err
	}

	equities, err := r.broker.Instruments(ctx, r.cfg.Exchange)
	if err != nil {
		return fmt.Errorf("universe: equity dump: %w", err)
	}

	banned := make(map[string]bool, len(r.cfg.Banned))
	for _, sym := range r.cfg.Banned {
		banned[sym] = true
	}

	var out []model.Instrument
	for _, meta := range equities {
		sector, ok := r.cfg.Sectors[meta.TradingSymbol]
		if !ok {
			continue
		}

		inst := model.Instrument{
			Token:         meta.Token,
			TradingSymbol: meta.TradingSymbol,
			Exchange:      meta.Exchange,
			Sector:        sector,
			LotSize:       lots[meta.Name],
			Active:        true,
			InFnO:         fno[meta.Name],
			Banned:        banned[meta.TradingSymbol],
		}
		r.fillPrevDay(ctx, &inst)
		out = append(out, inst)
	}

	if len(out) == 0 {
		return fmt.Errorf("universe: no watchlist symbols found in %s dump", r.cfg.Exchange)
	}
	if err := r.store.UpsertInstruments(ctx, out); err != nil {
		return fmt.Errorf("universe: persist: %w", err)
	}
	log.Printf("[universe] refreshed %d instruments", len(out))
	return nil
}

// nearMonthFutures scans the derivatives dump for futures expiring within
// the near-month window, returning eligible underlying names and their lot
// sizes.
func (r *Refresher) nearMonthFutures(ctx context.Context) (map[string]bool, map[string]int, error) {
	dump, err := r.broker.Instruments(ctx, r.cfg.DerivativesExchange)
	if err != nil {
		return nil, nil, fmt.Errorf("universe: derivatives dump: %w", err)
	}

	cutoff := r.now().Add(r.cfg.NearMonthWindow)
	eligible := make(map[string]bool)
	lots := make(map[string]int)
	for _, meta := range dump {
		if meta.InstrumentType != "FUT" || meta.Expiry.IsZero() {
			continue
		}
		if meta.Expiry.After(cutoff) {
			continue
		}
		eligible[meta.Name] = true
		if lot, ok := lots[meta.Name]; !ok || meta.LotSize < lot {
			lots[meta.Name] = meta.LotSize
		}
	}
	return eligible, lots, nil
}

// fillPrevDay copies the previous session's OHLC from the quote. Fail-soft:
// a quote error leaves the fields zero, which only disables the breakout
// check for that instrument.
func (r *Refresher) fillPrevDay(ctx context.Context, inst *model.Instrument) {
	q, err := r.broker.GetQuote(ctx, inst.Exchange, inst.TradingSymbol)
	if err != nil {
		log.Printf("[universe] quote %s: %v", inst.TradingSymbol, err)
		return
	}
	inst.PrevDayOpen = q.Open
	inst.PrevDayHigh = q.High
	inst.PrevDayLow = q.Low
	inst.PrevDayClose = q.Close
	inst.PrevDayVolume = q.Volume
}
