// Package agg folds the live tick stream into per-instrument 1/5/15-minute
// OHLCV candles and maintains the in-memory market snapshot book.
//
// The 1-minute candle is mutated in place as ticks arrive. When a tick's
// minute differs from the open candle's minute, the candle is closed and
// appended to the bounded 1-minute series. When the new tick has crossed a
// 5-minute boundary the closed candle's 5-minute bucket folds into one
// 5-minute candle, and likewise across 15-minute boundaries for the
// 15-minute series, so thin instruments with tick gaps still fold. Each
// series evicts its oldest entry once its cap is exceeded.
package agg

import (
	"context"
	"sync"
	"time"

	"signalbot/internal/model"
)

// book holds the snapshot and in-progress candle state for one instrument.
type book struct {
	snap       *model.MarketSnapshot
	open       *model.Candle // in-progress 1m candle
	openMinute time.Time     // minute bucket of the open candle
}

// Aggregator builds multi-timeframe candles from a stream of ticks and
// upserts market snapshots on every tick.
type Aggregator struct {
	mu    sync.RWMutex
	books map[uint32]*book

	// OnCandleClose is an optional metrics hook fired per closed candle.
	OnCandleClose func(tf model.Timeframe)
	// OnDroppedTick is an optional metrics hook for late ticks.
	OnDroppedTick func()
}

// New creates an empty aggregator.
func New() *Aggregator {
	return &Aggregator{
		books: make(map[uint32]*book),
	}
}

// Register seeds a snapshot book for an instrument so ticks can be
// attributed to a trading symbol. Unregistered tokens are ignored.
func (a *Aggregator) Register(token uint32, tradingSymbol string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.books[token]; !ok {
		a.books[token] = &book{snap: model.NewMarketSnapshot(token, tradingSymbol)}
	}
}

// Run consumes ticks from tickCh and pushes updated snapshots to snapCh
// (best-effort, non-blocking). Blocks until ctx is cancelled or tickCh is
// closed.
func (a *Aggregator) Run(ctx context.Context, tickCh <-chan model.Tick, snapCh chan<- *model.MarketSnapshot) {
	for {
		select {
		case <-ctx.Done():
			return
		case tick, ok := <-tickCh:
			if !ok {
				return
			}
			if snap := a.OnTick(tick); snap != nil && snapCh != nil {
				select {
				case snapCh <- snap:
				default:
					// snapshot channel full — cache write skipped, the
					// next tick will carry the fresher state anyway
				}
			}
		}
	}
}

// OnTick incorporates one tick and returns a copy of the updated snapshot,
// or nil for unregistered tokens and late ticks.
func (a *Aggregator) OnTick(tick model.Tick) *model.MarketSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	b, ok := a.books[tick.Token]
	if !ok {
		return nil
	}

	minute := tick.TickTS.Truncate(time.Minute)

	if b.open != nil && minute.Before(b.openMinute) {
		// Late tick from an older minute — drop it
		if a.OnDroppedTick != nil {
			a.OnDroppedTick()
		}
		return nil
	}

	if b.open != nil && minute.After(b.openMinute) {
		a.closeCandle(b, minute)
	}

	if b.open == nil {
		b.open = &model.Candle{
			TS:     minute,
			Open:   tick.Price,
			High:   tick.Price,
			Low:    tick.Price,
			Close:  tick.Price,
			Volume: tick.Qty,
		}
		b.openMinute = minute
	} else {
		c := b.open
		if tick.Price > c.High {
			c.High = tick.Price
		}
		if tick.Price < c.Low {
			c.Low = tick.Price
		}
		c.Close = tick.Price
		c.Volume += tick.Qty
	}

	a.updateSnapshot(b, tick)
	return copySnapshot(b.snap)
}

// closeCandle finalizes the open 1m candle and cascades timeframe folds.
// A bucket folds once the incoming tick's minute has crossed into a later
// bucket, not when a specific minute closes, so a bucket whose final minute
// saw no tick still folds on the next tick.
func (a *Aggregator) closeCandle(b *book, nowMinute time.Time) {
	closed := *b.open
	b.open = nil

	b.snap.M1.Append(closed)
	if a.OnCandleClose != nil {
		a.OnCandleClose(model.TF1)
	}

	bucket5 := closed.TS.Truncate(5 * time.Minute)
	if !nowMinute.Truncate(5 * time.Minute).After(bucket5) {
		return
	}
	if c5, ok := foldBucket(b.snap.M1.Candles, bucket5, 5*time.Minute); ok {
		b.snap.M5.Append(c5)
		if a.OnCandleClose != nil {
			a.OnCandleClose(model.TF5)
		}

		bucket15 := closed.TS.Truncate(15 * time.Minute)
		if !nowMinute.Truncate(15 * time.Minute).After(bucket15) {
			return
		}
		if c15, ok := foldBucket(b.snap.M5.Candles, bucket15, 15*time.Minute); ok {
			b.snap.M15.Append(c15)
			if a.OnCandleClose != nil {
				a.OnCandleClose(model.TF15)
			}
		}
	}
}

// foldBucket folds the candles whose start falls inside [start, start+width)
// into one higher-timeframe candle stamped at the bucket start.
func foldBucket(candles []model.Candle, start time.Time, width time.Duration) (model.Candle, bool) {
	end := start.Add(width)
	var members []model.Candle
	for _, c := range candles {
		if !c.TS.Before(start) && c.TS.Before(end) {
			members = append(members, c)
		}
	}
	out, ok := fold(members)
	if ok {
		out.TS = start
	}
	return out, ok
}

// fold merges consecutive candles into one higher-timeframe candle:
// open of the first, close of the last, max high, min low, summed volume.
func fold(candles []model.Candle) (model.Candle, bool) {
	if len(candles) == 0 {
		return model.Candle{}, false
	}
	out := model.Candle{
		TS:     candles[0].TS,
		Open:   candles[0].Open,
		High:   candles[0].High,
		Low:    candles[0].Low,
		Close:  candles[len(candles)-1].Close,
		Volume: 0,
	}
	for _, c := range candles {
		if c.High > out.High {
			out.High = c.High
		}
		if c.Low < out.Low {
			out.Low = c.Low
		}
		out.Volume += c.Volume
	}
	return out, true
}

func (a *Aggregator) updateSnapshot(b *book, tick model.Tick) {
	s := b.snap
	s.LastPrice = tick.Price
	s.UpdatedAt = tick.TickTS
	s.DayVolume += tick.Qty
	if s.DayOpen == 0 {
		s.DayOpen = tick.Price
	}
	if tick.Price > s.DayHigh {
		s.DayHigh = tick.Price
	}
	if s.DayLow == 0 || tick.Price < s.DayLow {
		s.DayLow = tick.Price
	}
}

// Snapshot returns a copy of the instrument's current snapshot. The copy is
// safe to read while ticks keep arriving.
func (a *Aggregator) Snapshot(token uint32) (*model.MarketSnapshot, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	b, ok := a.books[token]
	if !ok {
		return nil, false
	}
	return copySnapshot(b.snap), true
}

// Tokens returns all registered instrument tokens.
func (a *Aggregator) Tokens() []uint32 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	tokens := make([]uint32, 0, len(a.books))
	for t := range a.books {
		tokens = append(tokens, t)
	}
	return tokens
}

func copySnapshot(s *model.MarketSnapshot) *model.MarketSnapshot {
	cp := *s
	cp.M1 = copySeries(s.M1)
	cp.M5 = copySeries(s.M5)
	cp.M15 = copySeries(s.M15)
	return &cp
}

func copySeries(s *model.CandleSeries) *model.CandleSeries {
	out := model.NewCandleSeries(s.TF, s.Max)
	out.Candles = append(out.Candles, s.Candles...)
	return out
}
