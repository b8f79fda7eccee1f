// Package pipeline implements the seven-stage signal filter: market trend on
// two benchmark indices, sector strength, universe narrowing, technical
// filter, price action, risk filter and the intraday time-window gate.
//
// Each invocation either aborts (empty result) or emits at most one signal;
// the 15-minute spacing invariant makes a second signal in the same firing
// impossible anyway. There is no partial-run retry — the scheduler simply
// fires the pipeline again on its next tick.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/google/uuid"

	"signalbot/internal/markethours"
	"signalbot/internal/model"
	"signalbot/internal/notify"
)

// SnapshotSource serves current market snapshots, typically the in-memory
// aggregator.
type SnapshotSource interface {
	Snapshot(token uint32) (*model.MarketSnapshot, bool)
}

// SectorProvider names the currently strong sectors. Pluggable: the default
// is a static config list, a derived implementation can rank sector indices.
type SectorProvider interface {
	StrongSectors(ctx context.Context) ([]string, error)
}

// StaticSectors is a fixed strong-sector list.
type StaticSectors []string

func (s StaticSectors) StrongSectors(ctx context.Context) ([]string, error) {
	return s, nil
}

// Config holds the pipeline tuning knobs.
type Config struct {
	// BenchmarkTokens are the two index instruments gating the run.
	BenchmarkTokens []uint32

	DailySignalCap   int           // default 6
	MinSignalSpacing time.Duration // default 15m

	// MaxStopLossPct rejects signals whose stop distance exceeds this
	// percentage of the entry price. Default 0.5.
	MaxStopLossPct float64

	MinEntryPrice float64 // default 50
	MaxEntryPrice float64 // default 5000
}

func (c *Config) defaults() {
	if c.DailySignalCap == 0 {
		c.DailySignalCap = 6
	}
	if c.MinSignalSpacing == 0 {
		c.MinSignalSpacing = 15 * time.Minute
	}
	if c.MaxStopLossPct == 0 {
		c.MaxStopLossPct = 0.5
	}
	if c.MinEntryPrice == 0 {
		c.MinEntryPrice = 50
	}
	if c.MaxEntryPrice == 0 {
		c.MaxEntryPrice = 5000
	}
}

// Pipeline scans the tradable universe and emits trade signals.
type Pipeline struct {
	cfg         Config
	snaps       SnapshotSource
	sectors     SectorProvider
	instruments model.InstrumentStore
	signals     model.SignalStore
	analytics   model.AnalyticsStore
	notifier    notify.Notifier

	now func() time.Time

	// OnSignal is an optional metrics hook fired per emitted signal.
	OnSignal func()
}

// New creates a pipeline. The clock defaults to time.Now and is injectable
// for tests.
func New(cfg Config, snaps SnapshotSource, sectors SectorProvider,
	instruments model.InstrumentStore, signals model.SignalStore,
	analytics model.AnalyticsStore, notifier notify.Notifier) *Pipeline {

	cfg.defaults()
	return &Pipeline{
		cfg:         cfg,
		snaps:       snaps,
		sectors:     sectors,
		instruments: instruments,
		signals:     signals,
		analytics:   analytics,
		notifier:    notifier,
		now:         time.Now,
	}
}

// SetClock overrides the pipeline clock.
func (p *Pipeline) SetClock(now func() time.Time) {
	p.now = now
}

// Run executes one pipeline invocation and returns the emitted signals.
// A nil, nil return means the run was gated or no candidate survived.
func (p *Pipeline) Run(ctx context.Context) ([]model.Signal, error) {
	now := p.now()

	if !markethours.IsMarketOpen(now) {
		return nil, nil
	}
	if !markethours.InSignalWindow(now) {
		log.Printf("[pipeline] outside signal window, skipping")
		return nil, nil
	}

	count, err := p.signals.CountSignalsOn(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("pipeline: count signals: %w", err)
	}
	if count >= p.cfg.DailySignalCap {
		log.Printf("[pipeline] daily signal cap %d reached", p.cfg.DailySignalCap)
		return nil, nil
	}

	last, ok, err := p.signals.LastSignalTime(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("pipeline: last signal time: %w", err)
	}
	if ok && now.Sub(last) < p.cfg.MinSignalSpacing {
		return nil, nil
	}

	if !p.marketTrendBullish() {
		log.Printf("[pipeline] benchmark indices not bullish, aborting run")
		return nil, nil
	}

	strong, err := p.sectors.StrongSectors(ctx)
	if err != nil {
		return nil, fmt.Errorf("pipeline: strong sectors: %w", err)
	}
	if len(strong) == 0 {
		log.Printf("[pipeline] no strong sectors, aborting run")
		return nil, nil
	}
	strongSet := make(map[string]bool, len(strong))
	for _, s := range strong {
		strongSet[s] = true
	}

	universe, err := p.instruments.Instruments(ctx)
	if err != nil {
		return nil, fmt.Errorf("pipeline: load universe: %w", err)
	}

	var emitted []model.Signal
	for i := range universe {
		inst := &universe[i]
		if !inst.Tradable() || !strongSet[inst.Sector] {
			continue
		}

		snap, ok := p.snaps.Snapshot(inst.Token)
		if !ok {
			continue
		}

		ind, ok := evaluateTechnical(snap)
		if !ok {
			continue
		}
		if !evaluatePriceAction(snap, inst, &ind) {
			continue
		}

		sig, ok := p.buildSignal(snap, inst, ind, now)
		if !ok {
			continue
		}

		if err := p.emit(ctx, &sig); err != nil {
			log.Printf("[pipeline] emit %s: %v", sig.Underlying, err)
			continue
		}
		emitted = append(emitted, sig)

		// one accepted signal per firing keeps the spacing invariant
		break
	}
	return emitted, nil
}

// marketTrendBullish requires RSI(14) > 50 and price above EMA(21) on both
// benchmark indices, computed on the 5-minute series.
func (p *Pipeline) marketTrendBullish() bool {
	if len(p.cfg.BenchmarkTokens) == 0 {
		return false
	}
	for _, token := range p.cfg.BenchmarkTokens {
		snap, ok := p.snaps.Snapshot(token)
		if !ok {
			return false
		}
		if !indexBullish(snap) {
			return false
		}
	}
	return true
}

// buildSignal runs the risk filter and constructs the signal. Returns false
// when the candidate is rejected.
func (p *Pipeline) buildSignal(snap *model.MarketSnapshot, inst *model.Instrument,
	ind model.IndicatorSnapshot, now time.Time) (model.Signal, bool) {

	entry := snap.LastPrice
	if inst.LotSize <= 0 || entry < p.cfg.MinEntryPrice || entry > p.cfg.MaxEntryPrice {
		return model.Signal{}, false
	}

	stopLoss := entry - 1.5*ind.ATR
	target := entry + 3*ind.ATR

	slDist := entry - stopLoss
	if slDist <= 0 || slDist > entry*p.cfg.MaxStopLossPct/100 {
		return model.Signal{}, false
	}
	rr := (target - entry) / slDist
	if rr+1e-9 < 2 {
		return model.Signal{}, false
	}

	strike := int(math.Round(entry/100) * 100)
	return model.Signal{
		ID:           uuid.NewString(),
		Direction:    model.DirectionBuy,
		Underlying:   inst.TradingSymbol,
		OptionSymbol: fmt.Sprintf("%s %d CE", inst.TradingSymbol, strike),
		CurrentPrice: entry,
		EntryPrice:   entry,
		TargetPrice:  target,
		StopLoss:     stopLoss,
		RiskReward:   rr,
		GeneratedAt:  now,
		Indicators:   ind,
	}, true
}

// emit persists the signal, records analytics, then notifies. The notified
// flag is set only after the sink accepts; a notification failure leaves the
// signal persisted (at-least-once persistence, best-effort notification).
func (p *Pipeline) emit(ctx context.Context, sig *model.Signal) error {
	if err := p.signals.SaveSignal(ctx, sig); err != nil {
		return fmt.Errorf("save: %w", err)
	}
	if err := p.analytics.RecordSignal(ctx, sig.GeneratedAt, sig.Direction); err != nil {
		log.Printf("[pipeline] record analytics %s: %v", sig.ID, err)
	}
	if p.OnSignal != nil {
		p.OnSignal()
	}

	log.Printf("[pipeline] signal %s %s entry=%.2f sl=%.2f target=%.2f",
		sig.Underlying, sig.OptionSymbol, sig.EntryPrice, sig.StopLoss, sig.TargetPrice)

	if err := p.notifier.SendSignal(ctx, sig); err != nil {
		log.Printf("[pipeline] notify %s: %v", sig.ID, err)
		return nil
	}
	sig.Notified = true
	if err := p.signals.MarkNotified(ctx, sig.ID); err != nil {
		log.Printf("[pipeline] mark notified %s: %v", sig.ID, err)
	}
	return nil
}
