package model

import (
	"context"
	"time"
)

// ── Storage Port Interfaces ──
// These interfaces decouple the pipeline, executor and reconciler from the
// concrete stores (SQLite, Redis). Every mutation is scoped to a single
// record by id; there are no cross-record transactions.

// SignalStore persists and queries signals.
type SignalStore interface {
	// SaveSignal inserts a new signal.
	SaveSignal(ctx context.Context, s *Signal) error

	// UpdateSignal replaces the mutable fields of an existing signal.
	UpdateSignal(ctx context.Context, s *Signal) error

	// MarkNotified sets the notified flag. Idempotent.
	MarkNotified(ctx context.Context, id string) error

	// GetSignal fetches one signal by id. Returns nil, nil if not found.
	GetSignal(ctx context.Context, id string) (*Signal, error)

	// PendingSignals returns unexecuted, unexpired signals oldest first.
	PendingSignals(ctx context.Context) ([]Signal, error)

	// CountSignalsOn counts signals generated on the given day.
	CountSignalsOn(ctx context.Context, day time.Time) (int, error)

	// LastSignalTime returns the latest generation time on the given day.
	LastSignalTime(ctx context.Context, day time.Time) (time.Time, bool, error)

	// SignalsBetween returns signals generated in [from, to), newest first.
	SignalsBetween(ctx context.Context, from, to time.Time) ([]Signal, error)

	// ExpireSignalsBefore marks unexecuted signals generated before t as
	// expired. Returns the number of signals expired.
	ExpireSignalsBefore(ctx context.Context, t time.Time) (int, error)
}

// OrderStore persists and queries order lifecycles.
type OrderStore interface {
	SaveOrder(ctx context.Context, o *Order) error
	UpdateOrder(ctx context.Context, o *Order) error

	// GetOrder fetches one order by id. Returns nil, nil if not found.
	GetOrder(ctx context.Context, id string) (*Order, error)

	// OrdersBetween returns orders placed in [from, to), newest first.
	OrdersBetween(ctx context.Context, from, to time.Time) ([]Order, error)

	// OrdersWithOpenSubOrders returns completed parent orders whose
	// stop-loss or target leg is still open.
	OrdersWithOpenSubOrders(ctx context.Context) ([]Order, error)

	// CountExecutedOn counts orders that reached COMPLETE on the given day.
	CountExecutedOn(ctx context.Context, day time.Time) (int, error)
}

// AnalyticsStore aggregates daily trading analytics. Implementations must
// use atomic increments: signal generation and trade completion can land
// on the same day record concurrently.
type AnalyticsStore interface {
	// RecordSignal increments the day's signal counters.
	RecordSignal(ctx context.Context, day time.Time, dir Direction) error

	// RecordExecution increments the day's executed-order counter.
	RecordExecution(ctx context.Context, day time.Time) error

	// RecordTrade folds one closed trade into the day's aggregates.
	RecordTrade(ctx context.Context, day time.Time, trade TradeDetail) error

	// Analytics returns the day's record. Returns nil, nil if the day has
	// no activity.
	Analytics(ctx context.Context, day time.Time) (*DailyAnalytics, error)

	// AnalyticsRange returns day records in [from, to], oldest first.
	AnalyticsRange(ctx context.Context, from, to time.Time) ([]DailyAnalytics, error)
}

// InstrumentStore persists the scan universe.
type InstrumentStore interface {
	UpsertInstruments(ctx context.Context, ins []Instrument) error

	// Instruments returns the full universe.
	Instruments(ctx context.Context) ([]Instrument, error)
}

// SnapshotWriter persists updated market snapshots. Best-effort: a write
// failure must not stall the tick path.
type SnapshotWriter interface {
	WriteSnapshot(ctx context.Context, snap *MarketSnapshot) error
	Close() error
}
