// Package sqlite is the durable document store: signals, orders, daily
// analytics and the instrument universe, one file-backed database.
//
// SQLite is opened in WAL mode with a single writer connection. Every
// mutation is a single statement scoped to one row; analytics counters are
// incremented inside the UPDATE itself so concurrent jobs never lose an
// increment.
package sqlite

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"signalbot/internal/markethours"
)

const schema = `
CREATE TABLE IF NOT EXISTS signals (
	id             TEXT PRIMARY KEY,
	direction      TEXT NOT NULL,
	underlying     TEXT NOT NULL,
	option_symbol  TEXT NOT NULL,
	current_price  REAL NOT NULL,
	entry_price    REAL NOT NULL,
	target_price   REAL NOT NULL,
	stop_loss      REAL NOT NULL,
	risk_reward    REAL NOT NULL,
	generated_at   INTEGER NOT NULL,
	notified       INTEGER NOT NULL DEFAULT 0,
	executed       INTEGER NOT NULL DEFAULT 0,
	expired        INTEGER NOT NULL DEFAULT 0,
	executed_at    INTEGER,
	order_status   TEXT NOT NULL DEFAULT '',
	exit_price     REAL NOT NULL DEFAULT 0,
	exit_at        INTEGER,
	exit_reason    TEXT NOT NULL DEFAULT '',
	profit_loss    REAL NOT NULL DEFAULT 0,
	indicators     TEXT NOT NULL DEFAULT '{}',
	notes          TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_signals_generated ON signals(generated_at);
CREATE INDEX IF NOT EXISTS idx_signals_pending   ON signals(executed, expired);

CREATE TABLE IF NOT EXISTS orders (
	id              TEXT PRIMARY KEY,
	signal_id       TEXT NOT NULL,
	broker_order_id TEXT NOT NULL,
	status          TEXT NOT NULL,
	side            TEXT NOT NULL,
	trading_symbol  TEXT NOT NULL,
	exchange        TEXT NOT NULL,
	quantity        INTEGER NOT NULL,
	price           REAL NOT NULL DEFAULT 0,
	avg_price       REAL NOT NULL DEFAULT 0,
	filled_qty      INTEGER NOT NULL DEFAULT 0,
	pending_qty     INTEGER NOT NULL DEFAULT 0,
	cancelled_qty   INTEGER NOT NULL DEFAULT 0,
	tag             TEXT NOT NULL DEFAULT '',
	placed_at       INTEGER NOT NULL,
	updated_at      INTEGER NOT NULL,
	sl_order        TEXT,
	target_order    TEXT,
	sl_status       TEXT NOT NULL DEFAULT '',
	target_status   TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_orders_placed ON orders(placed_at);
CREATE INDEX IF NOT EXISTS idx_orders_legs   ON orders(sl_status, target_status);

CREATE TABLE IF NOT EXISTS daily_analytics (
	day             TEXT PRIMARY KEY,
	signal_count    INTEGER NOT NULL DEFAULT 0,
	buy_signals     INTEGER NOT NULL DEFAULT 0,
	sell_signals    INTEGER NOT NULL DEFAULT 0,
	executed_orders INTEGER NOT NULL DEFAULT 0,
	wins            INTEGER NOT NULL DEFAULT 0,
	losses          INTEGER NOT NULL DEFAULT 0,
	total_pnl       REAL NOT NULL DEFAULT 0,
	win_sum         REAL NOT NULL DEFAULT 0,
	loss_sum        REAL NOT NULL DEFAULT 0,
	largest_win     REAL NOT NULL DEFAULT 0,
	largest_loss    REAL NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS trade_details (
	signal_id      TEXT NOT NULL,
	day            TEXT NOT NULL,
	trading_symbol TEXT NOT NULL,
	quantity       INTEGER NOT NULL,
	entry_price    REAL NOT NULL,
	exit_price     REAL NOT NULL,
	profit_loss    REAL NOT NULL,
	exit_reason    TEXT NOT NULL,
	closed_at      INTEGER NOT NULL,
	PRIMARY KEY (signal_id, day)
);
CREATE INDEX IF NOT EXISTS idx_trades_day ON trade_details(day);

CREATE TABLE IF NOT EXISTS instruments (
	token           INTEGER PRIMARY KEY,
	trading_symbol  TEXT NOT NULL,
	exchange        TEXT NOT NULL,
	sector          TEXT NOT NULL DEFAULT '',
	lot_size        INTEGER NOT NULL DEFAULT 0,
	active          INTEGER NOT NULL DEFAULT 1,
	in_fno          INTEGER NOT NULL DEFAULT 0,
	banned          INTEGER NOT NULL DEFAULT 0,
	prev_day_open   REAL NOT NULL DEFAULT 0,
	prev_day_high   REAL NOT NULL DEFAULT 0,
	prev_day_low    REAL NOT NULL DEFAULT 0,
	prev_day_close  REAL NOT NULL DEFAULT 0,
	prev_day_volume INTEGER NOT NULL DEFAULT 0,
	avg_volume_20d  INTEGER NOT NULL DEFAULT 0
);
`

// Store is the SQLite-backed implementation of the signal, order, analytics
// and instrument stores.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the database at path and applies the
// schema. The connection pool is capped at one connection: SQLite allows a
// single writer, and funneling readers through the same connection avoids
// SQLITE_BUSY churn under WAL.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened %s", path)
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the handle for maintenance queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// dayBounds returns the [start, end) instants of the exchange-time calendar
// day containing t.
func dayBounds(t time.Time) (time.Time, time.Time) {
	local := t.In(markethours.IST)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, markethours.IST)
	return start, start.Add(24 * time.Hour)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullUnix(t *time.Time) sql.NullInt64 {
	if t == nil || t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}

func unixPtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.Unix(n.Int64, 0).In(markethours.IST)
	return &t
}
