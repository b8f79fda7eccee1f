package sqlite

import (
	"context"
	"fmt"

	"signalbot/internal/model"
)

// UpsertInstruments replaces or inserts universe rows in one transaction.
// Called by the universe refresh, typically a few hundred rows at once.
func (s *Store) UpsertInstruments(ctx context.Context, ins []model.Instrument) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite upsert instruments: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO instruments
			(token, trading_symbol, exchange, sector, lot_size,
			 active, in_fno, banned,
			 prev_day_open, prev_day_high, prev_day_low, prev_day_close,
			 prev_day_volume, avg_volume_20d)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(token) DO UPDATE SET
			trading_symbol  = excluded.trading_symbol,
			exchange        = excluded.exchange,
			sector          = excluded.sector,
			lot_size        = excluded.lot_size,
			active          = excluded.active,
			in_fno          = excluded.in_fno,
			banned          = excluded.banned,
			prev_day_open   = excluded.prev_day_open,
			prev_day_high   = excluded.prev_day_high,
			prev_day_low    = excluded.prev_day_low,
			prev_day_close  = excluded.prev_day_close,
			prev_day_volume = excluded.prev_day_volume,
			avg_volume_20d  = excluded.avg_volume_20d`)
	if err != nil {
		return fmt.Errorf("sqlite prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, in := range ins {
		if _, err := stmt.ExecContext(ctx,
			in.Token, in.TradingSymbol, in.Exchange, in.Sector, in.LotSize,
			boolInt(in.Active), boolInt(in.InFnO), boolInt(in.Banned),
			in.PrevDayOpen, in.PrevDayHigh, in.PrevDayLow, in.PrevDayClose,
			in.PrevDayVolume, in.AvgVolume20D); err != nil {
			return fmt.Errorf("sqlite upsert instrument %s: %w", in.TradingSymbol, err)
		}
	}
	return tx.Commit()
}

// Instruments returns the full universe ordered by symbol.
func (s *Store) Instruments(ctx context.Context) ([]model.Instrument, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT token, trading_symbol, exchange, sector, lot_size,
		       active, in_fno, banned,
		       prev_day_open, prev_day_high, prev_day_low, prev_day_close,
		       prev_day_volume, avg_volume_20d
		FROM instruments ORDER BY trading_symbol ASC`)
	if err != nil {
		return nil, fmt.Errorf("sqlite instruments: %w", err)
	}
	defer rows.Close()

	var out []model.Instrument
	for rows.Next() {
		var (
			in                    model.Instrument
			active, inFnO, banned int
		)
		if err := rows.Scan(&in.Token, &in.TradingSymbol, &in.Exchange,
			&in.Sector, &in.LotSize, &active, &inFnO, &banned,
			&in.PrevDayOpen, &in.PrevDayHigh, &in.PrevDayLow,
			&in.PrevDayClose, &in.PrevDayVolume, &in.AvgVolume20D); err != nil {
			return nil, fmt.Errorf("sqlite scan instrument: %w", err)
		}
		in.Active = active != 0
		in.InFnO = inFnO != 0
		in.Banned = banned != 0
		out = append(out, in)
	}
	return out, rows.Err()
}

var _ model.InstrumentStore = (*Store)(nil)
