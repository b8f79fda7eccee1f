package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"signalbot/internal/markethours"
	"signalbot/internal/model"
)

// ensureDay lazily creates the day's analytics row so the increment UPDATEs
// always have a target.
func (s *Store) ensureDay(ctx context.Context, day string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO daily_analytics (day) VALUES (?)
		ON CONFLICT(day) DO NOTHING`, day)
	if err != nil {
		return fmt.Errorf("sqlite ensure analytics day %s: %w", day, err)
	}
	return nil
}

// RecordSignal increments the day's signal counters.
func (s *Store) RecordSignal(ctx context.Context, day time.Time, dir model.Direction) error {
	key := model.DayKey(day.In(markethours.IST))
	if err := s.ensureDay(ctx, key); err != nil {
		return err
	}

	buy, sell := 0, 0
	if dir == model.DirectionBuy {
		buy = 1
	} else {
		sell = 1
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE daily_analytics SET
			signal_count = signal_count + 1,
			buy_signals  = buy_signals + ?,
			sell_signals = sell_signals + ?
		WHERE day = ?`, buy, sell, key)
	if err != nil {
		return fmt.Errorf("sqlite record signal %s: %w", key, err)
	}
	return nil
}

// RecordExecution increments the day's executed-order counter.
func (s *Store) RecordExecution(ctx context.Context, day time.Time) error {
	key := model.DayKey(day.In(markethours.IST))
	if err := s.ensureDay(ctx, key); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE daily_analytics SET executed_orders = executed_orders + 1
		WHERE day = ?`, key)
	if err != nil {
		return fmt.Errorf("sqlite record execution %s: %w", key, err)
	}
	return nil
}

// RecordTrade folds one closed trade into the day's aggregates. The counter
// update is a single statement, so concurrent reconciler and API calls
// cannot lose an increment; the trade row is keyed by signal id, making a
// replayed reconciliation a no-op on the detail table.
func (s *Store) RecordTrade(ctx context.Context, day time.Time, trade model.TradeDetail) error {
	key := model.DayKey(day.In(markethours.IST))
	if err := s.ensureDay(ctx, key); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO trade_details
			(signal_id, day, trading_symbol, quantity, entry_price,
			 exit_price, profit_loss, exit_reason, closed_at)
		VALUES (?,?,?,?,?,?,?,?,?)
		ON CONFLICT(signal_id, day) DO NOTHING`,
		trade.SignalID, key, trade.TradingSymbol, trade.Quantity,
		trade.EntryPrice, trade.ExitPrice, trade.ProfitLoss,
		string(trade.ExitReason), trade.ClosedAt.Unix())
	if err != nil {
		return fmt.Errorf("sqlite record trade %s: %w", trade.SignalID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// already recorded, keep the aggregates consistent
		return nil
	}

	win, loss := 0, 0
	winAmt, lossAmt := 0.0, 0.0
	if trade.ProfitLoss >= 0 {
		win, winAmt = 1, trade.ProfitLoss
	} else {
		loss, lossAmt = 1, trade.ProfitLoss
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE daily_analytics SET
			wins         = wins + ?,
			losses       = losses + ?,
			total_pnl    = total_pnl + ?,
			win_sum      = win_sum + ?,
			loss_sum     = loss_sum + ?,
			largest_win  = MAX(largest_win, ?),
			largest_loss = MIN(largest_loss, ?)
		WHERE day = ?`,
		win, loss, trade.ProfitLoss, winAmt, lossAmt,
		trade.ProfitLoss, trade.ProfitLoss, key)
	if err != nil {
		return fmt.Errorf("sqlite record trade aggregates %s: %w", key, err)
	}
	return nil
}

// Analytics returns the day's record with its trades. Returns nil, nil if
// the day has no activity.
func (s *Store) Analytics(ctx context.Context, day time.Time) (*model.DailyAnalytics, error) {
	key := model.DayKey(day.In(markethours.IST))

	row := s.db.QueryRowContext(ctx, `
		SELECT day, signal_count, buy_signals, sell_signals, executed_orders,
		       wins, losses, total_pnl, win_sum, loss_sum,
		       largest_win, largest_loss
		FROM daily_analytics WHERE day = ?`, key)

	da, err := scanAnalytics(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite analytics %s: %w", key, err)
	}

	if da.Trades, err = s.tradesOn(ctx, key); err != nil {
		return nil, err
	}
	return da, nil
}

// AnalyticsRange returns day records in [from, to], oldest first. Trade
// details are included per day.
func (s *Store) AnalyticsRange(ctx context.Context, from, to time.Time) ([]model.DailyAnalytics, error) {
	fromKey := model.DayKey(from.In(markethours.IST))
	toKey := model.DayKey(to.In(markethours.IST))

	rows, err := s.db.QueryContext(ctx, `
		SELECT day, signal_count, buy_signals, sell_signals, executed_orders,
		       wins, losses, total_pnl, win_sum, loss_sum,
		       largest_win, largest_loss
		FROM daily_analytics
		WHERE day >= ? AND day <= ?
		ORDER BY day ASC`, fromKey, toKey)
	if err != nil {
		return nil, fmt.Errorf("sqlite analytics range: %w", err)
	}
	defer rows.Close()

	var out []model.DailyAnalytics
	for rows.Next() {
		da, err := scanAnalytics(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite scan analytics: %w", err)
		}
		out = append(out, *da)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		if out[i].Trades, err = s.tradesOn(ctx, out[i].Day); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *Store) tradesOn(ctx context.Context, day string) ([]model.TradeDetail, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT signal_id, trading_symbol, quantity, entry_price,
		       exit_price, profit_loss, exit_reason, closed_at
		FROM trade_details WHERE day = ?
		ORDER BY closed_at ASC`, day)
	if err != nil {
		return nil, fmt.Errorf("sqlite trades on %s: %w", day, err)
	}
	defer rows.Close()

	var out []model.TradeDetail
	for rows.Next() {
		var (
			td       model.TradeDetail
			reason   string
			closedAt int64
		)
		if err := rows.Scan(&td.SignalID, &td.TradingSymbol, &td.Quantity,
			&td.EntryPrice, &td.ExitPrice, &td.ProfitLoss,
			&reason, &closedAt); err != nil {
			return nil, fmt.Errorf("sqlite scan trade: %w", err)
		}
		td.ExitReason = model.ExitReason(reason)
		td.ClosedAt = time.Unix(closedAt, 0)
		out = append(out, td)
	}
	return out, rows.Err()
}

// scanAnalytics materializes a day row, deriving the ratio fields from the
// stored counters.
func scanAnalytics(row rowScanner) (*model.DailyAnalytics, error) {
	var (
		da               model.DailyAnalytics
		winSum, lossSum  float64
	)
	err := row.Scan(&da.Day, &da.SignalCount, &da.BuySignals, &da.SellSignals,
		&da.ExecutedOrders, &da.Wins, &da.Losses, &da.TotalPnL,
		&winSum, &lossSum, &da.LargestWin, &da.LargestLoss)
	if err != nil {
		return nil, err
	}

	if total := da.Wins + da.Losses; total > 0 {
		da.WinRate = float64(da.Wins) / float64(total) * 100
	}
	if da.Wins > 0 {
		da.AvgWin = winSum / float64(da.Wins)
	}
	if da.Losses > 0 {
		da.AvgLoss = lossSum / float64(da.Losses)
	}
	return &da, nil
}

var _ model.AnalyticsStore = (*Store)(nil)
