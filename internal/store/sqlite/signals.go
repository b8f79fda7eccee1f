package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"signalbot/internal/model"
)

const signalCols = `id, direction, underlying, option_symbol, current_price,
	entry_price, target_price, stop_loss, risk_reward, generated_at,
	notified, executed, expired, executed_at, order_status,
	exit_price, exit_at, exit_reason, profit_loss, indicators, notes`

// SaveSignal inserts a new signal row.
func (s *Store) SaveSignal(ctx context.Context, sig *model.Signal) error {
	ind, err := json.Marshal(sig.Indicators)
	if err != nil {
		return fmt.Errorf("sqlite marshal indicators: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO signals (`+signalCols+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		sig.ID, string(sig.Direction), sig.Underlying, sig.OptionSymbol,
		sig.CurrentPrice, sig.EntryPrice, sig.TargetPrice, sig.StopLoss,
		sig.RiskReward, sig.GeneratedAt.Unix(),
		boolInt(sig.Notified), boolInt(sig.Executed), boolInt(sig.Expired),
		nullUnix(sig.ExecutedAt), sig.OrderStatus,
		sig.ExitPrice, nullUnix(sig.ExitAt), string(sig.ExitReason),
		sig.ProfitLoss, string(ind), sig.Notes)
	if err != nil {
		return fmt.Errorf("sqlite save signal %s: %w", sig.ID, err)
	}
	return nil
}

// UpdateSignal replaces the mutable fields of an existing signal.
func (s *Store) UpdateSignal(ctx context.Context, sig *model.Signal) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE signals SET
			notified = ?, executed = ?, expired = ?,
			executed_at = ?, order_status = ?,
			exit_price = ?, exit_at = ?, exit_reason = ?, profit_loss = ?,
			notes = ?
		WHERE id = ?`,
		boolInt(sig.Notified), boolInt(sig.Executed), boolInt(sig.Expired),
		nullUnix(sig.ExecutedAt), sig.OrderStatus,
		sig.ExitPrice, nullUnix(sig.ExitAt), string(sig.ExitReason),
		sig.ProfitLoss, sig.Notes, sig.ID)
	if err != nil {
		return fmt.Errorf("sqlite update signal %s: %w", sig.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("sqlite update signal %s: not found", sig.ID)
	}
	return nil
}

// MarkNotified sets the notified flag. Idempotent.
func (s *Store) MarkNotified(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE signals SET notified = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite mark notified %s: %w", id, err)
	}
	return nil
}

// GetSignal fetches one signal by id. Returns nil, nil if not found.
func (s *Store) GetSignal(ctx context.Context, id string) (*model.Signal, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+signalCols+` FROM signals WHERE id = ?`, id)
	sig, err := scanSignal(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite get signal %s: %w", id, err)
	}
	return sig, nil
}

// PendingSignals returns unexecuted, unexpired signals oldest first.
func (s *Store) PendingSignals(ctx context.Context) ([]model.Signal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+signalCols+` FROM signals
		WHERE executed = 0 AND expired = 0
		ORDER BY generated_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("sqlite pending signals: %w", err)
	}
	return collectSignals(rows)
}

// CountSignalsOn counts signals generated on the given exchange-time day.
func (s *Store) CountSignalsOn(ctx context.Context, day time.Time) (int, error) {
	from, to := dayBounds(day)
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM signals
		WHERE generated_at >= ? AND generated_at < ?`,
		from.Unix(), to.Unix()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sqlite count signals: %w", err)
	}
	return n, nil
}

// LastSignalTime returns the latest generation time on the given day.
func (s *Store) LastSignalTime(ctx context.Context, day time.Time) (time.Time, bool, error) {
	from, to := dayBounds(day)
	var last sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(generated_at) FROM signals
		WHERE generated_at >= ? AND generated_at < ?`,
		from.Unix(), to.Unix()).Scan(&last)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("sqlite last signal time: %w", err)
	}
	if !last.Valid {
		return time.Time{}, false, nil
	}
	return time.Unix(last.Int64, 0), true, nil
}

// SignalsBetween returns signals generated in [from, to), newest first.
func (s *Store) SignalsBetween(ctx context.Context, from, to time.Time) ([]model.Signal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+signalCols+` FROM signals
		WHERE generated_at >= ? AND generated_at < ?
		ORDER BY generated_at DESC`,
		from.Unix(), to.Unix())
	if err != nil {
		return nil, fmt.Errorf("sqlite signals between: %w", err)
	}
	return collectSignals(rows)
}

// ExpireSignalsBefore marks unexecuted signals generated before t as expired.
func (s *Store) ExpireSignalsBefore(ctx context.Context, t time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE signals SET expired = 1
		WHERE executed = 0 AND expired = 0 AND generated_at < ?`,
		t.Unix())
	if err != nil {
		return 0, fmt.Errorf("sqlite expire signals: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSignal(row rowScanner) (*model.Signal, error) {
	var (
		sig                          model.Signal
		direction, exitReason        string
		generatedAt                  int64
		notified, executed, expired  int
		executedAt, exitAt           sql.NullInt64
		indicators                   string
	)
	err := row.Scan(&sig.ID, &direction, &sig.Underlying, &sig.OptionSymbol,
		&sig.CurrentPrice, &sig.EntryPrice, &sig.TargetPrice, &sig.StopLoss,
		&sig.RiskReward, &generatedAt,
		&notified, &executed, &expired, &executedAt, &sig.OrderStatus,
		&sig.ExitPrice, &exitAt, &exitReason, &sig.ProfitLoss,
		&indicators, &sig.Notes)
	if err != nil {
		return nil, err
	}

	sig.Direction = model.Direction(direction)
	sig.ExitReason = model.ExitReason(exitReason)
	sig.GeneratedAt = time.Unix(generatedAt, 0)
	sig.Notified = notified != 0
	sig.Executed = executed != 0
	sig.Expired = expired != 0
	sig.ExecutedAt = unixPtr(executedAt)
	sig.ExitAt = unixPtr(exitAt)
	if err := json.Unmarshal([]byte(indicators), &sig.Indicators); err != nil {
		return nil, fmt.Errorf("unmarshal indicators: %w", err)
	}
	return &sig, nil
}

func collectSignals(rows *sql.Rows) ([]model.Signal, error) {
	defer rows.Close()
	var out []model.Signal
	for rows.Next() {
		sig, err := scanSignal(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite scan signal: %w", err)
		}
		out = append(out, *sig)
	}
	return out, rows.Err()
}

var _ model.SignalStore = (*Store)(nil)
