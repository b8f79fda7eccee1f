package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"signalbot/internal/model"
)

const orderCols = `id, signal_id, broker_order_id, status, side,
	trading_symbol, exchange, quantity, price, avg_price,
	filled_qty, pending_qty, cancelled_qty, tag, placed_at, updated_at,
	sl_order, target_order`

// SaveOrder inserts a new order row.
func (s *Store) SaveOrder(ctx context.Context, o *model.Order) error {
	sl, tgt, err := marshalLegs(o)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO orders (`+orderCols+`, sl_status, target_status)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		o.ID, o.SignalID, o.BrokerOrderID, string(o.Status), string(o.Side),
		o.TradingSymbol, o.Exchange, o.Quantity, o.Price, o.AvgPrice,
		o.FilledQty, o.PendingQty, o.CancelledQty, o.Tag,
		o.PlacedAt.Unix(), o.UpdatedAt.Unix(),
		sl, tgt, legStatus(o.StopLossOrder), legStatus(o.TargetOrder))
	if err != nil {
		return fmt.Errorf("sqlite save order %s: %w", o.ID, err)
	}
	return nil
}

// UpdateOrder replaces the mutable fields of an existing order, including
// both protective legs.
func (s *Store) UpdateOrder(ctx context.Context, o *model.Order) error {
	sl, tgt, err := marshalLegs(o)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE orders SET
			broker_order_id = ?, status = ?, avg_price = ?,
			filled_qty = ?, pending_qty = ?, cancelled_qty = ?,
			updated_at = ?,
			sl_order = ?, target_order = ?, sl_status = ?, target_status = ?
		WHERE id = ?`,
		o.BrokerOrderID, string(o.Status), o.AvgPrice,
		o.FilledQty, o.PendingQty, o.CancelledQty,
		o.UpdatedAt.Unix(),
		sl, tgt, legStatus(o.StopLossOrder), legStatus(o.TargetOrder),
		o.ID)
	if err != nil {
		return fmt.Errorf("sqlite update order %s: %w", o.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("sqlite update order %s: not found", o.ID)
	}
	return nil
}

// GetOrder fetches one order by id. Returns nil, nil if not found.
func (s *Store) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+orderCols+` FROM orders WHERE id = ?`, id)
	o, err := scanOrder(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite get order %s: %w", id, err)
	}
	return o, nil
}

// OrdersBetween returns orders placed in [from, to), newest first.
func (s *Store) OrdersBetween(ctx context.Context, from, to time.Time) ([]model.Order, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+orderCols+` FROM orders
		WHERE placed_at >= ? AND placed_at < ?
		ORDER BY placed_at DESC`,
		from.Unix(), to.Unix())
	if err != nil {
		return nil, fmt.Errorf("sqlite orders between: %w", err)
	}
	return collectOrders(rows)
}

// OrdersWithOpenSubOrders returns completed parent orders with an open
// stop-loss or target leg. The leg statuses are denormalized into their own
// columns so this poll stays an index scan.
func (s *Store) OrdersWithOpenSubOrders(ctx context.Context) ([]model.Order, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+orderCols+` FROM orders
		WHERE status = ? AND (sl_status = ? OR target_status = ?)
		ORDER BY placed_at ASC`,
		string(model.StatusComplete), string(model.StatusOpen), string(model.StatusOpen))
	if err != nil {
		return nil, fmt.Errorf("sqlite open sub-orders: %w", err)
	}
	return collectOrders(rows)
}

// CountExecutedOn counts orders that reached COMPLETE on the given day.
func (s *Store) CountExecutedOn(ctx context.Context, day time.Time) (int, error) {
	from, to := dayBounds(day)
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM orders
		WHERE status = ? AND placed_at >= ? AND placed_at < ?`,
		string(model.StatusComplete), from.Unix(), to.Unix()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sqlite count executed: %w", err)
	}
	return n, nil
}

func marshalLegs(o *model.Order) (sql.NullString, sql.NullString, error) {
	sl, err := marshalLeg(o.StopLossOrder)
	if err != nil {
		return sql.NullString{}, sql.NullString{}, fmt.Errorf("sqlite marshal stop-loss leg: %w", err)
	}
	tgt, err := marshalLeg(o.TargetOrder)
	if err != nil {
		return sql.NullString{}, sql.NullString{}, fmt.Errorf("sqlite marshal target leg: %w", err)
	}
	return sl, tgt, nil
}

func marshalLeg(leg *model.SubOrder) (sql.NullString, error) {
	if leg == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(leg)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func legStatus(leg *model.SubOrder) string {
	if leg == nil {
		return ""
	}
	return string(leg.Status)
}

func scanOrder(row rowScanner) (*model.Order, error) {
	var (
		o                    model.Order
		status, side         string
		placedAt, updatedAt  int64
		sl, tgt              sql.NullString
	)
	err := row.Scan(&o.ID, &o.SignalID, &o.BrokerOrderID, &status, &side,
		&o.TradingSymbol, &o.Exchange, &o.Quantity, &o.Price, &o.AvgPrice,
		&o.FilledQty, &o.PendingQty, &o.CancelledQty, &o.Tag,
		&placedAt, &updatedAt, &sl, &tgt)
	if err != nil {
		return nil, err
	}

	o.Status = model.OrderStatus(status)
	o.Side = model.Direction(side)
	o.PlacedAt = time.Unix(placedAt, 0)
	o.UpdatedAt = time.Unix(updatedAt, 0)

	if o.StopLossOrder, err = unmarshalLeg(sl); err != nil {
		return nil, fmt.Errorf("unmarshal stop-loss leg: %w", err)
	}
	if o.TargetOrder, err = unmarshalLeg(tgt); err != nil {
		return nil, fmt.Errorf("unmarshal target leg: %w", err)
	}
	return &o, nil
}

func unmarshalLeg(n sql.NullString) (*model.SubOrder, error) {
	if !n.Valid {
		return nil, nil
	}
	var leg model.SubOrder
	if err := json.Unmarshal([]byte(n.String), &leg); err != nil {
		return nil, err
	}
	return &leg, nil
}

func collectOrders(rows *sql.Rows) ([]model.Order, error) {
	defer rows.Close()
	var out []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite scan order: %w", err)
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

var _ model.OrderStore = (*Store)(nil)
