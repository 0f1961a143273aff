// Package db persists swap orders to SQLite.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

var ErrNotFound = errors.New("record not found")

// InsertOrder stores a freshly accepted order row.
func (d *Database) InsertOrder(ctx context.Context, o Order) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO orders (id, type, token_in, token_out, amount_in, slippage, status, attempts, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
	`, o.ID, o.Type, o.TokenIn, o.TokenOut, o.AmountIn, o.Slippage, o.Status, o.Attempts)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

// UpdateOrder applies a partial-field merge and refreshes updated_at.
// Fields left nil in the update are never overwritten.
func (d *Database) UpdateOrder(ctx context.Context, id string, u OrderUpdate) error {
	sets := make([]string, 0, 6)
	args := make([]any, 0, 7)

	if u.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, *u.Status)
	}
	if u.Attempts != nil {
		sets = append(sets, "attempts = ?")
		args = append(args, *u.Attempts)
	}
	if u.Dex != nil {
		sets = append(sets, "dex = ?")
		args = append(args, *u.Dex)
	}
	if u.TxHash != nil {
		sets = append(sets, "tx_hash = ?")
		args = append(args, *u.TxHash)
	}
	if u.ExecutedPrice != nil {
		sets = append(sets, "executed_price = ?")
		args = append(args, *u.ExecutedPrice)
	}
	if u.Error != nil {
		sets = append(sets, "error = ?")
		args = append(args, *u.Error)
	}
	if u.ClearResults {
		sets = append(sets, "dex = NULL", "tx_hash = NULL", "executed_price = NULL", "error = NULL")
	}

	if len(sets) == 0 {
		return nil
	}

	sets = append(sets, "updated_at = CURRENT_TIMESTAMP")
	args = append(args, id)

	query := "UPDATE orders SET " + strings.Join(sets, ", ") + " WHERE id = ?"
	res, err := d.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetOrder loads one order row by id.
func (d *Database) GetOrder(ctx context.Context, id string) (Order, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT id, type, token_in, token_out, amount_in, slippage, status, attempts,
		       dex, tx_hash, executed_price, error, created_at, updated_at
		FROM orders
		WHERE id = ?
	`, id)

	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Order{}, ErrNotFound
		}
		return Order{}, fmt.Errorf("get order: %w", err)
	}
	return o, nil
}

// ListOrders returns the most recent orders, newest first.
func (d *Database) ListOrders(ctx context.Context, limit int) ([]Order, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, type, token_in, token_out, amount_in, slippage, status, attempts,
		       dex, tx_hash, executed_price, error, created_at, updated_at
		FROM orders
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var orders []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// CountByStatus returns how many orders sit in each status.
func (d *Database) CountByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := d.DB.QueryContext(ctx, `SELECT status, COUNT(*) FROM orders GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count orders: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(r rowScanner) (Order, error) {
	var (
		o        Order
		dex      sql.NullString
		txHash   sql.NullString
		execPx   sql.NullFloat64
		orderErr sql.NullString
	)
	err := r.Scan(&o.ID, &o.Type, &o.TokenIn, &o.TokenOut, &o.AmountIn, &o.Slippage,
		&o.Status, &o.Attempts, &dex, &txHash, &execPx, &orderErr, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return Order{}, err
	}
	if dex.Valid {
		o.Dex = &dex.String
	}
	if txHash.Valid {
		o.TxHash = &txHash.String
	}
	if execPx.Valid {
		o.ExecutedPrice = &execPx.Float64
	}
	if orderErr.Valid {
		o.Error = &orderErr.String
	}
	return o, nil
}
