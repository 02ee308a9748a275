package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore keeps stock in the products table (available/reserved columns) and
// holds in the reservations table. All mutations lock the product row first,
// so the availability check and its decrement are one step.
type PGStore struct{ DB *pgxpool.Pool }

func (s *PGStore) Reserve(ctx context.Context, productID, orderID string, qty int, ttl time.Duration) error {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Idempotent short-circuit: the pair already holds an active reservation.
	ct, err := tx.Exec(ctx, `
		INSERT INTO reservations(product_id, order_id, qty, state, expires_at)
		VALUES ($1, $2, $3, 'RESERVED', $4)
		ON CONFLICT (product_id, order_id) DO NOTHING`,
		productID, orderID, qty, time.Now().UTC().Add(ttl))
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return nil
	}

	var available int
	err = tx.QueryRow(ctx, `SELECT available FROM products WHERE id=$1 FOR UPDATE`, productID).
		Scan(&available)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrProductNotFound
	}
	if err != nil {
		return err
	}
	if available < qty {
		// Rollback drops the reservation row with the decrement it guarded.
		return &StockError{ProductID: productID, Requested: qty, Available: available}
	}

	_, err = tx.Exec(ctx, `
		UPDATE products SET available = available - $2, reserved = reserved + $2
		WHERE id=$1`, productID, qty)
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PGStore) Commit(ctx context.Context, productID, orderID string) error {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var qty int
	var state State
	err = tx.QueryRow(ctx, `
		SELECT qty, state FROM reservations
		WHERE product_id=$1 AND order_id=$2 FOR UPDATE`, productID, orderID).
		Scan(&qty, &state)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotReserved
	}
	if err != nil {
		return err
	}
	switch state {
	case StateCommitted:
		return ErrAlreadyCommitted
	case StateReleased:
		return ErrNotReserved
	}

	_, err = tx.Exec(ctx, `
		UPDATE reservations SET state='COMMITTED'
		WHERE product_id=$1 AND order_id=$2`, productID, orderID)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		UPDATE products SET reserved = reserved - $2 WHERE id=$1`, productID, qty)
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PGStore) Release(ctx context.Context, productID, orderID string) error {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := releaseTx(ctx, tx, productID, orderID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func releaseTx(ctx context.Context, tx pgx.Tx, productID, orderID string) error {
	var qty int
	var state State
	err := tx.QueryRow(ctx, `
		SELECT qty, state FROM reservations
		WHERE product_id=$1 AND order_id=$2 FOR UPDATE`, productID, orderID).
		Scan(&qty, &state)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil // nothing to release
	}
	if err != nil {
		return err
	}
	switch state {
	case StateReleased:
		return nil // second release is a no-op, stock is not double-credited
	case StateCommitted:
		return ErrAlreadyCommitted
	}

	_, err = tx.Exec(ctx, `
		UPDATE reservations SET state='RELEASED'
		WHERE product_id=$1 AND order_id=$2`, productID, orderID)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		UPDATE products SET available = available + $2, reserved = reserved - $2
		WHERE id=$1`, productID, qty)
	return err
}

func (s *PGStore) ReverseCommit(ctx context.Context, productID, orderID string) error {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var qty int
	var state State
	err = tx.QueryRow(ctx, `
		SELECT qty, state FROM reservations
		WHERE product_id=$1 AND order_id=$2 FOR UPDATE`, productID, orderID).
		Scan(&qty, &state)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotReserved
	}
	if err != nil {
		return err
	}
	if state != StateCommitted {
		return ErrNotReserved
	}

	_, err = tx.Exec(ctx, `
		UPDATE reservations SET state='RELEASED'
		WHERE product_id=$1 AND order_id=$2`, productID, orderID)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		UPDATE products SET available = available + $2 WHERE id=$1`, productID, qty)
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PGStore) SweepExpired(ctx context.Context, now time.Time) ([]Expired, error) {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
		SELECT product_id, order_id FROM reservations
		WHERE state='RESERVED' AND expires_at < $1
		FOR UPDATE SKIP LOCKED`, now)
	if err != nil {
		return nil, err
	}
	var expired []Expired
	for rows.Next() {
		var e Expired
		if err := rows.Scan(&e.ProductID, &e.OrderID); err != nil {
			rows.Close()
			return nil, err
		}
		expired = append(expired, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, e := range expired {
		if err := releaseTx(ctx, tx, e.ProductID, e.OrderID); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return expired, nil
}

func (s *PGStore) Available(ctx context.Context, productID string) (int, error) {
	var n int
	err := s.DB.QueryRow(ctx, `SELECT available FROM products WHERE id=$1`, productID).Scan(&n)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrProductNotFound
	}
	return n, err
}

// PGCatalog reads price snapshots from the products table.
type PGCatalog struct{ DB *pgxpool.Pool }

func (c *PGCatalog) UnitPrice(ctx context.Context, productID string) (int64, error) {
	var price int64
	err := c.DB.QueryRow(ctx, `SELECT price_cents FROM products WHERE id=$1`, productID).Scan(&price)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrProductNotFound
	}
	return price, err
}
