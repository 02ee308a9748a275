package orders

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/orderflow-io/orderflow/internal/outbox"
)

type PGStore struct{ DB *pgxpool.Pool }

func (s *PGStore) Create(ctx context.Context, o *Order, events ...outbox.Event) error {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO orders(id, user_id, status, total_cents, version, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		o.ID, o.UserID, o.Status, o.TotalCents, o.Version, o.CreatedAt)
	if err != nil {
		return err
	}
	for _, it := range o.Items {
		_, err = tx.Exec(ctx, `
			INSERT INTO order_items(order_id, product_id, qty, unit_price_cents)
			VALUES ($1, $2, $3, $4)`,
			o.ID, it.ProductID, it.Qty, it.UnitPriceCents)
		if err != nil {
			return err
		}
	}
	if err := outbox.AppendTx(ctx, tx, events...); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PGStore) ApplyTransition(ctx context.Context, orderID string, ev TransitionEvent, events ...outbox.Event) (Status, error) {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var cur Status
	var version int64
	err = tx.QueryRow(ctx, `SELECT status, version FROM orders WHERE id=$1`, orderID).
		Scan(&cur, &version)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}

	next, err := Next(cur, ev)
	if err != nil {
		return "", err
	}

	ct, err := tx.Exec(ctx, `
		UPDATE orders SET status=$1, version=version+1
		WHERE id=$2 AND version=$3`,
		next, orderID, version)
	if err != nil {
		return "", err
	}
	if ct.RowsAffected() != 1 {
		return "", ErrStaleVersion
	}
	if err := outbox.AppendTx(ctx, tx, events...); err != nil {
		return "", err
	}
	if err := tx.Commit(ctx); err != nil {
		return "", err
	}
	return next, nil
}

func (s *PGStore) Get(ctx context.Context, orderID string) (*Order, error) {
	var o Order
	err := s.DB.QueryRow(ctx, `
		SELECT id, user_id, status, total_cents, version, created_at
		FROM orders WHERE id=$1`, orderID).
		Scan(&o.ID, &o.UserID, &o.Status, &o.TotalCents, &o.Version, &o.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.DB.Query(ctx, `
		SELECT product_id, qty, unit_price_cents
		FROM order_items WHERE order_id=$1`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var it LineItem
		if err := rows.Scan(&it.ProductID, &it.Qty, &it.UnitPriceCents); err != nil {
			return nil, err
		}
		o.Items = append(o.Items, it)
	}
	return &o, rows.Err()
}
