package payment

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGAttemptStore persists attempts. The one-open-attempt-per-order invariant
// is a partial unique index on (order_id) WHERE outcome NOT IN terminal.
type PGAttemptStore struct{ DB *pgxpool.Pool }

func (s *PGAttemptStore) Create(ctx context.Context, a *Attempt) error {
	err := s.DB.QueryRow(ctx, `
		INSERT INTO payment_attempts(id, order_id, amount_cents, outcome, attempt_number, created_at)
		VALUES ($1, $2, $3, $4,
			(SELECT COALESCE(MAX(attempt_number), 0) + 1 FROM payment_attempts WHERE order_id = $2),
			$5)
		RETURNING attempt_number`,
		a.ID, a.OrderID, a.AmountCents, a.Outcome, a.CreatedAt).
		Scan(&a.Number)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
		return ErrAttemptOpen
	}
	return err
}

func (s *PGAttemptStore) Resolve(ctx context.Context, attemptID string, outcome Outcome, ref string) error {
	_, err := s.DB.Exec(ctx, `
		UPDATE payment_attempts
		SET outcome=$2, gateway_ref=COALESCE(NULLIF($3, ''), gateway_ref)
		WHERE id=$1`, attemptID, outcome, ref)
	return err
}

func (s *PGAttemptStore) Get(ctx context.Context, attemptID string) (*Attempt, error) {
	var a Attempt
	var ref *string
	err := s.DB.QueryRow(ctx, `
		SELECT id, order_id, amount_cents, gateway_ref, outcome, attempt_number, created_at
		FROM payment_attempts WHERE id=$1`, attemptID).
		Scan(&a.ID, &a.OrderID, &a.AmountCents, &ref, &a.Outcome, &a.Number, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.New("attempt not found")
	}
	if err != nil {
		return nil, err
	}
	if ref != nil {
		a.GatewayRef = *ref
	}
	return &a, nil
}
