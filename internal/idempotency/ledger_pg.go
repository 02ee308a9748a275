package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PGLedger struct {
	DB        *pgxpool.Pool
	Retention time.Duration
}

func (l *PGLedger) CheckAndReserve(ctx context.Context, key string) (Decision, error) {
	now := time.Now().UTC()
	ct, err := l.DB.Exec(ctx, `
		INSERT INTO idempotency_keys(key, created_at, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO NOTHING`,
		key, now, now.Add(l.Retention))
	if err != nil {
		return Decision{}, err
	}
	if ct.RowsAffected() == 1 {
		return Decision{State: NotSeen}, nil
	}

	var result []byte
	err = l.DB.QueryRow(ctx, `SELECT result FROM idempotency_keys WHERE key=$1`, key).
		Scan(&result)
	if errors.Is(err, pgx.ErrNoRows) {
		// Claim raced with a Forget; treat as fresh on the retry.
		return Decision{State: SeenPending}, nil
	}
	if err != nil {
		return Decision{}, err
	}
	if result == nil {
		return Decision{State: SeenPending}, nil
	}
	var r Result
	if err := json.Unmarshal(result, &r); err != nil {
		return Decision{}, err
	}
	return Decision{State: SeenCompleted, Result: &r}, nil
}

func (l *PGLedger) Complete(ctx context.Context, key string, r Result) error {
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	_, err = l.DB.Exec(ctx, `UPDATE idempotency_keys SET result=$2 WHERE key=$1`, key, b)
	return err
}

func (l *PGLedger) Forget(ctx context.Context, key string) error {
	_, err := l.DB.Exec(ctx, `
		DELETE FROM idempotency_keys WHERE key=$1 AND result IS NULL`, key)
	return err
}

func (l *PGLedger) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	ct, err := l.DB.Exec(ctx, `DELETE FROM idempotency_keys WHERE expires_at < $1`, now)
	if err != nil {
		return 0, err
	}
	return int(ct.RowsAffected()), nil
}
