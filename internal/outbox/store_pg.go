package outbox

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore reads and marks outbox rows. Appending happens inside the
// transactions of the stores that own the triggering writes (see AppendTx).
type PGStore struct{ DB *pgxpool.Pool }

func (s *PGStore) FetchUnpublished(ctx context.Context, limit int) ([]Row, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT seq, event_id, topic, partition_key, event_type, payload, produced_at
		FROM outbox_events
		WHERE NOT published
		ORDER BY seq
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		if err := rows.Scan(&r.Seq, &r.Event.EventID, &r.Event.Topic, &r.Event.Key,
			&r.Event.Type, &r.Event.Payload, &r.Event.ProducedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PGStore) MarkPublished(ctx context.Context, seq int64) error {
	_, err := s.DB.Exec(ctx, `
		UPDATE outbox_events SET published = true, published_at = now()
		WHERE seq = $1`, seq)
	return err
}

// AppendTx inserts events within a caller-owned transaction, keeping the
// outbox row atomic with the state change that produced it.
func AppendTx(ctx context.Context, tx pgx.Tx, events ...Event) error {
	for _, ev := range events {
		_, err := tx.Exec(ctx, `
			INSERT INTO outbox_events(event_id, topic, partition_key, event_type, payload, produced_at, published)
			VALUES ($1, $2, $3, $4, $5, $6, false)`,
			ev.EventID, ev.Topic, ev.Key, ev.Type, ev.Payload, ev.ProducedAt)
		if err != nil {
			return err
		}
	}
	return nil
}
