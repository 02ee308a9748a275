package outbox

import (
	"context"
	"sync"
)

// MemStore is the in-memory outbox used by tests and by the in-memory order
// store, which appends to it atomically with its own state changes.
type MemStore struct {
	mu   sync.Mutex
	next int64
	rows []*Row
}

func NewMemStore() *MemStore { return &MemStore{next: 1} }

// Append records events as unpublished rows. The in-memory order store calls
// this while holding its own lock, mirroring the single-transaction contract
// of the Postgres stores.
func (s *MemStore) Append(events ...Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range events {
		s.rows = append(s.rows, &Row{Seq: s.next, Event: ev})
		s.next++
	}
}

func (s *MemStore) FetchUnpublished(ctx context.Context, limit int) ([]Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Row
	for _, r := range s.rows {
		if r.Published {
			continue
		}
		out = append(out, *r)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *MemStore) MarkPublished(ctx context.Context, seq int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rows {
		if r.Seq == seq {
			r.Published = true
			return nil
		}
	}
	return nil
}

// All returns a snapshot of every row, for tests.
func (s *MemStore) All() []Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Row, 0, len(s.rows))
	for _, r := range s.rows {
		out = append(out, *r)
	}
	return out
}
