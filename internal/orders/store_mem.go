package orders

import (
	"context"
	"fmt"
	"sync"

	"github.com/orderflow-io/orderflow/internal/outbox"
)

// MemStore keeps orders in process memory. It shares a MemStore outbox so
// that events land atomically with the state change, mirroring the Postgres
// transaction contract. Used by tests.
type MemStore struct {
	mu     sync.Mutex
	orders map[string]*Order
	outbox *outbox.MemStore
}

func NewMemStore(ob *outbox.MemStore) *MemStore {
	return &MemStore{orders: make(map[string]*Order), outbox: ob}
}

func (s *MemStore) Create(ctx context.Context, o *Order, events ...outbox.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[o.ID]; ok {
		return fmt.Errorf("order %s already exists", o.ID)
	}
	cp := *o
	cp.Items = append([]LineItem(nil), o.Items...)
	s.orders[o.ID] = &cp
	s.outbox.Append(events...)
	return nil
}

func (s *MemStore) ApplyTransition(ctx context.Context, orderID string, ev TransitionEvent, events ...outbox.Event) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return "", ErrNotFound
	}
	next, err := Next(o.Status, ev)
	if err != nil {
		return "", err
	}
	o.Status = next
	o.Version++
	s.outbox.Append(events...)
	return next, nil
}

func (s *MemStore) Get(ctx context.Context, orderID string) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	cp.Items = append([]LineItem(nil), o.Items...)
	return &cp, nil
}
