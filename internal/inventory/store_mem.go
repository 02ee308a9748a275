package inventory

import (
	"context"
	"sync"
	"time"
)

type memProduct struct {
	available  int
	reserved   int
	priceCents int64
}

// MemStore is the in-memory store used by tests. It doubles as the Catalog
// since the products table owns both stock and price.
type MemStore struct {
	mu           sync.Mutex
	products     map[string]*memProduct
	reservations map[string]*Reservation // key: productID + "/" + orderID
}

func NewMemStore() *MemStore {
	return &MemStore{
		products:     make(map[string]*memProduct),
		reservations: make(map[string]*Reservation),
	}
}

// SetProduct seeds or replaces a product's stock and price.
func (s *MemStore) SetProduct(productID string, available int, priceCents int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[productID] = &memProduct{available: available, priceCents: priceCents}
}

func key(productID, orderID string) string { return productID + "/" + orderID }

func (s *MemStore) Reserve(ctx context.Context, productID, orderID string, qty int, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r, ok := s.reservations[key(productID, orderID)]; ok && r.State == StateReserved {
		return nil
	}
	p, ok := s.products[productID]
	if !ok {
		return ErrProductNotFound
	}
	if p.available < qty {
		return &StockError{ProductID: productID, Requested: qty, Available: p.available}
	}
	p.available -= qty
	p.reserved += qty
	now := time.Now().UTC()
	s.reservations[key(productID, orderID)] = &Reservation{
		ProductID: productID,
		OrderID:   orderID,
		Qty:       qty,
		State:     StateReserved,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}
	return nil
}

func (s *MemStore) Commit(ctx context.Context, productID, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reservations[key(productID, orderID)]
	if !ok || r.State == StateReleased {
		return ErrNotReserved
	}
	if r.State == StateCommitted {
		return ErrAlreadyCommitted
	}
	r.State = StateCommitted
	s.products[productID].reserved -= r.Qty
	return nil
}

func (s *MemStore) Release(ctx context.Context, productID, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reservations[key(productID, orderID)]
	if !ok || r.State == StateReleased {
		return nil
	}
	if r.State == StateCommitted {
		return ErrAlreadyCommitted
	}
	r.State = StateReleased
	p := s.products[productID]
	p.available += r.Qty
	p.reserved -= r.Qty
	return nil
}

func (s *MemStore) ReverseCommit(ctx context.Context, productID, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reservations[key(productID, orderID)]
	if !ok || r.State != StateCommitted {
		return ErrNotReserved
	}
	r.State = StateReleased
	s.products[productID].available += r.Qty
	return nil
}

func (s *MemStore) SweepExpired(ctx context.Context, now time.Time) ([]Expired, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []Expired
	for _, r := range s.reservations {
		if r.State != StateReserved || !r.ExpiresAt.Before(now) {
			continue
		}
		r.State = StateReleased
		p := s.products[r.ProductID]
		p.available += r.Qty
		p.reserved -= r.Qty
		expired = append(expired, Expired{ProductID: r.ProductID, OrderID: r.OrderID})
	}
	return expired, nil
}

func (s *MemStore) Available(ctx context.Context, productID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[productID]
	if !ok {
		return 0, ErrProductNotFound
	}
	return p.available, nil
}

func (s *MemStore) UnitPrice(ctx context.Context, productID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[productID]
	if !ok {
		return 0, ErrProductNotFound
	}
	return p.priceCents, nil
}
