package orders

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound     = errors.New("order not found")
	ErrStaleVersion = errors.New("stale order version")
	ErrEmptyOrder   = errors.New("order has no items")
)

// LineItem snapshots the unit price at order time; it is never recomputed.
type LineItem struct {
	ProductID      string `json:"product_id"`
	Qty            int    `json:"qty"`
	UnitPriceCents int64  `json:"unit_price_cents"`
}

type Order struct {
	ID         string
	UserID     string
	Items      []LineItem
	Status     Status
	TotalCents int64
	CreatedAt  time.Time
	Version    int64
}

// New builds an order in StatusCreated. TotalCents is derived here once and
// never mutated afterwards.
func New(id, userID string, items []LineItem) (*Order, error) {
	if len(items) == 0 {
		return nil, ErrEmptyOrder
	}
	var total int64
	for _, it := range items {
		if it.Qty <= 0 {
			return nil, fmt.Errorf("invalid qty %d for product %s", it.Qty, it.ProductID)
		}
		if it.UnitPriceCents < 0 {
			return nil, fmt.Errorf("invalid price for product %s", it.ProductID)
		}
		total += it.UnitPriceCents * int64(it.Qty)
	}
	return &Order{
		ID:         id,
		UserID:     userID,
		Items:      items,
		Status:     StatusCreated,
		TotalCents: total,
		CreatedAt:  time.Now().UTC(),
		Version:    1,
	}, nil
}
