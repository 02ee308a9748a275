// Package inventory tracks per-product available stock and the temporary
// holds placed on it while an order awaits its payment outcome.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type State string

const (
	StateReserved  State = "RESERVED"
	StateCommitted State = "COMMITTED"
	StateReleased  State = "RELEASED"
)

// Reservation is identified by its (product_id, order_id) pair; at most one
// active reservation exists per pair.
type Reservation struct {
	ProductID string
	OrderID   string
	Qty       int
	State     State
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Expired identifies a reservation released by the sweep, so the checkout
// layer can cancel the owning order.
type Expired struct {
	ProductID string
	OrderID   string
}

var (
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrProductNotFound   = errors.New("product not found")
	// ErrAlreadyCommitted flags a double commit: a contract violation, not a
	// business outcome.
	ErrAlreadyCommitted = errors.New("reservation already committed")
	ErrNotReserved      = errors.New("no active reservation")
)

// StockError carries the shortfall detail behind ErrInsufficientStock.
type StockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *StockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

func (e *StockError) Unwrap() error { return ErrInsufficientStock }

type Store interface {
	// Reserve checks and decrements available stock and records the hold as
	// one atomic step. Two concurrent reserves for the last unit must not
	// both succeed. Reserving an already-reserved pair is a no-op.
	Reserve(ctx context.Context, productID, orderID string, qty int, ttl time.Duration) error

	// Commit converts a hold into consumed stock. The only operation that
	// permanently consumes inventory.
	Commit(ctx context.Context, productID, orderID string) error

	// Release returns a hold's quantity to available stock. Idempotent: a
	// second call is a no-op. Refuses Committed entries (see ReverseCommit).
	Release(ctx context.Context, productID, orderID string) error

	// ReverseCommit is the compensating path for refund flows: it restores
	// available stock for a Committed entry. Kept distinct from Release so a
	// plain failure path can never resurrect consumed inventory.
	ReverseCommit(ctx context.Context, productID, orderID string) error

	// SweepExpired releases reservations past their deadline and reports
	// which orders were affected.
	SweepExpired(ctx context.Context, now time.Time) ([]Expired, error)

	// Available returns the currently sellable quantity.
	Available(ctx context.Context, productID string) (int, error)
}

// Catalog supplies the unit price snapshot at order-creation time.
// Read-only from this core's perspective.
type Catalog interface {
	UnitPrice(ctx context.Context, productID string) (int64, error)
}
