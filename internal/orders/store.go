package orders

import (
	"context"

	"github.com/orderflow-io/orderflow/internal/outbox"
)

// Store owns the Order rows. Mutation happens only through Create and
// ApplyTransition; both write their outbox events in the same atomic unit as
// the order itself.
type Store interface {
	// Create persists a new order (and its items) plus events, atomically.
	Create(ctx context.Context, o *Order, events ...outbox.Event) error

	// ApplyTransition applies ev against the current state with optimistic
	// concurrency: the update is conditional on the stored version, and a
	// concurrent writer surfaces as ErrStaleVersion for the caller to retry
	// after re-reading. An event the current state does not accept is
	// ErrInvalidTransition.
	ApplyTransition(ctx context.Context, orderID string, ev TransitionEvent, events ...outbox.Event) (Status, error)

	Get(ctx context.Context, orderID string) (*Order, error)
}
