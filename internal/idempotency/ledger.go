// Package idempotency records which client-supplied operation keys have
// already been processed, so a retried request replays its stored result
// instead of re-executing side effects.
package idempotency

import (
	"context"
	"errors"
	"time"
)

// Result is the first-seen outcome stored against a key: enough to replay
// the client response without touching the other stores.
type Result struct {
	OrderID string `json:"order_id,omitempty"`
	Status  string `json:"status"`
}

type State int

const (
	// NotSeen: the key was claimed by this call; proceed with side effects.
	NotSeen State = iota
	// SeenPending: a concurrent duplicate is in flight; fail with retry-later
	// rather than double-executing.
	SeenPending
	// SeenCompleted: replay the stored result.
	SeenCompleted
)

type Decision struct {
	State  State
	Result *Result // set only for SeenCompleted
}

// ErrInFlight is what SeenPending surfaces as to callers.
var ErrInFlight = errors.New("request with this idempotency key is in flight")

type Ledger interface {
	// CheckAndReserve claims the key atomically if it is new.
	CheckAndReserve(ctx context.Context, key string) (Decision, error)

	// Complete stores the result against a previously claimed key.
	Complete(ctx context.Context, key string, r Result) error

	// Forget drops a pending claim. Used when the handler fails before any
	// side effect, so the client's retry is not locked out for the whole
	// retention window.
	Forget(ctx context.Context, key string) error

	// SweepExpired drops records past the retention window. Local concern,
	// invisible to callers within the window.
	SweepExpired(ctx context.Context, now time.Time) (int, error)
}
