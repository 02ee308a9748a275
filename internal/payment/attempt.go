package payment

import (
	"context"
	"errors"
	"sync"
	"time"
)

type Outcome string

const (
	OutcomePending    Outcome = "PENDING"
	OutcomeAuthorized Outcome = "AUTHORIZED"
	OutcomeCaptured   Outcome = "CAPTURED"
	OutcomeFailed     Outcome = "FAILED"
	OutcomeTimedOut   Outcome = "TIMED_OUT"
)

// Terminal reports whether the outcome can change no further.
func (o Outcome) Terminal() bool {
	return o == OutcomeCaptured || o == OutcomeFailed
}

type Attempt struct {
	ID          string
	OrderID     string
	AmountCents int64
	GatewayRef  string
	Outcome     Outcome
	Number      int
	CreatedAt   time.Time
}

// ErrAttemptOpen: at most one non-terminal attempt may exist per order.
var ErrAttemptOpen = errors.New("order already has an open payment attempt")

type AttemptStore interface {
	// Create persists a new Pending attempt, refusing if the order already
	// has a non-terminal one.
	Create(ctx context.Context, a *Attempt) error

	// Resolve records the attempt's outcome and gateway reference.
	Resolve(ctx context.Context, attemptID string, outcome Outcome, ref string) error

	Get(ctx context.Context, attemptID string) (*Attempt, error)
}

// MemAttemptStore is the in-memory attempt store used by tests.
type MemAttemptStore struct {
	mu       sync.Mutex
	attempts map[string]*Attempt
}

func NewMemAttemptStore() *MemAttemptStore {
	return &MemAttemptStore{attempts: make(map[string]*Attempt)}
}

func (s *MemAttemptStore) Create(ctx context.Context, a *Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, ex := range s.attempts {
		if ex.OrderID != a.OrderID {
			continue
		}
		n++
		if !ex.Outcome.Terminal() {
			return ErrAttemptOpen
		}
	}
	cp := *a
	cp.Number = n + 1
	s.attempts[a.ID] = &cp
	a.Number = cp.Number
	return nil
}

func (s *MemAttemptStore) Resolve(ctx context.Context, attemptID string, outcome Outcome, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attempts[attemptID]
	if !ok {
		return errors.New("attempt not found")
	}
	a.Outcome = outcome
	if ref != "" {
		a.GatewayRef = ref
	}
	return nil
}

func (s *MemAttemptStore) Get(ctx context.Context, attemptID string) (*Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attempts[attemptID]
	if !ok {
		return nil, errors.New("attempt not found")
	}
	cp := *a
	return &cp, nil
}
