package orders

import (
	"errors"
	"fmt"
)

type Status string

const (
	StatusCreated          Status = "CREATED"
	StatusAwaitingPayment  Status = "AWAITING_PAYMENT"
	StatusPaymentConfirmed Status = "PAYMENT_CONFIRMED"
	StatusPaymentFailed    Status = "PAYMENT_FAILED"
	StatusFulfilled        Status = "FULFILLED"
	StatusCancelled        Status = "CANCELLED"
)

// TransitionEvent drives the state machine. Transitions are applied through
// the Store with version CAS; calling Next with an event the current state
// does not accept is a programming-contract violation, not a business error.
type TransitionEvent string

const (
	EvSubmitPayment     TransitionEvent = "SubmitPayment"
	EvPaymentAuthorized TransitionEvent = "PaymentAuthorized"
	EvPaymentDeclined   TransitionEvent = "PaymentDeclined"
	EvFulfill           TransitionEvent = "Fulfill"
	EvClose             TransitionEvent = "Close"
	EvCancel            TransitionEvent = "Cancel"
	EvTimeout           TransitionEvent = "Timeout"
)

// ErrInvalidTransition marks a contract violation: logged, never retried,
// never surfaced as a normal business outcome.
var ErrInvalidTransition = errors.New("invalid order transition")

var transitions = map[Status]map[TransitionEvent]Status{
	StatusCreated: {
		EvSubmitPayment: StatusAwaitingPayment,
		EvCancel:        StatusCancelled,
		EvTimeout:       StatusCancelled,
	},
	StatusAwaitingPayment: {
		EvPaymentAuthorized: StatusPaymentConfirmed,
		EvPaymentDeclined:   StatusPaymentFailed,
		EvCancel:            StatusCancelled,
		EvTimeout:           StatusCancelled,
	},
	StatusPaymentConfirmed: {
		EvFulfill: StatusFulfilled,
	},
	StatusPaymentFailed: {
		EvClose: StatusCancelled,
	},
	StatusFulfilled: {},
	StatusCancelled: {},
}

// Next returns the state after applying ev to from.
func Next(from Status, ev TransitionEvent) (Status, error) {
	next, ok := transitions[from][ev]
	if !ok {
		return "", fmt.Errorf("%w: %s on %s", ErrInvalidTransition, ev, from)
	}
	return next, nil
}

// Terminal reports whether no event can move the order out of s.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}
