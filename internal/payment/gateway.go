package payment

import (
	"context"
	"errors"
)

type ChargeStatus string

const (
	ChargeAuthorized ChargeStatus = "AUTHORIZED"
	ChargeDeclined   ChargeStatus = "DECLINED"
	ChargeTimeout    ChargeStatus = "TIMEOUT"
)

type ChargeRequest struct {
	AttemptID   string `json:"attempt_id"`
	OrderID     string `json:"order_id"`
	AmountCents int64  `json:"amount_cents"`
	Method      string `json:"method"`
	// IdempotencyKey lets the gateway dedupe a retried charge whose first
	// response was lost. Stable per attempt.
	IdempotencyKey string `json:"idempotency_key"`
}

type ChargeResult struct {
	Status ChargeStatus `json:"status"`
	Ref    string       `json:"ref,omitempty"`
	Reason string       `json:"reason,omitempty"`
}

// ErrVerifyUnsupported is returned by gateways that cannot look up a charge
// by idempotency key. Exhausted retries then surface to manual
// reconciliation instead of silently releasing stock while a charge may
// still be in flight.
var ErrVerifyUnsupported = errors.New("gateway does not support verify")

// ErrChargeNotFound from Verify means the gateway never saw the charge.
var ErrChargeNotFound = errors.New("charge not found")

// Gateway is the external payment collaborator.
type Gateway interface {
	Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error)
	Verify(ctx context.Context, idempotencyKey string) (ChargeResult, error)
}
