package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RetryPolicy bounds the gateway retry loop: exponential backoff with
// jitter, at most MaxTries charge calls, capped by a total Deadline.
type RetryPolicy struct {
	MaxTries       int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Deadline       time.Duration
	ChargeTimeout  time.Duration
}

// Orchestrator drives a payment attempt against the gateway and records the
// result. It never assumes an unanswered charge did not succeed: exhausted
// retries go through Verify before the attempt is declared failed.
type Orchestrator struct {
	Gateway Gateway
	Store   AttemptStore
	Log     *zap.Logger
	Policy  RetryPolicy
}

var errGatewayTimeout = errors.New("gateway timeout")

// Authorize creates an attempt for the order's total and resolves it to one
// of Authorized, Failed, or TimedOut (unresolved, for manual
// reconciliation). The returned attempt carries the outcome; only
// infrastructure failures return a non-nil error.
func (o *Orchestrator) Authorize(ctx context.Context, orderID string, amountCents int64, method string) (*Attempt, error) {
	att := &Attempt{
		ID:          uuid.NewString(),
		OrderID:     orderID,
		AmountCents: amountCents,
		Outcome:     OutcomePending,
		CreatedAt:   time.Now().UTC(),
	}
	if err := o.Store.Create(ctx, att); err != nil {
		return nil, err
	}

	req := ChargeRequest{
		AttemptID:      att.ID,
		OrderID:        orderID,
		AmountCents:    amountCents,
		Method:         method,
		IdempotencyKey: att.ID,
	}

	res, err := o.charge(ctx, req)
	if err != nil {
		// Retries exhausted. The charge may still have landed: ask the
		// gateway before declaring failure.
		res, err = o.reconcile(ctx, att)
		if err != nil {
			o.Log.Warn("payment unresolved, manual reconciliation required",
				zap.String("order_id", orderID),
				zap.String("attempt_id", att.ID),
				zap.Error(err))
			if rerr := o.Store.Resolve(ctx, att.ID, OutcomeTimedOut, ""); rerr != nil {
				return nil, rerr
			}
			att.Outcome = OutcomeTimedOut
			return att, nil
		}
	}

	switch res.Status {
	case ChargeAuthorized:
		if err := o.Store.Resolve(ctx, att.ID, OutcomeAuthorized, res.Ref); err != nil {
			return nil, err
		}
		att.Outcome = OutcomeAuthorized
		att.GatewayRef = res.Ref
	default:
		if err := o.Store.Resolve(ctx, att.ID, OutcomeFailed, res.Ref); err != nil {
			return nil, err
		}
		att.Outcome = OutcomeFailed
		att.GatewayRef = res.Ref
		o.Log.Info("payment declined",
			zap.String("order_id", orderID),
			zap.String("reason", res.Reason))
	}
	return att, nil
}

// MarkCaptured records the capture after the confirm step committed.
func (o *Orchestrator) MarkCaptured(ctx context.Context, attemptID, ref string) error {
	return o.Store.Resolve(ctx, attemptID, OutcomeCaptured, ref)
}

func (o *Orchestrator) charge(ctx context.Context, req ChargeRequest) (ChargeResult, error) {
	var res ChargeResult
	op := func() error {
		cctx, cancel := context.WithTimeout(ctx, o.Policy.ChargeTimeout)
		defer cancel()

		r, err := o.Gateway.Charge(cctx, req)
		if err != nil {
			return err // transport failure, retryable
		}
		if r.Status == ChargeTimeout {
			return errGatewayTimeout
		}
		res = r
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = o.Policy.InitialBackoff
	bo.MaxInterval = o.Policy.MaxBackoff
	bo.MaxElapsedTime = o.Policy.Deadline

	maxRetries := uint64(0)
	if o.Policy.MaxTries > 1 {
		maxRetries = uint64(o.Policy.MaxTries - 1)
	}
	err := backoff.Retry(op,
		backoff.WithMaxRetries(backoff.WithContext(bo, ctx), maxRetries))
	if err != nil {
		return ChargeResult{}, fmt.Errorf("charge retries exhausted: %w", err)
	}
	return res, nil
}

func (o *Orchestrator) reconcile(ctx context.Context, att *Attempt) (ChargeResult, error) {
	res, err := o.Gateway.Verify(ctx, att.ID)
	if errors.Is(err, ErrChargeNotFound) {
		// The gateway never saw the charge; safe to fail.
		return ChargeResult{Status: ChargeDeclined, Reason: "gateway timeout"}, nil
	}
	if err != nil {
		return ChargeResult{}, err
	}
	if res.Status == ChargeTimeout {
		return ChargeResult{}, errGatewayTimeout
	}
	return res, nil
}
