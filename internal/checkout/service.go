// Package checkout drives a client order through reservation, payment, and
// fulfilment: ledger claim -> stock reserve -> order create ->
// authorize -> commit or compensate, with every state change and its events
// written atomically by the stores.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/orderflow-io/orderflow/internal/idempotency"
	"github.com/orderflow-io/orderflow/internal/inventory"
	"github.com/orderflow-io/orderflow/internal/orders"
	"github.com/orderflow-io/orderflow/internal/outbox"
	"github.com/orderflow-io/orderflow/internal/payment"
)

// StatusInsufficientStock is the terminal business outcome of a reserve that
// could not hold enough stock. No order exists in that case.
const StatusInsufficientStock = "INSUFFICIENT_STOCK"

var (
	ErrInvalidRequest = errors.New("invalid request")
	// ErrRefundRequired: the order is past the point of plain cancellation;
	// undoing it is a compensating refund flow, not a state rollback.
	ErrRefundRequired = errors.New("order requires a refund flow to cancel")
)

type ItemInput struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
}

type Request struct {
	UserID         string      `json:"user_id"`
	Items          []ItemInput `json:"items"`
	IdempotencyKey string      `json:"idempotency_key"`
	PaymentMethod  string      `json:"payment_method"`
	TraceID        string      `json:"-"`
}

type Result struct {
	OrderID string `json:"order_id,omitempty"`
	Status  string `json:"status"`
}

type Service struct {
	Orders    orders.Store
	Inventory inventory.Store
	Catalog   inventory.Catalog
	Ledger    idempotency.Ledger
	Payments  *payment.Orchestrator
	Log       *zap.Logger

	ServiceName       string
	ReservationTTL    time.Duration
	TransitionRetries int
}

// PlaceOrder is idempotent per request key: a replayed key returns the
// stored result without re-executing side effects, and a concurrent
// duplicate fails with idempotency.ErrInFlight.
func (s *Service) PlaceOrder(ctx context.Context, req Request) (Result, error) {
	if err := validate(req); err != nil {
		return Result{}, err
	}

	dec, err := s.Ledger.CheckAndReserve(ctx, req.IdempotencyKey)
	if err != nil {
		return Result{}, err
	}
	switch dec.State {
	case idempotency.SeenCompleted:
		return Result{OrderID: dec.Result.OrderID, Status: dec.Result.Status}, nil
	case idempotency.SeenPending:
		return Result{}, idempotency.ErrInFlight
	}

	res, orderCreated, err := s.place(ctx, req)
	if err != nil {
		if orderCreated {
			// The order exists; pin the key to it so a retry replays instead
			// of creating a second order.
			if cerr := s.Ledger.Complete(ctx, req.IdempotencyKey,
				idempotency.Result{OrderID: res.OrderID, Status: res.Status}); cerr != nil {
				s.Log.Error("complete idempotency key", zap.String("key", req.IdempotencyKey), zap.Error(cerr))
			}
		} else {
			// No side effects were left behind; free the key for a clean retry.
			if ferr := s.Ledger.Forget(ctx, req.IdempotencyKey); ferr != nil {
				s.Log.Error("forget idempotency key", zap.String("key", req.IdempotencyKey), zap.Error(ferr))
			}
		}
		return Result{}, err
	}

	if cerr := s.Ledger.Complete(ctx, req.IdempotencyKey,
		idempotency.Result{OrderID: res.OrderID, Status: res.Status}); cerr != nil {
		s.Log.Error("complete idempotency key", zap.String("key", req.IdempotencyKey), zap.Error(cerr))
	}
	return res, nil
}

func (s *Service) place(ctx context.Context, req Request) (res Result, orderCreated bool, err error) {
	items := make([]orders.LineItem, 0, len(req.Items))
	for _, it := range req.Items {
		price, perr := s.Catalog.UnitPrice(ctx, it.ProductID)
		if errors.Is(perr, inventory.ErrProductNotFound) {
			return Result{}, false, fmt.Errorf("%w: unknown product %s", ErrInvalidRequest, it.ProductID)
		}
		if perr != nil {
			return Result{}, false, perr
		}
		items = append(items, orders.LineItem{ProductID: it.ProductID, Qty: it.Qty, UnitPriceCents: price})
	}

	orderID := uuid.NewString()
	reserved := make([]string, 0, len(items))
	releaseAll := func() {
		for _, pid := range reserved {
			if rerr := s.Inventory.Release(ctx, pid, orderID); rerr != nil {
				s.Log.Error("release reservation",
					zap.String("order_id", orderID),
					zap.String("product_id", pid),
					zap.Error(rerr))
			}
		}
	}

	for _, it := range items {
		rerr := s.Inventory.Reserve(ctx, it.ProductID, orderID, it.Qty, s.ReservationTTL)
		var serr *inventory.StockError
		if errors.As(rerr, &serr) {
			releaseAll()
			s.Log.Info("order rejected, insufficient stock",
				zap.String("user_id", req.UserID),
				zap.String("product_id", serr.ProductID),
				zap.Int("requested", serr.Requested),
				zap.Int("available", serr.Available))
			return Result{Status: StatusInsufficientStock}, false, nil
		}
		if errors.Is(rerr, inventory.ErrProductNotFound) {
			releaseAll()
			return Result{}, false, fmt.Errorf("%w: unknown product %s", ErrInvalidRequest, it.ProductID)
		}
		if rerr != nil {
			releaseAll()
			return Result{}, false, rerr
		}
		reserved = append(reserved, it.ProductID)
	}

	o, err := orders.New(orderID, req.UserID, items)
	if err != nil {
		releaseAll()
		return Result{}, false, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	evPlaced := orders.NewEvent(s.ServiceName, orders.EventOrderPlaced, orderID, req.TraceID,
		orders.OrderPlacedPayload{OrderID: orderID, UserID: req.UserID, Items: items, TotalCents: o.TotalCents})
	evReserved := orders.NewEvent(s.ServiceName, orders.EventStockReserved, orderID, req.TraceID,
		orders.StockReservedPayload{OrderID: orderID, Items: itemQtys(items)})
	if err := s.Orders.Create(ctx, o, evPlaced, evReserved); err != nil {
		releaseAll()
		return Result{}, false, err
	}

	res = Result{OrderID: orderID, Status: string(orders.StatusCreated)}
	if _, err := s.applyTransition(ctx, orderID, orders.EvSubmitPayment); err != nil {
		// Order stays in Created; the expiry sweep will cancel it.
		return res, true, err
	}
	res.Status = string(orders.StatusAwaitingPayment)

	method := req.PaymentMethod
	if method == "" {
		method = "card"
	}
	att, err := s.Payments.Authorize(ctx, orderID, o.TotalCents, method)
	if err != nil {
		return res, true, err
	}

	switch att.Outcome {
	case payment.OutcomeAuthorized:
		if err := s.confirm(ctx, o, att, req.TraceID); err != nil {
			return res, true, err
		}
		return Result{OrderID: orderID, Status: string(orders.StatusFulfilled)}, true, nil

	case payment.OutcomeTimedOut:
		// Unresolved: a charge may still be in flight, so stock stays held
		// until reconciliation or expiry.
		return Result{OrderID: orderID, Status: string(orders.StatusAwaitingPayment)}, true, nil

	default:
		if err := s.failPayment(ctx, o, "payment declined", req.TraceID); err != nil {
			return res, true, err
		}
		return Result{OrderID: orderID, Status: string(orders.StatusPaymentFailed)}, true, nil
	}
}

// confirm commits the reservations and moves the order to PaymentConfirmed
// then Fulfilled as one logical step. A reservation committed by an earlier
// run of the same step is tolerated, so the step can be retried whole.
func (s *Service) confirm(ctx context.Context, o *orders.Order, att *payment.Attempt, traceID string) error {
	for _, it := range o.Items {
		err := s.Inventory.Commit(ctx, it.ProductID, o.ID)
		if err != nil && !errors.Is(err, inventory.ErrAlreadyCommitted) {
			return err
		}
	}

	evCaptured := orders.NewEvent(s.ServiceName, orders.EventPaymentCaptured, o.ID, traceID,
		orders.PaymentCapturedPayload{OrderID: o.ID, AttemptID: att.ID, GatewayRef: att.GatewayRef, AmountCents: att.AmountCents})
	if _, err := s.applyTransition(ctx, o.ID, orders.EvPaymentAuthorized, evCaptured); err != nil {
		return err
	}
	if err := s.Payments.MarkCaptured(ctx, att.ID, att.GatewayRef); err != nil {
		return err
	}

	evFulfilled := orders.NewEvent(s.ServiceName, orders.EventOrderFulfilled, o.ID, traceID,
		orders.OrderFulfilledPayload{OrderID: o.ID})
	_, err := s.applyTransition(ctx, o.ID, orders.EvFulfill, evFulfilled)
	return err
}

func (s *Service) failPayment(ctx context.Context, o *orders.Order, reason, traceID string) error {
	for _, it := range o.Items {
		if err := s.Inventory.Release(ctx, it.ProductID, o.ID); err != nil {
			return err
		}
	}
	evFailed := orders.NewEvent(s.ServiceName, orders.EventPaymentFailed, o.ID, traceID,
		orders.PaymentFailedPayload{OrderID: o.ID, Reason: reason})
	_, err := s.applyTransition(ctx, o.ID, orders.EvPaymentDeclined, evFailed)
	return err
}

// Cancel honors a client cancel while the order has not been charged.
// Already-cancelled orders return CANCELLED so the call is idempotent.
func (s *Service) Cancel(ctx context.Context, orderID string) (Result, error) {
	o, err := s.Orders.Get(ctx, orderID)
	if err != nil {
		return Result{}, err
	}

	switch o.Status {
	case orders.StatusCancelled:
		return Result{OrderID: orderID, Status: string(orders.StatusCancelled)}, nil
	case orders.StatusCreated, orders.StatusAwaitingPayment:
	default:
		return Result{}, ErrRefundRequired
	}

	for _, it := range o.Items {
		if err := s.Inventory.Release(ctx, it.ProductID, orderID); err != nil {
			return Result{}, err
		}
	}
	ev := orders.NewEvent(s.ServiceName, orders.EventOrderCancelled, orderID, "",
		orders.OrderCancelledPayload{OrderID: orderID, Reason: "client cancel"})
	if _, err := s.applyTransition(ctx, orderID, orders.EvCancel, ev); err != nil {
		return Result{}, err
	}
	return Result{OrderID: orderID, Status: string(orders.StatusCancelled)}, nil
}

// SweepExpired releases reservations past their deadline, cancels the
// orders they belonged to if those are still cancellable, and prunes the
// idempotency ledger. Invoked periodically by the worker.
func (s *Service) SweepExpired(ctx context.Context, now time.Time) error {
	expired, err := s.Inventory.SweepExpired(ctx, now)
	if err != nil {
		return err
	}

	seen := make(map[string]bool)
	for _, e := range expired {
		if seen[e.OrderID] {
			continue
		}
		seen[e.OrderID] = true

		o, err := s.Orders.Get(ctx, e.OrderID)
		if err != nil {
			s.Log.Error("sweep: load order", zap.String("order_id", e.OrderID), zap.Error(err))
			continue
		}
		if o.Status != orders.StatusCreated && o.Status != orders.StatusAwaitingPayment {
			continue
		}
		ev := orders.NewEvent(s.ServiceName, orders.EventOrderCancelled, e.OrderID, "",
			orders.OrderCancelledPayload{OrderID: e.OrderID, Reason: "payment deadline expired"})
		if _, err := s.applyTransition(ctx, e.OrderID, orders.EvTimeout, ev); err != nil {
			// A concurrent payment confirmation can win this race; that is fine.
			if errors.Is(err, orders.ErrInvalidTransition) {
				continue
			}
			s.Log.Error("sweep: cancel order", zap.String("order_id", e.OrderID), zap.Error(err))
			continue
		}
		s.Log.Info("order cancelled by expiry sweep", zap.String("order_id", e.OrderID))
	}

	if n, err := s.Ledger.SweepExpired(ctx, now); err != nil {
		s.Log.Error("sweep: idempotency ledger", zap.Error(err))
	} else if n > 0 {
		s.Log.Info("idempotency keys expired", zap.Int("count", n))
	}
	return nil
}

func (s *Service) applyTransition(ctx context.Context, orderID string, ev orders.TransitionEvent, events ...outbox.Event) (orders.Status, error) {
	retries := s.TransitionRetries
	if retries <= 0 {
		retries = 3
	}
	var lastErr error
	for i := 0; i < retries; i++ {
		st, err := s.Orders.ApplyTransition(ctx, orderID, ev, events...)
		if !errors.Is(err, orders.ErrStaleVersion) {
			return st, err
		}
		lastErr = err
	}
	return "", fmt.Errorf("transition retries exhausted: %w", lastErr)
}

func validate(req Request) error {
	if req.UserID == "" {
		return fmt.Errorf("%w: missing user_id", ErrInvalidRequest)
	}
	if req.IdempotencyKey == "" {
		return fmt.Errorf("%w: missing idempotency_key", ErrInvalidRequest)
	}
	if len(req.Items) == 0 {
		return fmt.Errorf("%w: no items", ErrInvalidRequest)
	}
	seen := make(map[string]bool, len(req.Items))
	for _, it := range req.Items {
		if it.ProductID == "" {
			return fmt.Errorf("%w: missing product_id", ErrInvalidRequest)
		}
		if it.Qty <= 0 {
			return fmt.Errorf("%w: invalid qty %d for product %s", ErrInvalidRequest, it.Qty, it.ProductID)
		}
		if seen[it.ProductID] {
			return fmt.Errorf("%w: duplicate product %s", ErrInvalidRequest, it.ProductID)
		}
		seen[it.ProductID] = true
	}
	return nil
}

func itemQtys(items []orders.LineItem) []orders.ItemQty {
	out := make([]orders.ItemQty, 0, len(items))
	for _, it := range items {
		out = append(out, orders.ItemQty{ProductID: it.ProductID, Qty: it.Qty})
	}
	return out
}
