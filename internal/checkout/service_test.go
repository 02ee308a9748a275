package checkout

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/orderflow-io/orderflow/internal/idempotency"
	"github.com/orderflow-io/orderflow/internal/inventory"
	"github.com/orderflow-io/orderflow/internal/orders"
	"github.com/orderflow-io/orderflow/internal/outbox"
	"github.com/orderflow-io/orderflow/internal/payment"
)

// scriptGateway replays a fixed sequence of charge results; the last entry
// repeats. Verify returns a fixed answer.
type scriptGateway struct {
	mu        sync.Mutex
	script    []payment.ChargeResult
	calls     int
	verify    payment.ChargeResult
	verifyErr error
}

func (g *scriptGateway) Charge(ctx context.Context, req payment.ChargeRequest) (payment.ChargeResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	i := g.calls
	if i >= len(g.script) {
		i = len(g.script) - 1
	}
	g.calls++
	return g.script[i], nil
}

func (g *scriptGateway) Verify(ctx context.Context, key string) (payment.ChargeResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.verify, g.verifyErr
}

func (g *scriptGateway) chargeCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type env struct {
	svc      *Service
	stock    *inventory.MemStore
	outbox   *outbox.MemStore
	attempts *payment.MemAttemptStore
	orders   *orders.MemStore
}

func newEnv(gw payment.Gateway) *env {
	ob := outbox.NewMemStore()
	stock := inventory.NewMemStore()
	attempts := payment.NewMemAttemptStore()
	orderStore := orders.NewMemStore(ob)

	svc := &Service{
		Orders:    orderStore,
		Inventory: stock,
		Catalog:   stock,
		Ledger:    idempotency.NewMemLedger(24 * time.Hour),
		Payments: &payment.Orchestrator{
			Gateway: gw,
			Store:   attempts,
			Log:     zap.NewNop(),
			Policy: payment.RetryPolicy{
				MaxTries:       3,
				InitialBackoff: time.Millisecond,
				MaxBackoff:     2 * time.Millisecond,
				Deadline:       time.Second,
				ChargeTimeout:  100 * time.Millisecond,
			},
		},
		Log:            zap.NewNop(),
		ServiceName:    "checkout-test",
		ReservationTTL: time.Minute,
	}
	return &env{svc: svc, stock: stock, outbox: ob, attempts: attempts, orders: orderStore}
}

func (e *env) eventTypes() []string {
	var out []string
	for _, row := range e.outbox.All() {
		out = append(out, row.Event.Type)
	}
	return out
}

func placeReq(key string) Request {
	return Request{
		UserID:         "u-1",
		Items:          []ItemInput{{ProductID: "p-1", Qty: 3}},
		IdempotencyKey: key,
		PaymentMethod:  "card",
	}
}

func TestPlaceOrderFulfilled(t *testing.T) {
	t.Parallel()

	gw := &scriptGateway{script: []payment.ChargeResult{{Status: payment.ChargeAuthorized, Ref: "ref-1"}}}
	e := newEnv(gw)
	e.stock.SetProduct("p-1", 5, 1500)

	res, err := e.svc.PlaceOrder(context.Background(), placeReq("k-1"))
	require.NoError(t, err)
	require.NotEmpty(t, res.OrderID)
	assert.Equal(t, string(orders.StatusFulfilled), res.Status)

	o, err := e.orders.Get(context.Background(), res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusFulfilled, o.Status)
	assert.Equal(t, int64(4500), o.TotalCents)

	// Committed stock is consumed for good.
	avail, _ := e.stock.Available(context.Background(), "p-1")
	assert.Equal(t, 2, avail)

	assert.Equal(t, []string{
		orders.EventOrderPlaced,
		orders.EventStockReserved,
		orders.EventPaymentCaptured,
		orders.EventOrderFulfilled,
	}, e.eventTypes())
}

func TestPlaceOrderReplaySameKey(t *testing.T) {
	t.Parallel()

	gw := &scriptGateway{script: []payment.ChargeResult{{Status: payment.ChargeAuthorized, Ref: "ref-1"}}}
	e := newEnv(gw)
	e.stock.SetProduct("p-1", 5, 1500)

	first, err := e.svc.PlaceOrder(context.Background(), placeReq("abc-123"))
	require.NoError(t, err)

	again, err := e.svc.PlaceOrder(context.Background(), placeReq("abc-123"))
	require.NoError(t, err)
	assert.Equal(t, first.OrderID, again.OrderID)
	assert.Equal(t, first.Status, again.Status)

	// Replay touched nothing: one charge, one hold, same event trail.
	assert.Equal(t, 1, gw.chargeCalls())
	avail, _ := e.stock.Available(context.Background(), "p-1")
	assert.Equal(t, 2, avail)
	assert.Len(t, e.eventTypes(), 4)
}

func TestPlaceOrderConcurrentSameKey(t *testing.T) {
	t.Parallel()

	gw := &scriptGateway{script: []payment.ChargeResult{{Status: payment.ChargeAuthorized, Ref: "ref-1"}}}
	e := newEnv(gw)
	e.stock.SetProduct("p-1", 10, 1500)

	const n = 8
	results := make([]Result, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = e.svc.PlaceOrder(context.Background(), placeReq("abc-123"))
		}(i)
	}
	wg.Wait()

	var orderIDs []string
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			// Losers of the race see the in-flight conflict.
			assert.ErrorIs(t, errs[i], idempotency.ErrInFlight)
			continue
		}
		orderIDs = append(orderIDs, results[i].OrderID)
	}
	require.NotEmpty(t, orderIDs)
	for _, id := range orderIDs {
		assert.Equal(t, orderIDs[0], id)
	}

	// Exactly one order's worth of stock was consumed.
	assert.Equal(t, 1, gw.chargeCalls())
	avail, _ := e.stock.Available(context.Background(), "p-1")
	assert.Equal(t, 7, avail)
}

func TestPlaceOrderInsufficientStock(t *testing.T) {
	t.Parallel()

	gw := &scriptGateway{script: []payment.ChargeResult{{Status: payment.ChargeAuthorized}}}
	e := newEnv(gw)
	e.stock.SetProduct("p-1", 1, 1500)

	req := placeReq("k-1")
	req.Items = []ItemInput{{ProductID: "p-1", Qty: 2}}

	res, err := e.svc.PlaceOrder(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, StatusInsufficientStock, res.Status)
	assert.Empty(t, res.OrderID)

	// No order, no charge, no hold, no events.
	assert.Equal(t, 0, gw.chargeCalls())
	avail, _ := e.stock.Available(context.Background(), "p-1")
	assert.Equal(t, 1, avail)
	assert.Empty(t, e.eventTypes())

	// The outcome is durable: a retry replays it.
	again, err := e.svc.PlaceOrder(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, StatusInsufficientStock, again.Status)
}

func TestPlaceOrderPartialReserveRollsBack(t *testing.T) {
	t.Parallel()

	gw := &scriptGateway{script: []payment.ChargeResult{{Status: payment.ChargeAuthorized}}}
	e := newEnv(gw)
	e.stock.SetProduct("p-1", 5, 1000)
	e.stock.SetProduct("p-2", 0, 2000)

	req := placeReq("k-1")
	req.Items = []ItemInput{
		{ProductID: "p-1", Qty: 2},
		{ProductID: "p-2", Qty: 1},
	}

	res, err := e.svc.PlaceOrder(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, StatusInsufficientStock, res.Status)

	// The hold on p-1 was rolled back when p-2 came up short.
	avail, _ := e.stock.Available(context.Background(), "p-1")
	assert.Equal(t, 5, avail)
}

func TestPlaceOrderDeclinedAfterRetries(t *testing.T) {
	t.Parallel()

	// Every charge times out and the gateway never saw any of them, so the
	// attempt resolves to a safe decline.
	gw := &scriptGateway{
		script:    []payment.ChargeResult{{Status: payment.ChargeTimeout}},
		verifyErr: payment.ErrChargeNotFound,
	}
	e := newEnv(gw)
	e.stock.SetProduct("p-1", 5, 1500)

	res, err := e.svc.PlaceOrder(context.Background(), placeReq("k-1"))
	require.NoError(t, err)
	assert.Equal(t, string(orders.StatusPaymentFailed), res.Status)
	assert.Equal(t, 3, gw.chargeCalls())

	o, err := e.orders.Get(context.Background(), res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusPaymentFailed, o.Status)

	// Stock went back on the shelf.
	avail, _ := e.stock.Available(context.Background(), "p-1")
	assert.Equal(t, 5, avail)

	assert.Equal(t, []string{
		orders.EventOrderPlaced,
		orders.EventStockReserved,
		orders.EventPaymentFailed,
	}, e.eventTypes())
}

func TestPlaceOrderUnresolvedKeepsHold(t *testing.T) {
	t.Parallel()

	// Retries exhausted and Verify cannot answer: the charge may still be
	// in flight, so the order parks in AwaitingPayment with stock held.
	gw := &scriptGateway{
		script:    []payment.ChargeResult{{Status: payment.ChargeTimeout}},
		verifyErr: payment.ErrVerifyUnsupported,
	}
	e := newEnv(gw)
	e.stock.SetProduct("p-1", 5, 1500)

	res, err := e.svc.PlaceOrder(context.Background(), placeReq("k-1"))
	require.NoError(t, err)
	assert.Equal(t, string(orders.StatusAwaitingPayment), res.Status)

	avail, _ := e.stock.Available(context.Background(), "p-1")
	assert.Equal(t, 2, avail)

	o, err := e.orders.Get(context.Background(), res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusAwaitingPayment, o.Status)
}

func TestPlaceOrderValidation(t *testing.T) {
	t.Parallel()

	e := newEnv(&scriptGateway{script: []payment.ChargeResult{{Status: payment.ChargeAuthorized}}})
	e.stock.SetProduct("p-1", 5, 1500)
	ctx := context.Background()

	cases := []Request{
		{UserID: "", Items: []ItemInput{{ProductID: "p-1", Qty: 1}}, IdempotencyKey: "k"},
		{UserID: "u-1", Items: nil, IdempotencyKey: "k"},
		{UserID: "u-1", Items: []ItemInput{{ProductID: "p-1", Qty: 1}}, IdempotencyKey: ""},
		{UserID: "u-1", Items: []ItemInput{{ProductID: "p-1", Qty: 0}}, IdempotencyKey: "k"},
		{UserID: "u-1", Items: []ItemInput{{ProductID: "", Qty: 1}}, IdempotencyKey: "k"},
		{UserID: "u-1", Items: []ItemInput{{ProductID: "p-1", Qty: 1}, {ProductID: "p-1", Qty: 2}}, IdempotencyKey: "k"},
	}
	for _, req := range cases {
		_, err := e.svc.PlaceOrder(ctx, req)
		assert.ErrorIs(t, err, ErrInvalidRequest)
	}

	// Unknown product fails validation and frees the key for reuse.
	req := placeReq("k-reuse")
	req.Items = []ItemInput{{ProductID: "ghost", Qty: 1}}
	_, err := e.svc.PlaceOrder(ctx, req)
	require.ErrorIs(t, err, ErrInvalidRequest)

	res, err := e.svc.PlaceOrder(ctx, placeReq("k-reuse"))
	require.NoError(t, err)
	assert.Equal(t, string(orders.StatusFulfilled), res.Status)
}

func TestCancelBeforePayment(t *testing.T) {
	t.Parallel()

	gw := &scriptGateway{
		script:    []payment.ChargeResult{{Status: payment.ChargeTimeout}},
		verifyErr: payment.ErrVerifyUnsupported,
	}
	e := newEnv(gw)
	e.stock.SetProduct("p-1", 5, 1500)

	res, err := e.svc.PlaceOrder(context.Background(), placeReq("k-1"))
	require.NoError(t, err)
	require.Equal(t, string(orders.StatusAwaitingPayment), res.Status)

	got, err := e.svc.Cancel(context.Background(), res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, string(orders.StatusCancelled), got.Status)

	avail, _ := e.stock.Available(context.Background(), "p-1")
	assert.Equal(t, 5, avail)

	// Cancelling again is a no-op with the same answer.
	got, err = e.svc.Cancel(context.Background(), res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, string(orders.StatusCancelled), got.Status)
}

func TestCancelAfterCaptureNeedsRefund(t *testing.T) {
	t.Parallel()

	gw := &scriptGateway{script: []payment.ChargeResult{{Status: payment.ChargeAuthorized, Ref: "ref-1"}}}
	e := newEnv(gw)
	e.stock.SetProduct("p-1", 5, 1500)

	res, err := e.svc.PlaceOrder(context.Background(), placeReq("k-1"))
	require.NoError(t, err)
	require.Equal(t, string(orders.StatusFulfilled), res.Status)

	_, err = e.svc.Cancel(context.Background(), res.OrderID)
	assert.ErrorIs(t, err, ErrRefundRequired)
}

func TestCancelUnknownOrder(t *testing.T) {
	t.Parallel()

	e := newEnv(&scriptGateway{script: []payment.ChargeResult{{Status: payment.ChargeAuthorized}}})
	_, err := e.svc.Cancel(context.Background(), "missing")
	assert.ErrorIs(t, err, orders.ErrNotFound)
}

func TestSweepExpiredCancelsAbandonedOrder(t *testing.T) {
	t.Parallel()

	gw := &scriptGateway{
		script:    []payment.ChargeResult{{Status: payment.ChargeTimeout}},
		verifyErr: payment.ErrVerifyUnsupported,
	}
	e := newEnv(gw)
	e.svc.ReservationTTL = time.Millisecond
	e.stock.SetProduct("p-1", 5, 1500)

	res, err := e.svc.PlaceOrder(context.Background(), placeReq("k-1"))
	require.NoError(t, err)
	require.Equal(t, string(orders.StatusAwaitingPayment), res.Status)

	require.NoError(t, e.svc.SweepExpired(context.Background(), time.Now().UTC().Add(time.Minute)))

	o, err := e.orders.Get(context.Background(), res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusCancelled, o.Status)

	avail, _ := e.stock.Available(context.Background(), "p-1")
	assert.Equal(t, 5, avail)

	types := e.eventTypes()
	assert.Equal(t, orders.EventOrderCancelled, types[len(types)-1])
}

func TestSweepLeavesFulfilledOrdersAlone(t *testing.T) {
	t.Parallel()

	gw := &scriptGateway{script: []payment.ChargeResult{{Status: payment.ChargeAuthorized, Ref: "ref-1"}}}
	e := newEnv(gw)
	e.svc.ReservationTTL = time.Millisecond
	e.stock.SetProduct("p-1", 5, 1500)

	res, err := e.svc.PlaceOrder(context.Background(), placeReq("k-1"))
	require.NoError(t, err)
	require.Equal(t, string(orders.StatusFulfilled), res.Status)

	require.NoError(t, e.svc.SweepExpired(context.Background(), time.Now().UTC().Add(time.Minute)))

	o, err := e.orders.Get(context.Background(), res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusFulfilled, o.Status)

	// Committed stock stays consumed.
	avail, _ := e.stock.Available(context.Background(), "p-1")
	assert.Equal(t, 2, avail)
}
