package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/orderflow-io/orderflow/internal/checkout"
	"github.com/orderflow-io/orderflow/internal/idempotency"
	"github.com/orderflow-io/orderflow/internal/orders"
	"github.com/orderflow-io/orderflow/internal/outbox"
)

type stubCheckout struct {
	placeRes  checkout.Result
	placeErr  error
	cancelRes checkout.Result
	cancelErr error
	gotReq    checkout.Request
}

func (s *stubCheckout) PlaceOrder(ctx context.Context, req checkout.Request) (checkout.Result, error) {
	s.gotReq = req
	return s.placeRes, s.placeErr
}

func (s *stubCheckout) Cancel(ctx context.Context, orderID string) (checkout.Result, error) {
	return s.cancelRes, s.cancelErr
}

func newTestServer(stub *stubCheckout, store orders.Store) *httptest.Server {
	h := &OrdersHandler{Checkout: stub, Orders: store, Log: zap.NewNop()}
	r := NewRouter()
	h.Register(r)
	return httptest.NewServer(r)
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(b))
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestPlaceOrderAccepted(t *testing.T) {
	t.Parallel()

	stub := &stubCheckout{placeRes: checkout.Result{OrderID: "o-1", Status: "FULFILLED"}}
	srv := newTestServer(stub, nil)
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/orders", PlaceOrderReq{
		UserID:         "u-1",
		Items:          []checkout.ItemInput{{ProductID: "p-1", Qty: 2}},
		IdempotencyKey: "k-1",
		PaymentMethod:  "card",
	})
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	body := decode[PlaceOrderResp](t, resp)
	assert.Equal(t, "o-1", body.OrderID)
	assert.Equal(t, "FULFILLED", body.Status)

	assert.Equal(t, "u-1", stub.gotReq.UserID)
	assert.Equal(t, "k-1", stub.gotReq.IdempotencyKey)
}

func TestPlaceOrderMissingFields(t *testing.T) {
	t.Parallel()

	srv := newTestServer(&stubCheckout{}, nil)
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/orders", PlaceOrderReq{UserID: "u-1"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestPlaceOrderInvalidJSON(t *testing.T) {
	t.Parallel()

	srv := newTestServer(&stubCheckout{}, nil)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/orders", "application/json", bytes.NewReader([]byte("{nope")))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestPlaceOrderErrorMapping(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err  error
		want int
	}{
		{checkout.ErrInvalidRequest, http.StatusBadRequest},
		{idempotency.ErrInFlight, http.StatusConflict},
		{orders.ErrStaleVersion, http.StatusConflict},
		{assert.AnError, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		stub := &stubCheckout{placeErr: tc.err}
		srv := newTestServer(stub, nil)

		resp := postJSON(t, srv.URL+"/orders", PlaceOrderReq{
			UserID:         "u-1",
			Items:          []checkout.ItemInput{{ProductID: "p-1", Qty: 1}},
			IdempotencyKey: "k-1",
		})
		assert.Equal(t, tc.want, resp.StatusCode, "error %v", tc.err)
		resp.Body.Close()
		srv.Close()
	}
}

func TestGetOrder(t *testing.T) {
	t.Parallel()

	store := orders.NewMemStore(outbox.NewMemStore())
	o, err := orders.New("o-1", "u-1", []orders.LineItem{{ProductID: "p-1", Qty: 1, UnitPriceCents: 100}})
	require.NoError(t, err)
	require.NoError(t, store.Create(context.Background(), o))

	srv := newTestServer(&stubCheckout{}, store)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/orders/o-1")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body := decode[OrderStatusResp](t, resp)
	assert.Equal(t, "o-1", body.OrderID)
	assert.Equal(t, "CREATED", body.Status)
}

func TestGetOrderNotFound(t *testing.T) {
	t.Parallel()

	srv := newTestServer(&stubCheckout{}, orders.NewMemStore(outbox.NewMemStore()))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/orders/missing")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestCancelOrder(t *testing.T) {
	t.Parallel()

	stub := &stubCheckout{cancelRes: checkout.Result{OrderID: "o-1", Status: "CANCELLED"}}
	srv := newTestServer(stub, nil)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/orders/o-1/cancel", "application/json", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	body := decode[OrderStatusResp](t, resp)
	assert.Equal(t, "CANCELLED", body.Status)
}

func TestCancelOrderRefundRequired(t *testing.T) {
	t.Parallel()

	stub := &stubCheckout{cancelErr: checkout.ErrRefundRequired}
	srv := newTestServer(stub, nil)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/orders/o-1/cancel", "application/json", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()
}
