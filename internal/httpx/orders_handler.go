package httpx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/orderflow-io/orderflow/internal/checkout"
	"github.com/orderflow-io/orderflow/internal/orders"
	"github.com/orderflow-io/orderflow/internal/redisx"
)

// CheckoutService is what the handler needs from the checkout layer.
type CheckoutService interface {
	PlaceOrder(ctx context.Context, req checkout.Request) (checkout.Result, error)
	Cancel(ctx context.Context, orderID string) (checkout.Result, error)
}

type OrdersHandler struct {
	Checkout CheckoutService
	Orders   orders.Store
	Redis    *redis.Client
	Log      *zap.Logger
}

type PlaceOrderReq struct {
	UserID         string               `json:"user_id"`
	Items          []checkout.ItemInput `json:"items"`
	IdempotencyKey string               `json:"idempotency_key"`
	PaymentMethod  string               `json:"payment_method"`
}

type PlaceOrderResp struct {
	OrderID    string `json:"order_id,omitempty"`
	Status     string `json:"status"`
	Idempotent bool   `json:"idempotent,omitempty"`
}

type OrderStatusResp struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}

func (h *OrdersHandler) Register(r *chi.Mux) {
	r.Post("/orders", h.placeOrder)
	r.Get("/orders/{id}", h.getOrder)
	r.Post("/orders/{id}/cancel", h.cancelOrder)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *OrdersHandler) placeOrder(w http.ResponseWriter, r *http.Request) {
	var req PlaceOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if req.UserID == "" || req.IdempotencyKey == "" || len(req.Items) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing fields"})
		return
	}

	ctx := r.Context()

	// Fast path: a finished request with the same key replays straight
	// from the cache without touching the ledger.
	idemKey := fmt.Sprintf(redisx.KeyIdemPlaceOrder, req.IdempotencyKey)
	if cached, ok := h.cacheGet(ctx, idemKey); ok {
		var resp PlaceOrderResp
		if err := json.Unmarshal([]byte(cached), &resp); err == nil {
			resp.Idempotent = true
			writeJSON(w, http.StatusAccepted, resp)
			return
		}
	}

	res, err := h.Checkout.PlaceOrder(ctx, checkout.Request{
		UserID:         req.UserID,
		Items:          req.Items,
		IdempotencyKey: req.IdempotencyKey,
		PaymentMethod:  req.PaymentMethod,
		TraceID:        r.Header.Get("X-Request-Id"),
	})
	if err != nil {
		h.Log.Warn("place order failed",
			zap.String("user_id", req.UserID),
			zap.String("idempotency_key", req.IdempotencyKey),
			zap.Error(err))
		writeError(w, err)
		return
	}

	resp := PlaceOrderResp{OrderID: res.OrderID, Status: res.Status}
	if body, err := json.Marshal(resp); err == nil {
		h.cacheSet(ctx, idemKey, string(body), redisx.TTLIdempotency)
	}
	if res.OrderID != "" {
		h.cacheStatus(ctx, res.OrderID, res.Status)
	}
	writeJSON(w, http.StatusAccepted, resp)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	statusKey := fmt.Sprintf(redisx.KeyOrderStatus, id)
	if cached, ok := h.cacheGet(ctx, statusKey); ok {
		writeJSON(w, http.StatusOK, OrderStatusResp{OrderID: id, Status: cached})
		return
	}

	o, err := h.Orders.Get(ctx, id)
	if err != nil {
		writeError(w, err)
		return
	}
	h.cacheStatus(ctx, o.ID, string(o.Status))
	writeJSON(w, http.StatusOK, OrderStatusResp{OrderID: o.ID, Status: string(o.Status)})
}

func (h *OrdersHandler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	res, err := h.Checkout.Cancel(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	h.cacheStatus(r.Context(), id, res.Status)
	writeJSON(w, http.StatusAccepted, OrderStatusResp{OrderID: res.OrderID, Status: res.Status})
}

// Cache helpers tolerate a missing client so the handler works without
// Redis, only slower.

func (h *OrdersHandler) cacheGet(ctx context.Context, key string) (string, bool) {
	if h.Redis == nil {
		return "", false
	}
	v, err := h.Redis.Get(ctx, key).Result()
	if err != nil {
		return "", false
	}
	return v, true
}

func (h *OrdersHandler) cacheSet(ctx context.Context, key, val string, ttl time.Duration) {
	if h.Redis == nil {
		return
	}
	if err := h.Redis.Set(ctx, key, val, ttl).Err(); err != nil {
		h.Log.Warn("redis set failed", zap.String("key", key), zap.Error(err))
	}
}

func (h *OrdersHandler) cacheStatus(ctx context.Context, orderID, status string) {
	h.cacheSet(ctx, fmt.Sprintf(redisx.KeyOrderStatus, orderID), status, redisx.TTLStatusCache)
}
