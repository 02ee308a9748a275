package httpx

import (
	"errors"
	"net/http"

	"github.com/orderflow-io/orderflow/internal/checkout"
	"github.com/orderflow-io/orderflow/internal/idempotency"
	"github.com/orderflow-io/orderflow/internal/orders"
	"github.com/orderflow-io/orderflow/internal/payment"
)

// statusFor maps service errors to HTTP codes. Anything unmapped is an
// internal failure.
func statusFor(err error) int {
	var gwErr *payment.GatewayError
	switch {
	case errors.Is(err, checkout.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, orders.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, idempotency.ErrInFlight),
		errors.Is(err, checkout.ErrRefundRequired),
		errors.Is(err, orders.ErrStaleVersion):
		return http.StatusConflict
	case errors.As(err, &gwErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
}
