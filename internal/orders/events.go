package orders

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/orderflow-io/orderflow/internal/outbox"
)

const (
	EventOrderPlaced            = "OrderPlaced"
	EventStockReserved          = "StockReserved"
	EventStockRejected          = "StockRejected"
	EventPaymentCaptured        = "PaymentCaptured"
	EventPaymentFailed          = "PaymentFailed"
	EventOrderFulfilled         = "OrderFulfilled"
	EventOrderCancelled         = "OrderCancelled"
	EventPaymentRefundRequested = "PaymentRefundRequested"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// ---- Payload per event type ----

type ItemQty struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
}

type OrderPlacedPayload struct {
	OrderID    string     `json:"order_id"`
	UserID     string     `json:"user_id"`
	Items      []LineItem `json:"items"`
	TotalCents int64      `json:"total_cents"`
}

type StockReservedPayload struct {
	OrderID string    `json:"order_id"`
	Items   []ItemQty `json:"items"`
}

type StockRejectedPayload struct {
	OrderID   string `json:"order_id,omitempty"`
	ProductID string `json:"product_id"`
	Required  int    `json:"required"`
	Available int    `json:"available"`
}

type PaymentCapturedPayload struct {
	OrderID     string `json:"order_id"`
	AttemptID   string `json:"attempt_id"`
	GatewayRef  string `json:"gateway_ref"`
	AmountCents int64  `json:"amount_cents"`
}

type PaymentFailedPayload struct {
	OrderID string `json:"order_id"`
	Reason  string `json:"reason"`
}

type OrderFulfilledPayload struct {
	OrderID string `json:"order_id"`
}

type OrderCancelledPayload struct {
	OrderID string `json:"order_id"`
	Reason  string `json:"reason,omitempty"`
}

type PaymentRefundRequestedPayload struct {
	OrderID     string `json:"order_id"`
	AttemptID   string `json:"attempt_id"`
	AmountCents int64  `json:"amount_cents"`
}

// NewEvent wraps a payload in the versioned envelope and returns the outbox
// event, keyed by order id so per-order ordering survives partitioning.
func NewEvent(producer, eventType, orderID, traceID string, payload any) outbox.Event {
	body := mustJSON(payload)
	env := Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      producer,
		TraceID:       traceID,
		CorrelationID: orderID,
		Payload:       body,
	}
	return outbox.Event{
		EventID:    env.EventID,
		Topic:      TopicFor(eventType),
		Key:        orderID,
		Type:       eventType,
		Payload:    mustJSON(env),
		ProducedAt: env.OccurredAt,
	}
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
