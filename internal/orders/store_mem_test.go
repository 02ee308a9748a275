package orders

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orderflow-io/orderflow/internal/outbox"
)

func seedOrder(t *testing.T, s *MemStore) *Order {
	t.Helper()
	o, err := New("o-1", "u-1", []LineItem{{ProductID: "p-1", Qty: 2, UnitPriceCents: 500}})
	require.NoError(t, err)
	require.NoError(t, s.Create(context.Background(), o,
		NewEvent("test", EventOrderPlaced, o.ID, "", OrderPlacedPayload{OrderID: o.ID})))
	return o
}

func TestMemStoreTransitionAppendsEvents(t *testing.T) {
	t.Parallel()

	ob := outbox.NewMemStore()
	s := NewMemStore(ob)
	o := seedOrder(t, s)

	st, err := s.ApplyTransition(context.Background(), o.ID, EvSubmitPayment,
		NewEvent("test", EventStockReserved, o.ID, "", StockReservedPayload{OrderID: o.ID}))
	require.NoError(t, err)
	assert.Equal(t, StatusAwaitingPayment, st)

	rows := ob.All()
	require.Len(t, rows, 2)
	assert.Equal(t, EventOrderPlaced, rows[0].Event.Type)
	assert.Equal(t, EventStockReserved, rows[1].Event.Type)

	got, err := s.Get(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusAwaitingPayment, got.Status)
	assert.Equal(t, int64(2), got.Version)
}

func TestMemStoreRejectsInvalidTransition(t *testing.T) {
	t.Parallel()

	s := NewMemStore(outbox.NewMemStore())
	o := seedOrder(t, s)

	_, err := s.ApplyTransition(context.Background(), o.ID, EvFulfill)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	got, err := s.Get(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCreated, got.Status)
	assert.Equal(t, int64(1), got.Version)
}

func TestMemStoreGetUnknown(t *testing.T) {
	t.Parallel()

	s := NewMemStore(outbox.NewMemStore())
	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
