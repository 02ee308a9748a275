// Package outbox durably records domain events alongside the state changes
// that produced them, and ships them to the message bus asynchronously.
// Rows are appended inside the same transaction as the triggering write;
// the dispatcher publishes them at least once, so consumers deduplicate by
// event_id.
package outbox

import (
	"context"
	"time"
)

// Event is one pending domain event. Key is the partition key (the order id),
// so all events of one order keep their relative order on the bus.
type Event struct {
	EventID    string
	Topic      string
	Key        string
	Type       string
	Payload    []byte
	ProducedAt time.Time
}

// Row is a stored event plus its dispatch bookkeeping. Seq is assigned by the
// store and is monotonic, so fetching in Seq order preserves per-key order.
type Row struct {
	Seq       int64
	Event     Event
	Published bool
}

type Store interface {
	// FetchUnpublished returns up to limit unpublished rows in Seq order.
	FetchUnpublished(ctx context.Context, limit int) ([]Row, error)

	// MarkPublished flips a row to published. Called only after the bus
	// acknowledged delivery; a crash before the call means redelivery.
	MarkPublished(ctx context.Context, seq int64) error
}

// Bus is the collaborator message bus. At-least-once delivery is assumed.
type Bus interface {
	Publish(ctx context.Context, topic, key string, value []byte, headers map[string]string) error
}
