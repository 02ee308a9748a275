package outbox

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Dispatcher polls the store and publishes unpublished rows to the bus.
type Dispatcher struct {
	Store    Store
	Bus      Bus
	Log      *zap.Logger
	Interval time.Duration
	Batch    int
}

// Run polls until ctx is cancelled. Publish failures leave the row
// unpublished; it is retried on the next tick.
func (d *Dispatcher) Run(ctx context.Context) error {
	interval := d.Interval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	d.Log.Info("outbox dispatcher started", zap.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			d.Log.Info("outbox dispatcher stopped")
			return nil
		case <-ticker.C:
			if err := d.Dispatch(ctx); err != nil {
				d.Log.Error("outbox dispatch", zap.Error(err))
			}
		}
	}
}

// Dispatch runs a single fetch-publish-mark pass.
func (d *Dispatcher) Dispatch(ctx context.Context) error {
	batch := d.Batch
	if batch <= 0 {
		batch = 100
	}
	rows, err := d.Store.FetchUnpublished(ctx, batch)
	if err != nil {
		return err
	}

	for _, row := range rows {
		headers := map[string]string{
			"x-event-type": row.Event.Type,
			"x-event-id":   row.Event.EventID,
		}
		if err := d.Bus.Publish(ctx, row.Event.Topic, row.Event.Key, row.Event.Payload, headers); err != nil {
			d.Log.Error("publish event",
				zap.Int64("seq", row.Seq),
				zap.String("event_type", row.Event.Type),
				zap.Error(err))
			// Stop the pass: marking later rows published while an earlier
			// one is stuck would break per-key ordering.
			return err
		}
		if err := d.Store.MarkPublished(ctx, row.Seq); err != nil {
			d.Log.Error("mark published", zap.Int64("seq", row.Seq), zap.Error(err))
			return err
		}
	}
	return nil
}
