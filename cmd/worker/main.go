// The worker runs the background halves of the system: the outbox
// dispatcher that drains pending events to Kafka, and the expiry sweep
// that cancels abandoned orders and prunes the idempotency ledger.
package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/orderflow-io/orderflow/internal/checkout"
	"github.com/orderflow-io/orderflow/internal/config"
	"github.com/orderflow-io/orderflow/internal/idempotency"
	"github.com/orderflow-io/orderflow/internal/inventory"
	kafkax "github.com/orderflow-io/orderflow/internal/kafka"
	"github.com/orderflow-io/orderflow/internal/orders"
	"github.com/orderflow-io/orderflow/internal/outbox"
	"github.com/orderflow-io/orderflow/internal/postgres"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()

	bus := kafkax.NewBus(cfg.KafkaBrokers)
	defer func() { _ = bus.Close() }()

	disp := &outbox.Dispatcher{
		Store:    &outbox.PGStore{DB: db},
		Bus:      bus,
		Log:      log.Named("outbox"),
		Interval: cfg.OutboxPollInterval,
		Batch:    cfg.OutboxBatch,
	}

	sweeper := &checkout.Service{
		Orders:      &orders.PGStore{DB: db},
		Inventory:   &inventory.PGStore{DB: db},
		Ledger:      &idempotency.PGLedger{DB: db, Retention: cfg.IdempotencyRetention},
		Log:         log.Named("sweep"),
		ServiceName: cfg.ServiceName,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return disp.Run(gctx) })
	g.Go(func() error {
		t := time.NewTicker(cfg.SweepInterval)
		defer t.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case now := <-t.C:
				if err := sweeper.SweepExpired(gctx, now.UTC()); err != nil {
					log.Error("sweep pass", zap.Error(err))
				}
			}
		}
	})

	log.Info("worker started",
		zap.Duration("outbox_poll", cfg.OutboxPollInterval),
		zap.Duration("sweep_interval", cfg.SweepInterval))
	if err := g.Wait(); err != nil {
		log.Error("exit", zap.Error(err))
	}
}
