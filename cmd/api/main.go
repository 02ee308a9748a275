package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/orderflow-io/orderflow/internal/checkout"
	"github.com/orderflow-io/orderflow/internal/config"
	"github.com/orderflow-io/orderflow/internal/httpx"
	"github.com/orderflow-io/orderflow/internal/idempotency"
	"github.com/orderflow-io/orderflow/internal/inventory"
	"github.com/orderflow-io/orderflow/internal/orders"
	"github.com/orderflow-io/orderflow/internal/payment"
	"github.com/orderflow-io/orderflow/internal/postgres"
	"github.com/orderflow-io/orderflow/internal/redisx"
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

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	svc := &checkout.Service{
		Orders:    &orders.PGStore{DB: db},
		Inventory: &inventory.PGStore{DB: db},
		Catalog:   &inventory.PGCatalog{DB: db},
		Ledger:    &idempotency.PGLedger{DB: db, Retention: cfg.IdempotencyRetention},
		Payments: &payment.Orchestrator{
			Gateway: payment.NewHTTPGateway(cfg.PaymentGatewayURL),
			Store:   &payment.PGAttemptStore{DB: db},
			Log:     log.Named("payment"),
			Policy: payment.RetryPolicy{
				MaxTries:       cfg.PaymentMaxTries,
				InitialBackoff: cfg.PaymentInitialBackoff,
				MaxBackoff:     cfg.PaymentMaxBackoff,
				Deadline:       cfg.PaymentDeadline,
				ChargeTimeout:  cfg.ChargeTimeout,
			},
		},
		Log:            log.Named("checkout"),
		ServiceName:    cfg.ServiceName,
		ReservationTTL: cfg.ReservationTTL,
	}

	router := httpx.NewRouter()
	oh := &httpx.OrdersHandler{
		Checkout: svc,
		Orders:   svc.Orders,
		Redis:    rdb,
		Log:      log.Named("http"),
	}
	oh.Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("exit", zap.Error(err))
	}
}
