package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/ariefcatur/go-shop-checkout.git/internal/checkout"
	"github.com/ariefcatur/go-shop-checkout.git/internal/config"
	kafkax "github.com/ariefcatur/go-shop-checkout.git/internal/kafka"
	"github.com/ariefcatur/go-shop-checkout.git/internal/orders"
	"github.com/ariefcatur/go-shop-checkout.git/internal/policy"
	"github.com/ariefcatur/go-shop-checkout.git/internal/postgres"
	"github.com/ariefcatur/go-shop-checkout.git/internal/reaper"
	"github.com/ariefcatur/go-shop-checkout.git/internal/redisx"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func mustAtoi(s, def string) int {
	if s == "" {
		s = def
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return 1
	}
	return i
}

// Binary background: sweep lock expired tiap interval + consumer settlement
// utk event webhook gateway. Boleh jalan lebih dari satu instance.
func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Producer utk event lock.expired / order.cancelled / order.paid
	prod := kafkax.NewProducer(cfg.KafkaBrokers, 1024, logger)
	prod.Start(ctx)

	orderRepo := &orders.Repo{DB: db}
	ledger := &orders.LedgerRepo{DB: db}

	rp := &reaper.Reaper{
		Ledger:      ledger,
		Orders:      orderRepo,
		Producer:    prod,
		Logger:      logger,
		ServiceName: cfg.ServiceName + "-reaper",
		Interval:    cfg.SweepInterval,
		LockTTL:     cfg.LockTTL,
		Grace:       cfg.CancelGrace,
	}
	reaperDone := make(chan struct{})
	go func() {
		rp.Run(ctx)
		close(reaperDone)
	}()

	// Consumer settlement: settle order dari event payment.captured
	svc := &checkout.Service{
		Orders:      orderRepo,
		Ledger:      ledger,
		Refunds:     &orders.RefundRepo{DB: db},
		Policy:      policy.Engine{ReturnShippingFeeCents: cfg.ReturnShippingFeeCents},
		Producer:    prod,
		Dedup:       redisx.Deduper{R: rdb, TTL: redisx.TTLDedup},
		Redis:       rdb,
		Logger:      logger,
		ServiceName: cfg.ServiceName + "-settlement",
		Currency:    cfg.Currency,
		LockTTL:     cfg.LockTTL,
	}

	group := getenv("SETTLEMENT_GROUP", "settlement-svc")
	workers := mustAtoi(os.Getenv("SETTLEMENT_WORKERS"), "4")
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, group, orders.TopicPaymentCaptured, workers, logger)

	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		logger.Info("settlement consumer started",
			zap.String("group", group),
			zap.String("topic", orders.TopicPaymentCaptured),
			zap.Int("workers", workers))
		if err := cons.Start(ctx, svc.HandlePaymentCaptured); err != nil {
			logger.Error("consumer exit", zap.Error(err))
			cancel()
		}
	}()

	// graceful shutdown: loop reaper & consumer harus benar2 berhenti dulu,
	// baru inbox producer boleh ditutup (emit ke channel tertutup = panic)
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("shutting down reaper...")
	cancel()
	<-reaperDone
	<-consumerDone
	prod.Close()
	prod.WaitClosed()
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
