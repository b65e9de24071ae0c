package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-storefront-engine/internal/auction"
	"github.com/ariefcatur/go-storefront-engine/internal/clock"
	"github.com/ariefcatur/go-storefront-engine/internal/config"
	"github.com/ariefcatur/go-storefront-engine/internal/events"
	"github.com/ariefcatur/go-storefront-engine/internal/flashsale"
	kafkax "github.com/ariefcatur/go-storefront-engine/internal/kafka"
	"github.com/ariefcatur/go-storefront-engine/internal/logx"
	"github.com/ariefcatur/go-storefront-engine/internal/redisx"
	"github.com/ariefcatur/go-storefront-engine/internal/reservation"
	"github.com/ariefcatur/go-storefront-engine/internal/settlement"
	"github.com/ariefcatur/go-storefront-engine/internal/store/postgres"
	"github.com/ariefcatur/go-storefront-engine/internal/telemetry"
	"github.com/ariefcatur/go-storefront-engine/internal/worker"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	name := cfg.ServiceName + "-worker"

	log, err := logx.New(cfg.Env, name)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTelemetry, err := telemetry.Init(ctx, cfg.OTLPEndpoint, name)
	if err != nil {
		log.Fatal("telemetry init", zap.Error(err))
	}
	metrics := telemetry.NewMetrics()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN, cfg.PostgresMaxConn)
	if err != nil {
		log.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()
	st := postgres.New(db)

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	prod := kafkax.NewProducer(cfg.KafkaBrokers, 1024, log)
	prod.Start(ctx)

	clk := clock.Real{}
	reservations := reservation.NewManager(st, clk, reservation.Config{
		FlashSaleHold: cfg.FlashSaleHold, AuctionHold: cfg.AuctionHold, Producer: name,
	},
		reservation.WithCache(redisx.NewStockCache(rdb, cfg.StockCacheTTL)),
		reservation.WithPublisher(prod),
		reservation.WithLogger(log),
		reservation.WithMetrics(metrics),
	)
	orders := settlement.NewService(st, clk, settlement.Config{PaymentDeadline: cfg.PaymentDeadline, Producer: name},
		settlement.WithPublisher(prod),
		settlement.WithLogger(log),
		settlement.WithMetrics(metrics),
		settlement.WithStockInvalidator(reservations),
	)
	auctions := auction.NewProcessor(st, clk, auction.WithLogger(log), auction.WithMetrics(metrics))

	sweeper := &worker.Sweeper{
		Jobs:     worker.DefaultJobs(reservations, orders, flashsale.NewService(st, clk, log), auctions),
		Interval: cfg.SweepInterval,
		Locker:   redisx.NewLocker(rdb),
		Log:      log,
	}
	go sweeper.Run(ctx)

	// Consumer
	payments := &worker.PaymentHandler{
		Orders:  orders,
		Dedup:   redisx.NewIdempotency(rdb),
		Service: name,
		Log:     log,
	}
	topics := []string{events.TopicPaymentAuthorized, events.TopicPaymentFailed}
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.WorkerGroup, topics, cfg.WorkerConsumers, log)
	go func() {
		log.Info("payment consumer started", zap.String("group", cfg.WorkerGroup),
			zap.Strings("topics", topics), zap.Int("workers", cfg.WorkerConsumers))
		if err := cons.Start(ctx, payments.Handle); err != nil {
			log.Error("consumer exit", zap.Error(err))
			cancel()
		}
	}()

	// graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	log.Info("shutting down worker")
	cancel()
	time.Sleep(500 * time.Millisecond)
	prod.Close()
	prod.WaitClosed()

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	if err := shutdownTelemetry(ctx2); err != nil {
		log.Warn("telemetry shutdown", zap.Error(err))
	}
}
