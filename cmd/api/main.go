package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-storefront-engine/internal/auction"
	"github.com/ariefcatur/go-storefront-engine/internal/authz"
	"github.com/ariefcatur/go-storefront-engine/internal/clock"
	"github.com/ariefcatur/go-storefront-engine/internal/config"
	"github.com/ariefcatur/go-storefront-engine/internal/flashsale"
	"github.com/ariefcatur/go-storefront-engine/internal/httpx"
	kafkax "github.com/ariefcatur/go-storefront-engine/internal/kafka"
	"github.com/ariefcatur/go-storefront-engine/internal/logx"
	"github.com/ariefcatur/go-storefront-engine/internal/redisx"
	"github.com/ariefcatur/go-storefront-engine/internal/reservation"
	"github.com/ariefcatur/go-storefront-engine/internal/settlement"
	"github.com/ariefcatur/go-storefront-engine/internal/store/postgres"
	"github.com/ariefcatur/go-storefront-engine/internal/telemetry"
	"github.com/ariefcatur/go-storefront-engine/internal/voucher"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	log, err := logx.New(cfg.Env, cfg.ServiceName)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTelemetry, err := telemetry.Init(ctx, cfg.OTLPEndpoint, cfg.ServiceName)
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
	if err := postgres.Migrate(ctx, db); err != nil {
		log.Fatal("db migrate", zap.Error(err))
	}
	st := postgres.New(db)

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Kafka producer
	prod := kafkax.NewProducer(cfg.KafkaBrokers, 1024, log)
	prod.Start(ctx)

	clk := clock.Real{}
	reservations := reservation.NewManager(st, clk, reservation.Config{
		FlashSaleHold: cfg.FlashSaleHold, AuctionHold: cfg.AuctionHold, Producer: cfg.ServiceName,
	},
		reservation.WithCache(redisx.NewStockCache(rdb, cfg.StockCacheTTL)),
		reservation.WithPublisher(prod),
		reservation.WithLogger(log),
		reservation.WithMetrics(metrics),
	)
	auctions := auction.NewProcessor(st, clk,
		auction.WithPublisher(prod),
		auction.WithLogger(log),
		auction.WithMetrics(metrics),
		auction.WithProducerName(cfg.ServiceName),
	)
	orders := settlement.NewService(st, clk, settlement.Config{
		PaymentDeadline: cfg.PaymentDeadline, Producer: cfg.ServiceName,
	},
		settlement.WithPublisher(prod),
		settlement.WithLogger(log),
		settlement.WithMetrics(metrics),
		settlement.WithIdempotency(redisx.NewIdempotency(rdb)),
		settlement.WithStockInvalidator(reservations),
	)

	router := httpx.NewRouter(log)
	h := &httpx.Handlers{
		Reservations: reservations,
		Auctions:     auctions,
		FlashSales:   flashsale.NewService(st, clk, log),
		Orders:       orders,
		Vouchers:     voucher.NewEvaluator(st, clk),
		Auth:         authz.NewJWTAuthenticator(cfg.JWTSecret),
		Log:          log,
	}
	h.Register(router)

	// HTTP server
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		log.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("listen", zap.Error(err))
		}
	}()

	// wait signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	prod.Close()      // close inbox, flush and close the writer
	cancel()          // stop producer loop
	prod.WaitClosed() // drain
	if err := shutdownTelemetry(ctx2); err != nil {
		log.Warn("telemetry shutdown", zap.Error(err))
	}
}
