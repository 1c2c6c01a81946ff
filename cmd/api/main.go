package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/acgiraldo/storefront/internal/config"
	"github.com/acgiraldo/storefront/internal/httpx"
	kafkax "github.com/acgiraldo/storefront/internal/kafka"
	"github.com/acgiraldo/storefront/internal/orders"
	"github.com/acgiraldo/storefront/internal/payments"
	"github.com/acgiraldo/storefront/internal/postgres"
	"github.com/acgiraldo/storefront/internal/redisx"
	"github.com/acgiraldo/storefront/internal/wompi"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()
	cache := redisx.Cache{C: rdb}

	// Kafka producers, one per lifecycle topic
	pCreated := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderCreated, 1024)
	pCreated.Start(ctx)
	pAuthorized := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicPaymentAuthorized, 1024)
	pAuthorized.Start(ctx)
	pFailed := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicPaymentFailed, 1024)
	pFailed.Start(ctx)
	pRefunded := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderRefunded, 1024)
	pRefunded.Start(ctx)

	// Gateway client
	gateway := wompi.NewClient(cfg.WompiAPIURL, cfg.WompiPublicKey, cfg.WompiPrivateKey,
		cfg.WompiIntegritySecret, 10*time.Second)

	// Services
	repo := &orders.Repo{DB: db}
	orderSvc := &orders.Service{Store: repo, ShippingRate: cfg.ShippingRate}
	initiator := &payments.Initiator{
		Orders:      repo,
		Gateway:     gateway,
		Cache:       cache,
		FrontendURL: cfg.FrontendURL,
		Currency:    "COP",
	}
	reconciler := &payments.Reconciler{
		Store:              repo,
		Cache:              cache,
		EventsSecret:       cfg.WompiEventsSecret,
		Service:            cfg.ServiceName,
		ProducerAuthorized: pAuthorized,
		ProducerFailed:     pFailed,
		ProducerRefunded:   pRefunded,
	}
	if cfg.WompiEventsSecret == "" {
		log.Printf("WARNING: WOMPI_EVENTS_SECRET not set; webhook deliveries will be rejected")
	}

	// Router & handlers
	router := httpx.NewRouter()
	oh := &httpx.OrdersHandler{Svc: orderSvc, Producer: pCreated, Cache: cache, Service: cfg.ServiceName}
	oh.Register(router)
	ph := &httpx.PaymentsHandler{Initiator: initiator, Reconciler: reconciler, Cache: cache}
	ph.Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	go func() {
		log.Printf("HTTP listening at %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("shutting down...")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)

	// close inboxes so the producer loops flush and exit
	for _, p := range []*kafkax.Producer{pCreated, pAuthorized, pFailed, pRefunded} {
		p.Close()
	}
	for _, p := range []*kafkax.Producer{pCreated, pAuthorized, pFailed, pRefunded} {
		p.WaitClosed()
	}
}
