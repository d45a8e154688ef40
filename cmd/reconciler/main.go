package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/ariefcatur/go-realtime-raffle/internal/config"
	kafkax "github.com/ariefcatur/go-realtime-raffle/internal/kafka"
	"github.com/ariefcatur/go-realtime-raffle/internal/logging"
	"github.com/ariefcatur/go-realtime-raffle/internal/payment"
	"github.com/ariefcatur/go-realtime-raffle/internal/postgres"
	"github.com/ariefcatur/go-realtime-raffle/internal/reconcile"
	"github.com/ariefcatur/go-realtime-raffle/internal/redisx"
	"github.com/ariefcatur/go-realtime-raffle/internal/relay"
	"github.com/ariefcatur/go-realtime-raffle/internal/tickets"
	"github.com/ariefcatur/go-realtime-raffle/internal/tracing"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	log := logging.Setup(cfg.ServiceName+"-reconciler", cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("config")
	}

	shutdownTracing, err := tracing.Init(cfg.ServiceName+"-reconciler", cfg.JaegerEndpoint)
	if err != nil {
		log.Fatal().Err(err).Msg("tracing")
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db")
	}
	defer db.Close()
	repo := &tickets.Repo{DB: db, LockTimeout: cfg.LockTimeout}

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Lifecycle events go out through the same topics the API uses.
	prodCtx, prodCancel := context.WithCancel(context.Background())
	defer prodCancel()
	prod := kafkax.NewProducer(cfg.KafkaBrokers, 1024, log)
	prod.Start(prodCtx)

	svc := &relay.Service{
		Reconciler: &reconcile.Service{
			Store:    repo,
			Payments: &payment.Correlator{Provider: payment.NewMercadoPago(cfg.Payment.BaseURL, cfg.Payment.AccessToken)},
			// Same scope as the API so webhook and relayed deliveries dedup together.
			Cache:  &redisx.Cache{Redis: rdb, Scope: cfg.ServiceName, Log: log},
			Events: &kafkax.Emitter{Publisher: prod, Service: cfg.ServiceName + "-reconciler"},
			Log:    log.With().Str("component", "reconcile").Logger(),
		},
		Log: log.With().Str("component", "relay").Logger(),
	}

	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.ReconcilerGroup, tickets.TopicPaymentNotifications, cfg.ReconcilerWorkers, log)
	log.Info().Str("group", cfg.ReconcilerGroup).Str("topic", tickets.TopicPaymentNotifications).
		Int("workers", cfg.ReconcilerWorkers).Msg("reconciler consumer started")
	consumeErr := cons.Start(ctx, svc.HandleNotification)

	log.Info().Msg("shutting down consumer...")
	prod.Close()
	prod.WaitClosed()
	if consumeErr != nil {
		// Non-zero exit so the restart resumes from the last committed offset.
		log.Fatal().Err(consumeErr).Msg("consumer stopped")
	}
}
