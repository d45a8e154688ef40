package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/go-realtime-raffle/internal/config"
	"github.com/ariefcatur/go-realtime-raffle/internal/expiry"
	"github.com/ariefcatur/go-realtime-raffle/internal/httpx"
	kafkax "github.com/ariefcatur/go-realtime-raffle/internal/kafka"
	"github.com/ariefcatur/go-realtime-raffle/internal/logging"
	"github.com/ariefcatur/go-realtime-raffle/internal/metrics"
	"github.com/ariefcatur/go-realtime-raffle/internal/payment"
	"github.com/ariefcatur/go-realtime-raffle/internal/postgres"
	"github.com/ariefcatur/go-realtime-raffle/internal/reconcile"
	"github.com/ariefcatur/go-realtime-raffle/internal/redisx"
	"github.com/ariefcatur/go-realtime-raffle/internal/reservation"
	"github.com/ariefcatur/go-realtime-raffle/internal/tickets"
	"github.com/ariefcatur/go-realtime-raffle/internal/tracing"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := logging.Setup(cfg.ServiceName, cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("config")
	}

	shutdownTracing, err := tracing.Init(cfg.ServiceName, cfg.JaegerEndpoint)
	if err != nil {
		log.Fatal().Err(err).Msg("tracing")
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	defer db.Close()
	if err := postgres.Migrate(ctx, db); err != nil {
		log.Fatal().Err(err).Msg("migrate")
	}
	repo := &tickets.Repo{DB: db, LockTimeout: cfg.LockTimeout}
	if err := repo.Initialize(ctx, cfg.TotalTickets); err != nil {
		log.Fatal().Err(err).Msg("initialize tickets")
	}

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()
	cache := &redisx.Cache{Redis: rdb, Scope: cfg.ServiceName, Log: log}

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Kafka producer; its own context so it outlives the HTTP drain.
	prodCtx, prodCancel := context.WithCancel(context.Background())
	defer prodCancel()
	prod := kafkax.NewProducer(cfg.KafkaBrokers, 1024, log)
	prod.Start(prodCtx)
	events := &kafkax.Emitter{Publisher: prod, Service: cfg.ServiceName}

	// Payment provider
	correlator := &payment.Correlator{
		Provider:       payment.NewMercadoPago(cfg.Payment.BaseURL, cfg.Payment.AccessToken),
		UnitPriceCents: cfg.TicketPriceCents,
		Payer: payment.Payer{
			Email:     cfg.Payment.PayerEmail,
			FirstName: cfg.Payment.PayerFirstName,
			LastName:  cfg.Payment.PayerLastName,
			DocType:   cfg.Payment.PayerDocType,
			DocNumber: cfg.Payment.PayerDocNumber,
		},
		NotificationURL: cfg.Payment.NotificationURL,
		Description:     cfg.Payment.Description,
		Metrics:         m,
	}

	// Services
	reservations := &reservation.Service{
		Store:        repo,
		Payments:     correlator,
		Events:       events,
		Metrics:      m,
		Log:          log.With().Str("component", "reservation").Logger(),
		TotalTickets: cfg.TotalTickets,
	}
	reconciler := &reconcile.Service{
		Store:    repo,
		Payments: correlator,
		Cache:    cache,
		Events:   events,
		Metrics:  m,
		Log:      log.With().Str("component", "reconcile").Logger(),
	}
	sweeper := &expiry.Sweeper{
		Store:    repo,
		Cache:    cache,
		Events:   events,
		Metrics:  m,
		Log:      log.With().Str("component", "expiry").Logger(),
		Timeout:  cfg.ReservationTimeout,
		Interval: cfg.SweepInterval,
	}

	// HTTP
	router := httpx.NewRouter(reg)
	th := &httpx.TicketsHandler{
		Catalog:      repo,
		Reservations: reservations,
		Reconciler:   reconciler,
		Validate:     validator.New(),
		Log:          log.With().Str("component", "http").Logger(),
	}
	th.Register(router)
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("HTTP listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return sweeper.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("api exited")
	}

	prod.Close()      // close inbox -> flush & close writer
	prod.WaitClosed() // drain
}
