package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	appinv "github.com/Zhima-Mochi/fulfillment-saga/internal/application/inventory"
	apppay "github.com/Zhima-Mochi/fulfillment-saga/internal/application/payment"
	appship "github.com/Zhima-Mochi/fulfillment-saga/internal/application/shipping"
	"github.com/Zhima-Mochi/fulfillment-saga/internal/config"
	dominv "github.com/Zhima-Mochi/fulfillment-saga/internal/domain/inventory"
	"github.com/Zhima-Mochi/fulfillment-saga/internal/domain/order"
	dompay "github.com/Zhima-Mochi/fulfillment-saga/internal/domain/payment"
	domship "github.com/Zhima-Mochi/fulfillment-saga/internal/domain/shipping"
	"github.com/Zhima-Mochi/fulfillment-saga/internal/infrastructure/memory"
	"github.com/Zhima-Mochi/fulfillment-saga/internal/infrastructure/messaging/membus"
	"github.com/Zhima-Mochi/fulfillment-saga/internal/infrastructure/messaging/rabbit"
	"github.com/Zhima-Mochi/fulfillment-saga/internal/infrastructure/observability/oteltrace"
	"github.com/Zhima-Mochi/fulfillment-saga/internal/infrastructure/observability/prometrics"
	"github.com/Zhima-Mochi/fulfillment-saga/internal/infrastructure/observability/telemetry"
	"github.com/Zhima-Mochi/fulfillment-saga/internal/infrastructure/observability/zaplogger"
	"github.com/Zhima-Mochi/fulfillment-saga/internal/infrastructure/orderclient"
	"github.com/Zhima-Mochi/fulfillment-saga/internal/infrastructure/paygate"
	"github.com/Zhima-Mochi/fulfillment-saga/internal/infrastructure/postgres"
	"github.com/Zhima-Mochi/fulfillment-saga/internal/messaging"
	"github.com/Zhima-Mochi/fulfillment-saga/internal/observability"
	httppresentation "github.com/Zhima-Mochi/fulfillment-saga/internal/presentation/http"
	"github.com/Zhima-Mochi/fulfillment-saga/internal/resilience"
)

func main() {
	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		os.Exit(1)
	}

	baseLogger := zaplogger.New(
		observability.F("service", cfg.ServiceName),
		observability.F("env", cfg.Environment),
	)

	registry := prometrics.New(cfg.ServiceName, "")
	counters := map[observability.MetricKey]observability.Counter{
		observability.MUsecaseRequests: registry.Counter(
			string(observability.MUsecaseRequests),
			"Total number of use case invocations.",
			"use_case", "outcome"),
		observability.MHTTPRequests: registry.Counter(
			string(observability.MHTTPRequests),
			"Total number of HTTP requests served.",
			"method", "route", "status"),
		observability.MExternalRequests: registry.Counter(
			string(observability.MExternalRequests),
			"Total number of outbound calls to peers.",
			"peer", "endpoint", "outcome"),
		observability.MMessagesPublished: registry.Counter(
			string(observability.MMessagesPublished),
			"Total number of messages published to the channel.",
			"queue", "outcome"),
		observability.MMessagesConsumed: registry.Counter(
			string(observability.MMessagesConsumed),
			"Total number of messages consumed, by handler outcome.",
			"queue", "service", "outcome"),
	}
	histograms := map[observability.MetricKey]observability.Histogram{
		observability.MUsecaseDuration: registry.Histogram(
			string(observability.MUsecaseDuration),
			"Duration of use case execution in seconds.",
			prometheus.DefBuckets,
			"use_case"),
		observability.MHTTPRequestDuration: registry.Histogram(
			string(observability.MHTTPRequestDuration),
			"Duration of HTTP request handling in seconds.",
			prometheus.DefBuckets,
			"method", "route", "status"),
		observability.MExternalRequestDuration: registry.Histogram(
			string(observability.MExternalRequestDuration),
			"Duration of outbound calls in seconds.",
			prometheus.DefBuckets,
			"peer", "endpoint"),
	}
	breakerGauge := registry.Gauge(
		string(observability.MBreakerState),
		"Circuit breaker state: 0 closed, 1 half-open, 2 open.",
		"breaker")
	gauges := map[observability.MetricKey]observability.Gauge{
		observability.MBreakerState: breakerGauge,
	}

	tel := telemetry.New(oteltrace.New(cfg.ServiceName), baseLogger, counters, histograms, gauges)
	log := tel.Logger().With(observability.F("component", "main"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Stores: postgres when configured, in-memory otherwise.
	var (
		invStore  dominv.Repository
		payStore  dompay.Repository
		shipStore domship.Repository
	)
	if cfg.DatabaseURI != "" {
		pool, err := postgres.New(ctx, cfg.DatabaseURI)
		if err != nil {
			log.Error("postgres_connect_failed", observability.F("error", err.Error()))
			os.Exit(1)
		}
		defer pool.Close()
		invStore = postgres.NewInventoryStore(pool)
		payStore = postgres.NewPaymentStore(pool)
		shipStore = postgres.NewShippingStore(pool)
		log.Info("store_selected", observability.F("store", "postgres"))
	} else {
		invStore = memory.NewInventoryStore()
		payStore = memory.NewPaymentStore()
		shipStore = memory.NewShippingStore()
		log.Info("store_selected", observability.F("store", "memory"))
	}

	// Message channel: RabbitMQ when configured, in-process otherwise.
	var channel messaging.Channel
	if cfg.AMQPURI != "" {
		rc, err := rabbit.Dial(cfg.AMQPURI, tel.Logger())
		if err != nil {
			log.Error("broker_connect_failed", observability.F("error", err.Error()))
			os.Exit(1)
		}
		channel = rc
		log.Info("channel_selected", observability.F("channel", "rabbit"))
	} else {
		channel = membus.New(tel.Logger())
		log.Info("channel_selected", observability.F("channel", "membus"))
	}
	channel = messaging.Instrument(channel, tel.Metrics())
	defer channel.Close()

	var orders order.Lookup
	if cfg.OrderServiceURL != "" {
		orders = orderclient.New(cfg.OrderServiceURL, tel)
	}

	var gateway dompay.Gateway = paygate.Sandbox{}
	if cfg.GatewayURL != "" {
		gateway = paygate.New(cfg.GatewayURL, tel)
	}

	invCaller := appinv.NewCaller(resilience.BreakerOptions{})
	payCaller := apppay.NewCaller(resilience.BreakerOptions{}, paygate.ErrDeclined)
	shipCaller := appship.NewCaller(resilience.BreakerOptions{})
	for _, c := range []*resilience.Caller{invCaller, payCaller, shipCaller} {
		watchBreaker(c.Breaker(), breakerGauge, log)
	}

	invService := appinv.NewService(invStore, channel, invCaller, tel)
	payService := apppay.NewService(payStore, gateway, channel, payCaller, tel)
	shipService := appship.NewService(shipStore, channel, shipCaller, tel)

	workers := []interface {
		Register(ctx context.Context, consumer messaging.Consumer) error
	}{
		appinv.NewWorker(invService, orders, tel.Logger()),
		apppay.NewWorker(payService, tel.Logger()),
		appship.NewWorker(shipService, tel.Logger()),
	}
	for _, w := range workers {
		if err := w.Register(ctx, channel); err != nil {
			log.Error("worker_register_failed", observability.F("error", err.Error()))
			os.Exit(1)
		}
	}

	handler := httppresentation.NewHandler(invService, payService, shipService, tel.Logger(), tel)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", handler.Router())

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: mux,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("http_server_start", observability.F("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("server_error", observability.F("error", err.Error()))
		os.Exit(1)
	}
	log.Info("server_stopped")
}

// watchBreaker mirrors breaker transitions into the state gauge and the
// log.
func watchBreaker(b *resilience.Breaker, gauge observability.Gauge, log observability.Logger) {
	gauge.Set(float64(b.State()), observability.L("breaker", b.Name()))
	b.OnStateChange(func(name string, from, to resilience.State) {
		gauge.Set(float64(to), observability.L("breaker", name))
		log.Warn("breaker_state_changed",
			observability.F("breaker", name),
			observability.F("from", from.String()),
			observability.F("to", to.String()),
		)
	})
}
