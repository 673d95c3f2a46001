package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	appaudit "github.com/ahz777/nxtmarket/internal/application/audit"
	"github.com/ahz777/nxtmarket/internal/application/checkout"
	"github.com/ahz777/nxtmarket/internal/application/idempotency"
	"github.com/ahz777/nxtmarket/internal/application/notify"
	appOrder "github.com/ahz777/nxtmarket/internal/application/order"
	appPayment "github.com/ahz777/nxtmarket/internal/application/payment"
	"github.com/ahz777/nxtmarket/internal/infrastructure/id"
	"github.com/ahz777/nxtmarket/internal/infrastructure/observability/oteltrace"
	"github.com/ahz777/nxtmarket/internal/infrastructure/observability/prometrics"
	"github.com/ahz777/nxtmarket/internal/infrastructure/observability/provider"
	"github.com/ahz777/nxtmarket/internal/infrastructure/observability/zaplogger"
	"github.com/ahz777/nxtmarket/internal/infrastructure/outbox"
	"github.com/ahz777/nxtmarket/internal/pkg/config"
	"github.com/ahz777/nxtmarket/internal/pkg/logging"
	httppresentation "github.com/ahz777/nxtmarket/internal/presentation/http"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	started := time.Now()
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	baseLogger, err := logging.NewLogger(logging.Options{
		Service: cfg.ServiceName,
		Env:     cfg.Env,
		Level:   cfg.LogLevel,
		File:    cfg.LogFile,
	})
	if err != nil {
		return err
	}
	defer func() { _ = baseLogger.Sync() }()
	zap.ReplaceGlobals(baseLogger)

	systemLogger := logging.WithTrace(baseLogger, logging.SystemTraceID, logging.SystemSpanID)
	sysLog := zaplogger.New(systemLogger)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	counters, histograms := prometrics.New(reg, "").Standard()
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))
	tel := provider.New(oteltrace.New(cfg.ServiceName), zaplogger.New(baseLogger), counters, histograms)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg, sysLog)
	if err != nil {
		return err
	}
	defer st.close()

	transport, closeTransport, err := openTransport(ctx, cfg, sysLog)
	if err != nil {
		return err
	}

	// In-process bus between use cases and the realtime transport.
	bus := outbox.NewBus(tel)
	relay := notify.NewRelay(bus, transport, tel)
	relay.Start()
	bus.Start(context.Background())

	emitter := notify.NewEmitter(bus, tel)
	auditor := appaudit.NewRecorder(st.audit, sysLog)
	guard := idempotency.NewGuard(st.idempotency, cfg.IdempotencyLease, idempotency.WithLogger(sysLog))
	ids := id.NewUUIDGenerator()

	services := httppresentation.Services{
		Checkout: checkout.NewService(checkout.Deps{
			Orders:   st.orders,
			Ledger:   st.ledger,
			Carts:    st.carts,
			Guard:    guard,
			Notifier: emitter,
			Auditor:  auditor,
			IDs:      ids,
			LowStock: cfg.LowStockThreshold,
		}, tel),
		Orders: appOrder.NewService(appOrder.Deps{
			Orders:   st.orders,
			Ledger:   st.ledger,
			Notifier: emitter,
			Auditor:  auditor,
		}, tel),
		Payments: appPayment.NewService(appPayment.Deps{
			Orders:        st.orders,
			Intents:       st.intents,
			Ledger:        st.ledger,
			Guard:         guard,
			Notifier:      emitter,
			Auditor:       auditor,
			IDs:           ids,
			Provider:      cfg.PaymentProvider,
			WebhookSecret: cfg.WebhookSecret,
		}, tel),
	}
	handler := httppresentation.NewHandler(services, httppresentation.NewAuthenticator(cfg.JWTSecret), cfg.ServiceName, tel)

	apiServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	healthServer := &http.Server{
		Addr:              cfg.HealthAddr,
		Handler:           httppresentation.HealthRouter(reg, started),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serve(apiServer, "api", systemLogger)
	serve(healthServer, "health", systemLogger)

	<-ctx.Done()
	systemLogger.Info("shutdown_started")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	for _, srv := range []*http.Server{apiServer, healthServer} {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			systemLogger.Error("http_server_shutdown_error", zap.String("addr", srv.Addr), zap.Error(err))
		}
	}
	if err := bus.Stop(shutdownCtx); err != nil {
		systemLogger.Error("event_bus_stop_error", zap.Error(err))
	}
	closeTransport()
	systemLogger.Info("shutdown_complete", zap.Duration("uptime", time.Since(started)))
	return nil
}

func serve(srv *http.Server, name string, log *zap.Logger) {
	go func() {
		log.Info("http_server_start", zap.String("server", name), zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http_server_error", zap.String("server", name), zap.Error(err))
		}
	}()
}
