package main

import (
	"context"
	"fmt"

	domainAudit "github.com/ahz777/nxtmarket/internal/domain/audit"
	"github.com/ahz777/nxtmarket/internal/domain/cart"
	"github.com/ahz777/nxtmarket/internal/domain/catalog"
	domainIdem "github.com/ahz777/nxtmarket/internal/domain/idempotency"
	"github.com/ahz777/nxtmarket/internal/domain/notification"
	"github.com/ahz777/nxtmarket/internal/domain/order"
	"github.com/ahz777/nxtmarket/internal/domain/payment"
	"github.com/ahz777/nxtmarket/internal/infrastructure/memory"
	"github.com/ahz777/nxtmarket/internal/infrastructure/mongo"
	infranotify "github.com/ahz777/nxtmarket/internal/infrastructure/notify"
	"github.com/ahz777/nxtmarket/internal/infrastructure/postgres"
	"github.com/ahz777/nxtmarket/internal/observability"
	"github.com/ahz777/nxtmarket/internal/pkg/config"
)

type stores struct {
	orders      order.Repository
	intents     payment.Repository
	idempotency domainIdem.Store
	audit       domainAudit.Sink
	ledger      catalog.Ledger
	carts       cart.Repository

	closers []func()
}

// close releases connections in reverse order of opening.
func (s *stores) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// openStores connects Postgres and Mongo when configured. Either one left
// unset falls back to its in-memory implementation.
func openStores(ctx context.Context, cfg config.Config, log observability.Logger) (*stores, error) {
	st := &stores{}

	if cfg.DatabaseURL != "" {
		pool, err := postgres.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		st.closers = append(st.closers, pool.Close)
		if err := postgres.Migrate(pool); err != nil {
			st.close()
			return nil, err
		}
		st.orders = postgres.NewOrderRepository(pool)
		st.intents = postgres.NewIntentRepository(pool)
		st.idempotency = postgres.NewIdempotencyStore(pool)
		st.audit = postgres.NewAuditSink(pool)
		log.Info("store_ready", observability.F("store", "postgres"))
	} else {
		st.orders = memory.NewOrderRepository()
		st.intents = memory.NewIntentRepository()
		st.idempotency = memory.NewIdempotencyStore()
		st.audit = memory.NewAuditSink()
		log.Warn("store_ready", observability.F("store", "memory"), observability.F("scope", "orders"))
	}

	if cfg.MongoURI != "" {
		db, err := mongo.Connect(ctx, cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			st.close()
			return nil, err
		}
		st.closers = append(st.closers, func() { _ = db.Client().Disconnect(context.Background()) })
		if err := mongo.EnsureIndexes(ctx, db); err != nil {
			st.close()
			return nil, err
		}
		st.ledger = mongo.NewCatalog(db)
		st.carts = mongo.NewCartRepository(db)
		log.Info("store_ready", observability.F("store", "mongo"))
	} else {
		st.ledger = memory.NewCatalog()
		st.carts = memory.NewCartRepository()
		log.Warn("store_ready", observability.F("store", "memory"), observability.F("scope", "catalog"))
	}

	return st, nil
}

// openTransport builds the realtime transport. Broker-backed transports sit
// behind a circuit breaker.
func openTransport(ctx context.Context, cfg config.Config, log observability.Logger) (notification.Transport, func(), error) {
	switch cfg.NotifyTransport {
	case config.TransportRedis:
		client, err := infranotify.DialRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		t := infranotify.WithBreaker(infranotify.NewRedisTransport(client), infranotify.DefaultBreakerSettings(), log)
		return t, func() { _ = client.Close() }, nil

	case config.TransportKafka:
		kt := infranotify.NewKafkaTransport(infranotify.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaNotifyTopic))
		t := infranotify.WithBreaker(kt, infranotify.DefaultBreakerSettings(), log)
		return t, func() {
			if err := kt.Close(); err != nil {
				log.Error("kafka_writer_close_error", observability.F("error", err.Error()))
			}
		}, nil

	case config.TransportLog, "":
		return infranotify.NewLogTransport(log.With(observability.F("component", "notify"))), func() {}, nil

	default:
		return nil, nil, fmt.Errorf("unknown notify transport %q", cfg.NotifyTransport)
	}
}
