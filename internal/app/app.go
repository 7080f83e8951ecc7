package app

import (
	"context"
	"fmt"
	"time"

	"credits/internal/config"
	"credits/internal/db"
	"credits/internal/events"
	"credits/internal/services"
	"credits/internal/store"
	"credits/internal/store/memory"

	"github.com/sirupsen/logrus"
)

const kafkaFlushTimeout = 5 * time.Second

// App holds the wired core shared by the server and the CLI.
type App struct {
	Store   store.Store
	Bus     *events.Bus
	Credits *services.CreditService
	closers []func() error
	logger  logrus.FieldLogger
}

// Build opens the configured store, attaches the optional Kafka and Redis
// sinks to the event bus and wires the services on top.
func Build(ctx context.Context, cfg config.Config, logger logrus.FieldLogger) (*App, error) {
	a := &App{Bus: events.NewBus(logger), logger: logger}

	st, err := a.openStore(cfg)
	if err != nil {
		return nil, err
	}
	a.Store = st

	if err := a.attachSinks(ctx, cfg); err != nil {
		_ = a.Close()
		return nil, err
	}

	ledger := services.NewLedgerService(st, a.Bus, logger, cfg.DefaultCurrency)
	promotions := services.NewPromotionService(st, a.Bus, logger)
	a.Credits = services.NewCreditService(ledger, promotions, logger)
	return a, nil
}

func (a *App) openStore(cfg config.Config) (store.Store, error) {
	switch cfg.StoreDriver {
	case config.DriverMemory:
		a.logger.Warn("using in-memory store; data is lost on exit")
		return memory.New(), nil
	case config.DriverPostgres:
		database, err := db.Connect(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		a.closers = append(a.closers, database.Close)
		runner := db.NewTxRunner(database, db.Options{
			MaxAttempts: cfg.TxMaxAttempts,
			Timeout:     cfg.TxTimeout,
			Logger:      a.logger,
		})
		return store.NewPostgres(database, runner), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

func (a *App) attachSinks(ctx context.Context, cfg config.Config) error {
	if len(cfg.KafkaBrokers) > 0 {
		client, err := events.NewKafkaClient(cfg.KafkaBrokers)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func() error {
			return events.CloseKafka(client, kafkaFlushTimeout)
		})
		a.Bus.SubscribeAll("kafka", events.NewKafkaSink(client, cfg.KafkaTopic, a.logger).Handle)
		a.logger.WithField("topic", cfg.KafkaTopic).Info("forwarding events to kafka")
	}
	if cfg.RedisURL != "" {
		client, err := events.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, client.Close)
		a.Bus.SubscribeAll("redis", events.NewRedisSink(client, cfg.RedisChannel).Handle)
		a.logger.WithField("channel", cfg.RedisChannel).Info("publishing events to redis")
	}
	return nil
}

// Close releases connections in reverse order of acquisition.
func (a *App) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}
