package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/storefront/checkout-api/internal/cache"
	"github.com/storefront/checkout-api/internal/db"
	"github.com/storefront/checkout-api/internal/events"
	"github.com/storefront/checkout-api/internal/logging"
	"github.com/storefront/checkout-api/internal/metrics"
	"github.com/storefront/checkout-api/internal/services"
	"github.com/storefront/checkout-api/internal/store/memstore"
	"github.com/storefront/checkout-api/internal/store/mongostore"
	"github.com/storefront/checkout-api/internal/store/mysqlstore"
	"github.com/storefront/checkout-api/pkg/config"
)

func openStore(ctx context.Context, cfg *config.Config, m *metrics.AppMetrics) (services.Store, error) {
	log := logging.New("store")

	switch cfg.Store.Driver {
	case "mysql":
		database, err := db.NewDB(cfg.GetDSN(), db.PoolOptions{
			MaxOpenConns:    cfg.MySQL.MaxOpenConns,
			MaxIdleConns:    cfg.MySQL.MaxIdleConns,
			ConnMaxLifetime: cfg.MySQL.ConnMaxLifetime,
		}, cfg.OTEL.ServiceName)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		// Initialize schema
		schemaSQL, err := os.ReadFile(cfg.MySQL.SchemaFile)
		if err != nil {
			log.Warn("could not read schema file, assuming schema exists", "file", cfg.MySQL.SchemaFile, "error", err)
		} else if err := database.InitSchema(ctx, string(schemaSQL)); err != nil {
			log.Warn("could not initialize schema, assuming schema exists", "error", err)
		}
		return mysqlstore.New(database, m), nil

	case "mongo":
		client, database, err := db.NewMongo(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
		if err != nil {
			return nil, err
		}
		st := mongostore.New(client, database, m)
		if err := st.EnsureIndexes(ctx); err != nil {
			_ = st.Close(context.Background())
			return nil, err
		}
		return st, nil

	case "memory":
		log.Warn("using in-memory store, data is lost on restart")
		return memstore.New(), nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
}

// newLocker shares the checkout lock through Redis when configured
func newLocker(ctx context.Context, cfg *config.Config) (cache.Locker, func(), error) {
	if cfg.Redis.Addr == "" {
		return cache.NewMemoryLocker(cfg.Redis.LockTTL), func() {}, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return cache.NewRedisLocker(rdb, cfg.Redis.LockTTL), func() { _ = rdb.Close() }, nil
}

func newPublisher(cfg *config.Config) (events.Publisher, error) {
	switch cfg.Events.Driver {
	case "", "none":
		return events.NewLogPublisher(logging.New("events")), nil
	case "rabbitmq":
		p, err := events.NewRabbitPublisher(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange)
		if err != nil {
			return nil, err
		}
		return p, nil
	case "kafka":
		p, err := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
	return nil, fmt.Errorf("unknown events driver %q", cfg.Events.Driver)
}
