package kiosk

import (
	"context"
	"fmt"
	"log/slog"

	"irisvault/internal/gateway"
	"irisvault/internal/gateway/cache"
	"irisvault/internal/platform/config"
	"irisvault/internal/platform/metrics"
	"irisvault/internal/platform/redis"
	"irisvault/internal/ratelimit"
	"irisvault/pkg/platform/audit/publisher"
	"irisvault/pkg/platform/audit/store/kafka"
	"irisvault/pkg/platform/audit/store/memory"
	"irisvault/pkg/platform/audit/store/postgres"
	"irisvault/pkg/platform/circuit"
)

// Cleanup releases what a constructor opened. It is never nil.
type Cleanup func()

// OpenRedis connects to Redis when a URL is configured. A nil client means
// process-local caches and counters.
func OpenRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, Cleanup, error) {
	client, err := redis.New(ctx, cfg)
	if err != nil {
		return nil, func() {}, err
	}
	if client == nil {
		return nil, func() {}, nil
	}
	return client, func() { _ = client.Close() }, nil
}

// NewGateway builds the collaborator client. Account lookups are cached in
// Redis when rc is set and in process otherwise.
func NewGateway(cfg config.Config, rc *redis.Client, logger *slog.Logger, m *metrics.Metrics) (*gateway.Client, error) {
	var accounts cache.AccountCache
	if rc != nil {
		logger.Info("account cache in redis", "ttl", cfg.Redis.AccountTTL)
		accounts = cache.NewRedisCache(rc, cfg.Redis.AccountTTL)
	} else {
		logger.Info("account cache in process", "ttl", cfg.Redis.AccountTTL)
		accounts = cache.NewMemoryCache(cfg.Redis.AccountTTL)
	}
	return gateway.NewClient(cfg.Gateway.BaseURL,
		gateway.WithTimeout(cfg.Gateway.Timeout),
		gateway.WithBreaker(circuit.New("biometric-gateway")),
		gateway.WithAccountCache(accounts),
		gateway.WithMetrics(m),
		gateway.WithLogger(logger),
	)
}

// NewRateLimiter builds the per-client limiter, sharing counters through
// Redis when rc is set.
func NewRateLimiter(cfg config.RateLimit, rc *redis.Client, logger *slog.Logger, m *metrics.Metrics) (*ratelimit.Middleware, error) {
	var store ratelimit.Store = ratelimit.NewMemoryStore()
	if rc != nil {
		store = ratelimit.NewRedisStore(rc)
	}
	limiter, err := ratelimit.NewLimiter(store, map[ratelimit.Class]ratelimit.Limit{
		ratelimit.ClassFlowCreate:    {Requests: cfg.FlowCreates, Window: cfg.Window},
		ratelimit.ClassAccountLookup: {Requests: cfg.AccountLookups, Window: cfg.Window},
		ratelimit.ClassCredential:    {Requests: cfg.Credentials, Window: cfg.Window},
	})
	if err != nil && !cfg.Disabled {
		return nil, err
	}
	return ratelimit.NewMiddleware(limiter,
		ratelimit.WithDisabled(cfg.Disabled),
		ratelimit.WithLogger(logger),
		ratelimit.WithMetrics(m),
	), nil
}

// NewAuditPublisher opens the configured audit sink. The cleanup drains the
// publisher queue before closing the sink.
func NewAuditPublisher(ctx context.Context, cfg config.Audit, logger *slog.Logger) (*publisher.Publisher, Cleanup, error) {
	noop := func() {}
	pubOpts := []publisher.Option{
		publisher.WithAsyncBuffer(cfg.BufferSize),
		publisher.WithLogger(logger),
	}

	switch cfg.Sink {
	case "", "memory":
		pub := publisher.NewPublisher(memory.NewInMemoryStore(), pubOpts...)
		return pub, pub.Close, nil

	case "postgres":
		db, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, noop, err
		}
		store := postgres.New(db)
		if err := store.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, noop, err
		}
		pub := publisher.NewPublisher(store, pubOpts...)
		return pub, func() {
			pub.Close()
			_ = db.Close()
		}, nil

	case "kafka":
		client, err := kafka.NewClient(cfg.KafkaBrokers)
		if err != nil {
			return nil, noop, err
		}
		if err := kafka.EnsureTopic(ctx, client, cfg.KafkaTopic, 1); err != nil {
			client.Close()
			return nil, noop, err
		}
		store, err := kafka.New(client, cfg.KafkaTopic,
			kafka.WithMirror(memory.NewInMemoryStore()),
			kafka.WithLogger(logger),
		)
		if err != nil {
			client.Close()
			return nil, noop, err
		}
		pub := publisher.NewPublisher(store, pubOpts...)
		return pub, func() {
			pub.Close()
			client.Close()
		}, nil

	default:
		return nil, noop, fmt.Errorf("unknown audit sink %q", cfg.Sink)
	}
}
