package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	s3blob "github.com/alanyoungcy/spreadbot/internal/blob/s3"
	"github.com/alanyoungcy/spreadbot/internal/cache/redis"
	"github.com/alanyoungcy/spreadbot/internal/config"
	"github.com/alanyoungcy/spreadbot/internal/domain"
	"github.com/alanyoungcy/spreadbot/internal/metrics"
	"github.com/alanyoungcy/spreadbot/internal/notify"
	"github.com/alanyoungcy/spreadbot/internal/platform/nobitex"
	"github.com/alanyoungcy/spreadbot/internal/platform/wallex"
	"github.com/alanyoungcy/spreadbot/internal/server/handler"
	"github.com/alanyoungcy/spreadbot/internal/server/ws"
	"github.com/alanyoungcy/spreadbot/internal/store/memory"
	"github.com/alanyoungcy/spreadbot/internal/store/postgres"
	"github.com/alanyoungcy/spreadbot/internal/store/sqlite"
	"github.com/alanyoungcy/spreadbot/internal/stream/kafka"
)

// Dependencies bundles everything the run loop needs. It is constructed by
// Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Quote sources, compared a against b.
	SourceA domain.QuoteSource
	SourceB domain.QuoteSource

	Store domain.OpportunityStore

	Registry domain.SubscriberRegistry
	Quotes   domain.QuoteCache
	// Optional; set only when Redis is enabled.
	Locks   domain.LockManager
	Bus     domain.SignalBus
	Limiter domain.RateLimiter

	// Telegram is nil without a bot token.
	Telegram     *notify.TelegramBot
	Notifier     domain.Notifier
	Broadcasters []notify.Broadcaster
	Hub          *ws.Hub

	Metrics      *metrics.Metrics
	HealthChecks map[string]handler.HealthCheck
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		Metrics:      metrics.New(),
		HealthChecks: make(map[string]handler.HealthCheck),
		Hub:          ws.NewHub(logger),
	}

	// --- Quote sources ---
	deps.SourceA = nobitex.NewClient(nobitex.Config{
		BaseURL:     cfg.Nobitex.BaseURL,
		DstCurrency: cfg.Nobitex.QuoteCurrency,
		UnitFactor:  cfg.Nobitex.UnitFactor,
		Timeout:     cfg.Nobitex.Timeout.Duration,
	})
	deps.SourceB = wallex.NewClient(wallex.Config{
		BaseURL:       cfg.Wallex.BaseURL,
		APIKey:        cfg.Wallex.APIKey,
		QuoteCurrency: cfg.Wallex.QuoteCurrency,
		UnitFactor:    cfg.Wallex.UnitFactor,
		FetchLast:     cfg.Wallex.FetchLast,
		Timeout:       cfg.Wallex.Timeout.Duration,
	})

	// --- Opportunity store ---
	switch strings.ToLower(cfg.Storage.Driver) {
	case "postgres":
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}
		deps.Store = postgres.NewOpportunityStore(pgClient.Pool())
		deps.HealthChecks["postgres"] = pgClient.Ping

	case "sqlite":
		store, err := sqlite.Open(ctx, cfg.SQLite.Path)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: sqlite: %w", err)
		}
		closers = append(closers, func() { _ = store.Close() })
		deps.Store = store
		deps.HealthChecks["sqlite"] = func(ctx context.Context) error {
			_, err := store.Count(ctx)
			return err
		}

	case "memory":
		deps.Store = memory.NewOpportunityStore()

	default:
		cleanup()
		return nil, nil, fmt.Errorf("wire: unknown storage driver %q", cfg.Storage.Driver)
	}

	// --- Redis (subscribers, cycle lock, signal bus, quote cache, limiter) ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.Registry = redis.NewSubscriberRegistry(redisClient)
		deps.Quotes = redis.NewQuoteCache(redisClient, cfg.Redis.QuoteTTL.Duration)
		deps.Locks = redis.NewLockManager(redisClient)
		deps.Bus = redis.NewSignalBus(redisClient)
		deps.Limiter = redis.NewRateLimiter(redisClient)
		deps.HealthChecks["redis"] = redisClient.Ping
	} else {
		deps.Registry = notify.NewMemoryRegistry()
		deps.Quotes = memory.NewQuoteCache()
	}

	for _, id := range cfg.Notify.Subscribers {
		if _, err := deps.Registry.Add(ctx, id); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: seed subscriber %s: %w", id, err)
		}
	}

	// --- Per-subscriber delivery ---
	if cfg.Notify.TelegramToken != "" {
		deps.Telegram = notify.NewTelegramBot(notify.TelegramConfig{
			Token:       cfg.Notify.TelegramToken,
			PollTimeout: cfg.Notify.TelegramPollTimeout.Duration,
		}, deps.Registry, logger)
		deps.Notifier = deps.Telegram
		if deps.Limiter != nil && cfg.Notify.TelegramRatePerSec > 0 {
			deps.Notifier = notify.NewRateLimitedNotifier(
				deps.Telegram, deps.Limiter, "telegram", cfg.Notify.TelegramRatePerSec, time.Second,
			)
		}
	}

	// --- Broadcast channels ---
	// With a signal bus the hub is fed through Bridge, so every instance's
	// websocket clients see every opportunity.
	if deps.Bus != nil {
		deps.Broadcasters = append(deps.Broadcasters, notify.NewBusBroadcaster(deps.Bus))
	} else {
		deps.Broadcasters = append(deps.Broadcasters, deps.Hub)
	}

	if cfg.Notify.DiscordWebhookURL != "" {
		deps.Broadcasters = append(deps.Broadcasters,
			notify.NewDiscordBroadcaster(cfg.Notify.DiscordWebhookURL, cfg.Notify.QuoteCurrency))
	}

	if cfg.Kafka.Enabled {
		if err := kafka.EnsureTopic(ctx, cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.Partitions); err != nil {
			logger.WarnContext(ctx, "wire: kafka topic not ensured",
				slog.String("topic", cfg.Kafka.Topic),
				slog.String("error", err.Error()),
			)
		}
		pub := kafka.NewPublisher(kafka.NewWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic))
		closers = append(closers, func() { _ = pub.Close() })
		deps.Broadcasters = append(deps.Broadcasters, pub)
	}

	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Broadcasters = append(deps.Broadcasters,
			s3blob.NewArchiver(s3blob.NewWriter(s3Client), cfg.S3.Prefix))
		deps.HealthChecks["s3"] = s3Client.Health
	}

	return deps, cleanup, nil
}
