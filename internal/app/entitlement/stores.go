package entitlement

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/magabrotheeeer/entitlement/internal/cache"
	"github.com/magabrotheeeer/entitlement/internal/config"
	"github.com/magabrotheeeer/entitlement/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/entitlement/internal/migrations"
	"github.com/magabrotheeeer/entitlement/internal/reconcile"
	"github.com/magabrotheeeer/entitlement/internal/services/auth"
	subservice "github.com/magabrotheeeer/entitlement/internal/services/subscription"
	"github.com/magabrotheeeer/entitlement/internal/storage"
	"github.com/magabrotheeeer/entitlement/internal/storage/filestore"
	subcache "github.com/magabrotheeeer/entitlement/internal/subscription"
)

type closer func() error

func newCredentialStore(ctx context.Context, cfg config.CredentialStore, sealer storage.Sealer) (auth.CredentialStore, closer, error) {
	const op = "entitlement.newCredentialStore"

	switch cfg.Driver {
	case config.DriverFile:
		store, err := filestore.New(cfg.Dir, sealer)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", op, err)
		}
		return store, nil, nil
	case config.DriverPostgres:
		db, err := storage.New(ctx, cfg.StorageConnectionString, sealer)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", op, err)
		}
		if err = migrations.Run(db.DB, cfg.MigrationsPath); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("%s: %w", op, err)
		}
		if err = storage.CheckDatabaseReady(ctx, db); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("%s: %w", op, err)
		}
		return db, db.Close, nil
	default:
		return nil, nil, fmt.Errorf("%s: unknown driver %q", op, cfg.Driver)
	}
}

func newSlotStore(ctx context.Context, cfg *config.Config) (subcache.SlotStore, closer, error) {
	const op = "entitlement.newSlotStore"

	switch cfg.SubscriptionCache.Driver {
	case config.DriverMemory:
		return subcache.NewMemoryStore(), nil, nil
	case config.DriverFile:
		store, err := subcache.NewFileStore(cfg.SubscriptionCache.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", op, err)
		}
		return store, nil, nil
	case config.DriverRedis:
		redisCache, err := cache.InitServer(ctx, cfg.RedisConnection)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", op, err)
		}
		return cache.NewRedisStore(redisCache, cfg.SubscriptionCache.Key), redisCache.Close, nil
	default:
		return nil, nil, fmt.Errorf("%s: unknown driver %q", op, cfg.SubscriptionCache.Driver)
	}
}

// newReporter публикует события сверки в RabbitMQ, если брокер настроен, иначе пишет их в лог.
func newReporter(ctx context.Context, cfg config.RabbitMQ, logger *slog.Logger) (subservice.Reporter, closer, error) {
	const op = "entitlement.newReporter"

	if cfg.URL == "" {
		return reconcile.NewLogReporter(logger), nil, nil
	}

	conn, err := rabbitmq.Connect(ctx, cfg.URL, cfg.MaxRetries, cfg.RetryDelay, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}
	ch, err := rabbitmq.SetupChannel(conn, cfg.Exchange, rabbitmq.ReconciliationQueues(cfg.RoutingKey))
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	closeAll := func() error {
		if err := ch.Close(); err != nil {
			logger.Error("failed to close channel", slog.Any("err", err))
		}
		return conn.Close()
	}
	return reconcile.NewAMQPReporter(ch, cfg.Exchange, cfg.RoutingKey, logger), closeAll, nil
}
