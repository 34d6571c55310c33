package container

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/samber/do"
	"github.com/serroba/next-number/internal/store"
	"go.uber.org/zap"
)

// StorePackage provides the window store backend selected by Options.Store,
// with its tables created.
func StorePackage(injector *do.Injector) {
	do.Provide(injector, func(i *do.Injector) (store.Backend, error) {
		opts := do.MustInvoke[*Options](i)
		logger := do.MustInvoke[*zap.Logger](i)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		backend, err := openBackend(ctx, opts)
		if err != nil {
			return nil, err
		}

		if m, ok := backend.(store.Migrator); ok {
			if err := m.Migrate(ctx); err != nil {
				_ = backend.Shutdown()

				return nil, fmt.Errorf("migrate %s store: %w", opts.Store, err)
			}
		}

		logger.Info("store ready", zap.String("store", opts.Store))

		return backend, nil
	})
}

func openBackend(ctx context.Context, opts *Options) (store.Backend, error) {
	switch opts.Store {
	case "sqlite":
		return store.OpenSQLite(opts.Database)
	case "postgres":
		if opts.DatabaseURL == "" {
			return nil, errors.New("postgres store requires --database-url")
		}

		pool, err := pgxpool.New(ctx, opts.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}

		return store.NewPostgresBackend(pool), nil
	case "memory":
		return store.NewMemoryBackend(), nil
	default:
		return nil, fmt.Errorf("unknown store %q", opts.Store)
	}
}

// RedisClient closes the wrapped client on injector shutdown.
type RedisClient struct {
	*redis.Client
}

// Shutdown closes the client.
func (c *RedisClient) Shutdown() error {
	return c.Close()
}

// RedisPackage provides a redis client, or ErrRedisDisabled when no address is configured.
func RedisPackage(injector *do.Injector) {
	do.Provide(injector, func(i *do.Injector) (*RedisClient, error) {
		opts := do.MustInvoke[*Options](i)
		if opts.RedisAddr == "" {
			return nil, ErrRedisDisabled
		}

		return &RedisClient{Client: redis.NewClient(&redis.Options{Addr: opts.RedisAddr})}, nil
	})
}
