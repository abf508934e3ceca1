package repositories

import (
	"context"
	"fmt"

	"groupchat/internal/core/ports"
	"groupchat/internal/infrastructure/repositories/memory"
	"groupchat/internal/infrastructure/repositories/postgres"
	redisrepo "groupchat/internal/infrastructure/repositories/redis"
	"groupchat/internal/infrastructure/repositories/sqlite"
	"groupchat/pkg/config"

	"go.uber.org/zap"
)

// Factory opens the store selected by storage.driver.
type Factory struct {
	cfg    *config.Config
	logger *zap.SugaredLogger
	driver string
	store  ports.Store
}

func NewFactory(cfg *config.Config, logger *zap.SugaredLogger) *Factory {
	return &Factory{cfg: cfg, logger: logger}
}

// Open connects the configured backend and applies the seed file when one is
// configured. An unreachable Redis falls back to the in-memory store.
func (f *Factory) Open(ctx context.Context) (ports.Store, error) {
	if f.store != nil {
		return f.store, nil
	}

	store, driver, err := f.open(ctx)
	if err != nil {
		return nil, err
	}

	if path := f.cfg.Storage.SeedFile; path != "" {
		seed, err := LoadSeedFile(path)
		if err == nil {
			err = seed.Apply(ctx, store, f.logger)
		}
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("failed to seed store from %s: %w", path, err)
		}
		f.logger.Infow("applied seed file", "path", path, "users", len(seed.Users), "groups", len(seed.Groups))
	}

	f.store, f.driver = store, driver
	return store, nil
}

func (f *Factory) open(ctx context.Context) (ports.Store, string, error) {
	switch f.cfg.Storage.Driver {
	case config.StorageRedis:
		r := f.cfg.Redis
		store, err := redisrepo.Open(ctx, r.Address, r.Password, r.DB, r.PoolSize, f.logger)
		if err != nil {
			f.logger.Warnw("failed to connect to Redis, falling back to memory store",
				"error", err,
			)
			return memory.NewStore(), config.StorageMemory, nil
		}
		f.logger.Info("using Redis store")
		return store, config.StorageRedis, nil

	case config.StoragePostgres:
		store, err := postgres.Open(ctx, f.cfg.Storage.PostgresURL, f.logger)
		if err != nil {
			return nil, "", err
		}
		f.logger.Info("using Postgres store")
		return store, config.StoragePostgres, nil

	case config.StorageSQLite:
		store, err := sqlite.Open(f.cfg.Storage.SQLitePath, f.cfg.Logging.Level == "debug", f.logger)
		if err != nil {
			return nil, "", err
		}
		f.logger.Info("using SQLite store")
		return store, config.StorageSQLite, nil

	default:
		f.logger.Info("using memory store")
		return memory.NewStore(), config.StorageMemory, nil
	}
}

// Driver reports the backend actually in use after Open.
func (f *Factory) Driver() string {
	return f.driver
}

func (f *Factory) Close() error {
	if f.store != nil {
		return f.store.Close()
	}
	return nil
}

func (f *Factory) HealthCheck(ctx context.Context) error {
	if f.store == nil {
		return fmt.Errorf("store not opened")
	}
	return f.store.Ping(ctx)
}
