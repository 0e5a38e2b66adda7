package main

import (
	"context"

	"amethyst/internal/cache"
	"amethyst/internal/config"
	"amethyst/internal/schema"
	"amethyst/internal/store"
	"amethyst/internal/store/memory"
	"amethyst/internal/store/sqlstore"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func schemaOptions(cfg *config.Config) schema.Options {
	return schema.Options{CacheSize: cfg.Schema.CacheSize, CacheTTL: cfg.Schema.CacheTTL}
}

// openStore открывает хранилище из cfg.Store. Для sql-драйверов при
// auto_migrate таблицы создаются сразу.
func openStore(ctx context.Context, cfg *config.Config, s *schema.Schema, log zerolog.Logger) (store.Store, error) {
	if cfg.Store.Driver == "memory" {
		log.Warn().Msg("using in-memory store, data is lost on exit")
		return memory.New(s), nil
	}

	st, err := openSQLStore(ctx, cfg, s)
	if err != nil {
		return nil, err
	}
	if cfg.Store.AutoMigrate {
		if err := st.Migrate(ctx); err != nil {
			_ = st.Close()
			return nil, errors.Wrap(err, "auto migrate")
		}
		log.Info().Str("driver", cfg.Store.Driver).Msg("schema migrated")
	}
	return st, nil
}

func openSQLStore(ctx context.Context, cfg *config.Config, s *schema.Schema) (*sqlstore.Store, error) {
	d, err := sqlstore.DialectFor(cfg.Store.Driver)
	if err != nil {
		return nil, err
	}
	db, err := sqlstore.Open(ctx, d, cfg.Store.DSN)
	if err != nil {
		return nil, err
	}
	return sqlstore.New(db, d, s), nil
}

// openResponses: хранилище кэша ответов; nil при driver=none.
// Возвращаемая функция закрывает соединения.
func openResponses(ctx context.Context, cfg *config.Config) (cache.ResponseStore, func(), error) {
	switch cfg.Cache.Driver {
	case "none", "":
		return nil, func() {}, nil
	case "memory":
		return cache.NewMemoryResponseStore(cfg.Cache.MaxEntries), func() {}, nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.Redis.Addr,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, errors.Wrapf(err, "redis ping %s", cfg.Cache.Redis.Addr)
		}
		return cache.NewRedisResponseStore(client, cfg.Cache.Prefix), func() { _ = client.Close() }, nil
	}
	return nil, nil, errors.Errorf("unknown cache driver %q", cfg.Cache.Driver)
}
