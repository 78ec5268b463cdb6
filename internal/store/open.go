// Package store selects and opens the configured kv.Store backend.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/MrSnakeDoc/snip/internal/config"
	"github.com/MrSnakeDoc/snip/internal/kv"
	"github.com/MrSnakeDoc/snip/internal/logger"
	"github.com/MrSnakeDoc/snip/internal/store/memory"
	"github.com/MrSnakeDoc/snip/internal/store/mongo"
	"github.com/MrSnakeDoc/snip/internal/store/mysql"
	"github.com/MrSnakeDoc/snip/internal/store/postgres"
	"github.com/MrSnakeDoc/snip/internal/store/redis"
	"github.com/MrSnakeDoc/snip/internal/store/sqlite"
)

// Open builds the backend named by cfg.Backend and waits until it answers a ping.
func Open(ctx context.Context, cfg config.StoreConfig, log logger.Logger) (kv.Store, error) {
	s, addr, setup, err := build(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Backend, err)
	}

	opts := connectOptions(cfg.Connect)
	if err := WaitReady(ctx, s.Name(), addr, s.Ping, opts, log); err != nil {
		_ = s.Close()
		return nil, err
	}
	if setup != nil {
		if err := setup(ctx); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to prepare %s store: %w", cfg.Backend, err)
		}
	}
	return s, nil
}

// connectOptions overlays the configured values on DefaultConnectOptions.
func connectOptions(c config.ConnectConfig) ConnectOptions {
	opts := DefaultConnectOptions()
	if c.Timeout > 0 {
		opts.ConnectTimeout = c.Timeout
	}
	if c.RetryInterval > 0 {
		opts.RetryInterval = c.RetryInterval
	}
	if c.MaxWait > 0 {
		opts.MaxWait = c.MaxWait
	}
	if c.PingTimeout > 0 {
		opts.PingTimeout = c.PingTimeout
	}
	if c.WarnThreshold > 0 {
		opts.WarnThreshold = c.WarnThreshold
	}
	return opts
}

// build constructs the backend without requiring it to be up. setup, when non-nil, runs
// once the backend answers pings.
func build(ctx context.Context, cfg config.StoreConfig) (s kv.Store, addr string, setup func(context.Context) error, err error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return memory.New(), "in-process", nil, nil

	case config.BackendRedis:
		client, err := redis.NewClient(redis.Options{
			URL:          cfg.Redis.URL,
			Addr:         cfg.Redis.Addr,
			Username:     cfg.Redis.Username,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
			PoolSize:     cfg.Redis.PoolSize,
		})
		if err != nil {
			return nil, "", nil, err
		}
		return redis.New(client, cfg.Redis.KeyPrefix), client.Options().Addr, nil, nil

	case config.BackendSQLite:
		db, err := sqlite.Open(ctx, sqlite.Options{
			DSN:          cfg.SQLite.DSN,
			BusyTimeout:  cfg.SQLite.BusyTimeout,
			MaxOpenConns: cfg.SQLite.MaxOpenConns,
		})
		if err != nil {
			return nil, "", nil, err
		}
		return db, "sqlite", nil, nil

	case config.BackendPostgres:
		db, err := postgres.Open(ctx, postgres.Options{
			DSN:          cfg.Postgres.DSN,
			MaxOpenConns: cfg.Postgres.MaxOpenConns,
			MaxIdleConns: cfg.Postgres.MaxIdleConns,
		})
		if err != nil {
			return nil, "", nil, err
		}
		if cfg.Postgres.Migrate {
			setup = func(context.Context) error { return postgres.Migrate(cfg.Postgres.DSN) }
		}
		return db, "postgres", setup, nil

	case config.BackendMySQL:
		db, err := mysql.Open(ctx, mysql.Options{
			DSN:          cfg.MySQL.DSN,
			MaxOpenConns: cfg.MySQL.MaxOpenConns,
			MaxIdleConns: cfg.MySQL.MaxIdleConns,
		})
		if err != nil {
			return nil, "", nil, err
		}
		if cfg.MySQL.Migrate {
			setup = func(context.Context) error { return mysql.Migrate(cfg.MySQL.DSN) }
		}
		return db, "mysql", setup, nil

	case config.BackendMongo:
		db, err := mongo.Open(ctx, mongo.Options{
			URI:         cfg.Mongo.URI,
			Database:    cfg.Mongo.Database,
			SkipIndexes: true,
		})
		if err != nil {
			return nil, "", nil, err
		}
		return db, "mongo", db.EnsureIndexes, nil

	default:
		return nil, "", nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

// Sweeper returns the store's expiry sweeper, or nil when TTL is native.
func Sweeper(s kv.Store) kv.Sweeper {
	if sw, ok := s.(kv.Sweeper); ok {
		return sw
	}
	return nil
}

// pingTimeout is used by readiness probes.
const pingTimeout = 2 * time.Second

// Ready pings s with a short deadline.
func Ready(ctx context.Context, s kv.Store) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	return s.Ping(ctx)
}
