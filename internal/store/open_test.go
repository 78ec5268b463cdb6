package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrSnakeDoc/snip/internal/config"
	"github.com/MrSnakeDoc/snip/internal/logger"
)

func fastConnect() config.ConnectConfig {
	return config.ConnectConfig{
		Timeout:       time.Second,
		RetryInterval: 5 * time.Millisecond,
		MaxWait:       20 * time.Millisecond,
		PingTimeout:   100 * time.Millisecond,
		WarnThreshold: 1,
	}
}

func TestOpen(t *testing.T) {
	mr := miniredis.RunT(t)

	tests := []struct {
		name    string
		cfg     config.StoreConfig
		want    string
		sweeper bool
	}{
		{
			name:    "memory",
			cfg:     config.StoreConfig{Backend: config.BackendMemory},
			want:    "memory",
			sweeper: true,
		},
		{
			name: "redis",
			cfg: config.StoreConfig{
				Backend: config.BackendRedis,
				Redis:   config.RedisConfig{Addr: mr.Addr(), KeyPrefix: "snip:"},
			},
			want: "redis",
		},
		{
			name:    "sqlite",
			cfg:     config.StoreConfig{Backend: config.BackendSQLite, SQLite: config.SQLiteConfig{DSN: ":memory:"}},
			want:    "sqlite",
			sweeper: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.cfg.Connect = fastConnect()
			s, err := Open(context.Background(), tt.cfg, logger.NewNop())
			require.NoError(t, err)
			defer s.Close()

			assert.Equal(t, tt.want, s.Name())
			assert.Equal(t, tt.sweeper, Sweeper(s) != nil)
			assert.NoError(t, Ready(context.Background(), s))
		})
	}
}

func TestOpen_UnknownBackend(t *testing.T) {
	_, err := Open(context.Background(), config.StoreConfig{Backend: "cassandra", Connect: fastConnect()}, logger.NewNop())
	assert.Error(t, err)
}

func TestOpen_RedisDown(t *testing.T) {
	cfg := config.StoreConfig{
		Backend: config.BackendRedis,
		Redis:   config.RedisConfig{Addr: "127.0.0.1:1"},
		Connect: fastConnect(),
	}
	cfg.Connect.Timeout = 50 * time.Millisecond

	_, err := Open(context.Background(), cfg, logger.NewNop())
	assert.Error(t, err)
}

func TestOpen_MySQL(t *testing.T) {
	t.Run("server down", func(t *testing.T) {
		cfg := config.StoreConfig{
			Backend: config.BackendMySQL,
			MySQL:   config.MySQLConfig{DSN: "snip:snip@tcp(127.0.0.1:1)/snip", Migrate: true},
			Connect: fastConnect(),
		}
		cfg.Connect.Timeout = 50 * time.Millisecond

		_, err := Open(context.Background(), cfg, logger.NewNop())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "mysql unavailable")
	})

	t.Run("dsn without database", func(t *testing.T) {
		cfg := config.StoreConfig{
			Backend: config.BackendMySQL,
			MySQL:   config.MySQLConfig{DSN: "snip:snip@tcp(127.0.0.1:1)/"},
			Connect: fastConnect(),
		}

		_, err := Open(context.Background(), cfg, logger.NewNop())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to open mysql store")
	})
}

func TestWaitReady(t *testing.T) {
	opts := ConnectOptions{
		ConnectTimeout: time.Second,
		RetryInterval:  time.Millisecond,
		MaxWait:        5 * time.Millisecond,
		PingTimeout:    50 * time.Millisecond,
		WarnThreshold:  1,
	}

	t.Run("succeeds after retries", func(t *testing.T) {
		calls := 0
		err := WaitReady(context.Background(), "test", "nowhere", func(context.Context) error {
			calls++
			if calls < 3 {
				return errors.New("connection refused")
			}
			return nil
		}, opts, logger.NewNop())

		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("gives up after timeout", func(t *testing.T) {
		short := opts
		short.ConnectTimeout = 20 * time.Millisecond

		err := WaitReady(context.Background(), "test", "nowhere", func(context.Context) error {
			return errors.New("connection refused")
		}, short, logger.NewNop())

		require.Error(t, err)
		assert.Contains(t, err.Error(), "unavailable")
	})

	t.Run("rejects invalid options", func(t *testing.T) {
		err := WaitReady(context.Background(), "test", "nowhere", func(context.Context) error { return nil },
			ConnectOptions{}, logger.NewNop())
		assert.Error(t, err)
	})
}
