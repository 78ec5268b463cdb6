package mysql

import (
	"context"
	"database/sql/driver"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	mysqldrv "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcmysql "github.com/testcontainers/testcontainers-go/modules/mysql"

	"github.com/MrSnakeDoc/snip/internal/kv"
	"github.com/MrSnakeDoc/snip/internal/store/storetest"
)

func setupMySQL(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping mysql container in short mode")
	}

	ctx := context.Background()
	ctr, err := tcmysql.Run(ctx, "mysql:8.4",
		tcmysql.WithDatabase("snip"),
		tcmysql.WithUsername("snip"),
		tcmysql.WithPassword("snip"),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	dsn, err := ctr.ConnectionString(ctx)
	require.NoError(t, err)
	return dsn
}

func TestConformance(t *testing.T) {
	dsn := setupMySQL(t)
	require.NoError(t, Migrate(dsn))

	storetest.Run(t, func(t *testing.T) storetest.Harness {
		clock := storetest.NewClock()
		s, err := Open(context.Background(), Options{DSN: dsn, Now: clock.Now})
		require.NoError(t, err)

		for _, table := range []string{"key_value", "set_members"} {
			_, err = s.DB().Exec("DELETE FROM " + table)
			require.NoError(t, err)
		}

		return storetest.Harness{Store: s, Advance: clock.Advance}
	})
}

func TestKeysAreCaseSensitive(t *testing.T) {
	dsn := setupMySQL(t)
	s, err := Open(context.Background(), Options{DSN: dsn, Migrate: true})
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "AbC", "upper", 0))
	require.NoError(t, s.Set(ctx, "abc", "lower", 0))

	got, err := s.Get(ctx, "AbC")
	require.NoError(t, err)
	assert.Equal(t, "upper", got)
}

func TestLongMembersStayDistinct(t *testing.T) {
	dsn := setupMySQL(t)
	s, err := Open(context.Background(), Options{DSN: dsn, Migrate: true})
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	prefix := "abc::" + strings.Repeat("x", 4000)
	require.NoError(t, s.SAdd(ctx, "authenticated_urls", prefix+"a"))
	require.NoError(t, s.SAdd(ctx, "authenticated_urls", prefix+"b"))
	require.NoError(t, s.SAdd(ctx, "authenticated_urls", prefix+"a"))

	members, err := s.SMembers(ctx, "authenticated_urls")
	require.NoError(t, err)
	assert.Len(t, members, 2)
}

func TestOpenValidatesDSN(t *testing.T) {
	tests := []struct {
		name    string
		dsn     string
		wantErr string
	}{
		{"empty", "", "dsn is required"},
		{"no database", "snip:snip@tcp(localhost:3306)/", "must name a database"},
		{"malformed", "snip:snip@tcp(localhost:3306", "invalid dsn"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Open(context.Background(), Options{DSN: tt.dsn})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"deadlock", &mysqldrv.MySQLError{Number: lockDeadlock}, kv.ErrConflict},
		{"lock wait timeout", &mysqldrv.MySQLError{Number: lockWaitTimeout}, kv.ErrConflict},
		{"duplicate entry", &mysqldrv.MySQLError{Number: 1062}, nil},
		{"invalid connection", mysqldrv.ErrInvalidConn, kv.ErrUnavailable},
		{"bad connection", driver.ErrBadConn, kv.ErrUnavailable},
		{"dial", &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, kv.ErrUnavailable},
		{"plain", errors.New("boom"), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classify(tt.err))
		})
	}
}

func TestMigrateURL(t *testing.T) {
	got, err := migrateURL("u:p@tcp(h:3306)/db?timeout=" + (5 * time.Second).String())
	require.NoError(t, err)
	assert.Contains(t, got, "mysql://u:p@tcp(h:3306)/db?")
	assert.Contains(t, got, "multiStatements=true")
	assert.Contains(t, got, "timeout=5s")
}
