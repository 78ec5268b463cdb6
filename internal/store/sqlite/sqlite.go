// Package sqlite opens the relational kv store on SQLite. Local files and ":memory:" go
// through modernc.org/sqlite; libsql:// and wss:// URLs go to Turso through libsql.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/tursodatabase/libsql-client-go/libsql" // Turso driver
	_ "modernc.org/sqlite"

	"github.com/MrSnakeDoc/snip/internal/kv"
	"github.com/MrSnakeDoc/snip/internal/store/sqlstore"
)

const Name = "sqlite"

const schema = `
CREATE TABLE IF NOT EXISTS key_value (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	expires_at INTEGER
);
CREATE INDEX IF NOT EXISTS idx_key_value_expires_at ON key_value (expires_at);

CREATE TABLE IF NOT EXISTS set_members (
	key   TEXT NOT NULL,
	value TEXT NOT NULL,
	PRIMARY KEY (key, value)
);
`

// SQLite result codes; extended codes keep the primary code in the low byte.
const (
	sqliteBusy   = 5
	sqliteLocked = 6
)

type Options struct {
	DSN          string           // file path, ":memory:", or libsql:// URL
	BusyTimeout  time.Duration    // how long a writer waits for the lock
	MaxOpenConns int              // 0 keeps the driver default
	Now          func() time.Time // nil = time.Now
}

// Dialect stores expires_at as unix milliseconds.
var Dialect = sqlstore.Dialect{
	Name:     Name,
	Time:     func(t time.Time) any { return t.UnixMilli() },
	Classify: classify,
}

func isRemote(dsn string) bool {
	return strings.Contains(dsn, "libsql://") || strings.Contains(dsn, "wss://")
}

func isMemory(dsn string) bool {
	return dsn == ":memory:" || strings.Contains(dsn, "mode=memory")
}

// localDSN adds the modernc connection parameters for locking and WAL.
func localDSN(dsn string, busy time.Duration) string {
	if busy <= 0 {
		busy = 5 * time.Second
	}
	params := []string{
		fmt.Sprintf("_pragma=busy_timeout(%d)", busy.Milliseconds()),
		"_pragma=foreign_keys(1)",
		"_txlock=immediate",
	}
	if !isMemory(dsn) {
		params = append(params, "_pragma=journal_mode(WAL)")
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(params, "&")
}

func Open(ctx context.Context, opts Options) (*sqlstore.Store, error) {
	if opts.DSN == "" {
		return nil, errors.New("sqlite dsn is required")
	}

	driverName, dsn := "sqlite", localDSN(opts.DSN, opts.BusyTimeout)
	if isRemote(opts.DSN) {
		driverName, dsn = "libsql", opts.DSN
	}

	db, err := sqlx.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	switch {
	case isMemory(opts.DSN):
		// every connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
	case opts.MaxOpenConns > 0:
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to reach sqlite: %w: %w", kv.ErrUnavailable, err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	var storeOpts []sqlstore.Option
	if opts.Now != nil {
		storeOpts = append(storeOpts, sqlstore.WithClock(opts.Now))
	}
	return sqlstore.New(db, Dialect, storeOpts...), nil
}

// coder is implemented by *sqlite.Error.
type coder interface {
	Code() int
}

func classify(err error) error {
	var c coder
	if errors.As(err, &c) {
		switch c.Code() & 0xff {
		case sqliteBusy, sqliteLocked:
			return kv.ErrConflict
		}
		return nil
	}
	// libsql reports the SQLite condition in the message only
	msg := err.Error()
	switch {
	case strings.Contains(msg, "SQLITE_BUSY"), strings.Contains(msg, "database is locked"):
		return kv.ErrConflict
	case strings.Contains(msg, "connection refused"), strings.Contains(msg, "no such host"):
		return kv.ErrUnavailable
	}
	return nil
}
