// Package sqlstore implements kv.Store over two relational tables:
//
//	key_value(key PRIMARY KEY, value, expires_at)
//	set_members(key, value, PRIMARY KEY(key, value))
//
// Expiry is simulated: reads filter on expires_at and SweepExpired deletes stale rows.
// Dialects differ only in how they encode expires_at and classify driver errors.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/MrSnakeDoc/snip/internal/kv"
)

// Syntax selects the SQL flavour the shared queries are rendered in.
type Syntax uint8

const (
	// SyntaxStandard upserts with ON CONFLICT, as PostgreSQL and SQLite do.
	SyntaxStandard Syntax = iota
	// SyntaxMySQL upserts with ON DUPLICATE KEY UPDATE and backquotes the key column.
	SyntaxMySQL
)

// Dialect adapts the shared SQL to one database family.
type Dialect struct {
	Name   string
	Syntax Syntax
	// Time encodes an absolute instant the way the expires_at column stores it.
	Time func(time.Time) any
	// Classify maps a driver error onto a kv sentinel, or returns nil when it has no opinion.
	Classify func(error) error
	// TxOptions is passed to BeginTxx. nil uses the driver default.
	TxOptions *sql.TxOptions
}

// Store is a kv.Store over the key_value and set_members tables, shared by every SQL
// dialect. Expired rows are ignored on read and removed by SweepExpired.
type Store struct {
	db  *sqlx.DB
	d   Dialect
	q   queries
	now func() time.Time
	ops
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now for expiry decisions.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New wraps db, whose schema must already be migrated, using dialect d.
func New(db *sqlx.DB, d Dialect, opts ...Option) *Store {
	s := &Store{db: db, d: d, q: newQueries(d.Syntax), now: time.Now}
	for _, o := range opts {
		o(s)
	}
	s.ops = ops{s: s, x: db}
	return s
}

func (s *Store) Name() string { return s.d.Name }

func (s *Store) DB() *sqlx.DB { return s.db }

func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return s.classify("ping", err)
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

// Del removes the value and the set atomically.
func (s *Store) Del(ctx context.Context, key string) error {
	tx, err := s.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := tx.Del(ctx, key); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) SweepExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		s.db.Rebind(s.q.sweep),
		s.d.Time(s.now()))
	if err != nil {
		return 0, s.classify("sweep", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, s.classify("sweep", err)
	}
	return n, nil
}

func (s *Store) Begin(ctx context.Context) (kv.Tx, error) {
	x, err := s.db.BeginTxx(ctx, s.d.TxOptions)
	if err != nil {
		return nil, s.classify("begin", err)
	}
	return &tx{ops: ops{s: s, x: x}, tx: x}, nil
}

func (s *Store) expiry(ttl time.Duration) any {
	at := kv.ExpiresAt(s.now(), ttl)
	if at.IsZero() {
		return nil
	}
	return s.d.Time(at)
}

func (s *Store) classify(op string, err error) error {
	switch {
	case errors.Is(err, sql.ErrTxDone):
		return kv.ErrTxDone
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, sql.ErrConnDone):
		return fmt.Errorf("failed to %s: %w: %w", op, kv.ErrUnavailable, err)
	}
	if s.d.Classify != nil {
		if sentinel := s.d.Classify(err); sentinel != nil {
			return fmt.Errorf("failed to %s: %w: %w", op, sentinel, err)
		}
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

type tx struct {
	ops
	tx *sqlx.Tx
}

func (t *tx) Commit(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := t.tx.Commit(); err != nil {
		return t.s.classify("commit", err)
	}
	return nil
}

func (t *tx) Rollback(context.Context) error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return t.s.classify("rollback", err)
	}
	return nil
}

// Del on a transaction runs both deletes inside it.
func (t *tx) Del(ctx context.Context, key string) error {
	return t.ops.del(ctx, key)
}
