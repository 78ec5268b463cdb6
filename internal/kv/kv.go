// Package kv defines the key/value-plus-set contract every storage backend implements.
//
// Values are opaque strings addressed by key. A key may also name a set of string members;
// deleting a key removes both its value and its set. Backends either use native TTL or keep
// an explicit expiry and filter on every read.
package kv

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNil is returned by Get when the key was never set, was deleted, or has expired.
	ErrNil = errors.New("kv: nil")
	// ErrUnavailable classifies backend connectivity failures.
	ErrUnavailable = errors.New("kv: store unavailable")
	// ErrConflict classifies serialization failures and deadlocks. The whole transaction
	// may be retried against a fresh handle.
	ErrConflict = errors.New("kv: write conflict")
	// ErrTxDone is returned when a finished transaction is used again.
	ErrTxDone = errors.New("kv: transaction already finished")
)

// Ops is the primitive operation set shared by a Store and its transactions.
type Ops interface {
	Get(ctx context.Context, key string) (string, error)
	// GetMany reads several keys in one round trip. Absent keys are missing from the map.
	GetMany(ctx context.Context, keys ...string) (map[string]string, error)
	// Set upserts key. ttl <= 0 keeps the value forever.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, key string) error

	SAdd(ctx context.Context, key, member string) error
	SRem(ctx context.Context, key, member string) error
	SIsMember(ctx context.Context, key, member string) (bool, error)
	SMembers(ctx context.Context, key string) ([]string, error)
}

// Tx is a unit of work bound to a single connection or session.
//
// Rollback after Commit (or a second Rollback) is a no-op so it can always be deferred.
type Tx interface {
	Ops
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Store is a backend handle. It is created once at process start and closed at shutdown.
type Store interface {
	Ops
	Begin(ctx context.Context) (Tx, error)
	Ping(ctx context.Context) error
	Name() string
	Close() error
}

// Sweeper is implemented by backends that simulate TTL and need expired rows removed.
type Sweeper interface {
	SweepExpired(ctx context.Context) (int64, error)
}

// IsTransient reports whether err is worth retrying with a fresh transaction.
func IsTransient(err error) bool {
	return errors.Is(err, ErrConflict)
}

// ExpiresAt converts a ttl into an absolute deadline from now. The zero time means no expiry.
func ExpiresAt(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}
