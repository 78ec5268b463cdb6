// Package storetest holds the behavioural suite every kv.Store backend must pass.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrSnakeDoc/snip/internal/kv"
)

// Harness is a fresh, empty store plus a way to move its notion of time forward.
type Harness struct {
	Store   kv.Store
	Advance func(time.Duration)
	// SkipConflict is set by backends that serialize writers on a single connection,
	// where an outside write during an open transaction would block instead of conflict.
	SkipConflict bool
}

// Clock is a manually advanced clock for backends that take a now func. It starts at the
// real current time so server-side TTL monitors never act before the test advances it.
type Clock struct {
	mu sync.Mutex
	t  time.Time
}

func NewClock() *Clock {
	return &Clock{t: time.Now().UTC().Truncate(time.Millisecond)}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// Run executes the suite. newHarness is called once per subtest.
func Run(t *testing.T, newHarness func(t *testing.T) Harness) {
	t.Helper()

	cases := []struct {
		name string
		fn   func(t *testing.T, h Harness)
	}{
		{"GetSetDel", testGetSetDel},
		{"GetMany", testGetMany},
		{"Expiry", testExpiry},
		{"Sets", testSets},
		{"DelClearsSet", testDelClearsSet},
		{"TxCommit", testTxCommit},
		{"TxRollback", testTxRollback},
		{"TxReadYourWrites", testTxReadYourWrites},
		{"TxDone", testTxDone},
		{"TxConflict", testTxConflict},
		{"Sweep", testSweep},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			t.Cleanup(func() { _ = h.Store.Close() })
			tc.fn(t, h)
		})
	}
}

func testGetSetDel(t *testing.T, h Harness) {
	ctx := context.Background()
	s := h.Store

	_, err := s.Get(ctx, "missing")
	require.ErrorIs(t, err, kv.ErrNil)

	require.NoError(t, s.Set(ctx, "k", "v1", 0))
	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v1", got)

	require.NoError(t, s.Set(ctx, "k", "v2", 0))
	got, err = s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v2", got)

	require.NoError(t, s.Del(ctx, "k"))
	_, err = s.Get(ctx, "k")
	require.ErrorIs(t, err, kv.ErrNil)

	// deleting an absent key is not an error
	require.NoError(t, s.Del(ctx, "k"))
}

func testGetMany(t *testing.T, h Harness) {
	ctx := context.Background()
	s := h.Store

	require.NoError(t, s.Set(ctx, "a", "1", 0))
	require.NoError(t, s.Set(ctx, "b", "2", 0))

	got, err := s.GetMany(ctx, "a", "b", "c")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, got)

	got, err = s.GetMany(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func testExpiry(t *testing.T, h Harness) {
	ctx := context.Background()
	s := h.Store

	require.NoError(t, s.Set(ctx, "short", "x", 2*time.Second))
	require.NoError(t, s.Set(ctx, "forever", "y", 0))

	got, err := s.Get(ctx, "short")
	require.NoError(t, err)
	assert.Equal(t, "x", got)

	h.Advance(3 * time.Second)

	_, err = s.Get(ctx, "short")
	require.ErrorIs(t, err, kv.ErrNil)

	many, err := s.GetMany(ctx, "short", "forever")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"forever": "y"}, many)

	// rewriting an expired key revives it
	require.NoError(t, s.Set(ctx, "short", "z", time.Minute))
	got, err = s.Get(ctx, "short")
	require.NoError(t, err)
	assert.Equal(t, "z", got)
}

func testSets(t *testing.T, h Harness) {
	ctx := context.Background()
	s := h.Store

	members, err := s.SMembers(ctx, "set")
	require.NoError(t, err)
	assert.Empty(t, members)

	require.NoError(t, s.SAdd(ctx, "set", "a"))
	require.NoError(t, s.SAdd(ctx, "set", "b"))
	require.NoError(t, s.SAdd(ctx, "set", "a"))

	members, err = s.SMembers(ctx, "set")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, members)

	ok, err := s.SIsMember(ctx, "set", "a")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.SRem(ctx, "set", "a"))
	require.NoError(t, s.SRem(ctx, "set", "never-there"))

	ok, err = s.SIsMember(ctx, "set", "a")
	require.NoError(t, err)
	assert.False(t, ok)

	members, err = s.SMembers(ctx, "set")
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, members)
}

func testDelClearsSet(t *testing.T, h Harness) {
	ctx := context.Background()
	s := h.Store

	require.NoError(t, s.SAdd(ctx, "set", "a"))
	require.NoError(t, s.Del(ctx, "set"))

	members, err := s.SMembers(ctx, "set")
	require.NoError(t, err)
	assert.Empty(t, members)
}

func testTxCommit(t *testing.T, h Harness) {
	ctx := context.Background()
	s := h.Store

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Set(ctx, "k", "v", 0))
	require.NoError(t, tx.SAdd(ctx, "owner", "k"))
	require.NoError(t, tx.Commit(ctx))

	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", got)

	ok, err := s.SIsMember(ctx, "owner", "k")
	require.NoError(t, err)
	assert.True(t, ok)
}

func testTxRollback(t *testing.T, h Harness) {
	ctx := context.Background()
	s := h.Store

	require.NoError(t, s.Set(ctx, "k", "before", 0))

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Set(ctx, "k", "after", 0))
	require.NoError(t, tx.SAdd(ctx, "owner", "k"))
	require.NoError(t, tx.Rollback(ctx))

	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "before", got)

	ok, err := s.SIsMember(ctx, "owner", "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func testTxReadYourWrites(t *testing.T, h Harness) {
	ctx := context.Background()
	s := h.Store

	require.NoError(t, s.SAdd(ctx, "set", "old"))

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx) //nolint:errcheck

	require.NoError(t, tx.Set(ctx, "k", "v", 0))
	got, err := tx.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", got)

	require.NoError(t, tx.SAdd(ctx, "set", "new"))
	require.NoError(t, tx.SRem(ctx, "set", "old"))

	ok, err := tx.SIsMember(ctx, "set", "new")
	require.NoError(t, err)
	assert.True(t, ok)

	members, err := tx.SMembers(ctx, "set")
	require.NoError(t, err)
	assert.Equal(t, []string{"new"}, members)

	require.NoError(t, tx.Del(ctx, "k"))
	_, err = tx.Get(ctx, "k")
	require.ErrorIs(t, err, kv.ErrNil)
}

func testTxDone(t *testing.T, h Harness) {
	ctx := context.Background()

	tx, err := h.Store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Set(ctx, "k", "v", 0))
	require.NoError(t, tx.Commit(ctx))

	assert.NoError(t, tx.Rollback(ctx), "rollback after commit is a no-op")
	assert.ErrorIs(t, tx.Set(ctx, "k", "again", 0), kv.ErrTxDone)
	assert.ErrorIs(t, tx.Commit(ctx), kv.ErrTxDone)
}

func testTxConflict(t *testing.T, h Harness) {
	if h.SkipConflict {
		t.Skip("backend serializes writers")
	}
	ctx := context.Background()
	s := h.Store

	require.NoError(t, s.Set(ctx, "counter", "1", 0))

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Get(ctx, "counter")
	require.NoError(t, err)

	require.NoError(t, s.Set(ctx, "counter", "outside", 0))

	err = tx.Set(ctx, "counter", "inside", 0)
	if err == nil {
		err = tx.Commit(ctx)
	}
	require.Error(t, err)
	assert.True(t, errors.Is(err, kv.ErrConflict), "got %v", err)
	assert.True(t, kv.IsTransient(err))

	got, err := s.Get(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, "outside", got)
}

func testSweep(t *testing.T, h Harness) {
	sw, ok := h.Store.(kv.Sweeper)
	if !ok {
		t.Skip("backend expires keys natively")
	}
	ctx := context.Background()
	s := h.Store

	require.NoError(t, s.Set(ctx, "gone", "x", time.Second))
	require.NoError(t, s.Set(ctx, "kept", "y", 0))
	h.Advance(2 * time.Second)

	n, err := sw.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := s.Get(ctx, "kept")
	require.NoError(t, err)
	assert.Equal(t, "y", got)
}
