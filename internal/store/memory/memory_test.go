package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrSnakeDoc/snip/internal/kv"
	"github.com/MrSnakeDoc/snip/internal/store/storetest"
)

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storetest.Harness {
		clock := storetest.NewClock()
		return storetest.Harness{
			Store:   New(WithClock(clock.Now)),
			Advance: clock.Advance,
		}
	})
}

func TestFaultInjection(t *testing.T) {
	boom := errors.New("boom")
	fail := true
	s := New(WithFault(func(op string) error {
		if fail && op == "get" {
			return boom
		}
		return nil
	}))
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", "v", 0))
	_, err := s.Get(ctx, "k")
	require.ErrorIs(t, err, boom)

	fail = false
	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", got)
}

func TestClosed(t *testing.T) {
	s := New()
	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Ping(context.Background()), kv.ErrUnavailable)
}

func TestCancelledContext(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Get(ctx, "k")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemberLevelConflicts(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.SAdd(ctx, "owners", "a"))
	require.NoError(t, s.SAdd(ctx, "owners", "b"))

	t.Run("other member changes do not conflict", func(t *testing.T) {
		tx, err := s.Begin(ctx)
		require.NoError(t, err)
		ok, err := tx.SIsMember(ctx, "owners", "a")
		require.NoError(t, err)
		require.True(t, ok)
		require.NoError(t, tx.SRem(ctx, "owners", "a"))

		require.NoError(t, s.SRem(ctx, "owners", "b"))
		assert.NoError(t, tx.Commit(ctx))
	})

	t.Run("listing conflicts with any change", func(t *testing.T) {
		require.NoError(t, s.SAdd(ctx, "owners", "c"))
		tx, err := s.Begin(ctx)
		require.NoError(t, err)
		_, err = tx.SMembers(ctx, "owners")
		require.NoError(t, err)
		require.NoError(t, tx.SAdd(ctx, "owners", "d"))

		require.NoError(t, s.SAdd(ctx, "owners", "e"))
		assert.ErrorIs(t, tx.Commit(ctx), kv.ErrConflict)
	})

	t.Run("same member conflicts", func(t *testing.T) {
		tx, err := s.Begin(ctx)
		require.NoError(t, err)
		_, err = tx.SIsMember(ctx, "owners", "c")
		require.NoError(t, err)
		require.NoError(t, tx.SRem(ctx, "owners", "c"))

		require.NoError(t, s.Del(ctx, "owners"))
		assert.ErrorIs(t, tx.Commit(ctx), kv.ErrConflict)
	})
}
