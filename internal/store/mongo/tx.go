package mongo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/mongo"

	"github.com/MrSnakeDoc/snip/internal/kv"
)

// tx routes every operation through the session so it joins the server-side transaction.
type tx struct {
	s    *Store
	sess mongo.Session
	done bool
}

func (t *tx) ctx(ctx context.Context) (context.Context, error) {
	if t.done {
		return nil, kv.ErrTxDone
	}
	return mongo.NewSessionContext(ctx, t.sess), nil
}

func (t *tx) Get(ctx context.Context, key string) (string, error) {
	sctx, err := t.ctx(ctx)
	if err != nil {
		return "", err
	}
	return t.s.Get(sctx, key)
}

func (t *tx) GetMany(ctx context.Context, keys ...string) (map[string]string, error) {
	sctx, err := t.ctx(ctx)
	if err != nil {
		return nil, err
	}
	return t.s.GetMany(sctx, keys...)
}

func (t *tx) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	sctx, err := t.ctx(ctx)
	if err != nil {
		return err
	}
	return t.s.Set(sctx, key, value, ttl)
}

func (t *tx) Del(ctx context.Context, key string) error {
	sctx, err := t.ctx(ctx)
	if err != nil {
		return err
	}
	return t.s.del(sctx, key)
}

func (t *tx) SAdd(ctx context.Context, key, member string) error {
	sctx, err := t.ctx(ctx)
	if err != nil {
		return err
	}
	return t.s.SAdd(sctx, key, member)
}

func (t *tx) SRem(ctx context.Context, key, member string) error {
	sctx, err := t.ctx(ctx)
	if err != nil {
		return err
	}
	return t.s.SRem(sctx, key, member)
}

func (t *tx) SIsMember(ctx context.Context, key, member string) (bool, error) {
	sctx, err := t.ctx(ctx)
	if err != nil {
		return false, err
	}
	return t.s.SIsMember(sctx, key, member)
}

func (t *tx) SMembers(ctx context.Context, key string) ([]string, error) {
	sctx, err := t.ctx(ctx)
	if err != nil {
		return nil, err
	}
	return t.s.SMembers(sctx, key)
}

func (t *tx) Commit(ctx context.Context) error {
	if t.done {
		return kv.ErrTxDone
	}
	t.done = true
	defer t.sess.EndSession(context.WithoutCancel(ctx))

	if err := t.sess.CommitTransaction(ctx); err != nil {
		return classify("commit", err)
	}
	return nil
}

func (t *tx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	defer t.sess.EndSession(context.WithoutCancel(ctx))

	if err := t.sess.AbortTransaction(ctx); err != nil {
		return classify("abort", err)
	}
	return nil
}
