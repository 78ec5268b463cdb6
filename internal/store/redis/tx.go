package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/snip/internal/kv"
)

type tx struct {
	s       *Store
	conn    *redis.Conn
	buf     *kv.Buffer
	watched map[string]struct{}
	done    bool
}

// Begin pins a connection from the pool for the lifetime of the transaction.
func (s *Store) Begin(ctx context.Context) (kv.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &tx{
		s:       s,
		conn:    s.client.Conn(),
		buf:     kv.NewBuffer(),
		watched: make(map[string]struct{}),
	}, nil
}

// watch adds keys to the WATCH list before they are read so EXEC fails if anyone else
// writes them in between.
func (t *tx) watch(ctx context.Context, keys ...string) error {
	if t.done {
		return kv.ErrTxDone
	}
	args := make([]interface{}, 0, len(keys)+1)
	args = append(args, "watch")
	for _, k := range keys {
		if _, ok := t.watched[k]; ok {
			continue
		}
		args = append(args, t.s.ns.key(k))
	}
	if len(args) == 1 {
		return nil
	}
	cmd := redis.NewStatusCmd(ctx, args...)
	if err := t.conn.Process(ctx, cmd); err != nil {
		return classify("watch", err)
	}
	for _, k := range keys {
		t.watched[k] = struct{}{}
	}
	return nil
}

func (t *tx) Get(ctx context.Context, key string) (string, error) {
	if t.done {
		return "", kv.ErrTxDone
	}
	if v, found, known := t.buf.Lookup(key); known {
		if !found {
			return "", kv.ErrNil
		}
		return v, nil
	}
	if err := t.watch(ctx, key); err != nil {
		return "", err
	}
	v, err := t.conn.Get(ctx, t.s.ns.key(key)).Result()
	if err != nil {
		return "", classify("get", err)
	}
	return v, nil
}

func (t *tx) GetMany(ctx context.Context, keys ...string) (map[string]string, error) {
	if t.done {
		return nil, kv.ErrTxDone
	}
	out := make(map[string]string, len(keys))
	remote := make([]string, 0, len(keys))
	for _, k := range keys {
		if v, found, known := t.buf.Lookup(k); known {
			if found {
				out[k] = v
			}
			continue
		}
		remote = append(remote, k)
	}
	if len(remote) == 0 {
		return out, nil
	}
	if err := t.watch(ctx, remote...); err != nil {
		return nil, err
	}
	got, err := getMany(ctx, t.conn, t.s.ns, remote)
	if err != nil {
		return nil, err
	}
	for k, v := range got {
		out[k] = v
	}
	return out, nil
}

func (t *tx) Set(_ context.Context, key, value string, d time.Duration) error {
	if t.done {
		return kv.ErrTxDone
	}
	t.buf.Set(key, value, d)
	return nil
}

func (t *tx) Del(_ context.Context, key string) error {
	if t.done {
		return kv.ErrTxDone
	}
	t.buf.Del(key)
	return nil
}

func (t *tx) SAdd(_ context.Context, key, member string) error {
	if t.done {
		return kv.ErrTxDone
	}
	t.buf.SAdd(key, member)
	return nil
}

func (t *tx) SRem(_ context.Context, key, member string) error {
	if t.done {
		return kv.ErrTxDone
	}
	t.buf.SRem(key, member)
	return nil
}

func (t *tx) SIsMember(ctx context.Context, key, member string) (bool, error) {
	if t.done {
		return false, kv.ErrTxDone
	}
	if ok, known := t.buf.Member(key, member); known {
		return ok, nil
	}
	if err := t.watch(ctx, key); err != nil {
		return false, err
	}
	ok, err := t.conn.SIsMember(ctx, t.s.ns.key(key), member).Result()
	if err != nil {
		return false, classify("sismember", err)
	}
	return ok, nil
}

func (t *tx) SMembers(ctx context.Context, key string) ([]string, error) {
	if t.done {
		return nil, kv.ErrTxDone
	}
	if err := t.watch(ctx, key); err != nil {
		return nil, err
	}
	members, err := t.conn.SMembers(ctx, t.s.ns.key(key)).Result()
	if err != nil {
		return nil, classify("smembers", err)
	}
	return t.buf.Members(key, members), nil
}

func (t *tx) Commit(ctx context.Context) error {
	if t.done {
		return kv.ErrTxDone
	}
	t.done = true
	defer t.release(ctx)

	if t.buf.Len() == 0 {
		return nil
	}

	_, err := t.conn.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for _, op := range t.buf.Ops() {
			k := t.s.ns.key(op.Key)
			switch op.Kind {
			case kv.OpSet:
				p.Set(ctx, k, op.Value, ttl(op.TTL))
			case kv.OpDel:
				p.Del(ctx, k)
			case kv.OpSAdd:
				p.SAdd(ctx, k, op.Value)
			case kv.OpSRem:
				p.SRem(ctx, k, op.Value)
			}
		}
		return nil
	})
	if err != nil {
		return classify("exec", err)
	}
	return nil
}

func (t *tx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	t.buf.Reset()
	t.release(ctx)
	return nil
}

// release drops any remaining WATCH and hands the connection back to the pool.
func (t *tx) release(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
	defer cancel()
	if len(t.watched) > 0 {
		_ = t.conn.Process(ctx, redis.NewStatusCmd(ctx, "unwatch"))
	}
	_ = t.conn.Close()
}
