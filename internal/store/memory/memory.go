// Package memory is an in-process kv.Store. Transactions are optimistic: every key read
// inside a transaction is checked again at commit and any concurrent change fails the
// commit with kv.ErrConflict.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/MrSnakeDoc/snip/internal/kv"
)

// Name identifies the backend in config and logs.
const Name = "memory"

type entry struct {
	value     string
	expiresAt time.Time
}

// Store is an in-process kv.Store. Transactions are optimistic and validated
// against per-key and per-member versions at commit. Nothing survives a restart.
type Store struct {
	mu       sync.Mutex
	now      func() time.Time
	fault    func(op string) error
	values   map[string]entry
	sets     map[string]map[string]struct{}
	versions map[string]uint64
	closed   bool
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now for expiry decisions.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithFault installs a hook run before every operation; a non-nil return fails the operation.
func WithFault(fn func(op string) error) Option {
	return func(s *Store) { s.fault = fn }
}

// New returns an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		now:      time.Now,
		values:   make(map[string]entry),
		sets:     make(map[string]map[string]struct{}),
		versions: make(map[string]uint64),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) Name() string { return Name }

func (s *Store) Ping(ctx context.Context) error { return s.check(ctx, "ping") }

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Store) check(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.fault != nil {
		if err := s.fault(op); err != nil {
			return err
		}
	}
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return kv.ErrUnavailable
	}
	return nil
}

// locked helpers; callers hold s.mu

func (s *Store) read(key string) (string, bool) {
	e, ok := s.values[key]
	if !ok {
		return "", false
	}
	if !e.expiresAt.IsZero() && !s.now().Before(e.expiresAt) {
		return "", false
	}
	return e.value, true
}

func (s *Store) members(key string) []string {
	set := s.sets[key]
	out := make([]string, 0, len(set))
	for m := range set {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// memberVersion names the version slot of one set member. SIsMember depends on it alone,
// so transactions touching different members of one set do not conflict.
func memberVersion(key, member string) string { return key + "\x00" + member }

func (s *Store) apply(op kv.Op) {
	s.versions[op.Key]++
	switch op.Kind {
	case kv.OpSet:
		s.values[op.Key] = entry{value: op.Value, expiresAt: kv.ExpiresAt(s.now(), op.TTL)}
	case kv.OpDel:
		for m := range s.sets[op.Key] {
			s.versions[memberVersion(op.Key, m)]++
		}
		delete(s.values, op.Key)
		delete(s.sets, op.Key)
	case kv.OpSAdd:
		s.versions[memberVersion(op.Key, op.Value)]++
		set, ok := s.sets[op.Key]
		if !ok {
			set = make(map[string]struct{})
			s.sets[op.Key] = set
		}
		set[op.Value] = struct{}{}
	case kv.OpSRem:
		s.versions[memberVersion(op.Key, op.Value)]++
		if set, ok := s.sets[op.Key]; ok {
			delete(set, op.Value)
			if len(set) == 0 {
				delete(s.sets, op.Key)
			}
		}
	}
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	if err := s.check(ctx, "get"); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.read(key)
	if !ok {
		return "", kv.ErrNil
	}
	return v, nil
}

func (s *Store) GetMany(ctx context.Context, keys ...string) (map[string]string, error) {
	if err := s.check(ctx, "getmany"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		if v, ok := s.read(k); ok {
			out[k] = v
		}
	}
	return out, nil
}

func (s *Store) write(ctx context.Context, name string, op kv.Op) error {
	if err := s.check(ctx, name); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apply(op)
	return nil
}

func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.write(ctx, "set", kv.Op{Kind: kv.OpSet, Key: key, Value: value, TTL: ttl})
}

func (s *Store) Del(ctx context.Context, key string) error {
	return s.write(ctx, "del", kv.Op{Kind: kv.OpDel, Key: key})
}

func (s *Store) SAdd(ctx context.Context, key, member string) error {
	return s.write(ctx, "sadd", kv.Op{Kind: kv.OpSAdd, Key: key, Value: member})
}

func (s *Store) SRem(ctx context.Context, key, member string) error {
	return s.write(ctx, "srem", kv.Op{Kind: kv.OpSRem, Key: key, Value: member})
}

func (s *Store) SIsMember(ctx context.Context, key, member string) (bool, error) {
	if err := s.check(ctx, "sismember"); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sets[key][member]
	return ok, nil
}

func (s *Store) SMembers(ctx context.Context, key string) ([]string, error) {
	if err := s.check(ctx, "smembers"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.members(key), nil
}

// SweepExpired drops values whose deadline has passed.
func (s *Store) SweepExpired(ctx context.Context) (int64, error) {
	if err := s.check(ctx, "sweep"); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	var n int64
	for k, e := range s.values {
		if !e.expiresAt.IsZero() && !now.Before(e.expiresAt) {
			delete(s.values, k)
			s.versions[k]++
			n++
		}
	}
	return n, nil
}

func (s *Store) Begin(ctx context.Context) (kv.Tx, error) {
	if err := s.check(ctx, "begin"); err != nil {
		return nil, err
	}
	return &tx{s: s, buf: kv.NewBuffer(), seen: make(map[string]uint64)}, nil
}

type tx struct {
	s    *Store
	buf  *kv.Buffer
	seen map[string]uint64
	done bool
}

// observe records the version of key the first time the transaction depends on it.
// Callers hold s.mu.
func (t *tx) observe(key string) {
	if _, ok := t.seen[key]; !ok {
		t.seen[key] = t.s.versions[key]
	}
}

func (t *tx) begin(ctx context.Context, op string) error {
	if t.done {
		return kv.ErrTxDone
	}
	return t.s.check(ctx, op)
}

func (t *tx) Get(ctx context.Context, key string) (string, error) {
	if err := t.begin(ctx, "get"); err != nil {
		return "", err
	}
	if v, found, known := t.buf.Lookup(key); known {
		if !found {
			return "", kv.ErrNil
		}
		return v, nil
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	t.observe(key)
	v, ok := t.s.read(key)
	if !ok {
		return "", kv.ErrNil
	}
	return v, nil
}

func (t *tx) GetMany(ctx context.Context, keys ...string) (map[string]string, error) {
	if err := t.begin(ctx, "getmany"); err != nil {
		return nil, err
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		if v, found, known := t.buf.Lookup(k); known {
			if found {
				out[k] = v
			}
			continue
		}
		t.observe(k)
		if v, ok := t.s.read(k); ok {
			out[k] = v
		}
	}
	return out, nil
}

func (t *tx) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := t.begin(ctx, "set"); err != nil {
		return err
	}
	t.buf.Set(key, value, ttl)
	return nil
}

func (t *tx) Del(ctx context.Context, key string) error {
	if err := t.begin(ctx, "del"); err != nil {
		return err
	}
	t.buf.Del(key)
	return nil
}

func (t *tx) SAdd(ctx context.Context, key, member string) error {
	if err := t.begin(ctx, "sadd"); err != nil {
		return err
	}
	t.buf.SAdd(key, member)
	return nil
}

func (t *tx) SRem(ctx context.Context, key, member string) error {
	if err := t.begin(ctx, "srem"); err != nil {
		return err
	}
	t.buf.SRem(key, member)
	return nil
}

func (t *tx) SIsMember(ctx context.Context, key, member string) (bool, error) {
	if err := t.begin(ctx, "sismember"); err != nil {
		return false, err
	}
	if ok, known := t.buf.Member(key, member); known {
		return ok, nil
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	t.observe(memberVersion(key, member))
	_, ok := t.s.sets[key][member]
	return ok, nil
}

func (t *tx) SMembers(ctx context.Context, key string) ([]string, error) {
	if err := t.begin(ctx, "smembers"); err != nil {
		return nil, err
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	t.observe(key)
	return t.buf.Members(key, t.s.members(key)), nil
}

func (t *tx) Commit(ctx context.Context) error {
	if err := t.begin(ctx, "commit"); err != nil {
		return err
	}
	t.done = true

	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for k, v := range t.seen {
		if t.s.versions[k] != v {
			return kv.ErrConflict
		}
	}
	for _, op := range t.buf.Ops() {
		t.s.apply(op)
	}
	return nil
}

func (t *tx) Rollback(context.Context) error {
	t.done = true
	t.buf.Reset()
	return nil
}
