package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/MrSnakeDoc/snip/internal/kv"
)

// Query templates. {k} is the key column, quoted as the syntax requires.
const (
	getQuery = `SELECT value FROM key_value
		WHERE {k} = ? AND (expires_at IS NULL OR expires_at > ?)`
	getManyQuery = `SELECT {k}, value FROM key_value
		WHERE {k} IN (?) AND (expires_at IS NULL OR expires_at > ?)`
	delValueQuery   = `DELETE FROM key_value WHERE {k} = ?`
	delMembersQuery = `DELETE FROM set_members WHERE {k} = ?`
	sremQuery       = `DELETE FROM set_members WHERE {k} = ? AND value = ?`
	sismemberQuery  = `SELECT EXISTS (SELECT 1 FROM set_members WHERE {k} = ? AND value = ?)`
	smembersQuery   = `SELECT value FROM set_members WHERE {k} = ? ORDER BY value`
	sweepQuery      = `DELETE FROM key_value WHERE expires_at IS NOT NULL AND expires_at <= ?`

	setQuery = `INSERT INTO key_value ({k}, value, expires_at) VALUES (?, ?, ?)
		ON CONFLICT ({k}) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`
	saddQuery = `INSERT INTO set_members ({k}, value) VALUES (?, ?) ON CONFLICT DO NOTHING`

	mysqlSetQuery = `INSERT INTO key_value ({k}, value, expires_at) VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE value = VALUES(value), expires_at = VALUES(expires_at)`
	mysqlSaddQuery = `INSERT IGNORE INTO set_members ({k}, value) VALUES (?, ?)`
)

type queries struct {
	get, getMany, set, delValue, delMembers string
	sadd, srem, sismember, smembers, sweep  string
}

func newQueries(syntax Syntax) queries {
	key, set, sadd := "key", setQuery, saddQuery
	if syntax == SyntaxMySQL {
		key, set, sadd = "`key`", mysqlSetQuery, mysqlSaddQuery
	}
	r := strings.NewReplacer("{k}", key)
	return queries{
		get:        r.Replace(getQuery),
		getMany:    r.Replace(getManyQuery),
		set:        r.Replace(set),
		delValue:   r.Replace(delValueQuery),
		delMembers: r.Replace(delMembersQuery),
		sadd:       r.Replace(sadd),
		srem:       r.Replace(sremQuery),
		sismember:  r.Replace(sismemberQuery),
		smembers:   r.Replace(smembersQuery),
		sweep:      sweepQuery,
	}
}

type row struct {
	Key   string `db:"key"`
	Value string `db:"value"`
}

// ops runs the primitives against either the pool or an open transaction.
type ops struct {
	s *Store
	x sqlx.ExtContext
}

func (o ops) now() any { return o.s.d.Time(o.s.now()) }

func (o ops) Get(ctx context.Context, key string) (string, error) {
	var v string
	err := sqlx.GetContext(ctx, o.x, &v, o.x.Rebind(o.s.q.get), key, o.now())
	if errors.Is(err, sql.ErrNoRows) {
		return "", kv.ErrNil
	}
	if err != nil {
		return "", o.s.classify("get", err)
	}
	return v, nil
}

func (o ops) GetMany(ctx context.Context, keys ...string) (map[string]string, error) {
	out := make(map[string]string, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	query, args, err := sqlx.In(o.s.q.getMany, keys, o.now())
	if err != nil {
		return nil, o.s.classify("getmany", err)
	}
	var rows []row
	if err := sqlx.SelectContext(ctx, o.x, &rows, o.x.Rebind(query), args...); err != nil {
		return nil, o.s.classify("getmany", err)
	}
	for _, r := range rows {
		out[r.Key] = r.Value
	}
	return out, nil
}

func (o ops) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if _, err := o.x.ExecContext(ctx, o.x.Rebind(o.s.q.set), key, value, o.s.expiry(ttl)); err != nil {
		return o.s.classify("set", err)
	}
	return nil
}

func (o ops) del(ctx context.Context, key string) error {
	if _, err := o.x.ExecContext(ctx, o.x.Rebind(o.s.q.delValue), key); err != nil {
		return o.s.classify("del", err)
	}
	if _, err := o.x.ExecContext(ctx, o.x.Rebind(o.s.q.delMembers), key); err != nil {
		return o.s.classify("del", err)
	}
	return nil
}

func (o ops) SAdd(ctx context.Context, key, member string) error {
	if _, err := o.x.ExecContext(ctx, o.x.Rebind(o.s.q.sadd), key, member); err != nil {
		return o.s.classify("sadd", err)
	}
	return nil
}

func (o ops) SRem(ctx context.Context, key, member string) error {
	if _, err := o.x.ExecContext(ctx, o.x.Rebind(o.s.q.srem), key, member); err != nil {
		return o.s.classify("srem", err)
	}
	return nil
}

func (o ops) SIsMember(ctx context.Context, key, member string) (bool, error) {
	var ok bool
	if err := sqlx.GetContext(ctx, o.x, &ok, o.x.Rebind(o.s.q.sismember), key, member); err != nil {
		return false, o.s.classify("sismember", err)
	}
	return ok, nil
}

func (o ops) SMembers(ctx context.Context, key string) ([]string, error) {
	members := []string{}
	if err := sqlx.SelectContext(ctx, o.x, &members, o.x.Rebind(o.s.q.smembers), key); err != nil {
		return nil, o.s.classify("smembers", err)
	}
	return members, nil
}
