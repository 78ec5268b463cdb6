package kv

import (
	"sort"
	"time"
)

// OpKind names the write an Op replays.
type OpKind uint8

const (
	OpSet OpKind = iota + 1
	OpDel
	OpSAdd
	OpSRem
)

// Op is one buffered write, replayed in order on commit.
type Op struct {
	Kind  OpKind
	Key   string
	Value string // value for OpSet, member for OpSAdd/OpSRem
	TTL   time.Duration
}

type pending struct {
	value   string
	deleted bool
}

type setDelta struct {
	cleared bool
	added   map[string]struct{}
	removed map[string]struct{}
}

// Buffer records the writes of an optimistic transaction and overlays them on reads,
// so a transaction observes its own writes before they are applied.
type Buffer struct {
	ops    []Op
	values map[string]pending
	sets   map[string]*setDelta
}

// NewBuffer returns an empty Buffer.
func NewBuffer() *Buffer {
	return &Buffer{
		values: make(map[string]pending),
		sets:   make(map[string]*setDelta),
	}
}

// Ops returns the buffered writes in the order they were made.
func (b *Buffer) Ops() []Op { return b.ops }

// Len reports the number of buffered writes.
func (b *Buffer) Len() int { return len(b.ops) }

// Reset drops every buffered write, for a retried attempt.
func (b *Buffer) Reset() {
	b.ops = nil
	b.values = make(map[string]pending)
	b.sets = make(map[string]*setDelta)
}

// Set buffers a write of value under key. A zero ttl never expires.
func (b *Buffer) Set(key, value string, ttl time.Duration) {
	b.ops = append(b.ops, Op{Kind: OpSet, Key: key, Value: value, TTL: ttl})
	b.values[key] = pending{value: value}
}

// Del buffers the removal of key, both as a value and as a set.
func (b *Buffer) Del(key string) {
	b.ops = append(b.ops, Op{Kind: OpDel, Key: key})
	b.values[key] = pending{deleted: true}
	b.sets[key] = &setDelta{cleared: true}
}

// SAdd buffers adding member to the set at key.
func (b *Buffer) SAdd(key, member string) {
	b.ops = append(b.ops, Op{Kind: OpSAdd, Key: key, Value: member})
	d := b.delta(key)
	d.added[member] = struct{}{}
	delete(d.removed, member)
}

// SRem buffers removing member from the set at key.
func (b *Buffer) SRem(key, member string) {
	b.ops = append(b.ops, Op{Kind: OpSRem, Key: key, Value: member})
	d := b.delta(key)
	d.removed[member] = struct{}{}
	delete(d.added, member)
}

func (b *Buffer) delta(key string) *setDelta {
	d, ok := b.sets[key]
	if !ok {
		d = &setDelta{}
		b.sets[key] = d
	}
	if d.added == nil {
		d.added = make(map[string]struct{})
	}
	if d.removed == nil {
		d.removed = make(map[string]struct{})
	}
	return d
}

// Lookup answers a read from the buffer. known is false when the backend must be asked.
func (b *Buffer) Lookup(key string) (value string, found, known bool) {
	p, ok := b.values[key]
	if !ok {
		return "", false, false
	}
	if p.deleted {
		return "", false, true
	}
	return p.value, true, true
}

// Member answers a membership test from the buffer. known is false when the backend must be asked.
func (b *Buffer) Member(key, member string) (isMember, known bool) {
	d, ok := b.sets[key]
	if !ok {
		return false, false
	}
	if _, ok := d.added[member]; ok {
		return true, true
	}
	if _, ok := d.removed[member]; ok {
		return false, true
	}
	if d.cleared {
		return false, true
	}
	return false, false
}

// Members merges the committed members of key with the buffered changes.
func (b *Buffer) Members(key string, committed []string) []string {
	d, ok := b.sets[key]
	if !ok {
		return committed
	}

	seen := make(map[string]struct{}, len(committed)+len(d.added))
	if !d.cleared {
		for _, m := range committed {
			if _, gone := d.removed[m]; gone {
				continue
			}
			seen[m] = struct{}{}
		}
	}
	for m := range d.added {
		seen[m] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for m := range seen {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}
