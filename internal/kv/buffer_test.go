package kv

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBuffer_LookupOverlay(t *testing.T) {
	b := NewBuffer()

	_, _, known := b.Lookup("a")
	assert.False(t, known, "untouched key must defer to the backend")

	b.Set("a", "1", time.Minute)
	v, found, known := b.Lookup("a")
	assert.True(t, known)
	assert.True(t, found)
	assert.Equal(t, "1", v)

	b.Del("a")
	_, found, known = b.Lookup("a")
	assert.True(t, known)
	assert.False(t, found)

	assert.Len(t, b.Ops(), 2)
	assert.Equal(t, OpSet, b.Ops()[0].Kind)
	assert.Equal(t, time.Minute, b.Ops()[0].TTL)
	assert.Equal(t, OpDel, b.Ops()[1].Kind)
}

func TestBuffer_Members(t *testing.T) {
	tests := []struct {
		name      string
		apply     func(b *Buffer)
		committed []string
		want      []string
	}{
		{
			name:      "untouched passes through",
			apply:     func(b *Buffer) {},
			committed: []string{"x", "y"},
			want:      []string{"x", "y"},
		},
		{
			name: "add and remove",
			apply: func(b *Buffer) {
				b.SAdd("s", "z")
				b.SRem("s", "x")
			},
			committed: []string{"x", "y"},
			want:      []string{"y", "z"},
		},
		{
			name: "del clears committed members",
			apply: func(b *Buffer) {
				b.Del("s")
				b.SAdd("s", "n")
			},
			committed: []string{"x", "y"},
			want:      []string{"n"},
		},
		{
			name: "remove then re-add",
			apply: func(b *Buffer) {
				b.SRem("s", "x")
				b.SAdd("s", "x")
			},
			committed: []string{"x"},
			want:      []string{"x"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBuffer()
			tt.apply(b)
			assert.ElementsMatch(t, tt.want, b.Members("s", tt.committed))
		})
	}
}

func TestBuffer_Member(t *testing.T) {
	b := NewBuffer()

	_, known := b.Member("s", "x")
	assert.False(t, known)

	b.SAdd("s", "x")
	is, known := b.Member("s", "x")
	assert.True(t, known)
	assert.True(t, is)

	_, known = b.Member("s", "other")
	assert.False(t, known, "members not touched in a non-cleared set need the backend")

	b.Del("s")
	is, known = b.Member("s", "other")
	assert.True(t, known)
	assert.False(t, is)

	b.Reset()
	assert.Zero(t, b.Len())
}

func TestExpiresAt(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	assert.True(t, ExpiresAt(now, 0).IsZero())
	assert.True(t, ExpiresAt(now, -time.Second).IsZero())
	assert.Equal(t, now.Add(time.Hour), ExpiresAt(now, time.Hour))
}
