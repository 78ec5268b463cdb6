package idgen

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrSnakeDoc/snip/internal/identity"
)

var shortIDRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

func TestShortID(t *testing.T) {
	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		id, err := ShortID(DefaultLength)
		require.NoError(t, err)
		assert.Len(t, id, DefaultLength)
		assert.Regexp(t, shortIDRe, id)
		seen[id] = struct{}{}
	}
	assert.Len(t, seen, 1000)

	id, err := ShortID(0)
	require.NoError(t, err)
	assert.Len(t, id, DefaultLength)
}

func TestToken(t *testing.T) {
	tok, err := Token()
	require.NoError(t, err)
	require.NoError(t, identity.ValidateToken(tok))

	other, err := Token()
	require.NoError(t, err)
	assert.NotEqual(t, tok, other)
}
