// Package idgen produces short link identifiers and owner tokens.
package idgen

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/MrSnakeDoc/snip/internal/identity"
)

// DefaultLength is the number of characters in a short id.
const DefaultLength = 8

// ShortID returns a URL-safe nanoid of length n.
func ShortID(n int) (string, error) {
	if n <= 0 {
		n = DefaultLength
	}
	id, err := gonanoid.New(n)
	if err != nil {
		return "", fmt.Errorf("idgen: short id: %w", err)
	}
	return id, nil
}

// Token returns a fresh owner token: identity.TokenBytes random bytes in lowercase hex.
func Token() (string, error) {
	b := make([]byte, identity.TokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("idgen: token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
