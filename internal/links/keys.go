package links

import (
	"crypto/sha256"
	"encoding/hex"
)

// Key layout shared by every backend:
//
//	<id>                  stored target (plaintext or ciphertext)
//	url:<id>:meta         JSON Meta
//	<id>:expires          expiry timestamp, only for links with a ttl
//	anonymous_urls        set of "<id>::<target>" for anonymous links
//	authenticated_urls    set of "<id>::<ciphertext>" for owned links
//	token:<seed>:urls     set of ids owned by seed
//	anon:target:<sha256>  id of the live anonymous link for a target
const (
	AnonymousSet     = "anonymous_urls"
	AuthenticatedSet = "authenticated_urls"

	memberSep = "::"
)

func valueKey(id string) string   { return id }
func metaKey(id string) string    { return "url:" + id + ":meta" }
func expiresKey(id string) string { return id + ":expires" }
func ownerKey(seed string) string { return "token:" + seed + ":urls" }

func targetKey(target string) string {
	sum := sha256.Sum256([]byte(target))
	return "anon:target:" + hex.EncodeToString(sum[:])
}

func member(id, target string) string { return id + memberSep + target }
