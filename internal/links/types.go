package links

import (
	"errors"
	"time"

	"github.com/MrSnakeDoc/snip/internal/identity"
)

var (
	ErrInvalidToken   = identity.ErrInvalidToken
	ErrInvalidSeed    = identity.ErrInvalidSeed
	ErrSeedRequired   = errors.New("seed is required")
	ErrNotFound       = errors.New("url not found")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrDeletionFailed = errors.New("deletion failed")
	ErrInvalidTarget  = errors.New("invalid target url")
	ErrNoIDs          = errors.New("shortIds must be a non-empty list")
)

// Meta is stored as JSON under url:<id>:meta.
type Meta struct {
	Authenticated bool       `json:"authenticated"`
	Deleted       bool       `json:"deleted,omitempty"`
	DeletedAt     *time.Time `json:"deletedAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
}

// Link is what the lifecycle operations hand back to the API boundary.
type Link struct {
	// ─────────────────────────────
	// Identity (immutable)
	// ─────────────────────────────

	// ShortID is the public identifier.
	// Example: V1StGXR8
	ShortID string

	// Authenticated is true for owned links.
	// Their Target is ciphertext and reads need the owner's seed.
	Authenticated bool

	// ─────────────────────────────
	// Payload
	// ─────────────────────────────

	// Target is the plaintext URL for anonymous links and "ivhex:cthex" for owned ones.
	Target string

	// ExpiresAt is nil for links that never expire.
	ExpiresAt *time.Time

	// CreatedAt is zero for records written without metadata.
	CreatedAt time.Time

	// ─────────────────────────────
	// Target-facing URLs
	// ─────────────────────────────

	// FullURL is <base>/<id>.
	FullURL string

	// DeleteProxyURL is <base>/delete-proxy?id=<id>.
	DeleteProxyURL string
}

// CreateRequest describes a new link.
//
// Token, Seed, or neither may be set:
//   - Token: the target is plaintext and is encrypted under the token.
//   - Seed only: the caller encrypted the target already, it must be ciphertext.
//   - neither: the link is anonymous and deduplicated by target.
//
// When both are set, Seed must be the token's seed.
type CreateRequest struct {
	Target string
	Token  string
	Seed   string
	TTL    time.Duration // <= 0 means forever
}

// Reason explains a failed item in a delete batch.
type Reason string

const (
	ReasonUnauthorized   Reason = "Unauthorized"
	ReasonNotFound       Reason = "NotFound"
	ReasonDeletionFailed Reason = "DeletionFailed"
)

// DeleteResult is the outcome for one id of a delete batch.
type DeleteResult struct {
	ShortID string
	Success bool
	Reason  Reason // empty on success
}

// DeleteMode selects what deletion leaves behind.
type DeleteMode string

const (
	// DeleteHard removes the value, metadata, expiry marker and every set membership.
	DeleteHard DeleteMode = "hard"
	// DeleteSoft flags the metadata as deleted and drops the link from the dedup set,
	// keeping the value and ownership entry.
	DeleteSoft DeleteMode = "soft"
)
