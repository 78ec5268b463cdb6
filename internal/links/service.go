// Package links implements the short link lifecycle on top of a kv.Store: creation with
// anonymous deduplication, owned (encrypted) links, retrieval, listing and deletion.
//
// The service only ever sees seeds for ownership checks. Raw tokens pass through
// CreateLink for encryption and are never stored.
package links

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/MrSnakeDoc/snip/internal/errx"
	"github.com/MrSnakeDoc/snip/internal/identity"
	"github.com/MrSnakeDoc/snip/internal/idgen"
	"github.com/MrSnakeDoc/snip/internal/kv"
	"github.com/MrSnakeDoc/snip/internal/logger"
	"github.com/MrSnakeDoc/snip/internal/retry"
	"github.com/MrSnakeDoc/snip/internal/txn"
)

const (
	// DefaultDeleteConcurrency bounds how many ids of one batch are deleted at once.
	DefaultDeleteConcurrency = 4

	// MaxTargetLength caps stored targets, plaintext or ciphertext.
	MaxTargetLength = 8192

	// expiryLayout matches the millisecond ISO form clients already parse.
	expiryLayout = "2006-01-02T15:04:05.000Z07:00"

	readRetryDelay = 50 * time.Millisecond
)

// Options configures a Service. Zero values fall back to defaults.
type Options struct {
	BaseURL           string // ex: "https://8l.wtf", no trailing slash
	ShortIDLength     int
	SeedMessage       string
	DeleteMode        DeleteMode
	DeleteConcurrency int
	Now               func() time.Time
	NewID             func(n int) (string, error)
}

// Service is the link lifecycle manager. It is safe for concurrent use.
type Service struct {
	tx  *txn.Coordinator
	log logger.Logger

	baseURL     string
	idLen       int
	seedMessage string
	deleteMode  DeleteMode
	concurrency int
	now         func() time.Time
	newID       func(n int) (string, error)
}

func NewService(tx *txn.Coordinator, opts Options, log logger.Logger) *Service {
	s := &Service{
		tx:          tx,
		log:         log,
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		idLen:       opts.ShortIDLength,
		seedMessage: opts.SeedMessage,
		deleteMode:  opts.DeleteMode,
		concurrency: opts.DeleteConcurrency,
		now:         opts.Now,
		newID:       opts.NewID,
	}
	if s.idLen <= 0 {
		s.idLen = idgen.DefaultLength
	}
	if s.seedMessage == "" {
		s.seedMessage = identity.SeedMessage
	}
	if s.deleteMode == "" {
		s.deleteMode = DeleteHard
	}
	if s.concurrency <= 0 {
		s.concurrency = DefaultDeleteConcurrency
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = idgen.ShortID
	}
	if s.log == nil {
		s.log = logger.NewNop()
	}
	return s
}

// Seed derives the ownership seed of token with the configured message.
func (s *Service) Seed(token string) (string, error) {
	return identity.DeriveSeedWithMessage(token, s.seedMessage)
}

// FullURL returns the public redirect URL of id.
func (s *Service) FullURL(id string) string {
	return s.baseURL + "/" + id
}

// DeleteProxyURL returns the URL a client follows to delete id.
func (s *Service) DeleteProxyURL(id string) string {
	return s.baseURL + "/delete-proxy?id=" + url.QueryEscape(id)
}

func (s *Service) link(id, target string, meta Meta, expiresAt *time.Time) *Link {
	return &Link{
		ShortID:        id,
		Authenticated:  meta.Authenticated,
		Target:         target,
		ExpiresAt:      expiresAt,
		CreatedAt:      meta.CreatedAt,
		FullURL:        s.FullURL(id),
		DeleteProxyURL: s.DeleteProxyURL(id),
	}
}

// readRetry runs a read-only transaction, retrying once when the store is unreachable.
func (s *Service) readRetry(ctx context.Context, op string, fn txn.Func) error {
	policy := retry.Policy{MaxRetries: 1, BaseDelay: readRetryDelay}
	return retry.Do(ctx, policy,
		func(err error) bool { return errx.KindOf(err) == errx.Unavailable },
		func(attempt int, err error, wait time.Duration) {
			s.log.Warn("store unavailable, retrying read",
				logger.String("op", op),
				logger.Duration("backoff", wait),
				logger.Error(err))
		},
		func(ctx context.Context) error { return s.tx.Run(ctx, fn) },
	)
}

// record is the decoded view of the three keys a link occupies.
type record struct {
	value     string
	found     bool
	meta      Meta
	expiresAt *time.Time
}

// readRecord fetches value, meta and expiry marker of id in one round trip.
func readRecord(ctx context.Context, ops kv.Ops, id string) (record, error) {
	vals, err := ops.GetMany(ctx, valueKey(id), metaKey(id), expiresKey(id))
	if err != nil {
		return record{}, err
	}
	return decodeRecord(id, vals)
}

func decodeRecord(id string, vals map[string]string) (record, error) {
	const op = "links.decodeRecord"

	var r record
	r.value, r.found = vals[valueKey(id)]

	// Records written without metadata are treated as anonymous.
	if raw, ok := vals[metaKey(id)]; ok {
		if err := json.Unmarshal([]byte(raw), &r.meta); err != nil {
			return record{}, errx.E(op, errx.Corrupt, fmt.Errorf("metadata of %s: %w", id, err))
		}
	}

	if raw, ok := vals[expiresKey(id)]; ok && raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return record{}, errx.E(op, errx.Corrupt, fmt.Errorf("expiry of %s: %w", id, err))
		}
		t = t.UTC()
		r.expiresAt = &t
	}
	return r, nil
}

// live reports whether r can be served at now. Expired markers are checked too so a
// backend with a lagging sweeper never resurrects a link.
func (r record) live(now time.Time) bool {
	if !r.found || r.meta.Deleted {
		return false
	}
	return r.expiresAt == nil || now.Before(*r.expiresAt)
}

func encodeMeta(m Meta) (string, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return string(b), nil
}

// validateTarget accepts absolute http(s) URLs only.
func validateTarget(op, target string) error {
	if target == "" || len(target) > MaxTargetLength {
		return errx.E(op, errx.Invalid, ErrInvalidTarget)
	}
	u, err := url.Parse(target)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return errx.E(op, errx.Invalid, ErrInvalidTarget)
	}
	return nil
}

// validateID rejects ids that could not have come from the generator.
func validateID(op, id string) error {
	if id == "" {
		return errx.E(op, errx.Invalid, errors.New("shortId is required"))
	}
	if len(id) > 64 || strings.ContainsAny(id, ":/ ") {
		return errx.E(op, errx.NotFound, ErrNotFound)
	}
	return nil
}

func notFound(op string) error {
	return errx.E(op, errx.NotFound, ErrNotFound)
}
