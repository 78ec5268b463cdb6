package links

import (
	"context"
	"errors"
	"time"

	"github.com/MrSnakeDoc/snip/internal/errx"
	"github.com/MrSnakeDoc/snip/internal/identity"
	"github.com/MrSnakeDoc/snip/internal/kv"
	"github.com/MrSnakeDoc/snip/internal/logger"
)

// CreateLink stores a new link, or returns the live one for an anonymous target that was
// shortened before.
func (s *Service) CreateLink(ctx context.Context, req CreateRequest) (*Link, error) {
	const op = "links.Service.CreateLink"

	stored, seed, err := s.prepare(op, req)
	if err != nil {
		return nil, err
	}

	id, err := s.newID(s.idLen)
	if err != nil {
		return nil, errx.E(op, errx.Internal, err)
	}

	now := s.now().UTC()
	meta := Meta{Authenticated: seed != "", CreatedAt: now.Truncate(time.Millisecond)}
	var expiresAt *time.Time
	if req.TTL > 0 {
		t := kv.ExpiresAt(now, req.TTL).Truncate(time.Millisecond)
		expiresAt = &t
	}
	metaJSON, err := encodeMeta(meta)
	if err != nil {
		return nil, errx.E(op, errx.Internal, err)
	}

	var out *Link
	err = s.tx.Run(ctx, func(ctx context.Context, tx kv.Tx) error {
		out = nil

		if seed == "" {
			existing, err := s.findAnonymous(ctx, tx, req.Target, now)
			if err != nil {
				return err
			}
			if existing != nil {
				out = existing
				return nil
			}
		}

		if err := tx.Set(ctx, metaKey(id), metaJSON, req.TTL); err != nil {
			return err
		}
		if seed == "" {
			if err := tx.SAdd(ctx, AnonymousSet, member(id, stored)); err != nil {
				return err
			}
			if err := tx.Set(ctx, targetKey(req.Target), id, req.TTL); err != nil {
				return err
			}
		} else {
			if err := tx.SAdd(ctx, AuthenticatedSet, member(id, stored)); err != nil {
				return err
			}
			if err := tx.SAdd(ctx, ownerKey(seed), id); err != nil {
				return err
			}
		}
		if err := tx.Set(ctx, valueKey(id), stored, req.TTL); err != nil {
			return err
		}
		if expiresAt != nil {
			if err := tx.Set(ctx, expiresKey(id), expiresAt.Format(expiryLayout), req.TTL); err != nil {
				return err
			}
		}

		out = s.link(id, stored, meta, expiresAt)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if out.ShortID == id {
		s.log.Debug("link created",
			logger.String("short_id", id),
			logger.Bool("authenticated", meta.Authenticated),
			logger.Bool("expires", expiresAt != nil))
	}
	return out, nil
}

// prepare validates req and returns the value to store plus the owner seed ("" for
// anonymous links).
func (s *Service) prepare(op string, req CreateRequest) (stored, seed string, err error) {
	switch {
	case req.Token != "":
		if err := identity.ValidateToken(req.Token); err != nil {
			return "", "", err
		}
		if err := validateTarget(op, req.Target); err != nil {
			return "", "", err
		}
		seed, err = s.Seed(req.Token)
		if err != nil {
			return "", "", err
		}
		if req.Seed != "" && req.Seed != seed {
			return "", "", errx.E(op, errx.Unauthorized, ErrInvalidSeed)
		}
		stored, err = identity.Encrypt(req.Target, req.Token)
		if err != nil {
			return "", "", err
		}
		return stored, seed, nil

	case req.Seed != "":
		if err := identity.ValidateSeed(req.Seed); err != nil {
			return "", "", err
		}
		if len(req.Target) > MaxTargetLength || !identity.IsCiphertext(req.Target) {
			return "", "", errx.E(op, errx.Invalid, ErrInvalidTarget)
		}
		return req.Target, req.Seed, nil

	default:
		if err := validateTarget(op, req.Target); err != nil {
			return "", "", err
		}
		return req.Target, "", nil
	}
}

// findAnonymous returns the live anonymous link already pointing at target, if any.
// The reverse index may outlive or predate the link, so the record is always re-checked.
func (s *Service) findAnonymous(ctx context.Context, ops kv.Ops, target string, now time.Time) (*Link, error) {
	id, err := ops.Get(ctx, targetKey(target))
	if errors.Is(err, kv.ErrNil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	r, err := readRecord(ctx, ops, id)
	if err != nil {
		return nil, err
	}
	if !r.live(now) || r.meta.Authenticated || r.value != target {
		return nil, nil
	}
	return s.link(id, r.value, r.meta, r.expiresAt), nil
}
