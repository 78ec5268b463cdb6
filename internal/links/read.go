package links

import (
	"context"
	"errors"
	"sort"

	"github.com/MrSnakeDoc/snip/internal/errx"
	"github.com/MrSnakeDoc/snip/internal/identity"
	"github.com/MrSnakeDoc/snip/internal/kv"
)

// GetLink resolves id. Owned links need the owner's seed; a wrong seed and a missing
// link are both reported as ErrNotFound. Owned targets are returned as ciphertext.
func (s *Service) GetLink(ctx context.Context, id, seed string) (*Link, error) {
	const op = "links.Service.GetLink"

	if err := validateID(op, id); err != nil {
		return nil, err
	}

	var out *Link
	err := s.readRetry(ctx, op, func(ctx context.Context, tx kv.Tx) error {
		r, err := readRecord(ctx, tx, id)
		if err != nil {
			return err
		}
		if !r.live(s.now()) {
			return notFound(op)
		}

		if r.meta.Authenticated {
			if seed == "" {
				return errx.E(op, errx.Invalid, ErrSeedRequired)
			}
			if err := identity.ValidateSeed(seed); err != nil {
				return err
			}
			owned, err := tx.SIsMember(ctx, ownerKey(seed), id)
			if err != nil {
				return err
			}
			if !owned {
				return notFound(op)
			}
		}

		out = s.link(id, r.value, r.meta, r.expiresAt)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListLinks returns the live links owned by seed, newest first.
func (s *Service) ListLinks(ctx context.Context, seed string) ([]*Link, error) {
	const op = "links.Service.ListLinks"

	if err := identity.ValidateSeed(seed); err != nil {
		return nil, err
	}

	var out []*Link
	err := s.readRetry(ctx, op, func(ctx context.Context, tx kv.Tx) error {
		out = nil

		ids, err := tx.SMembers(ctx, ownerKey(seed))
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}

		keys := make([]string, 0, 3*len(ids))
		for _, id := range ids {
			keys = append(keys, valueKey(id), metaKey(id), expiresKey(id))
		}
		vals, err := tx.GetMany(ctx, keys...)
		if err != nil {
			return err
		}

		now := s.now()
		out = make([]*Link, 0, len(ids))
		for _, id := range ids {
			r, err := decodeRecord(id, vals)
			if errx.KindOf(err) == errx.Corrupt {
				// One broken record must not hide the rest of the owner's links.
				s.log.Warnf("skipping corrupt link %s: %v", id, err)
				continue
			}
			if err != nil {
				return err
			}
			if !r.live(now) || !r.meta.Authenticated {
				continue
			}
			out = append(out, s.link(id, r.value, r.meta, r.expiresAt))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ShortID < out[j].ShortID
	})
	return out, nil
}

// IsNotFound reports whether err means the link is absent or not visible to the caller.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
