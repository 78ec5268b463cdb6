package links

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrSnakeDoc/snip/internal/errx"
	"github.com/MrSnakeDoc/snip/internal/identity"
	"github.com/MrSnakeDoc/snip/internal/kv"
	"github.com/MrSnakeDoc/snip/internal/logger"
)

// DeleteLinks deletes every id owned by seed. Each id runs in its own transaction and
// reports its own outcome, results are in input order. Only an invalid seed or an empty
// batch fails the call as a whole.
func (s *Service) DeleteLinks(ctx context.Context, ids []string, seed string) ([]DeleteResult, error) {
	const op = "links.Service.DeleteLinks"

	if err := identity.ValidateSeed(seed); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, errx.E(op, errx.Invalid, ErrNoIDs)
	}

	results := make([]DeleteResult, len(ids))
	var g errgroup.Group
	g.SetLimit(s.concurrency)

	for i, id := range ids {
		g.Go(func() error {
			results[i] = s.deleteOne(ctx, id, seed)
			return nil
		})
	}
	_ = g.Wait()

	return results, nil
}

func (s *Service) deleteOne(ctx context.Context, id, seed string) DeleteResult {
	const op = "links.Service.deleteOne"

	res := DeleteResult{ShortID: id}
	if err := validateID(op, id); err != nil {
		res.Reason = ReasonNotFound
		return res
	}

	var lapsed bool
	err := s.tx.Run(ctx, func(ctx context.Context, tx kv.Tx) error {
		lapsed = false
		owned, err := tx.SIsMember(ctx, ownerKey(seed), id)
		if err != nil {
			return err
		}
		if !owned {
			return errx.E(op, errx.Unauthorized, ErrUnauthorized)
		}

		r, err := readRecord(ctx, tx, id)
		if err != nil {
			return err
		}
		now := s.now()
		if !r.live(now) {
			// The owner still lists an id that expired or was soft deleted. Hard mode
			// clears the leftovers in the same commit, the caller still sees not_found.
			lapsed = true
			if s.deleteMode == DeleteSoft {
				return nil
			}
			return purgeLapsed(ctx, tx, id, seed)
		}

		if s.deleteMode == DeleteSoft {
			return s.softDelete(ctx, tx, id, r, now)
		}
		return hardDelete(ctx, tx, id, seed, r)
	})

	switch {
	case err == nil && lapsed:
		res.Reason = ReasonNotFound
	case err == nil:
		res.Success = true
		s.log.Debug("link deleted", logger.String("short_id", id), logger.String("mode", string(s.deleteMode)))
	case errors.Is(err, ErrUnauthorized):
		res.Reason = ReasonUnauthorized
	case errors.Is(err, ErrNotFound):
		res.Reason = ReasonNotFound
	default:
		res.Reason = ReasonDeletionFailed
		s.log.Error("link deletion failed", logger.String("short_id", id), logger.Error(err))
	}
	return res
}

func hardDelete(ctx context.Context, tx kv.Tx, id, seed string, r record) error {
	dedupSet := AnonymousSet
	if r.meta.Authenticated {
		dedupSet = AuthenticatedSet
	}
	if err := tx.SRem(ctx, dedupSet, member(id, r.value)); err != nil {
		return err
	}
	if !r.meta.Authenticated {
		if err := tx.Del(ctx, targetKey(r.value)); err != nil {
			return err
		}
	}
	for _, key := range []string{metaKey(id), expiresKey(id), valueKey(id)} {
		if err := tx.Del(ctx, key); err != nil {
			return err
		}
	}
	return tx.SRem(ctx, ownerKey(seed), id)
}

// purgeLapsed drops what a lapsed owned link leaves behind. Its value may be gone
// already, so the authenticated_urls row is matched on the id prefix.
func purgeLapsed(ctx context.Context, tx kv.Tx, id, seed string) error {
	members, err := tx.SMembers(ctx, AuthenticatedSet)
	if err != nil {
		return err
	}
	prefix := id + memberSep
	for _, m := range members {
		if !strings.HasPrefix(m, prefix) {
			continue
		}
		if err := tx.SRem(ctx, AuthenticatedSet, m); err != nil {
			return err
		}
	}
	for _, key := range []string{metaKey(id), expiresKey(id), valueKey(id)} {
		if err := tx.Del(ctx, key); err != nil {
			return err
		}
	}
	return tx.SRem(ctx, ownerKey(seed), id)
}

// softDelete flags the metadata and keeps the value and ownership entry. The flagged
// metadata keeps the link's remaining lifetime.
func (s *Service) softDelete(ctx context.Context, tx kv.Tx, id string, r record, now time.Time) error {
	meta := r.meta
	at := now.UTC().Truncate(time.Millisecond)
	meta.Deleted = true
	meta.DeletedAt = &at

	raw, err := encodeMeta(meta)
	if err != nil {
		return err
	}
	var ttl time.Duration
	if r.expiresAt != nil {
		ttl = r.expiresAt.Sub(now)
	}
	if err := tx.Set(ctx, metaKey(id), raw, ttl); err != nil {
		return err
	}

	dedupSet := AnonymousSet
	if meta.Authenticated {
		dedupSet = AuthenticatedSet
	}
	return tx.SRem(ctx, dedupSet, member(id, r.value))
}
