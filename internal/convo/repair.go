package convo

import (
	"context"
	"errors"
)

// RepairStats summarizes one reconciliation pass.
type RepairStats struct {
	RefsScanned      int
	PreviewsRepaired int
}

// Changed reports whether the pass rewrote anything.
func (s RepairStats) Changed() bool {
	return s.PreviewsRepaired > 0
}

// Repair walks every registered user's conversation list and re-derives each
// preview from the authoritative message log: a ref whose preview drifted
// from the last log entry (crash between the dual preview writes) is
// rewritten in place. Repair only touches refs that are present. A one-sided
// deletion is permanent, so an entry missing from a list is not drift and is
// never recreated. The pass is idempotent.
func (s *Service) Repair(ctx context.Context) (RepairStats, error) {
	var stats RepairStats

	users, err := s.AllUsers(ctx)
	if errors.Is(err, ErrNotFound) {
		return stats, nil
	}
	if err != nil {
		return stats, err
	}

	for _, u := range users {
		doc, exists, err := s.store.ReadOnce(ctx, listPath(u.Email))
		if err != nil {
			return stats, err
		}
		if !exists {
			continue
		}
		for _, ref := range decodeRefList(doc) {
			stats.RefsScanned++

			logRaw, exists, err := s.store.ReadOnce(ctx, msgLogPath(ref.ID))
			if err != nil {
				return stats, err
			}
			if !exists {
				// Ref to a log that was never written; nothing authoritative
				// to repair from.
				continue
			}
			msgs := decodeLog(logRaw)
			if len(msgs) == 0 {
				continue
			}
			want := previewOf(msgs[len(msgs)-1])

			if !samePreview(ref.Latest, want) {
				fixed := ref
				fixed.Latest = want
				if err := s.upsertRef(ctx, u.Email, ref.ID, refToDoc(fixed)); err != nil {
					return stats, err
				}
				stats.PreviewsRepaired++
			}
		}
	}
	return stats, nil
}

func samePreview(a, b LatestMessage) bool {
	return a.SentAt.UnixMilli() == b.SentAt.UnixMilli() && a.Body == b.Body && a.IsRead == b.IsRead
}
