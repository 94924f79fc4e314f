package alert

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const DefaultRecencyWindow = 24 * time.Hour

// Deduplicator folds repeated candidates into the most recent active alert
// with the same key instead of creating a new one.
type Deduplicator struct {
	repo   Repository
	window time.Duration
}

func NewDeduplicator(repo Repository, window time.Duration) *Deduplicator {
	if window <= 0 {
		window = DefaultRecencyWindow
	}
	return &Deduplicator{repo: repo, window: window}
}

// Reconcile stores cand. An active alert with the same key created within
// the recency window is merged and returned with created=false; otherwise a
// new alert is created. Resolved alerts are never matched.
func (d *Deduplicator) Reconcile(ctx context.Context, cand Candidate, now time.Time) (*Alert, bool, error) {
	var (
		out     *Alert
		created bool
	)
	err := d.repo.WithinTx(ctx, func(ctx context.Context) error {
		existing, err := d.repo.FindRecentActive(ctx, cand.Key(), now.Add(-d.window))
		switch {
		case err == nil:
			existing.Merge(cand, now)
			if err := d.repo.Update(ctx, existing); err != nil {
				return fmt.Errorf("merge alert %s: %w", existing.ID, err)
			}
			out = existing
			return nil
		case !errors.Is(err, ErrNotFound):
			return fmt.Errorf("find alert %s: %w", cand.Key(), err)
		}

		a := NewAlert(cand, now)
		if err := d.repo.Create(ctx, a); err != nil {
			return fmt.Errorf("create alert %s: %w", cand.Key(), err)
		}
		out, created = a, true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, created, nil
}
