package users

import (
	"context"
	"fmt"
)

func (s *Service) recountLocal(ctx context.Context, id string) error {
	stats, err := s.store.ComputeLocalStats(ctx, id)
	if err != nil {
		return err
	}
	return s.store.UpdateIdentityStats(ctx, id, stats)
}

// CalculateStats recounts the profile counters of every local identity
// immediately and returns how many were updated.
func (s *Service) CalculateStats(ctx context.Context) (int, error) {
	ids, err := s.store.LocalIdentityIDs(ctx)
	if err != nil {
		return 0, err
	}
	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		if err := s.recountLocal(ctx, id); err != nil {
			return i, fmt.Errorf("recount %s: %w", id, err)
		}
	}
	s.logger.Info("identity stats recalculated", "identities", len(ids))
	return len(ids), nil
}
