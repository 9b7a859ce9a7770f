package users

import (
	"context"
	"fmt"
	"time"

	"github.com/avaraline/incarnator/internal/models"
	"github.com/avaraline/incarnator/internal/stator"
	"github.com/avaraline/incarnator/internal/store"
)

type blockParties struct {
	block  models.Block
	source models.Identity
	target models.Identity
}

func (s *Service) loadBlock(ctx context.Context, id string) (blockParties, error) {
	b, err := s.store.GetBlock(ctx, id)
	if err != nil {
		return blockParties{}, err
	}
	source, err := s.store.GetIdentity(ctx, b.SourceID)
	if err != nil {
		return blockParties{}, err
	}
	target, err := s.store.GetIdentity(ctx, b.TargetID)
	if err != nil {
		return blockParties{}, err
	}
	return blockParties{block: b, source: source, target: target}, nil
}

// announced reports whether the block is one a remote target is told about.
func (p blockParties) announced() bool {
	return !p.block.Mute && p.source.Local && !p.target.Local
}

// handleBlockNew clears the target out of the source's timeline (home
// timeline only for mutes that leave notifications alone) and announces
// blocks to remote targets. Expiring blocks and mutes then wait
// for their expiry.
func (s *Service) handleBlockNew(ctx context.Context, id string) (stator.Outcome, error) {
	p, err := s.loadBlock(ctx, id)
	if err != nil {
		return stator.NoChange, err
	}

	filter := store.TimelineFilter{IdentityID: p.source.ID, SubjectIdentityID: p.target.ID}
	if p.block.Mute && !p.block.IncludeNotifications {
		filter.Types = []string{models.TimelinePost, models.TimelineBoost}
	}
	if _, err := s.store.DeleteTimelineEvents(ctx, filter); err != nil {
		return stator.NoChange, err
	}

	if p.announced() {
		done, err := s.deliver(ctx, p.target.DeliveryInbox(),
			blockActivity(p.block, p.source, p.target), "block_id", id)
		if err != nil || !done {
			return stator.NoChange, err
		}
	}

	if !p.block.Expires.IsZero() {
		return stator.TransitionTo(models.BlockAwaitingExpiry), nil
	}
	return stator.TransitionTo(models.BlockSent), nil
}

func (s *Service) handleBlockAwaitingExpiry(ctx context.Context, id string) (stator.Outcome, error) {
	b, err := s.store.GetBlock(ctx, id)
	if err != nil {
		return stator.NoChange, err
	}
	if s.now().Before(b.Expires) {
		return stator.Defer, nil
	}
	s.logger.Info("block expired", "block_id", id, "mute", b.Mute)
	return stator.TransitionTo(models.BlockUndone), nil
}

func (s *Service) handleBlockUndone(ctx context.Context, id string) (stator.Outcome, error) {
	p, err := s.loadBlock(ctx, id)
	if err != nil {
		return stator.NoChange, err
	}
	if p.announced() {
		block := blockActivity(p.block, p.source, p.target)
		done, err := s.deliver(ctx, p.target.DeliveryInbox(), undoActivity(p.source, block), "block_id", id)
		if err != nil || !done {
			return stator.NoChange, err
		}
	}
	return stator.TransitionTo(models.BlockUndoneSent), nil
}

// Block makes sourceID block targetID. Any follow between the two is ended
// in both directions. An existing block is returned as is.
func (s *Service) Block(ctx context.Context, sourceID, targetID string) (models.Block, error) {
	if sourceID == targetID {
		return models.Block{}, fmt.Errorf("block %s: %w", sourceID, ErrSelfRelation)
	}
	if _, err := s.store.GetIdentity(ctx, targetID); err != nil {
		return models.Block{}, err
	}
	if err := s.Unfollow(ctx, sourceID, targetID); err != nil {
		return models.Block{}, err
	}
	if err := s.RejectFollowRequest(ctx, targetID, sourceID); err != nil {
		return models.Block{}, err
	}

	existing, err := s.store.FindBlocks(ctx, sourceID, targetID, false, models.BlockActiveStates)
	if err != nil {
		return models.Block{}, err
	}
	if len(existing) > 0 {
		return existing[0], nil
	}

	b := models.Block{SourceID: sourceID, TargetID: targetID}
	if err := s.store.CreateBlock(ctx, &b, s.now()); err != nil {
		return models.Block{}, err
	}
	s.logger.Info("identity blocked", "block_id", b.ID, "source_id", sourceID, "target_id", targetID)
	return b, nil
}

// Unblock lifts sourceID's blocks of targetID.
func (s *Service) Unblock(ctx context.Context, sourceID, targetID string) error {
	return s.undoBlocks(ctx, sourceID, targetID, false)
}

// Mute hides targetID's posts from sourceID, and its notifications too when
// includeNotifications is set. A positive duration makes the mute expire.
// An existing mute is replaced.
func (s *Service) Mute(ctx context.Context, sourceID, targetID string, duration time.Duration, includeNotifications bool) (models.Block, error) {
	if sourceID == targetID {
		return models.Block{}, fmt.Errorf("mute %s: %w", sourceID, ErrSelfRelation)
	}
	if _, err := s.store.GetIdentity(ctx, targetID); err != nil {
		return models.Block{}, err
	}
	if err := s.undoBlocks(ctx, sourceID, targetID, true); err != nil {
		return models.Block{}, err
	}

	now := s.now()
	b := models.Block{
		SourceID:             sourceID,
		TargetID:             targetID,
		Mute:                 true,
		IncludeNotifications: includeNotifications,
	}
	if duration > 0 {
		b.Expires = now.Add(duration)
	}
	if err := s.store.CreateBlock(ctx, &b, now); err != nil {
		return models.Block{}, err
	}
	s.logger.Info("identity muted", "block_id", b.ID, "source_id", sourceID, "target_id", targetID,
		"expires", b.Expires)
	return b, nil
}

// Unmute lifts sourceID's mutes of targetID.
func (s *Service) Unmute(ctx context.Context, sourceID, targetID string) error {
	return s.undoBlocks(ctx, sourceID, targetID, true)
}

func (s *Service) undoBlocks(ctx context.Context, sourceID, targetID string, mute bool) error {
	active, err := s.store.FindBlocks(ctx, sourceID, targetID, mute, models.BlockActiveStates)
	if err != nil {
		return err
	}
	for _, b := range active {
		if err := stator.Perform(ctx, s.store, s.blocks, b.ID, models.BlockUndone, s.now()); err != nil {
			return err
		}
	}
	return nil
}
