package users

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/avaraline/incarnator/internal/models"
	"github.com/avaraline/incarnator/internal/stator"
	"github.com/avaraline/incarnator/internal/store"
)

type followParties struct {
	follow models.Follow
	source models.Identity
	target models.Identity
}

func (s *Service) loadFollow(ctx context.Context, id string) (followParties, error) {
	f, err := s.store.GetFollow(ctx, id)
	if err != nil {
		return followParties{}, err
	}
	source, err := s.store.GetIdentity(ctx, f.SourceID)
	if err != nil {
		return followParties{}, err
	}
	target, err := s.store.GetIdentity(ctx, f.TargetID)
	if err != nil {
		return followParties{}, err
	}
	return followParties{follow: f, source: source, target: target}, nil
}

// handleFollowUnrequested sends the request. A remote target gets a Follow
// activity and answers later; a local one answers now, or files a follow
// request when it approves followers by hand.
func (s *Service) handleFollowUnrequested(ctx context.Context, id string) (stator.Outcome, error) {
	p, err := s.loadFollow(ctx, id)
	if err != nil {
		return stator.NoChange, err
	}

	if !p.target.Local {
		if !p.source.Local {
			s.logger.Warn("follow between two remote identities", "follow_id", id)
			return stator.TransitionTo(models.FollowUndone), nil
		}
		done, err := s.deliver(ctx, p.target.DeliveryInbox(),
			followActivity(p.follow, p.source, p.target), "follow_id", id)
		if err != nil || !done {
			return stator.NoChange, err
		}
		return stator.TransitionTo(models.FollowPendingApproval), nil
	}

	blocked, err := s.store.FindBlocks(ctx, p.target.ID, p.source.ID, false, models.BlockActiveStates)
	if err != nil {
		return stator.NoChange, err
	}
	if len(blocked) > 0 {
		return stator.TransitionTo(models.FollowRejecting), nil
	}
	if !p.target.ManuallyApproves {
		return stator.TransitionTo(models.FollowAccepting), nil
	}

	created, err := s.store.AddTimelineEvent(ctx, &models.TimelineEvent{
		IdentityID:        p.target.ID,
		Type:              models.TimelineFollowRequested,
		SubjectIdentityID: p.source.ID,
	}, s.now())
	if err != nil {
		return stator.NoChange, err
	}
	if created {
		if err := s.notify(ctx, p.target, models.PushFollowRequest, p.source); err != nil {
			return stator.NoChange, err
		}
	}
	return stator.TransitionTo(models.FollowPendingApproval), nil
}

// handleFollowAccepting tells a remote source its request was accepted and
// gives a local target its "followed" notification.
func (s *Service) handleFollowAccepting(ctx context.Context, id string) (stator.Outcome, error) {
	p, err := s.loadFollow(ctx, id)
	if err != nil {
		return stator.NoChange, err
	}
	if !p.source.Local {
		done, err := s.deliver(ctx, p.source.DeliveryInbox(),
			answerActivity("Accept", p.follow, p.source, p.target), "follow_id", id)
		if err != nil || !done {
			return stator.NoChange, err
		}
	}

	if p.target.Local {
		if err := s.clearRelationEvents(ctx, p.target.ID, p.source.ID, models.TimelineFollowRequested); err != nil {
			return stator.NoChange, err
		}
		created, err := s.store.AddTimelineEvent(ctx, &models.TimelineEvent{
			IdentityID:        p.target.ID,
			Type:              models.TimelineFollowed,
			SubjectIdentityID: p.source.ID,
		}, s.now())
		if err != nil {
			return stator.NoChange, err
		}
		if created {
			if err := s.notify(ctx, p.target, models.PushFollow, p.source); err != nil {
				return stator.NoChange, err
			}
		}
	}
	s.logger.Info("follow accepted", "follow_id", id, "source_id", p.source.ID, "target_id", p.target.ID)
	return stator.TransitionTo(models.FollowAccepted), nil
}

func (s *Service) handleFollowRejecting(ctx context.Context, id string) (stator.Outcome, error) {
	p, err := s.loadFollow(ctx, id)
	if err != nil {
		return stator.NoChange, err
	}
	if !p.source.Local {
		done, err := s.deliver(ctx, p.source.DeliveryInbox(),
			answerActivity("Reject", p.follow, p.source, p.target), "follow_id", id)
		if err != nil || !done {
			return stator.NoChange, err
		}
	}
	if err := s.clearRelationEvents(ctx, p.target.ID, p.source.ID,
		models.TimelineFollowRequested, models.TimelineFollowed); err != nil {
		return stator.NoChange, err
	}
	return stator.TransitionTo(models.FollowRejected), nil
}

// handleFollowUndone tells a remote target the follow is withdrawn.
func (s *Service) handleFollowUndone(ctx context.Context, id string) (stator.Outcome, error) {
	p, err := s.loadFollow(ctx, id)
	if err != nil {
		return stator.NoChange, err
	}
	if p.source.Local && !p.target.Local {
		follow := followActivity(p.follow, p.source, p.target)
		done, err := s.deliver(ctx, p.target.DeliveryInbox(), undoActivity(p.source, follow), "follow_id", id)
		if err != nil || !done {
			return stator.NoChange, err
		}
	}
	return stator.TransitionTo(models.FollowPendingRemoval), nil
}

func (s *Service) handleFollowPendingRemoval(ctx context.Context, id string) (stator.Outcome, error) {
	f, err := s.store.GetFollow(ctx, id)
	if err != nil {
		return stator.NoChange, err
	}
	if err := s.clearRelationEvents(ctx, f.TargetID, f.SourceID,
		models.TimelineFollowRequested, models.TimelineFollowed); err != nil {
		return stator.NoChange, err
	}
	return stator.TransitionTo(models.FollowRemoved), nil
}

// clearRelationEvents removes identityID's notifications of types about
// subjectID.
func (s *Service) clearRelationEvents(ctx context.Context, identityID, subjectID string, types ...string) error {
	_, err := s.store.DeleteTimelineEvents(ctx, store.TimelineFilter{
		IdentityID:        identityID,
		Types:             types,
		SubjectIdentityID: subjectID,
	})
	return err
}

// Follow makes sourceID follow targetID. An existing request or follow is
// returned as is; one that ended is replaced.
func (s *Service) Follow(ctx context.Context, sourceID, targetID string, boosts, notify bool) (models.Follow, error) {
	if sourceID == targetID {
		return models.Follow{}, fmt.Errorf("follow %s: %w", sourceID, ErrSelfRelation)
	}
	if _, err := s.store.GetIdentity(ctx, targetID); err != nil {
		return models.Follow{}, err
	}

	existing, err := s.store.GetFollowBetween(ctx, sourceID, targetID)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return models.Follow{}, err
	case existing.State == models.FollowRejected || existing.State == models.FollowRemoved:
		if err := s.store.DeleteEntity(ctx, store.TableFollows, existing.ID); err != nil {
			return models.Follow{}, err
		}
	case existing.State == models.FollowRejecting || existing.State == models.FollowUndone ||
		existing.State == models.FollowPendingRemoval:
		return models.Follow{}, fmt.Errorf("follow %s is %s: %w", existing.ID, existing.State, stator.ErrConflict)
	default:
		return existing, nil
	}

	f := models.Follow{SourceID: sourceID, TargetID: targetID, Boosts: boosts, Notify: notify}
	if err := s.store.CreateFollow(ctx, &f, s.now()); err != nil {
		return models.Follow{}, err
	}
	s.logger.Info("follow requested", "follow_id", f.ID, "source_id", sourceID, "target_id", targetID)
	return f, nil
}

// Unfollow withdraws sourceID's follow or follow request of targetID. It
// is a no-op when there is nothing to withdraw.
func (s *Service) Unfollow(ctx context.Context, sourceID, targetID string) error {
	f, err := s.store.GetFollowBetween(ctx, sourceID, targetID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !s.follows.Graph().CanTransition(f.State, models.FollowUndone) {
		return nil
	}
	return stator.Perform(ctx, s.store, s.follows, f.ID, models.FollowUndone, s.now())
}

// AcceptFollowRequest accepts sourceID's request to follow targetID, or
// records a remote target's acceptance. Returns store.ErrNotFound when
// there is no such follow.
func (s *Service) AcceptFollowRequest(ctx context.Context, sourceID, targetID string) error {
	f, err := s.store.GetFollowBetween(ctx, sourceID, targetID)
	if err != nil {
		return err
	}
	if slices.Contains(models.FollowActiveStates, f.State) {
		return nil
	}
	if !slices.Contains(models.FollowRequestStates, f.State) {
		return fmt.Errorf("follow %s is %s: %w", f.ID, f.State, stator.ErrConflict)
	}
	return stator.Perform(ctx, s.store, s.follows, f.ID, models.FollowAccepting, s.now())
}

// RejectFollowRequest turns down sourceID's request to follow targetID, or
// removes sourceID from targetID's followers. It is a no-op when sourceID
// neither follows nor asked to.
func (s *Service) RejectFollowRequest(ctx context.Context, sourceID, targetID string) error {
	f, err := s.store.GetFollowBetween(ctx, sourceID, targetID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !s.follows.Graph().CanTransition(f.State, models.FollowRejecting) {
		return nil
	}
	return stator.Perform(ctx, s.store, s.follows, f.ID, models.FollowRejecting, s.now())
}
