package activities

import (
	"context"
	"errors"
	"slices"

	"github.com/avaraline/incarnator/internal/models"
	"github.com/avaraline/incarnator/internal/remote"
	"github.com/avaraline/incarnator/internal/stator"
	"github.com/avaraline/incarnator/internal/store"
)

var (
	sent    = stator.TransitionTo(models.FanOutSent)
	skipped = stator.TransitionTo(models.FanOutSkipped)
	failed  = stator.TransitionTo(models.FanOutFailed)
)

func (s *Service) handleFanOutNew(ctx context.Context, id string) (stator.Outcome, error) {
	f, err := s.store.GetFanOut(ctx, id)
	if err != nil {
		return stator.NoChange, err
	}
	target, err := s.store.GetIdentity(ctx, f.IdentityID)
	if err != nil {
		return stator.NoChange, err
	}

	var outcome stator.Outcome
	if target.Local {
		outcome, err = s.deliverLocal(ctx, f, target)
	} else {
		outcome, err = s.deliverRemote(ctx, f, target)
	}
	// A subject deleted since the fan-out was created has nothing to deliver.
	if errors.Is(err, store.ErrNotFound) {
		s.logger.Debug("fan-out subject gone", "fan_out_id", id, "error", err)
		return skipped, nil
	}
	return outcome, err
}

func (s *Service) deliverRemote(ctx context.Context, f models.FanOut, target models.Identity) (stator.Outcome, error) {
	inbox := f.Inbox
	if inbox == "" {
		inbox = target.DeliveryInbox()
	}
	if inbox == "" {
		return skipped, nil
	}
	if s.deliverer == nil {
		s.logger.Warn("no deliverer configured, dropping remote fan-out", "fan_out_id", f.ID)
		return failed, nil
	}
	payload, err := s.activityFor(ctx, f)
	if err != nil {
		return stator.NoChange, err
	}

	err = s.deliverer.Deliver(ctx, inbox, payload)
	switch {
	case err == nil:
		return sent, nil
	case remote.IsPermanent(err):
		s.logger.Info("remote inbox rejected fan-out", "fan_out_id", f.ID, "inbox", inbox, "error", err)
		return failed, nil
	case remote.IsRetriable(err):
		s.logger.Warn("fan-out delivery failed", "fan_out_id", f.ID, "inbox", inbox, "error", err)
		return stator.NoChange, nil
	default:
		return stator.NoChange, err
	}
}

func (s *Service) deliverLocal(ctx context.Context, f models.FanOut, target models.Identity) (stator.Outcome, error) {
	switch f.Type {
	case models.FanOutPost:
		post, err := s.store.GetPost(ctx, f.SubjectPostID)
		if err != nil {
			return stator.NoChange, err
		}
		if post.Deleted {
			return skipped, nil
		}
		author, err := s.store.GetIdentity(ctx, post.AuthorID)
		if err != nil {
			return stator.NoChange, err
		}
		muted, err := s.hides(ctx, target, author.ID)
		if err != nil {
			return stator.NoChange, err
		}
		if muted {
			return skipped, nil
		}
		if err := s.addPost(ctx, target, author, post); err != nil {
			return stator.NoChange, err
		}
		if target.IsGroup() {
			if err := s.groupReceivedPost(ctx, target, author, post); err != nil {
				return stator.NoChange, err
			}
		}

	case models.FanOutPostDeleted:
		if _, err := s.store.DeleteTimelineEvents(ctx, store.TimelineFilter{
			IdentityID: target.ID,
			PostID:     f.SubjectPostID,
		}); err != nil {
			return stator.NoChange, err
		}
		if target.IsGroup() {
			if _, err := s.Unboost(ctx, target.ID, f.SubjectPostID); err != nil {
				return stator.NoChange, err
			}
		}

	case models.FanOutInteraction:
		in, err := s.store.GetInteraction(ctx, f.SubjectInteractionID)
		if err != nil {
			return stator.NoChange, err
		}
		if !slices.Contains(models.InteractionActiveStates, in.State) {
			// Undone before it reached us; the undo fan-out follows.
			return skipped, nil
		}
		post, err := s.store.GetPost(ctx, in.PostID)
		if err != nil {
			return stator.NoChange, err
		}
		actor, err := s.store.GetIdentity(ctx, in.IdentityID)
		if err != nil {
			return stator.NoChange, err
		}
		muted, err := s.hides(ctx, target, actor.ID)
		if err != nil {
			return stator.NoChange, err
		}
		if muted {
			return skipped, nil
		}
		if err := s.addInteraction(ctx, target, actor, in, post); err != nil {
			return stator.NoChange, err
		}
		if target.IsGroup() {
			if err := s.groupReceivedInteraction(ctx, target, in, post); err != nil {
				return stator.NoChange, err
			}
		}

	case models.FanOutUndoInteraction:
		in, err := s.store.GetInteraction(ctx, f.SubjectInteractionID)
		if err != nil {
			return stator.NoChange, err
		}
		if _, err := s.store.DeleteTimelineEvents(ctx, store.TimelineFilter{
			IdentityID:    target.ID,
			InteractionID: in.ID,
		}); err != nil {
			return stator.NoChange, err
		}
		if target.IsGroup() {
			if err := s.groupReceivedUndo(ctx, target, in); err != nil {
				return stator.NoChange, err
			}
		}

	default:
		s.logger.Error("unknown fan-out type", "fan_out_id", f.ID, "type", f.Type)
		return failed, nil
	}
	return sent, nil
}

// hides reports whether target blocks or mutes sourceID.
func (s *Service) hides(ctx context.Context, target models.Identity, sourceID string) (bool, error) {
	if target.ID == sourceID {
		return false, nil
	}
	hidden, err := s.store.BlockedIDs(ctx, target.ID, true)
	if err != nil {
		return false, err
	}
	return slices.Contains(hidden, sourceID), nil
}

// addPost puts post in target's timeline, plus a mention notification when
// target is mentioned. Followers who asked to be notified of new posts get
// a push.
func (s *Service) addPost(ctx context.Context, target, author models.Identity, post models.Post) error {
	if _, err := s.store.AddTimelineEvent(ctx, &models.TimelineEvent{
		IdentityID:        target.ID,
		Type:              models.TimelinePost,
		SubjectPostID:     post.ID,
		SubjectIdentityID: author.ID,
		Published:         post.Published,
	}, s.now()); err != nil {
		return err
	}
	if target.ID == author.ID {
		return nil
	}

	if slices.Contains(post.Mentions, target.ID) {
		created, err := s.store.AddTimelineEvent(ctx, &models.TimelineEvent{
			IdentityID:        target.ID,
			Type:              models.TimelineMentioned,
			SubjectPostID:     post.ID,
			SubjectIdentityID: author.ID,
		}, s.now())
		if err != nil {
			return err
		}
		if created {
			return s.notify(ctx, target, models.PushMention, author)
		}
		return nil
	}

	follow, err := s.activeFollow(ctx, target.ID, author.ID)
	if err != nil || follow == nil || !follow.Notify {
		return err
	}
	return s.notify(ctx, target, models.PushStatus, author)
}

// addInteraction records actor's like or boost in target's notifications
// when target wrote the post, or the boost in target's home timeline when
// target follows actor with boosts shown.
func (s *Service) addInteraction(ctx context.Context, target, actor models.Identity, in models.PostInteraction, post models.Post) error {
	if actor.ID == target.ID {
		return nil
	}
	own := post.AuthorID == target.ID
	ev := models.TimelineEvent{
		IdentityID:           target.ID,
		SubjectPostID:        post.ID,
		SubjectIdentityID:    actor.ID,
		SubjectInteractionID: in.ID,
	}
	var pushType string
	switch {
	case in.Type == models.InteractionLike && own:
		ev.Type, pushType = models.TimelineLiked, models.PushFavorite
	case in.Type == models.InteractionBoost && own:
		ev.Type, pushType = models.TimelineBoosted, models.PushBoost
	case in.Type == models.InteractionBoost:
		follow, err := s.activeFollow(ctx, target.ID, actor.ID)
		if err != nil || follow == nil || !follow.Boosts {
			return err
		}
		ev.Type = models.TimelineBoost
	default:
		return nil
	}

	created, err := s.store.AddTimelineEvent(ctx, &ev, s.now())
	if err != nil || !created || pushType == "" {
		return err
	}
	return s.notify(ctx, target, pushType, actor)
}

// activeFollow returns source's follow of target when it is in effect.
func (s *Service) activeFollow(ctx context.Context, sourceID, targetID string) (*models.Follow, error) {
	f, err := s.store.GetFollowBetween(ctx, sourceID, targetID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !slices.Contains(models.FollowActiveStates, f.State) {
		return nil, nil
	}
	return &f, nil
}

func (s *Service) notify(ctx context.Context, target models.Identity, typ string, source models.Identity) error {
	if s.notifier == nil {
		return nil
	}
	_, err := s.notifier.Notify(ctx, target.ID, typ, source, "")
	return err
}
