package activities

import (
	"context"
	"fmt"
	"slices"

	"github.com/avaraline/incarnator/internal/models"
	"github.com/avaraline/incarnator/internal/stator"
)

func (s *Service) handleInteractionNew(ctx context.Context, id string) (stator.Outcome, error) {
	if err := s.fanOutInteraction(ctx, id, models.FanOutInteraction); err != nil {
		return stator.NoChange, err
	}
	return stator.TransitionTo(models.InteractionFannedOut), nil
}

func (s *Service) handleInteractionUndone(ctx context.Context, id string) (stator.Outcome, error) {
	if err := s.fanOutInteraction(ctx, id, models.FanOutUndoInteraction); err != nil {
		return stator.NoChange, err
	}
	return stator.TransitionTo(models.InteractionUndoneFannedOut), nil
}

// fanOutInteraction creates one fan-out of typ per target. Fan-outs are
// unique per target and subject, so a handler re-run after a crash creates
// nothing new.
func (s *Service) fanOutInteraction(ctx context.Context, id, typ string) error {
	in, err := s.store.GetInteraction(ctx, id)
	if err != nil {
		return err
	}
	post, err := s.store.GetPost(ctx, in.PostID)
	if err != nil {
		return err
	}
	actor, err := s.store.GetIdentity(ctx, in.IdentityID)
	if err != nil {
		return err
	}
	targets, err := s.interactionTargets(ctx, in, actor, post)
	if err != nil {
		return fmt.Errorf("interaction %s targets: %w", id, err)
	}

	created := 0
	for _, t := range targets {
		inserted, err := s.store.CreateFanOut(ctx, &models.FanOut{
			IdentityID:           t.ID,
			Inbox:                fanOutInbox(t),
			Type:                 typ,
			SubjectPostID:        post.ID,
			SubjectInteractionID: in.ID,
		}, s.now())
		if err != nil {
			return err
		}
		if inserted {
			created++
		}
	}
	s.logger.Debug("interaction fanned out",
		"interaction_id", id,
		"type", in.Type,
		"fan_out_type", typ,
		"targets", len(targets),
		"created", created,
	)
	return nil
}

// Boost boosts postID as identityID. An existing active boost is returned
// as is.
func (s *Service) Boost(ctx context.Context, identityID, postID string) (models.PostInteraction, error) {
	return s.interact(ctx, identityID, postID, models.InteractionBoost, "")
}

// Like likes postID as identityID.
func (s *Service) Like(ctx context.Context, identityID, postID string) (models.PostInteraction, error) {
	return s.interact(ctx, identityID, postID, models.InteractionLike, "")
}

// Pin features postID on identityID's profile.
func (s *Service) Pin(ctx context.Context, identityID, postID string) (models.PostInteraction, error) {
	return s.interact(ctx, identityID, postID, models.InteractionPin, "")
}

// Vote records identityID's choice in the poll postID. Each choice is its
// own interaction.
func (s *Service) Vote(ctx context.Context, identityID, postID, choice string) (models.PostInteraction, error) {
	if choice == "" {
		return models.PostInteraction{}, fmt.Errorf("vote on %s: empty choice", postID)
	}
	return s.interact(ctx, identityID, postID, models.InteractionVote, choice)
}

func (s *Service) interact(ctx context.Context, identityID, postID, typ, value string) (models.PostInteraction, error) {
	existing, err := s.store.FindInteractions(ctx, identityID, typ, postID, models.InteractionActiveStates)
	if err != nil {
		return models.PostInteraction{}, err
	}
	for _, in := range existing {
		if in.Value == value {
			return in, nil
		}
	}
	in := models.PostInteraction{Type: typ, IdentityID: identityID, PostID: postID, Value: value}
	if err := s.store.CreateInteraction(ctx, &in, s.now()); err != nil {
		return models.PostInteraction{}, err
	}
	s.logger.Info("interaction created", "interaction_id", in.ID, "type", typ, "identity_id", identityID, "post_id", postID)
	return in, nil
}

// Undo retracts an interaction. Interactions already undone are left alone.
func (s *Service) Undo(ctx context.Context, interactionID string) error {
	in, err := s.store.GetInteraction(ctx, interactionID)
	if err != nil {
		return err
	}
	if !slices.Contains(models.InteractionActiveStates, in.State) {
		return nil
	}
	return stator.Perform(ctx, s.store, s.interactions, interactionID, models.InteractionUndone, s.now())
}

// Unboost undoes every active boost of postID by identityID and reports
// how many there were.
func (s *Service) Unboost(ctx context.Context, identityID, postID string) (int, error) {
	boosts, err := s.store.FindInteractions(ctx, identityID, models.InteractionBoost, postID, models.InteractionActiveStates)
	if err != nil {
		return 0, err
	}
	for _, b := range boosts {
		if err := s.Undo(ctx, b.ID); err != nil {
			return 0, err
		}
	}
	return len(boosts), nil
}

// RetractPin moves an active pin straight to its final state without
// propagating an undo. Used when a remote actor's featured collection no
// longer lists the post.
func (s *Service) RetractPin(ctx context.Context, in models.PostInteraction) error {
	to := models.InteractionUndoneFannedOut
	if in.State == models.InteractionNew {
		// Not fanned out yet; nothing to skip.
		to = models.InteractionUndone
	}
	return stator.Perform(ctx, s.store, s.interactions, in.ID, to, s.now())
}
