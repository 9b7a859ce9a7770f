package activities

import (
	"context"
	"slices"

	"github.com/avaraline/incarnator/internal/models"
	"github.com/avaraline/incarnator/internal/store"
)

// Group identities rebroadcast what they receive: a post from an author
// they follow or that mentions them, or a boost by someone else, is boosted
// by the group. A group never boosts its own posts.

func (s *Service) groupReceivedPost(ctx context.Context, group, author models.Identity, post models.Post) error {
	if author.ID == group.ID {
		return nil
	}
	follow, err := s.activeFollow(ctx, group.ID, author.ID)
	if err != nil {
		return err
	}
	if follow == nil && !slices.Contains(post.Mentions, group.ID) {
		return nil
	}
	return s.groupBoost(ctx, group, post)
}

func (s *Service) groupReceivedInteraction(ctx context.Context, group models.Identity, in models.PostInteraction, post models.Post) error {
	if in.Type != models.InteractionBoost || in.IdentityID == group.ID || post.AuthorID == group.ID {
		return nil
	}
	return s.groupBoost(ctx, group, post)
}

// groupReceivedUndo retracts the group's boost of an unboosted post, unless
// the post is still in the group's timeline in its own right: several
// upstream signals can point at the same post and one undo must not
// retract them all.
func (s *Service) groupReceivedUndo(ctx context.Context, group models.Identity, in models.PostInteraction) error {
	if in.Type != models.InteractionBoost {
		return nil
	}
	referenced, err := s.store.HasTimelineEvent(ctx, store.TimelineFilter{
		IdentityID: group.ID,
		Types:      []string{models.TimelinePost},
		PostID:     in.PostID,
	})
	if err != nil {
		return err
	}
	if referenced {
		s.logger.Debug("group keeps boost of post still in its timeline", "identity_id", group.ID, "post_id", in.PostID)
		return nil
	}
	n, err := s.Unboost(ctx, group.ID, in.PostID)
	if err != nil {
		return err
	}
	if n > 0 {
		s.logger.Info("group unboosted post", "identity_id", group.ID, "post_id", in.PostID)
	}
	return nil
}

func (s *Service) groupBoost(ctx context.Context, group models.Identity, post models.Post) error {
	_, err := s.Boost(ctx, group.ID, post.ID)
	return err
}
