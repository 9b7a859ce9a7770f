package activities

import (
	"context"
	"fmt"

	"github.com/avaraline/incarnator/internal/models"
)

// interactionTargets returns who hears about an interaction by actor on post:
//
//	boost      actor's followers and the post author
//	like, vote the post author
//	pin        actor's followers
//
// Identities the actor fully blocks are removed before deduplication.
func (s *Service) interactionTargets(ctx context.Context, in models.PostInteraction, actor models.Identity, post models.Post) ([]models.Identity, error) {
	ids := map[string]bool{}
	if in.Type == models.InteractionBoost || in.Type == models.InteractionPin {
		followers, err := s.store.FollowerIDs(ctx, actor.ID, models.FollowActiveStates)
		if err != nil {
			return nil, err
		}
		for _, id := range followers {
			ids[id] = true
		}
	}
	if in.Type != models.InteractionPin {
		ids[post.AuthorID] = true
	}
	return s.resolveTargets(ctx, actor, ids)
}

// postTargets returns who receives a post: the author's followers unless it
// is addressed only to mentions, everyone mentioned, and a local author
// itself so the post lands in its own timeline.
func (s *Service) postTargets(ctx context.Context, author models.Identity, post models.Post) ([]models.Identity, error) {
	ids := map[string]bool{}
	if post.Visibility != models.VisibilityMentioned {
		followers, err := s.store.FollowerIDs(ctx, author.ID, models.FollowActiveStates)
		if err != nil {
			return nil, err
		}
		for _, id := range followers {
			ids[id] = true
		}
	}
	for _, id := range post.Mentions {
		ids[id] = true
	}
	if author.Local {
		ids[author.ID] = true
	}
	return s.resolveTargets(ctx, author, ids)
}

// resolveTargets drops identities origin blocks, loads the rest and
// deduplicates them by delivery endpoint.
func (s *Service) resolveTargets(ctx context.Context, origin models.Identity, ids map[string]bool) ([]models.Identity, error) {
	blocked, err := s.store.BlockedIDs(ctx, origin.ID, false)
	if err != nil {
		return nil, err
	}
	for _, id := range blocked {
		delete(ids, id)
	}
	list := make([]string, 0, len(ids))
	for id := range ids {
		list = append(list, id)
	}
	identities, err := s.store.GetIdentities(ctx, list)
	if err != nil {
		return nil, fmt.Errorf("load targets: %w", err)
	}
	return dedupeTargets(origin, identities), nil
}

// fanOutInbox is the inbox a fan-out to t is keyed and delivered on.
func fanOutInbox(t models.Identity) string {
	if t.Local {
		return ""
	}
	return t.DeliveryInbox()
}

// dedupeTargets keeps every local target. Remote targets are only ours to
// deliver to when the origin is local, and then once per shared inbox: the
// receiving server spreads the activity to its own users. Input order is
// preserved, so the first identity seen for a shared inbox is the one kept.
func dedupeTargets(origin models.Identity, targets []models.Identity) []models.Identity {
	out := make([]models.Identity, 0, len(targets))
	inboxes := map[string]bool{}
	for _, t := range targets {
		switch {
		case t.Local:
			out = append(out, t)
		case !origin.Local:
		case t.SharedInboxURI == "":
			out = append(out, t)
		case !inboxes[t.SharedInboxURI]:
			inboxes[t.SharedInboxURI] = true
			out = append(out, t)
		}
	}
	return out
}
