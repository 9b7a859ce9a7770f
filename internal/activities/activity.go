package activities

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/avaraline/incarnator/internal/models"
)

const (
	activityStreams = "https://www.w3.org/ns/activitystreams"
	publicAddress   = activityStreams + "#Public"
)

// activityFor renders the ActivityStreams document a remote target receives
// for f.
func (s *Service) activityFor(ctx context.Context, f models.FanOut) ([]byte, error) {
	var doc map[string]any
	switch f.Type {
	case models.FanOutPost, models.FanOutPostDeleted:
		post, err := s.store.GetPost(ctx, f.SubjectPostID)
		if err != nil {
			return nil, err
		}
		author, err := s.store.GetIdentity(ctx, post.AuthorID)
		if err != nil {
			return nil, err
		}
		if f.Type == models.FanOutPost {
			doc = s.createActivity(author, post)
		} else {
			doc = deleteActivity(author, post)
		}
	case models.FanOutInteraction, models.FanOutUndoInteraction:
		in, err := s.store.GetInteraction(ctx, f.SubjectInteractionID)
		if err != nil {
			return nil, err
		}
		post, err := s.store.GetPost(ctx, in.PostID)
		if err != nil {
			return nil, err
		}
		actor, err := s.store.GetIdentity(ctx, in.IdentityID)
		if err != nil {
			return nil, err
		}
		doc = interactionActivity(in, actor, post)
		if f.Type == models.FanOutUndoInteraction {
			doc = undoActivity(in, actor, doc)
		}
	default:
		return nil, fmt.Errorf("unknown fan-out type %q", f.Type)
	}
	doc["@context"] = activityStreams
	return json.Marshal(doc)
}

func audience(author models.Identity, post models.Post) (to, cc []string) {
	switch post.Visibility {
	case models.VisibilityPublic:
		return []string{publicAddress}, []string{author.FollowersURI}
	case models.VisibilityUnlisted:
		return []string{author.FollowersURI}, []string{publicAddress}
	case models.VisibilityFollowers:
		return []string{author.FollowersURI}, nil
	default:
		return nil, nil
	}
}

func (s *Service) noteObject(author models.Identity, post models.Post) map[string]any {
	to, cc := audience(author, post)
	tags := make([]map[string]string, 0, len(post.Hashtags))
	for _, tag := range post.Hashtags {
		tags = append(tags, s.hashtagObject(tag))
	}
	return map[string]any{
		"id":           post.ObjectURI,
		"type":         "Note",
		"attributedTo": author.ActorURI,
		"content":      post.Content,
		"published":    post.Published.UTC().Format(time.RFC3339),
		"to":           to,
		"cc":           cc,
		"tag":          tags,
	}
}

func (s *Service) createActivity(author models.Identity, post models.Post) map[string]any {
	note := s.noteObject(author, post)
	return map[string]any{
		"id":     post.ObjectURI + "#create",
		"type":   "Create",
		"actor":  author.ActorURI,
		"to":     note["to"],
		"cc":     note["cc"],
		"object": note,
	}
}

func deleteActivity(author models.Identity, post models.Post) map[string]any {
	return map[string]any{
		"id":    post.ObjectURI + "#delete",
		"type":  "Delete",
		"actor": author.ActorURI,
		"object": map[string]any{
			"id":   post.ObjectURI,
			"type": "Tombstone",
		},
	}
}

func interactionURI(in models.PostInteraction, actor models.Identity) string {
	return fmt.Sprintf("%s#%s/%s", actor.ActorURI, in.Type, in.ID)
}

func interactionActivity(in models.PostInteraction, actor models.Identity, post models.Post) map[string]any {
	doc := map[string]any{
		"id":        interactionURI(in, actor),
		"actor":     actor.ActorURI,
		"published": in.Created.UTC().Format(time.RFC3339),
	}
	switch in.Type {
	case models.InteractionBoost:
		doc["type"] = "Announce"
		doc["object"] = post.ObjectURI
		doc["to"] = []string{publicAddress}
		doc["cc"] = []string{actor.FollowersURI, post.ObjectURI}
	case models.InteractionLike:
		doc["type"] = "Like"
		doc["object"] = post.ObjectURI
	case models.InteractionPin:
		doc["type"] = "Add"
		doc["object"] = post.ObjectURI
		doc["target"] = actor.FeaturedCollectionURI
	case models.InteractionVote:
		doc["type"] = "Create"
		doc["object"] = map[string]any{
			"id":           interactionURI(in, actor) + "/object",
			"type":         "Note",
			"name":         in.Value,
			"attributedTo": actor.ActorURI,
			"inReplyTo":    post.ObjectURI,
		}
	}
	return doc
}

// undoActivity wraps inner in an Undo. Pins are retracted with Remove.
func undoActivity(in models.PostInteraction, actor models.Identity, inner map[string]any) map[string]any {
	if in.Type == models.InteractionPin {
		return map[string]any{
			"id":     interactionURI(in, actor) + "/remove",
			"type":   "Remove",
			"actor":  actor.ActorURI,
			"object": inner["object"],
			"target": inner["target"],
		}
	}
	return map[string]any{
		"id":     interactionURI(in, actor) + "/undo",
		"type":   "Undo",
		"actor":  actor.ActorURI,
		"object": inner,
	}
}
