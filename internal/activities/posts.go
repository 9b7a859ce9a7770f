package activities

import (
	"context"
	"errors"
	"fmt"

	"github.com/avaraline/incarnator/internal/models"
)

// PublishPost stores post, re-arms the statistics of its hashtags and
// fans it out to its audience. Hashtags are normalized in place.
func (s *Service) PublishPost(ctx context.Context, post *models.Post) error {
	author, err := s.store.GetIdentity(ctx, post.AuthorID)
	if err != nil {
		return fmt.Errorf("publish post: %w", err)
	}
	post.Hashtags = normalizeAll(post.Hashtags)
	if err := s.store.CreatePost(ctx, post, s.now()); err != nil {
		return err
	}
	if err := s.touchHashtags(ctx, post.Hashtags); err != nil {
		return err
	}
	n, err := s.fanOutPost(ctx, author, *post, models.FanOutPost)
	if err != nil {
		return err
	}
	s.logger.Info("post published", "post_id", post.ID, "author_id", author.ID, "fan_outs", n)
	return nil
}

// DeletePost marks a post deleted and tells everyone who received it.
func (s *Service) DeletePost(ctx context.Context, postID string) error {
	post, err := s.store.GetPost(ctx, postID)
	if err != nil {
		return fmt.Errorf("delete post: %w", err)
	}
	if post.Deleted {
		return nil
	}
	author, err := s.store.GetIdentity(ctx, post.AuthorID)
	if err != nil {
		return fmt.Errorf("delete post: %w", err)
	}
	if err := s.store.MarkPostDeleted(ctx, postID); err != nil {
		return err
	}
	if err := s.touchHashtags(ctx, post.Hashtags); err != nil {
		return err
	}
	n, err := s.fanOutPost(ctx, author, post, models.FanOutPostDeleted)
	if err != nil {
		return err
	}
	s.logger.Info("post deleted", "post_id", postID, "fan_outs", n)
	return nil
}

func (s *Service) fanOutPost(ctx context.Context, author models.Identity, post models.Post, typ string) (int, error) {
	targets, err := s.postTargets(ctx, author, post)
	if err != nil {
		return 0, fmt.Errorf("post %s targets: %w", post.ID, err)
	}
	created := 0
	for _, t := range targets {
		inserted, err := s.store.CreateFanOut(ctx, &models.FanOut{
			IdentityID:    t.ID,
			Inbox:         fanOutInbox(t),
			Type:          typ,
			SubjectPostID: post.ID,
		}, s.now())
		if err != nil {
			return created, err
		}
		if inserted {
			created++
		}
	}
	return created, nil
}

// touchHashtags re-arms statistics for every tag a write just changed.
func (s *Service) touchHashtags(ctx context.Context, tags []string) error {
	for _, tag := range tags {
		if _, err := s.EnsureHashtag(ctx, tag, true); err != nil && !errors.Is(err, ErrInvalidHashtag) {
			return err
		}
	}
	return nil
}

func normalizeAll(tags []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		key := NormalizeHashtag(tag)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, key)
	}
	return out
}
