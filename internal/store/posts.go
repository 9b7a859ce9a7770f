package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/avaraline/incarnator/internal/models"
)

const postColumns = `id, author_id, object_uri, content, visibility, local, deleted, created, published`

// CreatePost inserts a post with its hashtags and mentions in one
// transaction, assigning an ID when empty.
func (s *Store) CreatePost(ctx context.Context, post *models.Post, now time.Time) error {
	if post.ID == "" {
		post.ID = NewID()
	}
	if post.Visibility == "" {
		post.Visibility = models.VisibilityPublic
	}
	if post.Created.IsZero() {
		post.Created = now
	}
	if post.Published.IsZero() {
		post.Published = post.Created
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO posts (`+postColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			post.ID, post.AuthorID, post.ObjectURI, post.Content, post.Visibility,
			boolInt(post.Local), boolInt(post.Deleted), millis(post.Created), millis(post.Published),
		)
		if err != nil {
			return fmt.Errorf("create post: %w", err)
		}
		for _, tag := range post.Hashtags {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO post_hashtags (post_id, hashtag) VALUES (?, ?)
				ON CONFLICT DO NOTHING
			`, post.ID, tag); err != nil {
				return fmt.Errorf("create post hashtag: %w", err)
			}
		}
		for _, identityID := range post.Mentions {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO post_mentions (post_id, identity_id) VALUES (?, ?)
				ON CONFLICT DO NOTHING
			`, post.ID, identityID); err != nil {
				return fmt.Errorf("create post mention: %w", err)
			}
		}
		return nil
	})
}

// GetPost returns a post with its hashtags and mentions.
// Returns ErrNotFound if it does not exist.
func (s *Store) GetPost(ctx context.Context, id string) (models.Post, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+postColumns+` FROM posts WHERE id = ?`, id)
	return s.loadPost(ctx, row, id)
}

// GetPostByURI returns a post by its object URI.
func (s *Store) GetPostByURI(ctx context.Context, uri string) (models.Post, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+postColumns+` FROM posts WHERE object_uri = ?`, uri)
	return s.loadPost(ctx, row, uri)
}

// MarkPostDeleted soft-deletes a post. Deleted posts stay referenced by
// their fan-outs until those are delivered.
func (s *Store) MarkPostDeleted(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE posts SET deleted = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete post %s: %w", id, err)
	}
	return requireOne(res, "post", id)
}

func (s *Store) loadPost(ctx context.Context, row *sql.Row, key string) (models.Post, error) {
	var (
		post               models.Post
		local, deleted     int
		created, published int64
	)
	err := row.Scan(&post.ID, &post.AuthorID, &post.ObjectURI, &post.Content, &post.Visibility,
		&local, &deleted, &created, &published)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Post{}, fmt.Errorf("post %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return models.Post{}, fmt.Errorf("scan post: %w", err)
	}
	post.Local = local == 1
	post.Deleted = deleted == 1
	post.Created = fromMillis(created)
	post.Published = fromMillis(published)

	if post.Hashtags, err = s.queryStrings(ctx, "post hashtags",
		`SELECT hashtag FROM post_hashtags WHERE post_id = ? ORDER BY hashtag ASC`, post.ID); err != nil {
		return models.Post{}, err
	}
	if post.Mentions, err = s.queryStrings(ctx, "post mentions",
		`SELECT identity_id FROM post_mentions WHERE post_id = ? ORDER BY identity_id COLLATE BINARY ASC`, post.ID); err != nil {
		return models.Post{}, err
	}
	return post, nil
}
