package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/avaraline/incarnator/internal/models"
	"github.com/avaraline/incarnator/internal/stator"
)

const hashtagColumns = `id, name_override, public, stats, stats_updated, aliases, created, state, state_changed`

// GetOrCreateHashtag returns the hashtag called name, creating it in the
// outdated state when missing. created reports whether this call inserted it.
func (s *Store) GetOrCreateHashtag(ctx context.Context, name string, now time.Time) (tag models.Hashtag, created bool, err error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO hashtags (id, created, state, state_changed)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, name, millis(now), string(models.HashtagOutdated), millis(now))
	if err != nil {
		return models.Hashtag{}, false, fmt.Errorf("create hashtag %s: %w", name, err)
	}
	created, err = affectedOne(res)
	if err != nil {
		return models.Hashtag{}, false, fmt.Errorf("create hashtag %s: %w", name, err)
	}
	tag, err = s.GetHashtag(ctx, name)
	return tag, created, err
}

// GetHashtag returns a hashtag by name.
// Returns ErrNotFound if it does not exist.
func (s *Store) GetHashtag(ctx context.Context, name string) (models.Hashtag, error) {
	var (
		tag                   models.Hashtag
		public, statsUpdated  sql.NullInt64
		stats                 sql.NullString
		aliases, state        string
		created, stateChanged int64
	)
	err := s.db.QueryRowContext(ctx, `SELECT `+hashtagColumns+` FROM hashtags WHERE id = ?`, name).Scan(
		&tag.Name, &tag.NameOverride, &public, &stats, &statsUpdated, &aliases, &created, &state, &stateChanged,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Hashtag{}, fmt.Errorf("hashtag %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return models.Hashtag{}, fmt.Errorf("scan hashtag: %w", err)
	}
	if public.Valid {
		b := public.Int64 == 1
		tag.Public = &b
	}
	if stats.Valid {
		if err := unmarshalJSON("hashtag stats", stats.String, &tag.Stats); err != nil {
			return models.Hashtag{}, err
		}
	}
	if err := unmarshalJSON("hashtag aliases", aliases, &tag.Aliases); err != nil {
		return models.Hashtag{}, err
	}
	tag.StatsUpdated = fromNullMillis(statsUpdated)
	tag.Created = fromMillis(created)
	tag.State = stator.StateName(state)
	tag.StateChanged = fromMillis(stateChanged)
	return tag, nil
}

// SaveHashtagStats stores a freshly computed stats blob.
func (s *Store) SaveHashtagStats(ctx context.Context, name string, stats map[string]any, updated time.Time) error {
	text, err := marshalJSON("hashtag stats", stats)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE hashtags SET stats = ?, stats_updated = ? WHERE id = ?
	`, text, millis(updated), name)
	if err != nil {
		return fmt.Errorf("save hashtag stats %s: %w", name, err)
	}
	return requireOne(res, "hashtag", name)
}

// CountLocalPublicTagged counts local, public, non-deleted posts tagged with
// tag whose created time falls in [from, to). A zero bound is open.
func (s *Store) CountLocalPublicTagged(ctx context.Context, tag string, from, to time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM posts p
		JOIN post_hashtags h ON h.post_id = p.id
		WHERE h.hashtag = ? AND p.local = 1 AND p.deleted = 0 AND p.visibility = ?
	`
	args := []any{tag, models.VisibilityPublic}
	if !from.IsZero() {
		query += ` AND p.created >= ?`
		args = append(args, millis(from))
	}
	if !to.IsZero() {
		query += ` AND p.created < ?`
		args = append(args, millis(to))
	}

	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count tagged posts %s: %w", tag, err)
	}
	return n, nil
}

// TaggedActivity returns how many non-deleted posts tagged with tag were
// published in [from, to) and by how many distinct authors.
func (s *Store) TaggedActivity(ctx context.Context, tag string, from, to time.Time) (uses, accounts int, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(p.id), COUNT(DISTINCT p.author_id) FROM posts p
		JOIN post_hashtags h ON h.post_id = p.id
		WHERE h.hashtag = ? AND p.deleted = 0 AND p.published >= ? AND p.published < ?
	`, tag, millis(from), millis(to)).Scan(&uses, &accounts)
	if err != nil {
		return 0, 0, fmt.Errorf("tagged activity %s: %w", tag, err)
	}
	return uses, accounts, nil
}

// TagUse is one row of PopularHashtags.
type TagUse struct {
	Tag  string `json:"tag"`
	Uses int    `json:"uses"`
}

// PopularHashtags ranks tags by non-deleted posts published since since.
func (s *Store) PopularHashtags(ctx context.Context, since time.Time, limit, offset int) ([]TagUse, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT h.hashtag, COUNT(p.id) AS uses FROM post_hashtags h
		JOIN posts p ON p.id = h.post_id
		WHERE p.deleted = 0 AND p.published >= ?
		GROUP BY h.hashtag
		ORDER BY uses DESC, h.hashtag ASC
		LIMIT ? OFFSET ?
	`, millis(since), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("popular hashtags: %w", err)
	}
	defer rows.Close()

	out := []TagUse{}
	for rows.Next() {
		var u TagUse
		if err := rows.Scan(&u.Tag, &u.Uses); err != nil {
			return nil, fmt.Errorf("scan popular hashtags: %w", err)
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate popular hashtags: %w", err)
	}
	return out, nil
}

// SyncHashtagFeatures makes tags the exact set of hashtags identityID
// features. Every tag must already exist.
func (s *Store) SyncHashtagFeatures(ctx context.Context, identityID string, tags []string, now time.Time) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, tag := range tags {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO hashtag_features (identity_id, hashtag, created) VALUES (?, ?, ?)
				ON CONFLICT DO NOTHING
			`, identityID, tag, millis(now)); err != nil {
				return fmt.Errorf("feature hashtag %s: %w", tag, err)
			}
		}
		query := `DELETE FROM hashtag_features WHERE identity_id = ?`
		args := []any{identityID}
		if len(tags) > 0 {
			query += ` AND hashtag NOT IN (` + placeholders(len(tags)) + `)`
			args = append(args, stringArgs(tags)...)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("prune featured hashtags: %w", err)
		}
		return nil
	})
}

// FeaturedHashtags returns the hashtags identityID features, by name.
func (s *Store) FeaturedHashtags(ctx context.Context, identityID string) ([]string, error) {
	return s.queryStrings(ctx, "featured hashtags",
		`SELECT hashtag FROM hashtag_features WHERE identity_id = ? ORDER BY hashtag ASC`, identityID)
}
