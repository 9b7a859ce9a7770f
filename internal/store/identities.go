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

const identityColumns = `id, handle, actor_uri, inbox_uri, shared_inbox_uri, local, actor_type,
	manually_approves, featured_collection_uri, featured_tags_uri, followers_uri, following_uri,
	outbox_uri, stats, created, state, state_changed`

// CreateIdentity inserts an identity, assigning an ID when empty. New
// identities start outdated so their stats are computed.
func (s *Store) CreateIdentity(ctx context.Context, ident *models.Identity, now time.Time) error {
	if ident.ID == "" {
		ident.ID = NewID()
	}
	if ident.ActorType == "" {
		ident.ActorType = models.ActorPerson
	}
	if ident.Created.IsZero() {
		ident.Created = now
	}
	newStateful(&ident.Stateful, models.IdentityOutdated, now)

	stats, err := marshalJSON("identity stats", ident.Stats)
	if err != nil {
		return fmt.Errorf("create identity: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO identities (`+identityColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		ident.ID, ident.Handle, ident.ActorURI, ident.InboxURI, ident.SharedInboxURI,
		boolInt(ident.Local), ident.ActorType, boolInt(ident.ManuallyApproves),
		ident.FeaturedCollectionURI, ident.FeaturedTagsURI, ident.FollowersURI,
		ident.FollowingURI, ident.OutboxURI, stats, millis(ident.Created),
		string(ident.State), millis(ident.StateChanged),
	)
	if err != nil {
		return fmt.Errorf("create identity: %w", err)
	}
	return nil
}

// GetIdentity returns an identity by ID.
// Returns ErrNotFound if it does not exist.
func (s *Store) GetIdentity(ctx context.Context, id string) (models.Identity, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+identityColumns+` FROM identities WHERE id = ?`, id)
	return scanIdentity(row, id)
}

// GetIdentityByActorURI returns an identity by its actor URI.
func (s *Store) GetIdentityByActorURI(ctx context.Context, uri string) (models.Identity, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+identityColumns+` FROM identities WHERE actor_uri = ?`, uri)
	return scanIdentity(row, uri)
}

// GetIdentities returns the identities with the given IDs, in id order.
// Unknown IDs are skipped.
func (s *Store) GetIdentities(ctx context.Context, ids []string) ([]models.Identity, error) {
	out := []models.Identity{}
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+identityColumns+` FROM identities
		WHERE id IN (`+placeholders(len(ids))+`)
		ORDER BY id COLLATE BINARY ASC
	`, stringArgs(ids)...)
	if err != nil {
		return nil, fmt.Errorf("query identities: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		ident, err := scanIdentity(rows, "")
		if err != nil {
			return nil, err
		}
		out = append(out, ident)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate identities: %w", err)
	}
	return out, nil
}

// LocalIdentityIDs returns the IDs of every local identity.
func (s *Store) LocalIdentityIDs(ctx context.Context) ([]string, error) {
	return s.queryStrings(ctx, "local identities",
		`SELECT id FROM identities WHERE local = 1 ORDER BY id COLLATE BINARY ASC`)
}

// UpdateIdentityStats replaces an identity's cached counters.
func (s *Store) UpdateIdentityStats(ctx context.Context, id string, stats models.IdentityStats) error {
	text, err := marshalJSON("identity stats", stats)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE identities SET stats = ? WHERE id = ?`, text, id)
	if err != nil {
		return fmt.Errorf("update identity stats %s: %w", id, err)
	}
	return requireOne(res, "identity", id)
}

// ComputeLocalStats counts an identity's posts and active relationships.
func (s *Store) ComputeLocalStats(ctx context.Context, id string) (models.IdentityStats, error) {
	var (
		stats models.IdentityStats
		last  sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), MAX(created) FROM posts WHERE author_id = ? AND deleted = 0
	`, id).Scan(&stats.StatusesCount, &last)
	if err != nil {
		return stats, fmt.Errorf("count posts %s: %w", id, err)
	}
	if last.Valid {
		t := fromMillis(last.Int64)
		stats.LastStatusAt = &t
	}

	active := stateArgs(models.FollowActiveStates)
	in := placeholders(len(active))
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM follows WHERE target_id = ? AND state IN (`+in+`)`,
		append([]any{id}, active...)...,
	).Scan(&stats.FollowersCount); err != nil {
		return stats, fmt.Errorf("count followers %s: %w", id, err)
	}
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM follows WHERE source_id = ? AND state IN (`+in+`)`,
		append([]any{id}, active...)...,
	).Scan(&stats.FollowingCount); err != nil {
		return stats, fmt.Errorf("count following %s: %w", id, err)
	}
	return stats, nil
}

func scanIdentity(row rowScanner, key string) (models.Identity, error) {
	var (
		ident          models.Identity
		local, manual  int
		stats          string
		created, state int64
		stateName      string
	)
	err := row.Scan(
		&ident.ID, &ident.Handle, &ident.ActorURI, &ident.InboxURI, &ident.SharedInboxURI,
		&local, &ident.ActorType, &manual, &ident.FeaturedCollectionURI, &ident.FeaturedTagsURI,
		&ident.FollowersURI, &ident.FollowingURI, &ident.OutboxURI, &stats, &created,
		&stateName, &state,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Identity{}, fmt.Errorf("identity %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return models.Identity{}, fmt.Errorf("scan identity: %w", err)
	}
	ident.Local = local == 1
	ident.ManuallyApproves = manual == 1
	ident.Created = fromMillis(created)
	ident.State = stator.StateName(stateName)
	ident.StateChanged = fromMillis(state)
	if err := unmarshalJSON("identity stats", stats, &ident.Stats); err != nil {
		return models.Identity{}, err
	}
	return ident, nil
}
