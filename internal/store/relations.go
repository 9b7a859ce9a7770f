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

const followColumns = `id, source_id, target_id, uri, boosts, notify, created, state, state_changed`

// CreateFollow inserts a follow, assigning an ID when empty. The caller
// chooses the initial state; it defaults to unrequested.
func (s *Store) CreateFollow(ctx context.Context, f *models.Follow, now time.Time) error {
	if f.ID == "" {
		f.ID = NewID()
	}
	if f.Created.IsZero() {
		f.Created = now
	}
	newStateful(&f.Stateful, models.FollowUnrequested, now)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO follows (`+followColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, f.ID, f.SourceID, f.TargetID, f.URI, boolInt(f.Boosts), boolInt(f.Notify),
		millis(f.Created), string(f.State), millis(f.StateChanged))
	if err != nil {
		return fmt.Errorf("create follow: %w", err)
	}
	return nil
}

// GetFollow returns a follow by ID.
// Returns ErrNotFound if it does not exist.
func (s *Store) GetFollow(ctx context.Context, id string) (models.Follow, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+followColumns+` FROM follows WHERE id = ?`, id)
	return scanFollow(row, id)
}

// GetFollowBetween returns the follow from source to target, whatever its
// state. Returns ErrNotFound if there is none.
func (s *Store) GetFollowBetween(ctx context.Context, sourceID, targetID string) (models.Follow, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+followColumns+` FROM follows WHERE source_id = ? AND target_id = ?
	`, sourceID, targetID)
	return scanFollow(row, sourceID+"->"+targetID)
}

// FollowerIDs returns the sources following targetID in one of states.
func (s *Store) FollowerIDs(ctx context.Context, targetID string, states []stator.StateName) ([]string, error) {
	return s.queryStrings(ctx, "followers", `
		SELECT source_id FROM follows
		WHERE target_id = ? AND state IN (`+placeholders(len(states))+`)
		ORDER BY source_id COLLATE BINARY ASC
	`, append([]any{targetID}, stateArgs(states)...)...)
}

// FollowingIDs returns the targets sourceID follows in one of states.
func (s *Store) FollowingIDs(ctx context.Context, sourceID string, states []stator.StateName) ([]string, error) {
	return s.queryStrings(ctx, "following", `
		SELECT target_id FROM follows
		WHERE source_id = ? AND state IN (`+placeholders(len(states))+`)
		ORDER BY target_id COLLATE BINARY ASC
	`, append([]any{sourceID}, stateArgs(states)...)...)
}

// IsFollowing reports whether source actively follows target.
func (s *Store) IsFollowing(ctx context.Context, sourceID, targetID string) (bool, error) {
	active := stateArgs(models.FollowActiveStates)
	var exists int
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM follows
		WHERE source_id = ? AND target_id = ? AND state IN (`+placeholders(len(active))+`))
	`, append([]any{sourceID, targetID}, active...)...).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check follow: %w", err)
	}
	return exists == 1, nil
}

func scanFollow(row *sql.Row, key string) (models.Follow, error) {
	var (
		f                     models.Follow
		boosts, notify        int
		state                 string
		created, stateChanged int64
	)
	err := row.Scan(&f.ID, &f.SourceID, &f.TargetID, &f.URI, &boosts, &notify, &created, &state, &stateChanged)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Follow{}, fmt.Errorf("follow %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return models.Follow{}, fmt.Errorf("scan follow: %w", err)
	}
	f.Boosts = boosts == 1
	f.Notify = notify == 1
	f.Created = fromMillis(created)
	f.State = stator.StateName(state)
	f.StateChanged = fromMillis(stateChanged)
	return f, nil
}

const blockColumns = `id, source_id, target_id, uri, mute, include_notifications, expires, created, state, state_changed`

// CreateBlock inserts a block or mute in the new state, assigning an ID when
// empty.
func (s *Store) CreateBlock(ctx context.Context, b *models.Block, now time.Time) error {
	if b.ID == "" {
		b.ID = NewID()
	}
	if b.Created.IsZero() {
		b.Created = now
	}
	newStateful(&b.Stateful, models.BlockNew, now)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO blocks (`+blockColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, b.ID, b.SourceID, b.TargetID, b.URI, boolInt(b.Mute), boolInt(b.IncludeNotifications),
		nullMillis(b.Expires), millis(b.Created), string(b.State), millis(b.StateChanged))
	if err != nil {
		return fmt.Errorf("create block: %w", err)
	}
	return nil
}

// GetBlock returns a block by ID.
// Returns ErrNotFound if it does not exist.
func (s *Store) GetBlock(ctx context.Context, id string) (models.Block, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+blockColumns+` FROM blocks WHERE id = ?`, id)
	b, err := scanBlock(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Block{}, fmt.Errorf("block %s: %w", id, ErrNotFound)
	}
	return b, err
}

// FindBlocks lists blocks (mute=false) or mutes (mute=true) from source to
// target in one of states.
func (s *Store) FindBlocks(ctx context.Context, sourceID, targetID string, mute bool, states []stator.StateName) ([]models.Block, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+blockColumns+` FROM blocks
		WHERE source_id = ? AND target_id = ? AND mute = ? AND state IN (`+placeholders(len(states))+`)
		ORDER BY created ASC, id COLLATE BINARY ASC
	`, append([]any{sourceID, targetID, boolInt(mute)}, stateArgs(states)...)...)
	if err != nil {
		return nil, fmt.Errorf("find blocks: %w", err)
	}
	defer rows.Close()

	out := []models.Block{}
	for rows.Next() {
		b, err := scanBlock(rows)
		if err != nil {
			return nil, fmt.Errorf("scan block: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate blocks: %w", err)
	}
	return out, nil
}

// BlockedIDs returns the identities sourceID actively blocks. Mutes are
// included only when withMutes is set.
func (s *Store) BlockedIDs(ctx context.Context, sourceID string, withMutes bool) ([]string, error) {
	active := stateArgs(models.BlockActiveStates)
	query := `SELECT DISTINCT target_id FROM blocks WHERE source_id = ? AND state IN (` + placeholders(len(active)) + `)`
	if !withMutes {
		query += ` AND mute = 0`
	}
	query += ` ORDER BY target_id COLLATE BINARY ASC`
	return s.queryStrings(ctx, "blocked identities", query, append([]any{sourceID}, active...)...)
}

func scanBlock(row rowScanner) (models.Block, error) {
	var (
		b                     models.Block
		mute, notifications   int
		expires               sql.NullInt64
		state                 string
		created, stateChanged int64
	)
	err := row.Scan(&b.ID, &b.SourceID, &b.TargetID, &b.URI, &mute, &notifications, &expires,
		&created, &state, &stateChanged)
	if err != nil {
		return models.Block{}, err
	}
	b.Mute = mute == 1
	b.IncludeNotifications = notifications == 1
	b.Expires = fromNullMillis(expires)
	b.Created = fromMillis(created)
	b.State = stator.StateName(state)
	b.StateChanged = fromMillis(stateChanged)
	return b, nil
}
