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

const interactionColumns = `id, type, identity_id, post_id, value, created, state, state_changed`

// CreateInteraction inserts a post interaction in the new state, assigning
// an ID when empty.
func (s *Store) CreateInteraction(ctx context.Context, in *models.PostInteraction, now time.Time) error {
	if in.ID == "" {
		in.ID = NewID()
	}
	if in.Created.IsZero() {
		in.Created = now
	}
	newStateful(&in.Stateful, models.InteractionNew, now)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO post_interactions (`+interactionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, in.ID, in.Type, in.IdentityID, in.PostID, in.Value, millis(in.Created),
		string(in.State), millis(in.StateChanged))
	if err != nil {
		return fmt.Errorf("create interaction: %w", err)
	}
	return nil
}

// GetInteraction returns an interaction by ID.
// Returns ErrNotFound if it does not exist.
func (s *Store) GetInteraction(ctx context.Context, id string) (models.PostInteraction, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+interactionColumns+` FROM post_interactions WHERE id = ?`, id)
	in, err := scanInteraction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.PostInteraction{}, fmt.Errorf("interaction %s: %w", id, ErrNotFound)
	}
	return in, err
}

// FindInteractions lists identityID's interactions of type typ, optionally
// restricted to postID and to states. Oldest first.
func (s *Store) FindInteractions(ctx context.Context, identityID, typ, postID string, states []stator.StateName) ([]models.PostInteraction, error) {
	query := `SELECT ` + interactionColumns + ` FROM post_interactions WHERE identity_id = ? AND type = ?`
	args := []any{identityID, typ}
	if postID != "" {
		query += ` AND post_id = ?`
		args = append(args, postID)
	}
	if len(states) > 0 {
		query += ` AND state IN (` + placeholders(len(states)) + `)`
		args = append(args, stateArgs(states)...)
	}
	query += ` ORDER BY created ASC, id COLLATE BINARY ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find interactions: %w", err)
	}
	defer rows.Close()

	out := []models.PostInteraction{}
	for rows.Next() {
		in, err := scanInteraction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate interactions: %w", err)
	}
	return out, nil
}

func scanInteraction(row rowScanner) (models.PostInteraction, error) {
	var (
		in                    models.PostInteraction
		state                 string
		created, stateChanged int64
	)
	err := row.Scan(&in.ID, &in.Type, &in.IdentityID, &in.PostID, &in.Value, &created, &state, &stateChanged)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.PostInteraction{}, err
		}
		return models.PostInteraction{}, fmt.Errorf("scan interaction: %w", err)
	}
	in.Created = fromMillis(created)
	in.State = stator.StateName(state)
	in.StateChanged = fromMillis(stateChanged)
	return in, nil
}
