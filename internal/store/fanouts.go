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

const fanOutColumns = `id, identity_id, inbox, type, subject_post_id, subject_interaction_id, created, state, state_changed`

// CreateFanOut inserts a fan-out in the new state unless one already exists
// for the same type and subject and the same target: the inbox for remote
// fan-outs, the identity otherwise. inserted is false for a duplicate, in
// which case f.ID is left as generated and no row carries it.
func (s *Store) CreateFanOut(ctx context.Context, f *models.FanOut, now time.Time) (inserted bool, err error) {
	if f.ID == "" {
		f.ID = NewID()
	}
	if f.Created.IsZero() {
		f.Created = now
	}
	newStateful(&f.Stateful, models.FanOutNew, now)

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO fan_outs (`+fanOutColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`, f.ID, f.IdentityID, nullString(f.Inbox), f.Type, nullString(f.SubjectPostID), nullString(f.SubjectInteractionID),
		millis(f.Created), string(f.State), millis(f.StateChanged))
	if err != nil {
		return false, fmt.Errorf("create fan-out: %w", err)
	}
	return affectedOne(res)
}

// GetFanOut returns a fan-out by ID.
// Returns ErrNotFound if it does not exist.
func (s *Store) GetFanOut(ctx context.Context, id string) (models.FanOut, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+fanOutColumns+` FROM fan_outs WHERE id = ?`, id)
	f, err := scanFanOut(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.FanOut{}, fmt.Errorf("fan-out %s: %w", id, ErrNotFound)
	}
	return f, err
}

// FanOutFilter selects fan-outs by subject. Empty fields match anything.
type FanOutFilter struct {
	Type          string
	PostID        string
	InteractionID string
}

// ListFanOuts returns matching fan-outs ordered by target identity.
func (s *Store) ListFanOuts(ctx context.Context, filter FanOutFilter) ([]models.FanOut, error) {
	query := `SELECT ` + fanOutColumns + ` FROM fan_outs WHERE 1 = 1`
	var args []any
	if filter.Type != "" {
		query += ` AND type = ?`
		args = append(args, filter.Type)
	}
	if filter.PostID != "" {
		query += ` AND subject_post_id = ?`
		args = append(args, filter.PostID)
	}
	if filter.InteractionID != "" {
		query += ` AND subject_interaction_id = ?`
		args = append(args, filter.InteractionID)
	}
	query += ` ORDER BY identity_id COLLATE BINARY ASC, id COLLATE BINARY ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list fan-outs: %w", err)
	}
	defer rows.Close()

	out := []models.FanOut{}
	for rows.Next() {
		f, err := scanFanOut(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fan-outs: %w", err)
	}
	return out, nil
}

func scanFanOut(row rowScanner) (models.FanOut, error) {
	var (
		f                            models.FanOut
		inbox, postID, interactionID sql.NullString
		state                        string
		created, stateChanged        int64
	)
	err := row.Scan(&f.ID, &f.IdentityID, &inbox, &f.Type, &postID, &interactionID, &created, &state, &stateChanged)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.FanOut{}, err
		}
		return models.FanOut{}, fmt.Errorf("scan fan-out: %w", err)
	}
	f.Inbox = inbox.String
	f.SubjectPostID = postID.String
	f.SubjectInteractionID = interactionID.String
	f.Created = fromMillis(created)
	f.State = stator.StateName(state)
	f.StateChanged = fromMillis(stateChanged)
	return f, nil
}
