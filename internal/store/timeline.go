package store

import (
	"context"
	"fmt"
	"time"

	"github.com/avaraline/incarnator/internal/models"
)

const timelineColumns = `id, identity_id, type, subject_post_id, subject_identity_id, subject_interaction_id,
	published, seen, dismissed`

// AddTimelineEvent inserts ev unless an identical event (same identity, type
// and subjects) exists. created reports whether a row was inserted.
func (s *Store) AddTimelineEvent(ctx context.Context, ev *models.TimelineEvent, now time.Time) (created bool, err error) {
	if ev.ID == "" {
		ev.ID = NewID()
	}
	if ev.Published.IsZero() {
		ev.Published = now
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO timeline_events (`+timelineColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`, ev.ID, ev.IdentityID, ev.Type, nullString(ev.SubjectPostID), nullString(ev.SubjectIdentityID),
		nullString(ev.SubjectInteractionID), millis(ev.Published), boolInt(ev.Seen), boolInt(ev.Dismissed))
	if err != nil {
		return false, fmt.Errorf("add timeline event: %w", err)
	}
	return affectedOne(res)
}

// TimelineFilter selects one identity's timeline events. Empty fields match
// anything.
type TimelineFilter struct {
	IdentityID        string
	Types             []string
	PostID            string
	SubjectIdentityID string
	InteractionID     string
}

func (f TimelineFilter) where() (string, []any) {
	clause := `identity_id = ?`
	args := []any{f.IdentityID}
	if len(f.Types) > 0 {
		clause += ` AND type IN (` + placeholders(len(f.Types)) + `)`
		args = append(args, stringArgs(f.Types)...)
	}
	if f.PostID != "" {
		clause += ` AND subject_post_id = ?`
		args = append(args, f.PostID)
	}
	if f.SubjectIdentityID != "" {
		clause += ` AND subject_identity_id = ?`
		args = append(args, f.SubjectIdentityID)
	}
	if f.InteractionID != "" {
		clause += ` AND subject_interaction_id = ?`
		args = append(args, f.InteractionID)
	}
	return clause, args
}

// DeleteTimelineEvents removes matching events and returns how many went.
func (s *Store) DeleteTimelineEvents(ctx context.Context, filter TimelineFilter) (int64, error) {
	where, args := filter.where()
	res, err := s.db.ExecContext(ctx, `DELETE FROM timeline_events WHERE `+where, args...)
	if err != nil {
		return 0, fmt.Errorf("delete timeline events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete timeline events: %w", err)
	}
	return n, nil
}

// HasTimelineEvent reports whether any event matches.
func (s *Store) HasTimelineEvent(ctx context.Context, filter TimelineFilter) (bool, error) {
	where, args := filter.where()
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM timeline_events WHERE `+where+`)`, args...).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check timeline event: %w", err)
	}
	return exists == 1, nil
}

// ListTimeline returns matching events, newest first.
func (s *Store) ListTimeline(ctx context.Context, filter TimelineFilter) ([]models.TimelineEvent, error) {
	where, args := filter.where()
	rows, err := s.db.QueryContext(ctx, `
		SELECT COALESCE(subject_post_id, ''), COALESCE(subject_identity_id, ''), COALESCE(subject_interaction_id, ''),
		       id, identity_id, type, published, seen, dismissed
		FROM timeline_events WHERE `+where+`
		ORDER BY published DESC, id COLLATE BINARY DESC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("list timeline: %w", err)
	}
	defer rows.Close()

	out := []models.TimelineEvent{}
	for rows.Next() {
		var (
			ev              models.TimelineEvent
			published       int64
			seen, dismissed int
		)
		if err := rows.Scan(&ev.SubjectPostID, &ev.SubjectIdentityID, &ev.SubjectInteractionID,
			&ev.ID, &ev.IdentityID, &ev.Type, &published, &seen, &dismissed); err != nil {
			return nil, fmt.Errorf("scan timeline event: %w", err)
		}
		ev.Published = fromMillis(published)
		ev.Seen = seen == 1
		ev.Dismissed = dismissed == 1
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate timeline: %w", err)
	}
	return out, nil
}
