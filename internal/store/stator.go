package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/avaraline/incarnator/internal/models"
	"github.com/avaraline/incarnator/internal/stator"
)

// Tables driven by a state graph. Table names are interpolated into SQL, so
// only these are accepted.
const (
	TableIdentities        = "identities"
	TableHashtags          = "hashtags"
	TablePostInteractions  = "post_interactions"
	TableFanOuts           = "fan_outs"
	TableFollows           = "follows"
	TableBlocks            = "blocks"
	TablePushNotifications = "push_notifications"
)

var statorTables = map[string]bool{
	TableIdentities:        true,
	TableHashtags:          true,
	TablePostInteractions:  true,
	TableFanOuts:           true,
	TableFollows:           true,
	TableBlocks:            true,
	TablePushNotifications: true,
}

func checkTable(table string) error {
	if !statorTables[table] {
		return fmt.Errorf("unknown stateful table %q", table)
	}
	return nil
}

const statusColumns = "id, state, state_changed, state_attempted, state_attempts, state_locked_until"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStatus(row rowScanner) (stator.Status, error) {
	var (
		st        stator.Status
		changed   int64
		attempted sql.NullInt64
		locked    sql.NullInt64
	)
	if err := row.Scan(&st.ID, &st.State, &changed, &attempted, &st.Attempts, &locked); err != nil {
		return stator.Status{}, err
	}
	st.Changed = fromMillis(changed)
	st.Attempted = fromNullMillis(attempted)
	st.LockedUntil = fromNullMillis(locked)
	return st, nil
}

// QueryDue returns up to limit unlocked entities that are due at asOf under
// rules: never attempted, attempted at least one try interval ago, or past
// the state's timeout. Results are ordered oldest attempt first (never
// attempted before everything), ties broken by id.
func (s *Store) QueryDue(ctx context.Context, table string, rules []stator.DueRule, asOf time.Time, limit int) ([]stator.Status, error) {
	if err := checkTable(table); err != nil {
		return nil, err
	}
	if len(rules) == 0 || limit <= 0 {
		return []stator.Status{}, nil
	}

	now := millis(asOf)
	args := []any{now}
	clauses := make([]string, 0, len(rules))
	for _, r := range rules {
		clause := "(state = ? AND (state_attempted IS NULL OR state_attempted <= ?"
		args = append(args, string(r.State), millis(asOf.Add(-r.TryInterval)))
		if r.TimeoutAfter > 0 {
			clause += " OR state_changed <= ?"
			args = append(args, millis(asOf.Add(-r.TimeoutAfter)))
		}
		clauses = append(clauses, clause+"))")
	}
	args = append(args, limit)

	query := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE (state_locked_until IS NULL OR state_locked_until <= ?)
		AND (%s)
		ORDER BY COALESCE(state_attempted, 0) ASC, id COLLATE BINARY ASC
		LIMIT ?
	`, statusColumns, table, strings.Join(clauses, " OR "))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query due %s: %w", table, err)
	}
	defer rows.Close()

	due := []stator.Status{}
	for rows.Next() {
		st, err := scanStatus(rows)
		if err != nil {
			return nil, fmt.Errorf("scan due %s: %w", table, err)
		}
		due = append(due, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate due %s: %w", table, err)
	}
	return due, nil
}

// TryClaim leases an entity until until. The claim fails when the entity has
// left state or another worker holds an unexpired lease.
func (s *Store) TryClaim(ctx context.Context, table, id string, state stator.StateName, now, until time.Time) (bool, error) {
	if err := checkTable(table); err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s SET state_locked_until = ?
		WHERE id = ? AND state = ?
		AND (state_locked_until IS NULL OR state_locked_until <= ?)
	`, table), millis(until), id, string(state), millis(now))
	if err != nil {
		return false, fmt.Errorf("claim %s %s: %w", table, id, err)
	}
	return affectedOne(res)
}

// Release clears the lease ending at until. A lease that has since been
// replaced by another claim is left alone.
func (s *Store) Release(ctx context.Context, table, id string, until time.Time) error {
	if err := checkTable(table); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s SET state_locked_until = NULL WHERE id = ? AND state_locked_until = ?
	`, table), id, millis(until)); err != nil {
		return fmt.Errorf("release %s %s: %w", table, id, err)
	}
	return nil
}

// claimedClause matches a row still exactly as a claim left it: same state,
// same entry into it and the same lease.
const claimedClause = `id = ? AND state = ? AND state_changed = ? AND state_locked_until IS ?`

func claimedArgs(claimed stator.Status) []any {
	return []any{claimed.ID, string(claimed.State), millis(claimed.Changed), nullMillis(claimed.LockedUntil)}
}

// RecordAttempt stamps state_attempted and releases the lease, provided the
// entity is still as claimed. countFailure increments state_attempts.
// Returns false when the entity moved or its lease changed hands, in which
// case nothing is written.
func (s *Store) RecordAttempt(ctx context.Context, table string, claimed stator.Status, now time.Time, countFailure bool) (bool, error) {
	if err := checkTable(table); err != nil {
		return false, err
	}
	increment := 0
	if countFailure {
		increment = 1
	}
	args := append([]any{millis(now), increment}, claimedArgs(claimed)...)
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s
		SET state_attempted = ?, state_attempts = state_attempts + ?, state_locked_until = NULL
		WHERE %s
	`, table, claimedClause), args...)
	if err != nil {
		return false, fmt.Errorf("record attempt %s %s: %w", table, claimed.ID, err)
	}
	return affectedOne(res)
}

// TransitionClaimed moves a claimed entity to to and releases the lease,
// provided it is still as claimed. It resets the attempt counter and sets
// state_attempted to attempted (zero for NULL).
func (s *Store) TransitionClaimed(ctx context.Context, table string, claimed stator.Status, to stator.StateName, now, attempted time.Time) (bool, error) {
	if err := checkTable(table); err != nil {
		return false, err
	}
	args := append([]any{string(to), millis(now), nullMillis(attempted)}, claimedArgs(claimed)...)
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s
		SET state = ?, state_changed = ?, state_attempted = ?, state_attempts = 0, state_locked_until = NULL
		WHERE %s
	`, table, claimedClause), args...)
	if err != nil {
		return false, fmt.Errorf("transition %s %s: %w", table, claimed.ID, err)
	}
	return affectedOne(res)
}

// CompareAndTransition moves an entity to to provided it still has from's
// state and change time. It resets the attempt counter and sets
// state_attempted to attempted (zero for NULL). The lease is not touched:
// a handler still running against the old state keeps the entity until it
// finishes.
func (s *Store) CompareAndTransition(ctx context.Context, table, id string, from stator.Status, to stator.StateName, now, attempted time.Time) (bool, error) {
	if err := checkTable(table); err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s
		SET state = ?, state_changed = ?, state_attempted = ?, state_attempts = 0
		WHERE id = ? AND state = ? AND state_changed = ?
	`, table), string(to), millis(now), nullMillis(attempted), id, string(from.State), millis(from.Changed))
	if err != nil {
		return false, fmt.Errorf("transition %s %s: %w", table, id, err)
	}
	return affectedOne(res)
}

// LoadStatus reads the scheduling columns of one entity.
// Returns ErrNotFound if the entity does not exist.
func (s *Store) LoadStatus(ctx context.Context, table, id string) (stator.Status, error) {
	if err := checkTable(table); err != nil {
		return stator.Status{}, err
	}
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT %s FROM %s WHERE id = ?`, statusColumns, table), id)
	st, err := scanStatus(row)
	if errors.Is(err, sql.ErrNoRows) {
		return stator.Status{}, fmt.Errorf("%s %s: %w", table, id, ErrNotFound)
	}
	if err != nil {
		return stator.Status{}, fmt.Errorf("load status %s %s: %w", table, id, err)
	}
	return st, nil
}

// DeleteEntity removes one entity.
func (s *Store) DeleteEntity(ctx context.Context, table, id string) error {
	if err := checkTable(table); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, table), id); err != nil {
		return fmt.Errorf("delete %s %s: %w", table, id, err)
	}
	return nil
}

// DeleteExpired removes unlocked entities in state whose state_changed is at
// or before changedBefore. Returns the number of rows deleted.
func (s *Store) DeleteExpired(ctx context.Context, table string, state stator.StateName, changedBefore, now time.Time) (int64, error) {
	if err := checkTable(table); err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		DELETE FROM %s
		WHERE state = ? AND state_changed <= ?
		AND (state_locked_until IS NULL OR state_locked_until <= ?)
	`, table), string(state), millis(changedBefore), millis(now))
	if err != nil {
		return 0, fmt.Errorf("delete expired %s: %w", table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete expired %s: %w", table, err)
	}
	return n, nil
}

// StateCount summarizes the entities of one table in one state.
type StateCount struct {
	State       stator.StateName `json:"state"`
	Count       int              `json:"count"`
	MaxAttempts int              `json:"max_attempts"`
	Locked      int              `json:"locked"`
}

// StateCounts groups a table by state. Locked counts leases unexpired at now.
func (s *Store) StateCounts(ctx context.Context, table string, now time.Time) ([]StateCount, error) {
	if err := checkTable(table); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT state, COUNT(*), MAX(state_attempts),
		       SUM(CASE WHEN state_locked_until > ? THEN 1 ELSE 0 END)
		FROM %s
		GROUP BY state
		ORDER BY state COLLATE BINARY ASC
	`, table), millis(now))
	if err != nil {
		return nil, fmt.Errorf("state counts %s: %w", table, err)
	}
	defer rows.Close()

	counts := []StateCount{}
	for rows.Next() {
		var c StateCount
		if err := rows.Scan(&c.State, &c.Count, &c.MaxAttempts, &c.Locked); err != nil {
			return nil, fmt.Errorf("scan state counts %s: %w", table, err)
		}
		counts = append(counts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate state counts %s: %w", table, err)
	}
	return counts, nil
}

// newStateful defaults a record's state columns for insertion: the given
// initial state unless the caller chose one, and now unless a change time was
// set.
func newStateful(st *models.Stateful, initial stator.StateName, now time.Time) {
	if st.State == "" {
		st.State = initial
	}
	if st.StateChanged.IsZero() {
		st.StateChanged = now
	}
}

func affectedOne(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
