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

const subscriptionColumns = `token_id, identity_id, access_token, endpoint, auth, p256dh, alerts, policy`

// SavePushSubscription creates or replaces the subscription of a token.
func (s *Store) SavePushSubscription(ctx context.Context, sub models.PushSubscription) error {
	if sub.Policy == "" {
		sub.Policy = "all"
	}
	alerts, err := marshalJSON("push alerts", sub.Alerts)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO push_subscriptions (`+subscriptionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(token_id) DO UPDATE SET
			endpoint = excluded.endpoint, auth = excluded.auth, p256dh = excluded.p256dh,
			alerts = excluded.alerts, policy = excluded.policy
	`, sub.TokenID, sub.IdentityID, sub.AccessToken, sub.Endpoint, sub.Auth, sub.P256dh, alerts, sub.Policy)
	if err != nil {
		return fmt.Errorf("save push subscription: %w", err)
	}
	return nil
}

// GetPushSubscription returns the subscription of a token.
// Returns ErrNotFound if the token has none.
func (s *Store) GetPushSubscription(ctx context.Context, tokenID string) (models.PushSubscription, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+subscriptionColumns+` FROM push_subscriptions WHERE token_id = ?`, tokenID)
	sub, err := scanSubscription(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.PushSubscription{}, fmt.Errorf("push subscription %s: %w", tokenID, ErrNotFound)
	}
	return sub, err
}

// DeletePushSubscription removes the subscription of a token.
func (s *Store) DeletePushSubscription(ctx context.Context, tokenID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM push_subscriptions WHERE token_id = ?`, tokenID)
	if err != nil {
		return fmt.Errorf("delete push subscription: %w", err)
	}
	return requireOne(res, "push subscription", tokenID)
}

// PushSubscriptionsFor lists an identity's subscriptions.
func (s *Store) PushSubscriptionsFor(ctx context.Context, identityID string) ([]models.PushSubscription, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+subscriptionColumns+` FROM push_subscriptions
		WHERE identity_id = ? ORDER BY token_id COLLATE BINARY ASC
	`, identityID)
	if err != nil {
		return nil, fmt.Errorf("list push subscriptions: %w", err)
	}
	defer rows.Close()

	out := []models.PushSubscription{}
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate push subscriptions: %w", err)
	}
	return out, nil
}

func scanSubscription(row rowScanner) (models.PushSubscription, error) {
	var (
		sub    models.PushSubscription
		alerts string
	)
	err := row.Scan(&sub.TokenID, &sub.IdentityID, &sub.AccessToken, &sub.Endpoint, &sub.Auth, &sub.P256dh, &alerts, &sub.Policy)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.PushSubscription{}, err
		}
		return models.PushSubscription{}, fmt.Errorf("scan push subscription: %w", err)
	}
	if err := unmarshalJSON("push alerts", alerts, &sub.Alerts); err != nil {
		return models.PushSubscription{}, err
	}
	return sub, nil
}

const notificationColumns = `id, token_id, locale, type, title, body, created, state, state_changed`

// CreatePushNotification inserts a notification in the sending state,
// assigning an ID when empty.
func (s *Store) CreatePushNotification(ctx context.Context, n *models.PushNotification, now time.Time) error {
	if n.ID == "" {
		n.ID = NewID()
	}
	if n.Locale == "" {
		n.Locale = "en"
	}
	if n.Created.IsZero() {
		n.Created = now
	}
	newStateful(&n.Stateful, models.PushSending, now)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO push_notifications (`+notificationColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, n.ID, n.TokenID, n.Locale, n.Type, n.Title, n.Body, millis(n.Created),
		string(n.State), millis(n.StateChanged))
	if err != nil {
		return fmt.Errorf("create push notification: %w", err)
	}
	return nil
}

// GetPushNotification returns a notification by ID.
// Returns ErrNotFound if it does not exist.
func (s *Store) GetPushNotification(ctx context.Context, id string) (models.PushNotification, error) {
	var (
		n                     models.PushNotification
		state                 string
		created, stateChanged int64
	)
	err := s.db.QueryRowContext(ctx, `SELECT `+notificationColumns+` FROM push_notifications WHERE id = ?`, id).Scan(
		&n.ID, &n.TokenID, &n.Locale, &n.Type, &n.Title, &n.Body, &created, &state, &stateChanged,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return models.PushNotification{}, fmt.Errorf("push notification %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return models.PushNotification{}, fmt.Errorf("scan push notification: %w", err)
	}
	n.Created = fromMillis(created)
	n.State = stator.StateName(state)
	n.StateChanged = fromMillis(stateChanged)
	return n, nil
}
