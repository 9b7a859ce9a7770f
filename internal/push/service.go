package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/avaraline/incarnator/internal/models"
	"github.com/avaraline/incarnator/internal/remote"
	"github.com/avaraline/incarnator/internal/stator"
	"github.com/avaraline/incarnator/internal/store"
)

// Subscription policies: whose activity may notify the subscriber.
const (
	PolicyAll      = "all"
	PolicyFollowed = "followed"
	PolicyFollower = "follower"
	PolicyNone     = "none"
)

// Dispatcher sends one encrypted push message to a subscription endpoint.
// Errors wrapping remote.ErrPermanent mean the subscription is unusable.
type Dispatcher interface {
	Send(ctx context.Context, sub models.PushSubscription, payload []byte) error
}

// Store is the persistence the push service needs.
type Store interface {
	GetPushNotification(ctx context.Context, id string) (models.PushNotification, error)
	GetPushSubscription(ctx context.Context, tokenID string) (models.PushSubscription, error)
	PushSubscriptionsFor(ctx context.Context, identityID string) ([]models.PushSubscription, error)
	CreatePushNotification(ctx context.Context, n *models.PushNotification, now time.Time) error
	IsFollowing(ctx context.Context, sourceID, targetID string) (bool, error)
}

// Service creates push notifications and drives their delivery.
type Service struct {
	store      Store
	dispatcher Dispatcher
	logger     *slog.Logger
	clock      stator.Clock
	icon       string
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

// WithClock sets the clock used for creation timestamps.
func WithClock(c stator.Clock) Option {
	return func(s *Service) {
		s.clock = c
	}
}

// WithIcon sets the icon URL sent with every notification.
func WithIcon(url string) Option {
	return func(s *Service) {
		s.icon = url
	}
}

// NewService creates a push service. A nil dispatcher means push is not
// configured: every notification fails on its first attempt.
func NewService(st Store, d Dispatcher, opts ...Option) *Service {
	s := &Service{
		store:      st,
		dispatcher: d,
		logger:     slog.Default(),
		clock:      stator.SystemClock{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Model binds the delivery graph to the push_notifications table.
func (s *Service) Model() *stator.Model {
	return stator.MustModel(store.TablePushNotifications, Graph(), stator.Handlers{
		models.PushSending: s.handleSending,
	})
}

func (s *Service) handleSending(ctx context.Context, id string) (stator.Outcome, error) {
	if s.dispatcher == nil {
		return stator.TransitionTo(models.PushFailed), nil
	}

	n, err := s.store.GetPushNotification(ctx, id)
	if err != nil {
		return stator.NoChange, fmt.Errorf("load notification: %w", err)
	}
	sub, err := s.store.GetPushSubscription(ctx, n.TokenID)
	if errors.Is(err, store.ErrNotFound) {
		return stator.TransitionTo(models.PushFailed), nil
	}
	if err != nil {
		return stator.NoChange, fmt.Errorf("load subscription: %w", err)
	}

	payload, err := json.Marshal(webPushMessage{
		AccessToken:      sub.AccessToken,
		PreferredLocale:  n.Locale,
		NotificationID:   n.ID,
		NotificationType: n.Type,
		Icon:             s.icon,
		Title:            n.Title,
		Body:             n.Body,
	})
	if err != nil {
		return stator.NoChange, fmt.Errorf("encode notification: %w", err)
	}

	if err := s.dispatcher.Send(ctx, sub, payload); err != nil {
		if remote.IsPermanent(err) {
			s.logger.Info("push subscription rejected notification",
				"notification_id", id,
				"token_id", sub.TokenID,
				"error", err,
			)
			return stator.TransitionTo(models.PushFailed), nil
		}
		// Retried until the sending timeout gives up.
		s.logger.Warn("push send failed", "notification_id", id, "error", err)
		return stator.NoChange, nil
	}
	return stator.TransitionTo(models.PushSent), nil
}

// webPushMessage is the JSON the client service worker expects.
type webPushMessage struct {
	AccessToken      string `json:"access_token"`
	PreferredLocale  string `json:"preferred_locale"`
	NotificationID   string `json:"notification_id"`
	NotificationType string `json:"notification_type"`
	Icon             string `json:"icon"`
	Title            string `json:"title"`
	Body             string `json:"body"`
}

// NotifyToken queues a notification for one access token. It reports false
// without creating anything when the token has no subscription or the
// subscription switched this type off.
func (s *Service) NotifyToken(ctx context.Context, tokenID, typ, title, body string) (bool, error) {
	sub, err := s.store.GetPushSubscription(ctx, tokenID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("notify %s: %w", tokenID, err)
	}
	if !sub.Allows(typ) {
		return false, nil
	}
	return true, s.create(ctx, sub.TokenID, typ, title, body)
}

// Notify queues a notification to every subscription of identityID about
// something source did, honoring each subscription's alerts and policy.
// An empty body falls back to the type's default text. Returns the number
// of notifications created.
func (s *Service) Notify(ctx context.Context, identityID string, typ string, source models.Identity, body string) (int, error) {
	subs, err := s.store.PushSubscriptionsFor(ctx, identityID)
	if err != nil {
		return 0, fmt.Errorf("notify %s: %w", identityID, err)
	}
	if len(subs) == 0 {
		return 0, nil
	}

	title, fallback := Message(typ, source.Handle)
	if body == "" {
		body = fallback
	}

	created := 0
	for _, sub := range subs {
		if !sub.Allows(typ) {
			continue
		}
		ok, err := s.policyAllows(ctx, sub.Policy, identityID, source.ID)
		if err != nil {
			return created, err
		}
		if !ok {
			continue
		}
		if err := s.create(ctx, sub.TokenID, typ, title, body); err != nil {
			return created, err
		}
		created++
	}
	return created, nil
}

func (s *Service) policyAllows(ctx context.Context, policy, identityID, sourceID string) (bool, error) {
	switch policy {
	case PolicyNone:
		return false, nil
	case PolicyFollowed:
		return s.store.IsFollowing(ctx, identityID, sourceID)
	case PolicyFollower:
		return s.store.IsFollowing(ctx, sourceID, identityID)
	default:
		return true, nil
	}
}

func (s *Service) create(ctx context.Context, tokenID, typ, title, body string) error {
	n := models.PushNotification{
		TokenID: tokenID,
		Type:    typ,
		Title:   truncate(title, 100),
		Body:    truncate(body, 500),
	}
	if err := s.store.CreatePushNotification(ctx, &n, s.clock.Now()); err != nil {
		return fmt.Errorf("create push notification: %w", err)
	}
	s.logger.Debug("push notification queued", "notification_id", n.ID, "token_id", tokenID, "type", typ)
	return nil
}

// Message returns the default title and body for a notification type
// about an action by handle.
func Message(typ, handle string) (title, body string) {
	switch typ {
	case models.PushMention:
		return "Mention", handle + " mentioned you."
	case models.PushStatus:
		return "New post", handle + " just posted."
	case models.PushBoost:
		return "Boost", handle + " boosted your post."
	case models.PushFollow:
		return "New follower", handle + " followed you."
	case models.PushFollowRequest:
		return "Follow request", handle + " requested to follow you."
	case models.PushFavorite:
		return "Favorite", handle + " favorited your post."
	case models.PushPoll:
		return "Poll", "A poll you voted in has ended."
	case models.PushUpdate:
		return "Edit", handle + " edited a post."
	default:
		return "", ""
	}
}

func truncate(s string, n int) string {
	if len([]rune(s)) <= n {
		return s
	}
	return strings.TrimSpace(string([]rune(s)[:n-1])) + "…"
}
