package activities

import (
	"context"
	"log/slog"
	"time"

	"github.com/avaraline/incarnator/internal/models"
	"github.com/avaraline/incarnator/internal/remote"
	"github.com/avaraline/incarnator/internal/stator"
	"github.com/avaraline/incarnator/internal/store"
)

// Store is the persistence the activities graphs need.
type Store interface {
	stator.Transitioner

	GetOrCreateHashtag(ctx context.Context, name string, now time.Time) (models.Hashtag, bool, error)
	GetHashtag(ctx context.Context, name string) (models.Hashtag, error)
	SaveHashtagStats(ctx context.Context, name string, stats map[string]any, updated time.Time) error
	CountLocalPublicTagged(ctx context.Context, tag string, from, to time.Time) (int, error)
	TaggedActivity(ctx context.Context, tag string, from, to time.Time) (uses, accounts int, err error)
	PopularHashtags(ctx context.Context, since time.Time, limit, offset int) ([]store.TagUse, error)

	CreatePost(ctx context.Context, post *models.Post, now time.Time) error
	GetPost(ctx context.Context, id string) (models.Post, error)
	MarkPostDeleted(ctx context.Context, id string) error

	GetIdentity(ctx context.Context, id string) (models.Identity, error)
	GetIdentities(ctx context.Context, ids []string) ([]models.Identity, error)
	FollowerIDs(ctx context.Context, targetID string, states []stator.StateName) ([]string, error)
	GetFollowBetween(ctx context.Context, sourceID, targetID string) (models.Follow, error)
	BlockedIDs(ctx context.Context, sourceID string, withMutes bool) ([]string, error)

	CreateInteraction(ctx context.Context, in *models.PostInteraction, now time.Time) error
	GetInteraction(ctx context.Context, id string) (models.PostInteraction, error)
	FindInteractions(ctx context.Context, identityID, typ, postID string, states []stator.StateName) ([]models.PostInteraction, error)

	CreateFanOut(ctx context.Context, f *models.FanOut, now time.Time) (bool, error)
	GetFanOut(ctx context.Context, id string) (models.FanOut, error)

	AddTimelineEvent(ctx context.Context, ev *models.TimelineEvent, now time.Time) (bool, error)
	DeleteTimelineEvents(ctx context.Context, filter store.TimelineFilter) (int64, error)
	HasTimelineEvent(ctx context.Context, filter store.TimelineFilter) (bool, error)
}

// Notifier queues push notifications for a local identity.
type Notifier interface {
	Notify(ctx context.Context, identityID, typ string, source models.Identity, body string) (int, error)
}

// Service owns the hashtag, post interaction and fan-out graphs and the
// operations that feed them.
type Service struct {
	store     Store
	deliverer remote.Deliverer
	notifier  Notifier
	logger    *slog.Logger
	clock     stator.Clock
	location  *time.Location
	domain    string

	hashtags     *stator.Model
	interactions *stator.Model
	fanOuts      *stator.Model
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

// WithClock sets the clock. Default: stator.SystemClock.
func WithClock(c stator.Clock) Option {
	return func(s *Service) {
		s.clock = c
	}
}

// WithLocation sets the time zone whose calendar days bucket hashtag
// statistics. Default: UTC.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		s.location = loc
	}
}

// WithDomain sets the domain used to build hashtag URLs in activities.
func WithDomain(domain string) Option {
	return func(s *Service) {
		s.domain = domain
	}
}

// WithNotifier enables push notifications for local timeline events.
func WithNotifier(n Notifier) Option {
	return func(s *Service) {
		s.notifier = n
	}
}

// NewService creates the activities service. Fan-outs to remote identities
// are posted through d.
func NewService(st Store, d remote.Deliverer, opts ...Option) *Service {
	s := &Service{
		store:     st,
		deliverer: d,
		logger:    slog.Default(),
		clock:     stator.SystemClock{},
		location:  time.UTC,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.hashtags = stator.MustModel(store.TableHashtags, HashtagGraph(), stator.Handlers{
		models.HashtagOutdated: s.handleHashtagOutdated,
	})
	s.interactions = stator.MustModel(store.TablePostInteractions, InteractionGraph(), stator.Handlers{
		models.InteractionNew:    s.handleInteractionNew,
		models.InteractionUndone: s.handleInteractionUndone,
	})
	s.fanOuts = stator.MustModel(store.TableFanOuts, FanOutGraph(), stator.Handlers{
		models.FanOutNew: s.handleFanOutNew,
	})
	return s
}

// Models returns the graphs this service drives, for registration with an
// engine.
func (s *Service) Models() []*stator.Model {
	return []*stator.Model{s.hashtags, s.interactions, s.fanOuts}
}

func (s *Service) now() time.Time {
	return s.clock.Now()
}
