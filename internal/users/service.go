package users

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/alitto/pond/v2"

	"github.com/avaraline/incarnator/internal/activities"
	"github.com/avaraline/incarnator/internal/models"
	"github.com/avaraline/incarnator/internal/remote"
	"github.com/avaraline/incarnator/internal/stator"
	"github.com/avaraline/incarnator/internal/store"
)

// ErrSelfRelation is returned when an identity tries to follow, block or
// mute itself.
var ErrSelfRelation = errors.New("identity cannot target itself")

const defaultSyncConcurrency = 8

// Store is the persistence the users graphs need.
type Store interface {
	stator.Transitioner
	DeleteEntity(ctx context.Context, table, id string) error

	GetIdentity(ctx context.Context, id string) (models.Identity, error)
	LocalIdentityIDs(ctx context.Context) ([]string, error)
	ComputeLocalStats(ctx context.Context, id string) (models.IdentityStats, error)
	UpdateIdentityStats(ctx context.Context, id string, stats models.IdentityStats) error

	CreateFollow(ctx context.Context, f *models.Follow, now time.Time) error
	GetFollow(ctx context.Context, id string) (models.Follow, error)
	GetFollowBetween(ctx context.Context, sourceID, targetID string) (models.Follow, error)

	CreateBlock(ctx context.Context, b *models.Block, now time.Time) error
	GetBlock(ctx context.Context, id string) (models.Block, error)
	FindBlocks(ctx context.Context, sourceID, targetID string, mute bool, states []stator.StateName) ([]models.Block, error)

	GetPost(ctx context.Context, id string) (models.Post, error)
	GetPostByURI(ctx context.Context, uri string) (models.Post, error)
	FindInteractions(ctx context.Context, identityID, typ, postID string, states []stator.StateName) ([]models.PostInteraction, error)
	SyncHashtagFeatures(ctx context.Context, identityID string, tags []string, now time.Time) error

	AddTimelineEvent(ctx context.Context, ev *models.TimelineEvent, now time.Time) (bool, error)
	DeleteTimelineEvents(ctx context.Context, filter store.TimelineFilter) (int64, error)
}

// Activities is the part of the activities service identity sync drives.
type Activities interface {
	EnsureHashtag(ctx context.Context, name string, update bool) (models.Hashtag, error)
	Pin(ctx context.Context, identityID, postID string) (models.PostInteraction, error)
	RetractPin(ctx context.Context, in models.PostInteraction) error
}

// Service owns the follow, block and identity graphs and the relationship
// operations that feed them.
type Service struct {
	store      Store
	activities Activities
	deliverer  remote.Deliverer
	fetcher    remote.Fetcher
	notifier   activities.Notifier
	logger     *slog.Logger
	clock      stator.Clock
	syncPool   pond.Pool

	follows    *stator.Model
	blocks     *stator.Model
	identities *stator.Model
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

// WithNotifier enables follow and follow request push notifications.
func WithNotifier(n activities.Notifier) Option {
	return func(s *Service) {
		s.notifier = n
	}
}

// WithFetcher enables remote identity sync. Without one, remote identities
// are marked updated without being read.
func WithFetcher(f remote.Fetcher) Option {
	return func(s *Service) {
		s.fetcher = f
	}
}

// WithSyncConcurrency bounds the collection fetches in flight across all
// remote identity syncs. Default: 8.
func WithSyncConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.syncPool = pond.NewPool(n)
		}
	}
}

// NewService creates the users service. Relationship activities for
// remote identities are posted through d; acts handles the pins and
// featured hashtags found while syncing remote identities.
func NewService(st Store, acts Activities, d remote.Deliverer, opts ...Option) *Service {
	s := &Service{
		store:      st,
		activities: acts,
		deliverer:  d,
		logger:     slog.Default(),
		clock:      stator.SystemClock{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.syncPool == nil {
		s.syncPool = pond.NewPool(defaultSyncConcurrency)
	}

	s.follows = stator.MustModel(store.TableFollows, FollowGraph(), stator.Handlers{
		models.FollowUnrequested:    s.handleFollowUnrequested,
		models.FollowAccepting:      s.handleFollowAccepting,
		models.FollowRejecting:      s.handleFollowRejecting,
		models.FollowUndone:         s.handleFollowUndone,
		models.FollowPendingRemoval: s.handleFollowPendingRemoval,
	})
	s.blocks = stator.MustModel(store.TableBlocks, BlockGraph(), stator.Handlers{
		models.BlockNew:            s.handleBlockNew,
		models.BlockAwaitingExpiry: s.handleBlockAwaitingExpiry,
		models.BlockUndone:         s.handleBlockUndone,
	})
	s.identities = stator.MustModel(store.TableIdentities, IdentityGraph(), stator.Handlers{
		models.IdentityOutdated: s.handleIdentityOutdated,
	})
	return s
}

// Models returns the graphs this service drives, for registration with an
// engine.
func (s *Service) Models() []*stator.Model {
	return []*stator.Model{s.follows, s.blocks, s.identities}
}

// Close waits for in-flight collection fetches and stops the sync pool.
func (s *Service) Close() {
	s.syncPool.StopAndWait()
}

func (s *Service) now() time.Time {
	return s.clock.Now()
}

// deliver posts doc to inbox. done is false when the attempt should be
// repeated later. Permanent failures count as done: retrying cannot help.
func (s *Service) deliver(ctx context.Context, inbox string, doc map[string]any, attrs ...any) (done bool, err error) {
	if inbox == "" {
		return true, nil
	}
	if s.deliverer == nil {
		s.logger.Warn("no deliverer configured, dropping activity", append(attrs, "inbox", inbox)...)
		return true, nil
	}
	payload, err := encodeActivity(doc)
	if err != nil {
		return false, err
	}

	err = s.deliverer.Deliver(ctx, inbox, payload)
	switch {
	case err == nil:
		return true, nil
	case remote.IsPermanent(err):
		s.logger.Info("remote inbox rejected activity", append(attrs, "inbox", inbox, "error", err)...)
		return true, nil
	case remote.IsRetriable(err):
		s.logger.Warn("activity delivery failed", append(attrs, "inbox", inbox, "error", err)...)
		return false, nil
	default:
		return false, err
	}
}

func (s *Service) notify(ctx context.Context, target models.Identity, typ string, source models.Identity) error {
	if s.notifier == nil || !target.Local {
		return nil
	}
	_, err := s.notifier.Notify(ctx, target.ID, typ, source, "")
	return err
}
