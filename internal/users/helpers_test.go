package users

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/neilotoole/slogt"
	"github.com/stretchr/testify/require"

	"github.com/avaraline/incarnator/internal/activities"
	"github.com/avaraline/incarnator/internal/engine"
	"github.com/avaraline/incarnator/internal/models"
	"github.com/avaraline/incarnator/internal/stator"
	"github.com/avaraline/incarnator/internal/store"
	"github.com/avaraline/incarnator/internal/testutil"
)

var testNow = time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

type notification struct {
	IdentityID string
	Type       string
	SourceID   string
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []notification
}

func (n *recordingNotifier) Notify(_ context.Context, identityID, typ string, source models.Identity, _ string) (int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, notification{IdentityID: identityID, Type: typ, SourceID: source.ID})
	return 1, nil
}

func (n *recordingNotifier) Calls() []notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notification(nil), n.calls...)
}

type fixture struct {
	store      *store.Store
	clock      *testutil.Clock
	deliverer  *testutil.Deliverer
	fetcher    *testutil.Fetcher
	notifier   *recordingNotifier
	activities *activities.Service
	service    *Service
	runner     *engine.Runner
}

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(t.TempDir() + "/test.db")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:     setupTestStore(t),
		clock:     testutil.NewClock(testNow),
		deliverer: testutil.NewDeliverer(),
		fetcher:   testutil.NewFetcher(),
		notifier:  &recordingNotifier{},
	}
	logger := slogt.New(t)
	f.activities = activities.NewService(f.store, f.deliverer,
		activities.WithLogger(logger),
		activities.WithClock(f.clock),
		activities.WithNotifier(f.notifier),
		activities.WithDomain("example.com"),
	)
	f.service = NewService(f.store, f.activities, f.deliverer,
		WithLogger(logger),
		WithClock(f.clock),
		WithNotifier(f.notifier),
		WithFetcher(f.fetcher),
		WithSyncConcurrency(4),
	)
	t.Cleanup(f.service.Close)

	reg := stator.NewRegistry()
	require.NoError(t, reg.Register(f.activities.Models()...))
	require.NoError(t, reg.Register(f.service.Models()...))
	f.runner = engine.New(f.store, reg,
		engine.WithLogger(logger), engine.WithClock(f.clock), engine.WithConcurrency(40, 20))
	t.Cleanup(f.runner.Close)
	return f
}

// settle runs enough cycles for a follow or block to reach its resting
// state.
func (f *fixture) settle() {
	for i := 0; i < 4; i++ {
		f.runner.RunOnce(context.Background())
	}
}

type identityOpt func(*models.Identity)

func remoteAt(host string) identityOpt {
	return func(i *models.Identity) {
		i.Local = false
		i.ActorURI = "https://" + host + "/users/" + i.Handle
		i.InboxURI = i.ActorURI + "/inbox"
		i.SharedInboxURI = "https://" + host + "/inbox"
		i.FollowersURI = ""
	}
}

func withCollections(i *models.Identity) {
	i.FeaturedCollectionURI = i.ActorURI + "/collections/featured"
	i.FeaturedTagsURI = i.ActorURI + "/collections/tags"
	i.FollowersURI = i.ActorURI + "/followers"
	i.FollowingURI = i.ActorURI + "/following"
	i.OutboxURI = i.ActorURI + "/outbox"
}

func approvesManually(i *models.Identity) { i.ManuallyApproves = true }

func (f *fixture) identity(t *testing.T, handle string, opts ...identityOpt) models.Identity {
	t.Helper()
	ident := models.Identity{
		Handle:   handle,
		ActorURI: "https://example.com/users/" + handle,
		InboxURI: "https://example.com/users/" + handle + "/inbox",
		Local:    true,
	}
	for _, opt := range opts {
		opt(&ident)
	}
	require.NoError(t, f.store.CreateIdentity(context.Background(), &ident, testNow))
	return ident
}

func (f *fixture) acceptedFollow(t *testing.T, source, target models.Identity) models.Follow {
	t.Helper()
	fl := models.Follow{
		SourceID: source.ID,
		TargetID: target.ID,
		Boosts:   true,
		Stateful: models.Stateful{State: models.FollowAccepted},
	}
	require.NoError(t, f.store.CreateFollow(context.Background(), &fl, testNow))
	return fl
}

func (f *fixture) post(t *testing.T, author models.Identity, uri string) models.Post {
	t.Helper()
	p := models.Post{AuthorID: author.ID, ObjectURI: uri, Content: "<p>hello</p>", Local: author.Local}
	require.NoError(t, f.store.CreatePost(context.Background(), &p, f.clock.Now()))
	return p
}

func (f *fixture) status(t *testing.T, table, id string) stator.Status {
	t.Helper()
	st, err := f.store.LoadStatus(context.Background(), table, id)
	require.NoError(t, err)
	return st
}

func (f *fixture) followState(t *testing.T, source, target models.Identity) stator.StateName {
	t.Helper()
	fl, err := f.store.GetFollowBetween(context.Background(), source.ID, target.ID)
	require.NoError(t, err)
	return fl.State
}

func (f *fixture) timeline(t *testing.T, ident models.Identity) []string {
	t.Helper()
	events, err := f.store.ListTimeline(context.Background(), store.TimelineFilter{IdentityID: ident.ID})
	require.NoError(t, err)
	types := make([]string, 0, len(events))
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	return types
}

// activityTypes decodes the delivered payloads and returns their types in
// delivery order.
func (f *fixture) activityTypes(t *testing.T) []string {
	t.Helper()
	var types []string
	for _, d := range f.deliverer.Deliveries() {
		var doc map[string]any
		require.NoError(t, json.Unmarshal(d.Payload, &doc))
		types = append(types, doc["type"].(string))
	}
	return types
}
