package activities

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/neilotoole/slogt"
	"github.com/stretchr/testify/require"

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
	store     *store.Store
	clock     *testutil.Clock
	deliverer *testutil.Deliverer
	notifier  *recordingNotifier
	service   *Service
	runner    *engine.Runner
}

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(t.TempDir() + "/test.db")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		store:     setupTestStore(t),
		clock:     testutil.NewClock(testNow),
		deliverer: testutil.NewDeliverer(),
		notifier:  &recordingNotifier{},
	}
	logger := slogt.New(t)
	opts = append([]Option{
		WithLogger(logger),
		WithClock(f.clock),
		WithNotifier(f.notifier),
		WithDomain("example.com"),
	}, opts...)
	f.service = NewService(f.store, f.deliverer, opts...)

	reg := stator.NewRegistry()
	require.NoError(t, reg.Register(f.service.Models()...))
	f.runner = engine.New(f.store, reg,
		engine.WithLogger(logger), engine.WithClock(f.clock), engine.WithConcurrency(40, 20))
	t.Cleanup(f.runner.Close)
	return f
}

// settle runs enough cycles for interactions to fan out and their fan-outs
// to be handled.
func (f *fixture) settle() {
	for i := 0; i < 3; i++ {
		f.runner.RunOnce(context.Background())
	}
}

type identityOpt func(*models.Identity)

func remoteAt(sharedInbox string) identityOpt {
	return func(i *models.Identity) {
		i.Local = false
		i.ActorURI = "https://" + sharedInbox + "/users/" + i.Handle
		i.InboxURI = i.ActorURI + "/inbox"
		i.SharedInboxURI = "https://" + sharedInbox + "/inbox"
	}
}

func asGroup(i *models.Identity) { i.ActorType = models.ActorGroup }

func (f *fixture) identity(t *testing.T, handle string, opts ...identityOpt) models.Identity {
	t.Helper()
	ident := models.Identity{
		Handle:       handle,
		ActorURI:     "https://example.com/users/" + handle,
		InboxURI:     "https://example.com/users/" + handle + "/inbox",
		FollowersURI: "https://example.com/users/" + handle + "/followers",
		Local:        true,
	}
	for _, opt := range opts {
		opt(&ident)
	}
	require.NoError(t, f.store.CreateIdentity(context.Background(), &ident, testNow))
	return ident
}

func (f *fixture) follow(t *testing.T, source, target models.Identity) models.Follow {
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

func (f *fixture) post(t *testing.T, author models.Identity, uri string, edit ...func(*models.Post)) models.Post {
	t.Helper()
	p := models.Post{AuthorID: author.ID, ObjectURI: uri, Content: "<p>hello</p>", Local: author.Local}
	for _, fn := range edit {
		fn(&p)
	}
	require.NoError(t, f.store.CreatePost(context.Background(), &p, f.clock.Now()))
	return p
}

func (f *fixture) interaction(t *testing.T, identity models.Identity, post models.Post, typ string, state stator.StateName) models.PostInteraction {
	t.Helper()
	in := models.PostInteraction{
		Type:       typ,
		IdentityID: identity.ID,
		PostID:     post.ID,
		Stateful:   models.Stateful{State: state},
	}
	require.NoError(t, f.store.CreateInteraction(context.Background(), &in, f.clock.Now()))
	return in
}

func (f *fixture) fanOut(t *testing.T, target models.Identity, typ string, post models.Post, in *models.PostInteraction) models.FanOut {
	t.Helper()
	fo := models.FanOut{IdentityID: target.ID, Type: typ, SubjectPostID: post.ID}
	if in != nil {
		fo.SubjectInteractionID = in.ID
	}
	inserted, err := f.store.CreateFanOut(context.Background(), &fo, f.clock.Now())
	require.NoError(t, err)
	require.True(t, inserted)
	return fo
}

func (f *fixture) status(t *testing.T, table, id string) stator.Status {
	t.Helper()
	st, err := f.store.LoadStatus(context.Background(), table, id)
	require.NoError(t, err)
	return st
}

func (f *fixture) timeline(t *testing.T, identity models.Identity) []string {
	t.Helper()
	events, err := f.store.ListTimeline(context.Background(), store.TimelineFilter{IdentityID: identity.ID})
	require.NoError(t, err)
	types := make([]string, 0, len(events))
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	return types
}
