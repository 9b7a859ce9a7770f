package push

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/neilotoole/slogt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avaraline/incarnator/internal/engine"
	"github.com/avaraline/incarnator/internal/models"
	"github.com/avaraline/incarnator/internal/remote"
	"github.com/avaraline/incarnator/internal/stator"
	"github.com/avaraline/incarnator/internal/store"
	"github.com/avaraline/incarnator/internal/testutil"
)

var testNow = time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store      *store.Store
	clock      *testutil.Clock
	dispatcher *testutil.Dispatcher
	service    *Service
	runner     *engine.Runner
	alice      models.Identity
	bob        models.Identity
}

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(t.TempDir() + "/test.db")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newFixture(t *testing.T, configured bool) *fixture {
	t.Helper()
	f := &fixture{
		store:      setupTestStore(t),
		clock:      testutil.NewClock(testNow),
		dispatcher: testutil.NewDispatcher(),
	}
	var d Dispatcher
	if configured {
		d = f.dispatcher
	}
	logger := slogt.New(t)
	f.service = NewService(f.store, d, WithLogger(logger), WithClock(f.clock), WithIcon("https://example.com/icon.png"))

	reg := stator.NewRegistry()
	require.NoError(t, reg.Register(f.service.Model()))
	f.runner = engine.New(f.store, reg, engine.WithLogger(logger), engine.WithClock(f.clock))
	t.Cleanup(f.runner.Close)

	ctx := context.Background()
	for _, handle := range []string{"alice", "bob"} {
		ident := models.Identity{Handle: handle, ActorURI: "https://example.com/users/" + handle, Local: true}
		require.NoError(t, f.store.CreateIdentity(ctx, &ident, testNow))
		if handle == "alice" {
			f.alice = ident
		} else {
			f.bob = ident
		}
	}
	require.NoError(t, f.store.SavePushSubscription(ctx, models.PushSubscription{
		TokenID:     "alice-phone",
		IdentityID:  f.alice.ID,
		AccessToken: "secret-token",
		Endpoint:    "https://push.example/alice",
		Auth:        "auth",
		P256dh:      "p256dh",
	}))
	return f
}

func (f *fixture) notification(t *testing.T) string {
	t.Helper()
	ok, err := f.service.NotifyToken(context.Background(), "alice-phone", models.PushMention, "Mention", "bob mentioned you.")
	require.NoError(t, err)
	require.True(t, ok)

	ids, err := f.store.QueryDue(context.Background(), store.TablePushNotifications, Graph().DueRules(), f.clock.Now(), 10)
	require.NoError(t, err)
	require.Len(t, ids, 1)
	return ids[0].ID
}

func (f *fixture) state(t *testing.T, id string) stator.Status {
	t.Helper()
	st, err := f.store.LoadStatus(context.Background(), store.TablePushNotifications, id)
	require.NoError(t, err)
	return st
}

func TestSending_Delivered(t *testing.T) {
	f := newFixture(t, true)
	id := f.notification(t)

	f.runner.RunOnce(context.Background())

	assert.Equal(t, models.PushSent, f.state(t, id).State)
	sent := f.dispatcher.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "https://push.example/alice", sent[0].Subscription.Endpoint)

	var msg map[string]string
	require.NoError(t, json.Unmarshal(sent[0].Payload, &msg))
	assert.Equal(t, map[string]string{
		"access_token":      "secret-token",
		"preferred_locale":  "en",
		"notification_id":   id,
		"notification_type": models.PushMention,
		"icon":              "https://example.com/icon.png",
		"title":             "Mention",
		"body":              "bob mentioned you.",
	}, msg)
}

func TestSending_UnconfiguredFailsImmediately(t *testing.T) {
	f := newFixture(t, false)
	id := f.notification(t)

	f.runner.RunOnce(context.Background())

	st := f.state(t, id)
	assert.Equal(t, models.PushFailed, st.State)
	assert.Equal(t, 0, st.Attempts)
	assert.Empty(t, f.dispatcher.Sent())
}

func TestSending_SubscriptionRemovedFails(t *testing.T) {
	f := newFixture(t, true)
	id := f.notification(t)
	require.NoError(t, f.store.DeletePushSubscription(context.Background(), "alice-phone"))

	f.runner.RunOnce(context.Background())

	assert.Equal(t, models.PushFailed, f.state(t, id).State)
	assert.Empty(t, f.dispatcher.Sent())
}

func TestSending_ExpiredSubscriptionFails(t *testing.T) {
	f := newFixture(t, true)
	id := f.notification(t)
	f.dispatcher.FailWith(fmt.Errorf("web push: %w", &remote.StatusError{Method: "POST", URL: "https://push.example/alice", StatusCode: 410}))

	f.runner.RunOnce(context.Background())

	assert.Equal(t, models.PushFailed, f.state(t, id).State)
}

func TestSending_RetriesUntilTimeout(t *testing.T) {
	f := newFixture(t, true)
	id := f.notification(t)
	f.dispatcher.FailWith(fmt.Errorf("connection reset: %w", remote.ErrRetriable))
	ctx := context.Background()

	for i := 0; i < 9; i++ {
		f.runner.RunOnce(ctx)
		require.Equal(t, models.PushSending, f.state(t, id).State)
		f.clock.Advance(time.Minute)
	}
	assert.Len(t, f.dispatcher.Sent(), 9)
	assert.Equal(t, 9, f.state(t, id).Attempts)

	// 600s after creation the timeout fails it without another send.
	f.clock.Set(testNow.Add(600 * time.Second))
	f.runner.RunOnce(ctx)
	assert.Equal(t, models.PushFailed, f.state(t, id).State)
	assert.Len(t, f.dispatcher.Sent(), 9)
}

func TestSending_SentIsDeletedAfter15Minutes(t *testing.T) {
	f := newFixture(t, true)
	id := f.notification(t)
	ctx := context.Background()

	f.runner.RunOnce(ctx)
	require.Equal(t, models.PushSent, f.state(t, id).State)

	f.clock.Advance(15 * time.Minute)
	f.runner.RunOnce(ctx)
	_, err := f.store.LoadStatus(ctx, store.TablePushNotifications, id)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestNotifyToken_RespectsAlerts(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	require.NoError(t, f.store.SavePushSubscription(ctx, models.PushSubscription{
		TokenID: "quiet", IdentityID: f.alice.ID, Endpoint: "https://push.example/quiet",
		Alerts: map[string]bool{models.PushFavorite: false},
	}))

	ok, err := f.service.NotifyToken(ctx, "quiet", models.PushFavorite, "Favorite", "")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = f.service.NotifyToken(ctx, "missing", models.PushMention, "Mention", "")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNotify_Policies(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		policy        string
		aliceFollows  bool
		followsAlice  bool
		wantDelivered int
	}{
		{PolicyAll, false, false, 1},
		{PolicyNone, true, true, 0},
		{PolicyFollowed, false, true, 0},
		{PolicyFollowed, true, false, 1},
		{PolicyFollower, true, false, 0},
		{PolicyFollower, false, true, 1},
	}
	for _, tt := range tests {
		name := fmt.Sprintf("%s/follows=%v/followed=%v", tt.policy, tt.aliceFollows, tt.followsAlice)
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, true)
			require.NoError(t, f.store.SavePushSubscription(ctx, models.PushSubscription{
				TokenID: "alice-phone", IdentityID: f.alice.ID, Endpoint: "https://push.example/alice", Policy: tt.policy,
			}))
			if tt.aliceFollows {
				require.NoError(t, f.store.CreateFollow(ctx, &models.Follow{SourceID: f.alice.ID, TargetID: f.bob.ID,
					Stateful: models.Stateful{State: models.FollowAccepted}}, testNow))
			}
			if tt.followsAlice {
				require.NoError(t, f.store.CreateFollow(ctx, &models.Follow{SourceID: f.bob.ID, TargetID: f.alice.ID,
					Stateful: models.Stateful{State: models.FollowAccepted}}, testNow))
			}

			n, err := f.service.Notify(ctx, f.alice.ID, models.PushBoost, f.bob, "")
			require.NoError(t, err)
			assert.Equal(t, tt.wantDelivered, n)
		})
	}
}

func TestNotify_DefaultBody(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	n, err := f.service.Notify(ctx, f.alice.ID, models.PushBoost, f.bob, "")
	require.NoError(t, err)
	require.Equal(t, 1, n)

	f.runner.RunOnce(ctx)
	sent := f.dispatcher.Sent()
	require.Len(t, sent, 1)
	var msg webPushMessage
	require.NoError(t, json.Unmarshal(sent[0].Payload, &msg))
	assert.Equal(t, "Boost", msg.Title)
	assert.Equal(t, "bob boosted your post.", msg.Body)
}

func TestNotify_NoSubscriptions(t *testing.T) {
	f := newFixture(t, true)

	n, err := f.service.Notify(context.Background(), f.bob.ID, models.PushFollow, f.alice, "")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcd…", truncate("abcdefgh", 5))
}
