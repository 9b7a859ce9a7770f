package users

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avaraline/incarnator/internal/models"
	"github.com/avaraline/incarnator/internal/store"
)

func TestBlock_EndsFollowsBothWays(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.identity(t, "alice")
	bob := f.identity(t, "bob")
	f.acceptedFollow(t, alice, bob)
	f.acceptedFollow(t, bob, alice)

	b, err := f.service.Block(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	assert.False(t, b.Mute)
	assert.Equal(t, models.FollowUndone, f.followState(t, alice, bob))
	assert.Equal(t, models.FollowRejecting, f.followState(t, bob, alice))

	f.settle()

	assert.Equal(t, models.BlockSent, f.status(t, store.TableBlocks, b.ID).State)
	assert.Equal(t, models.FollowRemoved, f.followState(t, alice, bob))
	assert.Equal(t, models.FollowRejected, f.followState(t, bob, alice))
	assert.Empty(t, f.deliverer.Deliveries())

	// Blocking again returns the active block.
	again, err := f.service.Block(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, b.ID, again.ID)
}

func TestBlock_RemoteAnnounced(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.identity(t, "alice")
	rob := f.identity(t, "rob", remoteAt("remote.example"))

	b, err := f.service.Block(ctx, alice.ID, rob.ID)
	require.NoError(t, err)
	f.settle()
	require.Equal(t, models.BlockSent, f.status(t, store.TableBlocks, b.ID).State)

	require.NoError(t, f.service.Unblock(ctx, alice.ID, rob.ID))
	f.settle()
	assert.Equal(t, models.BlockUndoneSent, f.status(t, store.TableBlocks, b.ID).State)

	deliveries := f.deliverer.Deliveries()
	require.Len(t, deliveries, 2)
	var undo map[string]any
	require.NoError(t, json.Unmarshal(deliveries[1].Payload, &undo))
	assert.Equal(t, "Undo", undo["type"])
	inner := undo["object"].(map[string]any)
	assert.Equal(t, "Block", inner["type"])
	assert.Equal(t, rob.ActorURI, inner["object"])
	assert.Equal(t, alice.ActorURI+"#blocks/"+b.ID, inner["id"])
}

func TestMute_NeverDelivered(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.identity(t, "alice")
	rob := f.identity(t, "rob", remoteAt("remote.example"))

	m, err := f.service.Mute(ctx, alice.ID, rob.ID, 0, false)
	require.NoError(t, err)
	assert.True(t, m.Mute)
	f.settle()
	require.Equal(t, models.BlockSent, f.status(t, store.TableBlocks, m.ID).State)

	require.NoError(t, f.service.Unmute(ctx, alice.ID, rob.ID))
	f.settle()
	assert.Equal(t, models.BlockUndoneSent, f.status(t, store.TableBlocks, m.ID).State)
	assert.Empty(t, f.deliverer.Deliveries())
}

func TestMute_Expires(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.identity(t, "alice")
	bob := f.identity(t, "bob")

	m, err := f.service.Mute(ctx, alice.ID, bob.ID, 3*time.Hour, false)
	require.NoError(t, err)
	assert.Equal(t, testNow.Add(3*time.Hour), m.Expires)
	f.settle()
	require.Equal(t, models.BlockAwaitingExpiry, f.status(t, store.TableBlocks, m.ID).State)

	// Checked after an hour, not yet expired: deferred without counting as
	// a failed attempt.
	f.clock.Advance(90 * time.Minute)
	f.runner.RunOnce(ctx)
	st := f.status(t, store.TableBlocks, m.ID)
	assert.Equal(t, models.BlockAwaitingExpiry, st.State)
	assert.Equal(t, 0, st.Attempts)
	assert.Equal(t, f.clock.Now(), st.Attempted)

	f.clock.Advance(2 * time.Hour)
	f.settle()
	assert.Equal(t, models.BlockUndoneSent, f.status(t, store.TableBlocks, m.ID).State)
}

func TestMute_Replaces(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.identity(t, "alice")
	bob := f.identity(t, "bob")

	first, err := f.service.Mute(ctx, alice.ID, bob.ID, 0, false)
	require.NoError(t, err)
	second, err := f.service.Mute(ctx, alice.ID, bob.ID, time.Hour, true)
	require.NoError(t, err)

	assert.Equal(t, models.BlockUndone, f.status(t, store.TableBlocks, first.ID).State)
	active, err := f.store.FindBlocks(ctx, alice.ID, bob.ID, true, models.BlockActiveStates)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, second.ID, active[0].ID)
	assert.True(t, active[0].IncludeNotifications)
}

func TestBlock_ClearsTimeline(t *testing.T) {
	tests := []struct {
		name string
		act  func(f *fixture, source, target models.Identity) error
		want []string
	}{
		{
			name: "block",
			act: func(f *fixture, source, target models.Identity) error {
				_, err := f.service.Block(context.Background(), source.ID, target.ID)
				return err
			},
			want: []string{},
		},
		{
			name: "mute keeps notifications",
			act: func(f *fixture, source, target models.Identity) error {
				_, err := f.service.Mute(context.Background(), source.ID, target.ID, 0, false)
				return err
			},
			want: []string{models.TimelineMentioned},
		},
		{
			name: "mute with notifications",
			act: func(f *fixture, source, target models.Identity) error {
				_, err := f.service.Mute(context.Background(), source.ID, target.ID, 0, true)
				return err
			},
			want: []string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			alice := f.identity(t, "alice")
			bob := f.identity(t, "bob")
			post := f.post(t, bob, "https://example.com/p/1")
			for _, typ := range []string{models.TimelinePost, models.TimelineMentioned} {
				_, err := f.store.AddTimelineEvent(ctx, &models.TimelineEvent{
					IdentityID:        alice.ID,
					Type:              typ,
					SubjectPostID:     post.ID,
					SubjectIdentityID: bob.ID,
				}, testNow)
				require.NoError(t, err)
			}

			require.NoError(t, tt.act(f, alice, bob))
			f.settle()

			assert.Equal(t, tt.want, f.timeline(t, alice))
		})
	}
}

func TestBlock_Self(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.identity(t, "alice")

	_, err := f.service.Block(ctx, alice.ID, alice.ID)
	assert.ErrorIs(t, err, ErrSelfRelation)
	_, err = f.service.Mute(ctx, alice.ID, alice.ID, 0, false)
	assert.ErrorIs(t, err, ErrSelfRelation)
}
