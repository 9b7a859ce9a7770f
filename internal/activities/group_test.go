package activities

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avaraline/incarnator/internal/models"
	"github.com/avaraline/incarnator/internal/store"
)

type groupFixture struct {
	*fixture
	alice  models.Identity
	remote models.Identity
	group  models.Identity
}

func newGroupFixture(t *testing.T) *groupFixture {
	t.Helper()
	f := newFixture(t)
	return &groupFixture{
		fixture: f,
		alice:   f.identity(t, "alice"),
		remote:  f.identity(t, "rob", remoteAt("remote.example")),
		group:   f.identity(t, "group_test", asGroup),
	}
}

func (g *groupFixture) handle(t *testing.T, fo models.FanOut) {
	t.Helper()
	_, err := g.service.handleFanOutNew(context.Background(), fo.ID)
	require.NoError(t, err)
}

func (g *groupFixture) groupBoosts(t *testing.T, post models.Post) []models.PostInteraction {
	t.Helper()
	boosts, err := g.store.FindInteractions(context.Background(), g.group.ID, models.InteractionBoost, post.ID, models.InteractionActiveStates)
	require.NoError(t, err)
	return boosts
}

func TestGroup_IsGroup(t *testing.T) {
	g := newGroupFixture(t)
	assert.False(t, g.alice.IsGroup())
	assert.True(t, g.group.IsGroup())
}

func TestGroup_BoostsPostFromFollowedAuthor(t *testing.T) {
	g := newGroupFixture(t)
	g.follow(t, g.group, g.alice)
	post := g.post(t, g.alice, "https://example.com/p/1")

	g.handle(t, g.fanOut(t, g.group, models.FanOutPost, post, nil))

	assert.Len(t, g.groupBoosts(t, post), 1)
}

func TestGroup_BoostsPostMentioningIt(t *testing.T) {
	g := newGroupFixture(t)
	post := g.post(t, g.alice, "https://example.com/p/1", func(p *models.Post) {
		p.Mentions = []string{g.group.ID}
	})

	g.handle(t, g.fanOut(t, g.group, models.FanOutPost, post, nil))

	assert.Len(t, g.groupBoosts(t, post), 1)
}

func TestGroup_IgnoresUnrelatedPost(t *testing.T) {
	g := newGroupFixture(t)
	post := g.post(t, g.alice, "https://example.com/p/1")

	g.handle(t, g.fanOut(t, g.group, models.FanOutPost, post, nil))

	assert.Empty(t, g.groupBoosts(t, post))
}

func TestGroup_NeverBoostsOwnPost(t *testing.T) {
	g := newGroupFixture(t)
	post := g.post(t, g.group, "https://example.com/p/1")

	g.handle(t, g.fanOut(t, g.group, models.FanOutPost, post, nil))

	all, err := g.store.FindInteractions(context.Background(), g.group.ID, models.InteractionBoost, post.ID, nil)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestGroup_UnboostsDeletedPost(t *testing.T) {
	g := newGroupFixture(t)
	post := g.post(t, g.alice, "https://example.com/p/1")
	boost := g.interaction(t, g.group, post, models.InteractionBoost, models.InteractionFannedOut)
	require.Len(t, g.groupBoosts(t, post), 1)

	g.handle(t, g.fanOut(t, g.group, models.FanOutPostDeleted, post, nil))

	assert.Equal(t, models.InteractionUndone, g.status(t, store.TablePostInteractions, boost.ID).State)
}

func TestGroup_BoostsBoostItReceives(t *testing.T) {
	g := newGroupFixture(t)
	post := g.post(t, g.remote, "https://remote.example/p/1")
	boost := g.interaction(t, g.alice, post, models.InteractionBoost, models.InteractionFannedOut)

	g.handle(t, g.fanOut(t, g.group, models.FanOutInteraction, post, &boost))

	assert.Len(t, g.groupBoosts(t, post), 1)
}

func TestGroup_UnboostChecksTimeline(t *testing.T) {
	g := newGroupFixture(t)
	ctx := context.Background()
	post := g.post(t, g.alice, "https://example.com/p/1")
	boost := g.interaction(t, g.group, post, models.InteractionBoost, models.InteractionFannedOut)
	_, err := g.store.AddTimelineEvent(ctx, &models.TimelineEvent{
		IdentityID:    g.group.ID,
		Type:          models.TimelinePost,
		SubjectPostID: post.ID,
	}, testNow)
	require.NoError(t, err)

	// The post is still in the group's timeline: the boost stays.
	undo := g.interaction(t, g.group, post, models.InteractionBoost, models.InteractionUndone)
	g.handle(t, g.fanOut(t, g.group, models.FanOutUndoInteraction, post, &undo))
	assert.Equal(t, models.InteractionFannedOut, g.status(t, store.TablePostInteractions, boost.ID).State)

	_, err = g.store.DeleteTimelineEvents(ctx, store.TimelineFilter{IdentityID: g.group.ID, PostID: post.ID})
	require.NoError(t, err)

	undo2 := g.interaction(t, g.group, post, models.InteractionBoost, models.InteractionUndone)
	g.handle(t, g.fanOut(t, g.group, models.FanOutUndoInteraction, post, &undo2))
	assert.Equal(t, models.InteractionUndone, g.status(t, store.TablePostInteractions, boost.ID).State)
}

func TestGroup_BoostPropagatesThroughEngine(t *testing.T) {
	g := newGroupFixture(t)
	ctx := context.Background()
	member := g.identity(t, "member")
	g.follow(t, member, g.group)
	g.follow(t, g.group, g.alice)

	post := models.Post{AuthorID: g.alice.ID, ObjectURI: "https://example.com/p/1", Local: true}
	require.NoError(t, g.service.PublishPost(ctx, &post))
	g.settle()
	g.settle()

	boosts := g.groupBoosts(t, post)
	require.Len(t, boosts, 1)
	assert.Equal(t, models.InteractionFannedOut, boosts[0].State)
	assert.Equal(t, []string{models.TimelineBoost}, g.timeline(t, member))
	assert.Contains(t, g.timeline(t, g.alice), models.TimelineBoosted)
}
