package activities

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/neilotoole/slogt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avaraline/incarnator/internal/engine"
	"github.com/avaraline/incarnator/internal/models"
	"github.com/avaraline/incarnator/internal/stator"
	"github.com/avaraline/incarnator/internal/store"
	"github.com/avaraline/incarnator/internal/testutil"
)

func TestNormalizeHashtag(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"go", "go"},
		{"  #GoLang ", "golang"},
		{"##Café", "café"},
		{"ｆｕｌｌｗｉｄｔｈ", "fullwidth"},
		{"#", ""},
		{"x" + strings.Repeat("a", 150), "x" + strings.Repeat("a", 99)},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeHashtag(tt.in))
		})
	}
}

func TestHashtagStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.identity(t, "alice")
	bob := f.identity(t, "bob", remoteAt("remote.example"))

	n := 0
	tagged := func(author models.Identity, created time.Time, edit ...func(*models.Post)) models.Post {
		n++
		p := models.Post{
			AuthorID:  author.ID,
			ObjectURI: "https://example.com/p/" + strconv.Itoa(n),
			Local:     author.Local,
			Hashtags:  []string{"go"},
			Created:   created,
		}
		for _, fn := range edit {
			fn(&p)
		}
		require.NoError(t, f.store.CreatePost(ctx, &p, created))
		return p
	}
	unlisted := func(p *models.Post) { p.Visibility = models.VisibilityUnlisted }

	// Counted in the totals that contain their day.
	tagged(alice, testNow.Add(-time.Hour))
	tagged(alice, time.Date(2026, 10, 2, 9, 0, 0, 0, time.UTC))
	tagged(alice, time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	tagged(alice, time.Date(2025, 12, 31, 23, 0, 0, 0, time.UTC))
	tagged(alice, time.Date(2026, 10, 17, 20, 0, 0, 0, time.UTC))
	// Only in history: remote and unlisted posts.
	tagged(bob, time.Date(2026, 10, 17, 10, 0, 0, 0, time.UTC))
	tagged(alice, time.Date(2026, 10, 16, 10, 0, 0, 0, time.UTC), unlisted)
	// Nowhere.
	gone := tagged(alice, testNow.Add(-2*time.Hour))
	require.NoError(t, f.store.MarkPostDeleted(ctx, gone.ID))

	_, err := f.service.EnsureHashtag(ctx, "#Go", false)
	require.NoError(t, err)
	f.runner.RunOnce(ctx)

	tag, err := f.store.GetHashtag(ctx, "go")
	require.NoError(t, err)
	assert.Equal(t, models.HashtagUpdated, tag.State)
	assert.Equal(t, testNow, tag.StatsUpdated)

	assert.Equal(t, float64(5), tag.Stats["total"])
	assert.Equal(t, float64(1), tag.Stats["2026-10-18"])
	assert.Equal(t, float64(3), tag.Stats["2026-10"])
	assert.Equal(t, float64(4), tag.Stats["2026"])

	history, ok := tag.Stats["history"].([]any)
	require.True(t, ok)
	require.Len(t, history, 7)
	day := func(y int, m time.Month, d int) string {
		return strconv.FormatInt(time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix(), 10)
	}
	assert.Equal(t, map[string]any{"day": day(2026, 10, 17), "uses": "2", "accounts": "2"}, history[0])
	assert.Equal(t, map[string]any{"day": day(2026, 10, 16), "uses": "1", "accounts": "1"}, history[1])
	assert.Equal(t, map[string]any{"day": day(2026, 10, 11), "uses": "0", "accounts": "0"}, history[6])
}

func TestHashtagStats_LocalCalendar(t *testing.T) {
	// 2026-10-18 22:00 local; a post at 01:00 local is today here but
	// yesterday in UTC.
	zone := time.FixedZone("UTC+10", 10*3600)
	f := newFixture(t, WithLocation(zone))
	ctx := context.Background()
	alice := f.identity(t, "alice")

	p := models.Post{
		AuthorID:  alice.ID,
		ObjectURI: "https://example.com/p/1",
		Local:     true,
		Hashtags:  []string{"night"},
		Created:   time.Date(2026, 10, 17, 15, 0, 0, 0, time.UTC),
	}
	require.NoError(t, f.store.CreatePost(ctx, &p, p.Created))
	_, err := f.service.EnsureHashtag(ctx, "night", false)
	require.NoError(t, err)
	f.runner.RunOnce(ctx)

	tag, err := f.store.GetHashtag(ctx, "night")
	require.NoError(t, err)
	assert.Equal(t, float64(1), tag.Stats["2026-10-18"])
	assert.NotContains(t, tag.Stats, "2026-10-17")

	history := tag.Stats["history"].([]any)
	yesterday := time.Date(2026, 10, 17, 0, 0, 0, 0, zone)
	assert.Equal(t, strconv.FormatInt(yesterday.Unix(), 10), history[0].(map[string]any)["day"])
	assert.Equal(t, "0", history[0].(map[string]any)["uses"])
}

// countHook runs hook once, right after the first statistics count, as if a
// write landed while a recompute was in progress.
type countHook struct {
	*store.Store
	once sync.Once
	hook func()
}

func (s *countHook) CountLocalPublicTagged(ctx context.Context, tag string, from, to time.Time) (int, error) {
	n, err := s.Store.CountLocalPublicTagged(ctx, tag, from, to)
	if s.hook != nil {
		s.once.Do(s.hook)
	}
	return n, err
}

func TestHashtagStats_WriteDuringRecompute(t *testing.T) {
	base := setupTestStore(t)
	hooked := &countHook{Store: base}
	clock := testutil.NewClock(testNow)
	logger := slogt.New(t)
	svc := NewService(hooked, testutil.NewDeliverer(),
		WithLogger(logger), WithClock(clock), WithDomain("example.com"))

	reg := stator.NewRegistry()
	require.NoError(t, reg.Register(svc.Models()...))
	runner := engine.New(base, reg, engine.WithLogger(logger), engine.WithClock(clock))
	t.Cleanup(runner.Close)
	ctx := context.Background()

	alice := models.Identity{
		Handle:   "alice",
		ActorURI: "https://example.com/users/alice",
		InboxURI: "https://example.com/users/alice/inbox",
		Local:    true,
	}
	require.NoError(t, base.CreateIdentity(ctx, &alice, testNow))

	_, err := svc.EnsureHashtag(ctx, "go", false)
	require.NoError(t, err)
	hooked.hook = func() {
		p := models.Post{AuthorID: alice.ID, ObjectURI: "https://example.com/p/1", Local: true, Hashtags: []string{"#Go"}}
		assert.NoError(t, svc.PublishPost(ctx, &p))
	}

	// The recompute that raced the post must not settle.
	runner.RunOnce(ctx)
	st, err := base.LoadStatus(ctx, store.TableHashtags, "go")
	require.NoError(t, err)
	assert.Equal(t, models.HashtagOutdated, st.State)

	runner.RunOnce(ctx)
	tag, err := base.GetHashtag(ctx, "go")
	require.NoError(t, err)
	assert.Equal(t, models.HashtagUpdated, tag.State)
	assert.Equal(t, float64(1), tag.Stats["total"])
}

func TestEnsureHashtag(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tag, err := f.service.EnsureHashtag(ctx, "#Rust", false)
	require.NoError(t, err)
	assert.Equal(t, "rust", tag.Name)
	assert.Equal(t, models.HashtagOutdated, tag.State)

	f.runner.RunOnce(ctx)
	require.Equal(t, models.HashtagUpdated, f.status(t, store.TableHashtags, "rust").State)

	// Fresh statistics are left alone.
	f.clock.Advance(30 * time.Minute)
	_, err = f.service.EnsureHashtag(ctx, "rust", false)
	require.NoError(t, err)
	assert.Equal(t, models.HashtagUpdated, f.status(t, store.TableHashtags, "rust").State)

	// An explicit update re-arms them.
	_, err = f.service.EnsureHashtag(ctx, "rust", true)
	require.NoError(t, err)
	assert.Equal(t, models.HashtagOutdated, f.status(t, store.TableHashtags, "rust").State)

	f.runner.RunOnce(ctx)
	require.Equal(t, models.HashtagUpdated, f.status(t, store.TableHashtags, "rust").State)

	// So does staleness.
	f.clock.Advance(StatsMaxAge + time.Minute)
	_, err = f.service.EnsureHashtag(ctx, "rust", false)
	require.NoError(t, err)
	assert.Equal(t, models.HashtagOutdated, f.status(t, store.TableHashtags, "rust").State)

	_, err = f.service.EnsureHashtag(ctx, " # ", false)
	assert.ErrorIs(t, err, ErrInvalidHashtag)
}

func TestNeedsUpdate(t *testing.T) {
	assert.True(t, NeedsUpdate(models.Hashtag{}, testNow))
	assert.False(t, NeedsUpdate(models.Hashtag{StatsUpdated: testNow.Add(-time.Hour)}, testNow))
	assert.True(t, NeedsUpdate(models.Hashtag{StatsUpdated: testNow.Add(-time.Hour - time.Second)}, testNow))
}

func TestUsage(t *testing.T) {
	tag := models.Hashtag{Stats: map[string]any{
		"total":      float64(9),
		"2026":       float64(9),
		"2026-09":    float64(4),
		"2026-10":    float64(5),
		"2026-10-17": float64(2),
		"2026-10-18": float64(3),
		"2026-09-30": float64(4),
		"history":    []any{},
	}}

	assert.Equal(t, []Usage{{"2026-10-18", 3}, {"2026-10-17", 2}}, UsageDays(tag, 2))
	assert.Equal(t, []Usage{{"2026-10", 5}, {"2026-09", 4}}, UsageMonths(tag, 0))
	assert.Empty(t, UsageDays(models.Hashtag{}, 3))
}

func TestPopularHashtags(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.identity(t, "alice")
	f.post(t, alice, "https://example.com/p/1", func(p *models.Post) { p.Hashtags = []string{"go", "sqlite"} })
	f.post(t, alice, "https://example.com/p/2", func(p *models.Post) { p.Hashtags = []string{"go"} })
	f.post(t, alice, "https://example.com/p/3", func(p *models.Post) {
		p.Hashtags = []string{"old"}
		p.Created = testNow.AddDate(0, 0, -9)
	})

	popular, err := f.service.PopularHashtags(ctx, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, []store.TagUse{{Tag: "go", Uses: 2}, {Tag: "sqlite", Uses: 1}}, popular)
}
