package activities

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"github.com/avaraline/incarnator/internal/models"
	"github.com/avaraline/incarnator/internal/stator"
	"github.com/avaraline/incarnator/internal/store"
)

const (
	maxHashtagLength = 100
	historyDays      = 7
	popularDays      = 8

	// StatsMaxAge is how old cached statistics may get before a reader
	// should re-arm them.
	StatsMaxAge = time.Hour
)

// ErrInvalidHashtag is returned for names that normalize to nothing.
var ErrInvalidHashtag = errors.New("invalid hashtag")

var lower = cases.Lower(language.Und)

// NormalizeHashtag turns user input into a hashtag key: surrounding space and
// leading '#' removed, NFKC-normalized, lowercased and cut to 100 characters.
func NormalizeHashtag(name string) string {
	name = strings.TrimLeft(strings.TrimSpace(name), "#")
	name = lower.String(norm.NFKC.String(name))
	if r := []rune(name); len(r) > maxHashtagLength {
		name = string(r[:maxHashtagLength])
	}
	return name
}

// NeedsUpdate reports whether tag's statistics are missing or older than
// StatsMaxAge at now.
func NeedsUpdate(tag models.Hashtag, now time.Time) bool {
	return tag.StatsUpdated.IsZero() || now.Sub(tag.StatsUpdated) > StatsMaxAge
}

// EnsureHashtag returns the hashtag for name, creating it if needed. A newly
// created hashtag, one with stale statistics, or any hashtag when update is
// set is moved back to outdated so its statistics are recomputed.
func (s *Service) EnsureHashtag(ctx context.Context, name string, update bool) (models.Hashtag, error) {
	key := NormalizeHashtag(name)
	if key == "" {
		return models.Hashtag{}, fmt.Errorf("%w: %q", ErrInvalidHashtag, name)
	}
	now := s.now()
	tag, created, err := s.store.GetOrCreateHashtag(ctx, key, now)
	if err != nil {
		return models.Hashtag{}, err
	}
	if created || update || NeedsUpdate(tag, now) {
		if err := stator.Perform(ctx, s.store, s.hashtags, key, models.HashtagOutdated, now); err != nil {
			return models.Hashtag{}, err
		}
		tag.State = models.HashtagOutdated
	}
	return tag, nil
}

// handleHashtagOutdated recomputes a hashtag's statistics. Calendar buckets
// use the configured time zone and the time of this attempt.
func (s *Service) handleHashtagOutdated(ctx context.Context, name string) (stator.Outcome, error) {
	now := s.now().In(s.location)
	today := midnight(now)

	total, err := s.store.CountLocalPublicTagged(ctx, name, time.Time{}, time.Time{})
	if err != nil {
		return stator.NoChange, err
	}
	day, err := s.store.CountLocalPublicTagged(ctx, name, today, today.AddDate(0, 0, 1))
	if err != nil {
		return stator.NoChange, err
	}
	monthStart := time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, s.location)
	month, err := s.store.CountLocalPublicTagged(ctx, name, monthStart, monthStart.AddDate(0, 1, 0))
	if err != nil {
		return stator.NoChange, err
	}
	yearStart := time.Date(today.Year(), time.January, 1, 0, 0, 0, 0, s.location)
	year, err := s.store.CountLocalPublicTagged(ctx, name, yearStart, yearStart.AddDate(1, 0, 0))
	if err != nil {
		return stator.NoChange, err
	}

	history := make([]map[string]string, 0, historyDays)
	for i := 1; i <= historyDays; i++ {
		start := today.AddDate(0, 0, -i)
		uses, accounts, err := s.store.TaggedActivity(ctx, name, start, start.AddDate(0, 0, 1))
		if err != nil {
			return stator.NoChange, err
		}
		history = append(history, map[string]string{
			"day":      strconv.FormatInt(start.Unix(), 10),
			"uses":     strconv.Itoa(uses),
			"accounts": strconv.Itoa(accounts),
		})
	}

	stats := map[string]any{
		"total":                    total,
		today.Format("2006-01-02"): day,
		today.Format("2006-01"):    month,
		today.Format("2006"):       year,
		"history":                  history,
	}
	if err := s.store.SaveHashtagStats(ctx, name, stats, now); err != nil {
		return stator.NoChange, err
	}
	s.logger.Debug("hashtag stats updated", "hashtag", name, "total", total)
	return stator.TransitionTo(models.HashtagUpdated), nil
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// Usage is the number of uses of a hashtag in one period, keyed like the
// statistics blob ("2026-10-18" or "2026-10").
type Usage struct {
	Period string `json:"period"`
	Uses   int    `json:"uses"`
}

// UsageDays returns up to n per-day counts from tag's statistics, newest
// first. Zero n returns them all.
func UsageDays(tag models.Hashtag, n int) []Usage {
	return usage(tag.Stats, 3, n)
}

// UsageMonths returns up to n per-month counts, newest first.
func UsageMonths(tag models.Hashtag, n int) []Usage {
	return usage(tag.Stats, 2, n)
}

func usage(stats map[string]any, parts, n int) []Usage {
	var out []Usage
	for key, v := range stats {
		if strings.Count(key, "-") != parts-1 {
			continue
		}
		uses, ok := asInt(v)
		if !ok {
			continue
		}
		out = append(out, Usage{Period: key, Uses: uses})
	}
	// ISO dates sort lexically.
	sort.Slice(out, func(i, j int) bool { return out[i].Period > out[j].Period })
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

// PopularHashtags ranks hashtags by posts published in the last eight days.
func (s *Service) PopularHashtags(ctx context.Context, limit, offset int) ([]store.TagUse, error) {
	return s.store.PopularHashtags(ctx, s.now().AddDate(0, 0, -popularDays), limit, offset)
}

// hashtagObject is the ActivityStreams form of a hashtag.
func (s *Service) hashtagObject(name string) map[string]string {
	return map[string]string{
		"type": "Hashtag",
		"href": fmt.Sprintf("https://%s/tags/%s/", s.domain, name),
		"name": "#" + name,
	}
}
