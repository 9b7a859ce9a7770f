package users

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/avaraline/incarnator/internal/activities"
	"github.com/avaraline/incarnator/internal/models"
	"github.com/avaraline/incarnator/internal/remote"
	"github.com/avaraline/incarnator/internal/stator"
	"github.com/avaraline/incarnator/internal/store"
)

// Collections read when syncing a remote identity.
const (
	collectionFeatured     = "featured"
	collectionFeaturedTags = "featured_tags"
	collectionFollowers    = "followers"
	collectionFollowing    = "following"
	collectionOutbox       = "outbox"
)

// fetched holds the collections that were read successfully, by name.
type fetched map[string]remote.Collection

func (f fetched) has(name string) bool {
	_, ok := f[name]
	return ok
}

func (s *Service) handleIdentityOutdated(ctx context.Context, id string) (stator.Outcome, error) {
	ident, err := s.store.GetIdentity(ctx, id)
	if err != nil {
		return stator.NoChange, err
	}
	if ident.Local {
		if err := s.recountLocal(ctx, id); err != nil {
			return stator.NoChange, err
		}
		return stator.TransitionTo(models.IdentityUpdated), nil
	}
	if s.fetcher == nil {
		return stator.TransitionTo(models.IdentityUpdated), nil
	}

	sources := map[string]string{
		collectionFeatured:     ident.FeaturedCollectionURI,
		collectionFeaturedTags: ident.FeaturedTagsURI,
		collectionFollowers:    ident.FollowersURI,
		collectionFollowing:    ident.FollowingURI,
		collectionOutbox:       ident.OutboxURI,
	}
	got, attempted := s.fetchCollections(ctx, id, sources)
	if attempted > 0 && len(got) == 0 {
		// Nothing came back; try again next interval.
		return stator.NoChange, nil
	}

	stats := ident.Stats
	if c, ok := got[collectionFollowers]; ok {
		stats.FollowersCount = c.TotalItems
	}
	if c, ok := got[collectionFollowing]; ok {
		stats.FollowingCount = c.TotalItems
	}
	if c, ok := got[collectionOutbox]; ok {
		stats.StatusesCount = c.TotalItems
	}
	if err := s.store.UpdateIdentityStats(ctx, id, stats); err != nil {
		return stator.NoChange, err
	}

	if got.has(collectionFeaturedTags) {
		if err := s.syncFeaturedTags(ctx, id, got[collectionFeaturedTags].Items); err != nil {
			return stator.NoChange, err
		}
	}
	if got.has(collectionFeatured) {
		if err := s.syncPins(ctx, id, got[collectionFeatured].Items); err != nil {
			return stator.NoChange, err
		}
	}

	s.logger.Debug("remote identity synced",
		"identity_id", id,
		"fetched", len(got),
		"attempted", attempted,
	)
	return stator.TransitionTo(models.IdentityUpdated), nil
}

// fetchCollections reads every non-empty source in parallel on the sync
// pool. Failed fetches are logged and left out of the result.
func (s *Service) fetchCollections(ctx context.Context, identityID string, sources map[string]string) (fetched, int) {
	var (
		mu  sync.Mutex
		got = fetched{}
	)
	group := s.syncPool.NewGroup()
	attempted := 0
	for name, url := range sources {
		if url == "" {
			continue
		}
		attempted++
		group.Submit(func() {
			c, err := s.fetcher.FetchCollection(ctx, url)
			if err != nil {
				s.logger.Warn("collection fetch failed",
					"identity_id", identityID,
					"collection", name,
					"url", url,
					"error", err,
				)
				return
			}
			mu.Lock()
			got[name] = c
			mu.Unlock()
		})
	}
	// Tasks never fail; failures are recorded by omission.
	_ = group.Wait()
	return got, attempted
}

// syncFeaturedTags makes the identity's featured hashtags exactly names.
func (s *Service) syncFeaturedTags(ctx context.Context, identityID string, names []string) error {
	tags := make([]string, 0, len(names))
	for _, name := range names {
		tag, err := s.activities.EnsureHashtag(ctx, name, false)
		if errors.Is(err, activities.ErrInvalidHashtag) {
			continue
		}
		if err != nil {
			return fmt.Errorf("featured tag %q: %w", name, err)
		}
		if !slices.Contains(tags, tag.Name) {
			tags = append(tags, tag.Name)
		}
	}
	return s.store.SyncHashtagFeatures(ctx, identityID, tags, s.now())
}

// syncPins pins the known posts among uris and retracts pins of posts no
// longer listed. Posts this server has never seen are skipped.
func (s *Service) syncPins(ctx context.Context, identityID string, uris []string) error {
	listed := make(map[string]bool, len(uris))
	for _, uri := range uris {
		post, err := s.store.GetPostByURI(ctx, uri)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		listed[post.ID] = true
		if _, err := s.activities.Pin(ctx, identityID, post.ID); err != nil {
			return err
		}
	}

	pins, err := s.store.FindInteractions(ctx, identityID, models.InteractionPin, "", models.InteractionActiveStates)
	if err != nil {
		return err
	}
	for _, pin := range pins {
		if listed[pin.PostID] {
			continue
		}
		if err := s.activities.RetractPin(ctx, pin); err != nil {
			return err
		}
	}
	return nil
}

// SyncIdentity marks an identity outdated so the next engine cycle refreshes
// its counters.
func (s *Service) SyncIdentity(ctx context.Context, id string) error {
	return stator.Perform(ctx, s.store, s.identities, id, models.IdentityOutdated, s.now())
}
