// Package activities drives posts, hashtags and post interactions through
// their state graphs.
//
// Three graphs live here:
//
//   - hashtag: cached usage statistics, recomputed while "outdated" and
//     left alone once "updated" until a write re-arms them.
//   - post_interaction: a boost, like, pin or vote. Entering "new" computes
//     the delivery targets and creates one fan-out per target; undoing it
//     does the same with undo fan-outs.
//   - fan_out: the delivery of one event to one identity. Local targets get
//     timeline entries, notifications and group-actor mirroring; remote
//     targets get an activity POSTed to their inbox.
//
// Posts themselves carry no graph. PublishPost and DeletePost fan them out
// directly.
package activities

import (
	"time"

	"github.com/avaraline/incarnator/internal/models"
	"github.com/avaraline/incarnator/internal/stator"
)

const (
	hashtagTryInterval     = 300 * time.Second
	interactionTryInterval = 300 * time.Second
	fanOutTryInterval      = 600 * time.Second
	fanOutTimeout          = 2 * 24 * time.Hour
	retention              = 24 * time.Hour
)

// HashtagGraph returns the hashtag statistics graph.
//
//	outdated <--> updated
func HashtagGraph() *stator.Graph {
	return stator.NewGraph("hashtag").
		State(stator.State{Name: models.HashtagOutdated, TryInterval: hashtagTryInterval, ForceInitial: true}).
		State(stator.State{Name: models.HashtagUpdated, ExternallyProgressed: true}).
		Transition(models.HashtagOutdated, models.HashtagUpdated).
		Transition(models.HashtagUpdated, models.HashtagOutdated).
		MustBuild()
}

// InteractionGraph returns the post interaction graph.
//
//	new --> fanned_out --> undone --> undone_fanned_out
//	  \--------------------^ \---------------------^
//
// fanned_out may also skip straight to undone_fanned_out when a remote pin
// disappears: there is nothing to propagate.
func InteractionGraph() *stator.Graph {
	return stator.NewGraph("post_interaction").
		State(stator.State{Name: models.InteractionNew, TryInterval: interactionTryInterval, ForceInitial: true}).
		State(stator.State{Name: models.InteractionFannedOut, ExternallyProgressed: true}).
		State(stator.State{Name: models.InteractionUndone, TryInterval: interactionTryInterval}).
		State(stator.State{Name: models.InteractionUndoneFannedOut, DeleteAfter: retention}).
		Transition(models.InteractionNew, models.InteractionFannedOut, models.InteractionUndone).
		Transition(models.InteractionFannedOut, models.InteractionUndone, models.InteractionUndoneFannedOut).
		Transition(models.InteractionUndone, models.InteractionUndoneFannedOut).
		MustBuild()
}

// FanOutGraph returns the per-target delivery graph. Deliveries still
// failing after two days are given up.
//
//	new --> sent | skipped | failed
func FanOutGraph() *stator.Graph {
	return stator.NewGraph("fan_out").
		State(stator.State{
			Name:          models.FanOutNew,
			TryInterval:   fanOutTryInterval,
			ForceInitial:  true,
			TimeoutAfter:  fanOutTimeout,
			TimeoutTarget: models.FanOutFailed,
		}).
		State(stator.State{Name: models.FanOutSent, DeleteAfter: retention}).
		State(stator.State{Name: models.FanOutSkipped, DeleteAfter: retention}).
		State(stator.State{Name: models.FanOutFailed, DeleteAfter: retention}).
		Transition(models.FanOutNew, models.FanOutSent, models.FanOutSkipped, models.FanOutFailed).
		MustBuild()
}
