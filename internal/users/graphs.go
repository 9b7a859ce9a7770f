// Package users drives the relationships between identities and the
// identities themselves.
//
// Three graphs live here:
//
//   - follow: the follow handshake. A local source asks, a local target
//     answers directly or through a follow request, a remote side answers
//     with an Accept or Reject activity.
//   - block: blocks and mutes. Blocks are announced to remote targets,
//     mutes never leave the server. Mutes with an expiry wait in
//     awaiting_expiry until they lapse.
//   - identity: cached profile counters. Local identities count from the
//     store; remote identities are re-read from their collections.
package users

import (
	"time"

	"github.com/avaraline/incarnator/internal/models"
	"github.com/avaraline/incarnator/internal/stator"
)

const (
	requestTryInterval = 600 * time.Second
	requestTimeout     = 24 * time.Hour
	answerTryInterval  = 24 * time.Hour
	answerTimeout      = 7 * 24 * time.Hour
	removalTryInterval = time.Hour
	removedRetention   = time.Second

	blockTryInterval  = 600 * time.Second
	blockTimeout      = 7 * 24 * time.Hour
	expiryTryInterval = time.Hour
	undoTryInterval   = time.Hour
	undoRetention     = 7 * 24 * time.Hour
	blockRetention    = 24 * time.Hour

	identityTryInterval = time.Hour
)

// FollowGraph returns the follow handshake graph.
//
//	unrequested --> pending_approval --> accepting --> accepted --> undone
//	                        |                             |           |
//	                        +---------> rejecting <-------+           v
//	                        |              |                   pending_removal --> removed
//	                        +--------------|--------------------------^
//	                                       v
//	                                   rejected
//
// unrequested skips pending_approval when the target needs no approval and
// times out to removed after a day. The source withdraws through undone at
// any point before an answer is final; the target answers through accepting
// or rejecting.
func FollowGraph() *stator.Graph {
	return stator.NewGraph("follow").
		State(stator.State{
			Name:          models.FollowUnrequested,
			TryInterval:   requestTryInterval,
			ForceInitial:  true,
			TimeoutAfter:  requestTimeout,
			TimeoutTarget: models.FollowRemoved,
		}).
		State(stator.State{Name: models.FollowPendingApproval, ExternallyProgressed: true}).
		State(stator.State{
			Name:          models.FollowAccepting,
			TryInterval:   answerTryInterval,
			TimeoutAfter:  answerTimeout,
			TimeoutTarget: models.FollowAccepted,
		}).
		State(stator.State{
			Name:          models.FollowRejecting,
			TryInterval:   answerTryInterval,
			TimeoutAfter:  answerTimeout,
			TimeoutTarget: models.FollowRejected,
		}).
		State(stator.State{Name: models.FollowAccepted, ExternallyProgressed: true}).
		State(stator.State{Name: models.FollowRejected}).
		State(stator.State{Name: models.FollowUndone, TryInterval: answerTryInterval}).
		State(stator.State{Name: models.FollowPendingRemoval, TryInterval: removalTryInterval}).
		State(stator.State{Name: models.FollowRemoved, DeleteAfter: removedRetention}).
		Transition(models.FollowUnrequested,
			models.FollowPendingApproval, models.FollowAccepting, models.FollowRejecting, models.FollowUndone).
		Transition(models.FollowPendingApproval,
			models.FollowAccepting, models.FollowRejecting, models.FollowPendingRemoval, models.FollowUndone).
		Transition(models.FollowAccepting, models.FollowAccepted, models.FollowRejecting, models.FollowUndone).
		Transition(models.FollowRejecting, models.FollowRejected).
		Transition(models.FollowAccepted, models.FollowRejecting, models.FollowUndone).
		Transition(models.FollowUndone, models.FollowPendingRemoval).
		Transition(models.FollowPendingRemoval, models.FollowRemoved).
		MustBuild()
}

// BlockGraph returns the block and mute graph.
//
//	new --> sent ------------> undone --> undone_sent
//	   \--> awaiting_expiry ---^
func BlockGraph() *stator.Graph {
	return stator.NewGraph("block").
		State(stator.State{
			Name:          models.BlockNew,
			TryInterval:   blockTryInterval,
			ForceInitial:  true,
			TimeoutAfter:  blockTimeout,
			TimeoutTarget: models.BlockSent,
		}).
		State(stator.State{Name: models.BlockSent, ExternallyProgressed: true}).
		State(stator.State{
			Name:              models.BlockAwaitingExpiry,
			TryInterval:       expiryTryInterval,
			DelayFirstAttempt: true,
		}).
		State(stator.State{Name: models.BlockUndone, TryInterval: undoTryInterval, DeleteAfter: undoRetention}).
		State(stator.State{Name: models.BlockUndoneSent, DeleteAfter: blockRetention}).
		Transition(models.BlockNew, models.BlockSent, models.BlockAwaitingExpiry, models.BlockUndone).
		Transition(models.BlockSent, models.BlockUndone).
		Transition(models.BlockAwaitingExpiry, models.BlockUndone).
		Transition(models.BlockUndone, models.BlockUndoneSent).
		MustBuild()
}

// IdentityGraph returns the profile counters graph.
//
//	outdated <--> updated
func IdentityGraph() *stator.Graph {
	return stator.NewGraph("identity").
		State(stator.State{Name: models.IdentityOutdated, TryInterval: identityTryInterval, ForceInitial: true}).
		State(stator.State{Name: models.IdentityUpdated, ExternallyProgressed: true}).
		Transition(models.IdentityOutdated, models.IdentityUpdated).
		Transition(models.IdentityUpdated, models.IdentityOutdated).
		MustBuild()
}
