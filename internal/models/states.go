package models

import "github.com/avaraline/incarnator/internal/stator"

// Hashtag states.
const (
	HashtagOutdated stator.StateName = "outdated"
	HashtagUpdated  stator.StateName = "updated"
)

// Push notification states.
const (
	PushSending stator.StateName = "sending"
	PushSent    stator.StateName = "sent"
	PushFailed  stator.StateName = "failed"
)

// Post interaction states.
const (
	InteractionNew             stator.StateName = "new"
	InteractionFannedOut       stator.StateName = "fanned_out"
	InteractionUndone          stator.StateName = "undone"
	InteractionUndoneFannedOut stator.StateName = "undone_fanned_out"
)

// Fan-out states.
const (
	FanOutNew     stator.StateName = "new"
	FanOutSent    stator.StateName = "sent"
	FanOutSkipped stator.StateName = "skipped"
	FanOutFailed  stator.StateName = "failed"
)

// Follow states.
const (
	FollowUnrequested     stator.StateName = "unrequested"
	FollowPendingApproval stator.StateName = "pending_approval"
	FollowAccepting       stator.StateName = "accepting"
	FollowRejecting       stator.StateName = "rejecting"
	FollowAccepted        stator.StateName = "accepted"
	FollowRejected        stator.StateName = "rejected"
	FollowUndone          stator.StateName = "undone"
	FollowPendingRemoval  stator.StateName = "pending_removal"
	FollowRemoved         stator.StateName = "removed"
)

// Block states.
const (
	BlockNew            stator.StateName = "new"
	BlockSent           stator.StateName = "sent"
	BlockAwaitingExpiry stator.StateName = "awaiting_expiry"
	BlockUndone         stator.StateName = "undone"
	BlockUndoneSent     stator.StateName = "undone_sent"
)

// Identity states.
const (
	IdentityOutdated stator.StateName = "outdated"
	IdentityUpdated  stator.StateName = "updated"
)

// Active state sets. A relationship or interaction in one of these states is
// in effect from the point of view of its target.
var (
	FollowActiveStates      = []stator.StateName{FollowAccepting, FollowAccepted}
	FollowRequestStates     = []stator.StateName{FollowUnrequested, FollowPendingApproval}
	BlockActiveStates       = []stator.StateName{BlockNew, BlockSent, BlockAwaitingExpiry}
	InteractionActiveStates = []stator.StateName{InteractionNew, InteractionFannedOut}
)
