package models

import (
	"time"

	"github.com/avaraline/incarnator/internal/stator"
)

// Stateful carries the state columns domain code reads. The scheduling
// columns (attempts, lease) are only visible through stator.Status.
type Stateful struct {
	State        stator.StateName
	StateChanged time.Time
}

// Actor types.
const (
	ActorPerson = "person"
	ActorGroup  = "group"
)

// Identity is a local or remote actor.
type Identity struct {
	ID                    string
	Handle                string
	ActorURI              string
	InboxURI              string
	SharedInboxURI        string
	Local                 bool
	ActorType             string
	ManuallyApproves      bool
	FeaturedCollectionURI string
	FeaturedTagsURI       string
	FollowersURI          string
	FollowingURI          string
	OutboxURI             string
	Stats                 IdentityStats
	Created               time.Time
	Stateful
}

// IsGroup reports whether the identity mirrors content it receives.
func (i Identity) IsGroup() bool { return i.ActorType == ActorGroup }

// DeliveryInbox returns the shared inbox when the server offers one.
func (i Identity) DeliveryInbox() string {
	if i.SharedInboxURI != "" {
		return i.SharedInboxURI
	}
	return i.InboxURI
}

// IdentityStats are the counters shown on a profile.
type IdentityStats struct {
	StatusesCount  int        `json:"statuses_count"`
	FollowersCount int        `json:"followers_count"`
	FollowingCount int        `json:"following_count"`
	LastStatusAt   *time.Time `json:"last_status_at,omitempty"`
}

// Post visibilities.
const (
	VisibilityPublic    = "public"
	VisibilityUnlisted  = "unlisted"
	VisibilityFollowers = "followers"
	VisibilityMentioned = "mentioned"
)

// Post is an authored object. Posts are not driven by a graph here; they are
// created and deleted by domain services which fan them out directly.
type Post struct {
	ID         string
	AuthorID   string
	ObjectURI  string
	Content    string
	Visibility string
	Local      bool
	Deleted    bool
	Hashtags   []string
	Mentions   []string
	Created    time.Time
	Published  time.Time
}

// Interaction types.
const (
	InteractionBoost = "boost"
	InteractionLike  = "like"
	InteractionPin   = "pin"
	InteractionVote  = "vote"
)

// PostInteraction is a boost, like, pin or poll vote by IdentityID on PostID.
type PostInteraction struct {
	ID         string
	Type       string
	IdentityID string
	PostID     string
	Value      string
	Created    time.Time
	Stateful
}

// Fan-out types.
const (
	FanOutPost            = "post"
	FanOutPostDeleted     = "post_deleted"
	FanOutInteraction     = "interaction"
	FanOutUndoInteraction = "undo_interaction"
)

// FanOut is the delivery of one event to one identity.
type FanOut struct {
	ID         string
	IdentityID string
	// Inbox is where a remote fan-out is posted. Fan-outs are unique per
	// inbox, so followers behind one shared inbox get a single delivery.
	// Empty for local targets.
	Inbox                string
	Type                 string
	SubjectPostID        string
	SubjectInteractionID string
	Created              time.Time
	Stateful
}

// Timeline event types.
const (
	TimelinePost            = "post"
	TimelineBoost           = "boost"
	TimelineBoosted         = "boosted"
	TimelineLiked           = "liked"
	TimelineMentioned       = "mentioned"
	TimelineFollowed        = "followed"
	TimelineFollowRequested = "follow_requested"
)

// TimelineEvent is one entry in a local identity's home timeline or
// notifications.
type TimelineEvent struct {
	ID                   string
	IdentityID           string
	Type                 string
	SubjectPostID        string
	SubjectIdentityID    string
	SubjectInteractionID string
	Published            time.Time
	Seen                 bool
	Dismissed            bool
}

// Follow is a directed follow relationship.
type Follow struct {
	ID       string
	SourceID string
	TargetID string
	URI      string
	Boosts   bool
	Notify   bool
	Created  time.Time
	Stateful
}

// Block is a block or, when Mute is set, a mute.
type Block struct {
	ID                   string
	SourceID             string
	TargetID             string
	URI                  string
	Mute                 bool
	IncludeNotifications bool
	Expires              time.Time
	Created              time.Time
	Stateful
}

// Hashtag is keyed by its normalized name.
type Hashtag struct {
	Name         string
	NameOverride string
	Public       *bool
	Stats        map[string]any
	StatsUpdated time.Time
	Aliases      []string
	Created      time.Time
	Stateful
}

// DisplayName prefers the override.
func (h Hashtag) DisplayName() string {
	if h.NameOverride != "" {
		return h.NameOverride
	}
	return h.Name
}

// Push notification types, as named by the client API.
const (
	PushMention       = "mention"
	PushStatus        = "status"
	PushBoost         = "reblog"
	PushFollow        = "follow"
	PushFollowRequest = "follow_request"
	PushFavorite      = "favourite"
	PushPoll          = "poll"
	PushUpdate        = "update"
)

// PushSubscription is the web-push endpoint registered for one access token.
type PushSubscription struct {
	TokenID     string
	IdentityID  string
	AccessToken string
	Endpoint    string
	Auth        string
	P256dh      string
	Alerts      map[string]bool
	Policy      string
}

// Allows reports whether notifications of type may be sent. Alerts not
// mentioned are allowed.
func (s PushSubscription) Allows(notificationType string) bool {
	allowed, ok := s.Alerts[notificationType]
	return !ok || allowed
}

// PushNotification is one pending web-push message.
type PushNotification struct {
	ID      string
	TokenID string
	Locale  string
	Type    string
	Title   string
	Body    string
	Created time.Time
	Stateful
}
