// Package push delivers web push notifications to client subscriptions.
//
// A notification is created in "sending" and retried every minute until it
// is delivered or ten minutes have passed, whichever comes first. The
// timeout rather than an attempt count bounds the retries.
package push

import (
	"time"

	"github.com/avaraline/incarnator/internal/models"
	"github.com/avaraline/incarnator/internal/stator"
)

// Graph returns the notification delivery graph.
//
//	sending --> sent    (deleted after 15m)
//	        \-> failed  (deleted after 1d; also the timeout target after 10m)
func Graph() *stator.Graph {
	return stator.NewGraph("push_notification").
		State(stator.State{
			Name:          models.PushSending,
			TryInterval:   time.Minute,
			ForceInitial:  true,
			TimeoutAfter:  10 * time.Minute,
			TimeoutTarget: models.PushFailed,
		}).
		State(stator.State{Name: models.PushSent, DeleteAfter: 15 * time.Minute}).
		State(stator.State{Name: models.PushFailed, DeleteAfter: 24 * time.Hour}).
		Transition(models.PushSending, models.PushSent, models.PushFailed).
		MustBuild()
}
