package push

import (
	"context"
	"fmt"
	"io"
	"net/http"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/avaraline/incarnator/internal/models"
	"github.com/avaraline/incarnator/internal/remote"
)

// DefaultTTL is how long push services keep an undelivered message, in
// seconds.
const DefaultTTL = 60

// VAPID identifies this server to push services.
type VAPID struct {
	PublicKey  string
	PrivateKey string
	// Subscriber is a contact URL or email for the push service operator.
	Subscriber string
}

// Configured reports whether a private key is present.
func (v VAPID) Configured() bool {
	return v.PrivateKey != ""
}

// WebPush is the Dispatcher that encrypts messages per RFC 8291 and posts
// them to the subscription endpoint.
type WebPush struct {
	keys   VAPID
	client *http.Client
	ttl    int
}

// NewWebPush creates a dispatcher sending through client.
func NewWebPush(keys VAPID, client *http.Client) *WebPush {
	if client == nil {
		client = http.DefaultClient
	}
	return &WebPush{keys: keys, client: client, ttl: DefaultTTL}
}

// NewDispatcher returns a WebPush dispatcher, or nil when keys are not
// configured so that the service fails notifications instead of retrying.
func NewDispatcher(keys VAPID, client *http.Client) Dispatcher {
	if !keys.Configured() {
		return nil
	}
	return NewWebPush(keys, client)
}

// Send implements Dispatcher. 404 and 410 from the push service mean the
// subscription expired and are permanent.
func (w *WebPush) Send(ctx context.Context, sub models.PushSubscription, payload []byte) error {
	rsp, err := webpush.SendNotificationWithContext(ctx, payload, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			Auth:   sub.Auth,
			P256dh: sub.P256dh,
		},
	}, &webpush.Options{
		HTTPClient:      w.client,
		Subscriber:      w.keys.Subscriber,
		TTL:             w.ttl,
		VAPIDPublicKey:  w.keys.PublicKey,
		VAPIDPrivateKey: w.keys.PrivateKey,
	})
	if err != nil {
		return fmt.Errorf("web push to %s: %w: %w", sub.Endpoint, remote.ErrRetriable, err)
	}
	defer rsp.Body.Close()
	_, _ = io.Copy(io.Discard, rsp.Body)

	if rsp.StatusCode < 200 || rsp.StatusCode > 299 {
		return fmt.Errorf("web push: %w", &remote.StatusError{Method: http.MethodPost, URL: sub.Endpoint, StatusCode: rsp.StatusCode})
	}
	return nil
}
