package push

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avaraline/incarnator/internal/models"
	"github.com/avaraline/incarnator/internal/remote"
)

// testSubscription returns a subscription with real client keys so the
// message can be encrypted.
func testSubscription(t *testing.T, endpoint string) models.PushSubscription {
	t.Helper()
	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)
	auth := make([]byte, 16)
	_, err = rand.Read(auth)
	require.NoError(t, err)
	return models.PushSubscription{
		TokenID:  "token",
		Endpoint: endpoint,
		Auth:     base64.RawURLEncoding.EncodeToString(auth),
		P256dh:   base64.RawURLEncoding.EncodeToString(priv.PublicKey().Bytes()),
	}
}

func testVAPID(t *testing.T) VAPID {
	t.Helper()
	private, public, err := webpush.GenerateVAPIDKeys()
	require.NoError(t, err)
	return VAPID{PublicKey: public, PrivateKey: private, Subscriber: "admin@example.com"}
}

func TestWebPush_Send(t *testing.T) {
	var gotAuth, gotEncoding, gotTTL string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotEncoding = r.Header.Get("Content-Encoding")
		gotTTL = r.Header.Get("TTL")
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	w := NewWebPush(testVAPID(t), srv.Client())
	err := w.Send(context.Background(), testSubscription(t, srv.URL+"/push/1"), []byte(`{"title":"hi"}`))
	require.NoError(t, err)
	assert.Contains(t, gotAuth, "vapid")
	assert.Equal(t, "aes128gcm", gotEncoding)
	assert.Equal(t, "60", gotTTL)
}

func TestWebPush_StatusClassification(t *testing.T) {
	tests := []struct {
		status    int
		permanent bool
	}{
		{http.StatusNotFound, true},
		{http.StatusGone, true},
		{http.StatusTooManyRequests, false},
		{http.StatusInternalServerError, false},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			w := NewWebPush(testVAPID(t), srv.Client())
			err := w.Send(context.Background(), testSubscription(t, srv.URL), []byte(`{}`))
			require.Error(t, err)
			assert.Equal(t, tt.permanent, remote.IsPermanent(err))
			assert.Equal(t, tt.status, remote.StatusCode(err))
		})
	}
}

func TestNewDispatcher_Unconfigured(t *testing.T) {
	assert.Nil(t, NewDispatcher(VAPID{}, nil))
	assert.NotNil(t, NewDispatcher(testVAPID(t), nil))
}
