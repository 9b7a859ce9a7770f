// Package remote talks to other servers: it delivers activities to inboxes
// and fetches ActivityPub collections.
//
// All outbound connections share one transport whose dialer resolves
// through an in-process DNS cache. Fan-out to many inboxes on the same host
// otherwise turns into a burst of identical lookups, and resolver timeouts
// show up as spurious delivery failures.
package remote

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/rs/dnscache"
)

// ActivityContentType is sent on deliveries and requested on fetches.
const ActivityContentType = "application/activity+json"

const (
	defaultTimeout         = 10 * time.Second
	defaultUserAgent       = "incarnator"
	defaultDialTimeout     = 30 * time.Second
	defaultKeepAlive       = 30 * time.Second
	defaultIdleConnTimeout = 90 * time.Second
	defaultMaxIdleConns    = 100
	maxBodyBytes           = 4 << 20
)

// Deliverer posts a serialized activity to an inbox.
type Deliverer interface {
	Deliver(ctx context.Context, endpoint string, payload []byte) error
}

// Fetcher reads an ActivityPub collection.
type Fetcher interface {
	FetchCollection(ctx context.Context, url string) (Collection, error)
}

// Options configures a Client.
type Options struct {
	// Timeout bounds each request, including reading the body.
	Timeout time.Duration

	// UserAgent is sent on every request.
	UserAgent string
}

// Client is the HTTP implementation of Deliverer and Fetcher.
//
// Thread-safety: safe for concurrent use.
type Client struct {
	http      *http.Client
	resolver  *dnscache.Resolver
	timeout   time.Duration
	userAgent string
}

// NewClient creates a client with its own DNS cache.
func NewClient(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}

	resolver := &dnscache.Resolver{}
	trans := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        defaultMaxIdleConns,
		IdleConnTimeout:     defaultIdleConnTimeout,
		TLSHandshakeTimeout: 10 * time.Second,
		// Compressed bodies are decoded by decompressor, not the transport.
		DisableCompression: true,
	}
	useDNSCacheDialer(trans, resolver, defaultDialTimeout, defaultKeepAlive)

	return &Client{
		http:      &http.Client{Transport: newDecompressor(trans)},
		resolver:  resolver,
		timeout:   opts.Timeout,
		userAgent: opts.UserAgent,
	}
}

// HTTPClient exposes the shared client for collaborators that build their
// own requests, such as the web push dispatcher.
func (c *Client) HTTPClient() *http.Client {
	return c.http
}

// RefreshDNS re-resolves cached hosts; clearUnused drops hosts not looked
// up since the previous refresh. Call it periodically.
func (c *Client) RefreshDNS(clearUnused bool) {
	c.resolver.Refresh(clearUnused)
}

// useDNSCacheDialer makes trans resolve hosts through resolver, trying each
// returned address in turn.
func useDNSCacheDialer(trans *http.Transport, resolver *dnscache.Resolver, timeout, keepAlive time.Duration) {
	dialer := &net.Dialer{
		Timeout:   timeout,
		KeepAlive: keepAlive,
	}

	trans.DialContext = func(ctx context.Context, network string, addr string) (conn net.Conn, err error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, err
		}

		ips, err := resolver.LookupHost(ctx, host)
		if err != nil {
			return nil, err
		}

		for _, ip := range ips {
			conn, err = dialer.DialContext(ctx, network, net.JoinHostPort(ip, port))
			if err == nil {
				break
			}
		}

		return
	}
}
