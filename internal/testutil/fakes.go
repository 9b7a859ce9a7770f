package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/avaraline/incarnator/internal/models"
	"github.com/avaraline/incarnator/internal/remote"
)

// Delivery is one recorded call to Deliverer.Deliver.
type Delivery struct {
	Endpoint string
	Payload  []byte
}

// Deliverer records deliveries instead of sending them.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type Deliverer struct {
	mu         sync.Mutex
	deliveries []Delivery
	errs       map[string]error
	fallback   error
}

// NewDeliverer creates a deliverer that accepts everything.
func NewDeliverer() *Deliverer {
	return &Deliverer{errs: make(map[string]error)}
}

// Deliver records the call and returns the configured error, if any.
// Failed calls are recorded too.
func (d *Deliverer) Deliver(ctx context.Context, endpoint string, payload []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.deliveries = append(d.deliveries, Delivery{Endpoint: endpoint, Payload: append([]byte(nil), payload...)})
	if err, ok := d.errs[endpoint]; ok {
		return err
	}
	return d.fallback
}

// FailEndpoint makes deliveries to endpoint return err.
func (d *Deliverer) FailEndpoint(endpoint string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.errs[endpoint] = err
}

// FailAll makes every delivery without an endpoint-specific error return err.
// A nil err restores success.
func (d *Deliverer) FailAll(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fallback = err
}

// Deliveries returns a copy of the recorded calls in call order.
func (d *Deliverer) Deliveries() []Delivery {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Delivery(nil), d.deliveries...)
}

// Endpoints returns the sorted endpoints delivered to, duplicates included.
func (d *Deliverer) Endpoints() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.deliveries))
	for _, dl := range d.deliveries {
		out = append(out, dl.Endpoint)
	}
	sort.Strings(out)
	return out
}

// Fetcher serves canned collections by URL.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type Fetcher struct {
	mu          sync.Mutex
	collections map[string]remote.Collection
	errs        map[string]error
	calls       []string
}

// NewFetcher creates a fetcher with no collections; unknown URLs fail
// permanently.
func NewFetcher() *Fetcher {
	return &Fetcher{
		collections: make(map[string]remote.Collection),
		errs:        make(map[string]error),
	}
}

// Serve registers the collection returned for url.
func (f *Fetcher) Serve(url string, c remote.Collection) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.collections[url] = c
}

// Fail makes fetches of url return err.
func (f *Fetcher) Fail(url string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[url] = err
}

// FetchCollection implements remote.Fetcher.
func (f *Fetcher) FetchCollection(ctx context.Context, url string) (remote.Collection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, url)
	if err, ok := f.errs[url]; ok {
		return remote.Collection{}, err
	}
	c, ok := f.collections[url]
	if !ok {
		return remote.Collection{}, fmt.Errorf("fetch %s: %w", url, remote.ErrPermanent)
	}
	return c, nil
}

// Calls returns the fetched URLs in call order.
func (f *Fetcher) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// Push is one recorded web push.
type Push struct {
	Subscription models.PushSubscription
	Payload      []byte
}

// Dispatcher records web pushes instead of sending them.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type Dispatcher struct {
	mu   sync.Mutex
	sent []Push
	err  error
}

// NewDispatcher creates a dispatcher that accepts everything.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

// Send records the push and returns the configured error, if any.
func (d *Dispatcher) Send(ctx context.Context, sub models.PushSubscription, payload []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, Push{Subscription: sub, Payload: append([]byte(nil), payload...)})
	return d.err
}

// FailWith makes every subsequent Send return err. Nil restores success.
func (d *Dispatcher) FailWith(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = err
}

// Sent returns a copy of the recorded pushes in call order.
func (d *Dispatcher) Sent() []Push {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Push(nil), d.sent...)
}
