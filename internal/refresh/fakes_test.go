package refresh_test

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"upsnapshot/internal/refresh"
	"upsnapshot/internal/upapi"
)

// fakeFetcher serves canned documents. Endpoints listed in fail return that
// error; while block is set every fetch waits for it to close.
type fakeFetcher struct {
	mu    sync.Mutex
	docs  map[string]upapi.Document
	fail  map[string]error
	block chan struct{}

	entered  chan string
	bursts   atomic.Int32 // FetchAccounts calls; one per cycle
	pageSize atomic.Int32
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		docs: map[string]upapi.Document{
			upapi.EndpointAccounts: upapi.NewDocument(
				account("acc-1", "Spending", "10.50"),
				account("acc-2", "Savings", "-3.20"),
			),
			upapi.EndpointTransactions: upapi.NewDocument(upapi.Resource{Type: "transactions", ID: "tx-1"}),
			upapi.EndpointCategories:   upapi.NewDocument(upapi.Resource{Type: "categories", ID: "groceries"}),
			upapi.EndpointTags:         upapi.NewDocument(upapi.Resource{Type: "tags", ID: "holiday"}),
		},
		fail:    map[string]error{},
		entered: make(chan string, 64),
	}
}

func account(id, name, balance string) upapi.Resource {
	attrs, _ := json.Marshal(map[string]any{
		"displayName": name,
		"balance":     map[string]string{"currencyCode": "AUD", "value": balance},
	})
	return upapi.Resource{Type: "accounts", ID: id, Attributes: attrs}
}

func (f *fakeFetcher) setFail(endpoint string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.fail, endpoint)
		return
	}
	f.fail[endpoint] = err
}

func (f *fakeFetcher) setDoc(endpoint string, doc upapi.Document) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs[endpoint] = doc
}

// hold makes subsequent fetches block; the returned func releases them.
func (f *fakeFetcher) hold() (release func()) {
	ch := make(chan struct{})
	f.mu.Lock()
	f.block = ch
	f.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			f.block = nil
			f.mu.Unlock()
			close(ch)
		})
	}
}

func (f *fakeFetcher) get(ctx context.Context, endpoint string) (upapi.Document, error) {
	f.mu.Lock()
	block := f.block
	doc := f.docs[endpoint]
	err := f.fail[endpoint]
	f.mu.Unlock()

	select {
	case f.entered <- endpoint:
	default:
	}
	if err != nil {
		return upapi.Document{}, err
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return upapi.Document{}, &upapi.FetchError{Kind: upapi.ErrTransport, Endpoint: endpoint, Err: ctx.Err()}
		}
	}
	return doc, nil
}

func (f *fakeFetcher) FetchAccounts(ctx context.Context) (upapi.Document, error) {
	f.bursts.Add(1)
	return f.get(ctx, upapi.EndpointAccounts)
}

func (f *fakeFetcher) FetchTransactions(ctx context.Context, pageSize int) (upapi.Document, error) {
	f.pageSize.Store(int32(pageSize))
	return f.get(ctx, upapi.EndpointTransactions)
}

func (f *fakeFetcher) FetchCategories(ctx context.Context) (upapi.Document, error) {
	return f.get(ctx, upapi.EndpointCategories)
}

func (f *fakeFetcher) FetchTags(ctx context.Context) (upapi.Document, error) {
	return f.get(ctx, upapi.EndpointTags)
}

// fakeClock hands out timers that only fire when told to, and records the
// duration each was armed with.
type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
	armed  chan time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{armed: make(chan time.Duration, 64)}
}

func (c *fakeClock) NewTimer(d time.Duration) refresh.Timer {
	t := &fakeTimer{c: make(chan time.Time, 1)}
	c.mu.Lock()
	c.timers = append(c.timers, t)
	c.mu.Unlock()
	c.armed <- d
	return t
}

// fire triggers the most recently armed timer.
func (c *fakeClock) fire() {
	c.mu.Lock()
	t := c.timers[len(c.timers)-1]
	c.mu.Unlock()
	t.c <- time.Now()
}

type fakeTimer struct {
	c       chan time.Time
	stopped atomic.Bool
}

func (t *fakeTimer) C() <-chan time.Time { return t.c }

func (t *fakeTimer) Stop() bool { return !t.stopped.Swap(true) }
