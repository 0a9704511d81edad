package ratelimit

import (
	"context"
	"sync"
	"time"

	"upsnapshot/internal/upapi"
)

// Limiter gates outbound requests.
type Limiter interface {
	Wait(ctx context.Context) error
}

// New picks a limiter the way the settings describe it: a token bucket when a
// requests-per-minute budget is set, otherwise a minimum gap between requests.
// It returns nil when neither is configured.
func New(maxRequestsPerMinute, burst int, minInterval time.Duration) Limiter {
	if maxRequestsPerMinute > 0 {
		if burst <= 0 {
			burst = 1
		}
		return NewTokenBucket(float64(maxRequestsPerMinute)/60.0, burst)
	}
	if minInterval > 0 {
		return &MinInterval{Interval: minInterval}
	}
	return nil
}

// MinInterval enforces a minimum time between requests.
// Concurrent callers wait until the interval has elapsed since the previous
// request was let through, or return early if the context is canceled.
type MinInterval struct {
	Interval time.Duration

	mu   sync.Mutex
	next time.Time
}

func (m *MinInterval) Wait(ctx context.Context) error {
	if m.Interval <= 0 {
		return nil
	}
	// reserve a slot, then sleep until it comes up
	m.mu.Lock()
	now := time.Now()
	slot := m.next
	if slot.Before(now) {
		slot = now
	}
	m.next = slot.Add(m.Interval)
	m.mu.Unlock()

	wait := time.Until(slot)
	if wait <= 0 {
		return nil
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Fetcher wraps an upapi.Fetcher and passes every request through a Limiter.
// A limiter wait that is cut short by the context is reported as a transport
// failure, like any other request that ran out of time.
type Fetcher struct {
	Next    upapi.Fetcher
	Limiter Limiter
}

var _ upapi.Fetcher = (*Fetcher)(nil)

// Wrap returns next unchanged when l is nil.
func Wrap(next upapi.Fetcher, l Limiter) upapi.Fetcher {
	if l == nil {
		return next
	}
	return &Fetcher{Next: next, Limiter: l}
}

func (f *Fetcher) FetchAccounts(ctx context.Context) (upapi.Document, error) {
	if err := f.wait(ctx, upapi.EndpointAccounts); err != nil {
		return upapi.Document{}, err
	}
	return f.Next.FetchAccounts(ctx)
}

func (f *Fetcher) FetchTransactions(ctx context.Context, pageSize int) (upapi.Document, error) {
	if err := f.wait(ctx, upapi.EndpointTransactions); err != nil {
		return upapi.Document{}, err
	}
	return f.Next.FetchTransactions(ctx, pageSize)
}

func (f *Fetcher) FetchCategories(ctx context.Context) (upapi.Document, error) {
	if err := f.wait(ctx, upapi.EndpointCategories); err != nil {
		return upapi.Document{}, err
	}
	return f.Next.FetchCategories(ctx)
}

func (f *Fetcher) FetchTags(ctx context.Context) (upapi.Document, error) {
	if err := f.wait(ctx, upapi.EndpointTags); err != nil {
		return upapi.Document{}, err
	}
	return f.Next.FetchTags(ctx)
}

func (f *Fetcher) wait(ctx context.Context, endpoint string) error {
	if f.Limiter == nil {
		return nil
	}
	if err := f.Limiter.Wait(ctx); err != nil {
		return &upapi.FetchError{Kind: upapi.ErrTransport, Endpoint: endpoint, Err: err}
	}
	return nil
}
