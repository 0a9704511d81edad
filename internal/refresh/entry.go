package refresh

import (
	"context"
	"sync"
	"time"

	"upsnapshot/internal/log"
	"upsnapshot/internal/snapshot"
	"upsnapshot/internal/upapi"
)

// Entry owns the coordinator for one configured credential. Changing the
// refresh interval replaces the coordinator; the last good snapshot stays
// readable while that happens and after it fails.
type Entry struct {
	fetcher upapi.Fetcher
	logger  *log.Logger

	reconfigure sync.Mutex // serialises Reconfigure and Close

	mu      sync.RWMutex
	opts    Options
	current *Coordinator
	ready   bool
}

// Setup builds a coordinator, runs its first refresh under ctx and starts
// it. When the first refresh fails no entry is returned and the error wraps
// ErrNotReady; the caller is expected to retry later.
func Setup(ctx context.Context, fetcher upapi.Fetcher, opts Options) (*Entry, error) {
	opts = opts.withDefaults()
	c := New(fetcher, opts)
	if err := c.FirstRefresh(ctx); err != nil {
		return nil, err
	}
	c.Start()

	e := &Entry{
		fetcher: fetcher,
		logger:  opts.Logger.WithComponent(log.ComponentEntry),
		opts:    opts,
		current: c,
		ready:   true,
	}
	e.logger.Info("entry ready", log.FieldInterval, opts.Interval.String())
	return e, nil
}

// Reconfigure restarts the entry with a new interval. The running
// coordinator is stopped (a cycle it has in flight finishes and is
// discarded) and a fresh one must pass its first refresh before it is
// swapped in. On failure the entry is not ready, keeps serving the previous
// snapshot, and remembers interval for the next attempt.
func (e *Entry) Reconfigure(ctx context.Context, interval time.Duration) error {
	e.reconfigure.Lock()
	defer e.reconfigure.Unlock()

	e.mu.Lock()
	old := e.current
	opts := e.opts
	opts.Interval = interval
	opts = opts.withDefaults()
	e.opts = opts
	e.mu.Unlock()

	old.Stop()

	next := New(e.fetcher, opts)
	if err := next.FirstRefresh(ctx); err != nil {
		e.mu.Lock()
		e.ready = false
		e.mu.Unlock()
		e.logger.Warn("reconfigure failed; serving previous snapshot",
			log.FieldInterval, opts.Interval.String(),
			log.FieldErrorKind, upapi.KindName(err),
			log.FieldError, err,
		)
		return err
	}
	next.Start()

	e.mu.Lock()
	e.current = next
	e.ready = true
	e.mu.Unlock()
	e.logger.Info("entry reconfigured", log.FieldInterval, opts.Interval.String())
	return nil
}

// Coordinator returns the coordinator currently serving reads.
func (e *Entry) Coordinator() *Coordinator {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.current
}

func (e *Entry) CurrentSnapshot() *snapshot.Snapshot { return e.Coordinator().CurrentSnapshot() }

// LastRefreshSucceeded is false while the entry is not ready.
func (e *Entry) LastRefreshSucceeded() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ready && e.current.LastRefreshSucceeded()
}

// Ready reports whether the entry has a running coordinator.
func (e *Entry) Ready() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ready
}

// Interval is the configured interval, including one whose reconfiguration
// did not complete.
func (e *Entry) Interval() time.Duration {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.opts.Interval
}

// RequestRefresh forwards to the running coordinator.
func (e *Entry) RequestRefresh() bool {
	if !e.Ready() {
		return false
	}
	return e.Coordinator().RequestRefresh()
}

// Status is the current coordinator's status, with the entry's interval.
func (e *Entry) Status() Status {
	s := e.Coordinator().Status()
	if !e.Ready() {
		s.LastRefreshSucceeded = false
	}
	iv := e.Interval()
	s.Interval = iv.String()
	s.IntervalMinutes = iv.Minutes()
	return s
}

// Close stops the running coordinator.
func (e *Entry) Close() {
	e.reconfigure.Lock()
	defer e.reconfigure.Unlock()
	e.Coordinator().Stop()
	e.mu.Lock()
	e.ready = false
	e.mu.Unlock()
	e.logger.Info("entry closed")
}
