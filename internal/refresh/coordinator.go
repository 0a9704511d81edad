// Package refresh keeps an Up snapshot current: it runs fetch cycles on a
// timer or on demand, never more than one at a time, and publishes the
// result only when every fetch of the cycle succeeded.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"upsnapshot/internal/log"
	"upsnapshot/internal/snapshot"
	"upsnapshot/internal/upapi"
)

const (
	DefaultInterval     = 10 * time.Minute
	DefaultPageSize     = 50
	DefaultFetchTimeout = 30 * time.Second
)

var (
	// ErrNotReady is returned when the first refresh of a coordinator fails.
	// It wraps the cause.
	ErrNotReady = errors.New("refresh: first refresh failed")
	// ErrStopped is returned by a cycle that completed after Stop; its
	// result was discarded.
	ErrStopped = errors.New("refresh: coordinator stopped")
	// ErrInFlight is returned by FirstRefresh when another cycle is running.
	ErrInFlight = errors.New("refresh: cycle already in flight")
)

// Timer is the part of *time.Timer the loop uses.
type Timer interface {
	C() <-chan time.Time
	Stop() bool
}

type realTimer struct{ *time.Timer }

func (t realTimer) C() <-chan time.Time { return t.Timer.C }

// Options configures a Coordinator. Zero values take the defaults.
type Options struct {
	Interval     time.Duration
	PageSize     int
	FetchTimeout time.Duration
	Logger       *log.Logger

	// Clock hooks, for tests.
	Now      func() time.Time
	NewTimer func(time.Duration) Timer
}

func (o Options) withDefaults() Options {
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	if o.PageSize <= 0 {
		o.PageSize = DefaultPageSize
	}
	if o.FetchTimeout <= 0 {
		o.FetchTimeout = DefaultFetchTimeout
	}
	if o.Logger == nil {
		o.Logger = log.Discard()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.NewTimer == nil {
		o.NewTimer = func(d time.Duration) Timer { return realTimer{time.NewTimer(d)} }
	}
	return o
}

// Status is a point-in-time view of a coordinator's state.
type Status struct {
	Interval             string     `json:"interval"`
	IntervalMinutes      float64    `json:"interval_minutes"`
	InFlight             bool       `json:"in_flight"`
	LastRefreshSucceeded bool       `json:"last_refresh_succeeded"`
	HasSnapshot          bool       `json:"has_snapshot"`
	LastAttemptAt        *time.Time `json:"last_attempt_at,omitempty"`
	LastSuccessAt        *time.Time `json:"last_success_at,omitempty"`
	LastError            string     `json:"last_error,omitempty"`
	LastErrorKind        string     `json:"last_error_kind,omitempty"`
	Cycles               int        `json:"cycles"`
	Failures             int        `json:"failures"`
}

// Coordinator owns the refresh schedule for one set of credentials.
// Readers call CurrentSnapshot at any time without blocking.
type Coordinator struct {
	fetcher upapi.Fetcher
	opts    Options
	logger  *log.Logger

	current   atomic.Pointer[snapshot.Snapshot]
	succeeded atomic.Bool
	inFlight  atomic.Bool

	kick     chan string
	finished chan struct{}
	stop     chan struct{}
	done     chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
	started   atomic.Bool

	mu          sync.Mutex // guards the fields below and publication
	stopped     bool
	lastAttempt time.Time
	lastSuccess time.Time
	lastErr     error
	cycles      int
	failures    int
}

// New builds a coordinator. It does not fetch anything until FirstRefresh.
func New(fetcher upapi.Fetcher, opts Options) *Coordinator {
	opts = opts.withDefaults()
	return &Coordinator{
		fetcher:  fetcher,
		opts:     opts,
		logger:   opts.Logger.WithComponent(log.ComponentRefresh),
		kick:     make(chan string, 1),
		finished: make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// FirstRefresh runs one cycle synchronously under ctx. On failure nothing is
// published and the returned error wraps both ErrNotReady and the cause.
func (c *Coordinator) FirstRefresh(ctx context.Context) error {
	if !c.inFlight.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: %w", ErrNotReady, ErrInFlight)
	}
	defer c.inFlight.Store(false)
	if err := c.cycle(ctx, "first"); err != nil {
		return fmt.Errorf("%w: %w", ErrNotReady, err)
	}
	return nil
}

// Start arms the timer loop. Call it once, after a successful FirstRefresh.
func (c *Coordinator) Start() {
	c.startOnce.Do(func() {
		c.started.Store(true)
		go c.loop()
	})
}

// RequestRefresh asks for an immediate cycle. It reports false, and does
// nothing, when a cycle is already running or the loop is not running.
func (c *Coordinator) RequestRefresh() bool {
	if !c.started.Load() {
		return false
	}
	// Holding mu orders the send against Stop: once stopped is set no kick
	// is queued, and a kick queued earlier is drained by the exiting loop.
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return false
	}
	if !c.inFlight.CompareAndSwap(false, true) {
		return false
	}
	select {
	case c.kick <- "manual":
		return true
	default:
		c.inFlight.Store(false)
		return false
	}
}

// CurrentSnapshot returns the last published snapshot, or nil before the
// first success. The snapshot must not be modified.
func (c *Coordinator) CurrentSnapshot() *snapshot.Snapshot { return c.current.Load() }

// LastRefreshSucceeded reports whether the most recent completed cycle
// published a snapshot.
func (c *Coordinator) LastRefreshSucceeded() bool { return c.succeeded.Load() }

// Interval is the fixed delay between cycles.
func (c *Coordinator) Interval() time.Duration { return c.opts.Interval }

func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Status{
		Interval:             c.opts.Interval.String(),
		IntervalMinutes:      c.opts.Interval.Minutes(),
		InFlight:             c.inFlight.Load(),
		LastRefreshSucceeded: c.succeeded.Load(),
		HasSnapshot:          c.current.Load() != nil,
		Cycles:               c.cycles,
		Failures:             c.failures,
	}
	if !c.lastAttempt.IsZero() {
		t := c.lastAttempt
		s.LastAttemptAt = &t
	}
	if !c.lastSuccess.IsZero() {
		t := c.lastSuccess
		s.LastSuccessAt = &t
	}
	if c.lastErr != nil {
		s.LastError = c.lastErr.Error()
		s.LastErrorKind = upapi.KindName(c.lastErr)
	}
	return s
}

// Stop ends the timer loop. A cycle already running is left to finish and
// its result is thrown away. Stop is idempotent.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		c.stopped = true
		c.mu.Unlock()
		close(c.stop)
		if c.started.Load() {
			<-c.done
		}
		c.logger.Debug("coordinator stopped", log.FieldInterval, c.opts.Interval.String())
	})
}

// loop owns the timer. Cycles run on their own goroutine and report back on
// finished, which re-arms the timer at the full interval.
func (c *Coordinator) loop() {
	defer close(c.done)
	timer := c.opts.NewTimer(c.opts.Interval)
	for {
		select {
		case <-c.stop:
			timer.Stop()
			select {
			case <-c.kick:
				c.inFlight.Store(false)
			default:
			}
			return
		case <-timer.C():
			if !c.inFlight.CompareAndSwap(false, true) {
				// someone else's cycle is running; it re-arms on finish
				timer = c.opts.NewTimer(c.opts.Interval)
				continue
			}
			go c.run("timer")
		case trigger := <-c.kick:
			go c.run(trigger)
		case <-c.finished:
			timer.Stop()
			timer = c.opts.NewTimer(c.opts.Interval)
		}
	}
}

// run executes one background cycle. The caller has already set inFlight.
func (c *Coordinator) run(trigger string) {
	_ = c.cycle(context.Background(), trigger)
	c.inFlight.Store(false)
	select {
	case c.finished <- struct{}{}:
	case <-c.stop:
	}
}

func (c *Coordinator) cycle(ctx context.Context, trigger string) error {
	start := c.opts.Now()
	c.mu.Lock()
	c.lastAttempt = start
	c.cycles++
	c.mu.Unlock()
	c.logger.Debug("cycle started", log.FieldTrigger, trigger, log.FieldPageSize, c.opts.PageSize)

	snap, err := c.fetchAll(ctx)
	if err != nil {
		return c.fail(err, trigger)
	}
	if !c.publish(snap) {
		c.logger.Debug("discarding cycle result after stop", log.FieldTrigger, trigger)
		return ErrStopped
	}

	for _, d := range snap.Degradations {
		c.logger.Warn("snapshot degraded",
			"kind", string(d.Kind),
			"collection", string(d.Collection),
			"id", d.ID,
			"detail", d.Detail,
		)
	}
	c.logger.Info("snapshot refreshed",
		log.FieldTrigger, trigger,
		log.FieldAccounts, snap.Summary.AccountCount,
		log.FieldTransactions, snap.Summary.TransactionCount,
		log.FieldCategories, len(snap.Categories),
		log.FieldTags, len(snap.Tags),
		log.FieldTotalBalance, snap.Summary.TotalBalance,
		log.FieldDegraded, snap.Degraded(),
		log.FieldDuration, c.opts.Now().Sub(start).Milliseconds(),
	)
	return nil
}

// fetchAll runs the four fetches concurrently. The first failure cancels the
// others and is returned; no documents are kept from a failed cycle.
func (c *Coordinator) fetchAll(ctx context.Context) (*snapshot.Snapshot, error) {
	var accounts, transactions, categories, tags upapi.Document

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.fetch(gctx, upapi.EndpointAccounts, &accounts, c.fetcher.FetchAccounts)
	})
	g.Go(func() error {
		return c.fetch(gctx, upapi.EndpointTransactions, &transactions, func(ctx context.Context) (upapi.Document, error) {
			return c.fetcher.FetchTransactions(ctx, c.opts.PageSize)
		})
	})
	g.Go(func() error {
		return c.fetch(gctx, upapi.EndpointCategories, &categories, c.fetcher.FetchCategories)
	})
	g.Go(func() error {
		return c.fetch(gctx, upapi.EndpointTags, &tags, c.fetcher.FetchTags)
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return snapshot.BuildAt(c.opts.Now().UTC(), accounts, transactions, categories, tags), nil
}

func (c *Coordinator) fetch(ctx context.Context, endpoint string, dst *upapi.Document, fn func(context.Context) (upapi.Document, error)) error {
	ctx, cancel := context.WithTimeout(ctx, c.opts.FetchTimeout)
	defer cancel()
	doc, err := fn(ctx)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", endpoint, err)
	}
	*dst = doc
	return nil
}

// publish swaps snap in unless the coordinator has been stopped.
func (c *Coordinator) publish(snap *snapshot.Snapshot) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return false
	}
	c.current.Store(snap)
	c.succeeded.Store(true)
	c.lastSuccess = snap.FetchedAt
	c.lastErr = nil
	return true
}

func (c *Coordinator) fail(err error, trigger string) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		c.logger.Debug("discarding failed cycle after stop", log.FieldTrigger, trigger, log.FieldError, err)
		return err
	}
	c.succeeded.Store(false)
	c.lastErr = err
	c.failures++
	c.mu.Unlock()

	if errors.Is(err, upapi.ErrAuthenticationRejected) {
		c.logger.Error("Up API rejected the token; check up.token or UP_API_TOKEN",
			log.FieldTrigger, trigger,
			log.FieldErrorKind, upapi.KindName(err),
			log.FieldError, err,
		)
		return err
	}
	c.logger.Warn("refresh failed; keeping previous snapshot",
		log.FieldTrigger, trigger,
		log.FieldErrorKind, upapi.KindName(err),
		log.FieldError, err,
	)
	return err
}
