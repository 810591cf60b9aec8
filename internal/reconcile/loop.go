package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"rental-platform/internal/listing"
	"rental-platform/internal/metrics"
	"rental-platform/pkg/logger"
)

// ErrStale is returned by RunOnce when a local write landed while the
// collection was being fetched. The fetched snapshot is discarded.
var ErrStale = errors.New("reconcile: snapshot superseded by local write")

// Source is the read half of the persistence boundary.
type Source interface {
	ListCollection(ctx context.Context, scope listing.Scope) ([]listing.Listing, error)
}

type Options struct {
	Store  *listing.Store
	Source Source

	// ScopeFunc picks the fetch scope per tick. When nil the store's own
	// scope is used.
	ScopeFunc func() listing.Scope

	Interval time.Duration
	Timeout  time.Duration

	Logger  *slog.Logger
	Metrics *metrics.Registry
	Clock   func() time.Time
}

type Stats struct {
	Ticks               uint64    `json:"ticks"`
	Failures            uint64    `json:"failures"`
	Stale               uint64    `json:"stale"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastSuccess         time.Time `json:"last_success"`
	LastError           string    `json:"last_error,omitempty"`
}

// Loop keeps a Store close to the backend by replacing the whole collection
// on a fixed interval and whenever Trigger is called.
//
// Ticks never overlap: the worker and RunOnce share one tick lock, and
// triggers received while a tick is running coalesce into a single follow-up.
type Loop struct {
	opts Options
	log  *slog.Logger

	trigger chan struct{}
	tickMu  sync.Mutex

	mu     sync.Mutex
	stats  Stats
	cancel context.CancelFunc
	done   chan struct{}
}

func New(opts Options) *Loop {
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.ScopeFunc == nil {
		scope := opts.Store.Scope()
		opts.ScopeFunc = func() listing.Scope { return scope }
	}
	return &Loop{
		opts:    opts,
		log:     logger.OrDefault(opts.Logger).With("component", "reconcile", "store_scope", string(opts.Store.Scope())),
		trigger: make(chan struct{}, 1),
	}
}

// Start launches the worker. It runs one tick right away. Calling Start on
// a running loop does nothing.
func (l *Loop) Start(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})
	go l.run(ctx, l.done)
}

// Stop cancels the worker and waits for it to exit. A tick in flight is
// either applied whole or not at all. Stop is safe to call more than once.
func (l *Loop) Stop() {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.cancel, l.done = nil, nil
	l.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Trigger asks for a tick as soon as the worker is free. It never blocks.
func (l *Loop) Trigger() {
	select {
	case l.trigger <- struct{}{}:
	default:
	}
}

func (l *Loop) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}

func (l *Loop) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	t := time.NewTicker(l.opts.Interval)
	defer t.Stop()

	l.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			l.tick(ctx)
		case <-l.trigger:
			l.tick(ctx)
		}
	}
}

func (l *Loop) tick(ctx context.Context) {
	err := l.RunOnce(ctx)
	if errors.Is(err, ErrStale) {
		l.Trigger()
	}
}

// RunOnce performs a single reconciliation. Fetch failures leave the store
// untouched and are returned; callers in the background loop only log them.
func (l *Loop) RunOnce(ctx context.Context) error {
	l.tickMu.Lock()
	defer l.tickMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	scope := l.opts.ScopeFunc()
	rev := l.opts.Store.Revision()

	fetchCtx, cancel := context.WithTimeout(ctx, l.opts.Timeout)
	listings, err := l.opts.Source.ListCollection(fetchCtx, scope)
	cancel()

	if err != nil {
		if ctx.Err() != nil {
			// Torn down mid-fetch; not a backend failure.
			return ctx.Err()
		}
		return l.failed(scope, err)
	}

	if !l.opts.Store.ReplaceAllAt(rev, listings) {
		l.mu.Lock()
		l.stats.Ticks++
		l.stats.Stale++
		l.mu.Unlock()
		l.opts.Metrics.ReconcileStale(string(scope))
		l.log.Debug("reconcile snapshot discarded", "scope", scope)
		return ErrStale
	}

	now := l.opts.Clock()
	l.mu.Lock()
	l.stats.Ticks++
	l.stats.ConsecutiveFailures = 0
	l.stats.LastSuccess = now
	l.stats.LastError = ""
	l.mu.Unlock()

	l.opts.Metrics.ReconcileSucceeded(string(scope), now)
	l.log.Debug("reconcile applied", "scope", scope, "listings", len(listings))
	return nil
}

func (l *Loop) failed(scope listing.Scope, err error) error {
	l.mu.Lock()
	l.stats.Ticks++
	l.stats.Failures++
	l.stats.ConsecutiveFailures++
	l.stats.LastError = err.Error()
	consecutive := l.stats.ConsecutiveFailures
	l.mu.Unlock()

	l.opts.Metrics.ReconcileFailed(string(scope), consecutive)
	l.log.Warn("reconcile fetch failed; keeping previous snapshot",
		"scope", scope,
		"consecutive_failures", consecutive,
		"err", err,
	)
	return fmt.Errorf("reconcile %s: %w", scope, err)
}
