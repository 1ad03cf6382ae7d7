// Package guard enforces single execution of a test across a node or the
// whole cluster. A guard couples a mutex of matching scope with a published
// record of the holder, so contended callers can report who is running it.
package guard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

var (
	// ErrContended is returned by a Locker when another process holds the mutex.
	ErrContended = errors.New("mutex held by another process")
	// ErrHolderUnknown is returned when the holder never published itself
	// within the polling window.
	ErrHolderUnknown = errors.New("holder of contended mutex unknown")
)

const (
	// DefaultPublishTTL bounds how long a holder record stays visible.
	DefaultPublishTTL = 60 * time.Second
	// DefaultPollWindow bounds how long a contended caller waits for the
	// holder record.
	DefaultPollWindow = 5 * time.Second
)

// Holder identifies the node running a guarded test.
type Holder struct {
	IP       string `json:"ip"`
	Hostname string `json:"hostname"`
}

// Locker takes a non-blocking mutex for a test name.
type Locker interface {
	TryLock(ctx context.Context, name string) (release func() error, err error)
}

// HolderCache is the shared volatile cache holder records live in.
type HolderCache interface {
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Get(ctx context.Context, key string, dst any) (bool, error)
}

// Guard serialises one scope of tests.
type Guard struct {
	scope        string
	locker       Locker
	cache        HolderCache
	self         Holder
	logger       *slog.Logger
	publishTTL   time.Duration
	pollWindow   time.Duration
	pollInterval time.Duration
}

// Option tunes a Guard.
type Option func(*Guard)

// WithPollWindow overrides how long contended callers wait for the holder.
func WithPollWindow(d time.Duration) Option {
	return func(g *Guard) { g.pollWindow = d }
}

// WithPublishTTL overrides the lifetime of the holder record.
func WithPublishTTL(d time.Duration) Option {
	return func(g *Guard) { g.publishTTL = d }
}

// WithLogger sets the guard's logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Guard) { g.logger = l }
}

// New returns a guard for scope ("node" or "cluster").
func New(scope string, locker Locker, cache HolderCache, self Holder, opts ...Option) *Guard {
	g := &Guard{
		scope:        scope,
		locker:       locker,
		cache:        cache,
		self:         self,
		logger:       slog.Default(),
		publishTTL:   DefaultPublishTTL,
		pollWindow:   DefaultPollWindow,
		pollInterval: 100 * time.Millisecond,
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Scope returns the guard's scope name.
func (g *Guard) Scope() string { return g.scope }

func (g *Guard) cacheKey(name string) string {
	return "guard:" + g.scope + ":" + name
}

// Acquire tries to take the mutex for name. A contended mutex is not an
// error: the returned lease reports Acquired() == false.
func (g *Guard) Acquire(ctx context.Context, name string) (*Lease, error) {
	release, err := g.locker.TryLock(ctx, name)
	if errors.Is(err, ErrContended) {
		g.logger.Debug("guard contended", "scope", g.scope, "test", name)
		return &Lease{guard: g, name: name}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("acquiring %s guard for %s: %w", g.scope, name, err)
	}

	if err := g.cache.Set(ctx, g.cacheKey(name), g.self, g.publishTTL); err != nil {
		g.logger.Warn("publishing guard holder", "scope", g.scope, "test", name, "error", err)
	}
	return &Lease{guard: g, name: name, acquired: true, release: release}, nil
}

// Do runs fn under the guard. When the mutex is held elsewhere, fn is not
// run; onContended receives the published holder instead. The mutex is
// released on every exit path of fn, panics included.
func (g *Guard) Do(ctx context.Context, name string, fn func(context.Context) error, onContended func(Holder)) error {
	lease, err := g.Acquire(ctx, name)
	if err != nil {
		return err
	}
	if !lease.Acquired() {
		h, err := lease.HolderInfo(ctx)
		if err != nil {
			return err
		}
		onContended(h)
		return nil
	}
	defer func() {
		if err := lease.Release(); err != nil {
			g.logger.Warn("releasing guard", "scope", g.scope, "test", name, "error", err)
		}
	}()
	return fn(ctx)
}

// Lease is the outcome of one acquire attempt.
type Lease struct {
	guard    *Guard
	name     string
	acquired bool
	release  func() error
	once     sync.Once
}

// Acquired reports whether this process holds the mutex.
func (l *Lease) Acquired() bool { return l.acquired }

// HolderInfo returns the published identity of the current holder, polling
// the cache for up to the guard's window.
func (l *Lease) HolderInfo(ctx context.Context) (Holder, error) {
	g := l.guard
	if l.acquired {
		return g.self, nil
	}
	ctx, cancel := context.WithTimeout(ctx, g.pollWindow)
	defer cancel()

	ticker := time.NewTicker(g.pollInterval)
	defer ticker.Stop()
	for {
		var h Holder
		found, err := g.cache.Get(ctx, g.cacheKey(l.name), &h)
		if err != nil && ctx.Err() == nil {
			g.logger.Debug("reading guard holder", "test", l.name, "error", err)
		}
		if found {
			return h, nil
		}
		select {
		case <-ctx.Done():
			return Holder{}, fmt.Errorf("%w: %s guard for %s", ErrHolderUnknown, g.scope, l.name)
		case <-ticker.C:
		}
	}
}

// Release frees the mutex. It is safe to call more than once.
func (l *Lease) Release() error {
	if !l.acquired {
		return nil
	}
	var err error
	l.once.Do(func() { err = l.release() })
	return err
}
