package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/jonboulle/clockwork"
)

// DefaultMaxWindows bounds the number of windows kept across all keys.
const DefaultMaxWindows = 5000

// ErrInvalidPolicy is returned by New when the policy cannot be enforced.
var ErrInvalidPolicy = errors.New("invalid rate limit policy")

// Limiter counts events for a key across every window of its policy.
//
// A Limiter holds a store handle and is meant to live for a single request.
// It does not coordinate concurrent callers; two requests racing on the same
// key rely on the store's transaction isolation, and one of them may fail with
// ErrWindowExists. Exact counts under heavy contention on one key are not guaranteed.
type Limiter struct {
	prefix     string
	policy     Policy
	limits     map[Minutes]int64
	store      Store
	clock      clockwork.Clock
	maxWindows int64
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock sets the clock used to evaluate and compute window expiry.
func WithClock(c clockwork.Clock) Option {
	return func(l *Limiter) {
		l.clock = c
	}
}

// WithMaxWindows sets how many windows the store may hold before pruning.
func WithMaxWindows(n int64) Option {
	return func(l *Limiter) {
		l.maxWindows = n
	}
}

// New creates a Limiter that namespaces keys under prefix.
func New(prefix string, policy Policy, store Store, opts ...Option) (*Limiter, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}

	limits := make(map[Minutes]int64, len(policy))
	for _, rule := range policy {
		limits[rule.Duration] = rule.Limit
	}

	l := &Limiter{
		prefix:     prefix + ":",
		policy:     slices.Clone(policy),
		limits:     limits,
		store:      store,
		clock:      clockwork.NewRealClock(),
		maxWindows: DefaultMaxWindows,
	}

	for _, opt := range opts {
		opt(l)
	}

	if l.maxWindows <= 0 {
		return nil, fmt.Errorf("%w: max windows %d must be positive", ErrInvalidPolicy, l.maxWindows)
	}

	return l, nil
}

// Windows returns the live window for every rule, creating fresh ones as needed.
func (l *Limiter) Windows(ctx context.Context, key string) ([]Window, error) {
	wins := make([]Window, 0, len(l.policy))

	for _, rule := range l.policy {
		w, err := l.window(ctx, l.prefix+key, rule.Duration)
		if err != nil {
			return nil, err
		}

		wins = append(wins, w)
	}

	if err := l.store.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit windows: %w", err)
	}

	return wins, nil
}

// ReachedLimits returns the windows of key whose limit has been reached.
func (l *Limiter) ReachedLimits(ctx context.Context, key string) ([]Window, error) {
	wins, err := l.Windows(ctx, key)
	if err != nil {
		return nil, err
	}

	reached := make([]Window, 0, len(wins))

	for _, w := range wins {
		if w.Reached() {
			reached = append(reached, w)
		}
	}

	return reached, nil
}

// ShouldBlock reports whether at least one limit of key has been reached.
// Like Windows, it creates and commits missing windows.
func (l *Limiter) ShouldBlock(ctx context.Context, key string) (bool, error) {
	reached, err := l.ReachedLimits(ctx, key)
	if err != nil {
		return false, err
	}

	return len(reached) > 0, nil
}

// Update adds by to every window of key, then prunes and commits.
func (l *Limiter) Update(ctx context.Context, key string, by int64) error {
	prefixed := l.prefix + key

	for _, rule := range l.policy {
		if _, err := l.window(ctx, prefixed, rule.Duration); err != nil {
			return err
		}
	}

	if err := l.store.IncrementWindows(ctx, prefixed, by); err != nil {
		return fmt.Errorf("increment windows: %w", err)
	}

	if _, err := l.store.Prune(ctx, l.maxWindows); err != nil {
		return fmt.Errorf("prune windows: %w", err)
	}

	if err := l.store.Commit(ctx); err != nil {
		return fmt.Errorf("commit update: %w", err)
	}

	return nil
}

// UpdateAndCheck records an event for key and reports whether the caller should be
// blocked. The decision reflects the state before this event, so the call that
// reaches a limit is still allowed and the following one is blocked.
func (l *Limiter) UpdateAndCheck(ctx context.Context, key string, by int64) (bool, error) {
	block, err := l.ShouldBlock(ctx, key)
	if err != nil {
		return false, err
	}

	if err := l.Update(ctx, key, by); err != nil {
		return false, err
	}

	return block, nil
}

// window returns the live window for (key, duration), replacing an expired one.
func (l *Limiter) window(ctx context.Context, key string, duration Minutes) (Window, error) {
	limit := l.limits[duration]
	now := l.clock.Now().UTC()

	stored, err := l.store.GetWindow(ctx, key, duration)

	switch {
	case err == nil:
		if stored.Expiry.After(now) {
			return Window{Duration: duration, Limit: limit, Value: stored.Value, Expiry: stored.Expiry}, nil
		}

		if err := l.store.DeleteWindow(ctx, key, duration); err != nil {
			return Window{}, fmt.Errorf("delete expired window: %w", err)
		}
	case !errors.Is(err, ErrWindowNotFound):
		return Window{}, fmt.Errorf("get window: %w", err)
	}

	created, err := l.store.CreateWindow(ctx, key, duration, now.Add(duration.Duration()))
	if err != nil {
		return Window{}, fmt.Errorf("create window: %w", err)
	}

	return Window{Duration: duration, Limit: limit, Value: created.Value, Expiry: created.Expiry}, nil
}
