package ratelimit

import (
	"fmt"
	"time"
)

// Minutes is the granularity of a rate limit window.
type Minutes int

const (
	Minute Minutes = 1
	Hour   Minutes = 60
	Day    Minutes = 1440
)

// Duration converts m to a time.Duration.
func (m Minutes) Duration() time.Duration {
	return time.Duration(m) * time.Minute
}

// Rule caps the number of increments allowed within one window duration.
type Rule struct {
	Duration Minutes
	Limit    int64
}

// Policy is the ordered set of rules a Limiter enforces.
// Windows are reported in the order the rules are listed.
type Policy []Rule

// Validate reports an error wrapping ErrInvalidPolicy when p cannot be enforced.
func (p Policy) Validate() error {
	if len(p) == 0 {
		return fmt.Errorf("%w: no rules", ErrInvalidPolicy)
	}

	seen := make(map[Minutes]struct{}, len(p))

	for _, rule := range p {
		if rule.Duration <= 0 {
			return fmt.Errorf("%w: duration %d must be positive", ErrInvalidPolicy, rule.Duration)
		}

		if rule.Limit <= 0 {
			return fmt.Errorf("%w: limit %d for %d minutes must be positive",
				ErrInvalidPolicy, rule.Limit, rule.Duration)
		}

		if _, dup := seen[rule.Duration]; dup {
			return fmt.Errorf("%w: duplicate duration %d", ErrInvalidPolicy, rule.Duration)
		}

		seen[rule.Duration] = struct{}{}
	}

	return nil
}

// StoredWindow is the persisted state of one (key, duration) window.
type StoredWindow struct {
	Key      string
	Duration Minutes
	Value    int64
	Expiry   time.Time
}

// Window is a live rate limit window combined with the limit the policy assigns to it.
// It is a copy; mutating it has no effect on storage.
type Window struct {
	Duration Minutes
	Limit    int64
	Value    int64
	Expiry   time.Time
}

// Reached reports whether the window has used up its limit.
func (w Window) Reached() bool {
	return w.Value >= w.Limit
}

// Remaining returns how many increments are left before the limit is reached.
func (w Window) Remaining() int64 {
	if w.Value >= w.Limit {
		return 0
	}

	return w.Limit - w.Value
}
