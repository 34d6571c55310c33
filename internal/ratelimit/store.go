package ratelimit

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrWindowNotFound is returned by Store.GetWindow when no row exists for the pair.
	ErrWindowNotFound = errors.New("rate limit window not found")
	// ErrWindowExists is returned by Store.CreateWindow when the pair is already stored.
	ErrWindowExists = errors.New("rate limit window already exists")
)

// Store is the persistence contract for rate limit windows.
// Rows are keyed by (key, duration). Implementations do not interpret expiry
// and must not swallow backend failures.
type Store interface {
	// GetWindow returns the stored window for the exact pair, or ErrWindowNotFound.
	GetWindow(ctx context.Context, key string, duration Minutes) (StoredWindow, error)

	// CreateWindow inserts a zero-valued window. It fails with an error wrapping
	// ErrWindowExists if the pair is already stored.
	CreateWindow(ctx context.Context, key string, duration Minutes, expiry time.Time) (StoredWindow, error)

	// IncrementWindows adds by to the value of every window stored under key.
	IncrementWindows(ctx context.Context, key string, by int64) error

	// DeleteWindow removes the window for the exact pair. Missing rows are not an error.
	DeleteWindow(ctx context.Context, key string, duration Minutes) error

	// Prune deletes the oldest-expiring windows until at most maxWindows remain,
	// returning how many were deleted.
	Prune(ctx context.Context, maxWindows int64) (int64, error)

	// Commit makes buffered writes durable.
	Commit(ctx context.Context) error
}
