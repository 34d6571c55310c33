package nextnumber

import (
	"context"
	"errors"
	"time"

	"github.com/serroba/next-number/internal/ratelimit"
)

var (
	// ErrRateLimited is returned when the lookup quota has been used up.
	ErrRateLimited = errors.New("API rate limit exceeded")
	// ErrRepositoryNotFound is returned when GitHub does not know the repository.
	ErrRepositoryNotFound = errors.New("repository not found")
)

// Query is one answered lookup, kept as request history.
type Query struct {
	At     time.Time
	Owner  string
	Name   string
	Result int
}

// Request is one served HTTP request.
type Request struct {
	At        time.Time
	RequestID string
	Method    string
	Path      string
	Status    int
	Duration  time.Duration
	ClientIP  string
}

// Session is a single-request handle on the database. It owns one connection;
// writes are buffered until Commit. Close releases the connection and discards
// anything not yet committed.
type Session interface {
	ratelimit.Store

	SaveQuery(ctx context.Context, query *Query) error
	SaveRequest(ctx context.Context, req *Request) error
	Close() error
}

// Opener hands out sessions. Each request must open its own.
type Opener interface {
	Open(ctx context.Context) (Session, error)
}
