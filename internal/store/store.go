package store

import (
	"context"
	"errors"

	"github.com/serroba/next-number/internal/nextnumber"
)

// ErrSessionClosed is returned when a closed session is used.
var ErrSessionClosed = errors.New("store session closed")

// Backend is a database that hands out per-request sessions.
type Backend interface {
	nextnumber.Opener

	// Ping checks connectivity.
	Ping(ctx context.Context) error
	// Shutdown releases the underlying database handle.
	Shutdown() error
}

// Migrator provisions the tables the service needs.
type Migrator interface {
	Migrate(ctx context.Context) error
}
