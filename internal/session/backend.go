package session

import (
	"context"
	"errors"
	"time"
)

// Common session store errors.
var (
	// ErrNotFound indicates that no session exists for the token.
	ErrNotFound = errors.New("session not found")

	// ErrConnectionFailed indicates that the durable backend is unreachable.
	ErrConnectionFailed = errors.New("session backend connection failed")
)

// Backend is the durable layer of the session store.
//
// All methods are network calls and honour the context for cancellation.
type Backend interface {
	// Upsert inserts or replaces a record keyed by its token.
	Upsert(ctx context.Context, rec Record) error

	// Fetch returns the record for the token, or ErrNotFound.
	Fetch(ctx context.Context, token string) (Record, error)

	// UpdateActivity sets the record's last-activity timestamp.
	UpdateActivity(ctx context.Context, token string, at time.Time) error

	// Delete removes the record. Deleting an absent token is not an error.
	Delete(ctx context.Context, token string) error

	// DeleteExpired removes every record expiring before the given time
	// and returns how many were removed.
	DeleteExpired(ctx context.Context, before time.Time) (int, error)

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the backend's resources.
	Close() error
}
