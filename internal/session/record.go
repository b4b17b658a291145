// Package session implements the two-tier session store: an in-process
// cache over a durable Redis backend.
package session

import (
	"time"
)

// Record is a stored session binding a bearer token to a resolved identity
// and its expiry/activity metadata.
type Record struct {
	// Token is the opaque session token. Primary key in both layers.
	Token string `json:"token"`

	UserID  string `json:"user_id"`
	Email   string `json:"email,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Name    string `json:"name,omitempty"`
	Picture string `json:"picture,omitempty"`

	IDToken      string `json:"id_token"`
	RefreshToken string `json:"refresh_token"`

	// ExpiresAt is set from the upstream credential's expiry. A record
	// with ExpiresAt before now is logically dead.
	ExpiresAt      time.Time `json:"expires_at"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// IsExpired reports whether the record is expired at the given time.
func (r *Record) IsExpired(now time.Time) bool {
	return r.ExpiresAt.Before(now)
}

// Age returns how long ago the session was created.
func (r *Record) Age(now time.Time) time.Duration {
	return now.Sub(r.CreatedAt)
}

// IdleTime returns how long ago the session was last active.
func (r *Record) IdleTime(now time.Time) time.Duration {
	return now.Sub(r.LastActivityAt)
}
