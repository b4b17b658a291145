// Package auth resolves bearer credentials into authenticated identities
// and decides what those identities may do. Session resolution is
// two-phase: a cached, unexpired session is the fast path; full remote
// credential verification is the fallback that also repairs the cache.
package auth

import (
	"context"
)

// Role is the closed set of identity roles.
type Role string

const (
	RoleCustomer      Role = "customer"
	RoleDeliveryAgent Role = "delivery_agent"
	RoleAdmin         Role = "admin"
)

// Valid reports whether the role is one of the closed set.
func (r Role) Valid() bool {
	switch r {
	case RoleCustomer, RoleDeliveryAgent, RoleAdmin:
		return true
	}
	return false
}

// Identity is a per-request authenticated identity. It is derived, never
// stored, and owned exclusively by the request that produced it.
type Identity struct {
	UserID  string `json:"user_id"`
	Email   string `json:"email,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Name    string `json:"name,omitempty"`
	Picture string `json:"picture,omitempty"`
	Role    Role   `json:"role"`

	// SessionToken is the bearer token the identity was resolved from.
	SessionToken string `json:"-"`
}

type contextKey string

const identityKey contextKey = "auth_identity"

// ContextWithIdentity attaches the identity to the context.
func ContextWithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}

// IdentityFromContext returns the identity attached to the context, or nil.
func IdentityFromContext(ctx context.Context) *Identity {
	identity, _ := ctx.Value(identityKey).(*Identity)
	return identity
}
