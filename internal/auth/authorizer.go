package auth

import (
	"fmt"

	"github.com/rotiride/orderd/internal/apperr"
)

// Permission is the closed set of access requirements a route can carry.
type Permission string

const (
	// PermissionPublic allows everyone, including anonymous requests.
	PermissionPublic Permission = "public"

	// PermissionAuthenticatedOnly allows any authenticated identity.
	PermissionAuthenticatedOnly Permission = "authenticated"

	// PermissionCustomerScope allows customers and admins.
	PermissionCustomerScope Permission = "customer"

	// PermissionDeliveryScope allows delivery agents and admins.
	PermissionDeliveryScope Permission = "delivery"

	// PermissionAdminScope allows admins only.
	PermissionAdminScope Permission = "admin"
)

// permissionTable is the static authorization table. Admin is a superset
// role for the customer and delivery scopes but gains nothing beyond
// what the table grants.
var permissionTable = map[Permission]map[Role]bool{
	PermissionCustomerScope: {
		RoleCustomer: true,
		RoleAdmin:    true,
	},
	PermissionDeliveryScope: {
		RoleDeliveryAgent: true,
		RoleAdmin:         true,
	},
	PermissionAdminScope: {
		RoleAdmin: true,
	},
}

// Authorize decides whether the identity satisfies the permission. Pure
// table lookup: no I/O, no mutable state. Public never fails, even for a
// nil identity.
func Authorize(identity *Identity, permission Permission) error {
	if permission == PermissionPublic {
		return nil
	}

	if identity == nil {
		return apperr.Unauthenticated("authentication required")
	}

	if permission == PermissionAuthenticatedOnly {
		return nil
	}

	allowed, known := permissionTable[permission]
	if !known {
		return apperr.Forbidden(fmt.Sprintf("unknown permission %q", permission))
	}
	if !allowed[identity.Role] {
		return apperr.Forbidden(fmt.Sprintf("permission %q not granted to role %q", permission, identity.Role))
	}
	return nil
}

// ParsePermission converts a configuration string into a Permission.
func ParsePermission(s string) (Permission, error) {
	switch Permission(s) {
	case PermissionPublic, PermissionAuthenticatedOnly,
		PermissionCustomerScope, PermissionDeliveryScope, PermissionAdminScope:
		return Permission(s), nil
	}
	return "", fmt.Errorf("unknown permission %q", s)
}
