package core

import (
	"context"
	"fmt"
)

// Role is the caller's role in the panel.
type Role string

const (
	RoleOwner Role = "owner"
	RoleAdmin Role = "admin"
)

// ParseRole validates a role string.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleOwner, RoleAdmin:
		return Role(s), nil
	}
	return "", fmt.Errorf("%w: unknown role %q", ErrInvalidRequest, s)
}

// Permission is a capability checked before privileged operations.
type Permission string

const (
	PermSell           Permission = "sell"
	PermReserve        Permission = "reserve"
	PermExtendAccess   Permission = "extend_access"
	PermManageStock    Permission = "manage_stock"
	PermSetRate        Permission = "set_rate"
	PermRecalculate    Permission = "recalculate"
	PermViewAllRollups Permission = "view_all_rollups"
	PermViewAllSales   Permission = "view_all_sales"
)

var rolePermissions = map[Role]map[Permission]bool{
	RoleOwner: {
		PermSell:           true,
		PermReserve:        true,
		PermExtendAccess:   true,
		PermManageStock:    true,
		PermSetRate:        true,
		PermRecalculate:    true,
		PermViewAllRollups: true,
		PermViewAllSales:   true,
	},
	RoleAdmin: {
		PermSell:         true,
		PermReserve:      true,
		PermExtendAccess: true,
	},
}

// Identity is the authenticated caller.
type Identity struct {
	UserID string
	Name   string
	Role   Role
}

// Can reports whether the identity holds perm.
func (id Identity) Can(perm Permission) bool {
	return rolePermissions[id.Role][perm]
}

// RequirePermission returns ErrForbidden unless id holds perm.
func RequirePermission(id Identity, perm Permission) error {
	if id.UserID == "" {
		return fmt.Errorf("%w: anonymous caller", ErrForbidden)
	}
	if !id.Can(perm) {
		return fmt.Errorf("%w: role %q lacks %q", ErrForbidden, id.Role, perm)
	}
	return nil
}

// IdentityProvider resolves the identity of the current caller.
type IdentityProvider interface {
	Identity(ctx context.Context) (Identity, error)
}
