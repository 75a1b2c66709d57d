// Package auth establishes who is calling: it verifies handshake tokens and
// exposes the resulting identity to HTTP handlers and the realtime gateway.
package auth

import (
	"context"
	"slices"
)

// Role is a platform role carried in the token.
type Role string

const (
	RoleSuperAdmin Role = "super_admin"
	RoleAdmin      Role = "admin"
	RoleManager    Role = "manager"
	RoleAgent      Role = "agent"
	RoleStaff      Role = "staff"
)

var knownRoles = []Role{RoleSuperAdmin, RoleAdmin, RoleManager, RoleAgent, RoleStaff}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return slices.Contains(knownRoles, r)
}

// Administrative reports whether r belongs to an administrative tier.
func (r Role) Administrative() bool {
	return r == RoleSuperAdmin || r == RoleAdmin
}

// Identity is an authenticated caller.
type Identity struct {
	UserID   string `json:"userId"`
	TenantID string `json:"tenantId"`
	Role     Role   `json:"role"`
	Email    string `json:"email,omitempty"`
}

// Authenticator turns a bearer token into an identity.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*Identity, error)
}
