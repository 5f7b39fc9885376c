// Package model defines the data structures used throughout the application.
package model

import (
	"fmt"
	"time"
)

// Role is a user's application role. The values are stored verbatim in the
// directory and compared verbatim by the route permission table.
type Role string

const (
	RoleUser           Role = "USER"
	RoleOwnerOrganizer Role = "OWNER_ORGANIZER"
	RoleAdminOrganizer Role = "ADMIN_ORGANIZER"
	RoleAdmin          Role = "ADMIN"
	RoleSuperAdmin     Role = "SUPERADMIN"
)

// AllRoles lists every role in ascending order of privilege.
var AllRoles = []Role{RoleUser, RoleOwnerOrganizer, RoleAdminOrganizer, RoleAdmin, RoleSuperAdmin}

// ParseRole converts a raw string into a Role, rejecting unknown values.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.IsValid() {
		return "", fmt.Errorf("model: unknown role %q", s)
	}
	return r, nil
}

// IsValid reports whether r is one of the predefined roles.
func (r Role) IsValid() bool {
	switch r {
	case RoleUser, RoleOwnerOrganizer, RoleAdminOrganizer, RoleAdmin, RoleSuperAdmin:
		return true
	default:
		return false
	}
}

// HasAdminAccess reports whether r may use organizer or admin tooling.
func (r Role) HasAdminAccess() bool {
	switch r {
	case RoleOwnerOrganizer, RoleAdminOrganizer, RoleAdmin, RoleSuperAdmin:
		return true
	default:
		return false
	}
}

// HasSuperAdminAccess reports whether r is the top-level role.
func (r Role) HasSuperAdminAccess() bool {
	return r == RoleSuperAdmin
}

// User is the local application identity mirrored from the identity provider.
//
// SubjectID is the provider's stable user id (the "sub" claim of its access
// tokens). It is empty until the account has been linked to a provider user.
// Email and SubjectID are both UNIQUE in the directory.
type User struct {
	ID         string    `json:"id"          db:"id"`
	Email      string    `json:"email"       db:"email"`
	Name       string    `json:"name"        db:"name"`
	Role       Role      `json:"role"        db:"role"`
	IsVerified bool      `json:"is_verified" db:"is_verified"`
	SubjectID  string    `json:"-"           db:"subject_id"`
	Phone      string    `json:"phone"       db:"phone"`
	AvatarURL  string    `json:"avatar_url"  db:"avatar_url"`
	CreatedAt  time.Time `json:"created_at"  db:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"  db:"updated_at"`
}
