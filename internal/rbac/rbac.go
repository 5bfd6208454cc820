// Package rbac implements the authorization model: the permission catalog,
// the role hierarchy, role/user permission grants with expiry, provenance and
// denial, and the deny-override resolver.
package rbac

import (
	"errors"
	"time"
)

var (
	ErrInvalidInput = errors.New("rbac: invalid input")
	ErrInvalidState = errors.New("rbac: invalid state")
	ErrNotFound     = errors.New("rbac: not found")
)

// Permission is a fine-grained capability identified by resource and action.
type Permission struct {
	ID          string
	Resource    string
	Action      string
	Description string
	CreatedAt   time.Time
}

// Key returns the canonical resource:action identifier used across the system.
func (p Permission) Key() string {
	return p.Resource + ":" + p.Action
}

// Builtin permissions ensured at startup.
var BuiltinPermissions = []Permission{
	{Resource: "roles", Action: "manage", Description: "Create and modify roles"},
	{Resource: "permissions", Action: "grant", Description: "Grant or deny permissions"},
	{Resource: "sessions", Action: "manage", Description: "Inspect and end sessions"},
	{Resource: "tokens", Action: "revoke", Description: "Revoke refresh tokens"},
}

// Assignment gives a subject a role.
type Assignment struct {
	SubjectID  string
	RoleID     string
	AssignedBy string
	AssignedAt time.Time
}
