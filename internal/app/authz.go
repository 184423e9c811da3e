package app

import (
	"errors"

	"legal_agenda/internal/domain/user"
)

// ErrNotAuthorized is returned when the actor lacks the capability an
// operation requires.
var ErrNotAuthorized = errors.New("actor is not authorized for this operation")

// Permission is a capability granted to an actor.
type Permission uint8

const (
	PermRequest Permission = 1 << iota // create and manage own appointments
	PermApprove                        // approve or reject requests
	PermAdmin                          // cancel anything, run sweeps, see deliveries
)

// Permissions is a typed capability set.
type Permissions uint8

func (p Permissions) Has(perm Permission) bool {
	return uint8(p)&uint8(perm) != 0
}

func NewPermissions(perms ...Permission) Permissions {
	var p Permissions
	for _, perm := range perms {
		p |= Permissions(perm)
	}
	return p
}

// Actor is the authenticated caller of a core operation.
type Actor struct {
	UserID string
	Perms  Permissions
}

// SystemActor performs transitions triggered by the engine itself, such as
// approval by invitation quorum.
var SystemActor = Actor{UserID: "system", Perms: NewPermissions(PermRequest, PermApprove, PermAdmin)}

// PermissionsFor is evaluated once at the boundary; the core never looks at roles.
func PermissionsFor(u *user.User) Permissions {
	if u == nil || !u.IsActive {
		return 0
	}
	switch u.Role {
	case user.RoleAdmin:
		return NewPermissions(PermRequest, PermApprove, PermAdmin)
	case user.RoleLawyer:
		return NewPermissions(PermRequest, PermApprove)
	case user.RoleAssistant:
		return NewPermissions(PermRequest)
	default:
		return 0
	}
}

// ActorFor builds the Actor for an authenticated user.
func ActorFor(u *user.User) Actor {
	return Actor{UserID: u.ID, Perms: PermissionsFor(u)}
}

// rolesWith lists the roles whose holders are granted perm.
func rolesWith(perm Permission) []user.Role {
	var out []user.Role
	for _, r := range []user.Role{user.RoleAdmin, user.RoleLawyer, user.RoleAssistant} {
		if PermissionsFor(&user.User{Role: r, IsActive: true}).Has(perm) {
			out = append(out, r)
		}
	}
	return out
}
