// Package auth describes the acting identity attached to a request.
package auth

import (
	"context"

	"github.com/go-faster/errors"
)

// Role is the coarse permission class carried by a bearer token.
type Role string

const (
	RoleStudent    Role = "student"
	RoleInstructor Role = "instructor"
	RoleAdmin      Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleInstructor, RoleAdmin:
		return true
	}
	return false
}

var (
	// ErrUnauthenticated is returned when an operation requires a signed-in user.
	ErrUnauthenticated = errors.New("authentication required")
	// ErrForbidden is returned when the actor lacks permission for an operation.
	ErrForbidden = errors.New("forbidden")
)

// Actor is the verified identity performing an operation. The zero value is
// an anonymous visitor.
type Actor struct {
	UserID string
	Email  string
	Role   Role
}

// Authenticated reports whether the actor carries a user identity.
func (a Actor) Authenticated() bool {
	return a.UserID != ""
}

// IsAdmin reports whether the actor is an authenticated admin.
func (a Actor) IsAdmin() bool {
	return a.Authenticated() && a.Role == RoleAdmin
}

type actorKey struct{}

// WithActor returns a copy of ctx carrying a.
func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

// FromContext returns the actor stored in ctx, or an anonymous actor.
func FromContext(ctx context.Context) Actor {
	if a, ok := ctx.Value(actorKey{}).(Actor); ok {
		return a
	}
	return Actor{}
}
