package session

import (
	"context"
	"net/http"
	"strings"
)

// Role constants match the literal values the sign-in flow writes into the
// role cookie.
const (
	RoleAdmin         = "admin"
	RolePropertyOwner = "propertyOwner"
	RoleTenant        = "tenant"
)

// ValidRoles contains all role names the gatekeeper recognizes.
var ValidRoles = []string{RoleAdmin, RolePropertyOwner, RoleTenant}

func IsValidRole(role string) bool {
	for _, r := range ValidRoles {
		if r == role {
			return true
		}
	}
	return false
}

// Identity is the caller's session identity as the sign-in flow recorded it.
// The gatekeeper reads it, never writes it.
type Identity struct {
	UserID string
	Role   string
}

func (id Identity) Authenticated() bool {
	return id.UserID != "" && id.Role != ""
}

// HasAnyRole reports whether the identity's role is one of required.
// An empty required set means the route is open to any authenticated caller.
func (id Identity) HasAnyRole(required ...string) bool {
	if len(required) == 0 {
		return true
	}
	for _, r := range required {
		if strings.EqualFold(id.Role, r) {
			return true
		}
	}
	return false
}

const (
	userIDCookie = "userId"
	roleCookie   = "role"
)

// FromRequest derives the session identity from request cookies. Cookies the
// sign-in flow never set, or with unknown role values, leave the identity
// unauthenticated.
func FromRequest(r *http.Request) Identity {
	var id Identity
	if c, err := r.Cookie(userIDCookie); err == nil {
		id.UserID = strings.TrimSpace(c.Value)
	}
	if c, err := r.Cookie(roleCookie); err == nil {
		role := strings.TrimSpace(c.Value)
		if IsValidRole(role) {
			id.Role = role
		}
	}
	return id
}

type contextKey string

const identityContextKey contextKey = "rentora.identity"

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, id)
}

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	v := ctx.Value(identityContextKey)
	if v == nil {
		return Identity{}, false
	}
	id, ok := v.(Identity)
	return id, ok
}
