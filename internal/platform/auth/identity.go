package auth

import (
	"context"
	"strings"
)

// Roles recognised on Firebase custom claims. Staff may run operational endpoints such as the
// expiry sweep; everyone else is a plain customer.
const (
	RoleUser  = "user"
	RoleStaff = "staff"
)

// Identity is the authenticated caller extracted from a Firebase ID token.
type Identity struct {
	UID            string
	Email          string
	Roles          []string
	SignInProvider string
}

// HasRole reports whether the identity carries role, ignoring case.
func (i *Identity) HasRole(role string) bool {
	if i == nil {
		return false
	}
	role = normaliseRole(role)
	if role == "" {
		return false
	}
	for _, r := range i.Roles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

type identityKey struct{}

func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// IdentityFromContext returns the caller stored by the authentication middleware.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityKey{}).(*Identity)
	if !ok || identity == nil {
		return nil, false
	}
	return identity, true
}
