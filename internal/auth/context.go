package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/sakif/ticket-platform/internal/model"
)

// contextKey is unexported so only this package can read or write the
// identity stored in a request context.
type contextKey string

const identityKey contextKey = "identity"

// Identity is what the access gate attaches to an authenticated request:
// the verified token claims plus the resolved local user.
type Identity struct {
	Subject    string
	Claims     *Claims
	UserID     string
	Email      string
	Role       model.Role
	IsVerified bool
}

// NewIdentity builds an Identity from verified claims and the matching user.
func NewIdentity(claims *Claims, user *model.User) *Identity {
	return &Identity{
		Subject:    claims.Subject,
		Claims:     claims,
		UserID:     user.ID,
		Email:      user.Email,
		Role:       user.Role,
		IsVerified: user.IsVerified,
	}
}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFromContext returns the identity attached by the access gate, or
// (nil, false) for anonymous requests.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(identityKey).(*Identity)
	return id, ok && id != nil
}

// BearerToken extracts the token from an "Authorization: Bearer <token>"
// header. It returns "" when the header is missing or uses another scheme.
func BearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || scheme != "Bearer" {
		return ""
	}
	return strings.TrimSpace(token)
}
