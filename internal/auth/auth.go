// Package auth resolves bearer credentials into request-scoped users.
//
// A User lives only for the duration of the request that resolved it;
// nothing here persists identities across requests.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// ErrUnauthorized indicates authentication failed or no valid credential
// was supplied.
var ErrUnauthorized = errors.New("unauthorized")

// User is the minimal profile resolved from a verified credential.
type User struct {
	ID    string
	Email string
	Name  string
	Plan  string
}

// Verifier validates a bearer credential and resolves the user it
// belongs to. Implementations return ErrUnauthorized (possibly wrapped)
// for invalid credentials.
type Verifier interface {
	Verify(ctx context.Context, token string) (*User, error)
}

// BearerToken extracts the token from an Authorization header.
// Returns "" when the header is absent or not a Bearer scheme.
func BearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if h == "" {
		return ""
	}
	scheme, tok, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(tok)
}

type userKey struct{}

// WithUser attaches the resolved user to the context.
func WithUser(ctx context.Context, u *User) context.Context {
	if u == nil {
		return ctx
	}
	return context.WithValue(ctx, userKey{}, u)
}

// UserFromContext returns the resolved user, or nil on public routes.
func UserFromContext(ctx context.Context) *User {
	u, _ := ctx.Value(userKey{}).(*User)
	return u
}
