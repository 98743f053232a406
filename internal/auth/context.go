package auth

import (
	"context"

	"github.com/duesledger/duesledger/internal/model"
)

// Principal is the authenticated caller of a private API method.
type Principal struct {
	KeyID string
	Scope model.Scope
}

// Unscoped reports whether the principal may act on any member.
func (p Principal) Unscoped() bool {
	_, ok := p.Scope.(model.Unscoped)
	return ok
}

// CanActFor reports whether the principal may read or act on username.
func (p Principal) CanActFor(username string) bool {
	switch s := p.Scope.(type) {
	case model.Unscoped:
		return true
	case model.ScopedTo:
		return s.Username == username
	default:
		return false
	}
}

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const principalContextKey contextKey = "principal"

// ContextWithPrincipal adds the principal to the context.
func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, p)
}

// PrincipalFromContext retrieves the principal from the context.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalContextKey).(Principal)
	return p, ok
}

// KeyIDFromContext returns the authenticated key ID, or empty string.
func KeyIDFromContext(ctx context.Context) string {
	p, _ := PrincipalFromContext(ctx)
	return p.KeyID
}

const requestContextKey contextKey = "request"

// ContextWithRequest adds an authenticated request and its principal to the
// context.
func ContextWithRequest(ctx context.Context, req *Request) context.Context {
	ctx = ContextWithPrincipal(ctx, req.Principal)
	return context.WithValue(ctx, requestContextKey, req)
}

// RequestFromContext retrieves the authenticated request from the context.
func RequestFromContext(ctx context.Context) (*Request, bool) {
	req, ok := ctx.Value(requestContextKey).(*Request)
	return req, ok && req != nil
}
