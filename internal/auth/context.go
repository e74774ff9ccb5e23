// ABOUTME: Identity propagation through request contexts.
// ABOUTME: Provides WithIdentity/FromContext for handlers to find the caller.

package auth

import (
	"context"
)

// AnonymousUserID is the user ID assigned to unauthenticated requests when
// authentication is not required.
const AnonymousUserID = "anonymous"

// Identity holds the authenticated caller extracted from a request.
type Identity struct {
	UserID    string
	Anonymous bool
}

// Anonymous returns the identity used for unauthenticated requests in dev
// mode.
func Anonymous() *Identity {
	return &Identity{UserID: AnonymousUserID, Anonymous: true}
}

// identityKey is the key type for storing Identity in context.Context.
type identityKey struct{}

// WithIdentity returns a new context with the identity attached.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext retrieves the identity from the context, returning nil if not
// present.
func FromContext(ctx context.Context) *Identity {
	val := ctx.Value(identityKey{})
	if val == nil {
		return nil
	}
	id, ok := val.(*Identity)
	if !ok {
		return nil
	}
	return id
}
