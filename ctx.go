package auth

import (
	"context"

	"github.com/goliatone/go-router"
)

var sessionStoreCtxKey = &contextKey{"session_store"}
var profileCtxKey = &contextKey{"profile"}
var identityCtxKey = &contextKey{"identity"}

type contextKey struct {
	name string
}

// WithSessionStore sets the SessionStore in the given context
func WithSessionStore(ctx context.Context, store *SessionStore) context.Context {
	return context.WithValue(ctx, sessionStoreCtxKey, store)
}

// SessionStoreFromContext finds the SessionStore in the context.
func SessionStoreFromContext(ctx context.Context) (*SessionStore, bool) {
	store, ok := ctx.Value(sessionStoreCtxKey).(*SessionStore)
	return store, ok && store != nil
}

// WithProfile sets the current user profile in the given context
func WithProfile(ctx context.Context, profile *UserProfile) context.Context {
	return context.WithValue(ctx, profileCtxKey, profile)
}

// ProfileFromContext finds the user profile in the context.
func ProfileFromContext(ctx context.Context) (*UserProfile, bool) {
	raw, ok := ctx.Value(profileCtxKey).(*UserProfile)
	return raw, ok && raw != nil
}

// WithIdentityToken sets a verified caller identity in the given context
func WithIdentityToken(ctx context.Context, token IdentityToken) context.Context {
	return context.WithValue(ctx, identityCtxKey, token)
}

// IdentityTokenFromContext finds the caller identity in the context.
func IdentityTokenFromContext(ctx context.Context) (IdentityToken, bool) {
	token, ok := ctx.Value(identityCtxKey).(IdentityToken)
	return token, ok && token.UID != ""
}

// GetRouterProfile extracts the profile stored in router locals
func GetRouterProfile(ctx router.Context, key string) (*UserProfile, bool) {
	if key == "" {
		key = "user"
	}
	raw := ctx.Locals(key)
	if raw == nil {
		return nil, false
	}
	profile, ok := raw.(*UserProfile)
	return profile, ok
}
