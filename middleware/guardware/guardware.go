// Package guardware applies route guard decisions to go-router routes.
package guardware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/goliatone/go-router"

	auth "github.com/goliatone/go-studio-auth"
)

// Config defines the config for the guard middleware.
type Config struct {
	// Guard decides what the route does for the current session.
	Guard auth.Guard
	// Store is the session to check. When nil the store is taken from the
	// request context, see auth.WithSessionStore.
	Store *auth.SessionStore
	// ContextKey is the locals key the profile is stored under on render.
	// Optional. Default: "user"
	ContextKey string
	// RetryAfter is advertised while the session is still loading.
	// Optional. Default: 1s
	RetryAfter time.Duration
	// RedirectStatus is used for redirect decisions.
	// Optional. Default: 302
	RedirectStatus int
	// Logger is optional.
	Logger auth.Logger
}

// responder is the part of router.Context the middleware uses.
type responder interface {
	Context() context.Context
	SetHeader(key, val string) router.Context
	Redirect(path string, status ...int) error
	JSON(code int, val any) error
	Locals(key any, value ...any) any
	Next() error
	OriginalURL() string
}

// New creates a guard middleware.
func New(config ...Config) router.MiddlewareFunc {
	cfg := configDefault(config...)
	return func(hf router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			return cfg.apply(ctx)
		}
	}
}

// PublicOnly guards login style routes.
func PublicOnly(store *auth.SessionStore, paths ...auth.GuardPaths) router.MiddlewareFunc {
	return New(Config{Guard: auth.PublicOnly(paths...), Store: store})
}

// AuthenticatedOnly guards routes for any signed in user.
func AuthenticatedOnly(store *auth.SessionStore, paths ...auth.GuardPaths) router.MiddlewareFunc {
	return New(Config{Guard: auth.AuthenticatedOnly(paths...), Store: store})
}

// RoleRestricted guards routes for the given roles.
func RoleRestricted(store *auth.SessionStore, roles []auth.Role, paths ...auth.GuardPaths) router.MiddlewareFunc {
	return New(Config{Guard: auth.RoleRestricted(roles, paths...), Store: store})
}

// AdminOnly guards administration routes.
func AdminOnly(store *auth.SessionStore, paths ...auth.GuardPaths) router.MiddlewareFunc {
	return New(Config{Guard: auth.AdminOnly(paths...), Store: store})
}

func configDefault(config ...Config) Config {
	var cfg Config
	if len(config) > 0 {
		cfg = config[0]
	}
	if cfg.Guard == nil {
		panic("AUTH: guard middleware configuration: Guard is required.")
	}
	if cfg.ContextKey == "" {
		cfg.ContextKey = "user"
	}
	if cfg.RetryAfter <= 0 {
		cfg.RetryAfter = time.Second
	}
	if cfg.RedirectStatus == 0 {
		cfg.RedirectStatus = http.StatusFound
	}
	if cfg.Logger == nil {
		cfg.Logger = auth.DefaultLogger("guardware")
	}
	return cfg
}

func (cfg Config) state(ctx responder) auth.SessionState {
	if cfg.Store != nil {
		return cfg.Store.Snapshot()
	}
	if store, ok := auth.SessionStoreFromContext(ctx.Context()); ok {
		return store.Snapshot()
	}
	return auth.InitialSessionState()
}

func (cfg Config) apply(ctx responder) error {
	state := cfg.state(ctx)
	decision := cfg.Guard(state)

	switch decision.Kind {
	case auth.DecisionLoading:
		secs := int(cfg.RetryAfter.Round(time.Second) / time.Second)
		if secs < 1 {
			secs = 1
		}
		ctx.SetHeader("Retry-After", strconv.Itoa(secs))
		ctx.SetHeader("Cache-Control", "no-store")
		return ctx.JSON(http.StatusAccepted, map[string]any{"status": string(auth.StatusLoading)})

	case auth.DecisionRedirect:
		cfg.Logger.Debug("guard redirect", "from", ctx.OriginalURL(), "to", decision.Location)
		ctx.SetHeader("Cache-Control", "no-store")
		return ctx.Redirect(decision.Location, cfg.RedirectStatus)

	default:
		if state.User != nil {
			ctx.Locals(cfg.ContextKey, state.User.Clone())
		}
		return ctx.Next()
	}
}
