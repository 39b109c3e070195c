// Package jwtware verifies identity provider ID tokens on incoming requests.
package jwtware

import (
	"context"
	"slices"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-router"

	auth "github.com/goliatone/go-studio-auth"
	"github.com/goliatone/go-studio-auth/provider/firebase"
)

var (
	defaultTokenLookup = "header:" + router.HeaderAuthorization

	ErrJWTMissingOrMalformed = goerrors.New("missing or malformed JWT", goerrors.CategoryAuth).
					WithTextCode("TOKEN_MISSING").
					WithCode(goerrors.CodeBadRequest)

	ErrTokenInvalid = goerrors.New("invalid or expired token", goerrors.CategoryAuth).
			WithTextCode("TOKEN_INVALID").
			WithCode(goerrors.CodeUnauthorized)

	ErrRoleNotAllowed = goerrors.New("role not allowed", goerrors.CategoryAuthz).
				WithTextCode("TOKEN_ROLE_DENIED").
				WithCode(goerrors.CodeForbidden)
)

// ValidationListener is invoked after a token has been verified but before
// the role check.
type ValidationListener func(ctx context.Context, identity auth.IdentityToken) error

type Config struct {
	Filter         func(router.Context) bool
	SuccessHandler router.HandlerFunc
	ErrorHandler   router.ErrorHandler
	// Verifier checks the raw token. Use firebase.JWKSVerifier in
	// production.
	Verifier firebase.Verifier
	// ContextKey is the locals key the identity is stored under.
	// Optional. Default: "identity"
	ContextKey  string
	TokenLookup string
	AuthScheme  string
	// Roles limits access to identities whose "role" claim is listed.
	Roles []auth.Role

	ValidationListeners []ValidationListener
	Logger              auth.Logger
}

// RequestContext is the part of router.Context the middleware reads.
type RequestContext interface {
	Context() context.Context
	SetContext(context.Context)
	Header(key string) string
	Query(key string, defaultValue ...string) string
	Param(key string, defaultValue ...string) string
	Cookies(key string, defaultValue ...string) string
	Locals(key any, value ...any) any
}

func New(config ...Config) router.MiddlewareFunc {
	cfg := GetDefaultConfig(config...)
	return func(hf router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			if cfg.Filter != nil && cfg.Filter(ctx) {
				return ctx.Next()
			}
			if err := cfg.authenticate(ctx); err != nil {
				return cfg.ErrorHandler(ctx, err)
			}
			return cfg.SuccessHandler(ctx)
		}
	}
}

func (cfg Config) authenticate(rc RequestContext) error {
	raw, err := ExtractRawToken(rc, cfg.getExtractors())
	if err != nil {
		return err
	}

	claims, err := cfg.Verifier.Verify(raw)
	if err != nil {
		cfg.Logger.Debug("token rejected", "error", err)
		return ErrTokenInvalid.Clone()
	}

	identity := firebase.IdentityFromClaims(claims)
	if identity.UID == "" {
		return ErrTokenInvalid.Clone()
	}

	for _, listener := range cfg.ValidationListeners {
		if listener == nil {
			continue
		}
		if err := listener(rc.Context(), identity); err != nil {
			return err
		}
	}

	if len(cfg.Roles) > 0 {
		role := auth.ParseRole(stringClaim(identity.Claims, "role"))
		if !slices.Contains(cfg.Roles, role) {
			return ErrRoleNotAllowed.Clone().WithMetadata(map[string]any{"role": string(role)})
		}
	}

	rc.Locals(cfg.ContextKey, identity)
	rc.SetContext(auth.WithIdentityToken(rc.Context(), identity))
	return nil
}

func GetDefaultConfig(config ...Config) (cfg Config) {
	if len(config) > 0 {
		cfg = config[0]
	}

	if cfg.SuccessHandler == nil {
		cfg.SuccessHandler = func(ctx router.Context) error {
			return ctx.Next()
		}
	}

	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = func(c router.Context, err error) error {
			status := router.StatusUnauthorized
			var rich *goerrors.Error
			if goerrors.As(err, &rich) && rich.Code != 0 {
				status = rich.Code
			}
			return c.Status(status).SendString(err.Error())
		}
	}

	if cfg.Verifier == nil {
		panic("AUTH: JWT middleware configuration: Verifier is required.")
	}

	if cfg.ContextKey == "" {
		cfg.ContextKey = "identity"
	}

	if cfg.TokenLookup == "" {
		cfg.TokenLookup = defaultTokenLookup
	}

	if cfg.AuthScheme == "" {
		cfg.AuthScheme = "Bearer"
	}

	if cfg.Logger == nil {
		cfg.Logger = auth.DefaultLogger("jwtware")
	}

	return cfg
}

func (cfg *Config) getExtractors() []JWTExtractor {
	return GetExtractors(cfg.TokenLookup, cfg.AuthScheme)
}

// ExtractRawToken returns the first token any extractor finds.
func ExtractRawToken(ctx RequestContext, extractors []JWTExtractor) (string, error) {
	for _, extractor := range extractors {
		if raw := extractor(ctx); raw != "" {
			return raw, nil
		}
	}
	return "", ErrJWTMissingOrMalformed.Clone()
}

type JWTExtractor func(c RequestContext) string

// GetExtractors parses a lookup like "header:Authorization,cookie:jwt".
func GetExtractors(tokenLookup string, authSchemes ...string) []JWTExtractor {
	extractors := make([]JWTExtractor, 0)

	authScheme := "Bearer"
	if len(authSchemes) > 0 && strings.TrimSpace(authSchemes[0]) != "" {
		authScheme = strings.TrimSpace(authSchemes[0])
	}

	for _, rootPart := range strings.Split(tokenLookup, ",") {
		source, name, ok := strings.Cut(strings.TrimSpace(rootPart), ":")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)

		switch strings.TrimSpace(source) {
		case "header":
			extractors = append(extractors, fromHeader(name, authScheme))
		case "query":
			extractors = append(extractors, func(c RequestContext) string { return c.Query(name, "") })
		case "param":
			extractors = append(extractors, func(c RequestContext) string { return c.Param(name) })
		case "cookie":
			extractors = append(extractors, func(c RequestContext) string { return c.Cookies(name) })
		}
	}

	return extractors
}

func fromHeader(header, authScheme string) JWTExtractor {
	return func(c RequestContext) string {
		a := c.Header(header)
		l := len(authScheme)
		if len(a) > l+1 && strings.EqualFold(a[:l], authScheme) && a[l] == ' ' {
			return strings.TrimSpace(a[l:])
		}
		return ""
	}
}

func stringClaim(claims map[string]any, key string) string {
	if v, ok := claims[key].(string); ok {
		return v
	}
	return ""
}
