package firebase

import (
	"fmt"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"

	auth "github.com/goliatone/go-studio-auth"
)

// reserved claims never copied into IdentityToken.Claims
var reservedClaims = map[string]struct{}{
	"iss": {}, "aud": {}, "auth_time": {}, "user_id": {}, "sub": {}, "iat": {}, "exp": {},
	"email": {}, "email_verified": {}, "name": {}, "picture": {}, "firebase": {},
}

// Verifier turns a raw ID token into its claims.
type Verifier interface {
	Verify(raw string) (jwt.MapClaims, error)
}

// VerifierFunc adapts a function to Verifier.
type VerifierFunc func(raw string) (jwt.MapClaims, error)

func (f VerifierFunc) Verify(raw string) (jwt.MapClaims, error) { return f(raw) }

// UnverifiedDecoder reads the claims without checking the signature. Tokens
// come straight from the provider over TLS, so this is the default.
func UnverifiedDecoder() Verifier {
	return VerifierFunc(func(raw string) (jwt.MapClaims, error) {
		claims := jwt.MapClaims{}
		if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
			return nil, err
		}
		return claims, nil
	})
}

// KeyfuncVerifier checks signature, issuer and audience for projectID.
func KeyfuncVerifier(kf jwt.Keyfunc, projectID string) Verifier {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer("https://securetoken.google.com/"+projectID),
		jwt.WithAudience(projectID),
		jwt.WithExpirationRequired(),
	)
	return VerifierFunc(func(raw string) (jwt.MapClaims, error) {
		claims := jwt.MapClaims{}
		if _, err := parser.ParseWithClaims(raw, claims, kf); err != nil {
			return nil, err
		}
		return claims, nil
	})
}

// JWKSVerifier verifies against Google's published signing keys. Call the
// returned stop function to end the background refresh.
func JWKSVerifier(projectID string, logger auth.Logger) (Verifier, func(), error) {
	if logger == nil {
		logger = auth.DefaultLogger("firebase.jwks")
	}
	jwks, err := keyfunc.Get(GoogleJWKSURL, keyfunc.Options{
		RefreshErrorHandler: func(err error) {
			logger.Warn("jwks refresh failed", "error", err)
		},
		RefreshInterval:   time.Hour,
		RefreshRateLimit:  5 * time.Minute,
		RefreshTimeout:    10 * time.Second,
		RefreshUnknownKID: true,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load signing keys: %w", err)
	}
	return KeyfuncVerifier(jwks.Keyfunc, projectID), jwks.EndBackground, nil
}

// IdentityFromClaims builds the identity carried by an ID token.
func IdentityFromClaims(claims jwt.MapClaims) auth.IdentityToken {
	tok := auth.IdentityToken{
		UID:         stringClaim(claims, "user_id"),
		Email:       stringClaim(claims, "email"),
		DisplayName: stringClaim(claims, "name"),
		PhotoURL:    stringClaim(claims, "picture"),
	}
	if tok.UID == "" {
		tok.UID = stringClaim(claims, "sub")
	}
	if fb, ok := claims["firebase"].(map[string]any); ok {
		if v, ok := fb["sign_in_provider"].(string); ok {
			tok.ProviderID = v
		}
	}
	for k, v := range claims {
		if _, skip := reservedClaims[k]; skip {
			continue
		}
		if tok.Claims == nil {
			tok.Claims = map[string]any{}
		}
		tok.Claims[k] = v
	}
	return tok
}

func expiryOf(claims jwt.MapClaims) time.Time {
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}

func stringClaim(claims jwt.MapClaims, key string) string {
	if v, ok := claims[key].(string); ok {
		return v
	}
	return ""
}
