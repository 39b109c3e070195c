package auth

import (
	"errors"
	"fmt"

	goerrors "github.com/goliatone/go-errors"
)

// ErrorCode is the closed set of domain error codes surfaced to callers.
// Provider specific codes never travel past the IdentityClient.
type ErrorCode string

const (
	CodeInvalidCredential   ErrorCode = "invalid-credential"
	CodeAccountDisabled     ErrorCode = "account-disabled"
	CodeTooManyRequests     ErrorCode = "too-many-requests"
	CodeInvalidEmail        ErrorCode = "invalid-email"
	CodeNetworkError        ErrorCode = "network-error"
	CodePopupBlocked        ErrorCode = "popup-blocked"
	CodePopupClosed         ErrorCode = "popup-closed"
	CodeOperationNotAllowed ErrorCode = "operation-not-allowed"
	CodeEmailAlreadyInUse   ErrorCode = "email-already-in-use"
	CodeWeakPassword        ErrorCode = "weak-password"
	CodeEmailNotRegistered  ErrorCode = "email-not-registered"
	CodeLinkConsumed        ErrorCode = "link-already-consumed"
	CodeInvalidLink         ErrorCode = "invalid-link"
	CodeValidation          ErrorCode = "validation"
	CodeUnknown             ErrorCode = "unknown"
)

// Profile store error kinds.
const (
	TextCodePermissionDenied = "PROFILE_PERMISSION_DENIED"
	TextCodeProfileNotFound  = "PROFILE_NOT_FOUND"
	TextCodeStoreTransient   = "PROFILE_STORE_TRANSIENT"
	TextCodeRealtime         = "REALTIME_CONNECTION"
	TextCodeSubscribed       = "AUTH_STATE_ALREADY_SUBSCRIBED"
)

var (
	ErrInvalidCredential = goerrors.New("the credentials provided are invalid", goerrors.CategoryAuth).
				WithTextCode(string(CodeInvalidCredential)).
				WithCode(goerrors.CodeUnauthorized)

	// ErrAccountDisabled is terminal: the session always ends signed out.
	ErrAccountDisabled = goerrors.New("account is disabled", goerrors.CategoryAuthz).
				WithTextCode(string(CodeAccountDisabled)).
				WithCode(goerrors.CodeForbidden)

	ErrTooManyRequests = goerrors.New("too many attempts, try again later", goerrors.CategoryRateLimit).
				WithTextCode(string(CodeTooManyRequests))

	ErrInvalidEmail = goerrors.New("invalid email format", goerrors.CategoryBadInput).
			WithTextCode(string(CodeInvalidEmail)).
			WithCode(goerrors.CodeBadRequest)

	ErrNetwork = goerrors.New("network request failed", goerrors.CategoryOperation).
			WithTextCode(string(CodeNetworkError))

	ErrPopupBlocked = goerrors.New("sign in popup was blocked", goerrors.CategoryOperation).
			WithTextCode(string(CodePopupBlocked))

	ErrPopupClosed = goerrors.New("sign in popup was closed", goerrors.CategoryOperation).
			WithTextCode(string(CodePopupClosed))

	ErrOperationNotAllowed = goerrors.New("sign in method not allowed", goerrors.CategoryAuthz).
				WithTextCode(string(CodeOperationNotAllowed)).
				WithCode(goerrors.CodeForbidden)

	ErrEmailAlreadyInUse = goerrors.New("email already in use", goerrors.CategoryConflict).
				WithTextCode(string(CodeEmailAlreadyInUse)).
				WithCode(goerrors.CodeConflict)

	ErrWeakPassword = goerrors.New("password is too weak", goerrors.CategoryValidation).
			WithTextCode(string(CodeWeakPassword)).
			WithCode(goerrors.CodeBadRequest)

	ErrEmailNotRegistered = goerrors.New("email is not registered", goerrors.CategoryNotFound).
				WithTextCode(string(CodeEmailNotRegistered)).
				WithCode(goerrors.CodeNotFound)

	ErrLinkConsumed = goerrors.New("sign in link was already used", goerrors.CategoryConflict).
			WithTextCode(string(CodeLinkConsumed)).
			WithCode(goerrors.CodeConflict)

	ErrInvalidLink = goerrors.New("sign in link is invalid or expired", goerrors.CategoryBadInput).
			WithTextCode(string(CodeInvalidLink)).
			WithCode(goerrors.CodeBadRequest)

	ErrValidation = goerrors.New("invalid input", goerrors.CategoryValidation).
			WithTextCode(string(CodeValidation)).
			WithCode(goerrors.CodeBadRequest)

	ErrUnknown = goerrors.New("unexpected authentication error", goerrors.CategoryInternal).
			WithTextCode(string(CodeUnknown)).
			WithCode(goerrors.CodeInternal)
)

var (
	ErrPermissionDenied = goerrors.New("profile access denied", goerrors.CategoryAuthz).
				WithTextCode(TextCodePermissionDenied).
				WithCode(goerrors.CodeForbidden)

	ErrProfileNotFound = goerrors.New("profile document not found", goerrors.CategoryNotFound).
				WithTextCode(TextCodeProfileNotFound).
				WithCode(goerrors.CodeNotFound)

	ErrStoreTransient = goerrors.New("profile store unavailable", goerrors.CategoryOperation).
				WithTextCode(TextCodeStoreTransient)

	ErrRealtimeConnection = goerrors.New("realtime connection failed", goerrors.CategoryOperation).
				WithTextCode(TextCodeRealtime)

	ErrAlreadySubscribed = goerrors.New("auth state already has an active subscription", goerrors.CategoryConflict).
				WithTextCode(TextCodeSubscribed).
				WithCode(goerrors.CodeConflict)
)

var codeSentinels = map[ErrorCode]*goerrors.Error{
	CodeInvalidCredential:   ErrInvalidCredential,
	CodeAccountDisabled:     ErrAccountDisabled,
	CodeTooManyRequests:     ErrTooManyRequests,
	CodeInvalidEmail:        ErrInvalidEmail,
	CodeNetworkError:        ErrNetwork,
	CodePopupBlocked:        ErrPopupBlocked,
	CodePopupClosed:         ErrPopupClosed,
	CodeOperationNotAllowed: ErrOperationNotAllowed,
	CodeEmailAlreadyInUse:   ErrEmailAlreadyInUse,
	CodeWeakPassword:        ErrWeakPassword,
	CodeEmailNotRegistered:  ErrEmailNotRegistered,
	CodeLinkConsumed:        ErrLinkConsumed,
	CodeInvalidLink:         ErrInvalidLink,
	CodeValidation:          ErrValidation,
	CodeUnknown:             ErrUnknown,
}

// providerCodes translates identity provider codes. Lookups accept the code
// with or without the "auth/" prefix.
var providerCodes = map[string]ErrorCode{
	"invalid-credential":        CodeInvalidCredential,
	"invalid-login-credentials": CodeInvalidCredential,
	"user-not-found":            CodeInvalidCredential,
	"wrong-password":            CodeInvalidCredential,
	"invalid-email":             CodeInvalidEmail,
	"user-disabled":             CodeAccountDisabled,
	"too-many-requests":         CodeTooManyRequests,
	"operation-not-allowed":     CodeOperationNotAllowed,
	"popup-blocked":             CodePopupBlocked,
	"popup-closed-by-user":      CodePopupClosed,
	"cancelled-popup-request":   CodePopupClosed,
	"network-request-failed":    CodeNetworkError,
	"email-already-in-use":      CodeEmailAlreadyInUse,
	"weak-password":             CodeWeakPassword,
	"invalid-action-code":       CodeLinkConsumed,
	"expired-action-code":       CodeInvalidLink,
}

// ProviderError is what IdentityProvider implementations return for
// provider side failures.
type ProviderError struct {
	Provider  string
	Operation string
	Status    int
	Code      string
	Message   string
	Err       error
}

func (e *ProviderError) Error() string {
	if e == nil {
		return "provider error"
	}
	scope := "provider"
	if e.Provider != "" && e.Operation != "" {
		scope = fmt.Sprintf("%s %s", e.Provider, e.Operation)
	} else if e.Provider != "" {
		scope = e.Provider
	}
	if e.Message != "" {
		return fmt.Sprintf("%s failed: %s (%s)", scope, e.Message, e.Code)
	}
	if e.Code != "" {
		return fmt.Sprintf("%s failed: %s", scope, e.Code)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s failed: %v", scope, e.Err)
	}
	return scope + " failed"
}

func (e *ProviderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Metadata returns the non empty fields for error decoration.
func (e *ProviderError) Metadata() map[string]any {
	if e == nil {
		return nil
	}
	meta := map[string]any{}
	if e.Provider != "" {
		meta["provider"] = e.Provider
	}
	if e.Operation != "" {
		meta["operation"] = e.Operation
	}
	if e.Status != 0 {
		meta["status"] = e.Status
	}
	if e.Code != "" {
		meta["provider_code"] = e.Code
	}
	if e.Message != "" {
		meta["provider_message"] = e.Message
	}
	return meta
}

// ProviderCode returns the domain code for a provider code.
func ProviderCode(code string) ErrorCode {
	if c, ok := providerCodes[trimProviderPrefix(code)]; ok {
		return c
	}
	return CodeUnknown
}

// MapProviderError translates any error coming out of an IdentityProvider
// into a domain error. Errors that already carry a domain code pass
// through unchanged.
func MapProviderError(err error) error {
	if err == nil {
		return nil
	}

	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		if _, ok := codeSentinels[ErrorCode(rich.TextCode)]; ok {
			return err
		}
	}

	var perr *ProviderError
	if !errors.As(err, &perr) || perr == nil {
		return decorate(ErrUnknown, err, map[string]any{"provider_message": err.Error()}, err.Error())
	}

	code := ProviderCode(perr.Code)
	meta := perr.Metadata()
	if code == CodeUnknown {
		msg := perr.Message
		if msg == "" {
			msg = err.Error()
		}
		return decorate(ErrUnknown, err, meta, msg)
	}
	return decorate(codeSentinels[code], err, meta, "")
}

// NewCodeError returns a fresh error for a domain code.
func NewCodeError(code ErrorCode, source error) error {
	base, ok := codeSentinels[code]
	if !ok {
		base = ErrUnknown
	}
	return decorate(base, source, nil, "")
}

// CodeOf returns the domain code carried by err, CodeUnknown for foreign
// errors and "" for nil.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		if _, ok := codeSentinels[ErrorCode(rich.TextCode)]; ok {
			return ErrorCode(rich.TextCode)
		}
	}
	return CodeUnknown
}

// IsAccountInactive reports whether err ends the session for an inactive account.
func IsAccountInactive(err error) bool {
	return CodeOf(err) == CodeAccountDisabled
}

// HasTextCode reports whether err carries the given go-errors text code.
func HasTextCode(err error, textCode string) bool {
	var rich *goerrors.Error
	if err == nil || !goerrors.As(err, &rich) {
		return false
	}
	return rich.TextCode == textCode
}

// IsPermissionDenied reports a profile store permission failure.
func IsPermissionDenied(err error) bool { return HasTextCode(err, TextCodePermissionDenied) }

// IsProfileNotFound reports a missing profile document.
func IsProfileNotFound(err error) bool { return HasTextCode(err, TextCodeProfileNotFound) }

// StoreErrorKind names the kind of a profile store failure.
type StoreErrorKind string

const (
	StoreKindNone             StoreErrorKind = ""
	StoreKindPermissionDenied StoreErrorKind = "permission-denied"
	StoreKindNotFound         StoreErrorKind = "not-found"
	StoreKindTransient        StoreErrorKind = "transient"
)

// StoreErrorKindOf classifies err. Errors from outside the store are transient.
func StoreErrorKindOf(err error) StoreErrorKind {
	switch {
	case err == nil:
		return StoreKindNone
	case IsPermissionDenied(err):
		return StoreKindPermissionDenied
	case IsProfileNotFound(err):
		return StoreKindNotFound
	}
	return StoreKindTransient
}

// StoreError wraps a profile store failure into one of the store sentinels.
func StoreError(base *goerrors.Error, source error, meta map[string]any) error {
	if base == nil {
		base = ErrStoreTransient
	}
	return decorate(base, source, meta, "")
}

func decorate(base *goerrors.Error, source error, meta map[string]any, message string) error {
	clone := base.Clone()
	if clone == nil {
		clone = base
	}
	if source != nil {
		clone.Source = source
	}
	if message != "" {
		clone.Message = message
	}
	if len(meta) > 0 {
		clone.WithMetadata(meta)
	}
	return clone
}

func trimProviderPrefix(code string) string {
	const prefix = "auth/"
	if len(code) > len(prefix) && code[:len(prefix)] == prefix {
		return code[len(prefix):]
	}
	return code
}
