package auth

import (
	"context"
	"sync"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-logger/glog"
)

// Logger is the logging contract used across the module. Messages take
// trailing key/value pairs.
type Logger = glog.Logger

// LoggerProvider hands out scoped loggers, e.g. "auth.identity".
type LoggerProvider = glog.LoggerProvider

// Subscription is returned by every live listener. Cancel is idempotent.
type Subscription interface {
	Cancel()
}

// SubscriptionFunc adapts a function to Subscription. The function runs at
// most once.
func SubscriptionFunc(fn func()) Subscription {
	return &funcSubscription{fn: fn}
}

type funcSubscription struct {
	once sync.Once
	fn   func()
}

func (s *funcSubscription) Cancel() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		if s.fn != nil {
			s.fn()
		}
	})
}

// IdentityProvider is the external identity service (hosted auth).
// Implementations return *ProviderError for provider failures; the
// IdentityClient translates them.
type IdentityProvider interface {
	SignInWithPassword(ctx context.Context, email, password string) (IdentityToken, error)
	SignInWithPopup(ctx context.Context, providerHint string) (IdentityToken, error)
	SignInWithRedirect(ctx context.Context, providerHint string) error
	SendSignInLink(ctx context.Context, email string) error
	IsSignInLink(link string) bool
	SignInWithLink(ctx context.Context, email, link string) (IdentityToken, error)
	OnAuthStateChanged(fn func(*IdentityToken)) Subscription
	IDToken(ctx context.Context) (string, error)
	SignOut(ctx context.Context) error
}

// ProfileStore is the document database holding one profile document per user.
type ProfileStore interface {
	Get(ctx context.Context, id string) (Document, error)
	FindByEmail(ctx context.Context, email string) ([]Document, error)
	Set(ctx context.Context, id string, data map[string]any) error
	Merge(ctx context.Context, id string, data map[string]any) error
	Delete(ctx context.Context, id string) error
	// Watch delivers the current document and every later change. Exactly
	// one of doc or err is meaningful per callback.
	Watch(ctx context.Context, id string, fn func(doc Document, err error)) (Subscription, error)
}

// LinkStorage keeps the email a passwordless link was sent to.
type LinkStorage interface {
	SaveEmail(email string)
	Email() string
	ClearEmail()
}

// LinkClaims is a shared claim table used to detect the same sign-in link
// being opened in two places.
type LinkClaims interface {
	Claim(ctx context.Context, link string) (bool, error)
	Release(ctx context.Context, link string) error
}

// Navigator performs client route changes.
type Navigator interface {
	Navigate(path string, replace bool)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(path string, replace bool)

// Navigate implements Navigator.
func (f NavigatorFunc) Navigate(path string, replace bool) {
	if f != nil {
		f(path, replace)
	}
}

// Notice is a blocking message shown to the user.
type Notice struct {
	Title   string
	Message string
}

// Acknowledger shows a blocking notice and returns once the user dismissed it.
type Acknowledger interface {
	Acknowledge(ctx context.Context, notice Notice)
}

// AcknowledgerFunc adapts a function to Acknowledger.
type AcknowledgerFunc func(ctx context.Context, notice Notice)

// Acknowledge implements Acknowledger.
func (f AcknowledgerFunc) Acknowledge(ctx context.Context, notice Notice) {
	if f != nil {
		f(ctx, notice)
	}
}

var defaultBaseLogger = sync.OnceValue(func() *glog.BaseLogger {
	return glog.NewLogger(
		glog.WithLoggerTypePretty(),
		glog.WithName("auth"),
		glog.WithAddSource(false),
		glog.WithRichErrorHandler(goerrors.ToSlogAttributes),
	)
})

// DefaultLogger returns a scoped logger from the shared default base logger.
func DefaultLogger(name string) Logger {
	return defaultBaseLogger().GetLogger(name)
}

// ResolveLogger picks a scoped logger from the provider, then the explicit
// logger, then the default one.
func ResolveLogger(name string, provider LoggerProvider, logger Logger) Logger {
	if provider != nil {
		if l := provider.GetLogger(name); l != nil {
			return l
		}
	}
	if logger != nil {
		return logger
	}
	return DefaultLogger(name)
}
