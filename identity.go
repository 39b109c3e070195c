package auth

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/go-ozzo/ozzo-validation/is"
)

// SignInResult is returned by OAuth sign in. Pending is set when the popup
// was blocked and the redirect flow took over; the identity then arrives
// through RestoreSession.
type SignInResult struct {
	Token   *IdentityToken
	Pending bool
}

// IdentityClient wraps the identity provider and is the only place where
// provider errors are translated into domain errors.
type IdentityClient struct {
	provider     IdentityProvider
	store        ProfileStore
	migrator     *Migrator
	links        LinkStorage
	claims       LinkClaims
	logger       Logger
	activitySink ActivitySink
	now          func() time.Time

	mu         sync.Mutex
	restoreSub Subscription
}

// IdentityClientOption customizes the IdentityClient.
type IdentityClientOption func(*IdentityClient)

// WithIdentityLogger sets the logger.
func WithIdentityLogger(logger Logger) IdentityClientOption {
	return func(c *IdentityClient) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithIdentityActivitySink sets the ActivitySink used for sign in events.
func WithIdentityActivitySink(sink ActivitySink) IdentityClientOption {
	return func(c *IdentityClient) {
		c.activitySink = normalizeActivitySink(sink)
	}
}

// WithLinkStorage overrides where the passwordless email is remembered.
func WithLinkStorage(links LinkStorage) IdentityClientOption {
	return func(c *IdentityClient) {
		if links != nil {
			c.links = links
		}
	}
}

// WithLinkClaims sets the shared claim table for sign in links.
func WithLinkClaims(claims LinkClaims) IdentityClientOption {
	return func(c *IdentityClient) {
		if claims != nil {
			c.claims = claims
		}
	}
}

// WithMigrator overrides the Migrator built from the profile store.
func WithMigrator(m *Migrator) IdentityClientOption {
	return func(c *IdentityClient) {
		if m != nil {
			c.migrator = m
		}
	}
}

// WithIdentityClock injects a clock.
func WithIdentityClock(now func() time.Time) IdentityClientOption {
	return func(c *IdentityClient) {
		if now != nil {
			c.now = now
		}
	}
}

// NewIdentityClient returns a client over the provider and profile store.
func NewIdentityClient(provider IdentityProvider, store ProfileStore, opts ...IdentityClientOption) *IdentityClient {
	c := &IdentityClient{
		provider:     provider,
		store:        store,
		links:        &MemoryLinkStorage{},
		claims:       NewMemoryLinkClaims(10 * time.Minute),
		logger:       DefaultLogger("auth.identity"),
		activitySink: noopActivitySink{},
		now:          time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	if c.migrator == nil {
		c.migrator = NewMigrator(store,
			WithMigratorLogger(c.logger),
			WithMigratorActivitySink(c.activitySink),
			WithMigratorClock(c.now),
		)
	}
	return c
}

// SignInWithPassword signs in with email and password.
func (c *IdentityClient) SignInWithPassword(ctx context.Context, email, password string) (IdentityToken, error) {
	payload := PasswordSignInPayload{Email: strings.TrimSpace(email), Password: password}
	if err := c.validate(payload.Email, payload); err != nil {
		return IdentityToken{}, err
	}

	token, err := c.provider.SignInWithPassword(ctx, payload.Email, password)
	if err != nil {
		return IdentityToken{}, c.fail(ctx, "password", payload.Email, err)
	}
	return c.complete(ctx, "password", token)
}

// SignInWithOAuthPopup signs in through a provider popup, falling back to
// the redirect flow when the popup is blocked.
func (c *IdentityClient) SignInWithOAuthPopup(ctx context.Context, providerHint string) (SignInResult, error) {
	token, err := c.provider.SignInWithPopup(ctx, providerHint)
	if err != nil {
		mapped := MapProviderError(err)
		if CodeOf(mapped) != CodePopupBlocked {
			return SignInResult{}, c.fail(ctx, "oauth", "", err)
		}
		c.logger.Info("popup blocked, falling back to redirect", "provider", providerHint)
		if rerr := c.provider.SignInWithRedirect(ctx, providerHint); rerr != nil {
			return SignInResult{}, c.fail(ctx, "oauth_redirect", "", rerr)
		}
		return SignInResult{Pending: true}, nil
	}

	out, err := c.complete(ctx, "oauth", token)
	if err != nil {
		return SignInResult{}, err
	}
	return SignInResult{Token: &out}, nil
}

// RedirectCompleter is implemented by providers that finish a redirect
// sign in from the callback URL.
type RedirectCompleter interface {
	CompleteRedirect(ctx context.Context, callbackURL string) (IdentityToken, error)
}

// CompleteRedirect finishes an OAuth redirect started by
// SignInWithOAuthPopup.
func (c *IdentityClient) CompleteRedirect(ctx context.Context, callbackURL string) (IdentityToken, error) {
	completer, ok := c.provider.(RedirectCompleter)
	if !ok {
		return IdentityToken{}, NewCodeError(CodeOperationNotAllowed, nil)
	}
	token, err := completer.CompleteRedirect(ctx, callbackURL)
	if err != nil {
		return IdentityToken{}, c.fail(ctx, "oauth_redirect", "", err)
	}
	return c.complete(ctx, "oauth", token)
}

// SendPasswordlessLink sends a sign in link to an email that already has a
// profile. There is no self registration.
func (c *IdentityClient) SendPasswordlessLink(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	if err := c.validate(email, LinkRequestPayload{Email: email}); err != nil {
		return err
	}

	registered, err := c.isRegistered(ctx, email)
	if err != nil {
		return err
	}
	if !registered {
		return NewCodeError(CodeEmailNotRegistered, nil)
	}

	if err := c.provider.SendSignInLink(ctx, email); err != nil {
		return c.fail(ctx, "link_send", email, err)
	}
	c.links.SaveEmail(email)

	recordActivity(ctx, c.activitySink, c.logger, ActivityEvent{
		EventType: ActivityEventLinkSent,
		Email:     email,
		Method:    "link",
	})
	return nil
}

// PendingLinkEmail returns the email a link was last sent to from here.
func (c *IdentityClient) PendingLinkEmail() string {
	return c.links.Email()
}

// IsSignInLink reports whether url is a passwordless sign in link.
func (c *IdentityClient) IsSignInLink(url string) bool {
	return c.provider.IsSignInLink(url)
}

// CompletePasswordlessSignIn consumes a sign in link. When the same link is
// completed twice only one call succeeds; the other gets
// CodeLinkConsumed and should close itself.
func (c *IdentityClient) CompletePasswordlessSignIn(ctx context.Context, email, currentURL string) (IdentityToken, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		email = c.links.Email()
	}
	if err := c.validate(email, LinkCompletionPayload{Email: email, Link: currentURL}); err != nil {
		return IdentityToken{}, err
	}
	if !c.provider.IsSignInLink(currentURL) {
		return IdentityToken{}, NewCodeError(CodeInvalidLink, nil)
	}

	claimed, err := c.claims.Claim(ctx, currentURL)
	if err != nil {
		// The provider still enforces single use.
		c.logger.Warn("link claim store unavailable", "error", err)
		claimed = true
	}
	if !claimed {
		c.logger.Info("sign in link already claimed elsewhere", "email", email)
		return IdentityToken{}, NewCodeError(CodeLinkConsumed, nil)
	}

	token, err := c.provider.SignInWithLink(ctx, email, currentURL)
	if err != nil {
		mapped := c.fail(ctx, "link", email, err)
		if CodeOf(mapped) != CodeLinkConsumed {
			if rerr := c.claims.Release(ctx, currentURL); rerr != nil {
				c.logger.Warn("link claim release failed", "error", rerr)
			}
		}
		return IdentityToken{}, mapped
	}

	c.links.ClearEmail()
	return c.complete(ctx, "link", token)
}

// RestoreSession subscribes to auth state changes. Only one subscription
// may be active; fn receives nil when the user signs out.
func (c *IdentityClient) RestoreSession(fn func(*IdentityToken)) (Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.restoreSub != nil {
		return nil, ErrAlreadySubscribed.Clone()
	}

	inner := c.provider.OnAuthStateChanged(func(token *IdentityToken) {
		if fn == nil {
			return
		}
		if token == nil {
			fn(nil)
			return
		}
		t := *token
		fn(&t)
	})

	var sub Subscription
	sub = SubscriptionFunc(func() {
		if inner != nil {
			inner.Cancel()
		}
		c.mu.Lock()
		if c.restoreSub == sub {
			c.restoreSub = nil
		}
		c.mu.Unlock()
	})
	c.restoreSub = sub
	return sub, nil
}

// SignOut clears the provider session. It never fails; provider errors
// are logged.
func (c *IdentityClient) SignOut(ctx context.Context) error {
	if err := c.provider.SignOut(ctx); err != nil {
		c.logger.Warn("provider sign out failed", "error", err)
	}
	recordActivity(ctx, c.activitySink, c.logger, ActivityEvent{EventType: ActivityEventLogout})
	return nil
}

// IDToken returns a fresh provider token for API calls.
func (c *IdentityClient) IDToken(ctx context.Context) (string, error) {
	token, err := c.provider.IDToken(ctx)
	if err != nil {
		return "", MapProviderError(err)
	}
	return token, nil
}

// complete runs the migration and account gate after the provider
// accepted the credentials.
func (c *IdentityClient) complete(ctx context.Context, method string, token IdentityToken) (IdentityToken, error) {
	res, err := c.migrator.Reconcile(ctx, token)
	if err != nil {
		if !IsAccountInactive(err) {
			c.logger.Error("profile migration failed", "uid", token.UID, "error", err)
		}
		if serr := c.provider.SignOut(ctx); serr != nil {
			c.logger.Warn("sign out after rejected sign in failed", "error", serr)
		}
		recordActivity(ctx, c.activitySink, c.logger, ActivityEvent{
			EventType: ActivityEventLoginFailure,
			UserID:    token.UID,
			Email:     token.Email,
			Method:    method,
			Metadata:  map[string]any{"code": string(CodeOf(err))},
		})
		if IsAccountInactive(err) {
			return IdentityToken{}, err
		}
		return IdentityToken{}, NewCodeError(CodeNetworkError, err)
	}

	// Never merge onto a missing uid document.
	if res.Outcome == MigrationExisting && c.store != nil {
		if err := c.store.Merge(ctx, token.UID, map[string]any{FieldLastLogin: c.now().UTC()}); err != nil {
			c.logger.Warn("last login update failed", "uid", token.UID, "error", err)
		}
	}

	recordActivity(ctx, c.activitySink, c.logger, ActivityEvent{
		EventType: ActivityEventLoginSuccess,
		UserID:    token.UID,
		Email:     token.Email,
		Method:    method,
		Metadata:  map[string]any{"migration": string(res.Outcome)},
	})
	return token, nil
}

func (c *IdentityClient) fail(ctx context.Context, method, email string, err error) error {
	mapped := MapProviderError(err)
	c.logger.Debug("sign in failed", "method", method, "code", CodeOf(mapped), "error", err)
	recordActivity(ctx, c.activitySink, c.logger, ActivityEvent{
		EventType: ActivityEventLoginFailure,
		Email:     email,
		Method:    method,
		Metadata:  map[string]any{"code": string(CodeOf(mapped))},
	})
	return mapped
}

func (c *IdentityClient) validate(email string, payload interface{ Validate() error }) error {
	if email != "" && is.Email.Validate(email) != nil {
		return NewCodeError(CodeInvalidEmail, nil)
	}
	if err := payload.Validate(); err != nil {
		return validationError(err)
	}
	return nil
}

func (c *IdentityClient) isRegistered(ctx context.Context, email string) (bool, error) {
	if c.store == nil {
		return false, nil
	}
	docs, err := c.store.FindByEmail(ctx, NormalizeEmail(email))
	if err == nil && len(docs) > 0 {
		return true, nil
	}
	if err != nil {
		c.logger.Warn("profile email lookup failed", "error", err)
	}
	if NormalizeEmail(email) != email {
		if docs, ferr := c.store.FindByEmail(ctx, email); ferr == nil && len(docs) > 0 {
			return true, nil
		}
	}
	for _, id := range LegacyDocumentIDs(email) {
		doc, gerr := c.store.Get(ctx, id)
		if gerr == nil && doc.Exists {
			return true, nil
		}
	}
	if err != nil {
		return false, NewCodeError(CodeNetworkError, err)
	}
	return false, nil
}
