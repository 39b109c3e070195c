package firebase

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/google/uuid"

	auth "github.com/goliatone/go-studio-auth"
)

// Popup openers return these to report how the window ended.
var (
	ErrPopupBlocked = errors.New("popup blocked")
	ErrPopupClosed  = errors.New("popup closed")
)

// PopupOpener shows the provider's consent page and returns the callback
// URL the provider redirected to.
type PopupOpener interface {
	Open(ctx context.Context, authURI string) (callbackURL string, err error)
}

// PopupFunc adapts a function to PopupOpener.
type PopupFunc func(ctx context.Context, authURI string) (string, error)

func (f PopupFunc) Open(ctx context.Context, authURI string) (string, error) { return f(ctx, authURI) }

// Redirector sends the user agent to the provider's consent page.
type Redirector interface {
	Redirect(ctx context.Context, authURI string) error
}

// RedirectFunc adapts a function to Redirector.
type RedirectFunc func(ctx context.Context, authURI string) error

func (f RedirectFunc) Redirect(ctx context.Context, authURI string) error { return f(ctx, authURI) }

type listener struct {
	id string
	fn func(*auth.IdentityToken)
}

// Provider is an auth.IdentityProvider backed by the Firebase Auth REST API.
type Provider struct {
	cfg         Config
	rest        *restClient
	verifier    Verifier
	persistence Persistence
	popup       PopupOpener
	redirector  Redirector
	logger      auth.Logger
	now         func() time.Time

	mu        sync.Mutex
	session   *Session
	pending   string
	listeners []listener

	refreshMu   sync.Mutex
	restoreOnce sync.Once
}

// Option configures a Provider.
type Option func(*Provider)

func WithVerifier(v Verifier) Option {
	return func(p *Provider) {
		if v != nil {
			p.verifier = v
		}
	}
}

func WithPersistence(store Persistence) Option {
	return func(p *Provider) {
		if store != nil {
			p.persistence = store
		}
	}
}

func WithPopupOpener(opener PopupOpener) Option {
	return func(p *Provider) {
		p.popup = opener
	}
}

func WithRedirector(r Redirector) Option {
	return func(p *Provider) {
		p.redirector = r
	}
}

func WithLogger(logger auth.Logger) Option {
	return func(p *Provider) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *Provider) {
		if now != nil {
			p.now = now
		}
	}
}

// New creates a provider for the project in cfg.
func New(cfg Config, opts ...Option) (*Provider, error) {
	if err := validation.ValidateStruct(&cfg,
		validation.Field(&cfg.APIKey, validation.Required),
	); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	p := &Provider{
		cfg:         cfg,
		rest:        &restClient{cfg: cfg},
		verifier:    UnverifiedDecoder(),
		persistence: NewMemoryPersistence(),
		logger:      auth.DefaultLogger("firebase.provider"),
		now:         time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p, nil
}

func (p *Provider) SignInWithPassword(ctx context.Context, email, password string) (auth.IdentityToken, error) {
	var res signInResponse
	err := p.rest.accounts(ctx, opSignInWithPassword, map[string]any{
		"email":             email,
		"password":          password,
		"returnSecureToken": true,
	}, &res)
	if err != nil {
		return auth.IdentityToken{}, err
	}
	return p.establish(ctx, opSignInWithPassword, res)
}

func (p *Provider) SignInWithPopup(ctx context.Context, providerHint string) (auth.IdentityToken, error) {
	if p.popup == nil {
		return auth.IdentityToken{}, providerError(opCreateAuthURI, "auth/popup-blocked", "no popup opener configured", nil)
	}
	created, err := p.createAuthURI(ctx, providerHint)
	if err != nil {
		return auth.IdentityToken{}, err
	}

	callback, err := p.popup.Open(ctx, created.AuthURI)
	switch {
	case err == nil:
	case errors.Is(err, ErrPopupBlocked):
		return auth.IdentityToken{}, providerError(opSignInWithIdp, "auth/popup-blocked", err.Error(), err)
	case errors.Is(err, ErrPopupClosed), errors.Is(err, context.Canceled):
		return auth.IdentityToken{}, providerError(opSignInWithIdp, "auth/popup-closed-by-user", err.Error(), err)
	default:
		return auth.IdentityToken{}, transportError(opSignInWithIdp, err)
	}
	return p.signInWithIdp(ctx, callback, created.SessionID)
}

// SignInWithRedirect starts the redirect flow. The identity arrives through
// OnAuthStateChanged once CompleteRedirect runs with the callback URL.
func (p *Provider) SignInWithRedirect(ctx context.Context, providerHint string) error {
	if p.redirector == nil {
		return providerError(opCreateAuthURI, "auth/operation-not-allowed", "no redirector configured", nil)
	}
	created, err := p.createAuthURI(ctx, providerHint)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.pending = created.SessionID
	p.mu.Unlock()
	return p.redirector.Redirect(ctx, created.AuthURI)
}

// CompleteRedirect finishes a redirect sign-in started by this provider.
func (p *Provider) CompleteRedirect(ctx context.Context, callbackURL string) (auth.IdentityToken, error) {
	p.mu.Lock()
	sessionID := p.pending
	p.pending = ""
	p.mu.Unlock()
	if sessionID == "" {
		return auth.IdentityToken{}, providerError(opSignInWithIdp, "auth/no-auth-event", "no redirect sign-in in progress", nil)
	}
	return p.signInWithIdp(ctx, callbackURL, sessionID)
}

func (p *Provider) createAuthURI(ctx context.Context, providerHint string) (createAuthURIResponse, error) {
	if providerHint == "" {
		providerHint = ProviderGoogle
	}
	var res createAuthURIResponse
	err := p.rest.accounts(ctx, opCreateAuthURI, map[string]any{
		"providerId":  providerHint,
		"continueUri": p.cfg.ContinueURL,
	}, &res)
	return res, err
}

func (p *Provider) signInWithIdp(ctx context.Context, callbackURL, sessionID string) (auth.IdentityToken, error) {
	var res signInResponse
	err := p.rest.accounts(ctx, opSignInWithIdp, map[string]any{
		"requestUri":          callbackURL,
		"sessionId":           sessionID,
		"returnSecureToken":   true,
		"returnIdpCredential": true,
	}, &res)
	if err != nil {
		return auth.IdentityToken{}, err
	}
	return p.establish(ctx, opSignInWithIdp, res)
}

func (p *Provider) SendSignInLink(ctx context.Context, email string) error {
	return p.rest.accounts(ctx, opSendOobCode, map[string]any{
		"requestType":        "EMAIL_SIGNIN",
		"email":              email,
		"continueUrl":        p.cfg.ContinueURL,
		"canHandleCodeInApp": true,
	}, nil)
}

func (p *Provider) IsSignInLink(link string) bool {
	mode, code := linkParams(link)
	return mode == "signIn" && code != ""
}

func (p *Provider) SignInWithLink(ctx context.Context, email, link string) (auth.IdentityToken, error) {
	_, code := linkParams(link)
	if code == "" {
		return auth.IdentityToken{}, providerError(opSignInWithEmailLink, "auth/argument-error", "link has no action code", nil)
	}
	var res signInResponse
	err := p.rest.accounts(ctx, opSignInWithEmailLink, map[string]any{
		"email":   email,
		"oobCode": code,
	}, &res)
	if err != nil {
		return auth.IdentityToken{}, err
	}
	return p.establish(ctx, opSignInWithEmailLink, res)
}

// linkParams reads mode and oobCode, following one level of wrapping in a
// "link" parameter.
func linkParams(link string) (mode, code string) {
	u, err := url.Parse(link)
	if err != nil {
		return "", ""
	}
	q := u.Query()
	if q.Get("oobCode") == "" && q.Get("link") != "" {
		if inner, err := url.Parse(q.Get("link")); err == nil {
			q = inner.Query()
		}
	}
	return q.Get("mode"), q.Get("oobCode")
}

// OnAuthStateChanged registers fn. The current state, restored from
// persistence on first use, is delivered asynchronously after registration.
func (p *Provider) OnAuthStateChanged(fn func(*auth.IdentityToken)) auth.Subscription {
	if fn == nil {
		return auth.SubscriptionFunc(nil)
	}
	id := uuid.NewString()
	p.mu.Lock()
	p.listeners = append(p.listeners, listener{id: id, fn: fn})
	p.mu.Unlock()

	go func() {
		p.restoreOnce.Do(func() { p.restore(context.Background()) })
		p.mu.Lock()
		registered := false
		for _, l := range p.listeners {
			if l.id == id {
				registered = true
				break
			}
		}
		current := p.currentIdentity()
		p.mu.Unlock()
		if registered {
			fn(current)
		}
	}()

	return auth.SubscriptionFunc(func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		for i, l := range p.listeners {
			if l.id == id {
				p.listeners = append(p.listeners[:i:i], p.listeners[i+1:]...)
				break
			}
		}
	})
}

// IDToken returns a token valid for at least a few minutes, refreshing it
// when needed. It returns "" without error when signed out.
func (p *Provider) IDToken(ctx context.Context) (string, error) {
	p.refreshMu.Lock()
	defer p.refreshMu.Unlock()

	p.mu.Lock()
	session := p.session.clone()
	p.mu.Unlock()
	if session == nil {
		return "", nil
	}
	if p.now().Add(refreshSkew).Before(session.ExpiresAt) {
		return session.IDToken, nil
	}

	next, err := p.refreshSession(ctx, session)
	if err != nil {
		return "", err
	}
	return next.IDToken, nil
}

func (p *Provider) SignOut(ctx context.Context) error {
	p.mu.Lock()
	had := p.session != nil
	p.session = nil
	p.pending = ""
	p.mu.Unlock()

	if err := p.persistence.Clear(ctx); err != nil {
		p.logger.Warn("clear persisted session failed", "error", err)
	}
	if had {
		p.notify(nil)
	}
	return nil
}

// CurrentIdentity returns the signed in identity, nil when signed out.
func (p *Provider) CurrentIdentity() *auth.IdentityToken {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentIdentity()
}

func (p *Provider) currentIdentity() *auth.IdentityToken {
	if p.session == nil {
		return nil
	}
	tok := p.session.clone().Identity
	return &tok
}

// Reload fetches the account record and refreshes the identity fields.
// A disabled account is signed out.
func (p *Provider) Reload(ctx context.Context) (*auth.IdentityToken, error) {
	token, err := p.IDToken(ctx)
	if err != nil || token == "" {
		return nil, err
	}
	var res lookupResponse
	if err := p.rest.accounts(ctx, opLookup, map[string]any{"idToken": token}, &res); err != nil {
		return nil, err
	}
	if len(res.Users) == 0 {
		_ = p.SignOut(ctx)
		return nil, providerError(opLookup, "auth/user-token-expired", "account not found", nil)
	}
	user := res.Users[0]
	if user.Disabled {
		_ = p.SignOut(ctx)
		return nil, providerError(opLookup, "auth/user-disabled", "account disabled", nil)
	}

	p.mu.Lock()
	if p.session == nil {
		p.mu.Unlock()
		return nil, nil
	}
	id := &p.session.Identity
	id.Email = firstNonEmpty(user.Email, id.Email)
	id.DisplayName = firstNonEmpty(user.DisplayName, id.DisplayName)
	id.PhotoURL = firstNonEmpty(user.PhotoURL, id.PhotoURL)
	session := p.session.clone()
	p.mu.Unlock()

	p.save(ctx, session)
	tok := session.Identity
	return &tok, nil
}

func (p *Provider) establish(ctx context.Context, op string, res signInResponse) (auth.IdentityToken, error) {
	claims, err := p.verifier.Verify(res.IDToken)
	if err != nil {
		return auth.IdentityToken{}, providerError(op, "auth/invalid-user-token", err.Error(), err)
	}
	tok := IdentityFromClaims(claims)
	tok.UID = firstNonEmpty(res.LocalID, tok.UID)
	tok.Email = firstNonEmpty(res.Email, tok.Email)
	tok.DisplayName = firstNonEmpty(res.DisplayName, tok.DisplayName)
	tok.PhotoURL = firstNonEmpty(res.PhotoURL, tok.PhotoURL)
	tok.ProviderID = firstNonEmpty(res.ProviderID, tok.ProviderID)

	expires := expiryOf(claims)
	if expires.IsZero() {
		expires = p.now().Add(time.Duration(res.expiresIn()) * time.Second)
	}
	session := &Session{
		IDToken:      res.IDToken,
		RefreshToken: res.RefreshToken,
		ExpiresAt:    expires,
		Identity:     tok,
	}

	p.mu.Lock()
	p.session = session.clone()
	p.mu.Unlock()
	p.save(ctx, session)

	p.logger.Debug("provider session established", "uid", tok.UID, "operation", op)
	out := tok
	p.notify(&out)
	return tok, nil
}

func (p *Provider) refreshSession(ctx context.Context, session *Session) (*Session, error) {
	res, err := p.rest.refresh(ctx, session.RefreshToken)
	if err != nil {
		return nil, err
	}
	claims, err := p.verifier.Verify(res.IDToken)
	if err != nil {
		return nil, providerError(opRefresh, "auth/invalid-user-token", err.Error(), err)
	}
	fresh := IdentityFromClaims(claims)

	next := session.clone()
	next.IDToken = res.IDToken
	next.RefreshToken = firstNonEmpty(res.RefreshToken, session.RefreshToken)
	next.ExpiresAt = expiryOf(claims)
	if next.ExpiresAt.IsZero() {
		next.ExpiresAt = p.now().Add(time.Hour)
	}
	next.Identity.Claims = fresh.Claims

	p.mu.Lock()
	if p.session == nil || p.session.Identity.UID != next.Identity.UID {
		p.mu.Unlock()
		return next, nil
	}
	p.session = next.clone()
	p.mu.Unlock()
	p.save(ctx, next)
	return next, nil
}

func (p *Provider) restore(ctx context.Context) {
	session, err := p.persistence.Load(ctx)
	if err != nil {
		p.logger.Warn("load persisted session failed", "error", err)
		return
	}
	if session == nil {
		return
	}

	p.mu.Lock()
	if p.session != nil {
		p.mu.Unlock()
		return
	}
	p.session = session.clone()
	p.mu.Unlock()

	if _, err := p.IDToken(ctx); err != nil {
		var perr *auth.ProviderError
		if errors.As(err, &perr) && perr.Code == "auth/network-request-failed" {
			p.logger.Warn("session refresh deferred", "error", err)
			return
		}
		p.logger.Info("persisted session rejected", "error", err)
		p.mu.Lock()
		p.session = nil
		p.mu.Unlock()
		_ = p.persistence.Clear(ctx)
	}
}

func (p *Provider) save(ctx context.Context, session *Session) {
	if err := p.persistence.Save(ctx, session); err != nil {
		p.logger.Warn("persist session failed", "error", err)
	}
}

func (p *Provider) notify(tok *auth.IdentityToken) {
	p.mu.Lock()
	ls := make([]listener, len(p.listeners))
	copy(ls, p.listeners)
	p.mu.Unlock()
	for _, l := range ls {
		if tok == nil {
			l.fn(nil)
			continue
		}
		c := *tok
		l.fn(&c)
	}
}

func providerError(op, code, msg string, err error) *auth.ProviderError {
	return &auth.ProviderError{
		Provider:  ProviderName,
		Operation: op,
		Code:      code,
		Message:   msg,
		Err:       err,
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
