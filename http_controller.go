package auth

import (
	"context"
	"net/http"
	"strings"
	"sync"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-router"
)

// RegisterAuthRoutes mounts the sign in endpoints on app.
func RegisterAuthRoutes[T any](app router.Router[T], opts ...AuthControllerOption) *AuthController {
	controller := NewAuthController(opts...)

	app.Post(controller.Routes.Login, controller.LoginPost).
		SetName("sign-in.post")
	app.Post(controller.Routes.Link, controller.LinkRequest).
		SetName("sign-in-link.post")
	app.Get(controller.Routes.LinkComplete, controller.LinkComplete).
		SetName("sign-in-link.get")
	app.Post(controller.Routes.OAuth, controller.OAuthStart).
		SetName("sign-in-oauth.post")
	app.Get(controller.Routes.Callback, controller.OAuthCallback).
		SetName("sign-in-oauth.callback")
	app.Post(controller.Routes.Logout, controller.LogOut).
		SetName("sign-out.post")
	app.Get(controller.Routes.Session, controller.SessionShow).
		SetName("session.get")

	return controller
}

type AuthControllerRoutes struct {
	Login        string
	Link         string
	LinkComplete string
	OAuth        string
	Callback     string
	Logout       string
	Session      string
}

type AuthController struct {
	Logger   Logger
	Identity *IdentityClient
	Session  *SessionController
	Messages *Messages
	Routes   *AuthControllerRoutes
	// BaseURL is joined with the request path to rebuild callback URLs.
	BaseURL string
}

type AuthControllerOption func(*AuthController) *AuthController

func WithAuthControllerIdentity(identity *IdentityClient) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Identity = identity
		return c
	}
}

func WithAuthControllerSession(session *SessionController) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Session = session
		return c
	}
}

func WithAuthControllerLogger(logger Logger) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		if logger != nil {
			c.Logger = logger
		}
		return c
	}
}

func WithAuthControllerMessages(m *Messages) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		if m != nil {
			c.Messages = m
		}
		return c
	}
}

func WithAuthControllerBaseURL(base string) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.BaseURL = strings.TrimRight(base, "/")
		return c
	}
}

func NewAuthController(opts ...AuthControllerOption) *AuthController {
	c := &AuthController{
		Logger:   DefaultLogger("auth.http"),
		Messages: NewMessages(),
		Routes: &AuthControllerRoutes{
			Login:        "/login",
			Link:         "/login/link",
			LinkComplete: "/login/link/complete",
			OAuth:        "/login/oauth",
			Callback:     "/auth/callback",
			Logout:       "/logout",
			Session:      "/session",
		},
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.Identity == nil {
		panic("Missing IdentityClient in auth controller...")
	}

	if c.Session == nil {
		panic("Missing SessionController in auth controller...")
	}

	return c
}

// OAuthRequest selects the identity provider for a popup sign in.
type OAuthRequest struct {
	Provider string `form:"provider" json:"provider"`
}

func (a *AuthController) LoginPost(ctx router.Context) error {
	payload := new(PasswordSignInPayload)
	if err := ctx.Bind(payload); err != nil {
		return a.fail(ctx, validationError(err))
	}

	if _, err := a.Identity.SignInWithPassword(ctx.Context(), payload.Email, payload.Password); err != nil {
		return a.fail(ctx, err)
	}
	return a.resolved(ctx)
}

func (a *AuthController) LinkRequest(ctx router.Context) error {
	payload := new(LinkRequestPayload)
	if err := ctx.Bind(payload); err != nil {
		return a.fail(ctx, validationError(err))
	}

	if err := a.Identity.SendPasswordlessLink(ctx.Context(), payload.Email); err != nil {
		return a.fail(ctx, err)
	}
	return ctx.JSON(http.StatusAccepted, router.ViewContext{
		"status": "sent",
		"email":  NormalizeEmail(payload.Email),
	})
}

func (a *AuthController) LinkComplete(ctx router.Context) error {
	link := a.absoluteURL(ctx.OriginalURL())
	if _, err := a.Identity.CompletePasswordlessSignIn(ctx.Context(), ctx.Query("email", ""), link); err != nil {
		if CodeOf(err) == CodeLinkConsumed {
			// Another tab finished first; this one just closes.
			return ctx.JSON(http.StatusConflict, router.ViewContext{
				"status": "closed",
				"code":   string(CodeLinkConsumed),
			})
		}
		return a.fail(ctx, err)
	}
	return a.resolved(ctx)
}

func (a *AuthController) OAuthStart(ctx router.Context) error {
	payload := new(OAuthRequest)
	if err := ctx.Bind(payload); err != nil {
		return a.fail(ctx, validationError(err))
	}

	reqCtx, pending := WithPendingRedirect(ctx.Context())
	res, err := a.Identity.SignInWithOAuthPopup(reqCtx, payload.Provider)
	if err != nil {
		return a.fail(ctx, err)
	}
	if res.Pending {
		if uri := pending.URI(); uri != "" {
			return ctx.Redirect(uri, router.StatusSeeOther)
		}
		return ctx.JSON(http.StatusAccepted, router.ViewContext{"status": "redirect"})
	}
	return a.resolved(ctx)
}

func (a *AuthController) OAuthCallback(ctx router.Context) error {
	if _, err := a.Identity.CompleteRedirect(ctx.Context(), a.absoluteURL(ctx.OriginalURL())); err != nil {
		return a.fail(ctx, err)
	}
	return a.resolved(ctx)
}

func (a *AuthController) LogOut(ctx router.Context) error {
	a.Session.SignOut(ctx.Context())
	return ctx.JSON(http.StatusOK, router.ViewContext{
		"status": string(a.Session.Store().Snapshot().Status),
	})
}

func (a *AuthController) SessionShow(ctx router.Context) error {
	state := a.Session.Store().Snapshot()
	out := router.ViewContext{
		"status":   string(state.Status),
		"redirect": state.RedirectTarget,
	}
	if state.User != nil {
		out["user"] = state.User.Clone()
	}
	ctx.SetHeader("Cache-Control", "no-store")
	return ctx.JSON(http.StatusOK, out)
}

// resolved reports where the client should go once the session resolves.
// The profile arrives through the auth state listener, so the target may
// still be empty when the provider answers first.
func (a *AuthController) resolved(ctx router.Context) error {
	state := a.Session.Store().Snapshot()
	return ctx.JSON(http.StatusOK, router.ViewContext{
		"status":   string(state.Status),
		"redirect": state.RedirectTarget,
	})
}

func (a *AuthController) fail(ctx router.Context, err error) error {
	code := CodeOf(err)
	a.Logger.Debug("auth request failed", "path", ctx.OriginalURL(), "code", code, "error", err)

	body := router.ViewContext{
		"code":    string(code),
		"message": a.Messages.Message(err, ctx.Header("Accept-Language")),
	}
	if code == CodeValidation {
		var rich *goerrors.Error
		if goerrors.As(err, &rich) && len(rich.Metadata) > 0 {
			body["fields"] = rich.Metadata
		}
	}
	return ctx.JSON(HTTPStatus(err), body)
}

func (a *AuthController) absoluteURL(path string) string {
	if a.BaseURL == "" || strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return a.BaseURL + path
}

// HTTPStatus returns the status code carried by a domain error.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var rich *goerrors.Error
	if goerrors.As(err, &rich) && rich.Code >= 400 && rich.Code < 600 {
		return rich.Code
	}
	switch CodeOf(err) {
	case CodeTooManyRequests:
		return http.StatusTooManyRequests
	case CodeNetworkError:
		return http.StatusBadGateway
	case CodePopupBlocked, CodePopupClosed:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

type pendingRedirectKey struct{}

// PendingRedirect collects the authorization URI a redirect sign in wants
// the browser to visit.
type PendingRedirect struct {
	mu  sync.Mutex
	uri string
}

// URI returns the captured redirect target.
func (p *PendingRedirect) URI() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.uri
}

// WithPendingRedirect attaches a redirect collector to ctx.
func WithPendingRedirect(ctx context.Context) (context.Context, *PendingRedirect) {
	p := &PendingRedirect{}
	return context.WithValue(ctx, pendingRedirectKey{}, p), p
}

// CaptureRedirect stores uri on the collector in ctx. It reports false when
// the request has no collector.
func CaptureRedirect(ctx context.Context, uri string) bool {
	p, ok := ctx.Value(pendingRedirectKey{}).(*PendingRedirect)
	if !ok || p == nil {
		return false
	}
	p.mu.Lock()
	p.uri = uri
	p.mu.Unlock()
	return true
}
