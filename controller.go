package auth

import (
	"context"
	"sync"
)

// SessionController wires the identity stream through the profile
// reconciler into the session store. It owns the single auth state
// subscription of the application.
type SessionController struct {
	identity   *IdentityClient
	store      *SessionStore
	reconciler *ProfileReconciler
	notices    Acknowledger
	navigator  Navigator
	messages   *Messages
	logger     Logger

	mu      sync.Mutex
	sub     Subscription
	lastUID string
}

// SessionControllerOption customizes the SessionController.
type SessionControllerOption func(*SessionController)

// WithControllerLogger sets the logger.
func WithControllerLogger(logger Logger) SessionControllerOption {
	return func(c *SessionController) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithAcknowledger sets where blocking notices are shown.
func WithAcknowledger(ack Acknowledger) SessionControllerOption {
	return func(c *SessionController) {
		if ack != nil {
			c.notices = ack
		}
	}
}

// WithNavigator sets the router used after forced sign outs.
func WithNavigator(nav Navigator) SessionControllerOption {
	return func(c *SessionController) {
		if nav != nil {
			c.navigator = nav
		}
	}
}

// WithMessages sets the message catalog used for notices.
func WithMessages(m *Messages) SessionControllerOption {
	return func(c *SessionController) {
		if m != nil {
			c.messages = m
		}
	}
}

// WithReconcilerOptions passes options to the reconciler the controller builds.
func WithReconcilerOptions(opts ...ReconcilerOption) SessionControllerOption {
	return func(c *SessionController) {
		for _, opt := range opts {
			if opt != nil {
				opt(c.reconciler)
			}
		}
	}
}

// NewSessionController builds the controller and its reconciler.
func NewSessionController(identity *IdentityClient, profiles ProfileStore, store *SessionStore, opts ...SessionControllerOption) *SessionController {
	c := &SessionController{
		identity:  identity,
		store:     store,
		notices:   AcknowledgerFunc(nil),
		navigator: NavigatorFunc(nil),
		messages:  NewMessages(),
		logger:    DefaultLogger("auth.session"),
	}
	c.reconciler = NewProfileReconciler(profiles,
		WithProfileListener(c.onProfile),
		WithInactiveHandler(c.onInactive),
	)
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Store returns the session store.
func (c *SessionController) Store() *SessionStore { return c.store }

// Reconciler returns the profile reconciler.
func (c *SessionController) Reconciler() *ProfileReconciler { return c.reconciler }

// Start subscribes to the identity stream. It fails if already started.
func (c *SessionController) Start(ctx context.Context) error {
	c.store.Dispatch(SetLoading())
	sub, err := c.identity.RestoreSession(func(token *IdentityToken) {
		c.onIdentity(ctx, token)
	})
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.sub = sub
	c.mu.Unlock()
	return nil
}

// Stop cancels the identity and profile subscriptions.
func (c *SessionController) Stop() {
	c.mu.Lock()
	sub := c.sub
	c.sub = nil
	c.lastUID = ""
	c.mu.Unlock()
	if sub != nil {
		sub.Cancel()
	}
	c.reconciler.Stop()
}

// SignOut ends the session locally. The profile subscription is cancelled
// and the store cleared even when the provider fails or panics.
func (c *SessionController) SignOut(ctx context.Context) {
	defer c.clear(ctx)
	_ = c.identity.SignOut(ctx)
}

func (c *SessionController) onIdentity(ctx context.Context, token *IdentityToken) {
	if token == nil {
		c.clear(ctx)
		return
	}
	c.mu.Lock()
	changed := c.lastUID != token.UID
	c.lastUID = token.UID
	c.mu.Unlock()

	if changed {
		c.store.Dispatch(SetLoading())
	}
	c.reconciler.SetIdentity(ctx, token)
}

func (c *SessionController) clear(ctx context.Context) {
	c.mu.Lock()
	c.lastUID = ""
	c.mu.Unlock()
	c.reconciler.SetIdentity(ctx, nil)
	c.store.Dispatch(ClearAuth())
}

func (c *SessionController) onProfile(profile *UserProfile) {
	if profile == nil {
		return
	}
	c.store.Dispatch(SetUser(profile))
}

// onInactive ends the session first, then shows the blocking notice.
func (c *SessionController) onInactive(ctx context.Context, token IdentityToken) {
	_ = c.identity.SignOut(ctx)
	c.clear(ctx)
	notice := Notice{
		Title:   "Account disabled",
		Message: c.messages.For(CodeAccountDisabled),
	}
	go func() {
		c.notices.Acknowledge(context.WithoutCancel(ctx), notice)
		c.navigator.Navigate(PathLogin, true)
	}()
}
