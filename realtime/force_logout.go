package realtime

import (
	"context"
	"fmt"

	auth "github.com/goliatone/go-studio-auth"
)

// SignOuter ends the identity provider session.
type SignOuter interface {
	SignOut(ctx context.Context) error
}

// SessionEnder tears down the local session: the provider session, the live
// profile subscription and the session state. auth.SessionController
// implements it.
type SessionEnder interface {
	SignOut(ctx context.Context)
}

// ForceLogout ends the session when the backend revokes it. Session is
// preferred over Identity; with only Identity set, live profile listeners
// owned elsewhere keep running.
type ForceLogout struct {
	Store     *auth.SessionStore
	Session   SessionEnder
	Identity  SignOuter
	Notices   auth.Acknowledger
	Navigator auth.Navigator
	Messages  *auth.Messages
	Activity  auth.ActivitySink
	LoginPath string
	Logger    auth.Logger
}

// Handle acknowledges the notice, signs out, clears the session and
// navigates to the login page. Navigation happens even if sign-out fails
// or panics.
func (f *ForceLogout) Handle(ctx context.Context, payload ForceLogoutPayload) {
	logger := f.Logger
	if logger == nil {
		logger = auth.DefaultLogger("realtime.force_logout")
	}
	login := f.LoginPath
	if login == "" {
		login = auth.PathLogin
	}
	ctx = context.WithoutCancel(ctx)

	var uid string
	if f.Store != nil {
		uid, _ = f.Store.Snapshot().IdentityKey()
	}

	defer func() {
		if f.Navigator != nil {
			f.Navigator.Navigate(login, true)
		}
	}()

	if f.Notices != nil {
		f.Notices.Acknowledge(ctx, auth.Notice{
			Title:   "Session ended",
			Message: f.message(payload.Reason),
		})
	}

	if err := f.signOut(ctx); err != nil {
		logger.Warn("forced sign out failed", "uid", uid, "error", err)
	}
	if f.Store != nil {
		f.Store.Dispatch(auth.ClearAuth())
	}

	if f.Activity != nil {
		if err := f.Activity.Record(ctx, auth.ActivityEvent{
			EventType: auth.ActivityEventForcedLogout,
			UserID:    uid,
			Metadata:  map[string]any{"reason": payload.Reason},
		}); err != nil {
			logger.Warn("activity sink failed", "event", auth.ActivityEventForcedLogout, "error", err)
		}
	}
}

func (f *ForceLogout) signOut(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sign out panicked: %v", r)
		}
	}()
	switch {
	case f.Session != nil:
		f.Session.SignOut(ctx)
		return nil
	case f.Identity != nil:
		return f.Identity.SignOut(ctx)
	}
	return nil
}

func (f *ForceLogout) message(reason string) string {
	if reason != "" {
		return reason
	}
	if f.Messages != nil {
		return f.Messages.For(auth.CodeAccountDisabled)
	}
	return "Your session was ended by an administrator."
}
