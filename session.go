package auth

import (
	"sync"

	"github.com/google/uuid"
)

// Status tracks how far identity and profile resolution got.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusLoading   Status = "loading"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Resolved reports whether resolution finished, with or without a user.
// Idle and loading are never treated as failed.
func (s Status) Resolved() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// SessionState is an immutable snapshot of the session.
type SessionState struct {
	User   *UserProfile `json:"user"`
	Status Status       `json:"status"`
	// RedirectTarget is empty when there is no user.
	RedirectTarget string `json:"redirectTarget,omitempty"`
}

// InitialSessionState is the state at application start.
func InitialSessionState() SessionState {
	return SessionState{Status: StatusIdle}
}

// Authenticated reports whether a user is present.
func (s SessionState) Authenticated() bool {
	return s.User != nil
}

// IdentityKey is the (uid, role) pair realtime connections are keyed on.
func (s SessionState) IdentityKey() (uid string, role Role) {
	if s.User == nil {
		return "", ""
	}
	return s.User.UID, s.User.Role
}

// ActionType enumerates session actions.
type ActionType string

const (
	ActionSetUser    ActionType = "SET_USER"
	ActionClearAuth  ActionType = "CLEAR_AUTH"
	ActionSetLoading ActionType = "SET_LOADING"
)

// Action is dispatched to the SessionStore.
type Action struct {
	Type ActionType
	User *UserProfile
}

// SetUser sets the user (nil allowed) and marks resolution succeeded.
func SetUser(profile *UserProfile) Action {
	return Action{Type: ActionSetUser, User: profile}
}

// ClearAuth drops the user and marks resolution failed.
func ClearAuth() Action {
	return Action{Type: ActionClearAuth}
}

// SetLoading marks resolution in flight.
func SetLoading() Action {
	return Action{Type: ActionSetLoading}
}

// Reduce applies an action to a state. It never mutates its input.
func Reduce(state SessionState, action Action) SessionState {
	switch action.Type {
	case ActionSetUser:
		user := action.User.Clone()
		return SessionState{
			User:           user,
			Status:         StatusSucceeded,
			RedirectTarget: RedirectFor(user),
		}
	case ActionClearAuth:
		return SessionState{Status: StatusFailed}
	case ActionSetLoading:
		next := state
		next.Status = StatusLoading
		return next
	default:
		return state
	}
}

// SessionListener receives the new state after every dispatch.
type SessionListener func(state SessionState)

// SessionStore holds the process wide session. Create one per application
// and pass it down; there is no package level instance.
type SessionStore struct {
	mu        sync.Mutex
	state     SessionState
	listeners map[string]SessionListener
	order     []string
	pending   []SessionState
	notifying bool
}

// NewSessionStore returns a store in the idle state.
func NewSessionStore() *SessionStore {
	return &SessionStore{
		state:     InitialSessionState(),
		listeners: map[string]SessionListener{},
	}
}

// Snapshot returns a copy of the current state.
func (s *SessionStore) Snapshot() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyState(s.state)
}

// Dispatch reduces the action and notifies listeners in subscription order.
// Notifications are delivered one state at a time; a dispatch issued from a
// listener is queued behind the current one.
func (s *SessionStore) Dispatch(action Action) SessionState {
	s.mu.Lock()
	s.state = Reduce(s.state, action)
	next := copyState(s.state)
	s.pending = append(s.pending, next)
	if s.notifying {
		s.mu.Unlock()
		return next
	}
	s.notifying = true

	for len(s.pending) > 0 {
		state := s.pending[0]
		s.pending = s.pending[1:]
		listeners := make([]SessionListener, 0, len(s.order))
		for _, id := range s.order {
			if l, ok := s.listeners[id]; ok {
				listeners = append(listeners, l)
			}
		}
		s.mu.Unlock()
		for _, l := range listeners {
			l(copyState(state))
		}
		s.mu.Lock()
	}
	s.notifying = false
	s.mu.Unlock()
	return next
}

// Subscribe registers a listener. The returned subscription removes it.
func (s *SessionStore) Subscribe(fn SessionListener) Subscription {
	if fn == nil {
		return SubscriptionFunc(nil)
	}
	id := uuid.NewString()

	s.mu.Lock()
	s.listeners[id] = fn
	s.order = append(s.order, id)
	s.mu.Unlock()

	return SubscriptionFunc(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
		for i, v := range s.order {
			if v == id {
				s.order = append(s.order[:i:i], s.order[i+1:]...)
				break
			}
		}
	})
}

func copyState(s SessionState) SessionState {
	out := s
	out.User = s.User.Clone()
	return out
}
