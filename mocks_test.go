package auth_test

import (
	"context"
	"sync"

	auth "github.com/goliatone/go-studio-auth"
	"github.com/stretchr/testify/mock"
)

// MockProvider implements auth.IdentityProvider. Sign in calls go through
// testify; auth state listeners are real so tests can emit identities.
type MockProvider struct {
	mock.Mock

	mu        sync.Mutex
	listeners map[int]func(*auth.IdentityToken)
	nextID    int
	signOuts  int
}

func NewMockProvider() *MockProvider {
	return &MockProvider{listeners: map[int]func(*auth.IdentityToken){}}
}

func (m *MockProvider) SignInWithPassword(ctx context.Context, email, password string) (auth.IdentityToken, error) {
	args := m.Called(ctx, email, password)
	return args.Get(0).(auth.IdentityToken), args.Error(1)
}

func (m *MockProvider) SignInWithPopup(ctx context.Context, hint string) (auth.IdentityToken, error) {
	args := m.Called(ctx, hint)
	return args.Get(0).(auth.IdentityToken), args.Error(1)
}

func (m *MockProvider) SignInWithRedirect(ctx context.Context, hint string) error {
	args := m.Called(ctx, hint)
	return args.Error(0)
}

func (m *MockProvider) CompleteRedirect(ctx context.Context, callbackURL string) (auth.IdentityToken, error) {
	args := m.Called(ctx, callbackURL)
	return args.Get(0).(auth.IdentityToken), args.Error(1)
}

func (m *MockProvider) SendSignInLink(ctx context.Context, email string) error {
	args := m.Called(ctx, email)
	return args.Error(0)
}

func (m *MockProvider) IsSignInLink(link string) bool {
	return link != "" && link != "https://studio.test/plain"
}

func (m *MockProvider) SignInWithLink(ctx context.Context, email, link string) (auth.IdentityToken, error) {
	args := m.Called(ctx, email, link)
	return args.Get(0).(auth.IdentityToken), args.Error(1)
}

func (m *MockProvider) IDToken(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

// SignOut emits a nil identity like a real provider would.
func (m *MockProvider) SignOut(ctx context.Context) error {
	m.mu.Lock()
	m.signOuts++
	m.mu.Unlock()
	m.Emit(nil)
	return nil
}

func (m *MockProvider) SignOuts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.signOuts
}

func (m *MockProvider) OnAuthStateChanged(fn func(*auth.IdentityToken)) auth.Subscription {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	m.mu.Unlock()
	return auth.SubscriptionFunc(func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	})
}

func (m *MockProvider) Listeners() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.listeners)
}

func (m *MockProvider) Emit(token *auth.IdentityToken) {
	m.mu.Lock()
	fns := make([]func(*auth.IdentityToken), 0, len(m.listeners))
	for _, fn := range m.listeners {
		fns = append(fns, fn)
	}
	m.mu.Unlock()
	for _, fn := range fns {
		fn(token)
	}
}

// recordingSink captures activity events.
type recordingSink struct {
	mu     sync.Mutex
	events []auth.ActivityEvent
}

func (s *recordingSink) Record(_ context.Context, e auth.ActivityEvent) error {
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
	return nil
}

func (s *recordingSink) Types() []auth.ActivityEventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]auth.ActivityEventType, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.EventType)
	}
	return out
}

// quietLogger drops everything.
type quietLogger struct{}

func (quietLogger) Trace(string, ...any) {}
func (quietLogger) Debug(string, ...any) {}
func (quietLogger) Info(string, ...any)  {}
func (quietLogger) Warn(string, ...any)  {}
func (quietLogger) Error(string, ...any) {}
func (quietLogger) Fatal(string, ...any) {}

func (q quietLogger) WithContext(context.Context) auth.Logger { return q }

func providerErr(code string) error {
	return &auth.ProviderError{Provider: "test", Operation: "sign_in", Code: "auth/" + code, Message: code}
}
