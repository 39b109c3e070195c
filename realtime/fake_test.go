package realtime_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	auth "github.com/goliatone/go-studio-auth"
	"github.com/goliatone/go-studio-auth/realtime"
)

const waitFor = 2 * time.Second

type quietLogger struct{}

func (quietLogger) Trace(string, ...any)                      {}
func (quietLogger) Debug(string, ...any)                      {}
func (quietLogger) Info(string, ...any)                       {}
func (quietLogger) Warn(string, ...any)                       {}
func (quietLogger) Error(string, ...any)                      {}
func (quietLogger) Fatal(string, ...any)                      {}
func (l quietLogger) WithContext(context.Context) auth.Logger { return l }

// fakeTransport hands out in-memory connections and records every dial.
type fakeTransport struct {
	mu      sync.Mutex
	fail    bool
	conns   chan *fakeConn
	headers []http.Header
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{conns: make(chan *fakeConn, 16)}
}

func (t *fakeTransport) Name() string { return "fake" }

func (t *fakeTransport) Dial(_ context.Context, _ string, header http.Header) (realtime.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.headers = append(t.headers, header)
	if t.fail {
		return nil, errors.New("refused")
	}
	c := &fakeConn{
		sent:   make(chan realtime.Frame, 16),
		inbox:  make(chan realtime.Frame, 16),
		closed: make(chan struct{}),
	}
	t.conns <- c
	return c, nil
}

func (t *fakeTransport) setFail(v bool) {
	t.mu.Lock()
	t.fail = v
	t.mu.Unlock()
}

func (t *fakeTransport) dialHeaders() []http.Header {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]http.Header(nil), t.headers...)
}

type fakeConn struct {
	sent   chan realtime.Frame
	inbox  chan realtime.Frame
	closed chan struct{}
	once   sync.Once
}

func (c *fakeConn) Send(f realtime.Frame) error {
	select {
	case <-c.closed:
		return io.ErrClosedPipe
	default:
	}
	c.sent <- f
	return nil
}

func (c *fakeConn) Receive() (realtime.Frame, error) {
	select {
	case f := <-c.inbox:
		return f, nil
	case <-c.closed:
		return realtime.Frame{}, io.EOF
	}
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeConn) push(event string, data any) {
	f, err := realtime.NewFrame(event, data)
	if err != nil {
		panic(err)
	}
	c.inbox <- f
}

func fastBackOff() backoff.BackOff {
	return &backoff.ConstantBackOff{Interval: 5 * time.Millisecond}
}

func socketOptions(t *fakeTransport) []realtime.SocketOption {
	return []realtime.SocketOption{
		realtime.WithTransports(t),
		realtime.WithBackOff(fastBackOff),
		realtime.WithSocketLogger(quietLogger{}),
	}
}

// stuckProvider is an identity provider whose sign out fails without ever
// reporting the identity loss.
type stuckProvider struct {
	mu       sync.Mutex
	listener func(*auth.IdentityToken)
	signOuts int
	err      error
	panic    bool
}

func (p *stuckProvider) SignInWithPassword(context.Context, string, string) (auth.IdentityToken, error) {
	return auth.IdentityToken{}, errors.New("not used")
}

func (p *stuckProvider) SignInWithPopup(context.Context, string) (auth.IdentityToken, error) {
	return auth.IdentityToken{}, errors.New("not used")
}

func (p *stuckProvider) SignInWithRedirect(context.Context, string) error { return nil }

func (p *stuckProvider) SendSignInLink(context.Context, string) error { return nil }

func (p *stuckProvider) IsSignInLink(string) bool { return false }

func (p *stuckProvider) SignInWithLink(context.Context, string, string) (auth.IdentityToken, error) {
	return auth.IdentityToken{}, errors.New("not used")
}

func (p *stuckProvider) OnAuthStateChanged(fn func(*auth.IdentityToken)) auth.Subscription {
	p.mu.Lock()
	p.listener = fn
	p.mu.Unlock()
	return auth.SubscriptionFunc(func() {
		p.mu.Lock()
		p.listener = nil
		p.mu.Unlock()
	})
}

func (p *stuckProvider) IDToken(context.Context) (string, error) { return "", nil }

func (p *stuckProvider) SignOut(context.Context) error {
	p.mu.Lock()
	p.signOuts++
	p.mu.Unlock()
	if p.panic {
		panic("provider exploded")
	}
	return p.err
}

func (p *stuckProvider) emit(token *auth.IdentityToken) {
	p.mu.Lock()
	fn := p.listener
	p.mu.Unlock()
	if fn != nil {
		fn(token)
	}
}

func (p *stuckProvider) SignOuts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.signOuts
}
