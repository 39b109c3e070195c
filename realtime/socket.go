package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"

	auth "github.com/goliatone/go-studio-auth"
)

const closeTimeout = 2 * time.Second

// ErrNotConnected is returned by Emit while the socket has no live transport.
var ErrNotConnected = goerrors.New("realtime socket is not connected", goerrors.CategoryOperation).
	WithTextCode("REALTIME_NOT_CONNECTED")

// HeaderFunc builds the handshake headers for every (re)connection.
type HeaderFunc func(ctx context.Context) (http.Header, error)

// Handler receives the raw payload of an event.
type Handler func(data json.RawMessage)

type handlerEntry struct {
	id string
	fn Handler
}

type connectEntry struct {
	id string
	fn func(*Socket)
}

// Socket keeps one logical connection open across transport failures.
type Socket struct {
	endpoint   string
	transports []Transport
	header     HeaderFunc
	jar        http.CookieJar
	newBackOff func() backoff.BackOff
	logger     auth.Logger

	mu        sync.Mutex
	conn      Conn
	transport string
	handlers  map[string][]handlerEntry
	onConnect []connectEntry
	cancel    context.CancelFunc
	done      chan struct{}
	closed    bool

	sendMu sync.Mutex
}

// SocketOption configures a Socket.
type SocketOption func(*Socket)

// WithTransports sets the transport preference order.
func WithTransports(transports ...Transport) SocketOption {
	return func(s *Socket) {
		if len(transports) > 0 {
			s.transports = transports
		}
	}
}

// WithHeader sets the handshake header builder.
func WithHeader(fn HeaderFunc) SocketOption {
	return func(s *Socket) {
		s.header = fn
	}
}

// WithBearer authenticates the handshake with a fresh ID token.
func WithBearer(source auth.TokenSource) SocketOption {
	return WithHeader(func(ctx context.Context) (http.Header, error) {
		h := make(http.Header)
		if source == nil {
			return h, nil
		}
		token, err := source.IDToken(ctx)
		if err != nil {
			return nil, err
		}
		if token != "" {
			h.Set("Authorization", "Bearer "+token)
		}
		return h, nil
	})
}

// WithCookieJar sends the jar's cookies for the endpoint on every handshake.
func WithCookieJar(jar http.CookieJar) SocketOption {
	return func(s *Socket) {
		s.jar = jar
	}
}

// WithBackOff sets the reconnection policy factory.
func WithBackOff(fn func() backoff.BackOff) SocketOption {
	return func(s *Socket) {
		if fn != nil {
			s.newBackOff = fn
		}
	}
}

// WithSocketLogger sets the logger.
func WithSocketLogger(logger auth.Logger) SocketOption {
	return func(s *Socket) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewSocket creates a closed socket for endpoint.
func NewSocket(endpoint string, opts ...SocketOption) *Socket {
	s := &Socket{
		endpoint:   endpoint,
		transports: DefaultTransports(),
		newBackOff: defaultBackOff,
		logger:     auth.DefaultLogger("realtime.socket"),
		handlers:   make(map[string][]handlerEntry),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	return b
}

// Open starts the connection loop. Calling Open on an open or closed socket
// is a no-op.
func (s *Socket) Open(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil || s.closed {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.run(ctx, s.done)
}

// Close stops reconnecting and drops the live transport. A closed socket
// never opens again. It does not wait for the loop to exit, use Wait for that.
func (s *Socket) Close() {
	s.mu.Lock()
	s.closed = true
	cancel := s.cancel
	conn := s.conn
	s.conn = nil
	s.transport = ""
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close()
	}
}

// Wait blocks until the connection loop has exited.
func (s *Socket) Wait() {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Connected reports whether a transport is live.
func (s *Socket) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// Transport names the live transport, empty while disconnected.
func (s *Socket) Transport() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transport
}

// Emit sends an event. Events are never queued while disconnected.
func (s *Socket) Emit(event string, data any) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	frame, err := NewFrame(event, data)
	if err != nil {
		return err
	}
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if err := conn.Send(frame); err != nil {
		return connectionError(err, map[string]any{"event": event})
	}
	return nil
}

// On registers a handler for event.
func (s *Socket) On(event string, fn Handler) auth.Subscription {
	if fn == nil {
		return auth.SubscriptionFunc(nil)
	}
	id := uuid.NewString()
	s.mu.Lock()
	s.handlers[event] = append(s.handlers[event], handlerEntry{id: id, fn: fn})
	s.mu.Unlock()

	return auth.SubscriptionFunc(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		entries := s.handlers[event]
		for i, e := range entries {
			if e.id == id {
				s.handlers[event] = append(entries[:i:i], entries[i+1:]...)
				break
			}
		}
	})
}

// OnConnect registers fn to run after every successful (re)connection.
func (s *Socket) OnConnect(fn func(*Socket)) auth.Subscription {
	if fn == nil {
		return auth.SubscriptionFunc(nil)
	}
	id := uuid.NewString()
	s.mu.Lock()
	s.onConnect = append(s.onConnect, connectEntry{id: id, fn: fn})
	s.mu.Unlock()

	return auth.SubscriptionFunc(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, e := range s.onConnect {
			if e.id == id {
				s.onConnect = append(s.onConnect[:i:i], s.onConnect[i+1:]...)
				break
			}
		}
	})
}

func (s *Socket) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	policy := s.newBackOff()

	for {
		conn, name, err := s.dial(ctx)
		if err == nil {
			policy.Reset()
			if !s.attach(ctx, conn, name) {
				return
			}
			s.logger.Info("realtime connected", "transport", name, "endpoint", s.endpoint)
			s.connected()
			err = s.read(conn)
			s.detach(conn)
		}
		if ctx.Err() != nil {
			return
		}

		wait := policy.NextBackOff()
		if wait == backoff.Stop {
			s.logger.Error("realtime reconnection abandoned", "error", err)
			return
		}
		s.logger.Warn("realtime disconnected", "error", err, "retry_in", wait)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (s *Socket) dial(ctx context.Context) (Conn, string, error) {
	header, err := s.handshakeHeader(ctx)
	if err != nil {
		return nil, "", connectionError(err, map[string]any{"stage": "credentials"})
	}

	var last error
	for _, t := range s.transports {
		conn, err := t.Dial(ctx, s.endpoint, header)
		if err == nil {
			return conn, t.Name(), nil
		}
		if ctx.Err() != nil {
			return nil, "", ctx.Err()
		}
		s.logger.Debug("realtime transport failed", "transport", t.Name(), "error", err)
		last = err
	}
	return nil, "", connectionError(last, map[string]any{"endpoint": s.endpoint})
}

func (s *Socket) handshakeHeader(ctx context.Context) (http.Header, error) {
	header := make(http.Header)
	if s.header != nil {
		h, err := s.header(ctx)
		if err != nil {
			return nil, err
		}
		for k, v := range h {
			header[k] = v
		}
	}
	if s.jar != nil {
		if u, err := url.Parse(s.endpoint); err == nil {
			req := &http.Request{Header: make(http.Header)}
			for _, c := range s.jar.Cookies(u) {
				req.AddCookie(c)
			}
			if v := req.Header.Get("Cookie"); v != "" {
				header.Set("Cookie", v)
			}
		}
	}
	return header, nil
}

// attach publishes conn unless the socket was closed while dialing.
func (s *Socket) attach(ctx context.Context, conn Conn, name string) bool {
	s.mu.Lock()
	if ctx.Err() != nil {
		s.mu.Unlock()
		conn.Close()
		return false
	}
	s.conn = conn
	s.transport = name
	s.mu.Unlock()
	return true
}

func (s *Socket) detach(conn Conn) {
	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
		s.transport = ""
	}
	s.mu.Unlock()
	conn.Close()
}

func (s *Socket) connected() {
	s.mu.Lock()
	hooks := make([]connectEntry, len(s.onConnect))
	copy(hooks, s.onConnect)
	s.mu.Unlock()
	for _, h := range hooks {
		h.fn(s)
	}
}

func (s *Socket) read(conn Conn) error {
	for {
		frame, err := conn.Receive()
		if err != nil {
			return err
		}
		s.dispatch(frame)
	}
}

func (s *Socket) dispatch(frame Frame) {
	s.mu.Lock()
	entries := make([]handlerEntry, len(s.handlers[frame.Event]))
	copy(entries, s.handlers[frame.Event])
	s.mu.Unlock()

	if len(entries) == 0 {
		s.logger.Trace("realtime event without handler", "event", frame.Event)
		return
	}
	for _, e := range entries {
		e.fn(frame.Data)
	}
}

func connectionError(source error, meta map[string]any) error {
	rich := auth.ErrRealtimeConnection.Clone()
	if rich == nil {
		return source
	}
	rich.Source = source
	if len(meta) > 0 {
		rich.WithMetadata(meta)
	}
	return rich
}
