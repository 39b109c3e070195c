package realtime

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"

	auth "github.com/goliatone/go-studio-auth"
)

// Manager owns the single realtime connection of a session. The connection
// follows the session's (uid, role) pair and nothing else.
type Manager struct {
	endpoint    string
	socketOpts  []SocketOption
	forceLogout *ForceLogout
	logger      auth.Logger

	mu        sync.Mutex
	uid       string
	role      auth.Role
	socket    *Socket
	listeners map[string][]handlerEntry
	dials     int
	sub       auth.Subscription
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithManagerLogger sets the logger.
func WithManagerLogger(logger auth.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithSocketOptions are applied to every socket the manager opens.
func WithSocketOptions(opts ...SocketOption) ManagerOption {
	return func(m *Manager) {
		m.socketOpts = append(m.socketOpts, opts...)
	}
}

// WithForceLogout sets the handler for force-logout events.
func WithForceLogout(f *ForceLogout) ManagerOption {
	return func(m *Manager) {
		m.forceLogout = f
	}
}

// NewManager creates a manager for endpoint.
func NewManager(endpoint string, opts ...ManagerOption) *Manager {
	m := &Manager{
		endpoint:  endpoint,
		logger:    auth.DefaultLogger("realtime.manager"),
		listeners: make(map[string][]handlerEntry),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// Bind follows store. The returned subscription unbinds and disconnects.
func (m *Manager) Bind(ctx context.Context, store *auth.SessionStore) auth.Subscription {
	sub := store.Subscribe(func(state auth.SessionState) {
		m.apply(ctx, state)
	})
	m.mu.Lock()
	prev := m.sub
	m.sub = sub
	m.mu.Unlock()
	if prev != nil {
		prev.Cancel()
	}

	m.apply(ctx, store.Snapshot())

	return auth.SubscriptionFunc(func() {
		sub.Cancel()
		m.Close()
	})
}

func (m *Manager) apply(ctx context.Context, state auth.SessionState) {
	uid, role := state.IdentityKey()

	m.mu.Lock()
	if uid == m.uid && role == m.role {
		m.mu.Unlock()
		return
	}
	old := m.socket
	m.uid, m.role = uid, role
	m.socket = nil

	var next *Socket
	if uid != "" {
		next = NewSocket(m.endpoint, m.socketOpts...)
		m.wire(ctx, next, uid, role)
		m.socket = next
		m.dials++
	}
	m.mu.Unlock()

	if old != nil {
		old.Close()
		m.logger.Debug("realtime socket closed", "reason", "identity changed")
	}
	if next != nil {
		m.logger.Info("realtime socket opening", "uid", uid, "role", role)
		next.Open(ctx)
	}
}

func (m *Manager) wire(ctx context.Context, s *Socket, uid string, role auth.Role) {
	rooms := Rooms(uid, string(role))
	s.OnConnect(func(s *Socket) {
		for _, room := range rooms {
			if err := s.Emit(EventJoinRoom, room); err != nil {
				m.logger.Warn("join room failed", "room", room, "error", err)
			}
		}
	})

	for _, event := range DomainEvents {
		s.On(event, func(data json.RawMessage) {
			m.deliver(event, data)
		})
	}

	s.On(EventForceLogout, func(data json.RawMessage) {
		var payload ForceLogoutPayload
		if len(data) > 0 {
			if err := json.Unmarshal(data, &payload); err != nil {
				m.logger.Warn("force-logout payload unreadable", "error", err)
			}
		}
		m.deliver(EventForceLogout, data)
		if m.forceLogout != nil {
			go m.forceLogout.Handle(ctx, payload)
		}
	})
}

func (m *Manager) deliver(event string, data json.RawMessage) {
	m.mu.Lock()
	entries := make([]handlerEntry, len(m.listeners[event]))
	copy(entries, m.listeners[event])
	m.mu.Unlock()
	for _, e := range entries {
		e.fn(data)
	}
}

// On registers fn for event across reconnections and identity changes.
func (m *Manager) On(event string, fn Handler) auth.Subscription {
	if fn == nil {
		return auth.SubscriptionFunc(nil)
	}
	id := uuid.NewString()
	m.mu.Lock()
	m.listeners[event] = append(m.listeners[event], handlerEntry{id: id, fn: fn})
	m.mu.Unlock()

	return auth.SubscriptionFunc(func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		entries := m.listeners[event]
		for i, e := range entries {
			if e.id == id {
				m.listeners[event] = append(entries[:i:i], entries[i+1:]...)
				break
			}
		}
	})
}

// Emit sends through the current socket.
func (m *Manager) Emit(event string, data any) error {
	s := m.Socket()
	if s == nil {
		return ErrNotConnected
	}
	return s.Emit(event, data)
}

// Connected mirrors the current socket state.
func (m *Manager) Connected() bool {
	s := m.Socket()
	return s != nil && s.Connected()
}

// Socket returns the socket for the current identity, nil when signed out.
func (m *Manager) Socket() *Socket {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.socket
}

// Dials counts the sockets opened so far.
func (m *Manager) Dials() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dials
}

// Close disconnects and forgets the current identity.
func (m *Manager) Close() {
	m.mu.Lock()
	s := m.socket
	m.socket = nil
	m.uid, m.role = "", ""
	m.mu.Unlock()
	if s != nil {
		s.Close()
	}
}
