package firebase

import (
	"context"
	"sync"
	"time"

	auth "github.com/goliatone/go-studio-auth"
)

// Session is the persisted provider session.
type Session struct {
	IDToken      string             `json:"id_token"`
	RefreshToken string             `json:"refresh_token"`
	ExpiresAt    time.Time          `json:"expires_at"`
	Identity     auth.IdentityToken `json:"identity"`
}

func (s *Session) clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	if s.Identity.Claims != nil {
		out.Identity.Claims = make(map[string]any, len(s.Identity.Claims))
		for k, v := range s.Identity.Claims {
			out.Identity.Claims[k] = v
		}
	}
	return &out
}

// Persistence stores the session across restarts. Load returns nil, nil
// when nothing is stored.
type Persistence interface {
	Load(ctx context.Context) (*Session, error)
	Save(ctx context.Context, session *Session) error
	Clear(ctx context.Context) error
}

// MemoryPersistence keeps the session for the life of the process.
type MemoryPersistence struct {
	mu      sync.Mutex
	session *Session
}

func NewMemoryPersistence() *MemoryPersistence {
	return &MemoryPersistence{}
}

func (m *MemoryPersistence) Load(context.Context) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.clone(), nil
}

func (m *MemoryPersistence) Save(_ context.Context, session *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = session.clone()
	return nil
}

func (m *MemoryPersistence) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = nil
	return nil
}
