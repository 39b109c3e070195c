package auth

import (
	"context"
	"sync"
	"time"
)

// MemoryLinkStorage keeps the pending passwordless email in process.
type MemoryLinkStorage struct {
	mu    sync.Mutex
	email string
}

func (s *MemoryLinkStorage) SaveEmail(email string) {
	s.mu.Lock()
	s.email = email
	s.mu.Unlock()
}

func (s *MemoryLinkStorage) Email() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.email
}

func (s *MemoryLinkStorage) ClearEmail() {
	s.mu.Lock()
	s.email = ""
	s.mu.Unlock()
}

// MemoryLinkClaims is an in process LinkClaims with a claim TTL.
type MemoryLinkClaims struct {
	mu     sync.Mutex
	ttl    time.Duration
	now    func() time.Time
	claims map[string]time.Time
}

// NewMemoryLinkClaims returns claims that expire after ttl (zero means never).
func NewMemoryLinkClaims(ttl time.Duration) *MemoryLinkClaims {
	return &MemoryLinkClaims{
		ttl:    ttl,
		now:    time.Now,
		claims: map[string]time.Time{},
	}
}

// Claim returns true for the first caller of a link.
func (c *MemoryLinkClaims) Claim(_ context.Context, link string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if at, ok := c.claims[link]; ok {
		if c.ttl <= 0 || c.now().Sub(at) < c.ttl {
			return false, nil
		}
	}
	c.claims[link] = c.now()
	return true, nil
}

// Release frees a claim so the link can be retried.
func (c *MemoryLinkClaims) Release(_ context.Context, link string) error {
	c.mu.Lock()
	delete(c.claims, link)
	c.mu.Unlock()
	return nil
}
