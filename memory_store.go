package auth

import (
	"context"
	"maps"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// MemoryProfileStore is an in process ProfileStore. Watchers are called
// synchronously after each write, outside the store lock.
type MemoryProfileStore struct {
	mu       sync.Mutex
	docs     map[string]map[string]any
	watchers map[string]map[string]func(Document, error)
	failures map[string]error
}

// NewMemoryProfileStore returns an empty store.
func NewMemoryProfileStore() *MemoryProfileStore {
	return &MemoryProfileStore{
		docs:     map[string]map[string]any{},
		watchers: map[string]map[string]func(Document, error){},
		failures: map[string]error{},
	}
}

// FailWith makes every operation on id return err. A nil err clears it.
func (s *MemoryProfileStore) FailWith(id string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, id)
		return
	}
	s.failures[id] = err
}

func (s *MemoryProfileStore) Get(_ context.Context, id string) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failures[id]; err != nil {
		return Document{}, err
	}
	return s.doc(id), nil
}

func (s *MemoryProfileStore) FindByEmail(_ context.Context, email string) ([]Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Document
	for id, data := range s.docs {
		if e, _ := data[FieldEmail].(string); strings.EqualFold(e, email) {
			out = append(out, s.doc(id))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryProfileStore) Set(_ context.Context, id string, data map[string]any) error {
	s.mu.Lock()
	if err := s.failures[id]; err != nil {
		s.mu.Unlock()
		return err
	}
	s.docs[id] = maps.Clone(data)
	doc, watchers := s.doc(id), s.watchersFor(id)
	s.mu.Unlock()
	notify(watchers, doc)
	return nil
}

func (s *MemoryProfileStore) Merge(_ context.Context, id string, data map[string]any) error {
	s.mu.Lock()
	if err := s.failures[id]; err != nil {
		s.mu.Unlock()
		return err
	}
	current, ok := s.docs[id]
	if !ok {
		current = map[string]any{}
	}
	current = maps.Clone(current)
	maps.Copy(current, data)
	s.docs[id] = current
	doc, watchers := s.doc(id), s.watchersFor(id)
	s.mu.Unlock()
	notify(watchers, doc)
	return nil
}

func (s *MemoryProfileStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	if err := s.failures[id]; err != nil {
		s.mu.Unlock()
		return err
	}
	delete(s.docs, id)
	doc, watchers := s.doc(id), s.watchersFor(id)
	s.mu.Unlock()
	notify(watchers, doc)
	return nil
}

// Watch sends the current document right away, then every change.
func (s *MemoryProfileStore) Watch(_ context.Context, id string, fn func(Document, error)) (Subscription, error) {
	key := uuid.NewString()
	s.mu.Lock()
	if err := s.failures[id]; err != nil {
		s.mu.Unlock()
		fn(Document{}, err)
		return SubscriptionFunc(nil), nil
	}
	if s.watchers[id] == nil {
		s.watchers[id] = map[string]func(Document, error){}
	}
	s.watchers[id][key] = fn
	doc := s.doc(id)
	s.mu.Unlock()

	fn(doc, nil)

	return SubscriptionFunc(func() {
		s.mu.Lock()
		delete(s.watchers[id], key)
		s.mu.Unlock()
	}), nil
}

// Len returns the number of stored documents.
func (s *MemoryProfileStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.docs)
}

func (s *MemoryProfileStore) doc(id string) Document {
	data, ok := s.docs[id]
	if !ok {
		return Document{ID: id}
	}
	return Document{ID: id, Data: maps.Clone(data), Exists: true}
}

func (s *MemoryProfileStore) watchersFor(id string) []func(Document, error) {
	out := make([]func(Document, error), 0, len(s.watchers[id]))
	for _, fn := range s.watchers[id] {
		out = append(out, fn)
	}
	return out
}

func notify(watchers []func(Document, error), doc Document) {
	for _, fn := range watchers {
		fn(doc, nil)
	}
}
