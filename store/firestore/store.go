// Package firestore stores user profile documents in Cloud Firestore.
package firestore

import (
	"context"
	"errors"
	"sort"
	"strings"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	auth "github.com/goliatone/go-studio-auth"
)

const DefaultCollection = "users"

// Store is an auth.ProfileStore over one Firestore collection.
type Store struct {
	client     *firestore.Client
	collection string
	logger     auth.Logger
}

// Option configures a Store.
type Option func(*Store)

func WithCollection(name string) Option {
	return func(s *Store) {
		if name != "" {
			s.collection = name
		}
	}
}

func WithLogger(logger auth.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func New(client *firestore.Client, opts ...Option) *Store {
	s := &Store{
		client:     client,
		collection: DefaultCollection,
		logger:     auth.DefaultLogger("firestore.profiles"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *Store) doc(id string) *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(id)
}

func (s *Store) Get(ctx context.Context, id string) (auth.Document, error) {
	snap, err := s.doc(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return auth.Document{ID: id}, nil
	}
	if err != nil {
		return auth.Document{}, mapError(err, "get", id)
	}
	return fromSnapshot(id, snap), nil
}

// FindByEmail matches the normalized address and the address as given,
// since older documents kept the casing the user typed.
func (s *Store) FindByEmail(ctx context.Context, email string) ([]auth.Document, error) {
	variants := emailVariants(email)
	if len(variants) == 0 {
		return nil, nil
	}
	snaps, err := s.client.Collection(s.collection).
		Where(auth.FieldEmail, "in", variants).
		Documents(ctx).
		GetAll()
	if err != nil {
		return nil, mapError(err, "find_by_email", "")
	}
	docs := make([]auth.Document, 0, len(snaps))
	for _, snap := range snaps {
		docs = append(docs, fromSnapshot(snap.Ref.ID, snap))
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return docs, nil
}

func (s *Store) Set(ctx context.Context, id string, data map[string]any) error {
	if _, err := s.doc(id).Set(ctx, data); err != nil {
		return mapError(err, "set", id)
	}
	return nil
}

func (s *Store) Merge(ctx context.Context, id string, data map[string]any) error {
	if _, err := s.doc(id).Set(ctx, data, firestore.MergeAll); err != nil {
		return mapError(err, "merge", id)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.doc(id).Delete(ctx); err != nil {
		return mapError(err, "delete", id)
	}
	return nil
}

// Watch streams snapshots of one document until the subscription is
// cancelled. The stream ends after the first error.
func (s *Store) Watch(ctx context.Context, id string, fn func(auth.Document, error)) (auth.Subscription, error) {
	ctx, cancel := context.WithCancel(ctx)
	it := s.doc(id).Snapshots(ctx)

	go func() {
		defer it.Stop()
		for {
			snap, err := it.Next()
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				if errors.Is(err, iterator.Done) || status.Code(err) == codes.Canceled {
					return
				}
				fn(auth.Document{}, mapError(err, "watch", id))
				return
			}
			fn(fromSnapshot(id, snap), nil)
		}
	}()

	return auth.SubscriptionFunc(cancel), nil
}

func fromSnapshot(id string, snap *firestore.DocumentSnapshot) auth.Document {
	if snap == nil || !snap.Exists() {
		return auth.Document{ID: id}
	}
	return auth.Document{ID: id, Data: snap.Data(), Exists: true}
}

func emailVariants(email string) []string {
	raw := strings.TrimSpace(email)
	norm := auth.NormalizeEmail(email)
	switch {
	case norm == "":
		return nil
	case raw == norm:
		return []string{norm}
	default:
		return []string{norm, raw}
	}
}

// mapError translates gRPC status codes into profile store errors.
func mapError(err error, op, id string) error {
	meta := map[string]any{"operation": op}
	if id != "" {
		meta["document"] = id
	}
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated:
		return auth.StoreError(auth.ErrPermissionDenied, err, meta)
	case codes.NotFound:
		return auth.StoreError(auth.ErrProfileNotFound, err, meta)
	default:
		return auth.StoreError(auth.ErrStoreTransient, err, meta)
	}
}
