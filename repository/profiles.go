package repository

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	auth "github.com/goliatone/go-studio-auth"
)

// ProfileDocumentModel is the Bun model for profile documents.
type ProfileDocumentModel struct {
	bun.BaseModel `bun:"table:profile_documents"`

	ID        string         `bun:"id,pk"`
	Email     string         `bun:"email"`
	Data      map[string]any `bun:"data,type:jsonb"`
	UpdatedAt time.Time      `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type profileWatcher struct {
	docID string
	fn    func(auth.Document, error)
}

// ProfileDocuments implements auth.ProfileStore on a SQL table. Watchers
// see writes made through this instance only.
type ProfileDocuments struct {
	db     *bun.DB
	logger auth.Logger

	mu       sync.Mutex
	watchers map[string]profileWatcher
}

// NewProfileDocuments creates a new repository.
func NewProfileDocuments(db *bun.DB, logger auth.Logger) *ProfileDocuments {
	if logger == nil {
		logger = auth.DefaultLogger("repository.profiles")
	}
	return &ProfileDocuments{
		db:       db,
		logger:   logger,
		watchers: make(map[string]profileWatcher),
	}
}

func (r *ProfileDocuments) Get(ctx context.Context, id string) (auth.Document, error) {
	return r.get(ctx, r.db, id)
}

func (r *ProfileDocuments) get(ctx context.Context, db bun.IDB, id string) (auth.Document, error) {
	var model ProfileDocumentModel
	err := db.NewSelect().
		Model(&model).
		Where("id = ?", id).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Document{ID: id}, nil
	}
	if err != nil {
		return auth.Document{}, storeError(err, "get", id)
	}
	return auth.Document{ID: model.ID, Data: model.Data, Exists: true}, nil
}

func (r *ProfileDocuments) FindByEmail(ctx context.Context, email string) ([]auth.Document, error) {
	norm := auth.NormalizeEmail(email)
	if norm == "" {
		return nil, nil
	}
	var models []ProfileDocumentModel
	err := r.db.NewSelect().
		Model(&models).
		Where("email = ?", norm).
		Order("id ASC").
		Scan(ctx)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, storeError(err, "find_by_email", "")
	}
	docs := make([]auth.Document, 0, len(models))
	for _, m := range models {
		docs = append(docs, auth.Document{ID: m.ID, Data: m.Data, Exists: true})
	}
	return docs, nil
}

func (r *ProfileDocuments) Set(ctx context.Context, id string, data map[string]any) error {
	if err := r.upsert(ctx, r.db, id, copyData(data)); err != nil {
		return err
	}
	r.notify(ctx, id)
	return nil
}

func (r *ProfileDocuments) Merge(ctx context.Context, id string, data map[string]any) error {
	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		current, err := r.get(ctx, tx, id)
		if err != nil {
			return err
		}
		merged := copyData(current.Data)
		for k, v := range data {
			merged[k] = v
		}
		return r.upsert(ctx, tx, id, merged)
	})
	if err != nil {
		return storeError(err, "merge", id)
	}
	r.notify(ctx, id)
	return nil
}

func (r *ProfileDocuments) Delete(ctx context.Context, id string) error {
	_, err := r.db.NewDelete().
		Model((*ProfileDocumentModel)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return storeError(err, "delete", id)
	}
	r.notify(ctx, id)
	return nil
}

// Watch delivers the current document, then the document after every write
// to it.
func (r *ProfileDocuments) Watch(ctx context.Context, id string, fn func(auth.Document, error)) (auth.Subscription, error) {
	key := uuid.NewString()
	r.mu.Lock()
	r.watchers[key] = profileWatcher{docID: id, fn: fn}
	r.mu.Unlock()

	sub := auth.SubscriptionFunc(func() {
		r.mu.Lock()
		delete(r.watchers, key)
		r.mu.Unlock()
	})

	doc, err := r.Get(ctx, id)
	if err != nil {
		sub.Cancel()
		fn(auth.Document{}, err)
		return sub, nil
	}
	fn(doc, nil)
	return sub, nil
}

func (r *ProfileDocuments) upsert(ctx context.Context, db bun.IDB, id string, data map[string]any) error {
	email, _ := data[auth.FieldEmail].(string)
	model := &ProfileDocumentModel{
		ID:        id,
		Email:     auth.NormalizeEmail(email),
		Data:      data,
		UpdatedAt: time.Now().UTC(),
	}
	_, err := db.NewInsert().
		Model(model).
		On("CONFLICT (id) DO UPDATE").
		Set("email = EXCLUDED.email").
		Set("data = EXCLUDED.data").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return storeError(err, "set", id)
	}
	return nil
}

func (r *ProfileDocuments) notify(ctx context.Context, id string) {
	r.mu.Lock()
	var fns []func(auth.Document, error)
	for _, w := range r.watchers {
		if w.docID == id {
			fns = append(fns, w.fn)
		}
	}
	r.mu.Unlock()
	if len(fns) == 0 {
		return
	}

	doc, err := r.Get(context.WithoutCancel(ctx), id)
	if err != nil {
		r.logger.Warn("profile watch refresh failed", "document", id, "error", err)
	}
	for _, fn := range fns {
		fn(doc, err)
	}
}

func copyData(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = v
	}
	return out
}

func storeError(err error, op, id string) error {
	if auth.StoreErrorKindOf(err) != auth.StoreKindTransient || auth.HasTextCode(err, auth.TextCodeStoreTransient) {
		return err
	}
	meta := map[string]any{"operation": op}
	if id != "" {
		meta["document"] = id
	}
	return auth.StoreError(auth.ErrStoreTransient, err, meta)
}
