package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/uptrace/bun"

	"github.com/goliatone/go-studio-auth/provider/firebase"
)

// ProviderSessionModel is the Bun model for a persisted provider session.
type ProviderSessionModel struct {
	bun.BaseModel `bun:"table:provider_sessions"`

	Name      string    `bun:"name,pk"`
	Payload   string    `bun:"payload,notnull"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
}

// SessionPersistence implements firebase.Persistence in a SQL table, one
// row per named client.
type SessionPersistence struct {
	db   *bun.DB
	name string
}

func NewSessionPersistence(db *bun.DB, name string) *SessionPersistence {
	if name == "" {
		name = "default"
	}
	return &SessionPersistence{db: db, name: name}
}

func (p *SessionPersistence) Load(ctx context.Context) (*firebase.Session, error) {
	var model ProviderSessionModel
	err := p.db.NewSelect().
		Model(&model).
		Where("name = ?", p.name).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var session firebase.Session
	if err := json.Unmarshal([]byte(model.Payload), &session); err != nil {
		return nil, err
	}
	return &session, nil
}

func (p *SessionPersistence) Save(ctx context.Context, session *firebase.Session) error {
	if session == nil {
		return p.Clear(ctx)
	}
	payload, err := json.Marshal(session)
	if err != nil {
		return err
	}
	_, err = p.db.NewInsert().
		Model(&ProviderSessionModel{Name: p.name, Payload: string(payload), UpdatedAt: time.Now().UTC()}).
		On("CONFLICT (name) DO UPDATE").
		Set("payload = EXCLUDED.payload").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return err
}

func (p *SessionPersistence) Clear(ctx context.Context) error {
	_, err := p.db.NewDelete().
		Model((*ProviderSessionModel)(nil)).
		Where("name = ?", p.name).
		Exec(ctx)
	return err
}
