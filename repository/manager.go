package repository

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"time"

	"github.com/uptrace/bun"

	auth "github.com/goliatone/go-studio-auth"
)

// Manager groups the SQL backed stores of one database.
type Manager struct {
	db         *bun.DB
	profiles   *ProfileDocuments
	linkClaims *LinkClaims
	sessions   *SessionPersistence
}

func NewManager(db *bun.DB, claimTTL time.Duration, logger auth.Logger) *Manager {
	return &Manager{
		db:         db,
		profiles:   NewProfileDocuments(db, logger),
		linkClaims: NewLinkClaims(db, claimTTL),
		sessions:   NewSessionPersistence(db, ""),
	}
}

func (m *Manager) Validate() error {
	if m.db == nil {
		return errors.New("repository db should be initialized")
	}
	if m.profiles == nil {
		return errors.New("repository profiles should be initialized")
	}
	if m.linkClaims == nil {
		return errors.New("repository link claims should be initialized")
	}
	return nil
}

func (m *Manager) MustValidate() {
	if err := m.Validate(); err != nil {
		log.Panic(err)
	}
}

func (m *Manager) Migrate(ctx context.Context) error {
	return Migrate(ctx, m.db)
}

func (m *Manager) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return m.db.RunInTx(ctx, opts, f)
	}
}

func (m *Manager) Profiles() *ProfileDocuments { return m.profiles }

func (m *Manager) LinkClaims() *LinkClaims { return m.linkClaims }

func (m *Manager) Sessions() *SessionPersistence { return m.sessions }
