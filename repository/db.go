package repository

import (
	"context"
	"database/sql"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

// OpenSQLite opens dsn with whichever SQLite driver is available.
func OpenSQLite(dsn string) (*bun.DB, error) {
	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	if err != nil {
		return nil, err
	}
	// sqlite serializes writers anyway, and in-memory databases are per connection
	sqldb.SetMaxOpenConns(1)
	return bun.NewDB(sqldb, sqlitedialect.New()), nil
}

// Migrate creates the tables used by this package.
func Migrate(ctx context.Context, db bun.IDB) error {
	models := []any{
		(*ProfileDocumentModel)(nil),
		(*LinkClaimModel)(nil),
		(*ProviderSessionModel)(nil),
	}
	for _, m := range models {
		if _, err := db.NewCreateTable().Model(m).IfNotExists().Exec(ctx); err != nil {
			return err
		}
	}
	_, err := db.NewCreateIndex().
		Model((*ProfileDocumentModel)(nil)).
		Index("idx_profile_documents_email").
		Column("email").
		IfNotExists().
		Exec(ctx)
	return err
}
