// Package repomanager wires the PostgreSQL repositories and runs the
// embedded goose migrations.
package repomanager

import (
	"context"
	"database/sql"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/dmitrijs2005/docseal/internal/dbx"
	"github.com/dmitrijs2005/docseal/internal/server/migrations"
	"github.com/dmitrijs2005/docseal/internal/server/repositories/boxes"
	"github.com/dmitrijs2005/docseal/internal/server/repositories/previews"
	"github.com/dmitrijs2005/docseal/internal/server/repositories/signaturerequests"
	"github.com/dmitrijs2005/docseal/internal/server/repositories/signers"
)

type PostgresRepositoryManager struct{}

func NewPostgresRepositoryManager() *PostgresRepositoryManager {
	return &PostgresRepositoryManager{}
}

func (m *PostgresRepositoryManager) SignatureRequests(db dbx.DBTX) signaturerequests.Repository {
	return signaturerequests.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Signers(db dbx.DBTX) signers.Repository {
	return signers.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Boxes(db dbx.DBTX) boxes.Repository {
	return boxes.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Previews(db dbx.DBTX) previews.Repository {
	return previews.NewPostgresRepository(db)
}

// gooseUpContext is a seam for tests.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

func (m *PostgresRepositoryManager) RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	return gooseUpContext(ctx, db, ".")
}
