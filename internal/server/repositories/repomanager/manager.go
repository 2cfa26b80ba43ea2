package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/docseal/internal/dbx"
	"github.com/dmitrijs2005/docseal/internal/server/repositories/boxes"
	"github.com/dmitrijs2005/docseal/internal/server/repositories/previews"
	"github.com/dmitrijs2005/docseal/internal/server/repositories/signaturerequests"
	"github.com/dmitrijs2005/docseal/internal/server/repositories/signers"
)

// RepositoryManager vends repositories bound to a DBTX, so the same code
// path works on the pool and inside a transaction.
type RepositoryManager interface {
	RunMigrations(ctx context.Context, db *sql.DB) error
	SignatureRequests(db dbx.DBTX) signaturerequests.Repository
	Signers(db dbx.DBTX) signers.Repository
	Boxes(db dbx.DBTX) boxes.Repository
	Previews(db dbx.DBTX) previews.Repository
}
