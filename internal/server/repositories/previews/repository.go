package previews

import (
	"context"
	"time"

	"github.com/dmitrijs2005/docseal/internal/server/models"
)

type Repository interface {
	// Upsert inserts p or, when a record for (signer, sealed document)
	// exists, refreshes its credentials in place, resets the counter and
	// re-activates it. MaxAccessCount of an existing record is kept.
	// p is updated with the stored ID, CreatedAt and MaxAccessCount.
	Upsert(ctx context.Context, p *models.SignPreviewDocument) error
	// ConsumeAccess atomically counts one access for the record matching
	// tokenHash and sessionID if it is active, unexpired at now and below
	// its limit. It returns common.ErrAccessDenied otherwise.
	ConsumeAccess(ctx context.Context, tokenHash, sessionID string, now time.Time) (*models.SignPreviewDocument, error)
	GetByTokenHash(ctx context.Context, tokenHash string) (*models.SignPreviewDocument, error)
	Revoke(ctx context.Context, signerID, sealedDocumentID string, at time.Time) error
}
