package signaturerequests

import (
	"context"
	"time"

	"github.com/dmitrijs2005/docseal/internal/server/models"
)

// Repository persists the signature request row. Signers and boxes live in
// their own repositories and are joined by the service layer.
type Repository interface {
	Create(ctx context.Context, r *models.SignatureRequest) error
	GetByID(ctx context.Context, id string) (*models.SignatureRequest, error)
	// GetForUpdate locks the row until the surrounding transaction ends.
	GetForUpdate(ctx context.Context, id string) (*models.SignatureRequest, error)
	// UpdateStatus writes status only when the stored version equals
	// expectedVersion and returns the new version.
	UpdateStatus(ctx context.Context, id string, status models.RequestStatus, expectedVersion int64, at time.Time) (int64, error)
}
