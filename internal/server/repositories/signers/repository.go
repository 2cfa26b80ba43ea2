package signers

import (
	"context"
	"time"

	"github.com/dmitrijs2005/docseal/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, s *models.Signer) error
	GetByID(ctx context.Context, id string) (*models.Signer, error)
	// ListByRequest returns the request's signers ordered by sign order.
	ListByRequest(ctx context.Context, requestID string) ([]models.Signer, error)
	// MarkSigned and MarkRejected only touch pending signers and return
	// common.ErrAlreadyProcessed otherwise.
	MarkSigned(ctx context.Context, id string, at time.Time, consent models.Consent, thumbprint string) error
	MarkRejected(ctx context.Context, id string, at time.Time, reason string) error
}
