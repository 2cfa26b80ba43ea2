package boxes

import (
	"context"
	"time"

	"github.com/dmitrijs2005/docseal/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, b *models.SignatureBox) error
	ListBySigner(ctx context.Context, signerID string) ([]models.SignatureBox, error)
	// ListByRequest returns the boxes of every signer of the request.
	ListByRequest(ctx context.Context, requestID string) ([]models.SignatureBox, error)
	// Fill stores the rendered value of an unfilled box.
	Fill(ctx context.Context, id string, value []byte, at time.Time) error
}
