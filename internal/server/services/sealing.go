package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/docseal/internal/common"
	"github.com/dmitrijs2005/docseal/internal/logging"
	"github.com/dmitrijs2005/docseal/internal/server/events"
	"github.com/dmitrijs2005/docseal/internal/server/models"
	"github.com/dmitrijs2005/docseal/internal/server/sealing"
	"github.com/dmitrijs2005/docseal/internal/server/storage"
	"github.com/dmitrijs2005/docseal/internal/server/worker"
	"github.com/dmitrijs2005/docseal/internal/timex"
)

var sealedNamespace = uuid.MustParse("6f1d2c7e-4b1a-5c39-9e0b-2f5d8a7c3e41")

// SealedDocumentID is the stable ID of the sealed output of requestID.
// Sealing the same request twice overwrites the same objects.
func SealedDocumentID(requestID string) string {
	return uuid.NewSHA1(sealedNamespace, []byte(requestID)).String()
}

// SealingService turns DocumentReadyToSeal events into sealed documents.
type SealingService struct {
	docs      DocumentStore
	sealer    *sealing.Sealer
	cert      *sealing.Certificate
	pool      *worker.Pool
	publisher events.Publisher
	log       logging.Logger
	now       timex.Clock
}

func NewSealingService(docs DocumentStore, sealer *sealing.Sealer, cert *sealing.Certificate,
	pool *worker.Pool, publisher events.Publisher, log logging.Logger) *SealingService {
	return &SealingService{
		docs:      docs,
		sealer:    sealer,
		cert:      cert,
		pool:      pool,
		publisher: publisher,
		log:       log.With("module", "sealing"),
		now:       timex.UTCNow,
	}
}

// HandleReadyToSeal queues the event for sealing on the worker pool. It
// returns once the job has a slot, not when sealing completes.
func (s *SealingService) HandleReadyToSeal(ctx context.Context, env events.Envelope) error {
	evt, err := events.Decode[events.DocumentReadyToSeal](env)
	if err != nil {
		return err
	}
	return s.pool.Submit(ctx, "seal:"+evt.SignatureRequestID, func(ctx context.Context) error {
		_, err := s.Seal(ctx, evt)
		return err
	})
}

// Seal stamps and signs the original document, stores the sealed output and
// announces it. Fatal errors are logged and reported as nil so the event is
// not retried.
func (s *SealingService) Seal(ctx context.Context, evt events.DocumentReadyToSeal) (*events.DocumentSealed, error) {
	log := s.log.With("request_id", evt.SignatureRequestID, "document_id", evt.DocumentID)

	if evt.CertificateThumbprint != "" && s.cert != nil && evt.CertificateThumbprint != s.cert.Thumbprint {
		log.Warn(ctx, "certificate thumbprint differs from the loaded certificate",
			"requested", evt.CertificateThumbprint, "loaded", s.cert.Thumbprint)
	}

	doc, err := s.docs.Get(ctx, storage.OriginalKey(evt.DocumentID))
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			log.Error(ctx, "original document not found, sealing abandoned")
			return nil, nil
		}
		return nil, fmt.Errorf("error reading original document: %w", err)
	}

	res, err := s.sealer.Seal(doc, signersFromEvent(evt), s.cert)
	if err != nil {
		if errors.Is(err, common.ErrFatalSealing) {
			log.Error(ctx, "sealing abandoned", "error", err)
			return nil, nil
		}
		return nil, err
	}

	sealedID := SealedDocumentID(evt.SignatureRequestID)
	sealedKey := storage.SealedKey(sealedID)
	sigKey := storage.SealSignatureKey(sealedID)

	if err := s.docs.Put(ctx, sealedKey, res.Sealed, storage.ContentTypePDF); err != nil {
		return nil, fmt.Errorf("error storing sealed document: %w", err)
	}
	if err := s.docs.Put(ctx, sigKey, res.Signature, storage.ContentTypeSignature); err != nil {
		return nil, fmt.Errorf("error storing seal signature: %w", err)
	}

	now := s.now()
	sealed := events.DocumentSealed{
		SignatureRequestID:    evt.SignatureRequestID,
		DocumentID:            evt.DocumentID,
		SealedDocumentID:      sealedID,
		SealedObjectKey:       sealedKey,
		SignatureObjectKey:    sigKey,
		Digest:                res.Digest,
		Signature:             res.Signature,
		CertificateThumbprint: res.Thumbprint,
		SealedAt:              now,
	}
	env, err := events.NewEnvelope(events.TypeDocumentSealed, evt.SignatureRequestID, sealed, now)
	if err != nil {
		return nil, err
	}
	if err := s.publisher.Publish(ctx, env); err != nil {
		return nil, fmt.Errorf("error publishing sealed event: %w", err)
	}

	log.Info(ctx, "document sealed", "sealed_document_id", sealedID, "digest", res.Digest)
	return &sealed, nil
}

func signersFromEvent(evt events.DocumentReadyToSeal) []models.Signer {
	out := make([]models.Signer, 0, len(evt.Signatures))
	for _, sig := range evt.Signatures {
		sg := models.Signer{
			ID:                    sig.SignerID,
			SignatureRequestID:    evt.SignatureRequestID,
			Email:                 sig.Email,
			FullName:              sig.FullName,
			Order:                 sig.Order,
			Status:                models.SignerSigned,
			SignedAt:              sig.SignedAt,
			CertificateThumbprint: sig.CertificateThumbprint,
			Consent: models.Consent{
				IPAddress:   sig.Consent.IPAddress,
				UserAgent:   sig.Consent.UserAgent,
				ConsentedAt: sig.Consent.ConsentedAt,
			},
		}
		for _, b := range sig.Boxes {
			sg.Boxes = append(sg.Boxes, models.SignatureBox{
				ID:       b.ID,
				SignerID: sig.SignerID,
				Page:     b.Page,
				PosX:     b.PosX,
				PosY:     b.PosY,
				Width:    b.Width,
				Height:   b.Height,
				Kind:     models.BoxKind(b.Kind),
				Value:    b.Value,
			})
		}
		out = append(out, sg)
	}
	return out
}
