package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/docseal/internal/common"
	"github.com/dmitrijs2005/docseal/internal/cryptox"
	"github.com/dmitrijs2005/docseal/internal/dbx"
	"github.com/dmitrijs2005/docseal/internal/logging"
	"github.com/dmitrijs2005/docseal/internal/server/config"
	"github.com/dmitrijs2005/docseal/internal/server/events"
	"github.com/dmitrijs2005/docseal/internal/server/models"
	"github.com/dmitrijs2005/docseal/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/docseal/internal/server/storage"
	"github.com/dmitrijs2005/docseal/internal/timex"
)

// AccessGrant is the result of a successful preview access.
type AccessGrant struct {
	URL              string
	SealedDocumentID string
	Remaining        int
	ExpiresAt        time.Time
}

// PreviewService grants signers bounded access to their sealed documents.
type PreviewService struct {
	runner         dbx.Runner
	repomanager    repomanager.RepositoryManager
	docs           DocumentStore
	key            []byte
	maxAccessCount int
	presignTTL     time.Duration
	log            logging.Logger
	now            timex.Clock
}

func NewPreviewService(runner dbx.Runner, m repomanager.RepositoryManager, docs DocumentStore,
	cfg *config.Config, log logging.Logger) (*PreviewService, error) {
	key := cfg.PreviewKeyBytes()
	if err := cryptox.ValidateKey(key); err != nil {
		return nil, fmt.Errorf("preview key: %w", err)
	}
	return &PreviewService{
		runner:         runner,
		repomanager:    m,
		docs:           docs,
		key:            key,
		maxAccessCount: cfg.DefaultMaxAccessCount,
		presignTTL:     cfg.PresignValidity,
		log:            log.With("module", "preview"),
		now:            timex.UTCNow,
	}, nil
}

// HandleSecureDownload is the event handler for SecureDownloadSignedDocument.
func (s *PreviewService) HandleSecureDownload(ctx context.Context, env events.Envelope) error {
	evt, err := events.Decode[events.SecureDownloadSignedDocument](env)
	if err != nil {
		return err
	}
	_, err = s.Grant(ctx, evt)
	return err
}

// Grant verifies an encrypted preview grant and stores its credentials.
// Nothing is written unless decryption, the payload hash, expiry and the
// signer's state all check out.
func (s *PreviewService) Grant(ctx context.Context, evt events.SecureDownloadSignedDocument) (*models.SignPreviewDocument, error) {
	plain, err := cryptox.DecryptFromBase64(evt.EncryptedPayload, s.key)
	if err != nil {
		return nil, fmt.Errorf("%w: decrypt payload: %v", common.ErrIntegrity, err)
	}
	payload, err := decodePreviewPayload(plain)
	common.WipeByteArray(plain)
	if err != nil {
		return nil, err
	}
	if !cryptox.VerifyFingerprint(evt.PayloadHash, payload.SignerID, payload.AccessToken, payload.SessionID, payload.RequestFingerprint) {
		return nil, fmt.Errorf("%w: payload hash mismatch", common.ErrIntegrity)
	}
	if evt.SealedDocumentID == "" {
		return nil, fmt.Errorf("%w: sealed document id is required", common.ErrIntegrity)
	}

	now := s.now()
	if !now.Before(evt.ExpiresAt) {
		return nil, common.ErrTokenExpired
	}

	conn := s.runner.Conn()
	sg, err := s.repomanager.Signers(conn).GetByID(ctx, payload.SignerID)
	if err != nil {
		return nil, fmt.Errorf("error loading signer %s: %w", payload.SignerID, err)
	}
	if sg.Status != models.SignerSigned {
		return nil, fmt.Errorf("%w: signer %s has status %s", common.ErrAccessDenied, sg.ID, sg.Status)
	}
	req, err := s.repomanager.SignatureRequests(conn).GetByID(ctx, sg.SignatureRequestID)
	if err != nil {
		return nil, fmt.Errorf("error loading signature request: %w", err)
	}
	if evt.SealedDocumentID != SealedDocumentID(req.ID) {
		return nil, fmt.Errorf("%w: sealed document %s does not belong to request %s", common.ErrIntegrity, evt.SealedDocumentID, req.ID)
	}

	p := &models.SignPreviewDocument{
		ID:                 uuid.NewString(),
		SignatureRequestID: req.ID,
		SignerID:           sg.ID,
		OriginalDocumentID: req.DocumentID,
		SealedDocumentID:   evt.SealedDocumentID,
		AccessTokenHash:    cryptox.HashToken(payload.AccessToken),
		SessionID:          payload.SessionID,
		RequestFingerprint: payload.RequestFingerprint,
		ExpiresAt:          evt.ExpiresAt,
		MaxAccessCount:     s.maxAccessCount,
		IsActive:           true,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.repomanager.Previews(conn).Upsert(ctx, p); err != nil {
		return nil, fmt.Errorf("error storing preview access: %w", err)
	}

	s.log.Info(ctx, "preview access granted", "signer_id", sg.ID, "sealed_document_id", p.SealedDocumentID,
		"expires_at", p.ExpiresAt, "max_access_count", p.MaxAccessCount)
	return p, nil
}

// CheckAccess consumes one access for the credential pair and returns a
// download URL for the sealed document. Every failure is ErrAccessDenied.
// The URL is presigned before the access is consumed so a storage failure
// never spends one.
func (s *PreviewService) CheckAccess(ctx context.Context, accessToken, sessionID string) (*AccessGrant, error) {
	if accessToken == "" || sessionID == "" {
		return nil, common.ErrAccessDenied
	}

	now := s.now()
	hash := cryptox.HashToken(accessToken)
	repo := s.repomanager.Previews(s.runner.Conn())

	current, err := repo.GetByTokenHash(ctx, hash)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			s.log.Warn(ctx, "preview access denied", "reason", "unknown token")
		} else {
			s.log.Error(ctx, "error loading preview access", "error", err)
		}
		return nil, common.ErrAccessDenied
	}

	url, err := s.docs.PresignGet(ctx, storage.SealedKey(current.SealedDocumentID), s.presignTTL)
	if err != nil {
		s.log.Error(ctx, "error presigning sealed document", "sealed_document_id", current.SealedDocumentID, "error", err)
		return nil, common.ErrAccessDenied
	}

	p, err := repo.ConsumeAccess(ctx, hash, sessionID, now)
	if err != nil {
		if errors.Is(err, common.ErrAccessDenied) {
			s.logDenial(ctx, current, sessionID, now)
		} else {
			s.log.Error(ctx, "error consuming preview access", "error", err)
		}
		return nil, common.ErrAccessDenied
	}

	s.log.Info(ctx, "preview accessed", "signer_id", p.SignerID, "sealed_document_id", p.SealedDocumentID,
		"access_count", p.AccessCount, "max_access_count", p.MaxAccessCount)
	return &AccessGrant{
		URL:              url,
		SealedDocumentID: p.SealedDocumentID,
		Remaining:        p.MaxAccessCount - p.AccessCount,
		ExpiresAt:        p.ExpiresAt,
	}, nil
}

// Revoke deactivates the preview of sealedDocumentID for signerID.
func (s *PreviewService) Revoke(ctx context.Context, signerID, sealedDocumentID string) error {
	if err := s.repomanager.Previews(s.runner.Conn()).Revoke(ctx, signerID, sealedDocumentID, s.now()); err != nil {
		return err
	}
	s.log.Info(ctx, "preview access revoked", "signer_id", signerID, "sealed_document_id", sealedDocumentID)
	return nil
}

func (s *PreviewService) logDenial(ctx context.Context, p *models.SignPreviewDocument, sessionID string, now time.Time) {
	reason := string(p.State(now))
	if p.SessionID != sessionID {
		reason = "session mismatch"
	}
	s.log.Warn(ctx, "preview access denied", "reason", reason, "signer_id", p.SignerID, "sealed_document_id", p.SealedDocumentID)
}

var previewPayloadFields = []string{"signerId", "accessToken", "sessionId", "requestFingerprint"}

// decodePreviewPayload requires exactly the four payload fields, spelled
// exactly, each a non-empty string. encoding/json alone would accept
// differently cased keys.
func decodePreviewPayload(b []byte) (events.PreviewPayload, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return events.PreviewPayload{}, fmt.Errorf("%w: payload is not a JSON object", common.ErrIntegrity)
	}
	if len(raw) != len(previewPayloadFields) {
		return events.PreviewPayload{}, fmt.Errorf("%w: payload has %d fields", common.ErrIntegrity, len(raw))
	}

	vals := make(map[string]string, len(raw))
	for _, f := range previewPayloadFields {
		r, ok := raw[f]
		if !ok {
			return events.PreviewPayload{}, fmt.Errorf("%w: payload field %s is missing", common.ErrIntegrity, f)
		}
		var v string
		if err := json.Unmarshal(r, &v); err != nil || v == "" {
			return events.PreviewPayload{}, fmt.Errorf("%w: payload field %s must be a non-empty string", common.ErrIntegrity, f)
		}
		vals[f] = v
	}

	return events.PreviewPayload{
		SignerID:           vals["signerId"],
		AccessToken:        vals["accessToken"],
		SessionID:          vals["sessionId"],
		RequestFingerprint: vals["requestFingerprint"],
	}, nil
}

// EncryptPreviewPayload builds the encrypted payload and its hash for a
// SecureDownloadSignedDocument event.
func EncryptPreviewPayload(p events.PreviewPayload, key []byte) (encrypted, hash string, err error) {
	plain, err := json.Marshal(p)
	if err != nil {
		return "", "", err
	}
	encrypted, err = cryptox.EncryptToBase64(plain, key)
	if err != nil {
		return "", "", err
	}
	return encrypted, cryptox.Fingerprint(p.SignerID, p.AccessToken, p.SessionID, p.RequestFingerprint), nil
}
