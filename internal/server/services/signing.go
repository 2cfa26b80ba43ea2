package services

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/docseal/internal/common"
	"github.com/dmitrijs2005/docseal/internal/cryptox"
	"github.com/dmitrijs2005/docseal/internal/dbx"
	"github.com/dmitrijs2005/docseal/internal/logging"
	"github.com/dmitrijs2005/docseal/internal/server/auth"
	"github.com/dmitrijs2005/docseal/internal/server/config"
	"github.com/dmitrijs2005/docseal/internal/server/events"
	"github.com/dmitrijs2005/docseal/internal/server/models"
	"github.com/dmitrijs2005/docseal/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/docseal/internal/server/storage"
	"github.com/dmitrijs2005/docseal/internal/timex"
)

// CreatedSigner is returned once per signer on creation. SigningToken is
// only available at this point; the server keeps its hash.
type CreatedSigner struct {
	SignerID     string
	Email        string
	Order        int
	SigningToken string
}

type CreatedRequest struct {
	RequestID string
	Status    models.RequestStatus
	Signers   []CreatedSigner
}

// TokenInfo is what a valid signing token unlocks for the signing UI.
type TokenInfo struct {
	Request             *models.SignatureRequest
	Signer              *models.Signer
	CanSign             bool
	SessionID           string
	DocumentAccessToken string
	DocumentAccessTTL   time.Duration
}

// SignInput carries one signer's submission. Signature and initials images
// fill boxes of the matching kind; BoxValues overrides per box ID. Date boxes
// default to the signing date.
type SignInput struct {
	Token                 string
	SignatureImage        []byte
	InitialsImage         []byte
	BoxValues             map[string][]byte
	Consent               models.Consent
	CertificateThumbprint string
}

// SigningService drives the signature request state machine.
type SigningService struct {
	runner      dbx.Runner
	repomanager repomanager.RepositoryManager
	tokens      *auth.Issuer
	publisher   events.Publisher
	docs        DocumentStore
	log         logging.Logger
	now         timex.Clock

	defaultPolicy     models.SigningPolicy
	signingTokenTTL   time.Duration
	documentAccessTTL time.Duration
	presignTTL        time.Duration
	thumbprint        string
}

// NewSigningService wires the service. thumbprint identifies the sealing
// certificate announced in DocumentReadyToSeal events.
func NewSigningService(runner dbx.Runner, m repomanager.RepositoryManager, tokens *auth.Issuer,
	publisher events.Publisher, docs DocumentStore, cfg *config.Config, thumbprint string, log logging.Logger) *SigningService {
	return &SigningService{
		runner:            runner,
		repomanager:       m,
		tokens:            tokens,
		publisher:         publisher,
		docs:              docs,
		log:               log.With("module", "signing"),
		now:               timex.UTCNow,
		defaultPolicy:     cfg.SigningPolicy,
		signingTokenTTL:   cfg.SigningTokenValidity,
		documentAccessTTL: cfg.DocumentAccessTokenValidity,
		presignTTL:        cfg.PresignValidity,
		thumbprint:        thumbprint,
	}
}

// Create validates in, assigns signing orders 1..n and persists the request
// with its signers and boxes in one transaction.
func (s *SigningService) Create(ctx context.Context, in CreateRequestInput) (*CreatedRequest, error) {
	if err := validateCreate(&in); err != nil {
		return nil, err
	}

	policy := in.Policy
	if policy == "" {
		policy = s.defaultPolicy
	}

	now := s.now()
	req := &models.SignatureRequest{
		ID:         uuid.NewString(),
		DocumentID: in.DocumentID,
		Status:     models.RequestPending,
		Policy:     policy,
		Version:    1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	out := &CreatedRequest{RequestID: req.ID, Status: req.Status}
	for pos, i := range assignOrders(in.Signers) {
		si := in.Signers[i]
		sg := models.Signer{
			ID:                 uuid.NewString(),
			SignatureRequestID: req.ID,
			CustomerID:         si.CustomerID,
			Email:              si.Email,
			FullName:           si.FullName,
			Order:              pos + 1,
			Status:             models.SignerPending,
		}
		token, err := s.tokens.IssueSigningToken(sg.ID, req.ID, s.signingTokenTTL)
		if err != nil {
			return nil, fmt.Errorf("error issuing signing token: %w", err)
		}
		sg.SigningTokenHash = cryptox.HashToken(token)

		for _, b := range si.Boxes {
			sg.Boxes = append(sg.Boxes, models.SignatureBox{
				ID:       uuid.NewString(),
				SignerID: sg.ID,
				Page:     b.Page,
				PosX:     b.PosX,
				PosY:     b.PosY,
				Width:    b.Width,
				Height:   b.Height,
				Kind:     b.Kind,
			})
		}

		req.Signers = append(req.Signers, sg)
		out.Signers = append(out.Signers, CreatedSigner{SignerID: sg.ID, Email: sg.Email, Order: sg.Order, SigningToken: token})
	}

	err := s.runner.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.repomanager.SignatureRequests(tx).Create(ctx, req); err != nil {
			return fmt.Errorf("error creating signature request: %w", err)
		}
		for i := range req.Signers {
			sg := &req.Signers[i]
			if err := s.repomanager.Signers(tx).Create(ctx, sg); err != nil {
				return fmt.Errorf("error creating signer: %w", err)
			}
			for j := range sg.Boxes {
				if err := s.repomanager.Boxes(tx).Create(ctx, &sg.Boxes[j]); err != nil {
					return fmt.Errorf("error creating signature box: %w", err)
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info(ctx, "signature request created", "request_id", req.ID, "document_id", req.DocumentID,
		"policy", string(policy), "signers", len(req.Signers))
	return out, nil
}

// GetRequest returns the request with its signers and boxes. Token hashes
// and box values are not included.
func (s *SigningService) GetRequest(ctx context.Context, id string) (*models.SignatureRequest, error) {
	conn := s.runner.Conn()

	req, err := s.repomanager.SignatureRequests(conn).GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	signers, err := s.repomanager.Signers(conn).ListByRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	boxes, err := s.repomanager.Boxes(conn).ListByRequest(ctx, id)
	if err != nil {
		return nil, err
	}

	req.Signers = attachBoxes(signers, boxes)
	for i := range req.Signers {
		req.Signers[i].SigningTokenHash = ""
		for j := range req.Signers[i].Boxes {
			req.Signers[i].Boxes[j].Value = nil
		}
	}
	return req, nil
}

// ValidateToken checks a signing token and opens a document viewing session
// for its signer.
func (s *SigningService) ValidateToken(ctx context.Context, token string) (*TokenInfo, error) {
	claims, err := s.tokens.Parse(auth.PurposeSign, token)
	if err != nil {
		return nil, err
	}

	conn := s.runner.Conn()
	sg, err := s.lookupSigner(ctx, conn, claims, token)
	if err != nil {
		return nil, err
	}

	req, err := s.repomanager.SignatureRequests(conn).GetByID(ctx, sg.SignatureRequestID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrTokenNotFound
		}
		return nil, err
	}
	all, err := s.repomanager.Signers(conn).ListByRequest(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	boxes, err := s.repomanager.Boxes(conn).ListBySigner(ctx, sg.ID)
	if err != nil {
		return nil, err
	}
	sg.Boxes = boxes
	sg.SigningTokenHash = ""

	sessionID := uuid.NewString()
	access, err := s.tokens.IssueDocumentAccess(sg.ID, req.ID, req.DocumentID, sessionID, s.documentAccessTTL)
	if err != nil {
		return nil, fmt.Errorf("error issuing document access token: %w", err)
	}

	return &TokenInfo{
		Request:             req,
		Signer:              sg,
		CanSign:             !req.Status.Terminal() && sg.Status == models.SignerPending && models.IsTurn(req.Policy, all, sg.Order),
		SessionID:           sessionID,
		DocumentAccessToken: access,
		DocumentAccessTTL:   s.documentAccessTTL,
	}, nil
}

// OpenOriginalDocument exchanges a document access token bound to sessionID
// for a short-lived download URL of the original document.
func (s *SigningService) OpenOriginalDocument(ctx context.Context, accessToken, sessionID string) (string, error) {
	claims, err := s.tokens.Parse(auth.PurposeDocumentAccess, accessToken)
	if err != nil {
		return "", err
	}
	if sessionID == "" || subtle.ConstantTimeCompare([]byte(claims.SessionID), []byte(sessionID)) != 1 {
		return "", common.ErrInvalidToken
	}

	url, err := s.docs.PresignGet(ctx, storage.OriginalKey(claims.DocumentID), s.presignTTL)
	if err != nil {
		return "", fmt.Errorf("error presigning original document: %w", err)
	}
	return url, nil
}

// Sign records a signature. It fills the signer's boxes, marks the signer
// signed and recomputes the request status, all in one transaction.
// Events are published after commit.
func (s *SigningService) Sign(ctx context.Context, in SignInput) error {
	claims, err := s.tokens.Parse(auth.PurposeSign, in.Token)
	if err != nil {
		return err
	}

	now := s.now()
	if in.Consent.ConsentedAt == nil {
		in.Consent.ConsentedAt = &now
	}

	var out []events.Envelope
	err = s.runner.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		sg, req, err := s.lockForAction(ctx, tx, claims, in.Token)
		if err != nil {
			return err
		}
		all := req.Signers
		if !models.IsTurn(req.Policy, all, sg.Order) {
			return common.ErrOutOfTurn
		}

		boxRepo := s.repomanager.Boxes(tx)
		boxes, err := boxRepo.ListBySigner(ctx, sg.ID)
		if err != nil {
			return err
		}
		values, err := resolveBoxValues(boxes, in, now)
		if err != nil {
			return err
		}
		for _, b := range boxes {
			if err := boxRepo.Fill(ctx, b.ID, values[b.ID], now); err != nil {
				return fmt.Errorf("error filling box %s: %w", b.ID, err)
			}
		}

		if err := s.repomanager.Signers(tx).MarkSigned(ctx, sg.ID, now, in.Consent, in.CertificateThumbprint); err != nil {
			return err
		}
		self := req.FindSigner(sg.ID)
		if self == nil {
			return fmt.Errorf("%w: signer %s missing from request %s", common.ErrorInternal, sg.ID, req.ID)
		}
		self.Status = models.SignerSigned
		self.SignedAt = &now
		self.Consent = in.Consent
		self.CertificateThumbprint = in.CertificateThumbprint

		next := models.ComputeStatus(all)
		if !req.Status.CanMoveTo(next) {
			return fmt.Errorf("%w: illegal transition %s -> %s", common.ErrorInternal, req.Status, next)
		}
		if _, err := s.repomanager.SignatureRequests(tx).UpdateStatus(ctx, req.ID, next, req.Version, now); err != nil {
			return err
		}

		if next == models.RequestSigned {
			filled, err := boxRepo.ListByRequest(ctx, req.ID)
			if err != nil {
				return err
			}
			out, err = s.completionEvents(req, attachBoxes(all, filled), now)
			return err
		}

		signed := 0
		for _, x := range all {
			if x.Status == models.SignerSigned {
				signed++
			}
		}
		env, err := events.NewEnvelope(events.TypeDocumentPartiallySigned, req.ID, events.DocumentPartiallySigned{
			SignatureRequestID: req.ID,
			DocumentID:         req.DocumentID,
			SignerID:           sg.ID,
			SignedCount:        signed,
			TotalSigners:       len(all),
			SignedAt:           now,
		}, now)
		out = []events.Envelope{env}
		return err
	})
	if err != nil {
		return err
	}

	s.log.Info(ctx, "signature recorded", "request_id", claims.RequestID, "signer_id", claims.SignerID())
	s.publish(ctx, claims.RequestID, out)
	return nil
}

// Reject records a rejection. The request becomes rejected regardless of
// signing order.
func (s *SigningService) Reject(ctx context.Context, token, reason string) error {
	claims, err := s.tokens.Parse(auth.PurposeSign, token)
	if err != nil {
		return err
	}
	reason, err = validateReason(reason)
	if err != nil {
		return err
	}

	now := s.now()
	var out []events.Envelope
	err = s.runner.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		sg, req, err := s.lockForAction(ctx, tx, claims, token)
		if err != nil {
			return err
		}
		if err := s.repomanager.Signers(tx).MarkRejected(ctx, sg.ID, now, reason); err != nil {
			return err
		}
		if _, err := s.repomanager.SignatureRequests(tx).UpdateStatus(ctx, req.ID, models.RequestRejected, req.Version, now); err != nil {
			return err
		}

		env, err := events.NewEnvelope(events.TypeSignatureRequestRejected, req.ID, events.SignatureRequestRejected{
			SignatureRequestID: req.ID,
			DocumentID:         req.DocumentID,
			SignerID:           sg.ID,
			Reason:             reason,
			RejectedAt:         now,
		}, now)
		out = []events.Envelope{env}
		return err
	})
	if err != nil {
		return err
	}

	s.log.Info(ctx, "signature request rejected", "request_id", claims.RequestID, "signer_id", claims.SignerID())
	s.publish(ctx, claims.RequestID, out)
	return nil
}

// lookupSigner resolves the token's signer and checks that token is the one
// last issued to it.
func (s *SigningService) lookupSigner(ctx context.Context, db dbx.DBTX, claims *auth.Claims, token string) (*models.Signer, error) {
	sg, err := s.repomanager.Signers(db).GetByID(ctx, claims.SignerID())
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrTokenNotFound
		}
		return nil, err
	}
	if sg.SignatureRequestID != claims.RequestID {
		return nil, common.ErrInvalidToken
	}
	if subtle.ConstantTimeCompare([]byte(sg.SigningTokenHash), []byte(cryptox.HashToken(token))) != 1 {
		return nil, common.ErrInvalidToken
	}
	return sg, nil
}

// lockForAction loads and locks the request behind token, with its signers,
// and checks that both the request and the signer still accept an action.
func (s *SigningService) lockForAction(ctx context.Context, tx dbx.DBTX, claims *auth.Claims, token string) (*models.Signer, *models.SignatureRequest, error) {
	req, err := s.repomanager.SignatureRequests(tx).GetForUpdate(ctx, claims.RequestID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, nil, common.ErrTokenNotFound
		}
		return nil, nil, err
	}

	sg, err := s.lookupSigner(ctx, tx, claims, token)
	if err != nil {
		return nil, nil, err
	}
	if req.Status.Terminal() || sg.Status != models.SignerPending {
		return nil, nil, common.ErrAlreadyProcessed
	}

	all, err := s.repomanager.Signers(tx).ListByRequest(ctx, req.ID)
	if err != nil {
		return nil, nil, err
	}
	req.Signers = all
	return sg, req, nil
}

func (s *SigningService) completionEvents(req *models.SignatureRequest, signers []models.Signer, now time.Time) ([]events.Envelope, error) {
	full, err := events.NewEnvelope(events.TypeDocumentFullySigned, req.ID, events.DocumentFullySigned{
		SignatureRequestID: req.ID,
		DocumentID:         req.DocumentID,
		CompletedAt:        now,
	}, now)
	if err != nil {
		return nil, err
	}

	ready := events.DocumentReadyToSeal{
		SignatureRequestID:    req.ID,
		DocumentID:            req.DocumentID,
		CertificateThumbprint: s.thumbprint,
	}
	for _, sg := range signers {
		sig := events.Signature{
			SignerID:              sg.ID,
			FullName:              sg.FullName,
			Email:                 sg.Email,
			Order:                 sg.Order,
			SignedAt:              sg.SignedAt,
			CertificateThumbprint: sg.CertificateThumbprint,
			Consent: events.Consent{
				IPAddress:   sg.Consent.IPAddress,
				UserAgent:   sg.Consent.UserAgent,
				ConsentedAt: sg.Consent.ConsentedAt,
			},
		}
		for _, b := range sg.Boxes {
			sig.Boxes = append(sig.Boxes, events.Box{
				ID:     b.ID,
				Page:   b.Page,
				PosX:   b.PosX,
				PosY:   b.PosY,
				Width:  b.Width,
				Height: b.Height,
				Kind:   string(b.Kind),
				Value:  b.Value,
			})
		}
		ready.Signatures = append(ready.Signatures, sig)
	}
	seal, err := events.NewEnvelope(events.TypeDocumentReadyToSeal, req.ID, ready, now)
	if err != nil {
		return nil, err
	}
	return []events.Envelope{full, seal}, nil
}

// publish sends envs after the state change is committed. A failure is
// logged; the committed state is not rolled back.
func (s *SigningService) publish(ctx context.Context, requestID string, envs []events.Envelope) {
	if len(envs) == 0 {
		return
	}
	if err := s.publisher.Publish(ctx, envs...); err != nil {
		s.log.Error(ctx, "error publishing events", "request_id", requestID, "count", len(envs), "error", err)
	}
}

func resolveBoxValues(boxes []models.SignatureBox, in SignInput, now time.Time) (map[string][]byte, error) {
	verr := common.NewValidationError()
	values := make(map[string][]byte, len(boxes))

	for _, b := range boxes {
		v, ok := in.BoxValues[b.ID]
		if !ok {
			switch b.Kind {
			case models.BoxSignature:
				v = in.SignatureImage
			case models.BoxInitials:
				v = in.InitialsImage
			case models.BoxDate:
				v = []byte(now.Format(time.DateOnly))
			}
		}

		field := fmt.Sprintf("boxes[%s]", b.ID)
		switch {
		case len(v) == 0:
			verr.Add(field, fmt.Sprintf("%s value is required", b.Kind))
		case b.Kind.IsImage() && !validateImage(v):
			verr.Add(field, "must be a PNG or JPEG image")
		}
		values[b.ID] = v
	}

	if len(boxes) == 0 {
		verr.Add("boxes", "signer has no boxes")
	}
	return values, verr.OrNil()
}

// attachBoxes returns a copy of signers with their boxes from boxes.
func attachBoxes(signers []models.Signer, boxes []models.SignatureBox) []models.Signer {
	bySigner := make(map[string][]models.SignatureBox, len(signers))
	for _, b := range boxes {
		bySigner[b.SignerID] = append(bySigner[b.SignerID], b)
	}
	out := make([]models.Signer, len(signers))
	for i, sg := range signers {
		sg.Boxes = bySigner[sg.ID]
		out[i] = sg
	}
	return out
}
