// Package memory provides in-memory repositories and a transaction runner
// with rollback, used by service tests and local runs without PostgreSQL.
package memory

import (
	"context"
	"database/sql"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/dmitrijs2005/docseal/internal/common"
	"github.com/dmitrijs2005/docseal/internal/dbx"
	"github.com/dmitrijs2005/docseal/internal/server/models"
	"github.com/dmitrijs2005/docseal/internal/server/repositories/boxes"
	"github.com/dmitrijs2005/docseal/internal/server/repositories/previews"
	"github.com/dmitrijs2005/docseal/internal/server/repositories/signaturerequests"
	"github.com/dmitrijs2005/docseal/internal/server/repositories/signers"
)

type state struct {
	requests map[string]models.SignatureRequest
	signers  map[string]models.Signer
	boxes    map[string]models.SignatureBox
	previews map[string]models.SignPreviewDocument
}

func (s state) clone() state {
	return state{
		requests: maps.Clone(s.requests),
		signers:  maps.Clone(s.signers),
		boxes:    maps.Clone(s.boxes),
		previews: maps.Clone(s.previews),
	}
}

// Store holds all tables. It implements repomanager.RepositoryManager and
// dbx.Runner; the DBTX arguments are ignored.
type Store struct {
	mu   sync.Mutex
	txMu sync.Mutex
	st   state
}

func NewStore() *Store {
	return &Store{st: state{
		requests: map[string]models.SignatureRequest{},
		signers:  map[string]models.Signer{},
		boxes:    map[string]models.SignatureBox{},
		previews: map[string]models.SignPreviewDocument{},
	}}
}

// WithTx serializes transactions and restores the previous state when fn
// fails. Writes made outside a transaction while one rolls back are lost.
func (s *Store) WithTx(ctx context.Context, fn dbx.TxFunc) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snapshot := s.st.clone()
	s.mu.Unlock()

	if err := fn(ctx, nil); err != nil {
		s.mu.Lock()
		s.st = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *Store) Conn() dbx.DBTX { return nil }

func (s *Store) RunMigrations(context.Context, *sql.DB) error { return nil }

func (s *Store) SignatureRequests(dbx.DBTX) signaturerequests.Repository { return requestRepo{s} }
func (s *Store) Signers(dbx.DBTX) signers.Repository                     { return signerRepo{s} }
func (s *Store) Boxes(dbx.DBTX) boxes.Repository                         { return boxRepo{s} }
func (s *Store) Previews(dbx.DBTX) previews.Repository                   { return previewRepo{s} }

type requestRepo struct{ s *Store }

func (r requestRepo) Create(_ context.Context, req *models.SignatureRequest) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	row := *req
	row.Signers = nil
	r.s.st.requests[req.ID] = row
	return nil
}

func (r requestRepo) GetByID(_ context.Context, id string) (*models.SignatureRequest, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	req, ok := r.s.st.requests[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return &req, nil
}

func (r requestRepo) GetForUpdate(ctx context.Context, id string) (*models.SignatureRequest, error) {
	return r.GetByID(ctx, id)
}

func (r requestRepo) UpdateStatus(_ context.Context, id string, status models.RequestStatus, expectedVersion int64, at time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	req, ok := r.s.st.requests[id]
	if !ok || req.Version != expectedVersion {
		return 0, common.ErrVersionConflict
	}
	req.Status = status
	req.Version++
	req.UpdatedAt = at
	r.s.st.requests[id] = req
	return req.Version, nil
}

type signerRepo struct{ s *Store }

func (r signerRepo) Create(_ context.Context, sg *models.Signer) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	row := *sg
	row.Boxes = nil
	r.s.st.signers[sg.ID] = row
	return nil
}

func (r signerRepo) GetByID(_ context.Context, id string) (*models.Signer, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sg, ok := r.s.st.signers[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return &sg, nil
}

func (r signerRepo) ListByRequest(_ context.Context, requestID string) ([]models.Signer, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.Signer
	for _, sg := range r.s.st.signers {
		if sg.SignatureRequestID == requestID {
			out = append(out, sg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out, nil
}

func (r signerRepo) MarkSigned(_ context.Context, id string, at time.Time, consent models.Consent, thumbprint string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sg, ok := r.s.st.signers[id]
	if !ok || sg.Status != models.SignerPending {
		return common.ErrAlreadyProcessed
	}
	sg.Status = models.SignerSigned
	sg.SignedAt = &at
	sg.Consent = consent
	sg.CertificateThumbprint = thumbprint
	r.s.st.signers[id] = sg
	return nil
}

func (r signerRepo) MarkRejected(_ context.Context, id string, at time.Time, reason string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sg, ok := r.s.st.signers[id]
	if !ok || sg.Status != models.SignerPending {
		return common.ErrAlreadyProcessed
	}
	sg.Status = models.SignerRejected
	sg.RejectedAt = &at
	sg.RejectReason = reason
	r.s.st.signers[id] = sg
	return nil
}

type boxRepo struct{ s *Store }

func (r boxRepo) Create(_ context.Context, b *models.SignatureBox) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.st.boxes[b.ID] = *b
	return nil
}

func (r boxRepo) ListBySigner(_ context.Context, signerID string) ([]models.SignatureBox, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.SignatureBox
	for _, b := range r.s.st.boxes {
		if b.SignerID == signerID {
			out = append(out, b)
		}
	}
	sortBoxes(out, nil)
	return out, nil
}

func (r boxRepo) ListByRequest(_ context.Context, requestID string) ([]models.SignatureBox, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	order := map[string]int{}
	for _, sg := range r.s.st.signers {
		if sg.SignatureRequestID == requestID {
			order[sg.ID] = sg.Order
		}
	}
	var out []models.SignatureBox
	for _, b := range r.s.st.boxes {
		if _, ok := order[b.SignerID]; ok {
			out = append(out, b)
		}
	}
	sortBoxes(out, order)
	return out, nil
}

func sortBoxes(bs []models.SignatureBox, signerOrder map[string]int) {
	sort.Slice(bs, func(i, j int) bool {
		a, b := bs[i], bs[j]
		if oa, ob := signerOrder[a.SignerID], signerOrder[b.SignerID]; oa != ob {
			return oa < ob
		}
		if a.Page != b.Page {
			return a.Page < b.Page
		}
		if a.PosY != b.PosY {
			return a.PosY < b.PosY
		}
		if a.PosX != b.PosX {
			return a.PosX < b.PosX
		}
		return a.ID < b.ID
	})
}

func (r boxRepo) Fill(_ context.Context, id string, value []byte, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.st.boxes[id]
	if !ok || b.Value != nil {
		return common.ErrAlreadyProcessed
	}
	b.Value = append([]byte(nil), value...)
	b.RenderedAt = &at
	r.s.st.boxes[id] = b
	return nil
}

type previewRepo struct{ s *Store }

func previewKey(signerID, sealedDocumentID string) string {
	return signerID + "|" + sealedDocumentID
}

func (r previewRepo) Upsert(_ context.Context, p *models.SignPreviewDocument) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	key := previewKey(p.SignerID, p.SealedDocumentID)
	for k, other := range r.s.st.previews {
		if k != key && other.AccessTokenHash == p.AccessTokenHash {
			return fmt.Errorf("%w: access token already bound to another preview", common.ErrIntegrity)
		}
	}
	if existing, ok := r.s.st.previews[key]; ok {
		p.ID = existing.ID
		p.CreatedAt = existing.CreatedAt
		p.MaxAccessCount = existing.MaxAccessCount
	} else {
		p.CreatedAt = p.UpdatedAt
	}
	p.AccessCount = 0
	p.IsActive = true
	p.LastAccessedAt = nil
	r.s.st.previews[key] = *p
	return nil
}

func (r previewRepo) ConsumeAccess(_ context.Context, tokenHash, sessionID string, now time.Time) (*models.SignPreviewDocument, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for key, p := range r.s.st.previews {
		if p.AccessTokenHash != tokenHash || p.SessionID != sessionID {
			continue
		}
		if !p.Accessible(now) {
			return nil, common.ErrAccessDenied
		}
		p.AccessCount++
		p.LastAccessedAt = &now
		p.UpdatedAt = now
		r.s.st.previews[key] = p
		return &p, nil
	}
	return nil, common.ErrAccessDenied
}

func (r previewRepo) GetByTokenHash(_ context.Context, tokenHash string) (*models.SignPreviewDocument, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, p := range r.s.st.previews {
		if p.AccessTokenHash == tokenHash {
			return &p, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r previewRepo) Revoke(_ context.Context, signerID, sealedDocumentID string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := previewKey(signerID, sealedDocumentID)
	p, ok := r.s.st.previews[key]
	if !ok {
		return common.ErrorNotFound
	}
	p.IsActive = false
	p.UpdatedAt = at
	r.s.st.previews[key] = p
	return nil
}
