// Package previews stores preview access grants for sealed documents.
package previews

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dmitrijs2005/docseal/internal/common"
	"github.com/dmitrijs2005/docseal/internal/dbx"
	"github.com/dmitrijs2005/docseal/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const (
	uniqueViolation = "23505"
	tokenIndexName  = "sign_preview_documents_token_idx"
)

const returningColumns = `id, signature_request_id, signer_id, original_document_id, sealed_document_id,
	access_token_hash, session_id, request_fingerprint, expires_at, access_count, max_access_count,
	is_active, last_accessed_at, created_at, updated_at`

func scanPreview(row *sql.Row) (*models.SignPreviewDocument, error) {
	var (
		p            models.SignPreviewDocument
		lastAccessed sql.NullTime
	)
	err := row.Scan(&p.ID, &p.SignatureRequestID, &p.SignerID, &p.OriginalDocumentID, &p.SealedDocumentID,
		&p.AccessTokenHash, &p.SessionID, &p.RequestFingerprint, &p.ExpiresAt, &p.AccessCount, &p.MaxAccessCount,
		&p.IsActive, &lastAccessed, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if lastAccessed.Valid {
		p.LastAccessedAt = &lastAccessed.Time
	}
	return &p, nil
}

func (r *PostgresRepository) Upsert(ctx context.Context, p *models.SignPreviewDocument) error {
	query := `INSERT INTO sign_preview_documents (id, signature_request_id, signer_id, original_document_id, sealed_document_id,
			access_token_hash, session_id, request_fingerprint, expires_at, access_count, max_access_count,
			is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 0, $10, TRUE, $11, $11)
		ON CONFLICT (signer_id, sealed_document_id)
		DO UPDATE SET
			signature_request_id = EXCLUDED.signature_request_id,
			original_document_id = EXCLUDED.original_document_id,
			access_token_hash = EXCLUDED.access_token_hash,
			session_id = EXCLUDED.session_id,
			request_fingerprint = EXCLUDED.request_fingerprint,
			expires_at = EXCLUDED.expires_at,
			access_count = 0,
			is_active = TRUE,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at, max_access_count`

	err := r.db.QueryRowContext(ctx, query,
		p.ID, p.SignatureRequestID, p.SignerID, p.OriginalDocumentID, p.SealedDocumentID,
		p.AccessTokenHash, p.SessionID, p.RequestFingerprint, p.ExpiresAt, p.MaxAccessCount, p.UpdatedAt,
	).Scan(&p.ID, &p.CreatedAt, &p.MaxAccessCount)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == tokenIndexName {
		return fmt.Errorf("%w: access token already bound to another preview", common.ErrIntegrity)
	}
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	p.AccessCount = 0
	p.IsActive = true
	p.LastAccessedAt = nil
	return nil
}

func (r *PostgresRepository) ConsumeAccess(ctx context.Context, tokenHash, sessionID string, now time.Time) (*models.SignPreviewDocument, error) {
	query := `UPDATE sign_preview_documents
		SET access_count = access_count + 1, last_accessed_at = $3, updated_at = $3
		WHERE access_token_hash = $1 AND session_id = $2
			AND is_active AND expires_at > $3 AND access_count < max_access_count
		RETURNING ` + returningColumns

	p, err := scanPreview(r.db.QueryRowContext(ctx, query, tokenHash, sessionID, now))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrAccessDenied
	}
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return p, nil
}

func (r *PostgresRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*models.SignPreviewDocument, error) {
	query := `SELECT ` + returningColumns + ` FROM sign_preview_documents WHERE access_token_hash = $1`

	p, err := scanPreview(r.db.QueryRowContext(ctx, query, tokenHash))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return p, nil
}

func (r *PostgresRepository) Revoke(ctx context.Context, signerID, sealedDocumentID string, at time.Time) error {
	query := `UPDATE sign_preview_documents SET is_active = FALSE, updated_at = $1
		WHERE signer_id = $2 AND sealed_document_id = $3`

	res, err := r.db.ExecContext(ctx, query, at, signerID, sealedDocumentID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}
