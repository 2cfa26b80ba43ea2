// Package signers stores the participants of a signature request.
package signers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

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

const selectColumns = `id, signature_request_id, customer_id, email, full_name, sign_order, status,
	signed_at, rejected_at, reject_reason, signing_token_hash,
	consent_ip_address, consent_user_agent, consented_at, certificate_thumbprint`

type scanner interface {
	Scan(dest ...any) error
}

func scanSigner(row scanner) (*models.Signer, error) {
	var (
		s                                         models.Signer
		customerID, reason, ip, agent, thumbprint sql.NullString
		signedAt, rejectedAt, consentedAt         sql.NullTime
	)
	err := row.Scan(&s.ID, &s.SignatureRequestID, &customerID, &s.Email, &s.FullName, &s.Order, &s.Status,
		&signedAt, &rejectedAt, &reason, &s.SigningTokenHash,
		&ip, &agent, &consentedAt, &thumbprint)
	if err != nil {
		return nil, err
	}

	s.CustomerID = customerID.String
	s.RejectReason = reason.String
	s.Consent.IPAddress = ip.String
	s.Consent.UserAgent = agent.String
	s.CertificateThumbprint = thumbprint.String
	s.SignedAt = timePtr(signedAt)
	s.RejectedAt = timePtr(rejectedAt)
	s.Consent.ConsentedAt = timePtr(consentedAt)
	return &s, nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (r *PostgresRepository) Create(ctx context.Context, s *models.Signer) error {
	query := `INSERT INTO signers (id, signature_request_id, customer_id, email, full_name, sign_order, status, signing_token_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.db.ExecContext(ctx, query,
		s.ID, s.SignatureRequestID, nullString(s.CustomerID), s.Email, s.FullName, s.Order, s.Status, s.SigningTokenHash)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.Signer, error) {
	query := `SELECT ` + selectColumns + ` FROM signers WHERE id = $1`

	s, err := scanSigner(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return s, nil
}

func (r *PostgresRepository) ListByRequest(ctx context.Context, requestID string) ([]models.Signer, error) {
	query := `SELECT ` + selectColumns + ` FROM signers WHERE signature_request_id = $1 ORDER BY sign_order`

	rows, err := r.db.QueryContext(ctx, query, requestID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []models.Signer
	for rows.Next() {
		s, err := scanSigner(rows)
		if err != nil {
			return nil, fmt.Errorf("scan error: %w", err)
		}
		result = append(result, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return result, nil
}

func (r *PostgresRepository) MarkSigned(ctx context.Context, id string, at time.Time, consent models.Consent, thumbprint string) error {
	query := `UPDATE signers SET status = 'signed', signed_at = $1,
			consent_ip_address = $2, consent_user_agent = $3, consented_at = $4, certificate_thumbprint = $5
		WHERE id = $6 AND status = 'pending'`

	var consentedAt sql.NullTime
	if consent.ConsentedAt != nil {
		consentedAt = sql.NullTime{Time: *consent.ConsentedAt, Valid: true}
	}

	res, err := r.db.ExecContext(ctx, query,
		at, nullString(consent.IPAddress), nullString(consent.UserAgent), consentedAt, nullString(thumbprint), id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return expectOne(res)
}

func (r *PostgresRepository) MarkRejected(ctx context.Context, id string, at time.Time, reason string) error {
	query := `UPDATE signers SET status = 'rejected', rejected_at = $1, reject_reason = $2
		WHERE id = $3 AND status = 'pending'`

	res, err := r.db.ExecContext(ctx, query, at, reason, id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return expectOne(res)
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	switch n {
	case 1:
		return nil
	case 0:
		return common.ErrAlreadyProcessed
	default:
		return fmt.Errorf("unexpected rows affected: %d", n)
	}
}
