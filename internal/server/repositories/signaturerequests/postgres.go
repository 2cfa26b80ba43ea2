// Package signaturerequests stores signature request rows in PostgreSQL.
package signaturerequests

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

const selectColumns = `id, document_id, status, signing_policy, version, created_at, updated_at, archived_at`

func (r *PostgresRepository) Create(ctx context.Context, req *models.SignatureRequest) error {
	query := `INSERT INTO signature_requests (id, document_id, status, signing_policy, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.db.ExecContext(ctx, query,
		req.ID, req.DocumentID, req.Status, req.Policy, req.Version, req.CreatedAt, req.UpdatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.SignatureRequest, error) {
	query := `SELECT ` + selectColumns + ` FROM signature_requests WHERE id = $1`
	return r.get(ctx, query, id)
}

func (r *PostgresRepository) GetForUpdate(ctx context.Context, id string) (*models.SignatureRequest, error) {
	query := `SELECT ` + selectColumns + ` FROM signature_requests WHERE id = $1 FOR UPDATE`
	return r.get(ctx, query, id)
}

func (r *PostgresRepository) get(ctx context.Context, query, id string) (*models.SignatureRequest, error) {
	var (
		req      models.SignatureRequest
		archived sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&req.ID, &req.DocumentID, &req.Status, &req.Policy, &req.Version,
		&req.CreatedAt, &req.UpdatedAt, &archived)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	if archived.Valid {
		req.ArchivedAt = &archived.Time
	}
	return &req, nil
}

func (r *PostgresRepository) UpdateStatus(ctx context.Context, id string, status models.RequestStatus, expectedVersion int64, at time.Time) (int64, error) {
	query := `UPDATE signature_requests SET status = $1, version = version + 1, updated_at = $2
		WHERE id = $3 AND version = $4
		RETURNING version`

	var version int64
	err := r.db.QueryRowContext(ctx, query, status, at, id, expectedVersion).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, common.ErrVersionConflict
	}
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return version, nil
}
