// Package boxes stores signature boxes and their rendered values.
package boxes

import (
	"context"
	"database/sql"
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

func (r *PostgresRepository) Create(ctx context.Context, b *models.SignatureBox) error {
	query := `INSERT INTO signature_boxes (id, signer_id, page, pos_x, pos_y, width, height, kind)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.db.ExecContext(ctx, query, b.ID, b.SignerID, b.Page, b.PosX, b.PosY, b.Width, b.Height, b.Kind)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListBySigner(ctx context.Context, signerID string) ([]models.SignatureBox, error) {
	query := `SELECT id, signer_id, page, pos_x, pos_y, width, height, kind, value, rendered_at
		FROM signature_boxes WHERE signer_id = $1 ORDER BY page, pos_y, pos_x`
	return r.list(ctx, query, signerID)
}

func (r *PostgresRepository) ListByRequest(ctx context.Context, requestID string) ([]models.SignatureBox, error) {
	query := `SELECT b.id, b.signer_id, b.page, b.pos_x, b.pos_y, b.width, b.height, b.kind, b.value, b.rendered_at
		FROM signature_boxes b JOIN signers s ON s.id = b.signer_id
		WHERE s.signature_request_id = $1
		ORDER BY s.sign_order, b.page, b.pos_y, b.pos_x`
	return r.list(ctx, query, requestID)
}

func (r *PostgresRepository) list(ctx context.Context, query string, arg string) ([]models.SignatureBox, error) {
	rows, err := r.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []models.SignatureBox
	for rows.Next() {
		var (
			b        models.SignatureBox
			rendered sql.NullTime
		)
		if err := rows.Scan(&b.ID, &b.SignerID, &b.Page, &b.PosX, &b.PosY, &b.Width, &b.Height, &b.Kind, &b.Value, &rendered); err != nil {
			return nil, fmt.Errorf("scan error: %w", err)
		}
		if rendered.Valid {
			b.RenderedAt = &rendered.Time
		}
		result = append(result, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return result, nil
}

func (r *PostgresRepository) Fill(ctx context.Context, id string, value []byte, at time.Time) error {
	query := `UPDATE signature_boxes SET value = $1, rendered_at = $2 WHERE id = $3 AND value IS NULL`

	res, err := r.db.ExecContext(ctx, query, value, at, id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n != 1 {
		return common.ErrAlreadyProcessed
	}
	return nil
}
