package signaturerequests

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/docseal/internal/common"
	"github.com/dmitrijs2005/docseal/internal/server/models"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresRepository(db), mock
}

var (
	ts      = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	columns = []string{"id", "document_id", "status", "signing_policy", "version", "created_at", "updated_at", "archived_at"}
)

func TestCreate(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectExec(`(?s)^INSERT\s+INTO\s+signature_requests\b.*VALUES`).
		WithArgs("r1", "doc1", models.RequestPending, models.PolicySequential, int64(1), ts, ts).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Create(context.Background(), &models.SignatureRequest{
		ID: "r1", DocumentID: "doc1", Status: models.RequestPending, Policy: models.PolicySequential,
		Version: 1, CreatedAt: ts, UpdatedAt: ts,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreate_DBError(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectExec(`INSERT INTO signature_requests`).WillReturnError(errors.New("db down"))

	err := repo.Create(context.Background(), &models.SignatureRequest{ID: "r1"})
	assert.ErrorContains(t, err, "db error: db down")
}

func TestGetByID(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(`(?s)^SELECT .* FROM signature_requests WHERE id = \$1$`).
		WithArgs("r1").
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("r1", "doc1", "partially_signed", "parallel", int64(3), ts, ts, nil))

	got, err := repo.GetByID(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, &models.SignatureRequest{
		ID: "r1", DocumentID: "doc1", Status: models.RequestPartiallySigned, Policy: models.PolicyParallel,
		Version: 3, CreatedAt: ts, UpdatedAt: ts,
	}, got)
}

func TestGetByID_Archived(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(`FROM signature_requests`).
		WithArgs("r1").
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("r1", "doc1", "signed", "sequential", int64(4), ts, ts, ts))

	got, err := repo.GetByID(context.Background(), "r1")
	require.NoError(t, err)
	require.NotNil(t, got.ArchivedAt)
	assert.Equal(t, ts, *got.ArchivedAt)
}

func TestGetByID_NotFound(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(`FROM signature_requests`).WithArgs("nope").WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByID(context.Background(), "nope")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestGetForUpdate_LocksRow(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(`(?s)FROM signature_requests WHERE id = \$1 FOR UPDATE$`).
		WithArgs("r1").
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("r1", "doc1", "pending", "sequential", int64(1), ts, ts, nil))

	got, err := repo.GetForUpdate(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetForUpdate_DBError(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(`FOR UPDATE`).WillReturnError(errors.New("lock timeout"))

	_, err := repo.GetForUpdate(context.Background(), "r1")
	assert.ErrorContains(t, err, "db error: lock timeout")
}

func TestUpdateStatus(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(`(?s)^UPDATE signature_requests SET status = \$1, version = version \+ 1.*WHERE id = \$3 AND version = \$4.*RETURNING version$`).
		WithArgs(models.RequestSigned, ts, "r1", int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(int64(3)))

	v, err := repo.UpdateStatus(context.Background(), "r1", models.RequestSigned, 2, ts)
	require.NoError(t, err)
	assert.Equal(t, int64(3), v)
}

func TestUpdateStatus_VersionConflict(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(`UPDATE signature_requests`).
		WithArgs(models.RequestSigned, ts, "r1", int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"version"}))

	_, err := repo.UpdateStatus(context.Background(), "r1", models.RequestSigned, 2, ts)
	assert.ErrorIs(t, err, common.ErrVersionConflict)
}
