package boxes

import (
	"context"
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
	columns = []string{"id", "signer_id", "page", "pos_x", "pos_y", "width", "height", "kind", "value", "rendered_at"}
)

func TestCreate(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectExec(`(?s)^INSERT INTO signature_boxes\b`).
		WithArgs("b1", "s1", 2, 10.5, 20.0, 150.0, 40.0, models.BoxSignature).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Create(context.Background(), &models.SignatureBox{
		ID: "b1", SignerID: "s1", Page: 2, PosX: 10.5, PosY: 20, Width: 150, Height: 40, Kind: models.BoxSignature,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListBySigner(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(`(?s)FROM signature_boxes WHERE signer_id = \$1`).
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("b1", "s1", 1, 0.0, 0.0, 100.0, 30.0, "signature", []byte("png"), ts).
			AddRow("b2", "s1", 1, 0.0, 50.0, 100.0, 30.0, "date", nil, nil))

	got, err := repo.ListBySigner(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, []byte("png"), got[0].Value)
	require.NotNil(t, got[0].RenderedAt)
	assert.False(t, got[1].Rendered())
	assert.Nil(t, got[1].RenderedAt)
	assert.Equal(t, models.BoxDate, got[1].Kind)
}

func TestListByRequest_JoinsSigners(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(`(?s)JOIN signers s ON s.id = b.signer_id\s+WHERE s.signature_request_id = \$1`).
		WithArgs("r1").
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("b1", "s1", 1, 0.0, 0.0, 100.0, 30.0, "signature", []byte("png"), ts))

	got, err := repo.ListByRequest(context.Background(), "r1")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestList_Errors(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(`FROM signature_boxes`).WillReturnError(errors.New("boom"))
	_, err := repo.ListBySigner(context.Background(), "s1")
	assert.ErrorContains(t, err, "db error: boom")

	mock.ExpectQuery(`FROM signature_boxes`).
		WillReturnRows(sqlmock.NewRows(columns).AddRow("b1", "s1", "not-a-number", 0.0, 0.0, 1.0, 1.0, "date", nil, nil))
	_, err = repo.ListBySigner(context.Background(), "s1")
	assert.ErrorContains(t, err, "scan error")
}

func TestFill(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectExec(`(?s)^UPDATE signature_boxes SET value = \$1, rendered_at = \$2 WHERE id = \$3 AND value IS NULL$`).
		WithArgs([]byte("png"), ts, "b1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Fill(context.Background(), "b1", []byte("png"), ts))
}

func TestFill_AlreadyFilled(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectExec(`UPDATE signature_boxes`).WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Fill(context.Background(), "b1", []byte("png"), ts)
	assert.ErrorIs(t, err, common.ErrAlreadyProcessed)
}
