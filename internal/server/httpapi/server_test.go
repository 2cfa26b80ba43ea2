package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/docseal/internal/common"
	"github.com/dmitrijs2005/docseal/internal/logging"
	"github.com/dmitrijs2005/docseal/internal/server/models"
	"github.com/dmitrijs2005/docseal/internal/server/services"
)

type fakeSigning struct {
	createIn  services.CreateRequestInput
	createOut *services.CreatedRequest
	getOut    *models.SignatureRequest
	info      *services.TokenInfo
	signIn    services.SignInput
	rejectArg [2]string
	url       string
	err       error
}

func (f *fakeSigning) Create(_ context.Context, in services.CreateRequestInput) (*services.CreatedRequest, error) {
	f.createIn = in
	return f.createOut, f.err
}

func (f *fakeSigning) GetRequest(context.Context, string) (*models.SignatureRequest, error) {
	return f.getOut, f.err
}

func (f *fakeSigning) ValidateToken(context.Context, string) (*services.TokenInfo, error) {
	return f.info, f.err
}

func (f *fakeSigning) Sign(_ context.Context, in services.SignInput) error {
	f.signIn = in
	return f.err
}

func (f *fakeSigning) Reject(_ context.Context, token, reason string) error {
	f.rejectArg = [2]string{token, reason}
	return f.err
}

func (f *fakeSigning) OpenOriginalDocument(_ context.Context, token, session string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.url + "?" + token + "&" + session, nil
}

type fakePreview struct {
	grant *services.AccessGrant
	err   error
}

func (f *fakePreview) CheckAccess(context.Context, string, string) (*services.AccessGrant, error) {
	return f.grant, f.err
}

func do(t *testing.T, s *HTTPServer, method, target, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("User-Agent", "unit-test")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec, out
}

func newServer(sg *fakeSigning, pv *fakePreview) *HTTPServer {
	return NewHTTPServer(":0", logging.Nop{}, sg, pv)
}

func TestCreateRequest(t *testing.T) {
	sg := &fakeSigning{createOut: &services.CreatedRequest{
		RequestID: "req-1",
		Status:    models.RequestPending,
		Signers:   []services.CreatedSigner{{SignerID: "s1", Email: "a@example.com", Order: 1, SigningToken: "tok"}},
	}}
	s := newServer(sg, &fakePreview{})

	body := `{"documentId":"doc-1","policy":"parallel","signers":[{"email":"a@example.com","fullName":"A",
		"boxes":[{"page":1,"posX":1,"posY":2,"width":3,"height":4,"kind":"signature"}]}]}`
	rec, out := do(t, s, http.MethodPost, "/api/v1/signature-requests", body)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "req-1", out["requestId"])
	assert.Equal(t, models.PolicyParallel, sg.createIn.Policy)
	require.Len(t, sg.createIn.Signers, 1)
	assert.Equal(t, models.BoxSignature, sg.createIn.Signers[0].Boxes[0].Kind)
	assert.Equal(t, 4.0, sg.createIn.Signers[0].Boxes[0].Height)
}

func TestCreateRequest_BadBody(t *testing.T) {
	s := newServer(&fakeSigning{}, &fakePreview{})
	rec, out := do(t, s, http.MethodPost, "/api/v1/signature-requests", `{"signers":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "failed to read request body", out["error_message"])
}

func TestValidationErrorFields(t *testing.T) {
	verr := common.NewValidationError()
	verr.Add("signers[0].email", "must be a valid email address")
	s := newServer(&fakeSigning{err: verr}, &fakePreview{})

	rec, out := do(t, s, http.MethodPost, "/api/v1/signature-requests", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, msgValidation, out["error_message"])
	assert.Equal(t, map[string]any{"signers[0].email": "must be a valid email address"}, out["fields"])
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		code int
		msg  string
	}{
		{common.ErrInvalidToken, http.StatusUnauthorized, msgInvalidLink},
		{common.ErrTokenExpired, http.StatusUnauthorized, msgInvalidLink},
		{common.ErrTokenNotFound, http.StatusUnauthorized, msgInvalidLink},
		{common.ErrAlreadyProcessed, http.StatusConflict, msgSigned},
		{common.ErrOutOfTurn, http.StatusConflict, msgOutOfTurn},
		{common.ErrVersionConflict, http.StatusConflict, msgConflict},
		{fmt.Errorf("db error: %w", common.ErrorNotFound), http.StatusNotFound, msgNotFound},
		{errors.New("connection refused to 10.0.0.5"), http.StatusInternalServerError, msgInternal},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			s := newServer(&fakeSigning{err: tt.err}, &fakePreview{})
			rec, out := do(t, s, http.MethodPost, "/api/v1/signing/reject", `{"token":"t","reason":"r"}`)
			assert.Equal(t, tt.code, rec.Code)
			assert.Equal(t, tt.msg, out["error_message"])
		})
	}
}

func TestSign(t *testing.T) {
	sg := &fakeSigning{}
	s := newServer(sg, &fakePreview{})

	rec, _ := do(t, s, http.MethodPost, "/api/v1/signing/sign", `{"token":"t","signatureImage":"iVBORw==","consent":{"accepted":false}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, out := do(t, s, http.MethodPost, "/api/v1/signing/sign",
		`{"token":"t","signatureImage":"iVBORw==","certificateThumbprint":"AB","consent":{"accepted":true}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "signed", out["result"])
	assert.Equal(t, "t", sg.signIn.Token)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, sg.signIn.SignatureImage)
	assert.Equal(t, "AB", sg.signIn.CertificateThumbprint)
	assert.Equal(t, "unit-test", sg.signIn.Consent.UserAgent)
	assert.NotEmpty(t, sg.signIn.Consent.IPAddress)
}

func TestReject(t *testing.T) {
	sg := &fakeSigning{}
	s := newServer(sg, &fakePreview{})

	rec, out := do(t, s, http.MethodPost, "/api/v1/signing/reject", `{"token":"t","reason":"no"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "rejected", out["result"])
	assert.Equal(t, [2]string{"t", "no"}, sg.rejectArg)
}

func TestValidateToken(t *testing.T) {
	sg := &fakeSigning{info: &services.TokenInfo{
		Request:             &models.SignatureRequest{ID: "req-1", DocumentID: "doc-1", Status: models.RequestPending, Policy: models.PolicySequential},
		Signer:              &models.Signer{ID: "s1", Email: "a@example.com", Order: 1, Status: models.SignerPending},
		CanSign:             true,
		SessionID:           "sess",
		DocumentAccessToken: "dat",
		DocumentAccessTTL:   15 * time.Minute,
	}}
	s := newServer(sg, &fakePreview{})

	rec, out := do(t, s, http.MethodPost, "/api/v1/signing/validate", `{"token":"t"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, out["canSign"])
	assert.Equal(t, "sess", out["sessionId"])
	assert.Equal(t, float64(900), out["expiresIn"])
}

func TestGetRequest(t *testing.T) {
	sg := &fakeSigning{getOut: &models.SignatureRequest{
		ID: "req-1", DocumentID: "doc-1", Status: models.RequestSigned, Policy: models.PolicySequential,
		Signers: []models.Signer{{ID: "s1", Email: "a@example.com", Status: models.SignerSigned, SigningTokenHash: "secret"}},
	}}
	s := newServer(sg, &fakePreview{})

	rec, out := do(t, s, http.MethodGet, "/api/v1/signature-requests/req-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "signed", out["status"])
	assert.NotContains(t, rec.Body.String(), "secret")
}

func TestOpenOriginal(t *testing.T) {
	s := newServer(&fakeSigning{url: "https://objects.test/doc"}, &fakePreview{})
	rec, out := do(t, s, http.MethodGet, "/api/v1/documents/original?access_token=a&session_id=b", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://objects.test/doc?a&b", out["url"])
}

func TestCheckAccess(t *testing.T) {
	pv := &fakePreview{grant: &services.AccessGrant{URL: "https://objects.test/sealed", SealedDocumentID: "sd", Remaining: 2}}
	s := newServer(&fakeSigning{}, pv)

	rec, out := do(t, s, http.MethodGet, "/api/v1/previews/access?access_token=a&session_id=b", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), out["remainingAccesses"])

	pv.err = common.ErrAccessDenied
	rec, out = do(t, s, http.MethodGet, "/api/v1/previews/access?access_token=a&session_id=b", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, msgInvalidLink, out["error_message"])
}

func TestUnknownRoute(t *testing.T) {
	s := newServer(&fakeSigning{}, &fakePreview{})
	rec, _ := do(t, s, http.MethodGet, "/api/v1/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
