package services

import (
	"context"
	"errors"
	"image/color"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/docseal/internal/common"
	"github.com/dmitrijs2005/docseal/internal/server/events"
	"github.com/dmitrijs2005/docseal/internal/server/models"
)

func TestCreate_AssignsOrders(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	out, err := h.signing.Create(ctx, CreateRequestInput{
		DocumentID: "doc-1",
		Signers: []SignerInput{
			signerInput("late@example.com", 0),
			signerInput("third@example.com", 30),
			signerInput("first@example.com", 5),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, models.RequestPending, out.Status)

	got := map[string]int{}
	for _, s := range out.Signers {
		got[s.Email] = s.Order
		assert.NotEmpty(t, s.SigningToken)
	}
	assert.Equal(t, map[string]int{"first@example.com": 1, "third@example.com": 2, "late@example.com": 3}, got)

	req, err := h.signing.GetRequest(ctx, out.RequestID)
	require.NoError(t, err)
	assert.Equal(t, models.PolicySequential, req.Policy)
	require.Len(t, req.Signers, 3)
	for i, s := range req.Signers {
		assert.Equal(t, i+1, s.Order)
		assert.Empty(t, s.SigningTokenHash)
		assert.Len(t, s.Boxes, 1)
	}
	assert.Empty(t, h.events.Types())
}

func TestCreate_Validation(t *testing.T) {
	box := BoxInput{Page: 1, Width: 10, Height: 10, Kind: models.BoxSignature}

	tests := []struct {
		name  string
		in    CreateRequestInput
		field string
	}{
		{"no document", CreateRequestInput{Signers: []SignerInput{signerInput("a@example.com", 0)}}, "documentId"},
		{"no signers", CreateRequestInput{DocumentID: "d"}, "signers"},
		{"bad policy", CreateRequestInput{DocumentID: "d", Policy: "random", Signers: []SignerInput{signerInput("a@example.com", 0)}}, "policy"},
		{"bad email", CreateRequestInput{DocumentID: "d", Signers: []SignerInput{signerInput("not-an-email", 0)}}, "signers[0].email"},
		{"display name email", CreateRequestInput{DocumentID: "d", Signers: []SignerInput{signerInput("Bob <bob@example.com>", 0)}}, "signers[0].email"},
		{"duplicate email", CreateRequestInput{DocumentID: "d", Signers: []SignerInput{signerInput("a@example.com", 0), signerInput("A@example.com", 0)}}, "signers[1].email"},
		{"missing name", CreateRequestInput{DocumentID: "d", Signers: []SignerInput{{Email: "a@example.com", Boxes: []BoxInput{box}}}}, "signers[0].fullName"},
		{"negative order", CreateRequestInput{DocumentID: "d", Signers: []SignerInput{signerInput("a@example.com", -1)}}, "signers[0].order"},
		{"duplicate order", CreateRequestInput{DocumentID: "d", Signers: []SignerInput{signerInput("a@example.com", 2), signerInput("b@example.com", 2)}}, "signers[1].order"},
		{"no boxes", CreateRequestInput{DocumentID: "d", Signers: []SignerInput{{Email: "a@example.com", FullName: "A"}}}, "signers[0].boxes"},
		{"bad geometry", CreateRequestInput{DocumentID: "d", Signers: []SignerInput{{Email: "a@example.com", FullName: "A",
			Boxes: []BoxInput{{Page: 0, Width: 10, Height: 10, Kind: models.BoxSignature}}}}}, "signers[0].boxes[0].page"},
		{"bad kind", CreateRequestInput{DocumentID: "d", Signers: []SignerInput{{Email: "a@example.com", FullName: "A",
			Boxes: []BoxInput{{Page: 1, Width: 10, Height: 10, Kind: "stamp"}}}}}, "signers[0].boxes[0].kind"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			_, err := h.signing.Create(context.Background(), tt.in)
			require.ErrorIs(t, err, common.ErrValidation)

			var verr *common.ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Contains(t, verr.Fields, tt.field)
		})
	}
}

func TestSign_SequentialFlow(t *testing.T) {
	h := newHarness(t)
	out, signers := h.createRequest(t, models.PolicySequential, 3)

	require.NoError(t, h.sign(t, signers[0].SigningToken))
	assert.Equal(t, models.RequestPartiallySigned, h.requestStatus(t, out.RequestID))

	assert.ErrorIs(t, h.sign(t, signers[2].SigningToken), common.ErrOutOfTurn)

	require.NoError(t, h.sign(t, signers[1].SigningToken))
	assert.Equal(t, models.RequestPartiallySigned, h.requestStatus(t, out.RequestID))

	h.clock.Advance(time.Minute)
	require.NoError(t, h.sign(t, signers[2].SigningToken))
	assert.Equal(t, models.RequestSigned, h.requestStatus(t, out.RequestID))

	assert.Equal(t, []events.Type{
		events.TypeDocumentPartiallySigned,
		events.TypeDocumentPartiallySigned,
		events.TypeDocumentFullySigned,
		events.TypeDocumentReadyToSeal,
	}, h.events.Types())

	envs := h.events.Envelopes()
	partial, err := events.Decode[events.DocumentPartiallySigned](envs[1])
	require.NoError(t, err)
	assert.Equal(t, 2, partial.SignedCount)
	assert.Equal(t, 3, partial.TotalSigners)
	assert.Equal(t, signers[1].SignerID, partial.SignerID)

	full, err := events.Decode[events.DocumentFullySigned](envs[2])
	require.NoError(t, err)
	assert.True(t, full.CompletedAt.Equal(t0.Add(time.Minute)))

	ready, err := events.Decode[events.DocumentReadyToSeal](envs[3])
	require.NoError(t, err)
	assert.Equal(t, "doc-1", ready.DocumentID)
	assert.Equal(t, "THUMB", ready.CertificateThumbprint)
	require.Len(t, ready.Signatures, 3)
	for i, sig := range ready.Signatures {
		assert.Equal(t, i+1, sig.Order)
		assert.Equal(t, "203.0.113.7", sig.Consent.IPAddress)
		require.NotNil(t, sig.Consent.ConsentedAt)
		require.Len(t, sig.Boxes, 2)
		for _, b := range sig.Boxes {
			assert.NotEmpty(t, b.Value)
		}
	}
	for _, e := range envs {
		assert.Equal(t, out.RequestID, e.Key)
	}

	assert.ErrorIs(t, h.sign(t, signers[0].SigningToken), common.ErrAlreadyProcessed)
}

func TestSign_DateBoxValue(t *testing.T) {
	h := newHarness(t)
	_, signers := h.createRequest(t, models.PolicySequential, 1)
	require.NoError(t, h.sign(t, signers[0].SigningToken))

	boxes, err := h.store.Boxes(nil).ListBySigner(context.Background(), signers[0].SignerID)
	require.NoError(t, err)
	for _, b := range boxes {
		if b.Kind == models.BoxDate {
			assert.Equal(t, "2025-03-01", string(b.Value))
		}
		assert.NotNil(t, b.RenderedAt)
	}
}

func TestSign_ParallelAnyOrder(t *testing.T) {
	h := newHarness(t)
	out, signers := h.createRequest(t, models.PolicyParallel, 3)

	require.NoError(t, h.sign(t, signers[2].SigningToken))
	require.NoError(t, h.sign(t, signers[0].SigningToken))
	require.NoError(t, h.sign(t, signers[1].SigningToken))
	assert.Equal(t, models.RequestSigned, h.requestStatus(t, out.RequestID))
}

func TestSign_ConcurrentCompletionFiresOnce(t *testing.T) {
	const signersPerRequest = 4
	img := pngImage(t, color.Black)

	for round := 0; round < 20; round++ {
		h := newHarness(t)
		out, signers := h.createRequest(t, models.PolicyParallel, signersPerRequest)

		// Every signer submits twice at once.
		errs := make([]error, 2*signersPerRequest)
		var wg sync.WaitGroup
		for i := range errs {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs[i] = h.signing.Sign(context.Background(), SignInput{
					Token:          signers[i%signersPerRequest].SigningToken,
					SignatureImage: img,
				})
			}(i)
		}
		wg.Wait()

		accepted := 0
		for _, err := range errs {
			if err == nil {
				accepted++
				continue
			}
			require.ErrorIs(t, err, common.ErrAlreadyProcessed)
		}
		assert.Equal(t, signersPerRequest, accepted)
		assert.Equal(t, models.RequestSigned, h.requestStatus(t, out.RequestID))

		counts := map[events.Type]int{}
		for _, typ := range h.events.Types() {
			counts[typ]++
		}
		assert.Equal(t, 1, counts[events.TypeDocumentFullySigned], "round %d", round)
		assert.Equal(t, 1, counts[events.TypeDocumentReadyToSeal], "round %d", round)
		assert.Equal(t, signersPerRequest-1, counts[events.TypeDocumentPartiallySigned], "round %d", round)
	}
}

func TestSign_DoubleSign(t *testing.T) {
	h := newHarness(t)
	out, signers := h.createRequest(t, models.PolicyParallel, 2)

	require.NoError(t, h.sign(t, signers[0].SigningToken))
	assert.ErrorIs(t, h.sign(t, signers[0].SigningToken), common.ErrAlreadyProcessed)
	assert.Equal(t, models.RequestPartiallySigned, h.requestStatus(t, out.RequestID))
	assert.Len(t, h.events.Types(), 1)
}

func TestSign_InvalidImageLeavesNoTrace(t *testing.T) {
	h := newHarness(t)
	out, signers := h.createRequest(t, models.PolicySequential, 1)

	err := h.signing.Sign(context.Background(), SignInput{Token: signers[0].SigningToken, SignatureImage: []byte("GIF89a not really")})
	require.ErrorIs(t, err, common.ErrValidation)

	assert.Equal(t, models.RequestPending, h.requestStatus(t, out.RequestID))
	sg, err := h.store.Signers(nil).GetByID(context.Background(), signers[0].SignerID)
	require.NoError(t, err)
	assert.Equal(t, models.SignerPending, sg.Status)
	assert.Empty(t, h.events.Types())
}

func TestSign_MissingInitials(t *testing.T) {
	h := newHarness(t)
	out, err := h.signing.Create(context.Background(), CreateRequestInput{
		DocumentID: "doc-1",
		Signers:    []SignerInput{signerInput("a@example.com", 0, models.BoxSignature, models.BoxInitials)},
	})
	require.NoError(t, err)

	err = h.sign(t, out.Signers[0].SigningToken)
	require.ErrorIs(t, err, common.ErrValidation)

	err = h.signing.Sign(context.Background(), SignInput{
		Token:          out.Signers[0].SigningToken,
		SignatureImage: pngImage(t, color.Black),
		InitialsImage:  pngImage(t, color.White),
	})
	require.NoError(t, err)
}

func TestSign_PublishFailureKeepsState(t *testing.T) {
	h := newHarness(t)
	out, signers := h.createRequest(t, models.PolicySequential, 2)
	h.events.Err = errors.New("broker down")

	require.NoError(t, h.sign(t, signers[0].SigningToken))
	assert.Equal(t, models.RequestPartiallySigned, h.requestStatus(t, out.RequestID))
}

func TestReject_Flow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	out, signers := h.createRequest(t, models.PolicySequential, 3)

	require.NoError(t, h.sign(t, signers[0].SigningToken))

	err := h.signing.Reject(ctx, signers[2].SigningToken, "  wrong amount  ")
	require.NoError(t, err)
	assert.Equal(t, models.RequestRejected, h.requestStatus(t, out.RequestID))

	types := h.events.Types()
	require.Len(t, types, 2)
	assert.Equal(t, events.TypeSignatureRequestRejected, types[1])
	rejected, err := events.Decode[events.SignatureRequestRejected](h.events.Envelopes()[1])
	require.NoError(t, err)
	assert.Equal(t, "wrong amount", rejected.Reason)
	assert.Equal(t, signers[2].SignerID, rejected.SignerID)

	assert.ErrorIs(t, h.sign(t, signers[1].SigningToken), common.ErrAlreadyProcessed)
	assert.ErrorIs(t, h.signing.Reject(ctx, signers[1].SigningToken, "late"), common.ErrAlreadyProcessed)
}

func TestReject_Reason(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	out, signers := h.createRequest(t, models.PolicySequential, 1)

	assert.ErrorIs(t, h.signing.Reject(ctx, signers[0].SigningToken, "   "), common.ErrValidation)
	long := strings.Repeat("x", common.MaxRejectReasonLength+1)
	assert.ErrorIs(t, h.signing.Reject(ctx, signers[0].SigningToken, long), common.ErrValidation)
	assert.Equal(t, models.RequestPending, h.requestStatus(t, out.RequestID))

	require.NoError(t, h.signing.Reject(ctx, signers[0].SigningToken, strings.Repeat("y", common.MaxRejectReasonLength)))
}

func TestTokens(t *testing.T) {
	h := newHarness(t)
	out, signers := h.createRequest(t, models.PolicySequential, 1)

	assert.ErrorIs(t, h.sign(t, "garbage"), common.ErrInvalidToken)

	unknown, err := h.issuer.IssueSigningToken("no-such-signer", out.RequestID, time.Hour)
	require.NoError(t, err)
	assert.ErrorIs(t, h.sign(t, unknown), common.ErrTokenNotFound)

	reissued, err := h.issuer.IssueSigningToken(signers[0].SignerID, out.RequestID, time.Hour)
	require.NoError(t, err)
	assert.ErrorIs(t, h.sign(t, reissued), common.ErrInvalidToken)

	otherRequest, err := h.issuer.IssueSigningToken(signers[0].SignerID, "other-request", time.Hour)
	require.NoError(t, err)
	assert.ErrorIs(t, h.sign(t, otherRequest), common.ErrTokenNotFound)

	h.clock.Advance(h.cfg.SigningTokenValidity + time.Second)
	assert.ErrorIs(t, h.sign(t, signers[0].SigningToken), common.ErrTokenExpired)
	_, err = h.signing.ValidateToken(context.Background(), signers[0].SigningToken)
	assert.ErrorIs(t, err, common.ErrTokenExpired)
}

func TestValidateToken_AndOpenDocument(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	out, signers := h.createRequest(t, models.PolicySequential, 2)

	first, err := h.signing.ValidateToken(ctx, signers[0].SigningToken)
	require.NoError(t, err)
	assert.True(t, first.CanSign)
	assert.Equal(t, out.RequestID, first.Request.ID)
	assert.Len(t, first.Signer.Boxes, 2)
	assert.Empty(t, first.Signer.SigningTokenHash)

	second, err := h.signing.ValidateToken(ctx, signers[1].SigningToken)
	require.NoError(t, err)
	assert.False(t, second.CanSign)
	assert.NotEqual(t, first.SessionID, second.SessionID)

	url, err := h.signing.OpenOriginalDocument(ctx, first.DocumentAccessToken, first.SessionID)
	require.NoError(t, err)
	assert.Contains(t, url, "documents/doc-1.pdf")

	_, err = h.signing.OpenOriginalDocument(ctx, first.DocumentAccessToken, second.SessionID)
	assert.ErrorIs(t, err, common.ErrInvalidToken)

	_, err = h.signing.OpenOriginalDocument(ctx, signers[0].SigningToken, first.SessionID)
	assert.ErrorIs(t, err, common.ErrInvalidToken)

	h.clock.Advance(h.cfg.DocumentAccessTokenValidity + time.Second)
	_, err = h.signing.OpenOriginalDocument(ctx, first.DocumentAccessToken, first.SessionID)
	assert.ErrorIs(t, err, common.ErrTokenExpired)
}

func TestGetRequest_NotFound(t *testing.T) {
	h := newHarness(t)
	_, err := h.signing.GetRequest(context.Background(), "missing")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestAssignOrders(t *testing.T) {
	in := []SignerInput{{Order: 0}, {Order: 2}, {Order: 0}, {Order: 1}}
	assert.Equal(t, []int{3, 1, 0, 2}, assignOrders(in))
}
