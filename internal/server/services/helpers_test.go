package services

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/docseal/internal/common"
	"github.com/dmitrijs2005/docseal/internal/logging"
	"github.com/dmitrijs2005/docseal/internal/server/auth"
	"github.com/dmitrijs2005/docseal/internal/server/config"
	"github.com/dmitrijs2005/docseal/internal/server/events"
	"github.com/dmitrijs2005/docseal/internal/server/models"
	"github.com/dmitrijs2005/docseal/internal/server/repositories/memory"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fakeDocs struct {
	mu         sync.Mutex
	objects    map[string][]byte
	types      map[string]string
	getErr     error
	putErr     error
	presignErr error
}

func newFakeDocs() *fakeDocs {
	return &fakeDocs{objects: map[string][]byte{}, types: map[string]string{}}
}

func (f *fakeDocs) Get(_ context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	b, ok := f.objects[key]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return b, nil
}

func (f *fakeDocs) Put(_ context.Context, key string, data []byte, contentType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putErr != nil {
		return f.putErr
	}
	f.objects[key] = data
	f.types[key] = contentType
	return nil
}

func (f *fakeDocs) PresignGet(_ context.Context, key string, ttl time.Duration) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.presignErr != nil {
		return "", f.presignErr
	}
	return fmt.Sprintf("https://objects.test/%s?ttl=%s", key, ttl), nil
}

func (f *fakeDocs) object(key string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.objects[key]
	return b, ok
}

type harness struct {
	clock   *testClock
	store   *memory.Store
	events  *events.Recorder
	docs    *fakeDocs
	issuer  *auth.Issuer
	cfg     *config.Config
	signing *SigningService
	preview *PreviewService
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.DefaultMaxAccessCount = 3

	h := &harness{
		clock:  &testClock{t: t0},
		store:  memory.NewStore(),
		events: &events.Recorder{},
		docs:   newFakeDocs(),
		cfg:    cfg,
	}

	issuer, err := auth.NewIssuer([]byte(cfg.SecretKey), h.clock.Now)
	require.NoError(t, err)
	h.issuer = issuer

	h.signing = NewSigningService(h.store, h.store, issuer, h.events, h.docs, cfg, "THUMB", logging.Nop{})
	h.signing.now = h.clock.Now

	h.preview, err = NewPreviewService(h.store, h.store, h.docs, cfg, logging.Nop{})
	require.NoError(t, err)
	h.preview.now = h.clock.Now

	return h
}

func pngImage(t *testing.T, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, c)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func signerInput(email string, order int, kinds ...models.BoxKind) SignerInput {
	if len(kinds) == 0 {
		kinds = []models.BoxKind{models.BoxSignature}
	}
	in := SignerInput{Email: email, FullName: "Signer " + email, Order: order, CustomerID: "cust-" + email}
	for i, k := range kinds {
		in.Boxes = append(in.Boxes, BoxInput{Page: 1, PosX: 10, PosY: float64(20 + 40*i), Width: 120, Height: 30, Kind: k})
	}
	return in
}

// createRequest creates a request and returns the signers in signing order.
func (h *harness) createRequest(t *testing.T, policy models.SigningPolicy, n int) (*CreatedRequest, []CreatedSigner) {
	t.Helper()
	in := CreateRequestInput{DocumentID: "doc-1", Policy: policy}
	for i := 0; i < n; i++ {
		in.Signers = append(in.Signers, signerInput(fmt.Sprintf("s%d@example.com", i+1), i+1, models.BoxSignature, models.BoxDate))
	}
	out, err := h.signing.Create(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, out.Signers, n)
	return out, out.Signers
}

func (h *harness) sign(t *testing.T, token string) error {
	t.Helper()
	return h.signing.Sign(context.Background(), SignInput{
		Token:          token,
		SignatureImage: pngImage(t, color.Black),
		Consent:        models.Consent{IPAddress: "203.0.113.7", UserAgent: "test-agent"},
	})
}

func (h *harness) requestStatus(t *testing.T, id string) models.RequestStatus {
	t.Helper()
	req, err := h.store.SignatureRequests(nil).GetByID(context.Background(), id)
	require.NoError(t, err)
	return req.Status
}
