package httpapi

import (
	"time"

	"github.com/dmitrijs2005/docseal/internal/server/models"
	"github.com/dmitrijs2005/docseal/internal/server/services"
)

type errorResponse struct {
	ErrorMessage string            `json:"error_message"`
	Fields       map[string]string `json:"fields,omitempty"`
}

type boxRequest struct {
	Page   int     `json:"page"`
	PosX   float64 `json:"posX"`
	PosY   float64 `json:"posY"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Kind   string  `json:"kind"`
}

type signerRequest struct {
	CustomerID string       `json:"customerId"`
	Email      string       `json:"email"`
	FullName   string       `json:"fullName"`
	Order      int          `json:"order"`
	Boxes      []boxRequest `json:"boxes"`
}

type createRequest struct {
	DocumentID string          `json:"documentId"`
	Policy     string          `json:"policy"`
	Signers    []signerRequest `json:"signers"`
}

func (r createRequest) toInput() services.CreateRequestInput {
	in := services.CreateRequestInput{DocumentID: r.DocumentID, Policy: models.SigningPolicy(r.Policy)}
	for _, s := range r.Signers {
		si := services.SignerInput{CustomerID: s.CustomerID, Email: s.Email, FullName: s.FullName, Order: s.Order}
		for _, b := range s.Boxes {
			si.Boxes = append(si.Boxes, services.BoxInput{
				Page: b.Page, PosX: b.PosX, PosY: b.PosY, Width: b.Width, Height: b.Height, Kind: models.BoxKind(b.Kind),
			})
		}
		in.Signers = append(in.Signers, si)
	}
	return in
}

type createdSignerResponse struct {
	SignerID     string `json:"signerId"`
	Email        string `json:"email"`
	Order        int    `json:"order"`
	SigningToken string `json:"signingToken"`
}

type createResponse struct {
	RequestID string                  `json:"requestId"`
	Status    string                  `json:"status"`
	Signers   []createdSignerResponse `json:"signers"`
}

func newCreateResponse(out *services.CreatedRequest) createResponse {
	resp := createResponse{RequestID: out.RequestID, Status: string(out.Status)}
	for _, s := range out.Signers {
		resp.Signers = append(resp.Signers, createdSignerResponse{
			SignerID: s.SignerID, Email: s.Email, Order: s.Order, SigningToken: s.SigningToken,
		})
	}
	return resp
}

type boxResponse struct {
	ID       string     `json:"id"`
	Page     int        `json:"page"`
	PosX     float64    `json:"posX"`
	PosY     float64    `json:"posY"`
	Width    float64    `json:"width"`
	Height   float64    `json:"height"`
	Kind     string     `json:"kind"`
	FilledAt *time.Time `json:"filledAt,omitempty"`
}

type signerResponse struct {
	ID         string        `json:"id"`
	CustomerID string        `json:"customerId,omitempty"`
	Email      string        `json:"email"`
	FullName   string        `json:"fullName"`
	Order      int           `json:"order"`
	Status     string        `json:"status"`
	SignedAt   *time.Time    `json:"signedAt,omitempty"`
	RejectedAt *time.Time    `json:"rejectedAt,omitempty"`
	Reason     string        `json:"rejectReason,omitempty"`
	Boxes      []boxResponse `json:"boxes,omitempty"`
}

func newSignerResponse(s models.Signer) signerResponse {
	resp := signerResponse{
		ID:         s.ID,
		CustomerID: s.CustomerID,
		Email:      s.Email,
		FullName:   s.FullName,
		Order:      s.Order,
		Status:     string(s.Status),
		SignedAt:   s.SignedAt,
		RejectedAt: s.RejectedAt,
		Reason:     s.RejectReason,
	}
	for _, b := range s.Boxes {
		resp.Boxes = append(resp.Boxes, boxResponse{
			ID: b.ID, Page: b.Page, PosX: b.PosX, PosY: b.PosY, Width: b.Width, Height: b.Height,
			Kind: string(b.Kind), FilledAt: b.RenderedAt,
		})
	}
	return resp
}

type requestResponse struct {
	ID         string           `json:"id"`
	DocumentID string           `json:"documentId"`
	Status     string           `json:"status"`
	Policy     string           `json:"policy"`
	CreatedAt  time.Time        `json:"createdAt"`
	UpdatedAt  time.Time        `json:"updatedAt"`
	Signers    []signerResponse `json:"signers"`
}

func newRequestResponse(r *models.SignatureRequest) requestResponse {
	resp := requestResponse{
		ID:         r.ID,
		DocumentID: r.DocumentID,
		Status:     string(r.Status),
		Policy:     string(r.Policy),
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
		Signers:    []signerResponse{},
	}
	for _, s := range r.Signers {
		resp.Signers = append(resp.Signers, newSignerResponse(s))
	}
	return resp
}

type tokenRequest struct {
	Token string `json:"token"`
}

type validateResponse struct {
	RequestID           string         `json:"requestId"`
	DocumentID          string         `json:"documentId"`
	Status              string         `json:"status"`
	Policy              string         `json:"policy"`
	Signer              signerResponse `json:"signer"`
	CanSign             bool           `json:"canSign"`
	SessionID           string         `json:"sessionId"`
	DocumentAccessToken string         `json:"documentAccessToken"`
	ExpiresIn           int64          `json:"expiresIn"`
}

func newValidateResponse(info *services.TokenInfo) validateResponse {
	return validateResponse{
		RequestID:           info.Request.ID,
		DocumentID:          info.Request.DocumentID,
		Status:              string(info.Request.Status),
		Policy:              string(info.Request.Policy),
		Signer:              newSignerResponse(*info.Signer),
		CanSign:             info.CanSign,
		SessionID:           info.SessionID,
		DocumentAccessToken: info.DocumentAccessToken,
		ExpiresIn:           int64(info.DocumentAccessTTL / time.Second),
	}
}

type consentRequest struct {
	Accepted    bool       `json:"accepted"`
	UserAgent   string     `json:"userAgent"`
	ConsentedAt *time.Time `json:"consentedAtUtc"`
}

// signRequest carries images as base64 strings.
type signRequest struct {
	Token                 string            `json:"token"`
	SignatureImage        []byte            `json:"signatureImage"`
	InitialsImage         []byte            `json:"initialsImage"`
	BoxValues             map[string][]byte `json:"boxValues"`
	CertificateThumbprint string            `json:"certificateThumbprint"`
	Consent               consentRequest    `json:"consent"`
}

type rejectRequest struct {
	Token  string `json:"token"`
	Reason string `json:"reason"`
}

type ackResponse struct {
	Result string `json:"result"`
}

type urlResponse struct {
	URL string `json:"url"`
}

type accessResponse struct {
	URL              string    `json:"url"`
	SealedDocumentID string    `json:"sealedDocumentId"`
	Remaining        int       `json:"remainingAccesses"`
	ExpiresAt        time.Time `json:"expiresAt"`
}
