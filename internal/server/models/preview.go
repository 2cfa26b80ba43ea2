package models

import "time"

// SignPreviewDocument grants one signer bounded access to a sealed document.
type SignPreviewDocument struct {
	ID                 string
	SignatureRequestID string
	SignerID           string
	OriginalDocumentID string
	SealedDocumentID   string
	AccessTokenHash    string
	SessionID          string
	RequestFingerprint string
	ExpiresAt          time.Time
	AccessCount        int
	MaxAccessCount     int
	IsActive           bool
	LastAccessedAt     *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

type PreviewState string

const (
	PreviewCreated   PreviewState = "created"
	PreviewActive    PreviewState = "active"
	PreviewExhausted PreviewState = "exhausted"
	PreviewExpired   PreviewState = "expired"
	PreviewRevoked   PreviewState = "revoked"
)

// State derives the lifecycle state at now. Revocation beats expiry,
// which beats exhaustion.
func (p SignPreviewDocument) State(now time.Time) PreviewState {
	switch {
	case !p.IsActive:
		return PreviewRevoked
	case !now.Before(p.ExpiresAt):
		return PreviewExpired
	case p.AccessCount >= p.MaxAccessCount:
		return PreviewExhausted
	case p.AccessCount == 0:
		return PreviewCreated
	default:
		return PreviewActive
	}
}

// Accessible reports whether one more access would be granted at now.
func (p SignPreviewDocument) Accessible(now time.Time) bool {
	s := p.State(now)
	return s == PreviewCreated || s == PreviewActive
}
