package events

import "time"

type DocumentPartiallySigned struct {
	SignatureRequestID string    `json:"signatureRequestId"`
	DocumentID         string    `json:"documentId"`
	SignerID           string    `json:"signerId"`
	SignedCount        int       `json:"signedCount"`
	TotalSigners       int       `json:"totalSigners"`
	SignedAt           time.Time `json:"signedAt"`
}

type DocumentFullySigned struct {
	SignatureRequestID string    `json:"signatureRequestId"`
	DocumentID         string    `json:"documentId"`
	CompletedAt        time.Time `json:"completedAt"`
}

type Consent struct {
	IPAddress   string     `json:"ipAddress,omitempty"`
	UserAgent   string     `json:"userAgent,omitempty"`
	ConsentedAt *time.Time `json:"consentedAtUtc,omitempty"`
}

// Box is a filled signature box. Value is base64 in JSON.
type Box struct {
	ID     string  `json:"id"`
	Page   int     `json:"page"`
	PosX   float64 `json:"posX"`
	PosY   float64 `json:"posY"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Kind   string  `json:"kind"`
	Value  []byte  `json:"value"`
}

type Signature struct {
	SignerID              string     `json:"signerId"`
	FullName              string     `json:"fullName"`
	Email                 string     `json:"email"`
	Order                 int        `json:"order"`
	SignedAt              *time.Time `json:"signedAtUtc,omitempty"`
	CertificateThumbprint string     `json:"certificateThumbprint,omitempty"`
	Consent               Consent    `json:"consent"`
	Boxes                 []Box      `json:"boxes"`
}

type DocumentReadyToSeal struct {
	SignatureRequestID    string      `json:"signatureRequestId"`
	DocumentID            string      `json:"documentId"`
	CertificateThumbprint string      `json:"certificateThumbprint"`
	Signatures            []Signature `json:"signatures"`
}

type SignatureRequestRejected struct {
	SignatureRequestID string    `json:"signatureRequestId"`
	DocumentID         string    `json:"documentId"`
	SignerID           string    `json:"signerId"`
	Reason             string    `json:"reason"`
	RejectedAt         time.Time `json:"rejectedAt"`
}

type DocumentSealed struct {
	SignatureRequestID    string    `json:"signatureRequestId"`
	DocumentID            string    `json:"documentId"`
	SealedDocumentID      string    `json:"sealedDocumentId"`
	SealedObjectKey       string    `json:"sealedObjectKey"`
	SignatureObjectKey    string    `json:"signatureObjectKey"`
	Digest                string    `json:"digest"`
	Signature             []byte    `json:"signature"`
	CertificateThumbprint string    `json:"certificateThumbprint"`
	SealedAt              time.Time `json:"sealedAt"`
}

// SecureDownloadSignedDocument carries an encrypted preview grant.
// EncryptedPayload is base64(IV || AES-256-CBC ciphertext) of a
// PreviewPayload; PayloadHash is the hex fingerprint of its fields.
type SecureDownloadSignedDocument struct {
	EncryptedPayload string    `json:"encryptedPayload"`
	PayloadHash      string    `json:"payloadHash"`
	SealedDocumentID string    `json:"sealedDocumentId"`
	ExpiresAt        time.Time `json:"expiresAt"`
}

// PreviewPayload is the plaintext inside SecureDownloadSignedDocument.
type PreviewPayload struct {
	SignerID           string `json:"signerId"`
	AccessToken        string `json:"accessToken"`
	SessionID          string `json:"sessionId"`
	RequestFingerprint string `json:"requestFingerprint"`
}
