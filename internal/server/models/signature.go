// Package models defines the signature workflow aggregate and the preview
// access record, together with the pure rules that govern their state.
package models

import (
	"time"
)

// SigningPolicy controls whether signers must act in order.
type SigningPolicy string

const (
	PolicySequential SigningPolicy = "sequential"
	PolicyParallel   SigningPolicy = "parallel"
)

func (p SigningPolicy) Valid() bool {
	return p == PolicySequential || p == PolicyParallel
}

type RequestStatus string

const (
	RequestPending         RequestStatus = "pending"
	RequestPartiallySigned RequestStatus = "partially_signed"
	RequestSigned          RequestStatus = "signed"
	RequestRejected        RequestStatus = "rejected"
)

// Terminal reports whether no further signer action is accepted.
func (s RequestStatus) Terminal() bool {
	return s == RequestSigned || s == RequestRejected
}

func (s RequestStatus) rank() int {
	switch s {
	case RequestPending:
		return 0
	case RequestPartiallySigned:
		return 1
	case RequestSigned, RequestRejected:
		return 2
	}
	return -1
}

// CanMoveTo reports whether next is a legal successor of s.
// Status never moves backwards and terminal states are final.
func (s RequestStatus) CanMoveTo(next RequestStatus) bool {
	if s.Terminal() || next.rank() < 0 {
		return s == next
	}
	if next == RequestRejected {
		return true
	}
	return next.rank() >= s.rank()
}

type SignerStatus string

const (
	SignerPending  SignerStatus = "pending"
	SignerSigned   SignerStatus = "signed"
	SignerRejected SignerStatus = "rejected"
)

// SignatureRequest is the aggregate root of one signing workflow.
type SignatureRequest struct {
	ID         string
	DocumentID string
	Status     RequestStatus
	Policy     SigningPolicy
	Version    int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
	ArchivedAt *time.Time

	Signers []Signer
}

// Consent is what the signer's client reported when the signature was given.
type Consent struct {
	IPAddress   string
	UserAgent   string
	ConsentedAt *time.Time
}

type Signer struct {
	ID                 string
	SignatureRequestID string
	CustomerID         string
	Email              string
	FullName           string
	Order              int
	Status             SignerStatus
	SignedAt           *time.Time
	RejectedAt         *time.Time
	RejectReason       string

	// SigningTokenHash is the SHA-256 of the last issued signing token.
	SigningTokenHash string

	Consent               Consent
	CertificateThumbprint string

	Boxes []SignatureBox
}

// ComputeStatus derives the request status from its signers.
// Any rejection wins; otherwise all signed, some signed or none signed.
func ComputeStatus(signers []Signer) RequestStatus {
	if len(signers) == 0 {
		return RequestPending
	}

	signed := 0
	for _, s := range signers {
		switch s.Status {
		case SignerRejected:
			return RequestRejected
		case SignerSigned:
			signed++
		}
	}

	switch {
	case signed == len(signers):
		return RequestSigned
	case signed > 0:
		return RequestPartiallySigned
	default:
		return RequestPending
	}
}

// IsTurn reports whether the signer at order may act. Under the parallel
// policy everyone may; under the sequential one all lower orders must be signed.
func IsTurn(policy SigningPolicy, signers []Signer, order int) bool {
	if policy == PolicyParallel {
		return true
	}
	for _, s := range signers {
		if s.Order < order && s.Status != SignerSigned {
			return false
		}
	}
	return true
}

// FindSigner returns the signer with id, or nil.
func (r *SignatureRequest) FindSigner(id string) *Signer {
	for i := range r.Signers {
		if r.Signers[i].ID == id {
			return &r.Signers[i]
		}
	}
	return nil
}
