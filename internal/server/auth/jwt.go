// Package auth issues and verifies the HS256 tokens handed to signers:
// signing tokens that authorize one signer's action, and short-lived
// document-access tokens scoped to the original document. Each purpose
// signs with its own key derived from the master secret.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dmitrijs2005/docseal/internal/common"
	"github.com/dmitrijs2005/docseal/internal/cryptox"
	"github.com/dmitrijs2005/docseal/internal/timex"
)

type Purpose string

const (
	PurposeSign           Purpose = "sign"
	PurposeDocumentAccess Purpose = "document_access"
)

// Claims carry the signer as the subject plus the scope of the token.
type Claims struct {
	jwt.RegisteredClaims
	Purpose    Purpose `json:"pur"`
	RequestID  string  `json:"rid"`
	DocumentID string  `json:"doc,omitempty"`
	SessionID  string  `json:"sid,omitempty"`
}

func (c *Claims) SignerID() string {
	return c.Subject
}

type Issuer struct {
	keys map[Purpose][]byte
	now  timex.Clock
}

func NewIssuer(secret []byte, now timex.Clock) (*Issuer, error) {
	if now == nil {
		now = timex.UTCNow
	}
	keys := make(map[Purpose][]byte, 2)
	for _, p := range []Purpose{PurposeSign, PurposeDocumentAccess} {
		k, err := cryptox.DeriveKey(secret, "docseal/token/"+string(p), 32)
		if err != nil {
			return nil, err
		}
		keys[p] = k
	}
	return &Issuer{keys: keys, now: now}, nil
}

// IssueSigningToken authorizes signerID to sign or reject within requestID.
func (i *Issuer) IssueSigningToken(signerID, requestID string, ttl time.Duration) (string, error) {
	return i.issue(Claims{Purpose: PurposeSign, RequestID: requestID}, signerID, ttl)
}

// IssueDocumentAccess authorizes reading documentID during sessionID.
func (i *Issuer) IssueDocumentAccess(signerID, requestID, documentID, sessionID string, ttl time.Duration) (string, error) {
	return i.issue(Claims{
		Purpose:    PurposeDocumentAccess,
		RequestID:  requestID,
		DocumentID: documentID,
		SessionID:  sessionID,
	}, signerID, ttl)
}

func (i *Issuer) issue(c Claims, subject string, ttl time.Duration) (string, error) {
	now := i.now()
	c.RegisteredClaims = jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(i.keys[c.Purpose])
}

// Parse verifies token for purpose. Expired tokens yield
// common.ErrTokenExpired; anything else wrong yields common.ErrInvalidToken.
func (i *Issuer) Parse(purpose Purpose, token string) (*Claims, error) {
	key, ok := i.keys[purpose]
	if !ok {
		return nil, common.ErrInvalidToken
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, common.ErrTokenExpired
		}
		return nil, common.ErrInvalidToken
	}
	if !parsed.Valid || claims.Purpose != purpose || claims.Subject == "" {
		return nil, common.ErrInvalidToken
	}
	return claims, nil
}
