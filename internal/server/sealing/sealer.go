// Package sealing stamps rendered signature marks into a document and seals
// the result with the platform certificate (RSA PKCS#1 v1.5 over SHA-256).
package sealing

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/docseal/internal/common"
	"github.com/dmitrijs2005/docseal/internal/server/models"
)

type Result struct {
	Sealed     []byte
	Signature  []byte
	Digest     string
	Thumbprint string
}

type Sealer struct {
	stamper Stamper
}

func NewSealer(stamper Stamper) *Sealer {
	if stamper == nil {
		stamper = ManifestStamper{}
	}
	return &Sealer{stamper: stamper}
}

// Seal stamps every box of every signer into doc and signs the digest of the
// stamped bytes. Missing key material or unrendered boxes are fatal.
func (s *Sealer) Seal(doc []byte, signers []models.Signer, cert *Certificate) (*Result, error) {
	if cert == nil || cert.Cert == nil || cert.Key == nil {
		return nil, fmt.Errorf("%w: certificate has no RSA private key", common.ErrFatalSealing)
	}

	marks, err := collectMarks(signers)
	if err != nil {
		return nil, err
	}

	stamped, err := s.stamper.Stamp(doc, marks)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrFatalSealing, err)
	}

	digest := sha256.Sum256(stamped)
	sig, err := rsa.SignPKCS1v15(rand.Reader, cert.Key, crypto.SHA256, digest[:])
	if err != nil {
		return nil, fmt.Errorf("%w: sign: %v", common.ErrFatalSealing, err)
	}

	return &Result{
		Sealed:     stamped,
		Signature:  sig,
		Digest:     hex.EncodeToString(digest[:]),
		Thumbprint: cert.Thumbprint,
	}, nil
}

func collectMarks(signers []models.Signer) ([]Mark, error) {
	if len(signers) == 0 {
		return nil, fmt.Errorf("%w: no signers", common.ErrFatalSealing)
	}

	var marks []Mark
	for _, sg := range signers {
		if len(sg.Boxes) == 0 {
			return nil, fmt.Errorf("%w: signer %s has no rendered boxes", common.ErrFatalSealing, sg.ID)
		}
		for _, b := range sg.Boxes {
			if !b.Rendered() {
				return nil, fmt.Errorf("%w: box %s of signer %s is not rendered", common.ErrFatalSealing, b.ID, sg.ID)
			}
			marks = append(marks, Mark{
				SignerID: sg.ID,
				Signer:   sg.FullName,
				Order:    sg.Order,
				BoxID:    b.ID,
				Kind:     string(b.Kind),
				Page:     b.Page,
				X:        b.PosX,
				Y:        b.PosY,
				Width:    b.Width,
				Height:   b.Height,
				Value:    b.Value,
			})
		}
	}
	return marks, nil
}

var ErrBadSeal = errors.New("seal signature does not verify")

// VerifySeal checks a detached signature produced by Seal.
func VerifySeal(sealed, signature []byte, cert *x509.Certificate) error {
	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return fmt.Errorf("certificate key is %T, not RSA", cert.PublicKey)
	}
	digest := sha256.Sum256(sealed)
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], signature); err != nil {
		return ErrBadSeal
	}
	return nil
}
