package models

import (
	"time"
)

type BoxKind string

const (
	BoxSignature BoxKind = "signature"
	BoxInitials  BoxKind = "initials"
	BoxDate      BoxKind = "date"
)

func (k BoxKind) Valid() bool {
	switch k {
	case BoxSignature, BoxInitials, BoxDate:
		return true
	}
	return false
}

// IsImage reports whether the box is filled with an image rather than text.
func (k BoxKind) IsImage() bool {
	return k == BoxSignature || k == BoxInitials
}

// SignatureBox is a rectangle on a document page that the owning signer fills.
// Coordinates are in page units with the origin at the top-left corner.
type SignatureBox struct {
	ID         string
	SignerID   string
	Page       int
	PosX       float64
	PosY       float64
	Width      float64
	Height     float64
	Kind       BoxKind
	Value      []byte
	RenderedAt *time.Time
}

// GeometryErrors returns field name → message for every geometry violation.
func (b SignatureBox) GeometryErrors() map[string]string {
	errs := map[string]string{}
	if b.Page < 1 {
		errs["page"] = "must be at least 1"
	}
	if b.PosX < 0 {
		errs["posX"] = "must not be negative"
	}
	if b.PosY < 0 {
		errs["posY"] = "must not be negative"
	}
	if b.Width <= 0 {
		errs["width"] = "must be positive"
	}
	if b.Height <= 0 {
		errs["height"] = "must be positive"
	}
	if !b.Kind.Valid() {
		errs["kind"] = "must be signature, initials or date"
	}
	return errs
}

func (b SignatureBox) Rendered() bool {
	return len(b.Value) > 0
}
