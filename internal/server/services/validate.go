package services

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"net/mail"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/dmitrijs2005/docseal/internal/common"
	"github.com/dmitrijs2005/docseal/internal/server/models"
)

// BoxInput describes one box to place for a signer.
type BoxInput struct {
	Page   int
	PosX   float64
	PosY   float64
	Width  float64
	Height float64
	Kind   models.BoxKind
}

// SignerInput describes one signer. Order 0 means "after the explicitly
// ordered signers, in input order".
type SignerInput struct {
	CustomerID string
	Email      string
	FullName   string
	Order      int
	Boxes      []BoxInput
}

type CreateRequestInput struct {
	DocumentID string
	Policy     models.SigningPolicy
	Signers    []SignerInput
}

func validateCreate(in *CreateRequestInput) error {
	verr := common.NewValidationError()

	if strings.TrimSpace(in.DocumentID) == "" {
		verr.Add("documentId", "is required")
	}
	if in.Policy != "" && !in.Policy.Valid() {
		verr.Add("policy", "must be sequential or parallel")
	}
	if len(in.Signers) == 0 {
		verr.Add("signers", "at least one signer is required")
	}

	seenOrder := map[int]int{}
	seenEmail := map[string]int{}
	for i, s := range in.Signers {
		field := fmt.Sprintf("signers[%d]", i)

		email := strings.TrimSpace(s.Email)
		if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
			verr.Add(field+".email", "must be a valid email address")
		} else if j, dup := seenEmail[strings.ToLower(email)]; dup {
			verr.Add(field+".email", fmt.Sprintf("duplicates signers[%d]", j))
		} else {
			seenEmail[strings.ToLower(email)] = i
		}

		if strings.TrimSpace(s.FullName) == "" {
			verr.Add(field+".fullName", "is required")
		}

		switch {
		case s.Order < 0:
			verr.Add(field+".order", "must not be negative")
		case s.Order > 0:
			if j, dup := seenOrder[s.Order]; dup {
				verr.Add(field+".order", fmt.Sprintf("duplicates signers[%d]", j))
			} else {
				seenOrder[s.Order] = i
			}
		}

		if len(s.Boxes) == 0 {
			verr.Add(field+".boxes", "at least one box is required")
		}
		for j, b := range s.Boxes {
			box := models.SignatureBox{Page: b.Page, PosX: b.PosX, PosY: b.PosY, Width: b.Width, Height: b.Height, Kind: b.Kind}
			for f, msg := range box.GeometryErrors() {
				verr.Add(fmt.Sprintf("%s.boxes[%d].%s", field, j, f), msg)
			}
		}
	}

	return verr.OrNil()
}

// assignOrders returns the input indexes in signing order. Explicit orders
// come first, ascending, followed by unordered signers in input order.
// Position i of the result gets order i+1.
func assignOrders(signers []SignerInput) []int {
	idx := make([]int, len(signers))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		oa, ob := signers[idx[a]].Order, signers[idx[b]].Order
		switch {
		case oa == 0:
			return false
		case ob == 0:
			return true
		default:
			return oa < ob
		}
	})
	return idx
}

func validateReason(reason string) (string, error) {
	reason = strings.TrimSpace(reason)
	verr := common.NewValidationError()
	switch {
	case reason == "":
		verr.Add("reason", "is required")
	case utf8.RuneCountInString(reason) > common.MaxRejectReasonLength:
		verr.Add("reason", fmt.Sprintf("must be at most %d characters", common.MaxRejectReasonLength))
	}
	return reason, verr.OrNil()
}

// validateImage accepts PNG and JPEG data.
func validateImage(b []byte) bool {
	if len(b) == 0 {
		return false
	}
	_, format, err := image.DecodeConfig(bytes.NewReader(b))
	return err == nil && (format == "png" || format == "jpeg")
}
