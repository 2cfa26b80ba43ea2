package sealing

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// Mark is one rendered box to be placed on the document.
type Mark struct {
	SignerID string  `json:"signerId"`
	Signer   string  `json:"signer"`
	Order    int     `json:"order"`
	BoxID    string  `json:"boxId"`
	Kind     string  `json:"kind"`
	Page     int     `json:"page"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Width    float64 `json:"width"`
	Height   float64 `json:"height"`
	Value    []byte  `json:"value"`
	ValueSHA string  `json:"valueSha256"`
}

// Stamper places marks into a document and returns the new bytes.
type Stamper interface {
	Stamp(doc []byte, marks []Mark) ([]byte, error)
}

const (
	manifestMagic   = "DSEAL1"
	manifestVersion = 1
)

var ErrNoManifest = errors.New("document carries no stamp manifest")

type manifest struct {
	Version int    `json:"version"`
	Marks   []Mark `json:"marks"`
}

// ManifestStamper appends a stamp manifest after the original bytes:
//
//	doc || manifest JSON || uint32 big-endian manifest length || "DSEAL1"
//
// Marks are sorted so the same input always yields the same bytes.
type ManifestStamper struct{}

func (ManifestStamper) Stamp(doc []byte, marks []Mark) ([]byte, error) {
	sorted := make([]Mark, len(marks))
	copy(sorted, marks)
	for i := range sorted {
		sum := sha256.Sum256(sorted[i].Value)
		sorted[i].ValueSHA = hex.EncodeToString(sum[:])
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Order != b.Order {
			return a.Order < b.Order
		}
		if a.Page != b.Page {
			return a.Page < b.Page
		}
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		if a.X != b.X {
			return a.X < b.X
		}
		return a.BoxID < b.BoxID
	})

	body, err := json.Marshal(manifest{Version: manifestVersion, Marks: sorted})
	if err != nil {
		return nil, fmt.Errorf("failed to encode manifest: %w", err)
	}

	var buf bytes.Buffer
	buf.Grow(len(doc) + len(body) + 4 + len(manifestMagic))
	buf.Write(doc)
	buf.Write(body)
	_ = binary.Write(&buf, binary.BigEndian, uint32(len(body)))
	buf.WriteString(manifestMagic)
	return buf.Bytes(), nil
}

// ReadManifest splits a stamped document into the original bytes and marks.
func ReadManifest(stamped []byte) ([]byte, []Mark, error) {
	trailer := 4 + len(manifestMagic)
	if len(stamped) < trailer || !bytes.HasSuffix(stamped, []byte(manifestMagic)) {
		return nil, nil, ErrNoManifest
	}

	end := len(stamped) - len(manifestMagic)
	n := int(binary.BigEndian.Uint32(stamped[end-4 : end]))
	start := end - 4 - n
	if n <= 0 || start < 0 {
		return nil, nil, ErrNoManifest
	}

	var m manifest
	if err := json.Unmarshal(stamped[start:end-4], &m); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrNoManifest, err)
	}
	return stamped[:start], m.Marks, nil
}
