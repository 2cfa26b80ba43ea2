// Package events defines the integration event contracts, the JSON envelope
// they travel in and an in-process router that dispatches by event type.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Type names an event contract on the wire.
type Type string

const (
	TypeDocumentPartiallySigned       Type = "DocumentPartiallySignedEvent"
	TypeDocumentFullySigned           Type = "DocumentFullySignedEvent"
	TypeDocumentReadyToSeal           Type = "DocumentReadyToSealEvent"
	TypeSignatureRequestRejected      Type = "SignatureRequestRejectedEvent"
	TypeDocumentSealed                Type = "DocumentSealedEvent"
	TypeSecureDownloadSignedDocument  Type = "SecureDownloadSignedDocument"
	TypeSecureDocumentAccessRequested Type = "SecureDocumentAccessRequestedEvent"
)

// Envelope wraps every event. Key is the signature request id and becomes
// the message key so one request's events stay ordered.
type Envelope struct {
	ID         string          `json:"id"`
	Type       Type            `json:"type"`
	OccurredAt time.Time       `json:"occurredAt"`
	Key        string          `json:"key"`
	Payload    json.RawMessage `json:"payload"`
}

func NewEnvelope(t Type, key string, payload any, at time.Time) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s: %w", t, err)
	}
	return Envelope{
		ID:         uuid.NewString(),
		Type:       t,
		OccurredAt: at.UTC(),
		Key:        key,
		Payload:    raw,
	}, nil
}

// Decode unmarshals the payload of env into a T.
func Decode[T any](env Envelope) (T, error) {
	var v T
	if err := json.Unmarshal(env.Payload, &v); err != nil {
		return v, fmt.Errorf("decode %s payload: %w", env.Type, err)
	}
	return v, nil
}

func Marshal(env Envelope) ([]byte, error) {
	return json.Marshal(env)
}

func Unmarshal(b []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return Envelope{}, err
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("envelope without type")
	}
	return env, nil
}

// Publisher sends envelopes to the bus.
type Publisher interface {
	Publish(ctx context.Context, envs ...Envelope) error
}
