// Package services implements the signature workflow: the signing state
// machine, the sealing event handler and the secure preview protocol.
package services

import (
	"context"
	"time"
)

// DocumentStore is the object storage used for originals and sealed output.
type DocumentStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte, contentType string) error
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}
