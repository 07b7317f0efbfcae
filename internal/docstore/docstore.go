// Package docstore defines the durable key/document store the credential
// vault persists to, plus the SQLite and in-memory implementations.
package docstore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when no document exists for the key.
var ErrNotFound = errors.New("document not found")

// SchemaVersion is written into every new document for forward
// compatibility of the payload shape.
const SchemaVersion = 1

// Document is one durable credential record. Payload is always ciphertext;
// plaintext never reaches this layer.
type Document struct {
	Payload       string    `json:"payload"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	ExpiresAt     time.Time `json:"expires_at"`
	SchemaVersion int       `json:"schema_version"`
}

// Store is a key-addressed document store. Implementations must be safe
// for concurrent use. Set overwrites an existing document but keeps its
// original CreatedAt.
type Store interface {
	Get(ctx context.Context, key string) (*Document, error)
	Set(ctx context.Context, key string, doc *Document) error
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	Close() error
}
