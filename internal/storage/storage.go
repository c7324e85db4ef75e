// Package storage holds the in-memory document and session stores plus the
// local blob store used for raw uploads. Postgres and S3 variants live in the
// repository and s3storage packages and satisfy the same interfaces.
package storage

import (
	"context"
	"io"

	"github.com/dharsanguruparan/docchat/internal/model"
)

// DocumentStore persists document records. Implementations must serialize
// updates to the same id and return copies so callers cannot mutate state.
type DocumentStore interface {
	Create(ctx context.Context, doc model.NewDocument) (model.Document, error)
	Update(ctx context.Context, id string, update model.DocumentUpdate) error
	Get(ctx context.Context, id string) (model.Document, error)
	List(ctx context.Context) ([]model.Document, error)
}

// SessionStore persists sessions and their history. AppendHistory must append
// all entries of one call contiguously.
type SessionStore interface {
	Create(ctx context.Context, documentID string) (model.Session, error)
	Get(ctx context.Context, id string) (model.Session, error)
	AppendHistory(ctx context.Context, id string, entries ...model.HistoryEntry) error
	List(ctx context.Context) ([]model.Session, error)
}

// BlobStore keeps the raw bytes of uploads.
type BlobStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}
