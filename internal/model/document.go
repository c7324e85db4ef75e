// Package model contains the structs shared across packages: documents,
// sessions, retrieved chunks and the error taxonomy.
package model

import "time"

// DocumentStatus describes where a document is in its ingestion lifecycle.
// Declaring it as a named string type keeps callers from passing arbitrary
// strings where a status is expected.
type DocumentStatus string

const (
	StatusIngesting DocumentStatus = "ingesting"
	StatusReady     DocumentStatus = "ready"
	StatusFailed    DocumentStatus = "failed"
)

// Document is one uploaded file and its ingestion state. A document only ever
// moves from ingesting to ready or failed.
type Document struct {
	ID          string         `json:"id" msgpack:"id"`
	Filename    string         `json:"filename" msgpack:"filename"`
	ContentType string         `json:"content_type" msgpack:"content_type"`
	Size        int64          `json:"size" msgpack:"size"`
	// ObjectKey locates the raw upload in the blob store; it is never sent
	// to clients.
	ObjectKey   string         `json:"-" msgpack:"-"`
	Status      DocumentStatus `json:"status" msgpack:"status"`
	ChunkCount  int            `json:"chunk_count" msgpack:"chunk_count"`
	Error       string         `json:"error,omitempty" msgpack:"error,omitempty"`
	CreatedAt   time.Time      `json:"created_at" msgpack:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at" msgpack:"updated_at"`
}

// Ready reports whether the document can serve queries.
func (d Document) Ready() bool {
	return d.Status == StatusReady
}

// NewDocument carries the fields a caller supplies when registering an upload.
type NewDocument struct {
	Filename    string
	ContentType string
	Size        int64
	ObjectKey   string
}

// DocumentUpdate describes a status transition. ChunkCount is only meaningful
// for StatusReady and Error only for StatusFailed.
type DocumentUpdate struct {
	Status     DocumentStatus
	ChunkCount int
	Error      string
}

// Chunk is a contiguous piece of a document's extracted text.
type Chunk struct {
	DocumentID string `json:"document_id"`
	Index      int    `json:"index"`
	Text       string `json:"text"`
}

// ScoredChunk is a chunk returned from retrieval along with its similarity
// score (higher is closer).
type ScoredChunk struct {
	Chunk
	Score float64 `json:"score"`
}
