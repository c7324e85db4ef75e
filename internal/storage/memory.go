package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dharsanguruparan/docchat/internal/model"
)

var _ DocumentStore = (*MemoryDocumentStore)(nil)

// MemoryDocumentStore keeps documents in a map guarded by an RWMutex. RWMutex
// lets status polls and /status snapshots read concurrently while uploads and
// ingestion updates take the write lock.
type MemoryDocumentStore struct {
	mu    sync.RWMutex
	docs  map[string]*model.Document
	order []string
}

// NewMemoryDocumentStore constructs an empty store.
func NewMemoryDocumentStore() *MemoryDocumentStore {
	return &MemoryDocumentStore{
		docs: make(map[string]*model.Document),
	}
}

// Create registers a new document in the ingesting state.
func (m *MemoryDocumentStore) Create(_ context.Context, in model.NewDocument) (model.Document, error) {
	now := time.Now().UTC()
	doc := &model.Document{
		ID:          uuid.NewString(),
		Filename:    in.Filename,
		ContentType: in.ContentType,
		Size:        in.Size,
		ObjectKey:   in.ObjectKey,
		Status:      model.StatusIngesting,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[doc.ID] = doc
	m.order = append(m.order, doc.ID)
	return *doc, nil
}

// Update applies a status transition. The last writer wins.
func (m *MemoryDocumentStore) Update(_ context.Context, id string, update model.DocumentUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return fmt.Errorf("document %s: %w", id, model.ErrNotFound)
	}
	doc.Status = update.Status
	doc.ChunkCount = update.ChunkCount
	doc.Error = update.Error
	doc.UpdatedAt = time.Now().UTC()
	return nil
}

// Get returns a copy of the document.
func (m *MemoryDocumentStore) Get(_ context.Context, id string) (model.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[id]
	if !ok {
		return model.Document{}, fmt.Errorf("document %s: %w", id, model.ErrNotFound)
	}
	return *doc, nil
}

// List returns every document in creation order.
func (m *MemoryDocumentStore) List(_ context.Context) ([]model.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Document, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, *m.docs[id])
	}
	return out, nil
}
