package index

import (
	"context"
	"sort"
	"sync"

	"github.com/dharsanguruparan/docchat/internal/model"
)

var _ Index = (*Memory)(nil)

// Memory keeps one partition per document and searches it by brute force.
type Memory struct {
	mu    sync.RWMutex
	parts map[string]map[int]Entry
}

// NewMemory returns an empty in-memory index.
func NewMemory() *Memory {
	return &Memory{parts: make(map[string]map[int]Entry)}
}

// Insert stores a copy of e.
func (m *Memory) Insert(_ context.Context, e Entry) error {
	e.Vector = append([]float32(nil), e.Vector...)
	m.mu.Lock()
	defer m.mu.Unlock()
	part, ok := m.parts[e.DocumentID]
	if !ok {
		part = make(map[int]Entry)
		m.parts[e.DocumentID] = part
	}
	part[e.Index] = e
	return nil
}

// Search ranks the document's chunks by cosine similarity.
func (m *Memory) Search(_ context.Context, documentID string, vector []float32, k int) ([]model.ScoredChunk, error) {
	return rank(m.entries(documentID), vector, k), nil
}

// Chunks lists the document's chunks in order.
func (m *Memory) Chunks(_ context.Context, documentID string) ([]model.Chunk, error) {
	entries := m.entries(documentID)
	out := make([]model.Chunk, 0, len(entries))
	for _, e := range entries {
		out = append(out, model.Chunk{DocumentID: e.DocumentID, Index: e.Index, Text: e.Text})
	}
	return out, nil
}

// DeleteDocument drops the document's partition.
func (m *Memory) DeleteDocument(_ context.Context, documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.parts, documentID)
	return nil
}

func (m *Memory) entries(documentID string) []Entry {
	m.mu.RLock()
	part := m.parts[documentID]
	out := make([]Entry, 0, len(part))
	for _, e := range part {
		out = append(out, e)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}
