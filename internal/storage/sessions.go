package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dharsanguruparan/docchat/internal/model"
)

var _ SessionStore = (*MemorySessionStore)(nil)

// MemorySessionStore keeps sessions in memory. The outer RWMutex only guards
// membership; each session carries its own mutex so appends to different
// sessions never contend.
type MemorySessionStore struct {
	docs     DocumentStore
	mu       sync.RWMutex
	sessions map[string]*sessionEntry
	order    []string
}

type sessionEntry struct {
	mu      sync.Mutex
	session model.Session
}

// NewMemorySessionStore constructs a store that validates document ids
// against docs.
func NewMemorySessionStore(docs DocumentStore) *MemorySessionStore {
	return &MemorySessionStore{
		docs:     docs,
		sessions: make(map[string]*sessionEntry),
	}
}

// Create opens a new session on a ready document. Every call yields a fresh
// session, even for the same document.
func (m *MemorySessionStore) Create(ctx context.Context, documentID string) (model.Session, error) {
	doc, err := m.docs.Get(ctx, documentID)
	if err != nil {
		return model.Session{}, err
	}
	if !doc.Ready() {
		return model.Session{}, fmt.Errorf("document %s is %s: %w", documentID, doc.Status, model.ErrDocumentNotReady)
	}
	entry := &sessionEntry{session: model.Session{
		ID:         uuid.NewString(),
		DocumentID: documentID,
		History:    []model.HistoryEntry{},
		CreatedAt:  time.Now().UTC(),
	}}
	m.mu.Lock()
	m.sessions[entry.session.ID] = entry
	m.order = append(m.order, entry.session.ID)
	m.mu.Unlock()
	return entry.session.Clone(), nil
}

// Get returns a snapshot of the session including its history.
func (m *MemorySessionStore) Get(_ context.Context, id string) (model.Session, error) {
	entry, err := m.lookup(id)
	if err != nil {
		return model.Session{}, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.session.Clone(), nil
}

// AppendHistory appends entries as one contiguous block.
func (m *MemorySessionStore) AppendHistory(_ context.Context, id string, entries ...model.HistoryEntry) error {
	entry, err := m.lookup(id)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	entry.mu.Lock()
	defer entry.mu.Unlock()
	for _, e := range entries {
		if e.At.IsZero() {
			e.At = now
		}
		entry.session.History = append(entry.session.History, e)
	}
	return nil
}

// List returns snapshots of every session in creation order.
func (m *MemorySessionStore) List(_ context.Context) ([]model.Session, error) {
	m.mu.RLock()
	entries := make([]*sessionEntry, 0, len(m.order))
	for _, id := range m.order {
		entries = append(entries, m.sessions[id])
	}
	m.mu.RUnlock()
	out := make([]model.Session, 0, len(entries))
	for _, entry := range entries {
		entry.mu.Lock()
		out = append(out, entry.session.Clone())
		entry.mu.Unlock()
	}
	return out, nil
}

func (m *MemorySessionStore) lookup(id string) (*sessionEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, model.ErrNotFound)
	}
	return entry, nil
}
