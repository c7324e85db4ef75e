package storage

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/docchat/internal/model"
)

func readyDocument(t *testing.T, docs *MemoryDocumentStore) model.Document {
	t.Helper()
	ctx := context.Background()
	doc, err := docs.Create(ctx, model.NewDocument{Filename: "a.pdf"})
	require.NoError(t, err)
	require.NoError(t, docs.Update(ctx, doc.ID, model.DocumentUpdate{Status: model.StatusReady, ChunkCount: 3}))
	doc.Status = model.StatusReady
	return doc
}

func TestDocumentStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	docs := NewMemoryDocumentStore()

	doc, err := docs.Create(ctx, model.NewDocument{Filename: "report.pdf", ContentType: "application/pdf", Size: 10})
	require.NoError(t, err)
	assert.NotEmpty(t, doc.ID)
	assert.Equal(t, model.StatusIngesting, doc.Status)

	require.NoError(t, docs.Update(ctx, doc.ID, model.DocumentUpdate{Status: model.StatusReady, ChunkCount: 7}))
	got, err := docs.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusReady, got.Status)
	assert.Equal(t, 7, got.ChunkCount)
	assert.Equal(t, "report.pdf", got.Filename)

	_, err = docs.Get(ctx, "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)
	err = docs.Update(ctx, "missing", model.DocumentUpdate{Status: model.StatusFailed})
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestDocumentStoreListKeepsCreationOrder(t *testing.T) {
	ctx := context.Background()
	docs := NewMemoryDocumentStore()
	var ids []string
	for i := 0; i < 5; i++ {
		doc, err := docs.Create(ctx, model.NewDocument{Filename: fmt.Sprintf("%d.pdf", i)})
		require.NoError(t, err)
		ids = append(ids, doc.ID)
	}
	list, err := docs.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 5)
	for i, doc := range list {
		assert.Equal(t, ids[i], doc.ID)
	}
}

func TestDocumentStoreGetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	docs := NewMemoryDocumentStore()
	doc, err := docs.Create(ctx, model.NewDocument{Filename: "a.pdf"})
	require.NoError(t, err)
	got, err := docs.Get(ctx, doc.ID)
	require.NoError(t, err)
	got.Filename = "mutated"
	again, err := docs.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "a.pdf", again.Filename)
}

func TestSessionCreateRequiresReadyDocument(t *testing.T) {
	ctx := context.Background()
	docs := NewMemoryDocumentStore()
	sessions := NewMemorySessionStore(docs)

	_, err := sessions.Create(ctx, "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)

	pending, err := docs.Create(ctx, model.NewDocument{Filename: "b.pdf"})
	require.NoError(t, err)
	_, err = sessions.Create(ctx, pending.ID)
	assert.ErrorIs(t, err, model.ErrDocumentNotReady)

	list, err := sessions.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestSessionCreateAlwaysReturnsFreshSession(t *testing.T) {
	ctx := context.Background()
	docs := NewMemoryDocumentStore()
	sessions := NewMemorySessionStore(docs)
	doc := readyDocument(t, docs)

	first, err := sessions.Create(ctx, doc.ID)
	require.NoError(t, err)
	second, err := sessions.Create(ctx, doc.ID)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, doc.ID, first.DocumentID)
	assert.Empty(t, first.History)
}

func TestSessionAppendHistory(t *testing.T) {
	ctx := context.Background()
	docs := NewMemoryDocumentStore()
	sessions := NewMemorySessionStore(docs)
	doc := readyDocument(t, docs)
	s, err := sessions.Create(ctx, doc.ID)
	require.NoError(t, err)

	require.NoError(t, sessions.AppendHistory(ctx, s.ID,
		model.HistoryEntry{Role: model.RoleUser, Text: "What is X?"},
		model.HistoryEntry{Role: model.RoleAssistant, Text: "X is Y."},
	))
	got, err := sessions.Get(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, got.History, 2)
	assert.Equal(t, model.RoleUser, got.History[0].Role)
	assert.Equal(t, "X is Y.", got.History[1].Text)
	assert.False(t, got.History[0].At.IsZero())

	err = sessions.AppendHistory(ctx, "missing", model.HistoryEntry{Role: model.RoleUser})
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestSessionConcurrentAppendsKeepPairsContiguous(t *testing.T) {
	ctx := context.Background()
	docs := NewMemoryDocumentStore()
	sessions := NewMemorySessionStore(docs)
	doc := readyDocument(t, docs)
	s, err := sessions.Create(ctx, doc.ID)
	require.NoError(t, err)

	const writers = 50
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			q := fmt.Sprintf("q%d", i)
			err := sessions.AppendHistory(ctx, s.ID,
				model.HistoryEntry{Role: model.RoleUser, Text: q},
				model.HistoryEntry{Role: model.RoleAssistant, Text: "a-" + q},
			)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	got, err := sessions.Get(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, got.History, writers*2)
	for i := 0; i < len(got.History); i += 2 {
		user, assistant := got.History[i], got.History[i+1]
		assert.Equal(t, model.RoleUser, user.Role)
		assert.Equal(t, model.RoleAssistant, assistant.Role)
		assert.Equal(t, "a-"+user.Text, assistant.Text)
	}
}

func TestSessionGetReturnsSnapshot(t *testing.T) {
	ctx := context.Background()
	docs := NewMemoryDocumentStore()
	sessions := NewMemorySessionStore(docs)
	doc := readyDocument(t, docs)
	s, err := sessions.Create(ctx, doc.ID)
	require.NoError(t, err)

	snap, err := sessions.Get(ctx, s.ID)
	require.NoError(t, err)
	require.NoError(t, sessions.AppendHistory(ctx, s.ID, model.HistoryEntry{Role: model.RoleUser, Text: "late"}))
	assert.Empty(t, snap.History)
}
