// Package index stores chunk embeddings and answers nearest-neighbour
// queries. Every read is scoped to one document, so chunks of one upload can
// never surface in answers about another.
package index

import (
	"context"
	"math"
	"sort"

	"github.com/dharsanguruparan/docchat/internal/model"
)

// Entry is one embedded chunk.
type Entry struct {
	DocumentID string
	Index      int
	Text       string
	Vector     []float32
}

// Index is the vector index used by ingestion and the query router.
type Index interface {
	// Insert adds or replaces the chunk (DocumentID, Index).
	Insert(ctx context.Context, e Entry) error
	// Search returns up to k chunks of documentID ordered by descending
	// similarity to vector.
	Search(ctx context.Context, documentID string, vector []float32, k int) ([]model.ScoredChunk, error)
	// Chunks returns every chunk of documentID ordered by chunk index.
	Chunks(ctx context.Context, documentID string) ([]model.Chunk, error)
	// DeleteDocument removes every chunk of documentID.
	DeleteDocument(ctx context.Context, documentID string) error
}

// Cosine returns the cosine similarity of a and b, or 0 when either is a
// zero vector or the lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// rank scores entries against vector and keeps the best k. Ties keep chunk
// order.
func rank(entries []Entry, vector []float32, k int) []model.ScoredChunk {
	scored := make([]model.ScoredChunk, 0, len(entries))
	for _, e := range entries {
		scored = append(scored, model.ScoredChunk{
			Chunk: model.Chunk{DocumentID: e.DocumentID, Index: e.Index, Text: e.Text},
			Score: Cosine(vector, e.Vector),
		})
	}
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Index < scored[j].Index
	})
	if k > 0 && len(scored) > k {
		scored = scored[:k]
	}
	return scored
}
