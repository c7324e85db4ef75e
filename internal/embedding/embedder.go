// Package embedding maps text to vectors. Remote adapters speak to Ollama or
// any OpenAI-compatible endpoint; the hashing embedder runs fully offline.
package embedding

import "context"

// Embedder maps a piece of text to a vector. Vectors from one Embedder are
// comparable with each other only.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Func adapts an ordinary function to the Embedder interface.
type Func func(ctx context.Context, text string) ([]float32, error)

// Embed calls f.
func (f Func) Embed(ctx context.Context, text string) ([]float32, error) {
	return f(ctx, text)
}
