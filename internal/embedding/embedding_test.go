package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOllamaEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embeddings", r.URL.Path)
		var req ollamaRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "mxbai-embed-large", req.Model)
		assert.Equal(t, "hello", req.Prompt)
		json.NewEncoder(w).Encode(map[string]any{"embedding": []float64{0.5, -1, 2}})
	}))
	defer srv.Close()

	vec, err := NewOllama(OllamaConfig{BaseURL: srv.URL + "/"}).Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, -1, 2}, vec)
}

func TestOllamaEmbedErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `model "mxbai-embed-large" not found`, http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewOllama(OllamaConfig{BaseURL: srv.URL}).Embed(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
	assert.Contains(t, err.Error(), "not found")
}

func TestOpenAIEmbedRetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "2")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"data": []map[string]any{{"embedding": []float64{1, 2}}}})
	}))
	defer srv.Close()

	client, err := NewOpenAI(OpenAIConfig{BaseURL: srv.URL, APIKey: "sk-test"})
	require.NoError(t, err)
	var waited []time.Duration
	client.sleep = func(_ context.Context, d time.Duration) error {
		waited = append(waited, d)
		return nil
	}
	vec, err := client.Embed(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2}, vec)
	assert.Equal(t, []time.Duration{2 * time.Second}, waited)
}

func TestOpenAIEmbedDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	client, err := NewOpenAI(OpenAIConfig{BaseURL: srv.URL, APIKey: "sk-test"})
	require.NoError(t, err)
	_, err = client.Embed(context.Background(), "hi")
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestOpenAIRequiresKey(t *testing.T) {
	_, err := NewOpenAI(OpenAIConfig{})
	assert.Error(t, err)
}

func TestRetryDelayIsCapped(t *testing.T) {
	assert.Equal(t, 200*time.Millisecond, retryDelay(0))
	assert.Equal(t, 400*time.Millisecond, retryDelay(1))
	assert.Equal(t, 5*time.Second, retryDelay(10))
}

func TestHashingEmbedderIsDeterministicAndNormalized(t *testing.T) {
	h := NewHashing(64)
	a, err := h.Embed(context.Background(), "Retrieval augmented generation")
	require.NoError(t, err)
	b, err := h.Embed(context.Background(), "retrieval AUGMENTED generation")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)

	var norm float64
	for _, v := range a {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, norm, 1e-5)

	zero, err := h.Embed(context.Background(), "  ... !!! ")
	require.NoError(t, err)
	assert.Equal(t, make([]float32, 64), zero)
}

func TestRateLimitedDelegates(t *testing.T) {
	var calls int
	inner := Func(func(ctx context.Context, text string) ([]float32, error) {
		calls++
		return []float32{1}, nil
	})
	limited := NewRateLimited(inner, 1000, 5)
	for i := 0; i < 3; i++ {
		_, err := limited.Embed(context.Background(), "x")
		require.NoError(t, err)
	}
	assert.Equal(t, 3, calls)

	_, wrapped := NewRateLimited(inner, 0, 0).(*RateLimited)
	assert.False(t, wrapped)
}

func TestRateLimitedHonoursContext(t *testing.T) {
	inner := Func(func(ctx context.Context, text string) ([]float32, error) { return nil, nil })
	limited := NewRateLimited(inner, 0.001, 1)
	_, err := limited.Embed(context.Background(), "first")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = limited.Embed(ctx, "second")
	assert.Error(t, err)
}
