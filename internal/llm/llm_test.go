package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildPromptIncludesContextAndQuestion(t *testing.T) {
	prompt := BuildPrompt("What is the refund window?", []string{"Refunds within 30 days.", "Shipping is free."})
	assert.Contains(t, prompt, "Refunds within 30 days.\n\nShipping is free.")
	assert.Contains(t, prompt, "Question: What is the refund window?")
	assert.Contains(t, prompt, "using only the provided context")
}

func TestOllamaGenerateAnswer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		var req generateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "llama3.2", req.Model)
		assert.False(t, req.Stream)
		assert.Contains(t, req.Prompt, "chunk one")
		json.NewEncoder(w).Encode(generateResponse{Response: "  Thirty days.  "})
	}))
	defer srv.Close()

	answer, err := NewOllama(OllamaConfig{BaseURL: srv.URL}).GenerateAnswer(context.Background(), "q", []string{"chunk one"})
	require.NoError(t, err)
	assert.Equal(t, "  Thirty days.  ", answer)
}

func TestOllamaGenerateAnswerFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model is loading", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewOllama(OllamaConfig{BaseURL: srv.URL}).GenerateAnswer(context.Background(), "q", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestOpenAIGenerateAnswer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Messages, 1)
		assert.Equal(t, "user", req.Messages[0].Role)
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"42"}}]}`))
	}))
	defer srv.Close()

	gen, err := NewOpenAI(OpenAIConfig{BaseURL: srv.URL + "/v1/", APIKey: "key"})
	require.NoError(t, err)
	answer, err := gen.GenerateAnswer(context.Background(), "q", []string{"c"})
	require.NoError(t, err)
	assert.Equal(t, "42", answer)
}

func TestOpenAIGenerateAnswerEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	gen, err := NewOpenAI(OpenAIConfig{BaseURL: srv.URL, APIKey: "key"})
	require.NoError(t, err)
	_, err = gen.GenerateAnswer(context.Background(), "q", nil)
	assert.Error(t, err)
}
