package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/docchat/internal/config"
	"github.com/dharsanguruparan/docchat/internal/model"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestNewBaseURL(t *testing.T) {
	t.Setenv("DOCCHAT_BASE_URL", "")
	assert.Equal(t, config.DefaultBaseURL, New("").BaseURL())

	t.Setenv("DOCCHAT_BASE_URL", "http://docchat.internal:9000/")
	assert.Equal(t, "http://docchat.internal:9000", New("").BaseURL())
	assert.Equal(t, "http://other", New("http://other").BaseURL())
}

func TestUploadStreamsMultipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/upload", r.URL.Path)
		f, header, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			return
		}
		defer f.Close()
		data, _ := io.ReadAll(f)
		assert.Equal(t, "hello world", string(data))
		writeJSON(w, http.StatusOK, map[string]string{"doc_id": "d1", "filename": header.Filename, "status": "ingesting"})
	}))
	defer srv.Close()

	up, err := New(srv.URL).Upload(context.Background(), "notes.txt", strings.NewReader("hello world"))
	require.NoError(t, err)
	assert.Equal(t, Upload{DocumentID: "d1", Filename: "notes.txt", Status: model.StatusIngesting}, up)
}

func TestErrorsBecomeAPIErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusConflict, map[string]any{
			"ok":         false,
			"error_kind": "DocumentNotReady",
			"message":    "document d1 is ingesting",
			"detail":     "document d1 is ingesting",
		})
	}))
	defer srv.Close()

	_, err := New(srv.URL).StartSession(context.Background(), "d1")
	require.Error(t, err)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.Status)
	assert.Equal(t, model.KindDocumentNotReady, apiErr.Kind)
	assert.Equal(t, "document d1 is ingesting", apiErr.Message)
	assert.ErrorIs(t, err, model.ErrDocumentNotReady)
	assert.NotErrorIs(t, err, model.ErrNotFound)
}

func TestNonJSONErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := New(srv.URL).Status(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, model.KindInternal, apiErr.Kind)
	assert.Equal(t, "bad gateway", apiErr.Message)
}

func TestAskSendsSessionAndQuestion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&body)) {
			return
		}
		assert.Equal(t, "s1", body["session_id"])
		writeJSON(w, http.StatusOK, map[string]any{
			"answer": "42",
			"doc_id": "d1",
			"debug":  map[string]any{"retrieved_count": 3, "keyword_fallback": true},
		})
	}))
	defer srv.Close()

	ans, err := New(srv.URL).Ask(context.Background(), "s1", "meaning?")
	require.NoError(t, err)
	assert.Equal(t, "42", ans.Answer)
	assert.Equal(t, 3, ans.Debug.RetrievedCount)
	assert.True(t, ans.Debug.KeywordFallback)
}

func TestWaitReady(t *testing.T) {
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status := model.StatusIngesting
		if polls.Add(1) >= 3 {
			status = model.StatusReady
		}
		writeJSON(w, http.StatusOK, model.Document{ID: "d1", Status: status, ChunkCount: 4})
	}))
	defer srv.Close()

	doc, err := New(srv.URL).WaitReady(context.Background(), "d1", time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 4, doc.ChunkCount)
	assert.EqualValues(t, 3, polls.Load())
}

func TestWaitReadyFailedDocument(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, model.Document{ID: "d1", Status: model.StatusFailed, Error: "no extractable text"})
	}))
	defer srv.Close()

	_, err := New(srv.URL).WaitReady(context.Background(), "d1", time.Millisecond)
	assert.True(t, errors.Is(err, ErrIngestionFailed))
	assert.Contains(t, err.Error(), "no extractable text")
}

func TestFileURLIsAbsolute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/documents/d1/file-url", r.URL.Path)
		writeJSON(w, http.StatusOK, map[string]string{"url": "/download?doc=d1", "expires": "2030-01-01T00:00:00Z"})
	}))
	defer srv.Close()

	link, err := New(srv.URL).FileURL(context.Background(), "d1")
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/download?doc=d1", link.URL)
	assert.Equal(t, 2030, link.Expires.Year())
}
