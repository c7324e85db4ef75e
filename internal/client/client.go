// Package client talks to a DocChat server over HTTP. Every response is
// parsed once into a Result and then surfaced as a plain (value, error)
// pair, where the error is an *APIError carrying the server's error kind.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dharsanguruparan/docchat/internal/config"
	"github.com/dharsanguruparan/docchat/internal/model"
	"github.com/dharsanguruparan/docchat/internal/query"
)

// Result is the outcome of one call: either OK with a Value, or a failure
// with the server's error kind and message.
type Result[T any] struct {
	OK        bool
	Value     T
	ErrorKind model.Kind
	Message   string
}

// Err converts a failed Result into an *APIError.
func (r Result[T]) Err(status int) error {
	if r.OK {
		return nil
	}
	return &APIError{Status: status, Kind: r.ErrorKind, Message: r.Message}
}

// APIError is a failure reported by the server.
type APIError struct {
	Status  int
	Kind    model.Kind
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("docchat: %s (%d): %s", e.Kind, e.Status, e.Message)
}

// Is lets callers test API errors against the model sentinels, e.g.
// errors.Is(err, model.ErrDocumentNotReady).
func (e *APIError) Is(target error) bool {
	switch e.Kind {
	case model.KindInvalidInput:
		return target == model.ErrInvalidInput
	case model.KindNotFound:
		return target == model.ErrNotFound
	case model.KindDocumentNotReady:
		return target == model.ErrDocumentNotReady
	case model.KindUpstreamFailure:
		return target == model.ErrUpstream
	}
	return false
}

// Upload is the server's reply to an accepted upload.
type Upload struct {
	DocumentID string               `json:"doc_id"`
	Filename   string               `json:"filename"`
	Status     model.DocumentStatus `json:"status"`
}

// Answer is the server's reply to a question.
type Answer struct {
	Answer     string      `json:"answer"`
	DocumentID string      `json:"doc_id"`
	SessionID  string      `json:"session_id,omitempty"`
	Debug      query.Debug `json:"debug"`
}

// DocumentSummary is one entry of Status.Docs.
type DocumentSummary struct {
	Filename   string               `json:"filename"`
	Status     model.DocumentStatus `json:"status"`
	ChunkCount int                  `json:"chunk_count"`
}

// Status is a snapshot of the server's documents and sessions.
type Status struct {
	Docs     map[string]DocumentSummary `json:"docs"`
	Sessions []string                   `json:"sessions"`
}

// FileURL is a signed link to an original upload.
type FileURL struct {
	URL     string    `json:"url"`
	Expires time.Time `json:"expires"`
}

// Client is safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
}

// New returns a Client for baseURL. An empty baseURL falls back to
// DOCCHAT_BASE_URL and then to config.DefaultBaseURL.
func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = os.Getenv("DOCCHAT_BASE_URL")
	}
	if baseURL == "" {
		baseURL = config.DefaultBaseURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		// Answers wait on the language model, which can be slow.
		http: &http.Client{Timeout: 5 * time.Minute},
	}
}

// BaseURL returns the server address the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// UploadFile uploads the file at path.
func (c *Client) UploadFile(ctx context.Context, path string) (Upload, error) {
	f, err := os.Open(path)
	if err != nil {
		return Upload{}, err
	}
	defer f.Close()
	return c.Upload(ctx, filepath.Base(path), f)
}

// Upload streams r to the server as filename. The body is produced by a
// goroutine through an io.Pipe so large files are never held in memory.
func (c *Client) Upload(ctx context.Context, filename string, r io.Reader) (Upload, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		fw, err := mw.CreateFormFile("file", filename)
		if err == nil {
			_, err = io.Copy(fw, r)
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload", pr)
	if err != nil {
		pr.Close()
		return Upload{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return do[Upload](c, req)
}

type sessionStarted struct {
	SessionID string `json:"session_id"`
}

// StartSession opens a new conversation about documentID.
func (c *Client) StartSession(ctx context.Context, documentID string) (string, error) {
	out, err := postJSON[sessionStarted](ctx, c, "/start_session", map[string]string{"doc_id": documentID})
	return out.SessionID, err
}

// Ask sends a question within a session.
func (c *Client) Ask(ctx context.Context, sessionID, question string) (Answer, error) {
	return postJSON[Answer](ctx, c, "/query", map[string]string{"question": question, "session_id": sessionID})
}

// AskDocument sends a one-off question about a document without a session.
func (c *Client) AskDocument(ctx context.Context, documentID, question string) (Answer, error) {
	return postJSON[Answer](ctx, c, "/query", map[string]string{"question": question, "doc_id": documentID})
}

// Status fetches the document and session snapshot.
func (c *Client) Status(ctx context.Context) (Status, error) {
	return getJSON[Status](ctx, c, "/status")
}

// Document fetches one document record.
func (c *Client) Document(ctx context.Context, id string) (model.Document, error) {
	return getJSON[model.Document](ctx, c, "/documents/"+url.PathEscape(id))
}

// Session fetches a session including its history.
func (c *Client) Session(ctx context.Context, id string) (model.Session, error) {
	return getJSON[model.Session](ctx, c, "/sessions/"+url.PathEscape(id))
}

// FileURL asks for a signed download link. The returned URL is absolute.
func (c *Client) FileURL(ctx context.Context, documentID string) (FileURL, error) {
	out, err := getJSON[FileURL](ctx, c, "/documents/"+url.PathEscape(documentID)+"/file-url")
	if err != nil {
		return FileURL{}, err
	}
	if strings.HasPrefix(out.URL, "/") {
		out.URL = c.baseURL + out.URL
	}
	return out, nil
}

// ErrIngestionFailed is returned by WaitReady when the document failed.
var ErrIngestionFailed = errors.New("ingestion failed")

// WaitReady polls the document every interval until it is ready, it
// failed, or ctx is done.
func (c *Client) WaitReady(ctx context.Context, id string, interval time.Duration) (model.Document, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		doc, err := c.Document(ctx, id)
		if err != nil {
			return model.Document{}, err
		}
		switch doc.Status {
		case model.StatusReady:
			return doc, nil
		case model.StatusFailed:
			return doc, fmt.Errorf("document %s: %w: %s", id, ErrIngestionFailed, doc.Error)
		}
		select {
		case <-ctx.Done():
			return doc, ctx.Err()
		case <-ticker.C:
		}
	}
}

func getJSON[T any](ctx context.Context, c *Client, path string) (T, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		var zero T
		return zero, err
	}
	return do[T](c, req)
}

func postJSON[T any](ctx context.Context, c *Client, path string, payload any) (T, error) {
	var zero T
	body, err := json.Marshal(payload)
	if err != nil {
		return zero, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return zero, err
	}
	req.Header.Set("Content-Type", "application/json")
	return do[T](c, req)
}

func do[T any](c *Client, req *http.Request) (T, error) {
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	res, err := parse[T](resp)
	if err != nil {
		return res.Value, err
	}
	return res.Value, res.Err(resp.StatusCode)
}

// parse reads a response body into a Result. Success bodies are the value
// itself; failure bodies carry error_kind and message.
func parse[T any](resp *http.Response) (Result[T], error) {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result[T]{}, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		res := Result[T]{OK: true}
		if err := json.Unmarshal(data, &res.Value); err != nil {
			return Result[T]{}, fmt.Errorf("decode response: %w", err)
		}
		return res, nil
	}
	var failure struct {
		ErrorKind model.Kind `json:"error_kind"`
		Message   string     `json:"message"`
		Detail    string     `json:"detail"`
	}
	res := Result[T]{ErrorKind: model.KindInternal, Message: strings.TrimSpace(string(data))}
	if json.Unmarshal(data, &failure) == nil && failure.ErrorKind != "" {
		res.ErrorKind = failure.ErrorKind
		res.Message = failure.Message
		if res.Message == "" {
			res.Message = failure.Detail
		}
	}
	return res, nil
}
