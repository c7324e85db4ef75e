package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/dharsanguruparan/docchat/internal/chunker"
	"github.com/dharsanguruparan/docchat/internal/config"
	"github.com/dharsanguruparan/docchat/internal/embedding"
	"github.com/dharsanguruparan/docchat/internal/index"
	"github.com/dharsanguruparan/docchat/internal/ingest"
	"github.com/dharsanguruparan/docchat/internal/model"
	pdfutil "github.com/dharsanguruparan/docchat/internal/pdf"
	"github.com/dharsanguruparan/docchat/internal/pdf/pdftest"
	"github.com/dharsanguruparan/docchat/internal/processing"
	"github.com/dharsanguruparan/docchat/internal/query"
	"github.com/dharsanguruparan/docchat/internal/storage"
)

type stubGenerator struct {
	err error
}

func (g stubGenerator) GenerateAnswer(_ context.Context, question string, chunks []string) (string, error) {
	if g.err != nil {
		return "", g.err
	}
	return "answer to " + question + " from " + strings.Join(chunks, " / "), nil
}

type harness struct {
	srv  *httptest.Server
	docs *storage.MemoryDocumentStore
}

func newHarness(t *testing.T, gen stubGenerator) *harness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	cfg := config.Default()
	cfg.MaxFileSize = 64 * 1024
	cfg.SigningSecret = "test-secret"

	docs := storage.NewMemoryDocumentStore()
	sessions := storage.NewMemorySessionStore(docs)
	blobs, err := storage.NewLocalBlobStore(t.TempDir())
	require.NoError(t, err)
	idx := index.NewMemory()
	embedder := embedding.NewHashing(128)
	pool := processing.New(2)
	pipeline := ingest.New(ingest.Deps{
		Documents:  docs,
		Blobs:      blobs,
		Extractor:  pdfutil.NewExtractor(),
		Splitter:   chunker.New(200, 20),
		Embedder:   embedder,
		Index:      idx,
		Dispatcher: pool,
	}, ingest.Options{MaxFileSize: cfg.MaxFileSize, Allowed: cfg.AllowsType})
	pool.Start(ctx, pipeline)

	router := query.New(query.Deps{
		Documents: docs,
		Sessions:  sessions,
		Embedder:  embedder,
		Index:     idx,
		Generator: gen,
	}, cfg.TopK)
	s, err := New(cfg, Deps{
		Documents: docs,
		Sessions:  sessions,
		Blobs:     blobs,
		Ingester:  pipeline,
		Answerer:  router,
	})
	require.NoError(t, err)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &harness{srv: srv, docs: docs}
}

func (h *harness) upload(t *testing.T, filename string, content []byte) *http.Response {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("note", "ignored"))
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	resp, err := http.Post(h.srv.URL+"/upload", mw.FormDataContentType(), &body)
	require.NoError(t, err)
	return resp
}

func (h *harness) postJSON(t *testing.T, path string, payload any) *http.Response {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	resp, err := http.Post(h.srv.URL+path, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func (h *harness) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(h.srv.URL + path)
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

// uploadReady uploads a text document and waits until ingestion finishes.
func (h *harness) uploadReady(t *testing.T, filename, text string) string {
	t.Helper()
	return h.uploadReadyBytes(t, filename, []byte(text))
}

func (h *harness) uploadReadyBytes(t *testing.T, filename string, content []byte) string {
	t.Helper()
	resp := h.upload(t, filename, content)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	up := decode[uploadResponse](t, resp)
	require.Equal(t, model.StatusIngesting, up.Status)
	require.Eventually(t, func() bool {
		doc, err := h.docs.Get(context.Background(), up.DocumentID)
		return err == nil && doc.Status == model.StatusReady
	}, 5*time.Second, 10*time.Millisecond)
	return up.DocumentID
}

func TestUploadPDFBecomesQueryable(t *testing.T) {
	h := newHarness(t, stubGenerator{})
	docID := h.uploadReadyBytes(t, "policy.pdf", pdftest.Document("Invoices go to accounting"))

	doc, err := h.docs.Get(context.Background(), docID)
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", doc.ContentType)
	assert.Equal(t, 1, doc.ChunkCount)

	resp := h.postJSON(t, "/query", queryRequest{Question: "Where do invoices go?", DocumentID: docID})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	ans := decode[queryResponse](t, resp)
	assert.Contains(t, ans.Answer, "Invoices go to accounting")
}

func TestUploadSessionQueryRoundTrip(t *testing.T) {
	h := newHarness(t, stubGenerator{})
	docID := h.uploadReady(t, "handbook.txt", "Employees get twenty five days of paid leave every year.")

	resp := h.postJSON(t, "/start_session", map[string]string{"doc_id": docID})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	session := decode[startSessionResponse](t, resp)
	require.NotEmpty(t, session.SessionID)

	resp = h.postJSON(t, "/query", queryRequest{Question: "How many days of leave?", SessionID: session.SessionID})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	ans := decode[queryResponse](t, resp)
	assert.Equal(t, docID, ans.DocumentID)
	assert.Contains(t, ans.Answer, "twenty five days")
	assert.Equal(t, 1, ans.Debug.RetrievedCount)
	assert.Equal(t, 1, ans.Debug.CorpusChunks)

	resp = h.get(t, "/sessions/"+session.SessionID)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[model.Session](t, resp)
	require.Len(t, got.History, 2)
	assert.Equal(t, "How many days of leave?", got.History[0].Text)
	assert.Equal(t, ans.Answer, got.History[1].Text)

	resp = h.get(t, "/status")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	status := decode[statusResponse](t, resp)
	assert.Equal(t, documentStatus{Filename: "handbook.txt", Status: model.StatusReady, ChunkCount: 1}, status.Docs[docID])
	assert.Equal(t, []string{session.SessionID}, status.Sessions)
}

func TestStartSessionFromQueryString(t *testing.T) {
	h := newHarness(t, stubGenerator{})
	docID := h.uploadReady(t, "a.txt", "some text")

	resp, err := http.Post(h.srv.URL+"/start_session?doc_id="+url.QueryEscape(docID), "", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, decode[startSessionResponse](t, resp).SessionID)
}

func TestUploadRejectsEmptyFile(t *testing.T) {
	h := newHarness(t, stubGenerator{})

	resp := h.upload(t, "empty.txt", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body := decode[errorResponse](t, resp)
	assert.False(t, body.OK)
	assert.Equal(t, model.KindInvalidInput, body.ErrorKind)
	assert.Contains(t, body.Message, "empty file")

	status := decode[statusResponse](t, h.get(t, "/status"))
	assert.Empty(t, status.Docs)
}

func TestUploadRejectsDisallowedTypeAndOversize(t *testing.T) {
	h := newHarness(t, stubGenerator{})

	resp := h.upload(t, "image.png", []byte("\x89PNG\r\n\x1a\n0000"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = h.upload(t, "big.txt", bytes.Repeat([]byte("a "), 64*1024))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	status := decode[statusResponse](t, h.get(t, "/status"))
	assert.Empty(t, status.Docs)
}

func TestUploadWithoutFilePart(t *testing.T) {
	h := newHarness(t, stubGenerator{})
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("note", "no file"))
	require.NoError(t, mw.Close())

	resp, err := http.Post(h.srv.URL+"/upload", mw.FormDataContentType(), &body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestQueryErrors(t *testing.T) {
	h := newHarness(t, stubGenerator{})
	docID := h.uploadReady(t, "a.txt", "some text")
	pending, err := h.docs.Create(context.Background(), model.NewDocument{Filename: "slow.pdf"})
	require.NoError(t, err)

	tests := []struct {
		name   string
		req    queryRequest
		status int
		kind   model.Kind
	}{
		{"no ids", queryRequest{Question: "hello"}, http.StatusBadRequest, model.KindInvalidInput},
		{"blank question", queryRequest{Question: " ", DocumentID: docID}, http.StatusBadRequest, model.KindInvalidInput},
		{"unknown session", queryRequest{Question: "hello", SessionID: "missing"}, http.StatusNotFound, model.KindNotFound},
		{"not ready", queryRequest{Question: "hello", DocumentID: pending.ID}, http.StatusConflict, model.KindDocumentNotReady},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := h.postJSON(t, "/query", tt.req)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.kind, decode[errorResponse](t, resp).ErrorKind)
		})
	}

	resp, err := http.Post(h.srv.URL+"/query", "application/json", strings.NewReader("{not json"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestQueryUpstreamFailureIsBadGateway(t *testing.T) {
	h := newHarness(t, stubGenerator{err: io.ErrUnexpectedEOF})
	docID := h.uploadReady(t, "a.txt", "some text")

	resp := h.postJSON(t, "/query", queryRequest{Question: "text?", DocumentID: docID})
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	body := decode[errorResponse](t, resp)
	assert.Equal(t, model.KindUpstreamFailure, body.ErrorKind)
	assert.Equal(t, body.Message, body.Detail)
}

func TestStartSessionErrors(t *testing.T) {
	h := newHarness(t, stubGenerator{})
	pending, err := h.docs.Create(context.Background(), model.NewDocument{Filename: "slow.pdf"})
	require.NoError(t, err)

	resp := h.postJSON(t, "/start_session", map[string]string{"doc_id": "missing"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	resp = h.postJSON(t, "/start_session", map[string]string{"doc_id": pending.ID})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()

	resp = h.postJSON(t, "/start_session", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestStatusAsMsgpack(t *testing.T) {
	h := newHarness(t, stubGenerator{})
	docID := h.uploadReady(t, "a.txt", "some text")

	req, err := http.NewRequest(http.MethodGet, h.srv.URL+"/status", nil)
	require.NoError(t, err)
	req.Header.Set("Accept", msgpackType)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, msgpackType, resp.Header.Get("Content-Type"))

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var status statusResponse
	require.NoError(t, msgpack.Unmarshal(data, &status))
	assert.Equal(t, model.StatusReady, status.Docs[docID].Status)
	assert.Equal(t, "a.txt", status.Docs[docID].Filename)
}

func TestSignedDownload(t *testing.T) {
	h := newHarness(t, stubGenerator{})
	content := "original bytes of the upload"
	docID := h.uploadReady(t, "orig.txt", content)

	resp := h.get(t, "/documents/"+docID+"/file-url")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	link := decode[fileURLResponse](t, resp)
	require.True(t, strings.HasPrefix(link.URL, "/download?"))

	resp = h.get(t, link.URL)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, content, string(data))

	resp = h.get(t, strings.Replace(link.URL, "signature=", "signature=00", 1))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}

func TestDocumentAndSessionLookups(t *testing.T) {
	h := newHarness(t, stubGenerator{})
	docID := h.uploadReady(t, "a.txt", "some text")

	resp := h.get(t, "/documents/"+docID)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	doc := decode[model.Document](t, resp)
	assert.Equal(t, "a.txt", doc.Filename)
	assert.Equal(t, 1, doc.ChunkCount)

	for _, path := range []string{"/documents/missing", "/sessions/missing", "/documents/missing/file-url"} {
		resp := h.get(t, path)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, path)
		resp.Body.Close()
	}
}

func TestMethodNotAllowedAndCORS(t *testing.T) {
	h := newHarness(t, stubGenerator{})

	resp := h.get(t, "/upload")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	resp.Body.Close()

	req, err := http.NewRequest(http.MethodOptions, h.srv.URL+"/query", nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()
}
