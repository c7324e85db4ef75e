package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/dharsanguruparan/docchat/internal/model"
	"github.com/dharsanguruparan/docchat/internal/query"
	"github.com/dharsanguruparan/docchat/internal/signing"
)

const msgpackType = "application/msgpack"

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type startSessionRequest struct {
	DocumentID string `json:"doc_id"`
}

type startSessionResponse struct {
	SessionID string `json:"session_id"`
}

// handleStartSession takes doc_id from the query string or a JSON body.
// Every call opens a new session, even for the same document.
func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	documentID := r.URL.Query().Get("doc_id")
	if documentID == "" {
		var body startSessionRequest
		if err := decodeJSON(r, &body); err != nil {
			writeError(w, err)
			return
		}
		documentID = body.DocumentID
	}
	if strings.TrimSpace(documentID) == "" {
		writeError(w, fmt.Errorf("doc_id is required: %w", model.ErrInvalidInput))
		return
	}
	session, err := s.sessions.Create(r.Context(), documentID)
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, startSessionResponse{SessionID: session.ID})
}

type queryRequest struct {
	Question   string `json:"question"`
	SessionID  string `json:"session_id,omitempty"`
	DocumentID string `json:"doc_id,omitempty"`
}

type queryResponse struct {
	Answer     string      `json:"answer"`
	DocumentID string      `json:"doc_id"`
	SessionID  string      `json:"session_id,omitempty"`
	Debug      query.Debug `json:"debug"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	var req queryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	ans, err := s.answerer.Answer(r.Context(), query.Request{
		Question:   req.Question,
		SessionID:  req.SessionID,
		DocumentID: req.DocumentID,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, queryResponse{
		Answer:     ans.Text,
		DocumentID: ans.DocumentID,
		SessionID:  ans.SessionID,
		Debug:      ans.Debug,
	})
}

type documentStatus struct {
	Filename   string               `json:"filename" msgpack:"filename"`
	Status     model.DocumentStatus `json:"status" msgpack:"status"`
	ChunkCount int                  `json:"chunk_count" msgpack:"chunk_count"`
}

type statusResponse struct {
	Docs     map[string]documentStatus `json:"docs" msgpack:"docs"`
	Sessions []string                  `json:"sessions" msgpack:"sessions"`
}

// handleStatus reports every document and session. Clients that send
// Accept: application/msgpack get the same snapshot msgpack-encoded.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	docs, err := s.docs.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	sessions, err := s.sessions.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	resp := statusResponse{
		Docs:     make(map[string]documentStatus, len(docs)),
		Sessions: make([]string, 0, len(sessions)),
	}
	for _, d := range docs {
		resp.Docs[d.ID] = documentStatus{Filename: d.Filename, Status: d.Status, ChunkCount: d.ChunkCount}
	}
	for _, sess := range sessions {
		resp.Sessions = append(resp.Sessions, sess.ID)
	}
	if strings.Contains(r.Header.Get("Accept"), msgpackType) {
		respondMsgpack(w, http.StatusOK, resp)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDocumentRoute(w http.ResponseWriter, r *http.Request) {
	id, rest := splitPath(r.URL.Path, "/documents/")
	switch {
	case id == "":
		http.NotFound(w, r)
	case rest == "":
		s.handleDocument(w, r, id)
	case rest == "file-url":
		s.handleFileURL(w, r, id)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleDocument(w http.ResponseWriter, r *http.Request, id string) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	doc, err := s.docs.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, doc)
}

type fileURLResponse struct {
	URL     string    `json:"url"`
	Expires time.Time `json:"expires"`
}

// handleFileURL hands out a short-lived link to the original upload. The
// link is relative; clients resolve it against the base URL they used.
func (s *Server) handleFileURL(w http.ResponseWriter, r *http.Request, id string) {
	if !allowMethod(w, r, http.MethodGet, http.MethodPost) {
		return
	}
	if _, err := s.docs.Get(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	q, expires := s.signer.Query(id, s.cfg.SignedURLTTL)
	respondJSON(w, http.StatusOK, fileURLResponse{URL: "/download?" + q.Encode(), Expires: expires})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	q := r.URL.Query()
	id, expires, signature := q.Get("doc"), q.Get("expires"), q.Get("signature")
	if id == "" || expires == "" || signature == "" {
		writeError(w, fmt.Errorf("doc, expires and signature are required: %w", model.ErrInvalidInput))
		return
	}
	if err := s.signer.Verify(id, expires, signature); err != nil {
		status := http.StatusUnauthorized
		if errors.Is(err, signing.ErrExpired) {
			status = http.StatusGone
		}
		respondError(w, status, model.KindInvalidInput, err.Error())
		return
	}
	doc, err := s.docs.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	data, err := s.blobs.Get(r.Context(), doc.ObjectKey)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", doc.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", doc.Filename))
	// ServeContent handles Range and conditional requests for us.
	http.ServeContent(w, r, doc.Filename, doc.UpdatedAt, bytes.NewReader(data))
}

func (s *Server) handleSessionRoute(w http.ResponseWriter, r *http.Request) {
	id, rest := splitPath(r.URL.Path, "/sessions/")
	if id == "" || rest != "" {
		http.NotFound(w, r)
		return
	}
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	session, err := s.sessions.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, session)
}

// splitPath turns "/documents/abc/file-url" into ("abc", "file-url").
func splitPath(path, prefix string) (id, rest string) {
	trimmed := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	id, rest, _ = strings.Cut(trimmed, "/")
	return id, rest
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode request body: %v: %w", err, model.ErrInvalidInput)
	}
	return nil
}

func allowMethod(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, m := range methods {
		if r.Method == m {
			return true
		}
	}
	w.Header().Set("Allow", strings.Join(methods, ", "))
	respondError(w, http.StatusMethodNotAllowed, model.KindInvalidInput, "method not allowed")
	return false
}

// errorResponse is the body of every failed request. Detail repeats
// Message for clients that only read that field.
type errorResponse struct {
	OK        bool       `json:"ok"`
	ErrorKind model.Kind `json:"error_kind"`
	Message   string     `json:"message"`
	Detail    string     `json:"detail"`
}

// writeError maps err onto a status code through its model.Kind.
func writeError(w http.ResponseWriter, err error) {
	kind := model.KindOf(err)
	var status int
	switch kind {
	case model.KindInvalidInput:
		status = http.StatusBadRequest
	case model.KindNotFound:
		status = http.StatusNotFound
	case model.KindDocumentNotReady:
		status = http.StatusConflict
	case model.KindUpstreamFailure:
		status = http.StatusBadGateway
	default:
		// Internal errors are logged in full but not echoed to clients.
		log.Printf("internal error: %v", err)
		respondError(w, http.StatusInternalServerError, kind, "internal error")
		return
	}
	respondError(w, status, kind, err.Error())
}

func respondError(w http.ResponseWriter, status int, kind model.Kind, message string) {
	respondJSON(w, status, errorResponse{ErrorKind: kind, Message: message, Detail: message})
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	// Headers must be set before WriteHeader; after it only the body remains.
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode response: %v", err)
	}
}

func respondMsgpack(w http.ResponseWriter, status int, payload any) {
	data, err := msgpack.Marshal(payload)
	if err != nil {
		writeError(w, fmt.Errorf("encode msgpack: %w", err))
		return
	}
	w.Header().Set("Content-Type", msgpackType)
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		log.Printf("write response: %v", err)
	}
}
