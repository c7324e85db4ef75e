// Package server exposes DocChat over HTTP. Go's net/http package builds
// servers from handler functions which receive an http.ResponseWriter and an
// *http.Request; the Server type only holds the collaborators those handlers
// need.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/dharsanguruparan/docchat/internal/config"
	"github.com/dharsanguruparan/docchat/internal/ingest"
	"github.com/dharsanguruparan/docchat/internal/model"
	"github.com/dharsanguruparan/docchat/internal/query"
	"github.com/dharsanguruparan/docchat/internal/signing"
	"github.com/dharsanguruparan/docchat/internal/storage"
)

// Ingester accepts uploads. *ingest.Pipeline satisfies it.
type Ingester interface {
	Accept(ctx context.Context, up ingest.Upload) (model.Document, error)
}

// Answerer answers questions. *query.Router satisfies it.
type Answerer interface {
	Answer(ctx context.Context, req query.Request) (query.Answer, error)
}

// Deps groups what the handlers talk to.
type Deps struct {
	Documents storage.DocumentStore
	Sessions  storage.SessionStore
	Blobs     storage.BlobStore
	Ingester  Ingester
	Answerer  Answerer
	Signer    *signing.Signer
}

// Server hosts the HTTP handlers.
type Server struct {
	cfg      *config.Config
	docs     storage.DocumentStore
	sessions storage.SessionStore
	blobs    storage.BlobStore
	ingester Ingester
	answerer Answerer
	signer   *signing.Signer
	// spoolDir holds uploads while they stream in, before Accept stores them.
	spoolDir string
}

// New creates a configured server. It fails when the spool directory for
// incoming uploads cannot be created.
func New(cfg *config.Config, deps Deps) (*Server, error) {
	dir := filepath.Join(os.TempDir(), "docchat-incoming")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create spool dir: %w", err)
	}
	signer := deps.Signer
	if signer == nil {
		signer = signing.NewSigner([]byte(cfg.SigningSecret))
	}
	return &Server{
		cfg:      cfg,
		docs:     deps.Documents,
		sessions: deps.Sessions,
		blobs:    deps.Blobs,
		ingester: deps.Ingester,
		answerer: deps.Answerer,
		signer:   signer,
		spoolDir: dir,
	}, nil
}

// Handler returns the full middleware-wrapped handler tree.
func (s *Server) Handler() http.Handler {
	return corsMiddleware(loggingMiddleware(s.routes()))
}

// Serve listens on cfg.Address until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.cfg.Address,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()
	log.Printf("docchat listening on %s", s.cfg.Address)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/upload", s.handleUpload)
	mux.HandleFunc("/start_session", s.handleStartSession)
	mux.HandleFunc("/query", s.handleQuery)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/download", s.handleDownload)
	// Prefix routes carry the id in the path, e.g. /documents/{id}/file-url.
	mux.HandleFunc("/documents/", s.handleDocumentRoute)
	mux.HandleFunc("/sessions/", s.handleSessionRoute)
	return mux
}
