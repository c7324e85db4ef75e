// Package ingest accepts uploads and turns them into indexed chunks. Accept
// runs on the request path and only validates, stores and enqueues; Run does
// the slow extract, chunk and embed work on whatever Dispatcher is wired in.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dharsanguruparan/docchat/internal/embedding"
	"github.com/dharsanguruparan/docchat/internal/index"
	"github.com/dharsanguruparan/docchat/internal/model"
	"github.com/dharsanguruparan/docchat/internal/storage"
)

// Job identifies one document to ingest.
type Job struct {
	DocumentID  string `json:"document_id"`
	ObjectKey   string `json:"object_key"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
}

// Dispatcher hands jobs to something that eventually calls Pipeline.Run.
type Dispatcher interface {
	Dispatch(ctx context.Context, job Job) error
}

// Extractor turns raw bytes into text.
type Extractor interface {
	Extract(ctx context.Context, contentType string, data []byte) (string, error)
}

// Splitter cuts text into chunks.
type Splitter interface {
	Split(text string) []string
}

// Options bounds what Accept lets through.
type Options struct {
	MaxFileSize int64
	// Allowed reports whether a sniffed content type may be ingested.
	Allowed func(contentType string) bool
}

// Upload is a file received from a client. Body must be positioned at the
// start; Accept reads it twice.
type Upload struct {
	Filename string
	Size     int64
	Body     io.ReadSeeker
}

// Pipeline owns the ingestion lifecycle of documents.
type Pipeline struct {
	docs       storage.DocumentStore
	blobs      storage.BlobStore
	extractor  Extractor
	splitter   Splitter
	embedder   embedding.Embedder
	index      index.Index
	dispatcher Dispatcher
	opts       Options
}

// Deps groups the collaborators of a Pipeline.
type Deps struct {
	Documents  storage.DocumentStore
	Blobs      storage.BlobStore
	Extractor  Extractor
	Splitter   Splitter
	Embedder   embedding.Embedder
	Index      index.Index
	Dispatcher Dispatcher
}

// New builds a Pipeline. Dispatcher may be nil in processes that only Run
// jobs, such as the queue worker.
func New(deps Deps, opts Options) *Pipeline {
	if opts.Allowed == nil {
		opts.Allowed = func(string) bool { return true }
	}
	return &Pipeline{
		docs:       deps.Documents,
		blobs:      deps.Blobs,
		extractor:  deps.Extractor,
		splitter:   deps.Splitter,
		embedder:   deps.Embedder,
		index:      deps.Index,
		dispatcher: deps.Dispatcher,
		opts:       opts,
	}
}

// Accept validates the upload, stores its bytes, registers the document as
// ingesting and dispatches the ingestion job. Validation failures wrap
// model.ErrInvalidInput and leave no document behind.
func (p *Pipeline) Accept(ctx context.Context, up Upload) (model.Document, error) {
	if p.dispatcher == nil {
		return model.Document{}, errors.New("ingest: no dispatcher configured")
	}
	contentType, err := p.validate(up)
	if err != nil {
		return model.Document{}, err
	}
	filename := cleanFilename(up.Filename)
	key := fmt.Sprintf("uploads/%s/%s", uuid.NewString(), filename)
	if _, err := up.Body.Seek(0, io.SeekStart); err != nil {
		return model.Document{}, fmt.Errorf("rewind upload: %w", err)
	}
	if err := p.blobs.Put(ctx, key, up.Body, up.Size, contentType); err != nil {
		return model.Document{}, fmt.Errorf("store upload: %w", err)
	}
	doc, err := p.docs.Create(ctx, model.NewDocument{
		Filename:    filename,
		ContentType: contentType,
		Size:        up.Size,
		ObjectKey:   key,
	})
	if err != nil {
		_ = p.blobs.Delete(ctx, key)
		return model.Document{}, fmt.Errorf("create document: %w", err)
	}
	job := Job{DocumentID: doc.ID, ObjectKey: key, Filename: filename, ContentType: contentType}
	if err := p.dispatcher.Dispatch(ctx, job); err != nil {
		reason := fmt.Sprintf("dispatch ingestion: %v", err)
		_ = p.docs.Update(context.WithoutCancel(ctx), doc.ID, model.DocumentUpdate{Status: model.StatusFailed, Error: reason})
		return model.Document{}, fmt.Errorf("dispatch ingestion: %w", err)
	}
	log.Printf("ingest: accepted %s as document %s (%d bytes, %s)", filename, doc.ID, up.Size, contentType)
	return doc, nil
}

func (p *Pipeline) validate(up Upload) (string, error) {
	if up.Body == nil || up.Size == 0 {
		return "", fmt.Errorf("empty file: %w", model.ErrInvalidInput)
	}
	if p.opts.MaxFileSize > 0 && up.Size > p.opts.MaxFileSize {
		return "", fmt.Errorf("file exceeds limit (%d bytes): %w", p.opts.MaxFileSize, model.ErrInvalidInput)
	}
	if _, err := up.Body.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("rewind upload: %w", err)
	}
	// http.DetectContentType considers at most the first 512 bytes.
	sniff := make([]byte, 512)
	n, err := io.ReadFull(up.Body, sniff)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read upload: %w", err)
	}
	if n == 0 {
		return "", fmt.Errorf("empty file: %w", model.ErrInvalidInput)
	}
	contentType := http.DetectContentType(sniff[:n])
	if !p.opts.Allowed(contentType) {
		return "", fmt.Errorf("file type %s not allowed: %w", contentType, model.ErrInvalidInput)
	}
	return contentType, nil
}

// Run executes one ingestion job to completion. On any failure, including a
// panic in a collaborator, the document is marked failed with the reason and
// chunks already indexed for it are removed, so a document is never
// observably ready with partial content. Jobs for documents that are no
// longer ingesting are skipped.
func (p *Pipeline) Run(ctx context.Context, job Job) (err error) {
	start := time.Now()
	doc, err := p.docs.Get(ctx, job.DocumentID)
	if err != nil {
		return fmt.Errorf("load document: %w", err)
	}
	if doc.Status != model.StatusIngesting {
		log.Printf("ingest: skipping document %s in state %s", job.DocumentID, doc.Status)
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = p.fail(ctx, job, fmt.Errorf("ingestion panicked: %v", r))
		}
	}()

	count, err := p.ingest(ctx, job)
	if err != nil {
		return p.fail(ctx, job, err)
	}
	if err := p.docs.Update(ctx, job.DocumentID, model.DocumentUpdate{Status: model.StatusReady, ChunkCount: count}); err != nil {
		return p.fail(ctx, job, fmt.Errorf("mark ready: %w", err))
	}
	log.Printf("ingest: document %s ready (%d chunks in %s)", job.DocumentID, count, time.Since(start).Round(time.Millisecond))
	return nil
}

// Abandon marks the document of a job that will never run as failed with
// cause. Documents that already left the ingesting state are untouched.
func (p *Pipeline) Abandon(ctx context.Context, job Job, cause error) error {
	doc, err := p.docs.Get(ctx, job.DocumentID)
	if err != nil {
		return fmt.Errorf("load document: %w", err)
	}
	if doc.Status != model.StatusIngesting {
		return nil
	}
	p.fail(ctx, job, cause)
	return nil
}

// Resume dispatches a job for every document still ingesting, such as those
// interrupted by a crash of a previous process sharing the same store. It
// returns how many were dispatched; documents that cannot be dispatched are
// marked failed.
func (p *Pipeline) Resume(ctx context.Context) (int, error) {
	if p.dispatcher == nil {
		return 0, errors.New("ingest: no dispatcher configured")
	}
	docs, err := p.docs.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list documents: %w", err)
	}
	resumed := 0
	for _, doc := range docs {
		if doc.Status != model.StatusIngesting {
			continue
		}
		job := Job{DocumentID: doc.ID, ObjectKey: doc.ObjectKey, Filename: doc.Filename, ContentType: doc.ContentType}
		if err := p.dispatcher.Dispatch(ctx, job); err != nil {
			p.fail(ctx, job, fmt.Errorf("resume ingestion: %w", err))
			continue
		}
		resumed++
	}
	if resumed > 0 {
		log.Printf("ingest: resumed %d interrupted document(s)", resumed)
	}
	return resumed, nil
}

func (p *Pipeline) ingest(ctx context.Context, job Job) (int, error) {
	data, err := p.blobs.Get(ctx, job.ObjectKey)
	if err != nil {
		return 0, fmt.Errorf("load upload: %w", err)
	}
	text, err := p.extractor.Extract(ctx, job.ContentType, data)
	if err != nil {
		return 0, err
	}
	chunks := p.splitter.Split(text)
	if len(chunks) == 0 {
		return 0, fmt.Errorf("%w: no extractable text", model.ErrExtraction)
	}
	for i, chunk := range chunks {
		vec, err := p.embedder.Embed(ctx, chunk)
		if err != nil {
			return 0, fmt.Errorf("embed chunk %d: %w: %w", i, model.ErrEmbedding, err)
		}
		entry := index.Entry{DocumentID: job.DocumentID, Index: i, Text: chunk, Vector: vec}
		if err := p.index.Insert(ctx, entry); err != nil {
			return 0, fmt.Errorf("index chunk %d: %w: %w", i, model.ErrIndex, err)
		}
	}
	return len(chunks), nil
}

func (p *Pipeline) fail(ctx context.Context, job Job, cause error) error {
	// The job context may already be cancelled; cleanup must still run.
	cleanup := context.WithoutCancel(ctx)
	if err := p.index.DeleteDocument(cleanup, job.DocumentID); err != nil {
		log.Printf("ingest: cleanup of document %s failed: %v", job.DocumentID, err)
	}
	update := model.DocumentUpdate{Status: model.StatusFailed, Error: cause.Error()}
	if err := p.docs.Update(cleanup, job.DocumentID, update); err != nil {
		log.Printf("ingest: mark document %s failed: %v", job.DocumentID, err)
	}
	log.Printf("ingest: document %s failed: %v", job.DocumentID, cause)
	return cause
}

// cleanFilename strips directories a client may have sent and falls back to
// a placeholder name.
func cleanFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == ".." || name == "/" || name == "" {
		return "upload"
	}
	return name
}
