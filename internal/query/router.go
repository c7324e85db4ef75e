// Package query answers questions about one document at a time. The router
// resolves which document a question targets, retrieves that document's
// closest chunks, asks the generator, and records the exchange in the
// session history.
package query

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/dharsanguruparan/docchat/internal/embedding"
	"github.com/dharsanguruparan/docchat/internal/index"
	"github.com/dharsanguruparan/docchat/internal/llm"
	"github.com/dharsanguruparan/docchat/internal/model"
	"github.com/dharsanguruparan/docchat/internal/storage"
)

// Request is one question. SessionID takes precedence over DocumentID when
// both are set.
type Request struct {
	Question   string
	SessionID  string
	DocumentID string
}

// Answer is the generator's text plus retrieval diagnostics.
type Answer struct {
	Text       string
	DocumentID string
	SessionID  string
	Debug      Debug
}

// Debug describes how an answer was produced.
type Debug struct {
	RetrievedCount  int      `json:"retrieved_count"`
	Snippets        []string `json:"snippets"`
	KeywordFallback bool     `json:"keyword_fallback"`
	RetrievalTime   float64  `json:"retrieval_time_s"`
	GenerationTime  float64  `json:"model_time_s"`
	CorpusChunks    int      `json:"corpus_chunk_count"`
}

const (
	snippetLength   = 300
	fallbackResults = 3
)

// Router wires retrieval and generation together.
type Router struct {
	docs      storage.DocumentStore
	sessions  storage.SessionStore
	embedder  embedding.Embedder
	index     index.Index
	generator llm.Generator
	topK      int
}

// Deps groups the collaborators of a Router.
type Deps struct {
	Documents storage.DocumentStore
	Sessions  storage.SessionStore
	Embedder  embedding.Embedder
	Index     index.Index
	Generator llm.Generator
}

// New builds a Router retrieving topK chunks per question.
func New(deps Deps, topK int) *Router {
	if topK <= 0 {
		topK = 5
	}
	return &Router{
		docs:      deps.Documents,
		sessions:  deps.Sessions,
		embedder:  deps.Embedder,
		index:     deps.Index,
		generator: deps.Generator,
		topK:      topK,
	}
}

// Answer answers req. Errors wrap the model sentinels: ErrInvalidInput for a
// blank question or missing ids, ErrNotFound for unknown sessions or
// documents, ErrDocumentNotReady when the document is not ready at query
// time, and ErrUpstream subtypes for embedding, index and generation
// failures. History is only written when an answer was produced, and then
// the question and answer are appended together.
func (r *Router) Answer(ctx context.Context, req Request) (Answer, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return Answer{}, fmt.Errorf("question is required: %w", model.ErrInvalidInput)
	}
	doc, err := r.resolve(ctx, req)
	if err != nil {
		return Answer{}, err
	}

	retrievalStart := time.Now()
	hits, fallback, err := r.retrieve(ctx, doc.ID, question)
	if err != nil {
		return Answer{}, err
	}
	retrievalTime := time.Since(retrievalStart)

	texts := make([]string, len(hits))
	snippets := make([]string, len(hits))
	for i, h := range hits {
		texts[i] = h.Text
		snippets[i] = snippet(h.Text)
	}

	generationStart := time.Now()
	text, err := r.generator.GenerateAnswer(ctx, question, texts)
	if err != nil {
		return Answer{}, fmt.Errorf("generate answer: %w: %w", model.ErrGeneration, err)
	}
	generationTime := time.Since(generationStart)

	if req.SessionID != "" {
		now := time.Now().UTC()
		err := r.sessions.AppendHistory(ctx, req.SessionID,
			model.HistoryEntry{Role: model.RoleUser, Text: question, At: now},
			model.HistoryEntry{Role: model.RoleAssistant, Text: text, At: now},
		)
		if err != nil {
			return Answer{}, fmt.Errorf("record history: %w", err)
		}
	}
	log.Printf("query: document %s answered from %d chunks (retrieval %s, generation %s)",
		doc.ID, len(hits), retrievalTime.Round(time.Millisecond), generationTime.Round(time.Millisecond))

	return Answer{
		Text:       text,
		DocumentID: doc.ID,
		SessionID:  req.SessionID,
		Debug: Debug{
			RetrievedCount:  len(hits),
			Snippets:        snippets,
			KeywordFallback: fallback,
			RetrievalTime:   retrievalTime.Seconds(),
			GenerationTime:  generationTime.Seconds(),
			CorpusChunks:    doc.ChunkCount,
		},
	}, nil
}

func (r *Router) resolve(ctx context.Context, req Request) (model.Document, error) {
	documentID := req.DocumentID
	if req.SessionID != "" {
		session, err := r.sessions.Get(ctx, req.SessionID)
		if err != nil {
			return model.Document{}, err
		}
		documentID = session.DocumentID
	}
	if documentID == "" {
		return model.Document{}, fmt.Errorf("no document context, provide session_id or doc_id: %w", model.ErrInvalidInput)
	}
	doc, err := r.docs.Get(ctx, documentID)
	if err != nil {
		return model.Document{}, err
	}
	if !doc.Ready() {
		return model.Document{}, fmt.Errorf("document %s is %s: %w", doc.ID, doc.Status, model.ErrDocumentNotReady)
	}
	return doc, nil
}

// retrieve returns the closest chunks of documentID. When vector search
// finds nothing it falls back to keyword overlap over the same document.
func (r *Router) retrieve(ctx context.Context, documentID, question string) ([]model.ScoredChunk, bool, error) {
	vec, err := r.embedder.Embed(ctx, question)
	if err != nil {
		return nil, false, fmt.Errorf("embed question: %w: %w", model.ErrEmbedding, err)
	}
	hits, err := r.index.Search(ctx, documentID, vec, r.topK)
	if err != nil {
		return nil, false, fmt.Errorf("search chunks: %w: %w", model.ErrIndex, err)
	}
	hits = scoped(hits, documentID)
	if len(hits) > 0 {
		return hits, false, nil
	}
	chunks, err := r.index.Chunks(ctx, documentID)
	if err != nil {
		return nil, false, fmt.Errorf("list chunks: %w: %w", model.ErrIndex, err)
	}
	fallback := KeywordSearch(question, chunks, fallbackResults)
	if len(fallback) == 0 {
		log.Printf("query: no context found in document %s", documentID)
	}
	return fallback, true, nil
}

// scoped drops any hit that does not belong to documentID.
func scoped(hits []model.ScoredChunk, documentID string) []model.ScoredChunk {
	out := hits[:0]
	for _, h := range hits {
		if h.DocumentID == documentID {
			out = append(out, h)
		}
	}
	return out
}

func snippet(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if runes := []rune(text); len(runes) > snippetLength {
		return string(runes[:snippetLength])
	}
	return text
}
