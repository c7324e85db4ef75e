package index

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dharsanguruparan/docchat/internal/model"
)

var _ Index = (*Qdrant)(nil)

// QdrantConfig configures the Qdrant REST client.
type QdrantConfig struct {
	URL        string
	APIKey     string
	Collection string
	Timeout    time.Duration
}

// Qdrant stores chunks as points in one collection with cosine distance.
// The document id lives in the payload and every read carries a must-match
// filter on it. The collection is created on the first insert, once the
// vector size is known.
type Qdrant struct {
	url        string
	apiKey     string
	collection string
	client     *http.Client

	mu    sync.Mutex
	ready bool
}

// errQdrantNotFound marks a 404 from Qdrant, which for reads means the
// collection does not exist yet.
var errQdrantNotFound = errors.New("qdrant: not found")

// NewQdrant builds a client. Nothing is contacted until first use.
func NewQdrant(cfg QdrantConfig) *Qdrant {
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Qdrant{
		url:        strings.TrimRight(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		client:     &http.Client{Timeout: cfg.Timeout},
	}
}

// PointID derives a stable point id from the chunk coordinates. Qdrant only
// accepts unsigned integers or UUIDs as ids.
func PointID(documentID string, index int) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(documentID+":"+strconv.Itoa(index))).String()
}

func documentFilter(documentID string) map[string]any {
	return map[string]any{
		"must": []map[string]any{
			{"key": "document_id", "match": map[string]any{"value": documentID}},
		},
	}
}

// Insert upserts one point.
func (q *Qdrant) Insert(ctx context.Context, e Entry) error {
	if err := q.ensureCollection(ctx, len(e.Vector)); err != nil {
		return err
	}
	body := map[string]any{
		"points": []map[string]any{{
			"id":     PointID(e.DocumentID, e.Index),
			"vector": e.Vector,
			"payload": map[string]any{
				"document_id": e.DocumentID,
				"index":       e.Index,
				"text":        e.Text,
			},
		}},
	}
	if err := q.do(ctx, http.MethodPut, q.collectionURL()+"/points?wait=true", body, nil); err != nil {
		return fmt.Errorf("upsert point: %w", err)
	}
	return nil
}

type qdrantPayload struct {
	DocumentID string `json:"document_id"`
	Index      int    `json:"index"`
	Text       string `json:"text"`
}

func (p qdrantPayload) chunk() model.Chunk {
	return model.Chunk{DocumentID: p.DocumentID, Index: p.Index, Text: p.Text}
}

// Search runs a filtered nearest-neighbour query.
func (q *Qdrant) Search(ctx context.Context, documentID string, vector []float32, k int) ([]model.ScoredChunk, error) {
	if k <= 0 {
		k = 5
	}
	req := map[string]any{
		"vector":       vector,
		"limit":        k,
		"with_payload": true,
		"filter":       documentFilter(documentID),
	}
	var resp struct {
		Result []struct {
			Score   float64       `json:"score"`
			Payload qdrantPayload `json:"payload"`
		} `json:"result"`
	}
	err := q.do(ctx, http.MethodPost, q.collectionURL()+"/points/search", req, &resp)
	if errors.Is(err, errQdrantNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("search points: %w", err)
	}
	out := make([]model.ScoredChunk, 0, len(resp.Result))
	for _, r := range resp.Result {
		if r.Payload.DocumentID != documentID {
			continue
		}
		out = append(out, model.ScoredChunk{Chunk: r.Payload.chunk(), Score: r.Score})
	}
	return out, nil
}

// Chunks scrolls through every point of the document.
func (q *Qdrant) Chunks(ctx context.Context, documentID string) ([]model.Chunk, error) {
	var (
		out    []model.Chunk
		offset any
	)
	for {
		req := map[string]any{
			"filter":       documentFilter(documentID),
			"limit":        256,
			"with_payload": true,
			"with_vector":  false,
		}
		if offset != nil {
			req["offset"] = offset
		}
		var resp struct {
			Result struct {
				Points []struct {
					Payload qdrantPayload `json:"payload"`
				} `json:"points"`
				NextPageOffset any `json:"next_page_offset"`
			} `json:"result"`
		}
		err := q.do(ctx, http.MethodPost, q.collectionURL()+"/points/scroll", req, &resp)
		if errors.Is(err, errQdrantNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("scroll points: %w", err)
		}
		for _, p := range resp.Result.Points {
			out = append(out, p.Payload.chunk())
		}
		if resp.Result.NextPageOffset == nil {
			break
		}
		offset = resp.Result.NextPageOffset
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

// DeleteDocument deletes points by filter.
func (q *Qdrant) DeleteDocument(ctx context.Context, documentID string) error {
	body := map[string]any{"filter": documentFilter(documentID)}
	err := q.do(ctx, http.MethodPost, q.collectionURL()+"/points/delete?wait=true", body, nil)
	if err != nil && !errors.Is(err, errQdrantNotFound) {
		return fmt.Errorf("delete points: %w", err)
	}
	return nil
}

func (q *Qdrant) ensureCollection(ctx context.Context, dim int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.ready {
		return nil
	}
	if dim <= 0 {
		return errors.New("qdrant: empty vector")
	}
	err := q.do(ctx, http.MethodGet, q.collectionURL(), nil, nil)
	if errors.Is(err, errQdrantNotFound) {
		body := map[string]any{"vectors": map[string]any{"size": dim, "distance": "Cosine"}}
		err = q.do(ctx, http.MethodPut, q.collectionURL(), body, nil)
		if err == nil {
			// The payload index makes the document filter cheap.
			idx := map[string]any{"field_name": "document_id", "field_schema": "keyword"}
			err = q.do(ctx, http.MethodPut, q.collectionURL()+"/index?wait=true", idx, nil)
		}
	}
	if err != nil {
		return fmt.Errorf("ensure collection %s: %w", q.collection, err)
	}
	q.ready = true
	return nil
}

func (q *Qdrant) collectionURL() string {
	return q.url + "/collections/" + q.collection
}

func (q *Qdrant) do(ctx context.Context, method, url string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if q.apiKey != "" {
		req.Header.Set("api-key", q.apiKey)
	}
	resp, err := q.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return errQdrantNotFound
	}
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("qdrant %s %s: %s: %s", method, url, resp.Status, strings.TrimSpace(string(msg)))
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
