package index

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/dharsanguruparan/docchat/internal/model"
)

var _ Index = (*SQLite)(nil)

// SQLite persists chunks in a single table keyed by (document_id,
// chunk_index). Vectors are stored as little-endian float32 blobs and scored
// in process, which is fine for per-document partitions of a few thousand
// chunks.
type SQLite struct {
	db *sqlx.DB
}

type chunkRow struct {
	DocumentID string `db:"document_id"`
	ChunkIndex int    `db:"chunk_index"`
	Text       string `db:"text"`
	Vector     []byte `db:"vector"`
}

// OpenSQLite opens (creating if needed) the database at path and ensures the
// schema exists.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sqlx.ConnectContext(ctx, "sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite index: %w", err)
	}
	// SQLite allows one writer at a time; a single connection avoids
	// SQLITE_BUSY between pooled connections.
	db.SetMaxOpenConns(1)
	s := &SQLite{db: db}
	if err := s.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) ensureSchema(ctx context.Context) error {
	const stmt = `
CREATE TABLE IF NOT EXISTS chunks (
	document_id TEXT NOT NULL,
	chunk_index INTEGER NOT NULL,
	text TEXT NOT NULL,
	vector BLOB NOT NULL,
	PRIMARY KEY (document_id, chunk_index)
)`
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("ensure chunks schema: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Insert upserts the chunk row.
func (s *SQLite) Insert(ctx context.Context, e Entry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chunks (document_id, chunk_index, text, vector) VALUES (?, ?, ?, ?)
		ON CONFLICT (document_id, chunk_index) DO UPDATE SET text = excluded.text, vector = excluded.vector
	`, e.DocumentID, e.Index, e.Text, encodeVector(e.Vector))
	if err != nil {
		return fmt.Errorf("insert chunk: %w", err)
	}
	return nil
}

// Search loads the document's rows and ranks them.
func (s *SQLite) Search(ctx context.Context, documentID string, vector []float32, k int) ([]model.ScoredChunk, error) {
	rows, err := s.rows(ctx, documentID)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, Entry{DocumentID: r.DocumentID, Index: r.ChunkIndex, Text: r.Text, Vector: decodeVector(r.Vector)})
	}
	return rank(entries, vector, k), nil
}

// Chunks lists the document's chunks in order.
func (s *SQLite) Chunks(ctx context.Context, documentID string) ([]model.Chunk, error) {
	rows, err := s.rows(ctx, documentID)
	if err != nil {
		return nil, err
	}
	out := make([]model.Chunk, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.Chunk{DocumentID: r.DocumentID, Index: r.ChunkIndex, Text: r.Text})
	}
	return out, nil
}

// DeleteDocument removes the document's rows.
func (s *SQLite) DeleteDocument(ctx context.Context, documentID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ?`, documentID); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	return nil
}

func (s *SQLite) rows(ctx context.Context, documentID string) ([]chunkRow, error) {
	var rows []chunkRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT document_id, chunk_index, text, vector FROM chunks WHERE document_id = ? ORDER BY chunk_index
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("select chunks: %w", err)
	}
	return rows, nil
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(buf []byte) []float32 {
	out := make([]float32, len(buf)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return out
}
