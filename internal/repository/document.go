// Package repository implements the document and session stores on Postgres
// for deployments where the API and the ingestion worker run as separate
// processes.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dharsanguruparan/docchat/internal/model"
	"github.com/dharsanguruparan/docchat/internal/storage"
)

var _ storage.DocumentStore = (*DocumentRepository)(nil)

// DocumentRepository wraps the SQL for the documents table.
type DocumentRepository struct {
	pool *pgxpool.Pool
}

// NewDocumentRepository constructs a repository.
func NewDocumentRepository(pool *pgxpool.Pool) *DocumentRepository {
	return &DocumentRepository{pool: pool}
}

const documentColumns = `id, filename, content_type, size, object_key, status, chunk_count, error_message, created_at, updated_at`

// Create inserts a document in the ingesting state.
func (r *DocumentRepository) Create(ctx context.Context, in model.NewDocument) (model.Document, error) {
	now := time.Now().UTC()
	doc := model.Document{
		ID:          uuid.NewString(),
		Filename:    in.Filename,
		ContentType: in.ContentType,
		Size:        in.Size,
		ObjectKey:   in.ObjectKey,
		Status:      model.StatusIngesting,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO documents (id, filename, content_type, size, object_key, status, chunk_count, error_message, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,0,'',$7,$8)
	`, doc.ID, doc.Filename, doc.ContentType, doc.Size, doc.ObjectKey, doc.Status, doc.CreatedAt, doc.UpdatedAt)
	if err != nil {
		return model.Document{}, fmt.Errorf("insert document: %w", err)
	}
	return doc, nil
}

// Update applies a status transition.
func (r *DocumentRepository) Update(ctx context.Context, id string, update model.DocumentUpdate) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE documents SET status=$1, chunk_count=$2, error_message=$3, updated_at=$4 WHERE id=$5
	`, update.Status, update.ChunkCount, update.Error, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("document %s: %w", id, model.ErrNotFound)
	}
	return nil
}

// Get returns a document by id.
func (r *DocumentRepository) Get(ctx context.Context, id string) (model.Document, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE id=$1`, id)
	doc, err := scanDocument(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Document{}, fmt.Errorf("document %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return model.Document{}, fmt.Errorf("select document: %w", err)
	}
	return doc, nil
}

// List returns all documents in creation order.
func (r *DocumentRepository) List(ctx context.Context) ([]model.Document, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+documentColumns+` FROM documents ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()
	var out []model.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		out = append(out, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return out, nil
}

func scanDocument(row pgx.Row) (model.Document, error) {
	var doc model.Document
	err := row.Scan(&doc.ID, &doc.Filename, &doc.ContentType, &doc.Size, &doc.ObjectKey,
		&doc.Status, &doc.ChunkCount, &doc.Error, &doc.CreatedAt, &doc.UpdatedAt)
	return doc, err
}
