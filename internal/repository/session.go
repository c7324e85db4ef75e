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

var _ storage.SessionStore = (*SessionRepository)(nil)

// SessionRepository stores sessions and their history rows.
type SessionRepository struct {
	pool *pgxpool.Pool
}

// NewSessionRepository constructs a repository.
func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

// Create inserts a session after checking the document is ready. The
// document row is read FOR SHARE so its status cannot change underneath the
// insert.
func (r *SessionRepository) Create(ctx context.Context, documentID string) (model.Session, error) {
	session := model.Session{
		ID:         uuid.NewString(),
		DocumentID: documentID,
		History:    []model.HistoryEntry{},
		CreatedAt:  time.Now().UTC(),
	}
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var status model.DocumentStatus
		err := tx.QueryRow(ctx, `SELECT status FROM documents WHERE id=$1 FOR SHARE`, documentID).Scan(&status)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("document %s: %w", documentID, model.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("select document status: %w", err)
		}
		if status != model.StatusReady {
			return fmt.Errorf("document %s is %s: %w", documentID, status, model.ErrDocumentNotReady)
		}
		_, err = tx.Exec(ctx, `INSERT INTO sessions (id, document_id, created_at) VALUES ($1,$2,$3)`,
			session.ID, session.DocumentID, session.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert session: %w", err)
		}
		return nil
	})
	if err != nil {
		return model.Session{}, err
	}
	return session, nil
}

// Get returns the session with its full history.
func (r *SessionRepository) Get(ctx context.Context, id string) (model.Session, error) {
	var s model.Session
	err := r.pool.QueryRow(ctx, `SELECT id, document_id, created_at FROM sessions WHERE id=$1`, id).
		Scan(&s.ID, &s.DocumentID, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Session{}, fmt.Errorf("session %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return model.Session{}, fmt.Errorf("select session: %w", err)
	}
	history, err := r.history(ctx, id)
	if err != nil {
		return model.Session{}, err
	}
	s.History = history
	return s, nil
}

// AppendHistory appends entries in one transaction. Locking the session row
// serializes concurrent appends so each call's entries stay contiguous.
func (r *SessionRepository) AppendHistory(ctx context.Context, id string, entries ...model.HistoryEntry) error {
	now := time.Now().UTC()
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var locked string
		err := tx.QueryRow(ctx, `SELECT id FROM sessions WHERE id=$1 FOR UPDATE`, id).Scan(&locked)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("session %s: %w", id, model.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("lock session: %w", err)
		}
		var next int
		if err := tx.QueryRow(ctx, `SELECT COALESCE(MAX(position)+1, 0) FROM session_history WHERE session_id=$1`, id).Scan(&next); err != nil {
			return fmt.Errorf("next history position: %w", err)
		}
		batch := &pgx.Batch{}
		for i, e := range entries {
			at := e.At
			if at.IsZero() {
				at = now
			}
			batch.Queue(`INSERT INTO session_history (session_id, position, role, text, created_at) VALUES ($1,$2,$3,$4,$5)`,
				id, next+i, e.Role, e.Text, at)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert history: %w", err)
		}
		return nil
	})
}

// List returns every session with its history, in creation order.
func (r *SessionRepository) List(ctx context.Context) ([]model.Session, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, document_id, created_at FROM sessions ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	sessions, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Session, error) {
		var s model.Session
		err := row.Scan(&s.ID, &s.DocumentID, &s.CreatedAt)
		return s, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan sessions: %w", err)
	}
	for i := range sessions {
		history, err := r.history(ctx, sessions[i].ID)
		if err != nil {
			return nil, err
		}
		sessions[i].History = history
	}
	return sessions, nil
}

func (r *SessionRepository) history(ctx context.Context, id string) ([]model.HistoryEntry, error) {
	rows, err := r.pool.Query(ctx, `SELECT role, text, created_at FROM session_history WHERE session_id=$1 ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("select history: %w", err)
	}
	history, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.HistoryEntry, error) {
		var e model.HistoryEntry
		err := row.Scan(&e.Role, &e.Text, &e.At)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan history: %w", err)
	}
	if history == nil {
		history = []model.HistoryEntry{}
	}
	return history, nil
}
