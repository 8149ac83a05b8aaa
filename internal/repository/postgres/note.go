package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/lectura/lectura/internal/repository"
)

// NoteRepo implements repository.NoteRepository
type NoteRepo struct {
	db *DB
}

// NewNoteRepo creates a new note repository
func NewNoteRepo(db *DB) *NoteRepo {
	return &NoteRepo{db: db}
}

// Upsert creates or replaces the study notes for a document
func (r *NoteRepo) Upsert(ctx context.Context, note *repository.Note) error {
	query := `
		INSERT INTO notes (document_id, notes, model_used, generated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (document_id) DO UPDATE
		SET notes = EXCLUDED.notes, model_used = EXCLUDED.model_used, generated_at = EXCLUDED.generated_at
		RETURNING id
	`
	err := r.db.Pool.QueryRow(ctx, query,
		note.DocumentID, note.Notes, note.ModelUsed, note.GeneratedAt).Scan(&note.ID)
	if err != nil {
		return fmt.Errorf("failed to upsert note: %w", err)
	}
	return nil
}

// GetByDocument retrieves the study notes for a document
func (r *NoteRepo) GetByDocument(ctx context.Context, documentID int64) (*repository.Note, error) {
	query := `
		SELECT id, document_id, notes, model_used, generated_at
		FROM notes
		WHERE document_id = $1
	`
	var note repository.Note
	err := r.db.Pool.QueryRow(ctx, query, documentID).Scan(
		&note.ID, &note.DocumentID, &note.Notes, &note.ModelUsed, &note.GeneratedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get note: %w", err)
	}
	return &note, nil
}

// Ensure NoteRepo implements NoteRepository
var _ repository.NoteRepository = (*NoteRepo)(nil)
