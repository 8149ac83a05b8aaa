package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/lectura/lectura/internal/repository"
)

// DocumentRepo implements repository.DocumentRepository
type DocumentRepo struct {
	db *DB
}

// NewDocumentRepo creates a new document repository
func NewDocumentRepo(db *DB) *DocumentRepo {
	return &DocumentRepo{db: db}
}

const documentColumns = `id, course_id, filename, storage_key, file_type, file_size, content_hash,
	status, chunk_count, is_audio, transcript, transcription_status, audio_duration,
	uploaded_at, updated_at`

// Create creates a new document and fills in its assigned ID
func (r *DocumentRepo) Create(ctx context.Context, doc *repository.Document) error {
	query := `
		INSERT INTO documents (course_id, filename, storage_key, file_type, file_size, content_hash,
			status, chunk_count, is_audio, transcript, transcription_status, audio_duration,
			uploaded_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id
	`
	err := r.db.Pool.QueryRow(ctx, query,
		doc.CourseID, doc.Filename, doc.StorageKey, doc.FileType, doc.FileSize, doc.ContentHash,
		doc.Status, doc.ChunkCount, doc.IsAudio, doc.Transcript, doc.TranscriptionStatus,
		doc.AudioDuration, doc.UploadedAt, doc.UpdatedAt).Scan(&doc.ID)
	if err != nil {
		return fmt.Errorf("failed to create document: %w", err)
	}
	return nil
}

// GetByID retrieves a document by ID
func (r *DocumentRepo) GetByID(ctx context.Context, id int64) (*repository.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE id = $1`
	return r.scanDocument(r.db.Pool.QueryRow(ctx, query, id))
}

// GetByHash retrieves a document in a course by content hash
func (r *DocumentRepo) GetByHash(ctx context.Context, courseID int64, hash string) (*repository.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE course_id = $1 AND content_hash = $2`
	return r.scanDocument(r.db.Pool.QueryRow(ctx, query, courseID, hash))
}

func (r *DocumentRepo) scanDocument(row pgx.Row) (*repository.Document, error) {
	var doc repository.Document
	err := row.Scan(
		&doc.ID, &doc.CourseID, &doc.Filename, &doc.StorageKey, &doc.FileType, &doc.FileSize,
		&doc.ContentHash, &doc.Status, &doc.ChunkCount, &doc.IsAudio, &doc.Transcript,
		&doc.TranscriptionStatus, &doc.AudioDuration, &doc.UploadedAt, &doc.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return &doc, nil
}

// List retrieves all documents, newest first
func (r *DocumentRepo) List(ctx context.Context) ([]*repository.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents ORDER BY uploaded_at DESC`
	return r.queryDocuments(ctx, query)
}

// ListByCourse retrieves all documents in a course, newest first
func (r *DocumentRepo) ListByCourse(ctx context.Context, courseID int64) ([]*repository.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE course_id = $1 ORDER BY uploaded_at DESC`
	return r.queryDocuments(ctx, query, courseID)
}

func (r *DocumentRepo) queryDocuments(ctx context.Context, query string, args ...any) ([]*repository.Document, error) {
	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []*repository.Document
	for rows.Next() {
		var doc repository.Document
		if err := rows.Scan(
			&doc.ID, &doc.CourseID, &doc.Filename, &doc.StorageKey, &doc.FileType, &doc.FileSize,
			&doc.ContentHash, &doc.Status, &doc.ChunkCount, &doc.IsAudio, &doc.Transcript,
			&doc.TranscriptionStatus, &doc.AudioDuration, &doc.UploadedAt, &doc.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, &doc)
	}
	return docs, rows.Err()
}

// Update updates a document's mutable fields
func (r *DocumentRepo) Update(ctx context.Context, doc *repository.Document) error {
	query := `
		UPDATE documents
		SET status = $2, chunk_count = $3, content_hash = $4, transcript = $5,
			transcription_status = $6, audio_duration = $7, updated_at = $8
		WHERE id = $1
	`
	tag, err := r.db.Pool.Exec(ctx, query,
		doc.ID, doc.Status, doc.ChunkCount, doc.ContentHash, doc.Transcript,
		doc.TranscriptionStatus, doc.AudioDuration, doc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// Delete deletes a document and its chunks
func (r *DocumentRepo) Delete(ctx context.Context, id int64) error {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// CreateChunks inserts a batch of chunk records
func (r *DocumentRepo) CreateChunks(ctx context.Context, chunks []*repository.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	query := `
		INSERT INTO chunks (document_id, chunk_index, content, embedding_id, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	for _, chunk := range chunks {
		metadataJSON, err := json.Marshal(chunk.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal chunk metadata: %w", err)
		}
		batch.Queue(query, chunk.DocumentID, chunk.ChunkIndex, chunk.Content,
			chunk.EmbeddingID, metadataJSON, chunk.CreatedAt)
	}

	results := r.db.Pool.SendBatch(ctx, batch)
	defer results.Close()
	for range chunks {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to insert chunk: %w", err)
		}
	}
	return nil
}

// ListChunks retrieves a document's chunks in chunk order
func (r *DocumentRepo) ListChunks(ctx context.Context, documentID int64) ([]*repository.Chunk, error) {
	query := `
		SELECT id, document_id, chunk_index, content, embedding_id, metadata, created_at
		FROM chunks
		WHERE document_id = $1
		ORDER BY chunk_index
	`
	rows, err := r.db.Pool.Query(ctx, query, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", err)
	}
	defer rows.Close()

	var chunks []*repository.Chunk
	for rows.Next() {
		var chunk repository.Chunk
		var metadataJSON []byte
		if err := rows.Scan(&chunk.ID, &chunk.DocumentID, &chunk.ChunkIndex,
			&chunk.Content, &chunk.EmbeddingID, &metadataJSON, &chunk.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		chunk.Metadata = make(map[string]string)
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &chunk.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal chunk metadata: %w", err)
			}
		}
		chunks = append(chunks, &chunk)
	}
	return chunks, rows.Err()
}

// DeleteChunks deletes all chunk records for a document
func (r *DocumentRepo) DeleteChunks(ctx context.Context, documentID int64) error {
	if _, err := r.db.Pool.Exec(ctx, `DELETE FROM chunks WHERE document_id = $1`, documentID); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	return nil
}

// Ensure DocumentRepo implements DocumentRepository
var _ repository.DocumentRepository = (*DocumentRepo)(nil)
