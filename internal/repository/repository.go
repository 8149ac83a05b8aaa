// Package repository defines domain models and data access interfaces for
// courses, documents, chunks, and AI-generated notes.
package repository

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// Document processing statuses
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Course groups related documents into one searchable corpus
type Course struct {
	ID          int64
	Name        string
	Description string
	CreatedAt   time.Time
}

// Document represents an uploaded course material (document or audio)
type Document struct {
	ID          int64
	CourseID    int64
	Filename    string
	StorageKey  string
	FileType    string
	FileSize    int64
	ContentHash string
	Status      string
	ChunkCount  int
	IsAudio     bool

	// Transcript fields are populated by the transcription collaborator
	// for audio sources; the text is chunked like any other document.
	Transcript          string
	TranscriptionStatus string
	AudioDuration       float64

	UploadedAt time.Time
	UpdatedAt  time.Time
}

// Chunk is the durable record of one chunk of a document. EmbeddingID
// stores the tenant-local vector id assigned by the index registry, kept
// only so deletion bookkeeping can find the vector later.
type Chunk struct {
	ID          int64
	DocumentID  int64
	ChunkIndex  int
	Content     string
	EmbeddingID string
	Metadata    map[string]string
	CreatedAt   time.Time
}

// Note holds AI-generated study notes for a document
type Note struct {
	ID          int64
	DocumentID  int64
	Notes       string
	ModelUsed   string
	GeneratedAt time.Time
}

// CourseRepository defines data access for courses
type CourseRepository interface {
	Create(ctx context.Context, course *Course) error
	GetByID(ctx context.Context, id int64) (*Course, error)
	List(ctx context.Context) ([]*Course, error)
	Delete(ctx context.Context, id int64) error
}

// DocumentRepository defines data access for documents and their chunks
type DocumentRepository interface {
	Create(ctx context.Context, doc *Document) error
	GetByID(ctx context.Context, id int64) (*Document, error)
	GetByHash(ctx context.Context, courseID int64, hash string) (*Document, error)
	List(ctx context.Context) ([]*Document, error)
	ListByCourse(ctx context.Context, courseID int64) ([]*Document, error)
	Update(ctx context.Context, doc *Document) error
	Delete(ctx context.Context, id int64) error

	CreateChunks(ctx context.Context, chunks []*Chunk) error
	ListChunks(ctx context.Context, documentID int64) ([]*Chunk, error)
	DeleteChunks(ctx context.Context, documentID int64) error
}

// NoteRepository defines data access for AI study notes
type NoteRepository interface {
	Upsert(ctx context.Context, note *Note) error
	GetByDocument(ctx context.Context, documentID int64) (*Note, error)
}
