// Package service implements the application services on top of the
// repositories, the ingestion pipeline, the embedder, and the index registry.
package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lectura/lectura/internal/embedder"
	"github.com/lectura/lectura/internal/ingestion"
	"github.com/lectura/lectura/internal/repository"
	"github.com/lectura/lectura/internal/storage"
	"github.com/lectura/lectura/internal/vectorstore"
)

// ErrDuplicateDocument is returned when an uploaded file's content already
// exists in the course.
var ErrDuplicateDocument = errors.New("duplicate document")

// Transcriber converts an audio stream into text. Audio documents are
// chunked and indexed from their transcript exactly like text documents.
type Transcriber interface {
	Transcribe(ctx context.Context, audio io.Reader, filename string) (text string, duration float64, err error)
}

// DocumentService manages document upload, processing, and deletion. It
// keeps the relational store and both tenant indices (the document's own
// and its course's) in step with each other.
type DocumentService struct {
	courseRepo  repository.CourseRepository
	docRepo     repository.DocumentRepository
	blobs       storage.Store
	pipeline    *ingestion.Pipeline
	embedder    embedder.Embedder
	registry    *vectorstore.Registry
	transcriber Transcriber
	logger      *slog.Logger
}

// DocumentServiceOption is a functional option for configuring DocumentService.
type DocumentServiceOption func(*DocumentService)

// WithTranscriber enables audio processing with the given transcriber.
func WithTranscriber(t Transcriber) DocumentServiceOption {
	return func(s *DocumentService) {
		s.transcriber = t
	}
}

// NewDocumentService creates a new DocumentService
func NewDocumentService(
	courseRepo repository.CourseRepository,
	docRepo repository.DocumentRepository,
	blobs storage.Store,
	pipeline *ingestion.Pipeline,
	emb embedder.Embedder,
	registry *vectorstore.Registry,
	logger *slog.Logger,
	opts ...DocumentServiceOption,
) *DocumentService {
	s := &DocumentService{
		courseRepo: courseRepo,
		docRepo:    docRepo,
		blobs:      blobs,
		pipeline:   pipeline,
		embedder:   emb,
		registry:   registry,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// audioExtensions are the upload extensions routed through the transcriber.
var audioExtensions = map[string]bool{
	".mp3": true, ".wav": true, ".m4a": true, ".ogg": true, ".flac": true,
}

// Upload stores an uploaded file and creates its pending document record.
// Identical content already present in the course short-circuits with
// ErrDuplicateDocument. Processing happens separately via Process.
func (s *DocumentService) Upload(ctx context.Context, courseID int64, filename string, content []byte) (*repository.Document, error) {
	if _, err := s.courseRepo.GetByID(ctx, courseID); err != nil {
		return nil, fmt.Errorf("failed to get course: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(filename))
	isAudio := audioExtensions[ext]

	contentHash := hashBytes(content)
	if existing, err := s.docRepo.GetByHash(ctx, courseID, contentHash); err == nil {
		return existing, ErrDuplicateDocument
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("failed to check for duplicate: %w", err)
	}

	storageKey := uuid.New().String() + ext
	if err := s.blobs.Save(ctx, storageKey, bytes.NewReader(content)); err != nil {
		return nil, fmt.Errorf("failed to store upload: %w", err)
	}

	now := time.Now()
	doc := &repository.Document{
		CourseID:    courseID,
		Filename:    filename,
		StorageKey:  storageKey,
		FileType:    strings.TrimPrefix(ext, "."),
		FileSize:    int64(len(content)),
		ContentHash: contentHash,
		Status:      repository.StatusPending,
		IsAudio:     isAudio,
		UploadedAt:  now,
		UpdatedAt:   now,
	}
	if isAudio {
		doc.TranscriptionStatus = repository.StatusPending
	}

	if err := s.docRepo.Create(ctx, doc); err != nil {
		if delErr := s.blobs.Delete(ctx, storageKey); delErr != nil {
			s.logger.Warn("failed to clean up stored upload", "key", storageKey, "error", delErr)
		}
		return nil, fmt.Errorf("failed to create document: %w", err)
	}

	s.logger.Info("document uploaded",
		"document_id", doc.ID, "course_id", courseID,
		"filename", filename, "size", doc.FileSize, "is_audio", isAudio)
	return doc, nil
}

// Process chunks, embeds, and indexes a document's text. Vectors land in
// two tenants: the document's own index for single-document queries, and
// the course index for cross-document queries. Reprocessing a document
// replaces its chunk rows and tombstones its old vectors first.
func (s *DocumentService) Process(ctx context.Context, documentID int64) (*repository.Document, error) {
	doc, err := s.docRepo.GetByID(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	doc.Status = repository.StatusProcessing
	doc.UpdatedAt = time.Now()
	if err := s.docRepo.Update(ctx, doc); err != nil {
		return nil, fmt.Errorf("failed to update document: %w", err)
	}

	text, err := s.extractText(ctx, doc)
	if err != nil {
		s.markFailed(ctx, doc)
		return nil, err
	}

	result, err := s.pipeline.Process(ctx, text, ingestion.Source{
		DocumentID: doc.ID,
		CourseID:   doc.CourseID,
		Filename:   doc.Filename,
		IsAudio:    doc.IsAudio,
	})
	if err != nil {
		s.markFailed(ctx, doc)
		return nil, fmt.Errorf("failed to chunk document: %w", err)
	}

	texts := make([]string, len(result.Chunks))
	for i, chunk := range result.Chunks {
		texts[i] = chunk.Text
	}

	vectors, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		s.markFailed(ctx, doc)
		return nil, fmt.Errorf("failed to embed chunks: %w", err)
	}

	records := make([]vectorstore.Record, len(result.Chunks))
	for i, chunk := range result.Chunks {
		records[i] = vectorstore.Record{
			Text:       chunk.Text,
			ChunkIndex: chunk.Index,
			DocumentID: doc.ID,
			CourseID:   doc.CourseID,
			Filename:   doc.Filename,
			IsAudio:    doc.IsAudio,
		}
	}

	// Reprocessing: mask any vectors left over from a previous run.
	docTenant := vectorstore.DocumentTenant(doc.ID)
	courseTenant := vectorstore.CourseTenant(doc.CourseID)
	s.registry.DeleteDocument(docTenant, doc.ID)
	s.registry.DeleteDocument(courseTenant, doc.ID)

	ids, err := s.registry.Insert(docTenant, vectors, records)
	if err != nil {
		s.markFailed(ctx, doc)
		return nil, fmt.Errorf("failed to index document vectors: %w", err)
	}
	if _, err := s.registry.Insert(courseTenant, vectors, records); err != nil {
		s.markFailed(ctx, doc)
		return nil, fmt.Errorf("failed to index course vectors: %w", err)
	}

	if err := s.docRepo.DeleteChunks(ctx, doc.ID); err != nil {
		s.logger.Warn("failed to delete stale chunk rows", "document_id", doc.ID, "error", err)
	}

	now := time.Now()
	chunkRows := make([]*repository.Chunk, len(result.Chunks))
	for i, chunk := range result.Chunks {
		chunkRows[i] = &repository.Chunk{
			DocumentID:  doc.ID,
			ChunkIndex:  chunk.Index,
			Content:     chunk.Text,
			EmbeddingID: strconv.FormatInt(ids[i], 10),
			Metadata: map[string]string{
				"char_count":       strconv.Itoa(chunk.CharCount),
				"estimated_tokens": strconv.Itoa(chunk.EstimatedTokens),
			},
			CreatedAt: now,
		}
	}
	if err := s.docRepo.CreateChunks(ctx, chunkRows); err != nil {
		s.markFailed(ctx, doc)
		return nil, fmt.Errorf("failed to store chunks: %w", err)
	}

	doc.Status = repository.StatusCompleted
	doc.ChunkCount = len(result.Chunks)
	doc.ContentHash = result.ContentHash
	doc.UpdatedAt = time.Now()
	if err := s.docRepo.Update(ctx, doc); err != nil {
		return nil, fmt.Errorf("failed to update document: %w", err)
	}

	s.logger.Info("document processed",
		"document_id", doc.ID, "course_id", doc.CourseID,
		"chunks", len(result.Chunks), "chars", result.Stats.OriginalChars,
		"duration", result.Stats.ProcessingTime)
	return doc, nil
}

// extractText reads the stored upload and, for audio, transcribes it.
func (s *DocumentService) extractText(ctx context.Context, doc *repository.Document) (string, error) {
	blob, err := s.blobs.Open(ctx, doc.StorageKey)
	if err != nil {
		return "", fmt.Errorf("failed to open stored upload: %w", err)
	}
	defer blob.Close()

	if !doc.IsAudio {
		content, err := io.ReadAll(blob)
		if err != nil {
			return "", fmt.Errorf("failed to read stored upload: %w", err)
		}
		return string(content), nil
	}

	if s.transcriber == nil {
		return "", errors.New("audio uploads are not supported: no transcriber configured")
	}

	doc.TranscriptionStatus = repository.StatusProcessing
	_ = s.docRepo.Update(ctx, doc)

	text, duration, err := s.transcriber.Transcribe(ctx, blob, doc.Filename)
	if err != nil {
		doc.TranscriptionStatus = repository.StatusFailed
		_ = s.docRepo.Update(ctx, doc)
		return "", fmt.Errorf("failed to transcribe audio: %w", err)
	}

	doc.Transcript = text
	doc.AudioDuration = duration
	doc.TranscriptionStatus = repository.StatusCompleted
	_ = s.docRepo.Update(ctx, doc)
	return text, nil
}

// Delete removes a document everywhere: its vectors in both tenant
// indices, its chunk rows, its stored upload, and finally its record.
func (s *DocumentService) Delete(ctx context.Context, documentID int64) error {
	doc, err := s.docRepo.GetByID(ctx, documentID)
	if err != nil {
		return fmt.Errorf("failed to get document: %w", err)
	}

	s.registry.DeleteDocument(vectorstore.DocumentTenant(doc.ID), doc.ID)
	s.registry.DeleteDocument(vectorstore.CourseTenant(doc.CourseID), doc.ID)

	if err := s.docRepo.DeleteChunks(ctx, doc.ID); err != nil {
		s.logger.Warn("failed to delete chunk rows", "document_id", doc.ID, "error", err)
	}
	if err := s.blobs.Delete(ctx, doc.StorageKey); err != nil {
		s.logger.Warn("failed to delete stored upload", "key", doc.StorageKey, "error", err)
	}

	if err := s.docRepo.Delete(ctx, doc.ID); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}

	s.logger.Info("document deleted", "document_id", doc.ID, "course_id", doc.CourseID)
	return nil
}

// Get retrieves a document by ID.
func (s *DocumentService) Get(ctx context.Context, documentID int64) (*repository.Document, error) {
	return s.docRepo.GetByID(ctx, documentID)
}

// List retrieves all documents.
func (s *DocumentService) List(ctx context.Context) ([]*repository.Document, error) {
	return s.docRepo.List(ctx)
}

// ListByCourse retrieves all documents in a course.
func (s *DocumentService) ListByCourse(ctx context.Context, courseID int64) ([]*repository.Document, error) {
	return s.docRepo.ListByCourse(ctx, courseID)
}

// Chunks retrieves a document's chunk rows in chunk order.
func (s *DocumentService) Chunks(ctx context.Context, documentID int64) ([]*repository.Chunk, error) {
	if _, err := s.docRepo.GetByID(ctx, documentID); err != nil {
		return nil, err
	}
	return s.docRepo.ListChunks(ctx, documentID)
}

// CompactCourse rebuilds a course index without its tombstoned vectors.
// Course-tenant vector ids are never referenced from the relational store,
// so no fixup is needed after the remap.
func (s *DocumentService) CompactCourse(courseID int64) error {
	remap, err := s.registry.Compact(vectorstore.CourseTenant(courseID))
	if err != nil {
		return fmt.Errorf("failed to compact course index: %w", err)
	}
	if remap != nil {
		s.logger.Info("course index compacted", "course_id", courseID, "live_vectors", len(remap))
	}
	return nil
}

// markFailed marks a document as failed, logging rather than propagating
// the bookkeeping error since the caller already has one to return.
func (s *DocumentService) markFailed(ctx context.Context, doc *repository.Document) {
	doc.Status = repository.StatusFailed
	doc.UpdatedAt = time.Now()
	if err := s.docRepo.Update(ctx, doc); err != nil {
		s.logger.Error("failed to mark document as failed", "document_id", doc.ID, "error", err)
	}
}

// hashBytes generates a SHA-256 hash of raw upload bytes
func hashBytes(content []byte) string {
	hash := sha256.Sum256(content)
	return hex.EncodeToString(hash[:])
}
