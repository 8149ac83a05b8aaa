// Package server exposes the application services over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/lectura/lectura/internal/auth"
	"github.com/lectura/lectura/internal/embedder"
	"github.com/lectura/lectura/internal/repository"
	"github.com/lectura/lectura/internal/retrieval"
	"github.com/lectura/lectura/internal/service"
)

// maxUploadBytes caps multipart uploads at 50 MiB.
const maxUploadBytes = 50 << 20

// HTTPServer serves the course-material API
type HTTPServer struct {
	server *http.Server
	router *chi.Mux
	logger *slog.Logger

	courseRepo repository.CourseRepository
	documents  *service.DocumentService
	answers    *service.AnswerService
	embedder   embedder.Embedder
	jwt        *auth.JWTManager
}

// HTTPServerConfig holds configuration for the HTTP server
type HTTPServerConfig struct {
	Port           int
	Logger         *slog.Logger
	AllowedOrigins []string // CORS allowed origins

	CourseRepo repository.CourseRepository
	Documents  *service.DocumentService
	Answers    *service.AnswerService
	Embedder   embedder.Embedder
	JWT        *auth.JWTManager
}

// NewHTTPServer creates a new HTTP server with all routes registered
func NewHTTPServer(cfg HTTPServerConfig) *HTTPServer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &HTTPServer{
		logger:     logger,
		courseRepo: cfg.CourseRepo,
		documents:  cfg.Documents,
		answers:    cfg.Answers,
		embedder:   cfg.Embedder,
		jwt:        cfg.JWT,
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(requestLoggingMiddleware(logger))
	router.Use(middleware.Recoverer)
	router.Use(corsMiddleware(cfg.AllowedOrigins))

	router.Get("/healthz", s.handleHealth)
	router.Get("/readyz", s.handleReady)

	router.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)

		r.Route("/courses", func(r chi.Router) {
			r.Post("/", s.handleCreateCourse)
			r.Get("/", s.handleListCourses)
			r.Route("/{courseID}", func(r chi.Router) {
				r.Get("/", s.handleGetCourse)
				r.Delete("/", s.handleDeleteCourse)
				r.Get("/documents", s.handleListCourseDocuments)
				r.Post("/documents", s.handleUploadDocument)
				r.Post("/session", s.handleCreateSession)
				r.Post("/query", s.handleQueryCourse)
				r.Post("/compact", s.handleCompactCourse)
			})
		})

		r.Route("/documents", func(r chi.Router) {
			r.Get("/", s.handleListDocuments)
			r.Route("/{documentID}", func(r chi.Router) {
				r.Get("/", s.handleGetDocument)
				r.Delete("/", s.handleDeleteDocument)
				r.Post("/process", s.handleProcessDocument)
				r.Get("/chunks", s.handleGetChunks)
				r.Get("/transcript", s.handleGetTranscript)
				r.Post("/notes", s.handleGenerateNotes)
				r.Get("/notes", s.handleGetNotes)
				r.Post("/query", s.handleQueryDocument)
			})
		})
	})

	s.router = router
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // LLM generation can be slow
		IdleTimeout:  120 * time.Second,
	}

	return s
}

// Start starts the HTTP server
func (s *HTTPServer) Start() error {
	s.logger.Info("starting HTTP server", "address", s.server.Addr)

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("HTTP server shutdown error: %w", err)
	}

	s.logger.Info("HTTP server stopped")
	return nil
}

// --- health and status ---

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *HTTPServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	available := false
	if a, ok := s.embedder.(interface{ Available() bool }); ok {
		available = a.Available()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"embedding_model":     s.embedder.ModelName(),
		"embedding_available": available,
		"embedding_dimension": s.embedder.Dimension(),
	})
}

// --- courses ---

type createCourseRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (s *HTTPServer) handleCreateCourse(w http.ResponseWriter, r *http.Request) {
	var req createCourseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	course := &repository.Course{
		Name:        req.Name,
		Description: req.Description,
		CreatedAt:   time.Now(),
	}
	if err := s.courseRepo.Create(r.Context(), course); err != nil {
		s.internalError(w, r, "failed to create course", err)
		return
	}
	writeJSON(w, http.StatusCreated, courseJSON(course))
}

func (s *HTTPServer) handleListCourses(w http.ResponseWriter, r *http.Request) {
	courses, err := s.courseRepo.List(r.Context())
	if err != nil {
		s.internalError(w, r, "failed to list courses", err)
		return
	}
	out := make([]map[string]any, len(courses))
	for i, c := range courses {
		out[i] = courseJSON(c)
	}
	writeJSON(w, http.StatusOK, map[string]any{"courses": out})
}

func (s *HTTPServer) handleGetCourse(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "courseID")
	if !ok {
		return
	}
	course, err := s.courseRepo.GetByID(r.Context(), id)
	if err != nil {
		s.repoError(w, r, "course", err)
		return
	}
	writeJSON(w, http.StatusOK, courseJSON(course))
}

func (s *HTTPServer) handleDeleteCourse(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "courseID")
	if !ok {
		return
	}

	// Remove the course's documents first so their vectors and uploads go too.
	docs, err := s.documents.ListByCourse(r.Context(), id)
	if err != nil {
		s.internalError(w, r, "failed to list course documents", err)
		return
	}
	for _, doc := range docs {
		if err := s.documents.Delete(r.Context(), doc.ID); err != nil {
			s.internalError(w, r, "failed to delete course document", err)
			return
		}
	}

	if err := s.courseRepo.Delete(r.Context(), id); err != nil {
		s.repoError(w, r, "course", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true, "documents_deleted": len(docs)})
}

func (s *HTTPServer) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "courseID")
	if !ok {
		return
	}
	course, err := s.courseRepo.GetByID(r.Context(), id)
	if err != nil {
		s.repoError(w, r, "course", err)
		return
	}

	token, err := s.jwt.GenerateToken(course.ID, course.Name)
	if err != nil {
		s.internalError(w, r, "failed to generate session token", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": token, "course_id": course.ID})
}

func (s *HTTPServer) handleCompactCourse(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "courseID")
	if !ok {
		return
	}
	if err := s.documents.CompactCourse(id); err != nil {
		s.internalError(w, r, "failed to compact course index", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"compacted": true})
}

// --- documents ---

func (s *HTTPServer) handleUploadDocument(w http.ResponseWriter, r *http.Request) {
	courseID, ok := pathID(w, r, "courseID")
	if !ok {
		return
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	content, err := io.ReadAll(io.LimitReader(file, maxUploadBytes+1))
	if err != nil {
		s.internalError(w, r, "failed to read upload", err)
		return
	}
	if len(content) > maxUploadBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "file too large")
		return
	}

	doc, err := s.documents.Upload(r.Context(), courseID, header.Filename, content)
	if errors.Is(err, service.ErrDuplicateDocument) {
		writeJSON(w, http.StatusOK, map[string]any{
			"document":  documentJSON(doc),
			"duplicate": true,
		})
		return
	}
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "course not found")
			return
		}
		s.internalError(w, r, "failed to upload document", err)
		return
	}
	writeJSON(w, http.StatusCreated, documentJSON(doc))
}

func (s *HTTPServer) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.documents.List(r.Context())
	if err != nil {
		s.internalError(w, r, "failed to list documents", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": documentsJSON(docs)})
}

func (s *HTTPServer) handleListCourseDocuments(w http.ResponseWriter, r *http.Request) {
	courseID, ok := pathID(w, r, "courseID")
	if !ok {
		return
	}
	docs, err := s.documents.ListByCourse(r.Context(), courseID)
	if err != nil {
		s.internalError(w, r, "failed to list documents", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": documentsJSON(docs)})
}

func (s *HTTPServer) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "documentID")
	if !ok {
		return
	}
	doc, err := s.documents.Get(r.Context(), id)
	if err != nil {
		s.repoError(w, r, "document", err)
		return
	}
	writeJSON(w, http.StatusOK, documentJSON(doc))
}

func (s *HTTPServer) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "documentID")
	if !ok {
		return
	}
	if err := s.documents.Delete(r.Context(), id); err != nil {
		s.repoError(w, r, "document", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

func (s *HTTPServer) handleProcessDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "documentID")
	if !ok {
		return
	}
	doc, err := s.documents.Process(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "document not found")
			return
		}
		if errors.Is(err, embedder.ErrModelUnavailable) {
			writeError(w, http.StatusServiceUnavailable, "embedding model unavailable")
			return
		}
		s.internalError(w, r, "failed to process document", err)
		return
	}
	writeJSON(w, http.StatusOK, documentJSON(doc))
}

func (s *HTTPServer) handleGetChunks(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "documentID")
	if !ok {
		return
	}
	chunks, err := s.documents.Chunks(r.Context(), id)
	if err != nil {
		s.repoError(w, r, "document", err)
		return
	}

	out := make([]map[string]any, len(chunks))
	for i, chunk := range chunks {
		out[i] = map[string]any{
			"chunk_index":  chunk.ChunkIndex,
			"content":      chunk.Content,
			"embedding_id": chunk.EmbeddingID,
			"metadata":     chunk.Metadata,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"chunks": out, "count": len(out)})
}

func (s *HTTPServer) handleGetTranscript(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "documentID")
	if !ok {
		return
	}
	doc, err := s.documents.Get(r.Context(), id)
	if err != nil {
		s.repoError(w, r, "document", err)
		return
	}
	if !doc.IsAudio {
		writeError(w, http.StatusBadRequest, "document is not an audio file")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"transcript":           doc.Transcript,
		"transcription_status": doc.TranscriptionStatus,
		"audio_duration":       doc.AudioDuration,
	})
}

// --- notes ---

func (s *HTTPServer) handleGenerateNotes(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "documentID")
	if !ok {
		return
	}
	note, err := s.answers.GenerateNotes(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "document not found")
			return
		}
		s.internalError(w, r, "failed to generate notes", err)
		return
	}
	writeJSON(w, http.StatusOK, noteJSON(note))
}

func (s *HTTPServer) handleGetNotes(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "documentID")
	if !ok {
		return
	}
	note, err := s.answers.Notes(r.Context(), id)
	if err != nil {
		s.repoError(w, r, "notes", err)
		return
	}
	writeJSON(w, http.StatusOK, noteJSON(note))
}

// --- queries ---

type queryRequest struct {
	Question string `json:"question"`
	TopK     int    `json:"top_k"`
}

func (s *HTTPServer) handleQueryDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "documentID")
	if !ok {
		return
	}
	s.handleQuery(w, r, func(ctx context.Context, question string, k int) (*service.Answer, error) {
		return s.answers.QueryDocument(ctx, id, question, k)
	})
}

func (s *HTTPServer) handleQueryCourse(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "courseID")
	if !ok {
		return
	}
	s.handleQuery(w, r, func(ctx context.Context, question string, k int) (*service.Answer, error) {
		return s.answers.QueryCourse(ctx, id, question, k)
	})
}

func (s *HTTPServer) handleQuery(w http.ResponseWriter, r *http.Request, run func(context.Context, string, int) (*service.Answer, error)) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Question == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return
	}

	answer, err := run(r.Context(), req.Question, req.TopK)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		if errors.Is(err, retrieval.ErrUnavailable) {
			writeError(w, http.StatusServiceUnavailable, "retrieval unavailable")
			return
		}
		s.internalError(w, r, "failed to answer query", err)
		return
	}

	sources := make([]map[string]any, len(answer.Sources))
	for i, src := range answer.Sources {
		sources[i] = map[string]any{
			"text":        src.Text,
			"similarity":  src.Similarity,
			"chunk_index": src.ChunkIndex,
			"document_id": src.DocumentID,
			"filename":    src.Filename,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"answer":             answer.Text,
		"sources":            sources,
		"model":              answer.Model,
		"retrieval_time_ms":  answer.Retrieval.Milliseconds(),
		"generation_time_ms": answer.Generate.Milliseconds(),
	})
}

// --- helpers ---

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return id, true
}

func (s *HTTPServer) repoError(w http.ResponseWriter, r *http.Request, entity string, err error) {
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, entity+" not found")
		return
	}
	s.internalError(w, r, "failed to access "+entity, err)
}

func (s *HTTPServer) internalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	s.logger.Error(msg,
		"error", err,
		"path", r.URL.Path,
		"request_id", middleware.GetReqID(r.Context()))
	writeError(w, http.StatusInternalServerError, msg)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func courseJSON(c *repository.Course) map[string]any {
	return map[string]any{
		"id":          c.ID,
		"name":        c.Name,
		"description": c.Description,
		"created_at":  c.CreatedAt,
	}
}

func documentJSON(d *repository.Document) map[string]any {
	return map[string]any{
		"id":                   d.ID,
		"course_id":            d.CourseID,
		"filename":             d.Filename,
		"file_type":            d.FileType,
		"file_size":            d.FileSize,
		"status":               d.Status,
		"chunk_count":          d.ChunkCount,
		"is_audio":             d.IsAudio,
		"transcription_status": d.TranscriptionStatus,
		"uploaded_at":          d.UploadedAt,
		"updated_at":           d.UpdatedAt,
	}
}

func documentsJSON(docs []*repository.Document) []map[string]any {
	out := make([]map[string]any, len(docs))
	for i, d := range docs {
		out[i] = documentJSON(d)
	}
	return out
}

func noteJSON(n *repository.Note) map[string]any {
	return map[string]any{
		"document_id":  n.DocumentID,
		"notes":        n.Notes,
		"model_used":   n.ModelUsed,
		"generated_at": n.GeneratedAt,
	}
}

// requestLoggingMiddleware logs HTTP requests
func requestLoggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Wrap response writer to capture status code
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info("HTTP request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"remote_addr", r.RemoteAddr,
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

// corsMiddleware handles CORS headers
func corsMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			allowed := false
			if len(allowedOrigins) == 0 {
				// No origins configured: allow all, suitable for development
				allowed = true
				origin = "*"
			} else {
				for _, o := range allowedOrigins {
					if o == "*" || o == origin {
						allowed = true
						break
					}
				}
			}

			if allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Request-ID")
				w.Header().Set("Access-Control-Max-Age", "86400")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
