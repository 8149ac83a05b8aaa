package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lectura/lectura/internal/llm"
	"github.com/lectura/lectura/internal/repository"
	"github.com/lectura/lectura/internal/retrieval"
	"github.com/lectura/lectura/internal/vectorstore"
)

const (
	// documentSystemPrompt frames single-document answers.
	documentSystemPrompt = `You are an expert academic professor and educational assistant specialized in analyzing course materials.
Using ONLY the provided document excerpts, provide scholarly and educational responses to student inquiries.

- If the input is a question, provide a thorough, pedagogical explanation that helps the student understand the concepts
- If the input is a topic or statement, offer comprehensive academic analysis with educational insights
- Use an authoritative yet approachable tone suitable for higher education
- Always cite specific chunks (e.g., "According to Chunk 1...") to support your explanations
- If the excerpts lack sufficient information, explain what additional context would be needed
- Focus on fostering deep learning and critical thinking rather than just providing answers`

	// answerMaxTokens bounds a single answer; notes get a larger budget.
	answerMaxTokens = 1000
	notesMaxTokens  = 2000

	// notesContentLimit caps how much document text goes into the notes
	// prompt, keeping it inside typical model context windows.
	notesContentLimit = 8000
)

// Answer is the result of one question against a document or course.
type Answer struct {
	Text      string
	Sources   []retrieval.RetrievedChunk
	Model     string
	Retrieval time.Duration
	Generate  time.Duration
}

// AnswerService answers student questions over indexed course material and
// generates study notes. It retrieves context through the Retriever and
// delegates text generation to the LLM client.
type AnswerService struct {
	retriever   *retrieval.Retriever
	llmClient   llm.LLM
	docRepo     repository.DocumentRepository
	noteRepo    repository.NoteRepository
	model       string
	temperature float32
	topK        int
	logger      *slog.Logger
}

// NewAnswerService creates a new AnswerService
func NewAnswerService(
	retriever *retrieval.Retriever,
	llmClient llm.LLM,
	docRepo repository.DocumentRepository,
	noteRepo repository.NoteRepository,
	model string,
	temperature float32,
	topK int,
	logger *slog.Logger,
) *AnswerService {
	if topK <= 0 {
		topK = 5
	}
	return &AnswerService{
		retriever:   retriever,
		llmClient:   llmClient,
		docRepo:     docRepo,
		noteRepo:    noteRepo,
		model:       model,
		temperature: temperature,
		topK:        topK,
		logger:      logger,
	}
}

// QueryDocument answers a question using one document's index.
func (s *AnswerService) QueryDocument(ctx context.Context, documentID int64, question string, k int) (*Answer, error) {
	if _, err := s.docRepo.GetByID(ctx, documentID); err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return s.answer(ctx, vectorstore.DocumentTenant(documentID), question, k, false)
}

// QueryCourse answers a question using a course's cross-document index.
func (s *AnswerService) QueryCourse(ctx context.Context, courseID int64, question string, k int) (*Answer, error) {
	return s.answer(ctx, vectorstore.CourseTenant(courseID), question, k, true)
}

func (s *AnswerService) answer(ctx context.Context, tenant vectorstore.TenantKey, question string, k int, multiDoc bool) (*Answer, error) {
	if strings.TrimSpace(question) == "" {
		return nil, errors.New("question is required")
	}
	if k <= 0 {
		k = s.topK
	}

	retrievalStart := time.Now()
	chunks, err := s.retriever.Query(ctx, tenant, question, k)
	if err != nil {
		return nil, err
	}
	retrievalTime := time.Since(retrievalStart)

	if len(chunks) == 0 {
		return &Answer{
			Text:      "No relevant course material was found for this question. Try processing a document first, or rephrase the question.",
			Model:     s.model,
			Retrieval: retrievalTime,
		}, nil
	}

	systemPrompt := documentSystemPrompt
	if multiDoc {
		systemPrompt = courseSystemPrompt(chunks)
	}
	prompt := buildAnswerPrompt(chunks, question, multiDoc)

	generateStart := time.Now()
	text, err := s.llmClient.Generate(ctx, prompt, llm.GenerateOptions{
		Model:        s.model,
		SystemPrompt: systemPrompt,
		Temperature:  s.temperature,
		MaxTokens:    answerMaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate answer: %w", err)
	}
	generateTime := time.Since(generateStart)

	s.logger.Info("answered question",
		"tenant", tenant.String(), "sources", len(chunks),
		"retrieval", retrievalTime, "generation", generateTime)

	return &Answer{
		Text:      text,
		Sources:   chunks,
		Model:     s.model,
		Retrieval: retrievalTime,
		Generate:  generateTime,
	}, nil
}

// GenerateNotes produces markdown study notes for a processed document and
// persists them, replacing any earlier notes.
func (s *AnswerService) GenerateNotes(ctx context.Context, documentID int64) (*repository.Note, error) {
	doc, err := s.docRepo.GetByID(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	chunks, err := s.docRepo.ListChunks(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", err)
	}
	if len(chunks) == 0 {
		return nil, errors.New("document has no content to generate notes from")
	}

	var content strings.Builder
	for _, chunk := range chunks {
		if content.Len() >= notesContentLimit {
			break
		}
		content.WriteString(chunk.Content)
		content.WriteString("\n\n")
	}
	text := content.String()
	if len(text) > notesContentLimit {
		text = text[:notesContentLimit]
	}

	prompt := buildNotesPrompt(doc.Filename, text)

	notesText, err := s.llmClient.Generate(ctx, prompt, llm.GenerateOptions{
		Model:       s.model,
		Temperature: 0.3, // Consistent structure matters more than variety here
		MaxTokens:   notesMaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate notes: %w", err)
	}

	note := &repository.Note{
		DocumentID:  documentID,
		Notes:       notesText,
		ModelUsed:   s.model,
		GeneratedAt: time.Now(),
	}
	if err := s.noteRepo.Upsert(ctx, note); err != nil {
		return nil, fmt.Errorf("failed to save notes: %w", err)
	}

	s.logger.Info("generated study notes", "document_id", documentID, "model", s.model)
	return note, nil
}

// Notes retrieves previously generated study notes for a document.
func (s *AnswerService) Notes(ctx context.Context, documentID int64) (*repository.Note, error) {
	return s.noteRepo.GetByDocument(ctx, documentID)
}

// courseSystemPrompt frames multi-document answers, naming the source files
// that contributed excerpts.
func courseSystemPrompt(chunks []retrieval.RetrievedChunk) string {
	seen := make(map[string]struct{})
	var files []string
	for _, chunk := range chunks {
		if _, ok := seen[chunk.Filename]; ok {
			continue
		}
		seen[chunk.Filename] = struct{}{}
		files = append(files, chunk.Filename)
	}

	return fmt.Sprintf(`You are an expert professor conducting a comprehensive lecture analysis using multiple course materials.
You have access to excerpts from %d course documents: %s.

As an academic educator, provide scholarly responses using ONLY the provided course material excerpts:

- For student questions, deliver thorough pedagogical explanations that synthesize knowledge across all relevant sources
- For learning topics, provide comprehensive academic analysis that integrates multiple perspectives
- When concepts appear across multiple documents, highlight the scholarly consensus or complementary viewpoints
- Always cite specific documents and chunks (e.g., "As discussed in lecture1.pdf, Chunk 2...")
- When sources present conflicting information, guide students through the academic debate
- Focus on fostering deep learning by connecting concepts across sources`, len(files), strings.Join(files, ", "))
}

// buildAnswerPrompt assembles the retrieved excerpts and the question into
// a single user prompt.
func buildAnswerPrompt(chunks []retrieval.RetrievedChunk, question string, multiDoc bool) string {
	var sb strings.Builder

	if isQuestion(question) {
		sb.WriteString("Student Question: ")
	} else {
		sb.WriteString("Learning Topic: ")
	}
	sb.WriteString(question)
	sb.WriteString("\n\nCourse Material Excerpts:\n")

	for _, chunk := range chunks {
		if multiDoc {
			sb.WriteString(fmt.Sprintf("[Document: %s - Chunk %d]: %s\n\n", chunk.Filename, chunk.ChunkIndex, chunk.Text))
		} else {
			sb.WriteString(fmt.Sprintf("[Chunk %d]: %s\n\n", chunk.ChunkIndex, chunk.Text))
		}
	}

	if multiDoc {
		sb.WriteString("As an expert professor, provide a comprehensive educational response that synthesizes knowledge from the multiple course documents above, citing specific documents and chunks.")
	} else {
		sb.WriteString("As an expert professor, provide a comprehensive educational response using the course material excerpts above, citing specific chunks.")
	}
	return sb.String()
}

// buildNotesPrompt assembles the study-notes generation prompt.
func buildNotesPrompt(filename, content string) string {
	return fmt.Sprintf(`You are an expert educational assistant. Generate comprehensive, well-structured study notes from the following document content.

Document: %s

Please create study notes that include:
1. **Main Topics & Key Concepts** - Identify and explain the primary subjects covered
2. **Important Definitions** - Define key terms and concepts
3. **Key Points & Facts** - Highlight crucial information and facts
4. **Summary** - Provide a concise overview of the main ideas
5. **Study Questions** - Suggest 3-5 review questions to test understanding

Format your response in clear markdown with appropriate headers, bullet points, and emphasis. Make the notes comprehensive but concise, suitable for studying and review.

Document Content:
%s

Generate comprehensive study notes:`, filename, content)
}

// isQuestion guesses whether the input reads as a question rather than a
// topic, which only changes prompt framing.
func isQuestion(input string) bool {
	trimmed := strings.TrimSpace(input)
	if strings.HasSuffix(trimmed, "?") {
		return true
	}
	lower := strings.ToLower(trimmed)
	for _, prefix := range []string{
		"what", "how", "why", "when", "where", "who", "which",
		"can", "could", "would", "should", "is", "are", "do", "does", "did",
	} {
		if strings.HasPrefix(lower, prefix+" ") {
			return true
		}
	}
	return false
}
