package service

import (
	"strings"
	"testing"

	"github.com/lectura/lectura/internal/retrieval"
)

func TestIsQuestion(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"What is photosynthesis?", true},
		{"what is photosynthesis", true},
		{"How does it work", true},
		{"Explain chapter three", false},
		{"The French Revolution", false},
		{"Is this covered in the exam", true},
		{"Mitochondria?", true},
		{"  why though  ", true},
		{"whyfore art thou", false},
	}

	for _, tt := range tests {
		if got := isQuestion(tt.input); got != tt.want {
			t.Errorf("isQuestion(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestBuildAnswerPrompt_SingleDocument(t *testing.T) {
	chunks := []retrieval.RetrievedChunk{
		{Text: "Cells divide by mitosis.", ChunkIndex: 0, Filename: "bio.pdf"},
		{Text: "Meiosis produces gametes.", ChunkIndex: 3, Filename: "bio.pdf"},
	}

	prompt := buildAnswerPrompt(chunks, "How do cells divide?", false)

	if !strings.HasPrefix(prompt, "Student Question: How do cells divide?") {
		t.Errorf("prompt does not open with the question: %q", prompt[:60])
	}
	if !strings.Contains(prompt, "[Chunk 0]: Cells divide by mitosis.") {
		t.Error("missing first chunk citation")
	}
	if !strings.Contains(prompt, "[Chunk 3]: Meiosis produces gametes.") {
		t.Error("missing second chunk citation")
	}
	if strings.Contains(prompt, "[Document:") {
		t.Error("single-document prompt should not name source files")
	}
}

func TestBuildAnswerPrompt_MultiDocument(t *testing.T) {
	chunks := []retrieval.RetrievedChunk{
		{Text: "From the lecture.", ChunkIndex: 1, Filename: "lecture1.pdf"},
		{Text: "From the textbook.", ChunkIndex: 2, Filename: "textbook.docx"},
	}

	prompt := buildAnswerPrompt(chunks, "Compare the sources", true)

	if !strings.HasPrefix(prompt, "Learning Topic: Compare the sources") {
		t.Errorf("topic input should be framed as a topic: %q", prompt[:60])
	}
	if !strings.Contains(prompt, "[Document: lecture1.pdf - Chunk 1]: From the lecture.") {
		t.Error("missing document-qualified citation")
	}
	if !strings.Contains(prompt, "[Document: textbook.docx - Chunk 2]: From the textbook.") {
		t.Error("missing second document-qualified citation")
	}
}

func TestCourseSystemPrompt_DeduplicatesFiles(t *testing.T) {
	chunks := []retrieval.RetrievedChunk{
		{Filename: "a.pdf"},
		{Filename: "b.pdf"},
		{Filename: "a.pdf"},
	}

	prompt := courseSystemPrompt(chunks)
	if !strings.Contains(prompt, "2 course documents") {
		t.Errorf("expected 2 unique documents in prompt: %s", prompt)
	}
	if !strings.Contains(prompt, "a.pdf, b.pdf") {
		t.Errorf("expected file list in prompt: %s", prompt)
	}
}

func TestBuildNotesPrompt(t *testing.T) {
	prompt := buildNotesPrompt("chem.pdf", "Atoms bond covalently.")
	if !strings.Contains(prompt, "Document: chem.pdf") {
		t.Error("missing document name")
	}
	if !strings.Contains(prompt, "Atoms bond covalently.") {
		t.Error("missing document content")
	}
	if !strings.Contains(prompt, "Study Questions") {
		t.Error("missing study questions section")
	}
}
