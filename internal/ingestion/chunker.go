// Package ingestion handles text processing for course materials: sentence
// segmentation, chunking, and pipeline orchestration.
package ingestion

import (
	"strings"
)

const (
	// DefaultCharBudget is the target chunk size in characters,
	// approximating 500 tokens at ~4 characters per token.
	DefaultCharBudget = 2000

	// charsPerToken is the heuristic used for token estimates.
	charsPerToken = 4

	// overlapSentences is how many trailing sentences of a closed chunk
	// seed the next one, preserving local context across boundaries.
	overlapSentences = 2
)

// Chunk is a token-budgeted group of consecutive sentences. Immutable once
// produced; Index is contiguous and zero-based within one source text.
type Chunk struct {
	Text            string
	Index           int
	CharCount       int
	EstimatedTokens int
	SentenceCount   int
}

// Chunker groups sentences into overlapping chunks bounded by a character
// budget.
type Chunker struct {
	charBudget int
}

// NewChunker creates a Chunker with the given character budget. Non-positive
// budgets fall back to DefaultCharBudget.
func NewChunker(charBudget int) *Chunker {
	if charBudget <= 0 {
		charBudget = DefaultCharBudget
	}
	return &Chunker{charBudget: charBudget}
}

// Chunk splits text into overlapping sentence-aligned chunks. A sentence is
// never split: a single sentence longer than the budget becomes its own
// oversized chunk. Empty text yields nil. Deterministic, single pass.
func (c *Chunker) Chunk(text string) []Chunk {
	sentences := SplitSentences(text)
	if len(sentences) == 0 {
		return nil
	}

	var chunks []Chunk
	var buffer []string
	bufferLen := 0

	for _, sentence := range sentences {
		// +1 for the joining space when the buffer is non-empty.
		projected := bufferLen + len(sentence)
		if bufferLen > 0 {
			projected++
		}

		if projected > c.charBudget && bufferLen > 0 {
			chunks = append(chunks, c.makeChunk(buffer, len(chunks)))

			// Seed the next buffer with the trailing sentences of the
			// closed chunk, then the sentence that triggered the split.
			overlap := buffer
			if len(overlap) > overlapSentences {
				overlap = overlap[len(overlap)-overlapSentences:]
			}
			buffer = append(append([]string(nil), overlap...), sentence)
		} else {
			buffer = append(buffer, sentence)
		}
		bufferLen = joinedLen(buffer)
	}

	if len(buffer) > 0 {
		chunks = append(chunks, c.makeChunk(buffer, len(chunks)))
	}

	return chunks
}

func (c *Chunker) makeChunk(sentences []string, index int) Chunk {
	text := strings.Join(sentences, " ")
	return Chunk{
		Text:            text,
		Index:           index,
		CharCount:       len(text),
		EstimatedTokens: len(text) / charsPerToken,
		SentenceCount:   len(sentences),
	}
}

func joinedLen(sentences []string) int {
	if len(sentences) == 0 {
		return 0
	}
	n := len(sentences) - 1 // joining spaces
	for _, s := range sentences {
		n += len(s)
	}
	return n
}
