package ingestion

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Source identifies where a piece of text came from. Audio transcripts are
// treated identically to document text once transcribed.
type Source struct {
	DocumentID int64
	CourseID   int64
	Filename   string
	IsAudio    bool
}

// SourcedChunk pairs a chunk with its source.
type SourcedChunk struct {
	Chunk
	Source Source
}

// PipelineResult holds the outcome of processing one source text.
type PipelineResult struct {
	ContentHash string
	Chunks      []SourcedChunk
	Stats       PipelineStats
}

// PipelineStats contains statistics about a pipeline run.
type PipelineStats struct {
	OriginalChars   int
	OriginalWords   int
	ChunkCount      int
	TotalChunkChars int
	ProcessingTime  time.Duration
}

// Pipeline turns raw extracted text into sourced chunks ready for embedding.
type Pipeline struct {
	chunker *Chunker
}

// NewPipeline creates a pipeline with the given chunk character budget.
func NewPipeline(charBudget int) *Pipeline {
	return &Pipeline{chunker: NewChunker(charBudget)}
}

// Process chunks content and stamps each chunk with its source. Empty
// content is an error; the caller decides whether that is fatal.
func (p *Pipeline) Process(ctx context.Context, content string, src Source) (*PipelineResult, error) {
	startTime := time.Now()

	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("content cannot be empty")
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	chunks := p.chunker.Chunk(content)

	sourced := make([]SourcedChunk, len(chunks))
	totalChars := 0
	for i, chunk := range chunks {
		sourced[i] = SourcedChunk{Chunk: chunk, Source: src}
		totalChars += chunk.CharCount
	}

	return &PipelineResult{
		ContentHash: hashContent(content),
		Chunks:      sourced,
		Stats: PipelineStats{
			OriginalChars:   len(content),
			OriginalWords:   len(strings.Fields(content)),
			ChunkCount:      len(chunks),
			TotalChunkChars: totalChars,
			ProcessingTime:  time.Since(startTime),
		},
	}, nil
}

// hashContent generates a SHA-256 hash of the content, used to detect
// re-uploads of identical material.
func hashContent(content string) string {
	hash := sha256.Sum256([]byte(content))
	return hex.EncodeToString(hash[:])
}
