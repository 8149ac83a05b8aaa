// Package retrieval composes the embedder and the tenant index registry to
// answer semantic queries against one tenant's course materials.
package retrieval

import (
	"context"
	"errors"
	"fmt"

	"github.com/lectura/lectura/internal/embedder"
	"github.com/lectura/lectura/internal/vectorstore"
)

// ErrUnavailable is returned when a query cannot run because the embedding
// backend is down. Distinct from an empty result: "could not search" versus
// "nothing found" is the caller's distinction to make, keyed on the error.
var ErrUnavailable = errors.New("retrieval unavailable")

// RetrievedChunk is one ranked chunk of course material.
type RetrievedChunk struct {
	Text       string
	VectorID   int64
	Similarity float32
	Distance   float32
	ChunkIndex int
	DocumentID int64
	Filename   string
	IsAudio    bool
}

// Retriever answers natural-language queries against tenant indices.
type Retriever struct {
	embedder embedder.Embedder
	registry *vectorstore.Registry
}

// NewRetriever creates a Retriever over the given embedder and registry.
func NewRetriever(emb embedder.Embedder, registry *vectorstore.Registry) *Retriever {
	return &Retriever{embedder: emb, registry: registry}
}

// Query embeds the query text and returns up to k chunks ranked by
// descending similarity. An empty or unknown tenant yields an empty slice
// and no error; an unavailable embedder yields ErrUnavailable.
func (r *Retriever) Query(ctx context.Context, tenant vectorstore.TenantKey, query string, k int) ([]RetrievedChunk, error) {
	vector, err := r.embedder.Embed(ctx, query)
	if err != nil {
		if errors.Is(err, embedder.ErrModelUnavailable) {
			return nil, fmt.Errorf("%w: %s", ErrUnavailable, err)
		}
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	results, err := r.registry.Search(tenant, vector, k)
	if err != nil {
		return nil, fmt.Errorf("failed to search tenant %s: %w", tenant, err)
	}

	chunks := make([]RetrievedChunk, len(results))
	for i, result := range results {
		chunks[i] = RetrievedChunk{
			Text:       result.Record.Text,
			VectorID:   result.VectorID,
			Similarity: result.Similarity,
			Distance:   result.Distance,
			ChunkIndex: result.Record.ChunkIndex,
			DocumentID: result.Record.DocumentID,
			Filename:   result.Record.Filename,
			IsAudio:    result.Record.IsAudio,
		}
	}
	return chunks, nil
}
