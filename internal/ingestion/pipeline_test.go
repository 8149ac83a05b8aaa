package ingestion

import (
	"context"
	"strings"
	"testing"
)

func TestPipeline_EmptyContent(t *testing.T) {
	p := NewPipeline(100)
	if _, err := p.Process(context.Background(), "", Source{}); err == nil {
		t.Error("expected error for empty content")
	}
	if _, err := p.Process(context.Background(), "  \n ", Source{}); err == nil {
		t.Error("expected error for whitespace content")
	}
}

func TestPipeline_Process(t *testing.T) {
	p := NewPipeline(80)
	src := Source{DocumentID: 42, CourseID: 7, Filename: "lecture1.pdf"}

	text := "Photosynthesis converts light to energy. Plants use chlorophyll for this. The process happens in chloroplasts. Oxygen is released as a byproduct."
	result, err := p.Process(context.Background(), text, src)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if result.ContentHash == "" {
		t.Error("expected non-empty content hash")
	}
	if len(result.Chunks) == 0 {
		t.Fatal("expected at least one chunk")
	}
	if result.Stats.ChunkCount != len(result.Chunks) {
		t.Errorf("stats chunk count %d, chunks %d", result.Stats.ChunkCount, len(result.Chunks))
	}
	if result.Stats.OriginalChars != len(text) {
		t.Errorf("stats chars %d, want %d", result.Stats.OriginalChars, len(text))
	}
	if result.Stats.OriginalWords != len(strings.Fields(text)) {
		t.Errorf("stats words %d, want %d", result.Stats.OriginalWords, len(strings.Fields(text)))
	}

	for i, chunk := range result.Chunks {
		if chunk.Source != src {
			t.Errorf("chunk %d has source %+v, want %+v", i, chunk.Source, src)
		}
		if chunk.Index != i {
			t.Errorf("chunk %d has index %d", i, chunk.Index)
		}
	}
}

func TestPipeline_SameContentSameHash(t *testing.T) {
	p := NewPipeline(100)
	text := "Identical content. Hashed twice."

	a, err := p.Process(context.Background(), text, Source{DocumentID: 1})
	if err != nil {
		t.Fatal(err)
	}
	b, err := p.Process(context.Background(), text, Source{DocumentID: 2})
	if err != nil {
		t.Fatal(err)
	}

	if a.ContentHash != b.ContentHash {
		t.Errorf("hashes differ for identical content: %s vs %s", a.ContentHash, b.ContentHash)
	}
}

func TestPipeline_CancelledContext(t *testing.T) {
	p := NewPipeline(100)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := p.Process(ctx, "Some content here.", Source{}); err == nil {
		t.Error("expected error for cancelled context")
	}
}
