package vectorstore

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"testing"
)

func TestFlatIndex_AddValidatesDimensions(t *testing.T) {
	ix := newFlatIndex(MetricCosine, 3)

	err := ix.add([][]float32{{1, 0, 0}, {1, 0}})
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
	// A bad batch must not mutate the index.
	if ix.count != 0 {
		t.Errorf("expected count 0 after failed add, got %d", ix.count)
	}
}

func TestFlatIndex_CosineScan(t *testing.T) {
	ix := newFlatIndex(MetricCosine, 2)
	if err := ix.add([][]float32{{1, 0}, {0, 1}, {0.9, 0.1}}); err != nil {
		t.Fatal(err)
	}

	scores, err := ix.scan([]float32{1, 0})
	if err != nil {
		t.Fatal(err)
	}
	if len(scores) != 3 {
		t.Fatalf("expected 3 scores, got %d", len(scores))
	}

	// Descending similarity: exact match, near match, orthogonal.
	if scores[0].id != 0 || scores[1].id != 2 || scores[2].id != 1 {
		t.Errorf("unexpected order: %v %v %v", scores[0].id, scores[1].id, scores[2].id)
	}
	if math.Abs(float64(scores[0].similarity-1)) > 1e-5 {
		t.Errorf("exact match similarity = %v, want 1", scores[0].similarity)
	}
	if math.Abs(float64(scores[1].similarity-0.99388)) > 1e-3 {
		t.Errorf("near match similarity = %v, want ~0.994", scores[1].similarity)
	}
	if math.Abs(float64(scores[2].similarity)) > 1e-5 {
		t.Errorf("orthogonal similarity = %v, want 0", scores[2].similarity)
	}

	// Cosine distance is 1 - similarity.
	for _, s := range scores {
		if math.Abs(float64(s.distance-(1-s.similarity))) > 1e-6 {
			t.Errorf("id %d: distance %v != 1 - similarity %v", s.id, s.distance, s.similarity)
		}
	}
}

func TestFlatIndex_CosineNormalizesAtInsert(t *testing.T) {
	ix := newFlatIndex(MetricCosine, 2)
	// Scaled copies of the same direction must score identically.
	if err := ix.add([][]float32{{2, 0}, {100, 0}}); err != nil {
		t.Fatal(err)
	}

	scores, err := ix.scan([]float32{5, 0})
	if err != nil {
		t.Fatal(err)
	}
	for _, s := range scores {
		if math.Abs(float64(s.similarity-1)) > 1e-5 {
			t.Errorf("id %d similarity = %v, want 1", s.id, s.similarity)
		}
	}
}

func TestFlatIndex_L2Scan(t *testing.T) {
	ix := newFlatIndex(MetricL2, 2)
	if err := ix.add([][]float32{{0, 0}, {3, 4}}); err != nil {
		t.Fatal(err)
	}

	scores, err := ix.scan([]float32{0, 0})
	if err != nil {
		t.Fatal(err)
	}

	if scores[0].id != 0 {
		t.Errorf("expected id 0 first, got %d", scores[0].id)
	}
	if scores[0].distance != 0 || scores[0].similarity != 1 {
		t.Errorf("exact match: distance %v similarity %v", scores[0].distance, scores[0].similarity)
	}
	// Squared euclidean: 3^2 + 4^2 = 25; similarity 1/(1+25).
	if math.Abs(float64(scores[1].distance-25)) > 1e-5 {
		t.Errorf("distance = %v, want 25", scores[1].distance)
	}
	if math.Abs(float64(scores[1].similarity-1.0/26.0)) > 1e-6 {
		t.Errorf("similarity = %v, want %v", scores[1].similarity, 1.0/26.0)
	}
}

func TestFlatIndex_TiesBreakByAscendingID(t *testing.T) {
	ix := newFlatIndex(MetricCosine, 2)
	// Three identical vectors score identically.
	if err := ix.add([][]float32{{1, 1}, {1, 1}, {1, 1}}); err != nil {
		t.Fatal(err)
	}

	scores, err := ix.scan([]float32{1, 1})
	if err != nil {
		t.Fatal(err)
	}
	for i, s := range scores {
		if s.id != int64(i) {
			t.Errorf("position %d has id %d, want ascending order", i, s.id)
		}
	}
}

func TestFlatIndex_QueryDimensionMismatch(t *testing.T) {
	ix := newFlatIndex(MetricCosine, 3)
	if err := ix.add([][]float32{{1, 0, 0}}); err != nil {
		t.Fatal(err)
	}
	if _, err := ix.scan([]float32{1, 0}); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestFlatIndex_CodecRoundTrip(t *testing.T) {
	for _, metric := range []Metric{MetricCosine, MetricL2} {
		t.Run(metric.String(), func(t *testing.T) {
			ix := newFlatIndex(metric, 3)
			if err := ix.add([][]float32{{1, 2, 3}, {-4, 5, -6}, {0.5, 0, 0.25}}); err != nil {
				t.Fatal(err)
			}

			var buf bytes.Buffer
			if err := ix.writeTo(&buf); err != nil {
				t.Fatalf("writeTo failed: %v", err)
			}

			loaded, err := readFlatIndex(&buf)
			if err != nil {
				t.Fatalf("readFlatIndex failed: %v", err)
			}

			if loaded.metric != ix.metric || loaded.dim != ix.dim || loaded.count != ix.count {
				t.Errorf("header mismatch: %+v vs %+v", loaded, ix)
			}
			for i := range ix.vectors {
				if loaded.vectors[i] != ix.vectors[i] {
					t.Fatalf("vector data differs at %d: %v vs %v", i, loaded.vectors[i], ix.vectors[i])
				}
			}
		})
	}
}

func TestReadFlatIndex_RejectsCorruptHeader(t *testing.T) {
	header := func(dim uint32, count uint64) *bytes.Buffer {
		var buf bytes.Buffer
		buf.WriteString(indexMagic)
		buf.WriteByte(indexVersion)
		buf.WriteByte(byte(MetricCosine))
		binary.Write(&buf, binary.LittleEndian, dim)
		binary.Write(&buf, binary.LittleEndian, count)
		return &buf
	}

	// A corrupt count must be rejected before any payload allocation.
	if _, err := readFlatIndex(header(768, 1<<60)); err == nil {
		t.Error("expected error for an absurd vector count")
	}
	if _, err := readFlatIndex(header(0, 1)); err == nil {
		t.Error("expected error for zero dimension")
	}
}

func TestReadFlatIndex_RejectsGarbage(t *testing.T) {
	if _, err := readFlatIndex(bytes.NewReader([]byte("not an index file"))); err == nil {
		t.Error("expected error for bad magic")
	}
	if _, err := readFlatIndex(bytes.NewReader(nil)); err == nil {
		t.Error("expected error for empty input")
	}
}
