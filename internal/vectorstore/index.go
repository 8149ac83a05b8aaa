package vectorstore

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sort"
)

// flatIndex is an append-only brute-force similarity index. Vectors are
// stored row-major in one flat slice; cosine indices hold pre-normalized
// rows. Brute-force scan is deliberate: tenants hold hundreds to low
// thousands of vectors, where a linear pass beats any ANN structure's
// constant factors.
type flatIndex struct {
	metric  Metric
	dim     int
	vectors []float32 // count * dim, row-major
	count   int
}

func newFlatIndex(metric Metric, dim int) *flatIndex {
	return &flatIndex{metric: metric, dim: dim}
}

// add appends vectors, validating every dimension before mutating so a bad
// batch leaves the index untouched.
func (ix *flatIndex) add(vectors [][]float32) error {
	for _, v := range vectors {
		if len(v) != ix.dim {
			return fmt.Errorf("%w: index dimension %d, vector dimension %d", ErrDimensionMismatch, ix.dim, len(v))
		}
	}

	for _, v := range vectors {
		row := make([]float32, ix.dim)
		copy(row, v)
		if ix.metric == MetricCosine {
			normalize(row)
		}
		ix.vectors = append(ix.vectors, row...)
		ix.count++
	}
	return nil
}

// row returns the stored vector with the given id, aliasing internal memory.
func (ix *flatIndex) row(id int64) []float32 {
	off := int(id) * ix.dim
	return ix.vectors[off : off+ix.dim]
}

type scored struct {
	id         int64
	distance   float32
	similarity float32
}

// scan scores every stored vector against the query, sorted by descending
// similarity with ties broken by ascending id for determinism. The caller
// filters tombstones and truncates to k.
func (ix *flatIndex) scan(query []float32) ([]scored, error) {
	if len(query) != ix.dim {
		return nil, fmt.Errorf("%w: index dimension %d, query dimension %d", ErrDimensionMismatch, ix.dim, len(query))
	}

	q := query
	if ix.metric == MetricCosine {
		q = make([]float32, ix.dim)
		copy(q, query)
		normalize(q)
	}

	results := make([]scored, ix.count)
	for i := 0; i < ix.count; i++ {
		row := ix.vectors[i*ix.dim : (i+1)*ix.dim]

		var distance, similarity float32
		switch ix.metric {
		case MetricL2:
			distance = squaredL2(q, row)
			similarity = 1 / (1 + distance)
		default:
			similarity = dot(q, row)
			distance = 1 - similarity
		}

		results[i] = scored{id: int64(i), distance: distance, similarity: similarity}
	}

	sort.Slice(results, func(a, b int) bool {
		if results[a].similarity != results[b].similarity {
			return results[a].similarity > results[b].similarity
		}
		return results[a].id < results[b].id
	})

	return results, nil
}

func dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

func squaredL2(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

func normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
}

// On-disk layout: magic, version, metric, dimension, count, then the raw
// float32 rows little-endian. Self-describing so a reload recovers both
// dimension and distance regime without the metadata file.
const (
	indexMagic   = "LVIX"
	indexVersion = 1

	// maxIndexPayload bounds the vector payload a single index file may
	// declare, so a corrupt header cannot trigger an enormous allocation.
	maxIndexPayload = 1 << 30
)

// writeTo serializes the index.
func (ix *flatIndex) writeTo(w io.Writer) error {
	bw := bufio.NewWriter(w)

	if _, err := bw.WriteString(indexMagic); err != nil {
		return err
	}
	if err := bw.WriteByte(indexVersion); err != nil {
		return err
	}
	if err := bw.WriteByte(byte(ix.metric)); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, uint32(ix.dim)); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, uint64(ix.count)); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, ix.vectors); err != nil {
		return err
	}
	return bw.Flush()
}

// readFlatIndex deserializes an index written by writeTo.
func readFlatIndex(r io.Reader) (*flatIndex, error) {
	br := bufio.NewReader(r)

	magic := make([]byte, len(indexMagic))
	if _, err := io.ReadFull(br, magic); err != nil {
		return nil, fmt.Errorf("reading index header: %w", err)
	}
	if string(magic) != indexMagic {
		return nil, fmt.Errorf("not an index file (magic %q)", magic)
	}

	version, err := br.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("reading index version: %w", err)
	}
	if version != indexVersion {
		return nil, fmt.Errorf("unsupported index version %d", version)
	}

	metricByte, err := br.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("reading index metric: %w", err)
	}
	metric := Metric(metricByte)
	if metric != MetricCosine && metric != MetricL2 {
		return nil, fmt.Errorf("unsupported index metric %d", metricByte)
	}

	var dim uint32
	if err := binary.Read(br, binary.LittleEndian, &dim); err != nil {
		return nil, fmt.Errorf("reading index dimension: %w", err)
	}
	var count uint64
	if err := binary.Read(br, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("reading index count: %w", err)
	}

	if dim == 0 {
		return nil, fmt.Errorf("index declares zero dimension")
	}
	if count > maxIndexPayload/(uint64(dim)*4) {
		return nil, fmt.Errorf("index declares %d vectors of dimension %d, beyond the %d MiB payload cap", count, dim, maxIndexPayload>>20)
	}

	vectors := make([]float32, int(count)*int(dim))
	if err := binary.Read(br, binary.LittleEndian, vectors); err != nil {
		return nil, fmt.Errorf("reading index vectors: %w", err)
	}

	return &flatIndex{
		metric:  metric,
		dim:     int(dim),
		vectors: vectors,
		count:   int(count),
	}, nil
}
