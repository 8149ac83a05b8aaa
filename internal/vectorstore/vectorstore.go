// Package vectorstore provides partitioned, file-persisted similarity
// indices for course-material embeddings. Each tenant (a course or a single
// document) owns an independent append-only flat index plus a metadata
// table, loaded on demand and saved after every insert batch.
package vectorstore

import (
	"errors"
	"fmt"
)

var (
	// ErrArityMismatch is returned when an insert supplies a different
	// number of vectors and metadata records.
	ErrArityMismatch = errors.New("vectors and metadata counts differ")

	// ErrDimensionMismatch is returned when a vector disagrees with the
	// dimension fixed at a tenant's first insertion.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
)

// Metric selects how vector distance is computed.
type Metric uint8

const (
	// MetricCosine L2-normalizes vectors at insert and query time and
	// scores by inner product, so similarity is a true cosine in [-1, 1]
	// and distance is reported as 1 - similarity.
	MetricCosine Metric = iota

	// MetricL2 scores by squared Euclidean distance, remapped to
	// similarity = 1 / (1 + distance). Monotonic but non-linear: values
	// lie in (0, 1] and are only comparable within one index.
	MetricL2
)

// ParseMetric converts a config string ("cosine" or "l2") to a Metric.
func ParseMetric(s string) (Metric, error) {
	switch s {
	case "cosine", "":
		return MetricCosine, nil
	case "l2":
		return MetricL2, nil
	default:
		return 0, fmt.Errorf("unknown metric %q (valid: cosine, l2)", s)
	}
}

// String returns the config name of the metric.
func (m Metric) String() string {
	switch m {
	case MetricL2:
		return "l2"
	default:
		return "cosine"
	}
}

// TenantKind distinguishes the two index partitioning schemes.
type TenantKind string

const (
	// TenantCourse scopes an index to every document in one course.
	TenantCourse TenantKind = "course"

	// TenantDocument scopes an index to a single document.
	TenantDocument TenantKind = "doc"
)

// TenantKey identifies one independent index partition.
type TenantKey struct {
	Kind TenantKind
	ID   int64
}

// CourseTenant returns the tenant key for a course-scoped index.
func CourseTenant(courseID int64) TenantKey {
	return TenantKey{Kind: TenantCourse, ID: courseID}
}

// DocumentTenant returns the tenant key for a document-scoped index.
func DocumentTenant(documentID int64) TenantKey {
	return TenantKey{Kind: TenantDocument, ID: documentID}
}

func (k TenantKey) String() string {
	return fmt.Sprintf("%s_%d", k.Kind, k.ID)
}

// Record is the metadata stored alongside one vector. Text is carried
// redundantly so retrieval never needs a join back to the relational store.
// Extra holds forward-compatible fields without reverting to an untyped map
// for the required ones.
type Record struct {
	Text       string         `json:"text"`
	ChunkIndex int            `json:"chunk_index"`
	DocumentID int64          `json:"document_id"`
	CourseID   int64          `json:"course_id,omitempty"`
	Filename   string         `json:"filename,omitempty"`
	IsAudio    bool           `json:"is_audio,omitempty"`
	Extra      map[string]any `json:"extra,omitempty"`
}

// SearchResult is one ranked hit from a tenant index.
type SearchResult struct {
	// VectorID is the tenant-local id assigned at insertion time.
	VectorID int64

	// Distance is the raw metric distance (squared L2, or 1 - cosine).
	Distance float32

	// Similarity is the metric's similarity remapping; higher is better.
	Similarity float32

	// Record is the metadata stored with the vector.
	Record Record
}
