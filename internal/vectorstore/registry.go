package vectorstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	// Dir is the directory holding the per-tenant index files.
	Dir string

	// Basename prefixes every index file, e.g. "index" gives
	// index_course_7.idx / index_course_7.meta.
	Basename string

	// DocumentMetric is the metric for newly created document-scoped
	// indices. Course indices always use cosine; the metric of an index
	// loaded from disk is whatever its file says.
	DocumentMetric Metric

	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// Registry owns every tenant index in the process: at most one in-memory
// copy per tenant, demand-loaded from disk and cached for the process
// lifetime. Construct one at startup and pass it explicitly; there is no
// package-level instance.
//
// Tenants lock independently, so inserts into one course never block
// searches against another. Within one tenant an insert is atomic from the
// searcher's point of view: a concurrent search sees the old size or the
// new size, never a torn append.
type Registry struct {
	dir            string
	basename       string
	documentMetric Metric
	logger         *slog.Logger

	mu      sync.Mutex // guards tenants map, never held during index work
	tenants map[TenantKey]*tenant
}

// tenant is one partition's in-memory state. A nil index means the tenant
// has no data yet (neither in memory nor on disk, as far as we know).
type tenant struct {
	mu      sync.RWMutex
	index   *flatIndex
	records map[int64]Record
	deleted map[int64]struct{}
}

// NewRegistry creates a registry persisting under cfg.Dir, creating the
// directory if needed.
func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	if cfg.Dir == "" {
		return nil, errors.New("registry dir is required")
	}
	if cfg.Basename == "" {
		cfg.Basename = "index"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create index dir: %w", err)
	}

	return &Registry{
		dir:            cfg.Dir,
		basename:       cfg.Basename,
		documentMetric: cfg.DocumentMetric,
		logger:         cfg.Logger,
		tenants:        make(map[TenantKey]*tenant),
	}, nil
}

func (r *Registry) get(key TenantKey) *tenant {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tenants[key]
	if !ok {
		t = &tenant{
			records: make(map[int64]Record),
			deleted: make(map[int64]struct{}),
		}
		r.tenants[key] = t
	}
	return t
}

// lookup reads the tenant map without creating an entry, so read paths
// probing unknown tenants do not grow it.
func (r *Registry) lookup(key TenantKey) (*tenant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tenants[key]
	return t, ok
}

func (r *Registry) metricFor(key TenantKey) Metric {
	if key.Kind == TenantDocument {
		return r.documentMetric
	}
	// Cosine is the meaningful metric across heterogeneous documents
	// inside one course.
	return MetricCosine
}

// Insert appends a batch of vectors with their metadata records to a
// tenant, creating the index on first insertion and fixing its dimension.
// Returned ids are assigned in input order as previousSize+offset; they are
// never reused unless the tenant is compacted.
//
// The batch is persisted synchronously before Insert returns. A
// persistence failure is logged rather than returned: the in-memory state
// remains the source of truth until the next successful save.
func (r *Registry) Insert(key TenantKey, vectors [][]float32, records []Record) ([]int64, error) {
	if len(vectors) != len(records) {
		return nil, fmt.Errorf("%w: %d vectors, %d records", ErrArityMismatch, len(vectors), len(records))
	}
	if len(vectors) == 0 {
		return nil, nil
	}

	t := r.get(key)
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.index == nil {
		// A cold tenant may still have files from a previous run.
		if err := r.loadLocked(key, t); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load tenant %s: %w", key, err)
		}
	}
	if t.index == nil {
		t.index = newFlatIndex(r.metricFor(key), len(vectors[0]))
	}

	previousSize := t.index.count
	if err := t.index.add(vectors); err != nil {
		return nil, err
	}

	ids := make([]int64, len(records))
	for i, record := range records {
		id := int64(previousSize + i)
		t.records[id] = record
		ids[i] = id
	}

	if err := r.persistLocked(key, t); err != nil {
		// Memory is authoritative for the rest of the process; disk
		// catches up on the next successful save.
		r.logger.Error("failed to persist tenant index",
			"tenant", key.String(), "error", err)
	}

	return ids, nil
}

// Search returns up to k results ordered by descending similarity, ties
// broken by ascending vector id. A tenant with no index in memory or on
// disk yields an empty result and no error: "no data" and "no results" are
// indistinguishable by design. Tombstoned vectors are filtered out before
// truncation.
func (r *Registry) Search(key TenantKey, query []float32, k int) ([]SearchResult, error) {
	if k <= 0 {
		return nil, nil
	}

	t, ok := r.lookup(key)
	if !ok {
		// Only materialize a tenant entry when its files exist on disk.
		if _, err := os.Stat(r.indexPath(key)); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, nil
			}
			return nil, fmt.Errorf("failed to stat tenant %s: %w", key, err)
		}
		t = r.get(key)
	}
	t.mu.RLock()
	if t.index == nil {
		t.mu.RUnlock()
		t.mu.Lock()
		if t.index == nil {
			if err := r.loadLocked(key, t); err != nil {
				t.mu.Unlock()
				if errors.Is(err, fs.ErrNotExist) {
					return nil, nil
				}
				return nil, fmt.Errorf("failed to load tenant %s: %w", key, err)
			}
		}
		t.mu.Unlock()
		t.mu.RLock()
	}
	defer t.mu.RUnlock()

	scores, err := t.index.scan(query)
	if err != nil {
		return nil, err
	}

	results := make([]SearchResult, 0, k)
	for _, s := range scores {
		if _, gone := t.deleted[s.id]; gone {
			continue
		}
		record, ok := t.records[s.id]
		if !ok {
			// Orphaned vector with no metadata; mask it.
			continue
		}
		results = append(results, SearchResult{
			VectorID:   s.id,
			Distance:   s.distance,
			Similarity: s.similarity,
			Record:     record,
		})
		if len(results) == k {
			break
		}
	}

	return results, nil
}

// Size returns the number of live (non-tombstoned) vectors in a tenant, or
// 0 when the tenant has no in-memory index.
func (r *Registry) Size(key TenantKey) int {
	t, ok := r.lookup(key)
	if !ok {
		return 0
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.index == nil {
		return 0
	}
	return t.index.count - len(t.deleted)
}

// DeleteVectors tombstones the given vector ids. The vectors stay
// physically present in the append-only index but are masked from every
// search; Compact reclaims the space. Returns how many ids were newly
// tombstoned.
func (r *Registry) DeleteVectors(key TenantKey, ids []int64) int {
	t := r.get(key)
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.index == nil {
		return 0
	}

	deleted := 0
	for _, id := range ids {
		if id < 0 || id >= int64(t.index.count) {
			continue
		}
		if _, gone := t.deleted[id]; gone {
			continue
		}
		t.deleted[id] = struct{}{}
		deleted++
	}

	if deleted > 0 {
		if err := r.persistLocked(key, t); err != nil {
			r.logger.Error("failed to persist tenant index after delete",
				"tenant", key.String(), "error", err)
		}
	}
	return deleted
}

// DeleteDocument tombstones every live vector owned by the given document.
// Used when a document is removed from a course-scoped index.
func (r *Registry) DeleteDocument(key TenantKey, documentID int64) int {
	t := r.get(key)
	t.mu.Lock()

	var ids []int64
	for id, record := range t.records {
		if record.DocumentID == documentID {
			ids = append(ids, id)
		}
	}
	t.mu.Unlock()

	return r.DeleteVectors(key, ids)
}

// Compact rebuilds a tenant index containing only live vectors, reassigning
// contiguous ids from zero, and persists the result. Returns the old→new id
// mapping so callers can fix up their embedding-id references. This is a
// maintenance operation, not a request-path one: the tenant is locked for
// the duration.
func (r *Registry) Compact(key TenantKey) (map[int64]int64, error) {
	t := r.get(key)
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.index == nil || len(t.deleted) == 0 {
		return nil, nil
	}

	fresh := newFlatIndex(t.index.metric, t.index.dim)
	records := make(map[int64]Record, len(t.records))
	remap := make(map[int64]int64, t.index.count-len(t.deleted))

	next := int64(0)
	for id := int64(0); id < int64(t.index.count); id++ {
		if _, gone := t.deleted[id]; gone {
			continue
		}
		record, ok := t.records[id]
		if !ok {
			continue
		}
		// Rows of a cosine index are already normalized; re-adding
		// them is a no-op normalization.
		if err := fresh.add([][]float32{t.index.row(id)}); err != nil {
			return nil, fmt.Errorf("failed to rebuild tenant %s: %w", key, err)
		}
		records[next] = record
		remap[id] = next
		next++
	}

	t.index = fresh
	t.records = records
	t.deleted = make(map[int64]struct{})

	if err := r.persistLocked(key, t); err != nil {
		return remap, fmt.Errorf("failed to persist compacted tenant %s: %w", key, err)
	}

	r.logger.Info("compacted tenant index",
		"tenant", key.String(), "live_vectors", next)
	return remap, nil
}

// Persist writes a tenant's index and metadata files. No-op for tenants
// with no in-memory index.
func (r *Registry) Persist(key TenantKey) error {
	t := r.get(key)
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.index == nil {
		return nil
	}
	return r.persistLocked(key, t)
}

// Load reads a tenant's files from disk, replacing any in-memory state.
// Returns false, leaving the registry untouched, when no files exist.
func (r *Registry) Load(key TenantKey) (bool, error) {
	t := r.get(key)
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := r.loadLocked(key, t); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// DiscoverAndLoadAll scans the persistence directory and eagerly loads
// every recognizable tenant. Called at process start: it trades startup
// latency for avoiding cold-start misses during normal operation. Returns
// the number of tenants loaded; unparsable files are logged and skipped.
func (r *Registry) DiscoverAndLoadAll() (int, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to scan index dir: %w", err)
	}

	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		key, ok := r.parseIndexFilename(entry.Name())
		if !ok {
			continue
		}
		if _, err := r.Load(key); err != nil {
			r.logger.Warn("skipping unreadable tenant index",
				"file", entry.Name(), "error", err)
			continue
		}
		loaded++
	}

	r.logger.Info("loaded tenant indices from disk", "count", loaded, "dir", r.dir)
	return loaded, nil
}

// parseIndexFilename recognizes "<basename>_<kind>_<id>.idx".
func (r *Registry) parseIndexFilename(name string) (TenantKey, bool) {
	rest, ok := strings.CutSuffix(name, indexExt)
	if !ok {
		return TenantKey{}, false
	}
	rest, ok = strings.CutPrefix(rest, r.basename+"_")
	if !ok {
		return TenantKey{}, false
	}

	kind, idStr, ok := strings.Cut(rest, "_")
	if !ok {
		return TenantKey{}, false
	}
	if TenantKind(kind) != TenantCourse && TenantKind(kind) != TenantDocument {
		return TenantKey{}, false
	}
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return TenantKey{}, false
	}
	return TenantKey{Kind: TenantKind(kind), ID: id}, true
}

const (
	indexExt = ".idx"
	metaExt  = ".meta"
)

func (r *Registry) indexPath(key TenantKey) string {
	return filepath.Join(r.dir, fmt.Sprintf("%s_%s%s", r.basename, key, indexExt))
}

func (r *Registry) metaPath(key TenantKey) string {
	return filepath.Join(r.dir, fmt.Sprintf("%s_%s%s", r.basename, key, metaExt))
}

// metaFile is the JSON sidecar persisted next to each index file. Record
// keys are decimal vector ids (JSON objects cannot key on integers).
type metaFile struct {
	Dimension int               `json:"dimension"`
	Metric    string            `json:"metric"`
	Records   map[string]Record `json:"records"`
	Deleted   []int64           `json:"deleted,omitempty"`
}

func (r *Registry) persistLocked(key TenantKey, t *tenant) error {
	if err := writeAtomic(r.indexPath(key), t.index.writeTo); err != nil {
		return fmt.Errorf("failed to write index file: %w", err)
	}

	meta := metaFile{
		Dimension: t.index.dim,
		Metric:    t.index.metric.String(),
		Records:   make(map[string]Record, len(t.records)),
	}
	for id, record := range t.records {
		meta.Records[strconv.FormatInt(id, 10)] = record
	}
	for id := range t.deleted {
		meta.Deleted = append(meta.Deleted, id)
	}

	err := writeAtomic(r.metaPath(key), func(w io.Writer) error {
		enc := json.NewEncoder(w)
		return enc.Encode(&meta)
	})
	if err != nil {
		return fmt.Errorf("failed to write metadata file: %w", err)
	}
	return nil
}

func (r *Registry) loadLocked(key TenantKey, t *tenant) error {
	indexFile, err := os.Open(r.indexPath(key))
	if err != nil {
		return err
	}
	defer indexFile.Close()

	metaBytes, err := os.ReadFile(r.metaPath(key))
	if err != nil {
		return err
	}

	index, err := readFlatIndex(indexFile)
	if err != nil {
		return fmt.Errorf("failed to read index file: %w", err)
	}

	var meta metaFile
	if err := json.Unmarshal(metaBytes, &meta); err != nil {
		return fmt.Errorf("failed to parse metadata file: %w", err)
	}
	if meta.Dimension != index.dim {
		return fmt.Errorf("metadata dimension %d disagrees with index dimension %d", meta.Dimension, index.dim)
	}

	records := make(map[int64]Record, len(meta.Records))
	for idStr, record := range meta.Records {
		id, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil {
			return fmt.Errorf("bad vector id %q in metadata file: %w", idStr, err)
		}
		records[id] = record
	}
	deleted := make(map[int64]struct{}, len(meta.Deleted))
	for _, id := range meta.Deleted {
		deleted[id] = struct{}{}
	}

	t.index = index
	t.records = records
	t.deleted = deleted
	return nil
}

// writeAtomic writes via a temp file and rename so a crash mid-write never
// leaves a truncated index behind.
func writeAtomic(path string, write func(io.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := write(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
