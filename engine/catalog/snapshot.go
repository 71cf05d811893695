package catalog

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/GuerraLaser/laserbot-mvp/engine/domain"
)

// Snapshot directory layout. The manifest names the data files so the layout
// can evolve without breaking old readers.
const (
	manifestFile = "manifest.json"
	entriesFile  = "entries.jsonl"
	vectorsFile  = "vectors.f32"
)

// Manifest describes one built index snapshot.
type Manifest struct {
	Collection string `json:"collection"`
	Model      string `json:"model"`
	Dims       int    `json:"dims"`
	Count      int    `json:"count"`
	BuiltAt    string `json:"built_at"`
}

var (
	ErrDimsMismatch = errors.New("catalog: query vector dimension mismatch")
	ErrCorruptIndex = errors.New("catalog: corrupt index")
)

// Snapshot is an immutable in-memory index loaded from disk. Safe for
// unlimited concurrent readers; reindexing produces a new directory that is
// swapped in wholesale, never mutated in place.
type Snapshot struct {
	manifest Manifest
	entries  []domain.CatalogEntry // insertion order, parallel to vectors
	vectors  [][]float32           // unit-normalized at load
	loaded   bool
}

// Open loads a snapshot from dir. A missing directory is not an error: it
// returns an empty snapshot that reports Available=false on every query.
func Open(dir string) (*Snapshot, error) {
	raw, err := os.ReadFile(filepath.Join(dir, manifestFile))
	if errors.Is(err, fs.ErrNotExist) {
		return &Snapshot{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: read manifest: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("%w: manifest: %v", ErrCorruptIndex, err)
	}
	if m.Dims <= 0 {
		return nil, fmt.Errorf("%w: dims=%d", ErrCorruptIndex, m.Dims)
	}

	entries, err := readEntries(filepath.Join(dir, entriesFile))
	if err != nil {
		return nil, err
	}
	if len(entries) != m.Count {
		return nil, fmt.Errorf("%w: manifest count %d, entries %d", ErrCorruptIndex, m.Count, len(entries))
	}

	vectors, err := readVectors(filepath.Join(dir, vectorsFile), len(entries), m.Dims)
	if err != nil {
		return nil, err
	}
	for i := range vectors {
		vectors[i] = normalize(vectors[i])
	}

	return &Snapshot{manifest: m, entries: entries, vectors: vectors, loaded: true}, nil
}

// Manifest returns the snapshot's manifest (zero value when no index loaded).
func (s *Snapshot) Manifest() Manifest { return s.manifest }

// Len returns the number of indexed entries.
func (s *Snapshot) Len() int { return len(s.entries) }

// Query implements Searcher with exact cosine scoring. Ordering is
// deterministic: descending score, ties broken by catalog insertion order.
func (s *Snapshot) Query(_ context.Context, vector []float32, filters []domain.Category, k int) (QueryResult, error) {
	if !s.loaded {
		return QueryResult{Available: false}, nil
	}
	if k <= 0 {
		return QueryResult{}, domain.NewValidationError("k", fmt.Sprintf("%d", k), domain.ErrInvalidK)
	}
	if len(vector) != s.manifest.Dims {
		return QueryResult{}, fmt.Errorf("%w: got %d want %d", ErrDimsMismatch, len(vector), s.manifest.Dims)
	}

	allowed := filterSet(filters)
	q := normalize(vector)

	hits := make([]Hit, 0, k)
	for i, e := range s.entries {
		if allowed != nil && !allowed[e.Category] {
			continue
		}
		hits = append(hits, Hit{Entry: e, Score: dot(q, s.vectors[i])})
	}

	// Stable sort keeps insertion order for equal scores.
	sort.SliceStable(hits, func(a, b int) bool { return hits[a].Score > hits[b].Score })
	if len(hits) > k {
		hits = hits[:k]
	}
	return QueryResult{Hits: hits, Available: true}, nil
}

func filterSet(filters []domain.Category) map[domain.Category]bool {
	if len(filters) == 0 {
		return nil
	}
	set := make(map[domain.Category]bool, len(filters))
	for _, c := range filters {
		set[c] = true
	}
	return set
}

func readEntries(path string) ([]domain.CatalogEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: open entries: %w", err)
	}
	defer f.Close()

	var out []domain.CatalogEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e domain.CatalogEntry
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, fmt.Errorf("%w: entries line %d: %v", ErrCorruptIndex, len(out)+1, err)
		}
		out = append(out, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("catalog: read entries: %w", err)
	}
	return out, nil
}

func readVectors(path string, count, dims int) ([][]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: open vectors: %w", err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("catalog: stat vectors: %w", err)
	}
	expected := int64(count) * int64(dims) * 4
	if st.Size() != expected {
		return nil, fmt.Errorf("%w: vectors size %d, want %d (count=%d dims=%d)",
			ErrCorruptIndex, st.Size(), expected, count, dims)
	}

	flat := make([]float32, count*dims)
	if err := binary.Read(io.LimitReader(f, expected), binary.LittleEndian, flat); err != nil {
		return nil, fmt.Errorf("catalog: read vectors: %w", err)
	}

	out := make([][]float32, count)
	for i := 0; i < count; i++ {
		out[i] = flat[i*dims : (i+1)*dims : (i+1)*dims]
	}
	return out, nil
}

func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	n := math.Sqrt(sum)
	out := make([]float32, len(v))
	if n == 0 {
		copy(out, v)
		return out
	}
	inv := float32(1.0 / n)
	for i := range v {
		out[i] = v[i] * inv
	}
	return out
}

func dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}
