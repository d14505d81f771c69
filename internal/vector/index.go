// Package vector provides a flat, append-only store of normalized embeddings
// with exact cosine-distance search.
//
// An Index assumes a single writer. Concurrent Add calls are not supported;
// the ingest coordinator is the only goroutine that mutates an Index.
package vector

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/charmbracelet/log"
)

// Errors returned by the index.
var (
	ErrDimensionMismatch = errors.New("embedding dimensions mismatch")
	ErrIndexCorrupt      = errors.New("vector index corrupt")
	ErrIndexNotFound     = errors.New("vector index not found")
)

// On-disk artifact names within an index directory.
const (
	MetaFile    = "meta.json"
	VectorsFile = "vectors.f32"
	DocIDsFile  = "doc_ids.u64"
)

// Index is a flat vector store for one collection.
type Index struct {
	dims     int
	dir      string
	vectors  []float32
	docIDs   []uint64
	docIDSet map[uint64]struct{}
}

// Result is a single search hit.
type Result struct {
	DocID    uint64
	Distance float32
}

// OpenOrCreate opens the index in dir, creating it if needed.
// If the stored dimensionality differs from dims, the store is deleted and
// recreated empty; vectors from the old store are lost.
func OpenOrCreate(dir string, dims int) (*Index, error) {
	if dims <= 0 {
		return nil, fmt.Errorf("invalid dimensions: %d", dims)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}

	metaPath := filepath.Join(dir, MetaFile)
	if exists(metaPath) {
		meta, err := readMeta(metaPath)
		if err != nil {
			return nil, err
		}
		if meta.Dimensions != dims {
			log.Warn("Vector dimensions changed, resetting index",
				"dir", dir, "stored", meta.Dimensions, "requested", dims)
			if err := removeArtifacts(dir); err != nil {
				return nil, err
			}
		}
	}

	if !exists(metaPath) {
		return create(dir, dims)
	}

	idx, err := load(dir, dims)
	if err != nil {
		return nil, err
	}
	log.Debug("Opened vector index", "dir", dir, "dims", dims, "vectors", idx.Len())
	return idx, nil
}

// Open opens an existing index, failing with ErrIndexNotFound if any
// artifact is missing.
func Open(dir string) (*Index, error) {
	for _, name := range []string{MetaFile, VectorsFile, DocIDsFile} {
		p := filepath.Join(dir, name)
		if !exists(p) {
			return nil, fmt.Errorf("%w: %s", ErrIndexNotFound, p)
		}
	}

	meta, err := readMeta(filepath.Join(dir, MetaFile))
	if err != nil {
		return nil, err
	}
	if meta.Dimensions <= 0 {
		return nil, fmt.Errorf("%w: %s: invalid dimensions %d", ErrIndexCorrupt, dir, meta.Dimensions)
	}
	return load(dir, meta.Dimensions)
}

// create initializes an empty index and writes all three artifacts.
func create(dir string, dims int) (*Index, error) {
	idx := &Index{
		dims:     dims,
		dir:      dir,
		docIDSet: make(map[uint64]struct{}),
	}
	if err := writeMeta(filepath.Join(dir, MetaFile), meta{Dimensions: dims}); err != nil {
		return nil, err
	}
	if err := idx.Save(); err != nil {
		return nil, err
	}
	log.Debug("Created vector index", "dir", dir, "dims", dims)
	return idx, nil
}

// load reads the vector and ID arrays and checks they agree.
func load(dir string, dims int) (*Index, error) {
	vectorsPath := filepath.Join(dir, VectorsFile)
	idsPath := filepath.Join(dir, DocIDsFile)

	idx := &Index{
		dims:     dims,
		dir:      dir,
		docIDSet: make(map[uint64]struct{}),
	}

	hasVectors, hasIDs := exists(vectorsPath), exists(idsPath)
	switch {
	case !hasVectors && !hasIDs:
		return idx, nil
	case hasVectors != hasIDs:
		return nil, fmt.Errorf("%w: %s: vectors and doc ids must both exist", ErrIndexCorrupt, dir)
	}

	idBytes, err := os.ReadFile(idsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", idsPath, err)
	}
	vecBytes, err := os.ReadFile(vectorsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", vectorsPath, err)
	}

	docIDs, err := decodeU64(idBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrIndexCorrupt, idsPath, err)
	}
	vectors, err := decodeF32(vecBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrIndexCorrupt, vectorsPath, err)
	}
	if len(docIDs)*dims != len(vectors) {
		return nil, fmt.Errorf("%w: %s: %d ids x %d dims != %d floats",
			ErrIndexCorrupt, dir, len(docIDs), dims, len(vectors))
	}

	for _, id := range docIDs {
		if _, dup := idx.docIDSet[id]; dup {
			return nil, fmt.Errorf("%w: %s: duplicate doc id %d", ErrIndexCorrupt, idsPath, id)
		}
		idx.docIDSet[id] = struct{}{}
	}
	idx.docIDs = docIDs
	idx.vectors = vectors
	return idx, nil
}

// Add normalizes and appends an embedding. Re-adding a known doc ID is a
// no-op that still succeeds.
func (x *Index) Add(docID uint64, embedding []float32) error {
	if len(embedding) != x.dims {
		return fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, x.dims, len(embedding))
	}
	if _, ok := x.docIDSet[docID]; ok {
		return nil
	}

	start := len(x.vectors)
	x.vectors = append(x.vectors, embedding...)
	normalize(x.vectors[start:])
	x.docIDs = append(x.docIDs, docID)
	x.docIDSet[docID] = struct{}{}
	return nil
}

// Search returns the limit nearest vectors to query by cosine distance,
// nearest first.
func (x *Index) Search(query []float32, limit int) ([]Result, error) {
	if len(query) != x.dims {
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, x.dims, len(query))
	}
	if len(x.docIDs) == 0 || limit <= 0 {
		return []Result{}, nil
	}

	q := make([]float32, len(query))
	copy(q, query)
	normalize(q)

	// top holds the best candidates so far; once full it is kept sorted
	// worst-first so top[0] is the one to replace.
	top := make([]Result, 0, min(limit, len(x.docIDs)))
	for i, docID := range x.docIDs {
		stored := x.vectors[i*x.dims : (i+1)*x.dims]
		distance := 1 - dot(q, stored)

		if len(top) < limit {
			top = append(top, Result{DocID: docID, Distance: distance})
			if len(top) == limit {
				sortWorstFirst(top)
			}
			continue
		}
		if distance < top[0].Distance {
			top[0] = Result{DocID: docID, Distance: distance}
			sortWorstFirst(top)
		}
	}

	sort.SliceStable(top, func(i, j int) bool {
		return top[i].Distance < top[j].Distance
	})
	return top, nil
}

// Contains reports whether docID has a stored vector.
func (x *Index) Contains(docID uint64) bool {
	_, ok := x.docIDSet[docID]
	return ok
}

// Dimensions returns the fixed vector width.
func (x *Index) Dimensions() int {
	return x.dims
}

// Len returns the number of stored vectors.
func (x *Index) Len() int {
	return len(x.docIDs)
}

// Dir returns the index directory.
func (x *Index) Dir() string {
	return x.dir
}

func sortWorstFirst(rs []Result) {
	sort.SliceStable(rs, func(i, j int) bool {
		return rs[i].Distance > rs[j].Distance
	})
}

// normalize scales v to unit L2 norm in place. Zero vectors are left as is.
func normalize(v []float32) {
	var sum float32
	for _, f := range v {
		sum += f * f
	}
	if sum <= 0 {
		return
	}
	inv := float32(1 / math.Sqrt(float64(sum)))
	for i := range v {
		v[i] *= inv
	}
}

func dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func removeArtifacts(dir string) error {
	for _, name := range []string{MetaFile, VectorsFile, DocIDsFile} {
		p := filepath.Join(dir, name)
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove %s: %w", p, err)
		}
	}
	return nil
}
