package store

import (
	"bufio"
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"
)

// VectorResult is one nearest-neighbor hit.
type VectorResult struct {
	ID    string
	Score float32 // cosine similarity mapped to 0-1, higher is closer
}

// VectorIndex holds chunk embeddings in an HNSW graph for approximate
// nearest-neighbor search. Chunk IDs map to internal uint64 keys; deletion
// is lazy (the mapping is dropped, the graph node is orphaned) because
// coder/hnsw misbehaves when the last node is removed.
type VectorIndex struct {
	mu         sync.RWMutex
	graph      *hnsw.Graph[uint64]
	dimensions int

	idMap   map[string]uint64
	keyMap  map[uint64]string
	nextKey uint64

	closed bool
}

// vectorMetadata is the gob-persisted sidecar next to the graph file.
type vectorMetadata struct {
	IDMap      map[string]uint64
	NextKey    uint64
	Dimensions int
}

// NewVectorIndex creates an empty index for vectors of the given dimension.
func NewVectorIndex(dimensions int) *VectorIndex {
	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = 16
	graph.EfSearch = 20
	graph.Ml = 0.25

	return &VectorIndex{
		graph:      graph,
		dimensions: dimensions,
		idMap:      make(map[string]uint64),
		keyMap:     make(map[uint64]string),
	}
}

// Dimensions returns the vector dimension the index was built for.
func (v *VectorIndex) Dimensions() int {
	return v.dimensions
}

// Add inserts vectors under their chunk IDs, replacing existing entries.
func (v *VectorIndex) Add(ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors))
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return fmt.Errorf("vector index is closed")
	}

	for _, vec := range vectors {
		if len(vec) != v.dimensions {
			return fmt.Errorf("dimension mismatch: expected %d, got %d", v.dimensions, len(vec))
		}
	}

	for i, id := range ids {
		if existing, ok := v.idMap[id]; ok {
			delete(v.keyMap, existing)
			delete(v.idMap, id)
		}

		key := v.nextKey
		v.nextKey++

		vec := make([]float32, len(vectors[i]))
		copy(vec, vectors[i])
		normalizeInPlace(vec)

		v.graph.Add(hnsw.MakeNode(key, vec))
		v.idMap[id] = key
		v.keyMap[key] = id
	}
	return nil
}

// Search returns the k nearest chunks to the query vector.
func (v *VectorIndex) Search(query []float32, k int) ([]*VectorResult, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.closed {
		return nil, fmt.Errorf("vector index is closed")
	}
	if len(query) != v.dimensions {
		return nil, fmt.Errorf("dimension mismatch: expected %d, got %d", v.dimensions, len(query))
	}
	if v.graph.Len() == 0 {
		return []*VectorResult{}, nil
	}

	normalized := make([]float32, len(query))
	copy(normalized, query)
	normalizeInPlace(normalized)

	nodes := v.graph.Search(normalized, k)

	results := make([]*VectorResult, 0, len(nodes))
	for _, node := range nodes {
		id, ok := v.keyMap[node.Key]
		if !ok {
			// Lazily deleted orphan.
			continue
		}
		distance := v.graph.Distance(normalized, node.Value)
		results = append(results, &VectorResult{
			ID:    id,
			Score: 1.0 - distance/2.0,
		})
	}
	return results, nil
}

// Delete drops chunk IDs from the index.
func (v *VectorIndex) Delete(ids []string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}

	for _, id := range ids {
		if key, ok := v.idMap[id]; ok {
			delete(v.keyMap, key)
			delete(v.idMap, id)
		}
	}
}

// Contains reports whether a chunk ID is present.
func (v *VectorIndex) Contains(id string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.idMap[id]
	return ok
}

// Count returns the number of live vectors.
func (v *VectorIndex) Count() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.idMap)
}

// Save writes the graph and its ID sidecar atomically (temp file + rename).
func (v *VectorIndex) Save(path string) error {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.closed {
		return fmt.Errorf("vector index is closed")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create graph file: %w", err)
	}
	if err := v.graph.Export(file); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to export graph: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close graph file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename graph file: %w", err)
	}

	return v.saveMetadata(path + ".meta")
}

func (v *VectorIndex) saveMetadata(path string) error {
	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create metadata file: %w", err)
	}

	meta := vectorMetadata{
		IDMap:      v.idMap,
		NextKey:    v.nextKey,
		Dimensions: v.dimensions,
	}
	if err := gob.NewEncoder(file).Encode(meta); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close metadata file: %w", err)
	}
	return os.Rename(tmpPath, path)
}

// Load replaces the index contents from a previously saved graph.
func (v *VectorIndex) Load(path string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return fmt.Errorf("vector index is closed")
	}

	if err := v.loadMetadata(path + ".meta"); err != nil {
		return err
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open graph file: %w", err)
	}
	defer file.Close()

	// coder/hnsw Import requires an io.ByteReader.
	if err := v.graph.Import(bufio.NewReader(file)); err != nil {
		return fmt.Errorf("failed to import graph: %w", err)
	}
	return nil
}

func (v *VectorIndex) loadMetadata(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open metadata file: %w", err)
	}
	defer file.Close()

	var meta vectorMetadata
	if err := gob.NewDecoder(file).Decode(&meta); err != nil {
		return fmt.Errorf("failed to decode metadata: %w", err)
	}

	v.idMap = meta.IDMap
	v.nextKey = meta.NextKey
	v.dimensions = meta.Dimensions
	v.keyMap = make(map[uint64]string, len(meta.IDMap))
	for id, key := range meta.IDMap {
		v.keyMap[key] = id
	}
	return nil
}

// SavedDimensions reads the dimension recorded in a saved index's sidecar.
// Returns 0 when no saved index exists. Used to detect model switches that
// require a rebuild from the stored embeddings.
func SavedDimensions(vectorPath string) (int, error) {
	file, err := os.Open(vectorPath + ".meta")
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to open metadata file: %w", err)
	}
	defer file.Close()

	var meta vectorMetadata
	if err := gob.NewDecoder(file).Decode(&meta); err != nil {
		return 0, fmt.Errorf("failed to decode metadata: %w", err)
	}
	return meta.Dimensions, nil
}

// Close releases the graph. Idempotent.
func (v *VectorIndex) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return nil
	}
	v.closed = true
	v.graph = nil
	return nil
}

func normalizeInPlace(vec []float32) {
	var sum float64
	for _, x := range vec {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sum))
	for i := range vec {
		vec[i] *= inv
	}
}
