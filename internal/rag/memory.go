package rag

import (
	"context"
	"fmt"
	"math"
	"slices"
	"sync"
)

// memoryEntry is one stored chunk with its normalised vector.
type memoryEntry struct {
	chunk  Chunk
	vector []float32
	norm   float64
	// seq is the insertion sequence used to break distance ties.
	seq uint64
}

// MemoryIndex is an in-process VectorIndex that scores every entry of the
// requested documents by brute force. It suits tests, the CLI and small
// knowledge bases; use QdrantIndex for anything durable.
type MemoryIndex struct {
	mu sync.RWMutex
	// entries maps chunk ID to its entry.
	entries map[string]*memoryEntry
	// byDocument maps document ID to the chunk IDs it owns.
	byDocument map[int64]map[string]struct{}
	// nextSeq is the next insertion sequence number.
	nextSeq uint64
	// dim is fixed by the first upsert.
	dim int
}

// NewMemoryIndex returns an empty MemoryIndex.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{
		entries:    make(map[string]*memoryEntry),
		byDocument: make(map[int64]map[string]struct{}),
	}
}

// Upsert stores or replaces chunks. A replaced chunk keeps its sequence number.
func (m *MemoryIndex) Upsert(_ context.Context, chunks []Chunk, vectors [][]float32) error {
	if err := checkParallel(chunks, vectors); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for i, c := range chunks {
		vec := vectors[i]
		if m.dim == 0 {
			m.dim = len(vec)
		}
		if len(vec) != m.dim {
			return fmt.Errorf("rag: vector for %q has dimension %d, index uses %d", c.ID, len(vec), m.dim)
		}

		stored := make([]float32, len(vec))
		copy(stored, vec)

		if prev, ok := m.entries[c.ID]; ok {
			if prev.chunk.DocumentID != c.DocumentID {
				delete(m.byDocument[prev.chunk.DocumentID], c.ID)
			}
			prev.chunk, prev.vector, prev.norm = c, stored, norm(stored)
		} else {
			m.entries[c.ID] = &memoryEntry{chunk: c, vector: stored, norm: norm(stored), seq: m.nextSeq}
			m.nextSeq++
		}

		ids, ok := m.byDocument[c.DocumentID]
		if !ok {
			ids = make(map[string]struct{})
			m.byDocument[c.DocumentID] = ids
		}
		ids[c.ID] = struct{}{}
	}
	return nil
}

// Query scores every chunk of documentIDs and returns the k closest.
func (m *MemoryIndex) Query(ctx context.Context, vector []float32, k int, documentIDs []int64) ([]Match, error) {
	if k <= 0 || len(documentIDs) == 0 {
		return nil, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.dim != 0 && len(vector) != m.dim {
		return nil, fmt.Errorf("rag: query dimension %d, index uses %d", len(vector), m.dim)
	}
	qNorm := norm(vector)

	type scored struct {
		match Match
		seq   uint64
	}
	var hits []scored
	seen := make(map[int64]bool, len(documentIDs))
	for _, docID := range documentIDs {
		if seen[docID] {
			continue
		}
		seen[docID] = true
		for id := range m.byDocument[docID] {
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("rag: query cancelled: %w", err)
			}
			e := m.entries[id]
			hits = append(hits, scored{
				match: Match{Chunk: e.chunk, Distance: cosineDistance(vector, qNorm, e.vector, e.norm)},
				seq:   e.seq,
			})
		}
	}

	slices.SortFunc(hits, func(a, b scored) int {
		switch {
		case a.match.Distance < b.match.Distance:
			return -1
		case a.match.Distance > b.match.Distance:
			return 1
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		}
		return 0
	})

	if len(hits) > k {
		hits = hits[:k]
	}
	out := make([]Match, len(hits))
	for i, h := range hits {
		out[i] = h.match
	}
	return out, nil
}

// DeleteDocument removes every chunk owned by documentID.
func (m *MemoryIndex) DeleteDocument(_ context.Context, documentID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id := range m.byDocument[documentID] {
		delete(m.entries, id)
	}
	delete(m.byDocument, documentID)
	return nil
}

// TrimDocument removes the chunks of documentID at index keep and above.
func (m *MemoryIndex) TrimDocument(_ context.Context, documentID int64, keep int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := m.byDocument[documentID]
	for id := range ids {
		if m.entries[id].chunk.Index >= keep {
			delete(m.entries, id)
			delete(ids, id)
		}
	}
	if len(ids) == 0 {
		delete(m.byDocument, documentID)
	}
	return nil
}

// CountDocument returns the number of chunks stored for documentID.
func (m *MemoryIndex) CountDocument(_ context.Context, documentID int64) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byDocument[documentID]), nil
}

// Len returns the number of stored chunks.
func (m *MemoryIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Close is a no-op.
func (m *MemoryIndex) Close() error { return nil }

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// cosineDistance returns 1 - cos(a, b) clamped to [0, 2]. A zero vector is
// treated as orthogonal to everything (distance 1).
func cosineDistance(a []float32, aNorm float64, b []float32, bNorm float64) float64 {
	if aNorm == 0 || bNorm == 0 {
		return 1
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	d := 1 - dot/(aNorm*bNorm)
	return math.Max(0, math.Min(2, d))
}
