// Package index provides an immutable in-memory vector index over chunks.
package index

import (
	"fmt"
	"math"
	"sort"

	"github.com/xhad/reachout/internal/models"
)

// Entry is a chunk paired with its embedding.
type Entry struct {
	Chunk  models.Chunk
	Vector models.EmbeddingVector
}

// Index is a brute-force cosine similarity index. Vectors are unit-normalized at
// build time so a query is a dot product over every entry. An Index is never
// mutated after Build and is safe for concurrent queries.
type Index struct {
	chunks []models.Chunk
	vecs   [][]float32
	pos    map[string]int
	dim    int
}

// Build snapshots the entries in insertion order.
func Build(entries []Entry) (*Index, error) {
	idx := &Index{}
	if len(entries) == 0 {
		return idx, nil
	}

	idx.dim = len(entries[0].Vector.Vector)
	if idx.dim == 0 {
		return nil, fmt.Errorf("%w: chunk %s has an empty vector", models.ErrInvalidArgument, entries[0].Chunk.ID)
	}

	idx.pos = make(map[string]int, len(entries))
	idx.chunks = make([]models.Chunk, 0, len(entries))
	idx.vecs = make([][]float32, 0, len(entries))
	for _, e := range entries {
		v := e.Vector.Vector
		if len(v) != idx.dim || (e.Vector.Dimension != 0 && e.Vector.Dimension != len(v)) {
			return nil, fmt.Errorf("%w: chunk %s has dimension %d, index has %d",
				models.ErrDimensionMismatch, e.Chunk.ID, len(v), idx.dim)
		}
		if e.Vector.ChunkID != "" && e.Vector.ChunkID != e.Chunk.ID {
			return nil, fmt.Errorf("%w: vector for %s paired with chunk %s",
				models.ErrInvalidArgument, e.Vector.ChunkID, e.Chunk.ID)
		}
		if _, dup := idx.pos[e.Chunk.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate chunk id %s", models.ErrInvalidArgument, e.Chunk.ID)
		}
		idx.pos[e.Chunk.ID] = len(idx.chunks)

		idx.chunks = append(idx.chunks, e.Chunk)
		idx.vecs = append(idx.vecs, normalize(v))
	}
	return idx, nil
}

// Len returns the number of indexed chunks. A nil Index is empty.
func (i *Index) Len() int {
	if i == nil {
		return 0
	}
	return len(i.chunks)
}

// Dimension returns the shared vector dimension, or 0 for an empty index.
func (i *Index) Dimension() int {
	if i == nil {
		return 0
	}
	return i.dim
}

// Vector returns the normalized vector stored for a chunk.
func (i *Index) Vector(chunkID string) ([]float32, bool) {
	if i == nil {
		return nil, false
	}
	j, ok := i.pos[chunkID]
	if !ok {
		return nil, false
	}
	return append([]float32(nil), i.vecs[j]...), true
}

// Entries returns every chunk with a copy of its normalized vector, in
// insertion order.
func (i *Index) Entries() []Entry {
	if i == nil {
		return nil
	}
	out := make([]Entry, len(i.chunks))
	for j, c := range i.chunks {
		v := append([]float32(nil), i.vecs[j]...)
		out[j] = Entry{Chunk: c, Vector: models.EmbeddingVector{ChunkID: c.ID, Vector: v, Dimension: len(v)}}
	}
	return out
}

// Query returns up to k chunks by descending cosine similarity. Equal scores keep
// insertion order. k larger than the index returns every entry.
func (i *Index) Query(vector []float32, k int) (models.RetrievalResult, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", models.ErrInvalidArgument, k)
	}
	if i.Len() == 0 {
		return models.RetrievalResult{}, nil
	}
	if len(vector) != i.dim {
		return nil, fmt.Errorf("%w: query has dimension %d, index has %d",
			models.ErrDimensionMismatch, len(vector), i.dim)
	}

	q := normalize(vector)
	type scored struct {
		idx   int
		score float64
	}
	scoreds := make([]scored, len(i.vecs))
	for j := range i.vecs {
		scoreds[j] = scored{idx: j, score: dot(q, i.vecs[j])}
	}
	sort.SliceStable(scoreds, func(a, b int) bool { return scoreds[a].score > scoreds[b].score })

	if k > len(scoreds) {
		k = len(scoreds)
	}
	out := make(models.RetrievalResult, k)
	for n := 0; n < k; n++ {
		out[n] = models.Hit{Chunk: i.chunks[scoreds[n].idx], Score: scoreds[n].score}
	}
	return out, nil
}

// normalize returns a unit-length copy of v. Zero vectors stay zero.
func normalize(v []float32) []float32 {
	out := make([]float32, len(v))
	m := math.Sqrt(dot(v, v))
	if m == 0 || math.IsNaN(m) {
		return out
	}
	for j, x := range v {
		out[j] = float32(float64(x) / m)
	}
	return out
}

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}
