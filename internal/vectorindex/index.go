// Package vectorindex is the per-run nearest-neighbor index over document
// embeddings. An Index is immutable once built.
package vectorindex

import (
	"fmt"
	"math"
	"sort"

	"bireport/internal/core"

	"gonum.org/v1/gonum/floats"
)

// Entry is one document vector handed to Build.
type Entry struct {
	DocumentID string
	Vector     []float64
}

// Neighbor is a query result.
type Neighbor struct {
	DocumentID string  `json:"document_id"`
	Distance   float64 `json:"distance"` // Cosine distance in [0, 2]
	Similarity float64 `json:"similarity"`
}

// Index answers cosine-distance neighbor queries.
type Index struct {
	ids     []string
	vectors [][]float64 // unit length, or all zeros
	byID    map[string]int
	dim     int
}

// Build validates and normalizes entries. All vectors must share one
// dimensionality and contain only finite values.
func Build(entries []Entry) (*Index, error) {
	idx := &Index{
		ids:     make([]string, 0, len(entries)),
		vectors: make([][]float64, 0, len(entries)),
		byID:    make(map[string]int, len(entries)),
	}
	for i, e := range entries {
		if len(e.Vector) == 0 {
			return nil, fmt.Errorf("%w: document %s has an empty vector", core.ErrDataIntegrity, e.DocumentID)
		}
		if i == 0 {
			idx.dim = len(e.Vector)
		} else if len(e.Vector) != idx.dim {
			return nil, fmt.Errorf("%w: document %s has dimension %d, expected %d",
				core.ErrDataIntegrity, e.DocumentID, len(e.Vector), idx.dim)
		}
		if _, dup := idx.byID[e.DocumentID]; dup {
			return nil, fmt.Errorf("%w: duplicate document id %s", core.ErrDataIntegrity, e.DocumentID)
		}
		for _, v := range e.Vector {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("%w: document %s has a non-finite component", core.ErrDataIntegrity, e.DocumentID)
			}
		}

		idx.byID[e.DocumentID] = len(idx.ids)
		idx.ids = append(idx.ids, e.DocumentID)
		idx.vectors = append(idx.vectors, Normalize(e.Vector))
	}
	return idx, nil
}

// Normalize returns a unit-length copy of v. A zero vector stays zero.
func Normalize(v []float64) []float64 {
	out := make([]float64, len(v))
	copy(out, v)
	if n := floats.Norm(out, 2); n > 0 {
		floats.Scale(1/n, out)
	}
	return out
}

// CosineDistance returns 1 - cos(a, b). Zero vectors are at distance 1 from everything.
func CosineDistance(a, b []float64) float64 {
	na, nb := floats.Norm(a, 2), floats.Norm(b, 2)
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - floats.Dot(a, b)/(na*nb)
}

// Len returns the number of indexed documents.
func (idx *Index) Len() int { return len(idx.ids) }

// Dimension returns the shared vector dimensionality, 0 for an empty index.
func (idx *Index) Dimension() int { return idx.dim }

// IDs returns document IDs in build order.
func (idx *Index) IDs() []string {
	out := make([]string, len(idx.ids))
	copy(out, idx.ids)
	return out
}

// Vector returns the normalized vector stored for id.
func (idx *Index) Vector(id string) ([]float64, bool) {
	i, ok := idx.byID[id]
	if !ok {
		return nil, false
	}
	out := make([]float64, idx.dim)
	copy(out, idx.vectors[i])
	return out, true
}

// Ordinal returns the build position of id, or -1.
func (idx *Index) Ordinal(id string) int {
	if i, ok := idx.byID[id]; ok {
		return i
	}
	return -1
}

// Neighbors returns up to k documents ordered by ascending cosine distance to
// vec. Ties keep build order.
func (idx *Index) Neighbors(vec []float64, k int) ([]Neighbor, error) {
	if k <= 0 || len(idx.ids) == 0 {
		return nil, nil
	}
	if len(vec) != idx.dim {
		return nil, fmt.Errorf("%w: query dimension %d, index dimension %d", core.ErrDataIntegrity, len(vec), idx.dim)
	}

	q := Normalize(vec)
	qZero := floats.Norm(q, 2) == 0
	results := make([]Neighbor, len(idx.ids))
	for i, v := range idx.vectors {
		sim := 0.0
		if !qZero {
			sim = floats.Dot(q, v)
		}
		results[i] = Neighbor{DocumentID: idx.ids[i], Distance: 1 - sim, Similarity: sim}
	}

	sort.SliceStable(results, func(a, b int) bool {
		return results[a].Distance < results[b].Distance
	})
	if k < len(results) {
		results = results[:k]
	}
	return results, nil
}

// NeighborsOf is Neighbors for an indexed document, excluding the document itself.
func (idx *Index) NeighborsOf(id string, k int) ([]Neighbor, error) {
	i, ok := idx.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: document %s not in index", core.ErrDataIntegrity, id)
	}
	all, err := idx.Neighbors(idx.vectors[i], k+1)
	if err != nil {
		return nil, err
	}
	out := make([]Neighbor, 0, k)
	for _, n := range all {
		if n.DocumentID == id {
			continue
		}
		if len(out) == k {
			break
		}
		out = append(out, n)
	}
	return out, nil
}
