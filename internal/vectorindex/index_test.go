package vectorindex

import (
	"math"
	"testing"

	"bireport/internal/core"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEntries() []Entry {
	return []Entry{
		{DocumentID: "doc-0001", Vector: []float64{1, 0, 0}},
		{DocumentID: "doc-0002", Vector: []float64{0.9, 0.1, 0}},
		{DocumentID: "doc-0003", Vector: []float64{0, 1, 0}},
		{DocumentID: "doc-0004", Vector: []float64{0, 0, 2}},
		{DocumentID: "doc-0005", Vector: []float64{2, 0, 0}}, // same direction as doc-0001
	}
}

func TestBuildRejectsDimensionMismatch(t *testing.T) {
	_, err := Build([]Entry{
		{DocumentID: "a", Vector: []float64{1, 2}},
		{DocumentID: "b", Vector: []float64{1, 2, 3}},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrDataIntegrity)
}

func TestBuildRejectsBadVectors(t *testing.T) {
	tests := map[string][]Entry{
		"empty":     {{DocumentID: "a", Vector: nil}},
		"nan":       {{DocumentID: "a", Vector: []float64{math.NaN(), 1}}},
		"duplicate": {{DocumentID: "a", Vector: []float64{1}}, {DocumentID: "a", Vector: []float64{2}}},
	}
	for name, entries := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Build(entries)
			assert.ErrorIs(t, err, core.ErrDataIntegrity)
		})
	}
}

func TestNeighborsOrdering(t *testing.T) {
	idx, err := Build(testEntries())
	require.NoError(t, err)
	assert.Equal(t, 5, idx.Len())
	assert.Equal(t, 3, idx.Dimension())

	got, err := idx.Neighbors([]float64{1, 0, 0}, 3)
	require.NoError(t, err)

	ids := make([]string, len(got))
	for i, n := range got {
		ids[i] = n.DocumentID
	}
	// doc-0001 and doc-0005 tie at distance 0; build order breaks the tie
	if diff := cmp.Diff([]string{"doc-0001", "doc-0005", "doc-0002"}, ids); diff != "" {
		t.Errorf("neighbor order mismatch (-want +got):\n%s", diff)
	}
	assert.InDelta(t, 0, got[0].Distance, 1e-12)
	assert.InDelta(t, 1, got[0].Similarity, 1e-12)
}

func TestNeighborsEdgeCases(t *testing.T) {
	idx, err := Build(testEntries())
	require.NoError(t, err)

	got, err := idx.Neighbors([]float64{1, 0, 0}, 0)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = idx.Neighbors([]float64{1, 0, 0}, 50)
	require.NoError(t, err)
	assert.Len(t, got, 5)

	_, err = idx.Neighbors([]float64{1, 0}, 2)
	assert.ErrorIs(t, err, core.ErrDataIntegrity)

	empty, err := Build(nil)
	require.NoError(t, err)
	got, err = empty.Neighbors([]float64{1}, 3)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestNeighborsOfExcludesSelf(t *testing.T) {
	idx, err := Build(testEntries())
	require.NoError(t, err)

	got, err := idx.NeighborsOf("doc-0001", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "doc-0005", got[0].DocumentID)
	assert.Equal(t, "doc-0002", got[1].DocumentID)

	_, err = idx.NeighborsOf("missing", 2)
	assert.ErrorIs(t, err, core.ErrDataIntegrity)
}

func TestCosineDistance(t *testing.T) {
	assert.InDelta(t, 0, CosineDistance([]float64{1, 1}, []float64{2, 2}), 1e-12)
	assert.InDelta(t, 1, CosineDistance([]float64{1, 0}, []float64{0, 1}), 1e-12)
	assert.InDelta(t, 2, CosineDistance([]float64{1, 0}, []float64{-1, 0}), 1e-12)
	assert.Equal(t, 1.0, CosineDistance([]float64{0, 0}, []float64{1, 0}))
}

func TestVectorIsNormalizedCopy(t *testing.T) {
	idx, err := Build(testEntries())
	require.NoError(t, err)

	v, ok := idx.Vector("doc-0004")
	require.True(t, ok)
	assert.Equal(t, []float64{0, 0, 1}, v)
	v[2] = 5

	again, _ := idx.Vector("doc-0004")
	assert.Equal(t, 1.0, again[2])
	assert.Equal(t, 3, idx.Ordinal("doc-0004"))
	assert.Equal(t, -1, idx.Ordinal("nope"))
}
