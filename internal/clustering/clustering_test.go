package clustering

import (
	"context"
	"math/rand/v2"
	"testing"

	"bireport/internal/core"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var groupText = []string{
	"Revenue growth and quarterly revenue outlook",
	"Engineering hiring and talent retention",
	"Supply logistics and shipping delays",
	"Pricing changes for enterprise customers",
}

// makeDocs builds one document per entry in layout; the entry is the
// direction (and text) of the document's group.
func makeDocs(layout []int, dims int) []core.Document {
	docs := make([]core.Document, len(layout))
	for i, dir := range layout {
		v := make([]float64, dims)
		v[dir] = 1
		v[dims-1] = 0.02 * float64(i%4)
		docs[i] = core.Document{
			ID:        core.DocumentID(i),
			Ordinal:   i,
			Text:      groupText[dir],
			Metadata:  core.Metadata{Title: groupText[dir]},
			Embedding: v,
		}
	}
	return docs
}

func topicSizes(topics []core.Topic) []int {
	sizes := make([]int, len(topics))
	for i, t := range topics {
		sizes[i] = t.Size()
	}
	return sizes
}

func TestClusterThreeSeparatedGroups(t *testing.T) {
	docs := makeDocs([]int{0, 1, 2, 0, 1, 2, 0, 1, 2, 0, 1, 0}, 4)

	res, err := New().Cluster(context.Background(), docs, Options{MaxTopics: 5, MinTopicSize: 3})
	require.NoError(t, err)

	require.Len(t, res.Topics, 3)
	assert.Equal(t, []int{5, 4, 3}, topicSizes(res.Topics))
	assert.Empty(t, res.Unclustered)

	assert.ElementsMatch(t, []string{"doc-0001", "doc-0004", "doc-0007", "doc-0010", "doc-0012"}, res.Topics[0].MemberIDs)
	assert.ElementsMatch(t, []string{"doc-0002", "doc-0005", "doc-0008", "doc-0011"}, res.Topics[1].MemberIDs)
	assert.ElementsMatch(t, []string{"doc-0003", "doc-0006", "doc-0009"}, res.Topics[2].MemberIDs)

	assert.Equal(t, "topic-01", res.Topics[0].ID)
	assert.Equal(t, "Revenue growth and quarterly revenue outlook", res.Topics[0].Label)
	assert.Contains(t, res.Topics[1].Keywords, "engineering")
	require.NotNil(t, res.Analysis)
	assert.Greater(t, res.Analysis.OverallScore, 0.9)
}

func TestClusterIsDeterministic(t *testing.T) {
	docs := makeDocs([]int{0, 1, 2, 0, 1, 2, 0, 1, 2, 0, 1, 0}, 4)
	opts := Options{MaxTopics: 5, MinTopicSize: 3}

	first, err := New().Cluster(context.Background(), docs, opts)
	require.NoError(t, err)

	shuffled := make([]core.Document, len(docs))
	copy(shuffled, docs)
	r := rand.New(rand.NewPCG(7, 7))
	r.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

	second, err := New().Cluster(context.Background(), shuffled, opts)
	require.NoError(t, err)

	if diff := cmp.Diff(first.Topics, second.Topics); diff != "" {
		t.Errorf("topics differ between runs (-first +second):\n%s", diff)
	}
}

func TestClusterUndersizedGroupIsUnclustered(t *testing.T) {
	docs := makeDocs([]int{0, 1, 0, 1, 0, 1, 2, 0, 1, 0, 1, 2}, 4)

	res, err := New().Cluster(context.Background(), docs, Options{MaxTopics: 5, MinTopicSize: 3})
	require.NoError(t, err)

	assert.Equal(t, []int{5, 5}, topicSizes(res.Topics))
	assert.Equal(t, []string{"doc-0007", "doc-0012"}, res.Unclustered)
	// Equal sizes fall back to the representative's ordinal
	assert.Equal(t, "doc-0002", res.Topics[0].MemberIDs[0])
}

func TestClusterEdgeCases(t *testing.T) {
	t.Run("empty input", func(t *testing.T) {
		res, err := New().Cluster(context.Background(), nil, Options{MaxTopics: 5, MinTopicSize: 3})
		require.NoError(t, err)
		assert.Empty(t, res.Topics)
		assert.Empty(t, res.Unclustered)
	})

	t.Run("fewer documents than min topic size", func(t *testing.T) {
		docs := makeDocs([]int{0, 1}, 4)
		res, err := New().Cluster(context.Background(), docs, Options{MaxTopics: 5, MinTopicSize: 3})
		require.NoError(t, err)
		require.Len(t, res.Topics, 1)
		assert.ElementsMatch(t, []string{"doc-0001", "doc-0002"}, res.Topics[0].MemberIDs)
		assert.Empty(t, res.Unclustered)
	})

	t.Run("dimension mismatch", func(t *testing.T) {
		docs := makeDocs([]int{0, 1, 2, 0}, 4)
		docs[2].Embedding = []float64{1, 0}
		_, err := New().Cluster(context.Background(), docs, Options{MaxTopics: 5, MinTopicSize: 1})
		assert.ErrorIs(t, err, core.ErrDataIntegrity)
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		docs := makeDocs([]int{0, 1, 2, 0, 1, 2, 0, 1, 2}, 4)
		_, err := New().Cluster(ctx, docs, Options{MaxTopics: 3, MinTopicSize: 2})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestFinishCapsTopicsAndOrdersTies(t *testing.T) {
	docs := makeDocs([]int{0, 1, 2, 3, 0, 1, 2, 3, 0, 1, 2}, 5)
	vectors := make([][]float64, len(docs))
	for i, d := range docs {
		vectors[i] = d.Embedding
	}
	groups := [][]int{{3, 7}, {1, 5, 9}, {0, 4, 8}, {2, 6, 10}}

	res := New().finish(docs, vectors, groups, Options{MaxTopics: 2, MinTopicSize: 2}, nil)

	require.Len(t, res.Topics, 2)
	assert.ElementsMatch(t, []string{"doc-0001", "doc-0005", "doc-0009"}, res.Topics[0].MemberIDs)
	assert.ElementsMatch(t, []string{"doc-0002", "doc-0006", "doc-0010"}, res.Topics[1].MemberIDs)
	assert.Equal(t, []string{"doc-0003", "doc-0004", "doc-0007", "doc-0008", "doc-0011"}, res.Unclustered)
	assert.Equal(t, 4, res.Groups)
}

func TestLouvainStrategy(t *testing.T) {
	docs := makeDocs([]int{0, 1, 2, 0, 1, 2, 0, 1, 2, 0, 1, 2}, 4)
	opts := Options{MaxTopics: 5, MinTopicSize: 3, Strategy: StrategyLouvain}

	res, err := New().Cluster(context.Background(), docs, opts)
	require.NoError(t, err)
	assert.Equal(t, []int{4, 4, 4}, topicSizes(res.Topics))
	byID := make(map[string]core.Document, len(docs))
	for _, d := range docs {
		byID[d.ID] = d
	}
	for _, topic := range res.Topics {
		text := byID[topic.MemberIDs[0]].Text
		for _, id := range topic.MemberIDs {
			assert.Equal(t, text, byID[id].Text, "topic %s mixes groups", topic.ID)
		}
	}

	again, err := New().Cluster(context.Background(), docs, opts)
	require.NoError(t, err)
	assert.Equal(t, res.Topics, again.Topics)
}

func TestParseStrategy(t *testing.T) {
	s, err := ParseStrategy("")
	require.NoError(t, err)
	assert.Equal(t, StrategyKMeans, s)

	s, err = ParseStrategy("louvain")
	require.NoError(t, err)
	assert.Equal(t, StrategyLouvain, s)

	_, err = ParseStrategy("hdbscan")
	assert.Error(t, err)
}

func TestGenerateLabel(t *testing.T) {
	members := []core.Document{
		{Metadata: core.Metadata{Title: "  Board Minutes "}},
		{Metadata: core.Metadata{Title: "Hiring Plan"}},
	}
	untitled := []core.Document{{Text: "growth growth"}}

	tests := []struct {
		name     string
		members  []core.Document
		keywords []string
		want     string
	}{
		{"keyphrase and nearest title", members, []string{"growth", "hiring"}, "Growth: Board Minutes"},
		{"title already holds keyphrase", members, []string{"board"}, "Board Minutes"},
		{"title only", members, nil, "Board Minutes"},
		{"keyphrase only", untitled, []string{"growth"}, "Growth"},
		{"nothing to go on", nil, nil, "Topic 3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GenerateLabel(tt.members, tt.keywords, 2))
		})
	}
}

func TestSilhouetteSeparatedClusters(t *testing.T) {
	vectors := [][]float64{{1, 0}, {0.99, 0.01}, {0, 1}, {0.01, 0.99}}
	analysis := PerformSilhouetteAnalysis(vectors, []int{0, 0, 1, 1})
	assert.Equal(t, 2, analysis.NumClusters)
	assert.Equal(t, 4, analysis.NumPoints)
	assert.Greater(t, analysis.OverallScore, 0.9)
	assert.Contains(t, analysis.Quality, "Excellent")
}
