package clustering

import (
	"context"
	"math/rand/v2"
	"sort"

	"bireport/internal/core"
	"bireport/internal/vectorindex"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/community"
	"gonum.org/v1/gonum/graph/simple"
)

// LouvainConfig holds configuration for community detection over the k-NN
// similarity graph.
type LouvainConfig struct {
	Resolution    float64 // 1.0 = standard, higher = more, smaller communities
	MinSimilarity float64 // Minimum cosine similarity for an edge
	MaxNeighbors  int     // k for k-NN graph building
	Seed          uint64  // Fixed seed so repeated runs agree
}

// DefaultLouvainConfig returns quality-focused defaults
func DefaultLouvainConfig() LouvainConfig {
	return LouvainConfig{
		Resolution:    1.0,
		MinSimilarity: 0.3,
		MaxNeighbors:  10,
		Seed:          1,
	}
}

// louvainGroups returns communities as sorted index lists, ordered by their
// lowest member index.
func (c *Clusterer) louvainGroups(ctx context.Context, idx *vectorindex.Index, docs []core.Document) ([][]int, error) {
	g, err := c.buildWeightedGraph(ctx, idx, docs)
	if err != nil {
		return nil, err
	}

	edgeCount := g.Edges().Len()
	if edgeCount == 0 {
		c.log.Warn().Msg("no edges in similarity graph, documents may be too dissimilar")
		return [][]int{seq(len(docs))}, nil
	}
	c.log.Info().Int("nodes", len(docs)).Int("edges", edgeCount).Msg("built similarity graph")

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	src := rand.NewPCG(c.louvain.Seed, c.louvain.Seed)
	reduced := community.Modularize(g, c.louvain.Resolution, src)
	communities := reduced.Communities()

	q := community.Q(g, communities, c.louvain.Resolution)
	c.log.Info().Int("communities", len(communities)).Float64("modularity", q).Msg("louvain result")

	return sortedCommunities(communities), nil
}

// buildWeightedGraph links each document to its nearest neighbors with
// similarity as the edge weight. Node IDs are index ordinals.
func (c *Clusterer) buildWeightedGraph(ctx context.Context, idx *vectorindex.Index, docs []core.Document) (*simple.WeightedUndirectedGraph, error) {
	g := simple.NewWeightedUndirectedGraph(0, 0)
	for i := range docs {
		g.AddNode(simple.Node(int64(i)))
	}

	for i, d := range docs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		neighbors, err := idx.NeighborsOf(d.ID, c.louvain.MaxNeighbors)
		if err != nil {
			return nil, err
		}
		for _, nb := range neighbors {
			if nb.Similarity < c.louvain.MinSimilarity {
				continue
			}
			to := int64(idx.Ordinal(nb.DocumentID))
			if to == int64(i) {
				continue
			}
			if e := g.WeightedEdge(int64(i), to); e == nil {
				g.SetWeightedEdge(simple.WeightedEdge{
					F: simple.Node(int64(i)),
					T: simple.Node(to),
					W: nb.Similarity,
				})
			}
		}
	}
	return g, nil
}

func sortedCommunities(communities [][]graph.Node) [][]int {
	groups := make([][]int, 0, len(communities))
	for _, comm := range communities {
		if len(comm) == 0 {
			continue
		}
		members := make([]int, len(comm))
		for i, node := range comm {
			members[i] = int(node.ID())
		}
		sort.Ints(members)
		groups = append(groups, members)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i][0] < groups[j][0] })
	return groups
}
