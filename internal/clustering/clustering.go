// Package clustering partitions embedded documents into topics.
//
// Output is deterministic for a given document set: documents are processed in
// ordinal order, k-means seeding has no randomness, and every observable
// ordering has an explicit sort key.
package clustering

import (
	"context"
	"fmt"
	"sort"

	"bireport/internal/core"
	"bireport/internal/logger"
	"bireport/internal/vectorindex"

	"github.com/rs/zerolog"
)

// Strategy selects the grouping algorithm.
type Strategy string

const (
	StrategyKMeans  Strategy = "kmeans"  // Silhouette-selected k-means (default)
	StrategyLouvain Strategy = "louvain" // Community detection on the k-NN similarity graph
)

// ParseStrategy maps a config value to a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyKMeans, "":
		return StrategyKMeans, nil
	case StrategyLouvain:
		return StrategyLouvain, nil
	default:
		return "", fmt.Errorf("unknown clustering strategy %q", s)
	}
}

// Options are the per-call clustering parameters.
type Options struct {
	MaxTopics    int
	MinTopicSize int
	Strategy     Strategy
}

// Result is the clustering outcome for one run.
type Result struct {
	Topics      []core.Topic        // Ordered by size desc, then representative ordinal
	Unclustered []string            // Members of undersized or overflow groups, by ordinal
	Groups      int                 // Groups produced before size filtering
	Analysis    *SilhouetteAnalysis // nil when fewer than two groups were formed
}

// Clusterer runs the configured strategies.
type Clusterer struct {
	kmeans  KMeansConfig
	louvain LouvainConfig
	log     zerolog.Logger
}

// New creates a Clusterer with default algorithm settings.
func New() *Clusterer {
	return &Clusterer{
		kmeans:  DefaultKMeansConfig(),
		louvain: DefaultLouvainConfig(),
		log:     logger.Component("clustering"),
	}
}

// WithKMeansConfig overrides the k-means settings.
func (c *Clusterer) WithKMeansConfig(cfg KMeansConfig) *Clusterer {
	c.kmeans = cfg
	return c
}

// WithLouvainConfig overrides the Louvain settings.
func (c *Clusterer) WithLouvainConfig(cfg LouvainConfig) *Clusterer {
	c.louvain = cfg
	return c
}

// Cluster groups docs into at most opts.MaxTopics topics. Every document must
// carry an embedding of the same dimension.
func (c *Clusterer) Cluster(ctx context.Context, docs []core.Document, opts Options) (Result, error) {
	if len(docs) == 0 {
		return Result{}, nil
	}
	if opts.MaxTopics < 1 {
		opts.MaxTopics = 1
	}
	if opts.MinTopicSize < 1 {
		opts.MinTopicSize = 1
	}

	ordered := make([]core.Document, len(docs))
	copy(ordered, docs)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Ordinal != ordered[j].Ordinal {
			return ordered[i].Ordinal < ordered[j].Ordinal
		}
		return ordered[i].ID < ordered[j].ID
	})

	entries := make([]vectorindex.Entry, len(ordered))
	for i, d := range ordered {
		entries[i] = vectorindex.Entry{DocumentID: d.ID, Vector: d.Embedding}
	}
	idx, err := vectorindex.Build(entries)
	if err != nil {
		return Result{}, err
	}
	return c.ClusterIndex(ctx, idx, ordered, opts)
}

// ClusterIndex is Cluster over a prebuilt index. docs must be in index order.
func (c *Clusterer) ClusterIndex(ctx context.Context, idx *vectorindex.Index, docs []core.Document, opts Options) (Result, error) {
	n := idx.Len()
	if n == 0 {
		return Result{}, nil
	}
	if len(docs) != n {
		return Result{}, fmt.Errorf("%w: %d documents for an index of %d", core.ErrDataIntegrity, len(docs), n)
	}
	for i, d := range docs {
		if idx.Ordinal(d.ID) != i {
			return Result{}, fmt.Errorf("%w: document %s out of index order", core.ErrDataIntegrity, d.ID)
		}
	}

	vectors := make([][]float64, n)
	for i, d := range docs {
		vectors[i], _ = idx.Vector(d.ID)
	}

	var groups [][]int
	var analysis *SilhouetteAnalysis
	switch {
	case n < opts.MinTopicSize:
		c.log.Info().Int("documents", n).Int("min_topic_size", opts.MinTopicSize).
			Msg("fewer documents than the minimum topic size, using a single topic")
		groups = [][]int{seq(n)}
	case opts.Strategy == StrategyLouvain:
		g, err := c.louvainGroups(ctx, idx, docs)
		if err != nil {
			return Result{}, err
		}
		groups = g
		analysis = analysisFor(vectors, groups)
	default:
		km := NewKMeansClusterer(c.kmeans)
		assignments, k, a, err := km.ClusterWithOptimalK(ctx, vectors, maxK(n, opts))
		if err != nil {
			return Result{}, err
		}
		groups = groupsFromAssignments(assignments, k)
		analysis = a
	}

	return c.finish(docs, vectors, groups, opts, analysis), nil
}

// maxK is the largest k worth trying: no more than MaxTopics groups and no
// group forced below MinTopicSize on average.
func maxK(n int, opts Options) int {
	k := n / opts.MinTopicSize
	if k > opts.MaxTopics {
		k = opts.MaxTopics
	}
	if k < 1 {
		k = 1
	}
	return k
}

type candidate struct {
	members   []int // indices into docs, nearest to centroid first
	centroid  []float64
	nearestID int // ordinal position of the centroid-nearest document
}

func (c *Clusterer) finish(docs []core.Document, vectors [][]float64, groups [][]int, opts Options, analysis *SilhouetteAnalysis) Result {
	n := len(docs)
	res := Result{Groups: len(groups), Analysis: analysis}

	var kept []candidate
	var dropped []int
	for _, g := range groups {
		if len(g) == 0 {
			continue
		}
		cand := newCandidate(g, vectors)
		// A run smaller than the minimum topic size still gets one topic
		if len(g) >= opts.MinTopicSize || n < opts.MinTopicSize {
			kept = append(kept, cand)
		} else {
			dropped = append(dropped, g...)
		}
	}

	sort.SliceStable(kept, func(i, j int) bool {
		if len(kept[i].members) != len(kept[j].members) {
			return len(kept[i].members) > len(kept[j].members)
		}
		return kept[i].nearestID < kept[j].nearestID
	})
	if len(kept) > opts.MaxTopics {
		for _, cand := range kept[opts.MaxTopics:] {
			dropped = append(dropped, cand.members...)
		}
		kept = kept[:opts.MaxTopics]
	}

	res.Topics = make([]core.Topic, len(kept))
	for i, cand := range kept {
		members := make([]core.Document, len(cand.members))
		ids := make([]string, len(cand.members))
		for j, m := range cand.members {
			members[j] = docs[m]
			ids[j] = docs[m].ID
		}
		keywords := ExtractKeywords(members, 5)
		res.Topics[i] = core.Topic{
			ID:        fmt.Sprintf("topic-%02d", i+1),
			Label:     GenerateLabel(members, keywords, i),
			Keywords:  keywords,
			MemberIDs: ids,
			Centroid:  cand.centroid,
		}
	}

	sort.Ints(dropped)
	res.Unclustered = make([]string, len(dropped))
	for i, m := range dropped {
		res.Unclustered[i] = docs[m].ID
	}

	c.log.Info().
		Int("documents", n).
		Int("groups", res.Groups).
		Int("topics", len(res.Topics)).
		Int("unclustered", len(res.Unclustered)).
		Msg("clustering complete")
	return res
}

func newCandidate(group []int, vectors [][]float64) candidate {
	members := make([]int, len(group))
	copy(members, group)
	sort.Ints(members)

	points := make([][]float64, len(members))
	for i, m := range members {
		points[i] = vectors[m]
	}
	centroid := Centroid(points)

	dist := make(map[int]float64, len(members))
	for _, m := range members {
		dist[m] = vectorindex.CosineDistance(vectors[m], centroid)
	}
	sort.SliceStable(members, func(i, j int) bool {
		di, dj := dist[members[i]], dist[members[j]]
		if di != dj {
			return di < dj
		}
		return members[i] < members[j]
	})
	return candidate{members: members, centroid: centroid, nearestID: members[0]}
}

// Centroid is the arithmetic mean of points.
func Centroid(points [][]float64) []float64 {
	if len(points) == 0 {
		return nil
	}
	centroid := make([]float64, len(points[0]))
	for _, p := range points {
		for i, v := range p {
			centroid[i] += v
		}
	}
	for i := range centroid {
		centroid[i] /= float64(len(points))
	}
	return centroid
}

func groupsFromAssignments(assignments []int, k int) [][]int {
	groups := make([][]int, k)
	for i, a := range assignments {
		groups[a] = append(groups[a], i)
	}
	return groups
}

func analysisFor(vectors [][]float64, groups [][]int) *SilhouetteAnalysis {
	nonEmpty := 0
	assignments := make([]int, len(vectors))
	for g, members := range groups {
		if len(members) > 0 {
			nonEmpty++
		}
		for _, m := range members {
			assignments[m] = g
		}
	}
	if nonEmpty < 2 {
		return nil
	}
	return PerformSilhouetteAnalysis(vectors, assignments)
}

func seq(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}
