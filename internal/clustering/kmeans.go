package clustering

import (
	"context"
	"fmt"
	"math"

	"bireport/internal/logger"
	"bireport/internal/vectorindex"

	"github.com/rs/zerolog"
)

// KMeansConfig holds configuration for K-means clustering
type KMeansConfig struct {
	MaxIterations int     // Maximum number of Lloyd iterations
	Tolerance     float64 // Stop when no centroid moves further than this
	MinK          int     // Smallest k tried during selection
	MinSilhouette float64 // Below this the chosen clustering is logged as weak
}

// DefaultKMeansConfig returns sensible defaults for K-means clustering
func DefaultKMeansConfig() KMeansConfig {
	return KMeansConfig{
		MaxIterations: 100,
		Tolerance:     1e-9,
		MinK:          2,
		MinSilhouette: 0.25,
	}
}

// KMeansClusterer runs deterministic k-means with silhouette-based k selection.
type KMeansClusterer struct {
	config KMeansConfig
	log    zerolog.Logger
}

// NewKMeansClusterer creates a new K-means clusterer
func NewKMeansClusterer(config KMeansConfig) *KMeansClusterer {
	return &KMeansClusterer{
		config: config,
		log:    logger.Component("kmeans"),
	}
}

// ClusterWithOptimalK tries k in [MinK, maxK] and keeps the k with the highest
// average silhouette. Ties go to the smaller k. When the range is empty all
// points form one group.
func (km *KMeansClusterer) ClusterWithOptimalK(
	ctx context.Context,
	vectors [][]float64,
	maxK int,
) ([]int, int, *SilhouetteAnalysis, error) {
	n := len(vectors)
	if n == 0 {
		return nil, 0, nil, nil
	}
	if maxK > n {
		maxK = n
	}
	minK := km.config.MinK
	if minK < 2 {
		minK = 2
	}
	if maxK < minK {
		return make([]int, n), 1, nil, nil
	}

	distances := DistanceMatrix(vectors, vectorindex.CosineDistance)

	bestK := 0
	bestScore := math.Inf(-1)
	var bestAssignments []int
	for k := minK; k <= maxK; k++ {
		if err := ctx.Err(); err != nil {
			return nil, 0, nil, err
		}
		assignments, _, err := km.RunKMeans(vectors, k)
		if err != nil {
			return nil, 0, nil, err
		}
		score := AverageSilhouetteScore(assignments, distances)
		km.log.Debug().Int("k", k).Float64("silhouette", score).Msg("evaluated k")
		if score > bestScore {
			bestScore, bestK, bestAssignments = score, k, assignments
		}
	}

	km.log.Info().Int("k", bestK).Float64("silhouette", bestScore).Msg("optimal k selected")
	if bestScore < km.config.MinSilhouette {
		km.log.Warn().Float64("silhouette", bestScore).Float64("threshold", km.config.MinSilhouette).
			Msg("clustering quality below threshold")
	}

	analysis := analysisFromMatrix(distances, bestAssignments)
	return bestAssignments, bestK, analysis, nil
}

// RunKMeans executes the K-means algorithm with cosine distance.
// Returns assignments (cluster labels) and centroids.
func (km *KMeansClusterer) RunKMeans(vectors [][]float64, k int) ([]int, [][]float64, error) {
	if len(vectors) == 0 {
		return nil, nil, fmt.Errorf("no embeddings provided")
	}
	if k <= 0 || k > len(vectors) {
		return nil, nil, fmt.Errorf("invalid k: %d (must be 1-%d)", k, len(vectors))
	}

	dim := len(vectors[0])
	centroids := initializeCentroidsFarthestPoint(vectors, k)
	assignments := make([]int, len(vectors))
	for i := range assignments {
		assignments[i] = -1
	}

	maxIter := km.config.MaxIterations
	if maxIter <= 0 {
		maxIter = 100
	}
	for iteration := 0; iteration < maxIter; iteration++ {
		changed := false
		for i, v := range vectors {
			c := findNearestCentroid(v, centroids)
			if c != assignments[i] {
				assignments[i] = c
				changed = true
			}
		}
		if !changed {
			break
		}

		updated := updateCentroids(vectors, assignments, centroids, dim)
		shift := 0.0
		for c := range centroids {
			if d := vectorindex.CosineDistance(centroids[c], updated[c]); d > shift {
				shift = d
			}
		}
		centroids = updated
		if shift <= km.config.Tolerance {
			// Reassign once more against the final centroids
			for i, v := range vectors {
				assignments[i] = findNearestCentroid(v, centroids)
			}
			break
		}
	}

	return assignments, centroids, nil
}

// initializeCentroidsFarthestPoint seeds with the point nearest the global
// mean, then repeatedly adds the point farthest from every chosen seed. Ties
// go to the lower index.
func initializeCentroidsFarthestPoint(vectors [][]float64, k int) [][]float64 {
	mean := Centroid(vectors)
	first := 0
	best := math.Inf(1)
	for i, v := range vectors {
		if d := vectorindex.CosineDistance(v, mean); d < best {
			best, first = d, i
		}
	}

	chosen := []int{first}
	minDist := make([]float64, len(vectors))
	for i, v := range vectors {
		minDist[i] = vectorindex.CosineDistance(v, vectors[first])
	}

	for len(chosen) < k {
		next := -1
		far := -1.0
		for i, d := range minDist {
			if d > far && !containsInt(chosen, i) {
				far, next = d, i
			}
		}
		chosen = append(chosen, next)
		for i, v := range vectors {
			if d := vectorindex.CosineDistance(v, vectors[next]); d < minDist[i] {
				minDist[i] = d
			}
		}
	}

	centroids := make([][]float64, k)
	for c, i := range chosen {
		centroids[c] = append([]float64(nil), vectors[i]...)
	}
	return centroids
}

// findNearestCentroid finds the index of the nearest centroid using cosine distance
func findNearestCentroid(v []float64, centroids [][]float64) int {
	minDistance := math.Inf(1)
	nearest := 0
	for i, centroid := range centroids {
		if d := vectorindex.CosineDistance(v, centroid); d < minDistance {
			minDistance, nearest = d, i
		}
	}
	return nearest
}

// updateCentroids recalculates centroids; an empty cluster keeps its previous centroid
func updateCentroids(vectors [][]float64, assignments []int, previous [][]float64, dim int) [][]float64 {
	k := len(previous)
	centroids := make([][]float64, k)
	counts := make([]int, k)
	for i := range centroids {
		centroids[i] = make([]float64, dim)
	}

	for i, v := range vectors {
		c := assignments[i]
		counts[c]++
		for j := range v {
			centroids[c][j] += v[j]
		}
	}

	for c := range centroids {
		if counts[c] == 0 {
			copy(centroids[c], previous[c])
			continue
		}
		for j := range centroids[c] {
			centroids[c][j] /= float64(counts[c])
		}
	}
	return centroids
}

func containsInt(xs []int, x int) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}
