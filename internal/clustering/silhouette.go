package clustering

import (
	"math"
	"sort"

	"bireport/internal/vectorindex"
)

// SilhouetteScore calculates the silhouette score for a single data point
// Returns a score between -1 and 1:
//
//	-1: Point likely in wrong cluster
//	 0: Point on the border between clusters
//	+1: Point well matched to its cluster
func SilhouetteScore(
	pointIdx int,
	clusterAssignments []int,
	distances [][]float64,
) float64 {
	n := len(clusterAssignments)
	if n == 0 || pointIdx >= n {
		return 0.0
	}

	currentCluster := clusterAssignments[pointIdx]

	// Singletons score 0 by convention
	if clusterSize(currentCluster, clusterAssignments) == 1 {
		return 0.0
	}

	a := meanIntraClusterDistance(pointIdx, currentCluster, clusterAssignments, distances)
	b := minInterClusterDistance(pointIdx, currentCluster, clusterAssignments, distances)

	m := math.Max(a, b)
	if m == 0 {
		return 0.0
	}
	return (b - a) / m
}

func clusterSize(label int, clusterAssignments []int) int {
	n := 0
	for _, l := range clusterAssignments {
		if l == label {
			n++
		}
	}
	return n
}

// meanIntraClusterDistance calculates mean distance to other points in same cluster
func meanIntraClusterDistance(
	pointIdx int,
	clusterLabel int,
	clusterAssignments []int,
	distances [][]float64,
) float64 {
	sumDistance := 0.0
	count := 0

	for i, label := range clusterAssignments {
		if i == pointIdx {
			continue
		}
		if label == clusterLabel {
			sumDistance += distances[pointIdx][i]
			count++
		}
	}

	if count == 0 {
		return 0.0
	}

	return sumDistance / float64(count)
}

// minInterClusterDistance finds minimum mean distance to points in other clusters
func minInterClusterDistance(
	pointIdx int,
	currentCluster int,
	clusterAssignments []int,
	distances [][]float64,
) float64 {
	sums := make(map[int]float64)
	counts := make(map[int]int)
	for i, label := range clusterAssignments {
		if label == currentCluster {
			continue
		}
		sums[label] += distances[pointIdx][i]
		counts[label]++
	}

	if len(counts) == 0 {
		return 1.0 // No other clusters
	}

	minDistance := math.MaxFloat64
	for label, count := range counts {
		if mean := sums[label] / float64(count); mean < minDistance {
			minDistance = mean
		}
	}
	return minDistance
}

// AverageSilhouetteScore calculates the mean silhouette score across all points
func AverageSilhouetteScore(
	clusterAssignments []int,
	distances [][]float64,
) float64 {
	n := len(clusterAssignments)
	if n == 0 {
		return 0.0
	}

	totalScore := 0.0
	for i := 0; i < n; i++ {
		totalScore += SilhouetteScore(i, clusterAssignments, distances)
	}

	return totalScore / float64(n)
}

// DistanceMatrix computes pairwise distances between all points
func DistanceMatrix(
	embeddings [][]float64,
	distanceFunc func(a, b []float64) float64,
) [][]float64 {
	n := len(embeddings)
	matrix := make([][]float64, n)
	for i := range matrix {
		matrix[i] = make([]float64, n)
	}

	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			d := distanceFunc(embeddings[i], embeddings[j])
			matrix[i][j] = d
			matrix[j][i] = d
		}
	}

	return matrix
}

// SilhouetteAnalysis summarizes clustering quality
type SilhouetteAnalysis struct {
	OverallScore  float64         `json:"overall_score"`  // Average across all points
	ClusterScores map[int]float64 `json:"cluster_scores"` // Per-cluster average scores
	NumClusters   int             `json:"num_clusters"`
	NumPoints     int             `json:"num_points"`
	Quality       string          `json:"quality"` // Excellent/Good/Fair/Poor
}

// PerformSilhouetteAnalysis computes silhouette statistics over cosine distances
func PerformSilhouetteAnalysis(
	embeddings [][]float64,
	clusterAssignments []int,
) *SilhouetteAnalysis {
	distances := DistanceMatrix(embeddings, vectorindex.CosineDistance)
	return analysisFromMatrix(distances, clusterAssignments)
}

func analysisFromMatrix(distances [][]float64, clusterAssignments []int) *SilhouetteAnalysis {
	scoresByCluster := make(map[int][]float64)
	total := 0.0
	for i, label := range clusterAssignments {
		s := SilhouetteScore(i, clusterAssignments, distances)
		scoresByCluster[label] = append(scoresByCluster[label], s)
		total += s
	}

	labels := make([]int, 0, len(scoresByCluster))
	for label := range scoresByCluster {
		labels = append(labels, label)
	}
	sort.Ints(labels)

	clusterScores := make(map[int]float64, len(labels))
	for _, label := range labels {
		sum := 0.0
		for _, s := range scoresByCluster[label] {
			sum += s
		}
		clusterScores[label] = sum / float64(len(scoresByCluster[label]))
	}

	overall := 0.0
	if len(clusterAssignments) > 0 {
		overall = total / float64(len(clusterAssignments))
	}

	return &SilhouetteAnalysis{
		OverallScore:  overall,
		ClusterScores: clusterScores,
		NumClusters:   len(labels),
		NumPoints:     len(clusterAssignments),
		Quality:       interpretSilhouetteScore(overall),
	}
}

// interpretSilhouetteScore provides human-readable interpretation
func interpretSilhouetteScore(score float64) string {
	switch {
	case score >= 0.71:
		return "Excellent - Strong cluster structure"
	case score >= 0.51:
		return "Good - Reasonable cluster structure"
	case score >= 0.26:
		return "Fair - Weak cluster structure"
	case score >= 0.0:
		return "Poor - No substantial cluster structure"
	default:
		return "Very Poor - Artificial/forced clustering"
	}
}
