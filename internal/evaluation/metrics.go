package evaluation

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// NDCG calculates Normalized Discounted Cumulative Gain at K.
// k <= 0 means the whole list.
func NDCG(relevances []int, k int) float64 {
	if k <= 0 || k > len(relevances) {
		k = len(relevances)
	}
	if k == 0 {
		return 0
	}

	// DCG
	dcg := float64(relevances[0])
	for i := 1; i < k; i++ {
		dcg += float64(relevances[i]) / math.Log2(float64(i+2))
	}

	// Ideal DCG (sorted by relevance)
	sorted := make([]int, len(relevances))
	copy(sorted, relevances)
	sort.Sort(sort.Reverse(sort.IntSlice(sorted)))

	idcg := float64(sorted[0])
	for i := 1; i < k; i++ {
		idcg += float64(sorted[i]) / math.Log2(float64(i+2))
	}

	if idcg == 0 {
		return 0
	}
	return dcg / idcg
}

// Recall calculates Recall at K
func Recall(relevances []int, k int, threshold int) float64 {
	if k <= 0 || k > len(relevances) {
		k = len(relevances)
	}

	// Count total relevant
	totalRelevant := 0
	for _, r := range relevances {
		if r >= threshold {
			totalRelevant++
		}
	}

	if totalRelevant == 0 {
		return 0
	}

	// Count relevant in top K
	relevantInK := 0
	for i := 0; i < k; i++ {
		if relevances[i] >= threshold {
			relevantInK++
		}
	}

	return float64(relevantInK) / float64(totalRelevant)
}

// Precision calculates Precision at K
func Precision(relevances []int, k int, threshold int) float64 {
	if k <= 0 || k > len(relevances) {
		k = len(relevances)
	}
	if k == 0 {
		return 0
	}

	relevant := 0
	for i := 0; i < k; i++ {
		if relevances[i] >= threshold {
			relevant++
		}
	}

	return float64(relevant) / float64(k)
}

// MRR calculates Mean Reciprocal Rank
func MRR(relevances []int, threshold int) float64 {
	for i, r := range relevances {
		if r >= threshold {
			return 1.0 / float64(i+1)
		}
	}
	return 0
}

// AveragePrecision calculates Average Precision
func AveragePrecision(relevances []int, threshold int) float64 {
	relevant := 0
	sumPrecision := 0.0

	for i, r := range relevances {
		if r >= threshold {
			relevant++
			sumPrecision += float64(relevant) / float64(i+1)
		}
	}

	if relevant == 0 {
		return 0
	}
	return sumPrecision / float64(relevant)
}

// Metric scores relevance labels given in ranked order, truncated at k.
type Metric func(relevances []int, k int) float64

// MetricByName returns a Metric for "ndcg", "precision", "recall", "mrr" or
// "map". Threshold-based metrics count labels >= 1 as relevant.
func MetricByName(name string) (Metric, error) {
	switch strings.ToLower(name) {
	case "ndcg":
		return NDCG, nil
	case "precision":
		return func(rel []int, k int) float64 { return Precision(rel, k, 1) }, nil
	case "recall":
		return func(rel []int, k int) float64 { return Recall(rel, k, 1) }, nil
	case "mrr":
		return func(rel []int, k int) float64 { return MRR(topK(rel, k), 1) }, nil
	case "map":
		return func(rel []int, k int) float64 { return AveragePrecision(topK(rel, k), 1) }, nil
	default:
		return nil, fmt.Errorf("unknown metric %q (must be ndcg, precision, recall, mrr or map)", name)
	}
}

func topK(rel []int, k int) []int {
	if k <= 0 || k > len(rel) {
		return rel
	}
	return rel[:k]
}
