package faces

import (
	"fmt"
	"math"

	"github.com/kozaktomas/facescan/internal/scan"
)

// Metric names a distance function.
type Metric string

const (
	MetricEuclidean Metric = "euclidean"
	MetricCosine    Metric = "cosine"
)

// Matcher reports a match when the distance between two embeddings is
// strictly below the threshold.
type Matcher struct {
	metric    Metric
	threshold float64
	distance  func(a, b []float32) float64
}

// NewMatcher creates a matcher for the named metric.
func NewMatcher(metric Metric, threshold float64) (*Matcher, error) {
	m := &Matcher{metric: metric, threshold: threshold}
	switch metric {
	case MetricEuclidean, "":
		m.metric = MetricEuclidean
		m.distance = EuclideanDistance
	case MetricCosine:
		m.distance = CosineDistance
	default:
		return nil, fmt.Errorf("unknown face match metric %q", metric)
	}
	return m, nil
}

// Match implements scan.Matcher.
func (m *Matcher) Match(known, candidate scan.Embedding) bool {
	return m.distance(known, candidate) < m.threshold
}

// EuclideanDistance returns +Inf for mismatched or empty vectors.
func EuclideanDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return math.Inf(1)
	}
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// CosineDistance computes the cosine distance between two vectors
// Returns a value between 0 (identical) and 2 (opposite)
func CosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 2.0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 2.0
	}

	similarity := dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
	// Clamp to [-1, 1] to handle floating point errors
	similarity = max(-1, min(1, similarity))
	return 1 - similarity
}
