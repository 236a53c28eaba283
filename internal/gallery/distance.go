package gallery

import (
	"fmt"
	"math"

	"github.com/coder/hnsw"
)

// maxDistance is reported for vectors that cannot be compared.
const maxDistance = 2.0

// Metric names a distance function between embeddings. Smaller is closer.
type Metric string

const (
	Cosine      Metric = "cosine"
	EuclideanL2 Metric = "euclidean_l2"
)

// ParseMetric validates a metric name.
func ParseMetric(s string) (Metric, error) {
	switch Metric(s) {
	case Cosine, EuclideanL2:
		return Metric(s), nil
	case "":
		return Cosine, nil
	}
	return "", fmt.Errorf("unknown distance metric %q (want cosine or euclidean_l2)", s)
}

// Distance computes the metric between a and b.
func (m Metric) Distance(a, b []float32) float64 {
	if m == EuclideanL2 {
		return EuclideanL2Distance(a, b)
	}
	return CosineDistance(a, b)
}

// prepare returns the vector as it is stored in the search graph.
func (m Metric) prepare(v []float32) []float32 {
	if m == EuclideanL2 {
		return normalize(v)
	}
	return v
}

func (m Metric) graphDistance() hnsw.DistanceFunc {
	if m == EuclideanL2 {
		return hnsw.EuclideanDistance
	}
	return hnsw.CosineDistance
}

// CosineDistance computes the cosine distance between two vectors
// Returns a value between 0 (identical) and 2 (opposite)
func CosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return maxDistance
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return maxDistance
	}

	similarity := dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
	// Clamp to [-1, 1] to handle floating point errors
	similarity = min(max(similarity, -1), 1)

	return 1 - similarity
}

// EuclideanL2Distance is the euclidean distance between the L2-normalized
// forms of a and b, in [0, 2].
func EuclideanL2Distance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return maxDistance
	}

	na, nb := norm2(a), norm2(b)
	if na == 0 || nb == 0 {
		return maxDistance
	}

	var sum float64
	for i := range a {
		d := float64(a[i])/na - float64(b[i])/nb
		sum += d * d
	}
	return math.Sqrt(sum)
}

func norm2(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func normalize(v []float32) []float32 {
	n := norm2(v)
	out := make([]float32, len(v))
	if n == 0 {
		return out
	}
	for i, x := range v {
		out[i] = float32(float64(x) / n)
	}
	return out
}
