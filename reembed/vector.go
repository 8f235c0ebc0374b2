package reembed

import (
	"fmt"
	"math"
)

// CheckVector rejects vectors that cannot be ranked by cosine similarity:
// empty, zero magnitude or non-finite components, and, when dimensions is
// positive, any other length.
func CheckVector(v []float32, dimensions int) error {
	if len(v) == 0 {
		return fmt.Errorf("%w: empty vector", ErrMalformedEmbedding)
	}
	if dimensions > 0 && len(v) != dimensions {
		return fmt.Errorf("%w: vector has %d dimensions, expected %d", ErrMalformedEmbedding, len(v), dimensions)
	}
	norm, err := magnitude(v)
	if err != nil {
		return err
	}
	if norm == 0 {
		return fmt.Errorf("%w: zero vector", ErrMalformedEmbedding)
	}
	return nil
}

// NormalizeVector returns a unit length copy of v. Zero and empty vectors are
// returned as zero vectors of the same length.
func NormalizeVector(v []float32) []float32 {
	out := make([]float32, len(v))
	norm, err := magnitude(v)
	if err != nil || norm == 0 {
		return out
	}
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

// PrepareVector checks v and returns it normalized.
func PrepareVector(v []float32, dimensions int) ([]float32, error) {
	if err := CheckVector(v, dimensions); err != nil {
		return nil, err
	}
	return NormalizeVector(v), nil
}

// magnitude returns the Euclidean norm of v, accumulated in float64.
func magnitude(v []float32) (float64, error) {
	var sum float64
	for i, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, fmt.Errorf("%w: component %d is not finite", ErrMalformedEmbedding, i)
		}
		sum += f * f
	}
	return math.Sqrt(sum), nil
}
