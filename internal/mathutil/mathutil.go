package mathutil

import "math"

// normEpsilon guards against division by zero when normalizing an
// all-zero vector.
const normEpsilon = 1e-10

// DotProduct computes the dot product of two vectors.
func DotProduct(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// Norm computes the L2 norm (magnitude) of a vector.
func Norm(v []float32) float32 {
	return float32(math.Sqrt(float64(DotProduct(v, v))))
}

// Normalize returns a unit vector in the same direction. The norm is
// padded with a small epsilon so an all-zero vector stays all-zero
// instead of producing NaNs.
func Normalize(v []float32) []float32 {
	norm := Norm(v) + normEpsilon
	result := make([]float32, len(v))
	for i := range v {
		result[i] = v[i] / norm
	}
	return result
}
