// Package distance provides the vector distance kernels used by segment
// search.
package distance

import (
	"fmt"
	"math"
	"math/bits"
	"slices"
)

// Dot calculates the dot product of two vectors.
// Assumes vectors are the same length (caller's responsibility).
func Dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// SquaredL2 calculates the squared L2 (Euclidean) distance between two
// vectors. Assumes vectors are the same length (caller's responsibility).
func SquaredL2(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

// Hamming calculates the Hamming distance between two byte slices.
// Assumes slices are the same length. Returns the count of differing bits.
func Hamming(a, b []byte) float32 {
	var n int
	for i := range a {
		n += bits.OnesCount8(a[i] ^ b[i])
	}
	return float32(n)
}

// NormalizeL2InPlace L2-normalizes v in place.
// Returns false if v has zero L2 norm.
func NormalizeL2InPlace(v []float32) bool {
	if len(v) == 0 {
		return false
	}
	norm2 := Dot(v, v)
	if norm2 == 0 {
		return false
	}
	inv := 1 / float32(math.Sqrt(float64(norm2)))
	for i := range v {
		v[i] *= inv
	}
	return true
}

// NormalizeL2Copy returns a normalized copy of src.
// Returns false if src has zero L2 norm.
func NormalizeL2Copy(src []float32) ([]float32, bool) {
	dst := slices.Clone(src)
	if !NormalizeL2InPlace(dst) {
		return nil, false
	}
	return dst, true
}

// Metric represents the distance metric used for vector comparison.
type Metric int

const (
	MetricL2 Metric = iota
	MetricCosine
	MetricDot
	MetricHamming
)

func (m Metric) String() string {
	switch m {
	case MetricL2:
		return "L2"
	case MetricCosine:
		return "Cosine"
	case MetricDot:
		return "Dot"
	case MetricHamming:
		return "Hamming"
	default:
		return fmt.Sprintf("Unknown(%d)", m)
	}
}

// LargerIsBetter reports whether larger values of the metric indicate closer
// vectors.
func (m Metric) LargerIsBetter() bool {
	return m == MetricDot || m == MetricCosine
}

// Func is a function type for distance calculation.
type Func func(a, b []float32) float32

// FuncBytes is a function type for distance calculation on byte slices.
type FuncBytes func(a, b []byte) float32

// Provider returns the distance function for the given metric. Cosine
// callers are expected to normalize both sides and use the dot product.
func Provider(m Metric) (Func, error) {
	switch m {
	case MetricL2:
		return SquaredL2, nil
	case MetricCosine, MetricDot:
		return Dot, nil
	default:
		return nil, fmt.Errorf("unsupported metric for float32: %v", m)
	}
}

// ProviderBytes returns the distance function for the given metric on byte
// slices.
func ProviderBytes(m Metric) (FuncBytes, error) {
	switch m {
	case MetricHamming:
		return Hamming, nil
	default:
		return nil, fmt.Errorf("unsupported metric for bytes: %v", m)
	}
}
