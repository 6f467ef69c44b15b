package embedding

import (
	"errors"
	"math"
)

// Vector is a face embedding. Stored vectors are unit length.
type Vector []float32

// UnitTolerance is the allowed deviation of a stored vector's norm from 1.
const UnitTolerance = 1e-6

var (
	ErrZeroVector        = errors.New("embedding: zero-length vector")
	ErrDimensionMismatch = errors.New("embedding: dimension mismatch")
)

// Norm returns the Euclidean length of v, accumulated in float64.
func Norm(v Vector) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// Normalize returns a unit-length copy of v.
func Normalize(v Vector) (Vector, error) {
	if len(v) == 0 {
		return nil, ErrZeroVector
	}
	n := Norm(v)
	if n == 0 || math.IsNaN(n) || math.IsInf(n, 0) {
		return nil, ErrZeroVector
	}
	out := make(Vector, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / n)
	}
	return out, nil
}

// Dot returns the inner product of a and b, which is the cosine similarity
// when both are unit length.
func Dot(a, b Vector) (float64, error) {
	if len(a) != len(b) {
		return 0, ErrDimensionMismatch
	}
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum, nil
}

// IsUnit reports whether v has unit length within UnitTolerance.
func IsUnit(v Vector) bool {
	return math.Abs(Norm(v)-1) <= UnitTolerance
}

// AddToMean folds sample into a running mean over count samples and returns
// the renormalized mean and the new count. A nil mean or zero count starts
// over from sample.
func AddToMean(mean Vector, count int, sample Vector) (Vector, int, error) {
	if mean == nil || count <= 0 {
		unit, err := Normalize(sample)
		if err != nil {
			return nil, 0, err
		}
		return unit, 1, nil
	}
	if len(mean) != len(sample) {
		return nil, 0, ErrDimensionMismatch
	}
	n := float64(count)
	acc := make(Vector, len(mean))
	for i := range mean {
		acc[i] = float32((float64(mean[i])*n + float64(sample[i])) / (n + 1))
	}
	unit, err := Normalize(acc)
	if err != nil {
		return nil, 0, err
	}
	return unit, count + 1, nil
}

// RemoveFromMean takes sample back out of a running mean over count samples.
// When one sample or fewer remain, or the remainder cancels to zero, the
// result is a nil mean with count zero.
func RemoveFromMean(mean Vector, count int, sample Vector) (Vector, int, error) {
	if count <= 1 || mean == nil {
		return nil, 0, nil
	}
	if len(mean) != len(sample) {
		return nil, 0, ErrDimensionMismatch
	}
	n := float64(count)
	acc := make(Vector, len(mean))
	for i := range mean {
		acc[i] = float32((float64(mean[i])*n - float64(sample[i])) / (n - 1))
	}
	unit, err := Normalize(acc)
	if errors.Is(err, ErrZeroVector) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, err
	}
	return unit, count - 1, nil
}
