// Package vectorops provides the pure, stateless vector primitives shared by
// the memory store and the semantic store: normalization, cosine similarity,
// and dimension standardization. No operation here allocates beyond its
// output vector, and none suspends.
package vectorops

import (
	"math"

	"github.com/dereksmith/semem/internal/semerr"
)

// epsilon is the norm floor below which a vector is treated as the zero
// vector rather than risking division blow-up.
const epsilon = 1e-12

// Normalize returns v divided by its L2 norm. If the norm is below epsilon
// the zero vector is returned (no error): a degenerate embedding should not
// halt a retrieval pass.
func Normalize(v []float64) ([]float64, error) {
	if err := checkFinite(v); err != nil {
		return nil, err
	}
	norm := l2norm(v)
	out := make([]float64, len(v))
	if norm < epsilon {
		return out, nil
	}
	for i, x := range v {
		out[i] = x / norm
	}
	return out, nil
}

// Cosine returns the cosine similarity of a and b. If either vector's norm
// is at or below epsilon, 0 is returned rather than dividing by a
// near-zero denominator.
func Cosine(a, b []float64) (float64, error) {
	if err := checkFinite(a); err != nil {
		return 0, err
	}
	if err := checkFinite(b); err != nil {
		return 0, err
	}
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	for i := n; i < len(a); i++ {
		na += a[i] * a[i]
	}
	for i := n; i < len(b); i++ {
		nb += b[i] * b[i]
	}
	na = math.Sqrt(na)
	nb = math.Sqrt(nb)
	if na <= epsilon || nb <= epsilon {
		return 0, nil
	}
	return dot / (na * nb), nil
}

// Standardize pads v with zeros up to dim, or truncates it down to dim.
// A vector already at dim is returned unchanged (new backing slice).
func Standardize(v []float64, dim int) []float64 {
	out := make([]float64, dim)
	n := len(v)
	if n > dim {
		n = dim
	}
	copy(out, v[:n])
	return out
}

func l2norm(v []float64) float64 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	return math.Sqrt(sum)
}

// checkFinite fails with InvalidNumeric if v contains a NaN or Inf element.
func checkFinite(v []float64) error {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return semerr.New(semerr.KindInvalidNumeric, "vector contains NaN or Inf", nil)
		}
	}
	return nil
}
