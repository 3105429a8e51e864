package vectorops

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/dereksmith/semem/internal/semerr"
)

func TestNormalize(t *testing.T) {
	out, err := Normalize([]float64{3, 4})
	assert.NoError(t, err)
	assert.InDelta(t, 0.6, out[0], 1e-9)
	assert.InDelta(t, 0.8, out[1], 1e-9)
}

func TestNormalizeZeroVector(t *testing.T) {
	out, err := Normalize([]float64{0, 0, 0})
	assert.NoError(t, err)
	assert.Equal(t, []float64{0, 0, 0}, out)
}

func TestNormalizeRejectsNaN(t *testing.T) {
	_, err := Normalize([]float64{math.NaN(), 1})
	assert.True(t, semerr.Is(err, semerr.KindInvalidNumeric))
}

func TestCosineIdentical(t *testing.T) {
	sim, err := Cosine([]float64{1, 2, 3}, []float64{1, 2, 3})
	assert.NoError(t, err)
	assert.InDelta(t, 1.0, sim, 1e-9)
}

func TestCosineOrthogonal(t *testing.T) {
	sim, err := Cosine([]float64{1, 0}, []float64{0, 1})
	assert.NoError(t, err)
	assert.InDelta(t, 0.0, sim, 1e-9)
}

func TestCosineZeroNormReturnsZero(t *testing.T) {
	sim, err := Cosine([]float64{0, 0}, []float64{1, 2})
	assert.NoError(t, err)
	assert.Equal(t, 0.0, sim)
}

func TestCosineRejectsInf(t *testing.T) {
	_, err := Cosine([]float64{math.Inf(1), 1}, []float64{1, 1})
	assert.True(t, semerr.Is(err, semerr.KindInvalidNumeric))
}

func TestStandardizePad(t *testing.T) {
	out := Standardize([]float64{1, 2}, 4)
	assert.Equal(t, []float64{1, 2, 0, 0}, out)
}

func TestStandardizeTruncate(t *testing.T) {
	out := Standardize([]float64{1, 2, 3, 4}, 2)
	assert.Equal(t, []float64{1, 2}, out)
}

func TestStandardizePassThrough(t *testing.T) {
	out := Standardize([]float64{1, 2, 3}, 3)
	assert.Equal(t, []float64{1, 2, 3}, out)
}
