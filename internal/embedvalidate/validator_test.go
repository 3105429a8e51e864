package embedvalidate

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/dereksmith/semem/internal/semerr"
)

func TestDimensionFor(t *testing.T) {
	v := New(nil)
	dim, ok := v.DimensionFor("text-embedding-ada-002")
	assert.True(t, ok)
	assert.Equal(t, 1536, dim)

	_, ok = v.DimensionFor("unknown-model")
	assert.False(t, ok)
}

func TestRegisterOverride(t *testing.T) {
	v := New(nil)
	v.Register("custom-model", 42)
	dim, ok := v.DimensionFor("custom-model")
	assert.True(t, ok)
	assert.Equal(t, 42, dim)
}

func TestValidateDimensionMismatch(t *testing.T) {
	err := Validate([]float64{1, 2, 3}, 4)
	assert.True(t, semerr.Is(err, semerr.KindDimensionMismatch))
}

func TestValidateInvalidNumeric(t *testing.T) {
	err := Validate([]float64{1, math.NaN()}, 2)
	assert.True(t, semerr.Is(err, semerr.KindInvalidNumeric))
}

func TestValidateOK(t *testing.T) {
	assert.NoError(t, Validate([]float64{1, 2, 3}, 3))
}

func TestStandardizeForModelKnown(t *testing.T) {
	v := New(nil)
	out, err := v.StandardizeForModel([]float64{1, 2}, "all-minilm", 0)
	assert.NoError(t, err)
	assert.Len(t, out, 384)
}

func TestStandardizeForModelUnknownFallsBack(t *testing.T) {
	v := New(nil)
	out, err := v.StandardizeForModel([]float64{1, 2}, "mystery", 5)
	assert.NoError(t, err)
	assert.Len(t, out, 5)
}
