// Package embedvalidate maps model identifiers to expected embedding
// dimensions and validates/standardizes vectors against them.
package embedvalidate

import (
	"math"
	"sync"

	"github.com/dereksmith/semem/internal/semerr"
	"github.com/dereksmith/semem/internal/vectorops"
)

// defaultDimensions seeds common embedding-model -> dimension pairs.
var defaultDimensions = map[string]int{
	"text-embedding-ada-002": 1536,
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"nomic-embed-text":       768,
	"all-minilm":             384,
}

// Validator holds the model->dimension registry. Safe for concurrent use.
type Validator struct {
	mu   sync.RWMutex
	dims map[string]int
}

// New creates a Validator seeded with the default model/dimension pairs,
// merged with any overrides supplied.
func New(overrides map[string]int) *Validator {
	v := &Validator{dims: make(map[string]int, len(defaultDimensions)+len(overrides))}
	for k, d := range defaultDimensions {
		v.dims[k] = d
	}
	for k, d := range overrides {
		v.dims[k] = d
	}
	return v
}

// Register adds or overrides the expected dimension for a model.
func (v *Validator) Register(model string, dim int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.dims[model] = dim
}

// DimensionFor returns the expected dimension for model, and whether the
// model is known.
func (v *Validator) DimensionFor(model string) (int, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	d, ok := v.dims[model]
	return d, ok
}

// Validate fails with DimensionMismatch if len(vec) != dim, or
// InvalidNumeric if any element is NaN/Inf.
func Validate(vec []float64, dim int) error {
	for _, x := range vec {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return semerr.New(semerr.KindInvalidNumeric, "embedding contains NaN or Inf", nil)
		}
	}
	if len(vec) != dim {
		return semerr.New(semerr.KindDimensionMismatch, "embedding length does not match expected dimension", nil)
	}
	return nil
}

// StandardizeForModel combines a model dimension lookup with
// vectorops.Standardize. Unknown models fall back to the provided
// fallbackDim unchanged.
func (v *Validator) StandardizeForModel(vec []float64, model string, fallbackDim int) ([]float64, error) {
	for _, x := range vec {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil, semerr.New(semerr.KindInvalidNumeric, "embedding contains NaN or Inf", nil)
		}
	}
	dim, ok := v.DimensionFor(model)
	if !ok {
		dim = fallbackDim
	}
	return vectorops.Standardize(vec, dim), nil
}
