package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultMatchesSpec(t *testing.T) {
	c := Default()
	assert.Equal(t, 1536, c.EmbeddingDimension)
	assert.Equal(t, 10, c.PromoteThreshold)
	assert.Equal(t, 1e-4, c.DecayRate)
	assert.Equal(t, 0.9, c.FadeFactor)
	assert.Equal(t, 40.0, c.SimilarityThresholdSession)
	assert.Equal(t, 30.0, c.SimilarityThresholdPersistent)
	assert.Equal(t, 0.1, c.ContextOverlapRatio)
	assert.Equal(t, 300*time.Second, c.CacheTTL())
	assert.Equal(t, 1000, c.CacheMaxSize)
	assert.Equal(t, 3, c.RetryMaxAttempts)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "semem.yaml")
	contents := `
embedding_dimension: 768
promote_threshold: 5
sparql_endpoints:
  - query: "http://localhost:3030/ds/query"
    update: "http://localhost:3030/ds/update"
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	c, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, 768, c.EmbeddingDimension)
	assert.Equal(t, 5, c.PromoteThreshold)
	require.Len(t, c.SparqlEndpoints, 1)
	assert.Equal(t, "http://localhost:3030/ds/query", c.SparqlEndpoints[0].Query)
	// Untouched fields keep defaults.
	assert.Equal(t, 0.9, c.FadeFactor)
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile("/nonexistent/path/semem.yaml")
	assert.Error(t, err)
}
