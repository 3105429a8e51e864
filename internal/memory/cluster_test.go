package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClusterNoOpBelowTwoEntries(t *testing.T) {
	s := New(DefaultConfig(2))
	require.NoError(t, s.Add(Interaction{ID: "1", Embedding: []float64{1, 0}}))

	clusters, err := s.Cluster()
	require.NoError(t, err)
	assert.Nil(t, clusters)
}

func TestClusterLabelsWithinRange(t *testing.T) {
	s := New(DefaultConfig(2))
	for i := 0; i < 5; i++ {
		emb := []float64{float64(i), 0}
		require.NoError(t, s.Add(Interaction{ID: string(rune('a' + i)), Embedding: emb}))
	}

	clusters, err := s.Cluster()
	require.NoError(t, err)
	k := len(clusters)
	assert.True(t, k >= 1 && k <= 5)

	for _, label := range s.ClusterLabels() {
		assert.True(t, label >= 0 && label < k)
	}
}

func TestClusterCentroidIsMeanOfMembers(t *testing.T) {
	s := New(DefaultConfig(2))
	require.NoError(t, s.Add(Interaction{ID: "1", Embedding: []float64{0, 0}}))
	require.NoError(t, s.Add(Interaction{ID: "2", Embedding: []float64{10, 10}}))

	clusters, err := s.Cluster()
	require.NoError(t, err)

	for _, c := range clusters {
		if len(c.MemberIDs) == 0 {
			continue
		}
		var sum []float64
		for _, id := range c.MemberIDs {
			it, ok := s.Get(id)
			require.True(t, ok)
			if sum == nil {
				sum = make([]float64, len(it.Embedding))
			}
			for d, v := range it.Embedding {
				sum[d] += v
			}
		}
		for d := range sum {
			mean := sum[d] / float64(len(c.MemberIDs))
			assert.InDelta(t, mean, c.Centroid[d], 1e-9)
		}
	}
}

func TestClusterKCappedAtTen(t *testing.T) {
	s := New(DefaultConfig(2))
	for i := 0; i < 25; i++ {
		require.NoError(t, s.Add(Interaction{ID: string(rune('a' + i)), Embedding: []float64{float64(i), float64(-i)}}))
	}

	clusters, err := s.Cluster()
	require.NoError(t, err)
	assert.Len(t, clusters, 10)
}
