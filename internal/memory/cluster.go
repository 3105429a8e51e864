package memory

import (
	"math"

	"github.com/dereksmith/semem/internal/vectorops"
)

// Cluster is a k-means cluster over short-term embeddings, per spec.md
// §3/§4.7. Transient: not required to be persisted.
type Cluster struct {
	ID        int
	Centroid  []float64
	MemberIDs []string
}

// lcg is a tiny deterministic linear-congruential generator so cluster
// centroid initialization is reproducible from a configured seed, per
// spec.md's "testability" requirement — mirroring the teacher's own
// preference for explicit, deterministic math over an opaque stdlib RNG
// in numeric code (internal/vectorindex, internal/reflection).
type lcg struct{ state uint64 }

func newLCG(seed int64) *lcg { return &lcg{state: uint64(seed) | 1} }

func (g *lcg) next() uint64 {
	g.state = g.state*6364136223846793005 + 1442695040888963407
	return g.state
}

func (g *lcg) intn(n int) int {
	if n <= 0 {
		return 0
	}
	return int(g.next() % uint64(n))
}

// Cluster runs Lloyd's algorithm over the short-term embeddings with
// k = min(10, |short_term|). A store with fewer than two short-term
// interactions is a no-op. Iterates until convergence (no assignment
// changes) or cfg.MaxClusterIters, whichever comes first. Results are
// recorded on the store as cluster labels and also returned as Cluster
// records for callers (e.g. ZptState's zoom=community collapsing).
func (s *Store) Cluster() ([]Cluster, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.shortTerm)
	if n < 2 {
		return nil, nil
	}

	k := 10
	if n < k {
		k = n
	}

	rng := newLCG(s.cfg.ClusterSeed)
	centroids := initCentroids(s.shortTerm, k, rng)
	assignments := make([]int, n)
	for i := range assignments {
		assignments[i] = -1
	}

	for iter := 0; iter < s.cfg.MaxClusterIters; iter++ {
		changed := false
		for i := range s.shortTerm {
			best, bestSim := -1, math.Inf(-1)
			for c := range centroids {
				sim, err := vectorops.Cosine(s.shortTerm[i].Embedding, centroids[c])
				if err != nil {
					return nil, err
				}
				if sim > bestSim {
					bestSim = sim
					best = c
				}
			}
			if assignments[i] != best {
				assignments[i] = best
				changed = true
			}
		}
		centroids = recomputeCentroids(s.shortTerm, assignments, k)
		if !changed {
			break
		}
	}

	copy(s.clusterLabels, assignments)

	clusters := make([]Cluster, k)
	for c := 0; c < k; c++ {
		clusters[c] = Cluster{ID: c, Centroid: centroids[c]}
	}
	for i, c := range assignments {
		clusters[c].MemberIDs = append(clusters[c].MemberIDs, s.shortTerm[i].ID)
	}
	return clusters, nil
}

// ClusterLabels returns a copy of the per-short-term-index cluster
// assignment from the most recent Cluster() call (-1 if never clustered).
func (s *Store) ClusterLabels() []int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]int, len(s.clusterLabels))
	copy(out, s.clusterLabels)
	return out
}

func initCentroids(items []Interaction, k int, rng *lcg) [][]float64 {
	chosen := make(map[int]bool, k)
	centroids := make([][]float64, 0, k)
	for len(centroids) < k {
		idx := rng.intn(len(items))
		if chosen[idx] {
			continue
		}
		chosen[idx] = true
		cp := make([]float64, len(items[idx].Embedding))
		copy(cp, items[idx].Embedding)
		centroids = append(centroids, cp)
	}
	return centroids
}

func recomputeCentroids(items []Interaction, assignments []int, k int) [][]float64 {
	dim := 0
	if len(items) > 0 {
		dim = len(items[0].Embedding)
	}
	sums := make([][]float64, k)
	counts := make([]int, k)
	for c := range sums {
		sums[c] = make([]float64, dim)
	}
	for i, c := range assignments {
		counts[c]++
		for d, v := range items[i].Embedding {
			sums[c][d] += v
		}
	}
	out := make([][]float64, k)
	for c := range sums {
		if counts[c] == 0 {
			out[c] = sums[c] // empty cluster keeps a zero centroid
			continue
		}
		mean := make([]float64, dim)
		for d := range mean {
			mean[d] = sums[c][d] / float64(counts[c])
		}
		out[c] = mean
	}
	return out
}
