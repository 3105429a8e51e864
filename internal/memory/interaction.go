// Package memory implements the MemoryStore of spec.md §4.7: short-term
// and long-term tiers over in-process Interaction records, with
// decay/reinforcement retrieval, k-means clustering, and promotion.
//
// This is the Go analog of the teacher's dynamic-prioritization module
// (internal/reflection/prioritization.go), which already implements
// activation boost-on-access and exponential time decay against a graph
// store; here the same decay/reinforcement shape is applied to an
// in-process tier of Interactions instead of graph nodes.
package memory

import (
	"sort"
	"strings"
	"time"
)

// Tier marks which side of the short/long-term boundary an Interaction has
// crossed. Per spec.md's chosen Open Question resolution, long-term is a
// superset index, not a move: an Interaction with Tier == TierLong still
// remains reachable through the short-term list.
type Tier string

const (
	TierShort Tier = "short"
	TierLong  Tier = "long"
)

// Concept is a normalized tag attached to an Interaction.
type Concept struct {
	Value      string
	Subtype    string
	Confidence float64 // 0 if not provided
}

// Interaction is the core stored unit: a prompt/response pair with its
// embedding, concepts, and retrieval bookkeeping.
type Interaction struct {
	ID           string
	Prompt       string
	Response     string
	Embedding    []float64
	Concepts     []Concept
	Timestamp    int64 // epoch-ms
	AccessCount  int
	DecayFactor  float64
	Tier         Tier
}

// dedupeConcepts keeps the first occurrence of each concept value
// (case-normalized), per spec.md's "concepts de-duplicated" invariant.
func dedupeConcepts(in []Concept) []Concept {
	seen := make(map[string]bool, len(in))
	out := make([]Concept, 0, len(in))
	for _, c := range in {
		key := strings.ToLower(c.Value)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, c)
	}
	return out
}

// nowMillis is overridable in tests so retrieval/decay math is
// deterministic against a fixed clock.
var nowMillis = func() int64 { return time.Now().UnixMilli() }

// Hit is one retrieval result: the adjusted similarity score, the matching
// interaction (post-mutation snapshot), and its concepts for caller-side
// overlap scoring, per spec.md §4.7.
type Hit struct {
	AdjustedSimilarity float64
	Interaction        Interaction
	Concepts           []Concept
}

// sortHits orders by descending adjusted similarity; ties break on more
// recent timestamp, then lower original index (stable), per spec.md §4.7.
func sortHits(hits []Hit, originalIndex map[string]int) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].AdjustedSimilarity != hits[j].AdjustedSimilarity {
			return hits[i].AdjustedSimilarity > hits[j].AdjustedSimilarity
		}
		if hits[i].Interaction.Timestamp != hits[j].Interaction.Timestamp {
			return hits[i].Interaction.Timestamp > hits[j].Interaction.Timestamp
		}
		return originalIndex[hits[i].Interaction.ID] < originalIndex[hits[j].Interaction.ID]
	})
}
