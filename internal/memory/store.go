package memory

import (
	"math"
	"sync"

	"github.com/dereksmith/semem/internal/embedvalidate"
	"github.com/dereksmith/semem/internal/semerr"
	"github.com/dereksmith/semem/internal/vectorops"
)

// DecayRate is the per-second exponential time-decay constant from
// spec.md §4.7.
const DecayRate = 1e-4

// ForgetMode selects how Store.Forget removes an interaction.
type ForgetMode string

const (
	ForgetHard ForgetMode = "hard"
	ForgetFade ForgetMode = "fade"
)

// Config configures a Store's thresholds.
type Config struct {
	Dimension        int
	PromoteThreshold int     // default 10
	FadeFactor       float64 // default 0.9, applied on ForgetFade
	ClusterSeed      int64   // RNG seed for k-means centroid init
	MaxClusterIters  int     // default 100
}

// DefaultConfig returns spec.md's documented defaults.
func DefaultConfig(dimension int) Config {
	return Config{
		Dimension:        dimension,
		PromoteThreshold: 10,
		FadeFactor:       0.9,
		ClusterSeed:      1,
		MaxClusterIters:  100,
	}
}

// Store is the MemoryStore of spec.md §4.7. All mutation is guarded by a
// single coarse mutex, per spec.md §5's "shared-state with coarse
// locking" model.
type Store struct {
	mu sync.RWMutex
	cfg Config

	shortTerm     []Interaction
	longTermIDs   map[string]bool
	clusterLabels []int // parallel to shortTerm, -1 until cluster() runs
}

// New creates an empty Store.
func New(cfg Config) *Store {
	if cfg.PromoteThreshold <= 0 {
		cfg.PromoteThreshold = 10
	}
	if cfg.FadeFactor <= 0 {
		cfg.FadeFactor = 0.9
	}
	if cfg.MaxClusterIters <= 0 {
		cfg.MaxClusterIters = 100
	}
	return &Store{
		cfg:         cfg,
		longTermIDs: make(map[string]bool),
	}
}

// Add appends interaction to the short-term tier. Its embedding is
// validated against the configured dimension and its concepts
// de-duplicated; timestamp defaults to now if zero, and decay_factor
// defaults to 1.0 if zero.
func (s *Store) Add(i Interaction) error {
	if err := embedvalidate.Validate(i.Embedding, s.cfg.Dimension); err != nil {
		return err
	}
	if i.Timestamp == 0 {
		i.Timestamp = nowMillis()
	}
	if i.DecayFactor == 0 {
		i.DecayFactor = 1.0
	}
	i.Concepts = dedupeConcepts(i.Concepts)
	if i.Tier == "" {
		i.Tier = TierShort
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.shortTerm = append(s.shortTerm, i)
	s.clusterLabels = append(s.clusterLabels, -1)
	return nil
}

// Retrieve implements spec.md §4.7's decay/reinforcement ranking: cosine
// similarity scaled to 0-100, modulated by exponential time decay and
// logarithmic access-count reinforcement. Matches that clear the
// threshold are reinforced (access_count++, decay_factor *= 1.1,
// timestamp refreshed); matches that don't are penalized
// (decay_factor *= 0.9). exclude_last_n omits the most recently added
// entries from consideration (e.g. to avoid matching the interaction
// that was just told in the same turn).
func (s *Store) Retrieve(queryEmbedding []float64, queryConcepts []string, minAdjustedSimilarity float64, excludeLastN int) ([]Hit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.shortTerm)
	limit := n - excludeLastN
	if limit < 0 {
		limit = 0
	}

	now := nowMillis()
	hits := make([]Hit, 0, limit)
	originalIndex := make(map[string]int, limit)

	for i := 0; i < limit; i++ {
		it := &s.shortTerm[i]
		rawSim, err := vectorops.Cosine(queryEmbedding, it.Embedding)
		if err != nil {
			return nil, err
		}
		sim := rawSim * 100

		ageSeconds := float64(now-it.Timestamp) / 1000.0
		if ageSeconds < 0 {
			ageSeconds = 0
		}
		decay := it.DecayFactor * math.Exp(-DecayRate*ageSeconds)
		reinforcement := math.Log(1 + float64(it.AccessCount))
		adjusted := sim * decay * reinforcement

		if adjusted >= minAdjustedSimilarity {
			it.AccessCount++
			it.Timestamp = now
			it.DecayFactor *= 1.1
			originalIndex[it.ID] = i
			hits = append(hits, Hit{
				AdjustedSimilarity: adjusted,
				Interaction:        *it,
				Concepts:           it.Concepts,
			})
		} else {
			it.DecayFactor *= 0.9
		}
	}

	sortHits(hits, originalIndex)
	return hits, nil
}

// Classify promotes any short-term interaction whose access_count exceeds
// PromoteThreshold into the long-term index. Long-term is a superset: the
// interaction remains reachable via the short-term list too.
func (s *Store) Classify() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	promoted := 0
	for i := range s.shortTerm {
		it := &s.shortTerm[i]
		if it.AccessCount > s.cfg.PromoteThreshold && !s.longTermIDs[it.ID] {
			s.longTermIDs[it.ID] = true
			it.Tier = TierLong
			promoted++
		}
	}
	return promoted
}

// Forget removes id per mode: hard deletes it from all tiers; fade
// multiplies its decay_factor by the configured fade factor without
// removing it.
func (s *Store) Forget(id string, mode ForgetMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := -1
	for i := range s.shortTerm {
		if s.shortTerm[i].ID == id {
			idx = i
			break
		}
	}
	if idx == -1 {
		return semerr.New(semerr.KindNotFound, "interaction not found: "+id, nil)
	}

	switch mode {
	case ForgetFade:
		s.shortTerm[idx].DecayFactor *= s.cfg.FadeFactor
		return nil
	case ForgetHard:
		s.shortTerm = append(s.shortTerm[:idx], s.shortTerm[idx+1:]...)
		s.clusterLabels = append(s.clusterLabels[:idx], s.clusterLabels[idx+1:]...)
		delete(s.longTermIDs, id)
		return nil
	default:
		return semerr.New(semerr.KindValidation, "unknown forget mode: "+string(mode), nil)
	}
}

// ShortTerm returns a copy of the short-term tier.
func (s *Store) ShortTerm() []Interaction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Interaction, len(s.shortTerm))
	copy(out, s.shortTerm)
	return out
}

// LongTerm returns a copy of the long-term tier (the superset index,
// materialized from shortTerm).
func (s *Store) LongTerm() []Interaction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Interaction, 0, len(s.longTermIDs))
	for i := range s.shortTerm {
		if s.longTermIDs[s.shortTerm[i].ID] {
			out = append(out, s.shortTerm[i])
		}
	}
	return out
}

// UpdateDerived overwrites the concepts and/or embedding of an existing
// short-term interaction in place, for augment-style operations that
// derive new attributes for already-told content (spec.md §4.10's
// augment verb). A nil concepts/embedding argument leaves that field
// unchanged; a non-nil embedding is validated against the configured
// dimension.
func (s *Store) UpdateDerived(id string, concepts []Concept, embedding []float64) error {
	if embedding != nil {
		if err := embedvalidate.Validate(embedding, s.cfg.Dimension); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.shortTerm {
		if s.shortTerm[i].ID != id {
			continue
		}
		if concepts != nil {
			s.shortTerm[i].Concepts = dedupeConcepts(concepts)
		}
		if embedding != nil {
			s.shortTerm[i].Embedding = embedding
		}
		return nil
	}
	return semerr.New(semerr.KindNotFound, "interaction not found: "+id, nil)
}

// Get returns the interaction with the given id, if present.
func (s *Store) Get(id string) (Interaction, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.shortTerm {
		if s.shortTerm[i].ID == id {
			return s.shortTerm[i], true
		}
	}
	return Interaction{}, false
}
