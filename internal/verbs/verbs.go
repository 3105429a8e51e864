// Package verbs implements the VerbsService of spec.md §4.10/§6.1: the
// tell/ask/augment/zoom/pan/tilt/inspect operations that orchestrate
// embedding generation, concept extraction, MemoryStore, SemanticStore,
// ContextWindow, and ZptState behind capability interfaces for the
// external LLM/embedder/concept-extractor.
//
// The async "soft PersistenceFailed, queued for retry" shape of tell is
// grounded on the teacher's ingestion loop
// (internal/kernel/kernel.go's runIngestionLoop, internal/kernel/
// ingestion.go's IngestionPipeline): accept the write into the in-memory
// tier immediately, hand the durable write off to a background path, and
// report failure without blocking the caller.
package verbs

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dereksmith/semem/internal/cache/session"
	semctx "github.com/dereksmith/semem/internal/context"
	"github.com/dereksmith/semem/internal/memory"
	"github.com/dereksmith/semem/internal/semerr"
	"github.com/dereksmith/semem/internal/store"
	"github.com/dereksmith/semem/internal/zpt"
)

// Embedder generates a vector embedding for text. External collaborator,
// per spec.md §1's "LLM/embedder/concept extractor via capability
// interfaces" non-goal carve-out.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// ConceptExtractor derives concept tags from text.
type ConceptExtractor interface {
	Extract(ctx context.Context, text string) ([]memory.Concept, error)
}

// ChatModel answers a prompt given an assembled context.
type ChatModel interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// PersistJob is one deferred SemanticStore.Save attempt.
type PersistJob struct {
	Interaction memory.Interaction
}

// PersistQueue durably queues a failed persistence attempt for retry,
// grounded on the teacher's JetStream-backed ingestion queue.
type PersistQueue interface {
	Enqueue(ctx context.Context, job PersistJob) error
}

// Config tunes retrieval budgets and refinement behavior.
type Config struct {
	SessionTopK         int
	SessionThreshold    float64 // 0-100 scale, matching MemoryStore.Retrieve
	PersistentTopK      int
	PersistentThreshold float64
	RefinementMaxPasses int // extra passes for mode=comprehensive
	SystemPreamble      string
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		SessionTopK:         5,
		SessionThreshold:    40,
		PersistentTopK:      5,
		PersistentThreshold: 30,
		RefinementMaxPasses: 2,
		SystemPreamble:      "You are Semem, a semantic memory assistant.",
	}
}

// Service is the VerbsService. It exclusively owns the ZptState and
// SessionCache for its session, per spec.md §3's ownership rules.
type Service struct {
	cfg Config

	embedder  Embedder
	extractor ConceptExtractor
	chat      ChatModel

	mem      *memory.Store
	sem      *store.Store
	ctxb     *semctx.Builder
	zptState *zpt.State
	sess     *session.Cache
	queue    PersistQueue

	logger *zap.Logger

	mu              sync.Mutex
	augmentSeen     map[string]AugmentResult
	persistFailures int
}

// New wires a Service from its owned and consumed components.
func New(cfg Config, embedder Embedder, extractor ConceptExtractor, chat ChatModel,
	mem *memory.Store, sem *store.Store, ctxb *semctx.Builder, zptState *zpt.State,
	sess *session.Cache, queue PersistQueue, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		cfg:         cfg,
		embedder:    embedder,
		extractor:   extractor,
		chat:        chat,
		mem:         mem,
		sem:         sem,
		ctxb:        ctxb,
		zptState:    zptState,
		sess:        sess,
		queue:       queue,
		logger:      logger.Named("verbs"),
		augmentSeen: make(map[string]AugmentResult),
	}
}

// TellType enumerates the content kinds tell accepts.
type TellType string

const (
	TellInteraction TellType = "interaction"
	TellDocument    TellType = "document"
	TellConcept     TellType = "concept"
)

var validTellTypes = map[TellType]bool{TellInteraction: true, TellDocument: true, TellConcept: true}

// TellResult is tell's return contract, per spec.md §4.10.
type TellResult struct {
	ID        string
	Concepts  []memory.Concept
	Timestamp int64
}

// Tell generates an embedding for content, extracts concepts, appends the
// interaction to MemoryStore, updates the SessionCache, and asynchronously
// persists via SemanticStore. The in-memory add is never rolled back by a
// persistence failure — that failure is soft, reported, and queued for
// retry (spec.md §4.10).
func (s *Service) Tell(ctx context.Context, content string, typ TellType, metadata map[string]string) (TellResult, error) {
	if !validTellTypes[typ] {
		return TellResult{}, semerr.New(semerr.KindValidation, "invalid tell type: "+string(typ), nil)
	}

	embedding, err := s.embedder.Embed(ctx, content)
	if err != nil {
		return TellResult{}, semerr.New(semerr.KindEmbeddingFailed, "embedding generation failed", err)
	}

	concepts, err := s.extractor.Extract(ctx, content)
	if err != nil {
		s.logger.Warn("concept extraction failed, continuing without concepts", zap.Error(err))
		concepts = nil
	}

	id := uuid.New().String()
	now := time.Now().UnixMilli()
	interaction := memory.Interaction{
		ID:          id,
		Prompt:      metadata["prompt"],
		Response:    content,
		Embedding:   embedding,
		Concepts:    concepts,
		Timestamp:   now,
		DecayFactor: 1.0,
	}

	if err := s.mem.Add(interaction); err != nil {
		return TellResult{}, err
	}
	s.sess.Add(session.Entry{ID: id, Text: content, Embedding: embedding})

	go s.persistAsync(interaction)

	return TellResult{ID: id, Concepts: interaction.Concepts, Timestamp: now}, nil
}

// persistAsync attempts the durable write off the caller's goroutine. On
// failure it logs, records a PersistenceFailed occurrence, and enqueues
// the job for retry if a PersistQueue was configured.
func (s *Service) persistAsync(it memory.Interaction) {
	bg := context.Background()
	if err := s.sem.Save(bg, []memory.Interaction{it}); err != nil {
		s.mu.Lock()
		s.persistFailures++
		s.mu.Unlock()
		s.logger.Warn("persistence failed, queuing for retry",
			zap.String("id", it.ID), zap.String("error", semerr.SanitizeError(err)))
		if s.queue != nil {
			if qerr := s.queue.Enqueue(bg, PersistJob{Interaction: it}); qerr != nil {
				s.logger.Error("failed to enqueue persistence retry", zap.Error(qerr))
			}
		}
	}
}

// PersistenceFailures reports how many async persistence attempts have
// failed so far this session (observable for tests/inspect).
func (s *Service) PersistenceFailures() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistFailures
}

// AskMode selects ask's search/refinement strategy.
type AskMode string

const (
	AskBasic         AskMode = "basic"
	AskStandard      AskMode = "standard"
	AskComprehensive AskMode = "comprehensive"
)

// Search method labels, observable in tests per spec.md §6.1.
const (
	SearchMethodSessionCache         = "session_cache"
	SearchMethodHybridSemanticSearch = "hybrid_semantic_search"
	SearchMethodEnhancedGeneration   = "enhanced_generation"
)

// AskResult is ask's return contract.
type AskResult struct {
	Answer       string
	ContextItems int
	SearchMethod string
	ZptState     zpt.Snapshot
	ElidedBlocks int
}

type retrievalHit struct {
	id         string
	content    string
	similarity float64
	fromSession bool
}

// Ask generates an embedding for question, searches SessionCache then
// (unless mode=basic) SemanticStore, merges by id preferring session
// entries, reshapes the result set per ZptState, assembles a context
// window, and invokes the external chat model. Per the recorded Open
// Question decision, mode=comprehensive adds a bounded refinement loop
// (widened threshold, up to RefinementMaxPasses extra rounds) over the
// standard single-pass merge; mode=basic never touches SemanticStore.
func (s *Service) Ask(ctx context.Context, question string, mode AskMode, useContext bool) (AskResult, error) {
	embedding, err := s.embedder.Embed(ctx, question)
	if err != nil {
		return AskResult{}, semerr.New(semerr.KindEmbeddingFailed, "embedding generation failed", err)
	}

	sessionHits, err := s.sess.Search(embedding, s.cfg.SessionTopK, s.cfg.SessionThreshold)
	if err != nil {
		return AskResult{}, err
	}

	merged := make(map[string]retrievalHit, len(sessionHits))
	for _, h := range sessionHits {
		merged[h.Entry.ID] = retrievalHit{id: h.Entry.ID, content: h.Entry.Text, similarity: h.Similarity, fromSession: true}
	}

	searchMethod := SearchMethodSessionCache
	needPersistent := mode != AskBasic && len(sessionHits) < s.cfg.SessionTopK

	if needPersistent {
		searchMethod = SearchMethodHybridSemanticSearch
		persistentHits, err := s.sem.Search(ctx, embedding, s.cfg.PersistentTopK, s.cfg.PersistentThreshold, store.SearchOptions{})
		if err != nil {
			return AskResult{}, err
		}
		for _, h := range persistentHits {
			if _, exists := merged[h.ID]; exists {
				continue
			}
			merged[h.ID] = retrievalHit{id: h.ID, content: h.Content, similarity: h.Similarity}
		}

		if mode == AskComprehensive {
			threshold := s.cfg.PersistentThreshold
			for pass := 0; pass < s.cfg.RefinementMaxPasses; pass++ {
				threshold -= threshold * 0.2 // widen each pass
				more, err := s.sem.Search(ctx, embedding, s.cfg.PersistentTopK, threshold, store.SearchOptions{})
				if err != nil {
					return AskResult{}, err
				}
				added := 0
				for _, h := range more {
					if _, exists := merged[h.ID]; exists {
						continue
					}
					merged[h.ID] = retrievalHit{id: h.ID, content: h.Content, similarity: h.Similarity}
					added++
				}
				if added == 0 {
					break
				}
				searchMethod = SearchMethodEnhancedGeneration
			}
		}
	}

	hits := make([]retrievalHit, 0, len(merged))
	for _, h := range merged {
		hits = append(hits, h)
	}

	snap := s.zptState.Snapshot()
	hits = applyZpt(hits, snap, s.mem)

	var answer string
	elided := 0
	if useContext {
		items := make([]semctx.RetrievedItem, 0, len(hits))
		for _, h := range hits {
			items = append(items, semctx.RetrievedItem{ID: h.id, Content: h.content, Similarity: h.similarity})
		}
		built := s.ctxb.Build(s.cfg.SystemPreamble, question, items, nil)
		elided = built.ElidedBlocks
		answer, err = s.chat.Complete(ctx, s.cfg.SystemPreamble, built.Context)
	} else {
		answer, err = s.chat.Complete(ctx, s.cfg.SystemPreamble, question)
	}
	if err != nil {
		return AskResult{}, err
	}

	return AskResult{
		Answer:       answer,
		ContextItems: len(hits),
		SearchMethod: searchMethod,
		ZptState:     snap,
		ElidedBlocks: elided,
	}, nil
}

// applyZpt reshapes hits per the current navigation lens: pan.keywords
// filters out hits whose content contains none of the keywords;
// tilt=temporal reorders by recency; zoom=community collapses hits into
// their cluster's representative (highest-similarity member), per
// spec.md §4.10's worked examples. The context builder re-sorts hits by
// similarity, so the recency order from tilt=temporal is not carried into
// the assembled context.
func applyZpt(hits []retrievalHit, snap zpt.Snapshot, mem *memory.Store) []retrievalHit {
	if len(snap.Pan.Keywords) > 0 {
		filtered := make([]retrievalHit, 0, len(hits))
		for _, h := range hits {
			lower := strings.ToLower(h.content)
			for _, kw := range snap.Pan.Keywords {
				if strings.Contains(lower, kw) {
					filtered = append(filtered, h)
					break
				}
			}
		}
		hits = filtered
	}

	if snap.Tilt == zpt.TiltTemporal {
		timestamps := make(map[string]int64, len(hits))
		for _, h := range hits {
			if it, ok := mem.Get(h.id); ok {
				timestamps[h.id] = it.Timestamp
			}
		}
		sortByRecency(hits, timestamps)
	}

	if snap.Zoom == zpt.ZoomCommunity {
		hits = collapseToClusterRepresentatives(hits, mem)
	}

	return hits
}

func sortByRecency(hits []retrievalHit, timestamps map[string]int64) {
	for i := 1; i < len(hits); i++ {
		for j := i; j > 0 && timestamps[hits[j].id] > timestamps[hits[j-1].id]; j-- {
			hits[j], hits[j-1] = hits[j-1], hits[j]
		}
	}
}

func collapseToClusterRepresentatives(hits []retrievalHit, mem *memory.Store) []retrievalHit {
	labels := mem.ClusterLabels()
	shortTerm := mem.ShortTerm()
	idToLabel := make(map[string]int, len(shortTerm))
	for i, it := range shortTerm {
		if i < len(labels) {
			idToLabel[it.ID] = labels[i]
		}
	}

	best := make(map[int]retrievalHit)
	var unclustered []retrievalHit
	for _, h := range hits {
		label, ok := idToLabel[h.id]
		if !ok || label < 0 {
			unclustered = append(unclustered, h)
			continue
		}
		if cur, exists := best[label]; !exists || h.similarity > cur.similarity {
			best[label] = h
		}
	}

	out := make([]retrievalHit, 0, len(best)+len(unclustered))
	for _, h := range best {
		out = append(out, h)
	}
	out = append(out, unclustered...)
	return out
}

// AugmentOperation enumerates augment's supported derivations.
type AugmentOperation string

const (
	AugmentExtractConcepts   AugmentOperation = "extract_concepts"
	AugmentGenerateEmbedding AugmentOperation = "generate_embedding"
	AugmentSummarize         AugmentOperation = "summarize"
	AugmentRelate            AugmentOperation = "relate"
)

// AugmentResult is augment's return contract.
type AugmentResult struct {
	ID        string
	Operation AugmentOperation
	Result    string
}

// Augment invokes the relevant external capability on the target
// interaction's content and persists the derived attribute back onto it.
// Idempotent by (target_id, operation): a repeat call with the same pair
// returns the previously computed result without recomputing it.
func (s *Service) Augment(ctx context.Context, targetID string, operation AugmentOperation) (AugmentResult, error) {
	key := targetID + ":" + string(operation)
	s.mu.Lock()
	if cached, ok := s.augmentSeen[key]; ok {
		s.mu.Unlock()
		return cached, nil
	}
	s.mu.Unlock()

	target, ok := s.mem.Get(targetID)
	if !ok {
		return AugmentResult{}, semerr.New(semerr.KindNotFound, "augment target not found: "+targetID, nil)
	}

	var result string
	switch operation {
	case AugmentExtractConcepts:
		concepts, err := s.extractor.Extract(ctx, target.Response)
		if err != nil {
			return AugmentResult{}, semerr.New(semerr.KindConceptExtractionFailed, "concept extraction failed", err)
		}
		if err := s.mem.UpdateDerived(targetID, concepts, nil); err != nil {
			return AugmentResult{}, err
		}
		result = joinConcepts(concepts)
	case AugmentGenerateEmbedding:
		embedding, err := s.embedder.Embed(ctx, target.Response)
		if err != nil {
			return AugmentResult{}, semerr.New(semerr.KindEmbeddingFailed, "embedding generation failed", err)
		}
		if err := s.mem.UpdateDerived(targetID, nil, embedding); err != nil {
			return AugmentResult{}, err
		}
		result = "embedding regenerated"
	case AugmentSummarize:
		summary, err := s.chat.Complete(ctx, "Summarize the following content concisely.", target.Response)
		if err != nil {
			return AugmentResult{}, err
		}
		result = summary
	case AugmentRelate:
		related, err := s.extractor.Extract(ctx, target.Response)
		if err != nil {
			return AugmentResult{}, semerr.New(semerr.KindConceptExtractionFailed, "relation extraction failed", err)
		}
		result = joinConcepts(related)
	default:
		return AugmentResult{}, semerr.New(semerr.KindValidation, "invalid augment operation: "+string(operation), nil)
	}

	out := AugmentResult{ID: targetID, Operation: operation, Result: result}
	s.mu.Lock()
	s.augmentSeen[key] = out
	s.mu.Unlock()
	return out, nil
}

func joinConcepts(cs []memory.Concept) string {
	vals := make([]string, len(cs))
	for i, c := range cs {
		vals[i] = c.Value
	}
	return strings.Join(vals, ", ")
}

// Zoom mutates ZptState's zoom level atomically.
func (s *Service) Zoom(level zpt.Zoom) (zpt.Snapshot, error) { return s.zptState.Zoom(level) }

// Pan mutates ZptState's pan filter atomically.
func (s *Service) Pan(filter zpt.Pan) (zpt.Snapshot, error) { return s.zptState.Pan(filter) }

// Tilt mutates ZptState's tilt style atomically.
func (s *Service) Tilt(style zpt.Tilt) (zpt.Snapshot, error) { return s.zptState.Tilt(style) }

// InspectWhat selects inspect's scope.
type InspectWhat string

const (
	InspectSession  InspectWhat = "session"
	InspectConcepts InspectWhat = "concepts"
	InspectAll      InspectWhat = "all"
)

// InspectSnapshot is a read-only introspection snapshot for UI and tests,
// per spec.md §4.10.
type InspectSnapshot struct {
	ShortTermCount      int
	LongTermIDs         []string
	SessionEntryCount   int
	ConceptCounts       map[string]int
	Zpt                 zpt.Snapshot
	PersistenceFailures int
}

// Inspect returns a read-only snapshot scoped by what. details=false omits
// the per-concept breakdown and long-term id list for a cheaper summary.
func (s *Service) Inspect(what InspectWhat, details bool) (InspectSnapshot, error) {
	if what != InspectSession && what != InspectConcepts && what != InspectAll {
		return InspectSnapshot{}, semerr.New(semerr.KindValidation, "invalid inspect scope: "+string(what), nil)
	}

	snap := InspectSnapshot{Zpt: s.zptState.Snapshot(), PersistenceFailures: s.PersistenceFailures()}

	if what == InspectSession || what == InspectAll {
		snap.SessionEntryCount = s.sess.Len()
	}

	if what == InspectConcepts || what == InspectAll {
		counts := make(map[string]int)
		for _, it := range s.mem.ShortTerm() {
			for _, c := range it.Concepts {
				counts[c.Value]++
			}
		}
		if details {
			snap.ConceptCounts = counts
		}
	}

	if what == InspectAll {
		snap.ShortTermCount = len(s.mem.ShortTerm())
		if details {
			long := s.mem.LongTerm()
			ids := make([]string, len(long))
			for i, it := range long {
				ids[i] = it.ID
			}
			snap.LongTermIDs = ids
		}
	}

	return snap, nil
}
