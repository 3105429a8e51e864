// Package store implements the SemanticStore of spec.md §4.8: persistence
// of MemoryStore state into a named RDF graph via templated SPARQL, with
// caching and transaction-wrapped writes delegated to sibling packages.
//
// This composes sparql.Client, template.Store, cache.Layer, and
// txmgr.Manager exactly the way the teacher's internal/graph.Client
// composes a dgo connection with its own query builders — the same
// load/save/search shape, carried from DQL-over-gRPC onto
// SPARQL-over-HTTP.
package store

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dereksmith/semem/internal/cache"
	"github.com/dereksmith/semem/internal/jsonx"
	"github.com/dereksmith/semem/internal/memory"
	"github.com/dereksmith/semem/internal/semerr"
	"github.com/dereksmith/semem/internal/template"
	"github.com/dereksmith/semem/internal/txmgr"
	"github.com/dereksmith/semem/internal/vectorops"
)

// SparqlClient is the subset of *sparql.Client this store needs. Declared
// as an interface here (rather than depending on the concrete type) so
// tests can supply an in-memory fake endpoint, per spec.md §8's
// fake-SPARQL-endpoint testability note.
type SparqlClient interface {
	Query(ctx context.Context, query string) ([]byte, error)
	Update(ctx context.Context, update string) error
}

const (
	tmplLoadHistory = "load_history"
	tmplDeleteByIRI = "delete_by_iri"
	tmplInsertElement = "insert_element"
	tmplSearch      = "search"
)

// Config configures a Store.
type Config struct {
	GraphIRI  string // named graph that holds persisted interactions
	IRIPrefix string // IRI prefix interaction subjects are minted under, default "http://purl.org/semem/id/"
}

func (c Config) withDefaults() Config {
	if c.IRIPrefix == "" {
		c.IRIPrefix = "http://purl.org/semem/id/"
	}
	return c
}

// Store is the SemanticStore: it exclusively owns a SparqlClient,
// CacheLayer, TransactionManager, and QueryTemplateStore, per spec.md §3's
// ownership rules.
type Store struct {
	cfg      Config
	client   SparqlClient
	templates *template.Store
	cacheL   *cache.Layer
	tx       *txmgr.Manager
	logger   *zap.Logger
}

// New wires a Store from its owned components and registers the built-in
// templates this package needs against the shared template.Store.
func New(cfg Config, client SparqlClient, templates *template.Store, cacheL *cache.Layer, tx *txmgr.Manager, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		cfg:      cfg.withDefaults(),
		client:   client,
		templates: templates,
		cacheL:   cacheL,
		tx:       tx,
		logger:   logger.Named("semanticstore"),
	}
	registerBuiltinTemplates(templates)
	return s
}

// registerBuiltinTemplates seeds the SELECT/DELETE query skeletons this
// store renders, using the §6.2 vocabulary: ragno:Element for
// interactions, skos:prefLabel for the prompt, ragno:content for the
// response, ragno:embedding for the serialized vector, dcterms:created,
// ragno:accessCount, ragno:decayFactor, and ragno:concept.
func registerBuiltinTemplates(ts *template.Store) {
	ts.Register(template.Template{
		Name: tmplLoadHistory,
		Body: `SELECT ?s ?prompt ?content ?embedding ?created ?accessCount ?decayFactor ?concept WHERE {
  GRAPH <${graph}> {
    ?s a ragno:Element ;
       skos:prefLabel ?prompt ;
       ragno:content ?content ;
       ragno:embedding ?embedding ;
       dcterms:created ?created ;
       ragno:accessCount ?accessCount ;
       ragno:decayFactor ?decayFactor .
    OPTIONAL { ?s ragno:concept ?concept }
  }
}`,
		Required: []string{"graph"},
		Prefixes: []string{"ragno", "skos", "dcterms"},
		Description: "load every interaction persisted in the memory graph",
	})

	ts.Register(template.Template{
		Name: tmplDeleteByIRI,
		Body: `DELETE WHERE { GRAPH <${graph}> { <${iri}> ?p ?o } }`,
		Required: []string{"graph", "iri"},
		Description: "clear existing triples for a subject before rewriting it",
	})

	ts.Register(template.Template{
		Name: tmplInsertElement,
		Body: `INSERT DATA {
  GRAPH <${graph}> {
    <${iri}> a ragno:Element ;
      skos:prefLabel "${prompt}" ;
      ragno:content "${content}" ;
      ragno:embedding "${embedding}" ;
      dcterms:created "${created}"^^xsd:dateTime ;
      ragno:accessCount "${accessCount}"^^xsd:integer ;
      ragno:decayFactor "${decayFactor}"^^xsd:double ${concepts} .
  }
}`,
		Required: []string{"graph", "iri", "prompt", "content", "embedding", "created", "accessCount", "decayFactor"},
		Optional: []string{"concepts"},
		Prefixes: []string{"ragno", "skos", "dcterms", "xsd"},
		Description: "insert one interaction's triples",
	})

	ts.Register(template.Template{
		Name: tmplSearch,
		Body: `SELECT ?s ?prompt ?content ?embedding WHERE {
  GRAPH <${graph}> {
    { ?s a ragno:Element ; skos:prefLabel ?prompt ; ragno:content ?content ; ragno:embedding ?embedding . }
    UNION
    { ?s a ragno:Unit ; ragno:content ?content ; ragno:hasEmbedding [ ragno:vectorContent ?embedding ] . BIND("" AS ?prompt) }
    ${typeFilter}
    ${substringFilter}
  }
}`,
		Required: []string{"graph"},
		Optional: []string{"typeFilter", "substringFilter"},
		Prefixes: []string{"ragno", "skos"},
		Description: "search interactions and document chunks by embedding similarity (computed in-process)",
	})
}

// row mirrors the SPARQL JSON results binding shape for a single solution.
type row map[string]struct {
	Value string `json:"value"`
	Type  string `json:"type"`
}

type sparqlResults struct {
	Results struct {
		Bindings []row `json:"bindings"`
	} `json:"results"`
}

func (r row) str(key string) string {
	b, ok := r[key]
	if !ok {
		return ""
	}
	return b.Value
}

// parseEmbedding decodes the canonical JSON float array literal spec.md
// §6.2 mandates. A CorruptEntry is signalled by returning ok=false rather
// than an error — per spec.md §4.8 this is a skip-and-warn condition, not
// a fatal load failure.
func parseEmbedding(literal string) ([]float64, bool) {
	var vec []float64
	if err := jsonx.Unmarshal([]byte(literal), &vec); err != nil {
		return nil, false
	}
	return vec, true
}

// LoadHistory reconstructs Interaction records from the persisted graph,
// per spec.md §4.8. Entries whose embedding literal fails to parse are
// skipped (CorruptEntry), not treated as fatal.
func (s *Store) LoadHistory(ctx context.Context) (shortTerm []memory.Interaction, corrupt int, err error) {
	rendered, err := s.templates.Render(tmplLoadHistory, map[string]string{"graph": s.cfg.GraphIRI}, true)
	if err != nil {
		return nil, 0, err
	}

	raw, err := s.queryCached(ctx, rendered)
	if err != nil {
		return nil, 0, err
	}

	var parsed sparqlResults
	if err := jsonx.Unmarshal(raw, &parsed); err != nil {
		return nil, 0, semerr.New(semerr.KindMalformedResponse, "load_history results not valid JSON", err)
	}

	byID := make(map[string]*memory.Interaction)
	order := make([]string, 0, len(parsed.Results.Bindings))
	for _, b := range parsed.Results.Bindings {
		iri := b.str("s")
		emb, ok := parseEmbedding(b.str("embedding"))
		if !ok {
			corrupt++
			continue
		}
		it, exists := byID[iri]
		if !exists {
			created := parseTimeMillis(b.str("created"))
			access, _ := strconv.Atoi(b.str("accessCount"))
			decay, _ := strconv.ParseFloat(b.str("decayFactor"), 64)
			it = &memory.Interaction{
				ID:          iriToID(iri, s.cfg.IRIPrefix),
				Prompt:      b.str("prompt"),
				Response:    b.str("content"),
				Embedding:   emb,
				Timestamp:   created,
				AccessCount: access,
				DecayFactor: decay,
			}
			byID[iri] = it
			order = append(order, iri)
		}
		if c := b.str("concept"); c != "" {
			it.Concepts = append(it.Concepts, memory.Concept{Value: c})
		}
	}

	shortTerm = make([]memory.Interaction, 0, len(order))
	for _, iri := range order {
		shortTerm = append(shortTerm, *byID[iri])
	}
	return shortTerm, corrupt, nil
}

// Save persists the given interactions to the graph, transaction-wrapped
// per spec.md §4.8:
//  1. begin a transaction over the memory graph.
//  2. for each interaction, DELETE WHERE its subject's existing triples,
//     then INSERT DATA the current triples (unrelated triples in the
//     graph are preserved, unlike a blanket CLEAR GRAPH).
//  3. invalidate the cache once all interactions are written.
//  4. on any failure, roll back and surface the original error.
func (s *Store) Save(ctx context.Context, interactions []memory.Interaction) error {
	if _, err := s.tx.Begin(ctx, s.cfg.GraphIRI); err != nil {
		return err
	}

	for _, it := range interactions {
		if err := s.writeOne(ctx, it); err != nil {
			if rbErr := s.tx.Rollback(ctx); rbErr != nil {
				s.logger.Error("rollback after save failure also failed", zap.Error(rbErr))
			}
			return err
		}
	}

	if err := s.tx.Commit(ctx); err != nil {
		if rbErr := s.tx.Rollback(ctx); rbErr != nil {
			s.logger.Error("rollback after commit failure also failed", zap.Error(rbErr))
		}
		return err
	}
	s.cacheL.InvalidateAll()
	return nil
}

func (s *Store) writeOne(ctx context.Context, it memory.Interaction) error {
	iri := s.cfg.IRIPrefix + it.ID

	del, err := s.templates.Render(tmplDeleteByIRI, map[string]string{"graph": s.cfg.GraphIRI, "iri": iri}, false)
	if err != nil {
		return err
	}
	if err := s.client.Update(ctx, del); err != nil {
		return err
	}

	embJSON, err := jsonx.Marshal(it.Embedding)
	if err != nil {
		return semerr.New(semerr.KindValidation, "marshaling embedding", err)
	}

	var conceptTriples strings.Builder
	for _, c := range it.Concepts {
		conceptTriples.WriteString(" ;\n      ragno:concept \"")
		conceptTriples.WriteString(semerr.Sanitize(c.Value))
		conceptTriples.WriteString("\"")
	}

	params := map[string]string{
		"graph":       s.cfg.GraphIRI,
		"iri":         iri,
		"prompt":      it.Prompt,
		"content":     it.Response,
		"embedding":   string(embJSON),
		"created":     formatTimeMillis(it.Timestamp),
		"accessCount": strconv.Itoa(it.AccessCount),
		"decayFactor": strconv.FormatFloat(it.DecayFactor, 'f', -1, 64),
		"concepts":    conceptTriples.String(),
	}
	ins, err := s.templates.Render(tmplInsertElement, params, true)
	if err != nil {
		return err
	}
	return s.client.Update(ctx, ins)
}

// SearchHit is one match from Search: the interaction id, its content, and
// the cosine similarity against the query embedding.
type SearchHit struct {
	ID         string
	Prompt     string
	Content    string
	Similarity float64
}

// SearchOptions narrows the candidate set before similarity scoring.
type SearchOptions struct {
	SubstringFilter string // only content/prompt containing this substring
	TypeFilter      string // "Element" or "Unit" (ragno class name); "" = both
}

// Search executes the templated SELECT, computes cosine similarity
// in-process (the store is a generic triple store — similarity is never
// computed inside SPARQL), and returns up to limit hits with
// similarity >= minSimilarity, per spec.md §4.8. Similarity and
// minSimilarity are both on the 0-100 scale used throughout the codebase
// (memory.Store.Retrieve, session.Cache.Search), not raw -1..1 cosine.
func (s *Store) Search(ctx context.Context, queryEmbedding []float64, limit int, minSimilarity float64, opts SearchOptions) ([]SearchHit, error) {
	typeFilter := ""
	if opts.TypeFilter != "" {
		typeFilter = "FILTER EXISTS { ?s a ragno:" + opts.TypeFilter + " }"
	}
	substringFilter := ""
	if opts.SubstringFilter != "" {
		needle := semerr.Sanitize(opts.SubstringFilter)
		substringFilter = "FILTER(CONTAINS(?content, \"" + needle + "\") || CONTAINS(?prompt, \"" + needle + "\"))"
	}

	rendered, err := s.templates.Render(tmplSearch, map[string]string{
		"graph":           s.cfg.GraphIRI,
		"typeFilter":      typeFilter,
		"substringFilter": substringFilter,
	}, true)
	if err != nil {
		return nil, err
	}

	raw, err := s.queryCached(ctx, rendered)
	if err != nil {
		return nil, err
	}

	var parsed sparqlResults
	if err := jsonx.Unmarshal(raw, &parsed); err != nil {
		return nil, semerr.New(semerr.KindMalformedResponse, "search results not valid JSON", err)
	}

	hits := make([]SearchHit, 0, len(parsed.Results.Bindings))
	for _, b := range parsed.Results.Bindings {
		emb, ok := parseEmbedding(b.str("embedding"))
		if !ok {
			continue
		}
		rawSim, err := vectorops.Cosine(queryEmbedding, emb)
		if err != nil {
			continue
		}
		sim := rawSim * 100 // 0-100 scale, matching memory.Store.Retrieve and session.Cache.Search
		if sim < minSimilarity {
			continue
		}
		hits = append(hits, SearchHit{
			ID:         iriToID(b.str("s"), s.cfg.IRIPrefix),
			Prompt:     b.str("prompt"),
			Content:    b.str("content"),
			Similarity: sim,
		})
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Similarity > hits[j].Similarity })
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// queryCached checks the CacheLayer before issuing a live SPARQL query,
// caching the raw response on a miss.
func (s *Store) queryCached(ctx context.Context, query string) ([]byte, error) {
	if cached, ok := s.cacheL.Get(query); ok {
		return cached, nil
	}
	raw, err := s.client.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	s.cacheL.Set(query, raw)
	return raw, nil
}

func iriToID(iri, prefix string) string {
	if strings.HasPrefix(iri, prefix) {
		return iri[len(prefix):]
	}
	return iri
}

func formatTimeMillis(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}

func parseTimeMillis(s string) int64 {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return 0
	}
	return t.UnixMilli()
}
