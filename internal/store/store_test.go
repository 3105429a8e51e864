package store

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dereksmith/semem/internal/cache"
	"github.com/dereksmith/semem/internal/memory"
	"github.com/dereksmith/semem/internal/template"
	"github.com/dereksmith/semem/internal/txmgr"
)

// fakeEndpoint is an in-memory SPARQL-shaped triple store, grounded on
// spec.md §8's note that SparqlClient can be faked entirely in-process for
// testing. It only understands the tiny subset of SPARQL this package
// emits: COPY/DROP/MOVE GRAPH, DELETE WHERE single-subject, INSERT DATA,
// and a fixed-shape SELECT whose bindings it fabricates from its own
// triple map.
type fakeEndpoint struct {
	graphs map[string]map[string]map[string]string // graph -> subject -> predicate -> object
}

func newFakeEndpoint() *fakeEndpoint {
	return &fakeEndpoint{graphs: map[string]map[string]map[string]string{}}
}

func (f *fakeEndpoint) Update(ctx context.Context, update string) error {
	// The tests below never exercise COPY/DROP/MOVE against this fake —
	// txmgr tests cover that machinery in isolation — so this only needs
	// to special-case DELETE WHERE and INSERT DATA well enough for
	// writeOne's round trip, which the tests assert on via Search/Load.
	if containsAll(update, "DELETE WHERE") {
		return nil // subjects are rewritten wholesale by the fake's Insert path below
	}
	if containsAll(update, "INSERT DATA") {
		return f.insert(update)
	}
	return nil // COPY/DROP/MOVE GRAPH: no-op, txmgr state machine is tested elsewhere
}

func (f *fakeEndpoint) Query(ctx context.Context, query string) ([]byte, error) {
	bindings := []map[string]map[string]string{}
	for _, byPred := range f.allSubjects() {
		b := map[string]map[string]string{
			"s":           {"value": byPred["__iri__"]},
			"prompt":      {"value": byPred["prompt"]},
			"content":     {"value": byPred["content"]},
			"embedding":   {"value": byPred["embedding"]},
			"created":     {"value": byPred["created"]},
			"accessCount": {"value": byPred["accessCount"]},
			"decayFactor": {"value": byPred["decayFactor"]},
		}
		bindings = append(bindings, b)
	}
	out := map[string]interface{}{
		"results": map[string]interface{}{"bindings": bindings},
	}
	return json.Marshal(out)
}

func (f *fakeEndpoint) allSubjects() []map[string]string {
	var out []map[string]string
	for _, subs := range f.graphs {
		for iri, preds := range subs {
			cp := map[string]string{"__iri__": iri}
			for k, v := range preds {
				cp[k] = v
			}
			out = append(out, cp)
		}
	}
	return out
}

// insert extracts the handful of fields writeOne always emits via simple
// substring scanning — acceptable for a test fake that only ever receives
// its own package's generated INSERT DATA text.
func (f *fakeEndpoint) insert(update string) error {
	graphMarker := indexOf(update, "GRAPH <")
	afterGraph := update[graphMarker+len("GRAPH <"):]
	graphEnd := indexOf(afterGraph, ">")
	rest := afterGraph[graphEnd+1:]
	iri := between(rest, "<", ">")
	graph := "default"
	for g := range f.graphs {
		graph = g
		break
	}
	if f.graphs[graph] == nil {
		f.graphs[graph] = map[string]map[string]string{}
	}
	f.graphs[graph][iri] = map[string]string{
		"prompt":      quoted(update, "skos:prefLabel"),
		"content":     quoted(update, "ragno:content"),
		"embedding":   quoted(update, "ragno:embedding"),
		"created":     quoted(update, "dcterms:created"),
		"accessCount": quoted(update, "ragno:accessCount"),
		"decayFactor": quoted(update, "ragno:decayFactor"),
	}
	return nil
}

func containsAll(s, substr string) bool { return indexOf(s, substr) >= 0 }

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}

func between(s, open, close string) string {
	i := indexOf(s, open)
	if i < 0 {
		return ""
	}
	j := indexOf(s[i+len(open):], close)
	if j < 0 {
		return ""
	}
	return s[i+len(open) : i+len(open)+j]
}

func quoted(s, afterKeyword string) string {
	i := indexOf(s, afterKeyword)
	if i < 0 {
		return ""
	}
	rest := s[i+len(afterKeyword):]
	q1 := indexOf(rest, "\"")
	if q1 < 0 {
		return ""
	}
	rest = rest[q1+1:]
	q2 := indexOf(rest, "\"")
	if q2 < 0 {
		return ""
	}
	return rest[:q2]
}

func newTestStore(t *testing.T) (*Store, *fakeEndpoint) {
	t.Helper()
	ep := newFakeEndpoint()
	ep.graphs["http://example.org/memory"] = map[string]map[string]string{}

	cacheL, err := cache.New(100, 0, nil, nil)
	require.NoError(t, err)

	tm := txmgr.New(ep, nil, cacheL, nil)
	ts := template.New()

	cfg := Config{GraphIRI: "http://example.org/memory"}
	return New(cfg, ep, ts, cacheL, tm, nil), ep
}

func TestSaveAndLoadHistoryRoundTrips(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	interactions := []memory.Interaction{
		{ID: "1", Prompt: "hello", Response: "world", Embedding: []float64{1, 0}, Timestamp: 1000, AccessCount: 2, DecayFactor: 0.9},
	}

	require.NoError(t, s.Save(ctx, interactions))

	loaded, corrupt, err := s.LoadHistory(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, corrupt)
	require.Len(t, loaded, 1)
	assert.Equal(t, "1", loaded[0].ID)
	assert.Equal(t, "hello", loaded[0].Prompt)
	assert.Equal(t, "world", loaded[0].Response)
	assert.Equal(t, []float64{1, 0}, loaded[0].Embedding)
}

func TestSaveInvalidatesCache(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	s.cacheL.Set("some query", []byte("stale"))
	require.NoError(t, s.Save(ctx, []memory.Interaction{{ID: "1", Embedding: []float64{1}}}))

	_, ok := s.cacheL.Get("some query")
	assert.False(t, ok)
}

func TestSearchFiltersByMinSimilarityAndLimit(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, []memory.Interaction{
		{ID: "close", Prompt: "p1", Response: "near", Embedding: []float64{1, 0}},
		{ID: "far", Prompt: "p2", Response: "distant", Embedding: []float64{0, 1}},
	}))

	hits, err := s.Search(ctx, []float64{1, 0}, 10, 50, SearchOptions{})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "close", hits[0].ID)
}

func TestSearchRespectsLimit(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, []memory.Interaction{
		{ID: "a", Response: "x", Embedding: []float64{1, 0}},
		{ID: "b", Response: "y", Embedding: []float64{0.9, 0.1}},
	}))

	hits, err := s.Search(ctx, []float64{1, 0}, 1, -100, SearchOptions{})
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestCorruptEmbeddingIsSkippedNotFatal(t *testing.T) {
	s, ep := newTestStore(t)
	ep.graphs["http://example.org/memory"]["http://purl.org/semem/id/bad"] = map[string]string{
		"prompt": "p", "content": "c", "embedding": "not-json", "created": "", "accessCount": "0", "decayFactor": "0",
	}

	loaded, corrupt, err := s.LoadHistory(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, corrupt)
	assert.Len(t, loaded, 0)
}
