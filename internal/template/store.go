// Package template provides named, parameterized SPARQL templates with
// required/optional placeholders and a per-Store prefix registry.
package template

import (
	"sort"
	"strings"
	"sync"

	"github.com/dereksmith/semem/internal/semerr"
)

// Prefix is one `PREFIX p: <iri>` declaration.
type Prefix struct {
	Name string
	IRI  string
}

// Template is an immutable, named SPARQL query/update skeleton.
type Template struct {
	Name        string
	Body        string
	Required    []string
	Optional    []string
	Prefixes    []string // names referencing the global prefix registry
	Description string
}

// Store holds registered templates and its own prefix registry, seeded
// with the default prefixes by New the way the teacher seeds its DGraph
// schema in graph.Client.initSchema. The registry is not shared between
// Stores: a prefix registered on one Store is not visible to another.
type Store struct {
	mu        sync.RWMutex
	templates map[string]*Template
	prefixes  map[string]Prefix
}

// New creates a Store with the built-in §6.2 RDF vocabulary prefixes
// pre-registered.
func New() *Store {
	s := &Store{
		templates: make(map[string]*Template),
		prefixes:  make(map[string]Prefix),
	}
	for _, p := range defaultPrefixes {
		s.prefixes[p.Name] = p
	}
	return s
}

var defaultPrefixes = []Prefix{
	{"ragno", "http://purl.org/stuff/ragno/"},
	{"semem", "http://purl.org/semem/"},
	{"rdfs", "http://www.w3.org/2000/01/rdf-schema#"},
	{"rdf", "http://www.w3.org/1999/02/22-rdf-syntax-ns#"},
	{"dcterms", "http://purl.org/dc/terms/"},
	{"prov", "http://www.w3.org/ns/prov#"},
	{"skos", "http://www.w3.org/2004/02/skos/core#"},
	{"xsd", "http://www.w3.org/2001/XMLSchema#"},
	{"olo", "http://purl.org/ontology/olo/core#"},
}

// RegisterPrefix adds or overrides a prefix in this Store's registry.
func (s *Store) RegisterPrefix(p Prefix) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefixes[p.Name] = p
}

// Register records a new template. A required placeholder that never
// appears in Body is a construction-time mistake, not caught here (render
// only fails for placeholders missing at render time); callers should keep
// templates and their required lists in sync.
func (s *Store) Register(t Template) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := t
	cp.Required = append([]string(nil), t.Required...)
	cp.Optional = append([]string(nil), t.Optional...)
	cp.Prefixes = append([]string(nil), t.Prefixes...)
	s.templates[t.Name] = &cp
}

// Get returns the template registered under name.
func (s *Store) Get(name string) (*Template, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.templates[name]
	return t, ok
}

// Render substitutes every ${key} occurrence in the named template's body.
// Missing required placeholders fail with TemplateError; missing optional
// placeholders substitute the empty string. When includePrefixes is true,
// the template's declared prefixes are prepended as deduplicated, canonical
// PREFIX declarations.
func (s *Store) Render(name string, params map[string]string, includePrefixes bool) (string, error) {
	s.mu.RLock()
	t, ok := s.templates[name]
	s.mu.RUnlock()
	if !ok {
		return "", semerr.New(semerr.KindTemplateError, "unknown template: "+name, nil)
	}

	body := t.Body
	for _, key := range t.Required {
		val, present := params[key]
		if !present {
			return "", semerr.New(semerr.KindTemplateError, "missing required parameter: "+key, nil)
		}
		body = strings.ReplaceAll(body, "${"+key+"}", val)
	}
	for _, key := range t.Optional {
		val := params[key] // zero value "" if absent
		body = strings.ReplaceAll(body, "${"+key+"}", val)
	}

	if !includePrefixes || len(t.Prefixes) == 0 {
		return body, nil
	}

	s.mu.RLock()
	names := make([]string, 0, len(t.Prefixes))
	seen := make(map[string]bool, len(t.Prefixes))
	for _, n := range t.Prefixes {
		if seen[n] {
			continue
		}
		seen[n] = true
		names = append(names, n)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, n := range names {
		p, ok := s.prefixes[n]
		if !ok {
			continue
		}
		b.WriteString("PREFIX ")
		b.WriteString(p.Name)
		b.WriteString(": <")
		b.WriteString(p.IRI)
		b.WriteString(">\n")
	}
	s.mu.RUnlock()

	b.WriteString(body)
	return b.String(), nil
}
