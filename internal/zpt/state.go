// Package zpt implements the ZptState of spec.md §3/§4.10: the
// Zoom/Pan/Tilt navigation lens that modulates retrieval ordering and
// context assembly without ever mutating stored interactions.
package zpt

import (
	"sort"
	"sync"

	"github.com/dereksmith/semem/internal/semerr"
)

// Zoom is the granularity level of retrieval.
type Zoom string

const (
	ZoomEntity    Zoom = "entity"
	ZoomUnit      Zoom = "unit"
	ZoomText      Zoom = "text"
	ZoomCommunity Zoom = "community"
	ZoomCorpus    Zoom = "corpus"
)

var validZooms = map[Zoom]bool{
	ZoomEntity: true, ZoomUnit: true, ZoomText: true, ZoomCommunity: true, ZoomCorpus: true,
}

// Tilt is the retrieval/reshaping style.
type Tilt string

const (
	TiltEmbedding Tilt = "embedding"
	TiltKeywords  Tilt = "keywords"
	TiltGraph     Tilt = "graph"
	TiltTemporal  Tilt = "temporal"
)

var validTilts = map[Tilt]bool{
	TiltEmbedding: true, TiltKeywords: true, TiltGraph: true, TiltTemporal: true,
}

// Pan is the domain filter: a subject label, a de-duplicated lowercase
// keyword set, an optional time window, and an optional entity list.
type Pan struct {
	Subject    string
	Keywords   []string
	TimeFrom   int64 // epoch-ms, 0 = unset
	TimeTo     int64 // epoch-ms, 0 = unset
	EntityList []string
}

func normalizeKeywords(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, k := range in {
		lk := lower(k)
		if lk == "" || seen[lk] {
			continue
		}
		seen[lk] = true
		out = append(out, lk)
	}
	sort.Strings(out)
	return out
}

func lower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// State is the (zoom, pan, tilt) lens maintained per session. Defaults per
// spec.md §4.10: zoom=entity, pan={}, tilt=keywords.
type State struct {
	mu    sync.RWMutex
	zoom  Zoom
	pan   Pan
	tilt  Tilt
}

// New creates a State with spec.md's documented defaults.
func New() *State {
	return &State{zoom: ZoomEntity, tilt: TiltKeywords}
}

// Snapshot is a copy-on-read view of the current state, per spec.md §4.10's
// "copy-on-read" consistency requirement.
type Snapshot struct {
	Zoom Zoom
	Pan  Pan
	Tilt Tilt
}

// Snapshot returns a consistent copy of the current state.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pan := s.pan
	pan.Keywords = append([]string(nil), s.pan.Keywords...)
	pan.EntityList = append([]string(nil), s.pan.EntityList...)
	return Snapshot{Zoom: s.zoom, Pan: pan, Tilt: s.tilt}
}

// Zoom atomically sets the zoom level, validating enum membership.
func (s *State) Zoom(level Zoom) (Snapshot, error) {
	if !validZooms[level] {
		return Snapshot{}, semerr.New(semerr.KindValidation, "invalid zoom level: "+string(level), nil)
	}
	s.mu.Lock()
	s.zoom = level
	s.mu.Unlock()
	return s.Snapshot(), nil
}

// Pan atomically replaces the pan filter, de-duplicating and
// lowercasing its keyword set.
func (s *State) Pan(filter Pan) (Snapshot, error) {
	filter.Keywords = normalizeKeywords(filter.Keywords)
	s.mu.Lock()
	s.pan = filter
	s.mu.Unlock()
	return s.Snapshot(), nil
}

// Tilt atomically sets the tilt style, validating enum membership.
func (s *State) Tilt(style Tilt) (Snapshot, error) {
	if !validTilts[style] {
		return Snapshot{}, semerr.New(semerr.KindValidation, "invalid tilt style: "+string(style), nil)
	}
	s.mu.Lock()
	s.tilt = style
	s.mu.Unlock()
	return s.Snapshot(), nil
}
