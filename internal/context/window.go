// Package context implements the ContextWindow of spec.md §4.9: a
// token-budgeted assembly of retrieved items and recent interactions into
// a single string with stable section markers, with overlap-aware sliding
// window chunking for oversized blocks.
//
// The chunking/overlap math here is grounded on the teacher's
// internal/chunking package (delimiter search within a target window,
// overlap applied by stepping the next window's start back from the
// previous window's end) — generalized from byte-delimiter text
// splitting to fixed-size token-budget windows.
package context

import (
	"sort"
	"strings"
)

// Section markers, contract surfaces per spec.md §6.3.
const (
	SectionSystem    = "# SYSTEM"
	SectionRecent    = "# RECENT"
	SectionRetrieved = "# RETRIEVED"
	SectionPrompt    = "# PROMPT"
)

// DefaultOverlapRatio is OVERLAP_RATIO from spec.md §4.9.
const DefaultOverlapRatio = 0.1

// Tokenizer estimates the token count of a string. The default
// implementation approximates 4 characters per token.
type Tokenizer interface {
	EstimateTokens(s string) int
}

// CharTokenizer is the default pluggable tokenizer: 4 chars ≈ 1 token,
// rounded up.
type CharTokenizer struct{}

func (CharTokenizer) EstimateTokens(s string) int {
	return (len(s) + 3) / 4
}

// RetrievedItem is one hit to fold into the # RETRIEVED section.
type RetrievedItem struct {
	ID         string
	Content    string
	Similarity float64
}

// RecentItem is one recent interaction to fold into the # RECENT section,
// most-recent-first order expected from the caller.
type RecentItem struct {
	ID      string
	Content string
}

// Config configures a Builder.
type Config struct {
	MaxTokens      int // T, default 8192 for embedding-capable models, 4096 otherwise
	ReserveTokens  int // R, minimum reserved for preamble+prompt
	InterleaveRatio float64 // fraction of remaining budget recent interactions may claim
	OverlapRatio   float64
	Tokenizer      Tokenizer
}

// DefaultConfig returns spec.md's documented defaults.
func DefaultConfig(embeddingCapable bool) Config {
	maxTokens := 4096
	if embeddingCapable {
		maxTokens = 8192
	}
	return Config{
		MaxTokens:       maxTokens,
		ReserveTokens:   256,
		InterleaveRatio: 0.3,
		OverlapRatio:    DefaultOverlapRatio,
		Tokenizer:       CharTokenizer{},
	}
}

// Result is the assembled context plus metadata about what was dropped.
type Result struct {
	Context      string
	ElidedBlocks int
}

// Builder assembles context strings per spec.md §4.9.
type Builder struct {
	cfg Config
}

// New creates a Builder. A zero-value Config.Tokenizer defaults to
// CharTokenizer.
func New(cfg Config) *Builder {
	if cfg.Tokenizer == nil {
		cfg.Tokenizer = CharTokenizer{}
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	if cfg.OverlapRatio <= 0 {
		cfg.OverlapRatio = DefaultOverlapRatio
	}
	return &Builder{cfg: cfg}
}

// Build assembles preamble, prompt, hits, and recent interactions into the
// final context string. Build itself orders hits by descending similarity
// (a stable sort), so an ordering applied by the caller survives only
// among hits of equal similarity.
//
// Steps, per spec.md §4.9:
//  1. Estimate tokens for each block.
//  2. Reserve >= R tokens for preamble+prompt.
//  3. Fill the remainder with hits (descending similarity), interleaving
//     recent interactions if their combined estimate fits within the
//     interleave ratio of the remaining budget.
//  4. Oversized single blocks are sliding-window chunked with overlap.
//  5. No truncation is silent: ElidedBlocks counts what was dropped.
func (b *Builder) Build(systemPreamble, prompt string, hits []RetrievedItem, recent []RecentItem) Result {
	tok := b.cfg.Tokenizer

	var out strings.Builder
	out.WriteString(SectionSystem)
	out.WriteString("\n")
	out.WriteString(systemPreamble)
	out.WriteString("\n\n")

	reserved := tok.EstimateTokens(systemPreamble) + tok.EstimateTokens(prompt)
	if reserved < b.cfg.ReserveTokens {
		reserved = b.cfg.ReserveTokens
	}
	remaining := b.cfg.MaxTokens - reserved
	if remaining < 0 {
		remaining = 0
	}

	elided := 0

	interleaveBudget := int(float64(remaining) * b.cfg.InterleaveRatio)
	recentBlock, recentUsed, recentElided := fitRecent(recent, tok, interleaveBudget, b.cfg.OverlapRatio)
	elided += recentElided
	remaining -= recentUsed

	retrievedBlock, retrievedElided := fitRetrieved(hits, tok, remaining, b.cfg.OverlapRatio)
	elided += retrievedElided

	out.WriteString(SectionRecent)
	out.WriteString("\n")
	out.WriteString(recentBlock)
	out.WriteString("\n\n")

	out.WriteString(SectionRetrieved)
	out.WriteString("\n")
	out.WriteString(retrievedBlock)
	out.WriteString("\n\n")

	out.WriteString(SectionPrompt)
	out.WriteString("\n")
	out.WriteString(prompt)

	return Result{Context: out.String(), ElidedBlocks: elided}
}

func fitRecent(items []RecentItem, tok Tokenizer, budget int, overlapRatio float64) (string, int, int) {
	var b strings.Builder
	used := 0
	elided := 0
	for _, item := range items {
		cost := tok.EstimateTokens(item.Content)
		if used+cost > budget {
			if used >= budget {
				elided++
				continue
			}
			chunked, droppedMore := chunkToFit(item.Content, tok, budget-used, overlapRatio)
			if chunked == "" {
				elided++
				continue
			}
			b.WriteString("- [id=" + item.ID + "] " + chunked + "\n")
			used = budget
			if droppedMore {
				elided++
			}
			continue
		}
		b.WriteString("- [id=" + item.ID + "] " + item.Content + "\n")
		used += cost
	}
	return b.String(), used, elided
}

func fitRetrieved(hits []RetrievedItem, tok Tokenizer, budget int, overlapRatio float64) (string, int) {
	ordered := make([]RetrievedItem, len(hits))
	copy(ordered, hits)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Similarity > ordered[j].Similarity })

	var b strings.Builder
	used := 0
	elided := 0
	for _, h := range ordered {
		cost := tok.EstimateTokens(h.Content)
		prefix := "- [score=" + formatScore(h.Similarity) + "; id=" + h.ID + "] "
		if used+cost > budget {
			if used >= budget {
				elided++
				continue
			}
			chunked, droppedMore := chunkToFit(h.Content, tok, budget-used, overlapRatio)
			if chunked == "" {
				elided++
				continue
			}
			b.WriteString(prefix + chunked + "\n")
			used = budget
			if droppedMore {
				elided++
			}
			continue
		}
		b.WriteString(prefix + h.Content + "\n")
		used += cost
	}
	return b.String(), elided
}

// chunkToFit applies sliding-window chunking with overlapRatio and returns
// as much of text as fits within budget tokens, plus whether content had
// to be dropped (the tail windows didn't fit).
func chunkToFit(text string, tok Tokenizer, budget int, overlapRatio float64) (string, bool) {
	if budget <= 0 {
		return "", true
	}
	windowChars := budget * 4 // inverse of CharTokenizer's 4-chars-per-token
	if windowChars <= 0 {
		return "", true
	}
	windows := SlidingWindows(text, windowChars, overlapRatio)
	if len(windows) == 0 {
		return "", false
	}
	merged := MergeWindows(windows[:1])
	return merged, len(windows) > 1
}

func formatScore(v float64) string {
	// Fixed 2-decimal formatting without pulling in strconv/fmt noise at
	// call sites; kept local since this is the only place it's needed.
	scaled := int(v*100 + 0.5)
	whole := scaled / 100
	frac := scaled % 100
	if frac < 0 {
		frac = -frac
	}
	sign := ""
	if whole == 0 && scaled < 0 {
		sign = "-"
	}
	return sign + itoa(whole) + "." + pad2(frac)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func pad2(n int) string {
	s := itoa(n)
	if len(s) == 1 {
		return "0" + s
	}
	return s
}
