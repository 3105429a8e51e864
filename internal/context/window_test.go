package context

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCharTokenizerEstimate(t *testing.T) {
	var tok CharTokenizer
	assert.Equal(t, 0, tok.EstimateTokens(""))
	assert.Equal(t, 1, tok.EstimateTokens("ab"))
	assert.Equal(t, 2, tok.EstimateTokens("abcde"))
}

func TestBuildEmitsStableSectionMarkers(t *testing.T) {
	b := New(DefaultConfig(false))
	res := b.Build("sys", "what happened yesterday", nil, nil)

	order := []string{SectionSystem, SectionRecent, SectionRetrieved, SectionPrompt}
	last := -1
	for _, marker := range order {
		idx := strings.Index(res.Context, marker)
		require.True(t, idx >= 0, "missing marker %q", marker)
		require.True(t, idx > last, "marker %q out of order", marker)
		last = idx
	}
}

func TestBuildOrdersRetrievedByDescendingSimilarity(t *testing.T) {
	b := New(DefaultConfig(false))
	hits := []RetrievedItem{
		{ID: "low", Content: "low sim", Similarity: 0.2},
		{ID: "high", Content: "high sim", Similarity: 0.9},
	}
	res := b.Build("sys", "prompt", hits, nil)

	highIdx := strings.Index(res.Context, "id=high")
	lowIdx := strings.Index(res.Context, "id=low")
	require.True(t, highIdx >= 0 && lowIdx >= 0)
	assert.True(t, highIdx < lowIdx)
}

func TestBuildElidesWhenOverBudget(t *testing.T) {
	cfg := DefaultConfig(false)
	cfg.MaxTokens = 40
	cfg.ReserveTokens = 10
	b := New(cfg)

	hits := make([]RetrievedItem, 0, 20)
	for i := 0; i < 20; i++ {
		hits = append(hits, RetrievedItem{ID: string(rune('a' + i)), Content: strings.Repeat("x", 40), Similarity: float64(i)})
	}
	res := b.Build("sys", "prompt", hits, nil)
	assert.Greater(t, res.ElidedBlocks, 0)
}

func TestSlidingWindowsSplitsOversizedText(t *testing.T) {
	text := strings.Repeat("word ", 200)
	windows := SlidingWindows(text, 100, 0.1)
	require.True(t, len(windows) > 1)
	for _, w := range windows {
		assert.True(t, len([]rune(w)) <= 130) // allow delimiter slack
	}
}

func TestSlidingWindowsNoSplitWhenSmall(t *testing.T) {
	windows := SlidingWindows("short text", 1000, 0.1)
	require.Len(t, windows, 1)
	assert.Equal(t, "short text", windows[0])
}

func TestMergeWindowsStripsOverlap(t *testing.T) {
	merged := MergeWindows([]string{"hello wor", "world and more"})
	assert.Equal(t, "hello world and more", merged)
}

func TestMergeWindowsSingleWindow(t *testing.T) {
	assert.Equal(t, "only", MergeWindows([]string{"only"}))
}

func TestMergeWindowsNoOverlapConcatenates(t *testing.T) {
	merged := MergeWindows([]string{"abc", "def"})
	assert.Equal(t, "abcdef", merged)
}
