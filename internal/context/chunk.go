package context

import "strings"

// delimiters are the clean break points looked for inside a window
// (paragraph, sentence, line, word boundary) before falling back to a hard
// split. All of them are searched and the break that ends latest in the
// window wins; the list order does not give any delimiter precedence.
var delimiters = []string{"\n\n", ". ", "\n", " "}

// SlidingWindows splits text into overlapping windows of at most
// windowChars runes, stepping the next window's start back by
// windowChars*overlapRatio to preserve continuity across the cut,
// exactly as the teacher's Chunker.Chunk advances its position by
// actualPos - overlap (clamped to 0) after each chunk.
func SlidingWindows(text string, windowChars int, overlapRatio float64) []string {
	if windowChars <= 0 || text == "" {
		return nil
	}
	overlap := int(float64(windowChars) * overlapRatio)
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= windowChars {
		overlap = windowChars / 2
	}

	runes := []rune(text)
	n := len(runes)
	if n <= windowChars {
		return []string{text}
	}

	var windows []string
	position := 0
	for position < n {
		targetEnd := position + windowChars
		if targetEnd >= n {
			windows = append(windows, string(runes[position:n]))
			break
		}

		window := string(runes[position:targetEnd])
		cut := findLastDelimiter(window)
		var actualEnd int
		if cut > 0 {
			actualEnd = position + cut
		} else {
			actualEnd = targetEnd
		}
		if actualEnd <= position {
			actualEnd = targetEnd
		}

		windows = append(windows, string(runes[position:actualEnd]))

		next := actualEnd - overlap
		if next <= position {
			next = actualEnd
		}
		position = next
	}
	return windows
}

// findLastDelimiter returns the rune-index just past the last matched
// delimiter inside window, or -1 if none of the preferred delimiters
// appear.
func findLastDelimiter(window string) int {
	best := -1
	for _, d := range delimiters {
		if idx := strings.LastIndex(window, d); idx >= 0 {
			end := idx + len(d)
			if end > best {
				best = end
			}
		}
	}
	if best < 0 {
		return -1
	}
	return len([]rune(window[:best]))
}

// MergeWindows reassembles a slice of overlapping windows into one
// string, stripping the longest overlapping suffix/prefix pair between
// consecutive windows so shared overlap text isn't duplicated.
func MergeWindows(windows []string) string {
	if len(windows) == 0 {
		return ""
	}
	merged := windows[0]
	for i := 1; i < len(windows); i++ {
		merged = mergePair(merged, windows[i])
	}
	return merged
}

// mergePair finds the longest suffix of a that is also a prefix of b and
// joins them without duplicating it.
func mergePair(a, b string) string {
	maxLen := len(a)
	if len(b) < maxLen {
		maxLen = len(b)
	}
	for l := maxLen; l > 0; l-- {
		if strings.HasSuffix(a, b[:l]) {
			return a + b[l:]
		}
	}
	return a + b
}
