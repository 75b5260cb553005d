// Package chunk splits document text into overlapping bounded-size
// segments for embedding.
//
// The splitter prefers to break at paragraph boundaries, then line
// boundaries, then sentence boundaries, then word boundaries, and only
// then at arbitrary positions, so that a chunk carries a semantically
// coherent span whenever the size budget allows. Splitting is pure and
// deterministic: the same input always yields the same chunks.
package chunk

import (
	"fmt"
	"strings"
)

// Boundary separators in priority order. The empty fallback (cut at the
// size limit) is implicit.
var separators = []string{"\n\n", "\n", ". ", " "}

// Splitter splits text into chunks of at most Size runes with Overlap
// runes shared between consecutive chunks.
type Splitter struct {
	size    int
	overlap int
}

// New creates a Splitter. size must be positive and overlap must be in
// [0, size).
func New(size, overlap int) (*Splitter, error) {
	if size < 1 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("chunk overlap must be in [0, %d), got %d", size, overlap)
	}
	return &Splitter{size: size, overlap: overlap}, nil
}

// Size returns the configured maximum chunk length in runes.
func (s *Splitter) Size() int { return s.size }

// Overlap returns the configured overlap length in runes.
func (s *Splitter) Overlap() int { return s.overlap }

// Split splits text into chunks. Leading and trailing whitespace of the
// input is dropped; whitespace-only input yields no chunks. Interior
// whitespace is preserved so that consecutive chunks share exactly the
// configured overlap and the chunk sequence reconstructs the input.
func (s *Splitter) Split(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	runes := []rune(text)
	if len(runes) <= s.size {
		return []string{text}
	}

	var chunks []string
	start := 0
	for start < len(runes) {
		end := start + s.size
		if end >= len(runes) {
			tail := string(runes[start:])
			if strings.TrimSpace(tail) != "" {
				chunks = append(chunks, tail)
			}
			break
		}

		cut := s.cutPoint(runes, start, end)
		piece := string(runes[start:cut])
		if strings.TrimSpace(piece) != "" {
			chunks = append(chunks, piece)
		}
		start = cut - s.overlap
	}

	return chunks
}

// cutPoint picks where to end the chunk starting at start. It searches
// the later part of the window for the highest-priority separator and
// cuts just after it; with no separator in range it cuts at the size
// limit. The returned cut always exceeds start+overlap so the next
// chunk makes progress.
func (s *Splitter) cutPoint(runes []rune, start, end int) int {
	floor := start + s.size/2
	if min := start + s.overlap + 1; floor < min {
		floor = min
	}
	if floor >= end {
		return end
	}

	for _, sep := range separators {
		if p := lastIndexRunes(runes, sep, floor, end); p >= 0 {
			return p + len([]rune(sep))
		}
	}
	return end
}

// lastIndexRunes returns the largest i in [floor, end-len(sep)] such
// that runes[i:i+len(sep)] equals sep, or -1.
func lastIndexRunes(runes []rune, sep string, floor, end int) int {
	sr := []rune(sep)
	for i := end - len(sr); i >= floor; i-- {
		match := true
		for j, r := range sr {
			if runes[i+j] != r {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}
