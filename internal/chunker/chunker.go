// Package chunker splits document text into overlapping, size-bounded spans.
//
// Sizes are measured in Unicode code points. Splitting is a pure function of
// the input text and the Config: identical input always yields identical
// chunks, which keeps chunk identities (and therefore vector-index upserts)
// stable across re-indexing.
package chunker

import (
	"fmt"
	"strings"
)

const (
	// DefaultSize is the maximum chunk length in code points.
	DefaultSize = 1000
	// DefaultOverlap is the number of code points shared by consecutive chunks.
	DefaultOverlap = 200
)

// breakMarkers are tried in order when looking for a natural cut point.
var breakMarkers = []string{"\n\n", ". "}

// Config controls chunk size and overlap.
type Config struct {
	// Size is the maximum chunk length. Defaults to DefaultSize if zero.
	Size int
	// Overlap is the exact number of code points consecutive chunks share.
	// Must be smaller than Size.
	Overlap int
}

// Chunker splits text according to its Config. It holds no mutable state and
// is safe for concurrent use.
type Chunker struct {
	size    int
	overlap int
}

// New validates cfg and returns a Chunker. A nil cfg selects the defaults.
func New(cfg *Config) (*Chunker, error) {
	if cfg == nil {
		cfg = &Config{Size: DefaultSize, Overlap: DefaultOverlap}
	}
	size := cfg.Size
	if size == 0 {
		size = DefaultSize
	}
	if size < 0 {
		return nil, fmt.Errorf("chunker: size must be positive, got %d", size)
	}
	if cfg.Overlap < 0 || cfg.Overlap >= size {
		return nil, fmt.Errorf("chunker: overlap must be in [0, %d), got %d", size, cfg.Overlap)
	}
	return &Chunker{size: size, overlap: cfg.Overlap}, nil
}

// Size returns the configured maximum chunk length.
func (c *Chunker) Size() int { return c.size }

// Overlap returns the configured overlap.
func (c *Chunker) Overlap() int { return c.overlap }

// Split returns the ordered chunks of text. Leading and trailing whitespace of
// the whole document is dropped; empty input yields no chunks and input no
// longer than Size yields exactly one.
//
// Each chunk ends either at the size limit or, when one exists in the second
// half of the window, just after the last paragraph or sentence break. The
// next chunk always starts Overlap code points before the previous end.
func (c *Chunker) Split(text string) []string {
	runes := []rune(strings.TrimSpace(text))
	n := len(runes)
	if n == 0 {
		return nil
	}

	var chunks []string
	start := 0
	for {
		end := start + c.size
		if end >= n {
			chunks = append(chunks, string(runes[start:n]))
			break
		}
		end = c.cutPoint(runes, start, end)
		chunks = append(chunks, string(runes[start:end]))
		start = end - c.overlap
	}
	return chunks
}

// cutPoint returns the end index for the window [start, limit). A break is
// only accepted past the window midpoint and past the overlap, which
// guarantees forward progress of at least one code point per chunk.
func (c *Chunker) cutPoint(runes []rune, start, limit int) int {
	minEnd := start + c.size/2
	if floor := start + c.overlap + 1; floor > minEnd {
		minEnd = floor
	}
	for _, marker := range breakMarkers {
		if at := lastIndex(runes[start:limit], []rune(marker)); at >= 0 {
			end := start + at + len([]rune(marker))
			if end >= minEnd && end <= limit {
				return end
			}
		}
	}
	return limit
}

// lastIndex returns the rune offset of the last occurrence of sep in s, or -1.
func lastIndex(s, sep []rune) int {
	for i := len(s) - len(sep); i >= 0; i-- {
		match := true
		for j := range sep {
			if s[i+j] != sep[j] {
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
