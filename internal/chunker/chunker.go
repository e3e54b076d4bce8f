package chunker

import (
	"regexp"
	"unicode/utf8"
)

const (
	// DefaultWindow is the target chunk length in characters
	DefaultWindow = 2000
	// DefaultOverlap is how many characters consecutive chunks share
	DefaultOverlap = 100
	// DefaultRadius is how far around a cut point to look for a boundary
	DefaultRadius = 50
)

var (
	paragraphBreak = regexp.MustCompile(`\n\s*\n`)
	sentenceEnd    = regexp.MustCompile(`[.!?]\s+`)
	formulaToken   = regexp.MustCompile(`[\$\\\[\]]|\\[a-zA-Z]+`)
)

// Span is one chunk and its character offsets in the source text
type Span struct {
	Index int
	Start int
	End   int
	Text  string
}

// Chunker splits text into overlapping, boundary-aligned windows
type Chunker struct {
	window  int
	overlap int
	radius  int
}

// New creates a Chunker. Non-positive values fall back to the defaults and an
// overlap that is not smaller than the window is reduced to window-1.
func New(window, overlap, radius int) *Chunker {
	if window <= 0 {
		window = DefaultWindow
	}
	if overlap < 0 {
		overlap = DefaultOverlap
	}
	if overlap >= window {
		overlap = window - 1
	}
	if radius < 0 {
		radius = DefaultRadius
	}
	return &Chunker{window: window, overlap: overlap, radius: radius}
}

// Window returns the configured window size
func (c *Chunker) Window() int {
	return c.window
}

// WithWindow returns a copy of c using a different window size
func (c *Chunker) WithWindow(window int) *Chunker {
	return New(window, c.overlap, c.radius)
}

// Chunk splits text into ordered windows. Text no longer than the window is
// returned as a single chunk.
func (c *Chunker) Chunk(text string) []string {
	spans := c.Spans(text)
	out := make([]string, len(spans))
	for i, s := range spans {
		out[i] = s.Text
	}
	return out
}

// Spans splits text like Chunk and also reports each chunk's offsets
func (c *Chunker) Spans(text string) []Span {
	runes := []rune(text)
	if len(runes) <= c.window {
		return []Span{{Index: 0, Start: 0, End: len(runes), Text: text}}
	}

	spans := make([]Span, 0, len(runes)/c.window+1)
	start := 0
	for start < len(runes) {
		target := start + c.window
		if target >= len(runes) {
			spans = append(spans, Span{Index: len(spans), Start: start, End: len(runes), Text: string(runes[start:])})
			break
		}

		cut := c.boundary(runes, target)
		if cut <= start {
			cut = target
		}
		spans = append(spans, Span{Index: len(spans), Start: start, End: cut, Text: string(runes[start:cut])})

		next := cut - c.overlap
		if next <= start {
			next = cut
		}
		start = next
	}
	return spans
}

// boundary searches radius characters either side of target for the closest
// paragraph break, then the closest sentence end. It returns target when
// neither exists.
func (c *Chunker) boundary(runes []rune, target int) int {
	lo := max(0, target-c.radius)
	hi := min(len(runes), target+c.radius)
	region := string(runes[lo:hi])
	rel := target - lo

	if pos, ok := closest(region, paragraphBreak, rel, false); ok {
		return lo + pos
	}
	if pos, ok := closest(region, sentenceEnd, rel, true); ok {
		return lo + pos
	}
	return target
}

// closest returns the rune offset of the match nearest rel. A paragraph break
// cuts before the break, a sentence end cuts after its trailing whitespace.
func closest(region string, re *regexp.Regexp, rel int, useEnd bool) (int, bool) {
	matches := re.FindAllStringIndex(region, -1)
	if len(matches) == 0 {
		return 0, false
	}

	best, bestDist := 0, -1
	for _, m := range matches {
		startRune := utf8.RuneCountInString(region[:m[0]])
		dist := abs(startRune - rel)
		if bestDist == -1 || dist < bestDist {
			bestDist = dist
			if useEnd {
				best = utf8.RuneCountInString(region[:m[1]])
			} else {
				best = startRune
			}
		}
	}
	return best, true
}

// OptimalWindowSize shrinks the window for formula-dense samples. A density of
// markup tokens above 0.1 gives max(1000, window/3), above 0.05 gives
// max(1500, window/2).
func (c *Chunker) OptimalWindowSize(sample string) int {
	n := utf8.RuneCountInString(sample)
	if n == 0 {
		return c.window
	}
	density := float64(len(formulaToken.FindAllStringIndex(sample, -1))) / float64(n)

	switch {
	case density > 0.1:
		return max(1000, c.window/3)
	case density > 0.05:
		return max(1500, c.window/2)
	default:
		return c.window
	}
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
